package main

import (
	"net/http"

	"attendance-backend/internal/database"
	"attendance-backend/internal/handlers"
	"attendance-backend/internal/metrics"
	"attendance-backend/internal/middleware"
	"attendance-backend/internal/models"
	"attendance-backend/internal/services"
	"attendance-backend/internal/websocket"
	"attendance-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
)

type routerDeps struct {
	db        *sqlx.DB
	store     *database.AttendanceStore
	registry  *services.EngineRegistry
	hub       *websocket.Hub
	collector *metrics.Collector
	geocoder  handlers.Geocoder
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(d.collector.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"status":            "ok",
			"websocket_clients": d.hub.GetClientCount(),
		})
	})
	r.Handle("/metrics", d.collector.Handler())

	r.Post("/api/auth/login", handlers.Login(d.db))

	// Authentication handled in the handler via the token query param.
	r.Get("/ws", websocket.HandleWebSocket(d.hub, d.registry))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)

			r.Post("/employee/location", handlers.UpdateLocation(d.registry))
			r.Post("/employee/device-state", handlers.DeviceState(d.registry))
			r.Post("/employee/location/refresh", handlers.RefreshLocation(d.registry))
			r.Get("/employee/location/status", handlers.LocationStatus(d.registry))
			r.Post("/employee/fcm-token", handlers.RegisterFCMToken(d.store))

			r.Get("/attendance/gps-config", handlers.GPSConfig(d.store))
			r.Post("/attendance/check-in", handlers.CheckIn(d.registry, d.registry))
			r.Post("/attendance/check-out", handlers.CheckOut(d.registry, d.registry))
			r.Get("/attendance/today", handlers.Today(d.store))
			r.Get("/attendance/my-records", handlers.MyRecords(d.store))
			r.Get("/attendance/availability", handlers.Availability(d.registry))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)
			r.Use(middleware.RequireRole(models.RoleAdmin))

			r.Put("/admin/geofence", handlers.SetGeofence(d.store, d.geocoder))
			r.Get("/admin/employees/{id}/location", handlers.EmployeeLocation(d.registry, d.hub))
			r.Get("/admin/employees/{id}/locations", handlers.EmployeeLocationTrail(d.store))
			r.Post("/users", handlers.CreateUser(d.db))
		})
	})

	return r
}
