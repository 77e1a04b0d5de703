package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"attendance-backend/internal/config"
	"attendance-backend/internal/database"
	"attendance-backend/internal/handlers"
	"attendance-backend/internal/metrics"
	"attendance-backend/internal/services"
	"attendance-backend/internal/tracing"
	"attendance-backend/internal/websocket"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func fatal(title string, err error, hints ...string) {
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Printf("❌ FATAL ERROR: %s", title)
	log.Printf("   Error: %v", err)
	for _, h := range hints {
		log.Printf("   %s", h)
	}
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Fatal(err)
}

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚀 ATTENDANCE BACKEND SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatal("Invalid configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("Missing configuration", err, "Please set the variables in your environment or .env file")
	}
	log.Println("✅ Configuration loaded")

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.TracingEnabled,
		ServiceName: cfg.TracingServiceName,
	})
	if err != nil {
		fatal("Tracing initialization failed", err)
	}
	defer tracing.Shutdown(context.Background(), shutdownTracing)

	log.Println("🔌 Connecting to database...")
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		fatal("Database connection failed", err,
			"This is usually caused by:",
			"1. Wrong DATABASE_URL format",
			"2. PostgreSQL service is down",
			"3. Network connectivity issue",
			"4. Invalid credentials",
		)
	}
	defer db.Close()
	log.Println("✅ Database connection established")

	log.Println("🔄 Running database migrations...")
	if err := database.Migrate(db); err != nil {
		fatal("Database migrations failed", err)
	}
	log.Println("✅ Database migrations completed")

	log.Println("🌱 Seeding database with initial data...")
	if err := database.SeedUsers(db); err != nil {
		fatal("User seeding failed", err)
	}
	if err := database.SeedOffices(db, cfg.OfficesFile); err != nil {
		fatal("Office seeding failed", err, "Check "+cfg.OfficesFile)
	}
	log.Println("✅ Database seeded")

	collector, err := metrics.NewCollector(nil)
	if err != nil {
		fatal("Metrics registration failed", err)
	}

	store := database.NewAttendanceStore(db, database.WithFallbackGeofence(cfg.FallbackGeofence))

	hub := websocket.NewHub()
	hub.OnClientCount(collector.SetWebsocketClients)

	registryOpts := []services.RegistryOption{
		services.WithMetrics(collector),
		services.WithBroadcaster(hub),
	}
	if fcm := initFCM(ctx, cfg); fcm != nil {
		registryOpts = append(registryOpts, services.WithNotifier(fcm))
	}
	registry := services.NewEngineRegistry(store, services.EngineConfig{
		FixTimeout:      cfg.FixTimeout,
		RefreshInterval: cfg.RefreshInterval,
		MaxFixAge:       cfg.MaxFixAge,
	}, registryOpts...)
	defer registry.Close()

	var geocoder handlers.Geocoder
	if g, err := services.NewGeocodingService(cfg.GoogleMapsAPIKey); err != nil {
		log.Printf("⚠️  Geocoding disabled: %v", err)
	} else {
		geocoder = g
		log.Println("✅ Google geocoding enabled")
	}

	router := newRouter(routerDeps{
		db:        db,
		store:     store,
		registry:  registry,
		hub:       hub,
		collector: collector,
		geocoder:  geocoder,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Println("═══════════════════════════════════════════════════════════════════")
		log.Printf("✅ SERVER READY on port %s", cfg.Port)
		log.Println("═══════════════════════════════════════════════════════════════════")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("🛑 Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("❌ Server error: %v", err)
	}
	log.Println("👋 Server stopped")
}

// initFCM prefers base64 credentials and falls back to the credentials file.
// Push notifications are disabled when neither works.
func initFCM(ctx context.Context, cfg config.Config) *services.FCMService {
	if cfg.FirebaseCredentialsBase64 != "" {
		fcm, err := services.NewFCMServiceFromBase64(ctx, cfg.FirebaseCredentialsBase64)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from base64: %v (push notifications disabled)", err)
			return nil
		}
		log.Println("✅ Firebase Cloud Messaging initialized from base64 credentials")
		return fcm
	}

	fcm, err := services.NewFCMService(ctx, cfg.FirebaseCredentialsFile)
	if err != nil {
		log.Printf("⚠️  Failed to initialize FCM from file: %v (push notifications disabled)", err)
		return nil
	}
	log.Println("✅ Firebase Cloud Messaging initialized from file")
	return fcm
}
