package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"attendance-backend/internal/models"
	"attendance-backend/pkg/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"` // "employee" or "admin"
}

type CreateUserResponse struct {
	Success bool                 `json:"success"`
	User    *models.UserResponse `json:"user,omitempty"`
	Message string               `json:"message,omitempty"`
}

// CreateUser creates a new employee or admin account
// Requires admin authentication
func CreateUser(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("📥 REQUEST: POST /api/users - Create new user")

		var req CreateUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Printf("❌ Invalid request body: %v", err)
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))

		if req.Email == "" || req.Password == "" || req.Name == "" || req.Role == "" {
			log.Println("❌ Missing required fields")
			utils.RespondError(w, http.StatusBadRequest, "Email, password, name, and role are required")
			return
		}

		validRoles := map[string]bool{models.RoleEmployee: true, models.RoleAdmin: true}
		if !validRoles[req.Role] {
			log.Printf("❌ Invalid role: %s", req.Role)
			utils.RespondError(w, http.StatusBadRequest, "Role must be 'employee' or 'admin'")
			return
		}

		log.Printf("   📧 Email: %s", req.Email)
		log.Printf("   👤 Name: %s", req.Name)
		log.Printf("   🔑 Role: %s", req.Role)

		var existingID string
		err := db.GetContext(r.Context(), &existingID, "SELECT id FROM users WHERE email = $1", req.Email)
		if err == nil {
			log.Printf("❌ User already exists: %s", req.Email)
			utils.RespondError(w, http.StatusConflict, "User with this email already exists")
			return
		}
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("❌ Database error: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create user")
			return
		}

		log.Println("🔒 Hashing password...")
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("❌ Failed to hash password: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to hash password")
			return
		}

		now := time.Now().Unix()
		user := models.User{
			ID:        uuid.New().String(),
			Email:     req.Email,
			Password:  string(hashedPassword),
			Name:      req.Name,
			Role:      req.Role,
			CreatedAt: now,
			UpdatedAt: now,
		}

		log.Println("💾 Inserting user into database...")
		_, err = db.NamedExecContext(r.Context(), `
			INSERT INTO users (id, email, password, name, role, created_at, updated_at)
			VALUES (:id, :email, :password, :name, :role, :created_at, :updated_at)
		`, user)
		if err != nil {
			log.Printf("❌ Database error: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create user")
			return
		}

		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Printf("✅ USER CREATED SUCCESSFULLY")
		log.Printf("   📧 Email: %s", user.Email)
		log.Printf("   🔑 Role: %s", user.Role)
		log.Printf("   🆔 ID: %s", user.ID)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		userResponse := user.ToUserResponse()
		utils.RespondJSON(w, http.StatusCreated, CreateUserResponse{
			Success: true,
			User:    &userResponse,
			Message: "User created successfully",
		})
	}
}
