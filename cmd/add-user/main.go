package main

import (
	"flag"
	"log"
	"strings"

	"attendance-backend/internal/config"
	"attendance-backend/internal/database"
	"attendance-backend/internal/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	email := flag.String("email", "", "login email")
	name := flag.String("name", "", "display name")
	password := flag.String("password", "", "initial password")
	role := flag.String("role", models.RoleEmployee, "employee or admin")
	flag.Parse()

	*email = strings.ToLower(strings.TrimSpace(*email))
	if *email == "" || *name == "" || *password == "" {
		flag.Usage()
		log.Fatal("email, name and password are required")
	}
	if *role != models.RoleEmployee && *role != models.RoleAdmin {
		log.Fatalf("role must be %q or %q", models.RoleEmployee, models.RoleAdmin)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("🔌 Connected to database")

	var exists bool
	if err := db.Get(&exists, "SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)", *email); err != nil {
		log.Fatalf("❌ Error checking for user %s: %v", *email, err)
	}
	if exists {
		log.Printf("⚠️  User already exists: %s", *email)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	user := map[string]interface{}{
		"id":       uuid.New().String(),
		"email":    *email,
		"password": string(hashed),
		"name":     *name,
		"role":     *role,
	}
	query := `
		INSERT INTO users (id, email, password, name, role)
		VALUES (:id, :email, :password, :name, :role)
	`
	if _, err := db.NamedExec(query, user); err != nil {
		log.Fatalf("❌ Failed to create user %s: %v", *email, err)
	}

	log.Printf("✅ Created %s user: %s", *role, *email)
}
