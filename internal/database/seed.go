package database

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"attendance-backend/internal/models"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// OfficesFile is the layout of the office seed file.
type OfficesFile struct {
	Offices []models.OfficeGeofence `yaml:"offices"`
}

// ParseOffices decodes and validates an office seed document.
func ParseOffices(data []byte) ([]models.OfficeGeofence, error) {
	var file OfficesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse offices: %w", err)
	}

	active := 0
	for i, o := range file.Offices {
		if o.Name == "" {
			return nil, fmt.Errorf("office %d: name is required", i)
		}
		if err := o.ToConfig().Validate(); err != nil {
			return nil, fmt.Errorf("office %q: %w", o.Name, err)
		}
		if o.IsActive {
			active++
		}
	}
	if active > 1 {
		return nil, fmt.Errorf("offices: %d entries marked active, at most one allowed", active)
	}
	// A single office is active by default.
	if active == 0 && len(file.Offices) == 1 {
		file.Offices[0].IsActive = true
	}
	return file.Offices, nil
}

// SeedOffices loads office geofences from a YAML file when the table is empty.
// A missing file is not an error.
func SeedOffices(db *sqlx.DB, path string) error {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM office_geofences"); err != nil {
		return err
	}
	if count > 0 {
		log.Println("✓ Offices already seeded, skipping...")
		return nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("⚠️  Office seed file %s not found, skipping...", path)
		return nil
	}
	if err != nil {
		return err
	}

	offices, err := ParseOffices(data)
	if err != nil {
		return err
	}

	log.Printf("🌱 Seeding %d offices from %s...", len(offices), path)
	for _, o := range offices {
		o.ID = uuid.New().String()
		_, err := db.NamedExec(`
			INSERT INTO office_geofences (id, name, address, latitude, longitude, radius_meters, is_active)
			VALUES (:id, :name, :address, :latitude, :longitude, :radius_meters, :is_active)
		`, o)
		if err != nil {
			return err
		}
		log.Printf("  ✓ Created office: %s (%.0fm radius, active=%v)", o.Name, o.RadiusMeters, o.IsActive)
	}
	return nil
}

func SeedUsers(db *sqlx.DB) error {
	// Check if users already exist
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM users"); err != nil {
		return err
	}

	if count > 0 {
		log.Println("✓ Users already seeded, skipping...")
		return nil
	}

	log.Println("🌱 Seeding test users...")

	// Hash passwords
	employeePassword, err := bcrypt.GenerateFromPassword([]byte("employee123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	adminPassword, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	users := []map[string]interface{}{
		{
			"id":       uuid.New().String(),
			"email":    "employee@attendance.local",
			"password": string(employeePassword),
			"name":     "Test Employee",
			"role":     models.RoleEmployee,
		},
		{
			"id":       uuid.New().String(),
			"email":    "admin@attendance.local",
			"password": string(adminPassword),
			"name":     "Admin User",
			"role":     models.RoleAdmin,
		},
	}

	for _, user := range users {
		query := `
			INSERT INTO users (id, email, password, name, role)
			VALUES (:id, :email, :password, :name, :role)
		`
		if _, err := db.NamedExec(query, user); err != nil {
			return err
		}
		log.Printf("  ✓ Created user: %s (%s)", user["email"], user["role"])
	}

	log.Println("✓ Successfully seeded test users")
	log.Println("  📧 Employee: employee@attendance.local / employee123")
	log.Println("  📧 Admin:    admin@attendance.local / admin123")
	return nil
}
