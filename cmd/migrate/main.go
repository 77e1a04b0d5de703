package main

import (
	"fmt"
	"log"

	"attendance-backend/internal/config"
	"attendance-backend/internal/database"
)

func main() {
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

	log.Println("🔄 Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Printf("🌱 Seeding offices from %s...", cfg.OfficesFile)
	if err := database.SeedOffices(db, cfg.OfficesFile); err != nil {
		log.Fatalf("Office seeding failed: %v", err)
	}

	log.Println("Migration completed successfully!")

	var result struct {
		Users         int `db:"users"`
		Offices       int `db:"offices"`
		ActiveOffices int `db:"active_offices"`
		Records       int `db:"records"`
		OpenRecords   int `db:"open_records"`
	}
	query := `
		SELECT
			(SELECT COUNT(*) FROM users) AS users,
			(SELECT COUNT(*) FROM office_geofences) AS offices,
			(SELECT COUNT(*) FROM office_geofences WHERE is_active) AS active_offices,
			(SELECT COUNT(*) FROM attendance_records) AS records,
			(SELECT COUNT(*) FROM attendance_records WHERE check_out_time IS NULL) AS open_records
	`
	if err := db.Get(&result, query); err != nil {
		log.Fatalf("Failed to query summary: %v", err)
	}

	fmt.Println("\n============================================================")
	fmt.Println("MIGRATION SUMMARY")
	fmt.Println("============================================================")
	fmt.Printf("Users:                   %d\n", result.Users)
	fmt.Printf("Offices:                 %d (%d active)\n", result.Offices, result.ActiveOffices)
	fmt.Printf("Attendance records:      %d\n", result.Records)
	fmt.Printf("Open check-ins:          %d\n", result.OpenRecords)
	if result.ActiveOffices == 0 {
		fmt.Println("⚠️  No active office: check-in stays disabled until one is set")
	}
	fmt.Println("============================================================")
}
