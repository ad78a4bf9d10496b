package main

import (
	"errors"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/arklim/inventory-auth/internal/infra/config"
	"github.com/arklim/inventory-auth/internal/infra/database"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	steps := flag.Int("steps", 0, "number of migrations to apply, 0 applies all")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := database.Migrate(cfg.Postgres.DSN(), *direction, *steps); err != nil {
		if errors.Is(err, database.ErrNoChange) {
			log.Println("schema already up to date")
			return
		}
		log.Fatalf("migrate %s: %v", *direction, err)
	}
	log.Printf("migrations applied (%s)", *direction)
}
