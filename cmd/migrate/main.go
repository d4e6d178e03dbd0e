// Command migrate applies or rolls back the embedded SQL migrations.
//
// Usage: migrate [up|down]  (defaults to up)
package main

import (
	"errors"
	"log"
	"os"

	"github.com/bancora/transfer-service/internal/config"
	"github.com/bancora/transfer-service/internal/db/migrate"
)

func main() {
	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=migrate msg=\"config load failed\" err=%v", err)
	}

	if err := migrate.Run(cfg.DatabaseURL, direction); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("level=info component=migrate msg=\"no migrations to apply\"")
			return
		}
		log.Fatalf("level=fatal component=migrate msg=\"migration failed\" direction=%s err=%v", direction, err)
	}
	log.Printf("level=info component=migrate msg=\"migrations applied\" direction=%s", direction)
}
