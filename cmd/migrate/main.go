// migrate runs DB migrations from embedded SQL: go run ./cmd/migrate -direction up|down|down-1.
package main

import (
	"flag"
	"fmt"
	"os"

	"company-claims/backend/internal/config"
	"company-claims/backend/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up, down or down-1")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; set it in the environment or .env")
		os.Exit(1)
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	v, dirty, err := migrate.Version(cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate: version:", err)
		os.Exit(1)
	}
	fmt.Printf("schema version %d (dirty=%v)\n", v, dirty)
}
