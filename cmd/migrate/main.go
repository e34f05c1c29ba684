package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hotelbooker/bookingpay/internal/infrastructure/postgres"
)

func main() {
	var (
		direction string
		dbURL     string
	)

	flag.StringVar(&direction, "direction", "up", "Migration direction: up or down")
	flag.StringVar(&dbURL, "db", "", "Database URL (or set DATABASE_URL env var)")
	flag.Parse()

	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "Database URL is required: pass -db or set DATABASE_URL")
		os.Exit(2)
	}

	if err := postgres.Migrate(dbURL, direction); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Migrations %s applied successfully\n", direction)
}
