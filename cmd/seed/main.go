// Command seed fills the database with demo gate pass requests.
package main

import (
	"context"
	"flag"
	"log"

	_ "time/tzdata"

	"hostelgate/internal/clock"
	"hostelgate/internal/config"
	"hostelgate/internal/database"
	"hostelgate/internal/seed"
)

func main() {
	numStudents := flag.Int("students", 10, "Number of students to create requests for")
	perStudent := flag.Int("requests", 4, "Requests per student")
	shouldClean := flag.Bool("clean", false, "Delete existing requests before seeding")
	randSeed := flag.Int64("seed", 0, "Random seed (0 for a random one)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Invalid timezone: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	opts := seed.DefaultOptions(clock.NewReal(loc).Now(), loc)
	opts.NumStudents = *numStudents
	opts.RequestsPerStudent = *perStudent
	opts.ShouldClean = *shouldClean
	opts.MaxVisits = cfg.DefaultMaxVisits
	if *randSeed != 0 {
		opts.Seed = *randSeed
	}

	log.Printf("Target: %d students x %d requests, clean=%v", opts.NumStudents, opts.RequestsPerStudent, opts.ShouldClean)
	summary, err := seed.Run(context.Background(), db, opts)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	for status, n := range summary {
		log.Printf("%-26s %d", status, n)
	}
	log.Println("Done.")
}
