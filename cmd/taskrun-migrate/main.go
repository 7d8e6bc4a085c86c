package main

import (
	"database/sql"
	"flag"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/taskmesh/runtime/pkg/storage"
)

var (
	databaseURL = flag.String("database-url", "", "Postgres connection string (required)")
	statusOnly  = flag.Bool("status", false, "Report the current migration version without applying anything")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("taskrun migration tool")
	log.Println("=======================")

	if *databaseURL == "" {
		log.Fatal("--database-url is required")
	}

	db, err := sql.Open("pgx", *databaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("failed to reach database: %v", err)
	}

	if *statusOnly {
		if err := storage.MigrationStatus(db); err != nil {
			log.Fatalf("failed to report migration status: %v", err)
		}
		return
	}

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Println("migrations applied successfully")
}
