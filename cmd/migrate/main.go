// Command migrate applies every package's own schema migration against
// DATABASE_URL. Each internal package owns its table DDL via a
// Migrate(ctx) method on its Postgres store, so this tool simply runs
// them in the same order server.New uses, without a separate SQL
// migration directory to keep in sync.
//
// Usage:
//
//	go run ./cmd/migrate
package main

import (
	"context"
	"database/sql"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/mbd888/missionengine/internal/auth"
	"github.com/mbd888/missionengine/internal/dispatch"
	"github.com/mbd888/missionengine/internal/indexer"
	"github.com/mbd888/missionengine/internal/ledger"
	"github.com/mbd888/missionengine/internal/mission"
	"github.com/mbd888/missionengine/internal/outcome"
	"github.com/mbd888/missionengine/internal/registry"
	"github.com/mbd888/missionengine/internal/relayer"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	ctx := context.Background()
	steps := []struct {
		name    string
		migrate func(context.Context) error
	}{
		{"registry", registry.NewPostgresStore(db).Migrate},
		{"ledger", ledger.NewPostgresStore(db).Migrate},
		{"mission", mission.NewPostgresStore(db).Migrate},
		{"dispatch", dispatch.NewPostgresStore(db).Migrate},
		{"outcome", outcome.NewPostgresStore(db).Migrate},
		{"auth", auth.NewPostgresStore(db).Migrate},
		{"relayer", relayer.NewPostgresStore(db).Migrate},
		{"indexer", indexer.NewPostgresStore(db).Migrate},
	}

	for _, step := range steps {
		log.Printf("migrating %s...", step.name)
		if err := step.migrate(ctx); err != nil {
			log.Fatalf("migrate %s: %v", step.name, err)
		}
	}
	log.Println("all migrations applied")
}
