// migrate creates the screener schema on the configured storage backend.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"github.com/ypeikes18/kalshi-screener/internal/logging"
	"github.com/ypeikes18/kalshi-screener/internal/storage/postgres"
	sqlstore "github.com/ypeikes18/kalshi-screener/internal/storage/sqlite"
)

func main() {
	godotenv.Load()
	logging.InitFromEnv()
	ctx := context.Background()

	backend := os.Getenv("STORAGE_BACKEND")
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "postgres":
		store, err := postgres.Open(ctx, os.Getenv("DATABASE_URL"))
		if err != nil {
			logging.Fatalf("[migrate] open postgres: %v", err)
		}
		defer store.Close()
		if err := store.CreateTables(ctx); err != nil {
			logging.Fatalf("[migrate] create tables: %v", err)
		}
		logging.Infof("[migrate] postgres schema ready")
	case "sqlite":
		store, err := sqlstore.Open(os.Getenv("SQLITE_PATH"))
		if err != nil {
			logging.Fatalf("[migrate] open sqlite: %v", err)
		}
		defer store.Close()
		if err := store.CreateTables(ctx); err != nil {
			logging.Fatalf("[migrate] create tables: %v", err)
		}
		logging.Infof("[migrate] sqlite schema ready at %s", store.Path())
	default:
		logging.Fatalf("[migrate] unknown STORAGE_BACKEND %q", backend)
	}
}
