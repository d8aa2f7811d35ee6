package main

import (
	"context"
	"database/sql"
	"log"

	"adlift/cmd/worker/config"
	sagadb "adlift/internal/db/saga"
	"adlift/internal/saga"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var openSagaDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

// buildInstanceStore selects the Postgres store when POSTGRES_DSN is
// set and falls back to the in-memory store otherwise. The in-memory
// store loses all saga progress on restart and is only fit for local
// runs.
func buildInstanceStore(ctx context.Context) (saga.InstanceStore, func(), error) {
	cfg := config.LoadStore()
	if cfg.PostgresDSN == "" {
		log.Printf("WARN POSTGRES_DSN not set, using in-memory saga store")
		return saga.NewInMemoryInstanceStore(), func() {}, nil
	}

	db, err := openSagaDB("pgx", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}

	store, err := sagadb.NewInstanceStoreWithSchema(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Printf("close saga db: %v", err)
		}
	}
	return store, cleanup, nil
}
