package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/typeracer/go/internal/dbconfig"
	"github.com/mcdev12/typeracer/go/internal/race/store"
	"github.com/rs/zerolog/log"
)

func setupStore(ctx context.Context, cfg *Config) (store.Store, func() error, error) {
	var (
		dialect store.Dialect
		dsn     string
		target  string
	)
	switch cfg.storeKind {
	case "memory":
		log.Info().Msg("using in-memory session store")
		return store.NewMemoryStore(), func() error { return nil }, nil
	case "sqlite":
		dialect, dsn, target = store.SQLite, cfg.sqlitePath, cfg.sqlitePath
	case "postgres":
		dbConfig := dbconfig.NewConfigFromEnv()
		dialect, dsn, target = store.Postgres, dbConfig.DSN(), dbConfig.Redacted()
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.storeKind)
	}

	st, err := store.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}
	log.Info().Str("dialect", dialect.Name).Str("target", target).Msg("connected to session store")
	return st, st.Close, nil
}

func setupQuotePool(ctx context.Context) (*pgxpool.Pool, error) {
	dbConfig := dbconfig.NewConfigFromEnv()

	pool, err := pgxpool.New(ctx, dbConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create quote bank pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping quote bank: %w", err)
	}

	log.Info().Str("dsn", dbConfig.Redacted()).Msg("connected to quote bank")
	return pool, nil
}
