package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// setupDatabase connects a pgx pool, retrying with exponential backoff so
// the server survives a database that comes up slightly later.
func setupDatabase(ctx context.Context, config DatabaseConfig) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool

	connect := func() error {
		p, err := pgxpool.New(ctx, config.DSN())
		if err != nil {
			// A DSN that does not parse will never start working.
			return backoff.Permanent(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(connect, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().
		Str("host", config.Host).
		Int("port", config.Port).
		Str("database", config.Database).
		Msg("connected to database")

	return pool, nil
}
