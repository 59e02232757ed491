package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	connectAttempts = 10
	connectBackoff  = 2 * time.Second
)

// NewPool opens a small connection pool; a chat bot's write rate is a
// trickle. Connecting retries with backoff because Postgres may still be
// starting when the container comes up.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 5
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				log.Printf("[db] Connected (attempt %d)", attempt)
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		log.Printf("[db] Connect attempt %d/%d failed: %v", attempt, connectAttempts, err)
		time.Sleep(connectBackoff)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", connectAttempts, lastErr)
}
