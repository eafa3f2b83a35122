// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store connects to PostgreSQL and manages the users schema.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection retry bounds.
const (
	DefaultConnectTimeout = 30 * time.Second
	connectBackoffBase    = 250 * time.Millisecond
	connectBackoffCap     = 5 * time.Second
)

// Pinger is implemented by *pgxpool.Pool and pgxmock pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connect opens a pgx pool for databaseURL and waits until the server
// answers a ping, retrying with exponential backoff for up to timeout.
func Connect(ctx context.Context, databaseURL string, timeout time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := WaitReady(ctx, pool, timeout); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// WaitReady pings db until it answers or timeout elapses.
func WaitReady(ctx context.Context, db Pinger, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	backoff := retry.NewExponential(connectBackoffBase)
	backoff = retry.WithCappedDuration(connectBackoffCap, backoff)
	backoff = retry.WithMaxDuration(timeout, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := db.Ping(ctx); pingErr != nil {
			slog.DebugContext(ctx, "database not ready", "attempt", attempt, "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}

// ReadinessCheck returns a probe reporting whether db answers a ping
// within timeout.
func ReadinessCheck(db Pinger, timeout time.Duration) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return db.Ping(ctx) == nil
	}
}
