// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/config"
	"github.com/holomush/accounts/internal/httpapi"
	"github.com/holomush/accounts/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreFactory connects the configured user store.
	// Default: openStore
	StoreFactory func(ctx context.Context, cfg *config.Config) (*UserStore, error)

	// MigratorFactory opens a schema migrator for a postgres URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// NotifierFactory builds the email notifier.
	// Default: newNotifier
	NotifierFactory func(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (account.Notifier, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// APIServerFactory creates the API server.
	// Default: httpapi.NewServer
	APIServerFactory func(addr string, handler http.Handler, opts httpapi.ServerOptions) APIServer
}

// UserStore is a connected user repository and its lifecycle hooks.
type UserStore struct {
	Users account.UserRepository
	// Ready reports whether the store answers pings.
	Ready observability.ReadinessChecker
	// Close releases the connection. May be nil.
	Close func()
}

// AutoMigrator wraps the methods used for startup migrations.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// APIServer interface wraps the methods used from httpapi.Server.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}
