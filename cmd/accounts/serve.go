// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/accounts/internal/account"
	accountmongo "github.com/holomush/accounts/internal/account/mongo"
	accountpg "github.com/holomush/accounts/internal/account/postgres"
	"github.com/holomush/accounts/internal/config"
	"github.com/holomush/accounts/internal/httpapi"
	"github.com/holomush/accounts/internal/logging"
	"github.com/holomush/accounts/internal/mail"
	"github.com/holomush/accounts/internal/observability"
	"github.com/holomush/accounts/internal/store"
)

const (
	serviceName      = "accounts"
	shutdownTimeout  = 5 * time.Second
	readinessTimeout = 2 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the accounts API",
		Long: `Start the accounts HTTP API and, when configured, the metrics and
health probe listener.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.LoadOptions{File: configFile, Flags: cmd.Flags()})
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().String("http-addr", ":4000", "API listen address")
	cmd.Flags().String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", "json", "log format (json, text)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().Bool("auto-migrate", false, "apply pending postgres migrations at startup")

	return cmd
}

func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}

	if deps.StoreFactory == nil {
		deps.StoreFactory = openStore
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if deps.NotifierFactory == nil {
		deps.NotifierFactory = newNotifier
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.APIServerFactory == nil {
		deps.APIServerFactory = func(addr string, handler http.Handler, opts httpapi.ServerOptions) APIServer {
			return httpapi.NewServer(addr, handler, opts)
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Output:  cmd.ErrOrStderr(),
	})

	logger.Info("starting accounts service",
		"http_addr", cfg.HTTP.Addr,
		"driver", cfg.Database.Driver,
		"log_format", cfg.Log.Format,
	)

	if cfg.Database.AutoMigrate {
		if cfg.Database.Driver != config.DriverPostgres {
			logger.Warn("auto-migrate only applies to the postgres driver", "driver", cfg.Database.Driver)
		} else if err := runAutoMigration(cfg.Database.URL, deps.MigratorFactory); err != nil {
			return err
		}
	}

	users, err := deps.StoreFactory(ctx, cfg)
	if err != nil {
		return oops.With("operation", "connect user store").With("driver", cfg.Database.Driver).Wrap(err)
	}
	if users.Close != nil {
		defer users.Close()
	}
	logger.Info("connected to user store", "driver", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		obsServer ObservabilityServer
		metrics   *observability.Metrics
	)
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, users.Ready)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		metrics = obsServer.Metrics()
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	stopObservability := func() {
		if obsServer == nil {
			return
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	apiServer, err := buildAPIServer(cfg, users.Users, logger, metrics, deps)
	if err != nil {
		stopObservability()
		return err
	}
	apiErrChan, err := apiServer.Start()
	if err != nil {
		stopObservability()
		return oops.With("operation", "start api server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Accounts service started")
	logger.Info("accounts service ready", "addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	stopObservability()

	logger.Info("shutdown complete")
	return nil
}

// buildAPIServer wires the account service into an API server.
func buildAPIServer(
	cfg *config.Config,
	users account.UserRepository,
	logger *slog.Logger,
	metrics *observability.Metrics,
	deps *ServeDeps,
) (APIServer, error) {
	notifier, err := deps.NotifierFactory(cfg, logger, metrics)
	if err != nil {
		return nil, oops.With("operation", "create notifier").Wrap(err)
	}

	sessions, err := account.NewSessionIssuer(cfg.SessionConfig())
	if err != nil {
		return nil, err
	}

	service, err := account.NewService(
		account.ServiceConfig{BaseURL: cfg.BaseURL, ResetTokenTTL: cfg.Tokens.ResetTTL},
		users,
		account.NewArgon2idHasher(),
		sessions,
		notifier,
		account.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	origins := cfg.HTTP.CORSOrigins
	if len(origins) == 0 {
		origins = []string{cfg.BaseURL}
	}

	handler, err := httpapi.NewRouter(httpapi.RouterConfig{
		Service:  service,
		Sessions: sessions,
		Cookies: httpapi.CookieConfig{
			Name:   cfg.Session.CookieName,
			Secure: cfg.Session.CookieSecure,
			TTL:    sessions.TTL(),
		},
		CORSOrigins: origins,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, err
	}

	return deps.APIServerFactory(cfg.HTTP.Addr, handler, httpapi.ServerOptions{
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		Logger:       logger,
	}), nil
}

// openStore connects the store selected by database.driver.
func openStore(ctx context.Context, cfg *config.Config) (*UserStore, error) {
	switch cfg.Database.Driver {
	case config.DriverMongo:
		client, err := accountmongo.Connect(ctx, cfg.Mongo.URI, cfg.Database.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		disconnect := func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer closeCancel()
			if err := client.Disconnect(closeCtx); err != nil {
				slog.Debug("error disconnecting mongo client", "error", err)
			}
		}

		repo := accountmongo.NewUserRepository(client.Database(cfg.Mongo.Database))
		if err := repo.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, err
		}
		return &UserStore{
			Users: repo,
			Ready: store.ReadinessCheck(accountmongo.Pinger{Client: client}, readinessTimeout),
			Close: disconnect,
		}, nil

	default:
		pool, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		return &UserStore{
			Users: accountpg.NewUserRepository(pool),
			Ready: store.ReadinessCheck(pool, readinessTimeout),
			Close: pool.Close,
		}, nil
	}
}

// newNotifier returns an SMTP notifier when mail.host is set and a logging
// notifier otherwise.
func newNotifier(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (account.Notifier, error) {
	if !cfg.MailEnabled() {
		logger.Warn("mail.host not set, emails are written to the log")
		return mail.NewLogNotifier(logger, metrics), nil
	}
	notifier, err := mail.NewSMTPNotifier(cfg.MailConfig(), mail.WithLogger(logger), mail.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}
	return notifier, nil
}

// runAutoMigration applies pending migrations and releases the migrator.
func runAutoMigration(databaseURL string, factory func(string) (AutoMigrator, error)) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	slog.Info("running database migrations")
	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	slog.Info("database migrations complete")
	return nil
}

func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
