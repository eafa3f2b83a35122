// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package accounts_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/accounts/internal/account"
	accountpg "github.com/holomush/accounts/internal/account/postgres"
	"github.com/holomush/accounts/internal/httpapi"
	"github.com/holomush/accounts/internal/store"
)

func TestAccounts(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Accounts Integration Suite")
}

const baseURL = "https://accounts.example.com"

// testEnv holds all resources needed for the HTTP scenario tests.
type testEnv struct {
	ctx       context.Context
	pool      *pgxpool.Pool
	container testcontainers.Container
	clock     *clock
	outbox    *outbox
	server    *httptest.Server
}

var env *testEnv

var _ = BeforeSuite(func() {
	var err error
	env, err = setupTestEnv()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env != nil {
		env.cleanup()
	}
})

// clock is a settable time source shared by the service and session issuer.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// outbox records sent emails.
type outbox struct {
	mu       sync.Mutex
	messages []account.Message
}

func (o *outbox) Send(_ context.Context, msg account.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

var tokenInLink = regexp.MustCompile(`/(verify|reset-password)/([0-9a-f]{64})`)

// lastToken returns the token in the newest email to addr with the given
// link kind ("verify" or "reset-password").
func (o *outbox) lastToken(addr, kind string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		msg := o.messages[i]
		if msg.To != addr {
			continue
		}
		if m := tokenInLink.FindStringSubmatch(msg.Body); m != nil && m[1] == kind {
			return m[2]
		}
	}
	return ""
}

func setupTestEnv() (*testEnv, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("accounts_test"),
		postgres.WithUsername("accounts"),
		postgres.WithPassword("accounts"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}
	_ = migrator.Close()

	pool, err := store.Connect(ctx, connStr, 30*time.Second)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	e := &testEnv{
		ctx:       ctx,
		pool:      pool,
		container: container,
		clock:     &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		outbox:    &outbox{},
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	sessions, err := account.NewSessionIssuer(account.SessionConfig{
		Secret: []byte("integration-secret-integration-secret"),
		Now:    e.clock.Now,
	})
	if err != nil {
		e.cleanup()
		return nil, err
	}
	service, err := account.NewService(
		account.ServiceConfig{BaseURL: baseURL},
		accountpg.NewUserRepository(pool),
		account.NewArgon2idHasher(),
		sessions,
		e.outbox,
		account.WithLogger(logger),
		account.WithClock(e.clock.Now),
	)
	if err != nil {
		e.cleanup()
		return nil, err
	}

	handler, err := httpapi.NewRouter(httpapi.RouterConfig{
		Service:     service,
		Sessions:    sessions,
		Cookies:     httpapi.CookieConfig{Name: "token", Secure: false, TTL: sessions.TTL()},
		CORSOrigins: []string{baseURL},
		Logger:      logger,
	})
	if err != nil {
		e.cleanup()
		return nil, err
	}
	e.server = httptest.NewServer(handler)
	return e, nil
}

func (e *testEnv) cleanup() {
	if e.server != nil {
		e.server.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(e.ctx)
	}
}

// cleanupDatabase removes all users between specs.
func cleanupDatabase(ctx context.Context, pool *pgxpool.Pool) {
	_, _ = pool.Exec(ctx, "TRUNCATE users")
}
