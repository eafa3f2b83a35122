// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi serves the account operations as a JSON API.
package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/holomush/accounts/internal/observability"
)

// BasePath is where the user routes are mounted.
const BasePath = "/api/v1/users"

// RouterConfig holds the collaborators of the API router.
type RouterConfig struct {
	Service  AccountService
	Sessions SessionVerifier
	Cookies  CookieConfig

	// CORSOrigins are glob patterns of allowed browser origins, such as
	// https://*.example.com. Empty disables cross-origin requests.
	CORSOrigins []string

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewRouter builds the API handler. Requests are traced with otelhttp.
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	if cfg.Service == nil || cfg.Sessions == nil {
		return nil, oops.Code("ROUTER_CONFIG_INVALID").Errorf("service and session verifier are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allowOrigin, err := originMatcher(cfg.CORSOrigins)
	if err != nil {
		return nil, err
	}

	h := &handlers{
		service: cfg.Service,
		cookies: cfg.Cookies,
		logger:  logger,
		metrics: cfg.Metrics,
	}
	cookieName := cfg.Cookies.name()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(_ *http.Request, origin string) bool { return allowOrigin(origin) },
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route(BasePath, func(r chi.Router) {
		r.Post("/register", h.wrap("register", h.register))
		r.Get("/verify/{token}", h.wrap("verify", h.verify))
		r.Post("/login", h.wrap("login", h.login))
		r.With(optionalSession(cfg.Sessions, cookieName)).
			Post("/logout", h.wrap("logout", h.logout))
		r.With(SessionGuard(cfg.Sessions, cookieName, logger, cfg.Metrics)).
			Get("/me", h.wrap("me", h.me))
		r.Post("/forgot-password", h.wrap("forgot_password", h.forgotPassword))
		r.Post("/reset-password/{token}", h.wrap("reset_password", h.resetPassword))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Message: "Not found", Error: "NOT_FOUND"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Message: "Method not allowed", Error: "METHOD_NOT_ALLOWED"})
	})

	return otelhttp.NewHandler(r, "accounts",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	), nil
}

// originMatcher compiles the allowed origin patterns. A lone "*" matches
// any origin; otherwise "*" does not cross a '.' or ':' boundary.
func originMatcher(patterns []string) (func(origin string) bool, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimRight(strings.TrimSpace(p), "/"))
		if p == "" {
			continue
		}
		var (
			g   glob.Glob
			err error
		)
		if p == "*" {
			g, err = glob.Compile(p)
		} else {
			g, err = glob.Compile(p, '.', ':')
		}
		if err != nil {
			return nil, oops.Code("CORS_ORIGIN_INVALID").With("pattern", p).Wrap(err)
		}
		globs = append(globs, g)
	}

	return func(origin string) bool {
		origin = strings.ToLower(origin)
		for _, g := range globs {
			if g.Match(origin) {
				return true
			}
		}
		return false
	}, nil
}

// requestLogger logs one line per request at debug level, and server errors
// at warn.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
