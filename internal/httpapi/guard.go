// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/observability"
	"github.com/holomush/accounts/pkg/errutil"
)

// SessionVerifier verifies session tokens.
type SessionVerifier interface {
	Verify(token string) (*account.Identity, error)
}

type identityKey struct{}

var errNoIdentity = oops.Code("SESSION_IDENTITY_MISSING").Errorf("no session identity in request context")

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity *account.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity attached by SessionGuard.
func IdentityFromContext(ctx context.Context) (*account.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*account.Identity)
	return identity, ok && identity != nil
}

// sessionToken returns the token from the session cookie, falling back to
// an Authorization bearer header.
func sessionToken(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// SessionGuard rejects requests without a valid session token with 401.
// Verified identities are attached to the request context.
func SessionGuard(verifier SessionVerifier, cookieName string, logger *slog.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			identity, err := verifier.Verify(sessionToken(r, cookieName))
			if err != nil {
				logger.DebugContext(r.Context(), "session rejected",
					"path", r.URL.Path, "code", errutil.Code(err))
				metrics.ObserveRequest("authenticate", observability.OutcomeClientError, time.Since(start))
				writeJSON(w, http.StatusUnauthorized, envelope{
					Message: "Authentication failed",
					Error:   account.CodeSessionInvalid,
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// optionalSession attaches the identity of a valid session token when one is
// present and never rejects.
func optionalSession(verifier SessionVerifier, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessionToken(r, cookieName)
			if token != "" {
				if identity, err := verifier.Verify(token); err == nil {
					r = r.WithContext(WithIdentity(r.Context(), identity))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
