// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/observability"
	"github.com/holomush/accounts/pkg/errutil"
)

var tracer = otel.Tracer("accounts/httpapi")

// AccountService is the account operations served over HTTP.
type AccountService interface {
	Register(ctx context.Context, req account.RegisterRequest) (*account.UserProfile, error)
	Verify(ctx context.Context, token string) error
	Login(ctx context.Context, req account.LoginRequest) (*account.LoginResult, error)
	Logout(ctx context.Context, identity *account.Identity) error
	CurrentUser(ctx context.Context, identity account.Identity) (*account.UserProfile, error)
	ForgotPassword(ctx context.Context, req account.ForgotPasswordRequest) error
	ResetPassword(ctx context.Context, req account.ResetPasswordRequest) error
}

// handlers serves the /api/v1/users routes.
type handlers struct {
	service AccountService
	cookies CookieConfig
	logger  *slog.Logger
	metrics *observability.Metrics
}

// operation is a handler that reports failures instead of writing them.
type operation func(w http.ResponseWriter, r *http.Request) error

// wrap turns op into an http.HandlerFunc that writes the failure response
// and records the outcome under name.
func (h *handlers) wrap(name string, op operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracer.Start(r.Context(), "account."+name)
		defer span.End()

		err := op(w, r.WithContext(ctx))
		outcome := observability.OutcomeSuccess
		if err != nil {
			status, body := failureBody(err)
			span.SetAttributes(attribute.String("account.error_code", body.Error))
			if status == http.StatusInternalServerError {
				span.RecordError(err)
				span.SetStatus(codes.Error, body.Error)
				outcome = observability.OutcomeError
				errutil.LogError(ctx, h.logger, "request failed", err, "operation", name)
			} else {
				outcome = observability.OutcomeClientError
				h.logger.DebugContext(ctx, "request rejected",
					"operation", name,
					"code", body.Error,
					"kind", account.KindOf(err).String())
			}
			writeJSON(w, status, body)
		}
		h.metrics.ObserveRequest(name, outcome, time.Since(start))
	}
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) error {
	var req account.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if _, err := h.service.Register(r.Context(), req); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "User registered successfully"})
	return nil
}

func (h *handlers) verify(w http.ResponseWriter, r *http.Request) error {
	if err := h.service.Verify(r.Context(), chi.URLParam(r, "token")); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Email verified successfully"})
	return nil
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) error {
	var req account.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	result, err := h.service.Login(r.Context(), req)
	if err != nil {
		return err
	}
	h.cookies.setSession(w, result.Token, result.ExpiresAt)
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Login successful",
		Token:   result.Token,
		User:    result.User,
	})
	return nil
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) error {
	identity, _ := IdentityFromContext(r.Context())
	if err := h.service.Logout(r.Context(), identity); err != nil {
		return err
	}
	h.cookies.clearSession(w)
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Logged out successfully"})
	return nil
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) error {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		// Routed behind SessionGuard; reaching here is a wiring fault.
		return errNoIdentity
	}
	profile, err := h.service.CurrentUser(r.Context(), *identity)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, User: profile})
	return nil
}

func (h *handlers) forgotPassword(w http.ResponseWriter, r *http.Request) error {
	var req account.ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if err := h.service.ForgotPassword(r.Context(), req); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Password reset email sent successfully"})
	return nil
}

func (h *handlers) resetPassword(w http.ResponseWriter, r *http.Request) error {
	var req account.ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	req.Token = chi.URLParam(r, "token")
	if err := h.service.ResetPassword(r.Context(), req); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Password reset successfully"})
	return nil
}
