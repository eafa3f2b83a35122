// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/pkg/errutil"
)

// CodeInternal is the error code reported for server-side failures.
const CodeInternal = "INTERNAL"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// envelope is the JSON body of every API response.
type envelope struct {
	Success bool                 `json:"success"`
	Message string               `json:"message,omitempty"`
	Token   string               `json:"token,omitempty"`
	User    *account.UserProfile `json:"user,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(body)
}

// statusFor maps an error kind to an HTTP status. Client-class errors are
// 400, everything else is 500.
func statusFor(kind account.Kind) int {
	if kind == account.KindInternal {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// failureBody builds the client-facing body for err. Internal errors never
// expose their message or code.
func failureBody(err error) (int, envelope) {
	kind := account.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		return status, envelope{Message: "Internal server error", Error: CodeInternal}
	}
	return status, envelope{
		Message: errutil.PublicMessage(err, "Request failed"),
		Error:   errutil.Code(err),
	}
}

// decodeJSON reads a JSON object from the request body into v. Malformed or
// oversized bodies are validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return oops.Code(account.CodeValidation).
				Public("Request body is required").
				Errorf("empty request body")
		}
		return oops.Code(account.CodeValidation).
			Public("Invalid request body").
			Wrap(err)
	}
	return nil
}
