// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"net/mail"
	"strings"
	"time"

	"github.com/samber/oops"
)

// RegisterRequest is the input to Service.Register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks required fields and the email format.
func (r RegisterRequest) Validate() error {
	if missing := missingFields(
		"name", r.Name,
		"email", r.Email,
		"password", r.Password,
	); len(missing) > 0 {
		return validationError("All fields are required", missing)
	}
	return validateEmail(r.Email)
}

func (r RegisterRequest) normalized() RegisterRequest {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = NormalizeEmail(r.Email)
	return r
}

// LoginRequest is the input to Service.Login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks required fields.
func (r LoginRequest) Validate() error {
	if missing := missingFields("email", r.Email, "password", r.Password); len(missing) > 0 {
		return validationError("All fields are required", missing)
	}
	return nil
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *UserProfile
}

// ForgotPasswordRequest is the input to Service.ForgotPassword.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// Validate checks required fields.
func (r ForgotPasswordRequest) Validate() error {
	if missing := missingFields("email", r.Email); len(missing) > 0 {
		return validationError("Email is required", missing)
	}
	return nil
}

// ResetPasswordRequest is the input to Service.ResetPassword. Token comes
// from the reset link, Password from the request body.
type ResetPasswordRequest struct {
	Token    string `json:"-"`
	Password string `json:"password"`
}

// Validate checks required fields.
func (r ResetPasswordRequest) Validate() error {
	if missing := missingFields("token", r.Token, "password", r.Password); len(missing) > 0 {
		return validationError("Token and password are required", missing)
	}
	return nil
}

// missingFields takes name/value pairs and returns the names whose value is blank.
func missingFields(pairs ...string) []string {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	return missing
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return oops.Code(CodeValidation).
			With("fields", []string{"email"}).
			Public("Invalid email address").
			Errorf("malformed email address")
	}
	return nil
}

func validationError(public string, fields []string) error {
	return oops.Code(CodeValidation).
		With("fields", fields).
		Public(public).
		Errorf("missing required fields: %s", strings.Join(fields, ", "))
}
