// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Role is the permission level of a user.
type Role string

// Known roles.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is a registered account.
//
// VerificationToken and ResetPasswordToken hold SHA-256 digests of the
// opaque tokens mailed to the user, never the tokens themselves.
// ResetPasswordToken and ResetPasswordExpires are set and cleared together.
type User struct {
	ID                   ulid.ULID
	Name                 string
	Email                string
	PasswordHash         string
	Role                 Role
	IsVerified           bool
	VerificationToken    *string
	ResetPasswordToken   *string
	ResetPasswordExpires *time.Time
	PasswordChangedAt    *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// UserProfile is the caller-visible view of a user.
type UserProfile struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       Role      `json:"role"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Profile returns the public profile of u.
func (u *User) Profile() *UserProfile {
	return &UserProfile{
		ID:         u.ID.String(),
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
	}
}

// NormalizeEmail trims and lower-cases an address. Emails are stored and
// looked up in this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
