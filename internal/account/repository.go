// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// UserRepository persists users.
//
// Lookups that match nothing return an error wrapping ErrNotFound.
// Create returns an error coded CodeEmailTaken when the email exists.
// The Consume methods find and clear a one-time token in a single atomic
// step so that a token can never be used twice.
type UserRepository interface {
	// Create stores a new user.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// ConsumeVerificationToken marks the user holding digest as verified
	// and clears the token. Returns the updated user.
	ConsumeVerificationToken(ctx context.Context, digest string, now time.Time) (*User, error)

	// SetResetToken stores a reset token digest and its expiry, replacing
	// any outstanding one.
	SetResetToken(ctx context.Context, id ulid.ULID, digest string, expires, now time.Time) error

	// ConsumeResetToken replaces the password hash of the user holding
	// digest, provided now is strictly before the stored expiry, and clears
	// the token and expiry. Returns the updated user.
	ConsumeResetToken(ctx context.Context, digest, passwordHash string, now time.Time) (*User, error)

	// UpdatePasswordHash replaces a password hash without touching tokens.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) error

	// Delete removes a user. Used to roll back a registration whose
	// verification email could not be sent.
	Delete(ctx context.Context, id ulid.ULID) error
}
