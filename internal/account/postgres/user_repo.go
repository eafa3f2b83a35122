// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements account.UserRepository on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/account"
)

// emailConstraint is the unique index guarding users.email.
const emailConstraint = "users_email_key"

const userColumns = `id, name, email, password_hash, role, is_verified,
	verification_token, reset_password_token, reset_password_expires,
	password_changed_at, created_at, updated_at`

// poolIface is the subset of *pgxpool.Pool the repository uses.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository implements account.UserRepository using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

var _ account.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *account.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (
			id, name, email, password_hash, role, is_verified,
			verification_token, reset_password_token, reset_password_expires,
			password_changed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		user.ID.String(),
		user.Name,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.IsVerified,
		user.VerificationToken,
		user.ResetPasswordToken,
		user.ResetPasswordExpires,
		user.PasswordChangedAt,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if isEmailConflict(err) {
		return oops.Code(account.CodeEmailTaken).
			With("email", user.Email).
			Public("User already exists").
			Wrap(err)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*account.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("user_id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by normalized email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*account.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			With("email", email).
			Wrap(err)
	}
	return user, nil
}

// ConsumeVerificationToken marks the user holding digest as verified.
func (r *UserRepository) ConsumeVerificationToken(ctx context.Context, digest string, now time.Time) (*account.User, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE users SET
			is_verified = TRUE,
			verification_token = NULL,
			updated_at = $2
		WHERE verification_token = $1
		RETURNING `+userColumns,
		digest, now,
	)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("operation", "consume verification token").
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_VERIFY_FAILED").
			With("operation", "consume verification token").
			Wrap(err)
	}
	return user, nil
}

// SetResetToken stores a reset token digest and its expiry.
func (r *UserRepository) SetResetToken(ctx context.Context, id ulid.ULID, digest string, expires, now time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			reset_password_token = $2,
			reset_password_expires = $3,
			updated_at = $4
		WHERE id = $1
	`, id.String(), digest, expires, now)
	if err != nil {
		return oops.Code("USER_SET_RESET_TOKEN_FAILED").
			With("operation", "set reset token").
			With("user_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(account.ErrNotFound)
	}
	return nil
}

// ConsumeResetToken replaces the password of the user holding an unexpired
// reset token digest and clears the token.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, digest, passwordHash string, now time.Time) (*account.User, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE users SET
			password_hash = $2,
			reset_password_token = NULL,
			reset_password_expires = NULL,
			password_changed_at = $3,
			updated_at = $3
		WHERE reset_password_token = $1
		  AND reset_password_expires > $3
		RETURNING `+userColumns,
		digest, passwordHash, now,
	)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("operation", "consume reset token").
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_RESET_FAILED").
			With("operation", "consume reset token").
			Wrap(err)
	}
	return user, nil
}

// UpdatePasswordHash replaces a password hash without touching tokens.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id.String(), passwordHash, now)
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password hash").
			With("user_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(account.ErrNotFound)
	}
	return nil
}

// Delete removes a user.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").
			With("operation", "delete user").
			With("user_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(account.ErrNotFound)
	}
	return nil
}

func isEmailConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == pgerrcode.UniqueViolation &&
		pgErr.ConstraintName == emailConstraint
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*account.User, error) {
	var (
		idStr string
		role  string
		user  account.User
	)

	err := row.Scan(
		&idStr,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&role,
		&user.IsVerified,
		&user.VerificationToken,
		&user.ResetPasswordToken,
		&user.ResetPasswordExpires,
		&user.PasswordChangedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").With("operation", "scan user").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	user.ID = id
	user.Role = account.Role(role)
	return &user, nil
}
