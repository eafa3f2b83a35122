// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token defaults.
const (
	DefaultSessionTTL    = 24 * time.Hour
	DefaultSessionIssuer = "accounts"
	MinSessionSecretLen  = 32
)

// SessionConfig configures a SessionIssuer. Secret has no default.
type SessionConfig struct {
	Secret []byte
	TTL    time.Duration
	Issuer string

	// Now overrides the clock used to stamp and check tokens.
	Now func() time.Time
}

// Identity is the caller identity decoded from a verified session token.
type Identity struct {
	UserID    ulid.ULID
	Role      Role
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time

	// PasswordChangedAt is the user's password change time when the token
	// was issued, at microsecond precision. Zero if it had never changed.
	PasswordChangedAt time.Time
}

type sessionClaims struct {
	Role Role `json:"role"`
	// PasswordStamp is PasswordChangedAt in Unix microseconds.
	PasswordStamp int64 `json:"pwd,omitempty"`
	jwt.RegisteredClaims
}

// SessionIssuer signs and verifies HS256 session tokens.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewSessionIssuer validates cfg and returns an issuer.
func NewSessionIssuer(cfg SessionConfig) (*SessionIssuer, error) {
	if len(cfg.Secret) < MinSessionSecretLen {
		return nil, oops.Code("SESSION_CONFIG_INVALID").
			With("min_length", MinSessionSecretLen).
			Errorf("session secret must be at least %d bytes", MinSessionSecretLen)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultSessionIssuer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &SessionIssuer{
		secret: secret,
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		now:    cfg.Now,
	}, nil
}

// TTL returns the validity window of issued tokens.
func (s *SessionIssuer) TTL() time.Duration {
	return s.ttl
}

// Issue signs a session token for user.
func (s *SessionIssuer) Issue(user *User) (string, time.Time, error) {
	now := s.now()
	claims := sessionClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Issuer:    s.issuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	if user.PasswordChangedAt != nil {
		claims.PasswordStamp = user.PasswordChangedAt.UnixMicro()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("SESSION_SIGN_FAILED").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks the signature, issuer and expiry of token and returns the
// identity it carries.
func (s *SessionIssuer) Verify(token string) (*Identity, error) {
	if token == "" {
		return nil, sessionInvalid().Errorf("session token missing")
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, sessionInvalid().Wrap(err)
	}
	if !parsed.Valid {
		return nil, sessionInvalid().Errorf("session token invalid")
	}

	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, sessionInvalid().With("claim", "sub").Wrap(err)
	}
	if !claims.Role.Valid() {
		return nil, sessionInvalid().With("role", string(claims.Role)).Errorf("unknown role in session token")
	}

	identity := &Identity{
		UserID:    userID,
		Role:      claims.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.UTC(),
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.UTC()
	}
	if claims.PasswordStamp != 0 {
		identity.PasswordChangedAt = time.UnixMicro(claims.PasswordStamp).UTC()
	}
	return identity, nil
}

func sessionInvalid() oops.OopsErrorBuilder {
	return oops.Code(CodeSessionInvalid).Public("Authentication failed")
}
