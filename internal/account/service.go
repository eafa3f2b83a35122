// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// dummyPasswordHash is verified when no user matches a login so that the
// response time does not reveal whether an email is registered.
//
//nolint:gosec // G101: intentionally fake hash, never matches any password.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// ServiceConfig holds the values the Service needs from configuration.
type ServiceConfig struct {
	// BaseURL prefixes the links embedded in emails.
	BaseURL string
	// ResetTokenTTL defaults to DefaultResetTokenTTL.
	ResetTokenTTL time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service implements the account operations.
type Service struct {
	cfg      ServiceConfig
	users    UserRepository
	hasher   PasswordHasher
	sessions *SessionIssuer
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new Service.
func NewService(
	cfg ServiceConfig,
	users UserRepository,
	hasher PasswordHasher,
	sessions *SessionIssuer,
	notifier Notifier,
	opts ...Option,
) (*Service, error) {
	if users == nil {
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if sessions == nil {
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("session issuer is required")
	}
	if notifier == nil {
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("notifier is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("base URL is required")
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = DefaultResetTokenTTL
	}

	s := &Service{
		cfg:      cfg,
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		notifier: notifier,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sessions returns the issuer used for login tokens.
func (s *Service) Sessions() *SessionIssuer {
	return s.sessions
}

// Register creates an unverified user and mails a verification link.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*UserProfile, error) {
	req = req.normalized()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	_, err := s.users.GetByEmail(ctx, req.Email)
	switch {
	case err == nil:
		return nil, emailTaken(req.Email)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.With("operation", "check existing email").Wrap(err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, oops.Code("ACCOUNT_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	token, digest, err := GenerateOpaqueToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &User{
		ID:                ulid.Make(),
		Name:              req.Name,
		Email:             req.Email,
		PasswordHash:      hash,
		Role:              RoleUser,
		VerificationToken: &digest,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, oops.With("operation", "create user").Wrap(err)
	}

	msg, err := verificationMessage(s.cfg.BaseURL, user, token)
	if err == nil {
		err = s.notifier.Send(ctx, msg)
	}
	if err != nil {
		// The token only exists in the unsent message, so the user could
		// never be verified. Remove it so the email can register again.
		s.rollbackRegistration(ctx, user)
		return nil, oops.Code("ACCOUNT_NOTIFY_FAILED").
			With("operation", "send verification email").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return user.Profile(), nil
}

func (s *Service) rollbackRegistration(ctx context.Context, user *User) {
	if err := s.users.Delete(context.WithoutCancel(ctx), user.ID); err != nil {
		s.logger.ErrorContext(ctx, "registration rollback failed",
			"user_id", user.ID.String(),
			"error", err)
	}
}

// Verify consumes a verification token and marks its user verified.
func (s *Service) Verify(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return invalidToken()
	}

	user, err := s.users.ConsumeVerificationToken(ctx, HashOpaqueToken(token), s.now())
	if errors.Is(err, ErrNotFound) {
		return invalidToken()
	}
	if err != nil {
		return oops.With("operation", "consume verification token").Wrap(err)
	}

	s.logger.InfoContext(ctx, "email verified", "user_id", user.ID.String())
	return nil
}

// Login checks credentials and issues a session token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	req.Email = NormalizeEmail(req.Email)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, lookupErr := s.users.GetByEmail(ctx, req.Email)
	targetHash := dummyPasswordHash
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
	case errors.Is(lookupErr, ErrNotFound):
		user = nil
	default:
		return nil, oops.Code("ACCOUNT_LOGIN_FAILED").
			With("operation", "get user by email").
			Wrap(lookupErr)
	}

	ok, verifyErr := s.hasher.Verify(req.Password, targetHash)
	if verifyErr != nil {
		if user == nil {
			return nil, invalidCredentials()
		}
		return nil, oops.Code("ACCOUNT_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}
	if user == nil || !ok {
		return nil, invalidCredentials()
	}

	token, expiresAt, err := s.sessions.Issue(user)
	if err != nil {
		return nil, err
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradePasswordHash(ctx, user, req.Password)
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID.String())
	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user.Profile(),
	}, nil
}

// upgradePasswordHash rehashes a legacy digest. Failures are logged only;
// the login has already succeeded.
func (s *Service) upgradePasswordHash(ctx context.Context, user *User, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, user.ID, hash, s.now())
	}
	if err != nil {
		s.logger.WarnContext(ctx, "password hash upgrade failed",
			"user_id", user.ID.String(),
			"error", err)
		return
	}
	s.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID.String())
}

// Logout always succeeds. Session tokens are stateless, so the caller
// discards its copy.
func (s *Service) Logout(ctx context.Context, identity *Identity) error {
	if identity != nil {
		s.logger.InfoContext(ctx, "user logged out", "user_id", identity.UserID.String())
	}
	return nil
}

// CurrentUser returns the profile of the user behind a verified session.
// Sessions that do not carry the user's latest password change are
// rejected.
func (s *Service) CurrentUser(ctx context.Context, identity Identity) (*UserProfile, error) {
	user, err := s.users.GetByID(ctx, identity.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeNotFound).
			With("user_id", identity.UserID.String()).
			Public("User not found").
			Errorf("user not found")
	}
	if err != nil {
		return nil, oops.With("operation", "get current user").Wrap(err)
	}

	if user.PasswordChangedAt != nil &&
		identity.PasswordChangedAt.Before(user.PasswordChangedAt.Truncate(time.Microsecond)) {
		return nil, oops.Code(CodeSessionSuperseded).
			With("user_id", user.ID.String()).
			Public("Session expired, please log in again").
			Errorf("session issued before password change")
	}

	return user.Profile(), nil
}

// ForgotPassword stores a fresh reset token and mails the reset link.
func (s *Service) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) error {
	req.Email = NormalizeEmail(req.Email)
	if err := req.Validate(); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, req.Email)
	if errors.Is(err, ErrNotFound) {
		return oops.Code(CodeNotFound).
			With("email", req.Email).
			Public("User not found").
			Errorf("no user with this email")
	}
	if err != nil {
		return oops.With("operation", "get user by email").Wrap(err)
	}

	token, digest, err := GenerateOpaqueToken()
	if err != nil {
		return err
	}

	now := s.now()
	expires := now.Add(s.cfg.ResetTokenTTL)
	if err := s.users.SetResetToken(ctx, user.ID, digest, expires, now); err != nil {
		return oops.With("operation", "store reset token").Wrap(err)
	}

	msg, err := resetMessage(s.cfg.BaseURL, user, token, s.cfg.ResetTokenTTL)
	if err != nil {
		return err
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		return oops.Code("ACCOUNT_NOTIFY_FAILED").
			With("operation", "send reset email").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset requested",
		"user_id", user.ID.String(),
		"expires_at", expires)
	return nil
}

// ResetPassword consumes a reset token and replaces the password.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	req.Token = strings.TrimSpace(req.Token)
	if err := req.Validate(); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return oops.Code("ACCOUNT_RESET_FAILED").With("operation", "hash password").Wrap(err)
	}

	user, err := s.users.ConsumeResetToken(ctx, HashOpaqueToken(req.Token), hash, s.now())
	if errors.Is(err, ErrNotFound) {
		return invalidToken()
	}
	if err != nil {
		return oops.With("operation", "consume reset token").Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset", "user_id", user.ID.String())
	return nil
}

func emailTaken(email string) error {
	return oops.Code(CodeEmailTaken).
		With("email", email).
		Public("User already exists").
		Errorf("email already registered")
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).
		Public("Invalid email or password").
		Errorf("invalid email or password")
}

func invalidToken() error {
	return oops.Code(CodeInvalidToken).
		Public("Invalid or expired token").
		Errorf("token missing, unmatched or expired")
}
