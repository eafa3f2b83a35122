// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/account/mocks"
	"github.com/holomush/accounts/pkg/errutil"
)

const testBaseURL = "http://localhost:4000"

type serviceFixture struct {
	svc      *account.Service
	users    *mocks.MockUserRepository
	hasher   *mocks.MockPasswordHasher
	notifier *mocks.MockNotifier
	clock    *fakeClock
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		users:    mocks.NewMockUserRepository(t),
		hasher:   mocks.NewMockPasswordHasher(t),
		notifier: mocks.NewMockNotifier(t),
		clock:    newFakeClock(),
	}
	svc, err := account.NewService(
		account.ServiceConfig{BaseURL: testBaseURL},
		f.users, f.hasher, newIssuer(t, f.clock), f.notifier,
		account.WithClock(f.clock.Now),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func notFound() error {
	return oops.Code("USER_NOT_FOUND").Wrap(account.ErrNotFound)
}

func TestNewService_NilDependencies(t *testing.T) {
	issuer := newIssuer(t, newFakeClock())
	cfg := account.ServiceConfig{BaseURL: testBaseURL}

	tests := []struct {
		name        string
		cfg         account.ServiceConfig
		users       account.UserRepository
		hasher      account.PasswordHasher
		sessions    *account.SessionIssuer
		notifier    account.Notifier
		expectError string
	}{
		{"nil repository", cfg, nil, mocks.NewMockPasswordHasher(t), issuer, mocks.NewMockNotifier(t), "user repository is required"},
		{"nil hasher", cfg, mocks.NewMockUserRepository(t), nil, issuer, mocks.NewMockNotifier(t), "password hasher is required"},
		{"nil issuer", cfg, mocks.NewMockUserRepository(t), mocks.NewMockPasswordHasher(t), nil, mocks.NewMockNotifier(t), "session issuer is required"},
		{"nil notifier", cfg, mocks.NewMockUserRepository(t), mocks.NewMockPasswordHasher(t), issuer, nil, "notifier is required"},
		{"empty base URL", account.ServiceConfig{}, mocks.NewMockUserRepository(t), mocks.NewMockPasswordHasher(t), issuer, mocks.NewMockNotifier(t), "base URL is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := account.NewService(tt.cfg, tt.users, tt.hasher, tt.sessions, tt.notifier)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates unverified user and sends verification link", func(t *testing.T) {
		f := newServiceFixture(t)

		f.users.On("GetByEmail", ctx, "ann@x.com").Return(nil, notFound())
		f.hasher.On("Hash", "pw123").Return("$argon2id$digest", nil)

		var created *account.User
		f.users.On("Create", ctx, mock.AnythingOfType("*account.User")).
			Run(func(args mock.Arguments) { created = args.Get(1).(*account.User) }).
			Return(nil)

		var sent account.Message
		f.notifier.On("Send", ctx, mock.AnythingOfType("account.Message")).
			Run(func(args mock.Arguments) { sent = args.Get(1).(account.Message) }).
			Return(nil)

		profile, err := f.svc.Register(ctx, account.RegisterRequest{Name: " Ann ", Email: "Ann@X.com", Password: "pw123"})
		require.NoError(t, err)

		require.NotNil(t, created)
		assert.Equal(t, "Ann", created.Name)
		assert.Equal(t, "ann@x.com", created.Email)
		assert.Equal(t, "$argon2id$digest", created.PasswordHash)
		assert.NotEqual(t, "pw123", created.PasswordHash)
		assert.Equal(t, account.RoleUser, created.Role)
		assert.False(t, created.IsVerified)
		require.NotNil(t, created.VerificationToken)
		assert.Equal(t, f.clock.Now(), created.CreatedAt)

		assert.Equal(t, "ann@x.com", sent.To)
		assert.Equal(t, "Verify your email", sent.Subject)
		prefix := testBaseURL + account.VerifyLinkPath
		require.Contains(t, sent.Body, prefix)
		token := strings.Fields(sent.Body[strings.Index(sent.Body, prefix)+len(prefix):])[0]
		assert.Equal(t, *created.VerificationToken, account.HashOpaqueToken(token),
			"stored value is the digest of the mailed token")

		assert.Equal(t, created.ID.String(), profile.ID)
		assert.False(t, profile.IsVerified)
	})

	t.Run("validation error before touching the store", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.Register(ctx, account.RegisterRequest{Name: "Ann", Password: "pw"})
		errutil.AssertErrorCode(t, err, account.CodeValidation)
	})

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "ann@x.com").Return(&account.User{ID: ulid.Make()}, nil)

		_, err := f.svc.Register(ctx, account.RegisterRequest{Name: "Ann", Email: "ann@x.com", Password: "pw"})
		errutil.AssertErrorCode(t, err, account.CodeEmailTaken)
		assert.Equal(t, account.KindConflict, account.KindOf(err))
		f.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("conflict raised by the store keeps its kind", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "ann@x.com").Return(nil, notFound())
		f.hasher.On("Hash", "pw").Return("digest", nil)
		f.users.On("Create", ctx, mock.Anything).
			Return(oops.Code(account.CodeEmailTaken).Errorf("duplicate key"))

		_, err := f.svc.Register(ctx, account.RegisterRequest{Name: "Ann", Email: "ann@x.com", Password: "pw"})
		assert.Equal(t, account.KindConflict, account.KindOf(err))
	})

	t.Run("store failure is internal", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "ann@x.com").
			Return(nil, oops.Code("USER_GET_BY_EMAIL_FAILED").Wrap(errors.New("connection refused")))

		_, err := f.svc.Register(ctx, account.RegisterRequest{Name: "Ann", Email: "ann@x.com", Password: "pw"})
		require.Error(t, err)
		assert.Equal(t, account.KindInternal, account.KindOf(err))
	})

	t.Run("mail failure fails the request and removes the user", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "ann@x.com").Return(nil, notFound())
		f.hasher.On("Hash", "pw").Return("digest", nil)

		var created *account.User
		f.users.On("Create", ctx, mock.AnythingOfType("*account.User")).
			Run(func(args mock.Arguments) { created = args.Get(1).(*account.User) }).
			Return(nil)
		f.notifier.On("Send", ctx, mock.Anything).Return(errors.New("smtp down"))
		f.users.On("Delete", mock.Anything, mock.AnythingOfType("ulid.ULID")).Return(nil)

		_, err := f.svc.Register(ctx, account.RegisterRequest{Name: "Ann", Email: "ann@x.com", Password: "pw"})
		errutil.AssertErrorCode(t, err, "ACCOUNT_NOTIFY_FAILED")
		assert.Equal(t, account.KindInternal, account.KindOf(err))

		require.NotNil(t, created)
		f.users.AssertCalled(t, "Delete", mock.Anything, created.ID)
	})

	t.Run("failed rollback still reports the mail failure", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "ann@x.com").Return(nil, notFound())
		f.hasher.On("Hash", "pw").Return("digest", nil)
		f.users.On("Create", ctx, mock.Anything).Return(nil)
		f.notifier.On("Send", ctx, mock.Anything).Return(errors.New("smtp down"))
		f.users.On("Delete", mock.Anything, mock.Anything).Return(errors.New("connection reset"))

		_, err := f.svc.Register(ctx, account.RegisterRequest{Name: "Ann", Email: "ann@x.com", Password: "pw"})
		errutil.AssertErrorCode(t, err, "ACCOUNT_NOTIFY_FAILED")
	})
}

func TestService_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("consumes the digest of the token", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("ConsumeVerificationToken", ctx, account.HashOpaqueToken("tok"), f.clock.Now()).
			Return(&account.User{ID: ulid.Make(), IsVerified: true}, nil)

		require.NoError(t, f.svc.Verify(ctx, "tok"))
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("ConsumeVerificationToken", ctx, mock.Anything, mock.Anything).Return(nil, notFound())

		err := f.svc.Verify(ctx, "tok")
		errutil.AssertErrorCode(t, err, account.CodeInvalidToken)
	})

	t.Run("blank token", func(t *testing.T) {
		f := newServiceFixture(t)
		errutil.AssertErrorCode(t, f.svc.Verify(ctx, " "), account.CodeInvalidToken)
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()
	user := &account.User{
		ID:           ulid.Make(),
		Name:         "Ann",
		Email:        "ann@x.com",
		PasswordHash: "stored",
		Role:         account.RoleUser,
	}

	t.Run("issues a session for valid credentials", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "ann@x.com").Return(user, nil)
		f.hasher.On("Verify", "pw123", "stored").Return(true, nil)
		f.hasher.On("NeedsUpgrade", "stored").Return(false)

		res, err := f.svc.Login(ctx, account.LoginRequest{Email: "ANN@x.com", Password: "pw123"})
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), res.User.ID)
		assert.WithinDuration(t, f.clock.Now().Add(24*time.Hour), res.ExpiresAt, 0)

		identity, err := f.svc.Sessions().Verify(res.Token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, identity.UserID)
		assert.Equal(t, account.RoleUser, identity.Role)
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "ann@x.com").Return(user, nil)
		f.hasher.On("Verify", "bad", "stored").Return(false, nil)

		_, err := f.svc.Login(ctx, account.LoginRequest{Email: "ann@x.com", Password: "bad"})
		errutil.AssertErrorCode(t, err, account.CodeInvalidCredentials)
	})

	t.Run("unknown email still verifies a dummy hash", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "ghost@x.com").Return(nil, notFound())
		f.hasher.On("Verify", "pw", mock.MatchedBy(func(h string) bool {
			return strings.HasPrefix(h, "$argon2id$")
		})).Return(false, nil)

		_, err := f.svc.Login(ctx, account.LoginRequest{Email: "ghost@x.com", Password: "pw"})
		errutil.AssertErrorCode(t, err, account.CodeInvalidCredentials)
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.Login(ctx, account.LoginRequest{Email: "ann@x.com"})
		errutil.AssertErrorCode(t, err, account.CodeValidation)
	})

	t.Run("corrupt stored digest is internal", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "ann@x.com").Return(user, nil)
		f.hasher.On("Verify", "pw", "stored").Return(false, oops.Code("AUTH_INVALID_HASH").Errorf("bad"))

		_, err := f.svc.Login(ctx, account.LoginRequest{Email: "ann@x.com", Password: "pw"})
		require.Error(t, err)
		assert.Equal(t, account.KindInternal, account.KindOf(err))
	})

	t.Run("legacy digest is upgraded", func(t *testing.T) {
		f := newServiceFixture(t)
		legacy := *user
		legacy.PasswordHash = "$2a$10$legacy"
		f.users.On("GetByEmail", ctx, "ann@x.com").Return(&legacy, nil)
		f.hasher.On("Verify", "pw", "$2a$10$legacy").Return(true, nil)
		f.hasher.On("NeedsUpgrade", "$2a$10$legacy").Return(true)
		f.hasher.On("Hash", "pw").Return("$argon2id$new", nil)
		f.users.On("UpdatePasswordHash", ctx, legacy.ID, "$argon2id$new", f.clock.Now()).Return(nil)

		_, err := f.svc.Login(ctx, account.LoginRequest{Email: "ann@x.com", Password: "pw"})
		require.NoError(t, err)
	})

	t.Run("upgrade failure does not fail login", func(t *testing.T) {
		f := newServiceFixture(t)
		legacy := *user
		legacy.PasswordHash = "$2a$10$legacy"
		f.users.On("GetByEmail", ctx, "ann@x.com").Return(&legacy, nil)
		f.hasher.On("Verify", "pw", "$2a$10$legacy").Return(true, nil)
		f.hasher.On("NeedsUpgrade", "$2a$10$legacy").Return(true)
		f.hasher.On("Hash", "pw").Return("$argon2id$new", nil)
		f.users.On("UpdatePasswordHash", ctx, legacy.ID, "$argon2id$new", f.clock.Now()).
			Return(errors.New("db down"))

		_, err := f.svc.Login(ctx, account.LoginRequest{Email: "ann@x.com", Password: "pw"})
		require.NoError(t, err)
	})
}

func TestService_CurrentUser(t *testing.T) {
	ctx := context.Background()

	t.Run("returns profile", func(t *testing.T) {
		f := newServiceFixture(t)
		user := &account.User{ID: ulid.Make(), Name: "Ann", Email: "ann@x.com", PasswordHash: "secret", Role: account.RoleUser}
		f.users.On("GetByID", ctx, user.ID).Return(user, nil)

		profile, err := f.svc.CurrentUser(ctx, account.Identity{UserID: user.ID, IssuedAt: f.clock.Now()})
		require.NoError(t, err)
		assert.Equal(t, "Ann", profile.Name)
	})

	t.Run("user gone", func(t *testing.T) {
		f := newServiceFixture(t)
		id := ulid.Make()
		f.users.On("GetByID", ctx, id).Return(nil, notFound())

		_, err := f.svc.CurrentUser(ctx, account.Identity{UserID: id})
		errutil.AssertErrorCode(t, err, account.CodeNotFound)
	})

	t.Run("session issued before password change", func(t *testing.T) {
		f := newServiceFixture(t)
		changed := f.clock.Now().Add(800 * time.Millisecond)
		user := &account.User{ID: ulid.Make(), PasswordChangedAt: &changed}
		f.users.On("GetByID", ctx, user.ID).Return(user, nil)

		_, err := f.svc.CurrentUser(ctx, account.Identity{UserID: user.ID, IssuedAt: f.clock.Now()})
		errutil.AssertErrorCode(t, err, account.CodeSessionSuperseded)
		assert.Equal(t, account.KindAuth, account.KindOf(err))

		earlier := changed.Add(-time.Hour)
		_, err = f.svc.CurrentUser(ctx, account.Identity{UserID: user.ID, PasswordChangedAt: earlier})
		errutil.AssertErrorCode(t, err, account.CodeSessionSuperseded)

		_, err = f.svc.CurrentUser(ctx, account.Identity{UserID: user.ID, IssuedAt: f.clock.Now(), PasswordChangedAt: changed})
		require.NoError(t, err)
	})
}

func TestService_Logout(t *testing.T) {
	f := newServiceFixture(t)
	assert.NoError(t, f.svc.Logout(context.Background(), nil))
	assert.NoError(t, f.svc.Logout(context.Background(), &account.Identity{UserID: ulid.Make()}))
}

func TestService_ForgotPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("stores digest with one hour expiry and mails link", func(t *testing.T) {
		f := newServiceFixture(t)
		user := &account.User{ID: ulid.Make(), Name: "Ann", Email: "ann@x.com"}
		f.users.On("GetByEmail", ctx, "ann@x.com").Return(user, nil)

		var digest string
		f.users.On("SetResetToken", ctx, user.ID, mock.AnythingOfType("string"), f.clock.Now().Add(time.Hour), f.clock.Now()).
			Run(func(args mock.Arguments) { digest = args.String(2) }).
			Return(nil)

		var sent account.Message
		f.notifier.On("Send", ctx, mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(1).(account.Message) }).
			Return(nil)

		require.NoError(t, f.svc.ForgotPassword(ctx, account.ForgotPasswordRequest{Email: "ann@x.com"}))

		prefix := testBaseURL + account.ResetPasswordLinkPath
		require.Contains(t, sent.Body, prefix)
		assert.Contains(t, sent.Body, "1 hour")
		token := strings.Fields(sent.Body[strings.Index(sent.Body, prefix)+len(prefix):])[0]
		assert.Equal(t, digest, account.HashOpaqueToken(token))
	})

	t.Run("unknown email", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "ghost@x.com").Return(nil, notFound())

		err := f.svc.ForgotPassword(ctx, account.ForgotPasswordRequest{Email: "ghost@x.com"})
		errutil.AssertErrorCode(t, err, account.CodeNotFound)
		f.users.AssertNotCalled(t, "SetResetToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing email", func(t *testing.T) {
		f := newServiceFixture(t)
		errutil.AssertErrorCode(t, f.svc.ForgotPassword(ctx, account.ForgotPasswordRequest{}), account.CodeValidation)
	})
}

func TestService_ResetPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces password", func(t *testing.T) {
		f := newServiceFixture(t)
		f.hasher.On("Hash", "newpw").Return("newdigest", nil)
		f.users.On("ConsumeResetToken", ctx, account.HashOpaqueToken("tok"), "newdigest", f.clock.Now()).
			Return(&account.User{ID: ulid.Make()}, nil)

		require.NoError(t, f.svc.ResetPassword(ctx, account.ResetPasswordRequest{Token: "tok", Password: "newpw"}))
	})

	t.Run("invalid or expired token", func(t *testing.T) {
		f := newServiceFixture(t)
		f.hasher.On("Hash", "newpw").Return("newdigest", nil)
		f.users.On("ConsumeResetToken", ctx, mock.Anything, mock.Anything, mock.Anything).Return(nil, notFound())

		err := f.svc.ResetPassword(ctx, account.ResetPasswordRequest{Token: "tok", Password: "newpw"})
		errutil.AssertErrorCode(t, err, account.CodeInvalidToken)
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newServiceFixture(t)
		err := f.svc.ResetPassword(ctx, account.ResetPasswordRequest{Token: "tok"})
		errutil.AssertErrorCode(t, err, account.CodeValidation)
	})
}
