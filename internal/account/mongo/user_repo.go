// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mongo implements account.UserRepository on MongoDB.
package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/store"
)

// CollectionName is the collection holding user documents.
const CollectionName = "users"

// emailIndex is the unique index guarding users.email.
const emailIndex = "users_email_key"

// userDoc is the stored form of account.User. Token fields are omitted
// rather than stored as null so the partial unique indexes ignore them.
type userDoc struct {
	ID                   string     `bson:"_id"`
	Name                 string     `bson:"name"`
	Email                string     `bson:"email"`
	PasswordHash         string     `bson:"password_hash"`
	Role                 string     `bson:"role"`
	IsVerified           bool       `bson:"is_verified"`
	VerificationToken    *string    `bson:"verification_token,omitempty"`
	ResetPasswordToken   *string    `bson:"reset_password_token,omitempty"`
	ResetPasswordExpires *time.Time `bson:"reset_password_expires,omitempty"`
	PasswordChangedAt    *time.Time `bson:"password_changed_at,omitempty"`
	CreatedAt            time.Time  `bson:"created_at"`
	UpdatedAt            time.Time  `bson:"updated_at"`
}

func toDoc(u *account.User) userDoc {
	return userDoc{
		ID:                   u.ID.String(),
		Name:                 u.Name,
		Email:                u.Email,
		PasswordHash:         u.PasswordHash,
		Role:                 string(u.Role),
		IsVerified:           u.IsVerified,
		VerificationToken:    u.VerificationToken,
		ResetPasswordToken:   u.ResetPasswordToken,
		ResetPasswordExpires: u.ResetPasswordExpires,
		PasswordChangedAt:    u.PasswordChangedAt,
		CreatedAt:            u.CreatedAt,
		UpdatedAt:            u.UpdatedAt,
	}
}

func (d *userDoc) toUser() (*account.User, error) {
	id, err := ulid.Parse(d.ID)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", d.ID).Wrap(err)
	}
	return &account.User{
		ID:                   id,
		Name:                 d.Name,
		Email:                d.Email,
		PasswordHash:         d.PasswordHash,
		Role:                 account.Role(d.Role),
		IsVerified:           d.IsVerified,
		VerificationToken:    d.VerificationToken,
		ResetPasswordToken:   d.ResetPasswordToken,
		ResetPasswordExpires: utcPtr(d.ResetPasswordExpires),
		PasswordChangedAt:    utcPtr(d.PasswordChangedAt),
		CreatedAt:            d.CreatedAt.UTC(),
		UpdatedAt:            d.UpdatedAt.UTC(),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// UserRepository implements account.UserRepository using MongoDB.
type UserRepository struct {
	coll *mongo.Collection
}

var _ account.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates a UserRepository over the users collection of db.
func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{coll: db.Collection(CollectionName)}
}

// indexModels are the indexes EnsureIndexes creates.
func indexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName(emailIndex).SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "verification_token", Value: 1}},
			Options: options.Index().
				SetName("users_verification_token_key").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"verification_token": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "reset_password_token", Value: 1}},
			Options: options.Index().
				SetName("users_reset_password_token_key").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"reset_password_token": bson.M{"$type": "string"}}),
		},
	}
}

// EnsureIndexes creates the unique indexes the repository relies on.
// It is idempotent.
func (r *UserRepository) EnsureIndexes(ctx context.Context) error {
	if _, err := r.coll.Indexes().CreateMany(ctx, indexModels()); err != nil {
		return oops.Code("USER_INDEX_FAILED").With("operation", "create indexes").Wrap(err)
	}
	return nil
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *account.User) error {
	_, err := r.coll.InsertOne(ctx, toDoc(user))
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
	user, err := r.findOne(ctx, bson.M{"_id": id.String()})
	if errors.Is(err, mongo.ErrNoDocuments) {
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
	user, err := r.findOne(ctx, bson.M{"email": email})
	if errors.Is(err, mongo.ErrNoDocuments) {
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
	user, err := r.findOneAndUpdate(ctx,
		consumeVerificationFilter(digest),
		consumeVerificationUpdate(now))
	if errors.Is(err, mongo.ErrNoDocuments) {
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
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{
			"reset_password_token":   digest,
			"reset_password_expires": expires,
			"updated_at":             now,
		}})
	if err != nil {
		return oops.Code("USER_SET_RESET_TOKEN_FAILED").
			With("operation", "set reset token").
			With("user_id", id.String()).
			Wrap(err)
	}
	if result.MatchedCount == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(account.ErrNotFound)
	}
	return nil
}

// ConsumeResetToken replaces the password of the user holding an unexpired
// reset token digest and clears the token.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, digest, passwordHash string, now time.Time) (*account.User, error) {
	user, err := r.findOneAndUpdate(ctx,
		consumeResetFilter(digest, now),
		consumeResetUpdate(passwordHash, now))
	if errors.Is(err, mongo.ErrNoDocuments) {
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
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"password_hash": passwordHash, "updated_at": now}})
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password hash").
			With("user_id", id.String()).
			Wrap(err)
	}
	if result.MatchedCount == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(account.ErrNotFound)
	}
	return nil
}

// Delete removes a user.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").
			With("operation", "delete user").
			With("user_id", id.String()).
			Wrap(err)
	}
	if result.DeletedCount == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(account.ErrNotFound)
	}
	return nil
}

// isEmailConflict reports whether err is a duplicate key on the email
// index. Duplicates on the token indexes are not email conflicts.
func isEmailConflict(err error) bool {
	var we mongo.WriteException
	if !errors.As(err, &we) {
		return false
	}
	for _, e := range we.WriteErrors {
		if e.Code == duplicateKeyCode && strings.Contains(e.Message, "index: "+emailIndex+" ") {
			return true
		}
	}
	return false
}

// duplicateKeyCode is the server error code for a unique index violation.
const duplicateKeyCode = 11000

func consumeVerificationFilter(digest string) bson.M {
	return bson.M{"verification_token": digest}
}

func consumeVerificationUpdate(now time.Time) bson.M {
	return bson.M{
		"$set":   bson.M{"is_verified": true, "updated_at": now},
		"$unset": bson.M{"verification_token": ""},
	}
}

func consumeResetFilter(digest string, now time.Time) bson.M {
	return bson.M{
		"reset_password_token":   digest,
		"reset_password_expires": bson.M{"$gt": now},
	}
}

func consumeResetUpdate(passwordHash string, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"password_hash":       passwordHash,
			"password_changed_at": now,
			"updated_at":          now,
		},
		"$unset": bson.M{"reset_password_token": "", "reset_password_expires": ""},
	}
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*account.User, error) {
	var doc userDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}
	return doc.toUser()
}

func (r *UserRepository) findOneAndUpdate(ctx context.Context, filter, update bson.M) (*account.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc userDoc
	if err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}
	return doc.toUser()
}

// Pinger adapts a client to store.Pinger.
type Pinger struct {
	Client *mongo.Client
}

// Ping checks the primary answers.
func (p Pinger) Ping(ctx context.Context) error {
	return p.Client.Ping(ctx, readpref.Primary()) //nolint:wrapcheck // store wraps
}

// Connect opens a client for uri and waits until the primary answers,
// retrying for up to timeout.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "create mongo client").Wrap(err)
	}
	if err := store.WaitReady(ctx, Pinger{Client: client}, timeout); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx)) //nolint:errcheck // connect error takes precedence
		return nil, err
	}
	return client, nil
}
