// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks holds testify mocks of the account interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/accounts/internal/account"
)

// TestingT is the subset of testing.T the mock constructors need.
type TestingT interface {
	mock.TestingT
	Cleanup(func())
}

// MockUserRepository is a mock of account.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

var _ account.UserRepository = (*MockUserRepository)(nil)

// NewMockUserRepository creates a mock that asserts its expectations on cleanup.
func NewMockUserRepository(t TestingT) *MockUserRepository {
	m := &MockUserRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func userResult(ret mock.Arguments) (*account.User, error) {
	var user *account.User
	if v := ret.Get(0); v != nil {
		user = v.(*account.User) //nolint:errcheck,forcetypeassert // mock return
	}
	return user, ret.Error(1)
}

// Create mocks UserRepository.Create.
func (m *MockUserRepository) Create(ctx context.Context, user *account.User) error {
	return m.Called(ctx, user).Error(0)
}

// GetByID mocks UserRepository.GetByID.
func (m *MockUserRepository) GetByID(ctx context.Context, id ulid.ULID) (*account.User, error) {
	return userResult(m.Called(ctx, id))
}

// GetByEmail mocks UserRepository.GetByEmail.
func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*account.User, error) {
	return userResult(m.Called(ctx, email))
}

// ConsumeVerificationToken mocks UserRepository.ConsumeVerificationToken.
func (m *MockUserRepository) ConsumeVerificationToken(ctx context.Context, digest string, now time.Time) (*account.User, error) {
	return userResult(m.Called(ctx, digest, now))
}

// SetResetToken mocks UserRepository.SetResetToken.
func (m *MockUserRepository) SetResetToken(ctx context.Context, id ulid.ULID, digest string, expires, now time.Time) error {
	return m.Called(ctx, id, digest, expires, now).Error(0)
}

// ConsumeResetToken mocks UserRepository.ConsumeResetToken.
func (m *MockUserRepository) ConsumeResetToken(ctx context.Context, digest, passwordHash string, now time.Time) (*account.User, error) {
	return userResult(m.Called(ctx, digest, passwordHash, now))
}

// UpdatePasswordHash mocks UserRepository.UpdatePasswordHash.
func (m *MockUserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) error {
	return m.Called(ctx, id, passwordHash, now).Error(0)
}

// Delete mocks UserRepository.Delete.
func (m *MockUserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}
