// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/holomush/accounts/internal/account"
)

// MockPasswordHasher is a mock of account.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

var _ account.PasswordHasher = (*MockPasswordHasher)(nil)

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t TestingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash mocks PasswordHasher.Hash.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	ret := m.Called(password)
	return ret.String(0), ret.Error(1)
}

// Verify mocks PasswordHasher.Verify.
func (m *MockPasswordHasher) Verify(password, digest string) (bool, error) {
	ret := m.Called(password, digest)
	return ret.Bool(0), ret.Error(1)
}

// NeedsUpgrade mocks PasswordHasher.NeedsUpgrade.
func (m *MockPasswordHasher) NeedsUpgrade(digest string) bool {
	return m.Called(digest).Bool(0)
}
