// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/holomush/accounts/internal/account"
)

// MockNotifier is a mock of account.Notifier.
type MockNotifier struct {
	mock.Mock
}

var _ account.Notifier = (*MockNotifier)(nil)

// NewMockNotifier creates a mock that asserts its expectations on cleanup.
func NewMockNotifier(t TestingT) *MockNotifier {
	m := &MockNotifier{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Send mocks Notifier.Send.
func (m *MockNotifier) Send(ctx context.Context, msg account.Message) error {
	return m.Called(ctx, msg).Error(0)
}
