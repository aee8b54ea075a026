// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

// Package mocks provides testify mocks of the auth collaborator interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/thinkgreen/thinkgreen/internal/auth"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

func register(t testingT, m *mock.Mock) {
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
}

func userOrNil(v any) *auth.User {
	if v == nil {
		return nil
	}
	return v.(*auth.User)
}

// MockUserRepository is a mock of auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

// NewMockUserRepository creates a MockUserRepository that asserts its
// expectations at test cleanup.
func NewMockUserRepository(t testingT) *MockUserRepository {
	m := &MockUserRepository{}
	register(t, &m.Mock)
	return m
}

// GetByEmail provides a mock function with given fields: ctx, email
func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	ret := m.Called(ctx, email)
	return userOrNil(ret.Get(0)), ret.Error(1)
}

// GetByID provides a mock function with given fields: ctx, id
func (m *MockUserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	ret := m.Called(ctx, id)
	return userOrNil(ret.Get(0)), ret.Error(1)
}

// Create provides a mock function with given fields: ctx, user
func (m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	return m.Called(ctx, user).Error(0)
}

// UpdateLastLogin provides a mock function with given fields: ctx, id, at
func (m *MockUserRepository) UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

// MockPendingSignupRepository is a mock of auth.PendingSignupRepository.
type MockPendingSignupRepository struct {
	mock.Mock
}

// NewMockPendingSignupRepository creates a MockPendingSignupRepository that
// asserts its expectations at test cleanup.
func NewMockPendingSignupRepository(t testingT) *MockPendingSignupRepository {
	m := &MockPendingSignupRepository{}
	register(t, &m.Mock)
	return m
}

// Put provides a mock function with given fields: ctx, pending
func (m *MockPendingSignupRepository) Put(ctx context.Context, pending *auth.PendingSignup) (bool, error) {
	ret := m.Called(ctx, pending)
	return ret.Bool(0), ret.Error(1)
}

// Get provides a mock function with given fields: ctx, email
func (m *MockPendingSignupRepository) Get(ctx context.Context, email string) (*auth.PendingSignup, error) {
	ret := m.Called(ctx, email)
	var p *auth.PendingSignup
	if v := ret.Get(0); v != nil {
		p = v.(*auth.PendingSignup)
	}
	return p, ret.Error(1)
}

// Delete provides a mock function with given fields: ctx, email
func (m *MockPendingSignupRepository) Delete(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

// DeleteExpired provides a mock function with given fields: ctx, now
func (m *MockPendingSignupRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ret := m.Called(ctx, now)
	return ret.Get(0).(int64), ret.Error(1)
}

// MockOTPStore is a mock of auth.OTPStore.
type MockOTPStore struct {
	mock.Mock
}

// NewMockOTPStore creates a MockOTPStore that asserts its expectations at
// test cleanup.
func NewMockOTPStore(t testingT) *MockOTPStore {
	m := &MockOTPStore{}
	register(t, &m.Mock)
	return m
}

// Get provides a mock function with given fields: ctx, email
func (m *MockOTPStore) Get(ctx context.Context, email string) (*auth.OTPEntry, error) {
	ret := m.Called(ctx, email)
	var e *auth.OTPEntry
	if v := ret.Get(0); v != nil {
		e = v.(*auth.OTPEntry)
	}
	return e, ret.Error(1)
}

// Insert provides a mock function with given fields: ctx, entry
func (m *MockOTPStore) Insert(ctx context.Context, entry *auth.OTPEntry) error {
	return m.Called(ctx, entry).Error(0)
}

// IncrementAttempts provides a mock function with given fields: ctx, email, id, expected
func (m *MockOTPStore) IncrementAttempts(ctx context.Context, email string, id ulid.ULID, expected int) (bool, error) {
	ret := m.Called(ctx, email, id, expected)
	return ret.Bool(0), ret.Error(1)
}

// Delete provides a mock function with given fields: ctx, email, id
func (m *MockOTPStore) Delete(ctx context.Context, email string, id ulid.ULID) (bool, error) {
	ret := m.Called(ctx, email, id)
	return ret.Bool(0), ret.Error(1)
}

// DeleteExpired provides a mock function with given fields: ctx, now
func (m *MockOTPStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ret := m.Called(ctx, now)
	return ret.Get(0).(int64), ret.Error(1)
}

// MockNotifier is a mock of auth.Notifier.
type MockNotifier struct {
	mock.Mock
}

// NewMockNotifier creates a MockNotifier that asserts its expectations at
// test cleanup.
func NewMockNotifier(t testingT) *MockNotifier {
	m := &MockNotifier{}
	register(t, &m.Mock)
	return m
}

// SendCode provides a mock function with given fields: ctx, email, code
func (m *MockNotifier) SendCode(ctx context.Context, email, code string) error {
	return m.Called(ctx, email, code).Error(0)
}

// SendWelcome provides a mock function with given fields: ctx, email, displayName
func (m *MockNotifier) SendWelcome(ctx context.Context, email, displayName string) error {
	return m.Called(ctx, email, displayName).Error(0)
}

// MockPasswordHasher is a mock of auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher that asserts its
// expectations at test cleanup.
func NewMockPasswordHasher(t testingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	register(t, &m.Mock)
	return m
}

// Hash provides a mock function with given fields: password
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	ret := m.Called(password)
	return ret.String(0), ret.Error(1)
}

// Verify provides a mock function with given fields: password, hash
func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	ret := m.Called(password, hash)
	return ret.Bool(0), ret.Error(1)
}

var (
	_ auth.UserRepository          = (*MockUserRepository)(nil)
	_ auth.PendingSignupRepository = (*MockPendingSignupRepository)(nil)
	_ auth.OTPStore                = (*MockOTPStore)(nil)
	_ auth.Notifier                = (*MockNotifier)(nil)
	_ auth.PasswordHasher          = (*MockPasswordHasher)(nil)
)
