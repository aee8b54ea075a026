// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package auth_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/thinkgreen/thinkgreen/internal/auth"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memOTPStore is an in-memory OTPStore with the same conditional update
// semantics as the postgres implementation.
type memOTPStore struct {
	mu      sync.Mutex
	entries map[string]auth.OTPEntry
}

func newMemOTPStore() *memOTPStore {
	return &memOTPStore{entries: make(map[string]auth.OTPEntry)}
}

func (s *memOTPStore) Get(_ context.Context, email string) (*auth.OTPEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &e, nil
}

func (s *memOTPStore) Insert(_ context.Context, entry *auth.OTPEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.Email]; ok {
		return auth.ErrOTPExists
	}
	s.entries[entry.Email] = *entry
	return nil
}

func (s *memOTPStore) IncrementAttempts(_ context.Context, email string, id ulid.ULID, expected int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[email]
	if !ok || e.ID != id || e.Attempts != expected {
		return false, nil
	}
	e.Attempts++
	s.entries[email] = e
	return true, nil
}

func (s *memOTPStore) Delete(_ context.Context, email string, id ulid.ULID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[email]
	if !ok || e.ID != id {
		return false, nil
	}
	delete(s.entries, email)
	return true, nil
}

func (s *memOTPStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.entries {
		if !now.Before(e.ExpiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *memOTPStore) has(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[email]
	return ok
}

func (s *memOTPStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// memPendingRepo is an in-memory PendingSignupRepository.
type memPendingRepo struct {
	mu      sync.Mutex
	pending map[string]auth.PendingSignup
}

func newMemPendingRepo() *memPendingRepo {
	return &memPendingRepo{pending: make(map[string]auth.PendingSignup)}
}

func (r *memPendingRepo) Put(_ context.Context, p *auth.PendingSignup) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.pending[p.Email]; ok && !existing.IsExpired(p.CreatedAt) {
		return false, nil
	}
	r.pending[p.Email] = *p
	return true, nil
}

func (r *memPendingRepo) Get(_ context.Context, email string) (*auth.PendingSignup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &p, nil
}

func (r *memPendingRepo) Delete(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, email)
	return nil
}

func (r *memPendingRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, p := range r.pending {
		if !now.Before(p.ExpiresAt) {
			delete(r.pending, k)
			n++
		}
	}
	return n, nil
}

func (r *memPendingRepo) get(email string) (auth.PendingSignup, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[email]
	return p, ok
}

func (r *memPendingRepo) has(email string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[email]
	return ok
}

// memUserRepo is an in-memory UserRepository.
type memUserRepo struct {
	mu    sync.Mutex
	users map[ulid.ULID]auth.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[ulid.ULID]auth.User)}
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &u, nil
}

func (r *memUserRepo) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return oops.Code(auth.CodeConflict).Errorf("duplicate email")
		}
	}
	r.users[user.ID] = *user
	return nil
}

func (r *memUserRepo) UpdateLastLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.LastLoginAt = &at
	r.users[id] = u
	return nil
}

func (r *memUserRepo) mutate(id ulid.ULID, fn func(*auth.User)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[id]
	fn(&u)
	r.users[id] = u
}

func (r *memUserRepo) remove(id ulid.ULID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
}

func (r *memUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// countingRecorder tallies Recorder events.
type countingRecorder struct {
	mu            sync.Mutex
	issued        map[bool]int
	verified      map[auth.VerifyResult]int
	signups       map[string]int
	logins        map[string]int
	notifications map[string]int
	swept         map[string]int64
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		issued:        map[bool]int{},
		verified:      map[auth.VerifyResult]int{},
		signups:       map[string]int{},
		logins:        map[string]int{},
		notifications: map[string]int{},
		swept:         map[string]int64{},
	}
}

func (r *countingRecorder) OTPIssued(reused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued[reused]++
}

func (r *countingRecorder) OTPVerified(result auth.VerifyResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verified[result]++
}

func (r *countingRecorder) Signup(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signups[result]++
}

func (r *countingRecorder) Login(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins[result]++
}

func (r *countingRecorder) Notification(kind string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.notifications[kind+":"+result]++
}

func (r *countingRecorder) Swept(kind string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swept[kind] += n
}

func (r *countingRecorder) signupCount(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signups[result]
}

func (r *countingRecorder) notificationCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notifications[key]
}

// captureNotifier records delivered codes and welcomes. Setting failCode or
// failWelcome makes the matching send fail.
type captureNotifier struct {
	mu          sync.Mutex
	codes       map[string][]string
	welcomes    []string
	failCode    error
	failWelcome error
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{codes: make(map[string][]string)}
}

func (n *captureNotifier) SendCode(_ context.Context, email, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failCode != nil {
		return n.failCode
	}
	n.codes[email] = append(n.codes[email], code)
	return nil
}

func (n *captureNotifier) SendWelcome(_ context.Context, email, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWelcome != nil {
		return n.failWelcome
	}
	n.welcomes = append(n.welcomes, email)
	return nil
}

func (n *captureNotifier) setFailCode(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failCode = err
}

// lastCode returns the most recent code sent to email, or "".
func (n *captureNotifier) lastCode(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	codes := n.codes[email]
	if len(codes) == 0 {
		return ""
	}
	return codes[len(codes)-1]
}

func (n *captureNotifier) codeCount(email string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.codes[email])
}

func (n *captureNotifier) welcomeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.welcomes)
}

var (
	_ auth.Notifier                = (*captureNotifier)(nil)
	_ auth.OTPStore                = (*memOTPStore)(nil)
	_ auth.PendingSignupRepository = (*memPendingRepo)(nil)
	_ auth.UserRepository          = (*memUserRepo)(nil)
	_ auth.Recorder                = (*countingRecorder)(nil)
)
