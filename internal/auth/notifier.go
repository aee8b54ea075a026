// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package auth

import "context"

// Notification kinds, used as metric and log labels.
const (
	NotifyCode    = "code"
	NotifyWelcome = "welcome"
)

// Notifier delivers transactional email. Implementations report failure
// through the returned error and must not panic.
type Notifier interface {
	// SendCode delivers a verification code. Callers block on it.
	SendCode(ctx context.Context, email, code string) error

	// SendWelcome delivers the post-signup welcome message.
	SendWelcome(ctx context.Context, email, displayName string) error
}

// Recorder receives auth events for metrics.
type Recorder interface {
	OTPIssued(reused bool)
	OTPVerified(result VerifyResult)
	Signup(result string)
	Login(result string)
	Notification(kind string, err error)
	Swept(kind string, n int64)
}

type noopRecorder struct{}

func (noopRecorder) OTPIssued(bool) {}
func (noopRecorder) OTPVerified(VerifyResult) {}
func (noopRecorder) Signup(string) {}
func (noopRecorder) Login(string) {}
func (noopRecorder) Notification(string, error) {}
func (noopRecorder) Swept(string, int64) {}
