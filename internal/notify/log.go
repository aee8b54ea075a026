// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

// Package notify delivers ThinkGreen's transactional mail.
package notify

import (
	"context"
	"log/slog"

	"github.com/thinkgreen/thinkgreen/internal/auth"
)

// LogNotifier writes notifications to the log instead of sending them.
// It is meant for local development, where the code is read off the log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendCode logs the verification code.
func (n *LogNotifier) SendCode(ctx context.Context, email, code string) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck // context errors pass through
	}
	n.logger.InfoContext(ctx, "verification code (log mail driver)",
		"kind", auth.NotifyCode,
		"to", email,
		"subject", SubjectCode,
		"code", code,
	)
	return nil
}

// SendWelcome logs the welcome message.
func (n *LogNotifier) SendWelcome(ctx context.Context, email, displayName string) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck // context errors pass through
	}
	n.logger.InfoContext(ctx, "welcome mail (log mail driver)",
		"kind", auth.NotifyWelcome,
		"to", email,
		"subject", SubjectWelcome,
		"name", displayName,
	)
	return nil
}

var _ auth.Notifier = (*LogNotifier)(nil)
