// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

// Package errutil holds helpers for logging and asserting oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level with its oops code and context, if any.
func LogError(logger *slog.Logger, msg string, err error) {
	LogErrorContext(context.Background(), logger, slog.LevelError, msg, err)
}

// LogErrorContext logs err at level. Oops errors contribute their code and
// merged context; other errors log their string. Extra attrs are appended
// after the error fields.
func LogErrorContext(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error, attrs ...any) {
	if logger == nil || err == nil {
		return
	}
	fields := make([]any, 0, 6+len(attrs))
	if oopsErr, ok := oops.AsOops(err); ok {
		fields = append(fields, "error", oopsErr.Error())
		if code := oopsErr.Code(); code != nil {
			fields = append(fields, "code", code)
		}
		if errCtx := oopsErr.Context(); len(errCtx) > 0 {
			fields = append(fields, "context", errCtx)
		}
	} else {
		fields = append(fields, "error", err.Error())
	}
	fields = append(fields, attrs...)
	logger.Log(ctx, level, msg, fields...)
}
