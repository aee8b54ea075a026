// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/thinkgreen/thinkgreen/internal/auth"
	"github.com/thinkgreen/thinkgreen/pkg/errutil"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Codes produced by the HTTP layer itself.
const (
	CodeBodyTooLarge = "HTTP_BODY_TOO_LARGE"
	CodeRateLimited  = "HTTP_RATE_LIMITED"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps an error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case auth.CodeValidation:
		return http.StatusBadRequest
	case auth.CodeConflict, auth.CodeSignupPending:
		return http.StatusConflict
	case auth.CodeInvalidCredentials, auth.CodeInvalidCode, auth.CodeUnauthenticated:
		return http.StatusUnauthorized
	case auth.CodeLockedOut, CodeRateLimited:
		return http.StatusTooManyRequests
	case auth.CodeDeliveryFailed:
		return http.StatusBadGateway
	case CodeBodyTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect mid-write
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as {"error","code"}. 5xx responses never expose
// internal codes or messages.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := auth.ErrorCode(err)
	status := statusFor(code)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	errutil.LogErrorContext(r.Context(), h.logger, level, "request failed", err,
		"method", r.Method, "path", r.URL.Path, "status", status)

	body := errorBody{Error: auth.UserMessage(err), Code: code}
	switch {
	case code == CodeBodyTooLarge || code == CodeRateLimited:
		body.Error = err.Error()
	case status == http.StatusInternalServerError:
		body.Code = "INTERNAL_ERROR"
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a single JSON object into dst. Unknown fields, trailing
// data and bodies over maxBodyBytes are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return oops.Code(CodeBodyTooLarge).
				With("limit", tooLarge.Limit).
				Errorf("Request body too large")
		case errors.Is(err, io.EOF):
			return auth.ErrValidation("body", "Request body is required")
		default:
			return oops.Code(auth.CodeValidation).
				With("field", "body").
				With("cause", err.Error()).
				Errorf("Invalid request body")
		}
	}
	if dec.More() {
		return auth.ErrValidation("body", "Request body must contain a single JSON object")
	}
	return nil
}
