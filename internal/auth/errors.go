// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrOTPExists is returned by OTPStore.Insert when an entry for the email
// is already present.
var ErrOTPExists = errors.New("otp entry already exists")

// Error codes surfaced to callers of Service. Transport layers map these to
// their own status codes.
const (
	CodeValidation         = "AUTH_VALIDATION"
	CodeConflict           = "AUTH_CONFLICT"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeInvalidCode        = "AUTH_INVALID_CODE"
	CodeLockedOut          = "AUTH_LOCKED_OUT"
	CodeDeliveryFailed     = "AUTH_DELIVERY_FAILED"
	CodeUnauthenticated    = "AUTH_UNAUTHENTICATED"
	CodeSignupPending      = "AUTH_SIGNUP_PENDING"
)

// ErrValidation creates an error for malformed input on the named field.
func ErrValidation(field, message string) error {
	return oops.Code(CodeValidation).
		With("field", field).
		Errorf("%s", message)
}

// ErrConflict creates an error for an email that already has an account.
func ErrConflict(email string) error {
	return oops.Code(CodeConflict).
		With("email", email).
		Errorf("Email already registered")
}

// ErrInvalidCredentials creates the error returned for any failed password
// check. The message is identical whether or not the email exists.
func ErrInvalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).
		Errorf("Invalid email or password")
}

// ErrInvalidCode creates an error for a rejected verification code.
// reason is recorded for logs only.
func ErrInvalidCode(reason string) error {
	return oops.Code(CodeInvalidCode).
		With("reason", reason).
		Errorf("Invalid or expired verification code")
}

// ErrLockedOut creates an error for a code that hit the attempt ceiling.
func ErrLockedOut() error {
	return oops.Code(CodeLockedOut).
		With("max_attempts", MaxOTPAttempts).
		Errorf("Too many attempts. Please request a new code.")
}

// ErrDeliveryFailed creates an error for a notifier failure. The cause is
// kept as context rather than wrapped so its own code cannot shadow
// CodeDeliveryFailed.
func ErrDeliveryFailed(kind string, cause error) error {
	b := oops.Code(CodeDeliveryFailed).With("kind", kind)
	if cause != nil {
		b = b.With("cause", cause.Error())
	}
	return b.Errorf("Failed to send verification email")
}

// ErrSignupPending creates an error for a signup request that conflicts
// with another unexpired candidate for the same email.
func ErrSignupPending(email string) error {
	return oops.Code(CodeSignupPending).
		With("email", email).
		Errorf("A signup for this email is already awaiting verification. Please try again later.")
}

// ErrUnauthenticated creates an error for a missing or invalid session.
func ErrUnauthenticated(reason string) error {
	return oops.Code(CodeUnauthenticated).
		With("reason", reason).
		Errorf("Not authenticated")
}

// userFacingCodes are the codes whose messages are safe to show to users.
var userFacingCodes = map[string]bool{
	CodeValidation:         true,
	CodeConflict:           true,
	CodeInvalidCredentials: true,
	CodeInvalidCode:        true,
	CodeLockedOut:          true,
	CodeDeliveryFailed:     true,
	CodeUnauthenticated:    true,
	CodeSignupPending:      true,
}

// ErrorCode returns the oops code of err, or "" if it has none. For wrapped
// oops errors this is the innermost code.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// UserMessage extracts a user-facing message from an error. Internal errors
// collapse to a generic message.
func UserMessage(err error) string {
	const generic = "Something went wrong. Please try again."
	if err == nil {
		return generic
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return generic
	}
	code, _ := oopsErr.Code().(string)
	if !userFacingCodes[code] {
		return generic
	}
	return oopsErr.Error()
}
