// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/thinkgreen/thinkgreen/pkg/errutil"
)

var tracer = otel.Tracer("thinkgreen/auth")

// DefaultWelcomeTimeout bounds a background welcome notification.
const DefaultWelcomeTimeout = 30 * time.Second

// dummyPasswordHash is verified against when the email is unknown so that
// login takes the same time whether or not the account exists.
// It will never match any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// SignupRequest is the input to RequestSignup.
type SignupRequest struct {
	DisplayName string
	Email       string
	Password    string
}

// PendingSignupView is what the caller learns about a started signup.
type PendingSignupView struct {
	Email       string
	DisplayName string
	ExpiresAt   time.Time
}

// CodeSent reports a delivered login code.
type CodeSent struct {
	Email     string
	ExpiresAt time.Time
}

// AuthResult is a completed signup or login.
type AuthResult struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

// ServiceDeps are the collaborators of Service. All are required.
type ServiceDeps struct {
	Users    UserRepository
	Pending  PendingSignupRepository
	Ledger   *Ledger
	Hasher   PasswordHasher
	Signer   *SessionSigner
	Notifier Notifier
}

// Service runs the signup, login and session check protocols.
type Service struct {
	users          UserRepository
	pending        PendingSignupRepository
	ledger         *Ledger
	hasher         PasswordHasher
	signer         *SessionSigner
	notifier       Notifier
	logger         *slog.Logger
	recorder       Recorder
	now            func() time.Time
	welcomeTimeout time.Duration
	background     sync.WaitGroup
}

// ServiceOption configures a Service during construction.
type ServiceOption func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock sets the time source. Defaults to time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithRecorder sets the metrics recorder. Defaults to a no-op.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithWelcomeTimeout bounds each background welcome notification.
func WithWelcomeTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.welcomeTimeout = d
	}
}

// NewService creates a Service. Returns an error if any dependency is nil.
func NewService(deps ServiceDeps, opts ...ServiceOption) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("users repository is required")
	case deps.Pending == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("pending signup repository is required")
	case deps.Ledger == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("otp ledger is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	case deps.Signer == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session signer is required")
	case deps.Notifier == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("notifier is required")
	}

	s := &Service{
		users:          deps.Users,
		pending:        deps.Pending,
		ledger:         deps.Ledger,
		hasher:         deps.Hasher,
		signer:         deps.Signer,
		notifier:       deps.Notifier,
		logger:         slog.Default(),
		recorder:       noopRecorder{},
		now:            time.Now,
		welcomeTimeout: DefaultWelcomeTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("logger cannot be nil")
	}
	if s.recorder == nil {
		s.recorder = noopRecorder{}
	}
	return s, nil
}

// SessionTTL returns the lifetime of issued session tokens.
func (s *Service) SessionTTL() time.Duration {
	return s.signer.TTL()
}

// RequestSignup validates the candidate, stores it pending confirmation and
// emails a code. No account exists until ConfirmSignup succeeds.
//
// An unexpired candidate is never replaced. A repeat request with the same
// password resends the code; a request with a different password is refused
// with CodeSignupPending and sends nothing.
func (s *Service) RequestSignup(ctx context.Context, req SignupRequest) (view *PendingSignupView, err error) {
	ctx, span := tracer.Start(ctx, "auth.request_signup")
	defer func() { endSpan(span, err) }()

	if err = ValidateSignup(req.DisplayName, req.Email, req.Password); err != nil {
		s.recorder.Signup("invalid")
		return nil, err
	}
	email := NormalizeEmail(req.Email)
	displayName := strings.TrimSpace(req.DisplayName)

	if err = s.ensureNoAccount(ctx, email); err != nil {
		return nil, err
	}

	existing, err := s.livePending(ctx, email)
	if err != nil {
		return nil, err
	}

	var hash string
	if existing != nil {
		same, verifyErr := s.hasher.Verify(req.Password, existing.PasswordHash)
		if verifyErr != nil {
			return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "compare pending signup").Wrap(verifyErr)
		}
		if !same {
			s.recorder.Signup("pending_conflict")
			s.logger.WarnContext(ctx, "signup refused, another candidate is pending", "email", email)
			return nil, ErrSignupPending(email)
		}
		displayName, hash = existing.DisplayName, existing.PasswordHash
	} else {
		hash, err = s.hasher.Hash(req.Password)
		if err != nil {
			return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "hash password").Wrap(err)
		}
	}

	entry, reused, err := s.ledger.Issue(ctx, email)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "issue code").Wrap(err)
	}
	s.recorder.OTPIssued(reused)
	span.SetAttributes(attribute.Bool("otp.reused", reused))

	// A kept candidate outlives a code that was locked out; extend it to the
	// new code's expiry.
	if existing != nil && !reused {
		if err = s.pending.Delete(ctx, email); err != nil {
			s.revokeFresh(ctx, entry, reused)
			return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "refresh pending signup").Wrap(err)
		}
		existing = nil
	}

	var stored bool
	if existing == nil {
		stored, err = s.pending.Put(ctx, &PendingSignup{
			Email:        email,
			DisplayName:  displayName,
			PasswordHash: hash,
			ExpiresAt:    entry.ExpiresAt,
			CreatedAt:    s.now(),
		})
		if err != nil {
			s.revokeFresh(ctx, entry, reused)
			return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "store pending signup").Wrap(err)
		}
		if !stored {
			// A concurrent request stored its candidate first. The code is
			// shared with that candidate, so it is left alone.
			s.recorder.Signup("pending_conflict")
			return nil, ErrSignupPending(email)
		}
	}

	if err = s.sendCode(ctx, email, entry.Code); err != nil {
		s.revokeFresh(ctx, entry, reused)
		if stored {
			s.discardPending(ctx, email)
		}
		s.recorder.Signup("delivery_failed")
		return nil, err
	}

	s.logger.InfoContext(ctx, "signup code sent", "email", email, "reused", reused)
	return &PendingSignupView{
		Email:       email,
		DisplayName: displayName,
		ExpiresAt:   entry.ExpiresAt,
	}, nil
}

// livePending returns the unexpired candidate for email, or nil.
func (s *Service) livePending(ctx context.Context, email string) (*PendingSignup, error) {
	pending, err := s.pending.Get(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "get pending signup").Wrap(err)
	}
	if pending.IsExpired(s.now()) {
		return nil, nil
	}
	return pending, nil
}

// ConfirmSignup checks the code for a pending signup and creates the account.
// The welcome notification is sent in the background.
func (s *Service) ConfirmSignup(ctx context.Context, email, code string) (result *AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.confirm_signup")
	defer func() { endSpan(span, err) }()

	email, code, err = normalizeCodeInput(email, code)
	if err != nil {
		return nil, err
	}

	if err = s.ensureNoAccount(ctx, email); err != nil {
		return nil, err
	}

	pending, err := s.pending.Get(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.recorder.Signup("no_pending")
		return nil, ErrInvalidCode("no pending signup")
	}
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "get pending signup").Wrap(err)
	}
	if pending.IsExpired(s.now()) {
		s.discardPending(ctx, email)
		// The code expires with the candidate; Verify deletes it.
		if verdict, verifyErr := s.ledger.Verify(ctx, email, code); verifyErr != nil {
			errutil.LogError(s.logger, "failed to clear expired code", verifyErr)
		} else {
			s.recorder.OTPVerified(verdict)
		}
		s.recorder.Signup("expired")
		return nil, ErrInvalidCode("pending signup expired")
	}

	verdict, err := s.ledger.Verify(ctx, email, code)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "verify code").Wrap(err)
	}
	s.recorder.OTPVerified(verdict)
	span.SetAttributes(attribute.String("otp.result", verdict.String()))
	if !verdict.Ok() {
		s.recorder.Signup("invalid_code")
		return nil, codeError(verdict)
	}

	user, err := NewUser(pending.Email, pending.DisplayName, pending.PasswordHash, s.now())
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "build user").Wrap(err)
	}
	if err = s.users.Create(ctx, user); err != nil {
		if ErrorCode(err) == CodeConflict {
			s.recorder.Signup("conflict")
			return nil, ErrConflict(email)
		}
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "create user").Wrap(err)
	}
	s.discardPending(ctx, email)

	token, expiresAt, err := s.signer.Issue(claimsFor(user))
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "issue session").Wrap(err)
	}

	s.sendWelcome(ctx, user)
	s.recorder.Signup("success")
	s.logger.InfoContext(ctx, "user signed up", "user_id", user.ID.String(), "email", user.Email)

	return &AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// RequestLogin checks the password and emails a login code. Unknown emails
// and wrong passwords produce the same error and take the same time.
func (s *Service) RequestLogin(ctx context.Context, email, password string) (sent *CodeSent, err error) {
	ctx, span := tracer.Start(ctx, "auth.request_login")
	defer func() { endSpan(span, err) }()

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		s.recorder.Login("invalid")
		return nil, ErrValidation("required", "Email and password are required")
	}

	user, lookupErr := s.users.GetByEmail(ctx, email)
	var targetHash string
	var exists bool
	switch {
	case lookupErr == nil:
		targetHash, exists = user.PasswordHash, true
	case errors.Is(lookupErr, ErrNotFound):
		targetHash = dummyPasswordHash
	default:
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "get user by email").Wrap(lookupErr)
	}

	// Always verify so both paths cost the same.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !exists {
			s.recorder.Login("invalid_credentials")
			return nil, ErrInvalidCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "verify password").Wrap(verifyErr)
	}
	if !exists || !valid {
		s.recorder.Login("invalid_credentials")
		return nil, ErrInvalidCredentials()
	}

	entry, reused, err := s.ledger.Issue(ctx, email)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue code").Wrap(err)
	}
	s.recorder.OTPIssued(reused)
	span.SetAttributes(attribute.Bool("otp.reused", reused))

	if err = s.sendCode(ctx, email, entry.Code); err != nil {
		s.revokeFresh(ctx, entry, reused)
		s.recorder.Login("delivery_failed")
		return nil, err
	}

	s.logger.InfoContext(ctx, "login code sent", "user_id", user.ID.String(), "reused", reused)
	return &CodeSent{Email: email, ExpiresAt: entry.ExpiresAt}, nil
}

// ConfirmLogin checks a login code and issues a session.
func (s *Service) ConfirmLogin(ctx context.Context, email, code string) (result *AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.confirm_login")
	defer func() { endSpan(span, err) }()

	email, code, err = normalizeCodeInput(email, code)
	if err != nil {
		return nil, err
	}

	verdict, err := s.ledger.Verify(ctx, email, code)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "verify code").Wrap(err)
	}
	s.recorder.OTPVerified(verdict)
	span.SetAttributes(attribute.String("otp.result", verdict.String()))
	if !verdict.Ok() {
		s.recorder.Login("invalid_code")
		return nil, codeError(verdict)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.recorder.Login("invalid_credentials")
		return nil, ErrInvalidCredentials()
	}
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "get user by email").Wrap(err)
	}

	now := s.now()
	if updErr := s.users.UpdateLastLogin(ctx, user.ID, now); updErr != nil {
		// Login succeeds regardless.
		errutil.LogError(s.logger, "failed to record last login", updErr)
	} else {
		user.LastLoginAt = &now
	}

	token, expiresAt, err := s.signer.Issue(claimsFor(user))
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue session").Wrap(err)
	}

	s.recorder.Login("success")
	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID.String())
	return &AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// CheckSession resolves a session token to the current stored user.
func (s *Service) CheckSession(ctx context.Context, token string) (user *User, err error) {
	ctx, span := tracer.Start(ctx, "auth.check_session")
	defer func() { endSpan(span, err) }()

	claims, ok := s.signer.Verify(token)
	if !ok {
		return nil, ErrUnauthenticated("invalid token")
	}
	id, err := ulid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrUnauthenticated("malformed user id")
	}

	user, err = s.users.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthenticated("user not found")
	}
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_CHECK_FAILED").
			With("operation", "get user by id").
			With("user_id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// Logout exists for symmetry with the other operations. Tokens are
// stateless, so the caller discarding its token is the whole logout.
func (s *Service) Logout(ctx context.Context, token string) error {
	if claims, ok := s.signer.Verify(token); ok {
		s.logger.InfoContext(ctx, "user logged out", "user_id", claims.UserID)
	}
	return nil
}

// Wait blocks until background notifications have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) ensureNoAccount(ctx context.Context, email string) error {
	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.EmailVerified {
			s.recorder.Signup("conflict")
			return ErrConflict(email)
		}
		return nil
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return oops.Code("AUTH_SIGNUP_FAILED").With("operation", "get user by email").Wrap(err)
	}
}

func (s *Service) sendCode(ctx context.Context, email, code string) error {
	err := s.notifier.SendCode(ctx, email, code)
	s.recorder.Notification(NotifyCode, err)
	if err != nil {
		errutil.LogError(s.logger, "verification code delivery failed", err)
		return ErrDeliveryFailed(NotifyCode, err)
	}
	return nil
}

// sendWelcome fires the welcome notification without blocking the caller.
// Failures are logged and dropped.
func (s *Service) sendWelcome(ctx context.Context, user *User) {
	bg := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(bg, s.welcomeTimeout)
		defer cancel()
		err := s.notifier.SendWelcome(ctx, user.Email, user.DisplayName)
		s.recorder.Notification(NotifyWelcome, err)
		if err != nil {
			errutil.LogError(s.logger, "welcome notification failed", err)
		}
	}()
}

// revokeFresh removes a code this call created so a failed attempt leaves
// nothing behind. Reused codes belong to an earlier request and are kept.
func (s *Service) revokeFresh(ctx context.Context, entry *OTPEntry, reused bool) {
	if reused {
		return
	}
	if err := s.ledger.Revoke(ctx, entry); err != nil {
		errutil.LogError(s.logger, "failed to revoke code", err)
	}
}

func (s *Service) discardPending(ctx context.Context, email string) {
	if err := s.pending.Delete(ctx, email); err != nil {
		errutil.LogError(s.logger, "failed to delete pending signup", err)
	}
}

func normalizeCodeInput(email, code string) (string, string, error) {
	email = NormalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return "", "", ErrValidation("required", "Email and OTP are required")
	}
	return email, code, nil
}

func codeError(result VerifyResult) error {
	if result == VerifyLockedOut {
		return ErrLockedOut()
	}
	return ErrInvalidCode(result.String())
}

func claimsFor(u *User) SessionClaims {
	return SessionClaims{
		UserID:      u.ID.String(),
		Email:       u.Email,
		DisplayName: u.DisplayName,
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
