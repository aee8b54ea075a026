// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

// Package web exposes the auth service as a JSON HTTP API with cookie
// sessions.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/samber/oops"

	"github.com/thinkgreen/thinkgreen/internal/auth"
)

// AuthService is the subset of *auth.Service the handlers call.
type AuthService interface {
	RequestSignup(ctx context.Context, req auth.SignupRequest) (*auth.PendingSignupView, error)
	ConfirmSignup(ctx context.Context, email, code string) (*auth.AuthResult, error)
	RequestLogin(ctx context.Context, email, password string) (*auth.CodeSent, error)
	ConfirmLogin(ctx context.Context, email, code string) (*auth.AuthResult, error)
	CheckSession(ctx context.Context, token string) (*auth.User, error)
	Logout(ctx context.Context, token string) error
}

// RequestRecorder counts served requests.
type RequestRecorder interface {
	HTTPRequest(route string, status int)
}

type noopRequestRecorder struct{}

func (noopRequestRecorder) HTTPRequest(string, int) {}

// DefaultRateLimit is the per-IP budget for auth POSTs per minute.
const DefaultRateLimit = 30

// Handler serves the API.
type Handler struct {
	svc          AuthService
	health       *HealthChecker
	logger       *slog.Logger
	recorder     RequestRecorder
	cookieSecure bool
	rateLimit    int
	trusted      []netip.Prefix
	now          func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithRequestRecorder sets the request metrics sink.
func WithRequestRecorder(r RequestRecorder) Option {
	return func(h *Handler) {
		h.recorder = r
	}
}

// WithCookieSecure sets the Secure attribute on the session cookie.
func WithCookieSecure(secure bool) Option {
	return func(h *Handler) {
		h.cookieSecure = secure
	}
}

// WithRateLimit sets the per-IP requests per minute allowed on auth POSTs.
// Zero disables limiting.
func WithRateLimit(perMinute int) Option {
	return func(h *Handler) {
		h.rateLimit = perMinute
	}
}

// WithTrustedProxies sets the peers whose forwarding headers are believed.
// With none, the rate limiter keys on the socket address.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(h *Handler) {
		h.trusted = prefixes
	}
}

// WithHealth enables GET /api/health.
func WithHealth(hc *HealthChecker) Option {
	return func(h *Handler) {
		h.health = hc
	}
}

// WithClock sets the time source used for cookie lifetimes.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler creates a Handler.
func NewHandler(svc AuthService, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, oops.Code("WEB_HANDLER_INVALID").Errorf("auth service is required")
	}
	h := &Handler{
		svc:          svc,
		logger:       slog.Default(),
		recorder:     noopRequestRecorder{},
		cookieSecure: true,
		rateLimit:    DefaultRateLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.recorder == nil {
		h.recorder = noopRequestRecorder{}
	}
	return h, nil
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if len(h.trusted) > 0 {
		r.Use(trustedRealIP(h.trusted))
	}
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found", Code: "HTTP_NOT_FOUND"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed", Code: "HTTP_METHOD_NOT_ALLOWED"})
	})

	r.Route("/api", func(r chi.Router) {
		if h.health != nil {
			r.Get("/health", h.handleHealth)
		}
		r.Route("/auth", func(r chi.Router) {
			r.Get("/me", h.handleMe)
			r.Post("/logout", h.handleLogout)

			r.Group(func(r chi.Router) {
				if h.rateLimit > 0 {
					r.Use(httprate.Limit(h.rateLimit, time.Minute,
						httprate.WithKeyFuncs(httprate.KeyByIP),
						httprate.WithLimitHandler(h.handleRateLimited),
					))
				}
				r.Post("/signup", h.handleSignup)
				r.Post("/verify-otp", h.handleVerifySignup)
				r.Post("/login", h.handleLogin)
				r.Post("/login-verify", h.handleVerifyLogin)
			})
		})
	})
	return r
}

func (h *Handler) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, oops.Code(CodeRateLimited).
		With("remote_addr", r.RemoteAddr).
		Errorf("Too many requests. Please try again later."))
}
