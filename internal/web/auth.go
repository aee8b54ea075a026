// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package web

import (
	"net/http"
	"time"

	"github.com/thinkgreen/thinkgreen/internal/auth"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type codeRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type codeSentResponse struct {
	Message   string    `json:"message"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type sessionResponse struct {
	Message string   `json:"message"`
	User    userView `json:"user"`
}

type meResponse struct {
	User userView `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// userView is the public shape of a user. It never carries the hash.
type userView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Points        int        `json:"points"`
	EmailVerified bool       `json:"emailVerified"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
}

func newUserView(u *auth.User) userView {
	return userView{
		ID:            u.ID.String(),
		Name:          u.DisplayName,
		Email:         u.Email,
		Points:        u.PointBalance,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		LastLogin:     u.LastLoginAt,
	}
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	view, err := h.svc.RequestSignup(r.Context(), auth.SignupRequest{
		DisplayName: req.Name,
		Email:       req.Email,
		Password:    req.Password,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, codeSentResponse{
		Message:   "OTP sent successfully",
		Email:     view.Email,
		ExpiresAt: view.ExpiresAt,
	})
}

func (h *Handler) handleVerifySignup(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.svc.ConfirmSignup(r.Context(), req.Email, req.OTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setSessionCookie(w, result.Token, result.ExpiresAt)
	writeJSON(w, http.StatusCreated, sessionResponse{
		Message: "User created successfully",
		User:    newUserView(result.User),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	sent, err := h.svc.RequestLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, codeSentResponse{
		Message:   "OTP sent successfully",
		Email:     sent.Email,
		ExpiresAt: sent.ExpiresAt,
	})
}

func (h *Handler) handleVerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.svc.ConfirmLogin(r.Context(), req.Email, req.OTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setSessionCookie(w, result.Token, result.ExpiresAt)
	writeJSON(w, http.StatusOK, sessionResponse{
		Message: "Login successful",
		User:    newUserView(result.User),
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		h.writeError(w, r, auth.ErrUnauthenticated("no session cookie"))
		return
	}

	user, err := h.svc.CheckSession(r.Context(), token)
	if err != nil {
		if auth.ErrorCode(err) == auth.CodeUnauthenticated {
			h.clearSessionCookie(w)
		}
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: newUserView(user)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), sessionToken(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}
