// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package web

import (
	"context"
	"net/http"
	"time"

	"github.com/thinkgreen/thinkgreen/internal/store"
)

const healthPingTimeout = 2 * time.Second

// HealthChecker reports dependency state for GET /api/health.
type HealthChecker struct {
	DB                store.Pinger
	MailConfigured    bool
	SessionConfigured bool
}

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Database string `json:"database"`
	Email    string `json:"email"`
	Auth     string `json:"auth"`
}

func readiness(ok bool, good, bad string) string {
	if ok {
		return good
	}
	return bad
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	dbOK := h.health.DB != nil
	if dbOK {
		if err := store.Ping(ctx, h.health.DB); err != nil {
			h.logger.WarnContext(ctx, "health check database ping failed", "error", err)
			dbOK = false
		}
	}

	resp := healthResponse{
		Timestamp: h.now().UTC(),
		Services: healthServices{
			Database: readiness(dbOK, "healthy", "unhealthy"),
			Email:    readiness(h.health.MailConfigured, "ready", "not_configured"),
			Auth:     readiness(h.health.SessionConfigured, "ready", "not_configured"),
		},
	}

	status := http.StatusOK
	resp.Status = "healthy"
	if !dbOK || !h.health.MailConfigured || !h.health.SessionConfigured {
		status = http.StatusServiceUnavailable
		resp.Status = "unhealthy"
	}
	writeJSON(w, status, resp)
}
