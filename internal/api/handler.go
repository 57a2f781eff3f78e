// Package api provides HTTP handlers and response helpers for the chat API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coachmind/mental-coach/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Root confirms the API is up and enumerates its endpoints.
func Root(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": "Mental Coach API is running",
		"endpoints": map[string]string{
			"health":        "/api/health",
			"chat":          "/api/chat",
			"webhook":       "/api/webhook",
			"conversations": "/api/conversations/{id}",
		},
	})
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo               store.Repository
	providerConfigured bool
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, providerConfigured bool) *HealthHandler {
	return &HealthHandler{
		repo:               repo,
		providerConfigured: providerConfigured,
	}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.providerConfigured {
		checks["provider"] = "configured"
	} else {
		checks["provider"] = "not_configured"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check routes. Both paths serve the
// same check: the bare one for infrastructure probes, the /api one for the
// channel adapters.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/api/health", h.Health)
}
