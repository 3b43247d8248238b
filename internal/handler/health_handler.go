package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go-storefront/pkg/apierror"
)

type healthChecker interface {
	Health(ctx context.Context) error
}

type HealthHandler struct {
	checker healthChecker
}

// NewHealthHandler accepts a nil checker for the in-memory store.
func NewHealthHandler(checker healthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}

	if h.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.checker.Health(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			writeError(w, apierror.New("UNAVAILABLE", "database unreachable", "", http.StatusServiceUnavailable))
			return
		}
		status["database"] = "ok"
	}

	writeSuccess(w, http.StatusOK, "", status, nil)
}
