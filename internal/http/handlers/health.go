package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/qrpay/internal/http/respond"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler returns uptime and store status.
type HealthHandler struct {
	startedAt time.Time
	store     Pinger
}

func NewHealthHandler(startedAt time.Time, store Pinger) *HealthHandler {
	return &HealthHandler{startedAt: startedAt, store: store}
}

func (h *HealthHandler) Routes(r chi.Router) {
	r.Get("/health", h.handle)
}

func (h *HealthHandler) handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	respond.JSON(w, code, status, map[string]string{
		"status": status,
		"uptime": time.Since(h.startedAt).Truncate(time.Second).String(),
	})
}
