package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks a backing service's connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DirtyCounter reports the number of live positions whose in-memory state is
// ahead of the store.
type DirtyCounter interface {
	DirtyCount() int
}

// HealthHandler serves the health-check endpoint. The status degrades when a
// backing service is unreachable or positions cannot be persisted.
type HealthHandler struct {
	db     Pinger
	cache  Pinger
	dirty  DirtyCounter
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. Any dependency may be nil when
// the mode does not wire it.
func NewHealthHandler(db, cache Pinger, dirty DirtyCounter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, dirty: dirty, logger: logger}
}

// HealthCheck reports overall and per-dependency status.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	checks := map[string]string{}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["postgres"] = err.Error()
			status = "degraded"
		} else {
			checks["postgres"] = "ok"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			status = "degraded"
		} else {
			checks["redis"] = "ok"
		}
	}

	dirty := 0
	if h.dirty != nil {
		dirty = h.dirty.DirtyCount()
		if dirty > 0 {
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":          status,
		"checks":          checks,
		"dirty_positions": dirty,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}
