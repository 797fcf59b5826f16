package controller

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// ReadinessResponse lists each dependency as "ok" or "unavailable".
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type HealthController struct {
	deps map[string]Pinger
}

// NewHealthController probes Postgres, which holds billing state, and Redis,
// which backs locks, idempotency and rate limits. Webhooks cannot be
// accepted safely without either.
func NewHealthController(db, redis Pinger) *HealthController {
	return &HealthController{deps: map[string]Pinger{
		"database": db,
		"redis":    redis,
	}}
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.deps))
		g      errgroup.Group
	)
	for name, dep := range h.deps {
		g.Go(func() error {
			state := "ok"
			if dep == nil || dep.Ping(ctx) != nil {
				state = "unavailable"
			}
			mu.Lock()
			checks[name] = state
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	resp := ReadinessResponse{Status: "ready", Checks: checks}
	for _, state := range checks {
		if state != "ok" {
			resp.Status = "not ready"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
