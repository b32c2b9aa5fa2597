// Package health serves the liveness and readiness probes of the voxbridge
// host API.
//
//   - /healthz reports 200 while the process can serve HTTP.
//   - /readyz reports 200 only when every registered [Checker] passes.
//
// Both respond with a JSON object {"status": "ok"|"fail", "checks": {...}}.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/pkg/bridge"
)

// checkTimeout bounds every readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that runs checkers concurrently on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker with a [checkTimeout] deadline and reports 503
// when any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		failed bool
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res, status := result{Status: "ok", Checks: checks}, http.StatusOK
	if failed {
		res.Status, status = "fail", http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// ModelChecker reports whether model still answers capability queries.
func ModelChecker(model *bridge.Model) Checker {
	return Checker{
		Name: "model",
		Check: func(context.Context) error {
			if model == nil {
				return fmt.Errorf("no model loaded")
			}
			_, err := model.OptimalSampleRate()
			return err
		},
	}
}

// CapacityChecker fails while the number of active sessions reported by
// active has reached limit. A limit of zero or less disables the check.
func CapacityChecker(active func() int, limit int) Checker {
	return Checker{
		Name: "sessions",
		Check: func(context.Context) error {
			if n := active(); limit > 0 && n >= limit {
				return fmt.Errorf("%d of %d sessions in use", n, limit)
			}
			return nil
		},
	}
}

// BreakerChecker fails while b refuses calls.
func BreakerChecker(name string, b *resilience.Breaker) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if st := b.State(); st == resilience.StateOpen {
				return fmt.Errorf("circuit %s", st)
			}
			return nil
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
