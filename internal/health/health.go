// Package health serves the liveness and readiness probes for the voxprep
// server.
//
//   - /healthz — liveness; a process that can answer HTTP is alive, so this
//     always returns 200.
//   - /readyz  — readiness; 200 only while every registered [Checker] passes.
//     The server registers a database ping and a text-generation breaker
//     check here, so an orchestrator stops routing new sessions to an
//     instance whose dependencies are down.
//
// Both endpoints answer with a JSON body carrying a top-level "status" of
// "ok" or "fail" and, for readiness, a per-checker "checks" map.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout caps a single readiness check. A probe that cannot answer in
// this window counts as failed.
const checkTimeout = 5 * time.Second

// Checker is one named readiness probe. Check returns nil while the
// dependency can serve new sessions and an error describing the failure
// otherwise.
type Checker struct {
	// Name keys the check's result in the JSON response (e.g. "database",
	// "textgen").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for both endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler evaluates the probes. Safe for concurrent use; the checker list is
// fixed at construction.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler]. Checkers run sequentially, in the order given, on
// every /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz answers the liveness probe with 200 unconditionally.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz answers the readiness probe: 200 when every checker passes, 503
// with the failing checks named otherwise. Each checker gets its own
// [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	ready := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ready = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON marshals v before touching the response so an encoding failure
// can still produce a clean 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}
