// Package health serves the bot's liveness and readiness probes.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz answers 200 only when every [Checker] passes, and 503
//     otherwise. The body also carries informational values such as the
//     number of live voice sessions.
//
// Both endpoints respond with JSON:
//
//	{"status":"ok","checks":{"discord":"ok"},"info":{"sessions":2}}
package health

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Checker is one named readiness check. Check returns nil when healthy and
// must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Info   map[string]any    `json:"info,omitempty"`
}

// Handler serves /healthz and /readyz.
type Handler struct {
	checkers []Checker

	mu   sync.RWMutex
	info map[string]func() any
}

// New creates a Handler that runs checkers on every readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: slices.Clone(checkers),
		info:     make(map[string]func() any),
	}
}

// Report adds value to the readiness body under key. value is evaluated on
// every request and does not affect the status.
func (h *Handler) Report(key string, value func() any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.info[key] = value
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz runs all checkers concurrently.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
		})
	}
	wg.Wait()

	res := response{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}

	h.mu.RLock()
	if len(h.info) > 0 {
		res.Info = make(map[string]any, len(h.info))
		for _, k := range slices.Sorted(maps.Keys(h.info)) {
			res.Info[k] = h.info[k]()
		}
	}
	h.mu.RUnlock()

	writeJSON(w, code, res)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
