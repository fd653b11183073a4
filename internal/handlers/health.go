package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/httpx"
)

const defaultReadinessTimeout = 3 * time.Second

// Checker reports whether a dependency is reachable.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// Ping implements Checker.
func (f CheckerFunc) Ping(ctx context.Context) error { return f(ctx) }

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build   BuildInfo
	checks  map[string]Checker
	clock   func() time.Time
	timeout time.Duration
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata reported by both probes.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthCheck registers a named dependency probed by /readyz.
func WithHealthCheck(name string, check Checker) HealthOption {
	return func(h *HealthHandlers) {
		if name != "" && check != nil {
			h.checks[name] = check
		}
	}
}

// WithHealthClock overrides the time source.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithReadinessTimeout bounds each dependency check.
func WithReadinessTimeout(d time.Duration) HealthOption {
	return func(h *HealthHandlers) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		checks:  make(map[string]Checker),
		clock:   time.Now,
		timeout: defaultReadinessTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.basePayload("ok"))
}

// Readyz pings every registered dependency and returns 503 when any fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	results := make(map[string]any, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		started := h.clock()
		err := h.checks[name].Ping(ctx)
		cancel()

		entry := map[string]any{
			"status":  "ok",
			"latency": h.clock().Sub(started).String(),
		}
		if err != nil {
			status = "error"
			entry["status"] = "error"
			entry["error"] = err.Error()
		}
		results[name] = entry
	}

	payload := h.basePayload(status)
	payload["checks"] = results
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, code, payload)
}

func (h *HealthHandlers) basePayload(status string) map[string]any {
	now := h.clock().UTC()
	payload := map[string]any{
		"status":    status,
		"uptime":    now.Sub(h.build.StartedAt).Round(time.Second).String(),
		"timestamp": now.Format(time.RFC3339),
	}
	if h.build.Version != "" {
		payload["version"] = h.build.Version
	}
	if h.build.CommitSHA != "" {
		payload["commitSha"] = h.build.CommitSHA
	}
	if h.build.Environment != "" {
		payload["environment"] = h.build.Environment
	}
	return payload
}
