// Package health reports whether a long-running project session (watch mode)
// is usable, over HTTP.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/stm32pio/internal/stage"
)

// Status is the outcome of one check.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Result is what a check reports.
type Result struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// CheckFunc inspects one part of the session.
type CheckFunc func(ctx context.Context) Result

// Checker runs named checks.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
	logger  zerolog.Logger
}

// NewChecker creates a checker with no checks.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks:  make(map[string]CheckFunc),
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// Register adds or replaces the check called name.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Names lists the registered checks in sorted order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for n := range c.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RunAll executes every check concurrently.
func (c *Checker) RunAll(ctx context.Context) map[string]Result {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]Result, len(checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, fn := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			r := fn(checkCtx)
			if r.Status != StatusOK {
				c.logger.Debug().Str("check", name).Str("status", string(r.Status)).Str("detail", r.Detail).Msg("check not ok")
			}
			mu.Lock()
			results[name] = r
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// Ready reports whether no check is down. Degraded checks still count as
// ready.
func Ready(results map[string]Result) bool {
	for _, r := range results {
		if r.Status == StatusDown {
			return false
		}
	}
	return true
}

// LivenessHandler answers 200 while the process serves requests.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadinessHandler answers 200 when Ready, 503 otherwise, with every check
// result in the body.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.RunAll(r.Context())
		status, code := "ready", http.StatusOK
		if !Ready(results) {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"status": status, "checks": results})
	}
}

// StageCheck reports a project whose stage cannot be determined as down and
// one with a recorded last error as degraded.
func StageCheck(load func() stage.Vector, lastError func() string) CheckFunc {
	return func(context.Context) Result {
		v := load()
		switch cur := v.Current(); cur {
		case stage.Undefined, stage.InitError:
			detail := cur.Description()
			if err := v.Err(); err != nil {
				detail = err.Error()
			}
			return Result{Status: StatusDown, Detail: detail}
		}
		if msg := lastError(); msg != "" {
			return Result{Status: StatusDegraded, Detail: msg}
		}
		return Result{Status: StatusOK, Detail: v.Current().String()}
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
