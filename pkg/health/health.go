// Package health backs the store API's /livez and /readyz endpoints.
//
// All checks are evaluated together by one supervisor goroutine on a
// fixed cadence. A check only flips to failing after three consecutive
// errors and recovers on the first success, so a transient Postgres
// hiccup does not bounce the pod.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Check reports nil when the watched component is fine.
type Check func(ctx context.Context) error

// failureTolerance is how many consecutive errors a check absorbs
// before it is reported as failing.
const failureTolerance = 3

type kind int

const (
	kindLive kind = iota
	kindReady
)

// entry is one registered check. The fails counter is touched only by
// the supervisor goroutine; failing and lastErr are also read by the
// HTTP handlers, hence the atomics.
type entry struct {
	name    string
	kind    kind
	timeout time.Duration
	fn      Check

	fails   int
	failing atomic.Bool
	lastErr atomic.Pointer[string]
}

func (e *entry) eval(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.fn(ctx); err != nil {
		msg := err.Error()
		e.lastErr.Store(&msg)
		e.fails++
		if e.fails >= failureTolerance {
			e.failing.Store(true)
		}
		return
	}
	e.fails = 0
	e.failing.Store(false)
	e.lastErr.Store(nil)
}

// Registry holds the service's health checks and its manual readiness
// flag. The zero readiness state is "not ready"; call SetReady(true)
// once startup finishes and SetReady(false) when draining.
type Registry struct {
	ready atomic.Bool

	mu      sync.Mutex
	entries []*entry
	stop    context.CancelFunc
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Liveness registers a check that gates /livez.
func (r *Registry) Liveness(name string, timeout time.Duration, fn Check) {
	r.add(name, kindLive, timeout, fn)
}

// Readiness registers a check that gates /readyz.
func (r *Registry) Readiness(name string, timeout time.Duration, fn Check) {
	r.add(name, kindReady, timeout, fn)
}

func (r *Registry) add(name string, k kind, timeout time.Duration, fn Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &entry{name: name, kind: k, timeout: timeout, fn: fn})
}

// Run evaluates every registered check now and then again on each tick
// until the context is cancelled or Close is called. Register all
// checks before calling Run.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.stop = cancel
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			r.evalOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// evalOnce runs every check a single time. Called only from the
// supervisor goroutine (and tests).
func (r *Registry) evalOnce(ctx context.Context) {
	r.mu.Lock()
	entries := r.entries
	r.mu.Unlock()
	for _, e := range entries {
		e.eval(ctx)
	}
}

// Close stops the supervisor goroutine. Safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		r.stop()
		r.stop = nil
	}
}

// SetReady flips the manual readiness flag.
func (r *Registry) SetReady(ready bool) {
	r.ready.Store(ready)
}

// Ready reports whether the service should receive traffic: manually
// marked ready and no readiness check failing.
func (r *Registry) Ready() bool {
	if !r.ready.Load() {
		return false
	}
	for _, e := range r.snapshot(kindReady) {
		if e.failing.Load() {
			return false
		}
	}
	return true
}

func (r *Registry) snapshot(k kind) []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.kind == k {
			out = append(out, e)
		}
	}
	return out
}

type statusBody struct {
	Status  string            `json:"status"`
	Failing map[string]string `json:"failing,omitempty"`
}

// LiveHandler serves /livez: 200 while every liveness check holds, 503
// with the failing checks otherwise.
func (r *Registry) LiveHandler(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, failures(r.snapshot(kindLive)))
}

// ReadyHandler serves /readyz: 200 only when the service is marked
// ready and every readiness check holds.
func (r *Registry) ReadyHandler(w http.ResponseWriter, _ *http.Request) {
	failing := failures(r.snapshot(kindReady))
	if !r.ready.Load() {
		failing["service"] = "not accepting traffic"
	}
	writeStatus(w, failing)
}

func failures(entries []*entry) map[string]string {
	failing := make(map[string]string)
	for _, e := range entries {
		if !e.failing.Load() {
			continue
		}
		if msg := e.lastErr.Load(); msg != nil {
			failing[e.name] = *msg
		} else {
			failing[e.name] = "failing"
		}
	}
	return failing
}

func writeStatus(w http.ResponseWriter, failing map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	body := statusBody{Status: "ok"}
	code := http.StatusOK
	if len(failing) > 0 {
		body = statusBody{Status: "failing", Failing: failing}
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
