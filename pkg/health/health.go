// Package health provides liveness and readiness probes for the storefront
// backend and the reachability probe behind offline detection.
//
// A Probe runs its check at a configurable interval and applies
// failure/success thresholds (inspired by Kubernetes probe configuration) to
// avoid flapping: it must fail failureThreshold times in a row before being
// marked unhealthy, and succeed successThreshold times before being marked
// healthy again.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc is a health check function. It should return nil if the checked
// component is healthy, or an error describing the problem.
type CheckFunc func(ctx context.Context) error

// Probe runs a single check and tracks its thresholded verdict.
//
// Concurrency model: Run is called from one goroutine at a time (the Loop
// ticker or a test). The counters are only touched by Run. The healthy flag
// and lastErr are read from arbitrary goroutines and use atomics.
type Probe struct {
	name             string
	timeout          time.Duration
	check            CheckFunc
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	consecutiveFails int
	consecutiveOK    int
}

// ProbeOption configures a Probe.
type ProbeOption func(*Probe)

// WithThresholds overrides the default failure (3) and success (1)
// thresholds. Non-positive values keep the default.
func WithThresholds(failures, successes int) ProbeOption {
	return func(p *Probe) {
		if failures > 0 {
			p.failureThreshold = failures
		}
		if successes > 0 {
			p.successThreshold = successes
		}
	}
}

// NewProbe creates a Probe that starts out healthy.
func NewProbe(name string, timeout time.Duration, check CheckFunc, opts ...ProbeOption) *Probe {
	p := &Probe{
		name:             name,
		timeout:          timeout,
		check:            check,
		failureThreshold: 3,
		successThreshold: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.healthy.Store(true)
	return p
}

// Name returns the probe name.
func (p *Probe) Name() string { return p.name }

// Healthy returns the current thresholded verdict.
func (p *Probe) Healthy() bool { return p.healthy.Load() }

// LastError returns the most recent check error, or nil.
func (p *Probe) LastError() error {
	if e := p.lastErr.Load(); e != nil {
		return *e
	}
	return nil
}

// Run executes the check once and reports whether the verdict changed.
func (p *Probe) Run(ctx context.Context) (changed bool) {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(checkCtx)
	p.lastErr.Store(&err)

	was := p.healthy.Load()
	if err != nil {
		p.consecutiveOK = 0
		p.consecutiveFails++
		if p.consecutiveFails >= p.failureThreshold {
			p.healthy.Store(false)
		}
	} else {
		p.consecutiveFails = 0
		p.consecutiveOK++
		if p.consecutiveOK >= p.successThreshold {
			p.healthy.Store(true)
		}
	}
	return was != p.healthy.Load()
}

// Loop runs the check immediately and then every interval until ctx is
// done. onChange, if not nil, is called whenever the verdict flips.
func (p *Probe) Loop(ctx context.Context, interval time.Duration, onChange func(healthy bool, err error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if p.Run(ctx) && onChange != nil {
			onChange(p.Healthy(), p.LastError())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Health manages liveness, readiness and informational probes.
// Informational probes are reported on /readyz without affecting readiness.
type Health struct {
	ready atomic.Bool

	// mu protects the probe slices and cancel. HTTP handlers snapshot the
	// slices under RLock and release immediately.
	mu        sync.RWMutex
	liveness  []*Probe
	readiness []*Probe
	info      []*Probe
	cancel    context.CancelFunc
}

// New creates a new Health instance. The service starts in a not-ready state;
// call SetReady(true) once initialization has finished.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a liveness check, e.g. goroutine count.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) *Probe {
	p := NewProbe(name, timeout, check)
	h.mu.Lock()
	h.liveness = append(h.liveness, p)
	h.mu.Unlock()
	return p
}

// AddReadinessCheck registers a readiness check, e.g. cache connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) *Probe {
	p := NewProbe(name, timeout, check)
	h.mu.Lock()
	h.readiness = append(h.readiness, p)
	h.mu.Unlock()
	return p
}

// AddInfoProbe registers a probe that is driven elsewhere (it is not run by
// Start) and only reported on /readyz.
func (h *Health) AddInfoProbe(p *Probe) {
	h.mu.Lock()
	h.info = append(h.info, p)
	h.mu.Unlock()
}

// Start runs every liveness and readiness probe in its own goroutine at the
// given interval. Start is expected to be called once after registration.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*Probe, 0, len(h.liveness)+len(h.readiness))
	probes = append(probes, h.liveness...)
	probes = append(probes, h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go p.Loop(ctx, interval, nil)
	}
}

// SetReady sets the manual readiness flag.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// probe is healthy.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}

	h.mu.RLock()
	probes := h.readiness
	h.mu.RUnlock()

	for _, p := range probes {
		if !p.Healthy() {
			return false
		}
	}
	return true
}

// Stop cancels all probe goroutines. It is safe to call Stop multiple times.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// LiveEndpoint serves /livez: 200 {"status":"ok"} when every liveness probe
// passes, otherwise 503 with the failing checks.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	probes := append([]*Probe(nil), h.liveness...)
	h.mu.RUnlock()

	writeResponse(w, collectFailures(probes), nil)
}

// ReadyEndpoint serves /readyz: 200 when marked ready and every readiness
// probe passes, otherwise 503. Informational probes are listed under "info".
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	ready := h.ready.Load()

	h.mu.RLock()
	probes := append([]*Probe(nil), h.readiness...)
	info := append([]*Probe(nil), h.info...)
	h.mu.RUnlock()

	failures := collectFailures(probes)
	if !ready {
		failures["_readiness"] = "service is not ready"
	}
	writeResponse(w, failures, collectInfo(info))
}

// collectFailures maps unhealthy probe names to their last error, using the
// stored verdict rather than re-running the check.
func collectFailures(probes []*Probe) map[string]string {
	failures := make(map[string]string)
	for _, p := range probes {
		if !p.Healthy() {
			failures[p.name] = describe(p)
		}
	}
	return failures
}

func collectInfo(probes []*Probe) map[string]string {
	info := make(map[string]string, len(probes))
	for _, p := range probes {
		if p.Healthy() {
			info[p.name] = "ok"
		} else {
			info[p.name] = describe(p)
		}
	}
	return info
}

func describe(p *Probe) string {
	if err := p.LastError(); err != nil {
		return err.Error()
	}
	return "check is unhealthy"
}

// writeResponse writes {"status":...,"checks":{...},"info":{...}}.
func writeResponse(w http.ResponseWriter, failures, info map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	status := http.StatusOK
	state := "ok"
	if len(failures) > 0 {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(state) })
		if len(failures) > 0 {
			e.Field("checks", func(e *jx.Encoder) { encodeMap(e, failures) })
		}
		if len(info) > 0 {
			e.Field("info", func(e *jx.Encoder) { encodeMap(e, info) })
		}
	})

	w.WriteHeader(status)
	// The status code is already written; a failed write means the client
	// went away.
	_, _ = w.Write(e.Bytes())
}

func encodeMap(e *jx.Encoder, m map[string]string) {
	e.Obj(func(e *jx.Encoder) {
		for k, v := range m {
			e.Field(k, func(e *jx.Encoder) { e.Str(v) })
		}
	})
}
