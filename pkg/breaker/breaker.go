// Package breaker implements the proxy-side Circuit Breaker Engine: one
// independent breaker per backend, with generation-fenced state transitions,
// a concurrency cap, and an optional fallback.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/penguintechinc/marchproxy-control/internal/kinderr"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures a single breaker. Zero values fall back to the defaults
// named in comments.
type Config struct {
	// ConsecutiveFailures is the failure count in CLOSED that trips to OPEN.
	// Default 5.
	ConsecutiveFailures int
	// SleepWindow is how long OPEN lasts before probing in HALF_OPEN. Default 5s.
	SleepWindow time.Duration
	// HalfOpenMaxRequests caps concurrent probes in HALF_OPEN. Default 1.
	HalfOpenMaxRequests int
	// MaxConcurrentRequests caps total in-flight calls regardless of state.
	// Default 100.
	MaxConcurrentRequests int
	// Timeout bounds execute_with_ctx calls. Default 60s.
	Timeout time.Duration
	// ResponseWindow bounds how long a latency sample counts toward the
	// moving average. Default 5 minutes.
	ResponseWindow time.Duration
	// Fallback, if set, runs in place of returning a rejection error.
	Fallback func(rejection error) (any, error)
}

func (c Config) withDefaults() Config {
	if c.ConsecutiveFailures <= 0 {
		c.ConsecutiveFailures = 5
	}
	if c.SleepWindow <= 0 {
		c.SleepWindow = 5 * time.Second
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 1
	}
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.ResponseWindow <= 0 {
		c.ResponseWindow = 5 * time.Minute
	}
	return c
}

// sample is one latency observation in the ring buffer.
type sample struct {
	at time.Duration // time.Since(epoch) when recorded
	ms float64
}

// Breaker guards calls to a single backend.
type Breaker struct {
	name   string
	cfg    Config
	epoch  time.Time

	mu             sync.Mutex
	state          State
	generation     uint64
	consecFails    int
	halfOpenInFlt  int
	openedAt       time.Time
	lastStateChange time.Time
	ring           []sample
	ringPos        int

	inFlight atomic.Int64

	requestsTotal  prometheus.Counter
	successesTotal prometheus.Counter
	failuresTotal  prometheus.Counter
	timeoutsTotal  prometheus.Counter
	fallbacksTotal prometheus.Counter
	rejectionsTotal *prometheus.CounterVec
	stateChanges   prometheus.Counter
}

const ringSize = 256

// New creates a Breaker for backend name.
func New(name string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		epoch: time.Now(),
		state: StateClosed,
		ring:  make([]sample, ringSize),

		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marchproxy", Subsystem: "breaker", Name: "requests_total",
			Help: "Total calls guarded by the breaker.", ConstLabels: prometheus.Labels{"backend": name},
		}),
		successesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marchproxy", Subsystem: "breaker", Name: "successes_total",
			Help: "Total successful calls.", ConstLabels: prometheus.Labels{"backend": name},
		}),
		failuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marchproxy", Subsystem: "breaker", Name: "failures_total",
			Help: "Total failed calls.", ConstLabels: prometheus.Labels{"backend": name},
		}),
		timeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marchproxy", Subsystem: "breaker", Name: "timeouts_total",
			Help: "Total calls that hit the breaker timeout.", ConstLabels: prometheus.Labels{"backend": name},
		}),
		fallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marchproxy", Subsystem: "breaker", Name: "fallbacks_total",
			Help: "Total rejections handled by a fallback.", ConstLabels: prometheus.Labels{"backend": name},
		}),
		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marchproxy", Subsystem: "breaker", Name: "rejections_total",
			Help: "Total rejections, by kind.", ConstLabels: prometheus.Labels{"backend": name},
		}, []string{"kind"}),
		stateChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marchproxy", Subsystem: "breaker", Name: "state_changes_total",
			Help: "Total state transitions.", ConstLabels: prometheus.Labels{"backend": name},
		}),
	}
	b.lastStateChange = time.Now()
	return b
}

// Describe implements prometheus.Collector.
func (b *Breaker) Describe(ch chan<- *prometheus.Desc) {
	b.requestsTotal.Describe(ch)
	b.successesTotal.Describe(ch)
	b.failuresTotal.Describe(ch)
	b.timeoutsTotal.Describe(ch)
	b.fallbacksTotal.Describe(ch)
	b.rejectionsTotal.Describe(ch)
	b.stateChanges.Describe(ch)
}

// Collect implements prometheus.Collector.
func (b *Breaker) Collect(ch chan<- prometheus.Metric) {
	b.requestsTotal.Collect(ch)
	b.successesTotal.Collect(ch)
	b.failuresTotal.Collect(ch)
	b.timeoutsTotal.Collect(ch)
	b.fallbacksTotal.Collect(ch)
	b.rejectionsTotal.Collect(ch)
	b.stateChanges.Collect(ch)
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn synchronously, guarded by the breaker.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.run(context.Background(), func(context.Context) (any, error) { return fn() })
}

// ExecuteWithCtx runs fn, guarded by the breaker and cancelled on ctx
// deadline or the breaker's internal timeout, whichever comes first.
func (b *Breaker) ExecuteWithCtx(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	return b.run(ctx, fn)
}

func (b *Breaker) run(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	b.requestsTotal.Inc()

	if b.inFlight.Add(1) > int64(b.cfg.MaxConcurrentRequests) {
		b.inFlight.Add(-1)
		return b.reject(kinderr.TooManyRequests, fmt.Errorf("breaker %q at max concurrency %d", b.name, b.cfg.MaxConcurrentRequests))
	}
	defer b.inFlight.Add(-1)

	gen, rejErr := b.beforeRequest()
	if rejErr != nil {
		return b.reject(kinderr.BreakerOpen, rejErr)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if b.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resultCh := make(chan callResult, 1)
	go func() {
		v, err := fn(callCtx)
		resultCh <- callResult{v, err}
	}()

	select {
	case res := <-resultCh:
		b.recordLatency(time.Since(start))
		b.afterRequest(gen, res.err == nil)
		if res.err != nil {
			b.failuresTotal.Inc()
			return nil, res.err
		}
		b.successesTotal.Inc()
		return res.v, nil
	case <-callCtx.Done():
		b.recordLatency(time.Since(start))
		b.timeoutsTotal.Inc()
		b.afterRequest(gen, false)
		return b.reject(kinderr.Timeout, fmt.Errorf("breaker %q call timed out: %w", b.name, callCtx.Err()))
	}
}

type callResult struct {
	v   any
	err error
}

// beforeRequest queries and advances breaker state on entry. It returns the
// generation observed, to be passed back to afterRequest so a stale outcome
// from a since-superseded generation is discarded.
func (b *Breaker) beforeRequest() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) > b.cfg.SleepWindow {
			b.transition(StateHalfOpen)
			b.halfOpenInFlt = 1
			return b.generation, nil
		}
		return b.generation, fmt.Errorf("breaker %q is open", b.name)
	case StateHalfOpen:
		if b.halfOpenInFlt >= b.cfg.HalfOpenMaxRequests {
			return b.generation, fmt.Errorf("breaker %q: half-open probe limit reached", b.name)
		}
		b.halfOpenInFlt++
		return b.generation, nil
	default: // StateClosed
		return b.generation, nil
	}
}

// afterRequest records a call's outcome against the generation it started
// with. If the breaker has since moved to a new generation, the outcome is
// discarded — it no longer reflects reality.
func (b *Breaker) afterRequest(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if generation != b.generation {
		return
	}

	if success {
		switch b.state {
		case StateHalfOpen:
			b.transition(StateClosed)
			b.consecFails = 0
		case StateClosed:
			b.consecFails = 0
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		b.consecFails++
		if b.consecFails >= b.cfg.ConsecutiveFailures {
			b.transition(StateOpen)
		}
	}
}

// transition moves to newState and bumps the generation fence. Caller must
// hold b.mu.
func (b *Breaker) transition(newState State) {
	if newState == b.state {
		return
	}
	b.state = newState
	b.generation++
	b.lastStateChange = time.Now()
	b.stateChanges.Inc()
	if newState == StateOpen {
		b.openedAt = time.Now()
	}
	if newState != StateHalfOpen {
		b.halfOpenInFlt = 0
	}
}

func (b *Breaker) reject(kind kinderr.Kind, reason error) (any, error) {
	b.rejectionsTotal.WithLabelValues(string(kind)).Inc()
	rejErr := kinderr.Wrap(kind, "request rejected by circuit breaker", reason)

	if b.cfg.Fallback != nil {
		b.fallbacksTotal.Inc()
		return b.cfg.Fallback(rejErr)
	}
	return nil, rejErr
}

func (b *Breaker) recordLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring[b.ringPos] = sample{at: time.Since(b.epoch), ms: float64(d.Microseconds()) / 1000}
	b.ringPos = (b.ringPos + 1) % len(b.ring)
}

// AvgResponseMs returns the mean latency, in milliseconds, over samples
// recorded within the configured response window. Returns 0 if no samples
// are in-window.
func (b *Breaker) AvgResponseMs() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Since(b.epoch) - b.cfg.ResponseWindow
	var sum float64
	var n int
	for _, s := range b.ring {
		if s.at == 0 && s.ms == 0 {
			continue
		}
		if s.at >= cutoff {
			sum += s.ms
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
