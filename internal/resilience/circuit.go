package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	// Closed passes every call to the carrier and counts outcomes.
	Closed State = iota
	// Open refuses calls until the cool-off period expires.
	Open
	// HalfOpen lets a single trial call through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func (s State) gauge() float64 {
	switch s {
	case Closed, Open, HalfOpen:
		return float64(s)
	default:
		return -1
	}
}

// window counts outcomes observed while closed.
type window struct {
	calls    int
	failures int
}

func (w window) ratio() float64 {
	if w.calls == 0 {
		return 0
	}
	return float64(w.failures) / float64(w.calls)
}

// halve keeps the recent ratio while bounding the counters.
func (w *window) halve() {
	w.calls = (w.calls + 1) / 2
	w.failures = (w.failures + 1) / 2
}

// Breaker guards calls to a single carrier with a failure-ratio circuit.
type Breaker struct {
	mu           sync.Mutex
	state        State
	counts       window
	minRequests  int
	failureRatio float64
	openFor      time.Duration
	openedAt     time.Time
	trialActive  bool
	carrier      string
	logger       zerolog.Logger
}

// NewBreaker constructs a breaker that opens once at least minRequests outcomes
// were observed and the failure share reaches failureRatio.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	if failureRatio > 1 {
		failureRatio = 1
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		minRequests:  minRequests,
		failureRatio: failureRatio,
		openFor:      openFor,
		logger:       zerolog.Nop(),
	}
}

// WithTarget names the carrier the breaker guards; the name labels metrics and logs.
func (b *Breaker) WithTarget(carrier string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.carrier = strings.TrimSpace(carrier)
	breakerStateGauge(b.label(), b.state)
	return b
}

// WithLogger configures the logger used for transition events.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// Allow reports whether a call may proceed. After the cool-off an open breaker
// admits one trial call; further calls are refused until that trial reports.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) < b.openFor {
			break
		}
		b.transitionLocked(ctx, HalfOpen)
		b.trialActive = true
		return true
	case HalfOpen:
		if !b.trialActive {
			b.trialActive = true
			return true
		}
	}
	if BreakerRejectedTotal != nil {
		BreakerRejectedTotal.WithLabelValues(b.label()).Inc()
	}
	return false
}

// Report records the outcome of an allowed call.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.trialActive = false
		if success {
			b.transitionLocked(ctx, Closed)
		} else {
			b.transitionLocked(ctx, Open)
		}
		return
	}

	b.counts.calls++
	if !success {
		b.counts.failures++
	}
	if b.counts.calls < b.minRequests {
		return
	}
	if b.counts.ratio() >= b.failureRatio {
		b.transitionLocked(ctx, Open)
		return
	}
	if b.counts.calls > 2*b.minRequests {
		b.counts.halve()
	}
}

// Release gives up an allowed call without recording an outcome, freeing the
// half-open trial slot when the caller abandoned the call.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.trialActive = false
	}
}

// State returns the current breaker state without transitioning it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transitionLocked(ctx context.Context, next State) {
	prev, seen := b.state, b.counts
	b.state = next
	b.counts = window{}
	switch next {
	case Open:
		b.openedAt = time.Now()
	case Closed:
		b.openedAt = time.Time{}
	}

	carrier := b.label()
	breakerStateGauge(carrier, next)
	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(carrier, prev.String(), next.String()).Inc()
	}
	if next == Open && BreakerOpenedTotal != nil {
		BreakerOpenedTotal.WithLabelValues(carrier).Inc()
	}

	logger := b.loggerFor(ctx)
	evt := logger.Info()
	if next == Open {
		evt = logger.Warn().Int("calls", seen.calls).Int("failures", seen.failures).Dur("open_for", b.openFor)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Str("carrier", carrier).
		Str("from_state", prev.String()).
		Str("to_state", next.String()).
		Msg("carrier breaker " + next.String())
}

func (b *Breaker) label() string {
	if b.carrier == "" {
		return "default"
	}
	return b.carrier
}

// loggerFor prefers the request logger when one is attached to ctx.
func (b *Breaker) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &b.logger
}

func breakerStateGauge(carrier string, state State) {
	if BreakerState != nil {
		BreakerState.WithLabelValues(carrier).Set(state.gauge())
	}
}
