package guardian

import (
	"sync"
	"time"
)

// BreakerState is one of the three circuit-breaker states (§4.4).
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerConfig mirrors config.CircuitBreakerConfig without importing
// the config package, keeping guardian dependency-free of the host's
// configuration layer.
type CircuitBreakerConfig struct {
	Window                      time.Duration
	ConsecutiveFailureThreshold int
	FailureRateThreshold        float64
	MinSamples                  int
	HalfOpenAfter               time.Duration
	CountSafetyDenials          bool
	// HalfOpenProbesToClose is how many consecutive successful probes in
	// HalfOpen are required before transitioning back to Closed.
	HalfOpenProbesToClose int
}

// DefaultCircuitBreakerConfig returns the §4.4 defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Window:                      5 * time.Minute,
		ConsecutiveFailureThreshold: 3,
		FailureRateThreshold:        0.5,
		MinSamples:                  4,
		HalfOpenAfter:               30 * time.Second,
		HalfOpenProbesToClose:       2,
	}
}

type outcome struct {
	at      time.Time
	success bool
}

// CircuitBreaker is a time-windowed outcome tracker gating non-read-only
// tool execution (§4.4 step 6, §4.5 step 4c, §5).
type CircuitBreaker struct {
	mu                sync.Mutex
	cfg               CircuitBreakerConfig
	state             BreakerState
	outcomes          []outcome
	consecutiveFails  int
	openedAt          time.Time
	halfOpenSuccesses int
}

// NewCircuitBreaker constructs a closed breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Window <= 0 {
		cfg = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreaker{cfg: cfg, state: BreakerClosed}
}

// State returns the current state, resolving an Open breaker whose cooldown
// has elapsed into HalfOpen as a side effect.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

func (b *CircuitBreaker) maybeHalfOpenLocked() {
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cfg.HalfOpenAfter {
		b.state = BreakerHalfOpen
		b.halfOpenSuccesses = 0
	}
}

// RecordOutcome feeds a tool-dispatch outcome into the breaker's window and
// advances the state machine (§4.4's transition rules).
func (b *CircuitBreaker) RecordOutcome(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()

	now := time.Now()
	b.outcomes = append(b.outcomes, outcome{at: now, success: success})
	b.pruneLocked(now)

	switch b.state {
	case BreakerHalfOpen:
		if success {
			b.halfOpenSuccesses++
			if b.halfOpenSuccesses >= maxInt(b.cfg.HalfOpenProbesToClose, 1) {
				b.state = BreakerClosed
				b.consecutiveFails = 0
			}
		} else {
			b.trip(now)
		}
	default:
		if success {
			b.consecutiveFails = 0
			return
		}
		b.consecutiveFails++
		if b.consecutiveFails >= maxInt(b.cfg.ConsecutiveFailureThreshold, 1) {
			b.trip(now)
			return
		}
		if b.failureRateLocked() >= b.cfg.FailureRateThreshold && len(b.outcomes) >= maxInt(b.cfg.MinSamples, 1) {
			b.trip(now)
		}
	}
}

func (b *CircuitBreaker) trip(at time.Time) {
	b.state = BreakerOpen
	b.openedAt = at
	b.halfOpenSuccesses = 0
}

func (b *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for ; i < len(b.outcomes); i++ {
		if b.outcomes[i].at.After(cutoff) {
			break
		}
	}
	b.outcomes = b.outcomes[i:]
}

func (b *CircuitBreaker) failureRateLocked() float64 {
	if len(b.outcomes) == 0 {
		return 0
	}
	fails := 0
	for _, o := range b.outcomes {
		if !o.success {
			fails++
		}
	}
	return float64(fails) / float64(len(b.outcomes))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
