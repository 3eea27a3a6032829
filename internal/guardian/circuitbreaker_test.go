package guardian

import (
	"testing"
	"time"
)

func TestCircuitBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Window:                      time.Minute,
		ConsecutiveFailureThreshold: 3,
		FailureRateThreshold:        1, // disable rate-based tripping for this test
		MinSamples:                  1000,
		HalfOpenAfter:               time.Hour,
		HalfOpenProbesToClose:       1,
	})

	cb.RecordOutcome(false)
	cb.RecordOutcome(false)
	if cb.State() != BreakerClosed {
		t.Fatal("breaker should remain closed before the threshold is reached")
	}
	cb.RecordOutcome(false)
	if cb.State() != BreakerOpen {
		t.Fatal("breaker should trip open after 3 consecutive failures")
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Window:                      time.Minute,
		ConsecutiveFailureThreshold: 3,
		FailureRateThreshold:        1,
		MinSamples:                  1000,
		HalfOpenAfter:               time.Hour,
		HalfOpenProbesToClose:       1,
	})

	cb.RecordOutcome(false)
	cb.RecordOutcome(false)
	cb.RecordOutcome(true)
	cb.RecordOutcome(false)
	cb.RecordOutcome(false)
	if cb.State() != BreakerClosed {
		t.Fatal("an intervening success should reset the consecutive-failure counter")
	}
}

func TestCircuitBreaker_TripsOnFailureRate(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Window:                      time.Minute,
		ConsecutiveFailureThreshold: 1000,
		FailureRateThreshold:        0.5,
		MinSamples:                  4,
		HalfOpenAfter:               time.Hour,
		HalfOpenProbesToClose:       1,
	})

	cb.RecordOutcome(true)
	cb.RecordOutcome(false)
	cb.RecordOutcome(true)
	if cb.State() != BreakerClosed {
		t.Fatal("should remain closed before MinSamples is reached")
	}
	cb.RecordOutcome(false)
	if cb.State() != BreakerOpen {
		t.Fatal("50% failure rate over >= MinSamples should trip the breaker")
	}
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Window:                      time.Minute,
		ConsecutiveFailureThreshold: 1,
		FailureRateThreshold:        1,
		MinSamples:                  1000,
		HalfOpenAfter:               time.Millisecond,
		HalfOpenProbesToClose:       2,
	})

	cb.RecordOutcome(false)
	if cb.State() != BreakerOpen {
		t.Fatal("expected breaker to trip on first failure given threshold 1")
	}
	time.Sleep(5 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatal("expected breaker to move to half-open after cooldown elapses")
	}
}

func TestCircuitBreaker_HalfOpenClosesAfterEnoughProbeSuccesses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Window:                      time.Minute,
		ConsecutiveFailureThreshold: 1,
		FailureRateThreshold:        1,
		MinSamples:                  1000,
		HalfOpenAfter:               time.Millisecond,
		HalfOpenProbesToClose:       2,
	})

	cb.RecordOutcome(false)
	time.Sleep(5 * time.Millisecond)
	cb.State() // trigger the open->half_open transition

	cb.RecordOutcome(true)
	if cb.State() != BreakerHalfOpen {
		t.Fatal("one successful probe should not yet close a breaker requiring two")
	}
	cb.RecordOutcome(true)
	if cb.State() != BreakerClosed {
		t.Fatal("breaker should close after enough consecutive successful probes")
	}
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Window:                      time.Minute,
		ConsecutiveFailureThreshold: 1,
		FailureRateThreshold:        1,
		MinSamples:                  1000,
		HalfOpenAfter:               time.Millisecond,
		HalfOpenProbesToClose:       2,
	})

	cb.RecordOutcome(false)
	time.Sleep(5 * time.Millisecond)
	cb.State()

	cb.RecordOutcome(false)
	if cb.State() != BreakerOpen {
		t.Fatal("a failed probe during half-open must reopen the breaker")
	}
}

func TestCircuitBreaker_OutcomesOutsideWindowAreIgnored(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Window:                      5 * time.Millisecond,
		ConsecutiveFailureThreshold: 1000,
		FailureRateThreshold:        0.1,
		MinSamples:                  2,
		HalfOpenAfter:               time.Hour,
		HalfOpenProbesToClose:       1,
	})

	cb.RecordOutcome(false)
	time.Sleep(10 * time.Millisecond)
	cb.RecordOutcome(true)
	if cb.State() != BreakerClosed {
		t.Fatal("a failure that has aged out of the window must not count toward the failure rate")
	}
}
