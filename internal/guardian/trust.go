package guardian

import (
	"sync"
	"time"
)

// TrustConfig governs promotion thresholds (§4.4 "Promotion/demotion").
type TrustConfig struct {
	MinActionsToPromote int
	MaxErrorRate         float64
	MinTimeAtLevel       time.Duration
}

// DefaultTrustConfig returns conservative promotion defaults.
func DefaultTrustConfig() TrustConfig {
	return TrustConfig{
		MinActionsToPromote: 20,
		MaxErrorRate:        0.1,
		MinTimeAtLevel:      10 * time.Minute,
	}
}

// TrustTracker maintains the current TrustLevel and the counters that gate
// promotion, per-agent. Promotion itself is only ever proposed here; an
// external controller confirms it (§4.4).
type TrustTracker struct {
	mu            sync.Mutex
	cfg           TrustConfig
	level         TrustLevel
	enteredAt     time.Time
	consecutiveOK int
	actionCount   int
	errorCount    int
}

// NewTrustTracker starts tracking at the given initial level.
func NewTrustTracker(initial TrustLevel, cfg TrustConfig) *TrustTracker {
	if cfg.MinActionsToPromote <= 0 {
		cfg = DefaultTrustConfig()
	}
	return &TrustTracker{cfg: cfg, level: initial, enteredAt: time.Now()}
}

// Level returns the current trust level.
func (t *TrustTracker) Level() TrustLevel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

// RecordOutcome updates promotion counters and applies the §4.4 demotion
// rule: any Destructive failure drops one level immediately.
func (t *TrustTracker) RecordOutcome(risk RiskLevel, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.actionCount++
	if success {
		t.consecutiveOK++
	} else {
		t.consecutiveOK = 0
		t.errorCount++
		if risk == RiskDestructive {
			t.demoteLocked()
		}
	}
}

// OnCircuitOpen applies the §4.4 demotion rule for a circuit-breaker Open
// transition.
func (t *TrustTracker) OnCircuitOpen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.demoteLocked()
}

func (t *TrustTracker) demoteLocked() {
	if t.level > TrustShadow {
		t.level--
		t.enteredAt = time.Now()
		t.consecutiveOK = 0
	}
}

// PromotionReady reports whether the tracker has met the bar for a
// promotion proposal at the current level.
func (t *TrustTracker) PromotionReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.level >= TrustSelectiveAutonomy {
		return false
	}
	if t.consecutiveOK < t.cfg.MinActionsToPromote {
		return false
	}
	if time.Since(t.enteredAt) < t.cfg.MinTimeAtLevel {
		return false
	}
	errRate := 0.0
	if t.actionCount > 0 {
		errRate = float64(t.errorCount) / float64(t.actionCount)
	}
	return errRate <= t.cfg.MaxErrorRate
}

// Promote advances one level after an external controller confirms the
// proposal surfaced via PromotionReady.
func (t *TrustTracker) Promote() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.level < TrustSelectiveAutonomy {
		t.level++
		t.enteredAt = time.Now()
		t.consecutiveOK = 0
		t.actionCount = 0
		t.errorCount = 0
	}
}
