package guardian

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// approvalMatrix implements §4.4 step 7's mode-by-risk table. Auto means the
// Guardian approves without prompting; Prompt means it returns Pending for
// the host to resolve via a user-prompt channel.
var approvalMatrix = map[ApprovalMode][4]bool{ // index = RiskLevel
	ModeSafe:     {true, false, false, false},
	ModeCautious: {true, true, false, false},
	ModeParanoid: {false, false, false, false},
	ModeYolo:     {true, true, true, true},
}

// Config bundles everything the Guardian needs to run its pipeline,
// independent of the host configuration package's YAML shape.
type Config struct {
	Mode            ApprovalMode
	DenyList        DenyList
	PolicyRules     []PolicyRule
	Circuit         CircuitBreakerConfig
	Trust           TrustConfig
	InitialTrust    TrustLevel
	// ErrorEscalationThreshold raises one risk level after this many
	// consecutive tool-dispatch errors (§4.4 step 4).
	ErrorEscalationThreshold int
	// QuietWindow raises one risk level when no tool has been dispatched for
	// at least this long (§4.4 step 4, "during a configured quiet window").
	QuietWindow time.Duration
}

// ToolRiskLookup resolves a tool's static declared risk_level (§4.3); the
// Guardian consults it during Classify for tools outside the explicit
// action-type mapping.
type ToolRiskLookup func(toolName string) (RiskLevel, bool)

// Guardian is the single point where ToolCall approval/denial is decided
// (§4.4). One Guardian instance serves one agent instance.
type Guardian struct {
	mu sync.Mutex

	cfg     Config
	breaker *CircuitBreaker
	trust   *TrustTracker
	tracker *concurrencyTracker
	riskOf  ToolRiskLookup

	consecutiveErrors int
	lastDispatch      time.Time
}

// New constructs a Guardian from Config. riskOf may be nil, in which case
// unknown tools classify at RiskWrite as a conservative default.
func New(cfg Config, riskOf ToolRiskLookup) *Guardian {
	if cfg.Mode == "" {
		cfg.Mode = ModeCautious
	}
	return &Guardian{
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.Circuit),
		trust:   NewTrustTracker(cfg.InitialTrust, cfg.Trust),
		tracker: newConcurrencyTracker(),
		riskOf:  riskOf,
	}
}

// Breaker exposes the circuit breaker for inspection (e.g. by a host status
// endpoint) and for RecordOutcome feedback from the Agent Loop.
func (g *Guardian) Breaker() *CircuitBreaker { return g.breaker }

// Trust exposes the trust tracker for inspection and promotion control.
func (g *Guardian) Trust() *TrustTracker { return g.trust }

// Evaluate runs the full §4.4 pipeline for a proposed tool call and returns
// the Decision plus its ApprovalContext.
func (g *Guardian) Evaluate(toolName string, arguments json.RawMessage) (Decision, ApprovalContext) {
	g.mu.Lock()
	defer g.mu.Unlock()

	declared := RiskWrite
	if g.riskOf != nil {
		if r, ok := g.riskOf(toolName); ok {
			declared = r
		}
	}

	action := Classify(toolName, arguments, declared)

	// Step 2: deny-list.
	if denied, reason := g.cfg.DenyList.Check(action); denied {
		return DecisionDenied, g.context(action, reason, false)
	}

	// Step 3: prompt-injection scan.
	if suspicious, _ := ScanForInjection(arguments); suspicious {
		return DecisionDenied, g.context(action, "arguments matched a prompt-injection pattern", false)
	}

	// Step 4: dynamic risk escalation.
	effectiveRisk := action.BaseRisk
	if g.cfg.ErrorEscalationThreshold > 0 && g.consecutiveErrors >= g.cfg.ErrorEscalationThreshold {
		effectiveRisk = effectiveRisk.escalate()
	}
	if g.cfg.QuietWindow > 0 && !g.lastDispatch.IsZero() && time.Since(g.lastDispatch) >= g.cfg.QuietWindow {
		effectiveRisk = effectiveRisk.escalate()
	}
	breakerState := g.breaker.State()
	if breakerState == BreakerOpen && effectiveRisk > RiskReadOnly {
		effectiveRisk = RiskDestructive // forces the circuit-breaker gate below to reject
	}
	action.BaseRisk = effectiveRisk

	// Step 5: policy predicates.
	if reason := evaluatePolicies(g.cfg.PolicyRules, action, g.trust.Level(), time.Now(), g.tracker); reason != "" {
		return DecisionDenied, g.context(action, reason, false)
	}

	// Step 6: circuit-breaker gate.
	switch breakerState {
	case BreakerOpen:
		if effectiveRisk != RiskReadOnly {
			return DecisionCircuitBroken, g.context(action, "circuit breaker open: non-read-only action rejected", false)
		}
	case BreakerHalfOpen:
		if effectiveRisk != RiskReadOnly {
			return DecisionCircuitBroken, g.context(action, "circuit breaker half-open: only read-only probes allowed", false)
		}
	}

	// Step 7: approval-mode gate.
	row := approvalMatrix[g.cfg.Mode]
	autoAllowed := row[int(effectiveRisk)]

	// Step 8: trust-level gate.
	trustLevel := g.trust.Level()
	switch trustLevel {
	case TrustShadow:
		return DecisionSuggestion, g.context(action, "trust level shadow: never auto-executes, returning suggestion", true)
	case TrustDryRun:
		return DecisionDryRun, g.context(action, "trust level dry_run: executing in shadow mode only", true)
	case TrustAssisted:
		return DecisionPending, g.context(action, "trust level assisted: requires explicit approval", true)
	}
	// Supervised and SelectiveAutonomy relax prompting for trusted classes:
	// fall through to the approval-mode matrix computed above.

	if !autoAllowed {
		return DecisionPending, g.context(action, fmt.Sprintf("mode %s requires approval for risk %s", g.cfg.Mode, effectiveRisk), true)
	}

	return DecisionApproved, g.context(action, fmt.Sprintf("mode %s auto-approves risk %s", g.cfg.Mode, effectiveRisk), true)
}

func (g *Guardian) context(action ActionDetails, reasoning string, reversible bool) ApprovalContext {
	preview := action.Command
	if preview == "" && len(action.Paths) > 0 {
		preview = action.Paths[0]
	}
	return ApprovalContext{
		Action:     action,
		Reasoning:  reasoning,
		Preview:    preview,
		Reversible: reversible,
		CheckedAt:  time.Now(),
	}
}

// RecordOutcome feeds a completed tool dispatch back into the circuit
// breaker, trust tracker, and escalation counters (§4.5 step 4c).
func (g *Guardian) RecordOutcome(risk RiskLevel, success bool) {
	g.mu.Lock()
	wasOpen := g.breaker.State() != BreakerOpen
	g.breaker.RecordOutcome(success)
	tripped := wasOpen && g.breaker.State() == BreakerOpen
	if success {
		g.consecutiveErrors = 0
	} else {
		g.consecutiveErrors++
	}
	g.lastDispatch = time.Now()
	g.mu.Unlock()

	g.trust.RecordOutcome(risk, success)
	if tripped {
		g.trust.OnCircuitOpen()
	}
}
