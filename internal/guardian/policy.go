package guardian

import (
	"strings"
	"sync"
	"time"
)

// PolicyRule is a user-configured predicate scoped to a set of tools (§4.4
// step 5). A rule whose Tools list matches the action is evaluated; any
// failing predicate is a final deny, independent of approval mode.
type PolicyRule struct {
	Name  string
	Tools []string

	// TimeWindowStart/End are "HH:MM" bounds; TimeWindowAction is the
	// disposition ("allow" or "deny") when the current time falls inside
	// the window. Zero value disables the predicate.
	TimeWindowStart  string
	TimeWindowEnd    string
	TimeWindowAction string

	// MaxBlastRadius denies actions whose ActionDetails.BlastRadius exceeds
	// this threshold. Zero disables the predicate.
	MaxBlastRadius int

	// MinTrustLevel denies unless the tracked trust level is at least this.
	MinTrustLevel TrustLevel

	// RequiresConsensus marks the action as needing external multi-approver
	// confirmation; MinApprovers is advisory metadata carried in the
	// ApprovalContext's reasoning, the Guardian itself does not collect votes.
	RequiresConsensus bool
	MinApprovers      int

	// MaxConcurrent caps concurrently in-flight actions for matching tools
	// (e.g. "max concurrent deployments").
	MaxConcurrent int
}

func (r PolicyRule) matches(toolName string) bool {
	for _, t := range r.Tools {
		if strings.EqualFold(t, toolName) || t == "*" {
			return true
		}
	}
	return false
}

// concurrencyTracker counts in-flight actions per rule for MaxConcurrent.
type concurrencyTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newConcurrencyTracker() *concurrencyTracker {
	return &concurrencyTracker{active: make(map[string]int)}
}

func (c *concurrencyTracker) tryEnter(rule string, limit int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit > 0 && c.active[rule] >= limit {
		return false
	}
	c.active[rule]++
	return true
}

func (c *concurrencyTracker) leave(rule string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[rule] > 0 {
		c.active[rule]--
	}
}

// evaluatePolicies runs every matching rule against the action and current
// trust level. Returns the first failing rule's reason, or "" if all pass.
func evaluatePolicies(rules []PolicyRule, action ActionDetails, trust TrustLevel, now time.Time, tracker *concurrencyTracker) string {
	for _, rule := range rules {
		if !rule.matches(action.ToolName) {
			continue
		}

		if rule.TimeWindowAction != "" {
			if inWindow(now, rule.TimeWindowStart, rule.TimeWindowEnd) && rule.TimeWindowAction == "deny" {
				return "policy " + rule.Name + ": denied during configured time window"
			}
			if !inWindow(now, rule.TimeWindowStart, rule.TimeWindowEnd) && rule.TimeWindowAction == "allow" {
				return "policy " + rule.Name + ": outside allowed time window"
			}
		}

		if rule.MaxBlastRadius > 0 && action.BlastRadius > rule.MaxBlastRadius {
			return "policy " + rule.Name + ": blast radius exceeds limit"
		}

		if trust < rule.MinTrustLevel {
			return "policy " + rule.Name + ": trust level below minimum"
		}

		if rule.MaxConcurrent > 0 && tracker != nil && !tracker.tryEnter(rule.Name, rule.MaxConcurrent) {
			return "policy " + rule.Name + ": max concurrent limit reached"
		}
	}
	return ""
}

func inWindow(now time.Time, start, end string) bool {
	if start == "" || end == "" {
		return false
	}
	s, errS := time.Parse("15:04", start)
	e, errE := time.Parse("15:04", end)
	if errS != nil || errE != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	sMin := s.Hour()*60 + s.Minute()
	eMin := e.Hour()*60 + e.Minute()
	if sMin <= eMin {
		return cur >= sMin && cur <= eMin
	}
	// Window wraps midnight.
	return cur >= sMin || cur <= eMin
}
