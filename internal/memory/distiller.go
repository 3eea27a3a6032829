package memory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentcore/runtime/pkg/models"
)

// DistillerConfig configures the Knowledge Distiller (§4.6).
type DistillerConfig struct {
	// MaxRules caps the number of distilled rules in the output.
	MaxRules int
	// MinEntries is the fact+correction count required before the first
	// distillation run.
	MinEntries int
	// RecomputeEvery triggers a recomputation after this many new entries
	// since the last run.
	RecomputeEvery int
}

// DefaultDistillerConfig returns the §4.6 defaults.
func DefaultDistillerConfig() DistillerConfig {
	return DistillerConfig{MaxRules: 20, MinEntries: 3, RecomputeEvery: 10}
}

// Distiller computes a bounded, deterministic set of behavioral rules from
// accumulated facts and corrections (§4.6). It is pure with respect to its
// inputs and config: no side effects, and identical inputs yield identical
// output thanks to stable sort/aggregation.
type Distiller struct {
	cfg DistillerConfig
}

// NewDistiller constructs a Distiller with the given config.
func NewDistiller(cfg DistillerConfig) *Distiller {
	if cfg.MaxRules <= 0 {
		cfg = DefaultDistillerConfig()
	}
	return &Distiller{cfg: cfg}
}

// ShouldRecompute reports whether the distiller should run again given the
// current entry count and the count at the last run.
func (d *Distiller) ShouldRecompute(totalEntries, lastRunEntries int) bool {
	if lastRunEntries == 0 {
		return totalEntries >= d.cfg.MinEntries
	}
	return totalEntries-lastRunEntries >= d.cfg.RecomputeEvery
}

// Distill produces the ordered list of behavioral rules summarizing what
// worked (frequently-used successful tools) and what to avoid (corrections
// with consistent denial reasons).
func (d *Distiller) Distill(facts []models.Fact, corrections []models.Correction) []string {
	toolCounts := make(map[string]int)
	for _, f := range facts {
		toolCounts[f.ToolName]++
	}

	denialReasons := make(map[string]map[string]int) // tool -> reason -> count
	for _, c := range corrections {
		if denialReasons[c.ToolName] == nil {
			denialReasons[c.ToolName] = make(map[string]int)
		}
		denialReasons[c.ToolName][c.Reason]++
	}

	var rules []string

	for _, tool := range sortedKeysByCountDesc(toolCounts) {
		count := toolCounts[tool]
		if count < 2 {
			continue
		}
		rules = append(rules, fmt.Sprintf("%s has succeeded %d times; prefer it for similar tasks.", tool, count))
	}

	for _, tool := range sortedStringKeys(denialReasons) {
		reasons := denialReasons[tool]
		best, bestCount := "", 0
		for _, r := range sortedStringKeys(reasonsAsMap(reasons)) {
			if reasons[r] > bestCount {
				best, bestCount = r, reasons[r]
			}
		}
		if bestCount < 2 || best == "" {
			continue
		}
		rules = append(rules, fmt.Sprintf("Avoid %s when %s.", tool, strings.TrimSpace(best)))
	}

	sort.Strings(rules)
	if len(rules) > d.cfg.MaxRules {
		rules = rules[:d.cfg.MaxRules]
	}
	return rules
}

// Addendum renders the rule list as the knowledge_addendum text
// concatenated into the system prompt (§4.2, §4.6).
func Addendum(rules []string) string {
	if len(rules) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}
	return strings.TrimRight(b.String(), "\n")
}

func sortedKeysByCountDesc(m map[string]int) []string {
	keys := sortedStringKeysFromCount(m)
	sort.SliceStable(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

func sortedStringKeysFromCount(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStringKeys(m map[string]int) []string {
	return sortedStringKeysFromCount(m)
}

func reasonsAsMap(m map[string]int) map[string]int { return m }
