// Package modelmap implements the Model-Mapping Engine (spec §4.9):
// wildcard-matched rewrite/load-balance rules applied to a client-requested
// model name before it reaches a vendor codec.
package modelmap

import (
	"math/rand"
	"sort"
	"strings"
)

// RuleType selects a rule's substitution behavior.
type RuleType string

const (
	RuleReplace     RuleType = "replace"
	RuleLoadBalance RuleType = "loadbalance"
)

// Rule is one configured mapping entry. Rules are evaluated in ascending
// Priority order; the first enabled, scope-matching, pattern-matching rule
// wins.
type Rule struct {
	ID           string
	Enabled      bool
	Priority     int
	Type         RuleType
	SourcePattern string // e.g. "gpt-4*", case-insensitive, "*" is a free wildcard
	Targets      []string
	Weights      []float64 // parallel to Targets; used by RuleLoadBalance when it sums > 0
	APIKeyIDs    []string  // empty means "applies to every tenant"
}

// Engine holds the configured rule set plus the random source used for
// weighted/uniform target selection.
type Engine struct {
	rules []Rule
	rand  *rand.Rand
}

// NewEngine sorts rules by ascending priority once, up front, so Resolve
// doesn't re-sort per call.
func NewEngine(rules []Rule, source *rand.Rand) *Engine {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	if source == nil {
		source = rand.New(rand.NewSource(1))
	}
	return &Engine{rules: sorted, rand: source}
}

// Resolve applies the first matching rule to requestedModel, returning the
// substituted model name and true, or requestedModel unchanged and false if
// no rule matched.
func (e *Engine) Resolve(requestedModel, apiKeyID string) (string, bool) {
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if !scopeMatches(rule.APIKeyIDs, apiKeyID) {
			continue
		}
		if !wildcardMatch(rule.SourcePattern, requestedModel) {
			continue
		}
		target, ok := e.chooseTarget(rule)
		if !ok {
			continue
		}
		return target, true
	}
	return requestedModel, false
}

func scopeMatches(apiKeyIDs []string, apiKeyID string) bool {
	if len(apiKeyIDs) == 0 {
		return true
	}
	for _, id := range apiKeyIDs {
		if id == apiKeyID {
			return true
		}
	}
	return false
}

// wildcardMatch implements spec §4.9's free "*" wildcard, case-insensitive.
// "*" alone matches anything; otherwise the pattern is split on "*" and each
// non-empty segment must appear in order within the candidate, the first one
// at its start unless the pattern begins with "*" and the last one at its end
// unless the pattern ends with "*".
func wildcardMatch(pattern, candidate string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	candidate = strings.ToLower(strings.TrimSpace(candidate))
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == candidate
	}

	segments := strings.Split(pattern, "*")
	anchoredStart := !strings.HasPrefix(pattern, "*")
	anchoredEnd := !strings.HasSuffix(pattern, "*")

	pos := 0
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if i == len(segments)-1 && anchoredEnd {
			return strings.HasSuffix(candidate[pos:], seg)
		}
		idx := strings.Index(candidate[pos:], seg)
		if idx == -1 {
			return false
		}
		if i == 0 && anchoredStart && idx != 0 {
			return false
		}
		pos += idx + len(seg)
	}
	return true
}

func (e *Engine) chooseTarget(rule Rule) (string, bool) {
	nonEmpty := make([]string, 0, len(rule.Targets))
	for _, t := range rule.Targets {
		if strings.TrimSpace(t) != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	if len(nonEmpty) == 0 {
		return "", false
	}

	if rule.Type == RuleReplace {
		return nonEmpty[0], true
	}

	if len(rule.Weights) == len(rule.Targets) {
		var total float64
		for _, w := range rule.Weights {
			total += w
		}
		if total > 0 {
			r := e.rand.Float64() * total
			var cursor float64
			for i, w := range rule.Weights {
				cursor += w
				if r < cursor && strings.TrimSpace(rule.Targets[i]) != "" {
					return rule.Targets[i], true
				}
			}
		}
	}

	return nonEmpty[e.rand.Intn(len(nonEmpty))], true
}
