package modelmap

import (
	"math/rand"
	"testing"
)

func TestWildcardMatchPrefixSuffixAndBareStar(t *testing.T) {
	cases := []struct {
		pattern, candidate string
		want               bool
	}{
		{"*", "anything", true},
		{"gpt-4*", "gpt-4-turbo", true},
		{"gpt-4*", "GPT-4-Turbo", true},
		{"gpt-4*", "gpt-3.5", false},
		{"*sonnet*", "claude-3-5-sonnet-latest", true},
		{"claude-sonnet-4.5", "claude-sonnet-4.5", true},
		{"claude-sonnet-4.5", "claude-sonnet-4.6", false},
	}
	for _, c := range cases {
		if got := wildcardMatch(c.pattern, c.candidate); got != c.want {
			t.Errorf("wildcardMatch(%q, %q) = %v, want %v", c.pattern, c.candidate, got, c.want)
		}
	}
}

func TestResolveReplaceRuleRewritesModel(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "r1", Enabled: true, Priority: 100, Type: RuleReplace, SourcePattern: "gpt-4*", Targets: []string{"claude-sonnet-4.5"}},
	}, rand.New(rand.NewSource(1)))

	got, matched := e.Resolve("gpt-4-turbo", "")
	if !matched || got != "claude-sonnet-4.5" {
		t.Fatalf("expected rewrite to claude-sonnet-4.5, got %q matched=%v", got, matched)
	}
}

func TestResolveNoMatchReturnsOriginal(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "r1", Enabled: true, Priority: 100, Type: RuleReplace, SourcePattern: "gpt-4*", Targets: []string{"claude-sonnet-4.5"}},
	}, rand.New(rand.NewSource(1)))

	got, matched := e.Resolve("gemini-pro", "")
	if matched || got != "gemini-pro" {
		t.Fatalf("expected unmodified passthrough, got %q matched=%v", got, matched)
	}
}

func TestResolveDisabledRuleSkipped(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "r1", Enabled: false, Priority: 1, Type: RuleReplace, SourcePattern: "*", Targets: []string{"nope"}},
	}, rand.New(rand.NewSource(1)))

	got, matched := e.Resolve("anything", "")
	if matched || got != "anything" {
		t.Fatalf("expected disabled rule skipped, got %q matched=%v", got, matched)
	}
}

func TestResolvePriorityOrderingFirstMatchWins(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "low", Enabled: true, Priority: 50, Type: RuleReplace, SourcePattern: "*", Targets: []string{"first"}},
		{ID: "high", Enabled: true, Priority: 10, Type: RuleReplace, SourcePattern: "*", Targets: []string{"second"}},
	}, rand.New(rand.NewSource(1)))

	got, matched := e.Resolve("anything", "")
	if !matched || got != "second" {
		t.Fatalf("expected lower-priority-number rule to win, got %q", got)
	}
}

func TestResolveScopedToAPIKeyIDs(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "r1", Enabled: true, Priority: 1, Type: RuleReplace, SourcePattern: "*", Targets: []string{"scoped"}, APIKeyIDs: []string{"key-a"}},
	}, rand.New(rand.NewSource(1)))

	if got, matched := e.Resolve("anything", "key-b"); matched || got != "anything" {
		t.Fatalf("expected rule scoped away from key-b, got %q matched=%v", got, matched)
	}
	if got, matched := e.Resolve("anything", "key-a"); !matched || got != "scoped" {
		t.Fatalf("expected rule applied for key-a, got %q matched=%v", got, matched)
	}
}

func TestResolveLoadBalanceDistributesAcrossTargets(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "r1", Enabled: true, Priority: 1, Type: RuleLoadBalance, SourcePattern: "*",
			Targets: []string{"a", "b", "c"}},
	}, rand.New(rand.NewSource(42)))

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		got, matched := e.Resolve("model", "")
		if !matched {
			t.Fatalf("expected match on every call")
		}
		seen[got] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected load-balance to spread across multiple targets, saw %v", seen)
	}
	for target := range seen {
		if target != "a" && target != "b" && target != "c" {
			t.Fatalf("unexpected target %q", target)
		}
	}
}

func TestResolveLoadBalanceWeightedSkewsHeavily(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "r1", Enabled: true, Priority: 1, Type: RuleLoadBalance, SourcePattern: "*",
			Targets: []string{"common", "rare"}, Weights: []float64{99, 1}},
	}, rand.New(rand.NewSource(7)))

	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		got, _ := e.Resolve("model", "")
		counts[got]++
	}
	if counts["common"] <= counts["rare"] {
		t.Fatalf("expected common target to dominate, got %v", counts)
	}
}

func TestResolveSkipsEmptyTargets(t *testing.T) {
	e := NewEngine([]Rule{
		{ID: "r1", Enabled: true, Priority: 1, Type: RuleReplace, SourcePattern: "*", Targets: []string{"  ", ""}},
	}, rand.New(rand.NewSource(1)))

	got, matched := e.Resolve("anything", "")
	if matched || got != "anything" {
		t.Fatalf("expected rule with only blank targets to be skipped, got %q matched=%v", got, matched)
	}
}
