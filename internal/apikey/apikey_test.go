package apikey

import (
	"testing"
	"time"
)

func TestAuthenticatePassThroughWhenNothingConfigured(t *testing.T) {
	r := NewRegistry(nil, "")
	result, ok := r.Authenticate("anything")
	if !ok || !result.Authenticated {
		t.Fatalf("expected unauthenticated pass-through, got %+v ok=%v", result, ok)
	}
}

func TestAuthenticateFallsBackToSingleAdminKey(t *testing.T) {
	r := NewRegistry(nil, "admin-secret")
	if _, ok := r.Authenticate("wrong"); ok {
		t.Fatalf("expected wrong secret to be rejected")
	}
	result, ok := r.Authenticate("admin-secret")
	if !ok || !result.Authenticated {
		t.Fatalf("expected admin secret to authenticate, got %+v ok=%v", result, ok)
	}
}

func TestAuthenticateEnforcesCreditsLimit(t *testing.T) {
	key := &Key{ID: "k1", Secret: "sekret", Enabled: true, CreditsLimit: 1.0}
	key.Usage = newUsage()
	key.Usage.TotalCredits = 1.5
	r := NewRegistry([]*Key{key}, "")

	result, ok := r.Authenticate("sekret")
	if !ok {
		t.Fatalf("expected key to be recognized even over its cap")
	}
	if result.Authenticated {
		t.Fatalf("expected credits-capped key to fail authentication")
	}
	if !result.CreditsCapped || result.KeyID != "k1" {
		t.Fatalf("expected key still identified as capped, got %+v", result)
	}
}

func TestRecordUsageAccumulatesHistoryMostRecentFirst(t *testing.T) {
	key := &Key{ID: "k1", Secret: "sekret-long-enough", Enabled: true}
	key.Usage = newUsage()
	r := NewRegistry([]*Key{key}, "")

	now := time.Unix(1700000000, 0).UTC()
	r.RecordUsage("k1", 0.1, 10, 5, "claude-sonnet-4.5", "/v1/chat/completions", now)
	r.RecordUsage("k1", 0.2, 20, 10, "claude-sonnet-4.5", "/v1/messages", now.Add(time.Minute))

	views := r.Views()
	if len(views) != 1 {
		t.Fatalf("expected one view, got %d", len(views))
	}
	v := views[0]
	if v.Usage.TotalRequests != 2 {
		t.Fatalf("unexpected usage totals: %+v", v.Usage)
	}
	if v.Usage.TotalCredits < 0.29 || v.Usage.TotalCredits > 0.31 {
		t.Fatalf("unexpected total credits: %v", v.Usage.TotalCredits)
	}
	if len(v.UsageHistory) != 2 || v.UsageHistory[0].Path != "/v1/messages" {
		t.Fatalf("expected most recent record first, got %+v", v.UsageHistory)
	}
	if v.KeyPreview != "sekr***ough" {
		t.Fatalf("unexpected key preview: %q", v.KeyPreview)
	}
}

func TestUsageHistoryTrimmedToHundred(t *testing.T) {
	key := &Key{ID: "k1", Secret: "sekret", Enabled: true}
	key.Usage = newUsage()
	r := NewRegistry([]*Key{key}, "")

	now := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 150; i++ {
		r.RecordUsage("k1", 0, 1, 1, "m", "/p", now)
	}
	views := r.Views()
	if len(views[0].UsageHistory) != maxUsageHistory {
		t.Fatalf("expected history trimmed to %d, got %d", maxUsageHistory, len(views[0].UsageHistory))
	}
}
