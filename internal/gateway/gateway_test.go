package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/mira-ai/antigravity-gateway/internal/account"
	"github.com/mira-ai/antigravity-gateway/internal/apikey"
	"github.com/mira-ai/antigravity-gateway/internal/config"
	"github.com/mira-ai/antigravity-gateway/internal/dialect"
	"github.com/mira-ai/antigravity-gateway/internal/modelmap"
	"github.com/mira-ai/antigravity-gateway/internal/pool"
	"github.com/mira-ai/antigravity-gateway/internal/stats"
	"github.com/mira-ai/antigravity-gateway/internal/transport"
	"github.com/mira-ai/antigravity-gateway/internal/upstream/vendora"
)

func testTransportManager() *transport.Manager {
	return transport.NewManager(&config.Config{RequestTimeout: 30 * time.Second})
}

type fakeLister struct{ accounts []*account.Account }

func (f fakeLister) ListAccounts(v account.Vendor) ([]*account.Account, error) { return f.accounts, nil }

func newTestFacade(t *testing.T, vendor account.Vendor) *Facade {
	t.Helper()
	acct := &account.Account{ID: "acct-1", Vendor: vendor, AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	p := pool.New(vendor, fakeLister{accounts: []*account.Account{acct}}, pool.VendorACooldowns)
	if err := p.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	tokens := account.NewTokenManager(nil, nil, time.Minute)
	keys := apikey.NewRegistry(nil, "")
	return New(vendor, p, tokens, stats.NewEmptyStore(), keys, testTransportManager(), RuntimeConfig{MaxRetries: 1})
}

func TestApplyConfigPatchUpdatesPoolSelection(t *testing.T) {
	f := newTestFacade(t, account.VendorA)
	f.ApplyConfigPatch(RuntimeConfig{MultiAccount: false, SelectedAccountIDs: []string{"acct-1"}, MaxRetries: 2})

	if got := f.Config().MaxRetries; got != 2 {
		t.Fatalf("expected config patch to apply, got MaxRetries=%d", got)
	}
	if pa := f.Pool.Next(""); pa == nil || pa.Account.ID != "acct-1" {
		t.Fatalf("expected selected acct-1 to stay in the pool, got %+v", pa)
	}

	f.ApplyConfigPatch(RuntimeConfig{SelectedAccountIDs: []string{"acct-missing"}, MaxRetries: 2})
	if pa := f.Pool.Next(""); pa != nil {
		t.Fatalf("expected pool to drop accounts outside the new selection, got %+v", pa.Account)
	}
}

func TestResolveModelAppliesFirstMatchingMapping(t *testing.T) {
	f := newTestFacade(t, account.VendorA)
	f.ApplyConfigPatch(RuntimeConfig{
		MaxRetries: 1,
		ModelMappings: []modelmap.Rule{
			{ID: "r1", Enabled: true, Priority: 1, Type: modelmap.RuleReplace, SourcePattern: "gpt-4*", Targets: []string{"gemini-2.5-pro"}},
		},
	})

	got, ok := f.resolveModel("gpt-4-turbo", "", f.Config())
	if !ok || got != "gemini-2.5-pro" {
		t.Fatalf("expected mapped model, got %q ok=%v", got, ok)
	}
}

func TestEndpointCountPerVendor(t *testing.T) {
	if got := newTestFacade(t, account.VendorK).endpointCount(); got != 2 {
		t.Fatalf("expected vendor-k to expose 2 endpoints, got %d", got)
	}
	if got := newTestFacade(t, account.VendorA).endpointCount(); got != 1 {
		t.Fatalf("expected vendor-a to expose 1 endpoint, got %d", got)
	}
}

func TestEnsureProjectIDCachesUntilForced(t *testing.T) {
	f := newTestFacade(t, account.VendorA)
	acct := &account.Account{ID: "acct-1"}

	if err := f.ensureProjectID(context.Background(), acct, false); err != nil {
		t.Fatalf("ensureProjectID: %v", err)
	}
	first := f.projectIDFor("acct-1")
	if vendora.IsInvalidProjectID(first) {
		t.Fatalf("expected a resolved fallback project id, got %q", first)
	}

	if err := f.ensureProjectID(context.Background(), acct, false); err != nil {
		t.Fatalf("ensureProjectID (no force): %v", err)
	}
	if got := f.projectIDFor("acct-1"); got != first {
		t.Fatalf("expected cached project id to survive non-forced call, got %q want %q", got, first)
	}

	if err := f.ensureProjectID(context.Background(), acct, true); err != nil {
		t.Fatalf("ensureProjectID (force): %v", err)
	}
	if got := f.projectIDFor("acct-1"); got == first {
		t.Fatalf("expected forced re-resolve to produce a new project id")
	}
}

func TestRecordUpdatesStatsAndKeyUsage(t *testing.T) {
	key := &apikey.Key{ID: "k1", Secret: "secret-key-long-enough", Enabled: true}
	keys := apikey.NewRegistry([]*apikey.Key{key}, "")
	acct := &account.Account{ID: "acct-1", Vendor: account.VendorA, AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	p := pool.New(account.VendorA, fakeLister{accounts: []*account.Account{acct}}, pool.VendorACooldowns)
	_ = p.Sync()
	f := New(account.VendorA, p, account.NewTokenManager(nil, nil, time.Minute), stats.NewEmptyStore(), keys, testTransportManager(), RuntimeConfig{})

	req := dialect.NormalizedRequest{Model: "gemini-2.5-pro"}
	f.record(req, "k1", "/v1/chat/completions", dialect.Usage{InputTokens: 10, OutputTokens: 5, Credits: 0.25}, nil, time.Millisecond)

	agg := f.Stats.Aggregate()
	if agg.TotalRequests != 1 || agg.SuccessRequests != 1 {
		t.Fatalf("expected stats recorded, got %+v", agg)
	}
	views := f.APIKeys.Views()
	if len(views) != 1 || views[0].Usage.TotalRequests != 1 {
		t.Fatalf("expected api key usage recorded, got %+v", views)
	}
}
