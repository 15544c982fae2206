package retry

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/mira-ai/antigravity-gateway/internal/account"
	"github.com/mira-ai/antigravity-gateway/internal/dialect"
	"github.com/mira-ai/antigravity-gateway/internal/gwerr"
	"github.com/mira-ai/antigravity-gateway/internal/pool"
)

type fakeLister struct{ accounts []*account.Account }

func (f fakeLister) ListAccounts(v account.Vendor) ([]*account.Account, error) { return f.accounts, nil }

type fakeStore struct{ acct *account.Account }

func (s *fakeStore) GetAccount(ctx context.Context, vendor account.Vendor, id string) (*account.Account, error) {
	return s.acct, nil
}
func (s *fakeStore) SaveAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	s.acct.AccessToken = accessToken
	s.acct.ExpiresAt = expiresAt
	return nil
}
func (s *fakeStore) MarkAccountError(ctx context.Context, id, msg string) error {
	s.acct.Status = account.StatusError
	s.acct.ErrorMessage = msg
	return nil
}

func newFixture(t *testing.T) (*pool.Pool, *account.TokenManager, *account.Account) {
	t.Helper()
	acct := &account.Account{ID: "acct-1", Vendor: account.VendorK, AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	p := pool.New(account.VendorK, fakeLister{accounts: []*account.Account{acct}}, pool.VendorKCooldowns)
	if err := p.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	store := &fakeStore{acct: acct}
	refresh := func(ctx context.Context, httpClient *http.Client, a *account.Account) (string, string, time.Time, error) {
		return "refreshed-tok", a.RefreshToken, time.Now().Add(time.Hour), nil
	}
	tm := account.NewTokenManager(store, refresh, time.Minute)
	return p, tm, acct
}

func TestRunSucceedsOnFirstAttempt(t *testing.T) {
	p, tm, _ := newFixture(t)
	call := func(ctx context.Context, acct *account.Account, endpointIndex int, onMessage func(dialect.UpstreamEvent)) (dialect.Usage, error) {
		onMessage(dialect.UpstreamEvent{Kind: dialect.EventText, Text: "ok"})
		return dialect.Usage{OutputTokens: 1}, nil
	}

	var seen []dialect.UpstreamEvent
	usage, err := Run(context.Background(), Config{MaxRetries: 3, EndpointCount: 1}, p, tm, &http.Client{}, nil, call, func(ev dialect.UpstreamEvent) {
		seen = append(seen, ev)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.OutputTokens != 1 || len(seen) != 1 {
		t.Fatalf("unexpected result: usage=%+v seen=%+v", usage, seen)
	}
}

func TestRunRetriesOnceAfter401ThenSucceeds(t *testing.T) {
	p, tm, _ := newFixture(t)
	calls := 0
	call := func(ctx context.Context, acct *account.Account, endpointIndex int, onMessage func(dialect.UpstreamEvent)) (dialect.Usage, error) {
		calls++
		if calls == 1 {
			return dialect.Usage{}, fmt.Errorf("%s", gwerr.FormatUpstreamStatus(401, "expired"))
		}
		return dialect.Usage{OutputTokens: 2}, nil
	}

	usage, err := Run(context.Background(), Config{MaxRetries: 3, EndpointCount: 1}, p, tm, &http.Client{}, nil, call, func(dialect.UpstreamEvent) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.OutputTokens != 2 || calls != 2 {
		t.Fatalf("expected one retry then success, got calls=%d usage=%+v", calls, usage)
	}
}

func TestRunMovesToNextAccountOn429(t *testing.T) {
	acctA := &account.Account{ID: "a", Vendor: account.VendorK, AccessToken: "tok-a", ExpiresAt: time.Now().Add(time.Hour)}
	acctB := &account.Account{ID: "b", Vendor: account.VendorK, AccessToken: "tok-b", ExpiresAt: time.Now().Add(time.Hour)}
	p := pool.New(account.VendorK, fakeLister{accounts: []*account.Account{acctA, acctB}}, pool.VendorKCooldowns)
	p.Configure(true, nil)
	if err := p.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	store := &fakeStore{acct: acctA}
	tm := account.NewTokenManager(store, func(ctx context.Context, httpClient *http.Client, a *account.Account) (string, string, time.Time, error) {
		return a.AccessToken, a.RefreshToken, time.Now().Add(time.Hour), nil
	}, time.Minute)

	var usedAccounts []string
	call := func(ctx context.Context, acct *account.Account, endpointIndex int, onMessage func(dialect.UpstreamEvent)) (dialect.Usage, error) {
		usedAccounts = append(usedAccounts, acct.ID)
		if acct.ID == "a" {
			return dialect.Usage{}, fmt.Errorf("%s", gwerr.FormatUpstreamStatus(429, "quota"))
		}
		return dialect.Usage{OutputTokens: 3}, nil
	}

	usage, err := Run(context.Background(), Config{MaxRetries: 3, EndpointCount: 1}, p, tm, &http.Client{}, nil, call, func(dialect.UpstreamEvent) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.OutputTokens != 3 {
		t.Fatalf("expected account b to succeed, got usage=%+v accounts=%v", usage, usedAccounts)
	}
}

func TestRunFatalErrorReturnsImmediately(t *testing.T) {
	p, tm, _ := newFixture(t)
	calls := 0
	call := func(ctx context.Context, acct *account.Account, endpointIndex int, onMessage func(dialect.UpstreamEvent)) (dialect.Usage, error) {
		calls++
		return dialect.Usage{}, fmt.Errorf("%s", gwerr.FormatUpstreamStatus(400, "bad request"))
	}

	_, err := Run(context.Background(), Config{MaxRetries: 3, EndpointCount: 1}, p, tm, &http.Client{}, nil, call, func(dialect.UpstreamEvent) {})
	if err == nil {
		t.Fatalf("expected fatal error to surface")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call before giving up, got %d", calls)
	}
}
