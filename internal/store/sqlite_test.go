package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mira-ai/antigravity-gateway/internal/account"
	"github.com/mira-ai/antigravity-gateway/internal/cryptoutil"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "gateway.db")
	s, err := Open(dbPath, cryptoutil.NewBox("test-master-key"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetAccountRoundTripsEncryptedTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := &account.Account{
		ID:           "acct-1",
		Vendor:       account.VendorA,
		Email:        "user@example.com",
		AccessToken:  "access-secret",
		RefreshToken: "refresh-secret",
		ExpiresAt:    time.Unix(1700000000, 0).UTC(),
		Status:       account.StatusNormal,
	}
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetAccount(ctx, account.VendorA, "acct-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected account, got nil")
	}
	if got.AccessToken != "access-secret" || got.RefreshToken != "refresh-secret" {
		t.Fatalf("expected tokens to round trip, got %+v", got)
	}
	if got.Email != "user@example.com" {
		t.Fatalf("unexpected email: %q", got.Email)
	}
}

func TestGetAccountWrongVendorReturnsNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateAccount(ctx, &account.Account{ID: "acct-1", Vendor: account.VendorA, AccessToken: "tok"})

	got, err := s.GetAccount(ctx, account.VendorK, "acct-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for mismatched vendor, got %+v", got)
	}
}

func TestListAccountsFiltersByVendor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateAccount(ctx, &account.Account{ID: "a1", Vendor: account.VendorA, AccessToken: "tok"})
	_ = s.CreateAccount(ctx, &account.Account{ID: "k1", Vendor: account.VendorK, AccessToken: "tok"})

	accts, err := s.ListAccounts(account.VendorA)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(accts) != 1 || accts[0].ID != "a1" {
		t.Fatalf("expected only vendor-a account, got %+v", accts)
	}
}

func TestSaveAccountTokensUpdatesAndClearsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateAccount(ctx, &account.Account{ID: "acct-1", Vendor: account.VendorA, AccessToken: "old"})
	if err := s.MarkAccountError(ctx, "acct-1", "refresh failed"); err != nil {
		t.Fatalf("mark error: %v", err)
	}

	newExpiry := time.Unix(1800000000, 0).UTC()
	if err := s.SaveAccountTokens(ctx, "acct-1", "new-access", "new-refresh", newExpiry); err != nil {
		t.Fatalf("save tokens: %v", err)
	}

	got, err := s.GetAccount(ctx, account.VendorA, "acct-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessToken != "new-access" || got.RefreshToken != "new-refresh" {
		t.Fatalf("expected refreshed tokens, got %+v", got)
	}
	if !got.ExpiresAt.Equal(newExpiry) {
		t.Fatalf("expected updated expiry, got %v", got.ExpiresAt)
	}
	if got.Status != account.StatusNormal || got.ErrorMessage != "" {
		t.Fatalf("expected error cleared on refresh, got status=%s msg=%q", got.Status, got.ErrorMessage)
	}
}

func TestDeleteAccountRemovesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateAccount(ctx, &account.Account{ID: "acct-1", Vendor: account.VendorA, AccessToken: "tok"})
	if err := s.DeleteAccount(ctx, "acct-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := s.GetAccount(ctx, account.VendorA, "acct-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected account gone, got %+v", got)
	}
}

func TestInsertAndQueryRequestLogsFiltersAndPaginates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := s.InsertRequestLog(ctx, RequestLogEntry{
			Timestamp: int64(1700000000 + i),
			Vendor:    "vendor-a",
			Path:      "/v1/chat/completions",
			AccountID: "acct-1",
			APIKeyID:  "key-1",
			Success:   true,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	_ = s.InsertRequestLog(ctx, RequestLogEntry{Timestamp: 1700000100, Vendor: "vendor-a", AccountID: "acct-2", APIKeyID: "key-2", Success: false})

	logs, total, err := s.QueryRequestLogs(ctx, RequestLogQuery{AccountID: "acct-1", Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total 3, got %d", total)
	}
	if len(logs) != 2 {
		t.Fatalf("expected limit applied, got %d rows", len(logs))
	}
	if logs[0].Timestamp < logs[1].Timestamp {
		t.Fatalf("expected descending order, got %+v", logs)
	}
}

func TestPurgeOldLogsDeletesBeforeCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.InsertRequestLog(ctx, RequestLogEntry{Timestamp: 100, Vendor: "vendor-a", Success: true})
	_ = s.InsertRequestLog(ctx, RequestLogEntry{Timestamp: 200, Vendor: "vendor-a", Success: true})

	n, err := s.PurgeOldLogs(ctx, time.Unix(150, 0).UTC())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row purged, got %d", n)
	}
	_, total, err := s.QueryRequestLogs(ctx, RequestLogQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 row remaining, got %d", total)
	}
}
