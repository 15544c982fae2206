// Package store persists Accounts and request logs for both vendor
// gateways. Accounts and request logs live in SQLite (modernc.org/sqlite,
// kept from the teacher's own storage choice); no gateway code path writes
// request logs here, the in-memory ring in internal/stats being what the
// gateway keeps. Each vendor's stats and live-patchable config are plain
// JSON files (internal/jsonstore) that cmd/gateway loads at startup and
// writes whole at shutdown only. The model cache is not persisted.
package store

import (
	"context"
	"time"

	"github.com/mira-ai/antigravity-gateway/internal/account"
)

// AccountStore is the persistence surface account.TokenManager and
// pool.Lister need, plus account create/delete/status methods, which no
// HTTP route calls.
type AccountStore interface {
	account.Store // GetAccount(ctx, vendor, id), SaveAccountTokens, MarkAccountError

	ListAccounts(vendor account.Vendor) ([]*account.Account, error) // pool.Lister
	ListAllAccounts(ctx context.Context) ([]*account.Account, error)
	CreateAccount(ctx context.Context, a *account.Account) error
	DeleteAccount(ctx context.Context, id string) error
	SetAccountStatus(ctx context.Context, id string, status account.Status, reason string) error

	Close() error
}

// RequestLogEntry is the persisted shape of one completed request, a
// superset of stats.RequestLog carrying the api key id that served it.
type RequestLogEntry struct {
	Timestamp    int64
	Vendor       string
	Path         string
	Model        string
	AccountID    string
	APIKeyID     string
	Success      bool
	Status       int
	InputTokens  int64
	OutputTokens int64
	Credits      float64
	DurationMS   int64
	Error        string
}

// RequestLogQuery paginates QueryRequestLogs.
type RequestLogQuery struct {
	AccountID string
	APIKeyID  string
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// RequestLogStore persists the full request history beyond the in-memory
// bounded ring in internal/stats.
type RequestLogStore interface {
	InsertRequestLog(ctx context.Context, e RequestLogEntry) error
	QueryRequestLogs(ctx context.Context, q RequestLogQuery) ([]RequestLogEntry, int, error)
	PurgeOldLogs(ctx context.Context, before time.Time) (int64, error)
}
