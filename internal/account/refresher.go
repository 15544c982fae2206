package account

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Store is the subset of persistence the refresher needs: load the current
// account, and persist a token update produced by a refresh. Implemented by
// internal/store.
type Store interface {
	GetAccount(ctx context.Context, vendor Vendor, id string) (*Account, error)
	SaveAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error
	MarkAccountError(ctx context.Context, id string, msg string) error
}

// Refresher performs vendor-specific OAuth refresh calls.
//
// Vendor-A uses a standard OAuth refresh_token grant. Vendor-K's system
// manages refresh transparently server-side; RefreshFunc for Vendor-K may
// simply validate the current token is still usable and return it with an
// extended expiry, matching original_source's "system-managed refresh is a
// no-op" behavior described in spec §4.3.
type RefreshFunc func(ctx context.Context, httpClient *http.Client, acct *Account) (accessToken, refreshToken string, expiresAt time.Time, err error)

// TokenManager lazily refreshes access tokens before expiry or on demand.
type TokenManager struct {
	store   Store
	refresh RefreshFunc
	advance time.Duration

	mu    sync.Mutex
	locks map[string]struct{} // single-process refresh de-dup per account id
}

func NewTokenManager(store Store, refresh RefreshFunc, advance time.Duration) *TokenManager {
	return &TokenManager{
		store:   store,
		refresh: refresh,
		advance: advance,
		locks:   make(map[string]struct{}),
	}
}

// EnsureValidToken returns a usable access token for acct, refreshing it
// first if it is within the refresh-advance window of expiry.
func (tm *TokenManager) EnsureValidToken(ctx context.Context, httpClient *http.Client, acct *Account) (string, error) {
	if !acct.NeedsRefresh(tm.advance, time.Now()) {
		return acct.AccessToken, nil
	}
	return tm.ForceRefresh(ctx, httpClient, acct)
}

// ForceRefresh always performs a refresh call, regardless of expiry.
func (tm *TokenManager) ForceRefresh(ctx context.Context, httpClient *http.Client, acct *Account) (string, error) {
	if !tm.acquire(acct.ID) {
		// Another goroutine is already refreshing this account; wait briefly
		// and re-read the (by-then-updated) account rather than racing a
		// second upstream refresh call.
		time.Sleep(2 * time.Second)
		fresh, err := tm.store.GetAccount(ctx, acct.Vendor, acct.ID)
		if err == nil && fresh != nil {
			*acct = *fresh
			return acct.AccessToken, nil
		}
	} else {
		defer tm.release(acct.ID)
	}

	accessToken, refreshToken, expiresAt, err := tm.refresh(ctx, httpClient, acct)
	if err != nil {
		_ = tm.store.MarkAccountError(ctx, acct.ID, err.Error())
		return "", fmt.Errorf("token refresh for account %s: %w", acct.ID, err)
	}

	if refreshToken == "" {
		refreshToken = acct.RefreshToken
	}

	if err := tm.store.SaveAccountTokens(ctx, acct.ID, accessToken, refreshToken, expiresAt); err != nil {
		slog.Warn("persist refreshed token failed", "account_id", acct.ID, "error", err)
	}

	acct.AccessToken = accessToken
	acct.RefreshToken = refreshToken
	acct.ExpiresAt = expiresAt
	acct.LastRefreshAt = time.Now()
	acct.Status = StatusNormal
	acct.ErrorMessage = ""

	return accessToken, nil
}

func (tm *TokenManager) acquire(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if _, held := tm.locks[id]; held {
		return false
	}
	tm.locks[id] = struct{}{}
	return true
}

func (tm *TokenManager) release(id string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.locks, id)
}
