// Package retry implements the cross-account, cross-endpoint attempt loop
// shared by both vendor gateways (spec §4.6), driving an Account Pool and
// Token Manager against a vendor-supplied Caller until an attempt succeeds,
// exhausts max_retries, or hits a fatal classification.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mira-ai/antigravity-gateway/internal/account"
	"github.com/mira-ai/antigravity-gateway/internal/dialect"
	"github.com/mira-ai/antigravity-gateway/internal/gwerr"
	"github.com/mira-ai/antigravity-gateway/internal/pool"
)

// ErrNoAccount is returned when the pool has no usable account to offer.
var ErrNoAccount = errors.New("no usable account available")

// Caller performs one upstream call against a single account/endpoint pair,
// streaming decoded events to onMessage as they are produced. endpointIndex
// selects among a vendor's ordered endpoints (Vendor-A has exactly one,
// Vendor-K has two).
type Caller func(ctx context.Context, acct *account.Account, endpointIndex int, onMessage func(dialect.UpstreamEvent)) (dialect.Usage, error)

// ProjectEnsurer lazily resolves/refreshes a Vendor-A account's GCP project
// id; force=true re-resolves even if one is already cached. Vendor-K passes
// nil since it has no equivalent concept.
type ProjectEnsurer func(ctx context.Context, acct *account.Account, force bool) error

// Config parametrizes one Run call (spec §4.6).
type Config struct {
	MaxRetries    int
	RetryDelay    time.Duration
	EndpointCount int // 1 for Vendor-A, 2 for Vendor-K
	Preferred     string
}

// Run drives the attempt loop described in spec §4.6's pseudocode, returning
// the first successful Usage or the last classified error.
func Run(
	ctx context.Context,
	cfg Config,
	p *pool.Pool,
	tokenMgr *account.TokenManager,
	httpClient *http.Client,
	ensureProject ProjectEnsurer,
	call Caller,
	onMessage func(dialect.UpstreamEvent),
) (dialect.Usage, error) {
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	endpoints := cfg.EndpointCount
	if endpoints < 1 {
		endpoints = 1
	}

	var lastErr error = ErrNoAccount
	var currentID string

	for attempt := 0; attempt < maxRetries; attempt++ {
		// Re-sync from the store on every take_next_account (spec §3
		// Lifecycles): cheap, and it's what makes an account added or
		// banned after boot, or a selected_account_ids change from
		// /admin/config, visible without a restart. A sync failure just
		// means this attempt sees last-known pool state, not a hard stop.
		if err := p.Sync(); err != nil {
			slog.Warn("pool sync before account selection failed", "error", err)
		}

		pa := p.Next(currentID)
		if pa == nil {
			return dialect.Usage{}, ErrNoAccount
		}
		acct := pa.Account
		currentID = acct.ID

		if ensureProject != nil {
			if err := ensureProject(ctx, acct, false); err != nil {
				lastErr = err
				continue
			}
		}

		if _, err := tokenMgr.EnsureValidToken(ctx, httpClient, acct); err != nil {
			lastErr = err
			p.RecordError(acct.ID, false)
			continue
		}

		for endpointIndex := 0; endpointIndex < endpoints; endpointIndex++ {
			usage, err, action := attemptEndpoint(ctx, acct, endpointIndex, call, onMessage, tokenMgr, httpClient, ensureProject)
			switch action {
			case actionSuccess:
				p.RecordSuccess(acct.ID)
				return usage, nil
			case actionNextAccount:
				p.RecordError(acct.ID, true)
				lastErr = err
				endpointIndex = endpoints // break outer endpoint loop
			case actionBackoffNextAccount:
				p.RecordError(acct.ID, false)
				lastErr = err
				sleep(ctx, cfg.RetryDelay*time.Duration(attempt+1))
				endpointIndex = endpoints
			case actionFatal:
				return dialect.Usage{}, err
			case actionNextEndpoint:
				lastErr = err
				// loop continues to next endpointIndex
			}
		}
	}

	return dialect.Usage{}, lastErr
}

type attemptAction int

const (
	actionSuccess attemptAction = iota
	actionNextEndpoint
	actionNextAccount
	actionBackoffNextAccount
	actionFatal
)

// attemptEndpoint runs one endpoint, handling the single in-place retries
// for auth (401/403) and invalid-project errors that spec §4.6 allows
// before moving to the next endpoint or account.
func attemptEndpoint(
	ctx context.Context,
	acct *account.Account,
	endpointIndex int,
	call Caller,
	onMessage func(dialect.UpstreamEvent),
	tokenMgr *account.TokenManager,
	httpClient *http.Client,
	ensureProject ProjectEnsurer,
) (dialect.Usage, error, attemptAction) {
	usage, err := call(ctx, acct, endpointIndex, onMessage)
	if err == nil {
		return usage, nil, actionSuccess
	}

	status, body, isUpstream := gwerr.ParseUpstreamStatus(err.Error())
	if !isUpstream {
		if isInvalidProject(err) && ensureProject != nil {
			if projErr := ensureProject(ctx, acct, true); projErr == nil {
				usage, err = call(ctx, acct, endpointIndex, onMessage)
				if err == nil {
					return usage, nil, actionSuccess
				}
			}
		}
		return dialect.Usage{}, err, actionNextEndpoint
	}

	switch {
	case status == 401 || status == 403:
		if _, refreshErr := tokenMgr.ForceRefresh(ctx, httpClient, acct); refreshErr == nil {
			usage, err = call(ctx, acct, endpointIndex, onMessage)
			if err == nil {
				return usage, nil, actionSuccess
			}
		}
		return dialect.Usage{}, err, actionNextEndpoint
	case status == 429:
		return dialect.Usage{}, err, actionNextAccount
	case status >= 500:
		return dialect.Usage{}, err, actionBackoffNextAccount
	default:
		return dialect.Usage{}, errors.New(body), actionFatal
	}
}

func isInvalidProject(err error) bool {
	return err != nil && (errors.Is(err, errInvalidProject) || err.Error() == errInvalidProject.Error())
}

var errInvalidProject = errors.New("invalid project")

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
