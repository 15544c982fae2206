// Package pool implements the Account Pool: cooldown-aware round-robin
// selection over a vendor's usable accounts (spec §4.2), grounded on the
// teacher's scheduler.Select priority chain (internal/scheduler/scheduler.go)
// and on original_source's kiro_proxy/account_pool.rs, which this package
// generalizes to serve both vendors via a pluggable CooldownPolicy.
package pool

import (
	"sort"
	"sync"
	"time"

	"github.com/mira-ai/antigravity-gateway/internal/account"
)

// CooldownPolicy supplies the vendor-specific cooldown durations named in
// spec §4.2: Vendor-A uses 120s/45s, Vendor-K uses 3600s/45s.
type CooldownPolicy struct {
	Quota     time.Duration
	Transient time.Duration
}

var (
	VendorACooldowns = CooldownPolicy{Quota: 120 * time.Second, Transient: 45 * time.Second}
	VendorKCooldowns = CooldownPolicy{Quota: 3600 * time.Second, Transient: 45 * time.Second}
)

// PoolAccount is the runtime wrapper around an externally-owned Account
// (spec §3). It is rebuilt from the account store on every sync; only
// RequestCount/ErrorCount/CooldownUntil are pool-owned state.
type PoolAccount struct {
	Account       *account.Account
	RequestCount  uint64
	ErrorCount    uint64
	CooldownUntil time.Time // zero value means "not in cooldown"
	LastUsedAt    time.Time
}

func (p *PoolAccount) inCooldown(now time.Time) bool {
	return !p.CooldownUntil.IsZero() && p.CooldownUntil.After(now)
}

// Lister loads the full account list for a vendor from the persistent
// account store.
type Lister interface {
	ListAccounts(vendor account.Vendor) ([]*account.Account, error)
}

// Pool is an ordered sequence of account ids plus a rotation cursor (spec
// §3 "Account Pool" invariants: cursor in [0,len), sync preserves counters).
type Pool struct {
	mu       sync.Mutex
	vendor   account.Vendor
	lister   Lister
	policy   CooldownPolicy
	order    []string
	accounts map[string]*PoolAccount
	cursor   int

	multiAccount bool
	selectedIDs  map[string]struct{} // empty/nil means "all"
}

func New(vendor account.Vendor, lister Lister, policy CooldownPolicy) *Pool {
	return &Pool{
		vendor:   vendor,
		lister:   lister,
		policy:   policy,
		accounts: make(map[string]*PoolAccount),
	}
}

// Configure updates the pool's view of which accounts are eligible and
// whether rotation is enabled, ahead of the next Sync.
func (p *Pool) Configure(multiAccount bool, selectedIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.multiAccount = multiAccount
	if len(selectedIDs) == 0 {
		p.selectedIDs = nil
		return
	}
	p.selectedIDs = make(map[string]struct{}, len(selectedIDs))
	for _, id := range selectedIDs {
		p.selectedIDs[id] = struct{}{}
	}
}

// Sync reloads accounts from the store, dropping unusable ones and
// preserving runtime counters/cooldown for ids that survive (spec §4.2
// sync_accounts).
func (p *Pool) Sync() error {
	accounts, err := p.lister.ListAccounts(p.vendor)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	newOrder := make([]string, 0, len(accounts))
	newAccounts := make(map[string]*PoolAccount, len(accounts))

	for _, acct := range accounts {
		if !acct.Usable() {
			continue
		}
		if p.selectedIDs != nil {
			if _, ok := p.selectedIDs[acct.ID]; !ok {
				continue
			}
		}

		if existing, ok := p.accounts[acct.ID]; ok {
			existing.Account = acct
			newAccounts[acct.ID] = existing
		} else {
			newAccounts[acct.ID] = &PoolAccount{Account: acct}
		}
		newOrder = append(newOrder, acct.ID)
	}

	p.order = newOrder
	p.accounts = newAccounts
	if p.cursor >= len(p.order) {
		p.cursor = 0
	}
	return nil
}

// Next selects the next usable account (spec §4.2 next_account). currentID
// is the sticky/bound account id to prefer when multi-account rotation is
// disabled; pass "" when there is none.
func (p *Pool) Next(currentID string) *PoolAccount {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.order) == 0 {
		return nil
	}
	now := time.Now()

	if !p.multiAccount {
		preferID := currentID
		if preferID == "" {
			preferID = p.order[0]
		}
		if pa, ok := p.accounts[preferID]; ok && !pa.inCooldown(now) {
			return pa
		}
		return p.shortestCooldownLocked(now)
	}

	n := len(p.order)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		pa := p.accounts[p.order[idx]]
		if pa != nil && !pa.inCooldown(now) {
			p.cursor = (idx + 1) % n
			return pa
		}
	}

	return p.shortestCooldownLocked(now)
}

func (p *Pool) shortestCooldownLocked(now time.Time) *PoolAccount {
	var best *PoolAccount
	bestRemaining := time.Duration(1<<63 - 1)
	for _, id := range p.order {
		pa := p.accounts[id]
		remaining := pa.CooldownUntil.Sub(now)
		if best == nil || remaining < bestRemaining {
			best = pa
			bestRemaining = remaining
		}
	}
	return best
}

// RecordSuccess resets error/cooldown state for id (spec §4.2 record_success).
func (p *Pool) RecordSuccess(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pa, ok := p.accounts[id]
	if !ok {
		return
	}
	pa.RequestCount++
	pa.ErrorCount = 0
	pa.CooldownUntil = time.Time{}
	pa.LastUsedAt = time.Now()
}

// RecordError applies a cooldown to id (spec §4.2 record_error).
func (p *Pool) RecordError(id string, quotaError bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pa, ok := p.accounts[id]
	if !ok {
		return
	}
	pa.ErrorCount++
	pa.LastUsedAt = time.Now()

	cooldown := p.policy.Transient
	if quotaError {
		cooldown = p.policy.Quota
	}
	pa.CooldownUntil = time.Now().Add(cooldown)
}

// View is the admin-facing read-only snapshot of one pool member.
type View struct {
	ID            string
	Email         string
	Status        account.Status
	RequestCount  uint64
	ErrorCount    uint64
	CooldownUntil time.Time
	LastUsedAt    time.Time
}

// Views returns a snapshot sorted by LastUsedAt descending (spec §4.2 views).
func (p *Pool) Views() []View {
	p.mu.Lock()
	defer p.mu.Unlock()

	views := make([]View, 0, len(p.order))
	for _, id := range p.order {
		pa := p.accounts[id]
		views = append(views, View{
			ID:            pa.Account.ID,
			Email:         pa.Account.Email,
			Status:        pa.Account.Status,
			RequestCount:  pa.RequestCount,
			ErrorCount:    pa.ErrorCount,
			CooldownUntil: pa.CooldownUntil,
			LastUsedAt:    pa.LastUsedAt,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].LastUsedAt.After(views[j].LastUsedAt)
	})
	return views
}
