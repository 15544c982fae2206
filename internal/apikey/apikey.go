// Package apikey implements the API-Key Registry (spec §4.8): multi-tenant
// bearer-key auth with per-key credits caps and usage history, grounded on
// original_source/kiro_proxy/stats.rs's record_api_key_usage/api_key_views.
package apikey

import (
	"sync"
	"time"
)

const maxUsageHistory = 100

// UsageDaily is one day's rollup within Usage.Daily.
type UsageDaily struct {
	Requests     uint64  `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Credits      float64 `json:"credits"`
}

// UsageModel is one model's rollup within Usage.ByModel.
type UsageModel struct {
	Requests     uint64  `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Credits      float64 `json:"credits"`
}

// UsageRecord is one entry in a key's bounded usage history, most recent
// first.
type UsageRecord struct {
	Timestamp    int64   `json:"timestamp"`
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Credits      float64 `json:"credits"`
	Path         string  `json:"path"`
}

// Usage is a key's running totals.
type Usage struct {
	TotalRequests     uint64                 `json:"total_requests"`
	TotalInputTokens  int64                  `json:"total_input_tokens"`
	TotalOutputTokens int64                  `json:"total_output_tokens"`
	TotalCredits      float64                `json:"total_credits"`
	Daily             map[string]*UsageDaily `json:"daily"`
	ByModel           map[string]*UsageModel `json:"by_model"`
}

func newUsage() Usage {
	return Usage{Daily: make(map[string]*UsageDaily), ByModel: make(map[string]*UsageModel)}
}

// Key is one configured API key (spec §4.8 "Per-key record").
type Key struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Secret       string        `json:"secret"`
	Enabled      bool          `json:"enabled"`
	CreatedAt    time.Time     `json:"created_at"`
	LastUsedAt   time.Time     `json:"last_used_at,omitempty"`
	CreditsLimit float64       `json:"credits_limit,omitempty"` // 0 means unlimited
	Usage        Usage         `json:"usage"`
	UsageHistory []UsageRecord `json:"usage_history"`
}

// View is the admin-facing read-only projection of a Key, with the secret
// masked to a preview (spec §4.8, mirroring api_key_views).
type View struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	KeyPreview   string        `json:"key_preview"`
	Enabled      bool          `json:"enabled"`
	CreatedAt    time.Time     `json:"created_at"`
	LastUsedAt   time.Time     `json:"last_used_at,omitempty"`
	CreditsLimit float64       `json:"credits_limit,omitempty"`
	Usage        Usage         `json:"usage"`
	UsageHistory []UsageRecord `json:"usage_history"`
}

func keyPreview(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}

// AuthResult is the outcome of authenticating one client request.
type AuthResult struct {
	Authenticated bool
	KeyID         string // empty for "single admin key" or "no auth configured" paths
	CreditsCapped bool
}

// Registry holds the configured keys plus the single-admin-key / pass-through
// fallbacks (spec §4.8).
type Registry struct {
	mu           sync.Mutex
	keys         map[string]*Key
	order        []string
	singleAPIKey string
}

func NewRegistry(keys []*Key, singleAPIKey string) *Registry {
	r := &Registry{keys: make(map[string]*Key), singleAPIKey: singleAPIKey}
	for _, k := range keys {
		if k.Usage.Daily == nil || k.Usage.ByModel == nil {
			u := newUsage()
			u.TotalRequests, u.TotalInputTokens, u.TotalOutputTokens, u.TotalCredits = k.Usage.TotalRequests, k.Usage.TotalInputTokens, k.Usage.TotalOutputTokens, k.Usage.TotalCredits
			k.Usage = u
		}
		r.keys[k.ID] = k
		r.order = append(r.order, k.ID)
	}
	return r
}

// Authenticate matches a presented secret (from Authorization: Bearer or
// X-Api-Key) against the registry per spec §4.8. With no keys and no single
// admin key configured, any presented secret (empty or not) passes through
// unauthenticated.
func (r *Registry) Authenticate(presented string) (AuthResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.keys) == 0 && r.singleAPIKey == "" {
		return AuthResult{Authenticated: true}, true
	}

	for _, id := range r.order {
		k := r.keys[id]
		if !k.Enabled || k.Secret != presented {
			continue
		}
		if k.CreditsLimit > 0 && k.Usage.TotalCredits >= k.CreditsLimit {
			return AuthResult{Authenticated: false, KeyID: k.ID, CreditsCapped: true}, true
		}
		return AuthResult{Authenticated: true, KeyID: k.ID}, true
	}

	if len(r.keys) == 0 && r.singleAPIKey != "" {
		if presented == r.singleAPIKey {
			return AuthResult{Authenticated: true}, true
		}
	}

	return AuthResult{}, false
}

// RecordUsage applies one successful request's accounting to a key,
// matching record_api_key_usage.
func (r *Registry) RecordUsage(keyID string, credits float64, inputTokens, outputTokens int64, model, path string, now time.Time) {
	if keyID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.keys[keyID]
	if !ok {
		return
	}

	k.LastUsedAt = now
	k.Usage.TotalRequests++
	k.Usage.TotalInputTokens += inputTokens
	k.Usage.TotalOutputTokens += outputTokens
	k.Usage.TotalCredits += credits

	dayKey := now.UTC().Format("2006-01-02")
	daily := k.Usage.Daily[dayKey]
	if daily == nil {
		daily = &UsageDaily{}
		k.Usage.Daily[dayKey] = daily
	}
	daily.Requests++
	daily.InputTokens += inputTokens
	daily.OutputTokens += outputTokens
	daily.Credits += credits

	if model != "" {
		byModel := k.Usage.ByModel[model]
		if byModel == nil {
			byModel = &UsageModel{}
			k.Usage.ByModel[model] = byModel
		}
		byModel.Requests++
		byModel.InputTokens += inputTokens
		byModel.OutputTokens += outputTokens
		byModel.Credits += credits
	}

	recordModel := model
	if recordModel == "" {
		recordModel = "unknown"
	}
	k.UsageHistory = append([]UsageRecord{{
		Timestamp:    now.Unix(),
		Model:        recordModel,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Credits:      credits,
		Path:         path,
	}}, k.UsageHistory...)
	if len(k.UsageHistory) > maxUsageHistory {
		k.UsageHistory = k.UsageHistory[:maxUsageHistory]
	}
}

// Views returns the admin-facing projection of every configured key.
func (r *Registry) Views() []View {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]View, 0, len(r.order))
	for _, id := range r.order {
		k := r.keys[id]
		views = append(views, View{
			ID:           k.ID,
			Name:         k.Name,
			KeyPreview:   keyPreview(k.Secret),
			Enabled:      k.Enabled,
			CreatedAt:    k.CreatedAt,
			LastUsedAt:   k.LastUsedAt,
			CreditsLimit: k.CreditsLimit,
			Usage:        k.Usage,
			UsageHistory: k.UsageHistory,
		})
	}
	return views
}
