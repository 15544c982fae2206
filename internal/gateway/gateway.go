// Package gateway implements the Service Facade (spec §5): one
// write-exclusive runtime state per vendor (Account Pool, Stats Store,
// Model Cache, live-patchable config) coordinating the Dialect Translator,
// vendor codecs, and the Retry State Machine behind a single Dispatch call.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/mira-ai/antigravity-gateway/internal/account"
	"github.com/mira-ai/antigravity-gateway/internal/apikey"
	"github.com/mira-ai/antigravity-gateway/internal/dialect"
	"github.com/mira-ai/antigravity-gateway/internal/modelmap"
	"github.com/mira-ai/antigravity-gateway/internal/pool"
	"github.com/mira-ai/antigravity-gateway/internal/retry"
	"github.com/mira-ai/antigravity-gateway/internal/stats"
	"github.com/mira-ai/antigravity-gateway/internal/transport"
	"github.com/mira-ai/antigravity-gateway/internal/upstream/vendora"
	"github.com/mira-ai/antigravity-gateway/internal/upstream/vendork"
)

// RuntimeConfig is the admin-patchable subset of a vendor's behavior (spec
// §3 "Config snapshot"), distinct from internal/config.Config's
// process-lifetime settings.
type RuntimeConfig struct {
	Enabled             bool
	Host                string
	Port                int
	APIKey              string // Vendor-A: single admin bearer token
	MultiAccount        bool
	SelectedAccountIDs  []string
	MaxRetries          int
	RetryDelayMS        int
	ThinkingFormat       dialect.ThinkingFormat
	PreferredEndpoint   string // Vendor-K only: "" or contains "amazonq"
	DisableTools        bool
	AutoContinueRounds  int
	ModelCacheTTLSec    int
	ModelMappings       []modelmap.Rule
}

// ModelCache holds a vendor's last-fetched model catalog plus its fetch
// time, refreshed at most once per ModelCacheTTLSec via a single-flight
// lock (spec §4.9/§5 "single-flight mutex for refresh_models").
type ModelCache struct {
	FetchedAt time.Time
	Models    []CatalogModel
}

// CatalogModel is a vendor-agnostic projection of vendork.ProxyModel /
// vendora.Model for the /v1/models surface.
type CatalogModel struct {
	ID          string
	Name        string
	Description string
	Source      string
}

// Facade is one vendor's runtime: everything internal/server needs to
// authenticate, route, translate, call upstream, retry, and record one
// client request, behind a single coarse lock per spec §5's "one
// write-exclusive state" rule. Reads that don't need a consistent
// multi-field snapshot (stats, api keys, pool views) use their own
// internal locking instead of this one.
type Facade struct {
	Vendor account.Vendor

	Pool    *pool.Pool
	Tokens  *account.TokenManager
	Stats   *stats.Store
	APIKeys *apikey.Registry

	// transport hands out per-account utls-fingerprinted, optionally
	// proxied HTTP clients; httpClient is its shared direct-dial client,
	// used wherever the Retry State Machine needs one client before an
	// account is chosen for a given attempt (e.g. token refresh).
	transport  *transport.Manager
	httpClient *http.Client

	mu         sync.RWMutex
	cfg        RuntimeConfig
	models     ModelCache
	modelsLock sync.Mutex // single-flight guard for RefreshModels
	running    bool

	// projectIDs caches each Vendor-A account's resolved GCP project id.
	// Unused by Vendor-K.
	projectIDs   map[string]string
	projectIDsMu sync.Mutex
}

// New builds one vendor's facade. tm hands out per-account utls/proxy HTTP
// clients; calls whose account is only known inside a retry.Caller closure
// (the actual upstream call) use tm.GetClient(acct) directly, while calls
// that need a client before an account is selected (retry's token-refresh
// plumbing) share tm's direct-dial client.
func New(vendor account.Vendor, p *pool.Pool, tokens *account.TokenManager, st *stats.Store, keys *apikey.Registry, tm *transport.Manager, cfg RuntimeConfig) *Facade {
	return &Facade{
		Vendor:     vendor,
		Pool:       p,
		Tokens:     tokens,
		Stats:      st,
		APIKeys:    keys,
		transport:  tm,
		httpClient: tm.GetClient(&account.Account{}),
		cfg:        cfg,
		projectIDs: make(map[string]string),
	}
}

// Config returns a copy of the current live config.
func (f *Facade) Config() RuntimeConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

// ApplyConfigPatch replaces the live config and re-applies account
// selection to the pool. It does not itself restart the HTTP listener; the
// returned bool tells the caller (internal/server) whether the listening
// host/port changed and a restart() is required (spec §4.1 "if running and
// host/port changed, triggers restart").
//
// Per spec §5's ordering guarantee, the new selected_account_ids must be
// visible on the very next take_next_account, so Configure is immediately
// followed by a Sync rather than waiting for the next Dispatch-driven one.
func (f *Facade) ApplyConfigPatch(cfg RuntimeConfig) (restartNeeded bool) {
	f.mu.Lock()
	old := f.cfg
	f.cfg = cfg
	f.mu.Unlock()

	f.Pool.Configure(cfg.MultiAccount, cfg.SelectedAccountIDs)
	if err := f.Pool.Sync(); err != nil {
		slog.Warn("pool sync after config patch failed", "vendor", f.Vendor, "error", err)
	}
	return old.Host != cfg.Host || old.Port != cfg.Port
}

// Start marks the facade running and performs the first account pool sync.
func (f *Facade) Start() error {
	f.mu.Lock()
	f.running = true
	cfg := f.cfg
	f.mu.Unlock()

	f.Pool.Configure(cfg.MultiAccount, cfg.SelectedAccountIDs)
	return f.Pool.Sync()
}

// Stop is a one-shot graceful shutdown marker (spec §5): it does not abort
// in-flight upstream calls, it only stops new Dispatch callers from being
// accepted by internal/server's routing layer.
func (f *Facade) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func (f *Facade) Running() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

// Dispatch resolves model mapping, drives the Retry State Machine against
// this vendor's codec, and records stats/usage accounting for one client
// request. onMessage receives decoded UpstreamEvents as they stream in.
func (f *Facade) Dispatch(ctx context.Context, req dialect.NormalizedRequest, apiKeyID string, path string, onMessage func(dialect.UpstreamEvent)) (dialect.Usage, error) {
	cfg := f.Config()

	if mapped, ok := f.resolveModel(req.RequestedModel, apiKeyID, cfg); ok {
		req.Model = mapped
	} else if req.Model == "" {
		req.Model = req.RequestedModel
	}

	retryCfg := retry.Config{
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    time.Duration(cfg.RetryDelayMS) * time.Millisecond,
		EndpointCount: f.endpointCount(),
		Preferred:     cfg.PreferredEndpoint,
	}

	started := time.Now()
	var caller retry.Caller
	var ensure retry.ProjectEnsurer

	switch f.Vendor {
	case account.VendorK:
		caller = f.vendorKCaller(req, cfg)
	case account.VendorA:
		caller = f.vendorACaller(req)
		ensure = f.ensureProjectID
	default:
		return dialect.Usage{}, fmt.Errorf("unknown vendor %q", f.Vendor)
	}

	usage, err := retry.Run(ctx, retryCfg, f.Pool, f.Tokens, f.httpClient, ensure, caller, onMessage)

	f.record(req, apiKeyID, path, usage, err, time.Since(started))
	return usage, err
}

func (f *Facade) endpointCount() int {
	if f.Vendor == account.VendorK {
		return 2
	}
	return 1
}

func (f *Facade) resolveModel(requested, apiKeyID string, cfg RuntimeConfig) (string, bool) {
	if len(cfg.ModelMappings) == 0 {
		return requested, false
	}
	engine := modelmap.NewEngine(cfg.ModelMappings, rand.New(rand.NewSource(time.Now().UnixNano())))
	return engine.Resolve(requested, apiKeyID)
}

func (f *Facade) vendorKCaller(req dialect.NormalizedRequest, cfg RuntimeConfig) retry.Caller {
	return func(ctx context.Context, acct *account.Account, endpointIndex int, onMessage func(dialect.UpstreamEvent)) (dialect.Usage, error) {
		body, err := vendork.BuildRequest(req, acct.ProfileID)
		if err != nil {
			return dialect.Usage{}, fmt.Errorf("build vendor-k request: %w", err)
		}
		endpoints := vendork.OrderedEndpoints(cfg.PreferredEndpoint)
		if endpointIndex >= len(endpoints) {
			endpointIndex = 0
		}
		inputChars := len(req.CurrentMessage.Text)
		return vendork.CallGenerateAssistantResponse(ctx, f.transport.GetClient(acct), endpoints[endpointIndex], acct, body, inputChars, onMessage)
	}
}

func (f *Facade) vendorACaller(req dialect.NormalizedRequest) retry.Caller {
	return func(ctx context.Context, acct *account.Account, endpointIndex int, onMessage func(dialect.UpstreamEvent)) (dialect.Usage, error) {
		projectID := f.projectIDFor(acct.ID)
		body, err := vendora.BuildRequest(req, projectID, acct.ID)
		if err != nil {
			return dialect.Usage{}, fmt.Errorf("build vendor-a request: %w", err)
		}
		baseURL := vendora.ResolveBaseURL(acct.IsGCPToS, "")
		client := f.transport.GetClient(acct)
		if req.Stream {
			return vendora.StreamGenerateContent(ctx, client, acct, baseURL, body, onMessage)
		}
		events, usage, err := vendora.GenerateContent(ctx, client, acct, baseURL, body)
		if err != nil {
			return dialect.Usage{}, err
		}
		for _, ev := range events {
			onMessage(ev)
		}
		return usage, nil
	}
}

// ensureProjectID resolves (or re-resolves, if force) a Vendor-A account's
// cached project id, falling back to a synthesized one when nothing usable
// is cached (spec §4.6 INVALID_PROJECT branch).
func (f *Facade) ensureProjectID(ctx context.Context, acct *account.Account, force bool) error {
	f.projectIDsMu.Lock()
	defer f.projectIDsMu.Unlock()

	current := f.projectIDs[acct.ID]
	if !force && !vendora.IsInvalidProjectID(current) {
		return nil
	}
	f.projectIDs[acct.ID] = vendora.FallbackProjectID()
	return nil
}

func (f *Facade) projectIDFor(acctID string) string {
	f.projectIDsMu.Lock()
	defer f.projectIDsMu.Unlock()
	return f.projectIDs[acctID]
}

func (f *Facade) record(req dialect.NormalizedRequest, apiKeyID, path string, usage dialect.Usage, err error, duration time.Duration) {
	now := time.Now()
	log := stats.RequestLog{
		Timestamp:    now.Unix(),
		Vendor:       string(f.Vendor),
		Path:         path,
		Model:        req.Model,
		Success:      err == nil,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Credits:      usage.Credits,
		DurationMS:   duration.Milliseconds(),
	}
	if err != nil {
		log.Error = err.Error()
	}
	f.Stats.Record(log)

	if apiKeyID != "" {
		f.APIKeys.RecordUsage(apiKeyID, usage.Credits, usage.InputTokens, usage.OutputTokens, req.Model, path, now)
	}
}

// RefreshModels repopulates the model cache from upstream, single-flighted
// so concurrent callers during a TTL expiry only trigger one upstream call
// (spec §5).
func (f *Facade) RefreshModels(ctx context.Context, acct *account.Account) ([]CatalogModel, error) {
	f.modelsLock.Lock()
	defer f.modelsLock.Unlock()

	cfg := f.Config()
	ttl := time.Duration(cfg.ModelCacheTTLSec) * time.Second
	f.mu.RLock()
	cache := f.models
	f.mu.RUnlock()
	if ttl > 0 && time.Since(cache.FetchedAt) < ttl && len(cache.Models) > 0 {
		return cache.Models, nil
	}

	client := f.transport.GetClient(acct)
	var fresh []CatalogModel
	switch f.Vendor {
	case account.VendorK:
		models, err := vendork.ListAvailableModels(ctx, client, acct)
		if err != nil {
			return nil, err
		}
		for _, m := range models {
			fresh = append(fresh, CatalogModel{ID: m.ID, Name: m.Name, Description: m.Description, Source: m.Source})
		}
	case account.VendorA:
		projectID := f.projectIDFor(acct.ID)
		baseURL := vendora.ResolveBaseURL(acct.IsGCPToS, "")
		models, err := vendora.FetchModels(ctx, client, acct, baseURL, projectID)
		if err != nil {
			return nil, err
		}
		for _, m := range models {
			fresh = append(fresh, CatalogModel{ID: m.ID, Name: m.Name, Description: m.Description, Source: m.Source})
		}
	default:
		return nil, fmt.Errorf("unknown vendor %q", f.Vendor)
	}

	f.mu.Lock()
	f.models = ModelCache{FetchedAt: time.Now(), Models: fresh}
	f.mu.Unlock()
	return fresh, nil
}

// Models returns the cached catalog without triggering a refresh.
func (f *Facade) Models() []CatalogModel {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]CatalogModel, len(f.models.Models))
	copy(out, f.models.Models)
	return out
}
