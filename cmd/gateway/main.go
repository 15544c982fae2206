// Command gateway runs both vendor HTTP listeners (Vendor-A, Vendor-K) as a
// single long-running process, per spec §2. Each vendor gets its own
// Service Facade, account pool, stats store, and API-key registry sharing
// one SQLite-backed account store and one utls/proxy transport manager.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mira-ai/antigravity-gateway/internal/account"
	"github.com/mira-ai/antigravity-gateway/internal/apikey"
	"github.com/mira-ai/antigravity-gateway/internal/config"
	"github.com/mira-ai/antigravity-gateway/internal/cryptoutil"
	"github.com/mira-ai/antigravity-gateway/internal/dialect"
	"github.com/mira-ai/antigravity-gateway/internal/gateway"
	"github.com/mira-ai/antigravity-gateway/internal/jsonstore"
	"github.com/mira-ai/antigravity-gateway/internal/logging"
	"github.com/mira-ai/antigravity-gateway/internal/pool"
	"github.com/mira-ai/antigravity-gateway/internal/server"
	"github.com/mira-ai/antigravity-gateway/internal/stats"
	"github.com/mira-ai/antigravity-gateway/internal/store"
	"github.com/mira-ai/antigravity-gateway/internal/transport"
	"github.com/mira-ai/antigravity-gateway/internal/upstream/vendora"
	"github.com/mira-ai/antigravity-gateway/internal/upstream/vendork"
)

var version = "dev"

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}

	logHandler := logging.NewRingHandler(parseLevel(cfg.LogLevel), 1000)
	slog.SetDefault(slog.New(logHandler))
	slog.Info("antigravity-gateway starting", "version", version)

	crypto := cryptoutil.NewBox(cfg.EncryptionKey)

	db, err := store.Open(cfg.DataDir+"/gateway.db", crypto)
	if err != nil {
		slog.Error("database init failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database ready", "dir", cfg.DataDir)

	tm := transport.NewManager(cfg)
	defer tm.Close()

	bus := logging.NewBus(200)

	statsStoreA := loadStats(cfg.DataDir + "/vendor_a_stats.json")
	statsStoreK := loadStats(cfg.DataDir + "/vendor_k_stats.json")

	tokensA := account.NewTokenManager(db, vendora.NewRefreshFunc(cfg.VendorAOAuthClientID, cfg.VendorAOAuthClientSecret), cfg.TokenRefreshAdvance)
	tokensK := account.NewTokenManager(db, vendork.NewRefreshFunc(), cfg.TokenRefreshAdvance)

	poolA := pool.New(account.VendorA, db, pool.VendorACooldowns)
	poolK := pool.New(account.VendorK, db, pool.VendorKCooldowns)

	keysA := apikey.NewRegistry(nil, os.Getenv("VENDOR_A_API_KEY"))
	keysK := apikey.NewRegistry(nil, os.Getenv("VENDOR_K_API_KEY"))

	cfgStoreA := jsonstore.New(cfg.DataDir + "/vendor_a_config.json")
	cfgStoreK := jsonstore.New(cfg.DataDir + "/vendor_k_config.json")

	runtimeCfgA := defaultRuntimeConfig(cfg.VendorAHost, cfg.VendorAPort, cfg)
	runtimeCfgK := defaultRuntimeConfig(cfg.VendorKHost, cfg.VendorKPort, cfg)
	if err := cfgStoreA.Load(&runtimeCfgA); err != nil {
		slog.Warn("load vendor-a config failed, using defaults", "error", err)
	}
	if err := cfgStoreK.Load(&runtimeCfgK); err != nil {
		slog.Warn("load vendor-k config failed, using defaults", "error", err)
	}

	facadeA := gateway.New(account.VendorA, poolA, tokensA, statsStoreA, keysA, tm, runtimeCfgA)
	facadeK := gateway.New(account.VendorK, poolK, tokensK, statsStoreK, keysK, tm, runtimeCfgK)

	srvA := server.New(account.VendorA, facadeA, bus, version)
	srvK := server.New(account.VendorK, facadeK, bus, version)

	if runtimeCfgA.Enabled {
		if _, err := srvA.Start(runtimeCfgA.Host, runtimeCfgA.Port); err != nil {
			slog.Error("vendor-a listener failed to start", "error", err)
			os.Exit(1)
		}
		slog.Info("vendor-a listening", "host", runtimeCfgA.Host, "port", runtimeCfgA.Port)
	}
	if runtimeCfgK.Enabled {
		if _, err := srvK.Start(runtimeCfgK.Host, runtimeCfgK.Port); err != nil {
			slog.Error("vendor-k listener failed to start", "error", err)
			os.Exit(1)
		}
		slog.Info("vendor-k listening", "host", runtimeCfgK.Host, "port", runtimeCfgK.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_ = srvA.Stop(shutdownCtx)
	_ = srvK.Stop(shutdownCtx)

	if err := cfgStoreA.Save(facadeA.Config()); err != nil {
		slog.Warn("persist vendor-a config failed", "error", err)
	}
	if err := cfgStoreK.Save(facadeK.Config()); err != nil {
		slog.Warn("persist vendor-k config failed", "error", err)
	}
	saveStats(cfg.DataDir+"/vendor_a_stats.json", statsStoreA)
	saveStats(cfg.DataDir+"/vendor_k_stats.json", statsStoreK)
}

func defaultRuntimeConfig(host string, port int, cfg *config.Config) gateway.RuntimeConfig {
	return gateway.RuntimeConfig{
		Enabled:            true,
		Host:               host,
		Port:               port,
		MaxRetries:         cfg.DefaultMaxRetries,
		RetryDelayMS:       cfg.DefaultRetryDelayMS,
		ThinkingFormat:     dialect.ThinkingAsReasoningContent,
		ModelCacheTTLSec:   cfg.ModelCacheTTLSec,
		AutoContinueRounds: 1,
	}
}

type statsFile struct {
	Aggregate stats.Aggregate    `json:"aggregate"`
	Logs      []stats.RequestLog `json:"logs"`
}

func loadStats(path string) *stats.Store {
	f := jsonstore.New(path)
	var saved statsFile
	if err := f.Load(&saved); err != nil {
		slog.Warn("load stats failed, starting empty", "path", path, "error", err)
		return stats.NewEmptyStore()
	}
	if saved.Logs == nil {
		return stats.NewEmptyStore()
	}
	return stats.NewStore(saved.Aggregate, saved.Logs)
}

func saveStats(path string, st *stats.Store) {
	f := jsonstore.New(path)
	saved := statsFile{Aggregate: st.Aggregate(), Logs: st.AllLogs()}
	if err := f.Save(saved); err != nil {
		slog.Warn("persist stats failed", "path", path, "error", err)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
