// Package main is the entry point for the Signal Hub server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalhub/internal/cache"
	"signalhub/internal/cache/embedding"
	"signalhub/internal/cache/eviction"
	"signalhub/internal/cache/semantic"
	"signalhub/internal/cache/storage"
	"signalhub/internal/config"
	"signalhub/internal/domain"
	"signalhub/internal/gateway"
	"signalhub/internal/ledger"
	"signalhub/internal/mcp"
	"signalhub/internal/pricing"
	"signalhub/internal/provider"
	"signalhub/internal/routing"
	"signalhub/internal/routing/escalation"
	"signalhub/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)
	slog.Info("starting signalhub",
		"version", "0.1.0",
		"http_port", cfg.Server.HTTPPort,
		"cache_backend", cfg.Cache.StorageBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.New()

	calc, err := newCalculator(cfg)
	if err != nil {
		slog.Error("failed to build pricing table", "error", err)
		os.Exit(1)
	}

	store, err := newLedgerStore(cfg)
	if err != nil {
		slog.Error("failed to open cost ledger", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	prov, err := newProvider(ctx, cfg)
	if err != nil {
		slog.Error("failed to build model provider", "error", err)
		os.Exit(1)
	}
	cachedProv := provider.NewCachedAvailability(prov, 0)

	sessions := escalation.NewSessionManager(
		time.Duration(cfg.Escalation.SessionDefaultDurationMinutes) * time.Minute)
	layer := escalation.NewLayer(sessions, cfg.Escalation.InlineHintsEnabled)
	engine := routing.NewEngine(layer, newRuleStack(cfg), cachedProv, calc, cfg.DefaultModel(), nil)

	var (
		semCache *semantic.Cache
		manager  *cache.Manager
	)
	if cfg.Cache.Enabled {
		cacheStore, err := newCacheStore(cfg)
		if err != nil {
			slog.Error("failed to open cache storage", "error", err)
			os.Exit(1)
		}
		defer cacheStore.Close()

		semCache = semantic.New(newEmbedder(cfg), cacheStore, semantic.Config{
			SimilarityThreshold: cfg.Cache.SimilarityThreshold,
			TTL:                 time.Duration(cfg.Cache.TTLHours * float64(time.Hour)),
			Capacity:            cfg.Cache.MaxEntries,
			ContextAware:        cfg.Cache.ContextAware,
		}, nil)

		manager = cache.NewManager(cacheStore, eviction.ForStrategy(cfg.Cache.EvictionStrategy),
			cfg.Cache.MaxEntries, cfg.Cache.MaintenanceInterval, metrics, nil)
		manager.Start(ctx)
		defer manager.Stop()
	}

	gw := gateway.New(engine, semCache, cachedProv, store, calc, metrics, nil)

	go runRetentionLoop(ctx, store, cfg.Ledger.RetentionDays)

	costFactor := func(tier domain.ModelTier) float64 {
		f, _ := calc.CostFactor(tier)
		return f
	}
	mcpServer := mcp.NewServer(gw, sessions, costFactor, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpServer)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", healthHandler(gw, manager))
	mux.HandleFunc("/stats", statsHandler(gw, engine, semCache))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	slog.Info("signalhub stopped")
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Telemetry.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	if cfg.Telemetry.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func newCalculator(cfg *config.Config) (*pricing.Calculator, error) {
	table := make(pricing.Table)
	for _, tier := range domain.AllTiers() {
		info, ok := cfg.ModelInfo(tier)
		if !ok {
			return nil, fmt.Errorf("models.%s missing", tier)
		}
		table[tier] = info
	}
	return pricing.NewCalculator(table)
}

func newLedgerStore(cfg *config.Config) (ledger.Store, error) {
	if cfg.Ledger.StoragePath != "" {
		return ledger.NewSQLiteStore(cfg.Ledger.StoragePath)
	}
	return ledger.NewPostgresStore(cfg.Database.GetDSN(), cfg.Database.MaxConns)
}

func newCacheStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Cache.StorageBackend == "persistent" {
		return storage.NewPostgresStore(cfg.Database.GetDSN(), cfg.Cache.MaxEntries, cfg.Database.MaxConns)
	}
	return storage.NewMemoryStore(cfg.Cache.MaxEntries), nil
}

func newEmbedder(cfg *config.Config) *embedding.Service {
	var client embedding.Embedder
	switch cfg.Embedder.Type {
	case "openai":
		client = embedding.NewOpenAIClient(cfg.Embedder.APIKey, cfg.Embedder.BaseURL, cfg.Embedder.Model)
	case "local":
		client = embedding.NewLocalClient(256)
	default:
		client = embedding.NewOllamaClient(cfg.Embedder.BaseURL, cfg.Embedder.Model)
	}
	return embedding.NewService(client, cfg.Embedder.CacheSize, cfg.Embedder.Timeout)
}

func newProvider(ctx context.Context, cfg *config.Config) (provider.ModelProvider, error) {
	models := make(map[domain.ModelTier]string)
	for _, tier := range domain.AllTiers() {
		if info, ok := cfg.ModelInfo(tier); ok {
			models[tier] = info.Name
		}
	}
	switch cfg.Provider.Type {
	case "static":
		return provider.NewStaticProvider(), nil
	case "bedrock":
		return provider.NewBedrockProvider(ctx, cfg.Provider.Region, "", "", models)
	default:
		return provider.NewAnthropicProvider(cfg.Provider.APIKey, cfg.Provider.BaseURL, models)
	}
}

func newRuleStack(cfg *config.Config) *routing.Stack {
	var rules []routing.Rule
	for _, rc := range cfg.Routing.Rules {
		switch rc.Name {
		case "length_based":
			rules = append(rules, routing.NewLengthRule(rc.Priority, rc.Enabled,
				paramInt(rc.Parameters, "small_threshold"), paramInt(rc.Parameters, "medium_threshold")))
		case "complexity_based":
			rules = append(rules, routing.NewComplexityRule(rc.Priority, rc.Enabled,
				paramStrings(rc.Parameters, "simple_keywords"),
				paramStrings(rc.Parameters, "moderate_keywords"),
				paramStrings(rc.Parameters, "complex_keywords")))
		case "task_type":
			rules = append(rules, routing.NewTaskTypeRule(rc.Priority, rc.Enabled, nil))
		default:
			slog.Warn("unknown routing rule in config", "rule", rc.Name)
		}
	}
	return routing.NewStack(nil, rules...)
}

func paramInt(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func paramStrings(params map[string]any, key string) []string {
	raw, ok := params[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// runRetentionLoop prunes ledger records past the retention window once a
// day.
func runRetentionLoop(ctx context.Context, store ledger.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			removed, err := store.Prune(ctx, cutoff)
			if err != nil {
				slog.Error("ledger retention prune failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("ledger retention prune complete", "removed", removed, "cutoff", cutoff)
			}
		}
	}
}

func healthHandler(gw *gateway.Service, manager *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := map[string]any{
			"status":                 "ok",
			"ledger_append_failures": gw.LedgerFailures(),
		}
		if manager != nil {
			if ch, err := manager.Health(r.Context()); err == nil {
				health["cache"] = ch
			} else {
				health["status"] = "degraded"
				health["cache_error"] = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	}
}

func statsHandler(gw *gateway.Service, engine *routing.Engine, semCache *semantic.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := map[string]any{
			"routing": engine.Metrics(),
		}
		if semCache != nil {
			stats["cache"] = semCache.Stats()
		}
		if sum, err := gw.Summary(r.Context(), 24*time.Hour, r.URL.Query().Get("user_id")); err == nil {
			stats["last_24h"] = sum
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}
