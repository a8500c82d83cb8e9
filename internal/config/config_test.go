package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"signalhub/internal/domain"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Routing.DefaultModel != "medium" {
		t.Errorf("default model = %q, want medium", cfg.Routing.DefaultModel)
	}
	if cfg.Cache.SimilarityThreshold != 0.85 {
		t.Errorf("similarity threshold = %v, want 0.85", cfg.Cache.SimilarityThreshold)
	}
	for _, tier := range domain.AllTiers() {
		info, ok := cfg.ModelInfo(tier)
		if !ok {
			t.Fatalf("tier %s missing from defaults", tier)
		}
		if info.InputCostPer1M <= 0 || info.OutputCostPer1M <= 0 {
			t.Errorf("tier %s has no pricing", tier)
		}
	}
	small, _ := cfg.ModelInfo(domain.TierSmall)
	large, _ := cfg.ModelInfo(domain.TierLarge)
	if small.InputCostPer1M >= large.InputCostPer1M {
		t.Error("small tier priced at or above large tier")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("http_port = %d, want default 8080", cfg.Server.HTTPPort)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[server]
http_port = 9090

[cache]
similarity_threshold = 0.92
eviction_strategy = "lru"

[routing]
default_model = "small"

[models.small]
name = "claude-3-5-haiku-20241022"
input_price_per_1m = 1.0
output_price_per_1m = 5.0
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("http_port = %d, want 9090", cfg.Server.HTTPPort)
	}
	if cfg.Cache.SimilarityThreshold != 0.92 {
		t.Errorf("similarity_threshold = %v, want 0.92", cfg.Cache.SimilarityThreshold)
	}
	if cfg.Cache.EvictionStrategy != "lru" {
		t.Errorf("eviction_strategy = %q, want lru", cfg.Cache.EvictionStrategy)
	}
	if cfg.DefaultModel() != domain.TierSmall {
		t.Errorf("default model = %s, want small", cfg.DefaultModel())
	}
	// Unset sections keep their defaults.
	if cfg.Ledger.RetentionDays != 90 {
		t.Errorf("retention_days = %d, want default 90", cfg.Ledger.RetentionDays)
	}
	small, _ := cfg.ModelInfo(domain.TierSmall)
	if small.InputCostPer1M != 1.0 {
		t.Errorf("small input price = %v, want file value 1.0", small.InputCostPer1M)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server\nhttp_port ="), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIGNAL_HUB_SERVER_HTTP_PORT", "7070")
	t.Setenv("SIGNAL_HUB_ROUTING_DEFAULT_MODEL", "large")
	t.Setenv("SIGNAL_HUB_CACHE_ENABLED", "false")
	t.Setenv("SIGNAL_HUB_CACHE_SIMILARITY_THRESHOLD", "0.95")
	t.Setenv("SIGNAL_HUB_MODELS_SMALL_INPUT_PRICE_PER_1M", "0.25")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 7070 {
		t.Errorf("http_port = %d, want env value 7070", cfg.Server.HTTPPort)
	}
	if cfg.DefaultModel() != domain.TierLarge {
		t.Errorf("default model = %s, want large", cfg.DefaultModel())
	}
	if cfg.Cache.Enabled {
		t.Error("cache still enabled despite env override")
	}
	if cfg.Cache.SimilarityThreshold != 0.95 {
		t.Errorf("similarity_threshold = %v, want 0.95", cfg.Cache.SimilarityThreshold)
	}
	small, _ := cfg.ModelInfo(domain.TierSmall)
	if small.InputCostPer1M != 0.25 {
		t.Errorf("small input price = %v, want env value 0.25", small.InputCostPer1M)
	}
}

func TestEnvOverrideBadValueIgnored(t *testing.T) {
	t.Setenv("SIGNAL_HUB_SERVER_HTTP_PORT", "not-a-number")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("http_port = %d, want default 8080", cfg.Server.HTTPPort)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Cache.SimilarityThreshold = 1.5 }},
		{"threshold negative", func(c *Config) { c.Cache.SimilarityThreshold = -0.1 }},
		{"zero ttl", func(c *Config) { c.Cache.TTLHours = 0 }},
		{"zero max entries", func(c *Config) { c.Cache.MaxEntries = 0 }},
		{"bad storage backend", func(c *Config) { c.Cache.StorageBackend = "redis" }},
		{"bad eviction strategy", func(c *Config) { c.Cache.EvictionStrategy = "random" }},
		{"unknown default model", func(c *Config) { c.Routing.DefaultModel = "gigantic" }},
		{"missing tier", func(c *Config) { delete(c.Models, "large") }},
		{"negative price", func(c *Config) {
			m := c.Models["small"]
			m.InputPricePer1M = -1
			c.Models["small"] = m
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("error %v not classified as invalid input", err)
			}
		})
	}
}
