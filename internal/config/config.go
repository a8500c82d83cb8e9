// Package config provides configuration management for Signal Hub.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"signalhub/internal/domain"

	"github.com/BurntSushi/toml"
)

// EnvPrefix is the prefix for environment variable overrides. Nested keys
// are flattened with underscores, e.g. SIGNAL_HUB_CACHE_MAX_ENTRIES.
const EnvPrefix = "SIGNAL_HUB_"

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig           `toml:"server"`
	Models     map[string]ModelConfig `toml:"models"`
	Routing    RoutingConfig          `toml:"routing"`
	Cache      CacheConfig            `toml:"cache"`
	Escalation EscalationConfig       `toml:"escalation"`
	Ledger     LedgerConfig           `toml:"ledger"`
	Embedder   EmbedderConfig         `toml:"embedder"`
	Database   DatabaseConfig         `toml:"database"`
	Provider   ProviderConfig         `toml:"provider"`
	Telemetry  TelemetryConfig        `toml:"telemetry"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	HTTPPort     int           `toml:"http_port"`
	BindAddress  string        `toml:"bind_address"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

// ModelConfig contains pricing and limits for one model tier.
type ModelConfig struct {
	Name             string  `toml:"name"`
	InputPricePer1M  float64 `toml:"input_price_per_1m"`
	OutputPricePer1M float64 `toml:"output_price_per_1m"`
	ContextWindow    int     `toml:"context_window"`
	MaxOutputTokens  int     `toml:"max_output_tokens"`
}

// RuleConfig configures a single routing rule.
type RuleConfig struct {
	Name       string         `toml:"name"`
	Enabled    bool           `toml:"enabled"`
	Priority   int            `toml:"priority"`
	Parameters map[string]any `toml:"parameters"`
}

// RoutingConfig contains routing engine settings.
type RoutingConfig struct {
	DefaultModel string       `toml:"default_model"`
	Rules        []RuleConfig `toml:"rules"`
}

// CacheConfig contains semantic cache settings.
type CacheConfig struct {
	Enabled             bool          `toml:"enabled"`
	SimilarityThreshold float64       `toml:"similarity_threshold"`
	TTLHours            float64       `toml:"ttl_hours"`
	MaxEntries          int           `toml:"max_entries"`
	MaxMemoryMB         int           `toml:"max_memory_mb"`
	StorageBackend      string        `toml:"storage_backend"` // "memory" or "persistent"
	ContextAware        bool          `toml:"context_aware"`
	EvictionStrategy    string        `toml:"eviction_strategy"` // lru, ttl, quality, composite
	MaintenanceInterval time.Duration `toml:"maintenance_interval"`
}

// EscalationConfig contains escalation layer settings.
type EscalationConfig struct {
	SessionDefaultDurationMinutes int  `toml:"session_default_duration_minutes"`
	InlineHintsEnabled            bool `toml:"inline_hints_enabled"`
}

// LedgerConfig contains cost ledger settings.
type LedgerConfig struct {
	RetentionDays int    `toml:"retention_days"`
	StoragePath   string `toml:"storage_path"` // sqlite file; empty selects the database driver
}

// EmbedderConfig contains embedder settings for semantic lookup.
type EmbedderConfig struct {
	Type      string        `toml:"type"` // "ollama", "openai", "local"
	APIKey    string        `toml:"api_key"`
	BaseURL   string        `toml:"base_url"`
	Model     string        `toml:"model"`
	CacheSize int           `toml:"cache_size"`
	Timeout   time.Duration `toml:"timeout"`
}

// DatabaseConfig contains PostgreSQL settings for persistent backends.
type DatabaseConfig struct {
	DSN      string `toml:"dsn"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"ssl_mode"`
	MaxConns int    `toml:"max_conns"`
}

// GetDSN returns the DSN for the database.
func (d *DatabaseConfig) GetDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

// ProviderConfig contains model provider settings.
type ProviderConfig struct {
	Type    string `toml:"type"` // "static", "anthropic", "bedrock"
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Region  string `toml:"region"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
	LogLevel    string `toml:"log_level"`
	LogFormat   string `toml:"log_format"`
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			BindAddress:  "0.0.0.0",
			ReadTimeout:  time.Minute,
			WriteTimeout: 2 * time.Minute,
		},
		Models: map[string]ModelConfig{
			"small": {
				Name:             "claude-3-5-haiku-20241022",
				InputPricePer1M:  0.80,
				OutputPricePer1M: 4.00,
				ContextWindow:    200_000,
				MaxOutputTokens:  8_192,
			},
			"medium": {
				Name:             "claude-sonnet-4-20250514",
				InputPricePer1M:  3.00,
				OutputPricePer1M: 15.00,
				ContextWindow:    200_000,
				MaxOutputTokens:  64_000,
			},
			"large": {
				Name:             "claude-opus-4-20250514",
				InputPricePer1M:  15.00,
				OutputPricePer1M: 75.00,
				ContextWindow:    200_000,
				MaxOutputTokens:  32_000,
			},
		},
		Routing: RoutingConfig{
			DefaultModel: "medium",
			Rules: []RuleConfig{
				{Name: "task_type", Enabled: true, Priority: 100},
				{Name: "complexity_based", Enabled: true, Priority: 50},
				{Name: "length_based", Enabled: true, Priority: 10},
			},
		},
		Cache: CacheConfig{
			Enabled:             true,
			SimilarityThreshold: 0.85,
			TTLHours:            24,
			MaxEntries:          10_000,
			MaxMemoryMB:         512,
			StorageBackend:      "memory",
			ContextAware:        true,
			EvictionStrategy:    "composite",
			MaintenanceInterval: time.Hour,
		},
		Escalation: EscalationConfig{
			SessionDefaultDurationMinutes: 30,
			InlineHintsEnabled:            true,
		},
		Ledger: LedgerConfig{
			RetentionDays: 90,
			StoragePath:   "signalhub.db",
		},
		Embedder: EmbedderConfig{
			Type:      "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			CacheSize: 1000,
			Timeout:   30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "signalhub",
			SSLMode:  "disable",
			MaxConns: 20,
		},
		Provider: ProviderConfig{
			Type: "anthropic",
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: "signalhub",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load loads configuration from a file, applies environment overrides, and
// validates. A missing file yields defaults; a malformed file or invalid
// values are fatal.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. Errors here refuse start-up.
func (c *Config) Validate() error {
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: cache.similarity_threshold must be in [0,1], got %v",
			domain.ErrInvalidInput, c.Cache.SimilarityThreshold)
	}
	if c.Cache.TTLHours <= 0 {
		return fmt.Errorf("%w: cache.ttl_hours must be > 0, got %v", domain.ErrInvalidInput, c.Cache.TTLHours)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("%w: cache.max_entries must be > 0, got %d", domain.ErrInvalidInput, c.Cache.MaxEntries)
	}
	switch c.Cache.StorageBackend {
	case "memory", "persistent":
	default:
		return fmt.Errorf("%w: cache.storage_backend must be memory or persistent, got %q",
			domain.ErrInvalidInput, c.Cache.StorageBackend)
	}
	switch c.Cache.EvictionStrategy {
	case "lru", "ttl", "quality", "composite":
	default:
		return fmt.Errorf("%w: cache.eviction_strategy %q not recognised",
			domain.ErrInvalidInput, c.Cache.EvictionStrategy)
	}
	if _, ok := domain.ParseTier(c.Routing.DefaultModel); !ok {
		return fmt.Errorf("%w: routing.default_model %q", domain.ErrUnknownModel, c.Routing.DefaultModel)
	}
	for _, tier := range domain.AllTiers() {
		m, ok := c.Models[string(tier)]
		if !ok {
			return fmt.Errorf("%w: models.%s missing", domain.ErrInvalidInput, tier)
		}
		if m.InputPricePer1M < 0 || m.OutputPricePer1M < 0 {
			return fmt.Errorf("%w: models.%s prices must be non-negative", domain.ErrInvalidInput, tier)
		}
	}
	return nil
}

// DefaultModel returns the configured routing fallback tier.
func (c *Config) DefaultModel() domain.ModelTier {
	tier, _ := domain.ParseTier(c.Routing.DefaultModel)
	return tier
}

// ModelInfo converts a tier's ModelConfig to domain.ModelInfo.
func (c *Config) ModelInfo(tier domain.ModelTier) (domain.ModelInfo, bool) {
	m, ok := c.Models[string(tier)]
	if !ok {
		return domain.ModelInfo{}, false
	}
	return domain.ModelInfo{
		ID:              tier,
		Name:            m.Name,
		InputCostPer1M:  m.InputPricePer1M,
		OutputCostPer1M: m.OutputPricePer1M,
		ContextWindow:   m.ContextWindow,
		MaxOutputTokens: m.MaxOutputTokens,
	}, true
}

// applyEnvOverrides applies SIGNAL_HUB_* environment variables, coercing
// each value to the schema type of the key it overrides.
func (c *Config) applyEnvOverrides() {
	envStr(&c.Server.BindAddress, "SERVER_BIND_ADDRESS")
	envInt(&c.Server.HTTPPort, "SERVER_HTTP_PORT")

	envStr(&c.Routing.DefaultModel, "ROUTING_DEFAULT_MODEL")

	envBool(&c.Cache.Enabled, "CACHE_ENABLED")
	envFloat(&c.Cache.SimilarityThreshold, "CACHE_SIMILARITY_THRESHOLD")
	envFloat(&c.Cache.TTLHours, "CACHE_TTL_HOURS")
	envInt(&c.Cache.MaxEntries, "CACHE_MAX_ENTRIES")
	envInt(&c.Cache.MaxMemoryMB, "CACHE_MAX_MEMORY_MB")
	envStr(&c.Cache.StorageBackend, "CACHE_STORAGE_BACKEND")
	envBool(&c.Cache.ContextAware, "CACHE_CONTEXT_AWARE")
	envStr(&c.Cache.EvictionStrategy, "CACHE_EVICTION_STRATEGY")

	envInt(&c.Escalation.SessionDefaultDurationMinutes, "ESCALATION_SESSION_DEFAULT_DURATION_MINUTES")
	envBool(&c.Escalation.InlineHintsEnabled, "ESCALATION_INLINE_HINTS_ENABLED")

	envInt(&c.Ledger.RetentionDays, "LEDGER_RETENTION_DAYS")
	envStr(&c.Ledger.StoragePath, "LEDGER_STORAGE_PATH")

	envStr(&c.Embedder.Type, "EMBEDDER_TYPE")
	envStr(&c.Embedder.APIKey, "EMBEDDER_API_KEY")
	envStr(&c.Embedder.BaseURL, "EMBEDDER_BASE_URL")
	envStr(&c.Embedder.Model, "EMBEDDER_MODEL")
	envInt(&c.Embedder.CacheSize, "EMBEDDER_CACHE_SIZE")

	envStr(&c.Database.DSN, "DATABASE_DSN")
	envStr(&c.Database.Host, "DATABASE_HOST")
	envInt(&c.Database.Port, "DATABASE_PORT")
	envStr(&c.Database.User, "DATABASE_USER")
	envStr(&c.Database.Password, "DATABASE_PASSWORD")
	envStr(&c.Database.Database, "DATABASE_DATABASE")

	envStr(&c.Provider.Type, "PROVIDER_TYPE")
	envStr(&c.Provider.APIKey, "PROVIDER_API_KEY")
	envStr(&c.Provider.Region, "PROVIDER_REGION")

	envStr(&c.Telemetry.LogLevel, "TELEMETRY_LOG_LEVEL")
	envStr(&c.Telemetry.LogFormat, "TELEMETRY_LOG_FORMAT")

	// Per-tier pricing overrides, e.g. SIGNAL_HUB_MODELS_SMALL_INPUT_PRICE_PER_1M.
	for _, tier := range domain.AllTiers() {
		key := strings.ToUpper(string(tier))
		m := c.Models[string(tier)]
		envStr(&m.Name, "MODELS_"+key+"_NAME")
		envFloat(&m.InputPricePer1M, "MODELS_"+key+"_INPUT_PRICE_PER_1M")
		envFloat(&m.OutputPricePer1M, "MODELS_"+key+"_OUTPUT_PRICE_PER_1M")
		envInt(&m.ContextWindow, "MODELS_"+key+"_CONTEXT_WINDOW")
		envInt(&m.MaxOutputTokens, "MODELS_"+key+"_MAX_OUTPUT_TOKENS")
		c.Models[string(tier)] = m
	}
}

func envStr(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
