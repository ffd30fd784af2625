package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for MintTrace.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	RPC        RPCConfig        `yaml:"rpc"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Detection  DetectionConfig  `yaml:"detection"`
	Cache      CacheConfig      `yaml:"cache"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Watch      WatchConfig      `yaml:"watch"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type RPCConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	WSEndpoint   string  `yaml:"ws_endpoint"`
	TimeoutMs    int     `yaml:"timeout_ms"`
	MaxRetries   int     `yaml:"max_retries"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
}

type IndexerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type DetectionConfig struct {
	MaxTransactions int      `yaml:"max_transactions"`
	TimeoutMs       int      `yaml:"timeout_ms"`
	Strategies      struct {
		MintAuthority    bool `yaml:"mint_authority"`
		IndexerLookup    bool `yaml:"indexer_lookup"`
		PlatformEvents   bool `yaml:"platform_events"`
		KnownProgram     bool `yaml:"known_program"`
		GenericHeuristic bool `yaml:"generic_heuristic"`
	} `yaml:"strategies"`
}

type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	MaxEntries int `yaml:"max_entries"`
}

type ClickHouseConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DSN          string `yaml:"dsn"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	BatchSize    int    `yaml:"batch_size"`
	FlushMs      int    `yaml:"flush_ms"`
}

type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

type WatchConfig struct {
	Programs           []string `yaml:"programs"`
	ReconnectBackoffMs int      `yaml:"reconnect_backoff_ms"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply defaults
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "minttrace-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.RPC.Endpoint == "" {
		cfg.RPC.Endpoint = "https://api.mainnet-beta.solana.com"
	}
	if cfg.RPC.WSEndpoint == "" {
		cfg.RPC.WSEndpoint = "wss://api.mainnet-beta.solana.com"
	}
	if cfg.RPC.TimeoutMs == 0 {
		cfg.RPC.TimeoutMs = 10000
	}
	if cfg.RPC.MaxRetries == 0 {
		cfg.RPC.MaxRetries = 3
	}
	if cfg.RPC.RateLimitRPS == 0 {
		cfg.RPC.RateLimitRPS = 10
	}
	if cfg.Indexer.TimeoutMs == 0 {
		cfg.Indexer.TimeoutMs = 10000
	}
	// An all-false strategy block means the section was omitted; a scan
	// with zero strategies is useless, so enable everything.
	s := &cfg.Detection.Strategies
	if !s.MintAuthority && !s.IndexerLookup && !s.PlatformEvents && !s.KnownProgram && !s.GenericHeuristic {
		s.MintAuthority = true
		s.IndexerLookup = true
		s.PlatformEvents = true
		s.KnownProgram = true
		s.GenericHeuristic = true
	}
	if cfg.Detection.MaxTransactions == 0 {
		cfg.Detection.MaxTransactions = 4000
	}
	if cfg.Detection.TimeoutMs == 0 {
		cfg.Detection.TimeoutMs = 90000
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 300
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 100
	}
	if cfg.ClickHouse.DSN == "" {
		cfg.ClickHouse.DSN = "clickhouse://localhost:9000/minttrace"
	}
	if cfg.ClickHouse.Database == "" {
		cfg.ClickHouse.Database = "minttrace"
	}
	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}
	if cfg.ClickHouse.BatchSize == 0 {
		cfg.ClickHouse.BatchSize = 500
	}
	if cfg.ClickHouse.FlushMs == 0 {
		cfg.ClickHouse.FlushMs = 5000
	}
	if cfg.Metrics.PrometheusPort == 0 {
		cfg.Metrics.PrometheusPort = 9090
	}
	if cfg.Watch.ReconnectBackoffMs == 0 {
		cfg.Watch.ReconnectBackoffMs = 1000
	}
}

// Validate rejects configurations that cannot produce a working process.
func (cfg *Config) Validate() error {
	switch cfg.General.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: invalid log_format %q (want json or text)", cfg.General.LogFormat)
	}
	if cfg.Detection.MaxTransactions < 0 {
		return fmt.Errorf("config: detection.max_transactions must not be negative")
	}
	if cfg.Detection.TimeoutMs < 0 {
		return fmt.Errorf("config: detection.timeout_ms must not be negative")
	}
	if cfg.Cache.MaxEntries < 1 {
		return fmt.Errorf("config: cache.max_entries must be at least 1")
	}
	if cfg.Indexer.Enabled && cfg.Indexer.BaseURL == "" {
		return fmt.Errorf("config: indexer.base_url required when indexer is enabled")
	}
	return nil
}
