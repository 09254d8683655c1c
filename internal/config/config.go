// Package config loads the coordinator's YAML configuration
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables pointing at the config files
const (
	EnvConfigPath  = "AIP_CONFIG_PATH"
	EnvBiddersPath = "AIP_BIDDERS_PATH"
)

// Ledger backends
const (
	BackendInMemory      = "in_memory"
	BackendRedis         = "redis"
	BackendPostgres      = "postgres"
	BackendDocumentStore = "document_store"
)

// Distribution backends
const (
	DistributionLocal        = "local"
	DistributionManagedTopic = "managed_topic"
)

// ListenConfig holds the HTTP listener settings
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TransportConfig holds envelope guard settings
type TransportConfig struct {
	NonceTTLSeconds int `yaml:"nonce_ttl_seconds"`
	MaxClockSkewMS  int `yaml:"max_clock_skew_ms"`
}

// NonceTTL returns the nonce TTL as a duration
func (t TransportConfig) NonceTTL() time.Duration {
	return time.Duration(t.NonceTTLSeconds) * time.Second
}

// MaxClockSkew returns the permitted skew as a duration
func (t TransportConfig) MaxClockSkew() time.Duration {
	return time.Duration(t.MaxClockSkewMS) * time.Millisecond
}

// LedgerConfig selects and parameterizes the record store backend
type LedgerConfig struct {
	Backend string                 `yaml:"backend"`
	Options map[string]interface{} `yaml:"options"`
}

// Option returns a string-valued backend option
func (l LedgerConfig) Option(key string) string {
	if v, ok := l.Options[key].(string); ok {
		return v
	}
	return ""
}

// DistributionConfig selects and parameterizes the publish backend
type DistributionConfig struct {
	Backend string                 `yaml:"backend"`
	Options map[string]interface{} `yaml:"options"`
}

// Option returns a string-valued distribution option
func (d DistributionConfig) Option(key string) string {
	if v, ok := d.Options[key].(string); ok {
		return v
	}
	return ""
}

// AuctionConfig holds the auction window and distribution settings
type AuctionConfig struct {
	WindowMS     int                `yaml:"window_ms"`
	Distribution DistributionConfig `yaml:"distribution"`
}

// Window returns the auction window as a duration
func (a AuctionConfig) Window() time.Duration {
	return time.Duration(a.WindowMS) * time.Millisecond
}

// OperatorConfig identifies the operator running this coordinator
type OperatorConfig struct {
	ID             string   `yaml:"id"`
	AllowedFormats []string `yaml:"allowed_formats"`
}

// Config is the root server configuration
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Transport TransportConfig `yaml:"transport"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Auction   AuctionConfig   `yaml:"auction"`
	Operator  OperatorConfig  `yaml:"operator"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Host: "0.0.0.0", Port: 8000},
		Transport: TransportConfig{
			NonceTTLSeconds: 60,
			MaxClockSkewMS:  500,
		},
		Ledger: LedgerConfig{Backend: BackendInMemory},
		Auction: AuctionConfig{
			WindowMS:     50,
			Distribution: DistributionConfig{Backend: DistributionLocal},
		},
		Operator: OperatorConfig{
			ID:             "operator",
			AllowedFormats: []string{"weave"},
		},
	}
}

// Load reads the YAML config at path, falling back to defaults for absent
// fields. An empty path consults AIP_CONFIG_PATH; when neither is set the
// defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values with the built-in defaults
func (c *Config) applyDefaults() {
	d := Default()
	if c.Listen.Port == 0 {
		c.Listen.Port = d.Listen.Port
	}
	if c.Listen.Host == "" {
		c.Listen.Host = d.Listen.Host
	}
	if c.Transport.NonceTTLSeconds <= 0 {
		c.Transport.NonceTTLSeconds = d.Transport.NonceTTLSeconds
	}
	if c.Transport.MaxClockSkewMS <= 0 {
		c.Transport.MaxClockSkewMS = d.Transport.MaxClockSkewMS
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = d.Ledger.Backend
	}
	if c.Auction.WindowMS <= 0 {
		c.Auction.WindowMS = d.Auction.WindowMS
	}
	if c.Auction.Distribution.Backend == "" {
		c.Auction.Distribution.Backend = d.Auction.Distribution.Backend
	}
	if c.Operator.ID == "" {
		c.Operator.ID = d.Operator.ID
	}
	if len(c.Operator.AllowedFormats) == 0 {
		c.Operator.AllowedFormats = d.Operator.AllowedFormats
	}
}

// validate rejects unknown backend selections early
func (c *Config) validate() error {
	switch c.Ledger.Backend {
	case BackendInMemory, BackendRedis, BackendPostgres, BackendDocumentStore:
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	switch c.Auction.Distribution.Backend {
	case DistributionLocal, DistributionManagedTopic:
	default:
		return fmt.Errorf("unknown distribution backend %q", c.Auction.Distribution.Backend)
	}
	return nil
}

// BiddersPath returns the bidder inventory path from the environment, or the
// provided fallback.
func BiddersPath(fallback string) string {
	if p := os.Getenv(EnvBiddersPath); p != "" {
		return p
	}
	return fallback
}
