// Package config loads and hot-swaps the proxy's runtime configuration:
// policy source/reload, approval rate and default timeout, forward
// deadlines, and proxy-body peek limits. Config is loaded once from YAML
// (gopkg.in/yaml.v3) with environment-variable overrides, then held behind
// an atomic.Pointer so reload and read never race.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicySourceKind enumerates policy.source values.
type PolicySourceKind string

const (
	PolicySourceConfigMap   PolicySourceKind = "configmap_path"
	PolicySourceEnvironment PolicySourceKind = "environment"
	PolicySourceEmbedded    PolicySourceKind = "embedded"
)

// PolicyReloadKind enumerates policy.reload values.
type PolicyReloadKind string

const (
	PolicyReloadNone     PolicyReloadKind = "none"
	PolicyReloadSignal   PolicyReloadKind = "signal"
	PolicyReloadInterval PolicyReloadKind = "interval"
)

// PolicyConfig groups the policy.* options.
type PolicyConfig struct {
	Source         PolicySourceKind `yaml:"source"`
	SourcePath     string           `yaml:"source_path"`
	Reload         PolicyReloadKind `yaml:"reload"`
	ReloadInterval time.Duration    `yaml:"reload_interval"`
}

// ApprovalConfig groups the approval.* options.
type ApprovalConfig struct {
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	ChannelURL      string        `yaml:"channel_url"`
}

// ForwardConfig groups the forward.* options.
type ForwardConfig struct {
	ChunkTimeout time.Duration `yaml:"chunk_timeout"`
	TotalTimeout time.Duration `yaml:"total_timeout"`
}

// ProxyPeekConfig groups the proxy.peek.* options.
type ProxyPeekConfig struct {
	MaxHeaderLines     int   `yaml:"max_header_lines"`
	MaxHeaderLineBytes int   `yaml:"max_header_line_bytes"`
	MaxChunkBytes      int64 `yaml:"max_chunk_bytes"`
	MaxParserProgress  int64 `yaml:"max_parser_progress"`
}

// Config is the top-level, process-wide configuration document.
type Config struct {
	Policy   PolicyConfig    `yaml:"policy"`
	Approval ApprovalConfig  `yaml:"approval"`
	Forward  ForwardConfig   `yaml:"forward"`
	Peek     ProxyPeekConfig `yaml:"proxy_peek"`
	ListenAddr string        `yaml:"listen_addr"`
}

// Default returns the proxy's baseline configuration before any YAML
// overlay or environment override is applied.
func Default() *Config {
	return &Config{
		Policy: PolicyConfig{
			Source: PolicySourceEmbedded,
			Reload: PolicyReloadNone,
		},
		Approval: ApprovalConfig{
			DefaultTimeout: 5 * time.Minute,
			RatePerSecond:  1.0,
		},
		Forward: ForwardConfig{
			ChunkTimeout: 30 * time.Second,
			TotalTimeout: 10 * time.Minute,
		},
		Peek: ProxyPeekConfig{
			MaxHeaderLines:     100,
			MaxHeaderLineBytes: 8192,
			MaxChunkBytes:      1 << 20,
			MaxParserProgress:  1 << 20,
		},
		ListenAddr: ":8443",
	}
}

// Load reads a YAML document from path, merges it onto Default(), and
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("THOUGHTGATE_APPROVAL_RATE_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Approval.RatePerSecond = f
		}
	}
	if v := os.Getenv("THOUGHTGATE_APPROVAL_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Approval.DefaultTimeout = d
		}
	}
	if v := os.Getenv("THOUGHTGATE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("THOUGHTGATE_POLICY_SOURCE_PATH"); v != "" {
		cfg.Policy.SourcePath = v
	}
}

// Validate rejects configuration combinations the rest of the system
// cannot act on.
func (c *Config) Validate() error {
	if c.Approval.RatePerSecond <= 0 {
		return fmt.Errorf("approval.rate_per_second must be positive, got %v", c.Approval.RatePerSecond)
	}
	if c.Approval.DefaultTimeout <= 0 {
		return fmt.Errorf("approval.default_timeout must be positive")
	}
	if c.Forward.ChunkTimeout < 0 {
		return fmt.Errorf("forward.chunk_timeout must not be negative")
	}
	if c.Forward.TotalTimeout <= 0 {
		return fmt.Errorf("forward.total_timeout must be positive")
	}
	if c.Policy.Source == PolicySourceConfigMap && c.Policy.SourcePath == "" {
		return fmt.Errorf("policy.source_path is required when policy.source is %q", PolicySourceConfigMap)
	}
	if c.Policy.Reload == PolicyReloadInterval && c.Policy.ReloadInterval <= 0 {
		return fmt.Errorf("policy.reload_interval must be positive when policy.reload is %q", PolicyReloadInterval)
	}
	return nil
}

// Holder hot-swaps a Config behind an atomic pointer so readers never
// observe a torn update during reload.
type Holder struct {
	ptr atomic.Pointer[Config]
}

// NewHolder constructs a Holder seeded with initial.
func NewHolder(initial *Config) *Holder {
	h := &Holder{}
	h.ptr.Store(initial)
	return h
}

// Get returns the currently active Config.
func (h *Holder) Get() *Config {
	return h.ptr.Load()
}

// Swap atomically replaces the active Config.
func (h *Holder) Swap(next *Config) {
	h.ptr.Store(next)
}
