// ABOUTME: Configuration loading and parsing for agent-console
// ABOUTME: YAML or TOML files with env var expansion, env overrides and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/2389/agent-console/internal/sla"
	"github.com/2389/agent-console/internal/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AGENT_CONSOLE_"

// Config represents the complete agent-console configuration
type Config struct {
	Backend  BackendConfig  `yaml:"backend" toml:"backend" envPrefix:"BACKEND_"`
	Realtime RealtimeConfig `yaml:"realtime" toml:"realtime" envPrefix:"REALTIME_"`
	SLA      SLAConfig      `yaml:"sla" toml:"sla" envPrefix:"SLA_"`
	Store    StoreConfig    `yaml:"store" toml:"store" envPrefix:"STORE_"`
	Agent    AgentConfig    `yaml:"agent" toml:"agent" envPrefix:"AGENT_"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging" envPrefix:"LOG_"`
}

// BackendConfig locates the support platform
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url" toml:"base_url" env:"BASE_URL"`
	WSURL          string        `yaml:"ws_url" toml:"ws_url" env:"WS_URL"`
	PageSize       int           `yaml:"page_size" toml:"page_size" env:"PAGE_SIZE"`
	MaxPages       int           `yaml:"max_pages" toml:"max_pages" env:"MAX_PAGES"`
	RequestTimeout time.Duration `yaml:"-" toml:"-" env:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// RealtimeConfig holds connection lifecycle timing
type RealtimeConfig struct {
	HandshakeTimeout time.Duration `yaml:"-" toml:"-" env:"-"`
	PingInterval     time.Duration `yaml:"-" toml:"-" env:"-"`
	ReconnectInitial time.Duration `yaml:"-" toml:"-" env:"-"`
	ReconnectMax     time.Duration `yaml:"-" toml:"-" env:"-"`
	TypingTTL        time.Duration `yaml:"-" toml:"-" env:"-"`

	// Raw string values for unmarshaling
	HandshakeTimeoutRaw string `yaml:"handshake_timeout" toml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	PingIntervalRaw     string `yaml:"ping_interval" toml:"ping_interval" env:"PING_INTERVAL"`
	ReconnectInitialRaw string `yaml:"reconnect_initial" toml:"reconnect_initial" env:"RECONNECT_INITIAL"`
	ReconnectMaxRaw     string `yaml:"reconnect_max" toml:"reconnect_max" env:"RECONNECT_MAX"`
	TypingTTLRaw        string `yaml:"typing_ttl" toml:"typing_ttl" env:"TYPING_TTL"`
}

// SLABudgetConfig is one priority's budget as raw duration strings
type SLABudgetConfig struct {
	FirstResponse string `yaml:"first_response" toml:"first_response"`
	Resolution    string `yaml:"resolution" toml:"resolution"`
}

// SLAConfig holds the SLA policy and evaluation cadence
type SLAConfig struct {
	TickInterval time.Duration `yaml:"-" toml:"-" env:"-"`
	Policy       sla.Policy    `yaml:"-" toml:"-" env:"-"`

	TickIntervalRaw     string                     `yaml:"tick_interval" toml:"tick_interval" env:"TICK_INTERVAL"`
	WarningThresholdRaw string                     `yaml:"warning_threshold" toml:"warning_threshold" env:"WARNING_THRESHOLD"`
	Policies            map[string]SLABudgetConfig `yaml:"policies" toml:"policies"`
}

// StoreConfig sizes the message dedupe window
type StoreConfig struct {
	DedupeWindow int           `yaml:"dedupe_window" toml:"dedupe_window" env:"DEDUPE_WINDOW"`
	DedupeTTL    time.Duration `yaml:"-" toml:"-" env:"-"`

	DedupeTTLRaw string `yaml:"dedupe_ttl" toml:"dedupe_ttl" env:"DEDUPE_TTL"`
}

// AgentConfig holds the session credentials
type AgentConfig struct {
	Token     string `yaml:"token" toml:"token" env:"TOKEN"`
	TokenFile string `yaml:"token_file" toml:"token_file" env:"TOKEN_FILE"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			PageSize:          50,
			MaxPages:          20,
			RequestTimeoutRaw: "15s",
		},
		Realtime: RealtimeConfig{
			HandshakeTimeoutRaw: "10s",
			PingIntervalRaw:     "25s",
			ReconnectInitialRaw: "500ms",
			ReconnectMaxRaw:     "30s",
			TypingTTLRaw:        "6s",
		},
		SLA: SLAConfig{
			TickIntervalRaw:     "15s",
			WarningThresholdRaw: "3m",
		},
		Store: StoreConfig{
			DedupeWindow: 20000,
			DedupeTTLRaw: "30m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded before parsing,
// then AGENT_CONSOLE_* variables override individual fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	expanded := expandEnvVars(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from defaults and environment overrides only.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("applying environment overrides: %w", err)
	}
	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	if c.Backend.WSURL == "" && c.Backend.BaseURL != "" {
		ws, err := deriveWSURL(c.Backend.BaseURL)
		if err != nil {
			return fmt.Errorf("deriving ws_url: %w", err)
		}
		c.Backend.WSURL = ws
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// deriveWSURL maps http(s)://host/prefix to ws(s)://host/prefix/ws.
func deriveWSURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.PageSize < 1 || c.Backend.PageSize > 500 {
		return fmt.Errorf("backend.page_size must be between 1 and 500")
	}
	if c.Backend.MaxPages < 1 {
		return fmt.Errorf("backend.max_pages must be positive")
	}
	if c.Realtime.ReconnectInitial <= 0 || c.Realtime.ReconnectMax < c.Realtime.ReconnectInitial {
		return fmt.Errorf("realtime.reconnect_max must be at least realtime.reconnect_initial (> 0)")
	}
	if c.SLA.TickInterval <= 0 {
		return fmt.Errorf("sla.tick_interval must be positive")
	}
	if err := c.SLA.Policy.Validate(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}

// ResolveToken returns the configured session token, reading TokenFile when
// Token is empty.
func (a AgentConfig) ResolveToken() (string, error) {
	if a.Token != "" {
		return strings.TrimSpace(a.Token), nil
	}
	if a.TokenFile == "" {
		return "", fmt.Errorf("agent.token or agent.token_file is required")
	}
	data, err := os.ReadFile(a.TokenFile)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backend.request_timeout", cfg.Backend.RequestTimeoutRaw, &cfg.Backend.RequestTimeout},
		{"realtime.handshake_timeout", cfg.Realtime.HandshakeTimeoutRaw, &cfg.Realtime.HandshakeTimeout},
		{"realtime.ping_interval", cfg.Realtime.PingIntervalRaw, &cfg.Realtime.PingInterval},
		{"realtime.reconnect_initial", cfg.Realtime.ReconnectInitialRaw, &cfg.Realtime.ReconnectInitial},
		{"realtime.reconnect_max", cfg.Realtime.ReconnectMaxRaw, &cfg.Realtime.ReconnectMax},
		{"realtime.typing_ttl", cfg.Realtime.TypingTTLRaw, &cfg.Realtime.TypingTTL},
		{"sla.tick_interval", cfg.SLA.TickIntervalRaw, &cfg.SLA.TickInterval},
		{"store.dedupe_ttl", cfg.Store.DedupeTTLRaw, &cfg.Store.DedupeTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	policy := sla.DefaultPolicy()
	if cfg.SLA.WarningThresholdRaw != "" {
		d, err := time.ParseDuration(cfg.SLA.WarningThresholdRaw)
		if err != nil {
			return fmt.Errorf("parsing sla.warning_threshold %q: %w", cfg.SLA.WarningThresholdRaw, err)
		}
		policy.WarningThreshold = d
	}
	for name, raw := range cfg.SLA.Policies {
		prio, err := store.ParsePriority(name)
		if err != nil {
			return fmt.Errorf("sla.policies: %w", err)
		}
		budget := policy.Budgets[prio]
		if raw.FirstResponse != "" {
			if budget.FirstResponse, err = time.ParseDuration(raw.FirstResponse); err != nil {
				return fmt.Errorf("parsing sla.policies.%s.first_response %q: %w", name, raw.FirstResponse, err)
			}
		}
		if raw.Resolution != "" {
			if budget.Resolution, err = time.ParseDuration(raw.Resolution); err != nil {
				return fmt.Errorf("parsing sla.policies.%s.resolution %q: %w", name, raw.Resolution, err)
			}
		}
		policy.Budgets[prio] = budget
	}
	cfg.SLA.Policy = policy

	return nil
}
