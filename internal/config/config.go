// ABOUTME: Configuration loading and parsing for the bailiff and lookup servers
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/gotag/internal/agent"
)

// Config represents the complete bailiff configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Bailiff   BailiffConfig   `yaml:"bailiff"`
	Lookup    LookupRef       `yaml:"lookup"`
	Player    PlayerConfig    `yaml:"player"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LookupConfig represents the complete lookup service configuration
type LookupConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Registry RegistryConfig `yaml:"registry"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
	// AdvertiseAddr is the gRPC address published to the lookup service.
	// Defaults to grpc_addr, or the tailnet hostname when tailscale is on.
	AdvertiseAddr string `yaml:"advertise_addr"`
}

// BailiffConfig describes the host itself
type BailiffConfig struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Properties map[string]string `yaml:"properties"`

	TransferTTL    time.Duration `yaml:"-"`
	TransferTTLRaw string        `yaml:"transfer_ttl"`
}

// LookupRef points a bailiff at the lookup service
type LookupRef struct {
	Addr string `yaml:"addr"`

	Lease    time.Duration `yaml:"-"`
	LeaseRaw string        `yaml:"lease"`
}

// PlayerConfig holds the pacing of controllers launched on this host
type PlayerConfig struct {
	Evasion    string `yaml:"evasion"`
	MaxResults int    `yaml:"max_results"`

	Restraint   time.Duration `yaml:"-"`
	Retry       time.Duration `yaml:"-"`
	Idle        time.Duration `yaml:"-"`
	CallTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RestraintRaw   string `yaml:"restraint"`
	RetryRaw       string `yaml:"retry"`
	IdleRaw        string `yaml:"idle"`
	CallTimeoutRaw string `yaml:"call_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RegistryConfig holds lease bookkeeping settings
type RegistryConfig struct {
	MaxLease      time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	MaxLeaseRaw      string `yaml:"max_lease"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults
const (
	DefaultLookupAddr  = "127.0.0.1:4160"
	DefaultLease       = 30 * time.Second
	DefaultTransferTTL = 10 * time.Minute
	DefaultMaxLease    = 5 * time.Minute
	DefaultSweep       = 5 * time.Second
)

// Load reads a bailiff configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadLookup reads a lookup service configuration file.
func LoadLookup(path string) (*LookupConfig, error) {
	var cfg LookupConfig
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}

	var err error
	if cfg.Registry.MaxLease, err = parseDuration("registry.max_lease", cfg.Registry.MaxLeaseRaw); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if cfg.Registry.SweepInterval, err = parseDuration("registry.sweep_interval", cfg.Registry.SweepIntervalRaw); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(expandedData), out); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Lookup.Lease < time.Second {
		return fmt.Errorf("lookup.lease must be at least 1s, got %s", c.Lookup.Lease)
	}

	switch agent.EvasionPolicy(c.Player.Evasion) {
	case agent.EvasionPoll, agent.EvasionWander:
	default:
		return fmt.Errorf("player.evasion must be %q or %q, got %q", agent.EvasionPoll, agent.EvasionWander, c.Player.Evasion)
	}

	if c.Player.MaxResults < 1 {
		return fmt.Errorf("player.max_results must be positive, got %d", c.Player.MaxResults)
	}

	return c.Logging.validate()
}

// Validate checks the lookup configuration.
func (c *LookupConfig) Validate() error {
	if c.Server.GRPCAddr == "" {
		return fmt.Errorf("server.grpc_addr is required")
	}
	if c.Registry.MaxLease < time.Second {
		return fmt.Errorf("registry.max_lease must be at least 1s, got %s", c.Registry.MaxLease)
	}
	return c.Logging.validate()
}

func (l LoggingConfig) validate() error {
	switch l.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", l.Format)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Lookup.Addr == "" {
		c.Lookup.Addr = DefaultLookupAddr
	}
	if c.Lookup.LeaseRaw == "" {
		c.Lookup.Lease = DefaultLease
	}
	if c.Bailiff.TransferTTLRaw == "" {
		c.Bailiff.TransferTTL = DefaultTransferTTL
	}
	if c.Server.AdvertiseAddr == "" {
		if c.Tailscale.Enabled {
			c.Server.AdvertiseAddr = c.Tailscale.Hostname + ":" + PortOf(c.Server.GRPCAddr, "50051")
		} else {
			c.Server.AdvertiseAddr = c.Server.GRPCAddr
		}
	}

	def := agent.DefaultTiming()
	if c.Player.Evasion == "" {
		c.Player.Evasion = string(agent.EvasionPoll)
	}
	if c.Player.MaxResults == 0 {
		c.Player.MaxResults = def.MaxResults
	}
	if c.Player.RestraintRaw == "" {
		c.Player.Restraint = def.Restraint
	}
	if c.Player.RetryRaw == "" {
		c.Player.Retry = def.Retry
	}
	if c.Player.IdleRaw == "" {
		c.Player.Idle = def.Idle
	}
	if c.Player.CallTimeoutRaw == "" {
		c.Player.CallTimeout = def.CallTimeout
	}
}

func (c *LookupConfig) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = ":memory:"
	}
	if c.Registry.MaxLeaseRaw == "" {
		c.Registry.MaxLease = DefaultMaxLease
	}
	if c.Registry.SweepIntervalRaw == "" {
		c.Registry.SweepInterval = DefaultSweep
	}
}

// PortOf returns the port of a host:port address, or fallback when addr
// has no usable port.
func PortOf(addr, fallback string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return fallback
	}
	return port
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"bailiff.transfer_ttl", cfg.Bailiff.TransferTTLRaw, &cfg.Bailiff.TransferTTL},
		{"lookup.lease", cfg.Lookup.LeaseRaw, &cfg.Lookup.Lease},
		{"player.restraint", cfg.Player.RestraintRaw, &cfg.Player.Restraint},
		{"player.retry", cfg.Player.RetryRaw, &cfg.Player.Retry},
		{"player.idle", cfg.Player.IdleRaw, &cfg.Player.Idle},
		{"player.call_timeout", cfg.Player.CallTimeoutRaw, &cfg.Player.CallTimeout},
	}

	for _, f := range fields {
		d, err := parseDuration(f.name, f.raw)
		if err != nil {
			return err
		}
		*f.dst = d
	}
	return nil
}

func parseDuration(name, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", name, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %q", name, raw)
	}
	return d, nil
}

// Timing converts the player section into controller pacing.
func (p PlayerConfig) Timing() agent.Timing {
	return agent.Timing{
		Restraint:   p.Restraint,
		Retry:       p.Retry,
		Idle:        p.Idle,
		CallTimeout: p.CallTimeout,
		MaxResults:  p.MaxResults,
	}
}
