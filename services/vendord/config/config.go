package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tokenvendor/native/vendor"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Mode selects how the daemon reaches its ledgers and credential registry.
type Mode string

const (
	// ModeLocal runs against the in-process bank ledgers.
	ModeLocal Mode = "local"
	// ModeEVM runs against ERC-20 contracts over JSON-RPC.
	ModeEVM Mode = "evm"
)

// Config captures runtime configuration for vendord.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DatabasePath  string          `yaml:"database"`
	ParamsPath    string          `yaml:"params"`
	Mode          Mode            `yaml:"mode"`
	Admin         AdminConfig     `yaml:"admin"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Log           LogConfig       `yaml:"log"`
	Engine        EngineConfig    `yaml:"engine"`
	Local         LocalConfig     `yaml:"local"`
	EVM           EVMConfig       `yaml:"evm"`
	Events        EventsConfig    `yaml:"events"`
}

// AdminConfig configures authentication for the admin endpoints. A static
// bearer token and an HS256 JWT secret may be enabled independently.
type AdminConfig struct {
	BearerToken string `yaml:"bearer_token"`
	JWTSecret   string `yaml:"jwt_secret"`
	JWTIssuer   string `yaml:"jwt_issuer"`
}

// RateLimitConfig throttles trade endpoints per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LogConfig selects the log destination. A non-empty file path enables
// size-based rotation.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// EngineConfig carries the administration and asset addresses.
type EngineConfig struct {
	Owner      string `yaml:"owner"`
	DevAddress string `yaml:"dev_address"`
	Reserve    string `yaml:"reserve"`
	BaseAsset  string `yaml:"base_asset"`
	SwapAsset  string `yaml:"swap_asset"`
}

// LocalConfig seeds the in-process ledgers and credential registry.
type LocalConfig struct {
	ReserveBase string            `yaml:"reserve_base"`
	ReserveSwap string            `yaml:"reserve_swap"`
	Collections []LocalCollection `yaml:"collections"`
}

// LocalCollection declares a credential collection and its holders for the
// static registry used in local mode.
type LocalCollection struct {
	Address string   `yaml:"address"`
	Holders []string `yaml:"holders"`
}

// EVMConfig wires the daemon to on-chain contracts.
type EVMConfig struct {
	RPCURL      string   `yaml:"rpc_url"`
	ChainID     int64    `yaml:"chain_id"`
	KeyFile     string   `yaml:"key_file"`
	BaseToken   string   `yaml:"base_token"`
	SwapToken   string   `yaml:"swap_token"`
	CallTimeout Duration `yaml:"call_timeout"`
}

// EventsConfig bounds the persisted event log.
type EventsConfig struct {
	Retain int `yaml:"retain"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadParams reads the engine parameter file. A missing path yields the
// built-in defaults.
func LoadParams(path string) (vendor.Params, error) {
	params := vendor.DefaultParams()
	if strings.TrimSpace(path) == "" {
		return params, nil
	}
	if _, err := toml.DecodeFile(path, &params); err != nil {
		return params, fmt.Errorf("decode params: %w", err)
	}
	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("validate params: %w", err)
	}
	return params, nil
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7143"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/vendord.db"
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeLocal
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 30
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.EVM.CallTimeout.Duration <= 0 {
		cfg.EVM.CallTimeout.Duration = 10 * time.Second
	}
	if cfg.Events.Retain <= 0 {
		cfg.Events.Retain = 10_000
	}
}

// Validate rejects configurations the daemon cannot start with.
func Validate(cfg Config) error {
	switch cfg.Mode {
	case ModeLocal, ModeEVM:
	default:
		return fmt.Errorf("mode must be %q or %q", ModeLocal, ModeEVM)
	}
	if strings.TrimSpace(cfg.Admin.BearerToken) == "" && strings.TrimSpace(cfg.Admin.JWTSecret) == "" {
		return fmt.Errorf("admin bearer_token or jwt_secret must be configured")
	}
	if _, err := ParseAddress(cfg.Engine.Owner); err != nil {
		return fmt.Errorf("engine owner: %w", err)
	}
	if _, err := ParseAddress(cfg.Engine.DevAddress); err != nil {
		return fmt.Errorf("engine dev_address: %w", err)
	}
	if _, err := ParseAddress(cfg.Engine.Reserve); err != nil {
		return fmt.Errorf("engine reserve: %w", err)
	}
	if cfg.Mode == ModeEVM {
		if strings.TrimSpace(cfg.EVM.RPCURL) == "" {
			return fmt.Errorf("evm rpc_url must be configured")
		}
		if _, err := ParseAddress(cfg.EVM.BaseToken); err != nil {
			return fmt.Errorf("evm base_token: %w", err)
		}
		if _, err := ParseAddress(cfg.EVM.SwapToken); err != nil {
			return fmt.Errorf("evm swap_token: %w", err)
		}
		if strings.TrimSpace(cfg.EVM.KeyFile) == "" {
			return fmt.Errorf("evm key_file must be configured")
		}
	}
	for i, collection := range cfg.Local.Collections {
		if _, err := ParseAddress(collection.Address); err != nil {
			return fmt.Errorf("local collection %d: %w", i, err)
		}
		for j, holder := range collection.Holders {
			if _, err := ParseAddress(holder); err != nil {
				return fmt.Errorf("local collection %d holder %d: %w", i, j, err)
			}
		}
	}
	return nil
}

// ParseAddress decodes a 20-byte hex address with optional 0x prefix.
func ParseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q", value)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("address %q must be %d bytes", value, len(addr))
	}
	copy(addr[:], raw)
	return addr, nil
}
