package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"ratekeeper/internal/domain"
)

const (
	// DefaultUserAgent is sent on every feed request.
	DefaultUserAgent = "ratekeeper/1.0 (+https://github.com/ratekeeper)"
)

// Config holds every application setting.
// Values loaded by LoadConfig are then overridden from the environment.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feeds struct {
		TrackerURL     string `yaml:"tracker_url"`
		ExchangeETHURL string `yaml:"exchange_eth_url"`
		ExchangeUSDURL string `yaml:"exchange_usd_url"`
		ProductionURL  string `yaml:"production_url"`
		GasCurrentURL  string `yaml:"gas_current_url"`
		GasMaxURL      string `yaml:"gas_max_url"`

		TrackerIntervalSec    int `yaml:"tracker_interval_sec"`
		ExchangeIntervalSec   int `yaml:"exchange_interval_sec"`
		ProductionIntervalSec int `yaml:"production_interval_sec"`
		GasCurrentIntervalSec int `yaml:"gas_current_interval_sec"`
		GasMaxIntervalSec     int `yaml:"gas_max_interval_sec"`
		TimeoutSec            int `yaml:"timeout_sec"`
	} `yaml:"feeds"`

	Node struct {
		RPCURL     string `yaml:"rpc_url"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"node"`

	Gas struct {
		StaleAfterSec int             `yaml:"stale_after_sec"`
		DefaultGwei   decimal.Decimal `yaml:"default_gwei"`
		LowGwei       decimal.Decimal `yaml:"low_gwei"`
		StandardGwei  decimal.Decimal `yaml:"standard_gwei"`
		FastGwei      decimal.Decimal `yaml:"fast_gwei"`
		MaxGwei       decimal.Decimal `yaml:"max_gwei"`
	} `yaml:"gas"`

	Tokens struct {
		TransferETH   uint64                    `yaml:"transfer_eth"`
		TransferToken uint64                    `yaml:"transfer_token"`
		ExchangeLeg   uint64                    `yaml:"exchange_leg"`
		Overrides     map[string]TokenGasConfig `yaml:"overrides"`
	} `yaml:"tokens"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Server struct {
		Addr         string `yaml:"addr"`
		StreamBuffer int    `yaml:"stream_buffer"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// TokenGasConfig is one entry of the gas-limit override table.
type TokenGasConfig struct {
	Leg      uint64 `yaml:"leg"`
	Transfer uint64 `yaml:"transfer"`
	Fixed    bool   `yaml:"fixed"`
}

// LoadConfig reads and parses the configuration file.
// A .env file next to the working directory is loaded first, if present.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)
		}
		return nil, err
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML, fills defaults, applies env overrides and validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "ratekeeper"
	}
	f := &c.Feeds
	if f.TrackerIntervalSec <= 0 {
		f.TrackerIntervalSec = 60
	}
	if f.ExchangeIntervalSec <= 0 {
		f.ExchangeIntervalSec = 15
	}
	if f.ProductionIntervalSec <= 0 {
		f.ProductionIntervalSec = 15
	}
	if f.GasCurrentIntervalSec <= 0 {
		f.GasCurrentIntervalSec = 30
	}
	if f.GasMaxIntervalSec <= 0 {
		f.GasMaxIntervalSec = 600
	}
	if f.TimeoutSec <= 0 {
		f.TimeoutSec = 10
	}
	if c.Node.TimeoutSec <= 0 {
		c.Node.TimeoutSec = 10
	}

	g := &c.Gas
	if g.StaleAfterSec <= 0 {
		g.StaleAfterSec = 300
	}
	defaults := []struct {
		dst *decimal.Decimal
		v   int64
	}{
		{&g.DefaultGwei, 10},
		{&g.LowGwei, 5},
		{&g.StandardGwei, 8},
		{&g.FastGwei, 15},
		{&g.MaxGwei, 100},
	}
	for _, d := range defaults {
		if d.dst.IsZero() {
			*d.dst = decimal.NewFromInt(d.v)
		}
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "data/ratekeeper.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.StreamBuffer <= 0 {
		c.Server.StreamBuffer = 16
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	urls := []struct {
		field string
		value string
	}{
		{"feeds.tracker_url", c.Feeds.TrackerURL},
		{"feeds.exchange_eth_url", c.Feeds.ExchangeETHURL},
		{"feeds.exchange_usd_url", c.Feeds.ExchangeUSDURL},
		{"feeds.production_url", c.Feeds.ProductionURL},
		{"feeds.gas_current_url", c.Feeds.GasCurrentURL},
		{"feeds.gas_max_url", c.Feeds.GasMaxURL},
	}
	for _, u := range urls {
		if !isHTTPURL(u.value) {
			return &domain.ConfigError{Field: u.field, Err: fmt.Errorf("invalid URL %q", u.value)}
		}
	}

	// Node is optional; without it the gas fallback is disabled.
	if c.Node.RPCURL != "" && !isHTTPURL(c.Node.RPCURL) &&
		!strings.HasPrefix(c.Node.RPCURL, "ws://") && !strings.HasPrefix(c.Node.RPCURL, "wss://") {
		return &domain.ConfigError{Field: "node.rpc_url", Err: fmt.Errorf("invalid URL %q", c.Node.RPCURL)}
	}

	if !c.Gas.MaxGwei.IsPositive() {
		return &domain.ConfigError{Field: "gas.max_gwei", Err: errors.New("must be positive")}
	}
	tiers := []struct {
		field string
		value decimal.Decimal
	}{
		{"gas.default_gwei", c.Gas.DefaultGwei},
		{"gas.low_gwei", c.Gas.LowGwei},
		{"gas.standard_gwei", c.Gas.StandardGwei},
		{"gas.fast_gwei", c.Gas.FastGwei},
	}
	for _, t := range tiers {
		if t.value.IsNegative() {
			return &domain.ConfigError{Field: t.field, Err: errors.New("must not be negative")}
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return &domain.ConfigError{Field: "logging.level", Err: fmt.Errorf("unknown level %q", c.Logging.Level)}
	}

	return nil
}

// GasDefaults converts the configured gwei tiers into a wei price set.
func (c *Config) GasDefaults() domain.GasPriceSet {
	return domain.GasPriceSet{
		Default:  gweiToWei(c.Gas.DefaultGwei),
		Low:      gweiToWei(c.Gas.LowGwei),
		Standard: gweiToWei(c.Gas.StandardGwei),
		Fast:     gweiToWei(c.Gas.FastGwei),
		Max:      gweiToWei(c.Gas.MaxGwei),
	}
}

// Seconds converts a configured second count into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func gweiToWei(d decimal.Decimal) *big.Int {
	return d.Shift(9).BigInt()
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// overrideWithEnv replaces settings whose environment variable is set.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("RATEKEEPER_NODE_URL"); v != "" {
		cfg.Node.RPCURL = v
	}
	if v := os.Getenv("RATEKEEPER_TRACKER_URL"); v != "" {
		cfg.Feeds.TrackerURL = v
	}
	if v := os.Getenv("RATEKEEPER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("RATEKEEPER_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RATEKEEPER_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
}
