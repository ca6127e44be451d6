// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultStopLossPct is used when risk.stop_loss_pct is unset
	defaultStopLossPct = 25.0
	// defaultMaxOrderAgeMin is the stale-order ceiling when risk.max_order_age_min is unset
	defaultMaxOrderAgeMin = 15
	// defaultQuantity is the per-order contract count when strategy.quantity is unset
	defaultQuantity = 1
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Contracts   ContractsConfig   `yaml:"contracts"`
	Risk        RiskConfig        `yaml:"risk"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogDir   string `yaml:"log_dir"`   // directory for trade/error logs
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker gateway settings. AccountFilter, when set,
// enables the buying-power check before entries; empty means the check is
// skipped and entries are always permitted.
type BrokerConfig struct {
	Provider      string `yaml:"provider"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	ClientID      int    `yaml:"client_id"`
	AccountFilter string `yaml:"account_filter"`
}

// StrategyConfig defines the signal thresholds and exposure limits.
type StrategyConfig struct {
	Symbol     string  `yaml:"symbol"`
	LongEnter  float64 `yaml:"long_enter"`
	ShortEnter float64 `yaml:"short_enter"`
	LongExit   float64 `yaml:"long_exit"`
	ShortExit  float64 `yaml:"short_exit"`
	CallLimit  int     `yaml:"call_limit"`
	PutLimit   int     `yaml:"put_limit"`
	Quantity   int     `yaml:"quantity"`
}

// ContractsConfig defines the contract selection policy.
type ContractsConfig struct {
	// StrikeOffset is the width of the strike band around the underlying
	// price: calls use [price, price+offset], puts use [price-offset, price].
	StrikeOffset float64 `yaml:"strike_offset"`
	// CallOffset indexes into the eligible list from the front for calls.
	CallOffset int `yaml:"call_offset"`
	// PutOffset indexes into the eligible list from the back for puts.
	PutOffset int `yaml:"put_offset"`
	// AutoSelectExpiries picks all expirations within ExpiryWindowDays of
	// today; when false a single expiration at ExpiryOffset is used.
	AutoSelectExpiries bool `yaml:"auto_select_expiries"`
	ExpiryWindowDays   int  `yaml:"expiry_window_days"`
	ExpiryOffset       int  `yaml:"expiry_offset"`
	// SelectionMode is "manual" (positional offset) or "delta" (closest to
	// TargetDelta, sign-adjusted per right).
	SelectionMode string  `yaml:"selection_mode"`
	TargetDelta   float64 `yaml:"target_delta"`
}

// RiskConfig defines stop-loss and stale-order parameters.
type RiskConfig struct {
	StopLossPct    float64 `yaml:"stop_loss_pct"`     // percent below average cost
	MaxOrderAgeMin int     `yaml:"max_order_age_min"` // stale-order ceiling, minutes
}

// ScheduleConfig defines the periodic task intervals.
type ScheduleConfig struct {
	SignalRefresh    string `yaml:"signal_refresh"`
	TokenRefresh     string `yaml:"token_refresh"`
	EntryInterval    string `yaml:"entry_interval"`
	ExitInterval     string `yaml:"exit_interval"`
	ReapInterval     string `yaml:"reap_interval"`
	StopLossInterval string `yaml:"stop_loss_interval"`
}

// DashboardConfig defines the status HTTP server settings. AuthToken, when
// set, is required on every request except the health check.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"`
}

// SelectionMode values for ContractsConfig.SelectionMode.
const (
	SelectionManual = "manual"
	SelectionDelta  = "delta"
)

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	c.normalize()

	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	// Broker validation. Live gateways are wired externally; only the paper
	// provider is accepted here.
	if c.Broker.Provider != "paper" {
		return fmt.Errorf("broker.provider %q is not supported (use 'paper')", c.Broker.Provider)
	}

	// Strategy validation
	if c.Strategy.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if c.Strategy.LongEnter >= c.Strategy.LongExit {
		return fmt.Errorf("strategy.long_enter (%.1f) must be < strategy.long_exit (%.1f)",
			c.Strategy.LongEnter, c.Strategy.LongExit)
	}
	if c.Strategy.ShortEnter <= c.Strategy.ShortExit {
		return fmt.Errorf("strategy.short_enter (%.1f) must be > strategy.short_exit (%.1f)",
			c.Strategy.ShortEnter, c.Strategy.ShortExit)
	}
	if c.Strategy.CallLimit <= 0 {
		return fmt.Errorf("strategy.call_limit must be > 0")
	}
	if c.Strategy.PutLimit <= 0 {
		return fmt.Errorf("strategy.put_limit must be > 0")
	}
	if c.Strategy.Quantity <= 0 {
		return fmt.Errorf("strategy.quantity must be > 0")
	}

	// Contract selection validation
	if c.Contracts.StrikeOffset <= 0 {
		return fmt.Errorf("contracts.strike_offset must be > 0")
	}
	if c.Contracts.CallOffset < 0 || c.Contracts.PutOffset < 0 {
		return fmt.Errorf("contracts.call_offset and contracts.put_offset must be >= 0")
	}
	switch c.Contracts.SelectionMode {
	case SelectionManual:
	case SelectionDelta:
		if c.Contracts.TargetDelta <= 0 || c.Contracts.TargetDelta >= 1 {
			return fmt.Errorf("contracts.target_delta must be in (0,1)")
		}
	default:
		return fmt.Errorf("contracts.selection_mode must be 'manual' or 'delta'")
	}
	if c.Contracts.AutoSelectExpiries && c.Contracts.ExpiryWindowDays <= 0 {
		return fmt.Errorf("contracts.expiry_window_days must be > 0 when auto_select_expiries is set")
	}
	if !c.Contracts.AutoSelectExpiries && c.Contracts.ExpiryOffset < 0 {
		return fmt.Errorf("contracts.expiry_offset must be >= 0")
	}

	// Risk validation
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 100 {
		return fmt.Errorf("risk.stop_loss_pct must be in (0,100)")
	}
	if c.Risk.MaxOrderAgeMin <= 0 {
		return fmt.Errorf("risk.max_order_age_min must be > 0")
	}

	// Schedule validation
	for name, raw := range map[string]string{
		"schedule.signal_refresh":     c.Schedule.SignalRefresh,
		"schedule.token_refresh":      c.Schedule.TokenRefresh,
		"schedule.entry_interval":     c.Schedule.EntryInterval,
		"schedule.exit_interval":      c.Schedule.ExitInterval,
		"schedule.reap_interval":      c.Schedule.ReapInterval,
		"schedule.stop_loss_interval": c.Schedule.StopLossInterval,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s invalid: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}

	return nil
}

// normalize fills in defaults for optional values before validation.
func (c *Config) normalize() {
	if c.Environment.LogDir == "" {
		c.Environment.LogDir = "logs"
	}
	if c.Strategy.Quantity == 0 {
		c.Strategy.Quantity = defaultQuantity
	}
	if c.Risk.StopLossPct == 0 {
		c.Risk.StopLossPct = defaultStopLossPct
	}
	if c.Risk.MaxOrderAgeMin == 0 {
		c.Risk.MaxOrderAgeMin = defaultMaxOrderAgeMin
	}
	if c.Contracts.SelectionMode == "" {
		c.Contracts.SelectionMode = SelectionManual
	}
	if c.Schedule.SignalRefresh == "" {
		c.Schedule.SignalRefresh = "60s"
	}
	if c.Schedule.TokenRefresh == "" {
		c.Schedule.TokenRefresh = "300s"
	}
	if c.Schedule.EntryInterval == "" {
		c.Schedule.EntryInterval = "60s"
	}
	if c.Schedule.ExitInterval == "" {
		c.Schedule.ExitInterval = "60s"
	}
	if c.Schedule.ReapInterval == "" {
		c.Schedule.ReapInterval = "600s"
	}
	if c.Schedule.StopLossInterval == "" {
		c.Schedule.StopLossInterval = "120s"
	}
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// HasAccountFilter reports whether the buying-power check is enabled.
func (c *Config) HasAccountFilter() bool {
	return c.Broker.AccountFilter != ""
}

// interval parses a schedule duration, falling back to a default on error.
func interval(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// SignalRefreshInterval returns the signal-refresh task interval.
func (c *Config) SignalRefreshInterval() time.Duration {
	return interval(c.Schedule.SignalRefresh, 60*time.Second)
}

// TokenRefreshInterval returns the credential-refresh task interval.
func (c *Config) TokenRefreshInterval() time.Duration {
	return interval(c.Schedule.TokenRefresh, 300*time.Second)
}

// EntryInterval returns the entry-evaluation task interval.
func (c *Config) EntryInterval() time.Duration {
	return interval(c.Schedule.EntryInterval, 60*time.Second)
}

// ExitInterval returns the exit-evaluation task interval.
func (c *Config) ExitInterval() time.Duration {
	return interval(c.Schedule.ExitInterval, 60*time.Second)
}

// ReapInterval returns the stale-order reaper interval.
func (c *Config) ReapInterval() time.Duration {
	return interval(c.Schedule.ReapInterval, 600*time.Second)
}

// StopLossInterval returns the deferred stop-loss arming check interval.
func (c *Config) StopLossInterval() time.Duration {
	return interval(c.Schedule.StopLossInterval, 120*time.Second)
}
