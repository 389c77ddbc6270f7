// Package config loads the configuration keys of §6.4: a YAML default
// layered with environment variables and CLI flags via viper, bound to
// cmd/marinegrid's cobra flags.
package config

import (
	"bytes"
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// TSSThresholds are the monotonic emergency severity bands.
type TSSThresholds struct {
	Elevated int `mapstructure:"elevated" yaml:"elevated"`
	High     int `mapstructure:"high" yaml:"high"`
	Critical int `mapstructure:"critical" yaml:"critical"`
}

// Emergency holds the emergency.* keys.
type Emergency struct {
	TSSThresholds TSSThresholds `mapstructure:"tss_thresholds" yaml:"tss_thresholds"`
	AutoRecovery  bool          `mapstructure:"auto_recovery" yaml:"auto_recovery"`
}

// Outbox holds the outbox.* keys.
type Outbox struct {
	MinBattery  float64 `mapstructure:"min_battery" yaml:"min_battery"`
	MaxAttempts int     `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// FreshnessBuckets are the monotonic (fresh, stale) thresholds in hours.
type FreshnessBuckets struct {
	FreshH float64 `mapstructure:"fresh_h" yaml:"fresh_h"`
	StaleH float64 `mapstructure:"stale_h" yaml:"stale_h"`
}

// Seed holds the seed.* keys.
type Seed struct {
	FreshnessBucketsH FreshnessBuckets `mapstructure:"freshness_buckets_h" yaml:"freshness_buckets_h"`
}

// Config is the fully-resolved set of §6.4 keys.
type Config struct {
	CheckIntervalMs    int      `mapstructure:"check_interval_ms" yaml:"check_interval_ms"`
	AlertThreshold     float64  `mapstructure:"alert_threshold" yaml:"alert_threshold"`
	AlertCooldownMs    int      `mapstructure:"alert_cooldown_ms" yaml:"alert_cooldown_ms"`
	EnabledCategories []string  `mapstructure:"enabled_categories" yaml:"enabled_categories"`
	Emergency         Emergency `mapstructure:"emergency" yaml:"emergency"`
	Outbox            Outbox    `mapstructure:"outbox" yaml:"outbox"`
	Seed              Seed      `mapstructure:"seed" yaml:"seed"`
}

// defaultYAML mirrors the §6.4 defaults table exactly.
const defaultYAML = `
check_interval_ms: 30000
alert_threshold: 0.75
alert_cooldown_ms: 900000
enabled_categories:
  - squall
  - gale
  - rogueWave
  - rapidPressureDrop
  - convergenceZone
emergency:
  tss_thresholds:
    elevated: 40
    high: 60
    critical: 80
  auto_recovery: true
outbox:
  min_battery: 0.2
  max_attempts: 5
seed:
  freshness_buckets_h:
    fresh_h: 6
    stale_h: 12
`

// Load reads defaultYAML, layers any file at path (if non-empty) and
// environment variables prefixed MARINEGRID_, binds flags (if
// non-nil), and validates the monotonicity invariants the spec
// requires.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewBufferString(defaultYAML)); err != nil {
		return Config{}, fmt.Errorf("config: read defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("marinegrid")
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the monotonicity invariants named in §6.4.
func (c Config) Validate() error {
	t := c.Emergency.TSSThresholds
	if !(0 <= t.Elevated && t.Elevated < t.High && t.High < t.Critical && t.Critical <= 100) {
		return fmt.Errorf("config: emergency.tss_thresholds must satisfy 0 <= elevated < high < critical <= 100, got %+v", t)
	}
	if c.Outbox.MinBattery < 0 || c.Outbox.MinBattery > 1 {
		return fmt.Errorf("config: outbox.min_battery must be in [0,1], got %v", c.Outbox.MinBattery)
	}
	if c.Seed.FreshnessBucketsH.FreshH >= c.Seed.FreshnessBucketsH.StaleH {
		return fmt.Errorf("config: seed.freshness_buckets_h must satisfy fresh_h < stale_h, got %+v", c.Seed.FreshnessBucketsH)
	}
	if c.AlertThreshold < 0 || c.AlertThreshold > 1 {
		return fmt.Errorf("config: alert_threshold must be in [0,1], got %v", c.AlertThreshold)
	}
	return nil
}

// defaultYAMLBytes exposes the embedded default document for tests
// that need to round-trip it without touching disk.
func defaultYAMLBytes() ([]byte, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(defaultYAML), &node); err != nil {
		return nil, err
	}
	return yaml.Marshal(&node)
}
