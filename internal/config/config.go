package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const envPrefix = "RADSTORM"

// Config holds every tunable of the storm server. A loaded Config is treated as
// immutable; a reload produces a new value that replaces the old one wholesale.
type Config struct {
	Logging    LoggingConfig     `mapstructure:"logging"`
	Storm      StormConfig       `mapstructure:"storm"`
	Effect     EffectConfig      `mapstructure:"effect"`
	AutoStorm  AutoStormConfig   `mapstructure:"auto_storm"`
	Weather    WeatherConfig     `mapstructure:"weather"`
	Protection ProtectionConfig  `mapstructure:"protection"`
	Deadzone   DeadzoneConfig    `mapstructure:"deadzone"`
	Messages   map[string]string `mapstructure:"messages"`
}

// LoggingConfig controls the zap logger built by the host.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StormConfig covers the core cadence and lifetime of a storm.
type StormConfig struct {
	TickIntervalSeconds float64 `mapstructure:"tick_interval_seconds"`
	DamagePerTick       int     `mapstructure:"damage_per_tick"`
	DurationSeconds     float64 `mapstructure:"duration_seconds"`
	DamageDelaySeconds  float64 `mapstructure:"damage_delay_seconds"`
	TargetAdmins        bool    `mapstructure:"target_admins"`
	BroadcastMessages   bool    `mapstructure:"broadcast_messages"`
}

// EffectConfig describes the visible status effect sent to exposed participants.
type EffectConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	ID      uint16 `mapstructure:"id"`
	Key     int16  `mapstructure:"key"`
}

// AutoStormConfig configures randomized recurrence.
type AutoStormConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	MinIntervalMinutes float64 `mapstructure:"min_interval_minutes"`
	MaxIntervalMinutes float64 `mapstructure:"max_interval_minutes"`
}

// WeatherConfig toggles an environment-wide weather mode while a storm runs.
type WeatherConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Descriptor string `mapstructure:"descriptor"`
}

// ProtectionConfig groups the two protection mechanisms.
type ProtectionConfig struct {
	Oxygen    OxygenConfig    `mapstructure:"oxygen"`
	Radiators RadiatorsConfig `mapstructure:"radiators"`
}

// OxygenConfig controls the breathable-volume check.
type OxygenConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	AlphaThreshold float64 `mapstructure:"alpha_threshold"`
}

// RadiatorsConfig controls discovery of safezone radiators among placed structures.
type RadiatorsConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	ItemIDs        []uint16 `mapstructure:"item_ids"`
	DefaultRadius  float64  `mapstructure:"default_radius"`
	RefreshSeconds float64  `mapstructure:"refresh_seconds"`
	RequiresPower  bool     `mapstructure:"requires_power"`
}

// DeadzoneConfig configures the optional world-level hazardous region.
type DeadzoneConfig struct {
	Enabled                       bool    `mapstructure:"enabled"`
	Radius                        float64 `mapstructure:"radius"`
	UnprotectedDamagePerSecond    float64 `mapstructure:"unprotected_damage_per_second"`
	ProtectedDamagePerSecond      float64 `mapstructure:"protected_damage_per_second"`
	UnprotectedRadiationPerSecond float64 `mapstructure:"unprotected_radiation_per_second"`
	MaskFilterDamagePerSecond     float64 `mapstructure:"mask_filter_damage_per_second"`
}

// DefaultMessages is the translation table used when the config file omits a key.
var DefaultMessages = map[string]string{
	"storm_start":          "Radiation storm has begun!",
	"storm_stop":           "Radiation storm has ended.",
	"storm_already_active": "Radiation storm is already active.",
	"storm_not_active":     "No active radiation storm.",
	"storm_status":         "Radiation storm is currently {0}.",
	"storm_next":           "Next radiation storm in {0}.",
}

// Load reads the configuration file at path. Missing keys fall back to defaults and
// RADSTORM_* environment variables override file values.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return decode(v)
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// Defaults are static; a decode failure here is a programming error.
		panic(err)
	}
	return cfg
}

// Watch reloads the file at path whenever it changes and hands the fresh
// configuration to onChange. Reload failures are passed to onError and the
// previous configuration stays in effect.
func Watch(path string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("storm.tick_interval_seconds", 2.0)
	v.SetDefault("storm.damage_per_tick", 5)
	v.SetDefault("storm.duration_seconds", 300.0)
	v.SetDefault("storm.damage_delay_seconds", 10.0)
	v.SetDefault("storm.target_admins", false)
	v.SetDefault("storm.broadcast_messages", true)

	v.SetDefault("effect.enabled", true)
	v.SetDefault("effect.id", 19000)
	v.SetDefault("effect.key", 19000)

	v.SetDefault("auto_storm.enabled", false)
	v.SetDefault("auto_storm.min_interval_minutes", 20.0)
	v.SetDefault("auto_storm.max_interval_minutes", 30.0)

	v.SetDefault("weather.enabled", false)
	v.SetDefault("weather.descriptor", "")

	v.SetDefault("protection.oxygen.enabled", true)
	v.SetDefault("protection.oxygen.alpha_threshold", 0.5)
	v.SetDefault("protection.radiators.enabled", true)
	v.SetDefault("protection.radiators.item_ids", []uint16{})
	v.SetDefault("protection.radiators.default_radius", 16.0)
	v.SetDefault("protection.radiators.refresh_seconds", 5.0)
	v.SetDefault("protection.radiators.requires_power", true)

	v.SetDefault("deadzone.enabled", true)
	v.SetDefault("deadzone.radius", 0.0)
	v.SetDefault("deadzone.unprotected_damage_per_second", 5.0)
	v.SetDefault("deadzone.protected_damage_per_second", 0.0)
	v.SetDefault("deadzone.unprotected_radiation_per_second", 5.0)
	v.SetDefault("deadzone.mask_filter_damage_per_second", 1.0)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Normalize clamps values into the ranges the storm scheduler relies on and
// fills in missing translations.
func (c *Config) Normalize() {
	c.Storm.TickIntervalSeconds = math.Max(0.5, c.Storm.TickIntervalSeconds)
	c.Storm.DurationSeconds = math.Max(0, c.Storm.DurationSeconds)
	c.Storm.DamageDelaySeconds = math.Max(0, c.Storm.DamageDelaySeconds)
	if c.Storm.DamagePerTick < 0 {
		c.Storm.DamagePerTick = 0
	}

	c.AutoStorm.MinIntervalMinutes = math.Max(0.1, c.AutoStorm.MinIntervalMinutes)
	c.AutoStorm.MaxIntervalMinutes = math.Max(c.AutoStorm.MinIntervalMinutes, c.AutoStorm.MaxIntervalMinutes)

	c.Protection.Oxygen.AlphaThreshold = math.Max(0, c.Protection.Oxygen.AlphaThreshold)
	c.Protection.Radiators.RefreshSeconds = math.Max(1, c.Protection.Radiators.RefreshSeconds)
	if c.Protection.Radiators.DefaultRadius < 0 {
		c.Protection.Radiators.DefaultRadius = 0
	}

	if c.Messages == nil {
		c.Messages = make(map[string]string, len(DefaultMessages))
	}
	for key, msg := range DefaultMessages {
		if _, ok := c.Messages[key]; !ok {
			c.Messages[key] = msg
		}
	}
}

// Clone returns a deep copy so callers can derive a modified configuration
// without touching one that is already in use.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Protection.Radiators.ItemIDs = append([]uint16(nil), c.Protection.Radiators.ItemIDs...)
	cp.Messages = make(map[string]string, len(c.Messages))
	for k, v := range c.Messages {
		cp.Messages[k] = v
	}
	return &cp
}

// TickInterval is the cadence timer period.
func (s StormConfig) TickInterval() time.Duration {
	return seconds(s.TickIntervalSeconds)
}

// Duration is how long a storm lasts; zero means it never expires on its own.
func (s StormConfig) Duration() time.Duration {
	return seconds(s.DurationSeconds)
}

// DamageDelay is the wait between storm start and the damage phase.
func (s StormConfig) DamageDelay() time.Duration {
	return seconds(s.DamageDelaySeconds)
}

// RefreshInterval is the radiator cache lifetime.
func (r RadiatorsConfig) RefreshInterval() time.Duration {
	return seconds(r.RefreshSeconds)
}

// Active reports whether the visible effect should be sent at all.
func (e EffectConfig) Active() bool {
	return e.Enabled && e.ID != 0
}

// Active reports whether the weather toggle has something to apply.
func (w WeatherConfig) Active() bool {
	return w.Enabled && w.Descriptor != ""
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
