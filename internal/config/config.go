// Package config provides Viper-based configuration loading for the valence server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override, e.g.
// VALENCE_SYNC_TICK_INTERVAL.
const EnvPrefix = "VALENCE"

// MaxViewDistance bounds sync.view_distance.
const MaxViewDistance = 32

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// Output lists zap sink URLs; empty means stderr.
	Output []string `mapstructure:"output"`
}

// SyncConfig holds the equipment synchronization tick settings.
type SyncConfig struct {
	// TickInterval is the period between synchronization ticks.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// ViewDistance is the chunk view radius given to observers that do not request one.
	ViewDistance int `mapstructure:"view_distance"`
	// OutboxSize is the number of frames buffered per observer before drops.
	OutboxSize int `mapstructure:"outbox_size"`
}

// TransportConfig holds the websocket observer endpoint settings.
type TransportConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Path         string        `mapstructure:"path"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (t TransportConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// HealthConfig holds the gRPC health-check listener settings.
type HealthConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the "host:port" listen address.
func (h HealthConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// ContentConfig points at the YAML and Lua content loaded at startup.
type ContentConfig struct {
	// ItemsFile is the item kind catalog.
	ItemsFile string `mapstructure:"items_file"`
	// InstancesFile lists the world instances and their seeded entities.
	InstancesFile string `mapstructure:"instances_file"`
	// ScriptDir holds one subdirectory of Lua scripts per instance name.
	// Empty disables scripting.
	ScriptDir string `mapstructure:"script_dir"`
}

// Config is the top-level application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Transport TransportConfig `mapstructure:"transport"`
	Health    HealthConfig    `mapstructure:"health"`
	Content   ContentConfig   `mapstructure:"content"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	for _, err := range []error{
		validateLogging(c.Logging),
		validateSync(c.Sync),
		validateTransport(c.Transport),
		validateHealth(c.Health),
		validateContent(c.Content),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func joined(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func validateLogging(l LoggingConfig) error {
	var errs []string
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of [debug, info, warn, error], got %q", l.Level))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		errs = append(errs, fmt.Sprintf("logging.format must be one of [json, console], got %q", l.Format))
	}
	return joined(errs)
}

func validateSync(s SyncConfig) error {
	var errs []string
	if s.TickInterval <= 0 {
		errs = append(errs, fmt.Sprintf("sync.tick_interval must be > 0, got %s", s.TickInterval))
	}
	if s.ViewDistance < 1 || s.ViewDistance > MaxViewDistance {
		errs = append(errs, fmt.Sprintf("sync.view_distance must be 1-%d, got %d", MaxViewDistance, s.ViewDistance))
	}
	if s.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("sync.outbox_size must be >= 1, got %d", s.OutboxSize))
	}
	return joined(errs)
}

func validateTransport(t TransportConfig) error {
	var errs []string
	if !validPort(t.Port) {
		errs = append(errs, fmt.Sprintf("transport.port must be 1-65535, got %d", t.Port))
	}
	if !strings.HasPrefix(t.Path, "/") {
		errs = append(errs, fmt.Sprintf("transport.path must start with '/', got %q", t.Path))
	}
	if t.ReadTimeout < 0 {
		errs = append(errs, "transport.read_timeout must not be negative")
	}
	if t.WriteTimeout < 0 {
		errs = append(errs, "transport.write_timeout must not be negative")
	}
	return joined(errs)
}

func validateHealth(h HealthConfig) error {
	if !validPort(h.Port) {
		return fmt.Errorf("health.port must be 1-65535, got %d", h.Port)
	}
	return nil
}

func validateContent(c ContentConfig) error {
	var errs []string
	if c.ItemsFile == "" {
		errs = append(errs, "content.items_file must not be empty")
	}
	if c.InstancesFile == "" {
		errs = append(errs, "content.instances_file must not be empty")
	}
	return joined(errs)
}

// NewViper returns a Viper instance with defaults and VALENCE_ environment
// overrides applied, and no config file attached.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("sync.tick_interval", "50ms")
	v.SetDefault("sync.view_distance", 8)
	v.SetDefault("sync.outbox_size", 256)

	v.SetDefault("transport.host", "0.0.0.0")
	v.SetDefault("transport.port", 25580)
	v.SetDefault("transport.path", "/ws")
	v.SetDefault("transport.read_timeout", "1m")
	v.SetDefault("transport.write_timeout", "10s")

	v.SetDefault("health.host", "127.0.0.1")
	v.SetDefault("health.port", 50051)

	v.SetDefault("content.items_file", "content/items.yaml")
	v.SetDefault("content.instances_file", "content/instances.yaml")
	v.SetDefault("content.script_dir", "")
}
