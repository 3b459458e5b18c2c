package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lazyclaw/agentdash/internal/gateway"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. AGENTDASH_GATEWAY_ADDRESS
const EnvPrefix = "AGENTDASH"

// Config represents the application configuration
type Config struct {
	Gateway GatewayConfig `yaml:"gateway" mapstructure:"gateway"`
	UI      UIConfig      `yaml:"ui" mapstructure:"ui"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// GatewayConfig holds connection settings
type GatewayConfig struct {
	Address          string        `yaml:"address" mapstructure:"address"`
	RetryDelay       time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"` // 0 disables keepalive pings
}

// UIConfig holds UI-related settings
type UIConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	LogTailLines int           `yaml:"log_tail_lines" mapstructure:"log_tail_lines"`
	TraceTail    int           `yaml:"trace_tail" mapstructure:"trace_tail"`
}

// LogConfig controls the diagnostic log file
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file,omitempty" mapstructure:"file"` // empty = agentdash.log in the config dir
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Address:          gateway.DefaultAddress,
			RetryDelay:       gateway.DefaultRetryDelay,
			HandshakeTimeout: gateway.DefaultHandshakeTimeout,
			WriteTimeout:     gateway.DefaultWriteTimeout,
		},
		UI: UIConfig{
			PollInterval: 100 * time.Millisecond,
			LogTailLines: 500,
			TraceTail:    200,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigDir returns the configuration directory path
func ConfigDir() (string, error) {
	// Check XDG_CONFIG_HOME first
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "agentdash"), nil
}

// ConfigPath returns the full path to the config file.
// AGENTDASH_CONFIG overrides the default location.
func ConfigPath() (string, error) {
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// Load reads the configuration from path (or ConfigPath when empty) and
// applies AGENTDASH_* environment overrides. The result is not validated, so
// that command-line overrides can still repair it; see Apply and Validate.
// Returns the config, whether this is a first run (no config exists), and any error
func Load(path string) (*Config, bool, error) {
	if path == "" {
		var err error
		if path, err = ConfigPath(); err != nil {
			return nil, false, err
		}
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	firstRun := false
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, err
		}
		firstRun = true
	} else {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, false, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, false, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, firstRun, nil
}

// Overrides are command-line settings layered over file and environment
// values. Empty fields leave the loaded value alone.
type Overrides struct {
	Address  string
	LogFile  string
	LogLevel string
}

// Apply layers o over c. Call Validate afterwards.
func (c *Config) Apply(o Overrides) {
	if o.Address != "" {
		c.Gateway.Address = o.Address
	}
	if o.LogFile != "" {
		c.Log.File = o.LogFile
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("gateway.address", d.Gateway.Address)
	v.SetDefault("gateway.retry_delay", d.Gateway.RetryDelay)
	v.SetDefault("gateway.handshake_timeout", d.Gateway.HandshakeTimeout)
	v.SetDefault("gateway.write_timeout", d.Gateway.WriteTimeout)
	v.SetDefault("gateway.ping_interval", d.Gateway.PingInterval)
	v.SetDefault("ui.poll_interval", d.UI.PollInterval)
	v.SetDefault("ui.log_tail_lines", d.UI.LogTailLines)
	v.SetDefault("ui.trace_tail", d.UI.TraceTail)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}

// Validate rejects settings the gateway worker or poller cannot run with
func (c *Config) Validate() error {
	if err := gateway.ValidateAddress(c.Gateway.Address); err != nil {
		return fmt.Errorf("gateway.address: %w", err)
	}
	if c.Gateway.RetryDelay <= 0 {
		return fmt.Errorf("gateway.retry_delay must be positive, got %s", c.Gateway.RetryDelay)
	}
	if c.Gateway.PingInterval < 0 {
		return fmt.Errorf("gateway.ping_interval must not be negative, got %s", c.Gateway.PingInterval)
	}
	if c.UI.PollInterval <= 0 {
		return fmt.Errorf("ui.poll_interval must be positive, got %s", c.UI.PollInterval)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	return nil
}

// LogPath returns the diagnostic log file location
func (c *Config) LogPath() (string, error) {
	if c.Log.File != "" {
		return c.Log.File, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agentdash.log"), nil
}

// Save writes the configuration to path (or ConfigPath when empty)
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		if path, err = ConfigPath(); err != nil {
			return err
		}
	}

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Write atomically: write to temp file, then rename
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
