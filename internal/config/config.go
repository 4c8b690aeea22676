// Package config loads and validates the collector configuration from
// config.yaml, with environment overrides for credentials and the channel
// list.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile   = "config.yaml"
	DefaultOutputDir    = "exports"
	DefaultPageSize     = 100
	DefaultInterval     = 10 * time.Minute
	DefaultSinceHours   = 24
	DefaultPerSourceCap = 500
	DefaultPort         = 8000
	DefaultOnCorruption = "reset"

	// ChannelsEnv overrides the configured channel list with an ordered,
	// comma-delimited value.
	ChannelsEnv = "TGC_CHANNELS"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "10m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Channels  []string        `yaml:"channels"`
	Output    OutputConfig    `yaml:"output"`
	Poll      PollConfig      `yaml:"poll"`
	Server    ServerConfig    `yaml:"server"`
}

type TransportConfig struct {
	BaseURL  string `yaml:"base_url"`
	TokenEnv string `yaml:"token_env"`
	PageSize int    `yaml:"page_size"`

	// Resolved from the env var at load time, never stored in the file.
	Token string `yaml:"-"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`

	// OnCorruption picks the policy for unreadable persisted state:
	// "reset" degrades to empty (re-bootstrap, deduplicated downstream),
	// "fail" aborts instead.
	OnCorruption string `yaml:"on_corruption"`
}

type PollConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Interval     Duration `yaml:"interval"`
	SinceHours   int      `yaml:"since_hours"`
	PerSourceCap int      `yaml:"per_source_cap"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and
// validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = DefaultOutputDir
	}
	if cfg.Output.OnCorruption == "" {
		cfg.Output.OnCorruption = DefaultOnCorruption
	}
	if cfg.Transport.PageSize == 0 {
		cfg.Transport.PageSize = DefaultPageSize
	}
	if cfg.Poll.Interval.Duration == 0 {
		cfg.Poll.Interval.Duration = DefaultInterval
	}
	if cfg.Poll.SinceHours == 0 {
		cfg.Poll.SinceHours = DefaultSinceHours
	}
	if cfg.Poll.PerSourceCap == 0 {
		cfg.Poll.PerSourceCap = DefaultPerSourceCap
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
}

func resolveEnv(cfg *Config) {
	if cfg.Transport.TokenEnv != "" {
		cfg.Transport.Token = os.Getenv(cfg.Transport.TokenEnv)
	}

	if raw := os.Getenv(ChannelsEnv); raw != "" {
		var channels []string
		for _, ch := range strings.Split(raw, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				channels = append(channels, ch)
			}
		}
		if len(channels) > 0 {
			cfg.Channels = channels
		}
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Transport.BaseURL) == "" {
		return errors.New("transport.base_url is required")
	}
	if len(cfg.Channels) == 0 {
		return errors.New("channels: at least one channel must be configured")
	}
	for _, ch := range cfg.Channels {
		if strings.TrimSpace(ch) == "" {
			return errors.New("channels: empty channel name")
		}
	}

	switch cfg.Output.OnCorruption {
	case "reset", "fail":
		// valid
	default:
		return fmt.Errorf("output.on_corruption: unknown policy %q (want reset or fail)", cfg.Output.OnCorruption)
	}

	if cfg.Poll.SinceHours < 1 || cfg.Poll.SinceHours > 168 {
		return fmt.Errorf("poll.since_hours: %d out of range [1,168]", cfg.Poll.SinceHours)
	}
	if cfg.Poll.Interval.Duration <= 0 {
		return errors.New("poll.interval: must be positive")
	}
	if cfg.Poll.PerSourceCap <= 0 {
		return errors.New("poll.per_source_cap: must be positive")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", cfg.Server.Port)
	}

	return nil
}
