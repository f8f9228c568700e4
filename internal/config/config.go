// Package config loads and validates racebrief configuration from defaults,
// an optional YAML file, and RACEBRIEF_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// RACEBRIEF_YOTO_CLIENT_ID maps to yoto.client_id.
const EnvPrefix = "RACEBRIEF_"

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/racebrief/config.yaml",
}

// ErrMissingClientID is returned when no Yoto OAuth client id is configured.
var ErrMissingClientID = errors.New("missing yoto.client_id (set RACEBRIEF_YOTO_CLIENT_ID)")

// TTS backend modes.
const (
	TTSModeStreaming = "streaming"
	TTSModeLabs      = "labs"
)

// Config holds all runtime configuration.
type Config struct {
	Server ServerConfig `koanf:"server"`
	Log    LogConfig    `koanf:"log"`
	Store  StoreConfig  `koanf:"store"`
	Yoto   YotoConfig   `koanf:"yoto"`
	F1     F1Config     `koanf:"f1"`
	Poll   PollConfig   `koanf:"poll"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

// StoreConfig configures the identity store.
type StoreConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// YotoConfig configures access to the Yoto platform.
type YotoConfig struct {
	ClientID    string `koanf:"client_id"`
	APIBase     string `koanf:"api_base" validate:"required,url"`
	LoginBase   string `koanf:"login_base" validate:"required,url"`
	RedirectURI string `koanf:"redirect_uri" validate:"required,url"`
	VoiceID     string `koanf:"voice_id" validate:"required"`
	TTSMode     string `koanf:"tts_mode" validate:"oneof=streaming labs"`
}

// F1Config configures the race data provider.
type F1Config struct {
	APIBase  string        `koanf:"api_base" validate:"required,url"`
	CacheURL string        `koanf:"cache_url" validate:"omitempty,url"`
	UseCache bool          `koanf:"use_cache"`
	Timeout  time.Duration `koanf:"timeout" validate:"required"`
}

// PollConfig bounds the transcode/TTS-job polling loops.
type PollConfig struct {
	Interval time.Duration `koanf:"interval" validate:"required"`
	MaxWait  time.Duration `koanf:"max_wait" validate:"required"`
}

// defaultConfig returns a Config with all defaults applied. File and
// environment values are merged on top.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:8090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Store: StoreConfig{
			Path: "./data/racebrief",
		},
		Yoto: YotoConfig{
			APIBase:     "https://api.yotoplay.com",
			LoginBase:   "https://login.yotoplay.com",
			RedirectURI: "http://127.0.0.1:8090/callback",
			VoiceID:     "en-GB-male-1",
			TTSMode:     TTSModeStreaming,
		},
		F1: F1Config{
			APIBase: "https://api.openf1.org/v1",
			Timeout: 15 * time.Second,
		},
		Poll: PollConfig{
			Interval: 2 * time.Second,
			MaxWait:  2 * time.Minute,
		},
	}
}

// Load builds the configuration. An empty path searches DefaultConfigPaths;
// a missing file is not an error, only an unreadable or malformed one is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// RACEBRIEF_YOTO_CLIENT_ID -> yoto.client_id
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(
			strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration before any network call is made.
func (c *Config) Validate() error {
	if c.Yoto.ClientID == "" {
		return ErrMissingClientID
	}
	if c.F1.UseCache && c.F1.CacheURL == "" {
		return errors.New("f1.use_cache requires f1.cache_url")
	}

	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv("RACEBRIEF_CONFIG"); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
