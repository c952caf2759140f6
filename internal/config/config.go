// Package config loads weave's runtime settings from a YAML file and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Media processors.
const (
	MediaLocal  = "local"
	MediaRemote = "remote"
)

// Config is the complete runtime configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	LLM     LLMConfig     `yaml:"llm"`
	Media   MediaConfig   `yaml:"media"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`

	// StrictKinds rejects edges whose handle kinds differ.
	StrictKinds bool `yaml:"strict_kinds"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// BodyLimit caps request bodies in bytes; workflows carry inline images.
	BodyLimit int `yaml:"body_limit"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite, a DSN for mysql and a URL for postgres.
	DSN string `yaml:"dsn"`
}

type LLMConfig struct {
	GoogleAPIKey    string        `yaml:"google_api_key"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
	AttemptTimeout  time.Duration `yaml:"attempt_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
}

type MediaConfig struct {
	Processor string        `yaml:"processor"`
	URL       string        `yaml:"url"`
	FFmpeg    string        `yaml:"ffmpeg"`
	FFprobe   string        `yaml:"ffprobe"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			BodyLimit:    50 << 20,
		},
		Store: StoreConfig{Driver: DriverSQLite, DSN: "weave.db"},
		LLM: LLMConfig{
			AttemptTimeout: 60 * time.Second,
			MaxAttempts:    4,
		},
		Media: MediaConfig{
			Processor: MediaLocal,
			FFmpeg:    "ffmpeg",
			FFprobe:   "ffprobe",
			Timeout:   120 * time.Second,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{ServiceName: "weave"},
	}
}

// Load reads path (when not empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer func() { _ = f.Close() }()
		if err := Decode(f, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode merges YAML from r into cfg. Unknown keys are an error.
func Decode(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides settings from the environment. Provider keys use the
// providers' conventional variable names; DATABASE_URL selects postgres
// unless WEAVE_STORE_DRIVER says otherwise.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("WEAVE_ADDR", &c.Server.Addr)
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Store.Driver = DriverPostgres
		c.Store.DSN = v
	}
	str("WEAVE_STORE_DRIVER", &c.Store.Driver)
	str("WEAVE_STORE_DSN", &c.Store.DSN)
	str("GOOGLE_GEMINI_API_KEY", &c.LLM.GoogleAPIKey)
	str("ANTHROPIC_API_KEY", &c.LLM.AnthropicAPIKey)
	str("OPENAI_API_KEY", &c.LLM.OpenAIAPIKey)
	str("WEAVE_MEDIA_PROCESSOR", &c.Media.Processor)
	str("WEAVE_MEDIA_URL", &c.Media.URL)
	str("WEAVE_FFMPEG", &c.Media.FFmpeg)
	str("WEAVE_LOG_LEVEL", &c.Log.Level)
	str("WEAVE_LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("WEAVE_MEDIA_URL"); ok && v != "" {
		if _, set := lookup("WEAVE_MEDIA_PROCESSOR"); !set {
			c.Media.Processor = MediaRemote
		}
	}
	if v, ok := lookup("WEAVE_ATTEMPT_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("WEAVE_ATTEMPT_TIMEOUT: %w", err)
		}
		c.LLM.AttemptTimeout = d
	}
	for key, dst := range map[string]*bool{
		"WEAVE_STRICT_KINDS": &c.StrictKinds,
		"WEAVE_TRACING":      &c.Tracing.Enabled,
	} {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.BodyLimit < 0 {
		errs = append(errs, errors.New("server.body_limit must not be negative"))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverMySQL, DriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, sqlite, mysql, postgres", c.Store.Driver))
	}

	if c.LLM.MaxAttempts < 1 {
		errs = append(errs, errors.New("llm.max_attempts must be >= 1"))
	}
	if c.LLM.AttemptTimeout < 0 {
		errs = append(errs, errors.New("llm.attempt_timeout must not be negative"))
	}

	switch c.Media.Processor {
	case MediaLocal:
	case MediaRemote:
		if strings.TrimSpace(c.Media.URL) == "" {
			errs = append(errs, errors.New("media.url is required for the remote processor"))
		}
	default:
		errs = append(errs, fmt.Errorf("media.processor %q is not one of local, remote", c.Media.Processor))
	}
	if c.Media.Timeout < 0 {
		errs = append(errs, errors.New("media.timeout must not be negative"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// HasLLM reports whether at least one provider key is configured.
func (c Config) HasLLM() bool {
	return c.LLM.GoogleAPIKey != "" || c.LLM.AnthropicAPIKey != "" || c.LLM.OpenAIAPIKey != ""
}
