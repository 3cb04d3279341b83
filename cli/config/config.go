package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/endlesschasey-ai/agent-template/log"
)

// Default values applied by Defaults.
const (
	DefaultAddr                = ":8000"
	DefaultBaseURL             = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultModel               = "qwen-max"
	DefaultMaxToolRounds       = 5
	DefaultNotificationTimeout = 100 * time.Millisecond
	DefaultHistoryLimit        = 20
	DefaultLodeDataset         = "agent"
	DefaultLodePath            = "./data"
)

// Config represents an agent.yaml configuration file.
// Values not present in the file keep their Defaults. CLI flags always
// override config values.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Generation GenerationConfig `yaml:"generation"`
	Storage    StorageConfig    `yaml:"storage"`
	Stream     StreamConfig     `yaml:"stream"`
	Adapter    AdapterConfig    `yaml:"adapter"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr        string          `yaml:"addr"`
	CORSOrigins []string        `yaml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds chat requests per client IP. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// GenerationConfig selects and configures the generation provider.
type GenerationConfig struct {
	// Provider is one of scripted, openai, exec.
	Provider       string         `yaml:"provider"`
	BaseURL        string         `yaml:"base_url"`
	APIKey         string         `yaml:"api_key"`
	Model          string         `yaml:"model"`
	SystemPrompt   string         `yaml:"system_prompt"`
	Temperature    float64        `yaml:"temperature"`
	MaxToolRounds  int            `yaml:"max_tool_rounds"`
	FinalizeAnswer bool           `yaml:"finalize_answer"`
	Executor       ExecutorConfig `yaml:"executor"`
	// ScriptDelay paces the scripted provider.
	ScriptDelay Duration `yaml:"script_delay"`
}

// ExecutorConfig configures the exec provider's subprocess.
type ExecutorConfig struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
	Env  []string `yaml:"env"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Backend is one of memory, postgres, lode.
	Backend string     `yaml:"backend"`
	DSN     string     `yaml:"dsn"`
	Lode    LodeConfig `yaml:"lode"`
}

// LodeConfig configures the lode backend.
type LodeConfig struct {
	Dataset string `yaml:"dataset"`
	// Backend is fs or s3.
	Backend string `yaml:"backend"`
	// Path is a directory for fs, bucket[/prefix] for s3.
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// StreamConfig tunes the streaming core.
type StreamConfig struct {
	NotificationTimeout Duration `yaml:"notification_timeout"`
	HistoryLimit        int      `yaml:"history_limit"`
	// MaxDuration bounds a whole stream. Zero means unbounded.
	MaxDuration    Duration `yaml:"max_duration"`
	PublishTimeout Duration `yaml:"publish_timeout"`
}

// AdapterConfig holds completion adapter settings.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	// Backoff is the first wait between publish attempts; waits double
	// up to MaxBackoff.
	Backoff    Duration `yaml:"backoff,omitempty"`
	MaxBackoff Duration `yaml:"max_backoff,omitempty"`
}

// LogConfig configures logging. Level is hot-reloaded by Watch.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        DefaultAddr,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   RateLimitConfig{RPS: 5, Burst: 10},
		},
		Generation: GenerationConfig{
			Provider:      "scripted",
			BaseURL:       DefaultBaseURL,
			Model:         DefaultModel,
			MaxToolRounds: DefaultMaxToolRounds,
			ScriptDelay:   Duration{50 * time.Millisecond},
		},
		Storage: StorageConfig{
			Backend: "memory",
			Lode: LodeConfig{
				Dataset: DefaultLodeDataset,
				Backend: "fs",
				Path:    DefaultLodePath,
			},
		},
		Stream: StreamConfig{
			NotificationTimeout: Duration{DefaultNotificationTimeout},
			HistoryLimit:        DefaultHistoryLimit,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("server.rate_limit: rps and burst must not be negative"))
	}

	switch c.Generation.Provider {
	case "scripted":
	case "openai":
		if c.Generation.APIKey == "" {
			errs = append(errs, errors.New("generation.api_key is required for the openai provider"))
		}
	case "exec":
		if c.Generation.Executor.Path == "" {
			errs = append(errs, errors.New("generation.executor.path is required for the exec provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("generation.provider %q: must be scripted, openai or exec", c.Generation.Provider))
	}
	if c.Generation.MaxToolRounds < 0 {
		errs = append(errs, errors.New("generation.max_tool_rounds must not be negative"))
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres backend"))
		}
	case "lode":
		switch c.Storage.Lode.Backend {
		case "fs", "s3":
		default:
			errs = append(errs, fmt.Errorf("storage.lode.backend %q: must be fs or s3", c.Storage.Lode.Backend))
		}
		if c.Storage.Lode.Path == "" {
			errs = append(errs, errors.New("storage.lode.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: must be memory, postgres or lode", c.Storage.Backend))
	}

	if c.Stream.NotificationTimeout.Duration < 0 || c.Stream.MaxDuration.Duration < 0 || c.Stream.PublishTimeout.Duration < 0 {
		errs = append(errs, errors.New("stream: durations must not be negative"))
	}
	if c.Stream.HistoryLimit < 0 {
		errs = append(errs, errors.New("stream.history_limit must not be negative"))
	}

	switch c.Adapter.Type {
	case "":
	case "redis", "webhook":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for the %s adapter", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type %q: must be redis or webhook", c.Adapter.Type))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, errors.New("adapter.retries must not be negative"))
	}
	if c.Adapter.Backoff.Duration < 0 || c.Adapter.MaxBackoff.Duration < 0 || c.Adapter.Timeout.Duration < 0 {
		errs = append(errs, errors.New("adapter: durations must not be negative"))
	} else if c.Adapter.MaxBackoff.Duration > 0 && c.Adapter.Backoff.Duration > c.Adapter.MaxBackoff.Duration {
		errs = append(errs, errors.New("adapter.backoff must not exceed adapter.max_backoff"))
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}
