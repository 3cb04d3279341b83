package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `server:
  addr: ":9000"
  cors_origins: ["https://chat.example.com"]
  rate_limit:
    rps: 2.5
    burst: 4

generation:
  provider: openai
  api_key: sk-test
  model: qwen-plus
  max_tool_rounds: 3
  finalize_answer: true
  executor:
    path: ./bin/agent-generator
    args: ["--delay", "10ms"]

storage:
  backend: lode
  lode:
    dataset: chat
    backend: s3
    path: my-bucket/prefix
    region: us-east-1
    endpoint: https://minio.example.com
    s3_path_style: true

stream:
  notification_timeout: 50ms
  history_limit: 10
  max_duration: 2m

adapter:
  type: webhook
  url: https://hooks.example.com/agent
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3
  backoff: 250ms
  max_backoff: 4s

log:
  level: debug
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "server.addr", cfg.Server.Addr, ":9000")
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://chat.example.com" {
		t.Errorf("cors_origins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Server.RateLimit.RPS != 2.5 || cfg.Server.RateLimit.Burst != 4 {
		t.Errorf("rate_limit = %+v", cfg.Server.RateLimit)
	}

	assertEqual(t, "generation.provider", cfg.Generation.Provider, "openai")
	assertEqual(t, "generation.model", cfg.Generation.Model, "qwen-plus")
	assertEqual(t, "generation.base_url", cfg.Generation.BaseURL, DefaultBaseURL)
	if cfg.Generation.MaxToolRounds != 3 || !cfg.Generation.FinalizeAnswer {
		t.Errorf("generation = %+v", cfg.Generation)
	}
	if len(cfg.Generation.Executor.Args) != 2 {
		t.Errorf("executor.args = %v", cfg.Generation.Executor.Args)
	}

	assertEqual(t, "storage.backend", cfg.Storage.Backend, "lode")
	assertEqual(t, "storage.lode.dataset", cfg.Storage.Lode.Dataset, "chat")
	assertEqual(t, "storage.lode.path", cfg.Storage.Lode.Path, "my-bucket/prefix")
	if !cfg.Storage.Lode.S3PathStyle {
		t.Error("expected storage.lode.s3_path_style=true")
	}

	if cfg.Stream.NotificationTimeout.Duration != 50*time.Millisecond {
		t.Errorf("notification_timeout = %v", cfg.Stream.NotificationTimeout.Duration)
	}
	if cfg.Stream.MaxDuration.Duration != 2*time.Minute || cfg.Stream.HistoryLimit != 10 {
		t.Errorf("stream = %+v", cfg.Stream)
	}

	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Errorf("adapter.retries = %v", cfg.Adapter.Retries)
	}
	if cfg.Adapter.Backoff.Duration != 250*time.Millisecond || cfg.Adapter.MaxBackoff.Duration != 4*time.Second {
		t.Errorf("adapter backoff = %v..%v", cfg.Adapter.Backoff.Duration, cfg.Adapter.MaxBackoff.Duration)
	}
	if cfg.Adapter.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("expected Authorization header")
	}
	assertEqual(t, "log.level", cfg.Log.Level, "debug")

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_EmptyConfigKeepsDefaults(t *testing.T) {
	for _, content := range []string{"", "   \n  \n", "# only a comment\n"} {
		cfg, err := Load(writeTemp(t, content))
		if err != nil {
			t.Fatalf("Load(%q) failed: %v", content, err)
		}
		def := Defaults()
		assertEqual(t, "server.addr", cfg.Server.Addr, def.Server.Addr)
		assertEqual(t, "storage.backend", cfg.Storage.Backend, "memory")
		if cfg.Stream.NotificationTimeout.Duration != DefaultNotificationTimeout {
			t.Errorf("notification_timeout = %v", cfg.Stream.NotificationTimeout.Duration)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("defaults should validate: %v", err)
		}
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/agent.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeTemp(t, "{{invalid yaml")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_AGENT_ADDR", ":7777")
	cfg, err := Load(writeTemp(t, "server:\n  addr: ${TEST_AGENT_ADDR}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "server.addr", cfg.Server.Addr, ":7777")
}

func TestLoad_RequiredEnvMissing(t *testing.T) {
	_, err := Load(writeTemp(t, "generation:\n  api_key: ${TEST_AGENT_NO_SUCH_KEY:?set it}\n"))
	if err == nil || !strings.Contains(err.Error(), "TEST_AGENT_NO_SUCH_KEY") {
		t.Fatalf("expected missing variable error, got %v", err)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	tests := []struct {
		name, yaml, key string
	}{
		{"top level", "bogus_key: 1\n", "bogus_key"},
		{"nested", "storage:\n  backend: memory\n  unknown_field: bad\n", "unknown_field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error for unknown key")
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error should mention %s, got: %v", tt.key, err)
			}
		})
	}
}

func TestLoad_RetriesZeroDistinctFromNil(t *testing.T) {
	cfg, err := Load(writeTemp(t, "adapter:\n  type: redis\n  url: redis://localhost:6379\n  retries: 0\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 0 {
		t.Errorf("expected retries=0, got %v", cfg.Adapter.Retries)
	}

	cfg, err = Load(writeTemp(t, "adapter:\n  type: redis\n  url: redis://localhost:6379\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Adapter.Retries != nil {
		t.Errorf("expected nil retries, got %d", *cfg.Adapter.Retries)
	}
}

func TestDuration_InvalidFormat(t *testing.T) {
	_, err := Load(writeTemp(t, "stream:\n  max_duration: not-a-duration\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected invalid duration error, got %v", err)
	}
}

func TestDuration_EmptyIsZero(t *testing.T) {
	cfg, err := Load(writeTemp(t, "stream:\n  notification_timeout: \"\"\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Stream.NotificationTimeout.Duration != 0 {
		t.Errorf("expected zero duration, got %v", cfg.Stream.NotificationTimeout.Duration)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"openai without key", func(c *Config) { c.Generation.Provider = "openai" }, "generation.api_key"},
		{"exec without path", func(c *Config) { c.Generation.Provider = "exec" }, "generation.executor.path"},
		{"unknown provider", func(c *Config) { c.Generation.Provider = "llama" }, "generation.provider"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }, "storage.dsn"},
		{"bad lode backend", func(c *Config) { c.Storage.Backend = "lode"; c.Storage.Lode.Backend = "gcs" }, "storage.lode.backend"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "sqlite" }, "storage.backend"},
		{"adapter without url", func(c *Config) { c.Adapter.Type = "redis" }, "adapter.url"},
		{"unknown adapter", func(c *Config) { c.Adapter.Type = "kafka" }, "adapter.type"},
		{"negative adapter backoff", func(c *Config) { c.Adapter.Backoff = Duration{-time.Second} }, "adapter: durations"},
		{"adapter backoff over max", func(c *Config) {
			c.Adapter.Backoff = Duration{time.Minute}
			c.Adapter.MaxBackoff = Duration{time.Second}
		}, "adapter.backoff"},
		{"negative history", func(c *Config) { c.Stream.HistoryLimit = -1 }, "stream.history_limit"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Generation.Provider = "openai"
	cfg.Storage.Backend = "postgres"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"generation.api_key", "storage.dsn"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeTemp(t, "log:\n  level: info\n")
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	changes := make(chan *Config, 4)
	errs := make(chan error, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { changes <- c }, func(err error) { errs <- err })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Log.Level == "debug" {
				cancel()
				if err := <-done; err != nil {
					t.Errorf("Watch returned %v", err)
				}
				return
			}
		case <-errs:
			// A partially written file may fail to parse; a later event follows.
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatch_InvalidFileReportsError(t *testing.T) {
	path := writeTemp(t, "log:\n  level: info\n")
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	errs := make(chan error, 4)
	go func() {
		_ = Watch(ctx, path, func(*Config) {}, func(err error) { errs <- err })
	}()
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	select {
	case err := <-errs:
		if !strings.Contains(err.Error(), "log.level") && !strings.Contains(err.Error(), "YAML") {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported for invalid config")
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
