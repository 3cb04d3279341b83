package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/endlesschasey-ai/agent-template/adapter"
	"github.com/endlesschasey-ai/agent-template/adapter/redis"
	"github.com/endlesschasey-ai/agent-template/adapter/webhook"
	"github.com/endlesschasey-ai/agent-template/cli/config"
	"github.com/endlesschasey-ai/agent-template/generation"
	"github.com/endlesschasey-ai/agent-template/generation/openai"
	"github.com/endlesschasey-ai/agent-template/iox"
	lodestore "github.com/endlesschasey-ai/agent-template/lode"
	"github.com/endlesschasey-ai/agent-template/log"
	"github.com/endlesschasey-ai/agent-template/metrics"
	"github.com/endlesschasey-ai/agent-template/runtime"
	"github.com/endlesschasey-ai/agent-template/server"
	"github.com/endlesschasey-ai/agent-template/store"
	"github.com/endlesschasey-ai/agent-template/types"
)

// DefaultConfigPath is read by serve when it exists and --config is unset.
const DefaultConfigPath = "agent.yaml"

// ServeCommand returns the serve command, which runs the HTTP server.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the chat streaming server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to agent.yaml (default: ./agent.yaml when present)",
				EnvVars: []string{"AGENT_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides server.addr)",
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: "Generation provider: scripted, openai, exec (overrides generation.provider)",
			},
			&cli.StringFlag{
				Name:  "storage",
				Usage: "Storage backend: memory, postgres, lode (overrides storage.backend)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error (overrides log.level)",
			},
			&cli.BoolFlag{
				Name:  "no-watch",
				Usage: "Do not reload the config file on change",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, path, err := loadServeConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	logger, err := log.New(log.Options{Level: cfg.Log.Level, Service: "agent-template"})
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer iox.DiscardErr(logger.Sync)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", map[string]any{"error": err.Error()})
		return cli.Exit(err.Error(), exitUsage)
	}
	defer iox.DiscardErr(svc.Close)

	if path != "" && !c.Bool("no-watch") {
		go watchConfig(ctx, path, logger)
	}

	logger.Info("starting server", map[string]any{
		"addr":      cfg.Server.Addr,
		"provider":  cfg.Generation.Provider,
		"storage":   cfg.Storage.Backend,
		"adapter":   cfg.Adapter.Type,
		"log_level": cfg.Log.Level,
	})
	if err := svc.server.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		return cli.Exit(fmt.Sprintf("server: %v", err), exitStream)
	}
	return nil
}

// loadServeConfig loads the config file and applies flag overrides. Flags
// win over file values. It returns the path that was loaded, if any.
func loadServeConfig(c *cli.Context) (*config.Config, string, error) {
	path := c.String("config")
	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); err == nil {
			path = DefaultConfigPath
		}
	}

	cfg := config.Defaults()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		cfg = loaded
	}

	if v := c.String("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if v := c.String("provider"); v != "" {
		cfg.Generation.Provider = v
	}
	if v := c.String("storage"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, path, nil
}

// watchConfig applies hot-reloadable settings. Only the log level is
// reloaded; every other change needs a restart.
func watchConfig(ctx context.Context, path string, logger *log.Logger) {
	err := config.Watch(ctx, path, func(next *config.Config) {
		prev := logger.Level()
		if err := logger.SetLevel(next.Log.Level); err != nil {
			logger.Warn("config reload rejected", map[string]any{"error": err.Error()})
			return
		}
		logger.Info("config reloaded", map[string]any{"log_level_from": prev, "log_level_to": logger.Level()})
	}, func(err error) {
		logger.Warn("config reload failed", map[string]any{"error": err.Error()})
	})
	if err != nil {
		logger.Warn("config watch stopped", map[string]any{"error": err.Error()})
	}
}

// services is everything serve wires together.
type services struct {
	store        store.Store
	adapter      adapter.Adapter
	collector    *metrics.Collector
	orchestrator *runtime.StreamOrchestrator
	server       *server.Server
}

func buildServices(ctx context.Context, cfg *config.Config, logger *log.Logger) (*services, error) {
	collector := metrics.NewCollector(cfg.Generation.Provider, cfg.Storage.Backend, cfg.Adapter.Type)
	svc := &services{collector: collector}

	st, err := buildStore(ctx, cfg.Storage, logger, collector)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	svc.store = st

	gen, err := generators(cfg.Generation, logger, collector).New(cfg.Generation.Provider)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("generation: %w", err)
	}

	svc.adapter, err = buildAdapter(cfg.Adapter)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("adapter: %w", err)
	}

	svc.orchestrator, err = runtime.NewStreamOrchestrator(runtime.StreamConfig{
		Storage:             st,
		Generator:           gen,
		Adapter:             svc.adapter,
		Logger:              logger,
		Collector:           collector,
		NotificationTimeout: cfg.Stream.NotificationTimeout.Duration,
		HistoryLimit:        cfg.Stream.HistoryLimit,
		MaxDuration:         cfg.Stream.MaxDuration.Duration,
		PublishTimeout:      cfg.Stream.PublishTimeout.Duration,
	})
	if err != nil {
		svc.Close()
		return nil, err
	}

	svc.server, err = server.New(server.Config{
		Store:        st,
		Orchestrator: svc.orchestrator,
		Logger:       logger,
		Collector:    collector,
		CORSOrigins:  cfg.Server.CORSOrigins,
		RateLimit:    server.RateLimit{RPS: cfg.Server.RateLimit.RPS, Burst: cfg.Server.RateLimit.Burst},
		Version:      types.Version,
	})
	if err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

// Close releases the adapter and the store.
func (s *services) Close() error {
	var errs []error
	if s.adapter != nil {
		errs = append(errs, s.adapter.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

func buildStore(ctx context.Context, cfg config.StorageConfig, logger *log.Logger, collector *metrics.Collector) (store.Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return store.NewMemory(), nil

	case "postgres":
		pg, err := store.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil

	case "lode":
		factory, err := lodeFactory(ctx, cfg.Lode)
		if err != nil {
			return nil, err
		}
		st, err := lodestore.Open(ctx, lodestore.Config{
			Dataset:   cfg.Lode.Dataset,
			Logger:    logger,
			Collector: collector,
		}, factory)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func lodeFactory(ctx context.Context, lc config.LodeConfig) (lode.StoreFactory, error) {
	switch lc.Backend {
	case "fs", "":
		return lodestore.NewFSFactory(lc.Path), nil
	case "s3":
		bucket, prefix := lodestore.ParseS3Path(lc.Path)
		return lodestore.NewS3Factory(ctx, lodestore.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       lc.Region,
			Endpoint:     lc.Endpoint,
			UsePathStyle: lc.S3PathStyle,
		})
	}
	return nil, fmt.Errorf("unknown lode backend %q (must be fs or s3)", lc.Backend)
}

// generators returns the provider registry for cfg.
func generators(cfg config.GenerationConfig, logger *log.Logger, collector *metrics.Collector) generation.Registry {
	return generation.Registry{
		"scripted": func() (generation.Generator, error) {
			return generation.NewScripted(generation.EchoScript(cfg.ScriptDelay.Duration)), nil
		},
		"openai": func() (generation.Generator, error) {
			g, err := openai.New(openai.Config{
				APIKey:         cfg.APIKey,
				BaseURL:        cfg.BaseURL,
				Model:          cfg.Model,
				SystemPrompt:   cfg.SystemPrompt,
				MaxToolRounds:  cfg.MaxToolRounds,
				Temperature:    cfg.Temperature,
				FinalizeAnswer: cfg.FinalizeAnswer,
				Logger:         logger,
			})
			if err != nil {
				return nil, err
			}
			return g, nil
		},
		"exec": func() (generation.Generator, error) {
			g, err := generation.NewExec(generation.ExecConfig{
				Path:      cfg.Executor.Path,
				Args:      cfg.Executor.Args,
				Env:       cfg.Executor.Env,
				Logger:    logger,
				Collector: collector,
			})
			if err != nil {
				return nil, err
			}
			return g, nil
		},
	}
}

// defaultAdapterRetries applies when adapter.retries is unset.
const defaultAdapterRetries = 3

// retryPolicy maps the adapter config section onto adapter.RetryPolicy.
// Zero intervals fall back to the policy defaults.
func retryPolicy(cfg config.AdapterConfig) adapter.RetryPolicy {
	p := adapter.RetryPolicy{
		Retries: defaultAdapterRetries,
		Initial: cfg.Backoff.Duration,
		Max:     cfg.MaxBackoff.Duration,
	}
	if cfg.Retries != nil {
		p.Retries = *cfg.Retries
	}
	return p
}

// buildAdapter returns nil when no adapter is configured.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "redis":
		a, err := redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retry:   retryPolicy(cfg),
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "webhook":
		a, err := webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retry:   retryPolicy(cfg),
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
}
