package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/netmedic/netmedic/internal/agent"
	"github.com/netmedic/netmedic/internal/agent/providers"
	"github.com/netmedic/netmedic/internal/analytics"
	"github.com/netmedic/netmedic/internal/config"
	"github.com/netmedic/netmedic/internal/observability"
	"github.com/netmedic/netmedic/internal/prompts"
	"github.com/netmedic/netmedic/internal/sidecar"
	"github.com/netmedic/netmedic/internal/store"
	"github.com/netmedic/netmedic/internal/tools"
	"github.com/netmedic/netmedic/internal/tools/netdiag"
)

// app wires the full diagnostic stack behind one handle. Commands open
// it, use the assistant, and close it on the way out.
type app struct {
	cfg        *config.Config
	paths      config.Paths
	logger     *observability.Logger
	logFile    *os.File
	store      store.Store
	locks      *store.SessionLockManager
	recorder   *analytics.Recorder
	registry   *tools.Registry
	prompts    *prompts.Loader
	router     *agent.Router
	assistant  *agent.Assistant
	sweeper    *analytics.Sweeper
	supervisor *sidecar.Supervisor
	traceStop  func(context.Context) error
}

// openApp builds the composition root: config, state layout, logger,
// store, recorder, tool registry, providers, and the assistant.
func openApp(ctx context.Context, configPath string) (*app, error) {
	paths := config.DefaultPaths()
	cfg, err := config.LoadOrDefault(resolveConfigPath(configPath))
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("prepare state dir: %w", err)
	}

	a := &app{cfg: cfg, paths: paths}

	logOut := io.Writer(os.Stderr)
	if cfg.Logging.Output == "file" {
		f, err := os.OpenFile(paths.LogFile(time.Now()), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		logOut = f
	}
	a.logger = observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logOut,
	})
	slog.SetDefault(a.logger.Slog())

	// Preferences carry the backend choice between runs when the config
	// file does not pin one.
	prefs, err := config.LoadPreferences(paths.PrefsFile)
	if err != nil {
		a.logger.Warn(ctx, "preferences unreadable, ignoring", "error", err)
	}
	backend := cfg.LLM.Backend
	if backend == "" {
		backend = prefs.PreferredBackend
	}

	if cfg.Store.InMemory {
		a.store = store.NewMemory()
	} else {
		dbPath := cfg.Store.Path
		if dbPath == "" {
			dbPath = paths.DatabaseFile
		}
		st, err := store.NewSQLite(dbPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.store = st
	}

	a.locks = store.NewSessionLockManager(0)
	a.recorder = analytics.New(analytics.Config{
		Store:  a.store,
		Costs:  analytics.NewCostModel(nil),
		Logger: a.logger,
	})

	a.registry = tools.NewRegistry(tools.RegistryConfig{
		Recorder: a.recorder,
		Logger:   a.logger.Slog(),
	})
	netdiag.NewSuite().Register(a.registry)

	a.prompts = prompts.NewLoader(cfg.Prompts.Dir, a.logger.Slog())
	if cfg.Prompts.Watch && cfg.Prompts.Dir != "" {
		if err := a.prompts.Watch(ctx); err != nil {
			a.logger.Warn(ctx, "prompt watch unavailable", "error", err)
		}
	}

	modelsDir := cfg.Sidecar.ModelsDir
	if modelsDir == "" {
		modelsDir = paths.ModelsDir
	}
	a.supervisor = sidecar.NewSupervisor(sidecar.Config{
		BaseURL:      cfg.Sidecar.BaseURL,
		ResourcesDir: cfg.Sidecar.ResourcesDir,
		ModelsDir:    modelsDir,
		PIDFile:      paths.PIDFile,
		Logger:       a.logger.Slog(),
	})

	a.router = agent.NewRouter(agent.RouterConfig{
		Preferred: backend,
		ProbeURL:  cfg.LLM.ProbeURL,
		Recorder:  a.recorder,
		Logger:    a.logger.Slog(),
	})
	a.registerProviders()

	tracer, traceStop := observability.NewTracer(observability.TraceConfig{
		ServiceVersion: version,
	})
	a.traceStop = traceStop

	loop := agent.NewLoop(agent.LoopConfig{
		Router:   a.router,
		Registry: a.registry,
		Recorder: a.recorder,
		Logger:   a.logger,
		Tracer:   tracer,
	})
	a.assistant = agent.NewAssistant(agent.AssistantConfig{
		Loop:        loop,
		Registry:    a.registry,
		Recorder:    a.recorder,
		Store:       a.store,
		Locks:       a.locks,
		Prompts:     a.prompts,
		Logger:      a.logger,
		LockTimeout: cfg.Session.LockTimeout,
	})

	sweeper, err := analytics.NewSweeper(a.recorder,
		analytics.WithIdleTimeout(cfg.Session.IdleTimeout),
		analytics.WithSchedule(cfg.Session.SweepSchedule),
		analytics.WithLogger(a.logger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sweeper = sweeper

	// Sessions orphaned by an earlier crash get closed out up front.
	if swept, err := a.recorder.SweepStale(ctx, cfg.Session.IdleTimeout); err == nil && swept > 0 {
		a.logger.Info(ctx, "abandoned stale sessions", "count", swept)
	}

	if cfg.Sidecar.AutoStart {
		if err := a.supervisor.Start(ctx); err != nil {
			a.logger.Warn(ctx, "sidecar autostart failed", "error", err)
		}
	}

	return a, nil
}

// registerProviders installs the provider priority order. Cloud providers
// come first and gate on credentials; the sidecar is last so something
// local always answers.
func (a *app) registerProviders() {
	llm := a.cfg.LLM

	a.router.Register(agent.ProviderEntry{
		Name:     "openai",
		Cloud:    true,
		HasCreds: func() bool { return llm.OpenAI.APIKey != "" },
		Dial: func() (agent.LLMProvider, error) {
			c, err := providers.NewOpenAIClient(providers.OpenAIConfig{
				APIKey:  llm.OpenAI.APIKey,
				BaseURL: llm.OpenAI.BaseURL,
				Model:   llm.OpenAI.Model,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	})
	a.router.Register(agent.ProviderEntry{
		Name:     "anthropic",
		Cloud:    true,
		HasCreds: func() bool { return llm.Anthropic.APIKey != "" },
		Dial: func() (agent.LLMProvider, error) {
			c, err := providers.NewAnthropicClient(providers.AnthropicConfig{
				APIKey:  llm.Anthropic.APIKey,
				BaseURL: llm.Anthropic.BaseURL,
				Model:   llm.Anthropic.Model,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	})
	a.router.Register(agent.ProviderEntry{
		Name:     "xai",
		Cloud:    true,
		HasCreds: func() bool { return llm.XAI.APIKey != "" },
		Dial: func() (agent.LLMProvider, error) {
			c, err := providers.NewXAIClient(providers.OpenAIConfig{
				APIKey:  llm.XAI.APIKey,
				BaseURL: llm.XAI.BaseURL,
				Model:   llm.XAI.Model,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	})
	a.router.Register(agent.ProviderEntry{
		Name:     "google",
		Cloud:    true,
		HasCreds: func() bool { return llm.Google.APIKey != "" },
		Dial: func() (agent.LLMProvider, error) {
			c, err := providers.NewGoogleClient(providers.GoogleConfig{
				APIKey: llm.Google.APIKey,
				Model:  llm.Google.Model,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	})
	a.router.Register(agent.ProviderEntry{
		Name:     "ollama",
		Terminal: true,
		Dial: func() (agent.LLMProvider, error) {
			return providers.NewOllamaClient(providers.OllamaConfig{
				BaseURL: a.cfg.Sidecar.BaseURL,
				Model:   a.cfg.Sidecar.Model,
			}), nil
		},
	})
}

// Close releases everything openApp acquired. A spawned sidecar keeps
// running so the next invocation can adopt it; `netmedic sidecar stop`
// shuts it down explicitly.
func (a *app) Close() {
	ctx := context.Background()
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.prompts != nil {
		a.prompts.Close()
	}
	if a.router != nil {
		if err := a.router.Close(); err != nil {
			a.logger.Warn(ctx, "router close failed", "error", err)
		}
	}
	if a.locks != nil {
		a.locks.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn(ctx, "store close failed", "error", err)
		}
	}
	if a.traceStop != nil {
		if err := a.traceStop(ctx); err != nil {
			a.logger.Warn(ctx, "trace shutdown failed", "error", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}
