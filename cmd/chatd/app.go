package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/windowchat/internal/commander"
	"github.com/stupiduntilnot/windowchat/internal/config"
	"github.com/stupiduntilnot/windowchat/internal/control"
	"github.com/stupiduntilnot/windowchat/internal/db"
	"github.com/stupiduntilnot/windowchat/internal/dummy"
	"github.com/stupiduntilnot/windowchat/internal/journal"
	"github.com/stupiduntilnot/windowchat/internal/metrics"
	modelpkg "github.com/stupiduntilnot/windowchat/internal/model"
	"github.com/stupiduntilnot/windowchat/internal/ollama"
	"github.com/stupiduntilnot/windowchat/internal/openai"
	"github.com/stupiduntilnot/windowchat/internal/session"
	"github.com/stupiduntilnot/windowchat/internal/telegram"
)

// app is the wiring shared by every subcommand.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	db       *sql.DB
	journal  *journal.Journal
	promReg  *prometheus.Registry
	metrics  *metrics.Metrics
	invoker  *modelpkg.Invoker
	registry *session.Registry
}

func newApp(cfg config.Config, logger *zap.Logger, role string) (*app, error) {
	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	j, err := journal.Open(database, role, logger, map[string]any{
		"provider":    cfg.Provider,
		"model":       cfg.Model,
		"window_size": cfg.WindowSize,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to log process.started: %w", err)
	}

	provider, err := newProvider(cfg)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to init model provider: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	policy := control.Policy{MaxWallTime: time.Duration(cfg.TurnTimeoutSeconds) * time.Second}
	invoker := modelpkg.NewInvoker(provider, cfg.Generation,
		modelpkg.WithPolicy(policy),
		modelpkg.WithCircuitBreaker(control.NewCircuitBreaker(cfg.CircuitThreshold, time.Duration(cfg.CircuitCooldownSeconds)*time.Second)),
	)

	registry := session.NewRegistry(invoker, session.Options{
		Template:        cfg.Template,
		WindowSize:      cfg.WindowSize,
		MaxPromptTokens: cfg.MaxPromptTokens,
		Observer:        session.Observers{m, j},
		Logger:          logger,
	})

	logger.Info("windowchat ready",
		zap.String("role", role),
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("window_size", cfg.WindowSize),
		zap.Int64("root_event_id", j.RootID()),
	)
	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       database,
		journal:  j,
		promReg:  promReg,
		metrics:  m,
		invoker:  invoker,
		registry: registry,
	}, nil
}

// Close ends every session, then closes the journal and database.
func (a *app) Close() {
	a.registry.Close()
	a.journal.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("db close failed", zap.Error(err))
	}
}

func newProvider(cfg config.Config) (modelpkg.Provider, error) {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIURL, cfg.Model, timeout), nil
	case config.ProviderOllama:
		return ollama.NewClient(cfg.OllamaURL, cfg.Model, timeout), nil
	case config.ProviderDummy:
		return dummy.NewProvider(cfg.Model, cfg.DummyScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}

func newCommander(cfg config.Config) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case config.CommanderTelegram:
		return telegram.NewClient(cfg.TelegramURL(), time.Duration(cfg.TelegramPollTimeout+20)*time.Second), nil
	case config.CommanderDummy:
		return dummy.NewCommander(cfg.DummyPollScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}
