package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/canopyhq/graphpilot/internal/agent"
	"github.com/canopyhq/graphpilot/internal/agent/providers"
	"github.com/canopyhq/graphpilot/internal/audit"
	"github.com/canopyhq/graphpilot/internal/config"
	"github.com/canopyhq/graphpilot/internal/graph"
	"github.com/canopyhq/graphpilot/internal/observability"
	"github.com/canopyhq/graphpilot/internal/ratelimit"
	"github.com/canopyhq/graphpilot/internal/tools"
	"github.com/canopyhq/graphpilot/pkg/models"
)

const defaultConfigPath = "graphpilot.yaml"

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	limiter  *ratelimit.Limiter
	store    *audit.SQLStore
	auditor  *audit.Logger
	agent    *agent.QueryAgent
}

// buildApp loads configuration and wires the full pipeline: provider,
// graph client, rate limiter, audit trail, tool executor, and agent.
func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	provider, err := providers.NewAnthropicProvider(cfg.Anthropic)
	if err != nil {
		return nil, err
	}
	graphClient, err := graph.NewClient(cfg.Graph)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimit)

	store, err := audit.NewSQLStore(cfg.Audit.Path)
	if err != nil {
		return nil, err
	}
	auditor := audit.NewLogger(store, logger)
	auditor.SetFailureHook(metrics.AuditDropCounter.Inc)

	executor := tools.NewExecutor(graphClient, limiter,
		tools.NewTruncator(cfg.ResultBudget), auditor, metrics, logger)

	queryAgent, err := agent.NewQueryAgent(agent.Options{
		Provider: provider,
		Tools:    executor,
		Credential: models.Credential{
			ID:               cfg.Credential.ID,
			Name:             cfg.Credential.Name,
			RateLimitPerHour: cfg.Credential.RateLimitPerHour,
		},
		Config:  cfg.Agent,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build agent: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics,
		limiter:  limiter,
		store:    store,
		auditor:  auditor,
		agent:    queryAgent,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
