// Package app wires configuration, storage, search clients, the LLM and the
// services into one object shared by the commands.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/medresearch/internal/config"
	"github.com/raphaelgruber/medresearch/internal/db"
	"github.com/raphaelgruber/medresearch/internal/llm"
	"github.com/raphaelgruber/medresearch/internal/metrics"
	"github.com/raphaelgruber/medresearch/internal/retry"
	"github.com/raphaelgruber/medresearch/internal/search"
	"github.com/raphaelgruber/medresearch/internal/service"
	"github.com/raphaelgruber/medresearch/internal/store"
	"github.com/raphaelgruber/medresearch/internal/store/memory"
	"github.com/raphaelgruber/medresearch/internal/store/sqlstore"
	"github.com/raphaelgruber/medresearch/internal/tools"
)

// App holds every long-lived component.
type App struct {
	Config       config.Config
	Logger       *slog.Logger
	Store        store.Store
	Collector    *metrics.Collector
	Tools        *tools.Dependencies
	Conversation *service.ConversationService
	Dialogs      *service.DialogService
	Users        *service.UserService
}

// OpenStore connects the configured backend and ensures its schema.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite:
		return sqlstore.OpenSQLite(ctx, cfg.SQLitePath, logger)
	case config.BackendPostgres:
		return sqlstore.OpenPostgres(ctx, cfg.PostgresDSN, logger)
	case config.BackendSurreal:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// RetryPolicy builds the outbound retry policy from configuration.
func RetryPolicy(cfg config.Config) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = cfg.RetryMaxAttempts
	p.InitialInterval = cfg.RetryInitialInterval
	p.MaxInterval = cfg.RetryMaxInterval
	p.Multiplier = cfg.RetryMultiplier
	return p
}

// NewSearchDeps creates the search clients and tool dependencies.
func NewSearchDeps(cfg config.Config, st store.Store, logger *slog.Logger) *tools.Dependencies {
	policy := RetryPolicy(cfg)
	return &tools.Dependencies{
		Store:    st,
		Tavily:   search.NewTavily(cfg.TavilyURL, cfg.TavilyAPIKey, cfg.SearchTimeout, policy, logger),
		Scholar:  search.NewSemanticScholar(cfg.SemanticScholarURL, cfg.SemanticScholarAPIKey, cfg.SearchTimeout, policy, logger),
		OpenAlex: search.NewOpenAlex(cfg.OpenAlexURL, cfg.OpenAlexMailto, cfg.SearchTimeout, policy, logger),
		Logger:   logger,
	}
}

// New builds the application on an opened store.
func New(ctx context.Context, cfg config.Config, st store.Store, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	collector := metrics.NewCollector()
	deps := NewSearchDeps(cfg, st, logger)

	model, err := llm.NewModel(ctx, cfg, cfg.LLMModel)
	if err != nil {
		return nil, err
	}
	model.WithCollector(collector)

	titleModel := model
	if name := cfg.TitleModelName(); name != cfg.LLMModel {
		if titleModel, err = llm.NewModel(ctx, cfg, name); err != nil {
			return nil, err
		}
		titleModel.WithCollector(collector)
	}

	agentOpts := llm.AgentOptions{
		MaxSteps: cfg.AgentMaxSteps,
		Retry:    RetryPolicy(cfg),
	}
	if cfg.FallbackModel != "" {
		fallback, err := llm.NewModel(ctx, cfg, cfg.FallbackModel)
		if err != nil {
			return nil, err
		}
		agentOpts.Fallback = fallback.WithCollector(collector)
	}
	agent := llm.NewResearchAgent(model, tools.NewAgentToolbox(deps), agentOpts, collector, logger)
	logger.Info("research agent ready", "agent", agent.String(), "provider", cfg.LLMProvider, "store", cfg.StoreBackend)

	conversation := service.NewConversationService(st, agent, llm.NewTitleGenerator(titleModel),
		service.NewTurnTracker(cfg.TurnHistory), collector, logger, service.ConversationOptions{
			AgentTimeout: cfg.AgentTimeout,
			Compaction: service.CompactionPolicy{
				Threshold: cfg.CompactionThreshold,
				KeepLast:  cfg.CompactionKeepLast,
			},
		})

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        st,
		Collector:    collector,
		Tools:        deps,
		Conversation: conversation,
		Dialogs:      service.NewDialogService(st),
		Users:        service.NewUserService(st),
	}, nil
}

// Close releases the store.
func (a *App) Close(ctx context.Context) error {
	return a.Store.Close(ctx)
}
