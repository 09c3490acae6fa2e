package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/email-agent/internal/actions"
	"github.com/mikey/email-agent/internal/adapters/connector"
	"github.com/mikey/email-agent/internal/classify"
	"github.com/mikey/email-agent/internal/config"
	"github.com/mikey/email-agent/internal/core"
	"github.com/mikey/email-agent/internal/factory"
	"github.com/mikey/email-agent/internal/logging"
	"github.com/mikey/email-agent/internal/mailsync"
	"github.com/mikey/email-agent/internal/rules"
	"github.com/mikey/email-agent/internal/scheduler"
	"github.com/mikey/email-agent/internal/utils"
)

// BuildContainer creates and configures the dependency injection container
// of the daemon. configPath may be empty to use the default search paths.
func BuildContainer(configPath string) (*dig.Container, error) {
	container := dig.New()

	if err := container.Provide(func() (*config.Config, error) {
		return config.Load(configPath)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}
	if err := providePipeline(container); err != nil {
		return nil, err
	}

	if err := container.Provide(func(store core.Store, connectors core.ConnectorFactory, text *utils.TextProcessor, cfg *config.Config, logger *zap.Logger) *mailsync.Syncer {
		syncCfg := cfg.GetSync()
		return mailsync.NewSyncer(store, connectors, text, mailsync.Options{
			Folder:        syncCfg.Folder,
			BatchSize:     syncCfg.BatchSize,
			Concurrency:   syncCfg.Concurrency,
			PreviewLength: syncCfg.PreviewLength,
		}, logger)
	}); err != nil {
		return nil, err
	}

	if err := container.Provide(func(syncer *mailsync.Syncer, orchestrator *classify.Orchestrator, store core.Store, cfg *config.Config, logger *zap.Logger) *scheduler.Scheduler {
		return scheduler.NewScheduler(syncer, orchestrator, store, cfg.GetSchedule(), cfg.GetMaintenance(), logger)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// providePipeline registers everything between the store and the
// orchestrator. Config and logger must already be provided.
func providePipeline(container *dig.Container) error {
	providers := []interface{}{
		utils.NewTextProcessor,
		factory.NewLLMFactory,
		factory.NewStoreFactory,
		factory.NewConnectorFactory,
		factory.NewRulesFactory,
		func(f *factory.LLMFactory) (core.LLMClient, error) {
			return f.CreateLLMClient(context.Background())
		},
		func(f *factory.LLMFactory, client core.LLMClient) core.Classifier {
			return f.CreateClassifier(client)
		},
		func(f *factory.StoreFactory) (core.Store, error) {
			return f.CreateStore()
		},
		func(f *factory.ConnectorFactory) *connector.Factory {
			return f.CreateConnectorFactory()
		},
		func(f *connector.Factory) core.ConnectorFactory {
			return f
		},
		func(f *factory.RulesFactory) (*rules.Engine, error) {
			return f.CreateEngine(context.Background())
		},
		func(cfg *config.Config) (core.Policy, error) {
			return cfg.GetPolicy()
		},
		func(store core.Store, connectors core.ConnectorFactory, engine *rules.Engine, policy core.Policy, logger *zap.Logger) *actions.Dispatcher {
			return actions.NewDispatcher(store, connectors, engine, policy, logger)
		},
		func(store core.Store, engine *rules.Engine, classifier core.Classifier, dispatcher *actions.Dispatcher, policy core.Policy, logger *zap.Logger) *classify.Orchestrator {
			return classify.NewOrchestrator(store, engine, classifier, dispatcher, policy, logger)
		},
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}
