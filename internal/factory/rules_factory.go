package factory

import (
	"context"
	"fmt"

	"github.com/mikey/email-agent/internal/config"
	"github.com/mikey/email-agent/internal/rules"
	"go.uber.org/zap"
)

// RulesFactory creates the rule engine
type RulesFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewRulesFactory creates a new RulesFactory
func NewRulesFactory(cfg *config.Config, logger *zap.Logger) *RulesFactory {
	return &RulesFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateEngine builds an engine over the configured rule file and loads it.
// A rule file that cannot be read or parsed is fatal at startup.
func (f *RulesFactory) CreateEngine(ctx context.Context) (*rules.Engine, error) {
	rulesCfg := f.cfg.GetRules()

	unknown, err := rules.ParseUnknownConditionPolicy(rulesCfg.UnknownConditions)
	if err != nil {
		return nil, err
	}

	engine := rules.NewEngine(rules.NewFileSource(rulesCfg.Path), unknown, f.logger)
	if err := engine.Reload(ctx); err != nil {
		return nil, fmt.Errorf("failed to load rules from %s: %w", rulesCfg.Path, err)
	}
	return engine, nil
}
