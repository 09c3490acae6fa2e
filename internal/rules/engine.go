package rules

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mikey/email-agent/internal/core"
	"go.uber.org/zap"
)

// Engine owns the active rule set and answers matching queries. The set is
// swapped wholesale on reload and a failed reload keeps the previous one.
type Engine struct {
	source  Source
	unknown UnknownConditionPolicy
	logger  *zap.Logger

	loadMu   sync.Mutex
	mu       sync.RWMutex
	rules    []*Rule
	loaded   bool
	loadedAt time.Time
}

// NewEngine creates an engine that loads rules from source on first use
func NewEngine(source Source, unknown UnknownConditionPolicy, logger *zap.Logger) *Engine {
	return &Engine{
		source:  source,
		unknown: unknown,
		logger:  logger,
	}
}

// Reload reads and parses the source and replaces the active rule set. A
// missing source yields an empty set.
func (e *Engine) Reload(ctx context.Context) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	return e.load(ctx)
}

func (e *Engine) load(ctx context.Context) error {
	e.logger.Info("Loading classification rules", zap.String("source", e.source.Name()))

	var rules []*Rule
	data, err := e.source.Read(ctx)
	switch {
	case errors.Is(err, ErrSourceMissing):
		e.logger.Warn("Rules file not found", zap.String("source", e.source.Name()))
		rules = []*Rule{}
	case err != nil:
		e.logger.Error("Error loading rules", zap.String("source", e.source.Name()), zap.Error(err))
		return &LoadError{Source: e.source.Name(), Err: err}
	default:
		rules, err = Parse(data, e.unknown, e.logger)
		if err != nil {
			e.logger.Error("Error parsing rules", zap.String("source", e.source.Name()), zap.Error(err))
			return &LoadError{Source: e.source.Name(), Err: err}
		}
	}

	e.mu.Lock()
	e.rules = rules
	e.loaded = true
	e.loadedAt = time.Now()
	e.mu.Unlock()

	e.logger.Info("Loaded classification rules", zap.Int("count", len(rules)))
	return nil
}

// ensureLoaded loads the rules once if nothing has been loaded yet
func (e *Engine) ensureLoaded() {
	e.mu.RLock()
	loaded := e.loaded
	e.mu.RUnlock()
	if loaded {
		return
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	e.mu.RLock()
	loaded = e.loaded
	e.mu.RUnlock()
	if loaded {
		return
	}

	if err := e.load(context.Background()); err != nil {
		e.logger.Warn("Lazy rule load failed, matching against an empty rule set", zap.Error(err))
	}
}

// Rules returns the active rule set in evaluation order
func (e *Engine) Rules() []*Rule {
	e.ensureLoaded()

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// LoadedAt returns when the active rule set was loaded
func (e *Engine) LoadedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadedAt
}

// FindMatchingRule returns the highest-priority rule matching the email, or
// nil when none does
func (e *Engine) FindMatchingRule(email core.NormalizedEmail) *Rule {
	for _, rule := range e.Rules() {
		if rule.Matches(email) {
			e.logger.Debug("Email matched rule",
				zap.String("rule", rule.Name),
				zap.String("subject", email.Subject))
			return rule
		}
	}
	return nil
}

// CategoryFor returns the category of the matching rule, if any
func (e *Engine) CategoryFor(email core.NormalizedEmail) (core.Category, bool) {
	rule := e.FindMatchingRule(email)
	if rule == nil {
		return "", false
	}
	return rule.Category, true
}
