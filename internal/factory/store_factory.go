package factory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mikey/email-agent/internal/adapters/store"
	"github.com/mikey/email-agent/internal/config"
	"github.com/mikey/email-agent/internal/core"
	"go.uber.org/zap"
)

// StoreFactory creates stores based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStore creates a store based on the configuration
func (f *StoreFactory) CreateStore() (core.Store, error) {
	storeCfg := f.cfg.GetStore()

	switch storeCfg.Type {
	case "memory":
		f.logger.Warn("Using in-memory store, data will not survive a restart")
		return store.NewMemoryStore(f.logger), nil
	case "sqlite":
		if storeCfg.DSN != ":memory:" && !strings.HasPrefix(storeCfg.DSN, "file:") {
			if err := os.MkdirAll(filepath.Dir(storeCfg.DSN), 0755); err != nil {
				return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
			}
		}
		return store.NewSQLStore(store.DialectSQLite, storeCfg.DSN, f.logger)
	case "mysql":
		return store.NewSQLStore(store.DialectMySQL, storeCfg.DSN, f.logger)
	case "postgres", "postgresql":
		return store.NewSQLStore(store.DialectPostgres, storeCfg.DSN, f.logger)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeCfg.Type)
	}
}
