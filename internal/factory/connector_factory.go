package factory

import (
	"github.com/mikey/email-agent/internal/adapters/connector"
	"github.com/mikey/email-agent/internal/config"
	"go.uber.org/zap"
)

// ConnectorFactory creates the provider connector factory
type ConnectorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewConnectorFactory creates a new ConnectorFactory
func NewConnectorFactory(cfg *config.Config, logger *zap.Logger) *ConnectorFactory {
	return &ConnectorFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateConnectorFactory builds a connector factory reading credentials
// from the account record
func (f *ConnectorFactory) CreateConnectorFactory() *connector.Factory {
	connCfg := f.cfg.GetConnectors()
	return connector.NewFactory(
		connector.NewCredentialProvider(connector.PlainDecrypter{}, f.logger),
		connector.Options{
			IMAPTimeout:   connCfg.IMAPTimeout,
			GmailEndpoint: connCfg.GmailEndpoint,
			GraphURL:      connCfg.GraphURL,
		},
		f.logger,
	)
}
