package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/mikey/email-agent/internal/core"
	"go.uber.org/zap"
)

// Options holds provider endpoints and timeouts
type Options struct {
	IMAPTimeout   time.Duration
	GmailEndpoint string
	GraphURL      string
}

// Factory creates an unconnected connector for an account
type Factory struct {
	credentials core.CredentialProvider
	opts        Options
	logger      *zap.Logger
}

// NewFactory creates a new connector factory
func NewFactory(credentials core.CredentialProvider, opts Options, logger *zap.Logger) *Factory {
	return &Factory{
		credentials: credentials,
		opts:        opts,
		logger:      logger,
	}
}

// ConnectorFor returns a connector matching the account's provider type
func (f *Factory) ConnectorFor(ctx context.Context, account *core.Account) (core.Connector, error) {
	switch account.Type {
	case core.AccountTypeIMAP, core.AccountTypeGmail, core.AccountTypeOutlook:
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedAccountType, account.Type)
	}

	creds, err := f.credentials.Credentials(ctx, account)
	if err != nil {
		return nil, err
	}

	switch account.Type {
	case core.AccountTypeIMAP:
		return NewIMAPConnector(account.EmailAddress, creds, f.opts.IMAPTimeout, f.logger), nil
	case core.AccountTypeGmail:
		return NewGmailConnector(account.EmailAddress, creds, f.opts.GmailEndpoint, f.logger), nil
	default:
		return NewGraphConnector(account.EmailAddress, creds, f.opts.GraphURL, f.logger), nil
	}
}
