package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikey/email-agent/internal/core"
	"go.uber.org/zap"
)

// Decrypter turns a stored credentials blob into plaintext
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// PlainDecrypter is used when credentials are stored unencrypted, or were
// decrypted before reaching the store
type PlainDecrypter struct{}

func (PlainDecrypter) Decrypt(ciphertext string) (string, error) {
	return ciphertext, nil
}

// CredentialProvider decodes the JSON credentials blob stored on an account
type CredentialProvider struct {
	decrypter Decrypter
	logger    *zap.Logger
}

// NewCredentialProvider creates a new credential provider
func NewCredentialProvider(decrypter Decrypter, logger *zap.Logger) *CredentialProvider {
	if decrypter == nil {
		decrypter = PlainDecrypter{}
	}
	return &CredentialProvider{
		decrypter: decrypter,
		logger:    logger,
	}
}

// Credentials returns the decrypted credentials for an account. IMAP
// accounts created before credentials were stored as JSON hold a bare
// password; those get a server guessed from the address.
func (p *CredentialProvider) Credentials(ctx context.Context, account *core.Account) (*core.Credentials, error) {
	plain, err := p.decrypter.Decrypt(account.EncryptedCredentials)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials for %s: %w", account.EmailAddress, err)
	}

	var creds core.Credentials
	if err := json.Unmarshal([]byte(plain), &creds); err == nil {
		if account.Type == core.AccountTypeIMAP {
			applyIMAPDefaults(&creds, account.EmailAddress)
		}
		return &creds, nil
	}

	if account.Type != core.AccountTypeIMAP {
		return nil, fmt.Errorf("credentials for %s are not valid JSON", account.EmailAddress)
	}

	p.logger.Warn("Legacy password format detected", zap.String("account", account.EmailAddress))

	creds = core.Credentials{Password: plain}
	applyIMAPDefaults(&creds, account.EmailAddress)
	return &creds, nil
}

func applyIMAPDefaults(creds *core.Credentials, address string) {
	if creds.Username == "" {
		creds.Username = address
	}
	if creds.Server == "" {
		creds.Server = GuessIMAPServer(address)
	}
	if creds.Port == 0 {
		creds.Port = 993
	}
	if creds.UseTLS == nil {
		useTLS := creds.Port != 143
		creds.UseTLS = &useTLS
	}
}

// GuessIMAPServer derives an IMAP host from an email address
func GuessIMAPServer(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}

	domain := strings.ToLower(address[at+1:])
	switch domain {
	case "gmail.com", "googlemail.com":
		return "imap.gmail.com"
	case "outlook.com", "hotmail.com", "live.com", "msn.com":
		return "outlook.office365.com"
	case "yahoo.com":
		return "imap.mail.yahoo.com"
	case "icloud.com", "me.com":
		return "imap.mail.me.com"
	default:
		return "imap." + domain
	}
}
