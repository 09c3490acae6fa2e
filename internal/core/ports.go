package core

import (
	"context"
	"time"
)

// LLMClient defines the interface for interacting with LLM services
type LLMClient interface {
	// Classify asks the model for a category judgment
	Classify(ctx context.Context, req *ClassificationRequest) (*ClassificationResult, error)
}

// Classifier produces a classification for an email. Implementations never
// fail: internal errors degrade to an UNKNOWN result.
type Classifier interface {
	Classify(ctx context.Context, req ClassificationRequest) ClassificationResult
}

// Connector is the uniform capability set exposed by every mail provider.
// The boolean results separate "the provider refused" from "the call failed".
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Fetch(ctx context.Context, folder string, limit int, since *time.Time) ([]*RawEmail, error)
	Move(ctx context.Context, messageID, folder string) (bool, error)
	Delete(ctx context.Context, messageID string, permanent bool) (bool, error)
}

// Labeler is an optional connector capability, probed by type assertion
type Labeler interface {
	ApplyLabel(ctx context.Context, messageID, label string) (bool, error)
}

// ConnectorFactory builds an unconnected connector for an account
type ConnectorFactory interface {
	ConnectorFor(ctx context.Context, account *Account) (Connector, error)
}

// CredentialProvider returns decrypted credentials on demand
type CredentialProvider interface {
	Credentials(ctx context.Context, account *Account) (*Credentials, error)
}

// Store is the persistence layer for emails, accounts and processing logs
type Store interface {
	// Begin opens a unit of work
	Begin(ctx context.Context) (Tx, error)

	// ListPendingEmails returns up to limit PENDING emails in primary key order
	ListPendingEmails(ctx context.Context, limit int) ([]*Email, error)

	// ListSyncAccounts returns active accounts with sync enabled
	ListSyncAccounts(ctx context.Context) ([]*Account, error)

	// AppendLog writes a processing log entry outside any unit of work
	AppendLog(ctx context.Context, entry *ProcessingLog) error

	// PurgeDeleted removes soft-deleted emails deleted before the given time
	PurgeDeleted(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// Tx is a unit of work. Changes become visible on Commit; Rollback after
// Commit is a no-op.
type Tx interface {
	GetEmail(ctx context.Context, id int64) (*Email, error)
	GetAccount(ctx context.Context, id int64) (*Account, error)
	FindEmailByMessageID(ctx context.Context, accountID int64, messageID string) (*Email, error)
	InsertEmail(ctx context.Context, email *Email) error
	UpdateEmail(ctx context.Context, email *Email) error
	UpdateAccount(ctx context.Context, account *Account) error
	Commit() error
	Rollback() error
}
