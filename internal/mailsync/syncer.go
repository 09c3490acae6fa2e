package mailsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/email-agent/internal/core"
	"github.com/mikey/email-agent/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options controls how accounts are synchronised
type Options struct {
	Folder        string
	BatchSize     int
	Concurrency   int
	PreviewLength int
}

// DefaultOptions returns the sync settings used when none are configured
func DefaultOptions() Options {
	return Options{
		Folder:        "INBOX",
		BatchSize:     50,
		Concurrency:   4,
		PreviewLength: 500,
	}
}

// Syncer pulls new mail from provider accounts into the store as PENDING
// emails
type Syncer struct {
	store      core.Store
	connectors core.ConnectorFactory
	text       *utils.TextProcessor
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

// NewSyncer creates a new account syncer
func NewSyncer(
	store core.Store,
	connectors core.ConnectorFactory,
	text *utils.TextProcessor,
	opts Options,
	logger *zap.Logger,
) *Syncer {
	defaults := DefaultOptions()
	if opts.Folder == "" {
		opts.Folder = defaults.Folder
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaults.BatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaults.Concurrency
	}
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = defaults.PreviewLength
	}

	return &Syncer{
		store:      store,
		connectors: connectors,
		text:       text,
		opts:       opts,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SyncAll synchronises every active, sync-enabled account. Accounts are
// independent: one failing account does not stop the others, and its
// failure is reported in its own result.
func (s *Syncer) SyncAll(ctx context.Context) ([]*core.SyncResult, error) {
	accounts, err := s.store.ListSyncAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	s.logger.Info("Syncing accounts", zap.Int("count", len(accounts)))

	results := make([]*core.SyncResult, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for i, account := range accounts {
		g.Go(func() error {
			results[i] = s.SyncAccount(gctx, account.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	return results, nil
}

// SyncAccount fetches new messages for one account and stores the ones not
// seen before
func (s *Syncer) SyncAccount(ctx context.Context, accountID int64) *core.SyncResult {
	result := &core.SyncResult{AccountID: accountID}
	logger := s.logger.With(zap.Int64("account_id", accountID))

	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		logger.Error("Failed to load account", zap.Error(err))
		result.Status = core.ResultError
		result.Error = err.Error()
		return result
	}

	emails, err := s.fetch(ctx, account)
	if err != nil {
		logger.Error("Failed to fetch emails", zap.Error(err))
		s.recordFailure(ctx, accountID, err)
		result.Status = core.ResultError
		result.Error = err.Error()
		return result
	}
	result.Fetched = len(emails)

	inserted, skipped, err := s.save(ctx, accountID, emails)
	if err != nil {
		logger.Error("Failed to save emails", zap.Error(err))
		s.recordFailure(ctx, accountID, err)
		result.Status = core.ResultError
		result.Error = err.Error()
		return result
	}
	result.Inserted = inserted
	result.Skipped = skipped
	result.Status = core.ResultSuccess

	logger.Info("Account sync completed",
		zap.Int("fetched", result.Fetched),
		zap.Int("inserted", inserted),
		zap.Int("skipped", skipped))

	return result
}

func (s *Syncer) loadAccount(ctx context.Context, accountID int64) (*core.Account, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("account %d not found: %w", accountID, err)
		}
		return nil, err
	}
	if !account.IsActive {
		return nil, fmt.Errorf("account %d is inactive", accountID)
	}
	return account, nil
}

func (s *Syncer) fetch(ctx context.Context, account *core.Account) ([]*core.RawEmail, error) {
	conn, err := s.connectors.ConnectorFor(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			s.logger.Warn("Failed to disconnect", zap.Int64("account_id", account.ID), zap.Error(err))
		}
	}()

	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return conn.Fetch(ctx, s.opts.Folder, s.opts.BatchSize, account.LastSync)
}

// save inserts unseen emails and stamps the account in one unit of work
func (s *Syncer) save(ctx context.Context, accountID int64, emails []*core.RawEmail) (inserted, skipped int, err error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	for _, raw := range emails {
		_, err := tx.FindEmailByMessageID(ctx, accountID, raw.MessageID)
		if err == nil {
			skipped++
			continue
		}
		if !errors.Is(err, core.ErrNotFound) {
			return 0, 0, err
		}

		if err := tx.InsertEmail(ctx, s.toEmail(accountID, raw)); err != nil {
			return 0, 0, fmt.Errorf("failed to insert message %s: %w", raw.MessageID, err)
		}
		inserted++
	}

	account, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}
	now := s.now()
	account.LastSync = &now
	account.LastError = ""
	account.TotalEmailsProcessed += int64(inserted)
	if err := tx.UpdateAccount(ctx, account); err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return inserted, skipped, nil
}

func (s *Syncer) toEmail(accountID int64, raw *core.RawEmail) *core.Email {
	received := raw.Date
	if received.IsZero() {
		received = s.now()
	}

	return &core.Email{
		AccountID:      accountID,
		MessageID:      raw.MessageID,
		ThreadID:       raw.ThreadID,
		Subject:        s.text.SanitizeUTF8(raw.Subject),
		Sender:         raw.Sender,
		Recipients:     strings.Join(raw.Recipients, ", "),
		DateReceived:   received.UTC(),
		BodyPreview:    s.text.Preview(raw.Body, s.opts.PreviewLength),
		HasAttachments: len(raw.Attachments) > 0,
		Attachments:    raw.Attachments,
		Status:         core.StatusPending,
	}
}

func (s *Syncer) recordFailure(ctx context.Context, accountID int64, cause error) {
	ctx = context.WithoutCancel(ctx)

	err := func() error {
		tx, err := s.store.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		account.LastError = cause.Error()
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		return tx.Commit()
	}()
	if err != nil {
		s.logger.Error("Failed to record sync error", zap.Int64("account_id", accountID), zap.Error(err))
	}
}
