package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/email-agent/internal/core"
	"go.uber.org/zap"
)

const emailColumns = `id, account_id, message_id, thread_id, subject, sender, recipients,
	date_received, category, classification_confidence, classification_reason,
	has_attachments, attachment_count, body_preview, status, archived_folder,
	is_deleted, deleted_at, processed_at, processing_time_ms, created_at, updated_at`

const accountColumns = `id, account_type, email_address, encrypted_credentials, is_active,
	sync_enabled, last_sync, last_error, total_emails_processed, created_at, updated_at`

const insertEmailSQL = `INSERT INTO emails (account_id, message_id, thread_id, subject, sender,
	recipients, date_received, category, classification_confidence, classification_reason,
	has_attachments, attachment_count, body_preview, status, archived_folder, is_deleted,
	deleted_at, processed_at, processing_time_ms, created_at, updated_at)
	VALUES (:account_id, :message_id, :thread_id, :subject, :sender, :recipients,
	:date_received, :category, :classification_confidence, :classification_reason,
	:has_attachments, :attachment_count, :body_preview, :status, :archived_folder, :is_deleted,
	:deleted_at, :processed_at, :processing_time_ms, :created_at, :updated_at)`

const updateEmailSQL = `UPDATE emails SET
	category = :category,
	classification_confidence = :classification_confidence,
	classification_reason = :classification_reason,
	status = :status,
	archived_folder = :archived_folder,
	is_deleted = :is_deleted,
	deleted_at = :deleted_at,
	processed_at = :processed_at,
	processing_time_ms = :processing_time_ms,
	updated_at = :updated_at
	WHERE id = :id`

const insertAccountSQL = `INSERT INTO email_accounts (account_type, email_address,
	encrypted_credentials, is_active, sync_enabled, last_sync, last_error,
	total_emails_processed, created_at, updated_at)
	VALUES (:account_type, :email_address, :encrypted_credentials, :is_active, :sync_enabled,
	:last_sync, :last_error, :total_emails_processed, :created_at, :updated_at)`

const updateAccountSQL = `UPDATE email_accounts SET
	is_active = :is_active,
	sync_enabled = :sync_enabled,
	last_sync = :last_sync,
	last_error = :last_error,
	total_emails_processed = :total_emails_processed,
	updated_at = :updated_at
	WHERE id = :id`

const insertLogSQL = `INSERT INTO processing_logs (email_id, level, message, details, component,
	processing_time_ms, created_at)
	VALUES (:email_id, :level, :message, :details, :component, :processing_time_ms, :created_at)`

// SQLStore is a database/sql implementation of the Store interface, built on
// sqlx. It works with SQLite, MySQL and PostgreSQL.
type SQLStore struct {
	db      *sqlx.DB
	dialect string
	logger  *zap.Logger
}

// NewSQLStore opens a database and makes sure the schema exists
func NewSQLStore(dialect, dsn string, logger *zap.Logger) (*SQLStore, error) {
	schema, err := schemaFor(dialect)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	// SQLite allows a single writer; one connection also keeps :memory: databases shared
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  logger,
	}, nil
}

// Begin opens a database transaction
func (s *SQLStore) Begin(ctx context.Context) (core.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTx{tx: tx, dialect: s.dialect}, nil
}

// ListPendingEmails returns up to limit PENDING emails ordered by id
func (s *SQLStore) ListPendingEmails(ctx context.Context, limit int) ([]*core.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE status = ? ORDER BY id`
	args := []interface{}{core.StatusPending}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var emails []*core.Email
	if err := s.db.SelectContext(ctx, &emails, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list pending emails: %w", err)
	}

	if err := loadAttachments(ctx, s.db, emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// ListSyncAccounts returns active accounts with sync enabled
func (s *SQLStore) ListSyncAccounts(ctx context.Context) ([]*core.Account, error) {
	query := s.db.Rebind(`SELECT ` + accountColumns + ` FROM email_accounts
		WHERE is_active = ? AND sync_enabled = ? ORDER BY id`)

	var accounts []*core.Account
	if err := s.db.SelectContext(ctx, &accounts, query, true, true); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// AppendLog writes a processing log entry
func (s *SQLStore) AppendLog(ctx context.Context, entry *core.ProcessingLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Details == "" {
		entry.Details = "{}"
	}

	id, err := insertNamed(ctx, s.db, s.dialect, insertLogSQL, entry)
	if err != nil {
		return fmt.Errorf("failed to insert processing log: %w", err)
	}
	entry.ID = id
	return nil
}

// PurgeDeleted removes soft-deleted emails deleted before the cutoff, along
// with their attachment rows
func (s *SQLStore) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM email_attachments WHERE email_id IN
		(SELECT id FROM emails WHERE is_deleted = ? AND deleted_at < ?)`), true, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge attachments: %w", err)
	}

	result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM emails WHERE is_deleted = ? AND deleted_at < ?`),
		true, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge emails: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		s.logger.Warn("Failed to get rows affected during purge", zap.Error(err))
		return 0, nil
	}
	s.logger.Debug("Purged quarantined emails", zap.Int64("purged_count", purged))
	return purged, nil
}

// AddAccount inserts an account and returns its id
func (s *SQLStore) AddAccount(ctx context.Context, account *core.Account) (int64, error) {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	id, err := insertNamed(ctx, s.db, s.dialect, insertAccountSQL, account)
	if err != nil {
		return 0, fmt.Errorf("failed to insert account: %w", err)
	}
	account.ID = id
	return id, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

type sqlTx struct {
	tx      *sqlx.Tx
	dialect string
}

func (t *sqlTx) GetEmail(ctx context.Context, id int64) (*core.Email, error) {
	var email core.Email
	err := t.tx.GetContext(ctx, &email, t.tx.Rebind(`SELECT `+emailColumns+` FROM emails WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get email %d: %w", id, err)
	}

	if err := loadAttachments(ctx, t.tx, []*core.Email{&email}); err != nil {
		return nil, err
	}
	return &email, nil
}

func (t *sqlTx) GetAccount(ctx context.Context, id int64) (*core.Account, error) {
	var account core.Account
	err := t.tx.GetContext(ctx, &account, t.tx.Rebind(`SELECT `+accountColumns+` FROM email_accounts WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account %d: %w", id, err)
	}
	return &account, nil
}

func (t *sqlTx) FindEmailByMessageID(ctx context.Context, accountID int64, messageID string) (*core.Email, error) {
	var email core.Email
	query := t.tx.Rebind(`SELECT ` + emailColumns + ` FROM emails WHERE account_id = ? AND message_id = ?`)
	if err := t.tx.GetContext(ctx, &email, query, accountID, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find email: %w", err)
	}
	return &email, nil
}

func (t *sqlTx) InsertEmail(ctx context.Context, email *core.Email) error {
	now := time.Now().UTC()
	if email.CreatedAt.IsZero() {
		email.CreatedAt = now
	}
	email.UpdatedAt = now
	email.AttachmentCount = len(email.Attachments)
	email.DateReceived = email.DateReceived.UTC()
	email.DeletedAt = utc(email.DeletedAt)
	email.ProcessedAt = utc(email.ProcessedAt)

	id, err := insertNamed(ctx, t.tx, t.dialect, insertEmailSQL, email)
	if err != nil {
		return fmt.Errorf("failed to insert email: %w", err)
	}
	email.ID = id

	for _, a := range email.Attachments {
		_, err := t.tx.ExecContext(ctx,
			t.tx.Rebind(`INSERT INTO email_attachments (email_id, filename, content_type, size_bytes) VALUES (?, ?, ?, ?)`),
			id, a.Filename, a.ContentType, a.SizeBytes)
		if err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
	}
	return nil
}

func (t *sqlTx) UpdateEmail(ctx context.Context, email *core.Email) error {
	email.UpdatedAt = time.Now().UTC()
	email.DeletedAt = utc(email.DeletedAt)
	email.ProcessedAt = utc(email.ProcessedAt)
	return t.execUpdate(ctx, updateEmailSQL, email, "email", email.ID)
}

func (t *sqlTx) UpdateAccount(ctx context.Context, account *core.Account) error {
	account.UpdatedAt = time.Now().UTC()
	account.LastSync = utc(account.LastSync)
	return t.execUpdate(ctx, updateAccountSQL, account, "account", account.ID)
}

func (t *sqlTx) execUpdate(ctx context.Context, namedQuery string, arg interface{}, kind string, id int64) error {
	query, args, err := sqlx.Named(namedQuery, arg)
	if err != nil {
		return fmt.Errorf("failed to bind %s update: %w", kind, err)
	}
	result, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %d: %w", kind, id, err)
	}
	// MySQL reports zero affected rows when nothing changed, so only trust a
	// positive count and fall back to an existence check
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	table := "emails"
	if kind == "account" {
		table = "email_accounts"
	}
	var exists int
	err = t.tx.GetContext(ctx, &exists, t.tx.Rebind(`SELECT COUNT(*) FROM `+table+` WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to check %s %d: %w", kind, id, err)
	}
	if exists == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrTxClosed
		}
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	return nil
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx
type queryer interface {
	sqlx.ExtContext
	Rebind(string) string
}

// insertNamed runs a named INSERT and returns the new row id. PostgreSQL has
// no LastInsertId, so the id is read back with RETURNING there.
func insertNamed(ctx context.Context, q queryer, dialect, namedQuery string, arg interface{}) (int64, error) {
	query, args, err := sqlx.Named(namedQuery, arg)
	if err != nil {
		return 0, err
	}
	query = q.Rebind(query)

	if dialect == DialectPostgres {
		var id int64
		if err := q.QueryRowxContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// loadAttachments fills the attachment list of each email
func loadAttachments(ctx context.Context, q queryer, emails []*core.Email) error {
	if len(emails) == 0 {
		return nil
	}

	byID := make(map[int64]*core.Email, len(emails))
	ids := make([]int64, 0, len(emails))
	for _, e := range emails {
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}

	query, args, err := sqlx.In(`SELECT email_id, filename, content_type, size_bytes
		FROM email_attachments WHERE email_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("failed to build attachment query: %w", err)
	}

	var rows []struct {
		EmailID int64 `db:"email_id"`
		core.Attachment
	}
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to load attachments: %w", err)
	}

	for _, row := range rows {
		if e, ok := byID[row.EmailID]; ok {
			e.Attachments = append(e.Attachments, row.Attachment)
		}
	}
	return nil
}

// utc keeps stored timestamps in one zone; SQLite compares them as text
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
