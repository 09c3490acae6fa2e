package store

import "fmt"

// Supported SQL dialects, named after their database/sql driver
const (
	DialectSQLite   = "sqlite3"
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS email_accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_type TEXT NOT NULL,
		email_address TEXT NOT NULL UNIQUE,
		encrypted_credentials TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		sync_enabled BOOLEAN NOT NULL DEFAULT 1,
		last_sync TIMESTAMP NULL,
		last_error TEXT NOT NULL DEFAULT '',
		total_emails_processed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS emails (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		message_id TEXT NOT NULL,
		thread_id TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		sender TEXT NOT NULL DEFAULT '',
		recipients TEXT NOT NULL DEFAULT '',
		date_received TIMESTAMP NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		classification_confidence INTEGER NOT NULL DEFAULT 0,
		classification_reason TEXT NOT NULL DEFAULT '',
		has_attachments BOOLEAN NOT NULL DEFAULT 0,
		attachment_count INTEGER NOT NULL DEFAULT 0,
		body_preview TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		archived_folder TEXT NOT NULL DEFAULT '',
		is_deleted BOOLEAN NOT NULL DEFAULT 0,
		deleted_at TIMESTAMP NULL,
		processed_at TIMESTAMP NULL,
		processing_time_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (account_id, message_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_status ON emails(status)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_deleted_at ON emails(deleted_at)`,
	`CREATE TABLE IF NOT EXISTS email_attachments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email_id INTEGER NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_email_attachments_email_id ON email_attachments(email_id)`,
	`CREATE TABLE IF NOT EXISTS processing_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email_id INTEGER NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '{}',
		component TEXT NOT NULL DEFAULT '',
		processing_time_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS email_accounts (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		account_type VARCHAR(32) NOT NULL,
		email_address VARCHAR(255) NOT NULL UNIQUE,
		encrypted_credentials TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		sync_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		last_sync DATETIME(6) NULL,
		last_error TEXT NOT NULL,
		total_emails_processed BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS emails (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		message_id VARCHAR(255) NOT NULL,
		thread_id VARCHAR(255) NOT NULL DEFAULT '',
		subject TEXT NOT NULL,
		sender VARCHAR(512) NOT NULL DEFAULT '',
		recipients TEXT NOT NULL,
		date_received DATETIME(6) NOT NULL,
		category VARCHAR(32) NOT NULL DEFAULT '',
		classification_confidence INT NOT NULL DEFAULT 0,
		classification_reason TEXT NOT NULL,
		has_attachments BOOLEAN NOT NULL DEFAULT FALSE,
		attachment_count INT NOT NULL DEFAULT 0,
		body_preview TEXT NOT NULL,
		status VARCHAR(32) NOT NULL,
		archived_folder VARCHAR(255) NOT NULL DEFAULT '',
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at DATETIME(6) NULL,
		processed_at DATETIME(6) NULL,
		processing_time_ms BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_emails_account_message (account_id, message_id),
		INDEX idx_emails_status (status),
		INDEX idx_emails_deleted_at (deleted_at)
	)`,
	`CREATE TABLE IF NOT EXISTS email_attachments (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		email_id BIGINT NOT NULL,
		filename VARCHAR(512) NOT NULL DEFAULT '',
		content_type VARCHAR(255) NOT NULL DEFAULT '',
		size_bytes BIGINT NOT NULL DEFAULT 0,
		INDEX idx_email_attachments_email_id (email_id)
	)`,
	`CREATE TABLE IF NOT EXISTS processing_logs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		email_id BIGINT NULL,
		level VARCHAR(16) NOT NULL,
		message TEXT NOT NULL,
		details TEXT NOT NULL,
		component VARCHAR(64) NOT NULL DEFAULT '',
		processing_time_ms BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS email_accounts (
		id BIGSERIAL PRIMARY KEY,
		account_type VARCHAR(32) NOT NULL,
		email_address VARCHAR(255) NOT NULL UNIQUE,
		encrypted_credentials TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		sync_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		last_sync TIMESTAMPTZ NULL,
		last_error TEXT NOT NULL DEFAULT '',
		total_emails_processed BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS emails (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL,
		message_id VARCHAR(255) NOT NULL,
		thread_id VARCHAR(255) NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		sender VARCHAR(512) NOT NULL DEFAULT '',
		recipients TEXT NOT NULL DEFAULT '',
		date_received TIMESTAMPTZ NOT NULL,
		category VARCHAR(32) NOT NULL DEFAULT '',
		classification_confidence INTEGER NOT NULL DEFAULT 0,
		classification_reason TEXT NOT NULL DEFAULT '',
		has_attachments BOOLEAN NOT NULL DEFAULT FALSE,
		attachment_count INTEGER NOT NULL DEFAULT 0,
		body_preview TEXT NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL,
		archived_folder VARCHAR(255) NOT NULL DEFAULT '',
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TIMESTAMPTZ NULL,
		processed_at TIMESTAMPTZ NULL,
		processing_time_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (account_id, message_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_status ON emails(status)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_deleted_at ON emails(deleted_at)`,
	`CREATE TABLE IF NOT EXISTS email_attachments (
		id BIGSERIAL PRIMARY KEY,
		email_id BIGINT NOT NULL,
		filename VARCHAR(512) NOT NULL DEFAULT '',
		content_type VARCHAR(255) NOT NULL DEFAULT '',
		size_bytes BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_email_attachments_email_id ON email_attachments(email_id)`,
	`CREATE TABLE IF NOT EXISTS processing_logs (
		id BIGSERIAL PRIMARY KEY,
		email_id BIGINT NULL,
		level VARCHAR(16) NOT NULL,
		message TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '{}',
		component VARCHAR(64) NOT NULL DEFAULT '',
		processing_time_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

func schemaFor(dialect string) ([]string, error) {
	switch dialect {
	case DialectSQLite:
		return sqliteSchema, nil
	case DialectMySQL:
		return mysqlSchema, nil
	case DialectPostgres:
		return postgresSchema, nil
	default:
		return nil, fmt.Errorf("unsupported SQL dialect: %s", dialect)
	}
}
