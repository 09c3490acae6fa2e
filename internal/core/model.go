package core

import (
	"strings"
	"time"
)

// Category is the business category an email is classified into
type Category string

// Category values are persisted as-is, so they must stay stable
const (
	CategoryInvoice      Category = "invoice"
	CategoryReceipt      Category = "receipt"
	CategoryDocument     Category = "document"
	CategoryProfessional Category = "professional"
	CategoryNewsletter   Category = "newsletter"
	CategoryPromotion    Category = "promotion"
	CategorySocial       Category = "social"
	CategoryNotification Category = "notification"
	CategoryPersonal     Category = "personal"
	CategorySpam         Category = "spam"
	CategoryUnknown      Category = "unknown"
)

// Categories lists every known category in declaration order
var Categories = []Category{
	CategoryInvoice,
	CategoryReceipt,
	CategoryDocument,
	CategoryProfessional,
	CategoryNewsletter,
	CategoryPromotion,
	CategorySocial,
	CategoryNotification,
	CategoryPersonal,
	CategorySpam,
	CategoryUnknown,
}

// ParseCategory resolves a category name case-insensitively
func ParseCategory(name string) (Category, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range Categories {
		if string(c) == name {
			return c, true
		}
	}
	return "", false
}

// Status is the lifecycle state of a persisted email
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusClassified Status = "classified"
	StatusArchived   Status = "archived"
	StatusDeleted    Status = "deleted"
	StatusError      Status = "error"
)

var statusRank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusClassified: 2,
	StatusArchived:   3,
	StatusDeleted:    4,
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle
// moving forward. ERROR may be entered from any non-terminal state and left
// by a retry into PROCESSING or by filing the email away.
func (s Status) CanAdvanceTo(next Status) bool {
	if s == next {
		return true
	}
	switch {
	case s == StatusDeleted:
		return false
	case next == StatusError:
		return true
	case s == StatusError:
		return next == StatusProcessing || next == StatusArchived
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// AccountType identifies the provider backing an account
type AccountType string

const (
	AccountTypeIMAP    AccountType = "imap"
	AccountTypeGmail   AccountType = "gmail"
	AccountTypeOutlook AccountType = "outlook"
)

// Attachment is the metadata kept for an email attachment
type Attachment struct {
	Filename    string `db:"filename"`
	ContentType string `db:"content_type"`
	SizeBytes   int64  `db:"size_bytes"`
}

// Email is the persisted email record
type Email struct {
	ID                       int64       `db:"id"`
	AccountID                int64       `db:"account_id"`
	MessageID                string      `db:"message_id"`
	ThreadID                 string      `db:"thread_id"`
	Subject                  string      `db:"subject"`
	Sender                   string      `db:"sender"`
	Recipients               string      `db:"recipients"`
	DateReceived             time.Time   `db:"date_received"`
	Category                 Category    `db:"category"`
	ClassificationConfidence int         `db:"classification_confidence"`
	ClassificationReason     string      `db:"classification_reason"`
	HasAttachments           bool        `db:"has_attachments"`
	AttachmentCount          int         `db:"attachment_count"`
	BodyPreview              string      `db:"body_preview"`
	Status                   Status      `db:"status"`
	ArchivedFolder           string      `db:"archived_folder"`
	IsDeleted                bool        `db:"is_deleted"`
	DeletedAt                *time.Time  `db:"deleted_at"`
	ProcessedAt              *time.Time  `db:"processed_at"`
	ProcessingTimeMs         int64       `db:"processing_time_ms"`
	CreatedAt                time.Time   `db:"created_at"`
	UpdatedAt                time.Time   `db:"updated_at"`

	Attachments []Attachment `db:"-"`
}

// Advance moves the email to next if that does not regress its lifecycle
func (e *Email) Advance(next Status) bool {
	if e.Status == "" || e.Status.CanAdvanceTo(next) {
		e.Status = next
		return true
	}
	return false
}

// Normalized returns the view of the email used for rule matching
func (e *Email) Normalized() NormalizedEmail {
	names := make([]string, 0, len(e.Attachments))
	for _, a := range e.Attachments {
		names = append(names, a.Filename)
	}
	return NormalizedEmail{
		Subject:         e.Subject,
		Sender:          e.Sender,
		BodyPreview:     e.BodyPreview,
		HasAttachments:  e.HasAttachments,
		AttachmentNames: names,
	}
}

// ClassificationRequest builds the input handed to the fallback classifier
func (e *Email) ClassificationRequest() ClassificationRequest {
	return ClassificationRequest{
		Subject:        e.Subject,
		Sender:         e.Sender,
		BodyPreview:    e.BodyPreview,
		HasAttachments: e.HasAttachments,
	}
}

// Account is a configured mailbox
type Account struct {
	ID                   int64       `db:"id"`
	Type                 AccountType `db:"account_type"`
	EmailAddress         string      `db:"email_address"`
	EncryptedCredentials string      `db:"encrypted_credentials"`
	IsActive             bool        `db:"is_active"`
	SyncEnabled          bool        `db:"sync_enabled"`
	LastSync             *time.Time  `db:"last_sync"`
	LastError            string      `db:"last_error"`
	TotalEmailsProcessed int64       `db:"total_emails_processed"`
	CreatedAt            time.Time   `db:"created_at"`
	UpdatedAt            time.Time   `db:"updated_at"`
}

// NormalizedEmail holds the fields rules are evaluated against. Values are
// kept as stored; case folding happens at match time.
type NormalizedEmail struct {
	Subject         string
	Sender          string
	BodyPreview     string
	HasAttachments  bool
	AttachmentNames []string
}

// Folded returns a copy with every text field lower-cased
func (n NormalizedEmail) Folded() NormalizedEmail {
	names := make([]string, len(n.AttachmentNames))
	for i, name := range n.AttachmentNames {
		names[i] = Fold(name)
	}
	return NormalizedEmail{
		Subject:         Fold(n.Subject),
		Sender:          Fold(n.Sender),
		BodyPreview:     Fold(n.BodyPreview),
		HasAttachments:  n.HasAttachments,
		AttachmentNames: names,
	}
}

// ClassificationRequest is what the fallback classifier sees
type ClassificationRequest struct {
	Subject        string
	Sender         string
	BodyPreview    string
	HasAttachments bool
}

// ClassificationResult is a category judgment for one email
type ClassificationResult struct {
	Category   Category `json:"category"`
	Confidence int      `json:"confidence"`
	Reason     string   `json:"reason"`
	RuleName   string   `json:"rule_name,omitempty"`
}

// ResultStatus is the overall status reported by pipeline operations
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultPartial ResultStatus = "partial"
	ResultError   ResultStatus = "error"
)

// ActionOutcome reports what the dispatcher did for one email. Success means
// the dispatch ran to completion, not that every provider call succeeded.
type ActionOutcome struct {
	Status       ResultStatus `json:"status"`
	ActionsTaken []string     `json:"actions_taken"`
	Category     Category     `json:"category,omitempty"`
	Confidence   int          `json:"confidence,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// BulkFailure is one failed item of a bulk operation
type BulkFailure struct {
	EmailID int64  `json:"email_id"`
	Error   string `json:"error"`
}

// BulkMoveResult aggregates a bulk move
type BulkMoveResult struct {
	Status    ResultStatus  `json:"status"`
	Succeeded []int64       `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
	Total     int           `json:"total"`
	Error     string        `json:"error,omitempty"`
}

// LabelResult reports a label application
type LabelResult struct {
	Status ResultStatus `json:"status"`
	Label  string       `json:"label,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// BatchResult aggregates a classification pass over pending emails
type BatchResult struct {
	BatchID    string       `json:"batch_id"`
	Status     ResultStatus `json:"status"`
	Processed  int          `json:"processed"`
	Classified int          `json:"classified"`
	Errors     int          `json:"errors"`
	Error      string       `json:"error,omitempty"`
}

// SyncResult reports a mailbox synchronisation
type SyncResult struct {
	AccountID int64        `json:"account_id"`
	Status    ResultStatus `json:"status"`
	Fetched   int          `json:"fetched"`
	Inserted  int          `json:"inserted"`
	Skipped   int          `json:"skipped"`
	Error     string       `json:"error,omitempty"`
}

// Log levels used in processing logs
const (
	LogLevelInfo  = "INFO"
	LogLevelError = "ERROR"
)

// ProcessingLog is an audit row written for pipeline actions
type ProcessingLog struct {
	ID               int64     `db:"id"`
	EmailID          *int64    `db:"email_id"`
	Level            string    `db:"level"`
	Message          string    `db:"message"`
	Details          string    `db:"details"`
	Component        string    `db:"component"`
	ProcessingTimeMs int64     `db:"processing_time_ms"`
	CreatedAt        time.Time `db:"created_at"`
}

// RawEmail is a message as fetched from a provider
type RawEmail struct {
	MessageID   string
	ThreadID    string
	Subject     string
	Sender      string
	Recipients  []string
	Date        time.Time
	Body        string
	Attachments []Attachment
}

// Credentials are the decrypted secrets for an account. Which fields are
// set depends on the provider.
type Credentials struct {
	Username     string    `json:"username,omitempty"`
	Password     string    `json:"password,omitempty"`
	Server       string    `json:"server,omitempty"`
	Port         int       `json:"port,omitempty"`
	UseTLS       *bool     `json:"use_ssl,omitempty"`
	Token        string    `json:"token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenURI     string    `json:"token_uri,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	TenantID     string    `json:"tenant_id,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}
