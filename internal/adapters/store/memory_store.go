package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mikey/email-agent/internal/core"
	"go.uber.org/zap"
)

// ErrTxClosed is returned when a finished unit of work is used again
var ErrTxClosed = errors.New("transaction already closed")

// MemoryStore is an in-memory implementation of the Store interface
type MemoryStore struct {
	mu            sync.RWMutex
	emails        map[int64]*core.Email
	accounts      map[int64]*core.Account
	logs          []*core.ProcessingLog
	nextEmailID   int64
	nextAccountID int64
	nextLogID     int64
	logger        *zap.Logger
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		emails:   make(map[int64]*core.Email),
		accounts: make(map[int64]*core.Account),
		logger:   logger,
	}
}

// AddAccount stores an account directly and returns its id
func (s *MemoryStore) AddAccount(account *core.Account) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.ID == 0 {
		s.nextAccountID++
		account.ID = s.nextAccountID
	} else if account.ID > s.nextAccountID {
		s.nextAccountID = account.ID
	}
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	s.accounts[account.ID] = cloneAccount(account)
	return account.ID
}

// AddEmail stores an email directly and returns its id
func (s *MemoryStore) AddEmail(email *core.Email) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignEmailID(email)
	s.emails[email.ID] = cloneEmail(email)
	return email.ID
}

// RemoveAccount deletes an account, leaving its emails orphaned
func (s *MemoryStore) RemoveAccount(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
}

// Email returns a snapshot of a committed email
func (s *MemoryStore) Email(id int64) (*core.Email, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.emails[id]
	if !ok {
		return nil, false
	}
	return cloneEmail(e), true
}

// Account returns a snapshot of a committed account
func (s *MemoryStore) Account(id int64) (*core.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, false
	}
	return cloneAccount(a), true
}

// Logs returns the processing log entries written so far
func (s *MemoryStore) Logs() []core.ProcessingLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ProcessingLog, len(s.logs))
	for i, l := range s.logs {
		out[i] = *l
	}
	return out
}

// Begin opens a unit of work
func (s *MemoryStore) Begin(ctx context.Context) (core.Tx, error) {
	return &memoryTx{
		store:    s,
		emails:   make(map[int64]*core.Email),
		accounts: make(map[int64]*core.Account),
	}, nil
}

// ListPendingEmails returns up to limit PENDING emails ordered by id
func (s *MemoryStore) ListPendingEmails(ctx context.Context, limit int) ([]*core.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]*core.Email, 0)
	for _, e := range s.emails {
		if e.Status == core.StatusPending {
			pending = append(pending, cloneEmail(e))
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// ListSyncAccounts returns active accounts with sync enabled ordered by id
func (s *MemoryStore) ListSyncAccounts(ctx context.Context) ([]*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]*core.Account, 0)
	for _, a := range s.accounts {
		if a.IsActive && a.SyncEnabled {
			accounts = append(accounts, cloneAccount(a))
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

// AppendLog records a processing log entry
func (s *MemoryStore) AppendLog(ctx context.Context, entry *core.ProcessingLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLogID++
	entry.ID = s.nextLogID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	copied := *entry
	s.logs = append(s.logs, &copied)
	return nil
}

// PurgeDeleted removes soft-deleted emails deleted before the cutoff
func (s *MemoryStore) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, e := range s.emails {
		if e.IsDeleted && e.DeletedAt != nil && e.DeletedAt.Before(before) {
			delete(s.emails, id)
			purged++
		}
	}

	s.logger.Debug("Purged quarantined emails", zap.Int64("purged_count", purged))
	return purged, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

// assignEmailID gives a new email an id; callers hold the write lock
func (s *MemoryStore) assignEmailID(email *core.Email) {
	if email.ID == 0 {
		s.nextEmailID++
		email.ID = s.nextEmailID
	} else if email.ID > s.nextEmailID {
		s.nextEmailID = email.ID
	}
	now := time.Now()
	if email.CreatedAt.IsZero() {
		email.CreatedAt = now
	}
	email.UpdatedAt = now
	email.AttachmentCount = len(email.Attachments)
}

// memoryTx stages changes until Commit
type memoryTx struct {
	store    *MemoryStore
	emails   map[int64]*core.Email
	accounts map[int64]*core.Account
	order    []int64
	done     bool
}

func (tx *memoryTx) GetEmail(ctx context.Context, id int64) (*core.Email, error) {
	if tx.done {
		return nil, ErrTxClosed
	}
	if e, ok := tx.emails[id]; ok {
		return cloneEmail(e), nil
	}
	e, ok := tx.store.Email(id)
	if !ok {
		return nil, core.ErrNotFound
	}
	return e, nil
}

func (tx *memoryTx) GetAccount(ctx context.Context, id int64) (*core.Account, error) {
	if tx.done {
		return nil, ErrTxClosed
	}
	if a, ok := tx.accounts[id]; ok {
		return cloneAccount(a), nil
	}
	a, ok := tx.store.Account(id)
	if !ok {
		return nil, core.ErrNotFound
	}
	return a, nil
}

func (tx *memoryTx) FindEmailByMessageID(ctx context.Context, accountID int64, messageID string) (*core.Email, error) {
	if tx.done {
		return nil, ErrTxClosed
	}
	for _, e := range tx.emails {
		if e.AccountID == accountID && e.MessageID == messageID {
			return cloneEmail(e), nil
		}
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	for _, e := range tx.store.emails {
		if e.AccountID == accountID && e.MessageID == messageID {
			return cloneEmail(e), nil
		}
	}
	return nil, core.ErrNotFound
}

func (tx *memoryTx) InsertEmail(ctx context.Context, email *core.Email) error {
	if tx.done {
		return ErrTxClosed
	}
	tx.store.mu.Lock()
	email.ID = 0
	tx.store.assignEmailID(email)
	tx.store.mu.Unlock()

	tx.stageEmail(email)
	return nil
}

func (tx *memoryTx) UpdateEmail(ctx context.Context, email *core.Email) error {
	if tx.done {
		return ErrTxClosed
	}
	if _, err := tx.GetEmail(ctx, email.ID); err != nil {
		return err
	}
	email.UpdatedAt = time.Now()
	tx.stageEmail(email)
	return nil
}

func (tx *memoryTx) UpdateAccount(ctx context.Context, account *core.Account) error {
	if tx.done {
		return ErrTxClosed
	}
	if _, err := tx.GetAccount(ctx, account.ID); err != nil {
		return err
	}
	account.UpdatedAt = time.Now()
	tx.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (tx *memoryTx) stageEmail(email *core.Email) {
	if _, ok := tx.emails[email.ID]; !ok {
		tx.order = append(tx.order, email.ID)
	}
	tx.emails[email.ID] = cloneEmail(email)
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return ErrTxClosed
	}
	tx.done = true

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, id := range tx.order {
		tx.store.emails[id] = tx.emails[id]
	}
	for id, a := range tx.accounts {
		tx.store.accounts[id] = a
	}
	return nil
}

func (tx *memoryTx) Rollback() error {
	tx.done = true
	return nil
}

func cloneEmail(e *core.Email) *core.Email {
	c := *e
	if e.Attachments != nil {
		c.Attachments = append([]core.Attachment(nil), e.Attachments...)
	}
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		c.DeletedAt = &t
	}
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

func cloneAccount(a *core.Account) *core.Account {
	c := *a
	if a.LastSync != nil {
		t := *a.LastSync
		c.LastSync = &t
	}
	return &c
}
