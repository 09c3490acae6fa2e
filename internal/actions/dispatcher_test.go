package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mikey/email-agent/internal/adapters/store"
	"github.com/mikey/email-agent/internal/core"
	"github.com/mikey/email-agent/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockConnector struct {
	mock.Mock
}

func (m *mockConnector) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockConnector) Disconnect() error {
	return m.Called().Error(0)
}

func (m *mockConnector) Fetch(ctx context.Context, folder string, limit int, since *time.Time) ([]*core.RawEmail, error) {
	args := m.Called(ctx, folder, limit, since)
	emails, _ := args.Get(0).([]*core.RawEmail)
	return emails, args.Error(1)
}

func (m *mockConnector) Move(ctx context.Context, messageID, folder string) (bool, error) {
	args := m.Called(ctx, messageID, folder)
	return args.Bool(0), args.Error(1)
}

func (m *mockConnector) Delete(ctx context.Context, messageID string, permanent bool) (bool, error) {
	args := m.Called(ctx, messageID, permanent)
	return args.Bool(0), args.Error(1)
}

type mockLabelConnector struct {
	mockConnector
}

func (m *mockLabelConnector) ApplyLabel(ctx context.Context, messageID, label string) (bool, error) {
	args := m.Called(ctx, messageID, label)
	return args.Bool(0), args.Error(1)
}

type fakeFactory struct {
	conn  core.Connector
	err   error
	calls int
}

func (f *fakeFactory) ConnectorFor(ctx context.Context, account *core.Account) (core.Connector, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

const billingRules = `
rules:
  - name: billing
    priority: 10
    conditions:
      sender_contains: "billing@"
    category: invoice
    folder: Billing
  - name: junk
    priority: 5
    conditions:
      subject_contains: "winner"
    category: spam
    auto_delete: true
`

type fixture struct {
	store      *store.MemoryStore
	factory    *fakeFactory
	dispatcher *Dispatcher
	accountID  int64
}

func newFixture(t *testing.T, accountType core.AccountType, conn core.Connector) *fixture {
	t.Helper()

	s := store.NewMemoryStore(zap.NewNop())
	accountID := s.AddAccount(&core.Account{
		Type:         accountType,
		EmailAddress: "owner@example.com",
		IsActive:     true,
		SyncEnabled:  true,
	})

	engine := rules.NewEngine(&rules.BytesSource{Data: []byte(billingRules)}, rules.NeverMatch, zap.NewNop())
	require.NoError(t, engine.Reload(context.Background()))

	factory := &fakeFactory{conn: conn}
	return &fixture{
		store:      s,
		factory:    factory,
		dispatcher: NewDispatcher(s, factory, engine, core.DefaultPolicy(), zap.NewNop()),
		accountID:  accountID,
	}
}

func (f *fixture) addEmail(messageID, sender, subject string) int64 {
	return f.store.AddEmail(&core.Email{
		AccountID:    f.accountID,
		MessageID:    messageID,
		Sender:       sender,
		Subject:      subject,
		DateReceived: time.Now().UTC(),
		Status:       core.StatusProcessing,
	})
}

// commitFailingStore persists nothing: every unit of work fails to commit
type commitFailingStore struct {
	*store.MemoryStore
	err error
}

func (s *commitFailingStore) Begin(ctx context.Context) (core.Tx, error) {
	tx, err := s.MemoryStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &commitFailingTx{Tx: tx, err: s.err}, nil
}

type commitFailingTx struct {
	core.Tx
	err error
}

func (tx *commitFailingTx) Commit() error {
	tx.Tx.Rollback()
	return tx.err
}

func (f *fixture) failCommits(err error) {
	f.dispatcher.store = &commitFailingStore{MemoryStore: f.store, err: err}
}

func TestApplyClassificationAction_SpamIsSoftDeleted(t *testing.T) {
	conn := &mockConnector{}
	conn.On("Connect", mock.Anything).Return(nil)
	conn.On("Delete", mock.Anything, "m1", false).Return(true, nil)
	conn.On("Disconnect").Return(nil)

	f := newFixture(t, core.AccountTypeIMAP, conn)
	id := f.addEmail("m1", "promo@shop.example", "Cheap pills")

	outcome := f.dispatcher.ApplyClassificationAction(context.Background(), id, core.CategorySpam, 88, "")

	assert.Equal(t, core.ResultSuccess, outcome.Status)
	assert.Equal(t, []string{TagDeleted}, outcome.ActionsTaken)
	assert.Equal(t, core.CategorySpam, outcome.Category)
	assert.Equal(t, 88, outcome.Confidence)

	email, ok := f.store.Email(id)
	require.True(t, ok)
	assert.Equal(t, core.StatusClassified, email.Status)
	assert.True(t, email.IsDeleted)
	assert.NotNil(t, email.DeletedAt)
	assert.NotNil(t, email.ProcessedAt)
	conn.AssertExpectations(t)
	conn.AssertNotCalled(t, "Move", mock.Anything, mock.Anything, mock.Anything)

	logs := f.store.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "Action 'delete_email' succeeded", logs[0].Message)
	assert.Equal(t, core.LogLevelInfo, logs[0].Level)
	assert.Equal(t, Component, logs[0].Component)
	assert.JSONEq(t, `{"permanent":false}`, logs[0].Details)
}

func TestApplyClassificationAction_FailedDeleteStillClassifies(t *testing.T) {
	conn := &mockConnector{}
	conn.On("Connect", mock.Anything).Return(nil)
	conn.On("Delete", mock.Anything, "m1", false).Return(false, nil)
	conn.On("Disconnect").Return(nil)

	f := newFixture(t, core.AccountTypeIMAP, conn)
	id := f.addEmail("m1", "promo@shop.example", "Cheap pills")

	outcome := f.dispatcher.ApplyClassificationAction(context.Background(), id, core.CategorySpam, 88, "")

	assert.Equal(t, core.ResultSuccess, outcome.Status)
	assert.Empty(t, outcome.ActionsTaken)

	email, _ := f.store.Email(id)
	assert.Equal(t, core.StatusClassified, email.Status)
	assert.False(t, email.IsDeleted)
	assert.Nil(t, email.DeletedAt)

	logs := f.store.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, core.LogLevelError, logs[0].Level)
	assert.Equal(t, "Action 'delete_email' failed", logs[0].Message)
}

func TestApplyClassificationAction_DefaultFolder(t *testing.T) {
	conn := &mockConnector{}
	conn.On("Connect", mock.Anything).Return(nil)
	conn.On("Move", mock.Anything, "m1", "Finance/Invoices").Return(true, nil)
	conn.On("Disconnect").Return(nil)

	f := newFixture(t, core.AccountTypeIMAP, conn)
	id := f.addEmail("m1", "accounts@vendor.example", "Your invoice")

	outcome := f.dispatcher.ApplyClassificationAction(context.Background(), id, core.CategoryInvoice, 90, "")

	assert.Equal(t, core.ResultSuccess, outcome.Status)
	assert.Equal(t, []string{"moved_to:Finance/Invoices"}, outcome.ActionsTaken)

	email, _ := f.store.Email(id)
	assert.Equal(t, "Finance/Invoices", email.ArchivedFolder)
	assert.Equal(t, core.StatusClassified, email.Status)
	conn.AssertExpectations(t)
}

func TestApplyClassificationAction_RuleFolderWins(t *testing.T) {
	conn := &mockConnector{}
	conn.On("Connect", mock.Anything).Return(nil)
	conn.On("Move", mock.Anything, "m1", "Billing").Return(true, nil)
	conn.On("Disconnect").Return(nil)

	f := newFixture(t, core.AccountTypeIMAP, conn)
	id := f.addEmail("m1", "Billing@Vendor.example", "Statement")

	outcome := f.dispatcher.ApplyClassificationAction(context.Background(), id, core.CategoryInvoice, 95, "billing")

	assert.Equal(t, core.ResultSuccess, outcome.Status)
	assert.Equal(t, []string{"matched_rule:billing", "moved_to:Billing"}, outcome.ActionsTaken)
	conn.AssertExpectations(t)
}

func TestApplyClassificationAction_RuleAutoDelete(t *testing.T) {
	conn := &mockConnector{}
	conn.On("Connect", mock.Anything).Return(nil)
	conn.On("Delete", mock.Anything, "m1", false).Return(true, nil)
	conn.On("Disconnect").Return(nil)

	f := newFixture(t, core.AccountTypeIMAP, conn)
	id := f.addEmail("m1", "someone@example.com", "You are a WINNER")

	outcome := f.dispatcher.ApplyClassificationAction(context.Background(), id, core.CategorySpam, 95, "junk")

	assert.Equal(t, core.ResultSuccess, outcome.Status)
	assert.Equal(t, []string{"matched_rule:junk", TagDeleted}, outcome.ActionsTaken)
	conn.AssertExpectations(t)
}

func TestApplyClassificationAction_NoProviderActionNeeded(t *testing.T) {
	f := newFixture(t, core.AccountTypeIMAP, &mockConnector{})
	id := f.addEmail("m1", "colleague@example.com", "Meeting notes")

	outcome := f.dispatcher.ApplyClassificationAction(context.Background(), id, core.CategoryProfessional, 70, "")

	assert.Equal(t, core.ResultSuccess, outcome.Status)
	assert.Empty(t, outcome.ActionsTaken)
	assert.Zero(t, f.factory.calls)

	email, _ := f.store.Email(id)
	assert.Equal(t, core.StatusClassified, email.Status)
}

func TestApplyClassificationAction_AcquisitionFailure(t *testing.T) {
	f := newFixture(t, core.AccountTypeIMAP, nil)
	f.factory.err = errors.New("bad credentials")
	id := f.addEmail("m1", "accounts@vendor.example", "Your invoice")

	outcome := f.dispatcher.ApplyClassificationAction(context.Background(), id, core.CategoryInvoice, 90, "")

	assert.Equal(t, core.ResultError, outcome.Status)
	assert.Contains(t, outcome.Error, "bad credentials")

	email, _ := f.store.Email(id)
	assert.Equal(t, core.StatusProcessing, email.Status)
}

func TestApplyClassificationAction_BrokenCredentialsWithoutProviderAction(t *testing.T) {
	f := newFixture(t, core.AccountTypeIMAP, nil)
	f.factory.err = errors.New("bad credentials")
	id := f.addEmail("m1", "colleague@example.com", "Meeting notes")

	outcome := f.dispatcher.ApplyClassificationAction(context.Background(), id, core.CategoryProfessional, 70, "")

	assert.Equal(t, core.ResultSuccess, outcome.Status)
	assert.Empty(t, outcome.Error)
	assert.Zero(t, f.factory.calls)

	email, _ := f.store.Email(id)
	assert.Equal(t, core.StatusClassified, email.Status)
}

func TestApplyClassificationAction_CommitFailure(t *testing.T) {
	conn := &mockConnector{}
	conn.On("Connect", mock.Anything).Return(nil)
	conn.On("Move", mock.Anything, "m1", "Finance/Invoices").Return(true, nil)
	conn.On("Disconnect").Return(nil)

	f := newFixture(t, core.AccountTypeIMAP, conn)
	id := f.addEmail("m1", "accounts@vendor.example", "Your invoice")
	f.failCommits(errors.New("disk full"))

	outcome := f.dispatcher.ApplyClassificationAction(context.Background(), id, core.CategoryInvoice, 90, "")

	assert.Equal(t, core.ResultError, outcome.Status)
	assert.Equal(t, "disk full", outcome.Error)

	email, _ := f.store.Email(id)
	assert.Equal(t, core.StatusProcessing, email.Status)
	assert.Empty(t, email.ArchivedFolder)
	assert.Nil(t, email.ProcessedAt)
}

func TestApplyClassificationAction_ConnectFailureDisconnects(t *testing.T) {
	conn := &mockConnector{}
	conn.On("Connect", mock.Anything).Return(errors.New("connection refused"))
	conn.On("Disconnect").Return(nil)

	f := newFixture(t, core.AccountTypeIMAP, conn)
	id := f.addEmail("m1", "accounts@vendor.example", "Your invoice")

	outcome := f.dispatcher.ApplyClassificationAction(context.Background(), id, core.CategoryInvoice, 90, "")

	assert.Equal(t, core.ResultError, outcome.Status)
	assert.Contains(t, outcome.Error, "connection refused")
	conn.AssertCalled(t, "Disconnect")
}

func TestApplyClassificationAction_NotFound(t *testing.T) {
	f := newFixture(t, core.AccountTypeIMAP, &mockConnector{})

	outcome := f.dispatcher.ApplyClassificationAction(context.Background(), 99, core.CategoryInvoice, 90, "")
	assert.Equal(t, core.ResultError, outcome.Status)
	assert.Equal(t, "email 99 not found", outcome.Error)

	orphan := f.store.AddEmail(&core.Email{AccountID: 42, MessageID: "x", Status: core.StatusProcessing})
	outcome = f.dispatcher.ApplyClassificationAction(context.Background(), orphan, core.CategoryInvoice, 90, "")
	assert.Equal(t, core.ResultError, outcome.Status)
	assert.Equal(t, "account 42 not found", outcome.Error)
}

func TestBulkMoveEmails_Partial(t *testing.T) {
	conn := &mockConnector{}
	conn.On("Connect", mock.Anything).Return(nil)
	conn.On("Move", mock.Anything, "m1", "Archive").Return(true, nil)
	conn.On("Move", mock.Anything, "m2", "Archive").Return(false, nil)
	conn.On("Move", mock.Anything, "m3", "Archive").Return(true, nil)
	conn.On("Disconnect").Return(nil)

	f := newFixture(t, core.AccountTypeIMAP, conn)
	id1 := f.addEmail("m1", "a@example.com", "one")
	id2 := f.addEmail("m2", "b@example.com", "two")
	id3 := f.addEmail("m3", "c@example.com", "three")

	result := f.dispatcher.BulkMoveEmails(context.Background(), []int64{id1, id2, id3}, "Archive")

	assert.Equal(t, core.ResultPartial, result.Status)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, []int64{id1, id3}, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, id2, result.Failed[0].EmailID)
	assert.Equal(t, "move operation failed", result.Failed[0].Error)

	for _, id := range []int64{id1, id3} {
		email, _ := f.store.Email(id)
		assert.Equal(t, core.StatusArchived, email.Status)
		assert.Equal(t, "Archive", email.ArchivedFolder)
	}
	email, _ := f.store.Email(id2)
	assert.Equal(t, core.StatusProcessing, email.Status)
	assert.Empty(t, email.ArchivedFolder)

	// One connector per email, each released
	assert.Equal(t, 3, f.factory.calls)
	conn.AssertNumberOfCalls(t, "Disconnect", 3)
}

func TestBulkMoveEmails_AllSucceed(t *testing.T) {
	conn := &mockConnector{}
	conn.On("Connect", mock.Anything).Return(nil)
	conn.On("Move", mock.Anything, mock.Anything, "Archive").Return(true, nil)
	conn.On("Disconnect").Return(nil)

	f := newFixture(t, core.AccountTypeIMAP, conn)
	id1 := f.addEmail("m1", "a@example.com", "one")
	id2 := f.addEmail("m2", "b@example.com", "two")

	result := f.dispatcher.BulkMoveEmails(context.Background(), []int64{id1, id2}, "Archive")
	assert.Equal(t, core.ResultSuccess, result.Status)
	assert.Empty(t, result.Failed)
	assert.Len(t, f.store.Logs(), 2)
}

func TestBulkMoveEmails_CommitFailure(t *testing.T) {
	conn := &mockConnector{}
	conn.On("Connect", mock.Anything).Return(nil)
	conn.On("Move", mock.Anything, mock.Anything, "Archive").Return(true, nil)
	conn.On("Disconnect").Return(nil)

	f := newFixture(t, core.AccountTypeIMAP, conn)
	id1 := f.addEmail("m1", "a@example.com", "one")
	id2 := f.addEmail("m2", "b@example.com", "two")
	f.failCommits(errors.New("disk full"))

	result := f.dispatcher.BulkMoveEmails(context.Background(), []int64{id1, id2}, "Archive")

	assert.Equal(t, core.ResultError, result.Status)
	assert.Equal(t, "disk full", result.Error)
	assert.Equal(t, 2, result.Total)
	assert.Empty(t, result.Succeeded)
	assert.Equal(t, []core.BulkFailure{
		{EmailID: id1, Error: "disk full"},
		{EmailID: id2, Error: "disk full"},
	}, result.Failed)

	for _, id := range []int64{id1, id2} {
		email, _ := f.store.Email(id)
		assert.Equal(t, core.StatusProcessing, email.Status)
		assert.Empty(t, email.ArchivedFolder)
	}

	logs := f.store.Logs()
	require.Len(t, logs, 2)
	for _, entry := range logs {
		assert.Equal(t, core.LogLevelError, entry.Level)
		assert.Equal(t, "Action 'bulk_move' failed", entry.Message)
		assert.JSONEq(t, `{"folder":"Archive","error":"disk full"}`, entry.Details)
	}
}

func TestBulkMoveEmails_Failures(t *testing.T) {
	conn := &mockConnector{}
	conn.On("Connect", mock.Anything).Return(nil)
	conn.On("Move", mock.Anything, "m1", "Archive").Return(false, errors.New("folder does not exist"))
	conn.On("Disconnect").Return(nil)

	f := newFixture(t, core.AccountTypeIMAP, conn)
	id1 := f.addEmail("m1", "a@example.com", "one")
	orphan := f.store.AddEmail(&core.Email{AccountID: 77, MessageID: "x", Status: core.StatusClassified})

	result := f.dispatcher.BulkMoveEmails(context.Background(), []int64{id1, 404, orphan}, "Archive")

	assert.Equal(t, core.ResultError, result.Status)
	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 3)
	assert.Equal(t, "folder does not exist", result.Failed[0].Error)
	assert.Equal(t, core.BulkFailure{EmailID: 404, Error: "email not found"}, result.Failed[1])
	assert.Equal(t, core.BulkFailure{EmailID: orphan, Error: "account not found"}, result.Failed[2])
}

func TestApplyLabel_NonGmailRefused(t *testing.T) {
	f := newFixture(t, core.AccountTypeOutlook, &mockLabelConnector{})
	id := f.addEmail("m1", "a@example.com", "one")

	result := f.dispatcher.ApplyLabel(context.Background(), id, "Important")

	assert.Equal(t, core.ResultError, result.Status)
	assert.Contains(t, result.Error, "only supported for Gmail")
	assert.Zero(t, f.factory.calls)
}

func TestApplyLabel_Gmail(t *testing.T) {
	conn := &mockLabelConnector{}
	conn.On("Connect", mock.Anything).Return(nil)
	conn.On("ApplyLabel", mock.Anything, "m1", "Important").Return(true, nil)
	conn.On("Disconnect").Return(nil)

	f := newFixture(t, core.AccountTypeGmail, conn)
	id := f.addEmail("m1", "a@example.com", "one")

	result := f.dispatcher.ApplyLabel(context.Background(), id, "Important")

	assert.Equal(t, core.ResultSuccess, result.Status)
	assert.Equal(t, "Important", result.Label)
	conn.AssertExpectations(t)

	logs := f.store.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "Action 'apply_label' succeeded", logs[0].Message)
}

func TestApplyLabel_Failures(t *testing.T) {
	t.Run("no label capability", func(t *testing.T) {
		conn := &mockConnector{}
		conn.On("Connect", mock.Anything).Return(nil)
		conn.On("Disconnect").Return(nil)

		f := newFixture(t, core.AccountTypeGmail, conn)
		id := f.addEmail("m1", "a@example.com", "one")

		result := f.dispatcher.ApplyLabel(context.Background(), id, "Important")
		assert.Equal(t, core.ResultError, result.Status)
		assert.Equal(t, "connector does not support Gmail label operations", result.Error)
		conn.AssertCalled(t, "Disconnect")
	})

	t.Run("provider refused", func(t *testing.T) {
		conn := &mockLabelConnector{}
		conn.On("Connect", mock.Anything).Return(nil)
		conn.On("ApplyLabel", mock.Anything, "m1", "Important").Return(false, nil)
		conn.On("Disconnect").Return(nil)

		f := newFixture(t, core.AccountTypeGmail, conn)
		id := f.addEmail("m1", "a@example.com", "one")

		result := f.dispatcher.ApplyLabel(context.Background(), id, "Important")
		assert.Equal(t, core.ResultError, result.Status)
		assert.Equal(t, "failed to apply label", result.Error)
	})
}
