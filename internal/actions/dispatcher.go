package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/email-agent/internal/core"
	"github.com/mikey/email-agent/internal/rules"
	"go.uber.org/zap"
)

// Component is the name recorded on processing log entries written here
const Component = "email_actions"

// Action names used in processing logs
const (
	ActionMoveEmail   = "move_email"
	ActionDeleteEmail = "delete_email"
	ActionBulkMove    = "bulk_move"
	ActionApplyLabel  = "apply_label"
)

var (
	errMoveFailed     = errors.New("move operation failed")
	errLabelFailed    = errors.New("failed to apply label")
	errNoLabelSupport = errors.New("connector does not support Gmail label operations")
)

// TagMatchedRule is the action tag for the rule that decided the action
func TagMatchedRule(name string) string { return "matched_rule:" + name }

// TagMovedTo is the action tag for a successful move
func TagMovedTo(folder string) string { return "moved_to:" + folder }

// TagDeleted is the action tag for a successful soft delete
const TagDeleted = "deleted"

// RuleMatcher finds the rule that applies to an email
type RuleMatcher interface {
	FindMatchingRule(email core.NormalizedEmail) *rules.Rule
}

// Dispatcher turns classifications into provider operations and keeps the
// stored email in step with what happened
type Dispatcher struct {
	store      core.Store
	connectors core.ConnectorFactory
	rules      RuleMatcher
	policy     core.Policy
	logger     *zap.Logger
	now        func() time.Time
}

// NewDispatcher creates a new action dispatcher
func NewDispatcher(
	store core.Store,
	connectors core.ConnectorFactory,
	matcher RuleMatcher,
	policy core.Policy,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:      store,
		connectors: connectors,
		rules:      matcher,
		policy:     policy,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// plan is the provider-side intent for one email
type plan struct {
	rule   *rules.Rule
	folder string
	delete bool
}

// planFor re-derives the action from the email's current fields. A matching
// rule decides on its own; otherwise the category defaults apply.
func (d *Dispatcher) planFor(email *core.Email, category core.Category) plan {
	if rule := d.rules.FindMatchingRule(email.Normalized()); rule != nil {
		return plan{rule: rule, folder: rule.Folder, delete: rule.AutoDelete}
	}
	return plan{
		folder: d.policy.FolderFor(category),
		delete: d.policy.ShouldDelete(category),
	}
}

// ApplyClassificationAction executes the action implied by a classification.
// A success status means the dispatch ran to completion; individual provider
// operations may still have failed, which shows in ActionsTaken and the
// processing log.
func (d *Dispatcher) ApplyClassificationAction(
	ctx context.Context,
	emailID int64,
	category core.Category,
	confidence int,
	ruleMatched string,
) (outcome *core.ActionOutcome) {
	start := d.now()
	outcome = &core.ActionOutcome{
		ActionsTaken: []string{},
		Category:     category,
		Confidence:   confidence,
	}

	logs := newActionLog()
	defer d.flush(ctx, logs)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic while applying actions", zap.Int64("email_id", emailID), zap.Any("panic", r))
			outcome.Status = core.ResultError
			outcome.Error = fmt.Sprintf("%v", r)
		}
	}()

	tx, err := d.store.Begin(ctx)
	if err != nil {
		return d.failOutcome(outcome, emailID, err)
	}
	defer tx.Rollback()

	email, err := tx.GetEmail(ctx, emailID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			err = fmt.Errorf("email %d not found", emailID)
		}
		return d.failOutcome(outcome, emailID, err)
	}

	account, err := tx.GetAccount(ctx, email.AccountID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			err = fmt.Errorf("account %d not found", email.AccountID)
		}
		return d.failOutcome(outcome, emailID, err)
	}

	p := d.planFor(email, category)
	if p.rule != nil {
		d.logger.Info("Email matched rule", zap.Int64("email_id", emailID), zap.String("rule", p.rule.Name))
		outcome.ActionsTaken = append(outcome.ActionsTaken, TagMatchedRule(p.rule.Name))
	}
	if ruleMatched != "" && (p.rule == nil || p.rule.Name != ruleMatched) {
		d.logger.Debug("Rule decision changed since classification",
			zap.Int64("email_id", emailID),
			zap.String("classified_with", ruleMatched))
	}

	if p.folder != "" || p.delete {
		err = d.withConnector(ctx, account, func(conn core.Connector) error {
			if p.folder != "" && !p.delete {
				d.move(ctx, conn, email, p.folder, category, outcome, logs)
			}
			if p.delete {
				d.softDelete(ctx, conn, email, outcome, logs)
			}
			return nil
		})
		if err != nil {
			return d.failOutcome(outcome, emailID, err)
		}
	}

	now := d.now()
	email.Advance(core.StatusClassified)
	email.ProcessedAt = &now
	email.ProcessingTimeMs = now.Sub(start).Milliseconds()

	if err := tx.UpdateEmail(ctx, email); err != nil {
		return d.failOutcome(outcome, emailID, err)
	}
	if err := tx.Commit(); err != nil {
		return d.failOutcome(outcome, emailID, err)
	}

	d.logger.Info("Email actions completed",
		zap.Int64("email_id", emailID),
		zap.Strings("actions_taken", outcome.ActionsTaken))

	outcome.Status = core.ResultSuccess
	return outcome
}

func (d *Dispatcher) move(
	ctx context.Context,
	conn core.Connector,
	email *core.Email,
	folder string,
	category core.Category,
	outcome *core.ActionOutcome,
	logs *actionLog,
) {
	moved, err := conn.Move(ctx, email.MessageID, folder)
	if err == nil && moved {
		email.ArchivedFolder = folder
		outcome.ActionsTaken = append(outcome.ActionsTaken, TagMovedTo(folder))
		logs.record(email.ID, ActionMoveEmail, true, map[string]any{
			"folder":   folder,
			"category": category,
		})
		return
	}

	details := map[string]any{"folder": folder}
	if err != nil {
		details["error"] = err.Error()
	}
	d.logger.Warn("Failed to move email",
		zap.Int64("email_id", email.ID),
		zap.String("folder", folder),
		zap.Error(err))
	logs.record(email.ID, ActionMoveEmail, false, details)
}

func (d *Dispatcher) softDelete(
	ctx context.Context,
	conn core.Connector,
	email *core.Email,
	outcome *core.ActionOutcome,
	logs *actionLog,
) {
	deleted, err := conn.Delete(ctx, email.MessageID, false)
	if err == nil && deleted {
		now := d.now()
		email.IsDeleted = true
		email.DeletedAt = &now
		outcome.ActionsTaken = append(outcome.ActionsTaken, TagDeleted)
		logs.record(email.ID, ActionDeleteEmail, true, map[string]any{"permanent": false})
		return
	}

	details := map[string]any{}
	if err != nil {
		details["error"] = err.Error()
	}
	d.logger.Warn("Failed to delete email", zap.Int64("email_id", email.ID), zap.Error(err))
	logs.record(email.ID, ActionDeleteEmail, false, details)
}

func (d *Dispatcher) failOutcome(outcome *core.ActionOutcome, emailID int64, err error) *core.ActionOutcome {
	d.logger.Error("Error applying actions to email", zap.Int64("email_id", emailID), zap.Error(err))
	outcome.Status = core.ResultError
	outcome.Error = err.Error()
	return outcome
}

// BulkMoveEmails moves each email to folder independently and commits all
// database changes once at the end
func (d *Dispatcher) BulkMoveEmails(ctx context.Context, emailIDs []int64, folder string) *core.BulkMoveResult {
	result := &core.BulkMoveResult{
		Succeeded: []int64{},
		Failed:    []core.BulkFailure{},
		Total:     len(emailIDs),
	}

	d.logger.Info("Bulk moving emails", zap.Int("count", len(emailIDs)), zap.String("folder", folder))

	logs := newActionLog()
	defer d.flush(ctx, logs)

	tx, err := d.store.Begin(ctx)
	if err != nil {
		d.logger.Error("Bulk move operation failed", zap.Error(err))
		result.Status = core.ResultError
		result.Error = err.Error()
		return result
	}
	defer tx.Rollback()

	for _, id := range emailIDs {
		if err := d.moveOne(ctx, tx, id, folder, logs); err != nil {
			d.logger.Error("Error moving email", zap.Int64("email_id", id), zap.Error(err))
			result.Failed = append(result.Failed, core.BulkFailure{EmailID: id, Error: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}

	if err := tx.Commit(); err != nil {
		d.logger.Error("Bulk move operation failed", zap.Error(err))
		// nothing was persisted, so no id counts as moved
		for _, id := range result.Succeeded {
			result.Failed = append(result.Failed, core.BulkFailure{EmailID: id, Error: err.Error()})
			logs.record(id, ActionBulkMove, false, map[string]any{"folder": folder, "error": err.Error()})
		}
		result.Succeeded = []int64{}
		result.Status = core.ResultError
		result.Error = err.Error()
		return result
	}

	for _, id := range result.Succeeded {
		logs.record(id, ActionBulkMove, true, map[string]any{"folder": folder})
	}

	switch {
	case len(result.Failed) == 0:
		result.Status = core.ResultSuccess
	case len(result.Succeeded) > 0:
		result.Status = core.ResultPartial
	default:
		result.Status = core.ResultError
	}

	d.logger.Info("Bulk move completed",
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)))

	return result
}

// moveOne handles a single bulk move item; panics are contained to the item.
// Success is logged by the caller once the commit has landed.
func (d *Dispatcher) moveOne(ctx context.Context, tx core.Tx, emailID int64, folder string, logs *actionLog) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	email, err := tx.GetEmail(ctx, emailID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return errors.New("email not found")
		}
		return err
	}

	account, err := tx.GetAccount(ctx, email.AccountID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return errors.New("account not found")
		}
		return err
	}

	var moved bool
	err = d.withConnector(ctx, account, func(conn core.Connector) error {
		var moveErr error
		moved, moveErr = conn.Move(ctx, email.MessageID, folder)
		return moveErr
	})
	if err != nil {
		logs.record(emailID, ActionBulkMove, false, map[string]any{"folder": folder, "error": err.Error()})
		return err
	}
	if !moved {
		logs.record(emailID, ActionBulkMove, false, map[string]any{"folder": folder})
		return errMoveFailed
	}

	email.ArchivedFolder = folder
	email.Advance(core.StatusArchived)
	return tx.UpdateEmail(ctx, email)
}

// ApplyLabel applies a Gmail label to an email. Other providers are refused
// before any connector is created.
func (d *Dispatcher) ApplyLabel(ctx context.Context, emailID int64, label string) *core.LabelResult {
	d.logger.Info("Applying label", zap.String("label", label), zap.Int64("email_id", emailID))

	logs := newActionLog()
	defer d.flush(ctx, logs)

	fail := func(err error) *core.LabelResult {
		d.logger.Error("Error applying label", zap.Int64("email_id", emailID), zap.Error(err))
		return &core.LabelResult{Status: core.ResultError, Error: err.Error()}
	}

	tx, err := d.store.Begin(ctx)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback()

	email, err := tx.GetEmail(ctx, emailID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			err = fmt.Errorf("email %d not found", emailID)
		}
		return fail(err)
	}

	account, err := tx.GetAccount(ctx, email.AccountID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			err = fmt.Errorf("account %d not found", email.AccountID)
		}
		return fail(err)
	}

	if account.Type != core.AccountTypeGmail {
		return fail(fmt.Errorf("%w (account type: %s)", core.ErrLabelsUnsupported, account.Type))
	}

	err = d.withConnector(ctx, account, func(conn core.Connector) error {
		labeler, ok := conn.(core.Labeler)
		if !ok {
			return errNoLabelSupport
		}
		applied, err := labeler.ApplyLabel(ctx, email.MessageID, label)
		if err != nil {
			return err
		}
		if !applied {
			return errLabelFailed
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}

	logs.record(emailID, ActionApplyLabel, true, map[string]any{"label": label})
	return &core.LabelResult{Status: core.ResultSuccess, Label: label}
}
