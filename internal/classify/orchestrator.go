package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/email-agent/internal/core"
	"github.com/mikey/email-agent/internal/rules"
	"go.uber.org/zap"
)

// Component is the name recorded on processing log entries written here
const Component = "email_classifier"

// RuleMatcher finds the rule that applies to an email
type RuleMatcher interface {
	FindMatchingRule(email core.NormalizedEmail) *rules.Rule
}

// ActionDispatcher executes the provider side of a classification
type ActionDispatcher interface {
	ApplyClassificationAction(ctx context.Context, emailID int64, category core.Category, confidence int, ruleMatched string) *core.ActionOutcome
}

// Orchestrator classifies pending emails and hands each one to the
// dispatcher
type Orchestrator struct {
	store      core.Store
	rules      RuleMatcher
	classifier core.Classifier
	dispatcher ActionDispatcher
	policy     core.Policy
	logger     *zap.Logger
}

// NewOrchestrator creates a new classification orchestrator
func NewOrchestrator(
	store core.Store,
	matcher RuleMatcher,
	classifier core.Classifier,
	dispatcher ActionDispatcher,
	policy core.Policy,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		rules:      matcher,
		classifier: classifier,
		dispatcher: dispatcher,
		policy:     policy,
		logger:     logger,
	}
}

// ClassifyPending processes up to limit PENDING emails in id order. The
// returned result is never nil; a failure to list emails is reported through
// its status.
func (o *Orchestrator) ClassifyPending(ctx context.Context, limit int) (result *core.BatchResult) {
	result = &core.BatchResult{
		BatchID: uuid.NewString(),
		Status:  core.ResultSuccess,
	}
	logger := o.logger.With(zap.String("batch_id", result.BatchID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Batch classification aborted", zap.Any("panic", r))
			result.Status = core.ResultError
			result.Error = fmt.Sprintf("%v", r)
		}
	}()

	emails, err := o.store.ListPendingEmails(ctx, limit)
	if err != nil {
		logger.Error("Failed to list pending emails", zap.Error(err))
		result.Status = core.ResultError
		result.Error = err.Error()
		return result
	}

	logger.Info("Classifying pending emails", zap.Int("count", len(emails)))

	for _, email := range emails {
		if err := ctx.Err(); err != nil {
			result.Status = core.ResultError
			result.Error = err.Error()
			break
		}

		result.Processed++
		outcome, err := o.process(ctx, email)
		if err != nil {
			logger.Error("Error classifying email", zap.Int64("email_id", email.ID), zap.Error(err))
			result.Errors++
			o.markError(ctx, email.ID, err.Error())
			continue
		}

		result.Classified++
		if outcome.Status == core.ResultError {
			result.Errors++
			o.markError(ctx, email.ID, outcome.Error)
		}
	}

	logger.Info("Batch classification finished",
		zap.Int("processed", result.Processed),
		zap.Int("classified", result.Classified),
		zap.Int("errors", result.Errors))

	return result
}

// ClassifyEmail reclassifies a single email. Only PENDING and ERROR emails
// are eligible.
func (o *Orchestrator) ClassifyEmail(ctx context.Context, emailID int64) (*core.ClassificationResult, *core.ActionOutcome, error) {
	tx, err := o.store.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	email, err := tx.GetEmail(ctx, emailID)
	tx.Rollback()
	if err != nil {
		return nil, nil, fmt.Errorf("email %d: %w", emailID, err)
	}

	if email.Status != core.StatusPending && email.Status != core.StatusError {
		return nil, nil, fmt.Errorf("email %d cannot be classified in status %s", emailID, email.Status)
	}

	classification := o.classify(ctx, email)
	if err := o.persist(ctx, emailID, classification, 0); err != nil {
		o.markError(ctx, emailID, err.Error())
		return nil, nil, err
	}

	outcome := o.dispatcher.ApplyClassificationAction(ctx, emailID, classification.Category, classification.Confidence, classification.RuleName)
	if outcome.Status == core.ResultError {
		o.markError(ctx, emailID, outcome.Error)
	}

	return &classification, outcome, nil
}

// process classifies one email, commits the classification, then
// dispatches. Only failures before dispatch are returned as errors.
func (o *Orchestrator) process(ctx context.Context, email *core.Email) (outcome *core.ActionOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while classifying: %v", r)
		}
	}()

	start := time.Now()
	classification := o.classify(ctx, email)
	if err := o.persist(ctx, email.ID, classification, time.Since(start)); err != nil {
		return nil, err
	}

	return o.dispatcher.ApplyClassificationAction(ctx, email.ID, classification.Category, classification.Confidence, classification.RuleName), nil
}

// classify prefers a matching rule over the classifier
func (o *Orchestrator) classify(ctx context.Context, email *core.Email) core.ClassificationResult {
	if rule := o.rules.FindMatchingRule(email.Normalized()); rule != nil {
		o.logger.Debug("Email matched rule", zap.Int64("email_id", email.ID), zap.String("rule", rule.Name))
		return core.ClassificationResult{
			Category:   rule.Category,
			Confidence: o.policy.RuleConfidence,
			Reason:     "Matched rule: " + rule.Name,
			RuleName:   rule.Name,
		}
	}

	return o.classifier.Classify(ctx, email.ClassificationRequest())
}

// persist stores the classification and moves the email to PROCESSING
func (o *Orchestrator) persist(ctx context.Context, emailID int64, c core.ClassificationResult, took time.Duration) error {
	tx, err := o.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	email, err := tx.GetEmail(ctx, emailID)
	if err != nil {
		return err
	}

	if !email.Advance(core.StatusProcessing) {
		return fmt.Errorf("email %d cannot move from %s to %s", emailID, email.Status, core.StatusProcessing)
	}
	email.Category = c.Category
	email.ClassificationConfidence = c.Confidence
	email.ClassificationReason = c.Reason

	if err := tx.UpdateEmail(ctx, email); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	details, _ := json.Marshal(map[string]any{
		"category":   c.Category,
		"confidence": c.Confidence,
		"rule":       c.RuleName,
	})
	o.appendLog(ctx, &core.ProcessingLog{
		EmailID:          &emailID,
		Level:            core.LogLevelInfo,
		Message:          fmt.Sprintf("Email classified as %s", c.Category),
		Details:          string(details),
		Component:        Component,
		ProcessingTimeMs: took.Milliseconds(),
	})
	return nil
}

// markError moves an email to ERROR, keeping whatever classification was
// already committed
func (o *Orchestrator) markError(ctx context.Context, emailID int64, reason string) {
	ctx = context.WithoutCancel(ctx)

	err := func() error {
		tx, err := o.store.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		email, err := tx.GetEmail(ctx, emailID)
		if err != nil {
			return err
		}
		if !email.Advance(core.StatusError) {
			return nil
		}
		if err := tx.UpdateEmail(ctx, email); err != nil {
			return err
		}
		return tx.Commit()
	}()
	if err != nil {
		o.logger.Error("Failed to mark email as errored", zap.Int64("email_id", emailID), zap.Error(err))
	}

	details, _ := json.Marshal(map[string]string{"error": reason})
	o.appendLog(ctx, &core.ProcessingLog{
		EmailID:   &emailID,
		Level:     core.LogLevelError,
		Message:   "Email processing failed",
		Details:   string(details),
		Component: Component,
	})
}

func (o *Orchestrator) appendLog(ctx context.Context, entry *core.ProcessingLog) {
	if err := o.store.AppendLog(ctx, entry); err != nil {
		o.logger.Warn("Failed to write processing log", zap.Error(err))
	}
}
