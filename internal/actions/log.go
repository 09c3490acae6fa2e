package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mikey/email-agent/internal/core"
	"go.uber.org/zap"
)

// actionLog buffers processing log entries until the surrounding
// transaction has closed
type actionLog struct {
	entries []*core.ProcessingLog
}

func newActionLog() *actionLog {
	return &actionLog{}
}

func (l *actionLog) record(emailID int64, action string, success bool, details map[string]any) {
	level := core.LogLevelInfo
	verb := "succeeded"
	if !success {
		level = core.LogLevelError
		verb = "failed"
	}

	payload := "{}"
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			payload = string(b)
		}
	}

	id := emailID
	l.entries = append(l.entries, &core.ProcessingLog{
		EmailID:   &id,
		Level:     level,
		Message:   fmt.Sprintf("Action '%s' %s", action, verb),
		Details:   payload,
		Component: Component,
	})
}

// flush writes buffered entries. Failures are logged and never change the
// outcome of the action that produced them.
func (d *Dispatcher) flush(ctx context.Context, l *actionLog) {
	for _, entry := range l.entries {
		if err := d.store.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
			d.logger.Error("Failed to write processing log",
				zap.String("message", entry.Message),
				zap.Error(err))
		}
	}
	l.entries = nil
}

// withConnector acquires a connector for the account, runs fn, and always
// disconnects. Acquisition failures are returned as errors.
func (d *Dispatcher) withConnector(ctx context.Context, account *core.Account, fn func(core.Connector) error) error {
	conn, err := d.connectors.ConnectorFor(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to create connector for account %d: %w", account.ID, err)
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			d.logger.Warn("Failed to disconnect", zap.Int64("account_id", account.ID), zap.Error(err))
		}
	}()

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect account %d: %w", account.ID, err)
	}

	return fn(conn)
}
