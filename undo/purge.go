package undo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/INLOpen/atundo/core"
	"github.com/INLOpen/atundo/datasource"
	"github.com/INLOpen/atundo/hooks"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// inSession runs fn in a fresh local transaction and commits it when fn
// succeeds. op names the work in release failure logs.
func (m *Manager) inSession(ctx context.Context, op string, fn func(sess datasource.Session) error) error {
	sess, err := m.source.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer m.release(sess, &committed, "operation", op)

	if err := fn(sess); err != nil {
		return err
	}
	if err := sess.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// DeleteUndoLog removes the undo log of one branch after its global
// transaction committed.
func (m *Manager) DeleteUndoLog(ctx context.Context, xid string, branchID int64) error {
	_, err := m.BatchDeleteUndoLogs(ctx, []string{xid}, []int64{branchID})
	return err
}

// BatchDeleteUndoLogs removes the rows whose xid and branch_id are in the
// given sets. Branch ids are unique across global transactions, so the cross
// product of the two sets never reaches a branch that was not asked for.
func (m *Manager) BatchDeleteUndoLogs(ctx context.Context, xids []string, branchIDs []int64) (deleted int64, err error) {
	if err := core.AssertSupportedDBType(m.source.DBType()); err != nil {
		return 0, err
	}
	if len(xids) == 0 || len(branchIDs) == 0 {
		return 0, nil
	}

	ctx, span := m.tracer.Start(ctx, "Manager.BatchDeleteUndoLogs")
	defer span.End()
	span.SetAttributes(attribute.Int("xids", len(xids)), attribute.Int("branch_ids", len(branchIDs)))

	start := m.now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch_delete_failed")
		}
		hooks.Trigger(ctx, m.hooks, hooks.NewPostUndoLogPurgeEvent(hooks.PostUndoLogPurgePayload{
			Reason:   hooks.PurgeReasonBatch,
			Deleted:  deleted,
			Duration: m.now().Sub(start),
			Error:    err,
		}))
	}()

	err = m.inSession(ctx, "batch_delete", func(sess datasource.Session) error {
		n, err := m.store.BatchDelete(ctx, sess, branchIDs, xids)
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		deleted = 0
		return 0, fmt.Errorf("batch delete undo logs: %w", err)
	}
	m.logger.Debug("Undo logs deleted", "xids", len(xids), "branch_ids", len(branchIDs), "deleted", deleted)
	return deleted, nil
}

// DeleteUndoLogsCreatedBefore removes at most limit rows, tombstones
// included, created at or before cutoff.
func (m *Manager) DeleteUndoLogsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) (deleted int64, err error) {
	if err := core.AssertSupportedDBType(m.source.DBType()); err != nil {
		return 0, err
	}
	if limit <= 0 {
		return 0, fmt.Errorf("purge limit must be positive, got %d", limit)
	}

	ctx, span := m.tracer.Start(ctx, "Manager.DeleteUndoLogsCreatedBefore")
	defer span.End()
	span.SetAttributes(attribute.String("cutoff", cutoff.UTC().Format(time.RFC3339)), attribute.Int("limit", limit))

	start := m.now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "retention_delete_failed")
		}
		hooks.Trigger(ctx, m.hooks, hooks.NewPostUndoLogPurgeEvent(hooks.PostUndoLogPurgePayload{
			Reason:   hooks.PurgeReasonRetention,
			Deleted:  deleted,
			Duration: m.now().Sub(start),
			Error:    err,
		}))
	}()

	err = m.inSession(ctx, "retention_delete", func(sess datasource.Session) error {
		n, err := m.store.DeleteCreatedBefore(ctx, sess, cutoff, limit)
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		deleted = 0
		return 0, fmt.Errorf("delete undo logs created before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return deleted, nil
}

// PurgeOlderThan deletes every row older than retention in batches of
// batchSize and returns the total removed.
func (m *Manager) PurgeOlderThan(ctx context.Context, retention time.Duration, batchSize int) (int64, error) {
	if retention <= 0 {
		return 0, errors.New("retention must be positive")
	}
	cutoff := m.now().Add(-retention)
	var total int64
	for {
		n, err := m.DeleteUndoLogsCreatedBefore(ctx, cutoff, batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(batchSize) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// RunRetention calls PurgeOlderThan every interval until ctx ends. A failed
// pass is logged and retried on the next tick.
func (m *Manager) RunRetention(ctx context.Context, retention, interval time.Duration, batchSize int) error {
	if interval <= 0 {
		return errors.New("purge interval must be positive")
	}
	if retention <= 0 || batchSize <= 0 {
		return errors.New("retention and batch size must be positive")
	}

	m.logger.Info("Undo log retention started", "retention", retention, "interval", interval, "batch_size", batchSize)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Undo log retention stopped")
			return nil
		case <-ticker.C:
			n, err := m.PurgeOlderThan(ctx, retention, batchSize)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Error("Undo log retention pass failed", "deleted", n, "error", err)
				continue
			}
			if n > 0 {
				m.logger.Info("Undo log retention pass", "deleted", n)
			}
		}
	}
}
