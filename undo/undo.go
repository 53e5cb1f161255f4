package undo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/INLOpen/atundo/core"
	"github.com/INLOpen/atundo/datasource"
	"github.com/INLOpen/atundo/hooks"
	"github.com/INLOpen/atundo/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Undo rolls back branch (xid, branchID). Each attempt runs on a fresh
// connection in its own local transaction and row-locks the undo log row:
//
//   - no row: a GlobalFinished tombstone is inserted so a late flush fails
//     on the unique key instead of leaving work nobody will compensate;
//   - GlobalFinished row: nothing to do;
//   - Normal row: its entries are inverted newest first, then the row is
//     deleted.
//
// An attempt that loses the tombstone insert to a concurrent flush or undo is
// restarted after RetryInterval. Every other failure rolls the attempt back
// and is returned as a *core.BranchRollbackError.
func (m *Manager) Undo(ctx context.Context, xid string, branchID int64) (err error) {
	if err := core.AssertSupportedDBType(m.source.DBType()); err != nil {
		return err
	}

	ctx, span := m.tracer.Start(ctx, "Manager.Undo")
	defer span.End()
	span.SetAttributes(attribute.String("xid", xid), attribute.Int64("branch_id", branchID))

	if err := hooks.Trigger(ctx, m.hooks, hooks.NewPreUndoBranchEvent(hooks.PreUndoBranchPayload{
		XID:      xid,
		BranchID: branchID,
	})); err != nil {
		span.SetStatus(codes.Error, "cancelled_by_pre_hook")
		return core.NewBranchRollbackError(branchID, xid, fmt.Errorf("undo cancelled by pre-hook: %w", err))
	}

	start := m.now()
	var (
		outcome  core.UndoOutcome
		attempts int
	)
	defer func() {
		span.SetAttributes(attribute.Int("attempts", attempts))
		if err != nil {
			span.RecordError(err)
		} else {
			span.SetAttributes(attribute.String("outcome", string(outcome)))
		}
		hooks.Trigger(ctx, m.hooks, hooks.NewPostUndoBranchEvent(hooks.PostUndoBranchPayload{
			XID:      xid,
			BranchID: branchID,
			Outcome:  outcome,
			Attempts: attempts,
			Duration: m.now().Sub(start),
			Error:    err,
		}))
	}()

	for {
		attempts++
		var (
			retry      bool
			attemptErr error
		)
		outcome, retry, attemptErr = m.undoAttempt(ctx, xid, branchID, attempts)
		if attemptErr == nil {
			m.logger.Info("Branch undo finished", "xid", xid, "branch_id", branchID, "outcome", outcome, "attempts", attempts)
			return nil
		}
		outcome = ""
		if !retry {
			span.SetStatus(codes.Error, "undo_attempt_failed")
			m.logger.Error("Branch undo failed", "xid", xid, "branch_id", branchID, "attempt", attempts, "error", attemptErr)
			return core.NewBranchRollbackError(branchID, xid, attemptErr)
		}
		if m.maxRetries > 0 && attempts >= m.maxRetries {
			span.SetStatus(codes.Error, "retries_exhausted")
			return core.NewBranchRollbackError(branchID, xid,
				fmt.Errorf("%w after %d attempts: %w", core.ErrRetriesExhausted, attempts, attemptErr))
		}

		m.logger.Info("Undo log appeared during undo, retrying", "xid", xid, "branch_id", branchID, "attempt", attempts)
		hooks.Trigger(ctx, m.hooks, hooks.NewOnUndoRetryEvent(hooks.UndoRetryPayload{
			XID:      xid,
			BranchID: branchID,
			Attempt:  attempts,
			Cause:    attemptErr,
		}))

		timer := time.NewTimer(m.retryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			span.SetStatus(codes.Error, "context_done")
			return core.NewBranchRollbackError(branchID, xid, ctx.Err())
		case <-timer.C:
		}
	}
}

// undoAttempt runs one attempt. retry is true only when the tombstone insert
// hit the unique key.
func (m *Manager) undoAttempt(ctx context.Context, xid string, branchID int64, attempt int) (outcome core.UndoOutcome, retry bool, err error) {
	ctx, span := m.tracer.Start(ctx, "Manager.undoAttempt")
	defer span.End()
	span.SetAttributes(attribute.Int("attempt", attempt))
	defer func() {
		if err != nil && !retry {
			span.RecordError(err)
			span.SetStatus(codes.Error, "attempt_failed")
		}
	}()

	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	sess, err := m.source.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("begin undo transaction: %w", err)
	}
	committed := false
	defer m.release(sess, &committed, "xid", xid, "branch_id", branchID, "attempt", attempt)

	records, err := m.store.SelectForUpdate(ctx, sess, branchID, xid)
	if err != nil {
		return "", false, err
	}

	if len(records) == 0 {
		if err := m.store.Insert(ctx, sess, branchID, xid, m.codec.DefaultContent(), core.LogStatusGlobalFinished); err != nil {
			if errors.Is(err, core.ErrDuplicateUndoLog) {
				return "", true, err
			}
			return "", false, fmt.Errorf("insert tombstone: %w", err)
		}
		if err := sess.Commit(); err != nil {
			return "", false, fmt.Errorf("commit tombstone: %w", err)
		}
		committed = true
		m.logger.Info("No undo log found, tombstone written", "xid", xid, "branch_id", branchID)
		return core.UndoOutcomeTombstoned, false, nil
	}
	if len(records) > 1 {
		return "", false, fmt.Errorf("found %d undo log rows for one branch", len(records))
	}

	rec := records[0]
	if !rec.Status.CanUndo() {
		m.logger.Info("Undo log already finished, skipping", "xid", xid, "branch_id", branchID, "status", rec.Status)
		return core.UndoOutcomeAlreadyFinished, false, nil
	}

	if err := m.compensate(ctx, sess, rec); err != nil {
		return "", false, err
	}
	if _, err := m.store.Delete(ctx, sess, branchID, xid); err != nil {
		return "", false, fmt.Errorf("delete undo log: %w", err)
	}
	if err := sess.Commit(); err != nil {
		return "", false, fmt.Errorf("commit undo: %w", err)
	}
	committed = true
	return core.UndoOutcomeCompensated, false, nil
}

// compensate applies the inverse of every entry of rec on sess, newest first.
func (m *Manager) compensate(ctx context.Context, sess datasource.Session, rec *store.Record) error {
	branchLog, err := m.codec.Decode(rec.RollbackInfo)
	if err != nil {
		return fmt.Errorf("decode rollback info: %w", err)
	}
	if branchLog.XID != "" && (branchLog.XID != rec.XID || branchLog.BranchID != rec.BranchID) {
		return fmt.Errorf("rollback info belongs to branch %d/%s", branchLog.BranchID, branchLog.XID)
	}

	dbType := m.source.DBType()
	for i := len(branchLog.SQLUndoLogs) - 1; i >= 0; i-- {
		entry := branchLog.SQLUndoLogs[i]
		meta, err := m.tableMeta.TableMeta(ctx, sess, entry.TableName)
		if err != nil {
			return fmt.Errorf("undo entry %d: resolve table meta for %s: %w", i, entry.TableName, err)
		}
		entry.SetTableMeta(meta)

		undoExec, err := m.executors.UndoExecutor(dbType, entry)
		if err != nil {
			return fmt.Errorf("undo entry %d: %w", i, err)
		}
		if err := undoExec.ExecuteOn(ctx, sess); err != nil {
			return fmt.Errorf("undo entry %d on %s: %w", i, entry.TableName, err)
		}
	}
	m.logger.Debug("Undo entries applied", "xid", rec.XID, "branch_id", rec.BranchID, "entries", len(branchLog.SQLUndoLogs))
	return nil
}
