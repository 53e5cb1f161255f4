package undo

import (
	"context"
	"errors"
	"fmt"

	"github.com/INLOpen/atundo/core"
	"github.com/INLOpen/atundo/hooks"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Flush persists the branch's undo record set as a Normal row on bc.Conn.
// The insert joins the caller's local transaction and is committed, or rolled
// back, together with the business writes it compensates for. Flush never
// retries: a duplicate key here means the branch was already flushed or
// already rolled back, and is returned as an error matching
// core.ErrDuplicateUndoLog.
func (m *Manager) Flush(ctx context.Context, bc BranchContext) (err error) {
	if err := core.AssertSupportedDBType(bc.DBType); err != nil {
		return err
	}
	if len(bc.UndoItems) == 0 {
		m.logger.Debug("Nothing to flush", "xid", bc.XID, "branch_id", bc.BranchID)
		return nil
	}
	if bc.Conn == nil {
		return errors.New("flush requires the caller's connection")
	}

	ctx, span := m.tracer.Start(ctx, "Manager.Flush")
	defer span.End()
	span.SetAttributes(
		attribute.String("xid", bc.XID),
		attribute.Int64("branch_id", bc.BranchID),
		attribute.Int("entries", len(bc.UndoItems)),
	)

	branchLog := &core.BranchUndoLog{
		XID:         bc.XID,
		BranchID:    bc.BranchID,
		SQLUndoLogs: bc.UndoItems,
	}
	if err := hooks.Trigger(ctx, m.hooks, hooks.NewPreFlushUndoLogEvent(hooks.PreFlushUndoLogPayload{
		XID:      bc.XID,
		BranchID: bc.BranchID,
		UndoLog:  branchLog,
	})); err != nil {
		span.SetStatus(codes.Error, "cancelled_by_pre_hook")
		return fmt.Errorf("flush cancelled by pre-hook: %w", err)
	}

	start := m.now()
	var size int
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		hooks.Trigger(ctx, m.hooks, hooks.NewPostFlushUndoLogEvent(hooks.PostFlushUndoLogPayload{
			XID:      bc.XID,
			BranchID: bc.BranchID,
			Entries:  len(bc.UndoItems),
			Bytes:    size,
			Duration: m.now().Sub(start),
			Error:    err,
		}))
	}()

	if err := branchLog.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid_undo_log")
		return fmt.Errorf("invalid undo log for branch %d: %w", bc.BranchID, err)
	}
	rollbackInfo, err := m.codec.Encode(branchLog)
	if err != nil {
		span.SetStatus(codes.Error, "encode_failed")
		return fmt.Errorf("encode undo log for branch %d: %w", bc.BranchID, err)
	}
	size = len(rollbackInfo)
	span.SetAttributes(attribute.Int("rollback_info.bytes", size))

	if err := m.store.Insert(ctx, bc.Conn, bc.BranchID, bc.XID, rollbackInfo, core.LogStatusNormal); err != nil {
		span.SetStatus(codes.Error, "insert_failed")
		return fmt.Errorf("flush undo log: %w", err)
	}
	m.logger.Debug("Undo log flushed", "xid", bc.XID, "branch_id", bc.BranchID, "entries", len(bc.UndoItems), "bytes", size)
	return nil
}
