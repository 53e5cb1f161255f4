package store

import (
	"context"
	"time"

	"github.com/INLOpen/atundo/core"
)

// Record is one persisted undo log row.
type Record struct {
	BranchID     int64
	XID          string
	RollbackInfo []byte
	Status       core.LogStatus
	Created      time.Time
	Modified     time.Time
}

// Store is the persistence facade over the undo log table. Every method runs on
// the caller's executor and therefore inside the caller's local transaction; the
// store never begins, commits or rolls back. Payloads are opaque to it.
type Store interface {
	// SelectForUpdate reads and row-locks the rows of (branchID, xid).
	SelectForUpdate(ctx context.Context, ex core.Executor, branchID int64, xid string) ([]*Record, error)
	// Insert writes a row. A unique-key collision is reported as an error
	// matching core.ErrDuplicateUndoLog.
	Insert(ctx context.Context, ex core.Executor, branchID int64, xid string, rollbackInfo []byte, status core.LogStatus) error
	// Delete removes the rows of (branchID, xid) and returns how many were removed.
	Delete(ctx context.Context, ex core.Executor, branchID int64, xid string) (int64, error)
	// BatchDelete removes the rows whose branch_id and xid are in the given sets.
	BatchDelete(ctx context.Context, ex core.Executor, branchIDs []int64, xids []string) (int64, error)
	// DeleteCreatedBefore removes at most limit rows created at or before cutoff.
	DeleteCreatedBefore(ctx context.Context, ex core.Executor, cutoff time.Time, limit int) (int64, error)
}
