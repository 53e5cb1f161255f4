package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateUndoLog is returned by a store when an insert collides with an
	// existing (branch_id, xid) row.
	ErrDuplicateUndoLog = errors.New("undo log already exists")
	// ErrRetriesExhausted is wrapped into a BranchRollbackError when the configured
	// undo retry cap is reached.
	ErrRetriesExhausted = errors.New("undo retries exhausted")
	// ErrCorruptRollbackInfo is returned when a rollback_info payload fails header
	// or checksum validation.
	ErrCorruptRollbackInfo = errors.New("corrupt rollback info")
	// ErrDirtyUndo is returned when the current rows no longer match the after image.
	ErrDirtyUndo = errors.New("rows modified outside the branch, undo refused")
)

// ValidationError is a custom error type for validation failures.
type ValidationError struct {
	Message string
	Field   string // e.g., "xid", "table_name", "after_image"
	Value   string // The invalid value
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s '%s': %s", e.Field, e.Value, e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var validationError *ValidationError
	return errors.As(err, &validationError)
}

// UnsupportedDBTypeError is raised before any I/O when a connection reports a
// dialect the manager does not support. It is a deployment error and is never retried.
type UnsupportedDBTypeError struct {
	DBType DBType
}

func (e *UnsupportedDBTypeError) Error() string {
	return fmt.Sprintf("db type [%s] is not supported yet", e.DBType)
}

func IsUnsupportedDBType(err error) bool {
	var unsupported *UnsupportedDBTypeError
	return errors.As(err, &unsupported)
}

// TransactionErrorCode classifies failures reported back to the coordinator.
type TransactionErrorCode int

const (
	BranchRollbackFailedRetriable TransactionErrorCode = iota + 1
)

func (c TransactionErrorCode) String() string {
	switch c {
	case BranchRollbackFailedRetriable:
		return "BranchRollbackFailed_Retriable"
	default:
		return fmt.Sprintf("TransactionErrorCode(%d)", int(c))
	}
}

// BranchRollbackError is the single error an undo call surfaces. The local
// transaction of the failed attempt has already been rolled back when it is returned.
type BranchRollbackError struct {
	Code     TransactionErrorCode
	BranchID int64
	XID      string
	Err      error
}

func NewBranchRollbackError(branchID int64, xid string, err error) *BranchRollbackError {
	return &BranchRollbackError{
		Code:     BranchRollbackFailedRetriable,
		BranchID: branchID,
		XID:      xid,
		Err:      err,
	}
}

func (e *BranchRollbackError) Error() string {
	return fmt.Sprintf("%s: %d/%s: %v", e.Code, e.BranchID, e.XID, e.Err)
}

func (e *BranchRollbackError) Unwrap() error { return e.Err }

// IsBranchRollbackRetriable reports whether err carries a retriable rollback failure.
func IsBranchRollbackRetriable(err error) bool {
	var rbErr *BranchRollbackError
	return errors.As(err, &rbErr) && rbErr.Code == BranchRollbackFailedRetriable
}
