package core

import "fmt"

// LogStatus is the lifecycle state of a persisted undo log row.
// The integer values are the on-disk log_status column values.
type LogStatus int

const (
	// LogStatusNormal marks a row written at prepare time that still awaits
	// either compensation or deletion.
	LogStatusNormal LogStatus = 0
	// LogStatusGlobalFinished marks a terminal tombstone. Its payload is never read.
	LogStatusGlobalFinished LogStatus = 1
)

func (s LogStatus) String() string {
	switch s {
	case LogStatusNormal:
		return "Normal"
	case LogStatusGlobalFinished:
		return "GlobalFinished"
	default:
		return fmt.Sprintf("LogStatus(%d)", int(s))
	}
}

// CanUndo reports whether a row in this status still holds compensation work.
func (s LogStatus) CanUndo() bool {
	return s == LogStatusNormal
}

// ParseLogStatus converts a log_status column value, rejecting unknown states.
func ParseLogStatus(v int64) (LogStatus, error) {
	switch LogStatus(v) {
	case LogStatusNormal, LogStatusGlobalFinished:
		return LogStatus(v), nil
	default:
		return 0, fmt.Errorf("unknown undo log status %d", v)
	}
}

// UndoOutcome describes how an undo call settled a branch.
type UndoOutcome string

const (
	// UndoOutcomeCompensated means inverse statements ran and the row was deleted.
	UndoOutcomeCompensated UndoOutcome = "compensated"
	// UndoOutcomeTombstoned means no row existed and a GlobalFinished row was written.
	UndoOutcomeTombstoned UndoOutcome = "tombstoned"
	// UndoOutcomeAlreadyFinished means a GlobalFinished row was found and left untouched.
	UndoOutcomeAlreadyFinished UndoOutcome = "already_finished"
)
