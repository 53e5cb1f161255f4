package hooks

import (
	"time"

	"github.com/INLOpen/atundo/core"
)

// EventType defines the type of a hook event. Types starting with "Pre" run
// synchronously and can cancel the operation.
type EventType string

const (
	// Phase one
	EventPreFlushUndoLog  EventType = "PreFlushUndoLog"
	EventPostFlushUndoLog EventType = "PostFlushUndoLog"

	// Phase two rollback
	EventPreUndoBranch  EventType = "PreUndoBranch"
	EventPostUndoBranch EventType = "PostUndoBranch"
	EventOnUndoRetry    EventType = "OnUndoRetry"

	// Phase two commit and retention
	EventPostUndoLogPurge EventType = "PostUndoLogPurge"

	// Table meta cache
	EventOnTableMetaCacheHit  EventType = "OnTableMetaCacheHit"
	EventOnTableMetaCacheMiss EventType = "OnTableMetaCacheMiss"
)

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// PreFlushUndoLogPayload is sent before a record set is encoded and inserted.
// UndoLog is the live record set; listeners must not retain it.
type PreFlushUndoLogPayload struct {
	XID      string
	BranchID int64
	UndoLog  *core.BranchUndoLog
}

func NewPreFlushUndoLogEvent(payload PreFlushUndoLogPayload) HookEvent {
	return &BaseEvent{eventType: EventPreFlushUndoLog, payload: payload}
}

// PostFlushUndoLogPayload reports a finished flush.
type PostFlushUndoLogPayload struct {
	XID      string
	BranchID int64
	Entries  int
	// Bytes is the size of the stored rollback_info.
	Bytes    int
	Duration time.Duration
	Error    error
}

func NewPostFlushUndoLogEvent(payload PostFlushUndoLogPayload) HookEvent {
	return &BaseEvent{eventType: EventPostFlushUndoLog, payload: payload}
}

// PreUndoBranchPayload is sent once per Undo call, before the first attempt.
type PreUndoBranchPayload struct {
	XID      string
	BranchID int64
}

func NewPreUndoBranchEvent(payload PreUndoBranchPayload) HookEvent {
	return &BaseEvent{eventType: EventPreUndoBranch, payload: payload}
}

// PostUndoBranchPayload reports how an Undo call settled. Outcome is empty
// when Error is set.
type PostUndoBranchPayload struct {
	XID      string
	BranchID int64
	Outcome  core.UndoOutcome
	Attempts int
	Duration time.Duration
	Error    error
}

func NewPostUndoBranchEvent(payload PostUndoBranchPayload) HookEvent {
	return &BaseEvent{eventType: EventPostUndoBranch, payload: payload}
}

// UndoRetryPayload is sent when an attempt lost the tombstone insert race
// and the whole attempt restarts.
type UndoRetryPayload struct {
	XID      string
	BranchID int64
	Attempt  int
	Cause    error
}

func NewOnUndoRetryEvent(payload UndoRetryPayload) HookEvent {
	return &BaseEvent{eventType: EventOnUndoRetry, payload: payload}
}

// PurgeReason says which path removed undo log rows.
type PurgeReason string

const (
	PurgeReasonBatch     PurgeReason = "batch"
	PurgeReasonRetention PurgeReason = "retention"
)

// PostUndoLogPurgePayload reports rows removed outside the undo path.
type PostUndoLogPurgePayload struct {
	Reason   PurgeReason
	Deleted  int64
	Duration time.Duration
	Error    error
}

func NewPostUndoLogPurgeEvent(payload PostUndoLogPurgePayload) HookEvent {
	return &BaseEvent{eventType: EventPostUndoLogPurge, payload: payload}
}

// TableMetaCachePayload carries the cache key, "<db>.<table>", and the cache
// size and hit rate at the time of the lookup.
type TableMetaCachePayload struct {
	Key     string
	Size    int
	HitRate float64
}

func NewOnTableMetaCacheHitEvent(payload TableMetaCachePayload) HookEvent {
	return &BaseEvent{eventType: EventOnTableMetaCacheHit, payload: payload}
}

func NewOnTableMetaCacheMissEvent(payload TableMetaCachePayload) HookEvent {
	return &BaseEvent{eventType: EventOnTableMetaCacheMiss, payload: payload}
}
