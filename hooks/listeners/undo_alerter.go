package listeners

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/atundo/core"
	"github.com/INLOpen/atundo/hooks"
)

// UndoAlerterListener logs failed branch undos and long retry streaks.
// Dirty-undo failures are logged at error level: the coordinator keeps
// retrying them and they only clear after manual repair of the rows.
type UndoAlerterListener struct {
	logger         *slog.Logger
	retryThreshold int
}

// NewUndoAlerterListener warns once an undo has retried retryThreshold times.
// A threshold <= 0 defaults to 3.
func NewUndoAlerterListener(logger *slog.Logger, retryThreshold int) *UndoAlerterListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if retryThreshold <= 0 {
		retryThreshold = 3
	}
	return &UndoAlerterListener{
		logger:         logger.With("component", "UndoAlerterListener"),
		retryThreshold: retryThreshold,
	}
}

// Register subscribes the listener to the undo events it watches.
func (l *UndoAlerterListener) Register(m hooks.HookManager) {
	m.Register(hooks.EventPostUndoBranch, l)
	m.Register(hooks.EventOnUndoRetry, l)
}

func (l *UndoAlerterListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch event.Type() {
	case hooks.EventPostUndoBranch:
		payload, ok := event.Payload().(hooks.PostUndoBranchPayload)
		if !ok {
			l.logger.Error("Received PostUndoBranch event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
			return nil
		}
		if payload.Error == nil {
			return nil
		}
		if errors.Is(payload.Error, core.ErrDirtyUndo) {
			l.logger.Error("Branch undo refused, rows changed outside the branch; manual repair needed",
				"xid", payload.XID, "branch_id", payload.BranchID, "error", payload.Error)
			return nil
		}
		l.logger.Warn("Branch undo failed, coordinator will retry",
			"xid", payload.XID, "branch_id", payload.BranchID, "attempts", payload.Attempts, "error", payload.Error)
	case hooks.EventOnUndoRetry:
		payload, ok := event.Payload().(hooks.UndoRetryPayload)
		if !ok {
			l.logger.Error("Received OnUndoRetry event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
			return nil
		}
		if payload.Attempt == l.retryThreshold {
			l.logger.Warn("Branch undo keeps losing the tombstone race",
				"xid", payload.XID, "branch_id", payload.BranchID, "attempt", payload.Attempt)
		}
	}
	return nil
}

// Priority defines the execution order.
func (l *UndoAlerterListener) Priority() int { return 100 }

// IsAsync indicates this listener can run in the background.
func (l *UndoAlerterListener) IsAsync() bool { return true }
