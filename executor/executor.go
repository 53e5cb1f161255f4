package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/atundo/core"
)

// UndoExecutor applies the inverse of one undo entry on the given executor.
// It runs inside the caller's local transaction and never commits.
type UndoExecutor interface {
	ExecuteOn(ctx context.Context, ex core.Executor) error
}

// Factory builds the inverse executor for an entry in a dialect. The entry's
// table meta must already be resolved.
type Factory interface {
	UndoExecutor(dbType core.DBType, entry *core.SQLUndoLog) (UndoExecutor, error)
}

// DefaultFactory builds MySQL inverse executors.
type DefaultFactory struct {
	// DataValidation locks and compares the current rows against the images
	// before applying an inverse statement.
	DataValidation bool
	Logger         *slog.Logger
}

var _ Factory = (*DefaultFactory)(nil)

// NewDefaultFactory returns a factory with data validation set as given.
func NewDefaultFactory(dataValidation bool, logger *slog.Logger) *DefaultFactory {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultFactory{
		DataValidation: dataValidation,
		Logger:         logger.With("component", "UndoExecutor"),
	}
}

func (f *DefaultFactory) UndoExecutor(dbType core.DBType, entry *core.SQLUndoLog) (UndoExecutor, error) {
	if err := core.AssertSupportedDBType(dbType); err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("nil undo entry")
	}
	meta := entry.TableMeta()
	if meta == nil {
		return nil, fmt.Errorf("table meta for %s not resolved", entry.TableName)
	}
	if len(meta.PrimaryKeys) == 0 {
		return nil, fmt.Errorf("table %s has no primary key, cannot build inverse statement", entry.TableName)
	}
	switch entry.SQLType {
	case core.SQLTypeInsert, core.SQLTypeUpdate, core.SQLTypeDelete:
	default:
		return nil, fmt.Errorf("no inverse executor for sql type %s", entry.SQLType)
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &mysqlUndoExecutor{
		entry:    entry,
		meta:     meta,
		validate: f.DataValidation,
		logger:   logger.With("table", entry.TableName, "sql_type", entry.SQLType.String()),
	}, nil
}
