package undo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/INLOpen/atundo/core"
	"github.com/INLOpen/atundo/datasource"
	"github.com/INLOpen/atundo/executor"
	"github.com/INLOpen/atundo/hooks"
	"github.com/INLOpen/atundo/store"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultRetryInterval is the pause between undo attempts that lost the
// tombstone insert race.
const DefaultRetryInterval = 10 * time.Millisecond

// Codec turns record sets into rollback_info payloads and back.
type Codec interface {
	Encode(log *core.BranchUndoLog) ([]byte, error)
	Decode(data []byte) (*core.BranchUndoLog, error)
	// DefaultContent is the payload written for tombstones.
	DefaultContent() []byte
}

// TableMetaResolver resolves the schema of a table. It may cache.
type TableMetaResolver interface {
	TableMeta(ctx context.Context, ex core.Executor, tableName string) (*core.TableMeta, error)
}

// BranchContext is what the caller's connection wrapper hands to Flush at
// prepare time. Conn carries the caller's open local transaction.
type BranchContext struct {
	DBType    core.DBType
	XID       string
	BranchID  int64
	UndoItems []*core.SQLUndoLog
	Conn      core.Executor
}

// Options configures a Manager. Store, Codec, TableMeta and Executors are required.
type Options struct {
	Store       store.Store
	Codec       Codec
	TableMeta   TableMetaResolver
	Executors   executor.Factory
	HookManager hooks.HookManager
	Tracer      trace.Tracer
	Logger      *slog.Logger

	// MaxRetries caps the attempts of one Undo call. Zero retries until the
	// caller's context ends.
	MaxRetries    int
	RetryInterval time.Duration
}

// Manager owns the undo log lifecycle of one resource database: the insert at
// prepare time, compensation or tombstoning at rollback, and the deletes that
// follow a global commit.
//
// The Manager holds no locks of its own. Concurrent operations on the same
// branch are serialized by the row lock and unique key of the undo log table.
type Manager struct {
	source     datasource.Source
	store      store.Store
	codec      Codec
	tableMeta  TableMetaResolver
	executors  executor.Factory
	hooks      hooks.HookManager
	tracer     trace.Tracer
	logger     *slog.Logger
	maxRetries int
	retryWait  time.Duration
	now        func() time.Time
}

// NewManager creates a manager over source.
func NewManager(source datasource.Source, opts Options) (*Manager, error) {
	if source == nil {
		return nil, errors.New("undo manager requires a data source")
	}
	if opts.Store == nil || opts.Codec == nil || opts.TableMeta == nil || opts.Executors == nil {
		return nil, errors.New("undo manager requires a store, codec, table meta resolver and executor factory")
	}
	if opts.MaxRetries < 0 {
		return nil, errors.New("max retries cannot be negative")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("atundo/undo")
	}
	retryWait := opts.RetryInterval
	if retryWait <= 0 {
		retryWait = DefaultRetryInterval
	}
	return &Manager{
		source:     source,
		store:      opts.Store,
		codec:      opts.Codec,
		tableMeta:  opts.TableMeta,
		executors:  opts.Executors,
		hooks:      opts.HookManager,
		tracer:     tracer,
		logger:     logger.With("component", "UndoLogManager", "db_type", string(source.DBType())),
		maxRetries: opts.MaxRetries,
		retryWait:  retryWait,
		now:        time.Now,
	}, nil
}

// release runs a session's cleanup and logs failures instead of returning them,
// so the outcome of the attempt is never replaced by a close error. logArgs
// identify the work the session served.
func (m *Manager) release(sess datasource.Session, committed *bool, logArgs ...any) {
	if !*committed {
		if err := sess.Rollback(); err != nil {
			m.logger.Warn("Failed to roll back local transaction", append(logArgs, "error", err)...)
		}
	}
	if err := sess.Close(); err != nil {
		m.logger.Warn("Failed to release connection", append(logArgs, "error", err)...)
	}
}
