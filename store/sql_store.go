package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/INLOpen/atundo/core"
)

// SQLStore implements Store with database/sql statements from a Dialect.
type SQLStore struct {
	dialect Dialect
	now     func() time.Time
	logger  *slog.Logger
}

var _ Store = (*SQLStore)(nil)

// Option configures a SQLStore.
type Option func(*SQLStore)

// WithClock overrides the source of log_created/log_modified timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SQLStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSQLStore creates a store for the given dialect.
func NewSQLStore(dialect Dialect, opts ...Option) (*SQLStore, error) {
	if err := dialect.validate(); err != nil {
		return nil, err
	}
	s := &SQLStore{
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "UndoLogStore", "table", dialect.TableName)
	return s, nil
}

// Dialect returns the statements the store was built with.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) SelectForUpdate(ctx context.Context, ex core.Executor, branchID int64, xid string) (records []*Record, err error) {
	rows, err := ex.QueryContext(ctx, s.dialect.SelectForUpdate, branchID, xid)
	if err != nil {
		return nil, fmt.Errorf("select undo log for update: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close undo log result set", "xid", xid, "branch_id", branchID, "error", closeErr)
		}
	}()

	for rows.Next() {
		var (
			rec      Record
			status   int64
			created  sql.NullTime
			modified sql.NullTime
		)
		if err := rows.Scan(&rec.BranchID, &rec.XID, &rec.RollbackInfo, &status, &created, &modified); err != nil {
			return nil, fmt.Errorf("scan undo log row: %w", err)
		}
		if rec.Status, err = core.ParseLogStatus(status); err != nil {
			return nil, fmt.Errorf("undo log %d/%s: %w", rec.BranchID, rec.XID, err)
		}
		rec.Created = created.Time
		rec.Modified = modified.Time
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate undo log rows: %w", err)
	}
	return records, nil
}

func (s *SQLStore) Insert(ctx context.Context, ex core.Executor, branchID int64, xid string, rollbackInfo []byte, status core.LogStatus) error {
	now := s.now()
	_, err := ex.ExecContext(ctx, s.dialect.Insert, branchID, xid, rollbackInfo, int(status), now, now)
	if err != nil {
		if s.dialect.IsDuplicateKey(err) {
			return fmt.Errorf("%w: branch %d xid %s: %w", core.ErrDuplicateUndoLog, branchID, xid, err)
		}
		return fmt.Errorf("insert undo log with status %s: %w", status, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, ex core.Executor, branchID int64, xid string) (int64, error) {
	res, err := ex.ExecContext(ctx, s.dialect.Delete, branchID, xid)
	if err != nil {
		return 0, fmt.Errorf("delete undo log: %w", err)
	}
	return rowsAffected(res), nil
}

func (s *SQLStore) BatchDelete(ctx context.Context, ex core.Executor, branchIDs []int64, xids []string) (int64, error) {
	if len(branchIDs) == 0 || len(xids) == 0 {
		return 0, nil
	}
	if s.dialect.BatchDelete == "" {
		return 0, fmt.Errorf("dialect %s does not support batch delete", s.dialect.DBType)
	}
	query := fmt.Sprintf(s.dialect.BatchDelete, placeholders(len(branchIDs)), placeholders(len(xids)))
	args := make([]any, 0, len(branchIDs)+len(xids))
	for _, id := range branchIDs {
		args = append(args, id)
	}
	for _, xid := range xids {
		args = append(args, xid)
	}
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("batch delete undo logs: %w", err)
	}
	return rowsAffected(res), nil
}

func (s *SQLStore) DeleteCreatedBefore(ctx context.Context, ex core.Executor, cutoff time.Time, limit int) (int64, error) {
	if s.dialect.DeleteCreatedBefore == "" {
		return 0, fmt.Errorf("dialect %s does not support retention delete", s.dialect.DBType)
	}
	if limit <= 0 {
		return 0, fmt.Errorf("retention delete limit must be positive, got %d", limit)
	}
	res, err := ex.ExecContext(ctx, s.dialect.DeleteCreatedBefore, cutoff.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("delete undo logs created before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return rowsAffected(res), nil
}

// rowsAffected returns -1 when the driver cannot report affected rows.
func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return -1
	}
	return n
}
