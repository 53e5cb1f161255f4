package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/INLOpen/atundo/core"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

// newMockStore returns a store and the *sql.DB it runs on. Statements are
// matched literally.
func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock, core.Executor) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	s, err := NewSQLStore(MySQLDialect(""), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return s, mock, db
}

func TestMySQLDialect_Statements(t *testing.T) {
	d := MySQLDialect("")
	assert.Equal(t, DefaultTableName, d.TableName)
	assert.Equal(t, core.DBTypeMySQL, d.DBType)
	assert.Contains(t, d.SelectForUpdate, "FOR UPDATE")
	assert.Contains(t, d.CreateTable, "UNIQUE KEY `ux_undo_log` (`xid`, `branch_id`)")

	custom := MySQLDialect("seata_undo")
	assert.Contains(t, custom.Insert, "INSERT INTO seata_undo ")

	_, err := DialectFor(core.DBType("oracle"), "")
	assert.True(t, core.IsUnsupportedDBType(err))
}

func TestNewSQLStore_RequiresClassifier(t *testing.T) {
	d := MySQLDialect("")
	d.IsDuplicateKey = nil
	_, err := NewSQLStore(d)
	assert.Error(t, err)

	_, err = NewSQLStore(Dialect{})
	assert.Error(t, err)
}

func TestSQLStore_SelectForUpdate(t *testing.T) {
	s, mock, ex := newMockStore(t)

	rows := sqlmock.NewRows([]string{"branch_id", "xid", "rollback_info", "log_status", "log_created", "log_modified"}).
		AddRow(int64(42), "X1", []byte("payload"), int64(0), fixedNow, fixedNow)
	mock.ExpectQuery(s.Dialect().SelectForUpdate).WithArgs(int64(42), "X1").WillReturnRows(rows)

	records, err := s.SelectForUpdate(context.Background(), ex, 42, "X1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(42), records[0].BranchID)
	assert.Equal(t, "X1", records[0].XID)
	assert.Equal(t, []byte("payload"), records[0].RollbackInfo)
	assert.Equal(t, core.LogStatusNormal, records[0].Status)
	assert.Equal(t, fixedNow, records[0].Created)
}

func TestSQLStore_SelectForUpdate_Empty(t *testing.T) {
	s, mock, ex := newMockStore(t)

	mock.ExpectQuery(s.Dialect().SelectForUpdate).WithArgs(int64(7), "X9").
		WillReturnRows(sqlmock.NewRows([]string{"branch_id", "xid", "rollback_info", "log_status", "log_created", "log_modified"}))

	records, err := s.SelectForUpdate(context.Background(), ex, 7, "X9")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSQLStore_SelectForUpdate_UnknownStatus(t *testing.T) {
	s, mock, ex := newMockStore(t)

	rows := sqlmock.NewRows([]string{"branch_id", "xid", "rollback_info", "log_status", "log_created", "log_modified"}).
		AddRow(int64(42), "X1", []byte("{}"), int64(5), fixedNow, fixedNow)
	mock.ExpectQuery(s.Dialect().SelectForUpdate).WithArgs(int64(42), "X1").WillReturnRows(rows)

	_, err := s.SelectForUpdate(context.Background(), ex, 42, "X1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown undo log status 5")
}

func TestSQLStore_SelectForUpdate_LockWaitError(t *testing.T) {
	s, mock, ex := newMockStore(t)

	lockErr := &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}
	mock.ExpectQuery(s.Dialect().SelectForUpdate).WithArgs(int64(42), "X1").WillReturnError(lockErr)

	_, err := s.SelectForUpdate(context.Background(), ex, 42, "X1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, lockErr))
	assert.False(t, errors.Is(err, core.ErrDuplicateUndoLog))
}

func TestSQLStore_Insert(t *testing.T) {
	s, mock, ex := newMockStore(t)

	mock.ExpectExec(s.Dialect().Insert).
		WithArgs(int64(42), "X1", []byte("{}"), int(core.LogStatusGlobalFinished), fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Insert(context.Background(), ex, 42, "X1", core.TombstoneContent, core.LogStatusGlobalFinished)
	require.NoError(t, err)
}

func TestSQLStore_Insert_DuplicateKey(t *testing.T) {
	s, mock, ex := newMockStore(t)

	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'X1-42' for key 'ux_undo_log'"}
	mock.ExpectExec(s.Dialect().Insert).WithArgs(int64(42), "X1", []byte("{}"), 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(dup)

	err := s.Insert(context.Background(), ex, 42, "X1", core.TombstoneContent, core.LogStatusGlobalFinished)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDuplicateUndoLog))
	assert.True(t, errors.Is(err, dup), "driver error stays in the chain")
}

func TestSQLStore_Insert_OtherError(t *testing.T) {
	s, mock, ex := newMockStore(t)

	mock.ExpectExec(s.Dialect().Insert).WithArgs(int64(42), "X1", []byte("x"), 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table 'undo_log' doesn't exist"})

	err := s.Insert(context.Background(), ex, 42, "X1", []byte("x"), core.LogStatusNormal)
	require.Error(t, err)
	assert.False(t, errors.Is(err, core.ErrDuplicateUndoLog))
}

func TestSQLStore_Delete(t *testing.T) {
	s, mock, ex := newMockStore(t)

	mock.ExpectExec(s.Dialect().Delete).WithArgs(int64(42), "X1").WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.Delete(context.Background(), ex, 42, "X1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLStore_BatchDelete(t *testing.T) {
	s, mock, ex := newMockStore(t)

	query := "DELETE FROM undo_log WHERE branch_id IN (?,?,?) AND xid IN (?,?)"
	mock.ExpectExec(query).WithArgs(int64(1), int64(2), int64(3), "X1", "X2").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.BatchDelete(context.Background(), ex, []int64{1, 2, 3}, []string{"X1", "X2"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.BatchDelete(context.Background(), ex, nil, []string{"X1"})
	require.NoError(t, err)
	assert.Zero(t, n, "empty set issues no statement")
}

func TestSQLStore_DeleteCreatedBefore(t *testing.T) {
	s, mock, ex := newMockStore(t)

	cutoff := fixedNow.Add(-7 * 24 * time.Hour)
	mock.ExpectExec(s.Dialect().DeleteCreatedBefore).WithArgs(cutoff, 500).WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := s.DeleteCreatedBefore(context.Background(), ex, cutoff, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	_, err = s.DeleteCreatedBefore(context.Background(), ex, cutoff, 0)
	assert.Error(t, err)
}
