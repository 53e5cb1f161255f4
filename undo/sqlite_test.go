package undo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/INLOpen/atundo/core"
	"github.com/INLOpen/atundo/datasource"
	"github.com/INLOpen/atundo/executor"
	"github.com/INLOpen/atundo/internal/testutil"
	"github.com/INLOpen/atundo/parser"
	"github.com/INLOpen/atundo/store"
	"github.com/INLOpen/atundo/tablemeta"
	"github.com/INLOpen/atundo/undo"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// SQLite accepts the backtick-quoted statements the MySQL inverse executors
// build, so the connections are declared MySQL. Data validation stays off
// because SQLite has no FOR UPDATE.
func newSQLiteManager(t *testing.T) (*undo.Manager, *datasource.SQLSource) {
	t.Helper()
	db := testutil.OpenSQLite(t)
	dialect := testutil.SQLiteDialect("")
	testutil.Exec(t, db,
		dialect.CreateTable,
		"CREATE TABLE account (id INTEGER PRIMARY KEY, val TEXT NOT NULL)",
		"INSERT INTO account (id, val) VALUES (1, 'a')",
	)

	st, err := store.NewSQLStore(dialect)
	require.NoError(t, err)
	loader := tablemeta.LoaderFunc(func(_ context.Context, _ core.Executor, tableName string) (*core.TableMeta, error) {
		return &core.TableMeta{
			TableName:   tableName,
			Columns:     []core.ColumnMeta{{Name: "id", DataType: "integer"}, {Name: "val", DataType: "text"}},
			PrimaryKeys: []string{"id"},
		}, nil
	})

	source := datasource.NewSQLSource(db, core.DBTypeMySQL, nil)
	m, err := undo.NewManager(source, undo.Options{
		Store:     st,
		Codec:     parser.NewDefaultCodec(),
		TableMeta: tablemeta.NewCache(loader, tablemeta.Options{ResourceID: "main"}),
		Executors: executor.NewDefaultFactory(false, nil),
	})
	require.NoError(t, err)
	return m, source
}

// updateAccount runs the business write and flushes its undo log in one
// local transaction, the way a branch reaches prepare.
func updateAccount(t *testing.T, m *undo.Manager, source *datasource.SQLSource, xid string, branchID int64) {
	t.Helper()
	ctx := context.Background()
	sess, err := source.Begin(ctx)
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.ExecContext(ctx, "UPDATE account SET val = 'b' WHERE id = 1")
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx, undo.BranchContext{
		DBType:   core.DBTypeMySQL,
		XID:      xid,
		BranchID: branchID,
		UndoItems: []*core.SQLUndoLog{{
			SQLType:   core.SQLTypeUpdate,
			TableName: "account",
			BeforeImage: &core.TableRecords{TableName: "account", Rows: []*core.Row{
				{Fields: []*core.Field{core.NewPrimaryKeyField("id", 1), core.NewField("val", "a")}},
			}},
			AfterImage: &core.TableRecords{TableName: "account", Rows: []*core.Row{
				{Fields: []*core.Field{core.NewPrimaryKeyField("id", 1), core.NewField("val", "b")}},
			}},
		}},
		Conn: sess,
	}))
	require.NoError(t, sess.Commit())
}

func accountVal(t *testing.T, db *sql.DB) string {
	t.Helper()
	var val string
	require.NoError(t, db.QueryRow("SELECT val FROM account WHERE id = 1").Scan(&val))
	return val
}

func undoLogStatuses(t *testing.T, db *sql.DB, xid string) []int {
	t.Helper()
	rows, err := db.Query("SELECT log_status FROM undo_log WHERE xid = ?", xid)
	require.NoError(t, err)
	defer rows.Close()
	var out []int
	for rows.Next() {
		var s int
		require.NoError(t, rows.Scan(&s))
		out = append(out, s)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestManager_SQLite_Scenario(t *testing.T) {
	m, source := newSQLiteManager(t)
	db := source.DB()
	ctx := context.Background()

	updateAccount(t, m, source, "X1", 42)
	assert.Equal(t, "b", accountVal(t, db))
	assert.Equal(t, []int{int(core.LogStatusNormal)}, undoLogStatuses(t, db, "X1"))

	require.NoError(t, m.Undo(ctx, "X1", 42))
	assert.Equal(t, "a", accountVal(t, db))
	assert.Empty(t, undoLogStatuses(t, db, "X1"))

	// A later write proves the second undo applies nothing.
	_, err := db.Exec("UPDATE account SET val = 'c' WHERE id = 1")
	require.NoError(t, err)
	require.NoError(t, m.Undo(ctx, "X1", 42))
	assert.Equal(t, "c", accountVal(t, db))
	assert.Equal(t, []int{int(core.LogStatusGlobalFinished)}, undoLogStatuses(t, db, "X1"))
}

func TestManager_SQLite_LateFlushHitsTombstone(t *testing.T) {
	m, source := newSQLiteManager(t)
	ctx := context.Background()
	xid := uuid.NewString()

	require.NoError(t, m.Undo(ctx, xid, 9))

	sess, err := source.Begin(ctx)
	require.NoError(t, err)
	defer sess.Close()
	err = m.Flush(ctx, undo.BranchContext{
		DBType:   core.DBTypeMySQL,
		XID:      xid,
		BranchID: 9,
		UndoItems: []*core.SQLUndoLog{{
			SQLType:   core.SQLTypeInsert,
			TableName: "account",
			AfterImage: &core.TableRecords{TableName: "account", Rows: []*core.Row{
				{Fields: []*core.Field{core.NewPrimaryKeyField("id", 2), core.NewField("val", "z")}},
			}},
		}},
		Conn: sess,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDuplicateUndoLog))
}

func TestManager_SQLite_ConcurrentUndo(t *testing.T) {
	m, source := newSQLiteManager(t)
	db := source.DB()
	xid := uuid.NewString()
	updateAccount(t, m, source, xid, 5)

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			return m.Undo(context.Background(), xid, 5)
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, "a", accountVal(t, db))
	assert.Equal(t, []int{int(core.LogStatusGlobalFinished)}, undoLogStatuses(t, db, xid))
}
