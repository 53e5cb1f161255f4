package store_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/INLOpen/atundo/core"
	"github.com/INLOpen/atundo/internal/testutil"
	"github.com/INLOpen/atundo/store"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMySQL(t *testing.T) *sql.DB {
	t.Helper()
	cfg, err := mysql.ParseDSN(testutil.RequireMySQL(t))
	require.NoError(t, err)
	cfg.ParseTime = true
	connector, err := mysql.NewConnector(cfg)
	require.NoError(t, err)
	db := sql.OpenDB(connector)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())
	return db
}

func TestSQLStore_MySQL_TombstoneBlocksLateFlush(t *testing.T) {
	db := openMySQL(t)
	ctx := context.Background()
	table := fmt.Sprintf("undo_log_it_%d", time.Now().UnixNano())
	dialect := store.MySQLDialect(table)
	testutil.Exec(t, db, dialect.CreateTable)
	t.Cleanup(func() { db.Exec("DROP TABLE IF EXISTS `" + table + "`") })

	s, err := store.NewSQLStore(dialect)
	require.NoError(t, err)
	xid := uuid.NewString()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	records, err := s.SelectForUpdate(ctx, tx, 42, xid)
	require.NoError(t, err)
	require.Empty(t, records)
	require.NoError(t, s.Insert(ctx, tx, 42, xid, core.TombstoneContent, core.LogStatusGlobalFinished))
	require.NoError(t, tx.Commit())

	err = s.Insert(ctx, db, 42, xid, []byte("late"), core.LogStatusNormal)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDuplicateUndoLog))

	n, err := s.BatchDelete(ctx, db, []int64{42}, []string{xid})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
