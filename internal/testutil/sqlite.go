package testutil

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/INLOpen/atundo/core"
	"github.com/INLOpen/atundo/store"
	"github.com/mattn/go-sqlite3"
)

// OpenSQLite opens a file-backed SQLite database under t.TempDir().
// Transactions begin IMMEDIATE, so a second writer blocks until the first
// commits, which stands in for MySQL's row lock on the undo log row.
func OpenSQLite(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atundo.db")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=10000", path))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SQLiteDialect returns undo log statements SQLite accepts. The table layout
// matches the MySQL DDL, including the (xid, branch_id) unique key.
func SQLiteDialect(table string) store.Dialect {
	if table == "" {
		table = store.DefaultTableName
	}
	return store.Dialect{
		DBType:    core.DBTypeSQLite,
		TableName: table,
		Insert: "INSERT INTO " + table +
			" (branch_id, xid, rollback_info, log_status, log_created, log_modified) VALUES (?, ?, ?, ?, ?, ?)",
		Delete: "DELETE FROM " + table + " WHERE branch_id = ? AND xid = ?",
		SelectForUpdate: "SELECT branch_id, xid, rollback_info, log_status, log_created, log_modified FROM " + table +
			" WHERE branch_id = ? AND xid = ?",
		BatchDelete: "DELETE FROM " + table + " WHERE branch_id IN (%s) AND xid IN (%s)",
		DeleteCreatedBefore: "DELETE FROM " + table + " WHERE rowid IN (SELECT rowid FROM " + table +
			" WHERE log_created <= ? LIMIT ?)",
		CreateTable: "CREATE TABLE IF NOT EXISTS " + table + " (" +
			"id INTEGER PRIMARY KEY AUTOINCREMENT, " +
			"branch_id INTEGER NOT NULL, " +
			"xid TEXT NOT NULL, " +
			"rollback_info BLOB NOT NULL, " +
			"log_status INTEGER NOT NULL, " +
			"log_created DATETIME NOT NULL, " +
			"log_modified DATETIME NOT NULL, " +
			"UNIQUE (xid, branch_id))",
		IsDuplicateKey: IsSQLiteDuplicateKey,
	}
}

// IsSQLiteDuplicateKey reports a UNIQUE or PRIMARY KEY constraint violation.
func IsSQLiteDuplicateKey(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// Exec runs each statement on db and fails the test on the first error.
func Exec(t *testing.T, db *sql.DB, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
}
