package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/INLOpen/atundo/core"
	"github.com/go-sql-driver/mysql"
)

// DefaultTableName is the undo log table name used across dialects.
const DefaultTableName = "undo_log"

// mysqlErDupEntry is MySQL's ER_DUP_ENTRY.
const mysqlErDupEntry = 1062

// Dialect holds the statements of one database product for one undo log table.
// Statements are plain text with '?' placeholders; IN lists are expanded per call.
type Dialect struct {
	DBType    core.DBType
	TableName string

	Insert          string
	Delete          string
	SelectForUpdate string
	// BatchDelete takes two %s verbs: the branch_id and xid placeholder lists.
	BatchDelete string
	// DeleteCreatedBefore binds (cutoff, limit).
	DeleteCreatedBefore string
	// CreateTable is the DDL for the undo log table.
	CreateTable string

	// IsDuplicateKey classifies a driver error as a unique-key violation.
	IsDuplicateKey func(error) bool
}

// MySQLDialect returns the statements for MySQL. An empty table selects DefaultTableName.
func MySQLDialect(table string) Dialect {
	if table == "" {
		table = DefaultTableName
	}
	return Dialect{
		DBType:    core.DBTypeMySQL,
		TableName: table,
		Insert: "INSERT INTO " + table +
			" (branch_id, xid, rollback_info, log_status, log_created, log_modified) VALUES (?, ?, ?, ?, ?, ?)",
		Delete: "DELETE FROM " + table + " WHERE branch_id = ? AND xid = ?",
		SelectForUpdate: "SELECT branch_id, xid, rollback_info, log_status, log_created, log_modified FROM " + table +
			" WHERE branch_id = ? AND xid = ? FOR UPDATE",
		BatchDelete:         "DELETE FROM " + table + " WHERE branch_id IN (%s) AND xid IN (%s)",
		DeleteCreatedBefore: "DELETE FROM " + table + " WHERE log_created <= ? LIMIT ?",
		CreateTable: "CREATE TABLE IF NOT EXISTS `" + table + "` (\n" +
			"  `id` BIGINT NOT NULL AUTO_INCREMENT,\n" +
			"  `branch_id` BIGINT NOT NULL,\n" +
			"  `xid` VARCHAR(100) NOT NULL,\n" +
			"  `rollback_info` LONGBLOB NOT NULL,\n" +
			"  `log_status` INT NOT NULL,\n" +
			"  `log_created` DATETIME(6) NOT NULL,\n" +
			"  `log_modified` DATETIME(6) NOT NULL,\n" +
			"  PRIMARY KEY (`id`),\n" +
			"  UNIQUE KEY `ux_undo_log` (`xid`, `branch_id`),\n" +
			"  KEY `ix_log_created` (`log_created`)\n" +
			") ENGINE = InnoDB DEFAULT CHARSET = utf8mb4",
		IsDuplicateKey: isMySQLDuplicateKey,
	}
}

// DialectFor returns the built-in dialect for dbType.
func DialectFor(dbType core.DBType, table string) (Dialect, error) {
	switch dbType {
	case core.DBTypeMySQL:
		return MySQLDialect(table), nil
	default:
		return Dialect{}, &core.UnsupportedDBTypeError{DBType: dbType}
	}
}

func isMySQLDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErDupEntry
}

func (d Dialect) validate() error {
	switch {
	case d.Insert == "", d.Delete == "", d.SelectForUpdate == "":
		return fmt.Errorf("dialect %s: insert, delete and select statements are required", d.DBType)
	case d.IsDuplicateKey == nil:
		return fmt.Errorf("dialect %s: duplicate key classifier is required", d.DBType)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
