package core

import "strings"

// DBType names the database product behind a connection, as reported by the
// caller's connection wrapper.
type DBType string

const (
	DBTypeMySQL  DBType = "mysql"
	DBTypeSQLite DBType = "sqlite3"
)

// SupportedDBType is the only dialect the undo log manager accepts.
const SupportedDBType = DBTypeMySQL

// ParseDBType normalizes a configured dialect name.
func ParseDBType(s string) DBType {
	return DBType(strings.ToLower(strings.TrimSpace(s)))
}

// AssertSupportedDBType fails closed for every dialect other than SupportedDBType.
func AssertSupportedDBType(dbType DBType) error {
	if dbType != SupportedDBType {
		return &UnsupportedDBTypeError{DBType: dbType}
	}
	return nil
}
