package testutil

import (
	"os"
	"strconv"
	"strings"
	"testing"
)

// MySQLDSNEnv names the variable holding a DSN for tests against a live MySQL.
const MySQLDSNEnv = "ATUNDO_TEST_MYSQL_DSN"

// MySQLDSN returns the DSN from MySQLDSNEnv, or "" when unset.
func MySQLDSN() string {
	return strings.TrimSpace(os.Getenv(MySQLDSNEnv))
}

// RequireMySQL skips the test unless a MySQL DSN is configured.
func RequireMySQL(t *testing.T) string {
	t.Helper()
	dsn := MySQLDSN()
	if dsn == "" {
		t.Skipf("%s not set; skipping MySQL integration test", MySQLDSNEnv)
	}
	return dsn
}

// StressEnabled reports whether ATUNDO_TEST_STRESS is set to a true value.
// Default is false.
func StressEnabled() bool {
	v := strings.TrimSpace(os.Getenv("ATUNDO_TEST_STRESS"))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
