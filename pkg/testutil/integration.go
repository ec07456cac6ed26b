package testutil

import (
	"os"
	"testing"
)

// MySQLDSNEnv names the variable integration tests read the warehouse DSN from.
const MySQLDSNEnv = "GRIDCAST_TEST_MYSQL_DSN"

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// MySQLDSN returns the DSN of a disposable MariaDB, skipping the test when
// none is configured.
func MySQLDSN(t *testing.T) string {
	t.Helper()
	IntegrationTest(t)
	dsn := os.Getenv(MySQLDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", MySQLDSNEnv)
	}
	return dsn
}
