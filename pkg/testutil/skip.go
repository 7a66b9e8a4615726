// Package testutil holds helpers shared by the backend test suites.
package testutil

import (
	"os"
	"testing"
)

// IntegrationEnv must be "1" for container backed backend tests to run.
const IntegrationEnv = "INTEGRATION_TESTS"

// SkipIfShort skips t under -short.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping backend integration test in short mode")
	}
}

// RequireIntegration skips t unless IntegrationEnv is set. These tests start
// Redis or PostgreSQL containers and need a reachable Docker daemon.
func RequireIntegration(t *testing.T) {
	t.Helper()
	SkipIfShort(t)
	if os.Getenv(IntegrationEnv) != "1" {
		t.Skipf("skipping backend integration test (set %s=1 to run)", IntegrationEnv)
	}
}
