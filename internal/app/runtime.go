package app

import (
	"os"
	"sync/atomic"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether binaries should skip connecting to Postgres and Redis.
// The flag is read from ODYSSEY_TEST_MODE on first use.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	RefreshTestMode()
	return *testMode.Load()
}

// RefreshTestMode re-reads the flag after environment changes.
func RefreshTestMode() {
	on := os.Getenv(testModeEnv) == "1"
	testMode.Store(&on)
}
