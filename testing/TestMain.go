// Package testing pins the environment every package test runs under: test
// mode on, the in-memory provider and the logging transport, so no test
// reaches an external directory or mail relay by accident.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

var testDefaults = map[string]string{
	"PROVIDER_MODE":    "memory",
	"NOTIFY_TRANSPORT": "log",
	"LOG_LEVEL":        "warn",
}

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		for key, value := range testDefaults {
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
