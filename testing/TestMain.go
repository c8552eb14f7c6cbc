// Package testing switches the process into test mode when imported by a
// test binary, so runtime entry points skip network side effects.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("FOREMAN_TEST_MODE", "1")
		if os.Getenv("TOKEN_SECRET") == "" {
			_ = os.Setenv("TOKEN_SECRET", "test-token-secret")
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain can be delegated to by packages that need test mode before flags
// are parsed.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
