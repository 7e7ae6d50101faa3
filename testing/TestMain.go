package testing

import (
	"os"
	"path/filepath"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		if os.Getenv("VAT_EXPORT_DIR") == "" {
			_ = os.Setenv("VAT_EXPORT_DIR", filepath.Join(os.TempDir(), "odyssey-vat-test"))
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
