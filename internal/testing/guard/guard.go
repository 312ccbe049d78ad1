package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("OPENSHELF_TEST_MODE") == "" {
			_ = os.Setenv("OPENSHELF_TEST_MODE", "1")
		}
	})
}
