package memory_test

import (
	"testing"

	"github.com/nickelsh1ts/streamarr/internal/platform/store"
	_ "github.com/nickelsh1ts/streamarr/internal/platform/store/memory"
	"github.com/nickelsh1ts/streamarr/internal/platform/store/testutil"
)

func TestMemoryDriver(t *testing.T) {
	testutil.RunDriverTests(t, "memory", &store.DriverConfig{Driver: "memory"})
}
