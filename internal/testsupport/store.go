package testsupport

import (
	"path/filepath"
	"testing"

	"subbatch/internal/history"
)

// MustOpenHistory opens a history store backed by a temp database and
// registers cleanup.
func MustOpenHistory(t testing.TB) *history.Store {
	t.Helper()

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
