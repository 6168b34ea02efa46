package testsupport

import (
	"path/filepath"
	"testing"

	"ramp/internal/config"
	"ramp/internal/queue"
)

// MustOpenStore opens a job store under the test's temp directory and closes
// it on cleanup.
func MustOpenStore(t testing.TB) *queue.Store {
	t.Helper()
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

// MustOpenStoreWithConfig opens the job store at the config's data directory.
func MustOpenStoreWithConfig(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}
