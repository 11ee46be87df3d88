package testutil

import (
	"testing"

	"github.com/qs3c/anal_graph_server/internal/graphstore/badgerstore"
)

// SetupGraphStore 创建内存图存储
func SetupGraphStore(t *testing.T) *badgerstore.Store {
	t.Helper()

	store, err := badgerstore.OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open graph store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Logf("Warning: Failed to close graph store: %v", err)
		}
	})

	return store
}
