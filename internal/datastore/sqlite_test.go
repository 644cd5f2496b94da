//go:build cgo

package datastore_test

import (
	"path/filepath"
	"testing"

	"smj-graph/internal/datastore"
)

func TestSQLiteStore(t *testing.T) {
	store, err := datastore.New(datastore.BackendSQLite, quiet)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Initialize(filepath.Join(t.TempDir(), "lib.sqlite")); err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	exercise(t, store, fixtureMedia(t))
}
