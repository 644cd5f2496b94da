//go:build !cgo

package datastore

import (
	"errors"

	"github.com/charmbracelet/log"
)

// ErrSQLiteUnavailable is returned by every SQLiteStore method in builds
// without cgo.
var ErrSQLiteUnavailable = errors.New("datastore: SQLite backend is not available in non-cgo builds; use the graph or bleve backend or rebuild with CGO_ENABLED=1")

type SQLiteStore struct {
	logger *log.Logger
}

func (s *SQLiteStore) Initialize(path string) error { return ErrSQLiteUnavailable }

func (s *SQLiteStore) Close() error { return nil }

func (s *SQLiteStore) Clear() error { return ErrSQLiteUnavailable }

func (s *SQLiteStore) IndexMediaBatch(batch []*Media) error { return ErrSQLiteUnavailable }

func (s *SQLiteStore) Count() (int, error) { return 0, ErrSQLiteUnavailable }

func (s *SQLiteStore) GetAllPaths() ([]string, error) { return nil, ErrSQLiteUnavailable }

func (s *SQLiteStore) RemoveStaleEntries() (int, error) { return 0, ErrSQLiteUnavailable }

func (s *SQLiteStore) Search(input string) ([]Media, error) { return nil, ErrSQLiteUnavailable }
