// Package datastore holds the storage backends the CLI can run against.
// The graph backend is the default; the SQLite and Bleve backends mirror the
// same tracks into a table or a document index.
package datastore

import (
	"cmp"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"smj-graph/internal/docfile"
	"smj-graph/internal/nodegraph"
	"smj-graph/internal/substr"
)

// Media represents a single media file and its metadata.
type Media struct {
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Album       string    `json:"album"`
	TrackNumber int       `json:"tracknumber"`
	DiscNumber  int       `json:"discnumber"`
	Year        int       `json:"year,omitempty"`
	Genre       string    `json:"genre"`
	Path        string    `json:"path"`
	Size        int64     `json:"-"`
	ModTime     time.Time `json:"-"`
}

// Datastore is the interface that any backend must implement.
type Datastore interface {
	// Initialize prepares the datastore (e.g., create tables, open index).
	Initialize(path string) error

	// Close cleans up resources.
	Close() error

	// IndexMediaBatch adds or updates a batch of media entries.
	IndexMediaBatch(batch []*Media) error

	// Count returns the total number of media entries.
	Count() (int, error)

	// Search returns media entries matching the query string.
	// An empty query returns every entry.
	Search(query string) ([]Media, error)

	// RemoveStaleEntries removes entries whose file no longer exists on disk
	// and returns how many were removed.
	RemoveStaleEntries() (int, error)

	// GetAllPaths returns the file path of every entry.
	GetAllPaths() ([]string, error)

	// Clear removes all data from the store.
	Clear() error
}

// Backend names.
const (
	BackendGraph  = "graph"
	BackendSQLite = "sqlite"
	BackendBleve  = "bleve"
)

var extensions = map[string]string{
	BackendGraph:  ".smjg",
	BackendSQLite: ".sqlite",
	BackendBleve:  ".bleve",
}

// ErrUnknownBackend is returned for a backend name not listed above.
var ErrUnknownBackend = errors.New("datastore: unknown backend")

// Options configures the backends built by New.
type Options struct {
	Logger *log.Logger

	// Dispatcher and Load apply to the graph backend only.
	Dispatcher *nodegraph.Dispatcher
	Load       *docfile.LoadOptions
}

// New returns an uninitialized backend.
func New(backend string, opts *Options) (Datastore, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	switch backend {
	case BackendGraph, "":
		return &GraphStore{logger: o.Logger, dispatcher: o.Dispatcher, load: o.Load}, nil
	case BackendSQLite:
		return &SQLiteStore{logger: o.Logger}, nil
	case BackendBleve:
		return &BleveStore{logger: o.Logger}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
}

// PathFor derives a backend's storage path from the database base path by
// swapping any known backend extension for the backend's own.
func PathFor(backend, database string) string {
	if backend == "" {
		backend = BackendGraph
	}
	ext := filepath.Ext(database)
	for _, known := range extensions {
		if ext == known {
			database = strings.TrimSuffix(database, ext)
			break
		}
	}
	return database + extensions[backend]
}

// Copy mirrors every entry of src into dst in batches and returns how many
// entries were written.
func Copy(dst, src Datastore, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	all, err := src.Search("")
	if err != nil {
		return 0, err
	}
	for i := 0; i < len(all); i += batchSize {
		end := min(i+batchSize, len(all))
		batch := make([]*Media, 0, end-i)
		for j := i; j < end; j++ {
			batch = append(batch, &all[j])
		}
		if err := dst.IndexMediaBatch(batch); err != nil {
			return i, err
		}
	}
	return len(all), nil
}

// Query is a parsed SMJ7-style query. Like-type terms are ORed and
// unlike-type groups are ANDed; a plain term matches artist, album or title.
type Query struct {
	Genres  []string
	Artists []string
	Albums  []string
	Titles  []string
	Any     []string
}

// ParseQuery splits input on commas and files each term by its prefix:
// ! genre, @ artist, # album, $ title, none for any field.
func ParseQuery(input string) Query {
	var q Query
	for _, word := range strings.Split(input, ",") {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		dst := &q.Any
		switch word[0] {
		case '!':
			dst = &q.Genres
		case '@':
			dst = &q.Artists
		case '#':
			dst = &q.Albums
		case '$':
			dst = &q.Titles
		}
		if dst != &q.Any {
			word = strings.TrimSpace(word[1:])
		}
		if word != "" {
			*dst = append(*dst, word)
		}
	}
	return q
}

// Empty reports whether the query has no terms.
func (q Query) Empty() bool {
	return len(q.Genres)+len(q.Artists)+len(q.Albums)+len(q.Titles)+len(q.Any) == 0
}

// Matches applies the query to m with case-insensitive substring matching.
func (q Query) Matches(m Media) bool {
	genre, artist, album, title := substr.Fold(m.Genre), substr.Fold(m.Artist), substr.Fold(m.Album), substr.Fold(m.Title)
	anyOf := func(terms []string, fields ...string) bool {
		if len(terms) == 0 {
			return true
		}
		for _, t := range terms {
			t = substr.Fold(t)
			for _, f := range fields {
				if strings.Contains(f, t) {
					return true
				}
			}
		}
		return false
	}
	return anyOf(q.Genres, genre) &&
		anyOf(q.Artists, artist) &&
		anyOf(q.Albums, album) &&
		anyOf(q.Titles, title) &&
		anyOf(q.Any, artist, album, title)
}

// SortMedia orders results by artist, album, disc and track.
func SortMedia(ms []Media) {
	slices.SortFunc(ms, func(a, b Media) int {
		return cmp.Or(
			cmp.Compare(a.Artist, b.Artist),
			cmp.Compare(a.Album, b.Album),
			cmp.Compare(a.DiscNumber, b.DiscNumber),
			cmp.Compare(a.TrackNumber, b.TrackNumber),
			cmp.Compare(a.Path, b.Path),
		)
	})
}
