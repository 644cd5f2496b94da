// Package substr maintains a substring index over song nodes. Every
// contiguous substring of a song's case-folded title, artist name and album
// name is a key; the key's bucket lists the songs that contain it. Queries
// are a single exact key lookup, so a search never scans the library.
//
// The index co-owns every song it lists: each bucket entry holds one
// ownership share in the graph store, released when the song is unindexed.
package substr

import (
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/text/cases"

	"smj-graph/internal/nodegraph"
)

// Index maps folded substrings to the songs containing them.
type Index struct {
	store  *nodegraph.Store
	logger *log.Logger

	mu      sync.RWMutex
	buckets map[string][]nodegraph.ID
	keys    map[nodegraph.ID][]string // one element per bucket entry
}

// Options configures an Index.
type Options struct {
	Logger *log.Logger
}

// New creates an empty index over store. Pass nil for default options.
func New(store *nodegraph.Store, opts *Options) *Index {
	x := &Index{
		store:   store,
		buckets: make(map[string][]nodegraph.ID),
		keys:    make(map[nodegraph.ID][]string),
	}
	if opts != nil {
		x.logger = opts.Logger
	}
	if x.logger == nil {
		x.logger = log.New(io.Discard)
	}
	return x
}

// Fold case-folds s the same way for indexing and querying. A Caser keeps
// state, so one is built per call.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// Substrings returns every distinct contiguous substring of s, cut on rune
// boundaries.
func Substrings(s string) []string {
	runes := []rune(s)
	seen := make(map[string]struct{}, len(runes)*(len(runes)+1)/2)
	var out []string
	for i := range runes {
		for j := i + 1; j <= len(runes); j++ {
			sub := string(runes[i:j])
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			out = append(out, sub)
		}
	}
	return out
}

// Index adds song under every substring of its title, artist and album.
// Each string is expanded independently; calling Index twice adds every
// entry twice, and each entry is one more ownership share.
func (x *Index) Index(song nodegraph.ID) error {
	fields, err := Resolve(x.store, song)
	if err != nil {
		return err
	}
	var keys []string
	for _, text := range []string{fields.Title, fields.Artist, fields.Album} {
		if text == "" {
			continue
		}
		keys = append(keys, Substrings(Fold(text))...)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := x.store.Retain(song, len(keys)); err != nil {
		return err
	}

	x.mu.Lock()
	for _, k := range keys {
		x.buckets[k] = append(x.buckets[k], song)
	}
	x.keys[song] = append(x.keys[song], keys...)
	x.mu.Unlock()

	x.logger.Debug("song indexed", "id", song, "title", fields.Title, "entries", len(keys))
	return nil
}

// Unindex drops every entry for song and releases exactly the shares those
// entries held. Unindexing a song that is not indexed is a no-op.
func (x *Index) Unindex(song nodegraph.ID) error {
	x.mu.Lock()
	keys := x.keys[song]
	delete(x.keys, song)
	for _, k := range keys {
		bucket := x.buckets[k]
		for i, id := range bucket {
			if id == song {
				bucket = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		if len(bucket) == 0 {
			delete(x.buckets, k)
		} else {
			x.buckets[k] = bucket
		}
	}
	x.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}
	return x.store.Release(song, len(keys))
}

// Search folds text and returns the songs whose indexed text contains it,
// each once, in insertion order. The whole query is one key: words are not
// split or ranked.
func (x *Index) Search(text string) []nodegraph.ID {
	key := Fold(text)
	if key == "" {
		return nil
	}
	x.mu.RLock()
	bucket := x.buckets[key]
	out := make([]nodegraph.ID, 0, len(bucket))
	seen := make(map[nodegraph.ID]struct{}, len(bucket))
	for _, id := range bucket {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	x.mu.RUnlock()
	return out
}

// Entries returns how many bucket entries song currently holds.
func (x *Index) Entries(song nodegraph.ID) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.keys[song])
}

// Len returns the number of distinct keys.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.buckets)
}

// Indexed reports whether song has any entries.
func (x *Index) Indexed(song nodegraph.ID) bool {
	return x.Entries(song) > 0
}

// Songs returns every indexed song, ascending.
func (x *Index) Songs() []nodegraph.ID {
	x.mu.RLock()
	ids := make([]nodegraph.ID, 0, len(x.keys))
	for id := range x.keys {
		ids = append(ids, id)
	}
	x.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Fields is the text a song is indexed under.
type Fields struct {
	Title  string
	Artist string
	Album  string
}

// Resolve reads a song's indexed text from the graph. The title falls back
// to the last path segment of the location; the artist comes from the
// grandparent edge; the album is the first named parent that is neither a
// genre nor a collection root.
func Resolve(store *nodegraph.Store, song nodegraph.ID) (Fields, error) {
	var f Fields
	if _, err := store.Kind(song); err != nil {
		return f, err
	}
	if title, ok := store.StringProperty(song, nodegraph.PropName); ok && title != "" {
		f.Title = title
	} else if loc, ok := store.StringProperty(song, nodegraph.PropLocation); ok {
		f.Title = lastSegment(loc)
	}

	if gps, err := store.Grandparents(song); err == nil {
		for _, gp := range gps {
			if name, ok := store.StringProperty(gp, nodegraph.PropName); ok && name != "" {
				f.Artist = name
				break
			}
		}
	}

	if parents, err := store.Parents(song); err == nil {
		for _, p := range parents {
			kind, err := store.Kind(p)
			if err != nil || kind == nodegraph.KindGenre || kind.IsCollectionRoot() {
				continue
			}
			if name, ok := store.StringProperty(p, nodegraph.PropName); ok && name != "" {
				f.Album = name
				break
			}
		}
	}
	return f, nil
}

func lastSegment(loc string) string {
	loc = strings.TrimRight(loc, `/\`)
	if i := strings.LastIndexAny(loc, `/\`); i >= 0 {
		return loc[i+1:]
	}
	return loc
}
