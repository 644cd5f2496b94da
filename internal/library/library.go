// Package library is the music library built on the node graph. It keeps the
// name lookup tables that map artists, albums and genres to nodes, places
// every song under its album, genre and artist, and keeps the substring
// index in step with the graph.
//
// Ownership layout:
//
//	root ──owns──> artists, genres, all-* collections
//	artist ──owns──> albums
//	album, genre ──own──> songs
//	artist ··grandparent··> songs
//	all-* ──lists──> (no ownership)
package library

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"smj-graph/internal/nodegraph"
	"smj-graph/internal/substr"
)

// Sentinel errors.
var (
	ErrNotFound = nodegraph.ErrNotFound
	ErrNotReady = errors.New("library: still loading")
)

// Track is the metadata of one audio file.
type Track struct {
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Album       string    `json:"album"`
	Genre       string    `json:"genre"`
	TrackNumber int       `json:"tracknumber"`
	DiscNumber  int       `json:"discnumber"`
	Year        int       `json:"year,omitempty"`
	Path        string    `json:"path"`
	Size        int64     `json:"-"`
	ModTime     time.Time `json:"-"`
}

// Options configures a Library.
type Options struct {
	Dispatcher *nodegraph.Dispatcher
	Logger     *log.Logger
}

type albumKey struct {
	artist nodegraph.ID
	name   string
}

// entry is the reverse of one lookup table row.
type entry struct {
	kind  nodegraph.Kind
	name  string // artist, genre or song location
	album albumKey
}

// Library is safe for concurrent use. Mutations are serialized by the
// library; reads go straight to the graph and index.
type Library struct {
	store  *nodegraph.Store
	index  *substr.Index
	logger *log.Logger

	mu          sync.Mutex
	root        nodegraph.ID
	collections map[nodegraph.Kind]nodegraph.ID
	artists     map[string]nodegraph.ID
	genres      map[string]nodegraph.ID
	albums      map[albumKey]nodegraph.ID
	songs       map[string]nodegraph.ID         // by location
	aliases     map[nodegraph.ID][]nodegraph.ID // canonical song -> aliases
	names       map[nodegraph.ID]entry

	loaded chan struct{}
}

var collectionKinds = []nodegraph.Kind{
	nodegraph.KindAllGenres,
	nodegraph.KindAllArtists,
	nodegraph.KindAllAlbums,
	nodegraph.KindAllSongs,
}

func newLibrary(opts *Options) *Library {
	l := &Library{
		collections: make(map[nodegraph.Kind]nodegraph.ID),
		artists:     make(map[string]nodegraph.ID),
		genres:      make(map[string]nodegraph.ID),
		albums:      make(map[albumKey]nodegraph.ID),
		songs:       make(map[string]nodegraph.ID),
		aliases:     make(map[nodegraph.ID][]nodegraph.ID),
		names:       make(map[nodegraph.ID]entry),
		loaded:      make(chan struct{}),
	}
	storeOpts := &nodegraph.Options{}
	if opts != nil {
		l.logger = opts.Logger
		storeOpts.Dispatcher = opts.Dispatcher
	}
	if l.logger == nil {
		l.logger = log.New(io.Discard)
	}
	storeOpts.Logger = l.logger.WithPrefix("graph")
	l.store = nodegraph.New(storeOpts)
	l.index = substr.New(l.store, &substr.Options{Logger: l.logger.WithPrefix("index")})
	return l
}

// New creates an empty library.
func New(opts *Options) *Library {
	l := newLibrary(opts)
	l.mu.Lock()
	l.ensureRoots()
	l.mu.Unlock()
	close(l.loaded)
	return l
}

// ensureRoots creates the root and any missing collection. The library keeps
// the root's creation share for its whole life.
func (l *Library) ensureRoots() {
	if l.root == 0 {
		l.root = l.store.Create(nodegraph.KindRoot)
	}
	for _, k := range collectionKinds {
		if _, ok := l.collections[k]; ok {
			continue
		}
		id := l.store.Create(k)
		l.store.AddChild(l.root, id)
		l.store.Release(id, 1)
		l.collections[k] = id
	}
}

// Store exposes the underlying graph.
func (l *Library) Store() *nodegraph.Store { return l.store }

// Index exposes the substring index.
func (l *Library) Index() *substr.Index { return l.index }

// Root returns the library root node.
func (l *Library) Root() nodegraph.ID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root
}

// Collection returns the all-* node of kind.
func (l *Library) Collection(kind nodegraph.Kind) (nodegraph.ID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.collections[kind]
	return id, ok
}

func (l *Library) ready() error {
	select {
	case <-l.loaded:
		return nil
	default:
		return ErrNotReady
	}
}

// link makes child a new member of parent and of a collection, then hands
// the creation share over to parent.
func (l *Library) link(parent, collection, child nodegraph.ID) error {
	defer l.store.Release(child, 1)
	if err := l.store.AddChild(parent, child); err != nil {
		return err
	}
	return l.store.AddChild(collection, child)
}

func named(name string) map[nodegraph.PropKey]nodegraph.Value {
	return map[nodegraph.PropKey]nodegraph.Value{nodegraph.PropName: nodegraph.StringValue(name)}
}

func (l *Library) artist(name string) (nodegraph.ID, error) {
	if id, ok := l.artists[name]; ok {
		return id, nil
	}
	id := l.store.CreateWith(nodegraph.KindArtist, named(name))
	if err := l.link(l.root, l.collections[nodegraph.KindAllArtists], id); err != nil {
		return 0, err
	}
	l.artists[name] = id
	l.names[id] = entry{kind: nodegraph.KindArtist, name: name}
	l.logger.Debug("artist created", "id", id, "name", name)
	return id, nil
}

func (l *Library) genre(name string) (nodegraph.ID, error) {
	if id, ok := l.genres[name]; ok {
		return id, nil
	}
	id := l.store.CreateWith(nodegraph.KindGenre, named(name))
	if err := l.link(l.root, l.collections[nodegraph.KindAllGenres], id); err != nil {
		return 0, err
	}
	l.genres[name] = id
	l.names[id] = entry{kind: nodegraph.KindGenre, name: name}
	return id, nil
}

func (l *Library) album(artist nodegraph.ID, name string) (nodegraph.ID, error) {
	key := albumKey{artist, name}
	if id, ok := l.albums[key]; ok {
		return id, nil
	}
	id := l.store.CreateWith(nodegraph.KindAlbum, named(name))
	if err := l.link(artist, l.collections[nodegraph.KindAllAlbums], id); err != nil {
		return 0, err
	}
	l.albums[key] = id
	l.names[id] = entry{kind: nodegraph.KindAlbum, album: key}
	l.logger.Debug("album created", "id", id, "name", name, "artist", artist)
	return id, nil
}

func trackProps(t Track) map[nodegraph.PropKey]nodegraph.Value {
	props := map[nodegraph.PropKey]nodegraph.Value{
		nodegraph.PropLocation: nodegraph.StringValue(t.Path),
	}
	if t.Title != "" {
		props[nodegraph.PropName] = nodegraph.StringValue(t.Title)
	}
	if t.Genre != "" {
		props[nodegraph.PropGenre] = nodegraph.StringValue(t.Genre)
	}
	for k, n := range map[nodegraph.PropKey]int64{
		nodegraph.PropTrack:    int64(t.TrackNumber),
		nodegraph.PropDisc:     int64(t.DiscNumber),
		nodegraph.PropYear:     int64(t.Year),
		nodegraph.PropFileSize: t.Size,
	} {
		if n != 0 {
			props[k] = nodegraph.IntValue(n)
		}
	}
	if !t.ModTime.IsZero() {
		props[nodegraph.PropMtime] = nodegraph.IntValue(t.ModTime.Unix())
	}
	return props
}

// AddSong files t under its artist, album and genre, creating them as
// needed, and indexes it. A track whose path is already in the library
// replaces the existing song.
func (l *Library) AddSong(t Track) (nodegraph.ID, error) {
	if err := l.ready(); err != nil {
		return 0, err
	}
	if t.Path == "" {
		return 0, fmt.Errorf("library: track has no path")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if old, ok := l.songs[t.Path]; ok {
		if err := l.removeSong(old); err != nil {
			return 0, err
		}
	}

	artist, err := l.artist(t.Artist)
	if err != nil {
		return 0, err
	}
	album, err := l.album(artist, t.Album)
	if err != nil {
		return 0, err
	}
	genre, err := l.genre(t.Genre)
	if err != nil {
		return 0, err
	}

	song := l.store.CreateWith(nodegraph.KindSong, trackProps(t))
	if err := l.link(album, l.collections[nodegraph.KindAllSongs], song); err != nil {
		return 0, err
	}
	if err := l.store.AddChild(genre, song); err != nil {
		return 0, err
	}
	if err := l.store.AddGrandchild(artist, song); err != nil {
		return 0, err
	}
	if err := l.index.Index(song); err != nil {
		return 0, err
	}
	l.songs[t.Path] = song
	l.names[song] = entry{kind: nodegraph.KindSong, name: t.Path}
	return song, nil
}

// AddAlias lists an existing song under another parent, typically a
// compilation album, without copying its properties.
func (l *Library) AddAlias(song, parent nodegraph.ID) (nodegraph.ID, error) {
	if err := l.ready(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	canonical, err := l.store.Canonical(song)
	if err != nil {
		return 0, err
	}
	alias, err := l.store.CreateAlias(nodegraph.KindSong, canonical)
	if err != nil {
		return 0, err
	}
	defer l.store.Release(alias, 1)
	if err := l.store.AddChild(parent, alias); err != nil {
		return 0, err
	}
	l.aliases[canonical] = append(l.aliases[canonical], alias)
	return alias, nil
}

// RemoveSong removes the song at path along with its aliases. Albums,
// genres and artists left empty are removed with it.
func (l *Library) RemoveSong(path string) error {
	if err := l.ready(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.songs[path]
	if !ok {
		return fmt.Errorf("%w: song %q", ErrNotFound, path)
	}
	return l.removeSong(id)
}

// RemoveAlias removes one alias, collapsing its parent if that empties it.
func (l *Library) RemoveAlias(alias nodegraph.ID) error {
	if err := l.ready(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removeAlias(alias)
}

func (l *Library) collapse() nodegraph.Collapse {
	return nodegraph.Collapse{High: 2, Low: 1, OnRemove: l.forget}
}

func (l *Library) removeAlias(alias nodegraph.ID) error {
	canonical, err := l.store.Canonical(alias)
	if err != nil {
		return err
	}
	if canonical == alias {
		return fmt.Errorf("%w: alias %d", ErrNotFound, alias)
	}
	if err := l.store.RemoveCollapse(alias, l.collapse()); err != nil {
		return err
	}
	rest := slices.DeleteFunc(l.aliases[canonical], func(id nodegraph.ID) bool { return id == alias })
	if len(rest) == 0 {
		delete(l.aliases, canonical)
	} else {
		l.aliases[canonical] = rest
	}
	return nil
}

func (l *Library) removeSong(song nodegraph.ID) error {
	for _, a := range slices.Clone(l.aliases[song]) {
		if err := l.removeAlias(a); err != nil {
			return err
		}
	}
	if err := l.index.Unindex(song); err != nil {
		return err
	}
	l.forget(nodegraph.Removed{ID: song})
	return l.store.RemoveCollapse(song, l.collapse())
}

// forget drops the lookup entry of a removed node. It is also the collapse
// callback, which runs on the goroutine that holds l.mu.
func (l *Library) forget(r nodegraph.Removed) {
	e, ok := l.names[r.ID]
	if !ok {
		return
	}
	delete(l.names, r.ID)
	switch e.kind {
	case nodegraph.KindArtist:
		delete(l.artists, e.name)
	case nodegraph.KindGenre:
		delete(l.genres, e.name)
	case nodegraph.KindAlbum:
		delete(l.albums, e.album)
	case nodegraph.KindSong:
		delete(l.songs, e.name)
	}
	if r.Level > 0 {
		l.logger.Debug("collapsed", "kind", e.kind, "name", r.Name, "level", r.Level)
	}
}

// Search returns the songs whose title, artist or album contains text.
func (l *Library) Search(text string) []nodegraph.ID {
	return l.index.Search(text)
}

// Songs returns every song in the library, ascending by ID.
func (l *Library) Songs() []nodegraph.ID {
	all, ok := l.Collection(nodegraph.KindAllSongs)
	if !ok {
		return nil
	}
	ids, _ := l.store.Children(all)
	return ids
}

// SongByPath returns the song stored for path.
func (l *Library) SongByPath(path string) (nodegraph.ID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.songs[path]
	return id, ok
}

// Paths returns the location of every song.
func (l *Library) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	paths := make([]string, 0, len(l.songs))
	for p := range l.songs {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Song reads a song, or an alias of one, back into a Track.
func (l *Library) Song(id nodegraph.ID) (Track, error) {
	kind, err := l.store.Kind(id)
	if err != nil {
		return Track{}, err
	}
	if kind != nodegraph.KindSong {
		return Track{}, fmt.Errorf("%w: node %d is a %s, not a song", ErrNotFound, id, kind)
	}
	fields, err := substr.Resolve(l.store, id)
	if err != nil {
		return Track{}, err
	}
	t := Track{Title: fields.Title, Artist: fields.Artist, Album: fields.Album}
	if canonical, err := l.store.Canonical(id); err == nil && canonical != id && t.Artist == "" {
		if cf, err := substr.Resolve(l.store, canonical); err == nil {
			t.Artist = cf.Artist
		}
	}
	t.Path, _ = l.store.StringProperty(id, nodegraph.PropLocation)
	t.Genre, _ = l.store.StringProperty(id, nodegraph.PropGenre)
	num := func(k nodegraph.PropKey) int64 {
		n, _ := l.store.IntProperty(id, k)
		return n
	}
	t.TrackNumber = int(num(nodegraph.PropTrack))
	t.DiscNumber = int(num(nodegraph.PropDisc))
	t.Year = int(num(nodegraph.PropYear))
	t.Size = num(nodegraph.PropFileSize)
	if mtime := num(nodegraph.PropMtime); mtime != 0 {
		t.ModTime = time.Unix(mtime, 0)
	}
	return t, nil
}

// Tracks reads several songs, skipping any that vanished meanwhile.
func (l *Library) Tracks(ids []nodegraph.ID) []Track {
	out := make([]Track, 0, len(ids))
	for _, id := range ids {
		if t, err := l.Song(id); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// Stats counts the library's contents.
type Stats struct {
	Nodes     int `json:"nodes"`
	Artists   int `json:"artists"`
	Albums    int `json:"albums"`
	Genres    int `json:"genres"`
	Songs     int `json:"songs"`
	Aliases   int `json:"aliases"`
	IndexKeys int `json:"index_keys"`
}

// Stats returns current counts.
func (l *Library) Stats() Stats {
	st := Stats{
		Nodes:     l.store.Len(),
		Artists:   len(l.store.OfKind(nodegraph.KindArtist)),
		Albums:    len(l.store.OfKind(nodegraph.KindAlbum)),
		Genres:    len(l.store.OfKind(nodegraph.KindGenre)),
		IndexKeys: l.index.Len(),
	}
	for _, id := range l.store.OfKind(nodegraph.KindSong) {
		if l.store.IsAlias(id) {
			st.Aliases++
		} else {
			st.Songs++
		}
	}
	return st
}
