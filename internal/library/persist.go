package library

import (
	"context"

	"smj-graph/internal/docfile"
	"smj-graph/internal/nodegraph"
)

// Save writes the whole library to path.
func (l *Library) Save(path string) error {
	if err := l.ready(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := docfile.Save(l.store, l.root, path); err != nil {
		return err
	}
	l.logger.Info("library saved", "path", path, "nodes", l.store.Len())
	return nil
}

// Open starts loading the library saved at path and returns at once. Songs
// become searchable as their records arrive; loader.Useful reports when
// enough of the library is present to work with, loader.Cancel stops the
// load early, and Wait blocks until the library accepts changes. A missing
// or unreadable document yields an empty library.
func Open(ctx context.Context, path string, opts *Options, load *docfile.LoadOptions) (*Library, *docfile.Loader) {
	l := newLibrary(opts)
	lo := docfile.LoadOptions{}
	if load != nil {
		lo = *load
	}
	next := lo.OnRecord
	lo.OnRecord = func(id nodegraph.ID, kind nodegraph.Kind) {
		l.adopt(id, kind)
		if next != nil {
			next(id, kind)
		}
	}
	if lo.Logger == nil {
		lo.Logger = l.logger.WithPrefix("load")
	}
	loader := docfile.NewLoader(l.store, &lo)

	go func() {
		res, err := loader.LoadFile(ctx, path)
		l.settle(res, err)
	}()
	return l, loader
}

// Load is Open followed by Wait.
func Load(ctx context.Context, path string, opts *Options, load *docfile.LoadOptions) (*Library, docfile.Result, error) {
	l, loader := Open(ctx, path, opts, load)
	<-l.loaded
	res, err := loader.Result()
	return l, res, err
}

// Wait blocks until a load started by Open has been settled or ctx ends.
func (l *Library) Wait(ctx context.Context) error {
	select {
	case <-l.loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// adopt files a freshly loaded record into the lookup tables and index.
// Records arrive parents first, so a song's album and artist are present.
func (l *Library) adopt(id nodegraph.ID, kind nodegraph.Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if kind == nodegraph.KindRoot {
		if l.root == 0 {
			l.root = id
		}
		return
	}
	if kind.IsCollectionRoot() {
		if _, ok := l.collections[kind]; !ok {
			l.collections[kind] = id
		}
		return
	}

	if canonical, err := l.store.Canonical(id); err == nil && canonical != id {
		if kind == nodegraph.KindSong {
			l.aliases[canonical] = append(l.aliases[canonical], id)
		}
		return
	}

	name, _ := l.store.StringProperty(id, nodegraph.PropName)
	switch kind {
	case nodegraph.KindArtist:
		l.artists[name] = id
		l.names[id] = entry{kind: kind, name: name}
	case nodegraph.KindGenre:
		l.genres[name] = id
		l.names[id] = entry{kind: kind, name: name}
	case nodegraph.KindAlbum:
		parents, _ := l.store.Parents(id)
		for _, p := range parents {
			if k, _ := l.store.Kind(p); k == nodegraph.KindArtist {
				key := albumKey{p, name}
				l.albums[key] = id
				l.names[id] = entry{kind: kind, album: key}
				break
			}
		}
	case nodegraph.KindSong:
		path, ok := l.store.StringProperty(id, nodegraph.PropLocation)
		if !ok {
			return
		}
		if err := l.index.Index(id); err != nil {
			l.logger.Warn("indexing loaded song", "id", id, "err", err)
			return
		}
		l.songs[path] = id
		l.names[id] = entry{kind: kind, name: path}
	}
}

// settle finishes a load: nodes the document left without an owner are
// released, lookup entries of nodes that went with them are dropped, and a
// root and collections are created where the document supplied none.
func (l *Library) settle(res docfile.Result, err error) {
	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		close(l.loaded)
	}()

	if err != nil {
		l.logger.Error("library load failed", "err", err)
	}
	for _, id := range res.Unowned {
		if id != l.root {
			l.store.Release(id, 1)
		}
	}
	for id := range l.names {
		if !l.store.Exists(id) {
			l.forget(nodegraph.Removed{ID: id})
		}
	}
	l.ensureRoots()
	l.logger.Info("library ready", "status", res.Status, "songs", len(l.songs), "nodes", l.store.Len())
}
