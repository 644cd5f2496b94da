package datastore

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/charmbracelet/log"

	"smj-graph/internal/docfile"
	"smj-graph/internal/library"
	"smj-graph/internal/nodegraph"
)

// GraphStore keeps tracks in the in-memory node graph and persists it as a
// graph document on Close.
type GraphStore struct {
	logger     *log.Logger
	dispatcher *nodegraph.Dispatcher
	load       *docfile.LoadOptions

	path  string
	lib   *library.Library
	dirty bool
}

// Initialize loads the graph document at path. A missing or mismatched
// document starts an empty library.
func (g *GraphStore) Initialize(path string) error {
	if g.logger == nil {
		g.logger = log.Default()
	}
	lib, res, err := library.Load(context.Background(), path, g.libraryOptions(), g.load)
	if err != nil {
		return err
	}
	g.path, g.lib = path, lib
	g.logger.Debug("graph store opened", "path", path, "status", res.Status, "nodes", res.Nodes)
	return nil
}

func (g *GraphStore) libraryOptions() *library.Options {
	return &library.Options{Logger: g.logger, Dispatcher: g.dispatcher}
}

// Library returns the library behind the store.
func (g *GraphStore) Library() *library.Library { return g.lib }

// Close saves the library if it changed since it was loaded.
func (g *GraphStore) Close() error {
	if g.lib == nil || !g.dirty {
		return nil
	}
	if err := g.lib.Save(g.path); err != nil {
		return err
	}
	g.dirty = false
	return nil
}

func (g *GraphStore) Clear() error {
	g.lib = library.New(g.libraryOptions())
	g.dirty = true
	return nil
}

func (g *GraphStore) IndexMediaBatch(batch []*Media) error {
	for _, m := range batch {
		if _, err := g.lib.AddSong(toTrack(m)); err != nil {
			return err
		}
		g.dirty = true
	}
	return nil
}

func (g *GraphStore) Count() (int, error) {
	return g.lib.Stats().Songs, nil
}

func (g *GraphStore) GetAllPaths() ([]string, error) {
	return g.lib.Paths(), nil
}

func (g *GraphStore) RemoveStaleEntries() (int, error) {
	removed := 0
	for _, path := range g.lib.Paths() {
		if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := g.lib.RemoveSong(path); err != nil {
			return removed, err
		}
		g.logger.Debug("removed stale entry", "path", path)
		removed++
		g.dirty = true
	}
	return removed, nil
}

// Search answers the query from the substring index. Each title, artist,
// album or plain term group narrows the candidates to the songs the index
// returns for its terms; a genre-only query falls back to every song.
func (g *GraphStore) Search(input string) ([]Media, error) {
	q := ParseQuery(input)

	var candidates []nodegraph.ID
	switch terms := firstNonEmpty(q.Any, q.Titles, q.Artists, q.Albums); {
	case terms != nil:
		seen := make(map[nodegraph.ID]bool)
		for _, t := range terms {
			for _, id := range g.lib.Search(t) {
				if !seen[id] {
					seen[id] = true
					candidates = append(candidates, id)
				}
			}
		}
	default:
		candidates = g.lib.Songs()
	}

	results := make([]Media, 0, len(candidates))
	for _, t := range g.lib.Tracks(candidates) {
		m := fromTrack(t)
		if q.Matches(m) {
			results = append(results, m)
		}
	}
	SortMedia(results)
	return results, nil
}

func firstNonEmpty(groups ...[]string) []string {
	for _, g := range groups {
		if len(g) > 0 {
			return g
		}
	}
	return nil
}

func toTrack(m *Media) library.Track {
	return library.Track{
		Title:       m.Title,
		Artist:      m.Artist,
		Album:       m.Album,
		Genre:       m.Genre,
		TrackNumber: m.TrackNumber,
		DiscNumber:  m.DiscNumber,
		Year:        m.Year,
		Path:        m.Path,
		Size:        m.Size,
		ModTime:     m.ModTime,
	}
}

func fromTrack(t library.Track) Media {
	return Media{
		Title:       t.Title,
		Artist:      t.Artist,
		Album:       t.Album,
		Genre:       t.Genre,
		TrackNumber: t.TrackNumber,
		DiscNumber:  t.DiscNumber,
		Year:        t.Year,
		Path:        t.Path,
		Size:        t.Size,
		ModTime:     t.ModTime,
	}
}
