// Package scan walks a music directory, reads tags from every audio file and
// feeds the results to a datastore in batches.
//
// Discovery, tag parsing and writing run as a pipeline: one walker, a pool
// of parser workers and a single writer, so the datastore only ever sees
// one caller.
package scan

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/dhowden/tag"
	"golang.org/x/sync/errgroup"

	"smj-graph/internal/datastore"
)

// DefaultBatchSize is the number of tracks handed to the datastore at once.
const DefaultBatchSize = 500

var mediaExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".oga":  true,
	".flac": true,
}

// IsMedia reports whether path has an audio extension the scanner reads.
func IsMedia(path string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(path))]
}

// Sink receives parsed tracks. Every datastore is a Sink.
type Sink interface {
	IndexMediaBatch(batch []*datastore.Media) error
}

// Options configures a scan.
type Options struct {
	// Workers is the number of tag parsers. Zero means one per CPU.
	Workers int

	// Since restricts the scan to files modified after it, for freshening
	// an existing database. Zero scans everything.
	Since time.Time

	// Exclude lists doublestar patterns, relative to the scan root, for
	// files and directories to skip. "live/**" and "live" both skip a
	// top-level live directory.
	Exclude []string

	BatchSize int
	Logger    *log.Logger
}

func (o *Options) excluded(rel string) bool {
	for _, p := range o.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if !strings.HasSuffix(p, "/**") {
			if ok, _ := doublestar.Match(p+"/**", rel); ok {
				return true
			}
		}
	}
	return false
}

// Result summarizes a scan.
type Result struct {
	Found    int
	Indexed  int
	Failed   int
	Duration time.Duration
}

// Run scans root and writes every readable track to sink.
func Run(ctx context.Context, root string, sink Sink, opts *Options) (Result, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	if _, err := os.Stat(root); err != nil {
		return Result{}, fmt.Errorf("cannot scan %q: %w", root, err)
	}
	for _, p := range o.Exclude {
		if !doublestar.ValidatePattern(p) {
			return Result{}, fmt.Errorf("bad exclude pattern %q", p)
		}
	}

	start := time.Now()
	var res Result
	files := make(chan string, 100)
	media := make(chan *datastore.Media, 100)

	g, gCtx := errgroup.WithContext(ctx)

	// Discovery
	g.Go(func() error {
		defer close(files)
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				o.Logger.Debug("walk error", "path", path, "err", err)
				return nil
			}
			if len(o.Exclude) > 0 && path != root {
				rel, err := filepath.Rel(root, path)
				if err == nil && o.excluded(filepath.ToSlash(rel)) {
					if d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
			}
			if d.IsDir() || !IsMedia(path) {
				return nil
			}
			if !o.Since.IsZero() {
				info, err := d.Info()
				if err != nil || !info.ModTime().After(o.Since) {
					return nil
				}
			}
			res.Found++
			select {
			case files <- path:
				return nil
			case <-gCtx.Done():
				return gCtx.Err()
			}
		})
	})

	// Parsers
	parsers, pCtx := errgroup.WithContext(gCtx)
	failed := make([]int, o.Workers)
	for w := range o.Workers {
		parsers.Go(func() error {
			for path := range files {
				m, err := ParseFile(path)
				if err != nil {
					o.Logger.Debug("skipping file", "path", path, "err", err)
					failed[w]++
					continue
				}
				select {
				case media <- m:
				case <-pCtx.Done():
					return pCtx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(media)
		return parsers.Wait()
	})

	// Writer
	g.Go(func() error {
		batch := make([]*datastore.Media, 0, o.BatchSize)
		write := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := sink.IndexMediaBatch(batch); err != nil {
				return err
			}
			res.Indexed += len(batch)
			o.Logger.Debug("batch written", "size", len(batch), "total", res.Indexed)
			batch = batch[:0]
			return nil
		}
		for m := range media {
			batch = append(batch, m)
			if len(batch) >= o.BatchSize {
				if err := write(); err != nil {
					return err
				}
			}
		}
		return write()
	})

	err := g.Wait()
	for _, n := range failed {
		res.Failed += n
	}
	res.Duration = time.Since(start)
	return res, err
}

// ParseFile reads the tags of one audio file. Missing fields get the same
// placeholders the datastores expect: the file name for the title and
// "unknown ..." for artist, album and genre. The album artist wins over the
// track artist.
func ParseFile(path string) (*datastore.Media, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("reading tags of %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	track, _ := m.Track()
	disc, _ := m.Disc()

	artist := m.Artist()
	if albumArtist := m.AlbumArtist(); albumArtist != "" {
		artist = albumArtist
	}
	title := m.Title()
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return &datastore.Media{
		Title:       title,
		Artist:      orDefault(artist, "unknown artist"),
		Album:       orDefault(m.Album(), "unknown album"),
		TrackNumber: track,
		DiscNumber:  disc,
		Year:        m.Year(),
		Genre:       orDefault(m.Genre(), "unknown genre"),
		Path:        path,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
	}, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
