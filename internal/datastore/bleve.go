package datastore

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/charmbracelet/log"
)

// bleveMaxResults caps a single search request.
const bleveMaxResults = 100000

// BleveStore keeps one document per track, keyed by path.
type BleveStore struct {
	index  bleve.Index
	logger *log.Logger
}

func (b *BleveStore) Initialize(path string) error {
	if b.logger == nil {
		b.logger = log.Default()
	}
	// Bleve indexes are directories.
	if strings.HasSuffix(path, extensions[BackendSQLite]) {
		path = PathFor(BackendBleve, path)
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		index, err := bleve.New(path, bleve.NewIndexMapping())
		if err != nil {
			return err
		}
		b.index = index
		return nil
	}
	index, err := bleve.Open(path)
	if err != nil {
		return err
	}
	b.index = index
	return nil
}

func (b *BleveStore) Close() error {
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// Clear deletes every document.
func (b *BleveStore) Clear() error {
	paths, err := b.GetAllPaths()
	if err != nil {
		return err
	}
	batch := b.index.NewBatch()
	for _, p := range paths {
		batch.Delete(p)
	}
	return b.index.Batch(batch)
}

func (b *BleveStore) IndexMediaBatch(batch []*Media) error {
	batchIndex := b.index.NewBatch()
	for _, m := range batch {
		// Path is the document ID, so re-indexing a file replaces it.
		if err := batchIndex.Index(m.Path, m); err != nil {
			return err
		}
	}
	return b.index.Batch(batchIndex)
}

func (b *BleveStore) Count() (int, error) {
	c, err := b.index.DocCount()
	return int(c), err
}

func (b *BleveStore) GetAllPaths() ([]string, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = bleveMaxResults
	req.Fields = []string{}

	res, err := b.index.Search(req)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		paths = append(paths, hit.ID)
	}
	return paths, nil
}

func (b *BleveStore) RemoveStaleEntries() (int, error) {
	paths, err := b.GetAllPaths()
	if err != nil {
		return 0, err
	}

	removed := 0
	batch := b.index.NewBatch()
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			batch.Delete(path)
			b.logger.Debug("removed stale entry", "path", path)
			removed++
		}
	}
	return removed, b.index.Batch(batch)
}

// Search accepts SMJ7-style queries and, for input without SMJ7 prefixes or
// commas, Bleve's own query string syntax (field scoping, fuzziness).
func (b *BleveStore) Search(input string) ([]Media, error) {
	if strings.TrimSpace(input) == "" {
		return b.runQuery(bleve.NewMatchAllQuery())
	}
	if strings.ContainsAny(input, "!@#$,") {
		return b.runQuery(b.smj7Query(ParseQuery(input)))
	}
	return b.runQuery(bleve.NewQueryStringQuery(input))
}

func (b *BleveStore) smj7Query(q Query) bleveQuery.Query {
	root := bleve.NewBooleanQuery()
	addOrGroup := func(terms []string, fields ...string) {
		if len(terms) == 0 {
			return
		}
		sub := bleve.NewBooleanQuery()
		for _, t := range terms {
			for _, f := range fields {
				mq := bleve.NewMatchQuery(t)
				mq.SetField(f)
				sub.AddShould(mq)
			}
		}
		root.AddMust(sub)
	}
	addOrGroup(q.Genres, "genre")
	addOrGroup(q.Artists, "artist")
	addOrGroup(q.Albums, "album")
	addOrGroup(q.Titles, "title")
	addOrGroup(q.Any, "artist", "album", "title")
	return root
}

func (b *BleveStore) runQuery(q bleveQuery.Query) ([]Media, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = bleveMaxResults
	req.Fields = []string{"*"}
	req.SortBy([]string{"artist", "album", "discnumber", "tracknumber"})

	res, err := b.index.Search(req)
	if err != nil {
		return nil, err
	}

	results := make([]Media, 0, len(res.Hits))
	for _, hit := range res.Hits {
		getStr := func(f string) string {
			v, _ := hit.Fields[f].(string)
			return v
		}
		getInt := func(f string) int {
			v, _ := hit.Fields[f].(float64)
			return int(v)
		}
		results = append(results, Media{
			Title:       getStr("title"),
			Artist:      getStr("artist"),
			Album:       getStr("album"),
			Genre:       getStr("genre"),
			Path:        getStr("path"),
			TrackNumber: getInt("tracknumber"),
			DiscNumber:  getInt("discnumber"),
			Year:        getInt("year"),
		})
	}
	return results, nil
}
