//go:build cgo

package datastore

import (
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps one row per track.
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
}

func (s *SQLiteStore) Initialize(path string) error {
	if s.logger == nil {
		s.logger = log.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	s.db = db

	sqlStmt := `CREATE TABLE IF NOT EXISTS media(
		title TEXT,
		artist TEXT,
		album TEXT,
		tracknumber INTEGER,
		discnumber INTEGER,
		year INTEGER,
		genre TEXT,
		size INTEGER,
		mtime INTEGER,
		path TEXT UNIQUE
	);`
	_, err = s.db.Exec(sqlStmt)
	return err
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec("DELETE FROM media")
	return err
}

func (s *SQLiteStore) IndexMediaBatch(batch []*Media) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO media
		(title, artist, album, tracknumber, discnumber, year, genre, size, mtime, path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, m := range batch {
		var mtime int64
		if !m.ModTime.IsZero() {
			mtime = m.ModTime.Unix()
		}
		_, err = stmt.Exec(m.Title, m.Artist, m.Album, m.TrackNumber, m.DiscNumber, m.Year, m.Genre, m.Size, mtime, m.Path)
		if err != nil {
			s.logger.Warn("skipping row", "path", m.Path, "err", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM media").Scan(&count)
	return count, err
}

func (s *SQLiteStore) GetAllPaths() ([]string, error) {
	rows, err := s.db.Query("SELECT path FROM media ORDER BY path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

func (s *SQLiteStore) RemoveStaleEntries() (int, error) {
	paths, err := s.GetAllPaths()
	if err != nil {
		return 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	stmt, err := tx.Prepare("DELETE FROM media WHERE path = ?")
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	removed := 0
	for _, path := range paths {
		if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if _, err := stmt.Exec(path); err != nil {
			tx.Rollback()
			return 0, err
		}
		removed++
	}
	return removed, tx.Commit()
}

const selectMedia = "SELECT title, artist, album, tracknumber, discnumber, year, genre, size, mtime, path FROM media"

// Search translates the query into LIKE clauses: one OR group per term
// type, groups joined with AND.
func (s *SQLiteStore) Search(input string) ([]Media, error) {
	q := ParseQuery(input)

	var sqlParts []string
	var args []any
	addGroup := func(terms []string, columns ...string) {
		if len(terms) == 0 {
			return
		}
		var subParts []string
		for _, t := range terms {
			var cols []string
			for _, c := range columns {
				cols = append(cols, c+" LIKE ?")
				args = append(args, "%"+t+"%")
			}
			subParts = append(subParts, "("+strings.Join(cols, " OR ")+")")
		}
		sqlParts = append(sqlParts, "("+strings.Join(subParts, " OR ")+")")
	}
	addGroup(q.Genres, "genre")
	addGroup(q.Artists, "artist")
	addGroup(q.Albums, "album")
	addGroup(q.Titles, "title")
	addGroup(q.Any, "artist", "album", "title")

	query := selectMedia
	if len(sqlParts) > 0 {
		query += " WHERE " + strings.Join(sqlParts, " AND ")
	}
	query += " ORDER BY artist, album, discnumber, tracknumber"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return s.scanRows(rows)
}

func (s *SQLiteStore) scanRows(rows *sql.Rows) ([]Media, error) {
	defer rows.Close()
	var results []Media
	for rows.Next() {
		var m Media
		var mtime int64
		err := rows.Scan(&m.Title, &m.Artist, &m.Album, &m.TrackNumber, &m.DiscNumber, &m.Year, &m.Genre, &m.Size, &mtime, &m.Path)
		if err != nil {
			return nil, err
		}
		if mtime != 0 {
			m.ModTime = time.Unix(mtime, 0)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
