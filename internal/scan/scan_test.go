package scan_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"smj-graph/internal/datastore"
	"smj-graph/internal/scan"
)

// id3v1 builds a file body carrying only an ID3v1.1 tag.
func id3v1(title, artist, album, year string, track, genre byte) []byte {
	field := func(s string, n int) []byte {
		b := make([]byte, n)
		copy(b, s)
		return b
	}
	out := make([]byte, 0, 256)
	out = append(out, make([]byte, 128)...) // stand-in audio
	out = append(out, "TAG"...)
	out = append(out, field(title, 30)...)
	out = append(out, field(artist, 30)...)
	out = append(out, field(album, 30)...)
	out = append(out, field(year, 4)...)
	comment := field("", 30)
	comment[29] = track
	out = append(out, comment...)
	return append(out, genre)
}

type sink struct {
	mu      sync.Mutex
	batches int
	media   []*datastore.Media
	err     error
}

func (s *sink) IndexMediaBatch(batch []*datastore.Media) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches++
	s.media = append(s.media, batch...)
	return nil
}

func (s *sink) titles() []string {
	var out []string
	for _, m := range s.media {
		out = append(out, m.Title)
	}
	slices.Sort(out)
	return out
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func library(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "mingus", "01.mp3"), id3v1("Better Git It", "Charles Mingus", "Mingus Ah Um", "1959", 1, 8))
	writeFile(t, filepath.Join(dir, "mingus", "02.MP3"), id3v1("Goodbye Pork Pie Hat", "Charles Mingus", "Mingus Ah Um", "1959", 2, 8))
	writeFile(t, filepath.Join(dir, "misc", "untitled.mp3"), id3v1("", "", "", "", 0, 255))
	writeFile(t, filepath.Join(dir, "misc", "notes.txt"), []byte("not audio"))
	writeFile(t, filepath.Join(dir, "misc", "broken.flac"), []byte("fLaC garbage"))
	return dir
}

func TestIsMedia(t *testing.T) {
	for path, want := range map[string]bool{
		"a.mp3": true, "b.FLAC": true, "c.oga": true, "d.m4a": true,
		"e.wav": false, "f": false, "g.mp3.txt": false,
	} {
		if got := scan.IsMedia(path); got != want {
			t.Errorf("IsMedia(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestParseFile(t *testing.T) {
	dir := library(t)
	m, err := scan.ParseFile(filepath.Join(dir, "mingus", "02.MP3"))
	if err != nil {
		t.Fatal(err)
	}
	want := datastore.Media{
		Title:       "Goodbye Pork Pie Hat",
		Artist:      "Charles Mingus",
		Album:       "Mingus Ah Um",
		TrackNumber: 2,
		Year:        1959,
		Genre:       "Jazz",
	}
	if m.Title != want.Title || m.Artist != want.Artist || m.Album != want.Album ||
		m.TrackNumber != want.TrackNumber || m.Year != want.Year || m.Genre != want.Genre {
		t.Fatalf("ParseFile = %+v, want %+v", m, want)
	}
	if m.Size == 0 || m.ModTime.IsZero() {
		t.Fatalf("file info not recorded: %+v", m)
	}

	m, err = scan.ParseFile(filepath.Join(dir, "misc", "untitled.mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if m.Title != "untitled" || m.Artist != "unknown artist" || m.Album != "unknown album" || m.Genre != "unknown genre" {
		t.Fatalf("placeholders = %+v", m)
	}

	if _, err := scan.ParseFile(filepath.Join(dir, "misc", "broken.flac")); err == nil {
		t.Fatal("broken file parsed")
	}
}

func TestRun(t *testing.T) {
	dir := library(t)
	s := &sink{}
	res, err := scan.Run(context.Background(), dir, s, &scan.Options{Workers: 3, BatchSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.Found != 4 || res.Indexed != 3 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if s.batches != 2 {
		t.Fatalf("batches = %d, want 2", s.batches)
	}
	want := []string{"Better Git It", "Goodbye Pork Pie Hat", "untitled"}
	if got := s.titles(); !slices.Equal(got, want) {
		t.Fatalf("titles = %v, want %v", got, want)
	}
}

func TestRun_Since(t *testing.T) {
	dir := library(t)
	old := time.Now().Add(-time.Hour)
	for _, p := range []string{"mingus/01.mp3", "mingus/02.MP3", "misc/broken.flac"} {
		if err := os.Chtimes(filepath.Join(dir, p), old, old); err != nil {
			t.Fatal(err)
		}
	}
	s := &sink{}
	res, err := scan.Run(context.Background(), dir, s, &scan.Options{Since: time.Now().Add(-time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Found != 1 || !slices.Equal(s.titles(), []string{"untitled"}) {
		t.Fatalf("freshen scan = %+v, titles %v", res, s.titles())
	}
}

func TestRun_SinkError(t *testing.T) {
	boom := errors.New("disk full")
	_, err := scan.Run(context.Background(), library(t), &sink{err: boom}, &scan.Options{BatchSize: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestRun_MissingRoot(t *testing.T) {
	if _, err := scan.Run(context.Background(), filepath.Join(t.TempDir(), "nope"), &sink{}, nil); err == nil {
		t.Fatal("scan of missing root succeeded")
	}
}

func TestRun_Exclude(t *testing.T) {
	dir := library(t)
	for name, tc := range map[string]struct {
		exclude []string
		titles  []string
	}{
		"directory":   {[]string{"misc"}, []string{"Better Git It", "Goodbye Pork Pie Hat"}},
		"recursive":   {[]string{"misc/**"}, []string{"Better Git It", "Goodbye Pork Pie Hat"}},
		"extension":   {[]string{"**/*.MP3"}, []string{"Better Git It", "untitled"}},
		"alternation": {[]string{"{misc,mingus}"}, nil},
	} {
		t.Run(name, func(t *testing.T) {
			s := &sink{}
			if _, err := scan.Run(context.Background(), dir, s, &scan.Options{Exclude: tc.exclude}); err != nil {
				t.Fatal(err)
			}
			if got := s.titles(); !slices.Equal(got, tc.titles) {
				t.Fatalf("titles = %v, want %v", got, tc.titles)
			}
		})
	}

	if _, err := scan.Run(context.Background(), dir, &sink{}, &scan.Options{Exclude: []string{"[misc"}}); err == nil {
		t.Fatal("malformed pattern accepted")
	}
}
