package library_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"smj-graph/internal/docfile"
	"smj-graph/internal/library"
	"smj-graph/internal/nodegraph"
)

func track(artist, album, title string) library.Track {
	return library.Track{
		Title:  title,
		Artist: artist,
		Album:  album,
		Genre:  "Jazz",
		Path:   fmt.Sprintf("/music/%s/%s/%s.flac", artist, album, title),
	}
}

func mustAdd(t *testing.T, l *library.Library, tr library.Track) nodegraph.ID {
	t.Helper()
	id, err := l.AddSong(tr)
	if err != nil {
		t.Fatalf("AddSong(%s): %v", tr.Path, err)
	}
	return id
}

func albumOf(t *testing.T, s *nodegraph.Store, song nodegraph.ID) nodegraph.ID {
	t.Helper()
	parents, _ := s.Parents(song)
	for _, p := range parents {
		if k, _ := s.Kind(p); k == nodegraph.KindAlbum {
			return p
		}
	}
	t.Fatalf("song %d has no album", song)
	return 0
}

func TestAddSong_Layout(t *testing.T) {
	l := library.New(nil)
	s := l.Store()
	song := mustAdd(t, l, track("Mingus", "Ah Um", "Better Git It in Your Soul"))

	artist, err := s.Grandparent(song)
	if err != nil {
		t.Fatal(err)
	}
	if name, _ := s.StringProperty(artist, nodegraph.PropName); name != "Mingus" {
		t.Fatalf("grandparent name = %q", name)
	}
	albums, _ := s.Children(artist)
	if len(albums) != 1 {
		t.Fatalf("artist children = %v", albums)
	}
	parents, _ := s.Parents(song)
	allSongs, _ := l.Collection(nodegraph.KindAllSongs)
	if !slices.Contains(parents, albums[0]) || !slices.Contains(parents, allSongs) || len(parents) != 3 {
		t.Fatalf("song parents = %v", parents)
	}

	// album + genre + one share per index entry; all-songs does not own.
	refs, _ := s.Refs(song)
	if want := 2 + l.Index().Entries(song); refs != want {
		t.Fatalf("song refs = %d, want %d", refs, want)
	}

	// A second song on the same album reuses artist and album.
	mustAdd(t, l, track("Mingus", "Ah Um", "Fables of Faubus"))
	st := l.Stats()
	if st.Artists != 1 || st.Albums != 1 || st.Genres != 1 || st.Songs != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSong_ReadsBackTrack(t *testing.T) {
	l := library.New(nil)
	in := track("Coltrane", "Blue Train", "Moment's Notice")
	in.TrackNumber, in.DiscNumber, in.Year, in.Size = 2, 1, 1957, 1024
	id := mustAdd(t, l, in)

	got, err := l.Song(id)
	if err != nil {
		t.Fatal(err)
	}
	if got != in {
		t.Fatalf("Song = %+v, want %+v", got, in)
	}
	if _, err := l.Song(l.Root()); !errors.Is(err, library.ErrNotFound) {
		t.Fatalf("Song(root) err = %v, want ErrNotFound", err)
	}
}

func TestSearch_EndToEnd(t *testing.T) {
	l := library.New(nil)
	s1 := mustAdd(t, l, track("A1", "B1", "S1"))
	mustAdd(t, l, track("Other", "Album", "Title"))

	if got := l.Search("a1"); !slices.Equal(got, []nodegraph.ID{s1}) {
		t.Fatalf("Search(a1) = %v, want [%d]", got, s1)
	}
	a1, _ := l.Store().Grandparent(s1)
	b1 := albumOf(t, l.Store(), s1)
	parents, _ := l.Store().Parents(s1)

	path := filepath.Join(t.TempDir(), "library.smjg")
	if err := l.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, res, err := library.Load(context.Background(), path, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != docfile.StatusLoaded {
		t.Fatalf("status = %v", res.Status)
	}
	if got := loaded.Search("a1"); !slices.Equal(got, []nodegraph.ID{s1}) {
		t.Fatalf("after load Search(a1) = %v, want [%d]", got, s1)
	}
	if gp, _ := loaded.Store().Grandparent(s1); gp != a1 {
		t.Fatalf("Grandparent(S1) = %d, want %d", gp, a1)
	}
	if got, _ := loaded.Store().Parents(s1); !slices.Equal(got, parents) || !slices.Contains(got, b1) {
		t.Fatalf("Parents(S1) = %v, want %v", got, parents)
	}
	if loaded.Stats() != l.Stats() {
		t.Fatalf("stats = %+v, want %+v", loaded.Stats(), l.Stats())
	}
	for _, id := range l.Store().IDs() {
		want, _ := l.Store().Refs(id)
		got, _ := loaded.Store().Refs(id)
		if got != want {
			t.Errorf("node %d refs = %d, want %d", id, got, want)
		}
	}

	// Lookup tables were rebuilt: adding to B1 reuses it.
	s2 := mustAdd(t, loaded, track("A1", "B1", "S2"))
	if got := albumOf(t, loaded.Store(), s2); got != b1 {
		t.Fatalf("new song filed under album %d, want %d", got, b1)
	}
	if s2 <= s1 {
		t.Fatalf("id %d issued after load is not past %d", s2, s1)
	}
}

func TestRemoveSong_Collapses(t *testing.T) {
	l := library.New(nil)
	base := l.Stats().Nodes
	first := track("Monk", "Monk's Dream", "Bye-Ya")
	second := track("Monk", "Monk's Dream", "Body and Soul")
	mustAdd(t, l, first)
	mustAdd(t, l, second)
	artist, _ := l.Store().Grandparent(mustAdd(t, l, track("Monk", "Underground", "Ugly Beauty")))

	if err := l.RemoveSong(first.Path); err != nil {
		t.Fatal(err)
	}
	if st := l.Stats(); st.Albums != 2 || st.Songs != 2 {
		t.Fatalf("album with songs left was collapsed: %+v", st)
	}
	if got := l.Search("bye-ya"); len(got) != 0 {
		t.Fatalf("removed song still found: %v", got)
	}

	if err := l.RemoveSong(second.Path); err != nil {
		t.Fatal(err)
	}
	if st := l.Stats(); st.Albums != 1 || st.Artists != 1 {
		t.Fatalf("empty album kept: %+v", st)
	}
	if err := l.RemoveSong(track("Monk", "Underground", "Ugly Beauty").Path); err != nil {
		t.Fatal(err)
	}
	st := l.Stats()
	if st.Nodes != base || st.Artists != 0 || st.Genres != 0 || st.IndexKeys != 0 {
		t.Fatalf("after removing everything: %+v (base %d nodes)", st, base)
	}
	if l.Store().Exists(artist) {
		t.Fatal("empty artist kept")
	}

	// The lookup entry went with the node.
	id := mustAdd(t, l, track("Monk", "Misterioso", "Round Midnight"))
	if gp, _ := l.Store().Grandparent(id); gp == artist {
		t.Fatal("collapsed artist reused")
	}

	if err := l.RemoveSong("/nowhere.mp3"); !errors.Is(err, library.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAddSong_ReplacesPath(t *testing.T) {
	l := library.New(nil)
	tr := track("Davis", "Kind of Blue", "So What")
	old := mustAdd(t, l, tr)
	tr.Title = "So What (Take 2)"
	id := mustAdd(t, l, tr)

	if l.Store().Exists(old) {
		t.Fatal("replaced song still alive")
	}
	if got, _ := l.SongByPath(tr.Path); got != id {
		t.Fatalf("SongByPath = %d, want %d", got, id)
	}
	if st := l.Stats(); st.Songs != 1 || st.Albums != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestAlias_Compilation(t *testing.T) {
	l := library.New(nil)
	s := l.Store()
	orig := track("Evans", "Portrait in Jazz", "Autumn Leaves")
	song := mustAdd(t, l, orig)
	other := mustAdd(t, l, track("Various", "Jazz Best Of", "Take Five"))
	album := albumOf(t, s, other)

	alias, err := l.AddAlias(song, album)
	if err != nil {
		t.Fatal(err)
	}
	got, err := l.Song(alias)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != orig.Title || got.Album != "Jazz Best Of" || got.Artist != "Evans" {
		t.Fatalf("alias reads %+v", got)
	}
	if st := l.Stats(); st.Aliases != 1 || st.Songs != 2 {
		t.Fatalf("stats = %+v", st)
	}

	// Removing the song takes its aliases along; the compilation keeps
	// its other track.
	if err := l.RemoveSong(orig.Path); err != nil {
		t.Fatal(err)
	}
	if s.Exists(alias) || s.Exists(song) {
		t.Fatal("song or alias survived removal")
	}
	if !s.Exists(album) {
		t.Fatal("compilation with remaining tracks collapsed")
	}
}

func TestLoad_MissingDocument(t *testing.T) {
	l, res, err := library.Load(context.Background(), filepath.Join(t.TempDir(), "none"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != docfile.StatusAbsent {
		t.Fatalf("status = %v, want absent", res.Status)
	}
	if l.Root() == 0 {
		t.Fatal("no root after absent load")
	}
	mustAdd(t, l, track("Blakey", "Moanin'", "Moanin'"))
	if st := l.Stats(); st.Songs != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestOpen_UsefulThenReady(t *testing.T) {
	src := library.New(nil)
	for i := range 30 {
		mustAdd(t, src, track("Artist", fmt.Sprintf("Album %d", i%3), fmt.Sprintf("Song %02d", i)))
	}
	path := filepath.Join(t.TempDir(), "library.smjg")
	if err := src.Save(path); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	l, loader := library.Open(ctx, path, nil, &docfile.LoadOptions{UsefulThreshold: 5})
	<-loader.Useful()
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(l.Search("song")); got != 30 {
		t.Fatalf("Search(song) = %d results, want 30", got)
	}
	if l.Stats() != src.Stats() {
		t.Fatalf("stats = %+v, want %+v", l.Stats(), src.Stats())
	}
}
