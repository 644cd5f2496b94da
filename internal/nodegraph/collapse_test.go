package nodegraph_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"smj-graph/internal/nodegraph"
)

// buildLibrary creates root -> artist -> album -> song with the artist
// cached as the song's grandparent and all creator shares released.
func buildLibrary(t *testing.T, s *nodegraph.Store) (root, artist, album, song nodegraph.ID) {
	t.Helper()
	root = s.Create(nodegraph.KindRoot)
	artist = s.CreateWith(nodegraph.KindArtist, map[nodegraph.PropKey]nodegraph.Value{
		nodegraph.PropName: nodegraph.StringValue("Miles Davis"),
	})
	album = s.CreateWith(nodegraph.KindAlbum, map[nodegraph.PropKey]nodegraph.Value{
		nodegraph.PropName: nodegraph.StringValue("Kind of Blue"),
	})
	song = s.Create(nodegraph.KindSong)
	for _, e := range [][2]nodegraph.ID{{root, artist}, {artist, album}, {album, song}} {
		if err := s.AddChild(e[0], e[1]); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.AddGrandchild(artist, song); err != nil {
		t.Fatal(err)
	}
	for _, id := range []nodegraph.ID{artist, album, song} {
		s.Release(id, 1)
	}
	return root, artist, album, song
}

func TestRemoveCollapse_WalksUp(t *testing.T) {
	s := nodegraph.New(nil)
	root, artist, album, song := buildLibrary(t, s)

	var removed []nodegraph.Removed
	err := s.RemoveCollapse(song, nodegraph.Collapse{
		High:     2,
		Low:      1,
		OnRemove: func(r nodegraph.Removed) { removed = append(removed, r) },
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []nodegraph.Removed{
		{Level: 1, ID: album, Kind: nodegraph.KindAlbum, Name: "Kind of Blue"},
		{Level: 2, ID: artist, Kind: nodegraph.KindArtist, Name: "Miles Davis"},
	}
	if !slices.Equal(removed, want) {
		t.Fatalf("removed = %+v, want %+v", removed, want)
	}
	for _, id := range []nodegraph.ID{song, album, artist} {
		if s.Exists(id) {
			t.Fatalf("node %d survived the collapse", id)
		}
	}
	if !s.Exists(root) {
		t.Fatal("root was collapsed")
	}
}

func TestRemoveCollapse_StopsAtHigh(t *testing.T) {
	s := nodegraph.New(nil)
	_, artist, album, song := buildLibrary(t, s)

	var levels []int
	s.RemoveCollapse(song, nodegraph.Collapse{
		High:     1,
		OnRemove: func(r nodegraph.Removed) { levels = append(levels, r.Level) },
	})
	if !slices.Equal(levels, []int{0, 1}) {
		t.Fatalf("levels = %v, want [0 1]", levels)
	}
	if s.Exists(album) {
		t.Fatal("album survived")
	}
	if !s.Exists(artist) {
		t.Fatal("artist collapsed beyond the high bound")
	}
}

func TestRemoveCollapse_KeepsNonEmptyAncestors(t *testing.T) {
	s := nodegraph.New(nil)
	_, artist, album, song := buildLibrary(t, s)
	other := s.Create(nodegraph.KindSong)
	s.AddChild(album, other)
	s.Release(other, 1)

	var removed []nodegraph.Removed
	s.RemoveCollapse(song, nodegraph.Collapse{
		High:     2,
		Low:      1,
		OnRemove: func(r nodegraph.Removed) { removed = append(removed, r) },
	})
	if len(removed) != 0 {
		t.Fatalf("removed = %+v, want none", removed)
	}
	if !s.Exists(album) || !s.Exists(artist) || !s.Exists(other) {
		t.Fatal("non-empty ancestors were removed")
	}
}

func TestDispatcher_RunDeliversOnOneGoroutine(t *testing.T) {
	d := nodegraph.NewDispatcher(16, 5*time.Millisecond)
	s := nodegraph.New(&nodegraph.Options{Dispatcher: d})

	got := make(chan nodegraph.Event, 16)
	d.Subscribe(func(e nodegraph.Event) { got <- e })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	a := s.Create(nodegraph.KindAlbum)
	b := s.Create(nodegraph.KindSong)
	s.AddChild(a, b)

	select {
	case e := <-got:
		if e.Kind != nodegraph.EventChildAdded || e.Node != a || e.Child != b {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}
