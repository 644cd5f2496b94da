package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"smj-graph/internal/datastore"
)

func TestCommatize(t *testing.T) {
	for n, want := range map[int]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1234567:  "1,234,567",
		-1234567: "-1,234,567",
	} {
		if got := commatize(n); got != want {
			t.Errorf("commatize(%d) = %q, want %q", n, got, want)
		}
	}
}

var results = []datastore.Media{
	{Artist: "Charles Mingus", Album: "Mingus Ah Um", Title: "Better Git It", Path: "/m/1.mp3"},
	{Artist: "Charles Mingus", Album: "Mingus Ah Um", Title: "Fables of Faubus", Path: "/m/2.mp3"},
	{Artist: "Dave Brubeck", Album: "Time Out", Title: "Take Five", Path: "/b/1.mp3"},
}

func TestJsonizer(t *testing.T) {
	out, err := jsonizer(results, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]map[string][]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if tracks := got["Charles Mingus"]["Mingus Ah Um"]; len(tracks) != 2 || tracks[1] != "Fables of Faubus" {
		t.Fatalf("mingus = %v", tracks)
	}
	if strings.Contains(out, "\n") {
		t.Fatal("indent 0 produced indented output")
	}

	out, err = jsonizer(results[2:], true, 4)
	if err != nil {
		t.Fatal(err)
	}
	var withPaths map[string]map[string][]map[string]string
	if err := json.Unmarshal([]byte(out), &withPaths); err != nil {
		t.Fatal(err)
	}
	if tr := withPaths["Dave Brubeck"]["Time Out"][0]; tr["path"] != "/b/1.mp3" || tr["title"] != "Take Five" {
		t.Fatalf("track = %v", tr)
	}
	if !strings.Contains(out, "\n    \"Dave Brubeck\"") {
		t.Fatalf("indent not applied:\n%s", out)
	}
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, results)
	out := buf.String()
	for _, want := range []string{"Charles Mingus", "Time Out", "[ 1 ] Better Git It", "[ 3 ] Take Five", "3 matching tracks."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "Mingus Ah Um") != 1 {
		t.Errorf("album heading repeated:\n%s", out)
	}

	buf.Reset()
	printResults(&buf, nil)
	if strings.TrimSpace(buf.String()) != "No results found." {
		t.Fatalf("empty output = %q", buf.String())
	}
}

func TestStats_GraphStore(t *testing.T) {
	store, err := datastore.New(datastore.BackendGraph, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Initialize(t.TempDir() + "/lib.smjg"); err != nil {
		t.Fatal(err)
	}
	batch := make([]*datastore.Media, len(results))
	for i := range results {
		m := results[i]
		m.Genre = "Jazz"
		batch[i] = &m
	}
	if err := store.IndexMediaBatch(batch); err != nil {
		t.Fatal(err)
	}
	rows, err := collectStats(store)
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]int)
	for _, r := range rows {
		got[r.Name] = r.Count
	}
	if got["songs"] != 3 || got["albums"] != 2 || got["artists"] != 2 || got["genres"] != 1 {
		t.Fatalf("stats = %v", got)
	}

	var buf bytes.Buffer
	if err := printStatsJSON(&buf, rows); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"index_keys"`) {
		t.Fatalf("json stats = %s", buf.String())
	}
}
