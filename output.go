package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"smj-graph/internal/datastore"
)

var (
	artistStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	albumStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
)

// jsonizer nests results as artist -> album -> tracks. A track is its title,
// or a {title, path} object when showPaths is set.
func jsonizer(results []datastore.Media, showPaths bool, indent int) (string, error) {
	type albumMap map[string][]any
	type artistMap map[string]albumMap

	hierarchy := make(artistMap)
	for _, m := range results {
		if _, ok := hierarchy[m.Artist]; !ok {
			hierarchy[m.Artist] = make(albumMap)
		}
		var track any = m.Title
		if showPaths {
			track = map[string]string{"title": m.Title, "path": m.Path}
		}
		hierarchy[m.Artist][m.Album] = append(hierarchy[m.Artist][m.Album], track)
	}

	var (
		b   []byte
		err error
	)
	if indent > 0 {
		b, err = json.MarshalIndent(hierarchy, "", strings.Repeat(" ", indent))
	} else {
		b, err = json.Marshal(hierarchy)
	}
	return string(b), err
}

// printResults lists results grouped under artist and album headings with a
// running index.
func printResults(w io.Writer, results []datastore.Media) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}
	width := int(math.Log10(float64(len(results)))) + 1

	var lastArtist, lastAlbum string
	for i, r := range results {
		if i == 0 || lastArtist != r.Artist {
			fmt.Fprintf(w, "\n %s\n%s\n", artistStyle.Render(r.Artist), strings.Repeat("=", lipgloss.Width(r.Artist)+1))
			lastAlbum = ""
		}
		if i == 0 || lastAlbum != r.Album {
			fmt.Fprintf(w, "\n  %s\n   %s\n", albumStyle.Render(r.Album), strings.Repeat("-", lipgloss.Width(r.Album)))
		}
		fmt.Fprintf(w, "    %s %s\n", dimStyle.Render(fmt.Sprintf("[ %*d ]", width, i+1)), r.Title)
		lastArtist, lastAlbum = r.Artist, r.Album
	}
	fmt.Fprintf(w, "\n%s matching tracks.\n", commatize(len(results)))
}

type statRow struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// collectStats returns per-kind counts for the graph backend and the track
// count for the others.
func collectStats(store datastore.Datastore) ([]statRow, error) {
	if g, ok := store.(*datastore.GraphStore); ok {
		st := g.Library().Stats()
		return []statRow{
			{"songs", st.Songs},
			{"aliases", st.Aliases},
			{"albums", st.Albums},
			{"artists", st.Artists},
			{"genres", st.Genres},
			{"nodes", st.Nodes},
			{"index keys", st.IndexKeys},
		}, nil
	}
	n, err := store.Count()
	if err != nil {
		return nil, err
	}
	return []statRow{{"songs", n}}, nil
}

func printStats(w io.Writer, backend string, rows []statRow) {
	fmt.Fprintln(w, artistStyle.Render("Library ("+backend+")"))
	for _, r := range rows {
		fmt.Fprintf(w, "  %-12s %12s\n", r.Name, commatize(r.Count))
	}
}

func printStatsJSON(w io.Writer, rows []statRow) error {
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[strings.ReplaceAll(r.Name, " ", "_")] = r.Count
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func commatize(n int) string {
	s := strconv.Itoa(n)
	sign := ""
	if n < 0 {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}
	var res []string
	for len(s) > 3 {
		res = append(res, s[len(s)-3:])
		s = s[:len(s)-3]
	}
	res = append(res, s)
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return sign + strings.Join(res, ",")
}

const syntaxGuide = `
# SMJ7-Style Syntax

SMJ7 supports a syntax for chaining queries together using single-character notation.
You can combine multiple parameters; like-type parameters will be logically ORed and
unlike-type parameters will be logically ANDed together.

!<some string>                      - Search for genres matching the string
@<some string>                      - Search for artists matching the string
#<some string>                      - Search for albums matching the string
$<some string>                      - Search for tracks matching the string
<some string>                       - Search for artists, albums, or tracks matching the string

## Combinations

Parameters are comma-separated, and combined logically as mentioned above. All strings are
searched case-insensitively and will match on partial hits.

@artist1, @artist2                  - Would search for any songs by either artist1 or artist2
@artist1, #album1                   - Would search for any albums with "albums1" in it by any artist with "artist1" in it.
something1                          - Would search for anything matching "something1", in any field
something1, $track1                 - Would search for any tracks matching "track1" that have "something1" related to them

## Common Uses

term1, term2, term3                 - Keep searching everything until the additional terms yield the specificity you wish
@artist1, @artist2, #greatest hits  - List the "Greatest Hits" albums by both artist1 and artist2
@artist, #album, $tracknumber       - Find a specific track off of a specific album, useful when live albums exist alongside

## Examples

@mingus, @coltrane, @brubeck        - Would list some assorted jazz tracks by these 3 artists
@rolling stones, #greatest          - Would match "Greatest Hits" by "The Rolling Stones"
@decemberists, #live, $infanta      - Would match the live version of "Infanta" by "The Decemberists"

When invoking from the command line, encapsulate your SMJ7-style query in quotes so that
your shell passes it through intact:

smj-graph search "@rolling stones, #greatest"
smj-graph search --json --show-paths "@decemberists, #live"

# Bleve Backend Features

With --backend bleve, a query without SMJ7 prefixes or commas is a standard Bleve query:

title:love~2                       - Fuzzy match title for "love" with edit distance 2
+artist:queen -title:live          - Must be Queen, must not be "live"
`
