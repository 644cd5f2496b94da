// Package nodegraph is the in-memory entity graph behind the music library.
// Every artist, album and song is a node addressed by an integer ID. Nodes are
// linked by parent/child edges and by an independently maintained
// grandparent/grandchild cache, so a song reaches its artist in one hop.
//
// Node lifetime is shared ownership: a node starts with one share held by its
// creator, every owning parent edge adds a share, and the node is destroyed
// when the count drops to zero. Collection roots (all genres, all artists,
// all albums, all songs) link nodes without taking a share.
package nodegraph

import (
	"errors"
	"fmt"
	"strconv"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when an operation names an unknown or already
	// destroyed node.
	ErrNotFound = errors.New("nodegraph: not found")

	// ErrPropertyNotSet is returned by property reads for keys that were never
	// set. It wraps ErrNotFound.
	ErrPropertyNotSet = fmt.Errorf("%w: property not set", ErrNotFound)

	// ErrExists is returned when registering an ID that is already live.
	ErrExists = errors.New("nodegraph: id already registered")

	// ErrSelfLink is returned when a node is linked to itself.
	ErrSelfLink = errors.New("nodegraph: node cannot be linked to itself")

	// ErrAliasCycle is returned when an alias would point at itself or
	// when a node that other aliases point at is turned into an alias.
	ErrAliasCycle = errors.New("nodegraph: alias would form a chain")
)

// ID identifies a node. Zero is never a valid node ID.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Kind tags what a node represents.
type Kind uint8

const (
	KindGeneric Kind = iota
	KindRoot
	KindGenre
	KindArtist
	KindAlbum
	KindSong
	KindAllGenres
	KindAllArtists
	KindAllAlbums
	KindAllSongs
)

var kindNames = [...]string{
	KindGeneric:    "generic",
	KindRoot:       "root",
	KindGenre:      "genre",
	KindArtist:     "artist",
	KindAlbum:      "album",
	KindSong:       "song",
	KindAllGenres:  "all-genres",
	KindAllArtists: "all-artists",
	KindAllAlbums:  "all-albums",
	KindAllSongs:   "all-songs",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), true
		}
	}
	return 0, false
}

// IsCollectionRoot reports whether nodes of this kind link their children
// without owning them.
func (k Kind) IsCollectionRoot() bool {
	return k >= KindAllGenres && k <= KindAllSongs
}

// PropKey names a node property.
type PropKey uint8

const (
	PropName PropKey = iota + 1
	PropLocation
	PropTrack
	PropDisc
	PropYear
	PropDuration
	PropBitrate
	PropSampleRate
	PropFileSize
	PropMtime
	PropGenre
)

var propNames = map[PropKey]string{
	PropName:       "name",
	PropLocation:   "location",
	PropTrack:      "track",
	PropDisc:       "disc",
	PropYear:       "year",
	PropDuration:   "duration",
	PropBitrate:    "bitrate",
	PropSampleRate: "samplerate",
	PropFileSize:   "filesize",
	PropMtime:      "mtime",
	PropGenre:      "genre",
}

func (k PropKey) String() string {
	if name, ok := propNames[k]; ok {
		return name
	}
	return "prop(" + strconv.Itoa(int(k)) + ")"
}

// ParsePropKey is the inverse of PropKey.String.
func ParsePropKey(s string) (PropKey, bool) {
	for k, name := range propNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Value is a typed property value: either a string or an int64.
// The zero Value is invalid and never stored.
type Value struct {
	typ valueType
	str string
	num int64
}

type valueType uint8

const (
	valueString valueType = iota + 1
	valueInt
)

// StringValue wraps s.
func StringValue(s string) Value { return Value{typ: valueString, str: s} }

// IntValue wraps n.
func IntValue(n int64) Value { return Value{typ: valueInt, num: n} }

// IsValid reports whether v was built with StringValue or IntValue.
func (v Value) IsValid() bool { return v.typ != 0 }

// IsString reports whether v holds a string.
func (v Value) IsString() bool { return v.typ == valueString }

// IsInt reports whether v holds an integer.
func (v Value) IsInt() bool { return v.typ == valueInt }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) {
	return v.str, v.typ == valueString
}

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) {
	return v.num, v.typ == valueInt
}

func (v Value) String() string {
	switch v.typ {
	case valueString:
		return v.str
	case valueInt:
		return strconv.FormatInt(v.num, 10)
	}
	return "<invalid>"
}
