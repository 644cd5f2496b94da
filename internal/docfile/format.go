// Package docfile persists a node graph as one flat document per library
// root. Nodes are written as independent records that reference each other
// by ID, so the document is a list rather than a tree, and loading resolves
// references against the IDs registered so far.
package docfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"lukechampine.com/blake3"

	"smj-graph/internal/nodegraph"
)

// File layout:
//
//	[4]  magic "SMJG"
//	[2]  format version, big-endian
//	[32] blake3-256 of the compressed body
//	body: zstd( msgpack header, then header.Count msgpack records )
//
// A document whose magic, version or checksum does not match is discarded
// as a whole.

const (
	// Version is the only format version this package reads or writes.
	Version uint16 = 1

	magic      = "SMJG"
	prefixSize = len(magic) + 2 + 32
)

// Sentinel errors.
var (
	// ErrFormatMismatch is returned for documents with a foreign magic, a
	// different version, a bad checksum or an undecodable body. Callers treat
	// such documents as absent.
	ErrFormatMismatch = errors.New("docfile: format mismatch")

	// ErrConsistency is returned when a document references a grandparent
	// or alias target that is not registered before the referencing record,
	// or reuses an ID. The load is abandoned before touching the graph.
	ErrConsistency = errors.New("docfile: consistency violation")
)

// Entry is one node record in document order.
type Entry struct {
	ID           nodegraph.ID
	Kind         nodegraph.Kind
	Alias        nodegraph.ID
	Props        map[nodegraph.PropKey]nodegraph.Value
	Parents      []nodegraph.ID
	Grandparents []nodegraph.ID
}

// Document is a decoded graph file.
type Document struct {
	Root    nodegraph.ID
	Entries []Entry
}

type header struct {
	Root  uint64 `msgpack:"root"`
	Count int    `msgpack:"count"`
}

type record struct {
	ID           uint64   `msgpack:"id"`
	Kind         string   `msgpack:"kind"`
	Alias        uint64   `msgpack:"alias,omitempty"`
	Props        []prop   `msgpack:"props,omitempty"`
	Parents      []uint64 `msgpack:"parents,omitempty"`
	Grandparents []uint64 `msgpack:"grandparents,omitempty"`
}

type prop struct {
	Key   string `msgpack:"k"`
	IsInt bool   `msgpack:"n,omitempty"`
	Str   string `msgpack:"s,omitempty"`
	Int   int64  `msgpack:"i,omitempty"`
}

// Encode writes doc in the file format.
func Encode(w io.Writer, doc *Document) error {
	var body bytes.Buffer
	zw, err := zstd.NewWriter(&body)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	enc := msgpack.NewEncoder(zw)
	if err := enc.Encode(header{Root: uint64(doc.Root), Count: len(doc.Entries)}); err != nil {
		zw.Close()
		return fmt.Errorf("encoding header: %w", err)
	}
	for _, e := range doc.Entries {
		if err := enc.Encode(toRecord(e)); err != nil {
			zw.Close()
			return fmt.Errorf("encoding node %d: %w", e.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compressing: %w", err)
	}

	prefix := make([]byte, 0, prefixSize)
	prefix = append(prefix, magic...)
	prefix = binary.BigEndian.AppendUint16(prefix, Version)
	sum := blake3.Sum256(body.Bytes())
	prefix = append(prefix, sum[:]...)

	if _, err := w.Write(prefix); err != nil {
		return err
	}
	_, err = w.Write(body.Bytes())
	return err
}

// Decode parses a whole document. Any framing or decoding problem is
// reported as ErrFormatMismatch.
func Decode(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < prefixSize || string(data[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: not a graph document", ErrFormatMismatch)
	}
	if v := binary.BigEndian.Uint16(data[len(magic):]); v != Version {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrFormatMismatch, v, Version)
	}
	body := data[prefixSize:]
	sum := blake3.Sum256(body)
	if !bytes.Equal(sum[:], data[len(magic)+2:prefixSize]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrFormatMismatch)
	}

	zr, err := zstd.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormatMismatch, err)
	}
	defer zr.Close()
	dec := msgpack.NewDecoder(zr)

	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrFormatMismatch, err)
	}
	if h.Count < 0 {
		return nil, fmt.Errorf("%w: negative record count", ErrFormatMismatch)
	}
	doc := &Document{Root: nodegraph.ID(h.Root), Entries: make([]Entry, 0, h.Count)}
	for i := 0; i < h.Count; i++ {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrFormatMismatch, i, err)
		}
		e, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		doc.Entries = append(doc.Entries, e)
	}
	return doc, nil
}

func toRecord(e Entry) record {
	rec := record{
		ID:           uint64(e.ID),
		Kind:         e.Kind.String(),
		Alias:        uint64(e.Alias),
		Parents:      toUints(e.Parents),
		Grandparents: toUints(e.Grandparents),
	}
	for _, k := range sortedKeys(e.Props) {
		v := e.Props[k]
		p := prop{Key: k.String()}
		if n, ok := v.AsInt(); ok {
			p.IsInt, p.Int = true, n
		} else {
			p.Str, _ = v.AsString()
		}
		rec.Props = append(rec.Props, p)
	}
	return rec
}

func fromRecord(rec record) (Entry, error) {
	kind, ok := nodegraph.ParseKind(rec.Kind)
	if !ok {
		return Entry{}, fmt.Errorf("%w: node %d has unknown kind %q", ErrFormatMismatch, rec.ID, rec.Kind)
	}
	e := Entry{
		ID:           nodegraph.ID(rec.ID),
		Kind:         kind,
		Alias:        nodegraph.ID(rec.Alias),
		Parents:      toIDs(rec.Parents),
		Grandparents: toIDs(rec.Grandparents),
	}
	if len(rec.Props) > 0 {
		e.Props = make(map[nodegraph.PropKey]nodegraph.Value, len(rec.Props))
	}
	for _, p := range rec.Props {
		key, ok := nodegraph.ParsePropKey(p.Key)
		if !ok {
			return Entry{}, fmt.Errorf("%w: node %d has unknown property %q", ErrFormatMismatch, rec.ID, p.Key)
		}
		if p.IsInt {
			e.Props[key] = nodegraph.IntValue(p.Int)
		} else {
			e.Props[key] = nodegraph.StringValue(p.Str)
		}
	}
	return e, nil
}

func toUints(ids []nodegraph.ID) []uint64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}

func toIDs(ns []uint64) []nodegraph.ID {
	if len(ns) == 0 {
		return nil
	}
	out := make([]nodegraph.ID, len(ns))
	for i, n := range ns {
		out[i] = nodegraph.ID(n)
	}
	return out
}
