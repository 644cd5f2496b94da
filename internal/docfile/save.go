package docfile

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"smj-graph/internal/nodegraph"
)

// Build flattens everything reachable from root into a document. Records
// are ordered so that every node follows its parents, its grandparents and
// its alias target, which is the order Load needs to resolve references.
// Edges to nodes outside the reachable set are dropped.
func Build(store *nodegraph.Store, root nodegraph.ID) (*Document, error) {
	snap := store.Snapshot()
	if _, ok := snap[root]; !ok {
		return nil, fmt.Errorf("%w: root %d", nodegraph.ErrNotFound, root)
	}

	// Reachability follows children downward and alias targets sideways.
	reach := map[nodegraph.ID]bool{root: true}
	stack := []nodegraph.ID{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		info := snap[id]
		next := info.Children
		if info.Canonical != 0 {
			next = append(slices.Clone(next), info.Canonical)
		}
		for _, c := range next {
			if _, live := snap[c]; live && !reach[c] {
				reach[c] = true
				stack = append(stack, c)
			}
		}
	}

	doc := &Document{Root: root, Entries: make([]Entry, 0, len(reach))}
	emitted := make(map[nodegraph.ID]bool, len(reach))
	onPath := make(map[nodegraph.ID]bool)

	var visit func(id nodegraph.ID)
	visit = func(id nodegraph.ID) {
		if emitted[id] || onPath[id] {
			return
		}
		onPath[id] = true
		info := snap[id]
		for _, dep := range ancestors(info) {
			if reach[dep] {
				visit(dep)
			}
		}
		onPath[id] = false
		emitted[id] = true
		doc.Entries = append(doc.Entries, Entry{
			ID:           id,
			Kind:         info.Kind,
			Alias:        info.Canonical,
			Props:        info.Props,
			Parents:      within(info.Parents, reach),
			Grandparents: within(info.Grandparents, reach),
		})
	}

	visit(root)
	for _, id := range slices.Sorted(maps.Keys(reach)) {
		visit(id)
	}
	return doc, nil
}

// ancestors lists the nodes that must be written before info: grandparents
// and alias target first since a miss there fails the load, then parents.
func ancestors(info nodegraph.NodeInfo) []nodegraph.ID {
	deps := slices.Clone(info.Grandparents)
	if info.Canonical != 0 {
		deps = append(deps, info.Canonical)
	}
	return append(deps, info.Parents...)
}

func within(ids []nodegraph.ID, set map[nodegraph.ID]bool) []nodegraph.ID {
	var out []nodegraph.ID
	for _, id := range ids {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}

// Save writes the graph below root to path, replacing any existing file
// only once the new one is complete.
func Save(store *nodegraph.Store, root nodegraph.ID, path string) error {
	doc, err := Build(store, root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating document directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, doc); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile decodes the document at path.
func ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

func sortedKeys(m map[nodegraph.PropKey]nodegraph.Value) []nodegraph.PropKey {
	return slices.Sorted(maps.Keys(m))
}
