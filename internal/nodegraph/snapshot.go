package nodegraph

import "maps"

// NodeInfo is a point-in-time copy of one node. Props holds only the node's
// own properties; an alias has none and reports its target in Canonical.
type NodeInfo struct {
	ID           ID
	Kind         Kind
	Canonical    ID
	Props        map[PropKey]Value
	Parents      []ID
	Children     []ID
	Grandparents []ID
}

// Snapshot copies every live node under one read lock, so the result is
// consistent even while writers are active.
func (s *Store) Snapshot() map[ID]NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ID]NodeInfo, len(s.nodes))
	for id, n := range s.nodes {
		out[id] = NodeInfo{
			ID:           id,
			Kind:         n.kind,
			Canonical:    n.canonical,
			Props:        maps.Clone(n.props),
			Parents:      sortedIDs(n.parents),
			Children:     sortedIDs(n.children),
			Grandparents: sortedIDs(n.grandparents),
		}
	}
	return out
}

// Info returns a copy of a single node.
func (s *Store) Info(id ID) (NodeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.get(id)
	if err != nil {
		return NodeInfo{}, err
	}
	return NodeInfo{
		ID:           id,
		Kind:         n.kind,
		Canonical:    n.canonical,
		Props:        maps.Clone(n.props),
		Parents:      sortedIDs(n.parents),
		Children:     sortedIDs(n.children),
		Grandparents: sortedIDs(n.grandparents),
	}, nil
}
