package nodegraph

// Collapse bounds a collapsing removal.
//
// The removed node is level 0, its parents level 1 and its grandparents
// level 2. An ancestor is removed too when it is left with no children and
// no grandchildren, it is not a root or collection root, and its level is at
// most High. OnRemove runs for every removed node whose level is at least Low.
type Collapse struct {
	High     int
	Low      int
	OnRemove func(Removed)
}

// Removed describes one node detached by RemoveCollapse. Name is captured
// before detaching since the node may be destroyed by then.
type Removed struct {
	Level int
	ID    ID
	Kind  Kind
	Name  string
}

// RemoveCollapse detaches id like Remove and then walks upward, removing
// ancestors that became empty. Callbacks run after the store lock is
// released, in removal order.
func (s *Store) RemoveCollapse(id ID, c Collapse) error {
	var removed []Removed
	err := s.update(func(b *batch) error {
		n, err := s.get(id)
		if err != nil {
			return err
		}
		s.collapse(n, 0, c.High, make(map[ID]bool), &removed, b)
		return nil
	})
	if err != nil {
		return err
	}
	if c.OnRemove != nil {
		for _, r := range removed {
			if r.Level >= c.Low {
				c.OnRemove(r)
			}
		}
	}
	return nil
}

func (s *Store) collapse(n *node, level, high int, seen map[ID]bool, out *[]Removed, b *batch) {
	seen[n.id] = true
	name, _ := s.resolve(n).props[PropName].AsString()
	*out = append(*out, Removed{Level: level, ID: n.id, Kind: n.kind, Name: name})

	type candidate struct {
		id    ID
		level int
	}
	var next []candidate
	for _, p := range sortedIDs(n.parents) {
		next = append(next, candidate{p, level + 1})
	}
	for _, gp := range sortedIDs(n.grandparents) {
		next = append(next, candidate{gp, level + 2})
	}

	s.detach(n, b)

	for _, c := range next {
		if c.level > high || seen[c.id] {
			continue
		}
		an, ok := s.nodes[c.id]
		if !ok || an.kind == KindRoot || an.kind.IsCollectionRoot() {
			continue
		}
		if len(an.children) > 0 || len(an.grandchildren) > 0 {
			continue
		}
		s.collapse(an, c.level, high, seen, out, b)
	}
}
