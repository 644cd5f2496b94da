package nodegraph

import "fmt"

func (s *Store) pair(a, b ID) (*node, *node, error) {
	if a == b {
		return nil, nil, fmt.Errorf("%w: %d", ErrSelfLink, a)
	}
	an, err := s.get(a)
	if err != nil {
		return nil, nil, err
	}
	bn, err := s.get(b)
	if err != nil {
		return nil, nil, err
	}
	return an, bn, nil
}

// AddChild links child under parent. The edge holds an ownership share on
// child unless parent is a collection root. Adding an existing edge is a
// no-op and raises no event.
func (s *Store) AddChild(parent, child ID) error {
	return s.update(func(b *batch) error {
		pn, cn, err := s.pair(parent, child)
		if err != nil {
			return err
		}
		s.link(pn, cn, !pn.kind.IsCollectionRoot(), b)
		return nil
	})
}

func (s *Store) link(pn, cn *node, owning bool, b *batch) {
	if _, ok := pn.children[cn.id]; ok {
		return
	}
	pn.children[cn.id] = owning
	cn.parents[pn.id] = struct{}{}
	if owning {
		cn.refs++
	}
	b.emit(EventChildAdded, pn.id, cn.id)
}

// RemoveChild severs the parent/child edge, releasing the parent's share.
// Removing a missing edge is a no-op.
func (s *Store) RemoveChild(parent, child ID) error {
	return s.update(func(b *batch) error {
		pn, cn, err := s.pair(parent, child)
		if err != nil {
			return err
		}
		s.unlink(pn, cn, b)
		return nil
	})
}

func (s *Store) unlink(pn, cn *node, b *batch) {
	owning, ok := pn.children[cn.id]
	if !ok {
		return
	}
	delete(pn.children, cn.id)
	delete(cn.parents, pn.id)
	if owning {
		s.release(cn, 1, b)
	}
}

// AddGrandchild records the two-hop shortcut grandparent -> grandchild.
// Grandparent edges never hold ownership shares.
func (s *Store) AddGrandchild(grandparent, grandchild ID) error {
	return s.update(func(*batch) error {
		gp, gc, err := s.pair(grandparent, grandchild)
		if err != nil {
			return err
		}
		gp.grandchildren[gc.id] = struct{}{}
		gc.grandparents[gp.id] = struct{}{}
		return nil
	})
}

// RemoveGrandchild drops the grandparent -> grandchild shortcut.
func (s *Store) RemoveGrandchild(grandparent, grandchild ID) error {
	return s.update(func(*batch) error {
		gp, gc, err := s.pair(grandparent, grandchild)
		if err != nil {
			return err
		}
		unlinkGrand(gp, gc)
		return nil
	})
}

func unlinkGrand(gp, gc *node) {
	delete(gp.grandchildren, gc.id)
	delete(gc.grandparents, gp.id)
}

// Remove detaches a node from every parent and grandparent. The node is
// destroyed if those parents held its last shares; otherwise it lives on
// with its remaining owners.
func (s *Store) Remove(id ID) error {
	return s.update(func(b *batch) error {
		n, err := s.get(id)
		if err != nil {
			return err
		}
		s.detach(n, b)
		return nil
	})
}

func (s *Store) detach(n *node, b *batch) {
	for _, gp := range sortedIDs(n.grandparents) {
		if gn, ok := s.nodes[gp]; ok {
			unlinkGrand(gn, n)
		}
	}
	for _, p := range sortedIDs(n.parents) {
		if pn, ok := s.nodes[p]; ok {
			s.unlink(pn, n, b)
		}
		if n.dead {
			return
		}
	}
}

func (s *Store) relatives(id ID, pick func(*node) []ID) ([]ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return pick(n), nil
}

// Parents returns the direct parents of a node, ascending.
func (s *Store) Parents(id ID) ([]ID, error) {
	return s.relatives(id, func(n *node) []ID { return sortedIDs(n.parents) })
}

// Children returns the direct children of a node, ascending.
func (s *Store) Children(id ID) ([]ID, error) {
	return s.relatives(id, func(n *node) []ID { return sortedIDs(n.children) })
}

// Grandparents returns the cached grandparents of a node, ascending.
func (s *Store) Grandparents(id ID) ([]ID, error) {
	return s.relatives(id, func(n *node) []ID { return sortedIDs(n.grandparents) })
}

// Grandchildren returns the cached grandchildren of a node, ascending.
func (s *Store) Grandchildren(id ID) ([]ID, error) {
	return s.relatives(id, func(n *node) []ID { return sortedIDs(n.grandchildren) })
}

// Grandparent returns the node's grandparent. When several are cached the
// lowest ID wins. A node without one yields ErrNotFound.
func (s *Store) Grandparent(id ID) (ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.get(id)
	if err != nil {
		return 0, err
	}
	var best ID
	for gp := range n.grandparents {
		if best == 0 || gp < best {
			best = gp
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("%w: node %d has no grandparent", ErrNotFound, id)
	}
	return best, nil
}

// HasChild reports whether the parent/child edge exists.
func (s *Store) HasChild(parent, child ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pn, ok := s.nodes[parent]
	if !ok {
		return false
	}
	_, ok = pn.children[child]
	return ok
}
