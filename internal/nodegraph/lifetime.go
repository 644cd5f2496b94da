package nodegraph

import "fmt"

// Retain adds n ownership shares to a node.
func (s *Store) Retain(id ID, n int) error {
	if n < 0 {
		return fmt.Errorf("nodegraph: negative retain count %d", n)
	}
	return s.update(func(*batch) error {
		nd, err := s.get(id)
		if err != nil {
			return err
		}
		nd.refs += n
		return nil
	})
}

// Release drops n ownership shares. The node is destroyed when its count
// reaches zero.
func (s *Store) Release(id ID, n int) error {
	if n < 0 {
		return fmt.Errorf("nodegraph: negative release count %d", n)
	}
	return s.update(func(b *batch) error {
		nd, err := s.get(id)
		if err != nil {
			return err
		}
		if n > nd.refs {
			return fmt.Errorf("nodegraph: release %d of node %d with %d shares", n, id, nd.refs)
		}
		s.release(nd, n, b)
		return nil
	})
}

// Refs returns the current ownership count of a node.
func (s *Store) Refs(id ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.get(id)
	if err != nil {
		return 0, err
	}
	return n.refs, nil
}

func (s *Store) release(n *node, count int, b *batch) {
	if n.dead {
		return
	}
	n.refs -= count
	if n.refs <= 0 {
		s.destroy(n, b)
	}
}

// destroy announces the node, severs every edge, then drops its registration.
// Owned children and the alias target lose one share each and are destroyed
// in turn if that was their last.
func (s *Store) destroy(n *node, b *batch) {
	n.dead = true
	n.refs = 0
	b.emit(EventDestroyed, n.id, 0)

	for _, p := range sortedIDs(n.parents) {
		if pn, ok := s.nodes[p]; ok {
			delete(pn.children, n.id)
			b.emit(EventChildDestroyed, p, n.id)
		}
	}
	for gp := range n.grandparents {
		if gn, ok := s.nodes[gp]; ok {
			delete(gn.grandchildren, n.id)
		}
	}
	for gc := range n.grandchildren {
		if gn, ok := s.nodes[gc]; ok {
			delete(gn.grandparents, n.id)
		}
	}
	delete(s.nodes, n.id)

	children := n.children
	canonical := n.canonical
	n.parents, n.children, n.grandparents, n.grandchildren = nil, nil, nil, nil
	n.props = nil
	s.logger.Debug("node destroyed", "id", n.id, "kind", n.kind)

	for _, c := range sortedIDs(children) {
		cn, ok := s.nodes[c]
		if !ok {
			continue
		}
		delete(cn.parents, n.id)
		if children[c] {
			s.release(cn, 1, b)
		}
	}
	if canonical != 0 {
		if cn, ok := s.nodes[canonical]; ok {
			cn.aliases--
			s.release(cn, 1, b)
		}
	}
}
