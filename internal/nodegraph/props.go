package nodegraph

import (
	"fmt"
	"maps"
)

// resolve follows an alias to the node that actually stores properties.
// Aliases never chain, so one hop is enough.
func (s *Store) resolve(n *node) *node {
	if n.canonical == 0 {
		return n
	}
	if cn, ok := s.nodes[n.canonical]; ok {
		return cn
	}
	return n
}

// SetProperty writes one property. Writes on an alias land on its canonical
// node, and the changed event is raised there, followed by child-changed on
// each of that node's parents.
func (s *Store) SetProperty(id ID, key PropKey, v Value) error {
	return s.SetProperties(id, map[PropKey]Value{key: v})
}

// SetProperties writes several properties with a single changed event.
func (s *Store) SetProperties(id ID, props map[PropKey]Value) error {
	for k, v := range props {
		if !v.IsValid() {
			return fmt.Errorf("nodegraph: invalid value for %s", k)
		}
	}
	return s.update(func(b *batch) error {
		n, err := s.get(id)
		if err != nil {
			return err
		}
		t := s.resolve(n)
		maps.Copy(t.props, props)
		s.changed(t, b)
		return nil
	})
}

func (s *Store) changed(n *node, b *batch) {
	b.emit(EventChanged, n.id, 0)
	for _, p := range sortedIDs(n.parents) {
		b.emit(EventChildChanged, p, n.id)
	}
}

// Property reads one property through the alias redirect. A key that was
// never set yields ErrPropertyNotSet, never a zero placeholder.
func (s *Store) Property(id ID, key PropKey) (Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.get(id)
	if err != nil {
		return Value{}, err
	}
	v, ok := s.resolve(n).props[key]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s on node %d", ErrPropertyNotSet, key, id)
	}
	return v, nil
}

// StringProperty returns a string property, or "" and false when it is
// absent or not a string.
func (s *Store) StringProperty(id ID, key PropKey) (string, bool) {
	v, err := s.Property(id, key)
	if err != nil {
		return "", false
	}
	return v.AsString()
}

// IntProperty returns an integer property, or 0 and false when it is absent
// or not an integer.
func (s *Store) IntProperty(id ID, key PropKey) (int64, bool) {
	v, err := s.Property(id, key)
	if err != nil {
		return 0, false
	}
	return v.AsInt()
}

// Properties returns a copy of the properties visible through id.
func (s *Store) Properties(id ID) (map[PropKey]Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return maps.Clone(s.resolve(n).props), nil
}

// SetAlias turns id into an alias of canonical. Any properties id held are
// dropped. The alias holds one ownership share on its canonical node. If
// canonical is itself an alias, its target is used instead.
func (s *Store) SetAlias(id, canonical ID) error {
	return s.update(func(b *batch) error {
		n, err := s.get(id)
		if err != nil {
			return err
		}
		cn, err := s.get(canonical)
		if err != nil {
			return err
		}
		cn = s.resolve(cn)
		if cn == n || n.aliases > 0 {
			return fmt.Errorf("%w: %d -> %d", ErrAliasCycle, id, canonical)
		}
		if n.canonical == cn.id {
			return nil
		}
		cn.refs++
		cn.aliases++
		if old, ok := s.nodes[n.canonical]; ok && n.canonical != 0 {
			old.aliases--
			s.release(old, 1, b)
		}
		n.canonical = cn.id
		n.props = nil
		b.emit(EventChanged, n.id, 0)
		return nil
	})
}

// CreateAlias creates a node of kind that aliases canonical.
func (s *Store) CreateAlias(kind Kind, canonical ID) (ID, error) {
	id := s.Create(kind)
	if err := s.SetAlias(id, canonical); err != nil {
		s.Release(id, 1)
		return 0, err
	}
	return id, nil
}

// Canonical returns the node that stores id's properties: id itself for a
// direct node, its target for an alias.
func (s *Store) Canonical(id ID) (ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.get(id)
	if err != nil {
		return 0, err
	}
	return s.resolve(n).id, nil
}

// IsAlias reports whether id is a live alias node.
func (s *Store) IsAlias(id ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return ok && n.canonical != 0
}
