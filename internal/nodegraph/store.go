package nodegraph

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
)

// node is one arena slot. A node either owns props or, when canonical is
// non-zero, delegates every property access to the canonical node.
type node struct {
	id        ID
	kind      Kind
	props     map[PropKey]Value
	canonical ID
	aliases   int // live aliases pointing here
	refs      int
	dead      bool

	parents       map[ID]struct{}
	children      map[ID]bool // true when the edge holds an ownership share
	grandparents  map[ID]struct{}
	grandchildren map[ID]struct{}
}

func newNode(id ID, kind Kind) *node {
	return &node{
		id:            id,
		kind:          kind,
		props:         make(map[PropKey]Value),
		refs:          1,
		parents:       make(map[ID]struct{}),
		children:      make(map[ID]bool),
		grandparents:  make(map[ID]struct{}),
		grandchildren: make(map[ID]struct{}),
	}
}

// Options configures a Store.
type Options struct {
	// Dispatcher receives every event. Nil drops events.
	Dispatcher *Dispatcher

	// Logger receives debug output. Nil discards it.
	Logger *log.Logger
}

// Store owns every node, edge and property. It is safe for concurrent use:
// reads share one RW lock, structural writes hold it exclusively.
type Store struct {
	mu    sync.RWMutex
	nodes map[ID]*node
	next  ID

	dispatcher *Dispatcher
	logger     *log.Logger
}

// New creates an empty Store. Pass nil for default options.
func New(opts *Options) *Store {
	s := &Store{
		nodes: make(map[ID]*node),
		next:  1,
	}
	if opts != nil {
		s.dispatcher = opts.Dispatcher
		s.logger = opts.Logger
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}
	return s
}

// batch collects the events of one mutation so they can be published after
// the lock is released, in the order they were raised.
type batch struct {
	events []Event
}

func (b *batch) emit(kind EventKind, on, child ID) {
	b.events = append(b.events, Event{Kind: kind, Node: on, Child: child})
}

func (s *Store) update(fn func(b *batch) error) error {
	b := &batch{}
	s.mu.Lock()
	err := fn(b)
	s.mu.Unlock()
	if s.dispatcher != nil && len(b.events) > 0 {
		s.dispatcher.publish(b.events)
	}
	return err
}

func (s *Store) get(id ID) (*node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: node %d", ErrNotFound, id)
	}
	return n, nil
}

// Create allocates a node of the given kind with a fresh ID. The caller holds
// the node's first ownership share and must Release it when done.
func (s *Store) Create(kind Kind) ID {
	var id ID
	s.update(func(*batch) error {
		id = s.next
		s.next++
		s.nodes[id] = newNode(id, kind)
		return nil
	})
	return id
}

// CreateWith is Create followed by setting props, without emitting a changed
// event for the initial values.
func (s *Store) CreateWith(kind Kind, props map[PropKey]Value) ID {
	var id ID
	s.update(func(*batch) error {
		id = s.next
		s.next++
		n := newNode(id, kind)
		for k, v := range props {
			if v.IsValid() {
				n.props[k] = v
			}
		}
		s.nodes[id] = n
		return nil
	})
	return id
}

// Register creates a node under a caller-chosen ID with its initial
// properties and advances the allocator past it. It is used when restoring
// persisted graphs; like Create, the caller holds the first share.
func (s *Store) Register(id ID, kind Kind, props map[PropKey]Value) error {
	if id == 0 {
		return fmt.Errorf("%w: node 0", ErrNotFound)
	}
	return s.update(func(*batch) error {
		if _, ok := s.nodes[id]; ok {
			return fmt.Errorf("%w: %d", ErrExists, id)
		}
		n := newNode(id, kind)
		for k, v := range props {
			if v.IsValid() {
				n.props[k] = v
			}
		}
		s.nodes[id] = n
		if id >= s.next {
			s.next = id + 1
		}
		return nil
	})
}

// AdvancePast guarantees every ID issued from now on is greater than id.
func (s *Store) AdvancePast(id ID) {
	s.mu.Lock()
	if id >= s.next {
		s.next = id + 1
	}
	s.mu.Unlock()
}

// NextID returns the ID the next Create will issue.
func (s *Store) NextID() ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next
}

// Len returns the number of live nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Exists reports whether id names a live node.
func (s *Store) Exists(id ID) bool {
	s.mu.RLock()
	_, ok := s.nodes[id]
	s.mu.RUnlock()
	return ok
}

// Kind returns the kind of a node.
func (s *Store) Kind(id ID) (Kind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.get(id)
	if err != nil {
		return 0, err
	}
	return n.kind, nil
}

// IDs returns every live node ID in ascending order.
func (s *Store) IDs() []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.nodes))
}

// OfKind returns the IDs of all live nodes of kind, ascending.
func (s *Store) OfKind(kind Kind) []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []ID
	for id, n := range s.nodes {
		if n.kind == kind {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func sortedIDs[V any](m map[ID]V) []ID {
	return slices.Sorted(maps.Keys(m))
}
