package docfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"smj-graph/internal/nodegraph"
)

// Loader defaults.
const (
	DefaultChunkSize       = 10
	DefaultUsefulThreshold = 500
)

// Status is the outcome of a load.
type Status uint8

const (
	StatusPending Status = iota
	StatusLoaded
	StatusAbsent
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusLoaded:
		return "loaded"
	case StatusAbsent:
		return "absent"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Result describes a finished load.
type Result struct {
	Status Status
	Root   nodegraph.ID

	// Nodes is the number of records registered into the graph.
	Nodes int

	// SkippedParents counts parent references dropped because the parent
	// was not registered when its child was read.
	SkippedParents int

	// Unowned lists registered nodes that no owning parent holds, the root
	// included. The loader's creation share is kept for them and handed to
	// the caller, who must Release each one when done.
	Unowned []nodegraph.ID
}

// LoadOptions configures a Loader.
type LoadOptions struct {
	// ChunkSize is the number of records registered between yields and
	// cancellation checks.
	ChunkSize int

	// UsefulThreshold is the number of registered records after which the
	// Useful channel closes, letting consumers start on a partial graph.
	UsefulThreshold int

	// StrictParents makes an unresolved parent reference a consistency
	// error instead of a skipped edge.
	StrictParents bool

	// OnRecord is called after each record is registered and linked.
	OnRecord func(id nodegraph.ID, kind nodegraph.Kind)

	Logger *log.Logger
}

// Loader registers a document's records into a store in small chunks. A
// Loader is single use.
type Loader struct {
	store *nodegraph.Store
	opts  LoadOptions

	cancelled atomic.Bool

	useful     chan struct{}
	usefulOnce sync.Once
	done       chan struct{}
	doneOnce   sync.Once

	mu     sync.Mutex
	result Result
	err    error
}

// NewLoader creates a loader for store. Pass nil for default options.
func NewLoader(store *nodegraph.Store, opts *LoadOptions) *Loader {
	l := &Loader{
		store:  store,
		useful: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if opts != nil {
		l.opts = *opts
	}
	if l.opts.ChunkSize <= 0 {
		l.opts.ChunkSize = DefaultChunkSize
	}
	if l.opts.UsefulThreshold <= 0 {
		l.opts.UsefulThreshold = DefaultUsefulThreshold
	}
	if l.opts.Logger == nil {
		l.opts.Logger = log.New(io.Discard)
	}
	return l
}

// Cancel asks the load to stop at the next chunk boundary.
func (l *Loader) Cancel() { l.cancelled.Store(true) }

// Useful is closed once enough records are registered to work with, or when
// the load finishes, whichever comes first.
func (l *Loader) Useful() <-chan struct{} { return l.useful }

// Done is closed when the load has finished for any reason.
func (l *Loader) Done() <-chan struct{} { return l.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (l *Loader) Result() (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result, l.err
}

// Start loads the document at path on a new goroutine.
func (l *Loader) Start(ctx context.Context, path string) {
	go l.LoadFile(ctx, path)
}

// LoadFile reads and loads the document at path. A missing file or one with
// a mismatched format yields StatusAbsent and no error.
func (l *Loader) LoadFile(ctx context.Context, path string) (Result, error) {
	doc, err := ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		l.opts.Logger.Debug("no graph document", "path", path)
		return l.finish(Result{Status: StatusAbsent}, nil)
	case errors.Is(err, ErrFormatMismatch):
		l.opts.Logger.Warn("discarding graph document", "path", path, "err", err)
		return l.finish(Result{Status: StatusAbsent}, nil)
	case err != nil:
		return l.finish(Result{Status: StatusFailed}, err)
	}
	return l.Load(ctx, doc)
}

// Load validates doc against the store and then registers its records in
// order. Validation failures leave the graph untouched.
func (l *Loader) Load(ctx context.Context, doc *Document) (Result, error) {
	maxID, err := l.validate(doc)
	if err != nil {
		l.opts.Logger.Error("graph document rejected", "err", err)
		return l.finish(Result{Status: StatusFailed}, err)
	}
	// Reserve the document's IDs before registering so concurrent creators
	// cannot take one.
	l.store.AdvancePast(maxID)

	res := Result{Status: StatusLoaded, Root: doc.Root}
	var registered []nodegraph.ID
	for i, e := range doc.Entries {
		if i > 0 && i%l.opts.ChunkSize == 0 {
			runtime.Gosched()
			if l.cancelled.Load() || ctx.Err() != nil {
				res.Status = StatusCancelled
				break
			}
		}
		skipped, err := l.register(e)
		if err != nil {
			res.Unowned = l.settle(registered, doc.Root)
			res.Status = StatusFailed
			return l.finish(res, err)
		}
		registered = append(registered, e.ID)
		res.SkippedParents += skipped
		res.Nodes++
		if res.Nodes == l.opts.UsefulThreshold {
			l.usefulOnce.Do(func() { close(l.useful) })
		}
		if l.opts.OnRecord != nil {
			l.opts.OnRecord(e.ID, e.Kind)
		}
	}

	res.Unowned = l.settle(registered, doc.Root)
	if !l.store.Exists(doc.Root) {
		res.Root = 0
	}
	l.opts.Logger.Info("graph document loaded",
		"status", res.Status, "nodes", res.Nodes, "skipped_parents", res.SkippedParents)
	return l.finish(res, nil)
}

func (l *Loader) finish(res Result, err error) (Result, error) {
	l.mu.Lock()
	l.result, l.err = res, err
	l.mu.Unlock()
	l.usefulOnce.Do(func() { close(l.useful) })
	l.doneOnce.Do(func() { close(l.done) })
	return res, err
}

// validate checks every reference the load will rely on and returns the
// largest ID in the document.
func (l *Loader) validate(doc *Document) (nodegraph.ID, error) {
	seen := make(map[nodegraph.ID]bool, len(doc.Entries))
	known := func(id nodegraph.ID) bool { return seen[id] || l.store.Exists(id) }

	var maxID nodegraph.ID
	for _, e := range doc.Entries {
		switch {
		case e.ID == 0:
			return 0, fmt.Errorf("%w: record with id 0", ErrConsistency)
		case seen[e.ID]:
			return 0, fmt.Errorf("%w: id %d listed twice", ErrConsistency, e.ID)
		case l.store.Exists(e.ID):
			return 0, fmt.Errorf("%w: id %d already in use", ErrConsistency, e.ID)
		}
		for _, gp := range e.Grandparents {
			if !known(gp) {
				return 0, fmt.Errorf("%w: node %d references unknown grandparent %d", ErrConsistency, e.ID, gp)
			}
		}
		if e.Alias != 0 && !known(e.Alias) {
			return 0, fmt.Errorf("%w: alias %d references unknown node %d", ErrConsistency, e.ID, e.Alias)
		}
		if l.opts.StrictParents {
			for _, p := range e.Parents {
				if !known(p) {
					return 0, fmt.Errorf("%w: node %d references unknown parent %d", ErrConsistency, e.ID, p)
				}
			}
		}
		seen[e.ID] = true
		maxID = max(maxID, e.ID)
	}
	if len(doc.Entries) > 0 && !seen[doc.Root] {
		return 0, fmt.Errorf("%w: root %d not in document", ErrConsistency, doc.Root)
	}
	return maxID, nil
}

func (l *Loader) register(e Entry) (skipped int, err error) {
	if err := l.store.Register(e.ID, e.Kind, e.Props); err != nil {
		return 0, err
	}
	if e.Alias != 0 {
		if err := l.store.SetAlias(e.ID, e.Alias); err != nil {
			return 0, err
		}
	}
	for _, p := range e.Parents {
		if !l.store.Exists(p) {
			l.opts.Logger.Debug("skipping unresolved parent", "node", e.ID, "parent", p)
			skipped++
			continue
		}
		if err := l.store.AddChild(p, e.ID); err != nil {
			return skipped, err
		}
	}
	for _, gp := range e.Grandparents {
		if err := l.store.AddGrandchild(gp, e.ID); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

// settle drops the creation share of every registered node that an owning
// parent now holds and returns the rest.
func (l *Loader) settle(ids []nodegraph.ID, root nodegraph.ID) []nodegraph.ID {
	var owned, unowned []nodegraph.ID
	for _, id := range ids {
		if id != root && l.owned(id) {
			owned = append(owned, id)
		} else {
			unowned = append(unowned, id)
		}
	}
	for _, id := range owned {
		if err := l.store.Release(id, 1); err != nil {
			l.opts.Logger.Warn("releasing loaded node", "node", id, "err", err)
		}
	}
	return unowned
}

func (l *Loader) owned(id nodegraph.ID) bool {
	parents, err := l.store.Parents(id)
	if err != nil {
		return false
	}
	for _, p := range parents {
		if k, err := l.store.Kind(p); err == nil && !k.IsCollectionRoot() {
			return true
		}
	}
	return false
}
