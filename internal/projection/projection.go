// Package projection exposes the replicated document as a read-only stream of
// immutable file-tree snapshots.
package projection

import (
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/petervdpas/livepad/internal/doc"
)

// Projection tracks the latest snapshot of a document handle.
type Projection struct {
	handle doc.Handle

	mu    sync.RWMutex
	tree  doc.FileTree
	ready bool

	subMu  sync.Mutex
	subs   map[uint64]func(doc.FileTree)
	nextID uint64

	off       func()
	closeOnce sync.Once
}

// New subscribes to h. The projection reports not-ready until h does.
func New(h doc.Handle) *Projection {
	p := &Projection{
		handle: h,
		subs:   make(map[uint64]func(doc.FileTree)),
	}
	p.off = h.OnChange(func(doc.Change) { p.refresh() })
	if tree, ok := h.Snapshot(); ok {
		p.tree, p.ready = tree, true
	} else {
		go func() {
			<-h.Ready()
			p.refresh()
		}()
	}
	return p
}

// refresh re-reads the handle and hands the snapshot to every subscriber.
func (p *Projection) refresh() {
	tree, ok := p.handle.Snapshot()
	if !ok {
		return
	}
	p.mu.Lock()
	p.tree, p.ready = tree, true
	p.mu.Unlock()

	p.subMu.Lock()
	ids := make([]uint64, 0, len(p.subs))
	for id := range p.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(doc.FileTree), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, p.subs[id])
	}
	p.subMu.Unlock()

	for _, fn := range fns {
		fn(tree)
	}
}

// Snapshot returns the current tree. ok is false while the document is not
// ready, which is distinct from an empty project.
func (p *Projection) Snapshot() (doc.FileTree, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tree, p.ready
}

// Subscribe registers fn for every new snapshot, called in subscription
// order on the goroutine that mutated the document. The returned cancel is
// safe to call twice.
func (p *Projection) Subscribe(fn func(doc.FileTree)) (cancel func()) {
	p.subMu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[id] = fn
	p.subMu.Unlock()

	return func() {
		p.subMu.Lock()
		delete(p.subs, id)
		p.subMu.Unlock()
	}
}

// Files returns the sorted leaf paths.
func (p *Projection) Files() []string {
	tree, _ := p.Snapshot()
	return tree.Files()
}

// Dirs returns the sorted directory paths.
func (p *Projection) Dirs() []string {
	tree, _ := p.Snapshot()
	return tree.Dirs()
}

// Match returns the sorted leaf paths matching a doublestar glob such as
// "src/**/*.ts". A malformed pattern matches nothing.
func (p *Projection) Match(pattern string) []string {
	if !doublestar.ValidatePattern(pattern) {
		return nil
	}
	var out []string
	for _, path := range p.Files() {
		if ok, _ := doublestar.Match(pattern, path); ok {
			out = append(out, path)
		}
	}
	return out
}

// Close stops tracking the document. Subscribers are dropped.
func (p *Projection) Close() {
	p.closeOnce.Do(func() {
		p.off()
		p.subMu.Lock()
		p.subs = make(map[uint64]func(doc.FileTree))
		p.subMu.Unlock()
	})
}
