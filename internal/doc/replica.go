package doc

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/automerge/automerge-go"
	"github.com/google/uuid"

	"github.com/petervdpas/livepad/internal/text16"
)

// ErrUnknownHeads is returned by MutateAt for heads this replica never had.
var ErrUnknownHeads = errors.New("unknown document version")

// filesKey holds the file tree in the automerge document: path -> text for
// files, path -> true for directories.
const filesKey = "files"

// Heads identifies one version of the automerge document.
type Heads []automerge.ChangeHash

// Replica is an in-process Handle backed by an automerge document. It
// sequences the changes committed to it and notifies listeners
// synchronously, inside Mutate, on the caller's goroutine.
type Replica struct {
	actor string

	mu    sync.RWMutex
	am    *automerge.Doc
	tree  FileTree // the files of am, replaced on every commit
	seq   uint64
	ready chan struct{}
	once  sync.Once

	listenerMu sync.RWMutex
	listeners  []listenerEntry
	nextID     uint64
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// NewReplica returns a replica that is not ready until Load is called.
func NewReplica() *Replica {
	return &Replica{
		actor: uuid.NewString(),
		ready: make(chan struct{}),
	}
}

// Actor identifies this replica in the changes it produces.
func (r *Replica) Actor() string { return r.actor }

// Load installs the initial tree and marks the document ready. It is a
// no-op after the first call.
func (r *Replica) Load(tree FileTree, seq uint64) error {
	var err error
	r.once.Do(func() {
		if tree == nil {
			tree = FileTree{}
		}
		var am *automerge.Doc
		if am, err = newDoc(tree); err != nil {
			return
		}
		r.mu.Lock()
		r.am = am
		r.tree = tree.Clone()
		r.seq = seq
		r.mu.Unlock()
		close(r.ready)
	})
	return err
}

func (r *Replica) Ready() <-chan struct{} { return r.ready }

func (r *Replica) isReady() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

func (r *Replica) Snapshot() (FileTree, bool) {
	if !r.isReady() {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree, true
}

// Seq returns the sequence number of the last committed change.
func (r *Replica) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// Heads returns the current version of the document.
func (r *Replica) Heads() Heads {
	if !r.isReady() {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Heads(r.am.Heads())
}

func (r *Replica) Mutate(fn func(*Draft) error) (Change, error) {
	if !r.isReady() {
		return Change{}, ErrNotReady
	}

	r.mu.Lock()
	d := newDraft(r.tree)
	if err := fn(d); err != nil {
		r.mu.Unlock()
		return Change{}, err
	}
	if len(d.patches) == 0 {
		r.mu.Unlock()
		return Change{}, nil
	}
	ch, err := r.commit(d.patches)
	r.mu.Unlock()
	if err != nil {
		return Change{}, err
	}
	r.notify(ch)
	return ch, nil
}

// MutateAt runs fn against the document as it was at heads and merges the
// result into the current version. Edits committed since heads are kept;
// the notified change carries the patches that turn the current tree into
// the merged one.
func (r *Replica) MutateAt(at Heads, fn func(*Draft) error) (Change, error) {
	if !r.isReady() {
		return Change{}, ErrNotReady
	}

	r.mu.Lock()
	fork, err := r.am.Fork(at...)
	if err != nil {
		r.mu.Unlock()
		return Change{}, fmt.Errorf("%w: %v", ErrUnknownHeads, err)
	}
	base, err := readTree(fork)
	if err != nil {
		r.mu.Unlock()
		return Change{}, err
	}
	d := newDraft(base)
	if err := fn(d); err != nil {
		r.mu.Unlock()
		return Change{}, err
	}
	if len(d.patches) == 0 {
		r.mu.Unlock()
		return Change{}, nil
	}
	if err := writePatches(fork, base, d.patches); err != nil {
		r.mu.Unlock()
		return Change{}, err
	}
	if _, err := fork.Commit("edit"); err != nil {
		r.mu.Unlock()
		return Change{}, fmt.Errorf("commit: %w", err)
	}
	if _, err := r.am.Merge(fork); err != nil {
		r.mu.Unlock()
		return Change{}, fmt.Errorf("merge: %w", err)
	}
	merged, err := readTree(r.am)
	if err != nil {
		r.mu.Unlock()
		return Change{}, err
	}
	patches := Diff(r.tree, merged)
	if len(patches) == 0 {
		r.mu.Unlock()
		return Change{}, nil
	}
	r.seq++
	ch := Change{Seq: r.seq, ID: uuid.NewString(), Actor: r.actor, Patches: patches}
	r.tree = merged
	r.mu.Unlock()

	r.notify(ch)
	return ch, nil
}

// commit writes patches to the automerge document as one change. Called
// with r.mu held.
func (r *Replica) commit(patches []Patch) (Change, error) {
	next := r.tree.Clone()
	for i, p := range patches {
		if err := applyPatch(next, p); err != nil {
			return Change{}, fmt.Errorf("patch %d: %w", i, err)
		}
	}
	if err := writePatches(r.am, r.tree, patches); err != nil {
		r.rebuild()
		return Change{}, err
	}
	if _, err := r.am.Commit("edit"); err != nil {
		r.rebuild()
		return Change{}, fmt.Errorf("commit: %w", err)
	}
	r.seq++
	r.tree = next
	return Change{Seq: r.seq, ID: uuid.NewString(), Actor: r.actor, Patches: patches}, nil
}

// rebuild replaces a document left half-written by a failed commit with a
// fresh one holding the last committed tree. Older heads are forgotten.
func (r *Replica) rebuild() {
	am, err := newDoc(r.tree)
	if err != nil {
		return
	}
	r.am = am
}

func (r *Replica) OnChange(l Listener) func() {
	r.listenerMu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, listenerEntry{id: id, fn: l})
	r.listenerMu.Unlock()

	return func() {
		r.listenerMu.Lock()
		defer r.listenerMu.Unlock()
		for i, e := range r.listeners {
			if e.id == id {
				r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
				return
			}
		}
	}
}

func (r *Replica) notify(ch Change) {
	r.listenerMu.RLock()
	ls := make([]listenerEntry, len(r.listeners))
	copy(ls, r.listeners)
	r.listenerMu.RUnlock()

	for _, e := range ls {
		if !r.registered(e.id) {
			// removed by an earlier listener of this same notification
			continue
		}
		e.fn(ch)
	}
}

func (r *Replica) registered(id uint64) bool {
	r.listenerMu.RLock()
	defer r.listenerMu.RUnlock()
	for _, e := range r.listeners {
		if e.id == id {
			return true
		}
	}
	return false
}

// ── automerge document ──

func newDoc(tree FileTree) (*automerge.Doc, error) {
	am := automerge.New()
	if err := am.Path(filesKey).Set(automerge.NewMap()); err != nil {
		return nil, fmt.Errorf("init document: %w", err)
	}
	for _, p := range tree.Paths() {
		if err := putEntry(am, p, tree[p]); err != nil {
			return nil, err
		}
	}
	if _, err := am.Commit("load"); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return am, nil
}

func putEntry(am *automerge.Doc, p string, e Entry) error {
	var err error
	if e.IsDir {
		err = am.Path(filesKey, p).Set(true)
	} else {
		err = am.Path(filesKey, p).Set(automerge.NewText(e.Text))
	}
	if err != nil {
		return fmt.Errorf("put %q: %w", p, err)
	}
	return nil
}

// writePatches replays patches onto am. Text offsets are code units of the
// tree as it stands before each patch, starting from base; automerge counts
// runes.
func writePatches(am *automerge.Doc, base FileTree, patches []Patch) error {
	files := am.Path(filesKey).Map()
	cur := base.Clone()
	for _, p := range patches {
		if !p.Text {
			var err error
			switch p.Action {
			case ActionPut:
				err = putEntry(am, p.Path, Entry{Text: p.Value, IsDir: p.Dir})
			case ActionDel:
				err = files.Delete(p.Path)
			}
			if err != nil {
				return fmt.Errorf("%s %q: %w", p.Action, p.Path, err)
			}
			if err := applyPatch(cur, p); err != nil {
				return err
			}
			continue
		}

		old := cur[p.Path].Text
		start, err := text16.RuneOffset(old, p.Offset)
		if err != nil {
			return fmt.Errorf("%s %q: %w", p.Action, p.Path, ErrOutOfRange)
		}
		del, value := 0, p.Value
		if p.Action == ActionDel {
			end, err := text16.RuneOffset(old, p.Offset+p.Length)
			if err != nil {
				return fmt.Errorf("%s %q: %w", p.Action, p.Path, ErrOutOfRange)
			}
			del, value = end-start, ""
		}
		if err := am.Path(filesKey, p.Path).Text().Splice(start, del, value); err != nil {
			return fmt.Errorf("%s %q: %w", p.Action, p.Path, err)
		}
		if err := applyPatch(cur, p); err != nil {
			return err
		}
	}
	return nil
}

// readTree reads the file tree out of am.
func readTree(am *automerge.Doc) (FileTree, error) {
	files := am.Path(filesKey).Map()
	keys, err := files.Keys()
	if err != nil {
		return nil, fmt.Errorf("read files: %w", err)
	}
	tree := make(FileTree, len(keys))
	for _, k := range keys {
		v, err := files.Get(k)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", k, err)
		}
		switch v.Kind() {
		case automerge.KindText:
			text, err := v.Text().Get()
			if err != nil {
				return nil, fmt.Errorf("read %q: %w", k, err)
			}
			tree[k] = File(text)
		case automerge.KindBool:
			tree[k] = Directory
		}
	}
	return tree, nil
}

// ── plain trees ──

// Replay applies changes in order to a copy of base.
func Replay(base FileTree, changes ...Change) (FileTree, error) {
	tree := base.Clone()
	if tree == nil {
		tree = FileTree{}
	}
	for _, ch := range changes {
		for i, p := range ch.Patches {
			if err := applyPatch(tree, p); err != nil {
				return nil, fmt.Errorf("patch %d of change %d: %w", i, ch.Seq, err)
			}
		}
	}
	return tree, nil
}

// Diff returns the patches turning a into b: removals deepest first, then
// new or retyped entries parents first, then one text splice per file whose
// content changed.
func Diff(a, b FileTree) []Patch {
	var out []Patch

	var gone []string
	for p, e := range a {
		if n, ok := b[p]; !ok || n.IsDir != e.IsDir {
			gone = append(gone, p)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i] > gone[j] })
	for _, p := range gone {
		out = append(out, Patch{Action: ActionDel, Path: p})
	}

	for _, p := range b.Paths() {
		n := b[p]
		e, ok := a[p]
		if !ok || e.IsDir != n.IsDir {
			out = append(out, Patch{Action: ActionPut, Path: p, Value: n.Text, Dir: n.IsDir})
			continue
		}
		if n.IsDir || e.Text == n.Text {
			continue
		}
		off, del, ins := text16.Diff(e.Text, n.Text)
		if del > 0 {
			out = append(out, Patch{Action: ActionDel, Path: p, Text: true, Offset: off, Length: del})
		}
		if ins != "" {
			out = append(out, Patch{Action: ActionSplice, Path: p, Text: true, Offset: off, Value: ins})
		}
	}
	return out
}

// applyPatch replays one patch onto tree.
func applyPatch(tree FileTree, p Patch) error {
	if !p.Text {
		switch p.Action {
		case ActionPut:
			if p.Dir {
				tree[p.Path] = Directory
			} else {
				tree[p.Path] = File(p.Value)
			}
			return nil
		case ActionDel:
			if _, ok := tree[p.Path]; !ok {
				return fmt.Errorf("del %q: %w", p.Path, ErrNotFound)
			}
			delete(tree, p.Path)
			return nil
		}
		return fmt.Errorf("entry patch %q on %q: unsupported action", p.Action, p.Path)
	}

	e, ok := tree[p.Path]
	if !ok {
		return fmt.Errorf("%s %q: %w", p.Action, p.Path, ErrNotFound)
	}
	if e.IsDir {
		return fmt.Errorf("%s %q: %w", p.Action, p.Path, ErrIsDir)
	}
	var (
		next string
		err  error
	)
	switch p.Action {
	case ActionSplice:
		next, err = text16.Splice(e.Text, p.Offset, 0, p.Value)
	case ActionDel:
		next, err = text16.Splice(e.Text, p.Offset, p.Length, "")
	default:
		return fmt.Errorf("text patch %q on %q: unsupported action", p.Action, p.Path)
	}
	if err != nil {
		return fmt.Errorf("%s %q: %w", p.Action, p.Path, ErrOutOfRange)
	}
	tree[p.Path] = File(next)
	return nil
}
