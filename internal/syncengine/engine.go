// Package syncengine keeps one participant's editing surfaces and the
// replicated document in step, in both directions.
//
// Every call into an Engine, and every document notification it receives,
// must happen on the same goroutine (the session loop). The two guards below
// rely on notifications being delivered synchronously inside Mutate.
package syncengine

import (
	"errors"
	"fmt"

	"github.com/petervdpas/livepad/internal/doc"
	"github.com/petervdpas/livepad/internal/log"
	"github.com/petervdpas/livepad/internal/surface"
)

var (
	ErrUnexpectedAction = errors.New("unexpected patch action")
	ErrClosed           = errors.New("engine closed")
)

// Tab is an open editor tab and the view state restored when it is
// reopened.
type Tab struct {
	Path      string            `json:"path"`
	Scroll    surface.Scroll    `json:"scroll"`
	Selection surface.Selection `json:"selection"`
}

// Hooks lets the owner observe what the engine does on its own.
type Hooks struct {
	// OnError receives errors raised while handling a document notification
	// or forwarding a local edit.
	OnError func(error)
	// OnTabClosed runs after a tab disappears because its file was deleted.
	OnTabClosed func(path string)
}

// Engine binds one participant's surfaces to a document.
type Engine struct {
	handle doc.Handle
	models *surface.Registry
	hooks  Hooks

	sendingLocal   bool
	applyingRemote bool

	local     map[string]func() // path -> local listener off
	tabs      map[string]*Tab
	saved     map[string]Tab // view state of closed tabs
	order     []string
	active    string
	offRemote func()
	closed    bool
}

// New attaches an engine to h.
func New(h doc.Handle, hooks Hooks) *Engine {
	e := &Engine{
		handle: h,
		models: surface.NewRegistry(),
		hooks:  hooks,
		local:  make(map[string]func()),
		tabs:   make(map[string]*Tab),
		saved:  make(map[string]Tab),
	}
	e.offRemote = h.OnChange(func(ch doc.Change) {
		if err := e.HandleRemote(ch); err != nil {
			e.fail(err)
		}
	})
	return e
}

func (e *Engine) fail(err error) {
	if e.hooks.OnError != nil {
		e.hooks.OnError(err)
		return
	}
	log.Error("SYNC: %v", err)
}

// Open makes path the active tab and returns its model. The model is
// seeded from the current snapshot, or empty when the path has no text yet.
// Models for every other file are created too, so later remote changes have
// somewhere to land.
func (e *Engine) Open(path string) (*surface.Model, error) {
	if e.closed {
		return nil, ErrClosed
	}
	tree, ok := e.handle.Snapshot()
	if !ok {
		return nil, doc.ErrNotReady
	}
	if ent, ok := tree[path]; ok && ent.IsDir {
		return nil, fmt.Errorf("open %q: %w", path, doc.ErrIsDir)
	}

	m, ok := e.models.Get(path)
	if !ok {
		m = e.models.Create(path, tree[path].Text)
	}
	for _, p := range tree.Files() {
		if _, ok := e.models.Get(p); !ok {
			e.models.Create(p, tree[p].Text)
		}
	}

	if _, ok := e.local[path]; !ok {
		e.local[path] = m.OnDidChangeContent(func(ev surface.ContentChange) {
			e.onLocal(path, ev)
		})
	}

	if _, ok := e.tabs[path]; !ok {
		tab := &Tab{Path: path}
		if st, ok := e.saved[path]; ok {
			m.SetScroll(st.Scroll)
			m.SetSelection(st.Selection)
			delete(e.saved, path)
		}
		tab.Scroll, tab.Selection = m.Scroll(), m.Selection()
		e.tabs[path] = tab
		e.order = append(e.order, path)
	}
	e.active = path
	log.Debug("SYNC: opened %s", path)
	return m, nil
}

// onLocal forwards one content change of path's model as one document
// change, one splice per region in order.
func (e *Engine) onLocal(path string, ev surface.ContentChange) {
	if e.applyingRemote {
		return
	}
	e.sendingLocal = true
	defer func() { e.sendingLocal = false }()

	_, err := e.handle.Mutate(func(d *doc.Draft) error {
		if _, ok := d.Get(path); !ok {
			if err := d.Put(path, ""); err != nil {
				return err
			}
		}
		for _, r := range ev.Changes {
			if err := d.Splice(path, r.RangeOffset, r.RangeLength, r.Text); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.fail(fmt.Errorf("local edit on %s: %w", path, err))
	}
}

// HandleRemote applies a document change to the surfaces. Changes arriving
// while this engine is itself writing to the document are its own echo and
// are skipped.
func (e *Engine) HandleRemote(ch doc.Change) error {
	if e.sendingLocal || e.closed {
		return nil
	}
	e.applyingRemote = true
	defer func() { e.applyingRemote = false }()

	var paths []string
	groups := make(map[string][]doc.Patch)
	for _, p := range ch.Patches {
		if _, ok := groups[p.Path]; !ok {
			paths = append(paths, p.Path)
		}
		groups[p.Path] = append(groups[p.Path], p)
	}
	for _, path := range paths {
		if err := e.applyGroup(path, groups[path]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyGroup(path string, patches []doc.Patch) error {
	m, has := e.models.Get(path)

	var (
		edits   []surface.Edit
		scratch *surface.Buffer
	)
	flush := func() error {
		if !has || len(edits) == 0 {
			return nil
		}
		err := m.ApplyEdits(edits)
		edits, scratch = nil, nil
		return err
	}

	for _, p := range patches {
		if p.KeyPathLen() == 1 {
			switch p.Action {
			case doc.ActionDel:
				edits, scratch = nil, nil
				if has {
					e.drop(path)
					has = false
				}
			case doc.ActionPut:
				if !has || p.Dir {
					continue
				}
				if err := flush(); err != nil {
					return err
				}
				if err := m.SetValue(p.Value); err != nil {
					return err
				}
			default:
				return fmt.Errorf("%w: %q on entry %s", ErrUnexpectedAction, p.Action, path)
			}
			continue
		}

		var start, end int
		var text string
		switch p.Action {
		case doc.ActionDel:
			start, end = p.Offset, p.Offset+p.Length
		case doc.ActionSplice:
			start, end, text = p.Offset, p.Offset, p.Value
		default:
			return fmt.Errorf("%w: %q on text of %s", ErrUnexpectedAction, p.Action, path)
		}
		if !has {
			continue // seeded from the snapshot when opened
		}
		if scratch == nil {
			scratch = surface.NewBuffer(m.Value())
		}
		// positions are computed against the text left by the previous
		// edits of this batch, which is how ApplyEdits reads them
		edit := surface.Edit{
			Range: surface.Range{Start: scratch.OffsetToPosition(start), End: scratch.OffsetToPosition(end)},
			Text:  text,
		}
		scratch.Apply([]surface.Edit{edit})
		edits = append(edits, edit)
	}
	return flush()
}

// drop disposes path's model and forgets its tab.
func (e *Engine) drop(path string) {
	if off, ok := e.local[path]; ok {
		off()
		delete(e.local, path)
	}
	e.models.Dispose(path)
	delete(e.saved, path)
	if e.removeTab(path) && e.hooks.OnTabClosed != nil {
		e.hooks.OnTabClosed(path)
	}
	log.Debug("SYNC: dropped %s", path)
}

func (e *Engine) removeTab(path string) bool {
	if _, ok := e.tabs[path]; !ok {
		return false
	}
	delete(e.tabs, path)
	for i, p := range e.order {
		if p == path {
			e.order = append(e.order[:i:i], e.order[i+1:]...)
			break
		}
	}
	if e.active == path {
		e.active = ""
		if n := len(e.order); n > 0 {
			e.active = e.order[n-1]
		}
	}
	return true
}

// CloseTab closes path's tab: its local listener is removed at once and its
// model disposed. The tab's scroll and selection come back when it is
// reopened. Closing a tab that is not open does nothing.
func (e *Engine) CloseTab(path string) {
	if off, ok := e.local[path]; ok {
		off()
		delete(e.local, path)
	}
	if tab, ok := e.tabs[path]; ok {
		e.saved[path] = e.view(tab)
	}
	if e.removeTab(path) {
		e.models.Dispose(path)
		log.Debug("SYNC: closed %s", path)
	}
}

// Close detaches the engine from the document and disposes every model.
// It is idempotent.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.offRemote()
	for path, off := range e.local {
		off()
		delete(e.local, path)
	}
	e.models.DisposeAll()
	e.tabs = make(map[string]*Tab)
	e.saved = make(map[string]Tab)
	e.order = nil
	e.active = ""
}

// Model returns the live model for path.
func (e *Engine) Model(path string) (*surface.Model, bool) {
	return e.models.Get(path)
}

// Models lists paths with a live model.
func (e *Engine) Models() []string { return e.models.Paths() }

// Tabs returns the open tabs in the order they were opened.
func (e *Engine) Tabs() []Tab {
	out := make([]Tab, 0, len(e.order))
	for _, p := range e.order {
		out = append(out, e.view(e.tabs[p]))
	}
	return out
}

// view returns tab with the live view state of its model.
func (e *Engine) view(tab *Tab) Tab {
	out := *tab
	if m, ok := e.models.Get(tab.Path); ok {
		out.Scroll, out.Selection = m.Scroll(), m.Selection()
	}
	return out
}

// Active returns the path of the active tab, "" when none is open.
func (e *Engine) Active() string { return e.active }

// SetScroll records the viewport of path's tab.
func (e *Engine) SetScroll(path string, s surface.Scroll) {
	tab, ok := e.tabs[path]
	if !ok {
		return
	}
	tab.Scroll = s
	if m, ok := e.models.Get(path); ok {
		m.SetScroll(s)
	}
}

// SetSelection records the selection of path's tab.
func (e *Engine) SetSelection(path string, sel surface.Selection) {
	tab, ok := e.tabs[path]
	if !ok {
		return
	}
	if m, ok := e.models.Get(path); ok {
		m.SetSelection(sel)
		sel = m.Selection()
	}
	tab.Selection = sel
}
