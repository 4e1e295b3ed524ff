package surface

import (
	"errors"
	"sync"

	"github.com/petervdpas/livepad/internal/text16"
)

var ErrDisposed = errors.New("surface disposed")

// Selection is an anchor/head pair of offsets; a cursor has Anchor == Head.
type Selection struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// Scroll is the viewport offset in pixels.
type Scroll struct {
	Top  int `json:"top"`
	Left int `json:"left"`
}

// ContentChange is one content-change event: every region of one
// ApplyEdits batch.
type ContentChange struct {
	Changes []ChangeRegion `json:"changes"`
	Version int            `json:"version"`
	Flush   bool           `json:"flush,omitempty"`
}

// Surface is what the sync engine needs from an editing surface.
type Surface interface {
	Path() string
	Value() string
	Version() int
	OffsetToPosition(off int) Position
	PositionToOffset(pos Position) int
	ApplyEdits(edits []Edit) error
	OnDidChangeContent(fn func(ContentChange)) (dispose func())
	Selection() Selection
	SetSelection(Selection)
	Scroll() Scroll
	SetScroll(Scroll)
	Dispose()
	Disposed() bool
}

// Model is the in-memory Surface. Listeners run synchronously on the
// goroutine that applied the edit, after the model's lock is released.
type Model struct {
	path string

	mu        sync.Mutex
	buf       *Buffer
	version   int
	sel       Selection
	scroll    Scroll
	disposed  bool
	listeners map[uint64]func(ContentChange)
	nextID    uint64

	onDispose func(*Model)
}

var _ Surface = (*Model)(nil)

// NewModel returns a model for path holding text.
func NewModel(path, text string) *Model {
	return &Model{
		path:      path,
		buf:       NewBuffer(text),
		version:   1,
		listeners: make(map[uint64]func(ContentChange)),
	}
}

func (m *Model) Path() string { return m.path }

func (m *Model) Value() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Value()
}

// Version advances once per applied batch.
func (m *Model) Version() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

func (m *Model) OffsetToPosition(off int) Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.OffsetToPosition(off)
}

func (m *Model) PositionToOffset(pos Position) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.PositionToOffset(pos)
}

// ApplyEdits applies edits as one batch, in order, each against the text
// the previous ones left. It emits a single ContentChange.
func (m *Model) ApplyEdits(edits []Edit) error {
	return m.apply(func(b *Buffer) []ChangeRegion { return b.Apply(edits) }, false)
}

// ApplyRegions is ApplyEdits for offset-addressed edits.
func (m *Model) ApplyRegions(regions []ChangeRegion) error {
	return m.apply(func(b *Buffer) []ChangeRegion { return b.ApplyRegions(regions) }, false)
}

// SetValue replaces the whole content as one batch.
func (m *Model) SetValue(text string) error {
	return m.apply(func(b *Buffer) []ChangeRegion {
		if b.Value() == text {
			return nil
		}
		return b.ApplyRegions([]ChangeRegion{{RangeOffset: 0, RangeLength: b.Len(), Text: text}})
	}, true)
}

func (m *Model) apply(fn func(*Buffer) []ChangeRegion, flush bool) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	regions := fn(m.buf)
	if len(regions) == 0 {
		m.mu.Unlock()
		return nil
	}
	for _, r := range regions {
		m.sel.Anchor = shift(m.sel.Anchor, r)
		m.sel.Head = shift(m.sel.Head, r)
	}
	m.version++
	ev := ContentChange{Changes: regions, Version: m.version, Flush: flush}
	fns := make([]func(ContentChange), 0, len(m.listeners))
	for id := uint64(1); id <= m.nextID; id++ {
		if fn, ok := m.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

// shift moves an offset through one applied region. Offsets before the
// region, or exactly at an insertion point, stay put; offsets inside a
// deleted range collapse to its start.
func shift(off int, r ChangeRegion) int {
	switch {
	case off <= r.RangeOffset:
		return off
	case off < r.RangeOffset+r.RangeLength:
		return r.RangeOffset
	default:
		return off - r.RangeLength + text16.Len(r.Text)
	}
}

func (m *Model) OnDidChangeContent(fn func(ContentChange)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Model) Selection() Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sel
}

// SetSelection stores sel clamped into the content.
func (m *Model) SetSelection(sel Selection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sel = Selection{
		Anchor: clamp(sel.Anchor, 0, m.buf.Len()),
		Head:   clamp(sel.Head, 0, m.buf.Len()),
	}
}

func (m *Model) Scroll() Scroll {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scroll
}

func (m *Model) SetScroll(s Scroll) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scroll = s
}

// Dispose drops every listener and detaches the model from its registry.
// Later edits fail with ErrDisposed.
func (m *Model) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.listeners = make(map[uint64]func(ContentChange))
	hook := m.onDispose
	m.mu.Unlock()

	if hook != nil {
		hook(m)
	}
}

func (m *Model) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}
