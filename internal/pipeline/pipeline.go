// Package pipeline materializes every file of a project tree as an
// executable resource: the output of the file's transform, stored as a blob
// whose URL other files' output can reference. Executables are rebuilt
// lazily when their source or one of their dependencies changes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/petervdpas/livepad/internal/blob"
	"github.com/petervdpas/livepad/internal/doc"
	"github.com/petervdpas/livepad/internal/log"
	"github.com/petervdpas/livepad/internal/modpath"
	"github.com/petervdpas/livepad/internal/transform"
)

var (
	ErrNoFile = errors.New("no such file")
	ErrClosed = errors.New("pipeline closed")
)

// Executable is the current runnable form of one file. URL is empty while
// the file has no usable output.
type Executable struct {
	Path        string   `json:"path"`
	URL         string   `json:"url,omitempty"`
	MediaType   string   `json:"media_type"`
	Transformed string   `json:"-"`
	Generation  uint64   `json:"generation"`
	Deps        []string `json:"deps,omitempty"`
	Err         error    `json:"-"`
}

// Event reports a new generation of an executable, or its removal.
type Event struct {
	Executable
	Removed bool
}

// Options configures a Pipeline.
type Options struct {
	// DefaultMediaType is used for files whose extension is not registered.
	DefaultMediaType string
}

type slot struct {
	source  string
	hash    uint64
	dirty   bool
	exe     Executable
	depURLs map[string]string // dependency path -> URL the output was built against
}

// Pipeline owns one slot per leaf path of the last tree passed to Update.
type Pipeline struct {
	reg   transform.Table
	blobs *blob.Store
	opts  Options

	mu       sync.Mutex
	slots    map[string]*slot
	building map[string]bool
	pending  []Event
	closed   bool

	subMu sync.Mutex
	subs  map[uint64]func(Event)
	next  uint64
}

func New(reg transform.Table, blobs *blob.Store, opts Options) *Pipeline {
	if opts.DefaultMediaType == "" {
		opts.DefaultMediaType = transform.MediaText
	}
	return &Pipeline{
		reg:      reg,
		blobs:    blobs,
		opts:     opts,
		slots:    make(map[string]*slot),
		building: make(map[string]bool),
		subs:     make(map[uint64]func(Event)),
	}
}

// Update reconciles the slots with tree. New leaves get a slot, leaves whose
// content changed are marked dirty and slots of vanished paths are torn
// down, releasing their URL.
func (p *Pipeline) Update(tree doc.FileTree) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	for path, s := range p.slots {
		if e, ok := tree[path]; !ok || e.IsDir {
			p.teardown(path, s)
		}
	}
	for path, e := range tree {
		if e.IsDir {
			continue
		}
		h := xxh3.HashString(e.Text)
		s, ok := p.slots[path]
		if !ok {
			p.slots[path] = &slot{source: e.Text, hash: h, dirty: true, exe: Executable{Path: path}}
			continue
		}
		if s.hash != h || s.source != e.Text {
			s.source, s.hash, s.dirty = e.Text, h, true
		}
	}
	p.flush()
}

func (p *Pipeline) teardown(path string, s *slot) {
	if s.exe.URL != "" {
		p.release(s.exe.URL)
	}
	delete(p.slots, path)
	gen := s.exe.Generation + 1
	p.pending = append(p.pending, Event{
		Executable: Executable{Path: path, Generation: gen},
		Removed:    true,
	})
	log.Debug("PIPELINE: removed %s", path)
}

func (p *Pipeline) release(url string) {
	if err := p.blobs.Revoke(url); err != nil {
		log.Warn("PIPELINE: %v", err)
	}
}

// Invalidate forces path to be rebuilt on its next Get.
func (p *Pipeline) Invalidate(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.slots[modpath.Normalize(path)]; ok {
		s.dirty = true
	}
}

// InvalidateExtension forces every file with extension ext to be rebuilt,
// used when the transform for ext changes.
func (p *Pipeline) InvalidateExtension(ext string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for path, s := range p.slots {
		if modpath.Extension(path) == ext {
			s.dirty = true
			n++
		}
	}
	return n
}

// Get returns the up-to-date executable of path, rebuilding it and anything
// it depends on as needed.
func (p *Pipeline) Get(ctx context.Context, path string) (Executable, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Executable{}, ErrClosed
	}
	exe, err := p.get(ctx, modpath.Normalize(path))
	p.flush()
	return exe, err
}

// get returns the current executable. The error is the lookup error, not a
// build failure; build failures are reported in Executable.Err.
func (p *Pipeline) get(ctx context.Context, path string) (Executable, error) {
	s, ok := p.slots[path]
	if !ok {
		return Executable{}, fmt.Errorf("%s: %w", path, ErrNoFile)
	}
	if p.building[path] {
		return Executable{}, fmt.Errorf("%s: %w", path, transform.ErrCycle)
	}
	p.building[path] = true
	defer delete(p.building, path)

	if p.stale(ctx, s) {
		p.rebuild(ctx, path, s)
	}
	return s.exe, nil
}

// stale reports whether s must be rebuilt: it is dirty, or a dependency's
// address differs from the one its output embeds.
func (p *Pipeline) stale(ctx context.Context, s *slot) bool {
	if s.dirty {
		return true
	}
	for dep, built := range s.depURLs {
		cur, err := p.get(ctx, dep)
		if err != nil {
			cur = Executable{}
		}
		if cur.URL != built {
			return true
		}
	}
	return false
}

func (p *Pipeline) rebuild(ctx context.Context, path string, s *slot) {
	s.dirty = false
	depURLs := make(map[string]string)
	resolver := transform.ResolverFunc(func(dep string) (string, error) {
		dep = modpath.Normalize(dep)
		exe, err := p.get(ctx, dep)
		depURLs[dep] = exe.URL
		switch {
		case err != nil:
			if errors.Is(err, transform.ErrCycle) {
				return "", err
			}
			return "", fmt.Errorf("%s: %w", dep, transform.ErrUnresolved)
		case exe.Err != nil:
			if errors.Is(exe.Err, transform.ErrCycle) {
				return "", exe.Err
			}
			return "", fmt.Errorf("%s: %w", dep, transform.ErrUnresolved)
		case exe.URL == "":
			return "", fmt.Errorf("%s: %w", dep, transform.ErrUnresolved)
		}
		return exe.URL, nil
	})

	mediaType := p.opts.DefaultMediaType
	code, deps := s.source, []string(nil)
	var err error
	if ext, ok := p.reg.Lookup(modpath.Extension(path)); ok {
		if ext.MediaType != "" {
			mediaType = ext.MediaType
		}
		if ext.Transform != nil {
			var out transform.Output
			out, err = ext.Transform(ctx, transform.Input{Path: path, Source: s.source, Resolver: resolver})
			code, deps = out.Code, out.Deps
		}
	}
	for _, d := range deps {
		d = modpath.Normalize(d)
		if _, ok := depURLs[d]; !ok {
			cur, _ := p.get(ctx, d)
			depURLs[d] = cur.URL
		}
	}
	s.depURLs = depURLs

	prev := s.exe.URL
	next := Executable{
		Path:       path,
		MediaType:  mediaType,
		Generation: s.exe.Generation + 1,
		Deps:       sortedKeys(depURLs),
	}
	if err != nil {
		next.Err = err
		log.Warn("PIPELINE: %s: %v", path, err)
	} else {
		next.Transformed = code
		next.URL = p.blobs.Create([]byte(code), mediaType)
	}
	if prev != "" {
		p.release(prev)
	}
	s.exe = next
	p.pending = append(p.pending, Event{Executable: next})
	log.Debug("PIPELINE: built %s generation %d", path, next.Generation)
}

// Build brings every executable up to date and returns them sorted by path.
func (p *Pipeline) Build(ctx context.Context) ([]Executable, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	paths := make([]string, 0, len(p.slots))
	for path := range p.slots {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	out := make([]Executable, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			p.flush()
			return out, err
		}
		if exe, err := p.get(ctx, path); err == nil {
			out = append(out, exe)
		}
	}
	p.flush()
	return out, nil
}

// URLs returns path -> URL for every file with usable output.
func (p *Pipeline) URLs(ctx context.Context) (map[string]string, error) {
	exes, err := p.Build(ctx)
	urls := make(map[string]string, len(exes))
	for _, e := range exes {
		if e.URL != "" {
			urls[e.Path] = e.URL
		}
	}
	return urls, err
}

// Subscribe registers fn for every generation change. fn runs after the
// pipeline lock is released, so it may call back into the pipeline.
func (p *Pipeline) Subscribe(fn func(Event)) (cancel func()) {
	p.subMu.Lock()
	p.next++
	id := p.next
	p.subs[id] = fn
	p.subMu.Unlock()
	return func() {
		p.subMu.Lock()
		delete(p.subs, id)
		p.subMu.Unlock()
	}
}

// flush unlocks p.mu and delivers pending events.
func (p *Pipeline) flush() {
	events := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(events) == 0 {
		return
	}
	p.subMu.Lock()
	ids := make([]uint64, 0, len(p.subs))
	for id := range p.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, p.subs[id])
	}
	p.subMu.Unlock()
	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// Paths lists the files that have a slot.
func (p *Pipeline) Paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.slots))
	for path := range p.slots {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Close releases every URL. Later calls fail with ErrClosed.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for path, s := range p.slots {
		if s.exe.URL != "" {
			p.release(s.exe.URL)
		}
		delete(p.slots, path)
	}
	p.pending = nil
	p.mu.Unlock()
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
