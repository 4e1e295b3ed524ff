// Package transform turns project source files into code a browser can run
// directly: per-extension transforms that rewrite import specifiers to the
// addresses of other files' executables.
package transform

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnresolved is returned when a relative reference names a file that
	// has no executable.
	ErrUnresolved = errors.New("unresolved import")
	// ErrCycle is returned by resolvers that detect an import cycle.
	ErrCycle = errors.New("import cycle")
	// ErrSyntax wraps compile errors in a source file.
	ErrSyntax = errors.New("syntax error")
)

// Resolver maps a project path to the current address of its executable.
type Resolver interface {
	Resolve(path string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(path string) (string, error)

func (f ResolverFunc) Resolve(path string) (string, error) { return f(path) }

// Input is what a transform sees of one file.
type Input struct {
	Path     string
	Source   string
	Resolver Resolver
}

// Output is the transformed code and every project path it referenced,
// resolved or not.
type Output struct {
	Code string
	Deps []string
}

// Transform converts one file.
type Transform func(ctx context.Context, in Input) (Output, error)

// Extension describes how files with one extension are executed. A nil
// Transform serves the source unchanged.
type Extension struct {
	MediaType string
	Transform Transform
}

// Table is anything extensions can be looked up in.
type Table interface {
	Lookup(ext string) (Extension, bool)
}

// Registry maps lower-case extensions, without the dot, to Extensions.
type Registry struct {
	mu   sync.RWMutex
	exts map[string]Extension
	subs map[uint64]func(ext string)
	next uint64
}

func NewRegistry() *Registry {
	return &Registry{
		exts: make(map[string]Extension),
		subs: make(map[uint64]func(string)),
	}
}

// Register adds or replaces the handling of ext.
func (r *Registry) Register(ext string, e Extension) {
	ext = normExt(ext)
	r.mu.Lock()
	r.exts[ext] = e
	r.mu.Unlock()
	r.changed(ext)
}

// Unregister removes ext.
func (r *Registry) Unregister(ext string) {
	ext = normExt(ext)
	r.mu.Lock()
	_, ok := r.exts[ext]
	delete(r.exts, ext)
	r.mu.Unlock()
	if ok {
		r.changed(ext)
	}
}

func (r *Registry) Lookup(ext string) (Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exts[normExt(ext)]
	return e, ok
}

// Extensions lists the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.exts))
	for ext := range r.exts {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// OnChange registers fn to run whenever an extension is registered,
// replaced or removed. Callers use it to invalidate executables built with
// the old transform.
func (r *Registry) OnChange(fn func(ext string)) (cancel func()) {
	r.mu.Lock()
	r.next++
	id := r.next
	r.subs[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *Registry) changed(ext string) {
	r.mu.RLock()
	fns := make([]func(string), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()
	for _, fn := range fns {
		fn(ext)
	}
}

// Chain looks extensions up in several registries; the first registry that
// knows an extension wins. A session chains the shared plugin registry in
// front of its own built-ins.
type Chain []*Registry

func (c Chain) Lookup(ext string) (Extension, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if e, ok := r.Lookup(ext); ok {
			return e, true
		}
	}
	return Extension{}, false
}

// Extensions lists the extensions known to any registry of the chain.
func (c Chain) Extensions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range c {
		if r == nil {
			continue
		}
		for _, ext := range r.Extensions() {
			if !seen[ext] {
				seen[ext] = true
				out = append(out, ext)
			}
		}
	}
	sort.Strings(out)
	return out
}

// OnChange subscribes fn to every registry of the chain.
func (c Chain) OnChange(fn func(ext string)) (cancel func()) {
	var cancels []func()
	for _, r := range c {
		if r != nil {
			cancels = append(cancels, r.OnChange(fn))
		}
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func normExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
