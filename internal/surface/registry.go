package surface

import (
	"sort"
	"sync"
)

// Registry owns at most one live Model per path.
type Registry struct {
	mu     sync.Mutex
	models map[string]*Model
}

func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// Get returns the live model for path.
func (r *Registry) Get(path string) (*Model, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[path]
	return m, ok
}

// Create makes a model for path. Any previous model for path is disposed
// first.
func (r *Registry) Create(path, text string) *Model {
	if old, ok := r.Get(path); ok {
		old.Dispose()
	}
	m := NewModel(path, text)
	m.onDispose = r.forget
	r.mu.Lock()
	r.models[path] = m
	r.mu.Unlock()
	return m
}

// Dispose disposes the model for path, if any.
func (r *Registry) Dispose(path string) bool {
	m, ok := r.Get(path)
	if ok {
		m.Dispose()
	}
	return ok
}

// Paths lists the paths that have a live model, sorted.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.models))
	for p := range r.models {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// DisposeAll disposes every model.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	models := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		models = append(models, m)
	}
	r.mu.Unlock()
	for _, m := range models {
		m.Dispose()
	}
}

func (r *Registry) forget(m *Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.models[m.path] == m {
		delete(r.models, m.path)
	}
}
