package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/petervdpas/livepad/internal/doc"
	"github.com/petervdpas/livepad/internal/log"
	"github.com/petervdpas/livepad/internal/storage"
	"github.com/petervdpas/livepad/internal/util"
)

// Manager keeps one open session per project id.
type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
	opening  map[string]chan struct{}
	closed   bool
}

func NewManager(opts Options) *Manager {
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
		opening:  make(map[string]chan struct{}),
	}
}

// Open returns the session for id, opening it on first use. A project that
// does not exist yet starts from the manager's seed.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	return m.open(ctx, id, nil)
}

// Create opens a new project starting from tree. It fails with
// doc.ErrExists when the project is open or stored already.
func (m *Manager) Create(ctx context.Context, id string, tree doc.FileTree) (*Session, error) {
	return m.open(ctx, id, func() doc.FileTree { return tree.Clone() })
}

func (m *Manager) open(ctx context.Context, id string, seed func() doc.FileTree) (*Session, error) {
	id, err := util.ValidateProjectID(id)
	if err != nil {
		return nil, err
	}
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		if s, ok := m.sessions[id]; ok {
			m.mu.Unlock()
			if seed != nil {
				return nil, fmt.Errorf("project %s: %w", id, doc.ErrExists)
			}
			return s, nil
		}
		wait, busy := m.opening[id]
		if !busy {
			wait = make(chan struct{})
			m.opening[id] = wait
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	opts := m.opts
	var s *Session
	if seed != nil {
		opts.Seed = seed
		err = m.checkNew(ctx, id)
	}
	if err == nil {
		s, err = Open(ctx, id, opts)
	}

	m.mu.Lock()
	close(m.opening[id])
	delete(m.opening, id)
	if err == nil {
		if m.closed {
			m.mu.Unlock()
			s.Close()
			return nil, ErrClosed
		}
		m.sessions[id] = s
	}
	m.mu.Unlock()
	return s, err
}

// checkNew fails when id is already stored.
func (m *Manager) checkNew(ctx context.Context, id string) error {
	if m.opts.DB == nil {
		return nil
	}
	_, err := m.opts.DB.Load(ctx, id)
	switch {
	case err == nil:
		return fmt.Errorf("project %s: %w", id, doc.ErrExists)
	case errors.Is(err, storage.ErrNoProject):
		return nil
	}
	return err
}

// Get returns the session for id if it is open.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close closes the session for id, if open.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// IDs lists the open sessions.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CloseAll closes every session. The manager opens nothing afterwards.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, s := range sessions {
		s.Close()
		log.Debug("SESSION [%s]: closed by manager", id)
	}
}
