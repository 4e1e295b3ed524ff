// Package blob hands out addressable, revocable URLs for generated
// resources, the server-side counterpart of browser object URLs.
package blob

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

var (
	ErrRevoked  = errors.New("blob already revoked")
	ErrNotFound = errors.New("blob not found")
)

// localOrigin is used when the store has no public base URL, mirroring the
// shape of browser object URLs.
const localOrigin = "blob:http://localhost/"

// Blob is one stored resource.
type Blob struct {
	ID        string
	MediaType string
	Data      []byte
	Hash      uint64
	Created   time.Time
}

// Store keeps blobs in memory until they are revoked.
type Store struct {
	base string

	mu      sync.RWMutex
	blobs   map[string]*Blob
	revoked map[string]struct{}
}

// NewStore returns a store whose URLs are "<base>/blob/<id>", or
// "blob:http://localhost/<id>" when base is empty.
func NewStore(base string) *Store {
	return &Store{
		base:    strings.TrimRight(base, "/"),
		blobs:   make(map[string]*Blob),
		revoked: make(map[string]struct{}),
	}
}

// Create stores data and returns its URL.
func (s *Store) Create(data []byte, mediaType string) string {
	b := &Blob{
		ID:        uuid.NewString(),
		MediaType: mediaType,
		Data:      data,
		Hash:      xxh3.Hash(data),
		Created:   time.Now(),
	}
	s.mu.Lock()
	s.blobs[b.ID] = b
	s.mu.Unlock()
	return s.URL(b.ID)
}

// URL returns the address of id.
func (s *Store) URL(id string) string {
	if s.base == "" {
		return localOrigin + id
	}
	return s.base + "/blob/" + id
}

// ID extracts the blob id from a URL handed out by this store.
func (s *Store) ID(url string) (string, bool) {
	var id string
	switch {
	case s.base == "" && strings.HasPrefix(url, localOrigin):
		id = strings.TrimPrefix(url, localOrigin)
	case s.base != "" && strings.HasPrefix(url, s.base+"/blob/"):
		id = strings.TrimPrefix(url, s.base+"/blob/")
	default:
		return "", false
	}
	return id, id != "" && !strings.Contains(id, "/")
}

// Revoke releases the blob behind url. Releasing the same URL twice is an
// error.
func (s *Store) Revoke(url string) error {
	id, ok := s.ID(url)
	if !ok {
		return fmt.Errorf("revoke %q: %w", url, ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.revoked[id]; gone {
		return fmt.Errorf("revoke %q: %w", url, ErrRevoked)
	}
	if _, ok := s.blobs[id]; !ok {
		return fmt.Errorf("revoke %q: %w", url, ErrNotFound)
	}
	delete(s.blobs, id)
	s.revoked[id] = struct{}{}
	return nil
}

// Open returns the live blob with the given id.
func (s *Store) Open(id string) (*Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	return b, ok
}

// Resolve returns the live blob addressed by url.
func (s *Store) Resolve(url string) (*Blob, bool) {
	id, ok := s.ID(url)
	if !ok {
		return nil, false
	}
	return s.Open(id)
}

// Live returns the number of blobs not yet revoked.
func (s *Store) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// ServeHTTP serves GET /blob/<id>. Revoked blobs answer 410.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/blob/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	b, ok := s.Open(id)
	if !ok {
		s.mu.RLock()
		_, gone := s.revoked[id]
		s.mu.RUnlock()
		if gone {
			http.Error(w, "blob revoked", http.StatusGone)
			return
		}
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", b.MediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(b.Data)))
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("X-Content-Hash", strconv.FormatUint(b.Hash, 16))
	// preview frames load module scripts cross-origin
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(b.Data)
}
