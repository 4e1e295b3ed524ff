package transform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/petervdpas/livepad/internal/log"
)

const (
	typesHeader   = "X-TypeScript-Types"
	maxTypesBytes = 4 << 20
	fetchTimeout  = 15 * time.Second
)

// TypeInfo is the type metadata of one bare module, as fetched from the
// CDN. Done is false while the fetch is in flight.
type TypeInfo struct {
	Module       string `json:"module"`
	URL          string `json:"url,omitempty"`
	Declarations string `json:"declarations,omitempty"`
	Err          string `json:"error,omitempty"`
	Done         bool   `json:"done"`
}

// TypeFetcher downloads type declarations for bare modules in the
// background. Each module is fetched at most once per fetcher; a fetcher
// lives as long as its session.
type TypeFetcher struct {
	cdn    string
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	entries map[string]*TypeInfo
	subs    []func(TypeInfo)
}

// NewTypeFetcher returns a fetcher for cdn. A nil client uses a client with
// a fixed timeout.
func NewTypeFetcher(cdn string, client *http.Client) *TypeFetcher {
	if cdn == "" {
		cdn = DefaultCDN
	}
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TypeFetcher{
		cdn:     strings.TrimRight(cdn, "/"),
		client:  client,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*TypeInfo),
	}
}

// OnFetched registers fn to run, on the fetch goroutine, when a module's
// fetch completes.
func (f *TypeFetcher) OnFetched(fn func(TypeInfo)) {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
}

// Fetch starts downloading module's declarations unless that already
// happened. It never blocks.
func (f *TypeFetcher) Fetch(module string) {
	if module == "" {
		return
	}
	f.mu.Lock()
	if _, ok := f.entries[module]; ok || f.ctx.Err() != nil {
		f.mu.Unlock()
		return
	}
	f.entries[module] = &TypeInfo{Module: module}
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		url, decl, err := f.download(module)
		info := TypeInfo{Module: module, URL: url, Declarations: decl, Done: true}
		if err != nil {
			info.Err = err.Error()
			log.Debug("TYPES: %s: %v", module, err)
		} else {
			log.Debug("TYPES: fetched %s (%d bytes)", module, len(decl))
		}

		f.mu.Lock()
		f.entries[module] = &info
		subs := append([]func(TypeInfo){}, f.subs...)
		f.mu.Unlock()
		for _, fn := range subs {
			fn(info)
		}
	}()
}

func (f *TypeFetcher) download(module string) (string, string, error) {
	resp, err := f.get(f.cdn + "/" + module)
	if err != nil {
		return "", "", err
	}
	resp.Body.Close()

	ref := resp.Header.Get(typesHeader)
	if ref == "" {
		return "", "", errors.New("no type declarations published")
	}
	u, err := resp.Request.URL.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("types url %q: %w", ref, err)
	}

	resp, err = f.get(u.String())
	if err != nil {
		return u.String(), "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTypesBytes))
	if err != nil {
		return u.String(), "", err
	}
	return u.String(), string(data), nil
}

func (f *TypeFetcher) get(url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(f.ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return resp, nil
}

// Get returns what is known about module.
func (f *TypeFetcher) Get(module string) (TypeInfo, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[module]
	if !ok {
		return TypeInfo{}, false
	}
	return *e, true
}

// All returns every module seen so far, sorted by name.
func (f *TypeFetcher) All() []TypeInfo {
	f.mu.RLock()
	out := make([]TypeInfo, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, *e)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}

// Wait blocks until every started fetch has finished.
func (f *TypeFetcher) Wait() { f.wg.Wait() }

// Close cancels outstanding fetches and waits for them.
func (f *TypeFetcher) Close() {
	f.mu.Lock()
	f.cancel()
	f.mu.Unlock()
	f.wg.Wait()
}
