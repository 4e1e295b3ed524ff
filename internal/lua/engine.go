// Package lua runs user-supplied transform plugins: every *.lua file in the
// plugin directory handles one file extension, is sandboxed, and is reloaded
// when it changes on disk.
package lua

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/petervdpas/livepad/internal/config"
	"github.com/petervdpas/livepad/internal/log"
	"github.com/petervdpas/livepad/internal/transform"
)

var (
	ErrNoEntryPoint = errors.New("plugin has no transform() function")
	ErrTimeout      = errors.New("plugin timed out")
	ErrMemory       = errors.New("plugin memory limit exceeded")
)

const defaultMediaType = "text/plain; charset=utf-8"

// scriptMeta holds a compiled plugin and what its header declares.
type scriptMeta struct {
	proto       *lua.FunctionProto
	description string // from leading --- comment
	ext         string // --- @extension, defaults to the file name
	mediaType   string // --- @media
}

// PluginInfo describes a loaded plugin for listings.
type PluginInfo struct {
	Name        string `json:"name"`
	Extension   string `json:"extension"`
	MediaType   string `json:"media_type"`
	Description string `json:"description"`
}

// Engine compiles plugins, registers them as transforms and keeps them in
// sync with the plugin directory.
type Engine struct {
	mu       sync.RWMutex
	scripts  map[string]*scriptMeta         // plugin name -> compiled script
	shadowed map[string]transform.Extension // extension -> handling a plugin replaced
	cfg      config.Lua
	dir      string
	reg      *transform.Registry
	watcher  *fsnotify.Watcher
	closed   chan struct{}
	done     chan struct{}
}

// NewEngine loads every plugin in cfg.ScriptDir (relative to baseDir) into
// reg and starts watching the directory.
func NewEngine(cfg config.Lua, baseDir string, reg *transform.Registry) (*Engine, error) {
	dir := cfg.ScriptDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(baseDir, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	e := &Engine{
		scripts:  make(map[string]*scriptMeta),
		shadowed: make(map[string]transform.Extension),
		cfg:      cfg,
		dir:      dir,
		reg:      reg,
		watcher:  watcher,
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	e.scanDir()

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch plugin dir: %w", err)
	}

	go e.watchLoop()

	log.Info("LUA: engine started, %d plugin(s) loaded from %s", len(e.scripts), dir)
	return e, nil
}

func (e *Engine) scanDir() {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".lua")
		if err := e.compileScript(name, filepath.Join(e.dir, entry.Name())); err != nil {
			log.Warn("LUA: failed to compile %s: %v", entry.Name(), err)
		}
	}
}

func (e *Engine) compileScript(name, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	source := string(data)

	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	meta := &scriptMeta{
		proto:       proto,
		description: extractDescription(source),
		ext:         strings.ToLower(extractAnnotation(source, "extension")),
		mediaType:   extractAnnotation(source, "media"),
	}
	if meta.ext == "" {
		meta.ext = strings.ToLower(name)
	}
	if !detectEntryPoint(source, "transform") {
		return ErrNoEntryPoint
	}

	e.mu.Lock()
	var restore func()
	if old, ok := e.scripts[name]; ok && old.ext != meta.ext {
		restore = e.releaseLocked(name, old.ext)
	}
	if meta.mediaType == "" {
		if prev, ok := e.shadowed[meta.ext]; ok {
			meta.mediaType = prev.MediaType
		} else if prev, ok := e.reg.Lookup(meta.ext); ok {
			meta.mediaType = prev.MediaType
		} else {
			meta.mediaType = defaultMediaType
		}
	}
	if _, ok := e.shadowed[meta.ext]; !ok && !e.ownsLocked(name, meta.ext) {
		if prev, ok := e.reg.Lookup(meta.ext); ok {
			e.shadowed[meta.ext] = prev
		}
	}
	e.scripts[name] = meta
	e.mu.Unlock()

	if restore != nil {
		restore()
	}
	e.reg.Register(meta.ext, transform.Extension{
		MediaType: meta.mediaType,
		Transform: e.transformFor(name),
	})
	log.Info("LUA: loaded plugin %q for .%s", name, meta.ext)
	return nil
}

// ownsLocked reports whether a plugin other than name handles ext.
func (e *Engine) ownsLocked(name, ext string) bool {
	for n, m := range e.scripts {
		if n != name && m.ext == ext {
			return true
		}
	}
	return false
}

// releaseLocked detaches plugin name from ext and returns the registry
// update that gives ext back to whatever handled it before. The caller runs
// it after unlocking.
func (e *Engine) releaseLocked(name, ext string) func() {
	if e.ownsLocked(name, ext) {
		return nil
	}
	if prev, ok := e.shadowed[ext]; ok {
		delete(e.shadowed, ext)
		return func() { e.reg.Register(ext, prev) }
	}
	return func() { e.reg.Unregister(ext) }
}

func (e *Engine) removeScript(name string) {
	e.mu.Lock()
	meta, ok := e.scripts[name]
	if !ok {
		e.mu.Unlock()
		return
	}
	restore := e.releaseLocked(name, meta.ext)
	delete(e.scripts, name)
	e.mu.Unlock()

	if restore != nil {
		restore()
	}
	log.Info("LUA: removed plugin %q", name)
}

func (e *Engine) watchLoop() {
	defer close(e.done)
	for {
		select {
		case <-e.closed:
			return
		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".lua") {
				continue
			}
			name := strings.TrimSuffix(filepath.Base(event.Name), ".lua")

			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if err := e.compileScript(name, event.Name); err != nil {
					log.Warn("LUA: hot reload failed for %s: %v", name, err)
				}
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				e.removeScript(name)
			}
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("LUA: watcher error: %v", err)
		}
	}
}

// transformFor returns a transform that always runs the latest compiled
// version of plugin name.
func (e *Engine) transformFor(name string) transform.Transform {
	return func(ctx context.Context, in transform.Input) (transform.Output, error) {
		e.mu.RLock()
		meta, ok := e.scripts[name]
		e.mu.RUnlock()
		if !ok {
			return transform.Output{}, fmt.Errorf("plugin %q is not loaded", name)
		}
		return e.execute(ctx, name, meta.proto, in)
	}
}

func (e *Engine) execute(ctx context.Context, name string, proto *lua.FunctionProto, in transform.Input) (out transform.Output, err error) {
	timeout := time.Duration(e.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	inv := newInvocation(tctx, name, in)
	L := newSandboxedVM(inv)
	defer L.Close()
	L.SetContext(tctx)

	memMon := newMemoryMonitor(e.cfg.MaxMemoryMB)
	stopMon := memMon.watch(tctx, cancel, name)
	defer stopMon()

	defer func() {
		if r := recover(); r != nil {
			out, err = transform.Output{Deps: inv.deps}, fmt.Errorf("plugin %s panicked: %v", name, r)
		}
	}()

	fail := func(err error) (transform.Output, error) {
		switch {
		case memMon.wasExceeded():
			err = fmt.Errorf("%s: %w", name, ErrMemory)
		case errors.Is(tctx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("%s: %w", name, ErrTimeout)
		case inv.err != nil:
			err = inv.err
		}
		return transform.Output{Deps: inv.deps}, err
	}

	// Load compiled proto
	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return fail(fmt.Errorf("load plugin %s: %w", name, err))
	}

	fn := L.GetGlobal("transform")
	if fn.Type() != lua.LTFunction {
		return fail(fmt.Errorf("%s: %w", name, ErrNoEntryPoint))
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true},
		lua.LString(in.Path), lua.LString(in.Source)); err != nil {
		return fail(fmt.Errorf("plugin %s: %w", name, err))
	}
	ret, msg := L.Get(-2), L.Get(-1)
	L.Pop(2)

	if inv.err != nil {
		return fail(inv.err)
	}
	if ret == lua.LNil {
		reason := "returned nil"
		if msg != lua.LNil {
			reason = msg.String()
		}
		return fail(fmt.Errorf("plugin %s: %s", name, reason))
	}
	return transform.Output{Code: ret.String(), Deps: inv.deps}, nil
}

// Plugins lists the loaded plugins sorted by name.
func (e *Engine) Plugins() []PluginInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]PluginInfo, 0, len(e.scripts))
	for name, m := range e.scripts {
		out = append(out, PluginInfo{Name: name, Extension: m.ext, MediaType: m.mediaType, Description: m.description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dir returns the watched plugin directory.
func (e *Engine) Dir() string { return e.dir }

// Close stops watching. Registered plugins stay registered.
func (e *Engine) Close() {
	select {
	case <-e.closed:
		return
	default:
	}
	close(e.closed)
	e.watcher.Close()
	<-e.done
}

// extractDescription returns the first --- comment from a script source.
func extractDescription(source string) string {
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "---") {
			desc := strings.TrimSpace(strings.TrimPrefix(line, "---"))
			if !strings.HasPrefix(desc, "@") {
				return desc
			}
			continue
		}
		break
	}
	return ""
}

var annotationRe = regexp.MustCompile(`^---\s*@(\w+)\s+(\S+)`)

// extractAnnotation reads a "--- @key value" line from the leading comment
// block.
func extractAnnotation(source, key string) string {
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "---") {
			break
		}
		if m := annotationRe.FindStringSubmatch(line); m != nil && m[1] == key {
			return m[2]
		}
	}
	return ""
}

// detectEntryPoint checks if a script defines a given function name.
func detectEntryPoint(source, funcName string) bool {
	pattern := "function " + funcName + "("
	patternAlt := "function " + funcName + " ("
	return strings.Contains(source, pattern) || strings.Contains(source, patternAlt)
}
