// Package session hosts one project: its document replica, the execution
// pipeline built from it and the participants editing it. Every state
// change runs on the session's command goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/petervdpas/livepad/internal/blob"
	"github.com/petervdpas/livepad/internal/doc"
	"github.com/petervdpas/livepad/internal/log"
	"github.com/petervdpas/livepad/internal/modpath"
	"github.com/petervdpas/livepad/internal/pipeline"
	"github.com/petervdpas/livepad/internal/projection"
	"github.com/petervdpas/livepad/internal/storage"
	"github.com/petervdpas/livepad/internal/transform"
)

var (
	ErrClosed    = errors.New("session closed")
	ErrBadPath   = errors.New("invalid path")
	ErrNotOpen   = errors.New("file is not open")
	ErrUnknownOp = errors.New("unknown message type")
)

// Store persists projects. *storage.DB implements it.
type Store interface {
	Create(ctx context.Context, id string, tree doc.FileTree) error
	Load(ctx context.Context, id string) (storage.Project, error)
	Append(ctx context.Context, id string, ch doc.Change) error
	Compact(ctx context.Context, id string, tree doc.FileTree, seq uint64) error
}

// Options configures sessions. The zero value gives an in-memory session
// with the built-in transforms and no type fetching.
type Options struct {
	DB           Store               // nil keeps projects in memory only
	Blobs        *blob.Store         // shared by all sessions; nil creates one per session
	Plugins      *transform.Registry // consulted before the built-ins
	Transform    transform.Options   // Types is filled in per session
	FetchTypes   bool
	HTTPClient   *http.Client // type fetches
	CompactEvery int          // changes between snapshots; 0 never compacts
	Seed         func() doc.FileTree
	OutboxSize   int // queued messages per participant before it is dropped
	// BuildDelay batches rebuilds after edits; 0 rebuilds before each
	// command returns.
	BuildDelay time.Duration
}

type command struct {
	fn   func() error
	done chan error
}

// Session is one open project.
type Session struct {
	id   string
	opts Options

	replica *doc.Replica
	proj    *projection.Projection
	builtin *transform.Registry
	types   *transform.TypeFetcher
	pipe    *pipeline.Pipeline
	blobs   *blob.Store

	// owned by the loop goroutine
	participants map[string]*Participant
	treeDirty    bool
	entriesDirty bool
	buildPending bool
	buildTimer   *time.Timer
	sinceCompact int
	logBroken    bool // the change log misses a change; snapshot before appending again
	offs         []func()

	ctx       context.Context
	cancel    context.CancelFunc
	cmds      chan command
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// Open loads project id from the database, creating it from the seed when
// it does not exist, and starts its loop.
func Open(ctx context.Context, id string, opts Options) (*Session, error) {
	if opts.Seed == nil {
		opts.Seed = DemoProject
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 256
	}

	replica := doc.NewReplica()
	if err := restore(ctx, id, opts, replica); err != nil {
		return nil, err
	}

	blobs := opts.Blobs
	if blobs == nil {
		blobs = blob.NewStore("")
	}

	topts := opts.Transform
	var types *transform.TypeFetcher
	if opts.FetchTypes {
		types = transform.NewTypeFetcher(topts.CDN, opts.HTTPClient)
		topts.Types = types
	}
	builtin := transform.Builtins(topts)
	table := transform.Chain{opts.Plugins, builtin}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           id,
		opts:         opts,
		replica:      replica,
		builtin:      builtin,
		types:        types,
		pipe:         pipeline.New(table, blobs, pipeline.Options{}),
		blobs:        blobs,
		participants: make(map[string]*Participant),
		treeDirty:    true,
		buildPending: true,
		ctx:          sctx,
		cancel:       cancel,
		cmds:         make(chan command),
		quit:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	// registered before any participant engine, so changes are stored
	// before anyone reacts to them
	s.offs = append(s.offs, replica.OnChange(s.onChange))
	s.proj = projection.New(replica)
	s.offs = append(s.offs, s.pipe.Subscribe(s.onExecutable))
	s.offs = append(s.offs, table.OnChange(func(ext string) {
		s.post(func() {
			if n := s.pipe.InvalidateExtension(ext); n > 0 {
				s.buildPending = true
				log.Info("SESSION [%s]: transform for .%s changed, rebuilding %d file(s)", s.id, ext, n)
			}
		})
	}))
	if types != nil {
		types.OnFetched(func(info transform.TypeInfo) {
			s.post(func() { s.broadcast(typesMessage(info)) })
		})
	}

	go s.run()

	if err := s.Do(ctx, func() error { return nil }); err != nil {
		s.Close()
		return nil, err
	}
	log.Info("SESSION [%s]: opened (%d files, seq %d)", id, len(s.proj.Files()), replica.Seq())
	return s, nil
}

func restore(ctx context.Context, id string, opts Options, replica *doc.Replica) error {
	if opts.DB == nil {
		return replica.Load(opts.Seed(), 0)
	}
	p, err := opts.DB.Load(ctx, id)
	if errors.Is(err, storage.ErrNoProject) {
		tree := opts.Seed()
		if err := opts.DB.Create(ctx, id, tree); err != nil {
			return err
		}
		return replica.Load(tree, 0)
	}
	if err != nil {
		return err
	}
	head, err := p.HeadTree()
	if err != nil {
		return err
	}
	return replica.Load(head, p.Head())
}

// ID returns the project id.
func (s *Session) ID() string { return s.id }

// Do runs fn on the session loop and waits for it. Without a BuildDelay the
// pipeline is brought up to date before Do returns.
func (s *Session) Do(ctx context.Context, fn func() error) error {
	c := command{fn: fn, done: make(chan error, 1)}
	select {
	case s.cmds <- c:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting for it. Used by background goroutines.
func (s *Session) post(fn func()) {
	go func() {
		_ = s.Do(context.Background(), func() error {
			fn()
			return nil
		})
	}()
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.quit:
			s.shutdown()
			return
		case c := <-s.cmds:
			c.done <- s.exec(c.fn)
		}
	}
}

func (s *Session) exec(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("SESSION [%s]: panic: %v\n%s", s.id, r, debug.Stack())
			err = fmt.Errorf("session %s: internal error: %v", s.id, r)
		}
	}()
	err = fn()
	s.settle()
	return err
}

// settle feeds the latest tree to the pipeline and rebuilds what changed,
// at once or after BuildDelay. Commands that touched nothing build nothing.
func (s *Session) settle() {
	if s.treeDirty {
		tree, _ := s.replica.Snapshot()
		s.pipe.Update(tree)
		s.treeDirty = false
		s.buildPending = true
	}
	if s.buildPending {
		if s.opts.BuildDelay <= 0 {
			s.build()
		} else if s.buildTimer == nil {
			s.buildTimer = time.AfterFunc(s.opts.BuildDelay, func() {
				s.post(func() {
					s.buildTimer = nil
					s.build()
				})
			})
		}
	}
	if s.entriesDirty {
		s.entriesDirty = false
		s.broadcast(s.treeMessage())
	}
}

func (s *Session) build() {
	s.buildPending = false
	if _, err := s.pipe.Build(s.ctx); err != nil {
		log.Warn("SESSION [%s]: build: %v", s.id, err)
	}
}

func (s *Session) onChange(ch doc.Change) {
	s.treeDirty = true
	for _, p := range ch.Patches {
		if p.KeyPathLen() == 1 {
			s.entriesDirty = true
			break
		}
	}
	if s.opts.DB == nil {
		return
	}
	if s.logBroken {
		s.compact()
		return
	}
	if err := s.opts.DB.Append(s.ctx, s.id, ch); err != nil {
		log.Error("SESSION [%s]: store change %d: %v", s.id, ch.Seq, err)
		s.logBroken = true
		s.compact()
		return
	}
	s.sinceCompact++
	if s.opts.CompactEvery > 0 && s.sinceCompact >= s.opts.CompactEvery {
		s.compact()
	}
}

func (s *Session) compact() {
	tree, _ := s.replica.Snapshot()
	seq := s.replica.Seq()
	if err := s.opts.DB.Compact(s.ctx, s.id, tree, seq); err != nil {
		log.Error("SESSION [%s]: compact: %v", s.id, err)
		return
	}
	s.sinceCompact = 0
	s.logBroken = false
	log.Debug("SESSION [%s]: compacted at seq %d", s.id, seq)
}

func (s *Session) onExecutable(ev pipeline.Event) {
	s.broadcast(executableMessage(ev))
}

func (s *Session) broadcast(msg Message) {
	for _, p := range s.sortedParticipants() {
		p.push(msg)
	}
}

func (s *Session) sortedParticipants() []*Participant {
	out := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Session) treeMessage() Message {
	return Message{Type: MsgTree, Files: s.proj.Files(), Dirs: s.proj.Dirs()}
}

func executableMessage(ev pipeline.Event) Message {
	msg := Message{
		Type:       MsgExecutable,
		Path:       ev.Path,
		URL:        ev.URL,
		MediaType:  ev.MediaType,
		Generation: ev.Generation,
		Removed:    ev.Removed,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}

func typesMessage(info transform.TypeInfo) Message {
	return Message{
		Type:         MsgTypes,
		Module:       info.Module,
		URL:          info.URL,
		Declarations: info.Declarations,
		Error:        info.Err,
	}
}

// ── Project file operations ──

func cleanPath(p string) (string, error) {
	c := modpath.Clean(p)
	if c == "" {
		return "", fmt.Errorf("%q: %w", p, ErrBadPath)
	}
	return c, nil
}

func (s *Session) mutate(ctx context.Context, fn func(*doc.Draft) error) error {
	return s.Do(ctx, func() error {
		_, err := s.replica.Mutate(fn)
		return err
	})
}

// CreateFile adds a new file. It fails when path already exists.
func (s *Session) CreateFile(ctx context.Context, path, text string) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	return s.mutate(ctx, func(d *doc.Draft) error {
		if _, ok := d.Get(path); ok {
			return fmt.Errorf("create %q: %w", path, doc.ErrExists)
		}
		return d.Put(path, text)
	})
}

// CreateDir adds a directory.
func (s *Session) CreateDir(ctx context.Context, path string) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	return s.mutate(ctx, func(d *doc.Draft) error { return d.Mkdir(path) })
}

// WriteFile replaces the content of path, creating it if needed.
func (s *Session) WriteFile(ctx context.Context, path, text string) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	return s.mutate(ctx, func(d *doc.Draft) error { return d.Put(path, text) })
}

// Rename moves a file or a directory with everything below it.
func (s *Session) Rename(ctx context.Context, from, to string) error {
	from, err := cleanPath(from)
	if err != nil {
		return err
	}
	if to, err = cleanPath(to); err != nil {
		return err
	}
	return s.mutate(ctx, func(d *doc.Draft) error { return d.Rename(from, to) })
}

// Delete removes a file or a directory with everything below it.
func (s *Session) Delete(ctx context.Context, path string) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	return s.mutate(ctx, func(d *doc.Draft) error { return d.Delete(path) })
}

// ── Queries ──

// Tree returns the current file tree.
func (s *Session) Tree(ctx context.Context) (doc.FileTree, error) {
	var tree doc.FileTree
	err := s.Do(ctx, func() error {
		tree, _ = s.proj.Snapshot()
		return nil
	})
	return tree, err
}

// ReadFile returns the text of one file.
func (s *Session) ReadFile(ctx context.Context, path string) (string, error) {
	tree, err := s.Tree(ctx)
	if err != nil {
		return "", err
	}
	e, ok := tree[modpath.Normalize(path)]
	switch {
	case !ok:
		return "", fmt.Errorf("%q: %w", path, doc.ErrNotFound)
	case e.IsDir:
		return "", fmt.Errorf("%q: %w", path, doc.ErrIsDir)
	}
	return e.Text, nil
}

// Match returns the files and directories matching a glob.
func (s *Session) Match(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	err := s.Do(ctx, func() error {
		out = s.proj.Match(pattern)
		return nil
	})
	return out, err
}

// Executables returns every executable, sorted by path.
func (s *Session) Executables(ctx context.Context) ([]pipeline.Executable, error) {
	var out []pipeline.Executable
	err := s.Do(ctx, func() error {
		var err error
		out, err = s.pipe.Build(s.ctx)
		return err
	})
	return out, err
}

// Executable returns the executable of one file.
func (s *Session) Executable(ctx context.Context, path string) (pipeline.Executable, error) {
	var exe pipeline.Executable
	err := s.Do(ctx, func() error {
		var err error
		exe, err = s.pipe.Get(s.ctx, path)
		return err
	})
	return exe, err
}

// Types returns the type declarations fetched so far.
func (s *Session) Types() []transform.TypeInfo {
	if s.types == nil {
		return nil
	}
	return s.types.All()
}

// Participants returns the ids of everyone connected.
func (s *Session) Participants(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.Do(ctx, func() error {
		for _, p := range s.sortedParticipants() {
			ids = append(ids, p.id)
		}
		return nil
	})
	return ids, err
}

// Close stops the loop, disconnects every participant and releases every
// executable. The final tree is written as a snapshot.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.stopped
		log.Info("SESSION [%s]: closed", s.id)
	})
}

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.stopped }

func (s *Session) shutdown() {
	for _, p := range s.sortedParticipants() {
		p.drop("session closed")
	}
	for _, off := range s.offs {
		off()
	}
	if s.buildTimer != nil {
		s.buildTimer.Stop()
	}
	if s.opts.DB != nil && (s.sinceCompact > 0 || s.logBroken) {
		s.compact()
	}
	s.proj.Close()
	s.pipe.Close()
	if s.types != nil {
		s.types.Close()
	}
	s.cancel()
}
