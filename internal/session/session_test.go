package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/livepad/internal/blob"
	"github.com/petervdpas/livepad/internal/doc"
	"github.com/petervdpas/livepad/internal/storage"
	"github.com/petervdpas/livepad/internal/surface"
	"github.com/petervdpas/livepad/internal/transform"
)

func openSession(t *testing.T, opts Options) (*Session, *blob.Store) {
	t.Helper()
	if opts.Blobs == nil {
		opts.Blobs = blob.NewStore("")
	}
	s, err := Open(context.Background(), "demo", opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, opts.Blobs
}

func join(t *testing.T, s *Session, name string) *Participant {
	t.Helper()
	p, err := s.Join(context.Background(), name)
	require.NoError(t, err)
	drain(p)
	return p
}

// drain returns every message queued for p.
func drain(p *Participant) []Message {
	var out []Message
	for {
		select {
		case m, ok := <-p.Out():
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func ofType(msgs []Message, typ string) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func send(t *testing.T, p *Participant, msg Message) {
	t.Helper()
	require.NoError(t, p.Send(context.Background(), msg))
}

func body(t *testing.T, store *blob.Store, url string) string {
	t.Helper()
	b, ok := store.Resolve(url)
	require.True(t, ok, "blob %s is not live", url)
	return string(b.Data)
}

func TestDemoProjectRuns(t *testing.T) {
	s, store := openSession(t, Options{})
	ctx := context.Background()

	tree, err := s.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html", "main.ts", "math.ts"}, tree.Files())

	exes, err := s.Executables(ctx)
	require.NoError(t, err)
	require.Len(t, exes, 3)
	urls := map[string]string{}
	for _, e := range exes {
		require.NoError(t, e.Err, e.Path)
		urls[e.Path] = e.URL
	}
	assert.Contains(t, body(t, store, urls["index.html"]), urls["main.ts"])
	main := body(t, store, urls["main.ts"])
	assert.Contains(t, main, urls["math.ts"])
	assert.NotContains(t, main, "./math.ts")
}

func TestJoinSendsTreeAndExecutables(t *testing.T) {
	s, _ := openSession(t, Options{})
	p, err := s.Join(context.Background(), "ada")
	require.NoError(t, err)

	msgs := drain(p)
	require.NotEmpty(t, msgs)
	assert.Equal(t, MsgTree, msgs[0].Type)
	assert.Equal(t, []string{"index.html", "main.ts", "math.ts"}, msgs[0].Files)
	assert.Len(t, ofType(msgs, MsgExecutable), 3)

	ids, err := s.Participants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID()}, ids)
	assert.Equal(t, "ada", p.Name())
}

func TestParticipantsConverge(t *testing.T) {
	s, store := openSession(t, Options{})
	a := join(t, s, "a")
	b := join(t, s, "b")

	send(t, a, Message{Type: MsgOpen, Path: "main.ts"})
	send(t, b, Message{Type: MsgOpen, Path: "/main.ts"})
	resetA := ofType(drain(a), MsgReset)
	require.Len(t, resetA, 1)
	assert.Equal(t, 1, resetA[0].Version)
	assert.True(t, strings.HasPrefix(resetA[0].Text, "import"))
	drain(b)

	send(t, a, Message{Type: MsgEdit, Path: "main.ts", Version: 1, Changes: []surface.ChangeRegion{
		{RangeOffset: 0, RangeLength: 0, Text: "// hi\n"},
	}})

	am := drain(a)
	acks := ofType(am, MsgAck)
	require.Len(t, acks, 1)
	assert.Equal(t, 2, acks[0].Version)
	assert.Empty(t, ofType(am, MsgEdits), "no echo to the author")

	bm := drain(b)
	edits := ofType(bm, MsgEdits)
	require.Len(t, edits, 1)
	assert.Equal(t, 2, edits[0].Version)
	assert.Equal(t, []surface.ChangeRegion{{RangeOffset: 0, RangeLength: 0, Text: "// hi\n"}}, edits[0].Changes)

	// both see the rebuilt executable
	exA := ofType(am, MsgExecutable)
	exB := ofType(bm, MsgExecutable)
	require.NotEmpty(t, exA)
	assert.Equal(t, exA, exB)

	text, err := s.ReadFile(context.Background(), "main.ts")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "// hi\nimport"))

	exe, err := s.Executable(context.Background(), "main.ts")
	require.NoError(t, err)
	assert.Contains(t, body(t, store, exe.URL), "// hi")

	// b answers at the new version
	send(t, b, Message{Type: MsgEdit, Path: "main.ts", Version: 2, Changes: []surface.ChangeRegion{
		{RangeOffset: 3, RangeLength: 2, Text: "hello"},
	}})
	edits = ofType(drain(a), MsgEdits)
	require.Len(t, edits, 1)
	assert.Equal(t, 3, edits[0].Version)

	text, err = s.ReadFile(context.Background(), "main.ts")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "// hello\n"))
}

func TestConcurrentEditsBothSurvive(t *testing.T) {
	s, _ := openSession(t, Options{})
	a := join(t, s, "a")
	b := join(t, s, "b")
	send(t, a, Message{Type: MsgOpen, Path: "math.ts"})
	send(t, b, Message{Type: MsgOpen, Path: "math.ts"})
	drain(a)
	drain(b)

	send(t, a, Message{Type: MsgEdit, Path: "math.ts", Version: 1, Changes: []surface.ChangeRegion{{RangeOffset: 0, Text: "A"}}})
	// b has not seen a's edit yet
	send(t, b, Message{Type: MsgEdit, Path: "math.ts", Version: 1, Changes: []surface.ChangeRegion{{RangeOffset: 5, Text: "B"}}})

	text, err := s.ReadFile(context.Background(), "math.ts")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "AexporBt function"), text)

	bm := drain(b)
	resets := ofType(bm, MsgReset)
	require.Len(t, resets, 1)
	assert.Equal(t, text, resets[0].Text)
	assert.Equal(t, 3, resets[0].Version)

	am := ofType(drain(a), MsgEdits)
	require.Len(t, am, 1)
	assert.Equal(t, 3, am[0].Version)
	assert.Equal(t, []surface.ChangeRegion{{RangeOffset: 6, Text: "B"}}, am[0].Changes)

	// both carry on from the merged version
	send(t, b, Message{Type: MsgEdit, Path: "math.ts", Version: 3, Changes: []surface.ChangeRegion{{RangeOffset: 0, RangeLength: 1}}})
	acks := ofType(drain(b), MsgAck)
	require.Len(t, acks, 1)
	assert.Equal(t, 4, acks[0].Version)

	text, err = s.ReadFile(context.Background(), "math.ts")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "exporBt function"), text)
}

func TestEditAtForgottenVersionIsReset(t *testing.T) {
	s, _ := openSession(t, Options{})
	a := join(t, s, "a")
	send(t, a, Message{Type: MsgOpen, Path: "math.ts"})
	drain(a)

	send(t, a, Message{Type: MsgEdit, Path: "math.ts", Version: 99, Changes: []surface.ChangeRegion{{RangeOffset: 0, Text: "X"}}})
	resets := ofType(drain(a), MsgReset)
	require.Len(t, resets, 1)
	assert.Equal(t, 1, resets[0].Version)
	assert.True(t, strings.HasPrefix(resets[0].Text, "export"))

	text, err := s.ReadFile(context.Background(), "math.ts")
	require.NoError(t, err)
	assert.Equal(t, resets[0].Text, text)
}

func TestHistoryKeepsRecentVersions(t *testing.T) {
	h := &history{}
	for v := 1; v <= historySize+10; v++ {
		h.record(v, doc.Heads{})
	}
	_, ok := h.at(1)
	assert.False(t, ok)
	_, ok = h.at(historySize + 10)
	assert.True(t, ok)
	assert.Len(t, h.versions, historySize)

	var none *history
	_, ok = none.at(1)
	assert.False(t, ok)
}

func TestScrollAndSelectionSurviveReopen(t *testing.T) {
	s, _ := openSession(t, Options{})
	a := join(t, s, "a")
	send(t, a, Message{Type: MsgOpen, Path: "math.ts"})
	send(t, a, Message{Type: MsgScroll, Path: "math.ts", Scroll: &surface.Scroll{Top: 120}})
	send(t, a, Message{Type: MsgSelect, Path: "math.ts", Selection: &surface.Selection{Anchor: 4, Head: 9}})
	send(t, a, Message{Type: MsgClose, Path: "math.ts"})
	assert.Len(t, ofType(drain(a), MsgClosed), 1)

	send(t, a, Message{Type: MsgOpen, Path: "math.ts"})
	resets := ofType(drain(a), MsgReset)
	require.Len(t, resets, 1)
	assert.Equal(t, &surface.Scroll{Top: 120}, resets[0].Scroll)
	assert.Equal(t, &surface.Selection{Anchor: 4, Head: 9}, resets[0].Selection)
}

func TestDeleteClosesTabsAndFailsImporters(t *testing.T) {
	s, _ := openSession(t, Options{})
	a := join(t, s, "a")
	send(t, a, Message{Type: MsgOpen, Path: "math.ts"})
	drain(a)

	require.NoError(t, s.Delete(context.Background(), "math.ts"))
	msgs := drain(a)

	closed := ofType(msgs, MsgClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, "math.ts", closed[0].Path)

	trees := ofType(msgs, MsgTree)
	require.Len(t, trees, 1)
	assert.Equal(t, []string{"index.html", "main.ts"}, trees[0].Files)

	var removed, mainFailed bool
	for _, m := range ofType(msgs, MsgExecutable) {
		if m.Path == "math.ts" && m.Removed {
			removed = true
		}
		if m.Path == "main.ts" && m.URL == "" && strings.Contains(m.Error, "unresolved") {
			mainFailed = true
		}
	}
	assert.True(t, removed)
	assert.True(t, mainFailed)

	err := a.Send(context.Background(), Message{Type: MsgEdit, Path: "math.ts", Version: 1})
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.Len(t, ofType(drain(a), MsgError), 1)
}

func TestFileOperations(t *testing.T) {
	s, _ := openSession(t, Options{Seed: func() doc.FileTree { return doc.FileTree{} }})
	ctx := context.Background()

	require.NoError(t, s.CreateDir(ctx, "src"))
	require.NoError(t, s.CreateFile(ctx, "src/a.js", "export const a = 1\n"))
	assert.ErrorIs(t, s.CreateFile(ctx, "src/a.js", ""), doc.ErrExists)
	assert.ErrorIs(t, s.CreateFile(ctx, "../x.js", ""), ErrBadPath)
	require.NoError(t, s.WriteFile(ctx, "src/a.js", "export const a = 2\n"))
	require.NoError(t, s.Rename(ctx, "src", "lib"))
	assert.ErrorIs(t, s.Delete(ctx, "src"), doc.ErrNotFound)

	tree, err := s.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, doc.FileTree{"lib": doc.Directory, "lib/a.js": doc.File("export const a = 2\n")}, tree)

	matches, err := s.Match(ctx, "**/*.js")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/a.js"}, matches)

	_, err = s.ReadFile(ctx, "lib")
	assert.ErrorIs(t, err, doc.ErrIsDir)
}

func TestPersistence(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "livepad.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	s, err := Open(ctx, "p1", Options{DB: db, CompactEvery: 2})
	require.NoError(t, err)
	require.NoError(t, s.WriteFile(ctx, "notes.md", "# notes"))
	require.NoError(t, s.CreateDir(ctx, "assets"))
	require.NoError(t, s.Rename(ctx, "notes.md", "assets/notes.md"))
	want, err := s.Tree(ctx)
	require.NoError(t, err)
	s.Close()

	p, err := db.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), p.Seq, "close writes a final snapshot")
	assert.Empty(t, p.Changes)

	s, err = Open(ctx, "p1", Options{DB: db})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Contains(t, got, "assets/notes.md")
}

func TestBuildWaitsForQuietTime(t *testing.T) {
	s, _ := openSession(t, Options{BuildDelay: 200 * time.Millisecond})
	a := join(t, s, "a")
	send(t, a, Message{Type: MsgOpen, Path: "math.ts"})
	drain(a)

	send(t, a, Message{Type: MsgEdit, Path: "math.ts", Version: 1, Changes: []surface.ChangeRegion{{Text: "// x\n"}}})
	send(t, a, Message{Type: MsgEdit, Path: "math.ts", Version: 2, Changes: []surface.ChangeRegion{{Text: "// y\n"}}})
	assert.Empty(t, ofType(drain(a), MsgExecutable), "edits are acknowledged before any rebuild")

	var got []Message
	require.Eventually(t, func() bool {
		for _, m := range ofType(drain(a), MsgExecutable) {
			if m.Path == "math.ts" {
				got = append(got, m)
			}
		}
		return len(got) > 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Len(t, got, 1, "one rebuild covers both edits")

	// queries still see the latest source without waiting
	send(t, a, Message{Type: MsgEdit, Path: "math.ts", Version: 3, Changes: []surface.ChangeRegion{{Text: "// z\n"}}})
	exe, err := s.Executable(context.Background(), "math.ts")
	require.NoError(t, err)
	assert.Greater(t, exe.Generation, got[0].Generation)
}

// flakyStore fails the next fail appends.
type flakyStore struct {
	*storage.DB
	fail int
}

func (f *flakyStore) Append(ctx context.Context, id string, ch doc.Change) error {
	if f.fail > 0 {
		f.fail--
		return errors.New("disk full")
	}
	return f.DB.Append(ctx, id, ch)
}

func TestFailedAppendSnapshots(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "livepad.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	store := &flakyStore{DB: db}
	s, err := Open(ctx, "p1", Options{DB: store})
	require.NoError(t, err)
	defer s.Close()

	store.fail = 1
	require.NoError(t, s.WriteFile(ctx, "notes.txt", "abc"))
	require.NoError(t, s.WriteFile(ctx, "notes.txt", "ab"))
	require.NoError(t, s.CreateDir(ctx, "assets"))

	// read back while the session is still open, as a crash would leave it
	p, err := db.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.Seq, "the lost change is covered by a snapshot")
	head, err := p.HeadTree()
	require.NoError(t, err)
	want, err := s.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, head)
	assert.Equal(t, uint64(3), p.Head())
}

func TestUnknownMessage(t *testing.T) {
	s, _ := openSession(t, Options{})
	a := join(t, s, "a")
	err := a.Send(context.Background(), Message{Type: "bogus"})
	assert.ErrorIs(t, err, ErrUnknownOp)
	errs := ofType(drain(a), MsgError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "bogus")
}

func TestSlowParticipantIsDropped(t *testing.T) {
	s, _ := openSession(t, Options{OutboxSize: 2})
	p, err := s.Join(context.Background(), "slow")
	require.NoError(t, err)

	msgs := drain(p)
	assert.Len(t, msgs, 2)
	_, open := <-p.Out()
	assert.False(t, open)
	assert.Equal(t, "outbox full", p.Reason())

	ids, err := s.Participants(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.ErrorIs(t, p.Send(context.Background(), Message{Type: MsgOpen, Path: "main.ts"}), ErrClosed)
}

func TestLeaveAndClose(t *testing.T) {
	s, err := Open(context.Background(), "x", Options{})
	require.NoError(t, err)
	a := join(t, s, "a")
	b := join(t, s, "b")

	require.NoError(t, a.Leave(context.Background()))
	_, open := <-a.Out()
	assert.False(t, open)

	s.Close()
	s.Close()
	<-s.Done()
	_, open = <-b.Out()
	assert.False(t, open)
	assert.Equal(t, "session closed", b.Reason())
	assert.NoError(t, b.Leave(context.Background()))
	_, err = s.Tree(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPluginChangeRebuilds(t *testing.T) {
	plugins := transform.NewRegistry()
	s, store := openSession(t, Options{
		Plugins: plugins,
		Seed:    func() doc.FileTree { return doc.FileTree{"a.txt": doc.File("quiet")} },
	})
	ctx := context.Background()
	before, err := s.Executable(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "quiet", body(t, store, before.URL))

	plugins.Register("txt", transform.Extension{
		MediaType: transform.MediaText,
		Transform: func(_ context.Context, in transform.Input) (transform.Output, error) {
			return transform.Output{Code: strings.ToUpper(in.Source)}, nil
		},
	})
	require.Eventually(t, func() bool {
		exe, err := s.Executable(ctx, "a.txt")
		return err == nil && exe.Generation > before.Generation
	}, 2*time.Second, 10*time.Millisecond)

	after, err := s.Executable(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "QUIET", body(t, store, after.URL))
}

func TestManager(t *testing.T) {
	m := NewManager(Options{})
	ctx := context.Background()

	s1, err := m.Open(ctx, "alpha")
	require.NoError(t, err)
	s2, err := m.Open(ctx, " alpha ")
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	_, err = m.Open(ctx, "no/slashes")
	assert.Error(t, err)

	_, err = m.Open(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, m.IDs())

	m.Close("alpha")
	<-s1.Done()
	_, ok := m.Get("alpha")
	assert.False(t, ok)

	m.CloseAll()
	assert.Empty(t, m.IDs())
	_, err = m.Open(ctx, "gamma")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManagerCreate(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "livepad.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	m := NewManager(Options{DB: db})
	defer m.CloseAll()

	s, err := m.Create(ctx, "notes", doc.FileTree{"index.md": doc.File("# hi")})
	require.NoError(t, err)
	tree, err := s.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"index.md"}, tree.Files())

	_, err = m.Create(ctx, "notes", doc.FileTree{})
	assert.ErrorIs(t, err, doc.ErrExists, "open project")

	m.Close("notes")
	<-s.Done()
	_, err = m.Create(ctx, "notes", doc.FileTree{})
	assert.ErrorIs(t, err, doc.ErrExists, "stored project")

	s, err = m.Open(ctx, "notes")
	require.NoError(t, err)
	tree, err = s.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, "# hi", tree["index.md"].Text)
}
