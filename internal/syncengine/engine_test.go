package syncengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/livepad/internal/doc"
	"github.com/petervdpas/livepad/internal/surface"
)

func newReplica(t *testing.T, tree doc.FileTree) *doc.Replica {
	t.Helper()
	r := doc.NewReplica()
	r.Load(tree, 0)
	return r
}

func newEngine(t *testing.T, h doc.Handle) (*Engine, *[]error) {
	t.Helper()
	var errs []error
	e := New(h, Hooks{OnError: func(err error) { errs = append(errs, err) }})
	t.Cleanup(e.Close)
	return e, &errs
}

func text(t *testing.T, h doc.Handle, path string) string {
	t.Helper()
	tree, ok := h.Snapshot()
	require.True(t, ok)
	return tree[path].Text
}

func TestLocalEditsConverge(t *testing.T) {
	r := newReplica(t, doc.FileTree{"a.js": doc.File("let x = 1;\n")})
	alice, aliceErrs := newEngine(t, r)
	bob, _ := newEngine(t, r)

	am, err := alice.Open("a.js")
	require.NoError(t, err)
	bm, err := bob.Open("a.js")
	require.NoError(t, err)

	var aliceEvents int
	am.OnDidChangeContent(func(surface.ContentChange) { aliceEvents++ })

	require.NoError(t, am.ApplyRegions([]surface.ChangeRegion{
		{RangeOffset: 8, RangeLength: 1, Text: "42"},
		{RangeOffset: 12, Text: "x++;\n"},
	}))

	want := "let x = 42;\nx++;\n"
	assert.Equal(t, want, am.Value())
	assert.Equal(t, want, text(t, r, "a.js"))
	assert.Equal(t, want, bm.Value())
	// the echo of alice's own change never reaches her model
	assert.Equal(t, 1, aliceEvents)
	assert.Empty(t, *aliceErrs)

	require.NoError(t, bm.ApplyRegions([]surface.ChangeRegion{{RangeOffset: 0, RangeLength: 3, Text: "var"}}))
	assert.Equal(t, "var x = 42;\nx++;\n", am.Value())
	assert.Equal(t, am.Value(), text(t, r, "a.js"))
}

func TestOneMutateIsOneChange(t *testing.T) {
	r := newReplica(t, doc.FileTree{"a.js": doc.File("abc")})
	e, _ := newEngine(t, r)
	m, err := e.Open("a.js")
	require.NoError(t, err)

	var changes []doc.Change
	r.OnChange(func(ch doc.Change) { changes = append(changes, ch) })

	require.NoError(t, m.ApplyRegions([]surface.ChangeRegion{
		{RangeOffset: 0, Text: "1"},
		{RangeOffset: 2, RangeLength: 1, Text: "2"},
	}))
	require.Len(t, changes, 1)
	assert.Equal(t, "1a2c", text(t, r, "a.js"))
}

func TestRemotePatchesKeepOffsets(t *testing.T) {
	start := "😀 one\ntwo 😀\nthree"
	r := newReplica(t, doc.FileTree{"a.js": doc.File(start)})
	e, errs := newEngine(t, r)
	m, err := e.Open("a.js")
	require.NoError(t, err)

	_, err = r.Mutate(func(d *doc.Draft) error {
		// each offset addresses the text left by the splice before it
		if err := d.Splice("a.js", 3, 3, "ONE"); err != nil {
			return err
		}
		if err := d.Splice("a.js", 7, 0, ">> "); err != nil {
			return err
		}
		if err := d.Splice("a.js", 22, 0, "\nfour"); err != nil {
			return err
		}
		return d.Splice("a.js", 0, 2, "")
	})
	require.NoError(t, err)
	require.Empty(t, *errs)

	assert.Equal(t, " ONE\n>> two 😀\nthree\nfour", text(t, r, "a.js"))
	assert.Equal(t, text(t, r, "a.js"), m.Value())
}

func TestSelectionShiftsScrollStays(t *testing.T) {
	r := newReplica(t, doc.FileTree{"a.js": doc.File("hello")})
	e, _ := newEngine(t, r)
	m, err := e.Open("a.js")
	require.NoError(t, err)
	e.SetSelection("a.js", surface.Selection{Anchor: 5, Head: 5})
	e.SetScroll("a.js", surface.Scroll{Top: 30})

	_, err = r.Mutate(func(d *doc.Draft) error { return d.Splice("a.js", 0, 0, ">> ") })
	require.NoError(t, err)

	assert.Equal(t, surface.Selection{Anchor: 8, Head: 8}, m.Selection())
	assert.Equal(t, surface.Scroll{Top: 30}, m.Scroll())
	assert.Equal(t, []Tab{{
		Path:      "a.js",
		Scroll:    surface.Scroll{Top: 30},
		Selection: surface.Selection{Anchor: 8, Head: 8},
	}}, e.Tabs())
}

func TestOpenSeedsEveryFile(t *testing.T) {
	r := newReplica(t, doc.FileTree{
		"a.js":     doc.File("a"),
		"lib":      doc.Directory,
		"lib/b.js": doc.File("b"),
	})
	e, _ := newEngine(t, r)

	_, err := e.Open("a.js")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.js", "lib/b.js"}, e.Models())

	// the eager model of b.js follows remote edits before it is opened
	_, err = r.Mutate(func(d *doc.Draft) error { return d.Splice("lib/b.js", 1, 0, "!") })
	require.NoError(t, err)
	bm, ok := e.Model("lib/b.js")
	require.True(t, ok)
	assert.Equal(t, "b!", bm.Value())

	_, err = e.Open("lib")
	assert.ErrorIs(t, err, doc.ErrIsDir)
}

func TestUnknownPathsAreDeferred(t *testing.T) {
	r := newReplica(t, doc.FileTree{"a.js": doc.File("")})
	e, errs := newEngine(t, r)
	_, err := e.Open("a.js")
	require.NoError(t, err)

	_, err = r.Mutate(func(d *doc.Draft) error {
		if err := d.Put("c.js", "x"); err != nil {
			return err
		}
		return d.Splice("c.js", 1, 0, "y")
	})
	require.NoError(t, err)
	require.Empty(t, *errs)

	_, ok := e.Model("c.js")
	assert.False(t, ok)

	cm, err := e.Open("c.js")
	require.NoError(t, err)
	assert.Equal(t, "xy", cm.Value())
}

func TestEntryPutReplacesContent(t *testing.T) {
	r := newReplica(t, doc.FileTree{"a.js": doc.File("old")})
	e, _ := newEngine(t, r)
	m, err := e.Open("a.js")
	require.NoError(t, err)

	var flushes int
	m.OnDidChangeContent(func(ev surface.ContentChange) {
		if ev.Flush {
			flushes++
		}
	})
	_, err = r.Mutate(func(d *doc.Draft) error { return d.Put("a.js", "brand new") })
	require.NoError(t, err)

	assert.Equal(t, "brand new", m.Value())
	assert.Equal(t, 1, flushes)
}

func TestDeletionDisposesModelAndTab(t *testing.T) {
	r := newReplica(t, doc.FileTree{"a.js": doc.File("a"), "b.js": doc.File("b")})
	var closed []string
	e := New(r, Hooks{OnTabClosed: func(p string) { closed = append(closed, p) }})
	defer e.Close()

	am, err := e.Open("a.js")
	require.NoError(t, err)
	_, err = e.Open("b.js")
	require.NoError(t, err)

	_, err = r.Mutate(func(d *doc.Draft) error { return d.Delete("b.js") })
	require.NoError(t, err)

	assert.Equal(t, []string{"b.js"}, closed)
	assert.Equal(t, []string{"a.js"}, e.Models())
	assert.Equal(t, "a.js", e.Active())
	require.Len(t, e.Tabs(), 1)
	assert.False(t, am.Disposed())
}

func TestUnexpectedActionIsAnError(t *testing.T) {
	r := newReplica(t, doc.FileTree{"a.js": doc.File("abc")})
	e, _ := newEngine(t, r)
	m, err := e.Open("a.js")
	require.NoError(t, err)

	err = e.HandleRemote(doc.Change{Patches: []doc.Patch{
		{Action: doc.ActionPut, Path: "a.js", Text: true, Offset: 1, Value: "x"},
	}})
	assert.ErrorIs(t, err, ErrUnexpectedAction)

	err = e.HandleRemote(doc.Change{Patches: []doc.Patch{
		{Action: "move", Path: "a.js"},
	}})
	assert.ErrorIs(t, err, ErrUnexpectedAction)
	assert.Equal(t, "abc", m.Value())
}

func TestCloseTabDetachesImmediately(t *testing.T) {
	r := newReplica(t, doc.FileTree{"a.js": doc.File("0123456789")})
	e, _ := newEngine(t, r)
	m, err := e.Open("a.js")
	require.NoError(t, err)
	e.SetSelection("a.js", surface.Selection{Anchor: 2, Head: 4})
	e.SetScroll("a.js", surface.Scroll{Top: 9, Left: 1})

	e.CloseTab("a.js")
	e.CloseTab("a.js")
	assert.True(t, m.Disposed())
	assert.Empty(t, e.Tabs())
	assert.Equal(t, "", e.Active())

	_, err = r.Mutate(func(d *doc.Draft) error { return d.Splice("a.js", 0, 0, "x") })
	require.NoError(t, err)

	m2, err := e.Open("a.js")
	require.NoError(t, err)
	assert.Equal(t, "x0123456789", m2.Value())
	assert.Equal(t, surface.Selection{Anchor: 2, Head: 4}, m2.Selection())
	assert.Equal(t, surface.Scroll{Top: 9, Left: 1}, m2.Scroll())
}

func TestLocalEditCreatesMissingFile(t *testing.T) {
	r := newReplica(t, doc.FileTree{})
	e, errs := newEngine(t, r)
	m, err := e.Open("new.js")
	require.NoError(t, err)
	assert.Equal(t, "", m.Value())

	require.NoError(t, m.ApplyRegions([]surface.ChangeRegion{{Text: "hi"}}))
	assert.Empty(t, *errs)
	assert.Equal(t, "hi", text(t, r, "new.js"))
}

func TestCloseIsIdempotent(t *testing.T) {
	r := newReplica(t, doc.FileTree{"a.js": doc.File("a")})
	e := New(r, Hooks{})
	m, err := e.Open("a.js")
	require.NoError(t, err)

	e.Close()
	e.Close()
	assert.True(t, m.Disposed())

	_, err = r.Mutate(func(d *doc.Draft) error { return d.Put("a.js", "b") })
	require.NoError(t, err)

	_, err = e.Open("a.js")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNotReady(t *testing.T) {
	e := New(doc.NewReplica(), Hooks{})
	defer e.Close()
	_, err := e.Open("a.js")
	assert.ErrorIs(t, err, doc.ErrNotReady)
}
