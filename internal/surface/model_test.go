package surface

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelEmitsOneEventPerBatch(t *testing.T) {
	m := NewModel("a.js", "abc")
	var events []ContentChange
	off := m.OnDidChangeContent(func(ev ContentChange) { events = append(events, ev) })

	require.NoError(t, m.ApplyRegions([]ChangeRegion{
		{RangeOffset: 0, Text: "1"},
		{RangeOffset: 4, Text: "2"},
	}))
	require.Len(t, events, 1)
	assert.Len(t, events[0].Changes, 2)
	assert.Equal(t, 2, events[0].Version)
	assert.Equal(t, "1abc2", m.Value())

	off()
	off()
	require.NoError(t, m.SetValue("x"))
	assert.Len(t, events, 1)
	assert.Equal(t, 3, m.Version())
}

func TestSelectionFollowsEdits(t *testing.T) {
	m := NewModel("a.js", "0123456789")
	m.SetSelection(Selection{Anchor: 4, Head: 8})

	// insertion before the selection
	require.NoError(t, m.ApplyRegions([]ChangeRegion{{RangeOffset: 1, Text: "ab"}}))
	assert.Equal(t, Selection{Anchor: 6, Head: 10}, m.Selection())

	// deletion overlapping the anchor
	require.NoError(t, m.ApplyRegions([]ChangeRegion{{RangeOffset: 5, RangeLength: 3}}))
	assert.Equal(t, Selection{Anchor: 5, Head: 7}, m.Selection())

	// insertion exactly at the cursor does not push it
	m.SetSelection(Selection{Anchor: 2, Head: 2})
	require.NoError(t, m.ApplyRegions([]ChangeRegion{{RangeOffset: 2, Text: "zz"}}))
	assert.Equal(t, Selection{Anchor: 2, Head: 2}, m.Selection())
}

func TestScrollUntouchedByEdits(t *testing.T) {
	m := NewModel("a.js", "x")
	m.SetScroll(Scroll{Top: 120, Left: 4})
	require.NoError(t, m.SetValue("line\nline\nline"))
	assert.Equal(t, Scroll{Top: 120, Left: 4}, m.Scroll())
}

func TestDisposedModelRejectsEdits(t *testing.T) {
	r := NewRegistry()
	m := r.Create("a.js", "x")
	calls := 0
	m.OnDidChangeContent(func(ContentChange) { calls++ })

	assert.True(t, r.Dispose("a.js"))
	assert.False(t, r.Dispose("a.js"))
	assert.True(t, m.Disposed())
	assert.ErrorIs(t, m.ApplyRegions([]ChangeRegion{{Text: "y"}}), ErrDisposed)
	assert.Zero(t, calls)

	_, ok := r.Get("a.js")
	assert.False(t, ok)
}

func TestRegistryCreateReplaces(t *testing.T) {
	r := NewRegistry()
	first := r.Create("a.js", "1")
	second := r.Create("a.js", "2")

	assert.True(t, first.Disposed())
	got, ok := r.Get("a.js")
	require.True(t, ok)
	assert.Same(t, second, got)

	r.Create("b.js", "")
	assert.Equal(t, []string{"a.js", "b.js"}, r.Paths())
	r.DisposeAll()
	assert.Empty(t, r.Paths())
}
