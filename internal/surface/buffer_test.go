package surface

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOffsetPositionRoundTrip(t *testing.T) {
	b := NewBuffer("ab\n😀c\n\nxyz")

	cases := []struct {
		off int
		pos Position
	}{
		{0, Position{1, 1}},
		{2, Position{1, 3}},
		{3, Position{2, 1}},
		{5, Position{2, 3}}, // after the surrogate pair
		{6, Position{2, 4}},
		{7, Position{3, 1}},
		{8, Position{4, 1}},
		{11, Position{4, 4}},
	}
	for _, c := range cases {
		assert.Equal(t, c.pos, b.OffsetToPosition(c.off), "offset %d", c.off)
		assert.Equal(t, c.off, b.PositionToOffset(c.pos), "position %v", c.pos)
	}
	assert.Equal(t, 11, b.Len())
	assert.Equal(t, 4, b.LineCount())
}

func TestPositionsClamp(t *testing.T) {
	b := NewBuffer("ab\ncd")
	assert.Equal(t, Position{1, 1}, b.OffsetToPosition(-4))
	assert.Equal(t, Position{2, 3}, b.OffsetToPosition(99))
	assert.Equal(t, 2, b.PositionToOffset(Position{1, 40}))
	assert.Equal(t, 0, b.PositionToOffset(Position{0, 3}))
	assert.Equal(t, 5, b.PositionToOffset(Position{9, 1}))
}

func TestApplyIsSequential(t *testing.T) {
	b := NewBuffer("hello world")

	regions := b.Apply([]Edit{
		{Range: Range{Position{1, 1}, Position{1, 6}}, Text: "bye"},
		// read against "bye world"
		{Range: Range{Position{1, 4}, Position{1, 4}}, Text: ",\n"},
	})
	assert.Equal(t, "bye,\n world", b.Value())
	assert.Equal(t, []ChangeRegion{
		{RangeOffset: 0, RangeLength: 5, Text: "bye"},
		{RangeOffset: 3, RangeLength: 0, Text: ",\n"},
	}, regions)
	assert.Equal(t, Position{2, 2}, b.OffsetToPosition(6))
}

func TestApplyRegionsKeepsLineIndex(t *testing.T) {
	b := NewBuffer("a\nb\nc")
	b.ApplyRegions([]ChangeRegion{{RangeOffset: 2, Text: "XX"}})
	assert.Equal(t, "a\nXXb\nc", b.Value())
	assert.Equal(t, Position{3, 1}, b.OffsetToPosition(6))

	b.ApplyRegions([]ChangeRegion{{RangeOffset: 1, RangeLength: 1}})
	assert.Equal(t, "aXXb\nc", b.Value())
	assert.Equal(t, 2, b.LineCount())
}
