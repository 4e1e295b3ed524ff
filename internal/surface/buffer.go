// Package surface is the editing-surface side of livepad: a text buffer
// addressed by UTF-16 offsets and 1-based positions, the per-path Model the
// sync engine drives, and the Registry that owns one Model per path.
package surface

import (
	"sort"
	"strings"

	"github.com/petervdpas/livepad/internal/text16"
)

// Position is a 1-based line/column pair. Columns count UTF-16 code units.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range spans two positions, end exclusive.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Edit replaces Range with Text.
type Edit struct {
	Range Range  `json:"range"`
	Text  string `json:"text"`
}

// ChangeRegion describes one applied edit in absolute code unit offsets,
// measured against the content as it was just before that edit.
type ChangeRegion struct {
	RangeOffset int    `json:"rangeOffset"`
	RangeLength int    `json:"rangeLength"`
	Text        string `json:"text"`
}

// Buffer holds text and a line index. Only '\n' ends a line.
type Buffer struct {
	text       string
	length     int
	lineStarts []int
}

// NewBuffer returns a buffer holding text.
func NewBuffer(text string) *Buffer {
	b := &Buffer{}
	b.set(text)
	return b
}

func (b *Buffer) set(text string) {
	b.text = text
	b.length = 0
	b.lineStarts = b.lineStarts[:0]
	b.lineStarts = append(b.lineStarts, 0)
	for _, r := range text {
		if r >= 0x10000 {
			b.length += 2
			continue
		}
		b.length++
		if r == '\n' {
			b.lineStarts = append(b.lineStarts, b.length)
		}
	}
}

// Value returns the whole text.
func (b *Buffer) Value() string { return b.text }

// Len returns the length in code units.
func (b *Buffer) Len() int { return b.length }

// LineCount returns the number of lines; an empty buffer has one.
func (b *Buffer) LineCount() int { return len(b.lineStarts) }

// lineLen is the length of line (1-based) without its line break.
func (b *Buffer) lineLen(line int) int {
	start := b.lineStarts[line-1]
	if line < len(b.lineStarts) {
		return b.lineStarts[line] - 1 - start
	}
	return b.length - start
}

// OffsetToPosition maps an offset to a position, clamping into the buffer.
func (b *Buffer) OffsetToPosition(off int) Position {
	if off < 0 {
		off = 0
	}
	if off > b.length {
		off = b.length
	}
	i := sort.Search(len(b.lineStarts), func(i int) bool { return b.lineStarts[i] > off }) - 1
	return Position{Line: i + 1, Column: off - b.lineStarts[i] + 1}
}

// PositionToOffset maps a position to an offset, clamping the line and the
// column into the buffer.
func (b *Buffer) PositionToOffset(pos Position) int {
	line := pos.Line
	if line < 1 {
		return 0
	}
	if line > len(b.lineStarts) {
		return b.length
	}
	col := pos.Column
	if col < 1 {
		col = 1
	}
	if limit := b.lineLen(line) + 1; col > limit {
		col = limit
	}
	return b.lineStarts[line-1] + col - 1
}

// Apply applies edits in order. Each edit's range is read against the text
// left by the edits before it. The returned regions are in the same order.
func (b *Buffer) Apply(edits []Edit) []ChangeRegion {
	out := make([]ChangeRegion, 0, len(edits))
	for _, e := range edits {
		start := b.PositionToOffset(e.Range.Start)
		end := b.PositionToOffset(e.Range.End)
		if end < start {
			start, end = end, start
		}
		if start == end && e.Text == "" {
			continue
		}
		b.splice(start, end-start, e.Text)
		out = append(out, ChangeRegion{RangeOffset: start, RangeLength: end - start, Text: e.Text})
	}
	return out
}

// ApplyRegions applies offset-addressed edits in order, with the same
// sequential reading as Apply. Offsets are clamped into the buffer.
func (b *Buffer) ApplyRegions(regions []ChangeRegion) []ChangeRegion {
	out := make([]ChangeRegion, 0, len(regions))
	for _, r := range regions {
		start := clamp(r.RangeOffset, 0, b.length)
		end := clamp(r.RangeOffset+r.RangeLength, start, b.length)
		if start == end && r.Text == "" {
			continue
		}
		b.splice(start, end-start, r.Text)
		out = append(out, ChangeRegion{RangeOffset: start, RangeLength: end - start, Text: r.Text})
	}
	return out
}

func (b *Buffer) splice(off, del int, ins string) {
	next, err := text16.Splice(b.text, off, del, ins)
	if err != nil {
		return // callers clamp offsets into the buffer
	}
	if strings.IndexByte(ins, '\n') < 0 && del == 0 {
		b.shiftInsert(off, ins, next)
		return
	}
	b.set(next)
}

// shiftInsert updates the line index for a single-line insertion without
// rescanning the text.
func (b *Buffer) shiftInsert(off int, ins, next string) {
	n := text16.Len(ins)
	b.text = next
	b.length += n
	for i := range b.lineStarts {
		if b.lineStarts[i] > off {
			b.lineStarts[i] += n
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
