// Package text16 addresses Go strings by UTF-16 code unit offsets, the unit
// browser editors and the document patches use.
package text16

import (
	"errors"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

var ErrOutOfRange = errors.New("offset out of range")

// Len returns the length of s in UTF-16 code units.
func Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeLen(r)
	}
	return n
}

// ByteOffset converts a code unit offset into a byte offset in s. An offset
// that falls inside a surrogate pair snaps to the start of that rune.
func ByteOffset(s string, off int) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, off)
	}
	units := 0
	for i, r := range s {
		if units >= off {
			return i, nil
		}
		units += runeLen(r)
		if units > off {
			return i, nil
		}
	}
	if units == off {
		return len(s), nil
	}
	return 0, fmt.Errorf("%w: %d > %d", ErrOutOfRange, off, units)
}

// Splice removes del code units at off and inserts ins there.
func Splice(s string, off, del int, ins string) (string, error) {
	if del < 0 {
		return "", fmt.Errorf("%w: negative length %d", ErrOutOfRange, del)
	}
	start, err := ByteOffset(s, off)
	if err != nil {
		return "", err
	}
	end, err := ByteOffset(s, off+del)
	if err != nil {
		return "", err
	}
	return s[:start] + ins + s[end:], nil
}

// Slice returns the text between two code unit offsets.
func Slice(s string, from, to int) (string, error) {
	if to < from {
		return "", fmt.Errorf("%w: %d < %d", ErrOutOfRange, to, from)
	}
	start, err := ByteOffset(s, from)
	if err != nil {
		return "", err
	}
	end, err := ByteOffset(s, to)
	if err != nil {
		return "", err
	}
	return s[start:end], nil
}

// RuneOffset converts a code unit offset into a count of runes before it.
func RuneOffset(s string, off int) (int, error) {
	b, err := ByteOffset(s, off)
	if err != nil {
		return 0, err
	}
	return utf8.RuneCountInString(s[:b]), nil
}

// Diff returns the single splice turning a into b: del code units at off
// replaced by ins. The common prefix and suffix are left out, cut at rune
// boundaries.
func Diff(a, b string) (off, del int, ins string) {
	pre := 0
	for pre < len(a) && pre < len(b) {
		ra, na := utf8.DecodeRuneInString(a[pre:])
		rb, nb := utf8.DecodeRuneInString(b[pre:])
		if ra != rb || na != nb {
			break
		}
		pre += na
	}
	ea, eb := len(a), len(b)
	for ea > pre && eb > pre {
		ra, na := utf8.DecodeLastRuneInString(a[:ea])
		rb, nb := utf8.DecodeLastRuneInString(b[:eb])
		if ra != rb || na != nb {
			break
		}
		ea -= na
		eb -= nb
	}
	return Len(a[:pre]), Len(a[pre:ea]), b[pre:eb]
}

func runeLen(r rune) int {
	if r == utf8.RuneError {
		return 1
	}
	if utf16.IsSurrogate(r) {
		return 1
	}
	if r >= 0x10000 {
		return 2
	}
	return 1
}
