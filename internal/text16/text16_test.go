package text16

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLen(t *testing.T) {
	assert.Equal(t, 0, Len(""))
	assert.Equal(t, 5, Len("hello"))
	assert.Equal(t, 1, Len("é"))
	assert.Equal(t, 2, Len("😀"))
	assert.Equal(t, 4, Len("a😀b"))
}

func TestSplice(t *testing.T) {
	out, err := Splice("hello world", 6, 5, "there")
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)

	out, err = Splice("a😀b", 3, 1, "c")
	require.NoError(t, err)
	assert.Equal(t, "a😀c", out)

	out, err = Splice("abc", 3, 0, "d")
	require.NoError(t, err)
	assert.Equal(t, "abcd", out)

	_, err = Splice("abc", 2, 5, "")
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Splice("abc", -1, 0, "")
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestSlice(t *testing.T) {
	s, err := Slice("añb😀c", 1, 5)
	require.NoError(t, err)
	assert.Equal(t, "ñb😀", s)
}

func TestRuneOffset(t *testing.T) {
	n, err := RuneOffset("a😀b", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = RuneOffset("ab", 3)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestDiff(t *testing.T) {
	cases := []struct {
		a, b string
		off  int
		del  int
		ins  string
	}{
		{"hello", "hello", 5, 0, ""},
		{"hello", "hXello", 1, 0, "X"},
		{"aaa", "aa", 2, 1, ""},
		{"a😀b", "a😀cb", 3, 0, "c"},
		{"Aexport", "AexBport", 3, 0, "B"},
		{"", "new", 0, 0, "new"},
	}
	for _, c := range cases {
		off, del, ins := Diff(c.a, c.b)
		assert.Equal(t, []any{c.off, c.del, c.ins}, []any{off, del, ins}, "%q -> %q", c.a, c.b)

		out, err := Splice(c.a, off, del, ins)
		require.NoError(t, err)
		assert.Equal(t, c.b, out)
	}
}
