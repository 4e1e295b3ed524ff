package viewer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBufferSplitsLines(t *testing.T) {
	b := NewLogBuffer(3)
	_, _ = b.Write([]byte("INFO\tfirst\nWARN\tsec"))
	_, _ = b.Write([]byte("ond\n\nplain line\nERROR\tfourth\n"))

	got := b.Snapshot()
	require.Len(t, got, 3, "capacity keeps the newest")
	assert.Equal(t, LogEntry{Level: "WARN", Msg: "second"}, LogEntry{Level: got[0].Level, Msg: got[0].Msg})
	assert.Equal(t, "INFO", got[1].Level)
	assert.Equal(t, "plain line", got[1].Msg)
	assert.Equal(t, "ERROR", got[2].Level)

	assert.Len(t, b.Query(1, ""), 1)
	assert.Len(t, b.Query(0, "warn"), 2)
	assert.Len(t, b.Query(0, "nonsense"), 3)
}

func TestLogBufferSubscribe(t *testing.T) {
	b := NewLogBuffer(10)
	ch, cancel := b.Subscribe()
	defer cancel()

	_, _ = b.Write([]byte("DEBUG\thello\n"))
	select {
	case e := <-ch:
		assert.Equal(t, "hello", e.Msg)
		assert.Equal(t, "DEBUG", e.Level)
	case <-time.After(time.Second):
		t.Fatal("no entry")
	}

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}
