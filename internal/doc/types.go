// Package doc defines the replicated project document the rest of livepad
// talks to: a flat file tree keyed by path, mutated in atomic changes that
// carry ordered patches. Replica implements it on an automerge document.
package doc

import (
	"errors"
	"sort"
)

var (
	ErrNotReady   = errors.New("document not ready")
	ErrNotFound   = errors.New("path not found")
	ErrIsDir      = errors.New("path is a directory")
	ErrNotDir     = errors.New("parent path is a file")
	ErrExists     = errors.New("path already exists")
	ErrBadPath    = errors.New("invalid path")
	ErrOutOfRange = errors.New("text range out of bounds")
)

// Entry is one value of the file tree: either file text or the directory
// marker.
type Entry struct {
	Text  string `json:"text,omitempty"`
	IsDir bool   `json:"dir,omitempty"`
}

// File returns a file entry holding text.
func File(text string) Entry { return Entry{Text: text} }

// Directory is the directory marker.
var Directory = Entry{IsDir: true}

// FileTree maps project paths to entries. Snapshots handed out by a Handle
// are never modified afterwards.
type FileTree map[string]Entry

// Clone returns a shallow copy that can be modified freely.
func (t FileTree) Clone() FileTree {
	out := make(FileTree, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Paths returns every path, sorted.
func (t FileTree) Paths() []string {
	out := make([]string, 0, len(t))
	for p := range t {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Files returns the sorted paths of leaf entries.
func (t FileTree) Files() []string {
	out := make([]string, 0, len(t))
	for p, e := range t {
		if !e.IsDir {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Dirs returns the sorted paths of directory entries.
func (t FileTree) Dirs() []string {
	out := make([]string, 0, len(t))
	for p, e := range t {
		if e.IsDir {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Action tags a patch.
type Action string

const (
	ActionSplice Action = "splice" // insert text at an offset
	ActionDel    Action = "del"    // delete a text range, or the entry itself
	ActionPut    Action = "put"    // entry created or replaced wholesale
)

// Patch is one atomic sub-change of a Change.
//
// Text patches address a range inside the file's text; their key-path is
// [Path, Offset]. Entry patches address the entry itself; their key-path is
// [Path].
type Patch struct {
	Action Action `json:"action"`
	Path   string `json:"path"`
	Text   bool   `json:"text,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Length int    `json:"length,omitempty"`
	Value  string `json:"value,omitempty"`
	Dir    bool   `json:"dir,omitempty"`
}

// KeyPathLen is the length of the patch's key-path: 2 for text patches, 1 for
// entry patches.
func (p Patch) KeyPathLen() int {
	if p.Text {
		return 2
	}
	return 1
}

// Change is one causal change: every patch produced by a single Mutate.
type Change struct {
	Seq     uint64  `json:"seq"`
	ID      string  `json:"id"`
	Actor   string  `json:"actor"`
	Patches []Patch `json:"patches"`
}

// Listener receives change notifications.
type Listener func(Change)

// Handle is the replicated document as seen by livepad.
type Handle interface {
	// Snapshot returns the current tree; ok is false until the document is
	// ready, which is distinct from an empty project.
	Snapshot() (tree FileTree, ok bool)
	// Mutate runs fn against a draft and commits everything it did as one
	// change, emitting exactly one notification. Nothing is committed when fn
	// returns an error.
	Mutate(fn func(*Draft) error) (Change, error)
	// OnChange registers l; the returned func unregisters it and is safe to
	// call more than once.
	OnChange(l Listener) (off func())
	// Ready is closed once the document is available.
	Ready() <-chan struct{}
}
