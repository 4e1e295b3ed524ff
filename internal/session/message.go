package session

import (
	"github.com/petervdpas/livepad/internal/surface"
)

// Message types a participant sends.
const (
	MsgOpen   = "open"   // path
	MsgClose  = "close"  // path
	MsgEdit   = "edit"   // path, version, changes
	MsgScroll = "scroll" // path, scroll
	MsgSelect = "select" // path, selection
)

// Message types a participant receives.
const (
	MsgEdits      = "edits"      // remote edits applied to an open file
	MsgReset      = "reset"      // full content and view state of a file
	MsgAck        = "ack"        // the participant's own edit was applied
	MsgClosed     = "closed"     // a tab went away
	MsgExecutable = "executable" // a file's executable changed
	MsgTree       = "tree"       // the project's files and directories
	MsgTypes      = "types"      // type declarations for a bare module
	MsgError      = "error"
)

// Message is one websocket frame in either direction. Text is omitted from
// the JSON when empty, so a reset without text means an empty file.
type Message struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`

	Version   int                    `json:"version,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Changes   []surface.ChangeRegion `json:"changes,omitempty"`
	Selection *surface.Selection     `json:"selection,omitempty"`
	Scroll    *surface.Scroll        `json:"scroll,omitempty"`

	URL        string `json:"url,omitempty"`
	MediaType  string `json:"media_type,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
	Removed    bool   `json:"removed,omitempty"`

	Files []string `json:"files,omitempty"`
	Dirs  []string `json:"dirs,omitempty"`

	Module       string `json:"module,omitempty"`
	Declarations string `json:"declarations,omitempty"`

	Error string `json:"error,omitempty"`
}
