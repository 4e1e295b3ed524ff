// internal/viewer/routes/register.go
package routes

import (
	"net/http"

	"github.com/petervdpas/livepad/internal/blob"
	"github.com/petervdpas/livepad/internal/lua"
	"github.com/petervdpas/livepad/internal/session"
	"github.com/petervdpas/livepad/internal/storage"
)

type Logs interface {
	ServeLogsJSON(w http.ResponseWriter, r *http.Request)
	ServeLogsSSE(w http.ResponseWriter, r *http.Request)
}

// Plugins lists the loaded transform plugins and names the folder they
// are loaded from.
type Plugins interface {
	Plugins() []lua.PluginInfo
	Dir() string
}

type Deps struct {
	Sessions *session.Manager
	DB       *storage.DB // nil when projects live in memory only
	Blobs    *blob.Store
	Logs     Logs
	Plugins  Plugins // nil when Lua is disabled

	Entry   string // file the preview starts from
	BaseURL string
	Version string
}

func Register(mux *http.ServeMux, d Deps) {
	if d.Entry == "" {
		d.Entry = "index.html"
	}

	registerAPILogRoutes(mux, d)
	registerHomeRoutes(mux, d)
	registerLogsUIRoutes(mux, d)
	registerStatusRoutes(mux, d)
	registerProjectRoutes(mux, d)
	registerFileRoutes(mux, d)
	registerExportRoutes(mux, d)
	registerLuaRoutes(mux, d)
	registerPreviewRoutes(mux, d)
	registerParticipantRoutes(mux, d)
}
