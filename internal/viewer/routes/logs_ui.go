// internal/viewer/routes/logs_ui.go

package routes

import (
	"net/http"

	"github.com/petervdpas/livepad/internal/viewer/render"
)

func registerLogsUIRoutes(mux *http.ServeMux, d Deps) {
	handleGet(mux, "/logs", func(w http.ResponseWriter, r *http.Request) {
		render.Render(w, render.LogsVM{
			BaseVM: baseVM("Logs", "logs", "page.logs", d),
			Level:  r.URL.Query().Get("level"),
		})
	})
}
