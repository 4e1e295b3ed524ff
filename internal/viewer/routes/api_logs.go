// internal/viewer/routes/api_logs.go

package routes

import "net/http"

func registerAPILogRoutes(mux *http.ServeMux, d Deps) {
	if d.Logs == nil {
		return
	}
	handleGet(mux, "/api/logs", d.Logs.ServeLogsJSON)
	handleGet(mux, "/api/logs/stream", d.Logs.ServeLogsSSE)
}
