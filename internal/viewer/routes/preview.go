// internal/viewer/routes/preview.go

package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/petervdpas/livepad/internal/log"
	"github.com/petervdpas/livepad/internal/session"
	"github.com/petervdpas/livepad/internal/util"
	"github.com/petervdpas/livepad/internal/viewer/render"
)

func entryOf(r *http.Request, d Deps) string {
	if e := r.URL.Query().Get("entry"); e != "" {
		return e
	}
	return d.Entry
}

func registerPreviewRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/projects/{id}/preview, redirect to the entry executable
	handleGet(mux, "/api/projects/{id}/preview", func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(w, r, d)
		if !ok {
			return
		}
		exe, err := s.Executable(r.Context(), entryOf(r, d))
		if err != nil {
			writeError(w, err)
			return
		}
		if exe.Err != nil {
			writeError(w, exe.Err)
			return
		}
		http.Redirect(w, r, exe.URL, http.StatusFound)
	})

	// GET /p/{id}/, preview shell that follows the entry executable
	mux.Handle("GET /p/{id}/", noCache(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(w, r, d)
		if !ok {
			return
		}
		entry := entryOf(r, d)
		var src string
		if exe, err := s.Executable(r.Context(), entry); err == nil {
			src = exe.URL
		}
		render.RenderStandalone(w, "shell", render.ShellVM{
			Project: s.ID(),
			Entry:   entry,
			Src:     src,
		})
	})))

	// GET /api/projects/{id}/events, SSE of tree and executable changes
	handleGet(mux, "/api/projects/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		s, ok := openSession(w, r, d)
		if !ok {
			return
		}
		p, err := s.Join(r.Context(), "preview")
		if err != nil {
			writeError(w, err)
			return
		}
		defer leave(p)

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case msg, ok := <-p.Out():
				if !ok {
					return
				}
				switch msg.Type {
				case session.MsgExecutable, session.MsgTree:
				default:
					continue
				}
				if err := writeEvent(w, msg.Type, msg); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}

// leave disconnects p without depending on the request context, which is
// usually already cancelled.
func leave(p *session.Participant) {
	ctx, cancel := context.WithTimeout(context.Background(), util.ShutdownTimeout)
	defer cancel()
	if err := p.Leave(ctx); err != nil {
		log.Debug("VIEWER: leave %s: %v", p.ID(), err)
	}
}
