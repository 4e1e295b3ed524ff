// internal/viewer/routes/files.go

package routes

import (
	"fmt"
	"net/http"

	"github.com/petervdpas/livepad/internal/log"
)

type fileOp struct {
	Op   string `json:"op"` // create, mkdir, write, rename, delete
	Path string `json:"path"`
	To   string `json:"to,omitempty"`
	Text string `json:"text,omitempty"`
}

func registerFileRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/projects/{id}/files?path=src/main.ts, raw source
	mux.Handle("GET /api/projects/{id}/files", noCache(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(w, r, d)
		if !ok {
			return
		}
		p := queryPath(r)
		if p == "" {
			http.Error(w, "missing path", http.StatusBadRequest)
			return
		}
		text, err := s.ReadFile(r.Context(), p)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", contentTypeForPath(p, []byte(text)))
		_, _ = w.Write([]byte(text))
	})))

	// POST /api/projects/{id}/files {"op":"rename","path":"a.ts","to":"b.ts"}
	handlePost(mux, "/api/projects/{id}/files", func(w http.ResponseWriter, r *http.Request, req fileOp) {
		s, ok := openSession(w, r, d)
		if !ok {
			return
		}
		if req.Path == "" {
			http.Error(w, "missing path", http.StatusBadRequest)
			return
		}

		var err error
		switch req.Op {
		case "create":
			err = s.CreateFile(r.Context(), req.Path, req.Text)
		case "mkdir":
			err = s.CreateDir(r.Context(), req.Path)
		case "write":
			err = s.WriteFile(r.Context(), req.Path, req.Text)
		case "rename":
			if req.To == "" {
				http.Error(w, "missing to", http.StatusBadRequest)
				return
			}
			err = s.Rename(r.Context(), req.Path, req.To)
		case "delete":
			err = s.Delete(r.Context(), req.Path)
		default:
			http.Error(w, fmt.Sprintf("unknown op %q", req.Op), http.StatusBadRequest)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		log.Debug("VIEWER: %s %s %s", s.ID(), req.Op, req.Path)
		writeJSON(w, map[string]string{"status": "ok"})
	})
}
