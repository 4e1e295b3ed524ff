// internal/viewer/routes/projects.go

package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/petervdpas/livepad/internal/doc"
	"github.com/petervdpas/livepad/internal/log"
	"github.com/petervdpas/livepad/internal/pipeline"
	"github.com/petervdpas/livepad/internal/session"
	"github.com/petervdpas/livepad/internal/sitetemplates"
	"github.com/petervdpas/livepad/internal/util"
	"github.com/petervdpas/livepad/internal/viewer/render"
)

type projectInfo struct {
	ID      string `json:"id"`
	Open    bool   `json:"open"`
	Seq     uint64 `json:"seq,omitempty"`
	Pending int    `json:"pending_changes,omitempty"`
	Updated string `json:"updated_at,omitempty"`
}

type executableView struct {
	pipeline.Executable
	Error string `json:"error,omitempty"`
}

func viewOf(exe pipeline.Executable) executableView {
	v := executableView{Executable: exe}
	if exe.Err != nil {
		v.Error = exe.Err.Error()
	}
	return v
}

func registerStatusRoutes(mux *http.ServeMux, d Deps) {
	handleGet(mux, "/api/status", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{
			"version":  d.Version,
			"base_url": d.BaseURL,
			"sessions": len(d.Sessions.IDs()),
		}
		if d.Blobs != nil {
			out["blobs"] = d.Blobs.Live()
		}
		if d.DB != nil {
			if v, err := d.DB.SchemaVersion(); err == nil {
				out["schema"] = v
			}
		}
		writeJSON(w, out)
	})

	handleGet(mux, "/api/plugins", func(w http.ResponseWriter, r *http.Request) {
		if d.Plugins == nil {
			writeJSON(w, []any{})
			return
		}
		writeJSON(w, d.Plugins.Plugins())
	})
}

// listProjects merges stored projects with the sessions open in memory.
func listProjects(ctx context.Context, d Deps) ([]render.ProjectRow, error) {
	byID := map[string]*render.ProjectRow{}
	if d.DB != nil {
		stored, err := d.DB.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range stored {
			byID[s.ID] = &render.ProjectRow{ID: s.ID, Seq: s.Seq, Pending: s.Pending, Modified: s.Modified}
		}
	}
	for _, id := range d.Sessions.IDs() {
		if p, ok := byID[id]; ok {
			p.Open = true
		} else {
			byID[id] = &render.ProjectRow{ID: id, Open: true}
		}
	}
	rows := make([]render.ProjectRow, 0, len(byID))
	for _, p := range byID {
		rows = append(rows, *p)
	}
	render.SortProjects(rows)
	return rows, nil
}

func registerProjectRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/projects, stored projects plus the ones open in memory
	handleGet(mux, "/api/projects", func(w http.ResponseWriter, r *http.Request) {
		rows, err := listProjects(r.Context(), d)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]projectInfo, 0, len(rows))
		for _, p := range rows {
			info := projectInfo{ID: p.ID, Open: p.Open, Seq: p.Seq, Pending: p.Pending}
			if !p.Modified.IsZero() {
				info.Updated = p.Modified.UTC().Format("2006-01-02T15:04:05Z")
			}
			out = append(out, info)
		}
		writeJSON(w, out)
	})

	// GET /api/templates, starter projects POST /api/projects accepts
	handleGet(mux, "/api/templates", func(w http.ResponseWriter, r *http.Request) {
		list, err := sitetemplates.List()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, list)
	})

	// POST /api/projects, open a project. With a template the project must
	// be new and starts from the template's files.
	handlePost(mux, "/api/projects", func(w http.ResponseWriter, r *http.Request, req struct {
		ID       string `json:"id"`
		Template string `json:"template,omitempty"`
	}) {
		id, err := util.ValidateProjectID(req.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		preview := "/p/" + id + "/"

		var s *session.Session
		if req.Template == "" {
			s, err = d.Sessions.Open(r.Context(), id)
		} else {
			var meta sitetemplates.TemplateMeta
			var tree doc.FileTree
			if meta, err = sitetemplates.GetMeta(req.Template); err == nil {
				tree, err = sitetemplates.Tree(req.Template)
			} else {
				err = fmt.Errorf("template %q: %w", req.Template, sitetemplates.ErrUnknown)
			}
			if err == nil {
				s, err = d.Sessions.Create(r.Context(), id, tree)
			}
			if meta.Entry != "" && meta.Entry != d.Entry {
				preview += "?entry=" + url.QueryEscape(meta.Entry)
			}
		}
		if err != nil {
			writeError(w, err)
			return
		}
		if req.Template != "" {
			log.Info("VIEWER: created project %s from template %s", id, req.Template)
		}
		writeJSON(w, map[string]string{"id": s.ID(), "preview": preview})
	})

	// DELETE /api/projects/{id}
	mux.HandleFunc("DELETE /api/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := util.ValidateProjectID(r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		d.Sessions.Close(id)
		if d.DB != nil {
			if err := d.DB.Delete(r.Context(), id); err != nil {
				writeError(w, err)
				return
			}
		}
		log.Info("VIEWER: deleted project %s", id)
		w.WriteHeader(http.StatusNoContent)
	})

	// GET /api/projects/{id}/tree
	handleGet(mux, "/api/projects/{id}/tree", func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(w, r, d)
		if !ok {
			return
		}
		tree, err := s.Tree(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"files": tree.Files(),
			"dirs":  tree.Dirs(),
			"tree":  tree,
		})
	})

	// GET /api/projects/{id}/match?glob=src/**/*.ts
	handleGet(mux, "/api/projects/{id}/match", func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(w, r, d)
		if !ok {
			return
		}
		glob := r.URL.Query().Get("glob")
		if glob == "" {
			http.Error(w, "missing glob", http.StatusBadRequest)
			return
		}
		matches, err := s.Match(r.Context(), glob)
		if err != nil {
			writeError(w, err)
			return
		}
		if matches == nil {
			matches = []string{}
		}
		writeJSON(w, matches)
	})

	// GET /api/projects/{id}/executables[?path=main.ts]
	handleGet(mux, "/api/projects/{id}/executables", func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(w, r, d)
		if !ok {
			return
		}
		if p := queryPath(r); p != "" {
			exe, err := s.Executable(r.Context(), p)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, viewOf(exe))
			return
		}
		exes, err := s.Executables(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]executableView, 0, len(exes))
		for _, exe := range exes {
			out = append(out, viewOf(exe))
		}
		writeJSON(w, out)
	})

	// GET /api/projects/{id}/types
	handleGet(mux, "/api/projects/{id}/types", func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(w, r, d)
		if !ok {
			return
		}
		types := s.Types()
		if types == nil {
			writeJSON(w, []any{})
			return
		}
		writeJSON(w, types)
	})

	// GET /api/projects/{id}/participants
	handleGet(mux, "/api/projects/{id}/participants", func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(w, r, d)
		if !ok {
			return
		}
		ids, err := s.Participants(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, ids)
	})
}
