// internal/viewer/routes/lua.go

package routes

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/petervdpas/livepad/internal/log"
	"github.com/petervdpas/livepad/internal/luaprefabs"
)

var validScriptName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxScriptSize = 1 << 20

type luaScript struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// registerLuaRoutes manages the plugin folder. The engine watches the
// folder, so every write here is picked up without further calls.
func registerLuaRoutes(mux *http.ServeMux, d Deps) {
	// scriptDir writes a 404 when plugins are disabled.
	scriptDir := func(w http.ResponseWriter) (string, bool) {
		if d.Plugins == nil {
			http.Error(w, "lua plugins are disabled", http.StatusNotFound)
			return "", false
		}
		return d.Plugins.Dir(), true
	}
	scriptPath := func(w http.ResponseWriter, r *http.Request) (string, bool) {
		dir, ok := scriptDir(w)
		if !ok {
			return "", false
		}
		name := r.PathValue("name")
		if !validScriptName.MatchString(name) {
			http.Error(w, "invalid script name", http.StatusBadRequest)
			return "", false
		}
		return filepath.Join(dir, name+".lua"), true
	}

	// GET /api/plugins/scripts
	handleGet(mux, "/api/plugins/scripts", func(w http.ResponseWriter, r *http.Request) {
		dir, ok := scriptDir(w)
		if !ok {
			return
		}
		writeJSON(w, listScripts(dir))
	})

	// GET /api/plugins/scripts/{name}, raw source
	handleGet(mux, "/api/plugins/scripts/{name}", func(w http.ResponseWriter, r *http.Request) {
		path, ok := scriptPath(w, r)
		if !ok {
			return
		}
		b, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/x-lua; charset=utf-8")
		_, _ = w.Write(b)
	})

	// PUT /api/plugins/scripts/{name}, body is the new source
	mux.HandleFunc("PUT /api/plugins/scripts/{name}", func(w http.ResponseWriter, r *http.Request) {
		path, ok := scriptPath(w, r)
		if !ok {
			return
		}
		src, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxScriptSize))
		if err != nil {
			http.Error(w, "script too large", http.StatusRequestEntityTooLarge)
			return
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			writeError(w, err)
			return
		}
		if err := os.WriteFile(path, src, 0o644); err != nil {
			writeError(w, err)
			return
		}
		log.Info("VIEWER: saved plugin %s", filepath.Base(path))
		w.WriteHeader(http.StatusNoContent)
	})

	// DELETE /api/plugins/scripts/{name}
	mux.HandleFunc("DELETE /api/plugins/scripts/{name}", func(w http.ResponseWriter, r *http.Request) {
		path, ok := scriptPath(w, r)
		if !ok {
			return
		}
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				http.NotFound(w, r)
				return
			}
			writeError(w, err)
			return
		}
		log.Info("VIEWER: deleted plugin %s", filepath.Base(path))
		w.WriteHeader(http.StatusNoContent)
	})

	// GET /api/plugins/prefabs, bundled plugins
	handleGet(mux, "/api/plugins/prefabs", func(w http.ResponseWriter, r *http.Request) {
		list, err := luaprefabs.List()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, list)
	})

	// POST /api/plugins/prefabs, install a bundled plugin
	handlePost(mux, "/api/plugins/prefabs", func(w http.ResponseWriter, r *http.Request, req struct {
		Prefab    string `json:"prefab"`
		Overwrite bool   `json:"overwrite"`
	}) {
		dir, ok := scriptDir(w)
		if !ok {
			return
		}
		if _, err := luaprefabs.GetMeta(req.Prefab); err != nil || req.Prefab == "" {
			http.Error(w, "prefab not found", http.StatusNotFound)
			return
		}
		written, err := luaprefabs.Install(req.Prefab, dir, req.Overwrite)
		if errors.Is(err, luaprefabs.ErrExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		log.Info("VIEWER: installed prefab %s (%s)", req.Prefab, strings.Join(written, ", "))
		writeJSON(w, map[string]any{"status": "installed", "prefab": req.Prefab, "scripts": written})
	})
}

func listScripts(dir string) []luaScript {
	scripts := []luaScript{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return scripts
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		scripts = append(scripts, luaScript{
			Name: strings.TrimSuffix(e.Name(), ".lua"),
			Size: info.Size(),
		})
	}
	return scripts
}
