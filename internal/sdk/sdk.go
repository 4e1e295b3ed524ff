// Package sdk serves the JavaScript the preview shell loads. Files are
// available at /sdk/livepad-*.js, minified once at startup.
package sdk

import (
	"embed"
	"io/fs"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/js"
	"github.com/zeebo/xxh3"

	"github.com/petervdpas/livepad/internal/log"
)

//go:embed *.js
var rawFS embed.FS

type asset struct {
	data []byte
	etag string
}

var minified map[string]asset

func init() {
	m := minify.New()
	m.AddFunc("application/javascript", js.Minify)

	minified = make(map[string]asset)

	_ = fs.WalkDir(rawFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if strings.ToLower(filepath.Ext(path)) != ".js" {
			return nil
		}
		raw, err := rawFS.ReadFile(path)
		if err != nil {
			return nil
		}
		out, err := m.Bytes("application/javascript", raw)
		if err != nil {
			log.Warn("SDK: minify warning: %s: %v (using original)", path, err)
			out = raw
		}
		minified[path] = asset{data: out, etag: `"` + strconv.FormatUint(xxh3.Hash(out), 16) + `"`}
		return nil
	})
}

// Files lists the served file names.
func Files() []string {
	out := make([]string, 0, len(minified))
	for name := range minified {
		out = append(out, name)
	}
	return out
}

// Handler returns an http.Handler that serves the SDK JS files.
// Mount it at /sdk/ with a StripPrefix.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		a, ok := minified[path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", a.etag)
		if r.Header.Get("If-None-Match") == a.etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Write(a.data)
	})
}
