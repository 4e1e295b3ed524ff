// internal/viewer/routes/export.go

package routes

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/petervdpas/livepad/internal/doc"
	"github.com/petervdpas/livepad/internal/log"
	"github.com/petervdpas/livepad/internal/modpath"
	"github.com/petervdpas/livepad/internal/util"
)

const (
	maxArchiveSize = 50 << 20
	maxArchiveFile = 10 << 20
)

// ExportManifest is written as manifest.json inside the export zip.
type ExportManifest struct {
	Version    int      `json:"version"`
	Project    string   `json:"project"`
	ExportedAt string   `json:"exported_at"`
	Dirs       []string `json:"dirs,omitempty"` // keeps empty directories
}

func registerExportRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/projects/{id}/export, download the current files as zip
	handleGet(mux, "/api/projects/{id}/export", func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(w, r, d)
		if !ok {
			return
		}
		tree, err := s.Tree(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		now := time.Now().UTC()
		data, err := buildArchive(ExportManifest{
			Version:    1,
			Project:    s.ID(),
			ExportedAt: now.Format(time.RFC3339),
			Dirs:       tree.Dirs(),
		}, tree)
		if err != nil {
			writeError(w, err)
			return
		}

		filename := fmt.Sprintf("livepad-%s-%s.zip", s.ID(), now.Format("2006-01-02"))
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
		_, _ = w.Write(data)
	})

	// POST /api/projects/{id}/import, create a project from an uploaded zip,
	// sent as the request body or as the "file" field of a multipart form
	mux.HandleFunc("POST /api/projects/{id}/import", func(w http.ResponseWriter, r *http.Request) {
		id, err := util.ValidateProjectID(r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}

		var body io.Reader = r.Body
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(maxArchiveSize); err != nil {
				http.Error(w, "failed to parse form: "+err.Error(), http.StatusBadRequest)
				return
			}
			file, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, "file required", http.StatusBadRequest)
				return
			}
			defer file.Close()
			body = file
		}

		data, err := io.ReadAll(io.LimitReader(body, maxArchiveSize+1))
		if err != nil {
			http.Error(w, "failed to read upload", http.StatusBadRequest)
			return
		}
		if len(data) > maxArchiveSize {
			http.Error(w, "archive exceeds 50MB limit", http.StatusRequestEntityTooLarge)
			return
		}

		tree, err := extractZip(data)
		if err != nil {
			http.Error(w, "failed to extract zip: "+err.Error(), http.StatusBadRequest)
			return
		}
		s, err := d.Sessions.Create(r.Context(), id, tree)
		if err != nil {
			writeError(w, err)
			return
		}
		log.Info("VIEWER: imported project %s (%d file(s))", id, len(tree.Files()))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]any{"id": s.ID(), "files": len(tree.Files()), "preview": "/p/" + s.ID() + "/"})
	})
}

// buildArchive writes manifest.json and every file under files/.
func buildArchive(manifest ExportManifest, tree doc.FileTree) ([]byte, error) {
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.Create("manifest.json")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(manifestJSON); err != nil {
		return nil, err
	}
	for _, p := range tree.Files() {
		fw, err := zw.Create("files/" + p)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(fw, tree[p].Text); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// extractZip reads an archive into a project tree. Entries under files/
// are used when a manifest is present; otherwise every entry is a project
// file, minus an optional wrapper directory shared by all of them. Paths
// with ".." are rejected and every file is capped at 10MB.
func extractZip(data []byte) (doc.FileTree, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("zip: %w", err)
	}

	var manifest ExportManifest
	prefix := ""
	for _, f := range zr.File {
		if f.Name == "manifest.json" {
			raw, err := readZipFile(f)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(raw, &manifest); err != nil {
				return nil, fmt.Errorf("manifest.json: %w", err)
			}
			prefix = "files/"
		}
	}
	if prefix == "" {
		prefix = commonPrefix(zr.File)
	}

	tree := doc.FileTree{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		if strings.Contains(f.Name, "..") {
			return nil, fmt.Errorf("%q: %w", f.Name, doc.ErrBadPath)
		}
		name := modpath.Clean(strings.TrimPrefix(f.Name, prefix))
		if name == "" {
			continue
		}
		content, err := readZipFile(f)
		if err != nil {
			return nil, err
		}
		tree[name] = doc.File(string(content))
		addParents(tree, name)
	}
	for _, dir := range manifest.Dirs {
		if dir = modpath.Clean(dir); dir != "" && !strings.Contains(dir, "..") {
			tree[dir] = doc.Directory
			addParents(tree, dir)
		}
	}
	if len(tree.Files()) == 0 {
		return nil, fmt.Errorf("archive holds no files")
	}
	for _, p := range tree.Paths() {
		if parent := modpath.Parent(p); parent != "" && !tree[parent].IsDir {
			return nil, fmt.Errorf("%q: %w", p, doc.ErrNotDir)
		}
	}
	return tree, nil
}

// commonPrefix returns "top/" when every file sits in the same top-level
// directory.
func commonPrefix(files []*zip.File) string {
	prefix := ""
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		top, _, ok := strings.Cut(f.Name, "/")
		if !ok {
			return ""
		}
		if prefix == "" {
			prefix = top + "/"
		} else if prefix != top+"/" {
			return ""
		}
	}
	return prefix
}

func readZipFile(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxArchiveFile {
		return nil, fmt.Errorf("file %q exceeds 10MB limit", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", f.Name, err)
	}
	defer rc.Close()
	content, err := io.ReadAll(io.LimitReader(rc, maxArchiveFile+1))
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", f.Name, err)
	}
	if len(content) > maxArchiveFile {
		return nil, fmt.Errorf("file %q exceeds 10MB limit", f.Name)
	}
	return content, nil
}

func addParents(tree doc.FileTree, p string) {
	for parent := modpath.Parent(p); parent != ""; parent = modpath.Parent(parent) {
		if _, ok := tree[parent]; !ok {
			tree[parent] = doc.Directory
		}
	}
}
