// internal/luaprefabs/embed.go

// Package luaprefabs ships ready-made transform plugins that can be copied
// into a workspace's plugin folder.
package luaprefabs

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed all:csv all:tmpl
var prefabFS embed.FS

var ErrExists = errors.New("plugin already installed")

// PrefabMeta holds prefab metadata from manifest.json.
type PrefabMeta struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Icon        string   `json:"icon"`
	Dir         string   `json:"dir"`
	ScriptNames []string `json:"scripts"` // e.g. ["csv"], populated by List()
}

// List returns metadata for all available prefabs.
func List() ([]PrefabMeta, error) {
	entries, err := prefabFS.ReadDir(".")
	if err != nil {
		return nil, err
	}

	var out []PrefabMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := readManifest(e.Name())
		if err != nil {
			continue // skip broken prefabs
		}
		m.Dir = e.Name()
		m.ScriptNames = scriptNames(e.Name())
		out = append(out, m)
	}
	return out, nil
}

// scriptNames returns the script names (without .lua) in a prefab.
func scriptNames(dir string) []string {
	var names []string
	_ = fs.WalkDir(prefabFS, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		base := strings.TrimPrefix(p, dir+"/")
		if strings.HasSuffix(base, ".lua") {
			names = append(names, strings.TrimSuffix(base, ".lua"))
		}
		return nil
	})
	sort.Strings(names)
	return names
}

// Scripts returns the .lua files of a prefab keyed by file name.
func Scripts(dir string) (map[string][]byte, error) {
	if _, err := readManifest(dir); err != nil {
		return nil, fmt.Errorf("prefab %q: %w", dir, err)
	}
	out := make(map[string][]byte)
	for _, name := range scriptNames(dir) {
		b, err := prefabFS.ReadFile(path.Join(dir, name+".lua"))
		if err != nil {
			return nil, err
		}
		out[name+".lua"] = b
	}
	return out, nil
}

// Install copies a prefab's scripts into dest. Existing files are only
// replaced when overwrite is set. It returns the written file names.
func Install(dir, dest string, overwrite bool) ([]string, error) {
	scripts, err := Scripts(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(scripts))
	for name := range scripts {
		names = append(names, name)
	}
	sort.Strings(names)

	if !overwrite {
		for _, name := range names {
			if _, err := os.Stat(filepath.Join(dest, name)); err == nil {
				return nil, fmt.Errorf("%s: %w", name, ErrExists)
			}
		}
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dest, name), scripts[name], 0o644); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// GetMeta returns the manifest metadata for a specific prefab directory.
func GetMeta(dir string) (PrefabMeta, error) {
	m, err := readManifest(dir)
	if err != nil {
		return m, err
	}
	m.Dir = dir
	m.ScriptNames = scriptNames(dir)
	return m, nil
}

func readManifest(dir string) (PrefabMeta, error) {
	var m PrefabMeta
	b, err := prefabFS.ReadFile(path.Join(dir, "manifest.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}
