// internal/sitetemplates/embed.go

// Package sitetemplates holds the starter projects a new project can be
// created from.
package sitetemplates

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/petervdpas/livepad/internal/doc"
	"github.com/petervdpas/livepad/internal/modpath"
)

//go:embed all:demo all:notes all:react
var templateFS embed.FS

// Default is the template new projects start from.
const Default = "demo"

var ErrUnknown = errors.New("unknown template")

// TemplateMeta holds template metadata from manifest.json
type TemplateMeta struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Icon        string `json:"icon"`
	Entry       string `json:"entry"` // file the preview opens
	Dir         string `json:"dir"`   // directory name (e.g. "notes")
}

// List returns metadata for all available templates.
func List() ([]TemplateMeta, error) {
	entries, err := templateFS.ReadDir(".")
	if err != nil {
		return nil, err
	}

	var out []TemplateMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := readManifest(e.Name())
		if err != nil {
			continue // skip broken templates
		}
		m.Dir = e.Name()
		out = append(out, m)
	}
	return out, nil
}

// Tree returns a template's files as a project tree, with an entry for
// every directory they sit in.
func Tree(dir string) (doc.FileTree, error) {
	if _, err := readManifest(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = ErrUnknown
		}
		return nil, fmt.Errorf("template %q: %w", dir, err)
	}
	tree := doc.FileTree{}

	err := fs.WalkDir(templateFS, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel := strings.TrimPrefix(p, dir+"/")
		if rel == "manifest.json" {
			return nil
		}
		data, err := templateFS.ReadFile(p)
		if err != nil {
			return err
		}
		tree[rel] = doc.File(string(data))
		for parent := modpath.Parent(rel); parent != ""; parent = modpath.Parent(parent) {
			tree[parent] = doc.Directory
		}
		return nil
	})
	return tree, err
}

// MustTree is Tree for the templates compiled into the binary.
func MustTree(dir string) doc.FileTree {
	tree, err := Tree(dir)
	if err != nil {
		panic(err)
	}
	return tree
}

// GetMeta returns the manifest metadata for a specific template directory.
func GetMeta(dir string) (TemplateMeta, error) {
	m, err := readManifest(dir)
	m.Dir = dir
	return m, err
}

func readManifest(dir string) (TemplateMeta, error) {
	var m TemplateMeta
	b, err := templateFS.ReadFile(path.Join(dir, "manifest.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}
