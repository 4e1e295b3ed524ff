// Package content mirrors project trees to and from a folder on disk.
package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/xxh3"

	"github.com/petervdpas/livepad/internal/doc"
	"github.com/petervdpas/livepad/internal/modpath"
)

var (
	ErrOutsideRoot = errors.New("path outside root")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
)

// MaxFileSize caps a single imported file.
const MaxFileSize = 10 << 20

type Store struct {
	root string // absolute folder the tree is mirrored into
}

func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Store{root: abs}, nil
}

func (s *Store) RootAbs() string { return s.root }

// FileInfo describes one file found by ReadTree.
type FileInfo struct {
	Path string // root-relative, forward slashes
	Size int64
	ETag string // xxh3:<hex>
}

// Skipped is a file ReadTree left out, with the reason.
type Skipped struct {
	Path   string
	Reason string
}

// ReadTree loads every text file under the root. Dot-prefixed entries are
// ignored. Binary and oversized files are reported in the skipped list.
func (s *Store) ReadTree(ctx context.Context) (doc.FileTree, []Skipped, error) {
	if st, err := os.Stat(s.root); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%s: %w", s.root, ErrNotFound)
		}
		return nil, nil, err
	} else if !st.IsDir() {
		return nil, nil, fmt.Errorf("%s: %w", s.root, doc.ErrNotDir)
	}

	tree := doc.FileTree{}
	var skipped []Skipped
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == s.root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		rel = modpath.Clean(filepath.ToSlash(rel))

		if d.IsDir() {
			tree[rel] = doc.Directory
			return nil
		}
		if !d.Type().IsRegular() {
			skipped = append(skipped, Skipped{Path: rel, Reason: "not a regular file"})
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > MaxFileSize {
			skipped = append(skipped, Skipped{Path: rel, Reason: "larger than 10MB"})
			return nil
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if !utf8.Valid(b) {
			skipped = append(skipped, Skipped{Path: rel, Reason: "binary"})
			return nil
		}
		tree[rel] = doc.File(string(b))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return tree, skipped, nil
}

// WriteTree writes every entry of tree below the root. Existing files are
// only replaced when overwrite is set; otherwise the first one found is
// ErrConflict and nothing is written.
func (s *Store) WriteTree(ctx context.Context, tree doc.FileTree, overwrite bool) ([]FileInfo, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, err
	}
	paths := tree.Paths()
	if !overwrite {
		for _, p := range paths {
			abs, err := s.cleanAbs(p)
			if err != nil {
				return nil, err
			}
			if _, err := os.Stat(abs); err == nil && !tree[p].IsDir {
				return nil, fmt.Errorf("%s: %w", p, ErrConflict)
			}
		}
	}

	var out []FileInfo
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		abs, err := s.cleanAbs(p)
		if err != nil {
			return out, err
		}
		if tree[p].IsDir {
			if err := s.mkdirAllChecked(abs); err != nil {
				return out, fmt.Errorf("%s: %w", p, err)
			}
			continue
		}
		data := []byte(tree[p].Text)
		if err := s.writeFile(abs, data); err != nil {
			return out, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, FileInfo{Path: p, Size: int64(len(data)), ETag: etagBytes(data)})
	}
	return out, nil
}

// writeFile writes atomically through a temp file in the same folder. It
// refuses to replace a directory or to write below a file.
func (s *Store) writeFile(abs string, data []byte) error {
	if st, err := os.Stat(abs); err == nil && st.IsDir() {
		return ErrConflict
	}
	dir := filepath.Dir(abs)
	if err := s.mkdirAllChecked(dir); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, ".livepad-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	// Re-check symlink resolution now that parents exist.
	if p, err := filepath.EvalSymlinks(tmp); err == nil && !s.within(p) {
		_ = os.Remove(tmp)
		return ErrOutsideRoot
	}

	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// --- safety boundary ---

func (s *Store) within(abs string) bool {
	rootClean := filepath.Clean(s.root)
	return abs == rootClean || strings.HasPrefix(abs, rootClean+string(filepath.Separator))
}

func (s *Store) cleanAbs(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	rel = strings.TrimPrefix(rel, "/")
	rel = filepath.FromSlash(rel)

	abs := filepath.Clean(filepath.Join(s.root, rel))
	if !s.within(abs) {
		return "", ErrOutsideRoot
	}

	// prevent symlink escape on existing paths
	if p, err := filepath.EvalSymlinks(abs); err == nil && !s.within(p) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

// mkdirAllChecked creates directories but refuses if any component in the
// path is a file.
func (s *Store) mkdirAllChecked(absDir string) error {
	absDir = filepath.Clean(absDir)
	if !s.within(absDir) {
		return ErrOutsideRoot
	}

	rootClean := filepath.Clean(s.root)
	rel, err := filepath.Rel(rootClean, absDir)
	if err != nil {
		return err
	}
	if rel == "." {
		return nil
	}
	cur := rootClean
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "" {
			continue
		}
		cur = filepath.Join(cur, part)

		st, err := os.Stat(cur)
		switch {
		case err == nil && !st.IsDir():
			return ErrConflict
		case err == nil:
		case errors.Is(err, os.ErrNotExist):
			if mkErr := os.Mkdir(cur, 0o755); mkErr != nil && !errors.Is(mkErr, os.ErrExist) {
				return mkErr
			}
		default:
			return err
		}
	}
	return nil
}

func etagBytes(b []byte) string {
	return fmt.Sprintf("xxh3:%016x", xxh3.Hash(b))
}
