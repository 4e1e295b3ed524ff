package doc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/petervdpas/livepad/internal/modpath"
	"github.com/petervdpas/livepad/internal/text16"
)

// Draft is the mutable view handed to a Mutate callback. Every operation
// records the patches it produced, in order.
type Draft struct {
	tree    FileTree
	patches []Patch
}

func newDraft(base FileTree) *Draft {
	return &Draft{tree: base.Clone()}
}

// Get returns the draft's current entry at p.
func (d *Draft) Get(p string) (Entry, bool) {
	e, ok := d.tree[p]
	return e, ok
}

// Splice deletes del code units at off in the text of p and inserts text
// there.
func (d *Draft) Splice(p string, off, del int, text string) error {
	e, ok := d.tree[p]
	if !ok {
		return fmt.Errorf("splice %q: %w", p, ErrNotFound)
	}
	if e.IsDir {
		return fmt.Errorf("splice %q: %w", p, ErrIsDir)
	}
	if del == 0 && text == "" {
		return nil
	}
	next, err := text16.Splice(e.Text, off, del, text)
	if err != nil {
		return fmt.Errorf("splice %q at %d-%d: %w", p, off, off+del, ErrOutOfRange)
	}
	d.tree[p] = File(next)
	if del > 0 {
		d.patches = append(d.patches, Patch{Action: ActionDel, Path: p, Text: true, Offset: off, Length: del})
	}
	if text != "" {
		d.patches = append(d.patches, Patch{Action: ActionSplice, Path: p, Text: true, Offset: off, Value: text})
	}
	return nil
}

// Put creates or replaces the file at p.
func (d *Draft) Put(p, text string) error {
	if err := d.checkPlace(p); err != nil {
		return err
	}
	if e, ok := d.tree[p]; ok {
		if e.IsDir {
			return fmt.Errorf("put %q: %w", p, ErrIsDir)
		}
		if e.Text == text {
			return nil
		}
	}
	d.tree[p] = File(text)
	d.patches = append(d.patches, Patch{Action: ActionPut, Path: p, Value: text})
	return nil
}

// Mkdir places the directory marker at p. Existing directories are left
// alone.
func (d *Draft) Mkdir(p string) error {
	if err := d.checkPlace(p); err != nil {
		return err
	}
	if e, ok := d.tree[p]; ok {
		if e.IsDir {
			return nil
		}
		return fmt.Errorf("mkdir %q: %w", p, ErrExists)
	}
	d.tree[p] = Directory
	d.patches = append(d.patches, Patch{Action: ActionPut, Path: p, Dir: true})
	return nil
}

// Delete removes p and, for directories, everything below it. Descendants
// are removed deepest first.
func (d *Draft) Delete(p string) error {
	if _, ok := d.tree[p]; !ok {
		return fmt.Errorf("delete %q: %w", p, ErrNotFound)
	}
	for _, c := range d.descendants(p) {
		delete(d.tree, c)
		d.patches = append(d.patches, Patch{Action: ActionDel, Path: c})
	}
	delete(d.tree, p)
	d.patches = append(d.patches, Patch{Action: ActionDel, Path: p})
	return nil
}

// Rename moves p, and everything below it, to to.
func (d *Draft) Rename(from, to string) error {
	if _, ok := d.tree[from]; !ok {
		return fmt.Errorf("rename %q: %w", from, ErrNotFound)
	}
	if from == to {
		return nil
	}
	if _, exists := d.tree[to]; exists {
		return fmt.Errorf("rename to %q: %w", to, ErrExists)
	}
	if modpath.IsDescendant(to, from) {
		return fmt.Errorf("rename %q into itself: %w", from, ErrBadPath)
	}
	if err := d.checkPlace(to); err != nil {
		return err
	}

	moved := append([]string{from}, d.descendants(from)...)
	sort.Strings(moved) // parents before children for the puts
	for _, old := range moved {
		np := to + strings.TrimPrefix(old, from)
		ent := d.tree[old]
		d.tree[np] = ent
		d.patches = append(d.patches, Patch{Action: ActionPut, Path: np, Value: ent.Text, Dir: ent.IsDir})
	}
	return d.Delete(from)
}

func (d *Draft) checkPlace(p string) error {
	if p == "" || modpath.Clean(p) != p {
		return fmt.Errorf("%q: %w", p, ErrBadPath)
	}
	for parent := modpath.Parent(p); parent != ""; parent = modpath.Parent(parent) {
		if e, ok := d.tree[parent]; ok && !e.IsDir {
			return fmt.Errorf("%q under file %q: %w", p, parent, ErrNotDir)
		}
	}
	return nil
}

// descendants returns the paths strictly below p, deepest first.
func (d *Draft) descendants(p string) []string {
	var out []string
	for k := range d.tree {
		if modpath.IsDescendant(k, p) {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := strings.Count(out[i], "/"), strings.Count(out[j], "/")
		if di != dj {
			return di > dj
		}
		return out[i] < out[j]
	})
	return out
}
