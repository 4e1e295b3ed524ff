// Package storage persists projects in SQLite: one snapshot per project plus
// the log of changes committed after it. Loading a project replays the log
// on top of the snapshot; compaction folds the log into a new snapshot.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/petervdpas/livepad/internal/doc"
)

var (
	ErrNoProject = errors.New("project not found")
	// ErrLogGap means a stored change is missing between the snapshot and
	// the head; replaying past it would corrupt the project.
	ErrLogGap = errors.New("change log has a gap")
)

const schemaVersion = "1"

// Project is a stored project: the snapshot and every change committed
// after it, in sequence order.
type Project struct {
	ID       string
	Tree     doc.FileTree
	Seq      uint64 // sequence number the snapshot was taken at
	Changes  []doc.Change
	Created  time.Time
	Modified time.Time
}

// Head is the sequence number of the last stored change.
func (p Project) Head() uint64 {
	if n := len(p.Changes); n > 0 {
		return p.Changes[n-1].Seq
	}
	return p.Seq
}

// HeadTree replays the stored changes onto the snapshot.
func (p Project) HeadTree() (doc.FileTree, error) {
	tree, err := doc.Replay(p.Tree, p.Changes...)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", p.ID, err)
	}
	return tree, nil
}

// Summary describes a project for listings.
type Summary struct {
	ID       string    `json:"id"`
	Seq      uint64    `json:"seq"`
	Pending  int       `json:"pending_changes"`
	Created  time.Time `json:"created_at"`
	Modified time.Time `json:"updated_at"`
}

// DB wraps the SQLite database holding every project.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the database at path. ":memory:" keeps everything
// in memory.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	// pragmas in the DSN apply to every pooled connection
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if path != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure database: %w", err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create meta table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			id         TEXT PRIMARY KEY,
			seq        INTEGER NOT NULL DEFAULT 0,
			tree       TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create projects table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS changes (
			project    TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			seq        INTEGER NOT NULL,
			change_id  TEXT NOT NULL,
			actor      TEXT DEFAULT '',
			patches    TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (project, seq)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create changes table: %w", err)
	}

	if _, err := db.Exec(`INSERT OR IGNORE INTO _meta (key, value) VALUES ('schema_version', ?)`, schemaVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("write schema version: %w", err)
	}

	return &DB{db: db, path: path}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// Create stores a new project with tree as its snapshot at seq 0.
func (d *DB) Create(ctx context.Context, id string, tree doc.FileTree) error {
	data, err := encodeTree(tree)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO projects (id, seq, tree) VALUES (?, 0, ?)`, id, data); err != nil {
		return fmt.Errorf("create project %s: %w", id, err)
	}
	return nil
}

// Load returns the stored project. ErrNoProject when it does not exist.
func (d *DB) Load(ctx context.Context, id string) (Project, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p := Project{ID: id}
	var treeJSON string
	err := d.db.QueryRowContext(ctx,
		`SELECT seq, tree, created_at, updated_at FROM projects WHERE id = ?`, id).
		Scan(&p.Seq, &treeJSON, &p.Created, &p.Modified)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, fmt.Errorf("%s: %w", id, ErrNoProject)
	}
	if err != nil {
		return Project{}, fmt.Errorf("load project %s: %w", id, err)
	}
	if p.Tree, err = decodeTree(treeJSON); err != nil {
		return Project{}, fmt.Errorf("project %s: %w", id, err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT seq, change_id, actor, patches FROM changes WHERE project = ? AND seq > ? ORDER BY seq`, id, p.Seq)
	if err != nil {
		return Project{}, fmt.Errorf("load changes of %s: %w", id, err)
	}
	defer rows.Close()

	prev := p.Seq
	for rows.Next() {
		var (
			ch      doc.Change
			patches string
		)
		if err := rows.Scan(&ch.Seq, &ch.ID, &ch.Actor, &patches); err != nil {
			return Project{}, fmt.Errorf("scan change: %w", err)
		}
		if ch.Seq != prev+1 {
			return Project{}, fmt.Errorf("project %s: change %d follows %d: %w", id, ch.Seq, prev, ErrLogGap)
		}
		if err := json.Unmarshal([]byte(patches), &ch.Patches); err != nil {
			return Project{}, fmt.Errorf("decode change %d: %w", ch.Seq, err)
		}
		p.Changes = append(p.Changes, ch)
		prev = ch.Seq
	}
	return p, rows.Err()
}

// Append stores one committed change.
func (d *DB) Append(ctx context.Context, id string, ch doc.Change) error {
	patches, err := json.Marshal(ch.Patches)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO changes (project, seq, change_id, actor, patches) VALUES (?, ?, ?, ?, ?)`,
		id, ch.Seq, ch.ID, ch.Actor, string(patches)); err != nil {
		return fmt.Errorf("append change %d to %s: %w", ch.Seq, id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE projects SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Compact replaces the snapshot of id with tree at seq and drops the
// changes it includes.
func (d *DB) Compact(ctx context.Context, id string, tree doc.FileTree, seq uint64) error {
	data, err := encodeTree(tree)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET seq = ?, tree = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, seq, data, id)
	if err != nil {
		return fmt.Errorf("write snapshot of %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNoProject)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM changes WHERE project = ? AND seq <= ?`, id, seq); err != nil {
		return fmt.Errorf("trim changes of %s: %w", id, err)
	}
	return tx.Commit()
}

// Delete removes a project and its change log.
func (d *DB) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM changes WHERE project = ?`, id); err != nil {
		return fmt.Errorf("delete changes of %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNoProject)
	}
	return tx.Commit()
}

// List returns every stored project, most recently modified first.
func (d *DB) List(ctx context.Context) ([]Summary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, `
		SELECT p.id, p.seq, p.created_at, p.updated_at,
		       (SELECT COUNT(*) FROM changes c WHERE c.project = p.id AND c.seq > p.seq)
		FROM projects p
		ORDER BY p.updated_at DESC, p.id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Seq, &s.Created, &s.Modified, &s.Pending); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SchemaVersion returns the stored schema version.
func (d *DB) SchemaVersion() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var v string
	err := d.db.QueryRow(`SELECT value FROM _meta WHERE key = 'schema_version'`).Scan(&v)
	return v, err
}

func encodeTree(tree doc.FileTree) (string, error) {
	if tree == nil {
		tree = doc.FileTree{}
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("encode tree: %w", err)
	}
	return string(data), nil
}

func decodeTree(s string) (doc.FileTree, error) {
	tree := doc.FileTree{}
	if err := json.Unmarshal([]byte(s), &tree); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	return tree, nil
}
