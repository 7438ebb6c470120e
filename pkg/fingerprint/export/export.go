// Package export loads a scan stream, and optionally its duplicate groups,
// into a SQLite database for ad-hoc queries.
package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	_ "modernc.org/sqlite"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/artifact"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/logging"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/record"
)

const insertScanSQL = `INSERT INTO scan (id, scan_id, host, root_path, started_at, quick, version, file_template, symlink_template, dir_template) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
const insertDirSQL = `INSERT INTO dirs (id, path, name, parent_id, depth, mode, mtime, owner, grp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
const insertRollupSQL = `INSERT INTO rollups (dir_id, content_size, file_count, symlink_count, dir_count, max_depth, content_hash, meta_hash) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
const insertEntrySQL = `INSERT INTO entries (parent_id, name, kind, size, mode, mtime, owner, grp, sha256, meta_hash, link_target, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
const insertFileDupeSQL = `INSERT INTO file_dupes (size, sha256, path) VALUES (?, ?, ?)`
const insertDirDupeSQL = `INSERT INTO dir_dupes (size, content_hash, path) VALUES (?, ?, ?)`

// Groups maps a size to a digest to the paths sharing it. Both
// filedupes.Groups and dirdupes.Groups convert to it.
type Groups = map[int64]map[string][]string

// Stats counts the rows written.
type Stats struct {
	Dirs      int64
	Files     int64
	Symlinks  int64
	Unknown   int64
	FileDupes int64
	DirDupes  int64
}

// Option configures an export.
type Option func(*exporter)

// WithFileDuplicates also writes duplicate file groups.
func WithFileDuplicates(g Groups) Option {
	return func(e *exporter) {
		e.fileDupes = g
	}
}

// WithDirDuplicates also writes duplicate directory groups.
func WithDirDuplicates(g Groups) Option {
	return func(e *exporter) {
		e.dirDupes = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *exporter) {
		e.log = l
	}
}

type exporter struct {
	fileDupes Groups
	dirDupes  Groups
	log       *logging.Logger

	tx      *sql.Tx
	dirStmt *sql.Stmt
	rollup  *sql.Stmt
	entry   *sql.Stmt

	nextID int64
	open   []int64
	stats  Stats
}

// SQLite writes the stream read by c into a new database at path. The
// database is built beside path and renamed into place once complete.
func SQLite(ctx context.Context, c *record.Cursor, path string, opts ...Option) (*Stats, error) {
	e := &exporter{log: logging.Get("export")}
	for _, opt := range opts {
		opt(e)
	}

	partial := artifact.Partial(path)
	if err := os.Remove(partial); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale partial database: %w", err)
	}
	if err := e.write(ctx, c, partial); err != nil {
		_ = os.Remove(partial)
		return nil, err
	}
	if err := os.Rename(partial, path); err != nil {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("commit database: %w", err)
	}

	e.log.Info("export complete", "path", path, "dirs", e.stats.Dirs, "files", e.stats.Files)
	return &e.stats, nil
}

func (e *exporter) write(ctx context.Context, c *record.Cursor, path string) (err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if cerr := db.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close database: %w", cerr)
		}
	}()
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		return err
	}
	if err := ApplyWritePragmas(db); err != nil {
		return err
	}

	e.tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := e.load(ctx, c); err != nil {
		_ = e.tx.Rollback()
		return err
	}
	if err := e.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	if err := BuildIndexes(db); err != nil {
		return err
	}
	if _, err := db.Exec("PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to optimize: %w", err)
	}
	return nil
}

func (e *exporter) load(ctx context.Context, c *record.Cursor) error {
	var err error
	if e.dirStmt, err = e.tx.Prepare(insertDirSQL); err != nil {
		return fmt.Errorf("failed to prepare dir statement: %w", err)
	}
	defer e.dirStmt.Close()
	if e.rollup, err = e.tx.Prepare(insertRollupSQL); err != nil {
		return fmt.Errorf("failed to prepare rollup statement: %w", err)
	}
	defer e.rollup.Close()
	if e.entry, err = e.tx.Prepare(insertEntrySQL); err != nil {
		return fmt.Errorf("failed to prepare entry statement: %w", err)
	}
	defer e.entry.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := e.insert(r); err != nil {
			return err
		}
	}

	n, err := e.insertGroups(insertFileDupeSQL, e.fileDupes)
	if err != nil {
		return fmt.Errorf("failed to insert file duplicates: %w", err)
	}
	e.stats.FileDupes = n
	n, err = e.insertGroups(insertDirDupeSQL, e.dirDupes)
	if err != nil {
		return fmt.Errorf("failed to insert dir duplicates: %w", err)
	}
	e.stats.DirDupes = n
	return nil
}

func (e *exporter) insert(r record.Record) error {
	switch r := r.(type) {
	case *record.Manifest:
		_, err := e.tx.Exec(insertScanSQL,
			r.ScanID, r.Host, r.Root, r.StartedAt.Unix(), r.Quick, r.Version,
			r.Templates.File.String(), r.Templates.Symlink.String(), r.Templates.Dir.String())
		if err != nil {
			return fmt.Errorf("failed to insert scan: %w", err)
		}

	case *record.Dir:
		if r.Initial() {
			return e.openDir(r)
		}
		id := e.open[len(e.open)-1]
		e.open = e.open[:len(e.open)-1]
		ru := r.Rollup
		if ru == nil {
			ru = &record.Rollup{}
		}
		_, err := e.rollup.Exec(id, ru.ContentSize, ru.FileCount, ru.SymlinkCount, ru.DirCount,
			ru.MaxDepth, nullable(ru.ContentHash), nullable(ru.MetaHash))
		if err != nil {
			return fmt.Errorf("failed to insert rollup for %s: %w", r.Path, err)
		}

	case *record.File:
		e.stats.Files++
		return e.insertEntry(r.Path, r.Name, record.TypeFile, r.Size, r.Mode, r.Mtime, r.Owner, r.Group,
			nullable(r.SHA256), nullable(r.MetaHash), nil, nil)

	case *record.Symlink:
		e.stats.Symlinks++
		return e.insertEntry(r.Path, r.Name, record.TypeSymlink, 0, r.Mode, r.Mtime, r.Owner, r.Group,
			nil, nullable(r.MetaHash), r.LinkTarget, nil)

	case *record.Unknown:
		e.stats.Unknown++
		return e.insertEntry(r.Path, r.Name, record.TypeUnknown, 0, "", 0, "", "",
			nil, nil, nil, nullable(r.Reason))
	}
	return nil
}

func (e *exporter) openDir(d *record.Dir) error {
	e.nextID++
	id := e.nextID

	var parent any
	if len(e.open) > 0 {
		parent = e.open[len(e.open)-1]
	}
	_, err := e.dirStmt.Exec(id, d.Path, d.Name, parent, len(e.open), d.Mode, d.Mtime, d.Owner, d.Group)
	if err != nil {
		return fmt.Errorf("failed to insert dir %s: %w", d.Path, err)
	}
	e.open = append(e.open, id)
	e.stats.Dirs++
	return nil
}

func (e *exporter) insertEntry(path, name string, kind record.Type, size int64, mode string, mtime int64,
	owner, group string, sha, meta, target, reason any) error {
	parent := e.open[len(e.open)-1]
	_, err := e.entry.Exec(parent, name, string(kind), size, mode, mtime, owner, group, sha, meta, target, reason)
	if err != nil {
		return fmt.Errorf("failed to insert entry %s: %w", path, err)
	}
	return nil
}

func (e *exporter) insertGroups(query string, g Groups) (int64, error) {
	if len(g) == 0 {
		return 0, nil
	}
	stmt, err := e.tx.Prepare(query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var n int64
	for _, size := range slices.Sorted(maps.Keys(g)) {
		byDigest := g[size]
		for _, sum := range slices.Sorted(maps.Keys(byDigest)) {
			for _, p := range byDigest[sum] {
				if _, err := stmt.Exec(size, sum, p); err != nil {
					return n, err
				}
				n++
			}
		}
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
