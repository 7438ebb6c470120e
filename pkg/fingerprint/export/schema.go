package export

import (
	"database/sql"
	"fmt"
)

const scanTableDDL = `
CREATE TABLE IF NOT EXISTS scan (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    scan_id TEXT NOT NULL,
    host TEXT NOT NULL,
    root_path TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    quick INTEGER NOT NULL,
    version TEXT NOT NULL,
    file_template TEXT NOT NULL,
    symlink_template TEXT NOT NULL,
    dir_template TEXT NOT NULL
);
`

const dirsTableDDL = `
CREATE TABLE IF NOT EXISTS dirs (
    id INTEGER PRIMARY KEY,
    path TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL,
    parent_id INTEGER,
    depth INTEGER NOT NULL,
    mode TEXT NOT NULL,
    mtime INTEGER NOT NULL,
    owner TEXT NOT NULL,
    grp TEXT NOT NULL
);
`

const rollupsTableDDL = `
CREATE TABLE IF NOT EXISTS rollups (
    dir_id INTEGER PRIMARY KEY,
    content_size INTEGER NOT NULL,
    file_count INTEGER NOT NULL,
    symlink_count INTEGER NOT NULL,
    dir_count INTEGER NOT NULL,
    max_depth INTEGER NOT NULL,
    content_hash TEXT,
    meta_hash TEXT
);
`

const entriesTableDDL = `
CREATE TABLE IF NOT EXISTS entries (
    id INTEGER PRIMARY KEY,
    parent_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    size INTEGER NOT NULL,
    mode TEXT NOT NULL,
    mtime INTEGER NOT NULL,
    owner TEXT NOT NULL,
    grp TEXT NOT NULL,
    sha256 TEXT,
    meta_hash TEXT,
    link_target TEXT,
    reason TEXT
);
`

const fileDupesTableDDL = `
CREATE TABLE IF NOT EXISTS file_dupes (
    size INTEGER NOT NULL,
    sha256 TEXT NOT NULL,
    path TEXT NOT NULL
);
`

const dirDupesTableDDL = `
CREATE TABLE IF NOT EXISTS dir_dupes (
    size INTEGER NOT NULL,
    content_hash TEXT NOT NULL,
    path TEXT NOT NULL
);
`

const dirsParentIndexDDL = `CREATE INDEX IF NOT EXISTS idx_dirs_parent ON dirs(parent_id);`
const entriesParentIndexDDL = `CREATE INDEX IF NOT EXISTS idx_entries_parent ON entries(parent_id);`
const entriesSHAIndexDDL = `CREATE INDEX IF NOT EXISTS idx_entries_sha256 ON entries(sha256);`
const rollupsSizeIndexDDL = `CREATE INDEX IF NOT EXISTS idx_rollups_size ON rollups(content_size DESC);`
const rollupsHashIndexDDL = `CREATE INDEX IF NOT EXISTS idx_rollups_hash ON rollups(content_hash);`
const fileDupesSizeIndexDDL = `CREATE INDEX IF NOT EXISTS idx_file_dupes_size ON file_dupes(size DESC);`
const dirDupesSizeIndexDDL = `CREATE INDEX IF NOT EXISTS idx_dir_dupes_size ON dir_dupes(size DESC);`

// InitSchema creates all tables in the database.
func InitSchema(db *sql.DB) error {
	ddls := []string{
		scanTableDDL,
		dirsTableDDL,
		rollupsTableDDL,
		entriesTableDDL,
		fileDupesTableDDL,
		dirDupesTableDDL,
	}

	for _, ddl := range ddls {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}

	return nil
}

// ApplyWritePragmas configures SQLite for a single bulk load.
func ApplyWritePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA synchronous = OFF",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply pragma %q: %w", pragma, err)
		}
	}

	return nil
}

// BuildIndexes creates indexes after the data load.
func BuildIndexes(db *sql.DB) error {
	indexes := []string{
		dirsParentIndexDDL,
		entriesParentIndexDDL,
		entriesSHAIndexDDL,
		rollupsSizeIndexDDL,
		rollupsHashIndexDDL,
		fileDupesSizeIndexDDL,
		dirDupesSizeIndexDDL,
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
