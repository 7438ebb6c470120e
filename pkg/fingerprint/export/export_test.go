package export

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/artifact"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/filedupes"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/record"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/walker"
)

func scanTree(t *testing.T) []byte {
	t.Helper()
	root := t.TempDir()
	for name, content := range map[string]string{
		"a.txt":      "same bytes",
		"sub/b.txt":  "same bytes",
		"sub/c.txt":  "different",
		"sub/deep/d": "",
	} {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	require.NoError(t, os.Symlink("a.txt", filepath.Join(root, "link")))

	var buf bytes.Buffer
	w := record.NewWriter(&buf)
	wk, err := walker.New(w)
	require.NoError(t, err)
	_, err = wk.Walk(context.Background(), root)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	return buf.Bytes()
}

func cursor(data []byte) *record.Cursor {
	return record.NewCursor(record.NewReader(bytes.NewReader(data)))
}

func queryInt(t *testing.T, db *sql.DB, q string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRow(q, args...).Scan(&n))
	return n
}

func TestSQLite(t *testing.T) {
	data := scanTree(t)

	a, err := filedupes.Analyze(cursor(data))
	require.NoError(t, err)
	files, err := filedupes.Find(context.Background(), cursor(data), a)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "scan.db")
	stats, err := SQLite(context.Background(), cursor(data), path, WithFileDuplicates(files.Groups))
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Dirs)
	assert.Equal(t, int64(4), stats.Files)
	assert.Equal(t, int64(1), stats.Symlinks)
	assert.Equal(t, int64(2), stats.FileDupes)
	assert.NoFileExists(t, artifact.Partial(path))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, int64(3), queryInt(t, db, `SELECT COUNT(*) FROM dirs`))
	assert.Equal(t, int64(3), queryInt(t, db, `SELECT COUNT(*) FROM rollups`))
	assert.Equal(t, int64(5), queryInt(t, db, `SELECT COUNT(*) FROM entries`))
	assert.Equal(t, int64(1), queryInt(t, db, `SELECT COUNT(*) FROM dirs WHERE parent_id IS NULL`))
	assert.Equal(t, int64(2), queryInt(t, db, `SELECT MAX(depth) FROM dirs`))

	// Root rollup covers every byte below it.
	assert.Equal(t, int64(29), queryInt(t, db,
		`SELECT r.content_size FROM rollups r JOIN dirs d ON d.id = r.dir_id WHERE d.parent_id IS NULL`))
	assert.Equal(t, int64(4), queryInt(t, db,
		`SELECT r.file_count FROM rollups r JOIN dirs d ON d.id = r.dir_id WHERE d.parent_id IS NULL`))

	assert.Equal(t, int64(2), queryInt(t, db,
		`SELECT COUNT(*) FROM entries e JOIN dirs d ON d.id = e.parent_id WHERE d.name = 'sub' AND e.kind = 'file'`))
	assert.Equal(t, int64(1), queryInt(t, db,
		`SELECT COUNT(*) FROM entries WHERE kind = 'symlink' AND link_target = 'a.txt'`))
	assert.Equal(t, int64(1), queryInt(t, db, `SELECT COUNT(DISTINCT sha256) FROM file_dupes WHERE size = 10`))

	var root string
	var quick bool
	require.NoError(t, db.QueryRow(`SELECT root_path, quick FROM scan`).Scan(&root, &quick))
	assert.NotEmpty(t, root)
	assert.False(t, quick)
}

func TestSQLiteFailureLeavesNothing(t *testing.T) {
	data := scanTree(t)
	truncated := data[:len(data)-3]

	path := filepath.Join(t.TempDir(), "scan.db")
	_, err := SQLite(context.Background(), cursor(truncated), path)
	require.Error(t, err)
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, artifact.Partial(path))
}

func TestSQLiteHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(t.TempDir(), "scan.db")
	_, err := SQLite(ctx, cursor(scanTree(t)), path)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, path)
}
