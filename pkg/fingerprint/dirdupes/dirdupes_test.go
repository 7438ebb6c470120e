package dirdupes

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/filedupes"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/record"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/walker"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func project(t *testing.T, dir, second string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, "a.txt"), "hello world")
	writeFile(t, filepath.Join(dir, "b.txt"), second)
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "third")
	require.NoError(t, os.Symlink("a.txt", filepath.Join(dir, "link")))
}

type pipelineResult struct {
	root   *record.Dir
	finals map[string]*record.Dir
	files  *filedupes.Result
	dirs   *Result
}

func run(t *testing.T, root string, quick bool) pipelineResult {
	t.Helper()
	var buf bytes.Buffer
	w := record.NewWriter(&buf)
	wk, err := walker.New(w, walker.WithQuick(quick))
	require.NoError(t, err)
	final, err := wk.Walk(context.Background(), root)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	data := buf.Bytes()

	open := func() *record.Cursor {
		return record.NewCursor(record.NewReader(bytes.NewReader(data)))
	}

	finals := make(map[string]*record.Dir)
	require.NoError(t, open().Each(func(r record.Record) error {
		if d, ok := r.(*record.Dir); ok && d.Final() {
			finals[d.Path] = d
		}
		return nil
	}))

	a, err := filedupes.Analyze(open())
	require.NoError(t, err)
	files, err := filedupes.Find(context.Background(), open(), a)
	require.NoError(t, err)
	dirs, err := Find(context.Background(), open(), a, files)
	require.NoError(t, err)
	return pipelineResult{root: final, finals: finals, files: files, dirs: dirs}
}

func TestIdenticalSubtreesGrouped(t *testing.T) {
	root := t.TempDir()
	project(t, filepath.Join(root, "alpha", "proj"), "second file")
	project(t, filepath.Join(root, "beta", "copy"), "second file")
	project(t, filepath.Join(root, "gamma", "proj"), "second filX")

	res := run(t, root, false)
	base := res.root.Path
	alphaProj := filepath.Join(base, "alpha", "proj")
	betaCopy := filepath.Join(base, "beta", "copy")
	gammaProj := filepath.Join(base, "gamma", "proj")

	projSize := res.finals[alphaProj].Rollup.ContentSize
	require.Contains(t, res.dirs.Groups, projSize)
	byHash := res.dirs.Groups[projSize]

	projHash := res.finals[alphaProj].Rollup.ContentHash
	require.Contains(t, byHash, projHash)
	assert.Equal(t, []string{alphaProj, betaCopy}, byHash[projHash])

	alphaHash := res.finals[filepath.Join(base, "alpha")].Rollup.ContentHash
	assert.Equal(t, []string{filepath.Join(base, "alpha"), filepath.Join(base, "beta")}, byHash[alphaHash])

	for _, paths := range byHash {
		assert.NotContains(t, paths, gammaProj)
		assert.NotContains(t, paths, filepath.Join(base, "gamma"))
	}

	subHash := res.finals[filepath.Join(alphaProj, "sub")].Rollup.ContentHash
	assert.Len(t, res.dirs.Groups[5][subHash], 3)

	assert.Equal(t, int64(0), res.dirs.Stats.Diverged)
	assert.Equal(t, int64(1), res.dirs.Stats.Unconfirmed)
	assert.Equal(t, int64(7), res.dirs.Stats.Grouped)
}

func TestQuickScanMatchesFullScan(t *testing.T) {
	root := t.TempDir()
	project(t, filepath.Join(root, "one"), "second file")
	project(t, filepath.Join(root, "two"), "second file")

	full := run(t, root, false)
	quick := run(t, root, true)

	assert.Equal(t, full.dirs.Groups, quick.dirs.Groups)
	assert.NotEmpty(t, quick.dirs.Groups)
	assert.Equal(t, full.files.Groups, quick.files.Groups)
}

func TestUniqueSizedFileBreaksMatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "x", "f1"), "aaaa")
	writeFile(t, filepath.Join(root, "x", "f2"), "bb")
	writeFile(t, filepath.Join(root, "y", "g"), "cccccc")

	res := run(t, root, false)
	assert.Empty(t, res.dirs.Groups)
	assert.Equal(t, int64(2), res.dirs.Stats.Mismatched)
}

func TestZeroSizeDirectoriesNeverGrouped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "e1", "empty"), "")
	writeFile(t, filepath.Join(root, "e2", "empty"), "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "d1"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "d2"), 0o755))

	res := run(t, root, false)
	assert.Empty(t, res.dirs.Groups)
}

func TestEmptyFilesParticipateInParentHash(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"p", "q"} {
		writeFile(t, filepath.Join(root, d, "empty"), "")
		writeFile(t, filepath.Join(root, d, "data"), "xyz")
	}
	writeFile(t, filepath.Join(root, "r", "data"), "xyz")

	res := run(t, root, false)
	base := res.root.Path
	hash := res.finals[filepath.Join(base, "p")].Rollup.ContentHash

	require.Contains(t, res.dirs.Groups, int64(3))
	assert.Equal(t, []string{filepath.Join(base, "p"), filepath.Join(base, "q")}, res.dirs.Groups[3][hash])
	assert.Equal(t, int64(0), res.dirs.Stats.Diverged)
}

func TestDuplicatesForm(t *testing.T) {
	res := &Result{Groups: Groups{7: {"h": {"/a", "/b"}}}}
	assert.Equal(t, Groups{7: {"h": {"/a", "/b"}}}, res.Duplicates().CollectionByDirSize)
}
