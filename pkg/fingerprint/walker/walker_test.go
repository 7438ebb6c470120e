package walker

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/digest"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/metadata"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/record"
)

type memSink struct {
	recs []record.Record
}

func (m *memSink) Append(r record.Record) error {
	m.recs = append(m.recs, r)
	return nil
}

func (m *memSink) finals() map[string]*record.Dir {
	out := make(map[string]*record.Dir)
	for _, r := range m.recs {
		if d, ok := r.(*record.Dir); ok && d.Final() {
			out[d.Path] = d
		}
	}
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func walk(t *testing.T, root string, opts ...Option) (*record.Dir, *memSink, *Walker) {
	t.Helper()
	sink := &memSink{}
	w, err := New(sink, append([]Option{WithHost("test")}, opts...)...)
	require.NoError(t, err)
	final, err := w.Walk(context.Background(), root)
	require.NoError(t, err)
	return final, sink, w
}

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestSingleFileDigestChain(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "file1.txt"), "abc")

	final, sink, _ := walk(t, root)

	require.NotNil(t, final.Rollup)
	assert.Equal(t, int64(1), final.Rollup.FileCount)
	assert.Equal(t, int64(0), final.Rollup.DirCount)
	assert.Equal(t, int64(3), final.Rollup.ContentSize)
	assert.Equal(t, 1, final.Rollup.MaxDepth)

	reader := metadata.NewReader()
	fi, err := reader.Lstat(filepath.Join(final.Path, "file1.txt"))
	require.NoError(t, err)
	di, err := reader.Lstat(final.Path)
	require.NoError(t, err)

	content := sha("abc")
	fileMeta := sha(strings.Join([]string{
		"file1.txt", fi.ModeString(), fi.Owner, fi.Group, strconv.FormatInt(fi.Mtime, 10), "3", content,
	}, "+"))
	dirMeta := md5hex(strings.Join([]string{
		filepath.Base(final.Path), di.ModeString(), di.Owner, di.Group, strconv.FormatInt(di.Mtime, 10), fileMeta,
	}, "+"))

	var file *record.File
	for _, r := range sink.recs {
		if f, ok := r.(*record.File); ok {
			file = f
		}
	}
	require.NotNil(t, file)
	assert.Equal(t, content, file.SHA256)
	assert.Equal(t, fileMeta, file.MetaHash)

	assert.Equal(t, []string{content}, final.Rollup.ContentHashes)
	assert.Equal(t, []string{fileMeta}, final.Rollup.MetaHashes)
	assert.Equal(t, md5hex(content), final.Rollup.ContentHash)
	assert.Equal(t, dirMeta, final.Rollup.MetaHash)

	m, ok := sink.recs[0].(*record.Manifest)
	require.True(t, ok)
	assert.Equal(t, final.Path, m.Root)
	assert.Equal(t, "test", m.Host)
	assert.NotEmpty(t, m.ScanID)
	assert.Equal(t, digest.DefaultTemplates(), m.Templates)
}

func buildNested(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "top.txt"), "top")
	writeFile(t, filepath.Join(root, "a", "one.txt"), "1")
	writeFile(t, filepath.Join(root, "a", "b", "two.txt"), "22")
	writeFile(t, filepath.Join(root, "a", "b", "c", "three.txt"), "333")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	require.NoError(t, os.Symlink("top.txt", filepath.Join(root, "link")))
	require.NoError(t, os.Symlink("../one.txt", filepath.Join(root, "a", "b", "up")))
	return root
}

type acc struct {
	files, symlinks, dirs, size int64
}

func TestRollupSums(t *testing.T) {
	_, sink, _ := walk(t, buildNested(t))

	var stack []acc
	for _, r := range sink.recs {
		switch r := r.(type) {
		case *record.Dir:
			if r.Initial() {
				stack = append(stack, acc{})
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			assert.Equal(t, top.files, r.Rollup.FileCount, r.Path)
			assert.Equal(t, top.symlinks, r.Rollup.SymlinkCount, r.Path)
			assert.Equal(t, top.dirs, r.Rollup.DirCount, r.Path)
			assert.Equal(t, top.size, r.Rollup.ContentSize, r.Path)
			if len(stack) > 0 {
				p := &stack[len(stack)-1]
				p.files += r.Rollup.FileCount
				p.symlinks += r.Rollup.SymlinkCount
				p.dirs += 1 + r.Rollup.DirCount
				p.size += r.Rollup.ContentSize
			}
		case *record.File:
			stack[len(stack)-1].files++
			stack[len(stack)-1].size += r.Size
		case *record.Symlink:
			stack[len(stack)-1].symlinks++
		}
	}
	assert.Empty(t, stack)
}

func TestMaxDepth(t *testing.T) {
	root := buildNested(t)
	final, sink, _ := walk(t, root)
	finals := sink.finals()

	assert.Equal(t, 4, final.Rollup.MaxDepth)
	assert.Equal(t, 0, finals[filepath.Join(final.Path, "empty")].Rollup.MaxDepth)
	assert.Equal(t, 1, finals[filepath.Join(final.Path, "a", "b", "c")].Rollup.MaxDepth)
	assert.Equal(t, 2, finals[filepath.Join(final.Path, "a", "b")].Rollup.MaxDepth)
	assert.Equal(t, int64(4), final.Rollup.DirCount)
	assert.Equal(t, int64(4), final.Rollup.FileCount)
	assert.Equal(t, int64(2), final.Rollup.SymlinkCount)
	assert.Equal(t, int64(9), final.Rollup.ContentSize)
}

func TestDeterministic(t *testing.T) {
	root := buildNested(t)
	_, first, _ := walk(t, root)
	_, second, _ := walk(t, root)

	a, b := first.finals(), second.finals()
	require.Equal(t, len(a), len(b))
	for path, d := range a {
		require.Contains(t, b, path)
		assert.Equal(t, d.Rollup.ContentHash, b[path].Rollup.ContentHash, path)
		assert.Equal(t, d.Rollup.MetaHash, b[path].Rollup.MetaHash, path)
	}
}

func TestSameContentDifferentNames(t *testing.T) {
	root := t.TempDir()
	stamp := time.Unix(1700000000, 0)
	for _, name := range []string{"left", "right"} {
		dir := filepath.Join(root, name)
		writeFile(t, filepath.Join(dir, "x.txt"), "same x")
		writeFile(t, filepath.Join(dir, "y.txt"), "same y")
		require.NoError(t, os.Symlink("x.txt", filepath.Join(dir, "l")))
		for _, f := range []string{"x.txt", "y.txt"} {
			require.NoError(t, os.Chtimes(filepath.Join(dir, f), stamp, stamp))
		}
		require.NoError(t, os.Chtimes(dir, stamp, stamp))
	}

	final, sink, _ := walk(t, root)
	finals := sink.finals()
	left := finals[filepath.Join(final.Path, "left")]
	right := finals[filepath.Join(final.Path, "right")]
	require.NotNil(t, left)
	require.NotNil(t, right)

	assert.Equal(t, left.Rollup.ContentHash, right.Rollup.ContentHash)
	assert.NotEqual(t, left.Rollup.MetaHash, right.Rollup.MetaHash)
}

func TestEmissionOrder(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "a"), 0o755))
	writeFile(t, filepath.Join(root, "b"), "b")
	require.NoError(t, os.Symlink("b", filepath.Join(root, "c")))
	require.NoError(t, os.Mkdir(filepath.Join(root, "d"), 0o755))
	writeFile(t, filepath.Join(root, "aa"), "aa")

	_, sink, _ := walk(t, root)

	var got []string
	for _, r := range sink.recs[1:] {
		switch r := r.(type) {
		case *record.Dir:
			got = append(got, string(r.Phase)+":"+filepath.Base(r.Path))
		case *record.File:
			got = append(got, "file:"+r.Name)
		case *record.Symlink:
			got = append(got, "symlink:"+r.Name)
		}
	}
	base := filepath.Base(root)
	assert.Equal(t, []string{
		"initial:" + base,
		"symlink:c",
		"file:aa",
		"file:b",
		"initial:a", "final:a",
		"initial:d", "final:d",
		"final:" + base,
	}, got)
}

func TestQuickMode(t *testing.T) {
	final, sink, w := walk(t, buildNested(t), WithQuick(true))

	assert.False(t, final.Rollup.Hashed())
	assert.Empty(t, final.Rollup.ContentHashes)
	assert.Equal(t, int64(4), final.Rollup.FileCount)
	for _, r := range sink.recs {
		if f, ok := r.(*record.File); ok {
			assert.Empty(t, f.SHA256)
			assert.Empty(t, f.MetaHash)
		}
	}
	assert.Equal(t, int64(0), w.Stats().Hashed)
	assert.True(t, sink.recs[0].(*record.Manifest).Quick)
}

func TestUnlistableSubdirBecomesUnknown(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ok.txt"), "ok")
	writeFile(t, filepath.Join(root, "locked", "inner.txt"), "hidden")

	sink := &memSink{}
	w, err := New(sink)
	require.NoError(t, err)
	w.readDir = func(name string) ([]os.DirEntry, error) {
		if filepath.Base(name) == "locked" {
			return nil, os.ErrPermission
		}
		return os.ReadDir(name)
	}

	final, err := w.Walk(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, int64(0), final.Rollup.DirCount)
	assert.Equal(t, int64(1), final.Rollup.FileCount)
	assert.Equal(t, int64(2), final.Rollup.ContentSize)
	assert.Len(t, final.Rollup.ContentHashes, 1)

	var unknown *record.Unknown
	for _, r := range sink.recs {
		if u, ok := r.(*record.Unknown); ok {
			unknown = u
		}
	}
	require.NotNil(t, unknown)
	assert.Equal(t, "locked", unknown.Name)
	assert.Equal(t, int64(1), w.Stats().Unknown)
}

func TestRootUnreadableIsFatal(t *testing.T) {
	sink := &memSink{}
	w, err := New(sink)
	require.NoError(t, err)
	w.readDir = func(string) ([]os.DirEntry, error) { return nil, os.ErrPermission }

	_, err = w.Walk(context.Background(), t.TempDir())
	require.ErrorIs(t, err, ErrRootUnreadable)
}

func TestRootErrors(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "f")
	writeFile(t, file, "x")

	w, err := New(&memSink{})
	require.NoError(t, err)

	_, err = w.Walk(context.Background(), file)
	assert.ErrorIs(t, err, ErrNotDirectory)

	_, err = w.Walk(context.Background(), filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestUnreadableFileHasNoDigest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bad.txt"), "bad")
	writeFile(t, filepath.Join(root, "good.txt"), "good")

	hasher := func(path string) (string, error) {
		if filepath.Base(path) == "bad.txt" {
			return "", os.ErrPermission
		}
		return digest.File(path)
	}
	final, sink, w := walk(t, root, WithHasher(hasher))

	assert.Equal(t, int64(2), final.Rollup.FileCount)
	assert.Equal(t, int64(7), final.Rollup.ContentSize)
	assert.Equal(t, []string{sha("good")}, final.Rollup.ContentHashes)
	assert.Len(t, final.Rollup.MetaHashes, 1)
	assert.Equal(t, int64(1), w.Stats().Unreadable)

	for _, r := range sink.recs {
		if f, ok := r.(*record.File); ok && f.Name == "bad.txt" {
			assert.Empty(t, f.SHA256)
			assert.Empty(t, f.MetaHash)
		}
	}
}

type fixedCatalog struct {
	digest string
}

func (c fixedCatalog) Lookup(rec *record.File) (string, bool, error) {
	if rec.Name == "cached.txt" {
		return c.digest, true, nil
	}
	return "", false, nil
}

func TestCatalogShortCircuitsHashing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cached.txt"), "abc")
	writeFile(t, filepath.Join(root, "fresh.txt"), "xyz")

	var hashed []string
	hasher := func(path string) (string, error) {
		hashed = append(hashed, filepath.Base(path))
		return digest.File(path)
	}
	_, sink, w := walk(t, root, WithHasher(hasher), WithCatalog(fixedCatalog{digest: strings.Repeat("a", 64)}))

	assert.Equal(t, []string{"fresh.txt"}, hashed)
	assert.Equal(t, int64(1), w.Stats().CatalogHits)
	for _, r := range sink.recs {
		if f, ok := r.(*record.File); ok && f.Name == "cached.txt" {
			assert.Equal(t, strings.Repeat("a", 64), f.SHA256)
		}
	}
}

func TestObserver(t *testing.T) {
	root := buildNested(t)

	var paths []string
	obs := ObserverFunc(func(path string, rec record.Record) error {
		if _, ok := rec.(*record.File); ok {
			paths = append(paths, path)
		}
		return nil
	})
	final, _, _ := walk(t, root, WithObserver(obs))
	assert.Contains(t, paths, filepath.Join(final.Path, "a", "b", "c", "three.txt"))
	assert.Len(t, paths, 4)
}

func TestObserverErrorAborts(t *testing.T) {
	stop := errors.New("disk full")
	obs := ObserverFunc(func(_ string, rec record.Record) error {
		if _, ok := rec.(*record.File); ok {
			return stop
		}
		return nil
	})

	w, err := New(&memSink{}, WithObserver(obs))
	require.NoError(t, err)
	_, err = w.Walk(context.Background(), buildNested(t))
	assert.ErrorIs(t, err, stop)
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &memSink{}
	w, err := New(sink)
	require.NoError(t, err)
	_, err = w.Walk(ctx, buildNested(t))
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, sink.recs, 1)
	assert.IsType(t, &record.Manifest{}, sink.recs[0])
}

func TestExclude(t *testing.T) {
	root := buildNested(t)
	writeFile(t, filepath.Join(root, "debug.log"), "noise")
	writeFile(t, filepath.Join(root, "a", "b", "trace.log"), "noise")

	final, sink, _ := walk(t, root, WithExclude("*.log", "a/b/c"))

	for _, r := range sink.recs {
		switch r := r.(type) {
		case *record.File:
			assert.NotEqual(t, ".log", filepath.Ext(r.Name))
		case *record.Dir:
			assert.NotEqual(t, "c", filepath.Base(r.Path))
		}
	}
	assert.Equal(t, int64(3), final.Rollup.FileCount)
}

func TestInvalidOptions(t *testing.T) {
	bad := digest.DefaultTemplates()
	bad.File = digest.Template{digest.FieldLinkTarget}
	_, err := New(&memSink{}, WithTemplates(bad))
	assert.ErrorIs(t, err, digest.ErrFieldUnavailable)

	_, err = New(&memSink{}, WithExclude("[unclosed"))
	assert.Error(t, err)
}

func TestProgressCallback(t *testing.T) {
	var calls int
	var last Stats
	walk(t, buildNested(t), WithProgress(func(s Stats) {
		calls++
		last = s
	}))
	assert.Equal(t, 5, calls)
	assert.Equal(t, int64(5), last.Dirs)
	assert.Equal(t, int64(4), last.Files)
}
