package metadata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_Kinds(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file1.txt")
	require.NoError(t, os.WriteFile(file, []byte("abc"), 0o640))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink("file1.txt", link))
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	r := NewReader()

	fi, err := r.Lstat(file)
	require.NoError(t, err)
	assert.Equal(t, KindFile, fi.Kind)
	assert.Equal(t, int64(3), fi.Size)
	assert.True(t, strings.HasPrefix(fi.ModeString(), "100"), "mode %s", fi.ModeString())
	assert.NotEmpty(t, fi.Owner)
	assert.NotEmpty(t, fi.Group)
	assert.NotZero(t, fi.Mtime)

	li, err := r.Lstat(link)
	require.NoError(t, err)
	assert.Equal(t, KindSymlink, li.Kind)
	assert.Equal(t, "file1.txt", li.LinkTarget)

	di, err := r.Lstat(sub)
	require.NoError(t, err)
	assert.Equal(t, KindDir, di.Kind)
	assert.Empty(t, di.LinkTarget)
}

func TestReader_Vanished(t *testing.T) {
	_, err := NewReader().Lstat(filepath.Join(t.TempDir(), "gone"))
	require.Error(t, err)
	assert.True(t, IsVanished(err))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "file", KindFile.String())
	assert.Equal(t, "dir", KindDir.String())
	assert.Equal(t, "symlink", KindSymlink.String())
	assert.Equal(t, "other", KindOther.String())
}
