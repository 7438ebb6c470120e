package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogListGet(t *testing.T) {
	j, err := New(filepath.Join(t.TempDir(), "history"))
	require.NoError(t, err)

	empty, err := j.List(0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first, err := j.Log(Entry{Stage: "scan", Status: StatusCompleted, Timestamp: base,
		Summary: map[string]int64{"files": 3}})
	require.NoError(t, err)
	second, err := j.Log(Entry{Stage: "analyze", Status: StatusSkipped, Reason: "outputs exist",
		Timestamp: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	all, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "analyze", all[0].Stage)
	assert.Equal(t, "scan", all[1].Stage)

	limited, err := j.List(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	got, err := j.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Summary["files"])

	_, err = j.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = j.Get("")
	assert.Error(t, err)
}

func TestIgnoresUnparseableFiles(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.json"), []byte("{"), 0o644))

	_, err = j.Log(Entry{Stage: "scan", Status: StatusCompleted})
	require.NoError(t, err)

	all, err := j.List(0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCleanup(t *testing.T) {
	j, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = j.Log(Entry{Stage: "scan", Timestamp: time.Now().Add(-48 * time.Hour)})
	require.NoError(t, err)
	recent, err := j.Log(Entry{Stage: "scan"})
	require.NoError(t, err)

	removed, err := j.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	all, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, recent.ID, all[0].ID)
}

func TestNewRejectsEmptyDir(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
