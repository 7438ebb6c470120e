package artifact

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Sizes map[int64]int64 `json:"sizes"`
}

func TestWriteReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "analysis.json")
	in := sample{Sizes: map[int64]int64{3: 2}}
	require.NoError(t, WriteJSON(path, in))

	var out sample
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteAllLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")

	err := WriteAll(
		File{Path: good, Value: sample{}},
		File{Path: bad, Value: math.Inf(1)},
	)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteAllKeepsExistingOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	require.NoError(t, WriteJSON(path, sample{Sizes: map[int64]int64{1: 1}}))

	require.Error(t, WriteJSON(path, make(chan int)))

	var out sample
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, map[int64]int64{1: 1}, out.Sizes)
}

func TestReadJSONMissing(t *testing.T) {
	var out sample
	err := ReadJSON(filepath.Join(t.TempDir(), "nope.json"), &out)
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestPreconditions(t *testing.T) {
	ws := Workspace{Dir: t.TempDir()}
	require.NoError(t, os.WriteFile(ws.Scan(), []byte("x"), 0o644))

	require.NoError(t, CheckInputs(ws.Scan()))
	assert.ErrorIs(t, CheckInputs(ws.Scan(), ws.Analysis()), ErrMissingInput)

	require.NoError(t, CheckOutputs(false, ws.Analysis()))
	assert.ErrorIs(t, CheckOutputs(false, ws.Analysis(), ws.Scan()), ErrOutputExists)
	require.NoError(t, CheckOutputs(true, ws.Scan()))
}

func TestWorkspacePaths(t *testing.T) {
	ws := Workspace{Dir: "/work"}
	assert.Equal(t, filepath.Join("/work", "scan.fpr"), ws.Scan())
	assert.Equal(t, filepath.Join("/work", "dupfiles-report.json"), ws.Report())
	assert.Equal(t, filepath.Join("/work", "scan.fpr.partial"), Partial(ws.Scan()))
}
