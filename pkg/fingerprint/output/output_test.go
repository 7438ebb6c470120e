package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/filedupes"
)

const (
	sumA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	sumB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func sampleResult() *Result {
	return FromGroups(KindFiles, map[int64]map[string][]string{
		1024: {sumB: {"/data/b1", "/data/b2"}},
		4096: {
			sumA: {"/data/a1", "/data/a2", "/data/a3"},
			sumB: {"/data/c1", "/data/c2"},
		},
	})
}

func TestFromGroups(t *testing.T) {
	r := sampleResult()

	require.Len(t, r.Groups, 3)
	assert.Equal(t, int64(4096), r.Groups[0].Size)
	assert.Equal(t, sumA, r.Groups[0].Digest)
	assert.Equal(t, sumB, r.Groups[1].Digest)
	assert.Equal(t, int64(1024), r.Groups[2].Size)

	assert.Equal(t, int64(8192), r.Groups[0].RedundantBytes)
	assert.Equal(t, "4.0 KiB", r.Groups[0].SizeHuman)
	assert.Equal(t, Summary{Groups: 3, RedundantCount: 4, RedundantBytes: 8192 + 4096 + 1024}, r.Summary)
}

func TestFromReport(t *testing.T) {
	rep := filedupes.BuildReport(filedupes.Groups{
		10: {sumA: {"/x", "/y"}},
	})
	r := FromReport(rep)
	assert.Equal(t, KindFiles, r.Kind)
	require.Len(t, r.Groups, 1)
	assert.Equal(t, []string{"/x", "/y"}, r.Groups[0].Paths)
	assert.Equal(t, int64(10), r.Summary.RedundantBytes)
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"csv", "json", "jsonl", "plain", "pretty", "yaml"}, Available())

	_, err := Get("xml")
	assert.Error(t, err)

	reg := NewRegistry()
	reg.Register("plain", func() Formatter { return &PlainFormatter{} })
	f, err := reg.Get("plain")
	require.NoError(t, err)
	assert.IsType(t, &PlainFormatter{}, f)
}

func TestPrettyFormatter(t *testing.T) {
	var buf bytes.Buffer
	r := sampleResult()
	r.Source = "/data"
	r.Warnings = []string{"2 files unreadable"}
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, r))

	out := buf.String()
	assert.Contains(t, out, "/data/a3")
	assert.Contains(t, out, "4.0 KiB")
	assert.Contains(t, out, sumA[:digestWidth])
	assert.NotContains(t, out, sumA)
	assert.Contains(t, out, "Duplicate files")
	assert.Contains(t, out, "2 files unreadable")
}

func TestPrettyFormatter_Empty(t *testing.T) {
	var buf bytes.Buffer
	r := FromGroups(KindDirs, nil)
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, r))

	assert.Contains(t, buf.String(), "No duplicates found")
	assert.Contains(t, buf.String(), "Duplicate directories")
}

func TestPlainFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).Format(&buf, sampleResult()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 8)
	assert.True(t, strings.HasPrefix(lines[0], "SIZE"))
	assert.Contains(t, lines[1], "/data/a1")
	assert.Contains(t, lines[7], "/data/b2")
}

func TestCSVFormatter(t *testing.T) {
	var buf bytes.Buffer
	r := FromGroups(KindFiles, map[int64]map[string][]string{
		5: {sumA: {"/with,comma", "/plain"}},
	})
	require.NoError(t, (&CSVFormatter{}).Format(&buf, r))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"size", "digest", "path"},
		{"5", sumA, "/with,comma"},
		{"5", sumA, "/plain"},
	}, rows)
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).Format(&buf, sampleResult()))

	var got Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, *sampleResult(), got)
}

func TestJSONLFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONLFormatter{}).Format(&buf, sampleResult()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	var g Group
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &g))
	assert.Equal(t, int64(1024), g.Size)
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&YAMLFormatter{}).Format(&buf, sampleResult()))

	assert.Contains(t, buf.String(), "kind: files")
	var got Result
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, *sampleResult(), got)
}
