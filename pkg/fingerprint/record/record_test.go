package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/digest"
)

func sampleStream() []Record {
	return []Record{
		&Manifest{
			ScanID:    "0b6c1c8e-3c1f-4a36-9d4f-0d3f0e0c5a11",
			Host:      "host",
			Root:      "/data",
			StartedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			Templates: digest.DefaultTemplates(),
		},
		&Dir{Phase: PhaseInitial, Path: "/data", Name: "data", Mode: "40755", Mtime: 10, Owner: "root", Group: "root"},
		&Symlink{Name: "link", LinkTarget: "file1.txt", Mode: "120777", Mtime: 11, Owner: "root", Group: "root", MetaHash: "aa"},
		&File{Name: "file1.txt", Size: 3, Mode: "100644", Mtime: 12, Owner: "root", Group: "root", SHA256: "bb", MetaHash: "cc"},
		&Unknown{Name: "fifo", Reason: "unsupported file type"},
		&Dir{Phase: PhaseInitial, Path: "/data/sub", Name: "sub", Mode: "40755", Mtime: 13, Owner: "root", Group: "root"},
		&Dir{Phase: PhaseFinal, Path: "/data/sub", Name: "sub", Mode: "40755", Mtime: 13, Owner: "root", Group: "root",
			Rollup: &Rollup{}},
		&Dir{Phase: PhaseFinal, Path: "/data", Name: "data", Mode: "40755", Mtime: 10, Owner: "root", Group: "root",
			Rollup: &Rollup{ContentSize: 3, SymlinkCount: 1, DirCount: 1, FileCount: 1, MaxDepth: 1,
				ContentHashes: []string{"x", "bb", "y"}, MetaHashes: []string{"aa", "cc", "z"},
				ContentHash: "h1", MetaHash: "h2"}},
	}
}

func encode(t *testing.T, recs []Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, r := range recs {
		require.NoError(t, w.Append(r))
	}
	require.NoError(t, w.Flush())
	assert.Equal(t, len(recs), w.Count())
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	recs := sampleStream()
	r := NewReader(bytes.NewReader(encode(t, recs)))

	for i, want := range recs {
		assert.False(t, r.EOF(), "EOF before record %d", i)
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.True(t, r.EOF())

	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFraming(t *testing.T) {
	data := encode(t, []Record{&Unknown{Name: "x"}})
	size := binary.BigEndian.Uint32(data[:4])
	require.Equal(t, len(data)-4, int(size))
	assert.JSONEq(t, `{"type":"unknown","name":"x"}`, string(data[4:]))
}

func TestTruncatedFrames(t *testing.T) {
	data := encode(t, []Record{&Unknown{Name: "x"}, &Unknown{Name: "y"}})
	frame := len(data) / 2

	tests := []struct {
		name string
		cut  int
	}{
		{name: "short prefix", cut: frame + 2},
		{name: "short payload", cut: len(data) - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(bytes.NewReader(data[:tt.cut]))
			_, err := r.Next()
			require.NoError(t, err)
			_, err = r.Next()
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		})
	}
}

func TestFrameTooLarge(t *testing.T) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxFrameSize+1)
	_, err := NewReader(bytes.NewReader(prefix[:])).Next()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestMalformedPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: "{"},
		{name: "unknown type", payload: `{"type":"socket"}`},
		{name: "bad phase", payload: `{"type":"dir","phase":"middle"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.payload))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestCreateRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.fpr")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(&Unknown{Name: "x"}))
	require.NoError(t, w.Close())

	_, err = Create(path)
	assert.ErrorIs(t, err, os.ErrExist)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, &Unknown{Name: "x"}, got)
}

type sliceSource struct {
	recs []Record
}

func (s *sliceSource) Next() (Record, error) {
	if len(s.recs) == 0 {
		return nil, io.EOF
	}
	r := s.recs[0]
	s.recs = s.recs[1:]
	return r, nil
}

func TestCursorAttachesPaths(t *testing.T) {
	c := NewCursor(&sliceSource{recs: sampleStream()})

	var paths []string
	err := c.Each(func(r Record) error {
		switch r := r.(type) {
		case *File:
			paths = append(paths, r.Path)
		case *Symlink:
			paths = append(paths, r.Path)
		case *Unknown:
			paths = append(paths, r.Path)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/link", "/data/file1.txt", "/data/fifo"}, paths)
	require.NotNil(t, c.Manifest())
	require.NotNil(t, c.Root())
	assert.Equal(t, "/data", c.Root().Path)
	assert.Equal(t, 0, c.Depth())
}

func TestCursorStructuralErrors(t *testing.T) {
	full := sampleStream()

	tests := []struct {
		name string
		recs []Record
		want error
	}{
		{name: "empty", recs: nil, want: ErrMissingManifest},
		{name: "no manifest", recs: full[1:], want: ErrMissingManifest},
		{name: "incomplete", recs: full[:len(full)-1], want: ErrIncompleteScan},
		{name: "manifest only", recs: full[:1], want: ErrIncompleteScan},
		{
			name: "unmatched final",
			recs: []Record{full[0], full[1], &Dir{Phase: PhaseFinal, Path: "/other", Rollup: &Rollup{}}},
			want: ErrUnmatchedFinal,
		},
		{name: "entry outside directory", recs: []Record{full[0], &File{Name: "f"}}, want: ErrMalformed},
		{name: "duplicate manifest", recs: []Record{full[0], full[0]}, want: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCursor(&sliceSource{recs: append([]Record(nil), tt.recs...)})
			err := c.Each(func(Record) error { return nil })
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCursorCallbackError(t *testing.T) {
	stop := errors.New("stop")
	c := NewCursor(&sliceSource{recs: sampleStream()})
	err := c.Each(func(Record) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestFieldSources(t *testing.T) {
	full := sampleStream()
	root := full[len(full)-1].(*Dir)

	v, ok := root.Field(digest.FieldMetaHashes)
	require.True(t, ok)
	assert.Equal(t, "aa+cc+z", v)

	v, ok = root.Field(digest.FieldSize)
	require.True(t, ok)
	assert.Equal(t, "3", v)

	_, ok = full[1].(*Dir).Field(digest.FieldContentHash)
	assert.False(t, ok)

	file := &File{Name: "f", Size: 3, Mtime: 7}
	v, ok = file.Field(digest.FieldMtime)
	require.True(t, ok)
	assert.Equal(t, "7", v)
	_, ok = file.Field(digest.FieldSHA256)
	assert.False(t, ok)
	_, ok = file.Field(digest.FieldLinkTarget)
	assert.False(t, ok)
}
