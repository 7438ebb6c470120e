package record

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// MaxFrameSize bounds a single payload.
const MaxFrameSize = 64 << 20

const prefixSize = 4

var (
	// ErrFrameTooLarge is returned for a length prefix above MaxFrameSize.
	ErrFrameTooLarge = errors.New("record frame too large")

	// ErrMalformed is returned for a payload that is not a valid record.
	ErrMalformed = errors.New("malformed record")
)

// Marshal encodes r as a JSON object with a "type" discriminator.
func Marshal(r Record) ([]byte, error) {
	var v any
	switch r := r.(type) {
	case *Manifest:
		v = struct {
			Type Type `json:"type"`
			*Manifest
		}{TypeManifest, r}
	case *Dir:
		v = struct {
			Type Type `json:"type"`
			*Dir
		}{TypeDir, r}
	case *File:
		v = struct {
			Type Type `json:"type"`
			*File
		}{TypeFile, r}
	case *Symlink:
		v = struct {
			Type Type `json:"type"`
			*Symlink
		}{TypeSymlink, r}
	case *Unknown:
		v = struct {
			Type Type `json:"type"`
			*Unknown
		}{TypeUnknown, r}
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrMalformed, r)
	}
	return json.Marshal(v)
}

// Unmarshal decodes a payload produced by Marshal.
func Unmarshal(data []byte) (Record, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var r Record
	switch head.Type {
	case TypeManifest:
		r = &Manifest{}
	case TypeDir:
		r = &Dir{}
	case TypeFile:
		r = &File{}
	case TypeSymlink:
		r = &Symlink{}
	case TypeUnknown:
		r = &Unknown{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, head.Type)
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if d, ok := r.(*Dir); ok && d.Phase != PhaseInitial && d.Phase != PhaseFinal {
		return nil, fmt.Errorf("%w: dir phase %q", ErrMalformed, d.Phase)
	}
	return r, nil
}

// Writer appends length-prefixed records to an underlying stream.
type Writer struct {
	w      *bufio.Writer
	closer io.Closer
	count  int
}

// NewWriter returns a Writer over w. Close closes w when it is an io.Closer.
func NewWriter(w io.Writer) *Writer {
	wr := &Writer{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		wr.closer = c
	}
	return wr
}

// Create opens a new stream file at path. It fails if path exists.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return NewWriter(f), nil
}

// Append writes one framed record.
func (w *Writer) Append(r Record) error {
	payload, err := Marshal(r)
	if err != nil {
		return err
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	var prefix [prefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.w.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(payload); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of records appended.
func (w *Writer) Count() int { return w.count }

// Flush writes buffered frames to the underlying stream.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Close flushes and closes the underlying stream.
func (w *Writer) Close() error {
	err := w.w.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Source yields records in stream order.
type Source interface {
	Next() (Record, error)
}

// Reader decodes records written by a Writer.
type Reader struct {
	r      *bufio.Reader
	closer io.Closer
	buf    []byte
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	rd := &Reader{r: bufio.NewReader(r)}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}
	return rd
}

// Open opens the stream file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewReader(f), nil
}

// Next returns the next record. It returns io.EOF at a clean frame boundary
// and io.ErrUnexpectedEOF when the stream ends inside a frame.
func (r *Reader) Next() (Record, error) {
	var prefix [prefixSize]byte
	if _, err := io.ReadFull(r.r, prefix[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	if cap(r.buf) < int(size) {
		r.buf = make([]byte, size)
	}
	payload := r.buf[:size]
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return Unmarshal(payload)
}

// EOF reports whether the stream has no further bytes.
func (r *Reader) EOF() bool {
	_, err := r.r.Peek(1)
	return err != nil
}

// Close closes the underlying stream when it is an io.Closer.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
