package record

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
)

var (
	// ErrMissingManifest is returned when a stream does not start with a manifest.
	ErrMissingManifest = errors.New("scan stream does not start with a manifest")

	// ErrUnmatchedFinal is returned for a final Dir record whose path does
	// not close the innermost open directory.
	ErrUnmatchedFinal = errors.New("final directory record without matching initial")

	// ErrIncompleteScan is returned when a stream ends with open directories.
	ErrIncompleteScan = errors.New("scan stream is incomplete")
)

// Cursor walks a stream while tracking the bracket structure. It attaches
// full paths to file, symlink and unknown records.
type Cursor struct {
	src      Source
	manifest *Manifest
	open     []*Dir
	closed   bool
	last     *Dir
}

// NewCursor returns a Cursor reading from src.
func NewCursor(src Source) *Cursor {
	return &Cursor{src: src}
}

// Manifest returns the manifest once the first record has been read.
func (c *Cursor) Manifest() *Manifest { return c.manifest }

// Depth returns the number of open directories.
func (c *Cursor) Depth() int { return len(c.open) }

// Parent returns the innermost open directory, or nil.
func (c *Cursor) Parent() *Dir {
	if len(c.open) == 0 {
		return nil
	}
	return c.open[len(c.open)-1]
}

// Root returns the final record of the outermost directory once the stream
// has been read to the end.
func (c *Cursor) Root() *Dir {
	if !c.closed {
		return nil
	}
	return c.last
}

// Next returns the next record, including the manifest. It returns io.EOF
// only after the outermost directory has been closed.
func (c *Cursor) Next() (Record, error) {
	r, err := c.src.Next()
	if errors.Is(err, io.EOF) {
		switch {
		case c.manifest == nil:
			return nil, ErrMissingManifest
		case len(c.open) > 0 || !c.closed:
			return nil, fmt.Errorf("%w: %d open directories", ErrIncompleteScan, len(c.open))
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}

	if c.manifest == nil {
		m, ok := r.(*Manifest)
		if !ok {
			return nil, fmt.Errorf("%w: got %s", ErrMissingManifest, r.Type())
		}
		c.manifest = m
		return m, nil
	}

	switch r := r.(type) {
	case *Manifest:
		return nil, fmt.Errorf("%w: duplicate manifest", ErrMalformed)
	case *Dir:
		if r.Initial() {
			if c.closed {
				return nil, fmt.Errorf("%w: directory %s after scan root closed", ErrMalformed, r.Path)
			}
			c.open = append(c.open, r)
			return r, nil
		}
		top := c.Parent()
		if top == nil || top.Path != r.Path {
			return nil, fmt.Errorf("%w: %s", ErrUnmatchedFinal, r.Path)
		}
		c.open = c.open[:len(c.open)-1]
		c.last = r
		if len(c.open) == 0 {
			c.closed = true
		}
		return r, nil
	case *File:
		parent, err := c.entryParent(r.Name)
		if err != nil {
			return nil, err
		}
		r.Path = filepath.Join(parent.Path, r.Name)
	case *Symlink:
		parent, err := c.entryParent(r.Name)
		if err != nil {
			return nil, err
		}
		r.Path = filepath.Join(parent.Path, r.Name)
	case *Unknown:
		parent, err := c.entryParent(r.Name)
		if err != nil {
			return nil, err
		}
		r.Path = filepath.Join(parent.Path, r.Name)
	}
	return r, nil
}

func (c *Cursor) entryParent(name string) (*Dir, error) {
	p := c.Parent()
	if p == nil {
		return nil, fmt.Errorf("%w: entry %q outside any directory", ErrMalformed, name)
	}
	return p, nil
}

// Each calls fn for every record after the manifest until the stream ends.
func (c *Cursor) Each(fn func(Record) error) error {
	for {
		r, err := c.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, ok := r.(*Manifest); ok {
			continue
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}
