// Package record defines the entries of a scan stream and the codec that
// persists them.
//
// A stream starts with one Manifest, followed by a bracketed sequence: every
// directory is written as an initial Dir record, then the records of its
// children and descendants, then a final Dir record carrying the rollup.
package record

import (
	"strconv"
	"strings"
	"time"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/digest"
)

// Type is the discriminator written in every payload.
type Type string

const (
	TypeManifest Type = "manifest"
	TypeDir      Type = "dir"
	TypeFile     Type = "file"
	TypeSymlink  Type = "symlink"
	TypeUnknown  Type = "unknown"
)

// Record is one entry in a scan stream. It is implemented by *Manifest,
// *Dir, *File, *Symlink and *Unknown.
type Record interface {
	Type() Type
}

// Manifest is always the first record of a stream.
type Manifest struct {
	ScanID    string           `json:"scan_id"`
	Host      string           `json:"host"`
	Root      string           `json:"root"`
	StartedAt time.Time        `json:"started_at"`
	Quick     bool             `json:"quick"`
	Templates digest.Templates `json:"templates"`
	Version   string           `json:"version,omitempty"`
}

func (*Manifest) Type() Type { return TypeManifest }

// Phase distinguishes the two records written for a directory.
type Phase string

const (
	PhaseInitial Phase = "initial"
	PhaseFinal   Phase = "final"
)

// Rollup holds recursive statistics for a directory. The hash fields are
// empty for quick scans.
type Rollup struct {
	ContentSize   int64    `json:"content_size"`
	SymlinkCount  int64    `json:"symlink_count"`
	DirCount      int64    `json:"dir_count"`
	FileCount     int64    `json:"file_count"`
	MaxDepth      int      `json:"max_depth"`
	ContentHashes []string `json:"content_hashes,omitempty"`
	MetaHashes    []string `json:"meta_hashes,omitempty"`
	ContentHash   string   `json:"content_hash,omitempty"`
	MetaHash      string   `json:"meta_hash,omitempty"`
}

// Hashed reports whether the rollup carries digests.
func (r *Rollup) Hashed() bool {
	return r != nil && r.ContentHash != ""
}

// Dir is a directory record. Rollup is set only on the final phase.
type Dir struct {
	Phase  Phase   `json:"phase"`
	Path   string  `json:"path"`
	Name   string  `json:"name"`
	Mode   string  `json:"mode"`
	Mtime  int64   `json:"mtime"`
	Owner  string  `json:"owner"`
	Group  string  `json:"group"`
	Rollup *Rollup `json:"rollup,omitempty"`
}

func (*Dir) Type() Type { return TypeDir }

// Initial reports whether d opens a directory.
func (d *Dir) Initial() bool { return d.Phase == PhaseInitial }

// Final reports whether d closes a directory.
func (d *Dir) Final() bool { return d.Phase == PhaseFinal }

// Field implements digest.Source.
func (d *Dir) Field(f digest.Field) (string, bool) {
	switch f {
	case digest.FieldName:
		return d.Name, true
	case digest.FieldPath:
		return d.Path, true
	case digest.FieldMode:
		return d.Mode, true
	case digest.FieldOwner:
		return d.Owner, true
	case digest.FieldGroup:
		return d.Group, true
	case digest.FieldMtime:
		return strconv.FormatInt(d.Mtime, 10), true
	}
	if d.Rollup == nil {
		return "", false
	}
	switch f {
	case digest.FieldSize:
		return strconv.FormatInt(d.Rollup.ContentSize, 10), true
	case digest.FieldContentHash:
		return d.Rollup.ContentHash, d.Rollup.ContentHash != ""
	case digest.FieldContentHashes:
		return strings.Join(d.Rollup.ContentHashes, digest.Separator), true
	case digest.FieldMetaHashes:
		return strings.Join(d.Rollup.MetaHashes, digest.Separator), true
	}
	return "", false
}

// File is a regular file record. Path is not serialized; a Cursor fills it
// in from the enclosing directory.
type File struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Mode     string `json:"mode"`
	Mtime    int64  `json:"mtime"`
	Owner    string `json:"owner"`
	Group    string `json:"group"`
	SHA256   string `json:"sha256,omitempty"`
	MetaHash string `json:"meta_hash,omitempty"`

	Path string `json:"-"`
}

func (*File) Type() Type { return TypeFile }

// Field implements digest.Source.
func (f *File) Field(name digest.Field) (string, bool) {
	switch name {
	case digest.FieldName:
		return f.Name, true
	case digest.FieldPath:
		return f.Path, f.Path != ""
	case digest.FieldMode:
		return f.Mode, true
	case digest.FieldOwner:
		return f.Owner, true
	case digest.FieldGroup:
		return f.Group, true
	case digest.FieldMtime:
		return strconv.FormatInt(f.Mtime, 10), true
	case digest.FieldSize:
		return strconv.FormatInt(f.Size, 10), true
	case digest.FieldSHA256:
		return f.SHA256, f.SHA256 != ""
	}
	return "", false
}

// Symlink is a symbolic link record.
type Symlink struct {
	Name       string `json:"name"`
	LinkTarget string `json:"link_target"`
	Mode       string `json:"mode"`
	Mtime      int64  `json:"mtime"`
	Owner      string `json:"owner"`
	Group      string `json:"group"`
	MetaHash   string `json:"meta_hash,omitempty"`

	Path string `json:"-"`
}

func (*Symlink) Type() Type { return TypeSymlink }

// Field implements digest.Source.
func (s *Symlink) Field(f digest.Field) (string, bool) {
	switch f {
	case digest.FieldName:
		return s.Name, true
	case digest.FieldPath:
		return s.Path, s.Path != ""
	case digest.FieldMode:
		return s.Mode, true
	case digest.FieldOwner:
		return s.Owner, true
	case digest.FieldGroup:
		return s.Group, true
	case digest.FieldMtime:
		return strconv.FormatInt(s.Mtime, 10), true
	case digest.FieldLinkTarget:
		return s.LinkTarget, true
	}
	return "", false
}

// Unknown is an entry that vanished, could not be listed, or is neither a
// file, directory nor symlink.
type Unknown struct {
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`

	Path string `json:"-"`
}

func (*Unknown) Type() Type { return TypeUnknown }
