// Package metadata reads the POSIX attributes of a single filesystem entry:
// kind, raw mode bits, size, modification time, owner and group names, and
// the target of a symbolic link. It never follows links.
package metadata

import (
	"errors"
	"os"
	"strconv"
)

// Kind classifies a filesystem entry.
type Kind uint8

const (
	KindOther Kind = iota
	KindFile
	KindDir
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		return "other"
	}
}

// Info holds the attributes captured for one entry.
type Info struct {
	Kind Kind

	// Mode is the raw st_mode, type bits included.
	Mode uint32

	Size  int64
	Mtime int64 // Unix seconds

	Owner string
	Group string

	// LinkTarget is set for symlinks only.
	LinkTarget string
}

// ModeString renders Mode in octal, e.g. "100644".
func (i Info) ModeString() string {
	return strconv.FormatUint(uint64(i.Mode), 8)
}

// Reader reads entry attributes. Implementations must not follow symlinks.
type Reader interface {
	Lstat(path string) (Info, error)
}

// IsVanished reports whether err means the entry no longer exists.
func IsVanished(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// NewReader returns the platform reader. Owner and group lookups are cached
// for the lifetime of the reader.
func NewReader() Reader {
	return newOSReader()
}
