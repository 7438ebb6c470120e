//go:build !linux && !darwin

package metadata

import (
	"io/fs"
	"os"
)

type osReader struct{}

func newOSReader() *osReader {
	return &osReader{}
}

// Lstat falls back to os.Lstat; ownership is reported as "unknown" and the
// mode is synthesized from the Go file mode.
func (r *osReader) Lstat(path string) (Info, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Mode:  uint32(fi.Mode().Perm()),
		Size:  fi.Size(),
		Mtime: fi.ModTime().Unix(),
		Owner: "unknown",
		Group: "unknown",
	}

	switch {
	case fi.Mode().IsRegular():
		info.Kind = KindFile
		info.Mode |= 0o100000
	case fi.IsDir():
		info.Kind = KindDir
		info.Mode |= 0o040000
	case fi.Mode()&fs.ModeSymlink != 0:
		info.Kind = KindSymlink
		info.Mode |= 0o120000
		target, err := os.Readlink(path)
		if err != nil {
			return Info{}, err
		}
		info.LinkTarget = target
	default:
		info.Kind = KindOther
	}

	return info, nil
}
