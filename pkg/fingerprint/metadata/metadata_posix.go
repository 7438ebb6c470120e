//go:build linux || darwin

package metadata

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
)

type osReader struct {
	mu     sync.Mutex
	users  map[uint32]string
	groups map[uint32]string
}

func newOSReader() *osReader {
	return &osReader{
		users:  make(map[uint32]string),
		groups: make(map[uint32]string),
	}
}

// Lstat reads the entry with lstat(2) and resolves uid/gid to names,
// falling back to the numeric id when no name exists.
func (r *osReader) Lstat(path string) (Info, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return Info{}, &os.PathError{Op: "lstat", Path: path, Err: err}
	}

	info := Info{
		Mode:  uint32(st.Mode),
		Size:  st.Size,
		Mtime: mtimeSec(&st),
		Owner: r.owner(st.Uid),
		Group: r.group(st.Gid),
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG:
		info.Kind = KindFile
	case unix.S_IFDIR:
		info.Kind = KindDir
	case unix.S_IFLNK:
		info.Kind = KindSymlink
		target, err := os.Readlink(path)
		if err != nil {
			return Info{}, fmt.Errorf("readlink %s: %w", path, err)
		}
		info.LinkTarget = target
	default:
		info.Kind = KindOther
	}

	return info, nil
}

func (r *osReader) owner(uid uint32) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name, ok := r.users[uid]; ok {
		return name
	}
	id := strconv.FormatUint(uint64(uid), 10)
	name := id
	if u, err := user.LookupId(id); err == nil {
		name = u.Username
	}
	r.users[uid] = name
	return name
}

func (r *osReader) group(gid uint32) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name, ok := r.groups[gid]; ok {
		return name
	}
	id := strconv.FormatUint(uint64(gid), 10)
	name := id
	if g, err := user.LookupGroupId(id); err == nil {
		name = g.Name
	}
	r.groups[gid] = name
	return name
}
