//go:build darwin

package metadata

import "golang.org/x/sys/unix"

// Darwin names the field Mtimespec.
func mtimeSec(st *unix.Stat_t) int64 {
	return st.Mtimespec.Sec
}
