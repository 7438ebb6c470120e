//go:build linux

package metadata

import "golang.org/x/sys/unix"

func mtimeSec(st *unix.Stat_t) int64 {
	return st.Mtim.Sec
}
