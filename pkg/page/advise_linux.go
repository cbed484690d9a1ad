//go:build linux

package page

import (
	"os"

	"golang.org/x/sys/unix"
)

func adviseSequential(f *os.File, data []byte) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
}
