//go:build !linux

package page

import "os"

func adviseSequential(*os.File, []byte) {}
