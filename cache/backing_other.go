//go:build !linux

package cache

import (
	"fmt"
	"runtime"
)

func newSharedBacking(string, []byte) (backing, error) {
	return backing{}, fmt.Errorf("shared memory segments are not supported on %s", runtime.GOOS)
}

func unmapShared([]byte) error {
	return nil
}
