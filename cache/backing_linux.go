//go:build linux

package cache

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func newSharedBacking(name string, data []byte) (backing, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return backing{}, fmt.Errorf("memfd_create: %w", err)
	}
	f := os.NewFile(uintptr(fd), "memfd:"+name)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return backing{}, fmt.Errorf("write memfd: %w", err)
	}

	region, err := unix.Mmap(fd, 0, len(data), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return backing{}, fmt.Errorf("mmap memfd: %w", err)
	}

	// sealing is best effort, readers only ever get a read only view anyway
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_WRITE|unix.F_SEAL_SEAL)

	return backing{kind: BackingSharedMemory, data: region, file: f}, nil
}

func unmapShared(region []byte) error {
	return unix.Munmap(region)
}
