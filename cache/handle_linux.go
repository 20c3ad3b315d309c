//go:build linux

package cache

import (
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// sendShared copies straight from the memfd to the socket. handled is false
// when w is not something sendfile can target.
func sendShared(w io.Writer, f *os.File, size int) (int64, bool, error) {
	tcp, ok := w.(*net.TCPConn)
	if !ok {
		return 0, false, nil
	}
	rawConn, err := tcp.SyscallConn()
	if err != nil {
		return 0, false, nil
	}

	inFd := int(f.Fd())
	var offset int64
	var sendErr error
	err = rawConn.Write(func(fd uintptr) bool {
		for offset < int64(size) {
			n, err := unix.Sendfile(int(fd), inFd, &offset, size-int(offset))
			if err == unix.EAGAIN {
				return false
			}
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				sendErr = err
				return true
			}
			if n == 0 {
				sendErr = io.ErrUnexpectedEOF
				return true
			}
		}
		return true
	})
	if err == nil {
		err = sendErr
	}
	if err != nil {
		return offset, true, fmt.Errorf("sendfile: %w", err)
	}
	return offset, true, nil
}
