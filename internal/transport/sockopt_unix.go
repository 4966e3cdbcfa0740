//go:build !windows

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func setSockopt(c syscall.RawConn, opt int) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, 1)
	})
	if err != nil {
		return err
	}

	return sockErr
}

func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	return setSockopt(c, unix.SO_REUSEADDR)
}

func broadcastControl(_, _ string, c syscall.RawConn) error {
	return setSockopt(c, unix.SO_BROADCAST)
}
