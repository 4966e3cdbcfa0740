//go:build windows

package transport

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func setSockopt(c syscall.RawConn, opt int) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, opt, 1)
	})
	if err != nil {
		return err
	}

	return sockErr
}

func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	return setSockopt(c, windows.SO_REUSEADDR)
}

func broadcastControl(_, _ string, c syscall.RawConn) error {
	return setSockopt(c, windows.SO_BROADCAST)
}
