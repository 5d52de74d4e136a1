//go:build !windows

package network

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// applyReuseAddr sets SO_REUSEADDR on the raw socket, generalizing the
// teacher's no-op TFO Control stub into a real socket option.
func applyReuseAddr(c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
