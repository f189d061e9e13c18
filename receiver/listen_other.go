//go:build !linux

package receiver

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// SO_REUSEPORT distribution across processes is a Linux kernel feature; on
// other unix platforms the listener falls back to SO_REUSEADDR only (a
// single receiver process per port).
func reusePortControl(_ bool) func(network, address string, c syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
