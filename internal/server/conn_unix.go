//go:build unix

package server

import (
	"golang.org/x/sys/unix"
)

// unixConn wraps a non-blocking, already-accepted socket file descriptor.
type unixConn struct {
	fd int
}

func (c *unixConn) Fd() uintptr    { return uintptr(c.fd) }
func (c *unixConn) Pollable() bool { return true }

func (c *unixConn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (c *unixConn) Write(p []byte) (int, error) {
	n, err := unix.Write(c.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return n, errWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (c *unixConn) Close() error {
	return unix.Close(c.fd)
}
