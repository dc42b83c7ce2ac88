//go:build !unix

package server

import (
	"net"
	"time"
)

// otherConn wraps a net.Conn for platforms without a raw-fd reactor path.
// Reads and writes use a short deadline, translating timeout errors into
// errWouldBlock so the caller's poll loop treats it like a non-blocking
// socket; the session driving this conn is ticked rather than woken by
// reactor callbacks.
type otherConn struct {
	c net.Conn
}

func (c *otherConn) Fd() uintptr    { return 0 }
func (c *otherConn) Pollable() bool { return false }

func (c *otherConn) Read(p []byte) (int, error) {
	_ = c.c.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, err := c.c.Read(p)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, errWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (c *otherConn) Write(p []byte) (int, error) {
	_ = c.c.SetWriteDeadline(time.Now().Add(time.Millisecond))
	n, err := c.c.Write(p)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, errWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (c *otherConn) Close() error {
	return c.c.Close()
}
