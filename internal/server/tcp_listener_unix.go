//go:build unix

package server

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// unixListener owns a non-blocking listening socket, reusable across
// address families; SO_REUSEADDR and a 128-entry backlog mirror
// tcplistener_create's setup.
type unixListener struct {
	fd int
}

const listenBacklog = 128

func newListener(bind string) (*unixListener, error) {
	host, portStr, err := net.SplitHostPort(bind)
	if err != nil {
		return nil, fmt.Errorf("server: invalid bind address %q: %w", bind, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("server: invalid port in %q: %w", bind, err)
	}

	ip, err := resolveBindIP(host)
	if err != nil {
		return nil, err
	}

	family := unix.AF_INET
	if ip.To4() == nil {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("server: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("server: SO_REUSEADDR: %w", err)
	}

	if family == unix.AF_INET {
		var sa unix.SockaddrInet4
		copy(sa.Addr[:], ip.To4())
		sa.Port = port
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("server: bind %s: %w", bind, err)
		}
	} else {
		var sa unix.SockaddrInet6
		copy(sa.Addr[:], ip.To16())
		sa.Port = port
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("server: bind %s: %w", bind, err)
		}
	}

	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("server: listen %s: %w", bind, err)
	}

	return &unixListener{fd: fd}, nil
}

func resolveBindIP(host string) (net.IP, error) {
	if host == "" || host == "*" {
		return net.IPv4zero, nil
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("server: resolving %q: %w", host, err)
	}
	return ips[0], nil
}

func (l *unixListener) Fd() uintptr    { return uintptr(l.fd) }
func (l *unixListener) Pollable() bool { return true }

// Accept takes one pending connection with a non-blocking accept4,
// returning errWouldBlock once EAGAIN is hit; TCPServer.acceptAll calls
// it in a loop to drain the backlog.
func (l *unixListener) Accept() (conn, error) {
	connFd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, errWouldBlock
		}
		return nil, err
	}
	return &unixConn{fd: connFd}, nil
}

func (l *unixListener) Close() error {
	return unix.Close(l.fd)
}
