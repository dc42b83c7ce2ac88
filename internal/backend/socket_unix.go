//go:build unix

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking raw-socket backend transport for Linux/BSD/Darwin, grounded
// on the teacher's internal/transport/transport_linux.go SendmsgBuffers/
// SetsockoptInt idiom, generalized to a connecting client socket instead of
// an accepted server socket.

package backend

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

type unixSocket struct {
	fd       int
	connDone bool
}

func resolveSockaddr(network, host, port string) (unix.Sockaddr, int, error) {
	addr := net.JoinHostPort(host, port)
	if network == "udp" {
		ua, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, 0, fmt.Errorf("resolve udp address: %w", err)
		}
		return sockaddrFromIP(ua.IP, ua.Port)
	}
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve tcp address: %w", err)
	}
	return sockaddrFromIP(ta.IP, ta.Port)
}

func sockaddrFromIP(ip net.IP, port int) (unix.Sockaddr, int, error) {
	if ip4 := ip.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], ip4)
		return &sa, unix.AF_INET, nil
	}
	ip6 := ip.To16()
	if ip6 == nil {
		return nil, 0, fmt.Errorf("unsupported address family for %v", ip)
	}
	var sa unix.SockaddrInet6
	sa.Port = port
	copy(sa.Addr[:], ip6)
	return &sa, unix.AF_INET6, nil
}

func newSocket(network, host, port string) (socket, error) {
	sa, family, err := resolveSockaddr(network, host, port)
	if err != nil {
		return nil, err
	}

	sotype := unix.SOCK_STREAM
	proto := unix.IPPROTO_TCP
	if network == "udp" {
		sotype = unix.SOCK_DGRAM
		proto = unix.IPPROTO_UDP
	}

	fd, err := unix.Socket(family, sotype|unix.SOCK_NONBLOCK, proto)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	s := &unixSocket{fd: fd}

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err == nil {
		s.connDone = true
	}
	return s, nil
}

func (s *unixSocket) Pollable() bool { return true }
func (s *unixSocket) Fd() uintptr    { return uintptr(s.fd) }

func (s *unixSocket) PollConnect() (bool, error) {
	if s.connDone {
		return true, nil
	}
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return true, fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}
	if errno != 0 {
		return true, fmt.Errorf("connect failed: errno %d", errno)
	}
	s.connDone = true
	return true, nil
}

func (s *unixSocket) Read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (s *unixSocket) Write(p []byte) (int, error) {
	n, err := unix.Write(s.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (s *unixSocket) SetCork(enable bool) error {
	val := 0
	if enable {
		val = 1
	}
	if err := setCorkPlatform(s.fd, val); err != nil {
		return fmt.Errorf("setsockopt cork: %w", err)
	}
	return nil
}

func (s *unixSocket) Close() error {
	return unix.Close(s.fd)
}
