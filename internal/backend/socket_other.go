//go:build !unix

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Portable backend transport for platforms without a raw non-blocking
// socket implementation wired up here (Windows and anything else). Dials
// in a background goroutine and exposes completion through a channel
// polled from Client.Tick, since there is no Fd() to register with the
// reactor.

package backend

import (
	"fmt"
	"net"
	"time"
)

type otherSocket struct {
	conn    net.Conn
	done    chan error
	dialing bool
}

func newSocket(network, host, port string) (socket, error) {
	addr := net.JoinHostPort(host, port)
	s := &otherSocket{done: make(chan error, 1), dialing: true}
	go func() {
		conn, err := net.DialTimeout(network, addr, DefaultConnectTimeout)
		if err == nil {
			s.conn = conn
		}
		s.done <- err
	}()
	return s, nil
}

func (s *otherSocket) Pollable() bool { return false }
func (s *otherSocket) Fd() uintptr    { return 0 }

func (s *otherSocket) PollConnect() (bool, error) {
	if !s.dialing {
		return true, nil
	}
	select {
	case err := <-s.done:
		s.dialing = false
		if err != nil {
			return true, fmt.Errorf("dial: %w", err)
		}
		return true, nil
	default:
		return false, nil
	}
}

func (s *otherSocket) Read(p []byte) (int, error) {
	if s.conn == nil {
		return 0, errWouldBlock
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, err := s.conn.Read(p)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, errWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (s *otherSocket) Write(p []byte) (int, error) {
	if s.conn == nil {
		return 0, errWouldBlock
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Millisecond))
	n, err := s.conn.Write(p)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, errWouldBlock
		}
		return n, err
	}
	return n, nil
}

// SetCork is a no-op on the portable fallback; TCP_CORK has no portable
// equivalent reachable through the standard net package.
func (s *otherSocket) SetCork(enable bool) error { return nil }

func (s *otherSocket) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
