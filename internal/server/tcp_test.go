package server

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/statsrelay/internal/backend"
	"github.com/momentics/statsrelay/internal/hashring"
	"github.com/momentics/statsrelay/internal/ingress"
	"github.com/momentics/statsrelay/internal/ringbuf"
)

// fakeConn is an in-memory conn used to drive TCPServer's session pump
// without a real socket.
type fakeConn struct {
	mu     sync.Mutex
	toRead [][]byte
	writes [][]byte
	closed bool
}

func (c *fakeConn) Fd() uintptr    { return 1 }
func (c *fakeConn) Pollable() bool { return false }

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.toRead) == 0 {
		return 0, errWouldBlock
	}
	n := copy(p, c.toRead[0])
	c.toRead[0] = c.toRead[0][n:]
	if len(c.toRead[0]) == 0 {
		c.toRead = c.toRead[1:]
	}
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte{}, p...))
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func newTestPipeline(t *testing.T) *ingress.Pipeline {
	t.Helper()
	c := backend.New(nil, "b", "0", "udp", backend.DefaultConfig(), nil)
	r, err := hashring.New([]*backend.Client{c})
	if err != nil {
		t.Fatalf("hashring.New: %v", err)
	}
	return ingress.New(ingress.NewStatsdProtocol(true), r)
}

func TestPumpSessionRelaysCompleteLine(t *testing.T) {
	s := &TCPServer{pipeline: newTestPipeline(t), log: logrus.NewEntry(logrus.New()), sessions: map[uintptr]*session{}}
	fc := &fakeConn{toRead: [][]byte{[]byte("foo:1|c\n")}}
	sess := &session{c: fc, buf: ringbuf.New(initialSessionBufferCap)}

	s.pumpSession(sess)

	if fc.closed {
		t.Fatal("did not expect the session to be closed merely because the socket ran dry")
	}
	if sess.buf.DataCount() != 0 {
		t.Fatalf("expected the complete line to be consumed, %d bytes remain", sess.buf.DataCount())
	}
}

func TestPumpSessionWritesStatusResponse(t *testing.T) {
	called := false
	s := &TCPServer{
		pipeline: newTestPipeline(t),
		log:      logrus.NewEntry(logrus.New()),
		sessions: map[uintptr]*session{},
		renderStatus: func() []byte {
			called = true
			return []byte("global bytes_recv_udp counter 0\n\n")
		},
	}
	fc := &fakeConn{toRead: [][]byte{[]byte("status\n")}}
	sess := &session{c: fc, buf: ringbuf.New(initialSessionBufferCap)}

	s.pumpSession(sess)

	if !called {
		t.Fatal("expected renderStatus to be invoked for the status command")
	}
	if len(fc.writes) == 0 {
		t.Fatal("expected a status response to be written to the session")
	}
}

func TestPumpSessionClosesOnEOF(t *testing.T) {
	s := &TCPServer{pipeline: newTestPipeline(t), log: logrus.NewEntry(logrus.New()), sessions: map[uintptr]*session{}}
	fc := &fakeConn{toRead: [][]byte{{}}}
	sess := &session{c: fc, buf: ringbuf.New(initialSessionBufferCap)}

	s.pumpSession(sess)

	if !fc.closed {
		t.Fatal("expected zero-length read to close the session")
	}
}

func TestTickDrivesFallbackSessions(t *testing.T) {
	s := &TCPServer{pipeline: newTestPipeline(t), log: logrus.NewEntry(logrus.New()), sessions: map[uintptr]*session{}}
	fc := &fakeConn{toRead: [][]byte{[]byte("foo:1|c\n")}}
	sess := &session{c: fc, buf: ringbuf.New(initialSessionBufferCap)}
	s.fallback = append(s.fallback, sess)
	s.ln = &fakeListener{}

	s.Tick(time.Now())

	if fc.closed {
		t.Fatal("did not expect Tick to close a session that simply ran out of buffered data")
	}
	if sess.buf.DataCount() != 0 {
		t.Fatalf("expected Tick to drain the fallback session's buffered line, %d bytes remain", sess.buf.DataCount())
	}
}

type fakeListener struct{}

func (f *fakeListener) Fd() uintptr            { return 0 }
func (f *fakeListener) Pollable() bool         { return false }
func (f *fakeListener) Accept() (conn, error)  { return nil, errWouldBlock }
func (f *fakeListener) Close() error           { return nil }
