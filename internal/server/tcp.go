package server

import (
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/statsrelay/internal/ingress"
	"github.com/momentics/statsrelay/internal/reactor"
	"github.com/momentics/statsrelay/internal/ringbuf"
)

// listener is the platform-independent shape implemented by unixListener
// (unix.Accept4-driven, reactor-pollable) and otherListener (net.Listener
// plus a background accept goroutine).
type listener interface {
	Fd() uintptr
	Pollable() bool
	Accept() (conn, error)
	Close() error
}

// initialSessionBufferCap mirrors the reference buffer_init starting
// allocation before any growth.
const initialSessionBufferCap = 4096

// session is one accepted TCP connection: a conn plus its line-framing
// buffer and bookkeeping for the reactor or Tick-driven fallback path.
type session struct {
	c   conn
	buf *ringbuf.Buffer
}

// TCPServer accepts connections on one bound address and frames,
// validates and relays lines from each session via pipeline.
type TCPServer struct {
	mu sync.Mutex

	ln       listener
	r        reactor.Reactor
	pipeline *ingress.Pipeline
	log      *logrus.Entry

	sessions map[uintptr]*session // pollable sessions, keyed by fd
	fallback []*session           // non-pollable sessions, Tick-driven

	onBytes      func(n uint64)
	onConnection func()
	renderStatus func() []byte
}

// NewTCPServer binds bind and registers the listening socket with r
// (when pollable). onBytes/onConnection/renderStatus hook into the
// owning protocol server's counters and status command.
func NewTCPServer(bind string, r reactor.Reactor, pipeline *ingress.Pipeline, log *logrus.Entry,
	onBytes func(uint64), onConnection func(), renderStatus func() []byte) (*TCPServer, error) {

	ln, err := newListener(bind)
	if err != nil {
		return nil, err
	}

	s := &TCPServer{
		ln: ln, r: r, pipeline: pipeline, log: log,
		sessions:     make(map[uintptr]*session),
		onBytes:      onBytes,
		onConnection: onConnection,
		renderStatus: renderStatus,
	}

	if r != nil && ln.Pollable() {
		if err := r.Register(ln.Fd(), reactor.EventRead, s.onListenerReadable); err != nil {
			ln.Close()
			return nil, err
		}
	}
	return s, nil
}

// onListenerReadable drains every pending connection, registering each
// with the reactor (pollable path).
func (s *TCPServer) onListenerReadable(fd uintptr, events reactor.FDEventType) {
	s.acceptAll()
}

// Tick drives the portable fallback: polling the listener for new
// connections and every non-pollable session for available data.
func (s *TCPServer) Tick(now time.Time) {
	s.acceptAll()

	s.mu.Lock()
	fallback := make([]*session, len(s.fallback))
	copy(fallback, s.fallback)
	s.mu.Unlock()

	for _, sess := range fallback {
		s.pumpSession(sess)
	}
}

func (s *TCPServer) acceptAll() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		if s.onConnection != nil {
			s.onConnection()
		}
		sess := &session{c: c, buf: ringbuf.New(initialSessionBufferCap)}

		s.mu.Lock()
		if c.Pollable() {
			s.sessions[c.Fd()] = sess
		} else {
			s.fallback = append(s.fallback, sess)
		}
		s.mu.Unlock()

		if c.Pollable() && s.r != nil {
			if err := s.r.Register(c.Fd(), reactor.EventRead, s.makeSessionCallback(sess)); err != nil {
				s.closeSession(sess)
			}
		}
	}
}

func (s *TCPServer) makeSessionCallback(sess *session) reactor.FDCallback {
	return func(fd uintptr, events reactor.FDEventType) {
		s.pumpSession(sess)
	}
}

// pumpSession reads any available bytes into sess.buf, relays complete
// lines, and tears the session down on error or EOF.
func (s *TCPServer) pumpSession(sess *session) {
	for {
		if sess.buf.SpaceCount() == 0 {
			sess.buf.Realign()
			if sess.buf.SpaceCount() == 0 {
				if err := sess.buf.Expand(); err != nil {
					s.log.WithError(err).Warn("server: unable to expand session buffer")
					s.closeSession(sess)
					return
				}
			}
		}

		n, err := sess.c.Read(sess.buf.Tail())
		if err != nil {
			if err == errWouldBlock {
				break
			}
			if !isClosed(err) {
				s.log.WithError(err).Debug("server: session read error")
			}
			s.closeSession(sess)
			return
		}
		if n == 0 {
			s.closeSession(sess)
			return
		}
		if err := sess.buf.Produced(n); err != nil {
			s.log.WithError(err).Warn("server: buffer produced overflow")
			s.closeSession(sess)
			return
		}
		if s.onBytes != nil {
			s.onBytes(uint64(n))
		}

		if err := s.pipeline.ProcessBuffer(time.Now(), sess.buf, func() error {
			return s.writeStatus(sess)
		}); err != nil {
			s.log.WithError(err).Debug("server: closing session after relay error")
			s.closeSession(sess)
			return
		}
	}
}

// SetPipeline swaps the pipeline used to relay lines from every session,
// without disturbing any listener or open session. Used by a config
// reload to pick up a freshly rebuilt pool/ring while leaving connections
// in place.
func (s *TCPServer) SetPipeline(pipeline *ingress.Pipeline) {
	s.mu.Lock()
	s.pipeline = pipeline
	s.mu.Unlock()
}

func (s *TCPServer) writeStatus(sess *session) error {
	if s.renderStatus == nil {
		return nil
	}
	resp := s.renderStatus()
	for len(resp) > 0 {
		n, err := sess.c.Write(resp)
		if err != nil {
			if err == errWouldBlock {
				runtime.Gosched()
				continue
			}
			return err
		}
		resp = resp[n:]
	}
	return nil
}

func (s *TCPServer) closeSession(sess *session) {
	s.mu.Lock()
	if sess.c.Pollable() {
		delete(s.sessions, sess.c.Fd())
		if s.r != nil {
			_ = s.r.Unregister(sess.c.Fd())
		}
	} else {
		for i, fb := range s.fallback {
			if fb == sess {
				s.fallback = append(s.fallback[:i], s.fallback[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	sess.c.Close()
}

// Close tears down the listener and every active session.
func (s *TCPServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.c.Close()
	}
	for _, sess := range s.fallback {
		sess.c.Close()
	}
	s.ln.Close()
}
