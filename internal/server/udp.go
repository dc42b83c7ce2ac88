package server

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/statsrelay/internal/ingress"
	"github.com/momentics/statsrelay/internal/taskqueue"
)

// maxUDPDatagram bounds a single read, matching the reference
// implementation's MAX_UDP_LENGTH.
const maxUDPDatagram = 65536

// UDPServer reads datagrams on a dedicated goroutine (net.PacketConn has
// no portable non-blocking poll primitive) and defers their processing to
// the single event-loop goroutine via a taskqueue, so backend.Client
// state is only ever touched from one goroutine.
type UDPServer struct {
	pc      *net.UDPConn
	tq      *taskqueue.Queue
	log     *logrus.Entry
	onBytes func(uint64)
	done    chan struct{}

	mu       sync.Mutex
	pipeline *ingress.Pipeline
}

// NewUDPServer binds bind for UDP and starts its background read loop.
func NewUDPServer(bind string, pipeline *ingress.Pipeline, tq *taskqueue.Queue, log *logrus.Entry, onBytes func(uint64)) (*UDPServer, error) {
	addr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	s := &UDPServer{pc: pc, pipeline: pipeline, tq: tq, log: log, onBytes: onBytes, done: make(chan struct{})}
	go s.readLoop()
	return s, nil
}

func (s *UDPServer) readLoop() {
	buf := make([]byte, maxUDPDatagram)
	for {
		n, _, err := s.pc.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.log.WithError(err).Debug("server: udp read error")
			continue
		}
		if n == 0 {
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		s.tq.Push(func() {
			if s.onBytes != nil {
				s.onBytes(uint64(n))
			}
			if err := s.Pipeline().ProcessDatagram(time.Now(), payload); err != nil {
				s.log.WithError(err).Debug("server: udp datagram relay error")
			}
		})
	}
}

// Pipeline returns the pipeline currently used to relay datagrams.
func (s *UDPServer) Pipeline() *ingress.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline
}

// SetPipeline swaps the pipeline used to relay datagrams, without
// disturbing the bound socket or its background read loop. Used by a
// config reload to pick up a freshly rebuilt pool/ring.
func (s *UDPServer) SetPipeline(pipeline *ingress.Pipeline) {
	s.mu.Lock()
	s.pipeline = pipeline
	s.mu.Unlock()
}

// Close stops the read loop and releases the socket.
func (s *UDPServer) Close() error {
	close(s.done)
	return s.pc.Close()
}
