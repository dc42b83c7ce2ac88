// Package backend implements the outbound connection to a single shard
// endpoint: a small state machine (INIT/CONNECTING/BACKOFF/CONNECTED/
// TERMINATED) driving a non-blocking TCP or UDP socket with a bounded,
// growable send queue.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package backend

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/statsrelay/internal/reactor"
	"github.com/momentics/statsrelay/internal/ringbuf"
)

// State is one of the backend connection lifecycle states.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateBackoff
	StateConnected
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateBackoff:
		return "BACKOFF"
	case StateConnected:
		return "CONNECTED"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

const (
	// DefaultConnectTimeout bounds how long a CONNECTING attempt may run
	// before it is abandoned and the client moves to BACKOFF.
	DefaultConnectTimeout = 2 * time.Second
	// DefaultRetryTimeout is the minimum time a client stays in BACKOFF
	// before the next send attempt is allowed to retry.
	DefaultRetryTimeout = 1 * time.Second
	// DefaultMaxSendQueue is the default bound (bytes) on a backend's
	// queued-but-unsent data before new writes are dropped.
	DefaultMaxSendQueue = 134217728 // 128 MiB
	// initialSendQueueCap mirrors the reference client's larger initial
	// allocation, chosen so ordinary traffic rarely needs to realign.
	initialSendQueueCap = 1 << 16
)

// Config bounds the behavior of a Client.
type Config struct {
	ConnectTimeout   time.Duration
	RetryTimeout     time.Duration
	MaxSendQueue     uint64
	EnableTCPCork    bool
	AlwaysResolveDNS bool
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: DefaultConnectTimeout,
		RetryTimeout:   DefaultRetryTimeout,
		MaxSendQueue:   DefaultMaxSendQueue,
	}
}

// Client is a single shard endpoint connection. All exported methods except
// the atomic counter accessors are intended to be called only from the
// single goroutine that owns the reactor loop.
type Client struct {
	name     string
	host     string
	port     string
	protocol string // "tcp" or "udp"

	cfg Config
	r   reactor.Reactor
	log *logrus.Entry

	sock           socket
	state          State
	lastError      time.Time
	connectStarted time.Time
	failing        bool

	// resolvedAddr caches the IP address host last resolved to, so a
	// reconnect reuses it instead of paying for DNS again. Cleared on a
	// BACKOFF->INIT transition only when cfg.AlwaysResolveDNS is set.
	resolvedAddr string

	sendQueue *ringbuf.Buffer

	bytesQueued   atomic.Int64
	bytesSent     atomic.Int64
	relayedLines  atomic.Int64
	droppedLines  atomic.Int64
}

// New constructs a Client for host:port over protocol ("tcp" or "udp"),
// beginning life in STATE_INIT. cfg.MaxSendQueue of 0 is replaced with
// DefaultMaxSendQueue.
func New(r reactor.Reactor, host, port, protocol string, cfg Config, log *logrus.Entry) *Client {
	if cfg.MaxSendQueue == 0 {
		cfg.MaxSendQueue = DefaultMaxSendQueue
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RetryTimeout == 0 {
		cfg.RetryTimeout = DefaultRetryTimeout
	}
	if protocol != "udp" {
		protocol = "tcp"
	}
	name := fmt.Sprintf("%s/%s/%s", host, port, protocol)
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		name:      name,
		host:      host,
		port:      port,
		protocol:  protocol,
		cfg:       cfg,
		r:         r,
		log:       log.WithField("backend", name),
		state:     StateInit,
		sendQueue: ringbuf.New(initialSendQueueCap),
	}
}

// Name returns the "host/port/protocol" identity string used in logs and
// the status response.
func (c *Client) Name() string { return c.name }

// State returns the current lifecycle state.
func (c *Client) State() State { return c.state }

// Failing reports whether the send queue is currently overflowing.
func (c *Client) Failing() bool { return c.failing }

func (c *Client) setState(next State) {
	if c.state == next {
		return
	}
	c.log.Debugf("state transition %s -> %s", c.state, next)
	c.state = next
}

// resolveAddr returns the cached resolved address, looking host up and
// caching the result on first use or after the cache was cleared on a
// BACKOFF->INIT transition (only when cfg.AlwaysResolveDNS is set). host
// that is already a literal IP resolves to itself.
func (c *Client) resolveAddr() (string, error) {
	if c.resolvedAddr != "" {
		return c.resolvedAddr, nil
	}
	ips, err := net.LookupHost(c.host)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", c.host, err)
	}
	c.resolvedAddr = ips[0]
	return c.resolvedAddr, nil
}

// Connect drives the state machine forward: a no-op when already
// CONNECTING/CONNECTED, a lazy transition back to INIT (and an immediate
// retry) when the BACKOFF retry window has elapsed, and a full
// resolve+socket+non-blocking-connect sequence from INIT.
func (c *Client) Connect(now time.Time) error {
	switch c.state {
	case StateConnected, StateConnecting:
		return nil
	case StateTerminated:
		return fmt.Errorf("backend[%s]: client is terminated", c.name)
	case StateBackoff:
		if now.Sub(c.lastError) <= c.cfg.RetryTimeout {
			return nil
		}
		if c.cfg.AlwaysResolveDNS {
			c.resolvedAddr = ""
		}
		c.setState(StateInit)
		return c.Connect(now)
	}

	addr, err := c.resolveAddr()
	if err != nil {
		c.log.WithError(err).Warn("unable to resolve address")
		c.fail(now)
		return err
	}

	sock, err := newSocket(c.protocol, addr, c.port)
	if err != nil {
		c.log.WithError(err).Warn("unable to create socket")
		c.fail(now)
		return err
	}
	c.sock = sock

	if c.sock.Pollable() {
		if err := c.r.Register(c.sock.Fd(), reactor.EventWrite, c.onWritable); err != nil {
			c.log.WithError(err).Warn("unable to register with reactor")
			c.sock.Close()
			c.fail(now)
			return err
		}
	}

	c.connectStarted = now
	c.setState(StateConnecting)
	return nil
}

// Tick advances timers: a CONNECTING attempt that has exceeded the connect
// timeout is moved to BACKOFF. Call once per reactor loop iteration.
func (c *Client) Tick(now time.Time) {
	if c.state == StateConnecting && now.Sub(c.connectStarted) > c.cfg.ConnectTimeout {
		c.log.Warn("connection timeout")
		if c.sock != nil {
			if c.sock.Pollable() {
				_ = c.r.Unregister(c.sock.Fd())
			}
			c.sock.Close()
		}
		c.fail(now)
		return
	}
	if c.state == StateConnecting && !c.sock.Pollable() {
		if done, err := c.sock.PollConnect(); done {
			c.completeConnect(now, err)
		}
		return
	}
	if c.state == StateConnected && c.sock != nil && !c.sock.Pollable() {
		if c.sendQueue.DataCount() > 0 {
			c.flush()
		}
		c.HandleReadable()
	}
}

func (c *Client) fail(now time.Time) {
	c.lastError = now
	c.setState(StateBackoff)
}

func (c *Client) onWritable(fd uintptr, events reactor.FDEventType) {
	now := time.Now()
	if c.state == StateConnecting {
		done, err := c.sock.PollConnect()
		if done {
			c.completeConnect(now, err)
		}
		return
	}
	if c.state != StateConnected {
		return
	}
	c.flush()
}

func (c *Client) completeConnect(now time.Time, err error) {
	if err != nil {
		c.log.WithError(err).Warn("connect failed")
		if c.sock.Pollable() {
			_ = c.r.Unregister(c.sock.Fd())
		}
		c.sock.Close()
		c.fail(now)
		return
	}
	c.setState(StateConnected)
	if c.cfg.EnableTCPCork && c.protocol == "tcp" {
		if err := c.sock.SetCork(true); err != nil {
			c.log.WithError(err).Debug("unable to enable TCP_CORK")
		}
	}
	if c.sock.Pollable() {
		mask := reactor.EventRead
		if c.sendQueue.DataCount() > 0 {
			mask |= reactor.EventWrite
		}
		_ = c.r.Modify(c.sock.Fd(), mask)
	}
	if c.sendQueue.DataCount() > 0 {
		c.flush()
	}
}

// SendAll enqueues buf for delivery, lazily triggering a reconnect attempt
// and enforcing the max-send-queue bound with a sticky "failing" flag, as
// the reference client does.
func (c *Client) SendAll(now time.Time, buf []byte) error {
	// A failed connect leaves the client in BACKOFF; the data is still
	// queued and goes out once a later reconnect succeeds.
	if err := c.Connect(now); err != nil && c.state == StateTerminated {
		return err
	}

	if uint64(c.sendQueue.DataCount()+len(buf)) > c.cfg.MaxSendQueue {
		if !c.failing {
			c.log.Warn("send queue is full, dropping data")
			c.failing = true
		}
		c.droppedLines.Add(1)
		return fmt.Errorf("backend[%s]: send queue full", c.name)
	}
	c.failing = false

	if err := c.sendQueue.Write(buf); err != nil {
		return fmt.Errorf("backend[%s]: %w", c.name, err)
	}
	c.bytesQueued.Add(int64(len(buf)))
	c.relayedLines.Add(1)

	if c.state == StateConnected && c.sock != nil && c.sock.Pollable() {
		_ = c.r.Modify(c.sock.Fd(), reactor.EventRead|reactor.EventWrite)
	}
	return nil
}

// flush writes as much of the send queue as the socket will accept without
// blocking.
func (c *Client) flush() {
	for c.sendQueue.DataCount() > 0 {
		n, err := c.sock.Write(c.sendQueue.Head())
		if err != nil {
			if isWouldBlock(err) {
				return
			}
			c.log.WithError(err).Warn("send error")
			if c.sock.Pollable() {
				_ = c.r.Unregister(c.sock.Fd())
			}
			c.sock.Close()
			c.fail(time.Now())
			return
		}
		if n == 0 {
			return
		}
		c.bytesSent.Add(int64(n))
		_ = c.sendQueue.Consume(n)
	}
	if c.sock != nil && c.sock.Pollable() {
		_ = c.r.Modify(c.sock.Fd(), reactor.EventRead)
	}
}

// HandleReadable discards inbound bytes on the backend connection, moving
// to BACKOFF on error or orderly close, matching the reference client's
// discard-only read behavior.
func (c *Client) HandleReadable() {
	if c.state != StateConnected {
		return
	}
	buf := make([]byte, 65536)
	n, err := c.sock.Read(buf)
	if err != nil && !isWouldBlock(err) {
		c.log.WithError(err).Warn("recv error")
		if c.sock.Pollable() {
			_ = c.r.Unregister(c.sock.Fd())
		}
		c.sock.Close()
		c.fail(time.Now())
		return
	}
	if n == 0 && err == nil {
		c.log.Warn("server closed connection")
		if c.sock.Pollable() {
			_ = c.r.Unregister(c.sock.Fd())
		}
		c.sock.Close()
		c.fail(time.Now())
	}
}

// Close terminates the client, releasing its socket and send queue.
func (c *Client) Close() {
	if c.state == StateTerminated {
		return
	}
	if c.sock != nil {
		if c.sock.Pollable() {
			_ = c.r.Unregister(c.sock.Fd())
		}
		c.sock.Close()
	}
	c.setState(StateTerminated)
}

// Stats is a point-in-time snapshot of a backend's counters, used by the
// self-statistics command and the Prometheus registry.
type Stats struct {
	Name         string
	BytesQueued  int64
	BytesSent    int64
	RelayedLines int64
	DroppedLines int64
	Failing      bool
}

// Snapshot returns the current counter values.
func (c *Client) Snapshot() Stats {
	return Stats{
		Name:         c.name,
		BytesQueued:  c.bytesQueued.Load(),
		BytesSent:    c.bytesSent.Load(),
		RelayedLines: c.relayedLines.Load(),
		DroppedLines: c.droppedLines.Load(),
		Failing:      c.failing,
	}
}
