// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package backend

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/statsrelay/internal/reactor"
)

// Endpoint identifies one configured shard destination.
type Endpoint struct {
	Host     string
	Port     string
	Protocol string // "tcp" or "udp"
}

// key returns the endpoint's dedup identity, matching the reference
// implementation's host/port/protocol backend naming.
func (e Endpoint) key() string {
	proto := e.Protocol
	if proto == "" {
		proto = "tcp"
	}
	return e.Host + ":" + e.Port + ":" + proto
}

// Pool owns the set of distinct backend Clients referenced by a protocol
// server's shard map, deduplicating endpoints that appear at more than one
// shard index.
type Pool struct {
	clients map[string]*Client
}

// NewPool constructs a Pool with no clients.
func NewPool() *Pool {
	return &Pool{clients: make(map[string]*Client)}
}

// GetOrCreate returns the existing client for ep if one was already
// created, or constructs and registers a new one.
func (p *Pool) GetOrCreate(r reactor.Reactor, ep Endpoint, cfg Config, log *logrus.Entry) *Client {
	k := ep.key()
	if c, ok := p.clients[k]; ok {
		return c
	}
	c := New(r, ep.Host, ep.Port, ep.Protocol, cfg, log)
	p.clients[k] = c
	return c
}

// All returns every distinct client in the pool.
func (p *Pool) All() []*Client {
	out := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		out = append(out, c)
	}
	return out
}

// Tick advances every client's timers. Call once per reactor loop
// iteration.
func (p *Pool) Tick(now time.Time) {
	for _, c := range p.clients {
		c.Tick(now)
	}
}

// Close terminates every client in the pool.
func (p *Pool) Close() {
	for _, c := range p.clients {
		c.Close()
	}
}
