// Pipeline drives validate -> parse -> (normalize) -> shard -> enqueue for
// a single protocol, and frames newline-delimited records out of TCP
// session buffers and UDP datagrams. Grounded on stats_relay_line,
// stats_process_lines and stats_udp_recv in the reference implementation.
package ingress

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/momentics/statsrelay/internal/hashring"
	"github.com/momentics/statsrelay/internal/ringbuf"
)

// MaxLineLength bounds a single line (including its trailing newline),
// mirroring the reference implementation's 65536-byte UDP max plus the
// "\n\0" the reference's line work area reserves past it.
const MaxLineLength = 65538

// StatusCommand is the literal line a TCP session sends to request the
// self-statistics response.
const StatusCommand = "status\n"

// Pipeline relays complete lines to a hash ring of backends, tracking the
// count of lines rejected by validation or key extraction.
type Pipeline struct {
	proto          *Protocol
	ring           *hashring.Ring
	malformedLines atomic.Uint64
}

// New builds a Pipeline for proto, sharding across ring.
func New(proto *Protocol, ring *hashring.Ring) *Pipeline {
	return &Pipeline{proto: proto, ring: ring}
}

// MalformedLines returns the running count of rejected lines.
func (p *Pipeline) MalformedLines() uint64 {
	return p.malformedLines.Load()
}

// RelayLine validates, keys and forwards a single line (including its
// trailing newline) to the ring-selected backend. A validation or key
// extraction failure increments MalformedLines and returns a non-nil
// error without touching any backend; send-queue failures are counted on
// the backend itself (Client.SendAll) and also returned.
func (p *Pipeline) RelayLine(now time.Time, line []byte) error {
	if p.proto.validate != nil {
		if err := p.proto.validate(line); err != nil {
			p.malformedLines.Add(1)
			return fmt.Errorf("ingress: %s: %w", p.proto.Name, err)
		}
	}

	key, err := p.proto.extractKey(line)
	if err != nil {
		p.malformedLines.Add(1)
		return fmt.Errorf("ingress: %s: %w", p.proto.Name, err)
	}
	if p.proto.normalize != nil {
		key = p.proto.normalize(key)
	}

	client := p.ring.Choose(key)
	if client == nil {
		return fmt.Errorf("ingress: %s: no backend available for key %q", p.proto.Name, key)
	}
	return client.SendAll(now, line)
}

// ProcessBuffer extracts every complete ('\n'-terminated) line currently
// held in buf and relays it, leaving any trailing partial line buffered
// for the next read. A line equal to StatusCommand is reported via
// onStatus instead of being relayed. Processing stops at the first error
// returned by RelayLine or onStatus, matching the reference
// implementation's session-closing behavior on any relay failure.
func (p *Pipeline) ProcessBuffer(now time.Time, buf *ringbuf.Buffer, onStatus func() error) error {
	for {
		data := buf.Head()
		if len(data) == 0 {
			return nil
		}
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			if len(data) > MaxLineLength {
				p.malformedLines.Add(1)
				return fmt.Errorf("ingress: %s: line exceeds %d-byte work area with no terminator", p.proto.Name, MaxLineLength)
			}
			return nil
		}
		if idx+1 > MaxLineLength {
			p.malformedLines.Add(1)
			if cerr := buf.Consume(idx + 1); cerr != nil {
				return cerr
			}
			return fmt.Errorf("ingress: %s: line of %d bytes exceeds %d-byte work area", p.proto.Name, idx+1, MaxLineLength)
		}
		line := data[:idx+1]

		var err error
		if string(line) == StatusCommand {
			if onStatus != nil {
				err = onStatus()
			}
		} else {
			err = p.RelayLine(now, line)
		}

		if cerr := buf.Consume(idx + 1); cerr != nil {
			return cerr
		}
		if err != nil {
			return err
		}
	}
}

// ProcessDatagram splits a single UDP payload on '\n' and relays every
// line, including a final line with no trailing newline (the datagram's
// own boundary stands in for one), matching stats_udp_recv's trailing
// flush of any leftover buffer content.
func (p *Pipeline) ProcessDatagram(now time.Time, payload []byte) error {
	for len(payload) > 0 {
		idx := bytes.IndexByte(payload, '\n')
		if idx < 0 {
			if len(payload) > MaxLineLength {
				p.malformedLines.Add(1)
				return fmt.Errorf("ingress: %s: datagram remainder of %d bytes exceeds %d-byte work area", p.proto.Name, len(payload), MaxLineLength)
			}
			return p.RelayLine(now, append(append([]byte{}, payload...), '\n'))
		}
		if idx+1 > MaxLineLength {
			p.malformedLines.Add(1)
			return fmt.Errorf("ingress: %s: line of %d bytes exceeds %d-byte work area", p.proto.Name, idx+1, MaxLineLength)
		}
		if err := p.RelayLine(now, payload[:idx+1]); err != nil {
			return err
		}
		payload = payload[idx+1:]
	}
	return nil
}
