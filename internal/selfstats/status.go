// Package selfstats renders the literal "status\n" self-inspection
// response text emitted on a protocol server's TCP sessions.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package selfstats

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/momentics/statsrelay/internal/backend"
)

// Counters is a snapshot of a protocol server's global counters.
type Counters struct {
	BytesRecvUDP     uint64
	BytesRecvTCP     uint64
	TotalConnections uint64
	LastReload       uint64 // unix seconds
	MalformedLines   uint64
}

// Render produces the exact multi-line "status\n" response: five global
// counter lines, then five lines per backend (sorted by name for
// deterministic output), then a trailing blank line.
func Render(c Counters, backends []backend.Stats) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "global bytes_recv_udp counter %d\n", c.BytesRecvUDP)
	fmt.Fprintf(&buf, "global bytes_recv_tcp counter %d\n", c.BytesRecvTCP)
	fmt.Fprintf(&buf, "global total_connections counter %d\n", c.TotalConnections)
	fmt.Fprintf(&buf, "global last_reload timestamp %d\n", c.LastReload)
	fmt.Fprintf(&buf, "global malformed_lines counter %d\n", c.MalformedLines)

	sorted := make([]backend.Stats, len(backends))
	copy(sorted, backends)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, b := range sorted {
		fmt.Fprintf(&buf, "backend:%s bytes_queued counter %d\n", b.Name, b.BytesQueued)
		fmt.Fprintf(&buf, "backend:%s bytes_sent counter %d\n", b.Name, b.BytesSent)
		fmt.Fprintf(&buf, "backend:%s relayed_lines counter %d\n", b.Name, b.RelayedLines)
		fmt.Fprintf(&buf, "backend:%s dropped_lines counter %d\n", b.Name, b.DroppedLines)
		failing := 0
		if b.Failing {
			failing = 1
		}
		fmt.Fprintf(&buf, "backend:%s failing boolean %d\n", b.Name, failing)
	}

	buf.WriteByte('\n')
	return buf.Bytes()
}
