package selfstats

import (
	"strings"
	"testing"

	"github.com/momentics/statsrelay/internal/backend"
)

func TestRenderContainsExpectedLines(t *testing.T) {
	c := Counters{BytesRecvUDP: 1, BytesRecvTCP: 2, TotalConnections: 3, LastReload: 4, MalformedLines: 5}
	backends := []backend.Stats{
		{Name: "127.0.0.1:9000:udp", BytesQueued: 10, BytesSent: 9, RelayedLines: 2, DroppedLines: 0, Failing: false},
	}
	out := string(Render(c, backends))

	mustContain := []string{
		"global bytes_recv_udp counter 1\n",
		"global bytes_recv_tcp counter 2\n",
		"global total_connections counter 3\n",
		"global last_reload timestamp 4\n",
		"global malformed_lines counter 5\n",
		"backend:127.0.0.1:9000:udp bytes_queued counter 10\n",
		"backend:127.0.0.1:9000:udp bytes_sent counter 9\n",
		"backend:127.0.0.1:9000:udp relayed_lines counter 2\n",
		"backend:127.0.0.1:9000:udp dropped_lines counter 0\n",
		"backend:127.0.0.1:9000:udp failing boolean 0\n",
	}
	for _, line := range mustContain {
		if !strings.Contains(out, line) {
			t.Errorf("missing expected line %q in:\n%s", line, out)
		}
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Errorf("expected response to end with a blank line, got suffix %q", out[len(out)-4:])
	}
}

func TestRenderNoBackendsStillTerminates(t *testing.T) {
	out := string(Render(Counters{}, nil))
	if !strings.HasSuffix(out, "\n\n") {
		t.Error("expected trailing blank line even with no backends")
	}
}

func TestRenderFailingBooleanTrue(t *testing.T) {
	backends := []backend.Stats{{Name: "x", Failing: true}}
	out := string(Render(Counters{}, backends))
	if !strings.Contains(out, "backend:x failing boolean 1\n") {
		t.Errorf("expected failing boolean 1, got:\n%s", out)
	}
}
