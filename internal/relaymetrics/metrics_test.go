package relaymetrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/momentics/statsrelay/internal/backend"
	"github.com/momentics/statsrelay/internal/selfstats"
)

func TestHandlerExposesGlobalCounters(t *testing.T) {
	r := New()
	r.AddBytesRecvUDP(5)
	r.AddBytesRecvTCP(7)
	r.IncConnections()
	r.SetLastReload(123)
	r.AddMalformedLines(2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"statsrelay_bytes_recv_udp_total 5",
		"statsrelay_bytes_recv_tcp_total 7",
		"statsrelay_connections_total 1",
		"statsrelay_last_reload_timestamp_seconds 123",
		"statsrelay_malformed_lines_total 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestSyncBackendsExposesPerBackendGauges(t *testing.T) {
	r := New()
	r.SyncBackends([]backend.Stats{
		{Name: "b1", BytesQueued: 1, BytesSent: 2, RelayedLines: 3, DroppedLines: 4, Failing: true},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		`statsrelay_backend_bytes_queued{backend="b1"} 1`,
		`statsrelay_backend_bytes_sent_total{backend="b1"} 2`,
		`statsrelay_backend_relayed_lines_total{backend="b1"} 3`,
		`statsrelay_backend_dropped_lines_total{backend="b1"} 4`,
		`statsrelay_backend_failing{backend="b1"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestSyncGlobalAddsDeltaAcrossCalls(t *testing.T) {
	r := New()
	r.SyncGlobal("statsd", selfstats.Counters{BytesRecvUDP: 10, TotalConnections: 1, MalformedLines: 1, LastReload: 5})
	r.SyncGlobal("statsd", selfstats.Counters{BytesRecvUDP: 25, TotalConnections: 3, MalformedLines: 1, LastReload: 5})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"statsrelay_bytes_recv_udp_total 25",
		"statsrelay_connections_total 3",
		"statsrelay_malformed_lines_total 1",
		"statsrelay_last_reload_timestamp_seconds 5",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestSyncGlobalTracksProtocolsIndependently(t *testing.T) {
	r := New()
	r.SyncGlobal("statsd", selfstats.Counters{BytesRecvUDP: 10})
	r.SyncGlobal("carbon", selfstats.Counters{BytesRecvUDP: 4})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "statsrelay_bytes_recv_udp_total 14") {
		t.Fatalf("expected combined delta of 14, got:\n%s", rec.Body.String())
	}
}

func TestRenderStatusMatchesSelfstats(t *testing.T) {
	out := RenderStatus(selfstats.Counters{}, nil)
	if len(out) == 0 {
		t.Fatal("expected non-empty status rendering")
	}
}
