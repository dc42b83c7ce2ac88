// Package relaymetrics exposes the relay's counters through a Prometheus
// registry, mirroring the same values reported by the "status\n" text
// protocol over internal/selfstats.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package relaymetrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/statsrelay/internal/backend"
	"github.com/momentics/statsrelay/internal/selfstats"
)

// Registry holds the relay's Prometheus instruments and a reference
// registry distinct from the global default, so tests can construct one
// without colliding on re-registration.
type Registry struct {
	reg *prometheus.Registry

	bytesRecvUDP     prometheus.Counter
	bytesRecvTCP     prometheus.Counter
	totalConnections prometheus.Counter
	lastReload       prometheus.Gauge
	malformedLines   prometheus.Counter

	backendQueued  *prometheus.GaugeVec
	backendSent    *prometheus.GaugeVec
	backendRelayed *prometheus.GaugeVec
	backendDropped *prometheus.GaugeVec
	backendFailing *prometheus.GaugeVec

	mu         sync.Mutex
	lastGlobal map[string]selfstats.Counters
}

// New constructs a Registry with every instrument registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		bytesRecvUDP: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statsrelay", Name: "bytes_recv_udp_total", Help: "Bytes received over UDP.",
		}),
		bytesRecvTCP: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statsrelay", Name: "bytes_recv_tcp_total", Help: "Bytes received over TCP.",
		}),
		totalConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statsrelay", Name: "connections_total", Help: "TCP sessions accepted.",
		}),
		lastReload: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "statsrelay", Name: "last_reload_timestamp_seconds", Help: "Unix time of the last config reload.",
		}),
		malformedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statsrelay", Name: "malformed_lines_total", Help: "Lines rejected by a protocol validator.",
		}),
		backendQueued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "statsrelay", Name: "backend_bytes_queued", Help: "Bytes queued for a backend in total.",
		}, []string{"backend"}),
		backendSent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "statsrelay", Name: "backend_bytes_sent_total", Help: "Bytes written to a backend.",
		}, []string{"backend"}),
		backendRelayed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "statsrelay", Name: "backend_relayed_lines_total", Help: "Lines relayed to a backend.",
		}, []string{"backend"}),
		backendDropped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "statsrelay", Name: "backend_dropped_lines_total", Help: "Lines dropped for a backend.",
		}, []string{"backend"}),
		backendFailing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "statsrelay", Name: "backend_failing", Help: "1 if the backend is in a failing state.",
		}, []string{"backend"}),
	}

	r.reg.MustRegister(
		r.bytesRecvUDP, r.bytesRecvTCP, r.totalConnections, r.lastReload, r.malformedLines,
		r.backendQueued, r.backendSent, r.backendRelayed, r.backendDropped, r.backendFailing,
	)
	r.lastGlobal = make(map[string]selfstats.Counters)
	return r
}

// Handler returns the http.Handler serving this registry's /metrics page.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// AddBytesRecvUDP increments the UDP ingress byte counter.
func (r *Registry) AddBytesRecvUDP(n uint64) { r.bytesRecvUDP.Add(float64(n)) }

// AddBytesRecvTCP increments the TCP ingress byte counter.
func (r *Registry) AddBytesRecvTCP(n uint64) { r.bytesRecvTCP.Add(float64(n)) }

// IncConnections increments the accepted-TCP-session counter.
func (r *Registry) IncConnections() { r.totalConnections.Inc() }

// SetLastReload records the unix timestamp of the most recent config reload.
func (r *Registry) SetLastReload(unixSeconds uint64) { r.lastReload.Set(float64(unixSeconds)) }

// AddMalformedLines increments the parse-failure counter.
func (r *Registry) AddMalformedLines(n uint64) { r.malformedLines.Add(float64(n)) }

// SyncGlobal updates this registry's global counters for one named
// protocol server ("statsd" or "carbon") from a selfstats.Counters
// snapshot. The underlying Prometheus counters only ever move forward, so
// only the delta since the last sync for that protocol is added, keeping
// them in step with the cumulative totals the "status\n" text protocol
// reports.
func (r *Registry) SyncGlobal(proto string, c selfstats.Counters) {
	r.mu.Lock()
	prev := r.lastGlobal[proto]
	r.lastGlobal[proto] = c
	r.mu.Unlock()

	if c.BytesRecvUDP > prev.BytesRecvUDP {
		r.AddBytesRecvUDP(c.BytesRecvUDP - prev.BytesRecvUDP)
	}
	if c.BytesRecvTCP > prev.BytesRecvTCP {
		r.AddBytesRecvTCP(c.BytesRecvTCP - prev.BytesRecvTCP)
	}
	if c.TotalConnections > prev.TotalConnections {
		r.totalConnections.Add(float64(c.TotalConnections - prev.TotalConnections))
	}
	if c.MalformedLines > prev.MalformedLines {
		r.AddMalformedLines(c.MalformedLines - prev.MalformedLines)
	}
	if c.LastReload > prev.LastReload {
		r.SetLastReload(c.LastReload)
	}
}

// SyncBackends overwrites every per-backend gauge family with a fresh
// snapshot taken from backend.Client.Snapshot. The running totals
// (bytes_sent, relayed_lines, dropped_lines) are already monotonic
// counts maintained by the backend client itself, so they are exported
// as gauges set to the latest absolute value rather than re-derived
// Prometheus counters.
func (r *Registry) SyncBackends(stats []backend.Stats) {
	for _, s := range stats {
		r.backendQueued.WithLabelValues(s.Name).Set(float64(s.BytesQueued))
		r.backendSent.WithLabelValues(s.Name).Set(float64(s.BytesSent))
		r.backendRelayed.WithLabelValues(s.Name).Set(float64(s.RelayedLines))
		r.backendDropped.WithLabelValues(s.Name).Set(float64(s.DroppedLines))
		failing := 0.0
		if s.Failing {
			failing = 1.0
		}
		r.backendFailing.WithLabelValues(s.Name).Set(failing)
	}
}

// RenderStatus delegates to selfstats.Render so the "status\n" text
// protocol and the Prometheus registry always agree on global counters.
func RenderStatus(c selfstats.Counters, backends []backend.Stats) []byte {
	return selfstats.Render(c, backends)
}
