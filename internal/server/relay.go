package server

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/statsrelay/internal/backend"
	"github.com/momentics/statsrelay/internal/config"
	"github.com/momentics/statsrelay/internal/ingress"
	"github.com/momentics/statsrelay/internal/reactor"
	"github.com/momentics/statsrelay/internal/relaymetrics"
	"github.com/momentics/statsrelay/internal/taskqueue"
)

// pollTimeoutMillis bounds how long a single Reactor.Poll call blocks
// before returning to drive the taskqueue and protocol Tick methods, so
// UDP datagrams queued between epoll wakeups are not starved.
const pollTimeoutMillis = 100

// Relay runs the statsd and/or carbon protocol servers sharing one
// reactor and deferred-task queue, matching the reference
// implementation's server_collection.
type Relay struct {
	log        *logrus.Entry
	r          reactor.Reactor
	tq         *taskqueue.Queue
	backendCfg backend.Config

	Statsd *ProtocolServer
	Carbon *ProtocolServer

	metrics *relaymetrics.Registry

	stop chan struct{}
}

// SetMetrics attaches a Prometheus registry to sync on every Run iteration.
// Call before Run starts; nil disables syncing (the default).
func (relay *Relay) SetMetrics(metrics *relaymetrics.Registry) {
	relay.metrics = metrics
}

// New builds a Relay from cfg. New does not fail when neither
// cfg.Statsd nor cfg.Carbon is present; callers check Enabled (main logs
// an error in that case and keeps running).
func New(cfg *config.Config, backendCfg backend.Config, log *logrus.Entry) (*Relay, error) {
	r, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("server: creating reactor: %w", err)
	}

	relay := &Relay{
		log:        log,
		r:          r,
		tq:         taskqueue.New(),
		backendCfg: backendCfg,
		stop:       make(chan struct{}),
	}

	if cfg.Statsd != nil {
		ps, err := newProtocolServer("statsd", cfg.Statsd, ingress.NewStatsdProtocol, r, relay.tq, backendCfg, log.WithField("proto", "statsd"))
		if err != nil {
			r.Close()
			return nil, err
		}
		relay.Statsd = ps
	}
	if cfg.Carbon != nil {
		ps, err := newProtocolServer("carbon", cfg.Carbon, ingress.NewCarbonProtocol, r, relay.tq, backendCfg, log.WithField("proto", "carbon"))
		if err != nil {
			if relay.Statsd != nil {
				relay.Statsd.close()
			}
			r.Close()
			return nil, err
		}
		relay.Carbon = ps
	}

	return relay, nil
}

// Enabled reports whether at least one protocol server was started.
func (relay *Relay) Enabled() bool {
	return relay.Statsd != nil || relay.Carbon != nil
}

// Run drives the reactor loop until Stop is called: Poll waits for I/O
// readiness (dispatching registered callbacks inline), then every
// protocol's Tick and the deferred taskqueue run once per iteration.
func (relay *Relay) Run() error {
	for {
		select {
		case <-relay.stop:
			return nil
		default:
		}

		if err := relay.r.Poll(pollTimeoutMillis); err != nil {
			relay.log.WithError(err).Error("server: reactor poll error")
		}

		now := time.Now()
		if relay.Statsd != nil {
			relay.Statsd.tick(now)
		}
		if relay.Carbon != nil {
			relay.Carbon.tick(now)
		}
		relay.tq.Drain()
		relay.syncMetrics()
	}
}

// syncMetrics pushes every enabled protocol server's global counters and
// backend snapshots into the attached Prometheus registry, so /metrics
// reports the same numbers as the "status\n" text protocol. A no-op when
// SetMetrics was never called.
func (relay *Relay) syncMetrics() {
	if relay.metrics == nil {
		return
	}
	if relay.Statsd != nil {
		relay.metrics.SyncGlobal("statsd", relay.Statsd.Counters())
		relay.metrics.SyncBackends(relay.Statsd.BackendStats())
	}
	if relay.Carbon != nil {
		relay.metrics.SyncGlobal("carbon", relay.Carbon.Counters())
		relay.metrics.SyncBackends(relay.Carbon.BackendStats())
	}
}

// Stop signals Run to return after its current iteration.
func (relay *Relay) Stop() {
	close(relay.stop)
}

// Close tears down every protocol server and the shared reactor.
func (relay *Relay) Close() {
	if relay.Statsd != nil {
		relay.Statsd.close()
	}
	if relay.Carbon != nil {
		relay.Carbon.close()
	}
	relay.r.Close()
}

// Reload rebuilds every enabled protocol server's pool and ring from a
// freshly-loaded config, matching the reference implementation's
// stats_server_reload: a hard rebuild of the backend state (stats_
// kill_all_backends), but the listening sockets and any open sessions are
// left untouched. A protocol newly added to the config since the relay
// started, or one removed from it, is started or torn down as needed; an
// already-running protocol is reloaded in place.
func (relay *Relay) Reload(cfg *config.Config) error {
	now := time.Now()

	if cfg.Statsd != nil {
		if relay.Statsd != nil {
			if err := relay.Statsd.reloadBackends(cfg.Statsd, relay.r, relay.backendCfg); err != nil {
				return err
			}
		} else {
			ps, err := newProtocolServer("statsd", cfg.Statsd, ingress.NewStatsdProtocol, relay.r, relay.tq, relay.backendCfg, relay.log.WithField("proto", "statsd"))
			if err != nil {
				return err
			}
			relay.Statsd = ps
		}
		relay.Statsd.markReload(now)
	} else if relay.Statsd != nil {
		relay.Statsd.close()
		relay.Statsd = nil
	}

	if cfg.Carbon != nil {
		if relay.Carbon != nil {
			if err := relay.Carbon.reloadBackends(cfg.Carbon, relay.r, relay.backendCfg); err != nil {
				return err
			}
		} else {
			ps, err := newProtocolServer("carbon", cfg.Carbon, ingress.NewCarbonProtocol, relay.r, relay.tq, relay.backendCfg, relay.log.WithField("proto", "carbon"))
			if err != nil {
				return err
			}
			relay.Carbon = ps
		}
		relay.Carbon.markReload(now)
	} else if relay.Carbon != nil {
		relay.Carbon.close()
		relay.Carbon = nil
	}

	return nil
}
