// Command statsrelay relays statsd and carbon metric lines to a sharded
// pool of backends, selecting a backend per line via a modular hash ring.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/momentics/statsrelay/internal/affinity"
	"github.com/momentics/statsrelay/internal/backend"
	"github.com/momentics/statsrelay/internal/config"
	"github.com/momentics/statsrelay/internal/logx"
	"github.com/momentics/statsrelay/internal/relaymetrics"
	"github.com/momentics/statsrelay/internal/server"
)

// version is stamped at release time via -ldflags; "dev" is the
// unreleased-checkout default.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		checkConfig bool
		verbose     bool
		logLevel    string
		metricsBind string
		pinCPU      int
	)

	cmd := &cobra.Command{
		Use:     "statsrelay",
		Short:   "A stateless sharding relay for statsd and carbon metrics",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, checkConfig, verbose, logLevel, metricsBind, pinCPU)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/statsrelay.yaml", "path to the relay's YAML configuration file")
	cmd.Flags().BoolVarP(&checkConfig, "check-config", "t", false, "parse and validate the configuration file, then exit")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "mirror every log entry to stderr")
	cmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "log level: debug, info, warn, or error (debug implies verbose)")
	cmd.Flags().StringVar(&metricsBind, "metrics-bind", "", "if set, serve a Prometheus /metrics endpoint on this address")
	cmd.Flags().IntVar(&pinCPU, "pin-cpu", -1, "if non-negative, pin the event loop's OS thread to this CPU core")
	cmd.Flags().BoolP("version", "V", false, "print the build identifier and exit")

	return cmd
}

func run(configPath string, checkConfig, verbose bool, logLevel, metricsBind string, pinCPU int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "statsrelay: %v\n", err)
		return err
	}
	if checkConfig {
		fmt.Println("configuration OK")
		return nil
	}

	log, err := logx.New(logx.ParseLevel(logLevel), verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "statsrelay: %v\n", err)
		return err
	}
	entry := log.WithField("component", "statsrelay")

	store := config.NewStore(cfg)
	relay, err := server.New(store.Get(), backend.DefaultConfig(), entry)
	if err != nil {
		entry.WithError(err).Error("failed to start")
		return err
	}
	if !relay.Enabled() {
		entry.Error("no protocol is enabled; check the configuration")
	}

	metrics := relaymetrics.New()
	relay.SetMetrics(metrics)
	var metricsSrv *http.Server
	if metricsBind != "" {
		metricsSrv = startMetricsServer(metricsBind, metrics, entry)
		defer metricsSrv.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	runErr := make(chan error, 1)
	go func() {
		if pinCPU >= 0 {
			if err := affinity.Pin(pinCPU); err != nil {
				entry.WithError(err).Warn("failed to pin event loop to requested CPU")
			}
		}
		runErr <- relay.Run()
	}()

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				entry.Info("reloading configuration")
				next, err := config.Load(configPath)
				if err != nil {
					entry.WithError(err).Error("reload failed, keeping previous configuration")
					continue
				}
				store.Reload(next)
				if err := relay.Reload(next); err != nil {
					entry.WithError(err).Error("reload failed to rebuild protocol servers")
				}
			default:
				entry.Info("shutting down")
				relay.Stop()
				relay.Close()
				return nil
			}
		case err := <-runErr:
			if err != nil {
				entry.WithError(err).Error("event loop exited with an error")
				return err
			}
			return nil
		}
	}
}

func startMetricsServer(bind string, reg *relaymetrics.Registry, log *logrus.Entry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	srv := &http.Server{Addr: bind, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server exited")
		}
	}()
	return srv
}
