// Command stathasher reads metric key lines from stdin and prints which
// backend each configured protocol's hash ring would route them to,
// without opening any listener or backend connection.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/momentics/statsrelay/internal/backend"
	"github.com/momentics/statsrelay/internal/config"
	"github.com/momentics/statsrelay/internal/hashring"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stathasher",
		Short: "Report which backend a metric key hashes to, without relaying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/statsrelay.yaml", "path to the relay's YAML configuration file")
	return cmd
}

func buildRing(protoCfg *config.Proto) (*hashring.Ring, error) {
	if protoCfg == nil {
		return nil, nil
	}
	silent := logrus.New()
	silent.SetOutput(io.Discard)
	log := logrus.NewEntry(silent)

	pool := backend.NewPool()
	clients := make([]*backend.Client, len(protoCfg.Shards))
	for i, ep := range protoCfg.Shards {
		clients[i] = pool.GetOrCreate(nil, ep, backend.DefaultConfig(), log)
	}
	return hashring.New(clients)
}

func run(configPath string, in *os.File, out *os.File) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	carbonRing, err := buildRing(cfg.Carbon)
	if err != nil {
		return fmt.Errorf("stathasher: carbon ring: %w", err)
	}
	statsdRing, err := buildRing(cfg.Statsd)
	if err != nil {
		return fmt.Errorf("stathasher: statsd ring: %w", err)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 65536), 65536)
	w := bufio.NewWriter(out)
	defer w.Flush()

	for scanner.Scan() {
		key := firstField(scanner.Text())
		fmt.Fprintf(w, "key=%s", key)
		reportShard(w, "carbon", carbonRing, key)
		reportShard(w, "statsd", statsdRing, key)
		fmt.Fprintln(w)
	}
	return scanner.Err()
}

// firstField trims a stdin line down to its leading whitespace-delimited
// token, matching the reference tool's getline-then-truncate-at-space
// behavior.
func firstField(line string) string {
	if i := strings.IndexFunc(line, func(r rune) bool { return r == ' ' || r == '\t' }); i >= 0 {
		return line[:i]
	}
	return line
}

func reportShard(w *bufio.Writer, label string, ring *hashring.Ring, key string) {
	if ring == nil {
		return
	}
	client, shard := ring.ChooseShard([]byte(key))
	if client == nil {
		return
	}
	fmt.Fprintf(w, " %s=%s %s_shard=%d", label, client.Name(), label, shard)
}
