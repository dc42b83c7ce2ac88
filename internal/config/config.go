// Package config loads and validates the relay's YAML configuration
// document and provides a thread-safe store with reload-hook dispatch for
// SIGHUP-driven hot reload.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/momentics/statsrelay/internal/backend"
)

// Proto is the resolved, defaulted configuration for one protocol flavor
// (statsd or carbon).
type Proto struct {
	Bind             string
	Validate         bool
	TCPCork          bool
	AlwaysResolveDNS bool
	MaxSendQueue     uint64
	Shards           []backend.Endpoint // shard index i lives at Shards[i]
}

// Config is the fully-resolved relay configuration. A nil Statsd or Carbon
// field means that protocol server is not started.
type Config struct {
	Statsd *Proto
	Carbon *Proto
}

// protoDefaults mirrors the reference implementation's init_proto_config.
func protoDefaults(bind string) Proto {
	return Proto{
		Bind:             bind,
		Validate:         true,
		TCPCork:          true,
		AlwaysResolveDNS: false,
		MaxSendQueue:     134217728,
	}
}

// rawProto is the YAML shape of one protocol block; pointer fields
// distinguish "absent" (use default) from an explicit false/zero.
type rawProto struct {
	Bind             string         `yaml:"bind"`
	Validate         *bool          `yaml:"validate"`
	TCPCork          *bool          `yaml:"tcp_cork"`
	AlwaysResolveDNS *bool          `yaml:"always_resolve_dns"`
	MaxSendQueue     *uint64        `yaml:"max_send_queue"`
	ShardMap         map[int]string `yaml:"shard_map"`
}

// Load reads and parses the YAML document at path. Top-level keys other
// than "statsd"/"carbon" are a parse error; unrecognized scalar fields
// nested under a protocol block are ignored, matching struct-tag decoding's
// default behavior.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a YAML document already held in memory.
func Parse(data []byte) (*Config, error) {
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for k := range top {
		if k != "statsd" && k != "carbon" {
			return nil, fmt.Errorf("config: unknown top-level key %q", k)
		}
	}

	cfg := &Config{}
	if node, ok := top["statsd"]; ok {
		p, err := decodeProto(&node, "127.0.0.1:8125")
		if err != nil {
			return nil, fmt.Errorf("config: statsd: %w", err)
		}
		cfg.Statsd = p
	}
	if node, ok := top["carbon"]; ok {
		p, err := decodeProto(&node, "127.0.0.1:2003")
		if err != nil {
			return nil, fmt.Errorf("config: carbon: %w", err)
		}
		cfg.Carbon = p
	}
	return cfg, nil
}

func decodeProto(node *yaml.Node, defaultBind string) (*Proto, error) {
	var raw rawProto
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}

	p := protoDefaults(defaultBind)
	if raw.Bind != "" {
		p.Bind = raw.Bind
	}
	if raw.Validate != nil {
		p.Validate = *raw.Validate
	}
	if raw.TCPCork != nil {
		p.TCPCork = *raw.TCPCork
	}
	if raw.AlwaysResolveDNS != nil {
		p.AlwaysResolveDNS = *raw.AlwaysResolveDNS
	}
	if raw.MaxSendQueue != nil {
		p.MaxSendQueue = *raw.MaxSendQueue
	}

	shards, err := densifyShardMap(raw.ShardMap)
	if err != nil {
		return nil, err
	}
	p.Shards = shards
	return &p, nil
}

// densifyShardMap validates that the shard map's integer keys form a dense
// 0..N-1 ascending sequence and converts each "host:port[:tcp|udp]" value
// into an Endpoint, in shard-index order.
func densifyShardMap(m map[int]string) ([]backend.Endpoint, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("shard_map is empty")
	}
	indices := make([]int, 0, len(m))
	for k := range m {
		indices = append(indices, k)
	}
	sort.Ints(indices)
	for i, idx := range indices {
		if idx != i {
			return nil, fmt.Errorf("shard_map indices must be dense 0..N-1 ascending; got %d at position %d", idx, i)
		}
	}

	out := make([]backend.Endpoint, len(indices))
	for _, idx := range indices {
		ep, err := parseEndpoint(m[idx])
		if err != nil {
			return nil, fmt.Errorf("shard_map[%d]: %w", idx, err)
		}
		out[idx] = ep
	}
	return out, nil
}

// parseEndpoint parses "host:port[:tcp|udp]", defaulting to tcp.
func parseEndpoint(s string) (backend.Endpoint, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return backend.Endpoint{}, fmt.Errorf("invalid endpoint %q: want host:port[:tcp|udp]", s)
	}
	proto := "tcp"
	host := parts[0]
	port := parts[1]
	if len(parts) >= 3 {
		proto = parts[2]
	}
	if _, err := strconv.Atoi(port); err != nil {
		return backend.Endpoint{}, fmt.Errorf("invalid port %q in endpoint %q", port, s)
	}
	return backend.Endpoint{Host: host, Port: port, Protocol: proto}, nil
}

// Store is a thread-safe holder of the current Config with reload-hook
// dispatch, used to drive SIGHUP-triggered rebuilds. A reload replaces the
// stored Config wholesale; it does not merge with the previous value.
type Store struct {
	mu        sync.RWMutex
	current   *Config
	listeners []func(*Config)
}

// NewStore wraps an initial Config in a Store.
func NewStore(initial *Config) *Store {
	return &Store{current: initial}
}

// Get returns the current Config.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// OnReload registers a hook invoked (synchronously, on the caller's
// goroutine) whenever Reload is called.
func (s *Store) OnReload(fn func(*Config)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Reload replaces the stored Config and dispatches every registered hook
// with the new value. Call this from the SIGHUP handler, on the reactor's
// own goroutine, so hooks never run concurrently with the event loop.
func (s *Store) Reload(next *Config) {
	s.mu.Lock()
	s.current = next
	hooks := make([]func(*Config), len(s.listeners))
	copy(hooks, s.listeners)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(next)
	}
}
