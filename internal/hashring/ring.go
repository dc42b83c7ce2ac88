// Package hashring implements the dense-array modular sharding ring used to
// map a metric key to one of N backend endpoints.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package hashring

import (
	"fmt"

	"github.com/momentics/statsrelay/internal/backend"
	"github.com/momentics/statsrelay/internal/hashkey"
)

// Ring maps a key to one of a fixed set of backends by
// hash(key) % len(backends). It carries no virtual nodes and is never
// mutated in place: a config reload builds a new Ring and discards the old
// one wholesale.
type Ring struct {
	backends []*backend.Client
}

// New builds a ring over backends in shard-index order. backends[i] must be
// the client assigned to shard i; the same *backend.Client pointer may
// appear at more than one index (distinct shards sharing one endpoint).
func New(backends []*backend.Client) (*Ring, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("hashring: cannot build a ring with zero shards")
	}
	cp := make([]*backend.Client, len(backends))
	copy(cp, backends)
	return &Ring{backends: cp}, nil
}

// Size returns the number of shard slots in the ring.
func (r *Ring) Size() int {
	if r == nil {
		return 0
	}
	return len(r.backends)
}

// Choose returns the backend responsible for key, or nil if the ring is
// empty.
func (r *Ring) Choose(key []byte) *backend.Client {
	c, _ := r.ChooseShard(key)
	return c
}

// ChooseShard returns the backend responsible for key along with its shard
// index, or (nil, -1) if the ring is empty.
func (r *Ring) ChooseShard(key []byte) (*backend.Client, int) {
	if r == nil || len(r.backends) == 0 {
		return nil, -1
	}
	idx := hashkey.Hash(key, uint32(len(r.backends)))
	return r.backends[idx], int(idx)
}

// Backends returns the deduplicated set of distinct backend clients
// referenced by the ring, preserving first-seen order. Used to dispose of
// each backend exactly once on teardown, matching the dedup-by-pointer
// behavior of the reference hashring's teardown.
func (r *Ring) Backends() []*backend.Client {
	if r == nil {
		return nil
	}
	out := make([]*backend.Client, 0, len(r.backends))
	seen := make(map[*backend.Client]struct{}, len(r.backends))
	for _, b := range r.backends {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out
}

// Close disposes of every distinct backend referenced by the ring exactly
// once, mirroring the reference implementation's pointer-identity dedup
// teardown.
func (r *Ring) Close() {
	if r == nil {
		return
	}
	for _, b := range r.Backends() {
		b.Close()
	}
}
