// Package keylock provides striped mutexes keyed by string.
package keylock

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const numShards = 64

// Striped serializes work per key. Keys hashing to the same shard share a mutex,
// so holders must never acquire a second key while holding one.
type Striped struct {
	shards [numShards]shard
}

type shard struct {
	mu       sync.Mutex
	acquired atomic.Uint64
}

// New creates a striped lock set.
func New() *Striped {
	return &Striped{}
}

func (s *Striped) getShard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.shards[h.Sum32()%numShards]
}

// Lock acquires the mutex for key and returns its release function.
func (s *Striped) Lock(key string) (unlock func()) {
	sh := s.getShard(key)
	sh.mu.Lock()
	sh.acquired.Add(1)
	return sh.mu.Unlock
}

// Do runs fn while holding the mutex for key.
func (s *Striped) Do(key string, fn func() error) error {
	unlock := s.Lock(key)
	defer unlock()
	return fn()
}

// Stats provides per-shard acquisition counts.
type Stats struct {
	Acquisitions uint64            `json:"acquisitions"`
	ShardCounts  [numShards]uint64 `json:"shard_counts"`
}

// Stats returns lock acquisition statistics.
func (s *Striped) Stats() Stats {
	var st Stats
	for i := range s.shards {
		n := s.shards[i].acquired.Load()
		st.ShardCounts[i] = n
		st.Acquisitions += n
	}
	return st
}
