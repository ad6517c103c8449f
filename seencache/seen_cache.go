// Package seencache implements the bounded seen-message set used to suppress
// duplicate deliveries and stop flooded messages from circulating forever.
package seencache

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("floodbus/seencache")

// EvictionDivisor controls how much of a full cache is dropped at once:
// size/EvictionDivisor of the oldest entries.
const EvictionDivisor = 3

type entry struct {
	at  time.Time
	seq uint64
}

// Cache remembers message ids together with the time they were first seen.
// Entries never expire on their own; once the cache holds capacity entries the
// next Add evicts the oldest third before inserting.
type Cache struct {
	lk       sync.Mutex
	m        map[string]entry
	capacity int
	seq      uint64

	clock clock.Clock
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source used to stamp entries.
func WithClock(c clock.Clock) Option {
	return func(tc *Cache) {
		tc.clock = c
	}
}

// New creates a cache holding at most capacity ids.
func New(capacity int, opts ...Option) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	tc := &Cache{
		m:        make(map[string]entry, capacity),
		capacity: capacity,
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// Add records id as seen. It reports whether id was new; an id that is
// already present keeps its original arrival time.
func (tc *Cache) Add(id string) bool {
	tc.lk.Lock()
	defer tc.lk.Unlock()

	if _, ok := tc.m[id]; ok {
		return false
	}

	if len(tc.m) >= tc.capacity {
		tc.evict()
	}

	tc.seq++
	tc.m[id] = entry{at: tc.clock.Now(), seq: tc.seq}
	return true
}

// Has reports whether id has been seen and not yet evicted.
func (tc *Cache) Has(id string) bool {
	tc.lk.Lock()
	defer tc.lk.Unlock()

	_, ok := tc.m[id]
	return ok
}

// Len returns the number of ids currently stored.
func (tc *Cache) Len() int {
	tc.lk.Lock()
	defer tc.lk.Unlock()

	return len(tc.m)
}

// Cap returns the configured capacity.
func (tc *Cache) Cap() int {
	return tc.capacity
}

// evict drops the oldest size/EvictionDivisor entries. Must hold tc.lk.
func (tc *Cache) evict() {
	size := len(tc.m)
	n := size / EvictionDivisor
	if n == 0 {
		n = 1
	}

	type kv struct {
		id string
		e  entry
	}
	all := make([]kv, 0, size)
	for id, e := range tc.m {
		all = append(all, kv{id, e})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].e.at.Equal(all[j].e.at) {
			return all[i].e.seq < all[j].e.seq
		}
		return all[i].e.at.Before(all[j].e.at)
	})

	for _, x := range all[:n] {
		delete(tc.m, x.id)
	}
	log.Debugf("evicted %d of %d seen message ids", n, size)
}
