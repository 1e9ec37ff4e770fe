// Copyright 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dedup implements the tailer's C4 component: a bounded two-level
// check that suppresses re-delivery of rows a bounded-stale re-read can
// observe a second time at the `lastEmittedTs` boundary (spec.md §4.4).
//
// Unlike the teacher's own dedup call path -- created once at construction
// and never vacuumed, the call site even left commented out -- this one
// vacuums on a schedule and opportunistically on insertion, per spec.md
// §4.4 and the "Dedup structure lifetime" design note in spec.md §9.
package dedup

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	dolthubmaphash "github.com/dolthub/maphash"
	"github.com/robfig/cron/v3"
	"golang.org/x/exp/maps"

	"github.com/viktor-pecheniuk/spez2/pkg/logutil"
)

// Key is the 128-bit hash of (primaryKey, commitTs) named in spec.md §3.
type Key [16]byte

type entry struct {
	commitTs time.Time
}

// Filter is the two-level dedup structure of spec.md §4.4: an approximate
// set for the fast-path check and an exact map for disambiguation.
type Filter struct {
	mu       sync.Mutex
	approx   *approxSet
	exact    map[Key]entry
	hasher   dolthubmaphash.Hasher[string]
	capacity int
	ttl      time.Duration

	cron *cron.Cron

	suppressed uint64
	inserted   uint64
}

// Config parameterizes a Filter per the configuration options of spec.md §6.
type Config struct {
	MaxEventCount int
	EventCacheTTL time.Duration
	VacuumRate    time.Duration
	TargetFPR     float64 // defaults to 0.01, spec.md §4.4
}

// New builds a Filter sized for Config.MaxEventCount and starts its
// vacuum-rate cron schedule. Call Close to stop the schedule.
func New(cfg Config) *Filter {
	if cfg.TargetFPR <= 0 {
		cfg.TargetFPR = 0.01
	}
	f := &Filter{
		approx:   newApproxSet(cfg.MaxEventCount, cfg.TargetFPR),
		exact:    make(map[Key]entry, cfg.MaxEventCount),
		hasher:   dolthubmaphash.NewHasher[string](),
		capacity: cfg.MaxEventCount,
		ttl:      cfg.EventCacheTTL,
	}

	f.cron = cron.New()
	spec := "@every " + cfg.VacuumRate.String()
	if _, err := f.cron.AddFunc(spec, func() { f.Vacuum(time.Now()) }); err != nil {
		logutil.Errorf("dedup: failed to schedule vacuum %q: %v", spec, err)
	} else {
		f.cron.Start()
	}
	return f
}

// Close stops the vacuum schedule. The in-memory structures are simply
// garbage once the Filter is dropped; there is no persisted state to flush
// (spec.md §3, "Lifecycles").
func (f *Filter) Close() {
	if f.cron != nil {
		f.cron.Stop()
	}
}

// Key builds the 128-bit dedup key from a primary key and a commit
// timestamp, per spec.md §3: "128-bit hash of (primaryKey‖commitTs-as-string)".
// The two halves come from independent hash families (xxhash for the first
// 8 bytes, github.com/dolthub/maphash's typed Hasher -- seeded once per
// Filter, so repeated calls are consistent within a process lifetime -- for
// the second 8) so a weakness in one does not correlate into the other.
func (f *Filter) Key(primaryKey []byte, commitTs time.Time) Key {
	tsStr := commitTs.UTC().Format(time.RFC3339Nano)
	joined := make([]byte, 0, len(primaryKey)+1+len(tsStr))
	joined = append(joined, primaryKey...)
	joined = append(joined, 0)
	joined = append(joined, tsStr...)

	var k Key
	binary.BigEndian.PutUint64(k[0:8], xxhash.Sum64(joined))
	binary.BigEndian.PutUint64(k[8:16], f.hasher.Hash(string(joined)))
	return k
}

// IsFresh implements spec.md §4.4's isFresh(event): returns true exactly
// when the exact map does not contain the hash, and as a side effect
// inserts the hash into both structures. Capacity policy runs
// opportunistically when the exact map is at or over capacity.
func (f *Filter) IsFresh(key Key, commitTs time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	hex := keyString(key)
	if f.approx.mightContain(hex) {
		if _, found := f.exact[key]; found {
			f.suppressed++
			return false
		}
	}
	// approxSet hit without an exact-map entry is a false positive (or a
	// vacuumed-out entry); either way the row is fresh.
	fresh := true

	f.approx.add(hex)
	f.exact[key] = entry{commitTs: commitTs}
	f.inserted++

	if len(f.exact) >= f.capacity {
		f.vacuumLocked(time.Now())
	}
	return fresh
}

func keyString(k Key) string { return string(k[:]) }

// Vacuum removes entries older than now-TTL and rebuilds the approximate
// structure from the survivors, per spec.md §4.4. It is safe to call
// concurrently with IsFresh.
func (f *Filter) Vacuum(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vacuumLocked(now)
}

func (f *Filter) vacuumLocked(now time.Time) {
	cutoff := now.Add(-f.ttl)
	survivors := make(map[Key]entry, len(f.exact))
	for k, e := range f.exact {
		if e.commitTs.After(cutoff) {
			survivors[k] = e
		}
	}
	removed := len(f.exact) - len(survivors)
	f.exact = survivors

	rebuilt := newApproxSet(f.capacity, 0.01)
	for k := range survivors {
		rebuilt.add(keyString(k))
	}
	f.approx = rebuilt

	if removed > 0 {
		logutil.Infof("dedup: vacuum removed %d entries, %d survive", removed, len(survivors))
	}
}

// Stats reports running counters for observability.
func (f *Filter) Stats() (inserted, suppressed uint64, size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserted, f.suppressed, len(f.exact)
}

// Keys returns a snapshot of every key currently held in the exact map.
func (f *Filter) Keys() []Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Keys(f.exact)
}
