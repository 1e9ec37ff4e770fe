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

package dedup

import (
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
)

func newTestFilter(t *testing.T) *Filter {
	t.Helper()
	f := New(Config{
		MaxEventCount: 1000,
		EventCacheTTL: time.Hour,
		VacuumRate:    time.Hour,
	})
	t.Cleanup(f.Close)
	return f
}

func TestFilterIsFreshFirstSeen(t *testing.T) {
	f := newTestFilter(t)
	now := time.Now()
	key := f.Key([]byte("pk-1"), now)

	require.True(t, f.IsFresh(key, now), "first observation must be fresh")
}

func TestFilterIsFreshSuppressesRepeat(t *testing.T) {
	f := newTestFilter(t)
	now := time.Now()
	key := f.Key([]byte("pk-1"), now)

	require.True(t, f.IsFresh(key, now))
	require.False(t, f.IsFresh(key, now), "a repeated (pk, commitTs) pair must be suppressed")

	_, suppressed, _ := f.Stats()
	require.Equal(t, uint64(1), suppressed)
}

func TestFilterKeyDistinguishesCommitTimestamps(t *testing.T) {
	f := newTestFilter(t)
	t1 := time.Now()
	t2 := t1.Add(time.Second)

	k1 := f.Key([]byte("pk-1"), t1)
	k2 := f.Key([]byte("pk-1"), t2)
	require.NotEqual(t, k1, k2, "different commit timestamps for the same key must hash differently")
}

func TestFilterVacuumRemovesExpiredEntries(t *testing.T) {
	f := newTestFilter(t)
	old := time.Now().Add(-2 * time.Hour)
	key := f.Key([]byte("pk-1"), old)
	require.True(t, f.IsFresh(key, old))

	f.Vacuum(time.Now())

	_, _, size := f.Stats()
	require.Equal(t, 0, size, "entries older than the TTL must be vacuumed")
}

func TestFilterKeysReturnsCurrentSnapshot(t *testing.T) {
	f := newTestFilter(t)
	now := time.Now()
	k1 := f.Key([]byte("pk-1"), now)
	k2 := f.Key([]byte("pk-2"), now)
	f.IsFresh(k1, now)
	f.IsFresh(k2, now)

	keys := f.Keys()
	require.Len(t, keys, 2)
	require.Contains(t, keys, k1)
	require.Contains(t, keys, k2)
}

func TestFilterBehavior(t *testing.T) {
	convey.Convey("Given a dedup filter with a short TTL", t, func() {
		f := New(Config{
			MaxEventCount: 10,
			EventCacheTTL: 50 * time.Millisecond,
			VacuumRate:    time.Hour,
		})
		defer f.Close()
		now := time.Now()

		convey.Convey("a fresh (primaryKey, commitTs) pair is accepted exactly once", func() {
			key := f.Key([]byte("row-a"), now)
			convey.So(f.IsFresh(key, now), convey.ShouldBeTrue)
			convey.So(f.IsFresh(key, now), convey.ShouldBeFalse)
		})

		convey.Convey("two different primary keys at the same commit timestamp do not collide", func() {
			keyA := f.Key([]byte("row-a"), now)
			keyB := f.Key([]byte("row-b"), now)
			convey.So(keyA, convey.ShouldNotEqual, keyB)
			convey.So(f.IsFresh(keyA, now), convey.ShouldBeTrue)
			convey.So(f.IsFresh(keyB, now), convey.ShouldBeTrue)
		})
	})
}
