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

package consistenthash

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBucketIsStableForAFixedBucketCount(t *testing.T) {
	key := []byte("some-primary-key")
	first := Bucket(key, 12)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, Bucket(key, 12), "the same key must always land in the same bucket")
	}
}

func TestBucketIsWithinRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		b := Bucket(key, 7)
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, 7)
	}
}

func TestBucketDistributionIsRoughlyUniform(t *testing.T) {
	const buckets = 8
	const n = 20000
	counts := make([]int, buckets)
	for i := 0; i < n; i++ {
		counts[Bucket([]byte(fmt.Sprintf("row-%d", i)), buckets)]++
	}
	expected := n / buckets
	for _, c := range counts {
		require.InDelta(t, expected, c, float64(expected)/2, "bucket load should be roughly even")
	}
}

func TestBucketCountZeroIsSafe(t *testing.T) {
	require.Equal(t, 0, Bucket([]byte("x"), 0))
}
