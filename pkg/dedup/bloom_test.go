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
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApproxSetNoFalseNegatives(t *testing.T) {
	set := newApproxSet(1000, 0.01)
	inserted := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("key-%d", i)
		set.add(key)
		inserted = append(inserted, key)
	}
	for _, key := range inserted {
		require.True(t, set.mightContain(key), "a bloom filter must never produce a false negative")
	}
}

func TestApproxSetFalsePositiveRateIsBounded(t *testing.T) {
	const n = 2000
	set := newApproxSet(n, 0.01)
	for i := 0; i < n; i++ {
		set.add(fmt.Sprintf("in-%d", i))
	}

	falsePositives := 0
	const probes = 10000
	for i := 0; i < probes; i++ {
		if set.mightContain(fmt.Sprintf("out-%d", i)) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(probes)
	require.Less(t, rate, 0.05, "false positive rate should stay within a small multiple of the 1%% target")
}
