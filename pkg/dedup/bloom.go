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
	"math"
	"strconv"

	"github.com/spaolacci/murmur3"
)

// encryptor hashes a string into the [0, math.MaxInt32) range. Adapted from
// the teacher's pkg/util/bloom.go Encryptor, kept as a distinct type because
// approxSet needs to re-derive k offsets from a chained hash.
type encryptor struct{}

func (encryptor) hash(origin string) int32 {
	hasher := murmur3.New32()
	_, _ = hasher.Write([]byte(origin))
	return int32(hasher.Sum32() % math.MaxInt32)
}

// approxSet is a counting-free bloom filter: a bit array of m bits checked
// at k offsets per key. Sized so that at the configured maxEventCount
// capacity the false-positive rate stays at or below targetFPR (spec.md
// §4.4: "target false-positive rate ≤ 1%").
type approxSet struct {
	m, k int32
	bits []int32
	enc  encryptor
}

// newApproxSet sizes m and k from the standard bloom-filter optimum given a
// capacity and a target false-positive rate:
//
//	m = ceil(-capacity * ln(fpr) / ln(2)^2)
//	k = round(m/capacity * ln(2))
func newApproxSet(capacity int, targetFPR float64) *approxSet {
	if capacity < 1 {
		capacity = 1
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}
	fm := math.Ceil(-float64(capacity) * math.Log(targetFPR) / (math.Ln2 * math.Ln2))
	fk := math.Round(fm / float64(capacity) * math.Ln2)
	m := int32(math.Max(fm, 64))
	k := int32(math.Max(fk, 1))
	return &approxSet{
		m:    m,
		k:    k,
		bits: make([]int32, m/32+1),
	}
}

func (a *approxSet) offsets(key string) []int32 {
	offs := make([]int32, 0, a.k)
	val := key
	for i := int32(0); i < a.k; i++ {
		h := a.enc.hash(val)
		offs = append(offs, h%a.m)
		val = strconv.FormatInt(int64(h), 10)
	}
	return offs
}

// mightContain reports whether key was possibly inserted; false negatives
// are impossible, false positives occur at roughly targetFPR.
func (a *approxSet) mightContain(key string) bool {
	for _, off := range a.offsets(key) {
		idx, bit := off>>5, uint(off&31)
		if a.bits[idx]&(1<<bit) == 0 {
			return false
		}
	}
	return true
}

// add inserts key into the set.
func (a *approxSet) add(key string) {
	for _, off := range a.offsets(key) {
		idx, bit := off>>5, uint(off&31)
		a.bits[idx] |= 1 << bit
	}
}
