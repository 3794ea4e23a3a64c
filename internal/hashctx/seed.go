// Copyright 2026 The Hashcore Authors
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

package hashctx

// MaxDepth bounds how many repartitioning levels a seed table precomputes.
// Matches spec.md §3's MAX_DEPTH constant used by PartitionedOperator.
const MaxDepth = 16

// multipliers is the fixed table of large odd numbers used to derive
// seed[k] = seed[k-1] * multipliers[k]. Values are arbitrary large odd
// 64-bit constants (so the multiplication is always invertible mod 2^64
// and never collapses the seed to zero); picked the way
// daviszhen-plan/hash.go picks its murmur finalizer constant
// (0xd6e8feb86659fd93): large, odd, no small factors.
var multipliers = [MaxDepth + 1]uint64{
	0x9e3779b97f4a7c15, 0xbf58476d1ce4e5b9, 0x94d049bb133111eb, 0xd6e8feb86659fd93,
	0xa24baed4963ee407, 0x9fb21c651e98df25, 0xc2b2ae3d27d4eb4f, 0x165667b19e3779f9,
	0x27d4eb2f165667c5, 0xff51afd7ed558ccd, 0xc4ceb9fe1a85ec53, 0x2545f4914f6cdd1d,
	0x8e28c9b8257a7c3b, 0xb5026f5aa96619e9, 0x3c79ac492ba7b653, 0x1d8e4e27c47d124f,
	0x632be59bd9b4e019,
}

// SeedTable returns seed[0..MaxDepth] derived from a non-zero initialSeed
// per spec.md §3: seed[0] = initialSeed, seed[k] = seed[k-1] * P[k]. All
// entries are guaranteed pairwise distinct (property 5 in spec.md §8) as
// long as initialSeed is non-zero, because each multiplier is odd (hence a
// unit mod 2^64) and the table has no repeated multiplier.
func SeedTable(initialSeed uint32) [MaxDepth + 1]uint64 {
	var seeds [MaxDepth + 1]uint64
	seed := uint64(initialSeed)
	if seed == 0 {
		seed = 0x9e3779b97f4a7c15
	}
	seeds[0] = seed
	for k := 1; k <= MaxDepth; k++ {
		seeds[k] = seeds[k-1] * multipliers[k]
		if seeds[k] == 0 {
			seeds[k] = multipliers[k]
		}
	}
	return seeds
}
