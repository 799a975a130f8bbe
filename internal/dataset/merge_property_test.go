package dataset

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// barsFromSeeds maps arbitrary seeds onto a small key space so merges
// see plenty of collisions.
func barsFromSeeds(seeds []int64) []Bar {
	bars := make([]Bar, 0, len(seeds))
	for _, s := range seeds {
		if s < 0 {
			s = -s
		}
		bars = append(bars, Bar{
			Ticker:      "AAPL",
			TimestampMs: 1000 + (s % 5),
			Sequence:    (s / 5) % 7,
			Close:       float64(s),
			AdjClose:    float64(s),
		})
	}
	return bars
}

func TestProperty_MergeBatchingInvariance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	// Merging one combined batch equals merging the same rows in two
	// sequential batches.
	properties.Property("sequential batches equal one combined batch", prop.ForAll(
		func(seedsA, seedsB, seedsC []int64) bool {
			base := barsFromSeeds(seedsA)
			b1 := barsFromSeeds(seedsB)
			b2 := barsFromSeeds(seedsC)

			sequential := Merge(Merge(base, b1), b2)
			combined := Merge(base, append(append([]Bar{}, b1...), b2...))
			return reflect.DeepEqual(sequential, combined)
		},
		gen.SliceOf(gen.Int64Range(0, 1<<30)),
		gen.SliceOf(gen.Int64Range(0, 1<<30)),
		gen.SliceOf(gen.Int64Range(0, 1<<30)),
	))

	properties.Property("merge is idempotent", prop.ForAll(
		func(seeds []int64) bool {
			m := Merge(nil, barsFromSeeds(seeds))
			return reflect.DeepEqual(Merge(m, m), m)
		},
		gen.SliceOf(gen.Int64Range(0, 1<<30)),
	))

	properties.TestingRun(t)
}

func TestProperty_MergeKeepsMaxSequence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every surviving row carries its key's maximum sequence", prop.ForAll(
		func(seedsA, seedsB []int64) bool {
			existing := barsFromSeeds(seedsA)
			incoming := barsFromSeeds(seedsB)

			maxSeq := make(map[BarKey]int64)
			for _, b := range append(append([]Bar{}, existing...), incoming...) {
				k := b.Key()
				if cur, ok := maxSeq[k]; !ok || b.Sequence > cur {
					maxSeq[k] = b.Sequence
				}
			}

			out := Merge(existing, incoming)
			if len(out) != len(maxSeq) {
				return false
			}
			seen := make(map[BarKey]bool, len(out))
			for i := range out {
				k := out[i].Key()
				if seen[k] {
					return false // duplicate key survived
				}
				seen[k] = true
				if out[i].Sequence != maxSeq[k] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 1<<30)),
		gen.SliceOf(gen.Int64Range(0, 1<<30)),
	))

	properties.TestingRun(t)
}
