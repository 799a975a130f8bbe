package dataset

import (
	"sort"
)

// Merge reconciles two row sets keyed by (ticker, timestamp). For each
// key the row with the higher sequence wins. On equal sequence the
// incoming row wins, and within one slice a later row beats an earlier
// one. The rule is last-write-wins with sequence as the authority, so
// replaying a stale fetch can never roll a partition backwards.
//
// The result is sorted timestamp-ascending with ticker as tiebreak.
func Merge(existing, incoming []Bar) []Bar {
	merged := make(map[BarKey]Bar, len(existing)+len(incoming))

	for _, b := range existing {
		k := b.Key()
		if cur, ok := merged[k]; !ok || b.Sequence >= cur.Sequence {
			merged[k] = b
		}
	}
	for _, b := range incoming {
		k := b.Key()
		if cur, ok := merged[k]; !ok || b.Sequence >= cur.Sequence {
			merged[k] = b
		}
	}

	out := make([]Bar, 0, len(merged))
	for _, b := range merged {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimestampMs != out[j].TimestampMs {
			return out[i].TimestampMs < out[j].TimestampMs
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out
}

// MergeFrames is Merge lifted to frames.
func MergeFrames(existing, incoming *Frame) *Frame {
	var e, n []Bar
	if existing != nil {
		e = existing.Rows
	}
	if incoming != nil {
		n = incoming.Rows
	}
	return &Frame{Rows: Merge(e, n)}
}
