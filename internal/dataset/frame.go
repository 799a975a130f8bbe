package dataset

import (
	"sort"
)

// Frame is an ordered collection of bars. The zero value is usable; an
// empty frame with canonical columns comes from Codec.Empty.
type Frame struct {
	Rows []Bar
}

// NewFrame wraps rows in a frame without copying.
func NewFrame(rows []Bar) *Frame {
	return &Frame{Rows: rows}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// IsEmpty returns true if the frame has no rows.
func (f *Frame) IsEmpty() bool {
	return f.Len() == 0
}

// Append adds rows to the frame.
func (f *Frame) Append(rows ...Bar) {
	f.Rows = append(f.Rows, rows...)
}

// SortByTime orders rows timestamp-ascending. The sort is stable so rows
// sharing a timestamp keep their relative order.
func (f *Frame) SortByTime() {
	sort.SliceStable(f.Rows, func(i, j int) bool {
		if f.Rows[i].TimestampMs != f.Rows[j].TimestampMs {
			return f.Rows[i].TimestampMs < f.Rows[j].TimestampMs
		}
		return f.Rows[i].Ticker < f.Rows[j].Ticker
	})
}

// LastTimestamp returns the maximum timestamp in the frame, or 0 for an
// empty frame. Fetch scheduling uses this as the freshness watermark.
func (f *Frame) LastTimestamp() int64 {
	var last int64
	for i := range f.Rows {
		if f.Rows[i].TimestampMs > last {
			last = f.Rows[i].TimestampMs
		}
	}
	return last
}
