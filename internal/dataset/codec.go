package dataset

import (
	"math"
	"strings"
)

// Codec defines how one dataset's rows are shaped for storage. The
// storage backend is written against this interface so datasets beyond
// OHLCV bars can plug in without touching partition logic.
type Codec interface {
	// Empty returns a zero-row frame with the canonical column shape.
	Empty() *Frame

	// Normalize returns a cleaned copy of the frame: tickers canonical,
	// unstorable rows dropped, derived fields repaired.
	Normalize(f *Frame) *Frame

	// Columns returns the canonical column order of the dataset.
	Columns() []string
}

// BarCodec is the Codec for OHLCV bars.
type BarCodec struct{}

// Empty returns a zero-row bar frame.
func (BarCodec) Empty() *Frame {
	return &Frame{Rows: []Bar{}}
}

// Normalize upper-cases tickers, drops rows without a ticker or with a
// non-positive timestamp, substitutes close for a missing adjusted close,
// and clamps negative volume to zero.
func (BarCodec) Normalize(f *Frame) *Frame {
	if f == nil {
		return BarCodec{}.Empty()
	}

	out := make([]Bar, 0, len(f.Rows))
	for _, b := range f.Rows {
		b.Ticker = strings.ToUpper(strings.TrimSpace(b.Ticker))
		if b.Ticker == "" || b.TimestampMs <= 0 {
			continue
		}
		if math.IsNaN(b.AdjClose) || b.AdjClose == 0 {
			b.AdjClose = b.Close
		}
		if b.Volume < 0 {
			b.Volume = 0
		}
		out = append(out, b)
	}
	return &Frame{Rows: out}
}

// Columns returns the bar column order as persisted.
func (BarCodec) Columns() []string {
	return []string{
		"ticker",
		"timestamp_ms",
		"open",
		"high",
		"low",
		"close",
		"adj_close",
		"volume",
		"sequence",
	}
}
