// Package dataset defines the row model of the store: OHLCV bars, the
// frames that carry them, and the merge rule that reconciles overlapping
// fetches of the same series.
package dataset

import (
	"time"
)

// Bar is one OHLCV row of a ticker's series in Parquet format.
type Bar struct {
	Ticker      string  `parquet:"ticker,zstd" json:"ticker"`
	TimestampMs int64   `parquet:"timestamp_ms" json:"timestamp_ms"`
	Open        float64 `parquet:"open" json:"open"`
	High        float64 `parquet:"high" json:"high"`
	Low         float64 `parquet:"low" json:"low"`
	Close       float64 `parquet:"close" json:"close"`
	AdjClose    float64 `parquet:"adj_close" json:"adj_close"`
	Volume      int64   `parquet:"volume" json:"volume"`
	Sequence    int64   `parquet:"sequence" json:"sequence"`
}

// BarKey identifies one bar within a series. Two bars with the same key
// describe the same (ticker, timestamp) observation at different fetch
// times and are reconciled by Merge.
type BarKey struct {
	Ticker      string
	TimestampMs int64
}

// Key returns the bar's identity key.
func (b *Bar) Key() BarKey {
	return BarKey{Ticker: b.Ticker, TimestampMs: b.TimestampMs}
}

// Time returns the bar's timestamp as UTC time.
func (b *Bar) Time() time.Time {
	return time.UnixMilli(b.TimestampMs).UTC()
}
