// Package source fetches bar rows from an upstream market data
// provider.
//
// The scheduler talks to the Source interface only; HTTPSource is the
// production implementation. Fetched rows carry no sequence number:
// sequence stamping belongs to the run that stores them.
package source

import (
	"context"

	"github.com/tickvault/tickvault/internal/dataset"
)

// Window bounds one incremental fetch in epoch milliseconds. Zero
// bounds are omitted from the request: a zero StartMs asks for full
// history, a zero EndMs for everything up to now.
type Window struct {
	StartMs int64
	EndMs   int64
}

// Source produces rows for one ticker and interval.
type Source interface {
	Fetch(ctx context.Context, ticker, interval string, w Window) ([]dataset.Bar, error)
}
