package internal

import (
	"context"
	"io"
)

// Lister produces the ordered set of items a run will process
type Lister interface {
	ListItems(ctx context.Context) ([]ResourceItem, error)
}

// Fetcher performs the per-item operation. It never returns an error:
// every failure is folded into the outcome.
type Fetcher interface {
	FetchOne(ctx context.Context, item ResourceItem) FetchOutcome
}

// MetricsSink receives one outcome per processed item
type MetricsSink interface {
	Record(outcome FetchOutcome)
	Flush() error
}

// Storage persists downloaded zone files
type Storage interface {
	Store(ctx context.Context, name string, body io.Reader) (*StoredFile, error)
}

// RateLimiter controls bandwidth usage
type RateLimiter interface {
	Wait(ctx context.Context, n int) error
	SetRate(bytesPerSecond int64)
}
