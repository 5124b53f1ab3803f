package domain

import (
	"context"
	"math/big"
)

// FeedFetcher performs a GET against a feed URL and decodes the JSON body into out.
type FeedFetcher interface {
	FetchJSON(ctx context.Context, url string, out any) error
}

// GasNode is the blockchain node used as the gas-price fallback.
type GasNode interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// KeyValueStore persists small string snapshots.
// GetValue returns found=false when the key was never written.
type KeyValueStore interface {
	GetValue(key string) (value string, found bool, err error)
	SetValue(key, value string) error
}

// Notifier publishes cache change topics.
type Notifier interface {
	Notify(topic Topic)
}

// FeedRecorder receives per-feed outcome counts.
type FeedRecorder interface {
	RecordFetch(feed string, err error)
	RecordDrop(feed string)
}
