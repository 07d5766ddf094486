package llm

import (
	"context"
)

// ProviderStore provides read access to configured providers and their
// secrets. The query engine only ever reads through this interface; writes
// happen on a separate administrative path.
type ProviderStore interface {
	// Get returns the provider with the given id, or ErrProviderNotFound.
	Get(ctx context.Context, id string) (*Provider, error)

	// GetActiveWithKey returns the first active provider (by display order)
	// that has a non-empty API key, or ErrNoActiveProvider.
	GetActiveWithKey(ctx context.Context) (*Provider, string, error)

	// APIKey returns the stored secret for a provider ("" when unset).
	APIKey(ctx context.Context, id string) (string, error)

	// List returns every provider in display order.
	List(ctx context.Context) ([]ProviderView, error)
}

// Stream is an ordered sequence of text deltas from one query. Consumers
// call Next until it returns false, then check Err.
type Stream interface {
	// Next blocks until the next delta is available. It returns false when
	// the stream has ended, successfully or not.
	Next() bool

	// Delta returns the delta most recently made available by Next.
	Delta() StreamDelta

	// Err returns the terminal error, if any. Only meaningful after Next
	// has returned false.
	Err() error

	// Close aborts the stream and waits for its producer to exit. It is safe
	// to call more than once.
	Close() error
}
