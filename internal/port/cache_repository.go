package port

import (
	"context"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

// CacheRepository is an advisory mirror of stock availability plus a cheap
// replay filter. It is never the source of truth: allocation decisions are
// made under store locks, and the mirror only short-circuits obvious
// sold-out requests and obvious replays before a transaction is opened.
type CacheRepository interface {
	// SetAvailable seeds or overwrites the mirrored on-hand quantity.
	SetAvailable(ctx context.Context, key domain.StockKey, quantity int) error

	// Available returns the mirrored quantity; found is false when the key
	// has no mirror entry.
	Available(ctx context.Context, key domain.StockKey) (quantity int, found bool, err error)

	// AdjustAvailable applies a delta to an existing mirror entry. Keys
	// without an entry are left absent so the mirror never invents stock.
	AdjustAvailable(ctx context.Context, key domain.StockKey, delta int) error

	// ClaimOnce sets a marker if it does not exist, returning false when it
	// already did.
	ClaimOnce(ctx context.Context, marker string) (bool, error)

	// ReleaseClaim frees a marker so the operation it guarded can be retried
	// after a rolled-back attempt.
	ReleaseClaim(ctx context.Context, marker string) error
}
