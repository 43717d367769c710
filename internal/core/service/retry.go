package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

const (
	lockRetryAttempts  = 3
	lockRetryBaseDelay = 25 * time.Millisecond
)

// runTx executes fn through store.WithinTx, retrying with jittered backoff
// when the only failure is lock contention. Any other error, including
// context cancellation, is returned immediately.
func runTx(ctx context.Context, store port.Store, fn func(tx port.Tx) error) error {
	var err error
	for attempt := 0; attempt < lockRetryAttempts; attempt++ {
		if attempt > 0 {
			delay := lockRetryBaseDelay << (attempt - 1)
			delay += time.Duration(rand.Int63n(int64(lockRetryBaseDelay)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = store.WithinTx(ctx, fn)
		if !errors.Is(err, domain.ErrResourceBusy) {
			return err
		}
	}
	return err
}
