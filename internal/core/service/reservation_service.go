package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

// ReservationService earmarks stock in a staging location ahead of physical
// fulfillment. Each operation is applied at most once per order: a marker is
// claimed in the same transaction as the mutation, so a replayed call fails
// with DuplicateApplication and a rolled-back attempt keeps its marker free.
type ReservationService struct {
	store           port.Store
	cache           port.CacheRepository // optional replay pre-filter
	stagingLocation int64
}

func NewReservationService(store port.Store, cache port.CacheRepository, stagingLocation int64) *ReservationService {
	return &ReservationService{store: store, cache: cache, stagingLocation: stagingLocation}
}

// Reserve increments the reserved counter on the staging record of every
// order line. On-hand quantity is untouched; the stock is still physically
// present upstream.
func (s *ReservationService) Reserve(ctx context.Context, order domain.Order) error {
	if err := s.validateOrder(order); err != nil {
		return err
	}
	return s.apply(ctx, order, "reserve", func(tx port.Tx, rec *domain.StockRecord, qty int) error {
		rec.Reserve(qty)
		return nil
	})
}

// Release returns reserved units without consuming stock, for orders
// cancelled before fulfillment.
func (s *ReservationService) Release(ctx context.Context, order domain.Order) error {
	if err := s.validateOrder(order); err != nil {
		return err
	}
	return s.apply(ctx, order, "release", func(tx port.Tx, rec *domain.StockRecord, qty int) error {
		if !rec.CanReleaseReserved(qty) {
			return fmt.Errorf("%w: release of %d exceeds reserved %d on %s",
				domain.ErrCorruptedState, qty, rec.Reserved, rec.Key)
		}
		rec.ReleaseReserved(qty)
		return nil
	})
}

// Confirm consumes the reservation: reserved and on-hand quantity drop
// together and a decrease entry is written per product.
func (s *ReservationService) Confirm(ctx context.Context, order domain.Order) error {
	if err := s.validateOrder(order); err != nil {
		return err
	}
	actor := "order:" + order.ID.String()
	return s.apply(ctx, order, "confirm", func(tx port.Tx, rec *domain.StockRecord, qty int) error {
		if !rec.CanConfirm(qty) {
			if rec.Reserved < qty {
				return fmt.Errorf("%w: confirm of %d exceeds reserved %d on %s",
					domain.ErrCorruptedState, qty, rec.Reserved, rec.Key)
			}
			return domain.ErrInsufficientStock
		}

		prev := rec.Quantity
		rec.Confirm(qty)
		return tx.AppendStockLog(&domain.StockLogEntry{
			Key:              rec.Key,
			Action:           domain.ActionDecrease,
			Amount:           qty,
			PreviousQuantity: prev,
			NewQuantity:      rec.Quantity,
			Actor:            actor,
			CreatedAt:        time.Now().UTC(),
		})
	})
}

func (s *ReservationService) validateOrder(order domain.Order) error {
	if len(order.Lines) == 0 {
		return domain.ErrInvalidAmount
	}
	for _, line := range order.Lines {
		if line.Quantity <= 0 {
			return domain.ErrInvalidAmount
		}
	}
	return nil
}

func (s *ReservationService) apply(ctx context.Context, order domain.Order, op string,
	mutate func(tx port.Tx, rec *domain.StockRecord, qty int) error) error {

	marker := fmt.Sprintf("resv:%s:%s", op, order.ID)

	// Cheap replay rejection before opening a transaction. The in-tx marker
	// below stays authoritative; a rolled-back attempt frees its claim again.
	claimedFilter := false
	if s.cache != nil {
		ok, err := s.cache.ClaimOnce(ctx, marker)
		if err == nil && !ok {
			return domain.ErrDuplicateApplication
		}
		claimedFilter = err == nil && ok
	}

	keys := make([]domain.StockKey, 0, len(order.Lines))
	qtyByKey := make(map[domain.StockKey]int, len(order.Lines))
	for _, line := range order.Lines {
		key := domain.StockKey{ProductID: line.ProductID, LocationID: s.stagingLocation}
		if qtyByKey[key] == 0 {
			keys = append(keys, key)
		}
		qtyByKey[key] += line.Quantity
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	err := runTx(ctx, s.store, func(tx port.Tx) error {
		claimed, err := tx.ClaimMarker(marker)
		if err != nil {
			return err
		}
		if !claimed {
			return domain.ErrDuplicateApplication
		}

		records, err := tx.LockStock(keys)
		if err != nil {
			return err
		}
		for _, key := range keys {
			rec := records[key]
			if err := rec.Validate(); err != nil {
				return err
			}
			if err := mutate(tx, rec, qtyByKey[key]); err != nil {
				return err
			}
			if err := tx.SaveStock(rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && claimedFilter {
		_ = s.cache.ReleaseClaim(ctx, marker)
	}
	return err
}
