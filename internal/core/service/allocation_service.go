package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

// AllocationService converts cart lines into order line items against the
// primary location's on-hand stock. Partial fulfillment is a normal result;
// the whole call fails only when no line can be fulfilled at all.
//
// Committed allocations are pushed onto a delivery queue for the order
// collaborator; the caller owns draining it (see DeliveryQueue). When the
// queue is full, Allocate holds the committed result until there is room or
// the caller's context is done, whichever comes first.
type AllocationService struct {
	store           port.Store
	cache           port.CacheRepository // optional, advisory only
	primaryLocation int64
	deliveries      chan domain.AllocationResult
}

func NewAllocationService(store port.Store, cache port.CacheRepository, primaryLocation int64, queueSize int) *AllocationService {
	return &AllocationService{
		store:           store,
		cache:           cache,
		primaryLocation: primaryLocation,
		deliveries:      make(chan domain.AllocationResult, queueSize),
	}
}

// AllocateFromCart fetches the actor's cart from the provider and allocates
// its lines.
func (s *AllocationService) AllocateFromCart(ctx context.Context, carts port.CartProvider, actor string, orderID uuid.UUID) ([]domain.OrderLineItem, []domain.Shortage, error) {
	lines, err := carts.CartLines(ctx, actor)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch cart: %w", err)
	}
	return s.Allocate(ctx, actor, orderID, lines)
}

// Allocate locks the stock records for all distinct products in ascending
// key order, decides each line's fulfillable quantity under those locks, and
// applies the decrements plus their audit entries in one atomic transaction.
func (s *AllocationService) Allocate(ctx context.Context, actor string, orderID uuid.UUID, lines []domain.CartLine) ([]domain.OrderLineItem, []domain.Shortage, error) {
	if len(lines) == 0 {
		return nil, nil, domain.ErrAllocationImpossible
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, nil, domain.ErrInvalidAmount
		}
	}

	keys := s.distinctKeys(lines)

	if s.soldOutByMirror(ctx, keys) {
		return nil, nil, domain.ErrAllocationImpossible
	}

	var (
		items     []domain.OrderLineItem
		shortages []domain.Shortage
	)
	err := runTx(ctx, s.store, func(tx port.Tx) error {
		items = items[:0]
		shortages = shortages[:0]

		records, err := tx.LockStock(keys)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := rec.Validate(); err != nil {
				return err
			}
		}

		dirty := make(map[domain.StockKey]bool, len(records))
		for _, line := range lines {
			key := domain.StockKey{ProductID: line.ProductID, LocationID: s.primaryLocation}
			rec := records[key]

			available := rec.Quantity
			if available <= 0 {
				shortages = append(shortages, domain.Shortage{
					ProductID: line.ProductID,
					Requested: line.Quantity,
					Processed: 0,
					Leftover:  line.Quantity,
				})
				continue
			}

			toProcess := line.Quantity
			if toProcess > available {
				toProcess = available
			}

			prev := rec.Quantity
			rec.Decrease(toProcess)
			dirty[key] = true
			if err := tx.AppendStockLog(&domain.StockLogEntry{
				Key:              key,
				Action:           domain.ActionDecrease,
				Amount:           toProcess,
				PreviousQuantity: prev,
				NewQuantity:      rec.Quantity,
				Actor:            actor,
				CreatedAt:        time.Now().UTC(),
			}); err != nil {
				return err
			}

			items = append(items, domain.OrderLineItem{
				OrderID:   orderID,
				ProductID: line.ProductID,
				Quantity:  toProcess,
				UnitPrice: line.UnitPrice,
			})
			if toProcess < line.Quantity {
				shortages = append(shortages, domain.Shortage{
					ProductID: line.ProductID,
					Requested: line.Quantity,
					Processed: toProcess,
					Leftover:  line.Quantity - toProcess,
				})
			}
		}

		if len(items) == 0 {
			return domain.ErrAllocationImpossible
		}

		for key := range dirty {
			if err := tx.SaveStock(records[key]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	// Keep the advisory mirror in step. Mirror failures do not affect the
	// committed allocation.
	if s.cache != nil {
		for _, item := range items {
			key := domain.StockKey{ProductID: item.ProductID, LocationID: s.primaryLocation}
			_ = s.cache.AdjustAvailable(ctx, key, -item.Quantity)
		}
	}

	// The allocation is already committed. If the queue is full and the
	// caller's context expires first, the delivery is dropped rather than
	// blocking the request forever.
	select {
	case s.deliveries <- domain.AllocationResult{
		OrderID:   orderID,
		Actor:     actor,
		Items:     items,
		Shortages: shortages,
	}:
	case <-ctx.Done():
	}

	return items, shortages, nil
}

// DeliveryQueue exposes committed allocations for the order collaborator
// workers.
func (s *AllocationService) DeliveryQueue() <-chan domain.AllocationResult {
	return s.deliveries
}

func (s *AllocationService) Close() {
	close(s.deliveries)
}

func (s *AllocationService) distinctKeys(lines []domain.CartLine) []domain.StockKey {
	seen := make(map[domain.StockKey]bool, len(lines))
	keys := make([]domain.StockKey, 0, len(lines))
	for _, line := range lines {
		key := domain.StockKey{ProductID: line.ProductID, LocationID: s.primaryLocation}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// soldOutByMirror is the fast path: reject without opening a transaction
// only when the mirror has an entry for every key and all of them are empty.
func (s *AllocationService) soldOutByMirror(ctx context.Context, keys []domain.StockKey) bool {
	if s.cache == nil {
		return false
	}
	for _, key := range keys {
		qty, found, err := s.cache.Available(ctx, key)
		if err != nil || !found || qty > 0 {
			return false
		}
	}
	return true
}
