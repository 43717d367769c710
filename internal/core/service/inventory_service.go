package service

import (
	"context"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

// InventoryService owns the per-record stock counters. Every mutation runs
// under an exclusive lock on the record and writes one audit log entry in the
// same transaction. Committed quantities are written through to the advisory
// availability mirror when one is configured.
type InventoryService struct {
	store port.Store
	cache port.CacheRepository // optional availability mirror
}

func NewInventoryService(store port.Store, cache port.CacheRepository) *InventoryService {
	return &InventoryService{store: store, cache: cache}
}

// mirror refreshes the cached quantity after a committed mutation. Mirror
// failures never affect the mutation itself.
func (s *InventoryService) mirror(ctx context.Context, rec *domain.StockRecord) {
	if s.cache != nil {
		_ = s.cache.SetAvailable(ctx, rec.Key, rec.Quantity)
	}
}

// Increase adds amount units of on-hand stock.
func (s *InventoryService) Increase(ctx context.Context, key domain.StockKey, amount int, actor string) (*domain.StockRecord, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var result *domain.StockRecord
	err := runTx(ctx, s.store, func(tx port.Tx) error {
		records, err := tx.LockStock([]domain.StockKey{key})
		if err != nil {
			return err
		}
		rec := records[key]
		if err := rec.Validate(); err != nil {
			return err
		}

		prev := rec.Quantity
		rec.Increase(amount)
		if err := tx.SaveStock(rec); err != nil {
			return err
		}
		if err := tx.AppendStockLog(&domain.StockLogEntry{
			Key:              key,
			Action:           domain.ActionIncrease,
			Amount:           amount,
			PreviousQuantity: prev,
			NewQuantity:      rec.Quantity,
			Actor:            actor,
			CreatedAt:        time.Now().UTC(),
		}); err != nil {
			return err
		}

		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.mirror(ctx, result)
	return result, nil
}

// Decrease removes amount units of on-hand stock. The precondition check and
// the decrement happen under the same lock; there is no separate read.
func (s *InventoryService) Decrease(ctx context.Context, key domain.StockKey, amount int, actor string) (*domain.StockRecord, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var result *domain.StockRecord
	err := runTx(ctx, s.store, func(tx port.Tx) error {
		records, err := tx.LockStock([]domain.StockKey{key})
		if err != nil {
			return err
		}
		rec := records[key]
		if err := rec.Validate(); err != nil {
			return err
		}
		if !rec.CanDecrease(amount) {
			return domain.ErrInsufficientStock
		}

		prev := rec.Quantity
		rec.Decrease(amount)
		if err := tx.SaveStock(rec); err != nil {
			return err
		}
		if err := tx.AppendStockLog(&domain.StockLogEntry{
			Key:              key,
			Action:           domain.ActionDecrease,
			Amount:           amount,
			PreviousQuantity: prev,
			NewQuantity:      rec.Quantity,
			Actor:            actor,
			CreatedAt:        time.Now().UTC(),
		}); err != nil {
			return err
		}

		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.mirror(ctx, result)
	return result, nil
}

// Reconcile overwrites the on-hand quantity with an absolute value, for
// administrative stock counts. Negative values are rejected; the insufficient
// stock precondition does not apply.
func (s *InventoryService) Reconcile(ctx context.Context, key domain.StockKey, newQuantity int, actor string) (*domain.StockRecord, error) {
	if newQuantity < 0 {
		return nil, domain.ErrInvalidAmount
	}

	var result *domain.StockRecord
	err := runTx(ctx, s.store, func(tx port.Tx) error {
		records, err := tx.LockStock([]domain.StockKey{key})
		if err != nil {
			return err
		}
		rec := records[key]

		prev := rec.Quantity
		rec.SetQuantity(newQuantity)
		if err := tx.SaveStock(rec); err != nil {
			return err
		}
		if err := tx.AppendStockLog(&domain.StockLogEntry{
			Key:              key,
			Action:           domain.ActionReconcile,
			Amount:           newQuantity - prev,
			PreviousQuantity: prev,
			NewQuantity:      newQuantity,
			Actor:            actor,
			CreatedAt:        time.Now().UTC(),
		}); err != nil {
			return err
		}

		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.mirror(ctx, result)
	return result, nil
}

func (s *InventoryService) Record(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error) {
	return s.store.Stock(ctx, key)
}

func (s *InventoryService) History(ctx context.Context, key domain.StockKey, limit int) ([]domain.StockLogEntry, error) {
	return s.store.StockLog(ctx, key, limit)
}
