package domain

import (
	"fmt"
	"time"
)

// StockKey identifies one stock record: a product held at a location.
type StockKey struct {
	ProductID  int64
	LocationID int64
}

func (k StockKey) String() string {
	return fmt.Sprintf("%d:%d", k.ProductID, k.LocationID)
}

// Less orders keys by (product, location). Every multi-record operation
// acquires its locks in this order so that concurrent callers cannot form a
// deadlock cycle.
func (k StockKey) Less(other StockKey) bool {
	if k.ProductID != other.ProductID {
		return k.ProductID < other.ProductID
	}
	return k.LocationID < other.LocationID
}

// StockRecord is the per (product, location) stock counter pair. Quantity is
// on-hand stock; Reserved is stock earmarked for orders but not yet consumed.
// Both must stay non-negative; mutations go through the engine services only.
type StockRecord struct {
	Key       StockKey
	Quantity  int
	Reserved  int
	UpdatedAt time.Time
}

func (r *StockRecord) CanDecrease(qty int) bool {
	return qty > 0 && r.Quantity >= qty
}

func (r *StockRecord) CanReleaseReserved(qty int) bool {
	return qty > 0 && r.Reserved >= qty
}

// CanConfirm reports whether qty reserved units can leave the location:
// both counters must cover the amount.
func (r *StockRecord) CanConfirm(qty int) bool {
	return qty > 0 && r.Reserved >= qty && r.Quantity >= qty
}

func (r *StockRecord) Increase(qty int) {
	r.Quantity += qty
	r.UpdatedAt = time.Now().UTC()
}

func (r *StockRecord) Decrease(qty int) {
	r.Quantity -= qty
	r.UpdatedAt = time.Now().UTC()
}

func (r *StockRecord) Reserve(qty int) {
	r.Reserved += qty
	r.UpdatedAt = time.Now().UTC()
}

func (r *StockRecord) ReleaseReserved(qty int) {
	r.Reserved -= qty
	r.UpdatedAt = time.Now().UTC()
}

// Confirm consumes reserved stock: the units physically leave the location.
func (r *StockRecord) Confirm(qty int) {
	r.Reserved -= qty
	r.Quantity -= qty
	r.UpdatedAt = time.Now().UTC()
}

func (r *StockRecord) SetQuantity(qty int) {
	r.Quantity = qty
	r.UpdatedAt = time.Now().UTC()
}

// Validate reports stored-state invariant violations.
func (r *StockRecord) Validate() error {
	if r.Quantity < 0 || r.Reserved < 0 {
		return fmt.Errorf("%w: stock %s quantity=%d reserved=%d",
			ErrCorruptedState, r.Key, r.Quantity, r.Reserved)
	}
	return nil
}

// StockAction is the audited kind of a stock mutation.
type StockAction string

const (
	ActionIncrease  StockAction = "increase"
	ActionDecrease  StockAction = "decrease"
	ActionReconcile StockAction = "reconcile"
)

// StockLogEntry is one row of the append-only stock audit trail. Entries are
// written in the same transaction as the mutation they describe and are never
// updated or deleted.
type StockLogEntry struct {
	ID               int64
	Key              StockKey
	Action           StockAction
	Amount           int
	PreviousQuantity int
	NewQuantity      int
	Actor            string
	CreatedAt        time.Time
}
