package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartLine is one requested line of a cart. The engine does not know how
// carts are stored; it only consumes them.
type CartLine struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// OrderLineItem is a confirmed allocation: Quantity units were subtracted
// from stock for this product at the line's unit price. The order aggregate
// itself lives outside the engine.
type OrderLineItem struct {
	OrderID   uuid.UUID
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Shortage is the unmet portion of a cart line. A shortage alongside created
// line items is a normal allocation result, not an error.
type Shortage struct {
	ProductID int64
	Requested int
	Processed int
	Leftover  int
}

// OrderLine is one product/quantity pair of an external order, as seen by the
// reservation service.
type OrderLine struct {
	ProductID int64
	Quantity  int
}

// Order is the minimal view of the external order aggregate the engine needs
// for reservations.
type Order struct {
	ID    uuid.UUID
	Lines []OrderLine
}

// AllocationResult is the unit handed to delivery workers after an
// allocation commits.
type AllocationResult struct {
	OrderID   uuid.UUID
	Actor     string
	Items     []OrderLineItem
	Shortages []Shortage
}
