package port

import (
	"context"

	"github.com/google/uuid"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

// CartProvider yields the cart lines for an actor. Cart storage is outside
// the engine.
type CartProvider interface {
	CartLines(ctx context.Context, actor string) ([]domain.CartLine, error)
}

// OrderCollaborator is the external order aggregate. The engine pushes
// allocated line items to it and reports payment outcomes; it never reaches
// into order storage.
type OrderCollaborator interface {
	AttachLineItems(ctx context.Context, orderID uuid.UUID, items []domain.OrderLineItem) error
	OrderPaid(ctx context.Context, orderID uuid.UUID) error
	OrderPaymentFailed(ctx context.Context, orderID uuid.UUID) error
}

// ActorDirectory resolves wallet ownership: it confirms that the owner
// exists and is exactly one of user or business.
type ActorDirectory interface {
	VerifyOwner(ctx context.Context, ownerType domain.OwnerType, ownerID uuid.UUID) error
}
