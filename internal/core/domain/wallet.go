package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OwnerType discriminates who holds a wallet. A wallet belongs to exactly
// one user or exactly one business, never both and never neither.
type OwnerType string

const (
	OwnerUser     OwnerType = "user"
	OwnerBusiness OwnerType = "business"
)

// Wallet is a balance-holding account. Balance is mutated only through the
// ledger operations, under an exclusive lock, and never goes negative.
type Wallet struct {
	ID        uuid.UUID
	OwnerType OwnerType
	OwnerID   uuid.UUID
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewWallet(ownerType OwnerType, ownerID uuid.UUID) (*Wallet, error) {
	if ownerType != OwnerUser && ownerType != OwnerBusiness {
		return nil, ErrInvalidOwner
	}
	if ownerID == uuid.Nil {
		return nil, ErrInvalidOwner
	}
	now := time.Now().UTC()
	return &Wallet{
		ID:        uuid.New(),
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate halts processing of a wallet whose stored balance is already
// negative. That state cannot be produced by the engine and is not repaired.
func (w *Wallet) Validate() error {
	if w.Balance.IsNegative() {
		return fmt.Errorf("%w: wallet %s balance=%s", ErrCorruptedState, w.ID, w.Balance)
	}
	return nil
}

// LedgerEntry is one immutable record of a balance change. The running sum of
// a wallet's entries always equals its current balance.
type LedgerEntry struct {
	ID            uuid.UUID
	WalletID      uuid.UUID
	TransactionID *uuid.UUID
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	IsCredit      bool
	Description   string
	CreatedAt     time.Time
}

// Balanced reports whether the entry's arithmetic holds:
// after == before + amount for credits, before - amount for debits.
func (e *LedgerEntry) Balanced() bool {
	if e.IsCredit {
		return e.BalanceAfter.Equal(e.BalanceBefore.Add(e.Amount))
	}
	return e.BalanceAfter.Equal(e.BalanceBefore.Sub(e.Amount))
}
