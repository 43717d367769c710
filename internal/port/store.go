package port

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

// Tx is the scope of one atomic unit of work. Locks taken through a Tx are
// exclusive and held until the transaction commits or rolls back.
//
// Ordering contract: each Lock call sorts its own keys, and lock families are
// acquired in the fixed order transactions -> stock -> wallets. Services must
// not lock families in any other order.
type Tx interface {
	// LockStock returns the records for keys, locked exclusively. Records
	// absent from storage are created lazily with zero counters.
	LockStock(keys []domain.StockKey) (map[domain.StockKey]*domain.StockRecord, error)
	SaveStock(rec *domain.StockRecord) error
	AppendStockLog(entry *domain.StockLogEntry) error

	LockWallets(ids []uuid.UUID) (map[uuid.UUID]*domain.Wallet, error)
	SaveWallet(w *domain.Wallet) error
	AppendLedger(entry *domain.LedgerEntry) error

	LockTransaction(id uuid.UUID) (*domain.Transaction, error)
	SaveTransaction(t *domain.Transaction) error

	// ClaimMarker claims an idempotency marker exactly once. It returns false
	// if the marker was already claimed by a committed transaction. A claim
	// rolls back with the transaction that made it.
	ClaimMarker(key string) (bool, error)
}

// Store is the persistence port of the engine. All mutation happens inside
// WithinTx; the remaining methods are unlocked reads plus entity creation.
type Store interface {
	// WithinTx runs fn in one atomic transaction: every write fn performs is
	// committed together or not at all. Lock waits are bounded; exhaustion
	// surfaces domain.ErrResourceBusy with no partial state.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Stock(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error)
	StockLog(ctx context.Context, key domain.StockKey, limit int) ([]domain.StockLogEntry, error)

	CreateWallet(ctx context.Context, w *domain.Wallet) error
	Wallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	Ledger(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.LedgerEntry, error)

	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	PendingTransactionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error)
}
