package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

// WalletService maintains wallet balances and their append-only ledger. The
// balance precondition is checked inside the wallet lock, immediately before
// commit; a wallet can never be observed or left negative.
type WalletService struct {
	store  port.Store
	actors port.ActorDirectory // optional owner verification
}

func NewWalletService(store port.Store, actors port.ActorDirectory) *WalletService {
	return &WalletService{store: store, actors: actors}
}

// CreateWallet opens a zero-balance wallet for exactly one user or business.
func (s *WalletService) CreateWallet(ctx context.Context, ownerType domain.OwnerType, ownerID uuid.UUID) (*domain.Wallet, error) {
	w, err := domain.NewWallet(ownerType, ownerID)
	if err != nil {
		return nil, err
	}
	if s.actors != nil {
		if err := s.actors.VerifyOwner(ctx, ownerType, ownerID); err != nil {
			return nil, fmt.Errorf("verify owner: %w", err)
		}
	}
	if err := s.store.CreateWallet(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *WalletService) Deposit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, description string) (*domain.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	var entry *domain.LedgerEntry
	err := runTx(ctx, s.store, func(tx port.Tx) error {
		wallets, err := tx.LockWallets([]uuid.UUID{walletID})
		if err != nil {
			return err
		}
		entry, err = creditWallet(tx, wallets[walletID], amount, nil, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *WalletService) Withdraw(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, description string) (*domain.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	var entry *domain.LedgerEntry
	err := runTx(ctx, s.store, func(tx port.Tx) error {
		wallets, err := tx.LockWallets([]uuid.UUID{walletID})
		if err != nil {
			return err
		}
		entry, err = debitWallet(tx, wallets[walletID], amount, nil, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Transfer moves amount between two wallets in one atomic unit. Both locks
// are acquired in ascending wallet id order, so two opposite-direction
// transfers cannot deadlock each other.
func (s *WalletService) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount decimal.Decimal, description string) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if fromID == toID {
		return fmt.Errorf("%w: transfer within one wallet", domain.ErrInvalidAmount)
	}

	return runTx(ctx, s.store, func(tx port.Tx) error {
		wallets, err := tx.LockWallets([]uuid.UUID{fromID, toID})
		if err != nil {
			return err
		}
		if _, err := debitWallet(tx, wallets[fromID], amount, nil, description); err != nil {
			return err
		}
		_, err = creditWallet(tx, wallets[toID], amount, nil, description)
		return err
	})
}

func (s *WalletService) Wallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	w, err := s.store.Wallet(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *WalletService) Ledger(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	return s.store.Ledger(ctx, walletID, limit)
}

// creditWallet and debitWallet mutate a locked wallet and append the ledger
// entry inside the caller's transaction. The transaction state machine uses
// them too, so there is exactly one implementation of the balance math.

func creditWallet(tx port.Tx, w *domain.Wallet, amount decimal.Decimal, transactionID *uuid.UUID, description string) (*domain.LedgerEntry, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	before := w.Balance
	w.Balance = before.Add(amount)
	w.UpdatedAt = time.Now().UTC()
	if err := tx.SaveWallet(w); err != nil {
		return nil, err
	}

	entry := &domain.LedgerEntry{
		ID:            uuid.New(),
		WalletID:      w.ID,
		TransactionID: transactionID,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  w.Balance,
		IsCredit:      true,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}
	if err := tx.AppendLedger(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func debitWallet(tx port.Tx, w *domain.Wallet, amount decimal.Decimal, transactionID *uuid.UUID, description string) (*domain.LedgerEntry, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if w.Balance.LessThan(amount) {
		return nil, domain.ErrInsufficientBalance
	}

	before := w.Balance
	w.Balance = before.Sub(amount)
	w.UpdatedAt = time.Now().UTC()
	if err := tx.SaveWallet(w); err != nil {
		return nil, err
	}

	entry := &domain.LedgerEntry{
		ID:            uuid.New(),
		WalletID:      w.ID,
		TransactionID: transactionID,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  w.Balance,
		IsCredit:      false,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}
	if err := tx.AppendLedger(entry); err != nil {
		return nil, err
	}
	return entry, nil
}
