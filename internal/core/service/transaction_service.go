package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

// TransactionService drives the monetary transaction state machine. A
// transaction starts pending; the payment gateway later reports the outcome
// through MarkSuccess or MarkFailed. Success applies exactly one wallet
// mutation in the same transaction as the status flip, so a crash or replay
// can never pay a wallet twice.
type TransactionService struct {
	store  port.Store
	orders port.OrderCollaborator // optional payment callbacks
}

func NewTransactionService(store port.Store, orders port.OrderCollaborator) *TransactionService {
	return &TransactionService{store: store, orders: orders}
}

// Create opens a pending transaction. Transfer-type transactions are not
// created here: transfers settle synchronously through WalletService.Transfer
// and have no gateway-driven lifecycle.
func (s *TransactionService) Create(ctx context.Context, txType domain.TransactionType, walletID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	switch txType {
	case domain.TransactionDeposit, domain.TransactionWithdraw, domain.TransactionPayment:
	default:
		return nil, fmt.Errorf("%w: cannot open a %s transaction", domain.ErrInvalidTransition, txType)
	}
	if _, err := s.store.Wallet(ctx, walletID); err != nil {
		return nil, err
	}

	t := domain.NewTransaction(txType, walletID, amount, orderID)
	if err := s.store.CreateTransaction(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// MarkSuccess advances a pending transaction to success and applies its
// wallet effect: a credit for deposits, a debit for withdrawals and
// payments. A second call fails with InvalidTransition.
func (s *TransactionService) MarkSuccess(ctx context.Context, id uuid.UUID) error {
	var notify *uuid.UUID
	err := runTx(ctx, s.store, func(tx port.Tx) error {
		notify = nil
		t, err := tx.LockTransaction(id)
		if err != nil {
			return err
		}
		if !t.CanTransition(domain.StatusSuccess) {
			return fmt.Errorf("%w: transaction %s is already %s", domain.ErrInvalidTransition, t.ID, t.Status)
		}

		wallets, err := tx.LockWallets([]uuid.UUID{t.WalletID})
		if err != nil {
			return err
		}
		w := wallets[t.WalletID]

		description := fmt.Sprintf("%s %s", t.Type, t.ID)
		switch t.Type {
		case domain.TransactionDeposit:
			_, err = creditWallet(tx, w, t.Amount, &t.ID, description)
		case domain.TransactionWithdraw, domain.TransactionPayment:
			_, err = debitWallet(tx, w, t.Amount, &t.ID, description)
		default:
			err = fmt.Errorf("%w: %s transaction has no gateway settlement", domain.ErrInvalidTransition, t.Type)
		}
		if err != nil {
			return err
		}

		t.Status = domain.StatusSuccess
		t.UpdatedAt = time.Now().UTC()
		if err := tx.SaveTransaction(t); err != nil {
			return err
		}

		if t.Type == domain.TransactionPayment && t.OrderID != nil {
			notify = t.OrderID
		}
		return nil
	})
	if err != nil {
		return err
	}

	// The order callback runs after commit: the payment is settled even if
	// the collaborator is unreachable, and the caller retries delivery.
	if notify != nil && s.orders != nil {
		if err := s.orders.OrderPaid(ctx, *notify); err != nil {
			return fmt.Errorf("notify order paid: %w", err)
		}
	}
	return nil
}

// MarkFailed moves a pending transaction to failed without touching the
// wallet. Payment failures are reported to the order collaborator so it can
// compensate (for example, release a reservation).
func (s *TransactionService) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return s.terminate(ctx, id, domain.StatusFailed)
}

// MarkExpired is MarkFailed for transactions abandoned by the gateway.
func (s *TransactionService) MarkExpired(ctx context.Context, id uuid.UUID) error {
	return s.terminate(ctx, id, domain.StatusExpired)
}

func (s *TransactionService) terminate(ctx context.Context, id uuid.UUID, to domain.TransactionStatus) error {
	var notify *uuid.UUID
	err := runTx(ctx, s.store, func(tx port.Tx) error {
		notify = nil
		t, err := tx.LockTransaction(id)
		if err != nil {
			return err
		}
		if !t.CanTransition(to) {
			return fmt.Errorf("%w: transaction %s is already %s", domain.ErrInvalidTransition, t.ID, t.Status)
		}

		t.Status = to
		t.UpdatedAt = time.Now().UTC()
		if err := tx.SaveTransaction(t); err != nil {
			return err
		}

		if t.Type == domain.TransactionPayment && t.OrderID != nil {
			notify = t.OrderID
		}
		return nil
	})
	if err != nil {
		return err
	}

	if notify != nil && s.orders != nil {
		if err := s.orders.OrderPaymentFailed(ctx, *notify); err != nil {
			return fmt.Errorf("notify payment failed: %w", err)
		}
	}
	return nil
}

// ExpirePending sweeps transactions that stayed pending longer than maxAge
// into the expired state. It returns how many were expired; individual
// transitions lost to a concurrent gateway callback are skipped, not errors.
func (s *TransactionService) ExpirePending(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	stale, err := s.store.PendingTransactionsBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, t := range stale {
		if err := s.MarkExpired(ctx, t.ID); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}
