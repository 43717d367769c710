package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/inventory-ledger/internal/adapter/storage"
	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

// Mock OrderCollaborator
type mockOrders struct {
	mu     sync.Mutex
	paid   []uuid.UUID
	failed []uuid.UUID
}

func (m *mockOrders) AttachLineItems(ctx context.Context, orderID uuid.UUID, items []domain.OrderLineItem) error {
	return nil
}

func (m *mockOrders) OrderPaid(ctx context.Context, orderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paid = append(m.paid, orderID)
	return nil
}

func (m *mockOrders) OrderPaymentFailed(ctx context.Context, orderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, orderID)
	return nil
}

type txnFixture struct {
	store        *storage.MemoryStore
	wallets      *WalletService
	transactions *TransactionService
	orders       *mockOrders
}

func newTxnFixture(t *testing.T) *txnFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	orders := &mockOrders{}
	return &txnFixture{
		store:        store,
		wallets:      NewWalletService(store, nil),
		transactions: NewTransactionService(store, orders),
		orders:       orders,
	}
}

func (f *txnFixture) fundedWallet(t *testing.T, amount int64) *domain.Wallet {
	t.Helper()
	return newFundedWallet(t, f.wallets, amount)
}

func TestTransaction_Create(t *testing.T) {
	f := newTxnFixture(t)
	ctx := context.Background()

	w := f.fundedWallet(t, 0)
	txn, err := f.transactions.Create(ctx, domain.TransactionDeposit, w.ID, decimal.NewFromInt(50), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if txn.Status != domain.StatusPending {
		t.Errorf("expected pending, got %s", txn.Status)
	}

	if _, err := f.transactions.Create(ctx, domain.TransactionDeposit, w.ID, decimal.Zero, nil); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero amount: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.transactions.Create(ctx, domain.TransactionTransfer, w.ID, decimal.NewFromInt(1), nil); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("transfer type: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.transactions.Create(ctx, domain.TransactionDeposit, uuid.New(), decimal.NewFromInt(1), nil); !errors.Is(err, domain.ErrWalletNotFound) {
		t.Errorf("unknown wallet: expected ErrWalletNotFound, got %v", err)
	}
}

func TestTransaction_DepositSuccess(t *testing.T) {
	f := newTxnFixture(t)
	ctx := context.Background()

	w := f.fundedWallet(t, 0)
	txn, err := f.transactions.Create(ctx, domain.TransactionDeposit, w.ID, decimal.NewFromInt(50), nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.transactions.MarkSuccess(ctx, txn.ID); err != nil {
		t.Fatalf("mark success: %v", err)
	}

	got, _ := f.wallets.Wallet(ctx, w.ID)
	if !got.Balance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected balance 50, got %s", got.Balance)
	}

	entries, _ := f.wallets.Ledger(ctx, w.ID, 0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	if entries[0].TransactionID == nil || *entries[0].TransactionID != txn.ID {
		t.Errorf("ledger entry not linked to transaction: %+v", entries[0])
	}

	stored, _ := f.store.Transaction(ctx, txn.ID)
	if stored.Status != domain.StatusSuccess {
		t.Errorf("expected success, got %s", stored.Status)
	}
}

func TestTransaction_DoubleSuccess(t *testing.T) {
	f := newTxnFixture(t)
	ctx := context.Background()

	w := f.fundedWallet(t, 0)
	txn, err := f.transactions.Create(ctx, domain.TransactionDeposit, w.ID, decimal.NewFromInt(50), nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.transactions.MarkSuccess(ctx, txn.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.transactions.MarkSuccess(ctx, txn.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second success: expected ErrInvalidTransition, got %v", err)
	}

	// The wallet was credited exactly once.
	got, _ := f.wallets.Wallet(ctx, w.ID)
	if !got.Balance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected balance 50, got %s", got.Balance)
	}
}

func TestTransaction_ConcurrentSuccess_CreditsOnce(t *testing.T) {
	f := newTxnFixture(t)
	ctx := context.Background()

	w := f.fundedWallet(t, 0)
	txn, err := f.transactions.Create(ctx, domain.TransactionDeposit, w.ID, decimal.NewFromInt(10), nil)
	if err != nil {
		t.Fatal(err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.transactions.MarkSuccess(ctx, txn.ID); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly 1 winning callback, got %d", wins.Load())
	}
	got, _ := f.wallets.Wallet(ctx, w.ID)
	if !got.Balance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected balance 10, got %s", got.Balance)
	}
}

func TestTransaction_WithdrawInsufficient_StaysPending(t *testing.T) {
	f := newTxnFixture(t)
	ctx := context.Background()

	w := f.fundedWallet(t, 5)
	txn, err := f.transactions.Create(ctx, domain.TransactionWithdraw, w.ID, decimal.NewFromInt(10), nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.transactions.MarkSuccess(ctx, txn.ID); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Settlement failed atomically: still pending, balance untouched, and the
	// gateway can retry once the wallet is funded.
	stored, _ := f.store.Transaction(ctx, txn.ID)
	if stored.Status != domain.StatusPending {
		t.Errorf("expected pending, got %s", stored.Status)
	}
	got, _ := f.wallets.Wallet(ctx, w.ID)
	if !got.Balance.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected balance 5, got %s", got.Balance)
	}

	if _, err := f.wallets.Deposit(ctx, w.ID, decimal.NewFromInt(10), "top up"); err != nil {
		t.Fatal(err)
	}
	if err := f.transactions.MarkSuccess(ctx, txn.ID); err != nil {
		t.Errorf("retry after funding should succeed, got %v", err)
	}
}

func TestTransaction_MarkFailed_NoWalletEffect(t *testing.T) {
	f := newTxnFixture(t)
	ctx := context.Background()

	w := f.fundedWallet(t, 100)
	orderID := uuid.New()
	txn, err := f.transactions.Create(ctx, domain.TransactionPayment, w.ID, decimal.NewFromInt(40), &orderID)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.transactions.MarkFailed(ctx, txn.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, _ := f.wallets.Wallet(ctx, w.ID)
	if !got.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("failed payment touched the wallet: %s", got.Balance)
	}
	stored, _ := f.store.Transaction(ctx, txn.ID)
	if stored.Status != domain.StatusFailed {
		t.Errorf("expected failed, got %s", stored.Status)
	}

	f.orders.mu.Lock()
	defer f.orders.mu.Unlock()
	if len(f.orders.failed) != 1 || f.orders.failed[0] != orderID {
		t.Errorf("expected payment-failed callback for %s, got %v", orderID, f.orders.failed)
	}
}

func TestTransaction_PaymentSuccess_NotifiesOrder(t *testing.T) {
	f := newTxnFixture(t)
	ctx := context.Background()

	w := f.fundedWallet(t, 100)
	orderID := uuid.New()
	txn, err := f.transactions.Create(ctx, domain.TransactionPayment, w.ID, decimal.NewFromInt(40), &orderID)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.transactions.MarkSuccess(ctx, txn.ID); err != nil {
		t.Fatal(err)
	}

	got, _ := f.wallets.Wallet(ctx, w.ID)
	if !got.Balance.Equal(decimal.NewFromInt(60)) {
		t.Errorf("expected balance 60, got %s", got.Balance)
	}

	f.orders.mu.Lock()
	defer f.orders.mu.Unlock()
	if len(f.orders.paid) != 1 || f.orders.paid[0] != orderID {
		t.Errorf("expected paid callback for %s, got %v", orderID, f.orders.paid)
	}
}

func TestTransaction_ExpirePending(t *testing.T) {
	f := newTxnFixture(t)
	ctx := context.Background()

	w := f.fundedWallet(t, 100)

	stale, err := f.transactions.Create(ctx, domain.TransactionDeposit, w.ID, decimal.NewFromInt(1), nil)
	if err != nil {
		t.Fatal(err)
	}
	settled, err := f.transactions.Create(ctx, domain.TransactionDeposit, w.ID, decimal.NewFromInt(2), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.transactions.MarkSuccess(ctx, settled.ID); err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)

	n, err := f.transactions.ExpirePending(ctx, time.Millisecond, 100)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired, got %d", n)
	}

	staleAfter, _ := f.store.Transaction(ctx, stale.ID)
	if staleAfter.Status != domain.StatusExpired {
		t.Errorf("expected expired, got %s", staleAfter.Status)
	}
	settledAfter, _ := f.store.Transaction(ctx, settled.ID)
	if settledAfter.Status != domain.StatusSuccess {
		t.Errorf("sweep touched a settled transaction: %s", settledAfter.Status)
	}

	// A second sweep finds nothing.
	n, err = f.transactions.ExpirePending(ctx, time.Millisecond, 100)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected 0 expired on second sweep, got %d", n)
	}
}

func TestTransaction_ExpiredCannotSucceed(t *testing.T) {
	f := newTxnFixture(t)
	ctx := context.Background()

	w := f.fundedWallet(t, 100)
	txn, err := f.transactions.Create(ctx, domain.TransactionDeposit, w.ID, decimal.NewFromInt(50), nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.transactions.MarkExpired(ctx, txn.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.transactions.MarkSuccess(ctx, txn.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("late gateway callback: expected ErrInvalidTransition, got %v", err)
	}

	got, _ := f.wallets.Wallet(ctx, w.ID)
	if !got.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected balance 100, got %s", got.Balance)
	}
}
