package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/inventory-ledger/internal/adapter/storage"
	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

func newFundedWallet(t *testing.T, svc *WalletService, amount int64) *domain.Wallet {
	t.Helper()
	w, err := svc.CreateWallet(context.Background(), domain.OwnerUser, uuid.New())
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if amount > 0 {
		if _, err := svc.Deposit(context.Background(), w.ID, decimal.NewFromInt(amount), "seed"); err != nil {
			t.Fatalf("seed deposit: %v", err)
		}
	}
	return w
}

func TestWallet_DepositWithdraw(t *testing.T) {
	svc := NewWalletService(storage.NewMemoryStore(), nil)
	ctx := context.Background()

	w := newFundedWallet(t, svc, 0)

	entry, err := svc.Deposit(ctx, w.ID, decimal.NewFromInt(100), "payday")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !entry.IsCredit || !entry.BalanceAfter.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected deposit entry: %+v", entry)
	}

	entry, err = svc.Withdraw(ctx, w.ID, decimal.NewFromInt(40), "groceries")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if entry.IsCredit || !entry.BalanceAfter.Equal(decimal.NewFromInt(60)) {
		t.Errorf("unexpected withdraw entry: %+v", entry)
	}

	got, err := svc.Wallet(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(60)) {
		t.Errorf("expected balance 60, got %s", got.Balance)
	}
}

func TestWallet_InsufficientBalance(t *testing.T) {
	svc := NewWalletService(storage.NewMemoryStore(), nil)
	ctx := context.Background()

	w := newFundedWallet(t, svc, 10)

	if _, err := svc.Withdraw(ctx, w.ID, decimal.NewFromInt(11), "too much"); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	// The failed withdrawal leaves balance and ledger untouched.
	got, _ := svc.Wallet(ctx, w.ID)
	if !got.Balance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected balance 10, got %s", got.Balance)
	}
	entries, _ := svc.Ledger(ctx, w.ID, 0)
	if len(entries) != 1 {
		t.Errorf("expected only the seed entry, got %d", len(entries))
	}
}

func TestWallet_InvalidAmount(t *testing.T) {
	svc := NewWalletService(storage.NewMemoryStore(), nil)
	ctx := context.Background()

	w := newFundedWallet(t, svc, 10)

	if _, err := svc.Deposit(ctx, w.ID, decimal.Zero, ""); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero deposit: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.Withdraw(ctx, w.ID, decimal.NewFromInt(-5), ""); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("negative withdraw: expected ErrInvalidAmount, got %v", err)
	}
}

func TestWallet_Transfer(t *testing.T) {
	svc := NewWalletService(storage.NewMemoryStore(), nil)
	ctx := context.Background()

	from := newFundedWallet(t, svc, 100)
	to := newFundedWallet(t, svc, 0)

	if err := svc.Transfer(ctx, from.ID, to.ID, decimal.NewFromInt(30), "rent"); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	fromAfter, _ := svc.Wallet(ctx, from.ID)
	toAfter, _ := svc.Wallet(ctx, to.ID)
	if !fromAfter.Balance.Equal(decimal.NewFromInt(70)) {
		t.Errorf("source balance: expected 70, got %s", fromAfter.Balance)
	}
	if !toAfter.Balance.Equal(decimal.NewFromInt(30)) {
		t.Errorf("destination balance: expected 30, got %s", toAfter.Balance)
	}
}

func TestWallet_TransferInsufficient_LeavesBothUntouched(t *testing.T) {
	svc := NewWalletService(storage.NewMemoryStore(), nil)
	ctx := context.Background()

	from := newFundedWallet(t, svc, 20)
	to := newFundedWallet(t, svc, 5)

	if err := svc.Transfer(ctx, from.ID, to.ID, decimal.NewFromInt(21), "rent"); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	fromAfter, _ := svc.Wallet(ctx, from.ID)
	toAfter, _ := svc.Wallet(ctx, to.ID)
	if !fromAfter.Balance.Equal(decimal.NewFromInt(20)) || !toAfter.Balance.Equal(decimal.NewFromInt(5)) {
		t.Errorf("failed transfer moved money: %s / %s", fromAfter.Balance, toAfter.Balance)
	}
}

func TestWallet_TransferToSelf(t *testing.T) {
	svc := NewWalletService(storage.NewMemoryStore(), nil)
	ctx := context.Background()

	w := newFundedWallet(t, svc, 10)
	if err := svc.Transfer(ctx, w.ID, w.ID, decimal.NewFromInt(1), ""); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestWallet_LedgerSumsToBalance(t *testing.T) {
	svc := NewWalletService(storage.NewMemoryStore(), nil)
	ctx := context.Background()

	w := newFundedWallet(t, svc, 0)

	ops := []struct {
		credit bool
		amount int64
	}{
		{true, 100}, {false, 30}, {true, 7}, {false, 50}, {true, 3},
	}
	for _, op := range ops {
		var err error
		if op.credit {
			_, err = svc.Deposit(ctx, w.ID, decimal.NewFromInt(op.amount), "")
		} else {
			_, err = svc.Withdraw(ctx, w.ID, decimal.NewFromInt(op.amount), "")
		}
		if err != nil {
			t.Fatal(err)
		}
	}

	entries, err := svc.Ledger(ctx, w.ID, 0)
	if err != nil {
		t.Fatal(err)
	}

	sum := decimal.Zero
	for i := range entries {
		if !entries[i].Balanced() {
			t.Errorf("entry %d arithmetic broken: %+v", i, entries[i])
		}
		if entries[i].IsCredit {
			sum = sum.Add(entries[i].Amount)
		} else {
			sum = sum.Sub(entries[i].Amount)
		}
	}

	got, _ := svc.Wallet(ctx, w.ID)
	if !sum.Equal(got.Balance) {
		t.Errorf("ledger sum %s != balance %s", sum, got.Balance)
	}
}

func TestWallet_ConcurrentWithdrawals_NeverNegative(t *testing.T) {
	svc := NewWalletService(storage.NewMemoryStore(), nil)
	ctx := context.Background()

	w := newFundedWallet(t, svc, 50)

	const attempts = 200
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Withdraw(ctx, w.ID, decimal.NewFromInt(1), "stress")
			if err != nil && !errors.Is(err, domain.ErrInsufficientBalance) && !errors.Is(err, domain.ErrResourceBusy) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := svc.Wallet(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Balance.IsNegative() {
		t.Fatalf("balance went negative: %s", got.Balance)
	}

	entries, _ := svc.Ledger(ctx, w.ID, 0)
	sum := decimal.Zero
	for i := range entries {
		if entries[i].IsCredit {
			sum = sum.Add(entries[i].Amount)
		} else {
			sum = sum.Sub(entries[i].Amount)
		}
	}
	if !sum.Equal(got.Balance) {
		t.Errorf("ledger sum %s != balance %s", sum, got.Balance)
	}
}

// Mock ActorDirectory
type mockActors struct {
	known map[uuid.UUID]domain.OwnerType
}

func (m *mockActors) VerifyOwner(ctx context.Context, ownerType domain.OwnerType, ownerID uuid.UUID) error {
	if m.known[ownerID] != ownerType {
		return domain.ErrInvalidOwner
	}
	return nil
}

func TestWallet_CreateWalletVerifiesOwner(t *testing.T) {
	userID := uuid.New()
	actors := &mockActors{known: map[uuid.UUID]domain.OwnerType{userID: domain.OwnerUser}}
	svc := NewWalletService(storage.NewMemoryStore(), actors)
	ctx := context.Background()

	if _, err := svc.CreateWallet(ctx, domain.OwnerUser, userID); err != nil {
		t.Fatalf("known owner: %v", err)
	}
	if _, err := svc.CreateWallet(ctx, domain.OwnerBusiness, userID); !errors.Is(err, domain.ErrInvalidOwner) {
		t.Errorf("wrong owner type: expected ErrInvalidOwner, got %v", err)
	}
	if _, err := svc.CreateWallet(ctx, domain.OwnerUser, uuid.New()); !errors.Is(err, domain.ErrInvalidOwner) {
		t.Errorf("unknown owner: expected ErrInvalidOwner, got %v", err)
	}
}

func TestWallet_CreateWalletInvalidOwner(t *testing.T) {
	svc := NewWalletService(storage.NewMemoryStore(), nil)

	if _, err := svc.CreateWallet(context.Background(), "robot", uuid.New()); !errors.Is(err, domain.ErrInvalidOwner) {
		t.Errorf("expected ErrInvalidOwner, got %v", err)
	}
	if _, err := svc.CreateWallet(context.Background(), domain.OwnerUser, uuid.Nil); !errors.Is(err, domain.ErrInvalidOwner) {
		t.Errorf("expected ErrInvalidOwner, got %v", err)
	}
}
