package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestNewWallet_OwnerValidation(t *testing.T) {
	if _, err := NewWallet(OwnerUser, uuid.New()); err != nil {
		t.Fatalf("user wallet: %v", err)
	}
	if _, err := NewWallet(OwnerBusiness, uuid.New()); err != nil {
		t.Fatalf("business wallet: %v", err)
	}

	if _, err := NewWallet("company", uuid.New()); !errors.Is(err, ErrInvalidOwner) {
		t.Errorf("unknown owner type: expected ErrInvalidOwner, got %v", err)
	}
	if _, err := NewWallet(OwnerUser, uuid.Nil); !errors.Is(err, ErrInvalidOwner) {
		t.Errorf("nil owner id: expected ErrInvalidOwner, got %v", err)
	}
}

func TestWallet_Validate(t *testing.T) {
	w, err := NewWallet(OwnerUser, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Validate(); err != nil {
		t.Errorf("zero balance should be valid: %v", err)
	}

	w.Balance = decimal.NewFromInt(-1)
	if err := w.Validate(); !errors.Is(err, ErrCorruptedState) {
		t.Errorf("negative balance: expected ErrCorruptedState, got %v", err)
	}
}

func TestLedgerEntry_Balanced(t *testing.T) {
	credit := LedgerEntry{
		Amount:        decimal.NewFromInt(30),
		BalanceBefore: decimal.NewFromInt(70),
		BalanceAfter:  decimal.NewFromInt(100),
		IsCredit:      true,
	}
	if !credit.Balanced() {
		t.Error("credit entry should balance")
	}

	debit := LedgerEntry{
		Amount:        decimal.NewFromInt(30),
		BalanceBefore: decimal.NewFromInt(100),
		BalanceAfter:  decimal.NewFromInt(70),
		IsCredit:      false,
	}
	if !debit.Balanced() {
		t.Error("debit entry should balance")
	}

	debit.BalanceAfter = decimal.NewFromInt(71)
	if debit.Balanced() {
		t.Error("mismatched arithmetic should not balance")
	}
}

func TestStockRecord_Guards(t *testing.T) {
	rec := StockRecord{Key: StockKey{ProductID: 1, LocationID: 1}, Quantity: 5, Reserved: 3}

	if !rec.CanDecrease(5) {
		t.Error("should allow decreasing full quantity")
	}
	if rec.CanDecrease(6) {
		t.Error("should reject decreasing below zero")
	}
	if rec.CanDecrease(0) {
		t.Error("should reject zero amount")
	}
	if !rec.CanConfirm(3) {
		t.Error("should allow confirming full reservation")
	}
	if rec.CanConfirm(4) {
		t.Error("should reject confirming beyond reserved")
	}

	rec.Quantity = -1
	if err := rec.Validate(); !errors.Is(err, ErrCorruptedState) {
		t.Errorf("negative quantity: expected ErrCorruptedState, got %v", err)
	}
}
