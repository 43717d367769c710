package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionDeposit  TransactionType = "deposit"
	TransactionWithdraw TransactionType = "withdraw"
	TransactionPayment  TransactionType = "payment"
	TransactionTransfer TransactionType = "transfer"
)

type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
	StatusExpired TransactionStatus = "expired"
)

// transitions is the full state machine: pending is the only non-terminal
// state and no transition leaves a terminal one.
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPending: {StatusSuccess, StatusFailed, StatusExpired},
}

// Transaction is the lifecycle record of one monetary operation. Only Status
// ever changes after creation, and only forward.
type Transaction struct {
	ID        uuid.UUID
	Type      TransactionType
	Amount    decimal.Decimal
	Status    TransactionStatus
	WalletID  uuid.UUID
	OrderID   *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewTransaction(txType TransactionType, walletID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:        uuid.New(),
		Type:      txType,
		Amount:    amount,
		Status:    StatusPending,
		WalletID:  walletID,
		OrderID:   orderID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (t *Transaction) CanTransition(to TransactionStatus) bool {
	for _, s := range transitions[t.Status] {
		if s == to {
			return true
		}
	}
	return false
}
