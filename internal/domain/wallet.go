package domain

import (
	"fmt"
	"time"
)

// TransactionKind classifies a wallet ledger entry.
type TransactionKind string

const (
	TransactionKindTopUp   TransactionKind = "TOPUP"
	TransactionKindPayment TransactionKind = "PAYMENT"
	TransactionKindPayout  TransactionKind = "PAYOUT"
	TransactionKindRefund  TransactionKind = "REFUND"
	TransactionKindPenalty TransactionKind = "PENALTY"
)

// TransactionStatus is the settlement state of a ledger entry.
type TransactionStatus string

const (
	TransactionStatusConfirmed TransactionStatus = "CONFIRMED"
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// Wallet holds the cached balance of one owner in minor currency units.
type Wallet struct {
	ID        string
	OwnerID   string
	Balance   int64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalletTransaction is an immutable ledger entry. Credits are positive.
type WalletTransaction struct {
	ID           string
	WalletID     string
	Amount       int64
	Kind         TransactionKind
	Reference    string
	Status       TransactionStatus
	BalanceAfter int64
	CreatedAt    time.Time
}

// SettlementReference builds the reference stored on a settlement entry.
func SettlementReference(tripID, role string) string {
	return fmt.Sprintf("trip:%s:%s", tripID, role)
}
