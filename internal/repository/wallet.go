package repository

import (
	"context"

	"hailing/internal/domain"
)

// WalletRepository defines the persistence operations for wallets and their ledger.
type WalletRepository interface {
	// Create persists a new wallet. Returns ErrDuplicate if the owner already has one.
	Create(ctx context.Context, wallet *domain.Wallet) error

	// GetByOwner retrieves the wallet of an owner.
	GetByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error)

	// GetByOwnerForUpdate retrieves the wallet of an owner and locks its row.
	GetByOwnerForUpdate(ctx context.Context, ownerID string) (*domain.Wallet, error)

	// UpdateBalance stores wallet.Balance if the stored version equals wallet.Version,
	// then bumps the version. Returns ErrConflict otherwise.
	UpdateBalance(ctx context.Context, wallet *domain.Wallet) error

	// AppendTransaction appends an immutable ledger entry.
	// Returns ErrDuplicate if a payment with the same reference exists for the wallet.
	AppendTransaction(ctx context.Context, txn *domain.WalletTransaction) error

	// ListTransactions returns the newest entries of a wallet first.
	ListTransactions(ctx context.Context, walletID string, limit int) ([]*domain.WalletTransaction, error)

	// SumConfirmed returns the signed sum of confirmed entries of a wallet.
	SumConfirmed(ctx context.Context, walletID string) (int64, error)
}
