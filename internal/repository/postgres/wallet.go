package postgres

import (
	"context"

	"hailing/internal/domain"
	"hailing/internal/repository"
)

const walletColumns = `id, owner_id, balance, version, created_at, updated_at`

// WalletRepository is a PostgreSQL implementation of repository.WalletRepository.
type WalletRepository struct {
	q Querier
}

// NewWalletRepository creates a wallet repository on a database or transaction.
func NewWalletRepository(q Querier) *WalletRepository {
	return &WalletRepository{q: q}
}

// Create persists a new wallet. ON CONFLICT keeps a surrounding transaction
// usable when another one created the owner's wallet first.
func (r *WalletRepository) Create(ctx context.Context, wallet *domain.Wallet) error {
	query := `
		INSERT INTO wallets (` + walletColumns + `) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id) DO NOTHING
	`
	result, err := r.q.ExecContext(ctx, query,
		wallet.ID,
		wallet.OwnerID,
		wallet.Balance,
		wallet.Version,
		wallet.CreatedAt,
		wallet.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	return requireRow(result, repository.ErrDuplicate)
}

// GetByOwner retrieves the wallet of an owner.
func (r *WalletRepository) GetByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1`
	return scanWallet(r.q.QueryRowContext(ctx, query, ownerID))
}

// GetByOwnerForUpdate retrieves the wallet of an owner and locks the row.
func (r *WalletRepository) GetByOwnerForUpdate(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 FOR UPDATE`
	return scanWallet(r.q.QueryRowContext(ctx, query, ownerID))
}

// UpdateBalance stores a new balance guarded by the wallet version.
func (r *WalletRepository) UpdateBalance(ctx context.Context, wallet *domain.Wallet) error {
	query := `
		UPDATE wallets SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4
	`

	result, err := r.q.ExecContext(ctx, query, wallet.Balance, wallet.UpdatedAt, wallet.ID, wallet.Version)
	if err != nil {
		return err
	}
	if err := requireRow(result, repository.ErrConflict); err != nil {
		return err
	}

	wallet.Version++
	return nil
}

// AppendTransaction appends an immutable ledger entry.
func (r *WalletRepository) AppendTransaction(ctx context.Context, txn *domain.WalletTransaction) error {
	query := `
		INSERT INTO wallet_transactions (id, wallet_id, amount, kind, reference, status, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.ExecContext(ctx, query,
		txn.ID,
		txn.WalletID,
		txn.Amount,
		txn.Kind,
		txn.Reference,
		txn.Status,
		txn.BalanceAfter,
		txn.CreatedAt,
	)
	return mapError(err)
}

// ListTransactions returns the newest ledger entries of a wallet first.
func (r *WalletRepository) ListTransactions(ctx context.Context, walletID string, limit int) ([]*domain.WalletTransaction, error) {
	query := `
		SELECT id, wallet_id, amount, kind, reference, status, balance_after, created_at
		FROM wallet_transactions WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2
	`

	rows, err := r.q.QueryContext(ctx, query, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*domain.WalletTransaction
	for rows.Next() {
		var t domain.WalletTransaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Amount, &t.Kind, &t.Reference, &t.Status, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, &t)
	}

	return txns, rows.Err()
}

// SumConfirmed returns the signed sum of confirmed entries.
func (r *WalletRepository) SumConfirmed(ctx context.Context, walletID string) (int64, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions WHERE wallet_id = $1 AND status = $2`

	var sum int64
	if err := r.q.QueryRowContext(ctx, query, walletID, domain.TransactionStatusConfirmed).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := row.Scan(&w.ID, &w.OwnerID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &w, nil
}

// Ensure WalletRepository implements repository.WalletRepository.
var _ repository.WalletRepository = (*WalletRepository)(nil)
