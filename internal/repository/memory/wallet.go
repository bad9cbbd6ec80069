package memory

import (
	"context"
	"fmt"

	"hailing/internal/domain"
	"hailing/internal/repository"
)

type walletRepo struct {
	s *Store
}

func (r *walletRepo) Create(_ context.Context, wallet *domain.Wallet) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.wallets[wallet.OwnerID]; ok {
			return fmt.Errorf("%w: wallets_owner_id_key", repository.ErrDuplicate)
		}
		w := *wallet
		st.wallets[wallet.OwnerID] = &w
		return nil
	})
}

func (r *walletRepo) GetByOwner(_ context.Context, ownerID string) (*domain.Wallet, error) {
	var out *domain.Wallet
	err := r.s.do(func(st *state) error {
		w, ok := st.wallets[ownerID]
		if !ok {
			return repository.ErrNotFound
		}
		wc := *w
		out = &wc
		return nil
	})
	return out, err
}

func (r *walletRepo) GetByOwnerForUpdate(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	return r.GetByOwner(ctx, ownerID)
}

func (r *walletRepo) UpdateBalance(_ context.Context, wallet *domain.Wallet) error {
	return r.s.do(func(st *state) error {
		stored, ok := st.wallets[wallet.OwnerID]
		if !ok || stored.ID != wallet.ID || stored.Version != wallet.Version {
			return repository.ErrConflict
		}
		if wallet.Balance < 0 {
			return fmt.Errorf("wallets_balance_check: %w", errCheckViolation)
		}
		stored.Balance = wallet.Balance
		stored.Version++
		stored.UpdatedAt = wallet.UpdatedAt
		wallet.Version = stored.Version
		return nil
	})
}

func (r *walletRepo) AppendTransaction(_ context.Context, txn *domain.WalletTransaction) error {
	return r.s.do(func(st *state) error {
		for _, existing := range st.txns[txn.WalletID] {
			if existing.Kind == txn.Kind && existing.Reference == txn.Reference {
				return fmt.Errorf("%w: wallet_transactions_reference", repository.ErrDuplicate)
			}
		}
		t := *txn
		st.txns[txn.WalletID] = append(st.txns[txn.WalletID], &t)
		return nil
	})
}

func (r *walletRepo) ListTransactions(_ context.Context, walletID string, limit int) ([]*domain.WalletTransaction, error) {
	var out []*domain.WalletTransaction
	err := r.s.do(func(st *state) error {
		all := st.txns[walletID]
		for i := len(all) - 1; i >= 0; i-- {
			if limit > 0 && len(out) == limit {
				break
			}
			t := *all[i]
			out = append(out, &t)
		}
		return nil
	})
	return out, err
}

func (r *walletRepo) SumConfirmed(_ context.Context, walletID string) (int64, error) {
	var sum int64
	err := r.s.do(func(st *state) error {
		for _, t := range st.txns[walletID] {
			if t.Status == domain.TransactionStatusConfirmed {
				sum += t.Amount
			}
		}
		return nil
	})
	return sum, err
}

// CorruptBalance overwrites a cached balance without a ledger entry.
// It exists so reconciliation can be exercised.
func (s *Store) CorruptBalance(ownerID string, balance int64) {
	_ = s.do(func(st *state) error {
		if w, ok := st.wallets[ownerID]; ok {
			w.Balance = balance
		}
		return nil
	})
}
