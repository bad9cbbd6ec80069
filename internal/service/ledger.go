package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hailing/internal/domain"
	"hailing/internal/repository"
)

const (
	payerRole  = "payer"
	driverRole = "driver"
)

// MaxTopUpAmount caps a single top-up, in minor units.
const MaxTopUpAmount int64 = 100_000_000

// SettleRequest describes the money movement that completes a trip.
type SettleRequest struct {
	TripID   string
	Gross    int64
	DriverID string
	PayerID  string
}

// Settlement is the result of a successful trip settlement.
type Settlement struct {
	TripID         string
	Gross          int64
	Commission     int64
	DriverEarnings int64
	PayerWallet    *domain.Wallet
	DriverWallet   *domain.Wallet
	PayerEntry     *domain.WalletTransaction
	DriverEntry    *domain.WalletTransaction
}

// ReconcileReport compares a cached balance with its transaction log.
type ReconcileReport struct {
	WalletID      string `json:"wallet_id"`
	OwnerID       string `json:"owner_id"`
	CachedBalance int64  `json:"cached_balance"`
	LedgerBalance int64  `json:"ledger_balance"`
	Match         bool   `json:"match"`
}

// Ledger owns wallet balances and their append-only transaction log. Every
// balance change happens inside one store transaction together with its entry.
type Ledger struct {
	store         repository.Store
	fares         *FareCalculator
	notifications *NotificationService
	now           func() time.Time
}

// NewLedger creates a new Ledger.
func NewLedger(store repository.Store, fares *FareCalculator, notifications *NotificationService) *Ledger {
	if notifications == nil {
		notifications = NewNotificationService(nil)
	}
	return &Ledger{
		store:         store,
		fares:         fares,
		notifications: notifications,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SettleTrip debits the payer by the gross fare and credits the driver with
// gross minus commission, atomically.
func (l *Ledger) SettleTrip(ctx context.Context, req SettleRequest) (*Settlement, error) {
	var settlement *Settlement
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		settlement, err = l.SettleTripTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.publishSettlement(settlement)
	return settlement, nil
}

// SettleTripTx performs the settlement inside an existing transaction. The
// caller owns commit and must publish the result only after committing.
func (l *Ledger) SettleTripTx(ctx context.Context, tx repository.Store, req SettleRequest) (*Settlement, error) {
	if req.TripID == "" {
		return nil, ErrInvalidTripID
	}
	if req.Gross <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.PayerID == "" || req.DriverID == "" || req.PayerID == req.DriverID {
		return nil, fmt.Errorf("%w: settlement needs distinct payer and driver", domain.ErrValidation)
	}

	commission, earnings := l.fares.SettlementSplit(req.Gross)

	// Lock both wallets in owner id order so concurrent settlements that touch
	// the same pair cannot deadlock.
	first, second := req.PayerID, req.DriverID
	if second < first {
		first, second = second, first
	}
	wallets := make(map[string]*domain.Wallet, 2)
	for _, owner := range []string{first, second} {
		w, err := l.lockWallet(ctx, tx, owner)
		if err != nil {
			return nil, err
		}
		wallets[owner] = w
	}
	payer, driver := wallets[req.PayerID], wallets[req.DriverID]

	if payer.Balance < req.Gross {
		return nil, fmt.Errorf("trip %s: %w", req.TripID, domain.ErrInsufficientBalance)
	}

	payerEntry, err := l.apply(ctx, tx, payer, -req.Gross, domain.TransactionKindPayment, domain.SettlementReference(req.TripID, payerRole))
	if err != nil {
		return nil, err
	}
	driverEntry, err := l.apply(ctx, tx, driver, earnings, domain.TransactionKindPayment, domain.SettlementReference(req.TripID, driverRole))
	if err != nil {
		return nil, err
	}

	zap.L().Info("trip settled",
		zap.String("trip_id", req.TripID),
		zap.Int64("gross", req.Gross),
		zap.Int64("commission", commission),
		zap.Int64("driver_earnings", earnings),
	)

	return &Settlement{
		TripID:         req.TripID,
		Gross:          req.Gross,
		Commission:     commission,
		DriverEarnings: earnings,
		PayerWallet:    payer,
		DriverWallet:   driver,
		PayerEntry:     payerEntry,
		DriverEntry:    driverEntry,
	}, nil
}

// TopUp credits a wallet from an external funding source.
func (l *Ledger) TopUp(ctx context.Context, ownerID string, amount int64, sourceRef string) (*domain.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount > MaxTopUpAmount {
		return nil, ErrTopUpTooLarge
	}
	return l.single(ctx, ownerID, amount, domain.TransactionKindTopUp, sourceRef)
}

// Refund credits a wallet with money returned for a trip.
func (l *Ledger) Refund(ctx context.Context, ownerID string, amount int64, tripRef string) (*domain.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.single(ctx, ownerID, amount, domain.TransactionKindRefund, tripRef)
}

// Payout debits a wallet for a withdrawal to an external account.
func (l *Ledger) Payout(ctx context.Context, ownerID string, amount int64, ref string) (*domain.WalletTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.single(ctx, ownerID, -amount, domain.TransactionKindPayout, ref)
}

// GetBalance returns the wallet of an owner. An owner that never transacted
// has an empty, unsaved wallet.
func (l *Ledger) GetBalance(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	w, err := l.store.Wallets().GetByOwner(ctx, ownerID)
	if errors.Is(err, repository.ErrNotFound) {
		return &domain.Wallet{OwnerID: ownerID}, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// History returns the newest ledger entries of an owner's wallet.
func (l *Ledger) History(ctx context.Context, ownerID string, limit int) ([]*domain.WalletTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	w, err := l.store.Wallets().GetByOwner(ctx, ownerID)
	if errors.Is(err, repository.ErrNotFound) {
		return []*domain.WalletTransaction{}, nil
	}
	if err != nil {
		return nil, err
	}
	return l.store.Wallets().ListTransactions(ctx, w.ID, limit)
}

// Reconcile recomputes a balance from the transaction log. A mismatch is
// logged as an integrity alert and reported; the balance is never corrected here.
func (l *Ledger) Reconcile(ctx context.Context, ownerID string) (*ReconcileReport, error) {
	w, err := l.store.Wallets().GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, notFound(err, "wallet of", ownerID)
	}

	sum, err := l.store.Wallets().SumConfirmed(ctx, w.ID)
	if err != nil {
		return nil, fmt.Errorf("sum wallet transactions: %w", err)
	}

	report := &ReconcileReport{
		WalletID:      w.ID,
		OwnerID:       w.OwnerID,
		CachedBalance: w.Balance,
		LedgerBalance: sum,
		Match:         sum == w.Balance,
	}

	if !report.Match {
		zap.L().Error("wallet integrity alert: balance does not match ledger",
			zap.String("wallet_id", w.ID),
			zap.String("owner_id", w.OwnerID),
			zap.Int64("cached_balance", w.Balance),
			zap.Int64("ledger_balance", sum),
			zap.Int64("difference", w.Balance-sum),
		)
	}

	return report, nil
}

func (l *Ledger) single(ctx context.Context, ownerID string, amount int64, kind domain.TransactionKind, ref string) (*domain.WalletTransaction, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if ref == "" {
		return nil, ErrInvalidReference
	}

	var (
		wallet *domain.Wallet
		entry  *domain.WalletTransaction
	)
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		w, err := l.lockWallet(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if amount < 0 && w.Balance+amount < 0 {
			return fmt.Errorf("%s: %w", kind, domain.ErrInsufficientBalance)
		}
		entry, err = l.apply(ctx, tx, w, amount, kind, ref)
		wallet = w
		return err
	})
	if err != nil {
		return nil, err
	}

	l.notifications.WalletUpdated(wallet, entry)
	return entry, nil
}

// lockWallet returns the owner's wallet locked for this transaction, creating
// it on first use.
func (l *Ledger) lockWallet(ctx context.Context, tx repository.Store, ownerID string) (*domain.Wallet, error) {
	w, err := tx.Wallets().GetByOwnerForUpdate(ctx, ownerID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := l.now()
	w = &domain.Wallet{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Wallets().Create(ctx, w); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return nil, err
	}
	// Another transaction may have created it first; read whichever row won.
	return tx.Wallets().GetByOwnerForUpdate(ctx, ownerID)
}

// apply changes a locked wallet's balance and appends the matching entry.
func (l *Ledger) apply(ctx context.Context, tx repository.Store, w *domain.Wallet, amount int64, kind domain.TransactionKind, ref string) (*domain.WalletTransaction, error) {
	if amount > 0 && w.Balance > math.MaxInt64-amount {
		return nil, ErrBalanceOverflow
	}
	if w.Balance+amount < 0 {
		return nil, domain.ErrInsufficientBalance
	}

	now := l.now()
	w.Balance += amount
	w.UpdatedAt = now
	if err := tx.Wallets().UpdateBalance(ctx, w); err != nil {
		return nil, fmt.Errorf("update wallet %s: %w", w.ID, err)
	}

	entry := &domain.WalletTransaction{
		ID:           uuid.New().String(),
		WalletID:     w.ID,
		Amount:       amount,
		Kind:         kind,
		Reference:    ref,
		Status:       domain.TransactionStatusConfirmed,
		BalanceAfter: w.Balance,
		CreatedAt:    now,
	}
	if err := tx.Wallets().AppendTransaction(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s already recorded", domain.ErrInvalidTransition, ref)
		}
		return nil, fmt.Errorf("append wallet transaction: %w", err)
	}
	return entry, nil
}

func (l *Ledger) publishSettlement(s *Settlement) {
	l.notifications.WalletUpdated(s.PayerWallet, s.PayerEntry)
	l.notifications.WalletUpdated(s.DriverWallet, s.DriverEntry)
}
