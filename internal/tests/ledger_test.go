package tests

import (
	"context"
	"errors"
	"math"
	"testing"

	"hailing/internal/domain"
	"hailing/internal/service"
)

func TestLedger_SettleTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.fund(t, "payer", 10000)
	settlement, err := h.ledger.SettleTrip(ctx, service.SettleRequest{
		TripID:   "trip-1",
		Gross:    4000,
		DriverID: "driver",
		PayerID:  "payer",
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settlement.Commission != 600 || settlement.DriverEarnings != 3400 {
		t.Errorf("split = %d/%d, want 600/3400", settlement.Commission, settlement.DriverEarnings)
	}
	if settlement.Commission+settlement.DriverEarnings != settlement.Gross {
		t.Error("split must add up to the gross fare")
	}
	if settlement.PayerEntry.BalanceAfter != 6000 || settlement.DriverEntry.BalanceAfter != 3400 {
		t.Errorf("balance after = %d/%d, want 6000/3400", settlement.PayerEntry.BalanceAfter, settlement.DriverEntry.BalanceAfter)
	}

	// A second settlement of the same trip is refused by the reference.
	_, err = h.ledger.SettleTrip(ctx, service.SettleRequest{TripID: "trip-1", Gross: 4000, DriverID: "driver", PayerID: "payer"})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for a repeated settlement, got %v", err)
	}
	if got := h.balance(t, "payer"); got != 6000 {
		t.Errorf("payer balance = %d, want 6000", got)
	}
	if got := h.balance(t, "driver"); got != 3400 {
		t.Errorf("driver balance = %d, want 3400", got)
	}
}

func TestLedger_SettleTripValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.fund(t, "payer", 10000)

	tests := []struct {
		name string
		req  service.SettleRequest
		want error
	}{
		{name: "no trip", req: service.SettleRequest{Gross: 100, DriverID: "d", PayerID: "payer"}, want: domain.ErrValidation},
		{name: "zero gross", req: service.SettleRequest{TripID: "t", DriverID: "d", PayerID: "payer"}, want: domain.ErrValidation},
		{name: "same party", req: service.SettleRequest{TripID: "t", Gross: 100, DriverID: "payer", PayerID: "payer"}, want: domain.ErrValidation},
		{name: "not enough money", req: service.SettleRequest{TripID: "t", Gross: 10001, DriverID: "d", PayerID: "payer"}, want: domain.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.ledger.SettleTrip(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if got := h.balance(t, "payer"); got != 10000 {
		t.Errorf("failed settlements moved money: balance %d", got)
	}
}

func TestLedger_SingleEntries(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.ledger.TopUp(ctx, "u1", 5000, "bank:1"); err != nil {
		t.Fatalf("top up: %v", err)
	}
	if _, err := h.ledger.TopUp(ctx, "u1", 5000, "bank:1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("repeated top-up reference: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := h.ledger.TopUp(ctx, "u1", 0, "bank:2"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("zero top-up: expected ErrValidation, got %v", err)
	}
	if _, err := h.ledger.TopUp(ctx, "u1", 100, ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("missing reference: expected ErrValidation, got %v", err)
	}
	if _, err := h.ledger.Payout(ctx, "u1", -100, "out:0"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("negative payout: expected ErrValidation, got %v", err)
	}
	if _, err := h.ledger.Payout(ctx, "u1", 6000, "out:1"); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("overdraft: expected ErrInsufficientBalance, got %v", err)
	}

	entry, err := h.ledger.Payout(ctx, "u1", 2000, "out:2")
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if entry.Amount != -2000 || entry.BalanceAfter != 3000 || entry.Kind != domain.TransactionKindPayout {
		t.Errorf("unexpected payout entry: %+v", entry)
	}

	history := h.history(t, "u1")
	if len(history) != 2 || history[0].ID != entry.ID {
		t.Errorf("expected newest entry first, got %+v", history)
	}
	if n := h.broadcaster.Count(service.WalletTopic("u1"), service.EventWalletUpdated); n != 2 {
		t.Errorf("expected two wallet updates, got %d", n)
	}
}

func TestLedger_UnknownOwnerHasEmptyWallet(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	w, err := h.ledger.GetBalance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if w.Balance != 0 || w.OwnerID != "nobody" {
		t.Errorf("expected empty wallet, got %+v", w)
	}
	if got := h.history(t, "nobody"); len(got) != 0 {
		t.Errorf("expected empty history, got %d entries", len(got))
	}
	if _, err := h.ledger.Reconcile(context.Background(), "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("reconcile of a missing wallet: expected ErrNotFound, got %v", err)
	}
}

func TestLedger_ReconcileReportsWithoutHealing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.fund(t, "u1", 7000)
	report, err := h.ledger.Reconcile(ctx, "u1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Match || report.LedgerBalance != 7000 {
		t.Fatalf("expected a matching wallet, got %+v", report)
	}

	h.store.CorruptBalance("u1", 9999)
	report, err = h.ledger.Reconcile(ctx, "u1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Match {
		t.Fatal("expected a mismatch")
	}
	if report.CachedBalance != 9999 || report.LedgerBalance != 7000 {
		t.Errorf("unexpected report: %+v", report)
	}
	if got := h.balance(t, "u1"); got != 9999 {
		t.Errorf("reconcile must not correct the balance, got %d", got)
	}
}

func TestLedger_RefundCompletedTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.addDriver(t, "d1", domain.VehicleClassCar)
	h.fund(t, "r1", 10000)
	trip := h.seedTrip(t, &domain.Trip{
		RequesterID:   "r1",
		DriverID:      "d1",
		Status:        domain.TripStatusInProgress,
		EstimatedFare: 4000,
	})

	if _, err := h.trips.Refund(ctx, admin, trip.ID, 1000); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("refund before completion: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := h.trips.Complete(ctx, driver("d1"), trip.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := h.trips.Refund(ctx, rider("r1"), trip.ID, 1000); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("rider refunding: expected ErrUnauthorized, got %v", err)
	}
	for _, amount := range []int64{0, 4001} {
		if _, err := h.trips.Refund(ctx, admin, trip.ID, amount); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("refund of %d: expected ErrValidation, got %v", amount, err)
		}
	}

	entry, err := h.trips.Refund(ctx, admin, trip.ID, 1500)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if entry.Kind != domain.TransactionKindRefund || entry.Reference != domain.SettlementReference(trip.ID, "refund") {
		t.Errorf("unexpected refund entry: %+v", entry)
	}
	if got := h.balance(t, "r1"); got != 7500 {
		t.Errorf("rider balance = %d, want 7500", got)
	}
	if got := h.balance(t, "d1"); got != 3400 {
		t.Errorf("refund must not touch driver earnings, got %d", got)
	}

	if _, err := h.trips.Refund(ctx, admin, trip.ID, 500); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second refund: expected ErrInvalidTransition, got %v", err)
	}
	if got := h.balance(t, "r1"); got != 7500 {
		t.Errorf("second refund moved money: balance %d", got)
	}
}

func TestLedger_TopUpLimits(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.ledger.TopUp(ctx, "u1", service.MaxTopUpAmount, "bank:max"); err != nil {
		t.Fatalf("top up at the limit: %v", err)
	}
	if _, err := h.ledger.TopUp(ctx, "u1", service.MaxTopUpAmount+1, "bank:over"); !errors.Is(err, service.ErrTopUpTooLarge) {
		t.Errorf("top up over the limit: expected ErrTopUpTooLarge, got %v", err)
	}

	// A balance at the edge of int64 must refuse a credit instead of wrapping.
	h.store.CorruptBalance("u1", math.MaxInt64-10)
	_, err := h.ledger.TopUp(ctx, "u1", 100, "bank:wrap")
	if !errors.Is(err, service.ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
	if errors.Is(err, domain.ErrInsufficientBalance) {
		t.Error("an overflow is not an insufficient balance")
	}
	if got := h.balance(t, "u1"); got != math.MaxInt64-10 {
		t.Errorf("balance moved to %d", got)
	}
}
