package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"hailing/internal/domain"
	"hailing/internal/repository"
)

const expiredReason = "expired: no driver accepted"

// ExpirySweeper cancels trips that stayed REQUESTED longer than the TTL.
type ExpirySweeper struct {
	store    repository.Store
	trips    *TripService
	ttl      time.Duration
	interval time.Duration
	batch    int
	now      func() time.Time
}

// NewExpirySweeper creates a new ExpirySweeper. A ttl of zero disables it.
func NewExpirySweeper(store repository.Store, trips *TripService, ttl, interval time.Duration, batch int) *ExpirySweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &ExpirySweeper{
		store:    store,
		trips:    trips,
		ttl:      ttl,
		interval: interval,
		batch:    batch,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	if s.ttl <= 0 {
		zap.L().Info("trip expiry disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				zap.L().Error("trip expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce cancels one batch of stale trips and returns how many it cancelled.
// Trips that were claimed between listing and cancelling are skipped.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}

	stale, err := s.store.Trips().ListRequestedBefore(ctx, s.now().Add(-s.ttl), s.batch)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, trip := range stale {
		_, err := s.trips.Cancel(ctx, domain.SystemActor, trip.ID, expiredReason)
		switch {
		case err == nil:
			cancelled++
		case errors.Is(err, domain.ErrInvalidTransition):
			zap.L().Debug("expiry skipped trip that moved on", zap.String("trip_id", trip.ID))
		default:
			zap.L().Warn("expire trip", zap.String("trip_id", trip.ID), zap.Error(err))
		}
	}

	if cancelled > 0 {
		zap.L().Info("expired stale trips", zap.Int("count", cancelled))
	}
	return cancelled, nil
}
