package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"hailing/internal/domain"
	"hailing/internal/repository"
)

type tripRepo struct {
	s *Store
}

func (r *tripRepo) Create(_ context.Context, trip *domain.Trip) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.trips[trip.ID]; ok {
			return fmt.Errorf("%w: trips_pkey", repository.ErrDuplicate)
		}
		if !trip.Status.Terminal() && hasActiveRequester(st, trip.RequesterID) {
			return fmt.Errorf("%w: trips_one_active_per_requester", repository.ErrDuplicate)
		}
		st.trips[trip.ID] = trip.Clone()
		return nil
	})
}

func (r *tripRepo) GetByID(_ context.Context, id string) (*domain.Trip, error) {
	var out *domain.Trip
	err := r.s.do(func(st *state) error {
		t, ok := st.trips[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = t.Clone()
		return nil
	})
	return out, err
}

func (r *tripRepo) GetForUpdate(ctx context.Context, id string) (*domain.Trip, error) {
	return r.GetByID(ctx, id)
}

func (r *tripRepo) CompareAndSwap(_ context.Context, trip *domain.Trip, expected domain.TripStatus, expectedVersion int64) (bool, error) {
	var swapped bool
	err := r.s.do(func(st *state) error {
		stored, ok := st.trips[trip.ID]
		if !ok || stored.Status != expected || stored.StatusVersion != expectedVersion {
			return nil
		}
		next := trip.Clone()
		next.StatusVersion = expectedVersion + 1
		// Columns the swap does not write keep their stored values.
		next.CurrentLocation = stored.CurrentLocation
		st.trips[trip.ID] = next
		trip.StatusVersion = next.StatusVersion
		swapped = true
		return nil
	})
	return swapped, err
}

func (r *tripRepo) UpdateLocation(_ context.Context, id, driverID string, loc domain.Point, at time.Time) error {
	return r.s.do(func(st *state) error {
		t, ok := st.trips[id]
		if !ok {
			return repository.ErrNotFound
		}
		if t.DriverID != driverID || !t.Status.Active() {
			return repository.ErrConflict
		}
		p := loc
		t.CurrentLocation = &p
		t.UpdatedAt = at
		return nil
	})
}

func (r *tripRepo) HasActiveByRequester(_ context.Context, requesterID string) (bool, error) {
	var exists bool
	err := r.s.do(func(st *state) error {
		exists = hasActiveRequester(st, requesterID)
		return nil
	})
	return exists, err
}

func (r *tripRepo) ListByStatus(_ context.Context, status domain.TripStatus, limit int) ([]*domain.Trip, error) {
	return r.filter(limit, false, func(t *domain.Trip) bool { return t.Status == status })
}

func (r *tripRepo) ListByParticipant(_ context.Context, userID string, limit int) ([]*domain.Trip, error) {
	return r.filter(limit, true, func(t *domain.Trip) bool {
		return t.RequesterID == userID || t.DriverID == userID
	})
}

func (r *tripRepo) ListRequestedBefore(_ context.Context, cutoff time.Time, limit int) ([]*domain.Trip, error) {
	return r.filter(limit, false, func(t *domain.Trip) bool {
		return t.Status == domain.TripStatusRequested && t.CreatedAt.Before(cutoff)
	})
}

func (r *tripRepo) AppendEvent(_ context.Context, event *domain.TripEvent) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.trips[event.TripID]; !ok {
			return repository.ErrNotFound
		}
		e := *event
		st.events[event.TripID] = append(st.events[event.TripID], &e)
		return nil
	})
}

func (r *tripRepo) ListEvents(_ context.Context, tripID string) ([]*domain.TripEvent, error) {
	var out []*domain.TripEvent
	err := r.s.do(func(st *state) error {
		for _, e := range st.events[tripID] {
			ec := *e
			out = append(out, &ec)
		}
		return nil
	})
	return out, err
}

func (r *tripRepo) Stats(_ context.Context) (*domain.TripStats, error) {
	stats := &domain.TripStats{ByStatus: make(map[domain.TripStatus]int64)}
	err := r.s.do(func(st *state) error {
		for _, t := range st.trips {
			stats.Total++
			stats.ByStatus[t.Status]++
			if t.FinalFare != nil {
				stats.GrossRevenue += *t.FinalFare
			}
			if t.Commission != nil {
				stats.CommissionEarned += *t.Commission
			}
		}
		for _, txns := range st.txns {
			for _, txn := range txns {
				if txn.Kind == domain.TransactionKindRefund {
					stats.Refunded += txn.Amount
				}
			}
		}
		return nil
	})
	return stats, err
}

func (r *tripRepo) filter(limit int, newestFirst bool, keep func(*domain.Trip) bool) ([]*domain.Trip, error) {
	var out []*domain.Trip
	err := r.s.do(func(st *state) error {
		for _, t := range st.trips {
			if keep(t) {
				out = append(out, t.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hasActiveRequester(st *state, requesterID string) bool {
	for _, t := range st.trips {
		if t.RequesterID == requesterID && !t.Status.Terminal() {
			return true
		}
	}
	return false
}
