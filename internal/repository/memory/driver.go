package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"hailing/internal/domain"
	"hailing/internal/repository"
)

type driverRepo struct {
	s *Store
}

func (r *driverRepo) Create(_ context.Context, driver *domain.Driver) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.drivers[driver.ID]; ok {
			return fmt.Errorf("%w: drivers_pkey", repository.ErrDuplicate)
		}
		d := *driver
		st.drivers[driver.ID] = &d
		return nil
	})
}

func (r *driverRepo) GetByID(_ context.Context, id string) (*domain.Driver, error) {
	var out *domain.Driver
	err := r.s.do(func(st *state) error {
		d, ok := st.drivers[id]
		if !ok {
			return repository.ErrNotFound
		}
		dc := *d
		out = &dc
		return nil
	})
	return out, err
}

func (r *driverRepo) GetForUpdate(ctx context.Context, id string) (*domain.Driver, error) {
	return r.GetByID(ctx, id)
}

func (r *driverRepo) SetVerified(_ context.Context, id string, verified bool) error {
	return r.update(id, func(d *domain.Driver) { d.Verified = verified })
}

func (r *driverRepo) UpdateStatus(_ context.Context, id string, status domain.DriverStatus) error {
	return r.update(id, func(d *domain.Driver) { d.Status = status })
}

func (r *driverRepo) UpdateStatusIf(_ context.Context, id string, status domain.DriverStatus, from ...domain.DriverStatus) (bool, error) {
	updated := false
	err := r.s.do(func(st *state) error {
		d, ok := st.drivers[id]
		if !ok {
			return repository.ErrNotFound
		}
		if !slices.Contains(from, d.Status) {
			return nil
		}
		d.Status = status
		d.UpdatedAt = time.Now().UTC()
		updated = true
		return nil
	})
	return updated, err
}

func (r *driverRepo) ListByStatus(_ context.Context, status domain.DriverStatus) ([]*domain.Driver, error) {
	var out []*domain.Driver
	err := r.s.do(func(st *state) error {
		for _, d := range st.drivers {
			if d.Status == status {
				dc := *d
				out = append(out, &dc)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *driverRepo) update(id string, mutate func(*domain.Driver)) error {
	return r.s.do(func(st *state) error {
		d, ok := st.drivers[id]
		if !ok {
			return repository.ErrNotFound
		}
		mutate(d)
		d.UpdatedAt = time.Now().UTC()
		return nil
	})
}

type assignmentRepo struct {
	s *Store
}

func (r *assignmentRepo) Create(_ context.Context, a *domain.Assignment) error {
	return r.s.do(func(st *state) error {
		for _, existing := range st.assignments[a.TripID] {
			if existing.Live() {
				return fmt.Errorf("%w: assignments_one_live_per_trip", repository.ErrDuplicate)
			}
		}
		ac := *a
		st.assignments[a.TripID] = append(st.assignments[a.TripID], &ac)
		return nil
	})
}

func (r *assignmentRepo) GetLiveByTrip(_ context.Context, tripID string) (*domain.Assignment, error) {
	var out *domain.Assignment
	err := r.s.do(func(st *state) error {
		for _, a := range st.assignments[tripID] {
			if a.Live() {
				ac := *a
				out = &ac
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *assignmentRepo) ListByTrip(_ context.Context, tripID string) ([]*domain.Assignment, error) {
	var out []*domain.Assignment
	err := r.s.do(func(st *state) error {
		for _, a := range st.assignments[tripID] {
			ac := *a
			out = append(out, &ac)
		}
		return nil
	})
	return out, err
}

func (r *assignmentRepo) HasActiveForDriver(_ context.Context, driverID string) (bool, error) {
	var exists bool
	err := r.s.do(func(st *state) error {
		for tripID, as := range st.assignments {
			t, ok := st.trips[tripID]
			if !ok || !t.Status.Active() {
				continue
			}
			for _, a := range as {
				if a.DriverID == driverID && a.Live() {
					exists = true
					return nil
				}
			}
		}
		return nil
	})
	return exists, err
}

func (r *assignmentRepo) SupersedeByTrip(_ context.Context, tripID string, at time.Time) error {
	return r.s.do(func(st *state) error {
		for _, a := range st.assignments[tripID] {
			if a.Live() {
				a.SupersededAt = at
			}
		}
		return nil
	})
}
