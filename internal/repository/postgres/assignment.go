package postgres

import (
	"context"
	"database/sql"
	"time"

	"hailing/internal/domain"
	"hailing/internal/repository"
)

// AssignmentRepository is a PostgreSQL implementation of repository.AssignmentRepository.
type AssignmentRepository struct {
	q Querier
}

// NewAssignmentRepository creates an assignment repository on a database or transaction.
func NewAssignmentRepository(q Querier) *AssignmentRepository {
	return &AssignmentRepository{q: q}
}

// Create persists a live assignment. The partial unique index on
// (trip_id) WHERE superseded_at IS NULL rejects a second live row.
func (r *AssignmentRepository) Create(ctx context.Context, a *domain.Assignment) error {
	query := `INSERT INTO assignments (id, trip_id, driver_id, assigned_at) VALUES ($1, $2, $3, $4)`
	_, err := r.q.ExecContext(ctx, query, a.ID, a.TripID, a.DriverID, a.AssignedAt)
	return mapError(err)
}

// GetLiveByTrip returns the live assignment of a trip.
func (r *AssignmentRepository) GetLiveByTrip(ctx context.Context, tripID string) (*domain.Assignment, error) {
	query := `
		SELECT id, trip_id, driver_id, assigned_at, superseded_at
		FROM assignments WHERE trip_id = $1 AND superseded_at IS NULL
	`
	return scanAssignment(r.q.QueryRowContext(ctx, query, tripID))
}

// ListByTrip returns every assignment of a trip, oldest first.
func (r *AssignmentRepository) ListByTrip(ctx context.Context, tripID string) ([]*domain.Assignment, error) {
	query := `
		SELECT id, trip_id, driver_id, assigned_at, superseded_at
		FROM assignments WHERE trip_id = $1 ORDER BY assigned_at ASC
	`

	rows, err := r.q.QueryContext(ctx, query, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	return out, rows.Err()
}

// HasActiveForDriver reports whether the driver is bound to an open trip.
func (r *AssignmentRepository) HasActiveForDriver(ctx context.Context, driverID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM assignments a
			JOIN trips t ON t.id = a.trip_id
			WHERE a.driver_id = $1 AND a.superseded_at IS NULL AND t.status = ANY($2)
		)
	`

	var exists bool
	if err := r.q.QueryRowContext(ctx, query, driverID, activeStatuses).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// SupersedeByTrip closes the live assignment of a trip.
func (r *AssignmentRepository) SupersedeByTrip(ctx context.Context, tripID string, at time.Time) error {
	query := `UPDATE assignments SET superseded_at = $1 WHERE trip_id = $2 AND superseded_at IS NULL`
	_, err := r.q.ExecContext(ctx, query, at, tripID)
	return err
}

func scanAssignment(row rowScanner) (*domain.Assignment, error) {
	var (
		a            domain.Assignment
		supersededAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.TripID, &a.DriverID, &a.AssignedAt, &supersededAt); err != nil {
		return nil, mapError(err)
	}
	a.SupersededAt = supersededAt.Time
	return &a, nil
}

// Ensure AssignmentRepository implements repository.AssignmentRepository.
var _ repository.AssignmentRepository = (*AssignmentRepository)(nil)
