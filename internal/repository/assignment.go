package repository

import (
	"context"
	"time"

	"hailing/internal/domain"
)

// AssignmentRepository defines the persistence operations for driver assignments.
type AssignmentRepository interface {
	// Create persists a new live assignment.
	// Returns ErrDuplicate if the trip already has a live assignment.
	Create(ctx context.Context, a *domain.Assignment) error

	// GetLiveByTrip returns the live assignment of a trip.
	GetLiveByTrip(ctx context.Context, tripID string) (*domain.Assignment, error)

	// ListByTrip returns every assignment ever made for a trip.
	ListByTrip(ctx context.Context, tripID string) ([]*domain.Assignment, error)

	// HasActiveForDriver reports whether the driver holds a live assignment
	// on a trip that is not terminal.
	HasActiveForDriver(ctx context.Context, driverID string) (bool, error)

	// SupersedeByTrip closes the live assignment of a trip, if any.
	SupersedeByTrip(ctx context.Context, tripID string, at time.Time) error
}
