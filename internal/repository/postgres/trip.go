package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"hailing/internal/domain"
	"hailing/internal/repository"
)

const tripColumns = `
	id, kind, requester_id, driver_id, status, status_version, vehicle_class,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, current_lat, current_lng,
	cargo_weight_grams, cargo_description, recipient_name, recipient_phone,
	distance_meters, duration_minutes, surge_bps, estimated_fare, final_fare, commission,
	cancel_reason, cancelled_by,
	created_at, assigned_at, arrived_at, started_at, completed_at, cancelled_at, updated_at`

var activeStatuses = pq.Array([]string{
	string(domain.TripStatusRequested),
	string(domain.TripStatusAssigned),
	string(domain.TripStatusDriverArrived),
	string(domain.TripStatusInProgress),
})

var enRouteStatuses = pq.Array([]string{
	string(domain.TripStatusAssigned),
	string(domain.TripStatusDriverArrived),
	string(domain.TripStatusInProgress),
})

// TripRepository is a PostgreSQL implementation of repository.TripRepository.
type TripRepository struct {
	q Querier
}

// NewTripRepository creates a trip repository on a database or transaction.
func NewTripRepository(q Querier) *TripRepository {
	return &TripRepository{q: q}
}

// Create persists a new trip.
func (r *TripRepository) Create(ctx context.Context, trip *domain.Trip) error {
	query := `
		INSERT INTO trips (` + tripColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)
	`

	_, err := r.q.ExecContext(ctx, query, tripArgs(trip)...)
	return mapError(err)
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`
	return scanTrip(r.q.QueryRowContext(ctx, query, id))
}

// GetForUpdate retrieves a trip and locks the row.
func (r *TripRepository) GetForUpdate(ctx context.Context, id string) (*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1 FOR UPDATE`
	return scanTrip(r.q.QueryRowContext(ctx, query, id))
}

// CompareAndSwap writes the trip if status and version still match.
func (r *TripRepository) CompareAndSwap(ctx context.Context, trip *domain.Trip, expected domain.TripStatus, expectedVersion int64) (bool, error) {
	query := `
		UPDATE trips
		SET driver_id = $1, status = $2, status_version = status_version + 1,
			final_fare = $3, commission = $4, cancel_reason = $5, cancelled_by = $6,
			assigned_at = $7, arrived_at = $8, started_at = $9, completed_at = $10, cancelled_at = $11,
			updated_at = $12
		WHERE id = $13 AND status = $14 AND status_version = $15
	`

	result, err := r.q.ExecContext(ctx, query,
		nullString(trip.DriverID),
		trip.Status,
		nullInt64(trip.FinalFare),
		nullInt64(trip.Commission),
		nullString(trip.CancelReason),
		nullString(string(trip.CancelledBy)),
		nullTime(trip.AssignedAt),
		nullTime(trip.ArrivedAt),
		nullTime(trip.StartedAt),
		nullTime(trip.CompletedAt),
		nullTime(trip.CancelledAt),
		trip.UpdatedAt,
		trip.ID,
		expected,
		expectedVersion,
	)
	if err != nil {
		return false, mapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, nil
	}

	trip.StatusVersion = expectedVersion + 1
	return true, nil
}

// UpdateLocation stores the current driver position of a trip that is still
// en route with that driver.
func (r *TripRepository) UpdateLocation(ctx context.Context, id, driverID string, loc domain.Point, at time.Time) error {
	query := `
		UPDATE trips SET current_lat = $1, current_lng = $2, updated_at = $3
		WHERE id = $4 AND driver_id = $5 AND status = ANY($6)`

	result, err := r.q.ExecContext(ctx, query, loc.Lat, loc.Lng, at, id, driverID, enRouteStatuses)
	if err != nil {
		return err
	}
	return requireRow(result, repository.ErrConflict)
}

// HasActiveByRequester reports whether the requester has a non-terminal trip.
func (r *TripRepository) HasActiveByRequester(ctx context.Context, requesterID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM trips WHERE requester_id = $1 AND status = ANY($2))`

	var exists bool
	if err := r.q.QueryRowContext(ctx, query, requesterID, activeStatuses).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListByStatus returns trips in a status, oldest first.
func (r *TripRepository) ListByStatus(ctx context.Context, status domain.TripStatus, limit int) ([]*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	return r.list(ctx, query, status, limit)
}

// ListByParticipant returns trips of a requester or driver, newest first.
func (r *TripRepository) ListByParticipant(ctx context.Context, userID string, limit int) ([]*domain.Trip, error) {
	query := `
		SELECT ` + tripColumns + ` FROM trips
		WHERE requester_id = $1 OR driver_id = $1
		ORDER BY created_at DESC LIMIT $2
	`
	return r.list(ctx, query, userID, limit)
}

// ListRequestedBefore returns REQUESTED trips created before cutoff.
func (r *TripRepository) ListRequestedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Trip, error) {
	query := `
		SELECT ` + tripColumns + ` FROM trips
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC LIMIT $3
	`
	return r.list(ctx, query, domain.TripStatusRequested, cutoff, limit)
}

// AppendEvent appends a transition audit record.
func (r *TripRepository) AppendEvent(ctx context.Context, event *domain.TripEvent) error {
	query := `
		INSERT INTO trip_events (id, trip_id, from_status, to_status, actor_id, actor_role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.q.ExecContext(ctx, query,
		event.ID,
		event.TripID,
		event.FromStatus,
		event.ToStatus,
		event.ActorID,
		event.ActorRole,
		event.CreatedAt,
	)
	return mapError(err)
}

// ListEvents returns the audit trail of a trip.
func (r *TripRepository) ListEvents(ctx context.Context, tripID string) ([]*domain.TripEvent, error) {
	query := `
		SELECT id, trip_id, from_status, to_status, actor_id, actor_role, created_at
		FROM trip_events WHERE trip_id = $1 ORDER BY created_at ASC
	`

	rows, err := r.q.QueryContext(ctx, query, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.TripEvent
	for rows.Next() {
		var e domain.TripEvent
		if err := rows.Scan(&e.ID, &e.TripID, &e.FromStatus, &e.ToStatus, &e.ActorID, &e.ActorRole, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}

	return events, rows.Err()
}

// Stats aggregates trips per status.
func (r *TripRepository) Stats(ctx context.Context) (*domain.TripStats, error) {
	query := `
		SELECT status, COUNT(*), COALESCE(SUM(final_fare), 0), COALESCE(SUM(commission), 0)
		FROM trips GROUP BY status
	`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &domain.TripStats{ByStatus: make(map[domain.TripStatus]int64)}
	for rows.Next() {
		var (
			status     domain.TripStatus
			count      int64
			gross      int64
			commission int64
		)
		if err := rows.Scan(&status, &count, &gross, &commission); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
		stats.GrossRevenue += gross
		stats.CommissionEarned += commission
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	refunds := `SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions WHERE kind = $1`
	if err := r.q.QueryRowContext(ctx, refunds, domain.TransactionKindRefund).Scan(&stats.Refunded); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *TripRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Trip, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*domain.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}

	return trips, rows.Err()
}

func tripArgs(trip *domain.Trip) []any {
	var (
		curLat, curLng sql.NullFloat64
		weight         sql.NullInt64
		description    sql.NullString
		recipientName  sql.NullString
		recipientPhone sql.NullString
	)
	if trip.CurrentLocation != nil {
		curLat = sql.NullFloat64{Float64: trip.CurrentLocation.Lat, Valid: true}
		curLng = sql.NullFloat64{Float64: trip.CurrentLocation.Lng, Valid: true}
	}
	if trip.Cargo != nil {
		weight = sql.NullInt64{Int64: trip.Cargo.WeightGrams, Valid: true}
		description = nullString(trip.Cargo.Description)
		recipientName = nullString(trip.Cargo.RecipientName)
		recipientPhone = nullString(trip.Cargo.RecipientPhone)
	}

	return []any{
		trip.ID,
		trip.Kind,
		trip.RequesterID,
		nullString(trip.DriverID),
		trip.Status,
		trip.StatusVersion,
		trip.VehicleClass,
		trip.Pickup.Lat,
		trip.Pickup.Lng,
		trip.Dropoff.Lat,
		trip.Dropoff.Lng,
		curLat,
		curLng,
		weight,
		description,
		recipientName,
		recipientPhone,
		trip.DistanceMeters,
		trip.DurationMinutes,
		trip.SurgeBps,
		trip.EstimatedFare,
		nullInt64(trip.FinalFare),
		nullInt64(trip.Commission),
		nullString(trip.CancelReason),
		nullString(string(trip.CancelledBy)),
		trip.CreatedAt,
		nullTime(trip.AssignedAt),
		nullTime(trip.ArrivedAt),
		nullTime(trip.StartedAt),
		nullTime(trip.CompletedAt),
		nullTime(trip.CancelledAt),
		trip.UpdatedAt,
	}
}

func scanTrip(row rowScanner) (*domain.Trip, error) {
	var (
		trip           domain.Trip
		driverID       sql.NullString
		curLat, curLng sql.NullFloat64
		weight         sql.NullInt64
		description    sql.NullString
		recipientName  sql.NullString
		recipientPhone sql.NullString
		finalFare      sql.NullInt64
		commission     sql.NullInt64
		cancelReason   sql.NullString
		cancelledBy    sql.NullString
		assignedAt     sql.NullTime
		arrivedAt      sql.NullTime
		startedAt      sql.NullTime
		completedAt    sql.NullTime
		cancelledAt    sql.NullTime
	)

	err := row.Scan(
		&trip.ID,
		&trip.Kind,
		&trip.RequesterID,
		&driverID,
		&trip.Status,
		&trip.StatusVersion,
		&trip.VehicleClass,
		&trip.Pickup.Lat,
		&trip.Pickup.Lng,
		&trip.Dropoff.Lat,
		&trip.Dropoff.Lng,
		&curLat,
		&curLng,
		&weight,
		&description,
		&recipientName,
		&recipientPhone,
		&trip.DistanceMeters,
		&trip.DurationMinutes,
		&trip.SurgeBps,
		&trip.EstimatedFare,
		&finalFare,
		&commission,
		&cancelReason,
		&cancelledBy,
		&trip.CreatedAt,
		&assignedAt,
		&arrivedAt,
		&startedAt,
		&completedAt,
		&cancelledAt,
		&trip.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}

	trip.DriverID = driverID.String
	trip.CancelReason = cancelReason.String
	trip.CancelledBy = domain.Role(cancelledBy.String)
	trip.AssignedAt = assignedAt.Time
	trip.ArrivedAt = arrivedAt.Time
	trip.StartedAt = startedAt.Time
	trip.CompletedAt = completedAt.Time
	trip.CancelledAt = cancelledAt.Time

	if curLat.Valid && curLng.Valid {
		trip.CurrentLocation = &domain.Point{Lat: curLat.Float64, Lng: curLng.Float64}
	}
	if weight.Valid {
		trip.Cargo = &domain.Cargo{
			WeightGrams:    weight.Int64,
			Description:    description.String,
			RecipientName:  recipientName.String,
			RecipientPhone: recipientPhone.String,
		}
	}
	if finalFare.Valid {
		v := finalFare.Int64
		trip.FinalFare = &v
	}
	if commission.Valid {
		v := commission.Int64
		trip.Commission = &v
	}

	return &trip, nil
}

// Ensure TripRepository implements repository.TripRepository.
var _ repository.TripRepository = (*TripRepository)(nil)
