package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"hailing/internal/domain"
	"hailing/internal/repository"
)

const driverColumns = `id, name, phone, vehicle_class, plate_number, verified, status, created_at, updated_at`

// DriverRepository is a PostgreSQL implementation of repository.DriverRepository.
type DriverRepository struct {
	q Querier
}

// NewDriverRepository creates a driver repository on a database or transaction.
func NewDriverRepository(q Querier) *DriverRepository {
	return &DriverRepository{q: q}
}

// Create adds a new driver.
func (r *DriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	query := `INSERT INTO drivers (` + driverColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q.ExecContext(ctx, query,
		driver.ID,
		driver.Name,
		driver.Phone,
		driver.VehicleClass,
		driver.PlateNumber,
		driver.Verified,
		driver.Status,
		driver.CreatedAt,
		driver.UpdatedAt,
	)
	return mapError(err)
}

// GetByID retrieves a driver by ID.
func (r *DriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1`
	return scanDriver(r.q.QueryRowContext(ctx, query, id))
}

// GetForUpdate retrieves a driver and locks the row.
func (r *DriverRepository) GetForUpdate(ctx context.Context, id string) (*domain.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1 FOR UPDATE`
	return scanDriver(r.q.QueryRowContext(ctx, query, id))
}

// SetVerified marks a driver as verified or not.
func (r *DriverRepository) SetVerified(ctx context.Context, id string, verified bool) error {
	result, err := r.q.ExecContext(ctx, `UPDATE drivers SET verified = $1, updated_at = NOW() WHERE id = $2`, verified, id)
	if err != nil {
		return err
	}
	return requireRow(result, repository.ErrNotFound)
}

// UpdateStatus updates a driver's presence status.
func (r *DriverRepository) UpdateStatus(ctx context.Context, id string, status domain.DriverStatus) error {
	result, err := r.q.ExecContext(ctx, `UPDATE drivers SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	return requireRow(result, repository.ErrNotFound)
}

// UpdateStatusIf sets the status only while the driver is in one of from.
func (r *DriverRepository) UpdateStatusIf(ctx context.Context, id string, status domain.DriverStatus, from ...domain.DriverStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	result, err := r.q.ExecContext(ctx,
		`UPDATE drivers SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)`,
		status, id, pq.Array(allowed))
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected > 0 {
		return true, nil
	}

	var exists bool
	err = r.q.QueryRowContext(ctx, `SELECT TRUE FROM drivers WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, repository.ErrNotFound
	}
	return false, err
}

// ListByStatus returns drivers with the given presence status.
func (r *DriverRepository) ListByStatus(ctx context.Context, status domain.DriverStatus) ([]*domain.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE status = $1 ORDER BY id`

	rows, err := r.q.QueryContext(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drivers []*domain.Driver
	for rows.Next() {
		driver, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, driver)
	}

	return drivers, rows.Err()
}

func scanDriver(row rowScanner) (*domain.Driver, error) {
	var driver domain.Driver
	err := row.Scan(
		&driver.ID,
		&driver.Name,
		&driver.Phone,
		&driver.VehicleClass,
		&driver.PlateNumber,
		&driver.Verified,
		&driver.Status,
		&driver.CreatedAt,
		&driver.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &driver, nil
}

// Ensure DriverRepository implements repository.DriverRepository.
var _ repository.DriverRepository = (*DriverRepository)(nil)
