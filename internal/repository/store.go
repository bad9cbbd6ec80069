package repository

import "context"

// Store groups the repositories that share one transaction boundary.
type Store interface {
	Trips() TripRepository
	Drivers() DriverRepository
	Assignments() AssignmentRepository
	Wallets() WalletRepository

	// WithinTx runs fn inside one atomic unit. Every write fn makes through
	// tx commits together or not at all; a non-nil error from fn rolls back.
	// Calling WithinTx on a store that is already transactional joins it.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
