package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when a write violates a uniqueness rule.
	ErrDuplicate = errors.New("duplicate entity")

	// ErrConflict is returned when an optimistic version check fails.
	ErrConflict = errors.New("concurrent modification")
)
