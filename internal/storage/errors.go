package storage

import "errors"

// Storage errors shared by all ledger store implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Append-only records do not allow updates.
	ErrDuplicateKey = errors.New("duplicate key: append-only record does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a conditional update loses an optimistic
	// concurrency race: the row version no longer matches the read snapshot.
	ErrConflict = errors.New("version conflict")
)
