// Package repository defines the data-access contracts the ingestion
// core's services depend on, and the sentinel errors common to all of
// them. Concrete implementations live in repository/postgres.
package repository

import "errors"

// Sentinel errors shared across the Job/Zip/File/Gx repositories.
var (
	// ErrNotFound is returned when a lookup by ID finds no row.
	ErrNotFound = errors.New("repository: not found")

	// ErrDuplicate is returned by AttemptToCreate when the insert
	// violates the (gxBucketId, fileHash) unique index. Callers recover
	// via FindWinner.
	ErrDuplicate = errors.New("repository: duplicate key")

	// ErrCASFailed is returned when a compare-and-set UPDATE affected
	// zero rows because the expected prior state no longer held.
	ErrCASFailed = errors.New("repository: compare-and-set failed, row not in expected state")
)
