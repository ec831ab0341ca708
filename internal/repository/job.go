package repository

import (
	"context"

	"github.com/kraklabs/docingest/internal/domain"
)

// JobRepository is the data-access contract for ProcessingJob rows.
type JobRepository interface {
	Get(ctx context.Context, id string) (*domain.ProcessingJob, error)
	Create(ctx context.Context, j *domain.ProcessingJob) error
	UpdateFileLocation(ctx context.Context, id, fileLocation string) error

	// CompareAndSetStatus transitions id from expected to next, returning
	// ErrCASFailed if the row's current status is not expected.
	CompareAndSetStatus(ctx context.Context, id string, expected, next domain.JobStatus) error

	// SetTerminal sets the job to a terminal status with the given
	// error/remark, but only if it is not already terminal. A no-op
	// (nil error) if it's already terminal.
	SetTerminal(ctx context.Context, id string, status domain.JobStatus, errorMessage, remark string) error

	// ListByStatuses returns every job whose status is in statuses, used
	// by the lifecycle scheduler and stale-job sweeper.
	ListByStatuses(ctx context.Context, statuses []domain.JobStatus) ([]domain.ProcessingJob, error)

	// ListStalePendingUpload returns PENDING_UPLOAD jobs older than
	// olderThanHours.
	ListStalePendingUpload(ctx context.Context, olderThanHours int) ([]domain.ProcessingJob, error)

	// UpdateStatusForIds bulk-transitions every job in ids whose current
	// status is in expectedStatuses to newStatus. Returns the count
	// affected.
	UpdateStatusForIds(ctx context.Context, ids []string, newStatus domain.JobStatus, expectedStatuses []domain.JobStatus) (int, error)

	// ListTerminableIDs returns the IDs of every job currently in the
	// terminable status set, for fleet-wide termination.
	ListTerminableIDs(ctx context.Context) ([]string, error)
}
