package repository

import (
	"context"
	"time"

	"github.com/kraklabs/docingest/internal/domain"
)

// FileRepository is the data-access contract for FileMaster rows,
// including the lock/atomic primitives of C4.
type FileRepository interface {
	Get(ctx context.Context, id string) (*domain.FileMaster, error)
	GetWithJob(ctx context.Context, id string) (*domain.FileMaster, *domain.ProcessingJob, error)
	Create(ctx context.Context, f *domain.FileMaster) error

	// AttemptToCreate inserts f and flushes immediately. Returns
	// ErrDuplicate if the (gxBucketId, fileHash) unique index is
	// violated; callers then call FindWinner to resolve the race.
	AttemptToCreate(ctx context.Context, f *domain.FileMaster) error

	// FindWinner returns the lowest-id File with the given bucket+hash
	// whose status is not FAILED or IGNORED.
	FindWinner(ctx context.Context, gxBucketID, fileHash string) (*domain.FileMaster, error)

	// AcquireLock atomically transitions id from QUEUED to IN_PROGRESS.
	// Returns true iff exactly one row was affected.
	AcquireLock(ctx context.Context, id string) (bool, error)

	UpdateHashAndSize(ctx context.Context, id, fileHash string, size int64) error
	UpdateStatus(ctx context.Context, id string, status domain.FileProcessingStatus) error
	SetTerminal(ctx context.Context, id string, status domain.FileProcessingStatus, errorMessage string) error
	MarkDuplicate(ctx context.Context, id, winnerID string) error

	// CompleteIfInProgress marks id COMPLETED only if its current status
	// is still IN_PROGRESS (spec.md §4.7 step 9).
	CompleteIfInProgress(ctx context.Context, id string) error

	ListByJobIDs(ctx context.Context, jobIDs []string) ([]domain.FileMaster, error)
	ListByZipID(ctx context.Context, zipID string) ([]domain.FileMaster, error)

	UpdateStatusForIds(ctx context.Context, ids []string, newStatus domain.FileProcessingStatus, expectedStatuses []domain.FileProcessingStatus) (int, error)

	// ClearErrorAndRequeue resets a FAILED file to QUEUED, clearing its
	// error, for the retry path (C12). Returns ErrCASFailed if the
	// file's current status is not FAILED.
	ClearErrorAndRequeue(ctx context.Context, id string) error

	// RequeueStale resets every IN_PROGRESS file whose lock is older
	// than olderThan back to QUEUED, a safety net over broker
	// redelivery for a worker that crashed or errored after
	// AcquireLock. Returns the reset rows, so the caller can re-enqueue
	// them (keyed on their gxBucketId) with a fresh dedupId.
	RequeueStale(ctx context.Context, olderThan time.Duration) ([]domain.FileMaster, error)
}
