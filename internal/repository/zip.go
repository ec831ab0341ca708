package repository

import (
	"context"
	"time"

	"github.com/kraklabs/docingest/internal/domain"
)

// ZipRepository is the data-access contract for ZipMaster rows.
type ZipRepository interface {
	Get(ctx context.Context, id string) (*domain.ZipMaster, error)
	GetByJobID(ctx context.Context, jobID string) (*domain.ZipMaster, error)

	// UpsertForJob idempotently ensures a ZipMaster exists for jobID in
	// QUEUED_FOR_EXTRACTION, returning the existing or newly created row.
	UpsertForJob(ctx context.Context, z *domain.ZipMaster) (*domain.ZipMaster, error)

	CompareAndSetStatus(ctx context.Context, id string, expected, next domain.ZipStatus) error
	SetTerminal(ctx context.Context, id string, status domain.ZipStatus, errorMessage string) error

	ListByJobIDs(ctx context.Context, jobIDs []string) ([]domain.ZipMaster, error)

	UpdateStatusForIds(ctx context.Context, ids []string, newStatus domain.ZipStatus, expectedStatuses []domain.ZipStatus) (int, error)

	// RequeueStale resets every EXTRACTION_IN_PROGRESS zip whose lock is
	// older than olderThan back to QUEUED_FOR_EXTRACTION. Returns the
	// reset rows, so the caller can re-enqueue them (keyed on their
	// processingJobId) with a fresh dedupId.
	RequeueStale(ctx context.Context, olderThan time.Duration) ([]domain.ZipMaster, error)
}
