package repository

import (
	"context"

	"github.com/kraklabs/docingest/internal/domain"
)

// GxRepository is the data-access contract for GxMaster rows.
type GxRepository interface {
	Get(ctx context.Context, id string) (*domain.GxMaster, error)
	Create(ctx context.Context, g *domain.GxMaster) error

	// UpsertForSourceFile finds an existing Gx for (sourceFileId,
	// fileLocation) or creates one, used when a handler re-processes the
	// same source in place.
	UpsertForSourceFile(ctx context.Context, g *domain.GxMaster) (*domain.GxMaster, error)

	UpdateStatus(ctx context.Context, id string, status domain.GxStatus) error

	// UpdateStatusAndMessage sets status and errorMessage together, for
	// the status poller (C12) capturing a GX statusMessage alongside a
	// non-error translated status.
	UpdateStatusAndMessage(ctx context.Context, id string, status domain.GxStatus, message string) error

	SetError(ctx context.Context, id string, errorMessage string) error
	SetLocation(ctx context.Context, id, fileLocation string) error
	SetGxProcessID(ctx context.Context, id, gxProcessID string) error

	ListByJobIDs(ctx context.Context, jobIDs []string) ([]domain.GxMaster, error)
	ListBySourceFileID(ctx context.Context, fileID string) ([]domain.GxMaster, error)
	ListByStatuses(ctx context.Context, statuses []domain.GxStatus) ([]domain.GxMaster, error)

	// ListByBucketPaginated returns one page of gx_bucket_id's rows,
	// optionally narrowed to statuses, newest first, for the admin view
	// listing surface.
	ListByBucketPaginated(ctx context.Context, gxBucketID string, statuses []domain.GxStatus, limit, offset int) ([]domain.GxMaster, int, error)

	// CountByStatusForBuckets returns, for each bucket id, the count of
	// rows per status, for the admin metrics surface.
	CountByStatusForBuckets(ctx context.Context, gxBucketIDs []string) (map[string]map[domain.GxStatus]int, error)

	UpdateStatusForIds(ctx context.Context, ids []string, newStatus domain.GxStatus, expectedStatuses []domain.GxStatus) (int, error)

	// ClearErrorAndRequeue resets an ERROR gx to QUEUED_FOR_UPLOAD,
	// clearing its error, for the retry path (C12).
	ClearErrorAndRequeue(ctx context.Context, id string) error
}
