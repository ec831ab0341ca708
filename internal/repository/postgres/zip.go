package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/repository"
)

// ZipRepo implements repository.ZipRepository against PostgreSQL.
type ZipRepo struct{ db *sql.DB }

// NewZipRepo creates a Postgres-backed zip repository.
func NewZipRepo(db *sql.DB) *ZipRepo { return &ZipRepo{db: db} }

const zipColumns = `
	id, processing_job_id, gx_bucket_id, original_file_path, original_file_name,
	file_size, zip_processing_status, error_message, created_at, updated_at`

func scanZipRows(rows *sql.Rows) ([]domain.ZipMaster, error) {
	var out []domain.ZipMaster
	for rows.Next() {
		var z domain.ZipMaster
		if err := rows.Scan(
			&z.ID, &z.ProcessingJobID, &z.GxBucketID, &z.OriginalFilePath, &z.OriginalFileName,
			&z.FileSize, &z.ZipProcessingStatus, &z.ErrorMessage, &z.CreatedAt, &z.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan zip row: %w", err)
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

func (r *ZipRepo) scanRow(row *sql.Row) (*domain.ZipMaster, error) {
	z := &domain.ZipMaster{}
	err := row.Scan(
		&z.ID, &z.ProcessingJobID, &z.GxBucketID, &z.OriginalFilePath, &z.OriginalFileName,
		&z.FileSize, &z.ZipProcessingStatus, &z.ErrorMessage, &z.CreatedAt, &z.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan zip: %w", err)
	}
	return z, nil
}

func (r *ZipRepo) Get(ctx context.Context, id string) (*domain.ZipMaster, error) {
	return r.scanRow(r.db.QueryRowContext(ctx, `
		SELECT id, processing_job_id, gx_bucket_id, original_file_path, original_file_name,
		       file_size, zip_processing_status, error_message, created_at, updated_at
		FROM zip_masters WHERE id = $1
	`, id))
}

func (r *ZipRepo) GetByJobID(ctx context.Context, jobID string) (*domain.ZipMaster, error) {
	return r.scanRow(r.db.QueryRowContext(ctx, `
		SELECT id, processing_job_id, gx_bucket_id, original_file_path, original_file_name,
		       file_size, zip_processing_status, error_message, created_at, updated_at
		FROM zip_masters WHERE processing_job_id = $1
	`, jobID))
}

func (r *ZipRepo) UpsertForJob(ctx context.Context, z *domain.ZipMaster) (*domain.ZipMaster, error) {
	existing, err := r.GetByJobID(ctx, z.ProcessingJobID)
	if err == nil {
		return existing, nil
	}
	if err != repository.ErrNotFound {
		return nil, err
	}

	if z.ID == "" {
		z.ID = uuid.NewString()
	}
	if z.ZipProcessingStatus == "" {
		z.ZipProcessingStatus = domain.ZipQueuedForExtraction
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO zip_masters
			(id, processing_job_id, gx_bucket_id, original_file_path, original_file_name,
			 file_size, zip_processing_status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (processing_job_id) DO NOTHING
	`, z.ID, z.ProcessingJobID, z.GxBucketID, z.OriginalFilePath, z.OriginalFileName,
		z.FileSize, z.ZipProcessingStatus, z.ErrorMessage)
	if err != nil {
		return nil, fmt.Errorf("upsert zip: %w", err)
	}

	// Another writer may have won the race against the unique
	// processing_job_id index; re-read to get the authoritative row.
	return r.GetByJobID(ctx, z.ProcessingJobID)
}

func (r *ZipRepo) CompareAndSetStatus(ctx context.Context, id string, expected, next domain.ZipStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE zip_masters SET zip_processing_status = $1, updated_at = NOW()
		WHERE id = $2 AND zip_processing_status = $3
	`, next, id, expected)
	if err != nil {
		return fmt.Errorf("cas zip status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrCASFailed
	}
	return nil
}

func (r *ZipRepo) SetTerminal(ctx context.Context, id string, status domain.ZipStatus, errorMessage string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE zip_masters SET zip_processing_status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3 AND zip_processing_status NOT IN ('EXTRACTION_FAILED','TERMINATED')
	`, status, errorMessage, id)
	if err != nil {
		return fmt.Errorf("set zip terminal: %w", err)
	}
	return nil
}

func (r *ZipRepo) ListByJobIDs(ctx context.Context, jobIDs []string) ([]domain.ZipMaster, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, processing_job_id, gx_bucket_id, original_file_path, original_file_name,
		       file_size, zip_processing_status, error_message, created_at, updated_at
		FROM zip_masters WHERE processing_job_id = ANY($1)
	`, pq.Array(jobIDs))
	if err != nil {
		return nil, fmt.Errorf("list zips by job: %w", err)
	}
	defer rows.Close()

	var out []domain.ZipMaster
	for rows.Next() {
		var z domain.ZipMaster
		if err := rows.Scan(
			&z.ID, &z.ProcessingJobID, &z.GxBucketID, &z.OriginalFilePath, &z.OriginalFileName,
			&z.FileSize, &z.ZipProcessingStatus, &z.ErrorMessage, &z.CreatedAt, &z.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan zip: %w", err)
		}
		out = append(out, z)
	}
	return out, nil
}

func (r *ZipRepo) UpdateStatusForIds(ctx context.Context, ids []string, newStatus domain.ZipStatus, expectedStatuses []domain.ZipStatus) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE zip_masters SET zip_processing_status = $1, updated_at = NOW()
		WHERE id = ANY($2) AND zip_processing_status = ANY($3)
	`, newStatus, pq.Array(ids), pq.Array(statusSlice(expectedStatuses)))
	if err != nil {
		return 0, fmt.Errorf("bulk update zip status: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *ZipRepo) RequeueStale(ctx context.Context, olderThan time.Duration) ([]domain.ZipMaster, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE zip_masters SET zip_processing_status = 'QUEUED_FOR_EXTRACTION', updated_at = NOW()
		WHERE zip_processing_status = 'EXTRACTION_IN_PROGRESS' AND updated_at < NOW() - make_interval(secs => $1)
		RETURNING `+zipColumns, olderThan.Seconds())
	if err != nil {
		return nil, fmt.Errorf("requeue stale zips: %w", err)
	}
	defer rows.Close()
	return scanZipRows(rows)
}
