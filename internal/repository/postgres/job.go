// Package postgres implements the repository interfaces against
// PostgreSQL using database/sql and lib/pq, following the query style of
// this codebase's existing repositories: plain SQL, explicit scans, CAS
// UPDATEs checked via RowsAffected.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/repository"
)

// JobRepo implements repository.JobRepository against PostgreSQL.
type JobRepo struct{ db *sql.DB }

// NewJobRepo creates a Postgres-backed job repository.
func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{db: db} }

func (r *JobRepo) Get(ctx context.Context, id string) (*domain.ProcessingJob, error) {
	j := &domain.ProcessingJob{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, original_filename, file_location, status, current_stage,
		       error_message, remark, gx_bucket_id, skip_gx_process, created_at, updated_at
		FROM processing_jobs WHERE id = $1
	`, id).Scan(
		&j.ID, &j.OriginalFilename, &j.FileLocation, &j.Status, &j.CurrentStage,
		&j.ErrorMessage, &j.Remark, &j.GxBucketID, &j.SkipGxProcess, &j.CreatedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (r *JobRepo) Create(ctx context.Context, j *domain.ProcessingJob) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO processing_jobs
			(id, original_filename, file_location, status, current_stage,
			 error_message, remark, gx_bucket_id, skip_gx_process, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, j.ID, j.OriginalFilename, j.FileLocation, j.Status, j.CurrentStage,
		j.ErrorMessage, j.Remark, j.GxBucketID, j.SkipGxProcess)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *JobRepo) UpdateFileLocation(ctx context.Context, id, fileLocation string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE processing_jobs SET file_location = $1, updated_at = NOW() WHERE id = $2
	`, fileLocation, id)
	if err != nil {
		return fmt.Errorf("update job file_location: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *JobRepo) CompareAndSetStatus(ctx context.Context, id string, expected, next domain.JobStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE processing_jobs SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, next, id, expected)
	if err != nil {
		return fmt.Errorf("cas job status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrCASFailed
	}
	return nil
}

func (r *JobRepo) SetTerminal(ctx context.Context, id string, status domain.JobStatus, errorMessage, remark string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE processing_jobs
		SET status = $1, error_message = $2, remark = $3, updated_at = NOW()
		WHERE id = $4 AND status NOT IN ('COMPLETED','PARTIAL_SUCCESS','FAILED','TERMINATED')
	`, status, errorMessage, remark, id)
	if err != nil {
		return fmt.Errorf("set job terminal: %w", err)
	}
	return nil
}

func (r *JobRepo) ListByStatuses(ctx context.Context, statuses []domain.JobStatus) ([]domain.ProcessingJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, original_filename, file_location, status, current_stage,
		       error_message, remark, gx_bucket_id, skip_gx_process, created_at, updated_at
		FROM processing_jobs WHERE status = ANY($1)
	`, pq.Array(statusSlice(statuses)))
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessingJob
	for rows.Next() {
		var j domain.ProcessingJob
		if err := rows.Scan(
			&j.ID, &j.OriginalFilename, &j.FileLocation, &j.Status, &j.CurrentStage,
			&j.ErrorMessage, &j.Remark, &j.GxBucketID, &j.SkipGxProcess, &j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, nil
}

func (r *JobRepo) ListStalePendingUpload(ctx context.Context, olderThanHours int) ([]domain.ProcessingJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, original_filename, file_location, status, current_stage,
		       error_message, remark, gx_bucket_id, skip_gx_process, created_at, updated_at
		FROM processing_jobs
		WHERE status = 'PENDING_UPLOAD' AND created_at < NOW() - ($1 || ' hours')::interval
	`, olderThanHours)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessingJob
	for rows.Next() {
		var j domain.ProcessingJob
		if err := rows.Scan(
			&j.ID, &j.OriginalFilename, &j.FileLocation, &j.Status, &j.CurrentStage,
			&j.ErrorMessage, &j.Remark, &j.GxBucketID, &j.SkipGxProcess, &j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stale job: %w", err)
		}
		out = append(out, j)
	}
	return out, nil
}

func (r *JobRepo) UpdateStatusForIds(ctx context.Context, ids []string, newStatus domain.JobStatus, expectedStatuses []domain.JobStatus) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE processing_jobs SET status = $1, updated_at = NOW()
		WHERE id = ANY($2) AND status = ANY($3)
	`, newStatus, pq.Array(ids), pq.Array(statusSlice(expectedStatuses)))
	if err != nil {
		return 0, fmt.Errorf("bulk update job status: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *JobRepo) ListTerminableIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM processing_jobs
		WHERE status IN ('PENDING_UPLOAD','UPLOAD_COMPLETE','QUEUED','PROCESSING')
	`)
	if err != nil {
		return nil, fmt.Errorf("list terminable jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan terminable id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func statusSlice[T ~string](statuses []T) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
