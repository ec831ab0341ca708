package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/repository"
)

// uniqueViolationCode is the PostgreSQL SQLSTATE for a unique-index
// violation (lib/pq surfaces it as pq.Error.Code).
const uniqueViolationCode = "23505"

// FileRepo implements repository.FileRepository against PostgreSQL,
// including the lock/atomic primitives of C4.
type FileRepo struct{ db *sql.DB }

// NewFileRepo creates a Postgres-backed file repository.
func NewFileRepo(db *sql.DB) *FileRepo { return &FileRepo{db: db} }

const fileColumns = `
	id, processing_job_id, zip_master_id, gx_bucket_id, file_location, file_name,
	file_size, extension, file_hash, original_content_hash, source_type,
	duplicate_of_file_id, file_processing_status, error_message, created_at, updated_at`

func scanFile(row *sql.Row) (*domain.FileMaster, error) {
	f := &domain.FileMaster{}
	err := row.Scan(
		&f.ID, &f.ProcessingJobID, &f.ZipMasterID, &f.GxBucketID, &f.FileLocation, &f.FileName,
		&f.FileSize, &f.Extension, &f.FileHash, &f.OriginalContentHash, &f.SourceType,
		&f.DuplicateOfFileID, &f.FileProcessingStatus, &f.ErrorMessage, &f.CreatedAt, &f.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return f, nil
}

func (r *FileRepo) Get(ctx context.Context, id string) (*domain.FileMaster, error) {
	return scanFile(r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM file_masters WHERE id = $1`, id))
}

func (r *FileRepo) GetWithJob(ctx context.Context, id string) (*domain.FileMaster, *domain.ProcessingJob, error) {
	f, err := r.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	j := &domain.ProcessingJob{}
	err = r.db.QueryRowContext(ctx, `
		SELECT id, original_filename, file_location, status, current_stage,
		       error_message, remark, gx_bucket_id, skip_gx_process, created_at, updated_at
		FROM processing_jobs WHERE id = $1
	`, f.ProcessingJobID).Scan(
		&j.ID, &j.OriginalFilename, &j.FileLocation, &j.Status, &j.CurrentStage,
		&j.ErrorMessage, &j.Remark, &j.GxBucketID, &j.SkipGxProcess, &j.CreatedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get file's job: %w", err)
	}
	return f, j, nil
}

func (r *FileRepo) insert(ctx context.Context, f *domain.FileMaster) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO file_masters
			(id, processing_job_id, zip_master_id, gx_bucket_id, file_location, file_name,
			 file_size, extension, file_hash, original_content_hash, source_type,
			 duplicate_of_file_id, file_processing_status, error_message, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW(),NOW())
	`, f.ID, f.ProcessingJobID, f.ZipMasterID, f.GxBucketID, f.FileLocation, f.FileName,
		f.FileSize, f.Extension, f.FileHash, f.OriginalContentHash, f.SourceType,
		f.DuplicateOfFileID, f.FileProcessingStatus, f.ErrorMessage)
	return err
}

func (r *FileRepo) Create(ctx context.Context, f *domain.FileMaster) error {
	if err := r.insert(ctx, f); err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

// AttemptToCreate inserts f, translating a (gx_bucket_id, file_hash)
// unique-index violation into repository.ErrDuplicate so the caller can
// recover via FindWinner, per spec.md §4.4/§4.6.
func (r *FileRepo) AttemptToCreate(ctx context.Context, f *domain.FileMaster) error {
	err := r.insert(ctx, f)
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
		return repository.ErrDuplicate
	}
	return fmt.Errorf("attempt to create file: %w", err)
}

func (r *FileRepo) FindWinner(ctx context.Context, gxBucketID, fileHash string) (*domain.FileMaster, error) {
	f, err := scanFile(r.db.QueryRowContext(ctx, `
		SELECT `+fileColumns+`
		FROM file_masters
		WHERE gx_bucket_id = $1 AND file_hash = $2
		  AND file_processing_status NOT IN ('FAILED','IGNORED')
		ORDER BY id ASC
		LIMIT 1
	`, gxBucketID, fileHash))
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *FileRepo) AcquireLock(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE file_masters SET file_processing_status = 'IN_PROGRESS', updated_at = NOW()
		WHERE id = $1 AND file_processing_status = 'QUEUED'
	`, id)
	if err != nil {
		return false, fmt.Errorf("acquire file lock: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *FileRepo) UpdateHashAndSize(ctx context.Context, id, fileHash string, size int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE file_masters SET file_hash = $1, file_size = $2, updated_at = NOW() WHERE id = $3
	`, fileHash, size, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("update file hash: %w", err)
	}
	return nil
}

func (r *FileRepo) UpdateStatus(ctx context.Context, id string, status domain.FileProcessingStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE file_masters SET file_processing_status = $1, updated_at = NOW() WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("update file status: %w", err)
	}
	return nil
}

func (r *FileRepo) SetTerminal(ctx context.Context, id string, status domain.FileProcessingStatus, errorMessage string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE file_masters
		SET file_processing_status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3 AND file_processing_status NOT IN ('COMPLETED','FAILED','DUPLICATE','IGNORED','TERMINATED')
	`, status, errorMessage, id)
	if err != nil {
		return fmt.Errorf("set file terminal: %w", err)
	}
	return nil
}

func (r *FileRepo) MarkDuplicate(ctx context.Context, id, winnerID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE file_masters
		SET file_processing_status = 'DUPLICATE', duplicate_of_file_id = $1, updated_at = NOW()
		WHERE id = $2
	`, winnerID, id)
	if err != nil {
		return fmt.Errorf("mark file duplicate: %w", err)
	}
	return nil
}

func (r *FileRepo) CompleteIfInProgress(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE file_masters SET file_processing_status = 'COMPLETED', updated_at = NOW()
		WHERE id = $1 AND file_processing_status = 'IN_PROGRESS'
	`, id)
	if err != nil {
		return fmt.Errorf("complete file: %w", err)
	}
	return nil
}

func (r *FileRepo) ListByJobIDs(ctx context.Context, jobIDs []string) ([]domain.FileMaster, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM file_masters WHERE processing_job_id = ANY($1)`, pq.Array(jobIDs))
	if err != nil {
		return nil, fmt.Errorf("list files by job: %w", err)
	}
	defer rows.Close()
	return scanFileRows(rows)
}

func (r *FileRepo) ListByZipID(ctx context.Context, zipID string) ([]domain.FileMaster, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM file_masters WHERE zip_master_id = $1`, zipID)
	if err != nil {
		return nil, fmt.Errorf("list files by zip: %w", err)
	}
	defer rows.Close()
	return scanFileRows(rows)
}

func scanFileRows(rows *sql.Rows) ([]domain.FileMaster, error) {
	var out []domain.FileMaster
	for rows.Next() {
		var f domain.FileMaster
		if err := rows.Scan(
			&f.ID, &f.ProcessingJobID, &f.ZipMasterID, &f.GxBucketID, &f.FileLocation, &f.FileName,
			&f.FileSize, &f.Extension, &f.FileHash, &f.OriginalContentHash, &f.SourceType,
			&f.DuplicateOfFileID, &f.FileProcessingStatus, &f.ErrorMessage, &f.CreatedAt, &f.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}

func (r *FileRepo) UpdateStatusForIds(ctx context.Context, ids []string, newStatus domain.FileProcessingStatus, expectedStatuses []domain.FileProcessingStatus) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE file_masters SET file_processing_status = $1, updated_at = NOW()
		WHERE id = ANY($2) AND file_processing_status = ANY($3)
	`, newStatus, pq.Array(ids), pq.Array(statusSlice(expectedStatuses)))
	if err != nil {
		return 0, fmt.Errorf("bulk update file status: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *FileRepo) RequeueStale(ctx context.Context, olderThan time.Duration) ([]domain.FileMaster, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE file_masters SET file_processing_status = 'QUEUED', updated_at = NOW()
		WHERE file_processing_status = 'IN_PROGRESS' AND updated_at < NOW() - make_interval(secs => $1)
		RETURNING `+fileColumns, olderThan.Seconds())
	if err != nil {
		return nil, fmt.Errorf("requeue stale files: %w", err)
	}
	defer rows.Close()
	return scanFileRows(rows)
}

func (r *FileRepo) ClearErrorAndRequeue(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE file_masters SET file_processing_status = 'QUEUED', error_message = '', updated_at = NOW()
		WHERE id = $1 AND file_processing_status = 'FAILED'
	`, id)
	if err != nil {
		return fmt.Errorf("requeue file: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrCASFailed
	}
	return nil
}
