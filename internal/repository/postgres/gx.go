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

// GxRepo implements repository.GxRepository against PostgreSQL.
type GxRepo struct{ db *sql.DB }

// NewGxRepo creates a Postgres-backed gx repository.
func NewGxRepo(db *sql.DB) *GxRepo { return &GxRepo{db: db} }

const gxColumns = `
	id, source_file_id, gx_bucket_id, file_location, processed_file_name,
	file_size, extension, gx_status, gx_process_id, error_message, created_at, updated_at`

func scanGx(row *sql.Row) (*domain.GxMaster, error) {
	g := &domain.GxMaster{}
	err := row.Scan(
		&g.ID, &g.SourceFileID, &g.GxBucketID, &g.FileLocation, &g.ProcessedFileName,
		&g.FileSize, &g.Extension, &g.GxStatus, &g.GxProcessID, &g.ErrorMessage, &g.CreatedAt, &g.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan gx: %w", err)
	}
	return g, nil
}

func (r *GxRepo) Get(ctx context.Context, id string) (*domain.GxMaster, error) {
	return scanGx(r.db.QueryRowContext(ctx, `SELECT `+gxColumns+` FROM gx_masters WHERE id = $1`, id))
}

func (r *GxRepo) Create(ctx context.Context, g *domain.GxMaster) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.GxProcessID == "" {
		g.GxProcessID = domain.NilProcessID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gx_masters
			(id, source_file_id, gx_bucket_id, file_location, processed_file_name,
			 file_size, extension, gx_status, gx_process_id, error_message, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW())
	`, g.ID, g.SourceFileID, g.GxBucketID, g.FileLocation, g.ProcessedFileName,
		g.FileSize, g.Extension, g.GxStatus, g.GxProcessID, g.ErrorMessage)
	if err != nil {
		return fmt.Errorf("create gx: %w", err)
	}
	return nil
}

func (r *GxRepo) UpsertForSourceFile(ctx context.Context, g *domain.GxMaster) (*domain.GxMaster, error) {
	existing, err := scanGx(r.db.QueryRowContext(ctx, `
		SELECT `+gxColumns+` FROM gx_masters WHERE source_file_id = $1 AND file_location = $2
	`, g.SourceFileID, g.FileLocation))
	if err == nil {
		return existing, nil
	}
	if err != repository.ErrNotFound {
		return nil, err
	}
	if createErr := r.Create(ctx, g); createErr != nil {
		return nil, createErr
	}
	return g, nil
}

func (r *GxRepo) UpdateStatus(ctx context.Context, id string, status domain.GxStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE gx_masters SET gx_status = $1, updated_at = NOW() WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("update gx status: %w", err)
	}
	return nil
}

func (r *GxRepo) UpdateStatusAndMessage(ctx context.Context, id string, status domain.GxStatus, message string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE gx_masters SET gx_status = $1, error_message = $2, updated_at = NOW() WHERE id = $3
	`, status, message, id)
	if err != nil {
		return fmt.Errorf("update gx status and message: %w", err)
	}
	return nil
}

func (r *GxRepo) SetError(ctx context.Context, id string, errorMessage string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE gx_masters SET gx_status = 'ERROR', error_message = $1, updated_at = NOW() WHERE id = $2
	`, errorMessage, id)
	if err != nil {
		return fmt.Errorf("set gx error: %w", err)
	}
	return nil
}

func (r *GxRepo) SetLocation(ctx context.Context, id, fileLocation string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE gx_masters SET file_location = $1, updated_at = NOW() WHERE id = $2
	`, fileLocation, id)
	if err != nil {
		return fmt.Errorf("set gx location: %w", err)
	}
	return nil
}

func (r *GxRepo) SetGxProcessID(ctx context.Context, id, gxProcessID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE gx_masters SET gx_process_id = $1, updated_at = NOW() WHERE id = $2
	`, gxProcessID, id)
	if err != nil {
		return fmt.Errorf("set gx process id: %w", err)
	}
	return nil
}

func (r *GxRepo) ListByJobIDs(ctx context.Context, jobIDs []string) ([]domain.GxMaster, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT g.id, g.source_file_id, g.gx_bucket_id, g.file_location, g.processed_file_name,
		       g.file_size, g.extension, g.gx_status, g.gx_process_id, g.error_message, g.created_at, g.updated_at
		FROM gx_masters g
		JOIN file_masters f ON f.id = g.source_file_id
		WHERE f.processing_job_id = ANY($1)
	`, pq.Array(jobIDs))
	if err != nil {
		return nil, fmt.Errorf("list gx by job: %w", err)
	}
	defer rows.Close()
	return scanGxRows(rows)
}

func (r *GxRepo) ListBySourceFileID(ctx context.Context, fileID string) ([]domain.GxMaster, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+gxColumns+` FROM gx_masters WHERE source_file_id = $1`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list gx by source file: %w", err)
	}
	defer rows.Close()
	return scanGxRows(rows)
}

func (r *GxRepo) ListByStatuses(ctx context.Context, statuses []domain.GxStatus) ([]domain.GxMaster, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+gxColumns+` FROM gx_masters WHERE gx_status = ANY($1)`, pq.Array(statusSlice(statuses)))
	if err != nil {
		return nil, fmt.Errorf("list gx by status: %w", err)
	}
	defer rows.Close()
	return scanGxRows(rows)
}

func (r *GxRepo) ListByBucketPaginated(ctx context.Context, gxBucketID string, statuses []domain.GxStatus, limit, offset int) ([]domain.GxMaster, int, error) {
	var total int
	if len(statuses) == 0 {
		if err := r.db.QueryRowContext(ctx,
			`SELECT count(*) FROM gx_masters WHERE gx_bucket_id = $1`, gxBucketID,
		).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count gx by bucket: %w", err)
		}
		rows, err := r.db.QueryContext(ctx, `
			SELECT `+gxColumns+` FROM gx_masters WHERE gx_bucket_id = $1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3
		`, gxBucketID, limit, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("list gx by bucket: %w", err)
		}
		defer rows.Close()
		out, err := scanGxRows(rows)
		return out, total, err
	}

	statusArr := pq.Array(statusSlice(statuses))
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM gx_masters WHERE gx_bucket_id = $1 AND gx_status = ANY($2)`, gxBucketID, statusArr,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count gx by bucket and status: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+gxColumns+` FROM gx_masters WHERE gx_bucket_id = $1 AND gx_status = ANY($2)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, gxBucketID, statusArr, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list gx by bucket and status: %w", err)
	}
	defer rows.Close()
	out, err := scanGxRows(rows)
	return out, total, err
}

func (r *GxRepo) CountByStatusForBuckets(ctx context.Context, gxBucketIDs []string) (map[string]map[domain.GxStatus]int, error) {
	out := make(map[string]map[domain.GxStatus]int, len(gxBucketIDs))
	if len(gxBucketIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT gx_bucket_id, gx_status, count(*) FROM gx_masters
		WHERE gx_bucket_id = ANY($1) GROUP BY gx_bucket_id, gx_status
	`, pq.Array(gxBucketIDs))
	if err != nil {
		return nil, fmt.Errorf("count gx by status for buckets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var bucket string
		var status domain.GxStatus
		var n int
		if err := rows.Scan(&bucket, &status, &n); err != nil {
			return nil, fmt.Errorf("scan gx status count: %w", err)
		}
		if out[bucket] == nil {
			out[bucket] = make(map[domain.GxStatus]int)
		}
		out[bucket][status] = n
	}
	return out, rows.Err()
}

func scanGxRows(rows *sql.Rows) ([]domain.GxMaster, error) {
	var out []domain.GxMaster
	for rows.Next() {
		var g domain.GxMaster
		if err := rows.Scan(
			&g.ID, &g.SourceFileID, &g.GxBucketID, &g.FileLocation, &g.ProcessedFileName,
			&g.FileSize, &g.Extension, &g.GxStatus, &g.GxProcessID, &g.ErrorMessage, &g.CreatedAt, &g.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan gx row: %w", err)
		}
		out = append(out, g)
	}
	return out, nil
}

func (r *GxRepo) UpdateStatusForIds(ctx context.Context, ids []string, newStatus domain.GxStatus, expectedStatuses []domain.GxStatus) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE gx_masters SET gx_status = $1, updated_at = NOW()
		WHERE id = ANY($2) AND gx_status = ANY($3)
	`, newStatus, pq.Array(ids), pq.Array(statusSlice(expectedStatuses)))
	if err != nil {
		return 0, fmt.Errorf("bulk update gx status: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *GxRepo) ClearErrorAndRequeue(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE gx_masters SET gx_status = 'QUEUED_FOR_UPLOAD', error_message = '', updated_at = NOW()
		WHERE id = $1 AND gx_status = 'ERROR'
	`, id)
	if err != nil {
		return fmt.Errorf("requeue gx: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrCASFailed
	}
	return nil
}
