package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/repository"
)

func fileColumnNames() []string {
	return []string{
		"id", "processing_job_id", "zip_master_id", "gx_bucket_id", "file_location", "file_name",
		"file_size", "extension", "file_hash", "original_content_hash", "source_type",
		"duplicate_of_file_id", "file_processing_status", "error_message", "created_at", "updated_at",
	}
}

func fileRow(f domain.FileMaster) *sqlmock.Rows {
	return sqlmock.NewRows(fileColumnNames()).AddRow(
		f.ID, f.ProcessingJobID, f.ZipMasterID, f.GxBucketID, f.FileLocation, f.FileName,
		f.FileSize, f.Extension, f.FileHash, f.OriginalContentHash, f.SourceType,
		f.DuplicateOfFileID, f.FileProcessingStatus, f.ErrorMessage, f.CreatedAt, f.UpdatedAt,
	)
}

func TestFileRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFileRepo(db)

	now := time.Now()
	mock.ExpectQuery(`SELECT id, processing_job_id.*FROM file_masters WHERE id = \$1`).
		WithArgs("f1").
		WillReturnRows(fileRow(domain.FileMaster{ID: "f1", GxBucketID: "b1", FileProcessingStatus: domain.FileQueued, CreatedAt: now, UpdatedAt: now}))

	f, err := repo.Get(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", f.ID)
	assert.Equal(t, domain.FileQueued, f.FileProcessingStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepo_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFileRepo(db)

	mock.ExpectQuery(`SELECT id, processing_job_id.*FROM file_masters WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(fileColumnNames()))

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepo_AttemptToCreate_DuplicateTranslated(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFileRepo(db)

	mock.ExpectExec(`INSERT INTO file_masters`).
		WillReturnError(&pq.Error{Code: uniqueViolationCode, Message: "duplicate key"})

	err = repo.AttemptToCreate(context.Background(), &domain.FileMaster{ID: "f1", GxBucketID: "b1"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepo_AttemptToCreate_OtherErrorPassesThrough(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFileRepo(db)

	mock.ExpectExec(`INSERT INTO file_masters`).
		WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})

	err = repo.AttemptToCreate(context.Background(), &domain.FileMaster{ID: "f1", GxBucketID: "b1"})
	assert.Error(t, err)
	assert.False(t, err == repository.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepo_AcquireLock_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFileRepo(db)

	mock.ExpectExec(`UPDATE file_masters SET file_processing_status = 'IN_PROGRESS', updated_at = NOW\(\)\s+WHERE id = \$1 AND file_processing_status = 'QUEUED'`).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.AcquireLock(context.Background(), "f1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepo_AcquireLock_AlreadyClaimed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFileRepo(db)

	mock.ExpectExec(`UPDATE file_masters SET file_processing_status = 'IN_PROGRESS', updated_at = NOW\(\)\s+WHERE id = \$1 AND file_processing_status = 'QUEUED'`).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.AcquireLock(context.Background(), "f1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepo_RequeueStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFileRepo(db)

	now := time.Now()
	mock.ExpectQuery(`UPDATE file_masters SET file_processing_status = 'QUEUED', updated_at = NOW\(\)\s+WHERE file_processing_status = 'IN_PROGRESS' AND updated_at < NOW\(\) - make_interval\(secs => \$1\)\s+RETURNING`).
		WithArgs(600.0).
		WillReturnRows(fileRow(domain.FileMaster{ID: "f1", GxBucketID: "b1", FileProcessingStatus: domain.FileQueued, CreatedAt: now, UpdatedAt: now}))

	out, err := repo.RequeueStale(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "f1", out[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepo_ClearErrorAndRequeue_CASFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFileRepo(db)

	mock.ExpectExec(`UPDATE file_masters SET file_processing_status = 'QUEUED', error_message = '', updated_at = NOW\(\)\s+WHERE id = \$1 AND file_processing_status = 'FAILED'`).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.ClearErrorAndRequeue(context.Background(), "f1")
	assert.ErrorIs(t, err, repository.ErrCASFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepo_UpdateStatusForIds_Empty(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewFileRepo(db)

	n, err := repo.UpdateStatusForIds(context.Background(), nil, domain.FileCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
