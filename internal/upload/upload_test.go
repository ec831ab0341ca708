package upload

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/docingest/internal/pkg/txn"
	"github.com/kraklabs/docingest/internal/storage"
)

type fakeStorage struct {
	uploaded  map[string][]byte
	uploadErr error
}

func (s *fakeStorage) PresignUpload(ctx context.Context, key string) (string, error)   { return "", nil }
func (s *fakeStorage) PresignDownload(ctx context.Context, key string) (string, error) { return "", nil }
func (s *fakeStorage) InitiateMultipart(ctx context.Context, key string) (string, error) {
	return "", nil
}
func (s *fakeStorage) PresignPart(ctx context.Context, key, uploadID string, partNumber int32) (string, error) {
	return "", nil
}
func (s *fakeStorage) CompleteMultipart(ctx context.Context, key, uploadID string, parts []storage.Part) error {
	return nil
}
func (s *fakeStorage) DownloadStream(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, nil
}
func (s *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, length int64) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if s.uploaded == nil {
		s.uploaded = map[string][]byte{}
	}
	s.uploaded[key] = b
	return nil
}
func (s *fakeStorage) UploadAsync(ctx context.Context, key string, body io.Reader) *storage.Future {
	future := storage.NewFuture()
	future.Resolve(s.Upload(ctx, key, body, 0))
	return future
}
func (s *fakeStorage) Copy(ctx context.Context, srcKey, dstKey string) error { return nil }

type fakeAction struct {
	successID string
	failureID string
	failureMsg string
}

func (a *fakeAction) OnSuccess(ctx context.Context, entityID string) error {
	a.successID = entityID
	return nil
}
func (a *fakeAction) OnFailure(ctx context.Context, entityID string, errorMessage string) error {
	a.failureID = entityID
	a.failureMsg = errorMessage
	return nil
}

func newRunner(t *testing.T) (*txn.Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return txn.NewRunner(db), mock
}

func TestScheduleAfterCommit_FiresOnlyAfterCommit(t *testing.T) {
	st := &fakeStorage{}
	u := &Uploader{Storage: st, TempDir: t.TempDir()}
	action := &fakeAction{}
	runner, mock := newRunner(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := runner.Run(context.Background(), func(ctx context.Context, tx *sql.Tx, hooks *txn.Hooks) error {
		u.ScheduleAfterCommit(hooks, "gx-1", "bucket/files/job-1/report.pdf", bytes.NewBufferString("artifact-bytes"), action)
		assert.Empty(t, action.successID, "hook must not fire before the transaction commits")
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "gx-1", action.successID)
	assert.Equal(t, "artifact-bytes", string(st.uploaded["bucket/files/job-1/report.pdf"]))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleAfterCommit_RolledBackTransactionNeverUploads(t *testing.T) {
	st := &fakeStorage{}
	u := &Uploader{Storage: st, TempDir: t.TempDir()}
	action := &fakeAction{}
	runner, mock := newRunner(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := runner.Run(context.Background(), func(ctx context.Context, tx *sql.Tx, hooks *txn.Hooks) error {
		u.ScheduleAfterCommit(hooks, "gx-1", "bucket/files/job-1/report.pdf", bytes.NewBufferString("artifact-bytes"), action)
		return assert.AnError
	})
	require.Error(t, err)

	assert.Empty(t, action.successID)
	assert.Empty(t, st.uploaded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleAfterCommit_UploadFailureInvokesOnFailure(t *testing.T) {
	st := &fakeStorage{uploadErr: assert.AnError}
	u := &Uploader{Storage: st, TempDir: t.TempDir()}
	action := &fakeAction{}
	runner, mock := newRunner(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := runner.Run(context.Background(), func(ctx context.Context, tx *sql.Tx, hooks *txn.Hooks) error {
		u.ScheduleAfterCommit(hooks, "gx-1", "bucket/files/job-1/report.pdf", bytes.NewBufferString("artifact-bytes"), action)
		return nil
	})
	require.NoError(t, err)

	require.Empty(t, action.successID)
	assert.Equal(t, "gx-1", action.failureID)
	assert.Contains(t, action.failureMsg, "upload:")
}
