package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/jobs"
	"github.com/kraklabs/docingest/internal/lifecycle"
	"github.com/kraklabs/docingest/internal/pkg/txn"
	"github.com/kraklabs/docingest/internal/repository"
	"github.com/kraklabs/docingest/internal/storage"
	"github.com/kraklabs/docingest/internal/views"
)

type stubZipRepo struct{}

func (z *stubZipRepo) Get(ctx context.Context, id string) (*domain.ZipMaster, error) { return nil, nil }
func (z *stubZipRepo) GetByJobID(ctx context.Context, jobID string) (*domain.ZipMaster, error) {
	return nil, repository.ErrNotFound
}
func (z *stubZipRepo) UpsertForJob(ctx context.Context, v *domain.ZipMaster) (*domain.ZipMaster, error) {
	v.ID = "zip-1"
	return v, nil
}
func (z *stubZipRepo) CompareAndSetStatus(ctx context.Context, id string, expected, next domain.ZipStatus) error {
	return nil
}
func (z *stubZipRepo) SetTerminal(ctx context.Context, id string, status domain.ZipStatus, msg string) error {
	return nil
}
func (z *stubZipRepo) ListByJobIDs(ctx context.Context, jobIDs []string) ([]domain.ZipMaster, error) {
	return nil, nil
}
func (z *stubZipRepo) UpdateStatusForIds(ctx context.Context, ids []string, newStatus domain.ZipStatus, expected []domain.ZipStatus) (int, error) {
	return 0, nil
}
func (z *stubZipRepo) RequeueStale(ctx context.Context, olderThan time.Duration) ([]domain.ZipMaster, error) {
	return nil, nil
}

type stubStorage struct{}

func (s *stubStorage) PresignUpload(ctx context.Context, key string) (string, error) {
	return "https://upload.example/" + key, nil
}
func (s *stubStorage) PresignDownload(ctx context.Context, key string) (string, error) {
	return "https://download.example/" + key, nil
}
func (s *stubStorage) InitiateMultipart(ctx context.Context, key string) (string, error) {
	return "upload-1", nil
}
func (s *stubStorage) PresignPart(ctx context.Context, key, uploadID string, partNumber int32) (string, error) {
	return "https://part.example/" + key, nil
}
func (s *stubStorage) CompleteMultipart(ctx context.Context, key, uploadID string, parts []storage.Part) error {
	return nil
}
func (s *stubStorage) DownloadStream(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, nil
}
func (s *stubStorage) Upload(ctx context.Context, key string, body io.Reader, length int64) error {
	return nil
}
func (s *stubStorage) UploadAsync(ctx context.Context, key string, body io.Reader) *storage.Future {
	future := storage.NewFuture()
	future.Resolve(nil)
	return future
}
func (s *stubStorage) Copy(ctx context.Context, srcKey, dstKey string) error { return nil }

type stubGxRepoWithPage struct {
	*stubGxRepo
	rows  []domain.GxMaster
	total int
}

func (g *stubGxRepoWithPage) ListByBucketPaginated(ctx context.Context, gxBucketID string, statuses []domain.GxStatus, limit, offset int) ([]domain.GxMaster, int, error) {
	return g.rows, g.total, nil
}

type stubGxRepoWithCounts struct {
	*stubGxRepo
	counts map[string]map[domain.GxStatus]int
}

func (g *stubGxRepoWithCounts) CountByStatusForBuckets(ctx context.Context, ids []string) (map[string]map[domain.GxStatus]int, error) {
	return g.counts, nil
}

func newSQLMockTxn(t *testing.T) (*txn.Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return txn.NewRunner(db), mock
}

func decodeEnvelopeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateDirectUpload_MissingFileName(t *testing.T) {
	h := &Handlers{}
	req := httptest.NewRequest(http.MethodPost, "/documents/v1/uploads/direct", nil)
	rec := httptest.NewRecorder()

	SetupRoutes(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateDirectUpload_Success(t *testing.T) {
	runner, _ := newSQLMockTxn(t)
	svc := &jobs.Service{
		Txn:     runner,
		Jobs:    &stubJobRepo{byID: map[string]*domain.ProcessingJob{}},
		Zips:    &stubZipRepo{},
		Files:   &stubFileRepo{byID: map[string]*domain.FileMaster{}},
		Storage: &stubStorage{},
		Queue:   &stubQueue{},
	}
	h := &Handlers{Jobs: svc}

	req := httptest.NewRequest(http.MethodPost, "/documents/v1/uploads/direct?fileName=report.pdf&gxBucketId=bucket-1", nil)
	rec := httptest.NewRecorder()

	SetupRoutes(h).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelopeMap(t, rec)
	assert.True(t, body["success"].(bool))
	resp := body["response"].(map[string]interface{})
	assert.NotEmpty(t, resp["jobId"])
	assert.Contains(t, resp["uploadUrl"], "bucket-1/source/")
}

func TestCreateMultipartUpload_Success(t *testing.T) {
	runner, _ := newSQLMockTxn(t)
	svc := &jobs.Service{
		Txn:     runner,
		Jobs:    &stubJobRepo{byID: map[string]*domain.ProcessingJob{}},
		Zips:    &stubZipRepo{},
		Files:   &stubFileRepo{byID: map[string]*domain.FileMaster{}},
		Storage: &stubStorage{},
		Queue:   &stubQueue{},
	}
	h := &Handlers{Jobs: svc}

	req := httptest.NewRequest(http.MethodPost, "/documents/v1/uploads/multipart?fileName=report.pdf", nil)
	rec := httptest.NewRecorder()

	SetupRoutes(h).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelopeMap(t, rec)
	resp := body["response"].(map[string]interface{})
	assert.Equal(t, "upload-1", resp["uploadId"])
}

func TestPresignPart_InvalidPartNumber(t *testing.T) {
	h := &Handlers{Jobs: &jobs.Service{}}
	req := httptest.NewRequest(http.MethodGet, "/documents/v1/uploads/job-1/parts/abc", nil)
	rec := httptest.NewRecorder()

	SetupRoutes(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPresignPart_Success(t *testing.T) {
	svc := &jobs.Service{
		Jobs:    &stubJobRepo{byID: map[string]*domain.ProcessingJob{"job-1": {ID: "job-1", FileLocation: "bucket-1/source/job-1/report.pdf"}}},
		Storage: &stubStorage{},
	}
	h := &Handlers{Jobs: svc}

	req := httptest.NewRequest(http.MethodGet, "/documents/v1/uploads/job-1/parts/1?uploadId=upload-1", nil)
	rec := httptest.NewRecorder()

	SetupRoutes(h).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelopeMap(t, rec)
	resp := body["response"].(map[string]interface{})
	assert.Contains(t, resp["presignedUrl"], "bucket-1/source/job-1/report.pdf")
}

func TestCompleteMultipartUpload_Success(t *testing.T) {
	svc := &jobs.Service{
		Jobs:    &stubJobRepo{byID: map[string]*domain.ProcessingJob{"job-1": {ID: "job-1", FileLocation: "bucket-1/source/job-1/report.pdf"}}},
		Storage: &stubStorage{},
	}
	h := &Handlers{Jobs: svc}

	payload, _ := json.Marshal(completeMultipartRequest{
		UploadID: "upload-1",
		Parts: []struct {
			PartNumber int32  `json:"partNumber"`
			ETag       string `json:"eTag"`
		}{{PartNumber: 1, ETag: "etag-1"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/documents/v1/uploads/job-1/complete", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	SetupRoutes(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerProcessing_Success(t *testing.T) {
	runner, mock := newSQLMockTxn(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	bucket := "bucket-1"
	svc := &jobs.Service{
		Txn: runner,
		Jobs: &stubJobRepo{byID: map[string]*domain.ProcessingJob{
			"job-1": {ID: "job-1", Status: domain.JobPendingUpload, OriginalFilename: "report.pdf", GxBucketID: &bucket},
		}},
		Files: &stubFileRepo{byID: map[string]*domain.FileMaster{}},
		Queue: &stubQueue{},
	}
	h := &Handlers{Jobs: svc}

	req := httptest.NewRequest(http.MethodPost, "/documents/v1/jobs/job-1/trigger-processing", nil)
	rec := httptest.NewRecorder()

	SetupRoutes(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerProcessing_ConflictWhenNotTriggerable(t *testing.T) {
	svc := &jobs.Service{
		Jobs: &stubJobRepo{byID: map[string]*domain.ProcessingJob{
			"job-1": {ID: "job-1", Status: domain.JobCompleted},
		}},
	}
	h := &Handlers{Jobs: svc}

	req := httptest.NewRequest(http.MethodPost, "/documents/v1/jobs/job-1/trigger-processing", nil)
	rec := httptest.NewRecorder()

	SetupRoutes(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTerminateJob_Success(t *testing.T) {
	runner, mock := newSQLMockTxn(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	svc := &lifecycle.Service{
		Txn:   runner,
		Jobs:  &stubJobRepo{byID: map[string]*domain.ProcessingJob{"job-1": {ID: "job-1", Status: domain.JobQueued}}},
		Zips:  &stubZipRepo{},
		Files: &stubFileRepo{byID: map[string]*domain.FileMaster{}},
		Gx:    &stubGxRepo{byID: map[string]*domain.GxMaster{}},
	}
	h := &Handlers{Lifecycle: svc}

	req := httptest.NewRequest(http.MethodPost, "/documents/v1/jobs/job-1/terminate", nil)
	rec := httptest.NewRecorder()

	SetupRoutes(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTerminateAllActiveJobs_NoneActive(t *testing.T) {
	svc := &lifecycle.Service{
		Jobs: &stubJobRepo{byID: map[string]*domain.ProcessingJob{}},
	}
	h := &Handlers{Lifecycle: svc}

	req := httptest.NewRequest(http.MethodPost, "/documents/v1/jobs/terminate-all-active", nil)
	rec := httptest.NewRecorder()

	SetupRoutes(h).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelopeMap(t, rec)
	resp := body["response"].(map[string]interface{})
	assert.Equal(t, float64(0), resp["jobsTerminated"])
}

func TestListView_Success(t *testing.T) {
	svc := &views.Service{
		Gx: &stubGxRepoWithPage{stubGxRepo: &stubGxRepo{}, rows: []domain.GxMaster{{ID: "gx-1", GxBucketID: "bucket-1"}}, total: 1},
	}
	h := &Handlers{Views: svc}

	req := httptest.NewRequest(http.MethodPost, "/documents/v1/views/list/bucket-1", nil)
	rec := httptest.NewRecorder()

	SetupRoutes(h).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelopeMap(t, rec)
	resp := body["response"].(map[string]interface{})
	assert.Equal(t, float64(1), resp["total"])
}

func TestViewMetrics_Success(t *testing.T) {
	svc := &views.Service{
		Gx: &stubGxRepoWithCounts{stubGxRepo: &stubGxRepo{}, counts: map[string]map[domain.GxStatus]int{
			"bucket-1": {domain.GxComplete: 3},
		}},
	}
	h := &Handlers{Views: svc}

	payload, _ := json.Marshal(metricsRequest{GxBucketIDs: []string{"bucket-1"}})
	req := httptest.NewRequest(http.MethodPost, "/documents/v1/views/metrics", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	SetupRoutes(h).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPresignedDownloadURL_Success(t *testing.T) {
	svc := &views.Service{
		Files:   &stubFileRepo{byID: map[string]*domain.FileMaster{"f1": {ID: "f1", FileLocation: "bucket-1/files/job-1/report.pdf"}}},
		Storage: &stubStorage{},
	}
	h := &Handlers{Views: svc}

	payload, _ := json.Marshal(presignedDownloadRequest{FileMasterID: "f1"})
	req := httptest.NewRequest(http.MethodPost, "/documents/v1/downloads/presigned-url", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	SetupRoutes(h).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelopeMap(t, rec)
	resp := body["response"].(map[string]interface{})
	assert.Contains(t, resp["downloadUrl"], "bucket-1/files/job-1/report.pdf")
}

func TestPresignedDownloadURL_NeitherIDRejected(t *testing.T) {
	svc := &views.Service{}
	h := &Handlers{Views: svc}

	payload, _ := json.Marshal(presignedDownloadRequest{})
	req := httptest.NewRequest(http.MethodPost, "/documents/v1/downloads/presigned-url", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	SetupRoutes(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
