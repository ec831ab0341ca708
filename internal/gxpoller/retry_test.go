package gxpoller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/pkg/apierr"
	"github.com/kraklabs/docingest/internal/queue"
	"github.com/kraklabs/docingest/internal/repository"
)

type fakeFileRepo struct {
	files               map[string]*domain.FileMaster
	clearErrorRequeueErr error
	clearedIDs          []string
}

func (f *fakeFileRepo) Get(ctx context.Context, id string) (*domain.FileMaster, error) {
	v, ok := f.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *v
	return &cp, nil
}
func (f *fakeFileRepo) GetWithJob(ctx context.Context, id string) (*domain.FileMaster, *domain.ProcessingJob, error) {
	return nil, nil, nil
}
func (f *fakeFileRepo) Create(ctx context.Context, v *domain.FileMaster) error { return nil }
func (f *fakeFileRepo) AttemptToCreate(ctx context.Context, v *domain.FileMaster) error { return nil }
func (f *fakeFileRepo) FindWinner(ctx context.Context, gxBucketID, fileHash string) (*domain.FileMaster, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeFileRepo) AcquireLock(ctx context.Context, id string) (bool, error) { return true, nil }
func (f *fakeFileRepo) UpdateHashAndSize(ctx context.Context, id, hash string, size int64) error {
	return nil
}
func (f *fakeFileRepo) UpdateStatus(ctx context.Context, id string, status domain.FileProcessingStatus) error {
	return nil
}
func (f *fakeFileRepo) SetTerminal(ctx context.Context, id string, status domain.FileProcessingStatus, msg string) error {
	return nil
}
func (f *fakeFileRepo) MarkDuplicate(ctx context.Context, id, winnerID string) error { return nil }
func (f *fakeFileRepo) CompleteIfInProgress(ctx context.Context, id string) error    { return nil }
func (f *fakeFileRepo) ListByJobIDs(ctx context.Context, jobIDs []string) ([]domain.FileMaster, error) {
	return nil, nil
}
func (f *fakeFileRepo) ListByZipID(ctx context.Context, zipID string) ([]domain.FileMaster, error) {
	return nil, nil
}
func (f *fakeFileRepo) UpdateStatusForIds(ctx context.Context, ids []string, newStatus domain.FileProcessingStatus, expected []domain.FileProcessingStatus) (int, error) {
	return 0, nil
}
func (f *fakeFileRepo) ClearErrorAndRequeue(ctx context.Context, id string) error {
	if f.clearErrorRequeueErr != nil {
		return f.clearErrorRequeueErr
	}
	f.clearedIDs = append(f.clearedIDs, id)
	if v, ok := f.files[id]; ok {
		v.FileProcessingStatus = domain.FileQueued
		v.ErrorMessage = ""
	}
	return nil
}
func (f *fakeFileRepo) RequeueStale(ctx context.Context, olderThan time.Duration) ([]domain.FileMaster, error) {
	return nil, nil
}

type fakeGxRepo struct {
	gx                   map[string]*domain.GxMaster
	clearErrorRequeueErr error
	clearedIDs           []string
	listByStatusesResult []domain.GxMaster
	setErrorCalls        map[string]string
	updateStatusCalls    map[string]domain.GxStatus
	updateStatusMsgCalls map[string]string
	setGxProcessIDCalls  map[string]string
}

func (g *fakeGxRepo) Get(ctx context.Context, id string) (*domain.GxMaster, error) {
	v, ok := g.gx[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *v
	return &cp, nil
}
func (g *fakeGxRepo) Create(ctx context.Context, v *domain.GxMaster) error { return nil }
func (g *fakeGxRepo) UpsertForSourceFile(ctx context.Context, v *domain.GxMaster) (*domain.GxMaster, error) {
	return v, nil
}
func (g *fakeGxRepo) UpdateStatus(ctx context.Context, id string, status domain.GxStatus) error {
	if g.updateStatusCalls == nil {
		g.updateStatusCalls = map[string]domain.GxStatus{}
	}
	g.updateStatusCalls[id] = status
	return nil
}
func (g *fakeGxRepo) UpdateStatusAndMessage(ctx context.Context, id string, status domain.GxStatus, msg string) error {
	if g.updateStatusCalls == nil {
		g.updateStatusCalls = map[string]domain.GxStatus{}
	}
	g.updateStatusCalls[id] = status
	if g.updateStatusMsgCalls == nil {
		g.updateStatusMsgCalls = map[string]string{}
	}
	g.updateStatusMsgCalls[id] = msg
	return nil
}
func (g *fakeGxRepo) SetError(ctx context.Context, id, msg string) error {
	if g.setErrorCalls == nil {
		g.setErrorCalls = map[string]string{}
	}
	g.setErrorCalls[id] = msg
	return nil
}
func (g *fakeGxRepo) SetLocation(ctx context.Context, id, loc string) error { return nil }
func (g *fakeGxRepo) SetGxProcessID(ctx context.Context, id, processID string) error {
	if g.setGxProcessIDCalls == nil {
		g.setGxProcessIDCalls = map[string]string{}
	}
	g.setGxProcessIDCalls[id] = processID
	return nil
}
func (g *fakeGxRepo) ListByJobIDs(ctx context.Context, jobIDs []string) ([]domain.GxMaster, error) {
	return nil, nil
}
func (g *fakeGxRepo) ListBySourceFileID(ctx context.Context, fileID string) ([]domain.GxMaster, error) {
	return nil, nil
}
func (g *fakeGxRepo) ListByStatuses(ctx context.Context, statuses []domain.GxStatus) ([]domain.GxMaster, error) {
	return g.listByStatusesResult, nil
}
func (g *fakeGxRepo) ListByBucketPaginated(ctx context.Context, gxBucketID string, statuses []domain.GxStatus, limit, offset int) ([]domain.GxMaster, int, error) {
	return nil, 0, nil
}
func (g *fakeGxRepo) CountByStatusForBuckets(ctx context.Context, ids []string) (map[string]map[domain.GxStatus]int, error) {
	return nil, nil
}
func (g *fakeGxRepo) UpdateStatusForIds(ctx context.Context, ids []string, newStatus domain.GxStatus, expected []domain.GxStatus) (int, error) {
	return 0, nil
}
func (g *fakeGxRepo) ClearErrorAndRequeue(ctx context.Context, id string) error {
	if g.clearErrorRequeueErr != nil {
		return g.clearErrorRequeueErr
	}
	g.clearedIDs = append(g.clearedIDs, id)
	if v, ok := g.gx[id]; ok {
		v.GxStatus = domain.GxQueuedForUpload
		v.ErrorMessage = ""
	}
	return nil
}

type fakeJobRepo struct {
	jobs                     map[string]*domain.ProcessingJob
	listStalePendingResult   []domain.ProcessingJob
	setTerminalCalls         map[string]domain.JobStatus
	setTerminalReasons       map[string]string
}

func (j *fakeJobRepo) Get(ctx context.Context, id string) (*domain.ProcessingJob, error) {
	v, ok := j.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *v
	return &cp, nil
}
func (j *fakeJobRepo) Create(ctx context.Context, v *domain.ProcessingJob) error { return nil }
func (j *fakeJobRepo) UpdateFileLocation(ctx context.Context, id, loc string) error { return nil }
func (j *fakeJobRepo) CompareAndSetStatus(ctx context.Context, id string, expected, next domain.JobStatus) error {
	return nil
}
func (j *fakeJobRepo) SetTerminal(ctx context.Context, id string, status domain.JobStatus, errMsg, remark string) error {
	if j.setTerminalCalls == nil {
		j.setTerminalCalls = map[string]domain.JobStatus{}
	}
	j.setTerminalCalls[id] = status
	if j.setTerminalReasons == nil {
		j.setTerminalReasons = map[string]string{}
	}
	j.setTerminalReasons[id] = errMsg
	return nil
}
func (j *fakeJobRepo) ListByStatuses(ctx context.Context, statuses []domain.JobStatus) ([]domain.ProcessingJob, error) {
	return nil, nil
}
func (j *fakeJobRepo) ListStalePendingUpload(ctx context.Context, olderThanHours int) ([]domain.ProcessingJob, error) {
	return j.listStalePendingResult, nil
}
func (j *fakeJobRepo) UpdateStatusForIds(ctx context.Context, ids []string, newStatus domain.JobStatus, expected []domain.JobStatus) (int, error) {
	return 0, nil
}
func (j *fakeJobRepo) ListTerminableIDs(ctx context.Context) ([]string, error) { return nil, nil }

type fakeLock struct {
	acquire bool
	err     error
}

func (l *fakeLock) Acquire(ctx context.Context) (bool, error) { return l.acquire, l.err }
func (l *fakeLock) Release(ctx context.Context) error          { return nil }

type fakeQueue struct {
	sent []string
}

func (q *fakeQueue) Send(ctx context.Context, queueURL, payload, groupID, dedupID string) error {
	q.sent = append(q.sent, payload)
	return nil
}
func (q *fakeQueue) Receive(ctx context.Context, queueURL string, maxMessages int32) ([]queue.Message, error) {
	return nil, nil
}
func (q *fakeQueue) Delete(ctx context.Context, queueURL, receiptHandle string) error { return nil }
func (q *fakeQueue) PurgeAll(ctx context.Context, queueURLs []string) error           { return nil }

func TestRetryFile_Success(t *testing.T) {
	files := &fakeFileRepo{files: map[string]*domain.FileMaster{
		"f1": {ID: "f1", ProcessingJobID: "j1", GxBucketID: "bucket-1", FileProcessingStatus: domain.FileFailed},
	}}
	jobs := &fakeJobRepo{jobs: map[string]*domain.ProcessingJob{
		"j1": {ID: "j1", Status: domain.JobProcessing},
	}}
	q := &fakeQueue{}
	r := &Retrier{Files: files, Jobs: jobs, Queue: q, FileQueueURL: "file-queue"}

	err := r.RetryFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, files.clearedIDs)
	assert.Len(t, q.sent, 1)
}

func TestRetryFile_NotFailed(t *testing.T) {
	files := &fakeFileRepo{files: map[string]*domain.FileMaster{
		"f1": {ID: "f1", ProcessingJobID: "j1", FileProcessingStatus: domain.FileQueued},
	}}
	jobs := &fakeJobRepo{jobs: map[string]*domain.ProcessingJob{
		"j1": {ID: "j1", Status: domain.JobProcessing},
	}}
	r := &Retrier{Files: files, Jobs: jobs, Queue: &fakeQueue{}}

	err := r.RetryFile(context.Background(), "f1")
	require.Error(t, err)
	classified, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindConflict, classified.Kind)
	assert.Empty(t, files.clearedIDs)
}

func TestRetryFile_JobTerminal(t *testing.T) {
	files := &fakeFileRepo{files: map[string]*domain.FileMaster{
		"f1": {ID: "f1", ProcessingJobID: "j1", FileProcessingStatus: domain.FileFailed},
	}}
	jobs := &fakeJobRepo{jobs: map[string]*domain.ProcessingJob{
		"j1": {ID: "j1", Status: domain.JobFailed},
	}}
	r := &Retrier{Files: files, Jobs: jobs, Queue: &fakeQueue{}}

	err := r.RetryFile(context.Background(), "f1")
	require.Error(t, err)
	classified, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindConflict, classified.Kind)
	assert.Empty(t, files.clearedIDs)
}

func TestRetryFile_CASLost(t *testing.T) {
	files := &fakeFileRepo{
		files:                map[string]*domain.FileMaster{"f1": {ID: "f1", ProcessingJobID: "j1", FileProcessingStatus: domain.FileFailed}},
		clearErrorRequeueErr: repository.ErrCASFailed,
	}
	jobs := &fakeJobRepo{jobs: map[string]*domain.ProcessingJob{"j1": {ID: "j1", Status: domain.JobProcessing}}}
	r := &Retrier{Files: files, Jobs: jobs, Queue: &fakeQueue{}}

	err := r.RetryFile(context.Background(), "f1")
	require.Error(t, err)
	classified, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindConflict, classified.Kind)
}

func TestRetryGx_Success(t *testing.T) {
	gx := &fakeGxRepo{gx: map[string]*domain.GxMaster{
		"g1": {ID: "g1", SourceFileID: "f1", GxStatus: domain.GxError},
	}}
	files := &fakeFileRepo{files: map[string]*domain.FileMaster{
		"f1": {ID: "f1", ProcessingJobID: "j1"},
	}}
	jobs := &fakeJobRepo{jobs: map[string]*domain.ProcessingJob{
		"j1": {ID: "j1", Status: domain.JobProcessing},
	}}
	r := &Retrier{Files: files, Gx: gx, Jobs: jobs, Queue: &fakeQueue{}}

	err := r.RetryGx(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, gx.clearedIDs)
}

func TestRetryGx_NotError(t *testing.T) {
	gx := &fakeGxRepo{gx: map[string]*domain.GxMaster{
		"g1": {ID: "g1", SourceFileID: "f1", GxStatus: domain.GxComplete},
	}}
	files := &fakeFileRepo{files: map[string]*domain.FileMaster{"f1": {ID: "f1", ProcessingJobID: "j1"}}}
	jobs := &fakeJobRepo{jobs: map[string]*domain.ProcessingJob{"j1": {ID: "j1", Status: domain.JobProcessing}}}
	r := &Retrier{Files: files, Gx: gx, Jobs: jobs, Queue: &fakeQueue{}}

	err := r.RetryGx(context.Background(), "g1")
	require.Error(t, err)
	classified, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindConflict, classified.Kind)
}

func TestRetryGx_JobTerminal(t *testing.T) {
	gx := &fakeGxRepo{gx: map[string]*domain.GxMaster{
		"g1": {ID: "g1", SourceFileID: "f1", GxStatus: domain.GxError},
	}}
	files := &fakeFileRepo{files: map[string]*domain.FileMaster{"f1": {ID: "f1", ProcessingJobID: "j1"}}}
	jobs := &fakeJobRepo{jobs: map[string]*domain.ProcessingJob{"j1": {ID: "j1", Status: domain.JobCompleted}}}
	r := &Retrier{Files: files, Gx: gx, Jobs: jobs, Queue: &fakeQueue{}}

	err := r.RetryGx(context.Background(), "g1")
	require.Error(t, err)
	classified, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindConflict, classified.Kind)
}
