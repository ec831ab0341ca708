// Package jobs implements the API-facing job orchestration surface (C9):
// creating a Job and handing the caller a presigned upload URL (single
// PUT or multipart), and triggering processing once the upload completes.
package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/pkg/apierr"
	"github.com/kraklabs/docingest/internal/pkg/logger"
	"github.com/kraklabs/docingest/internal/pkg/txn"
	"github.com/kraklabs/docingest/internal/queue"
	"github.com/kraklabs/docingest/internal/repository"
	"github.com/kraklabs/docingest/internal/storage"
)

// Service drives job creation, upload-URL issuance, and triggering
// downstream processing.
type Service struct {
	Txn         *txn.Runner
	Jobs        repository.JobRepository
	Zips        repository.ZipRepository
	Files       repository.FileRepository
	Storage     storage.Storage
	Queue       queue.Queue
	ZipQueueURL string
	FileQueueURL string
}

// CreatedUpload is the result of a single-PUT upload reservation.
type CreatedUpload struct {
	JobID     string
	UploadURL string
}

// CreatedMultipartUpload is the result of a multipart upload reservation.
type CreatedMultipartUpload struct {
	JobID    string
	UploadID string
}

// CreateJobAndPresignedURL inserts a PENDING_UPLOAD Job, computes its
// final source key from (fileName, gxBucketID, jobID), and returns a
// presigned PUT URL for that key. gxBucketID == "" marks the job bulk.
func (s *Service) CreateJobAndPresignedURL(ctx context.Context, fileName, gxBucketID string, skipGxProcess bool) (CreatedUpload, error) {
	job, err := s.createJob(ctx, fileName, gxBucketID, skipGxProcess)
	if err != nil {
		return CreatedUpload{}, err
	}

	url, err := s.Storage.PresignUpload(ctx, job.FileLocation)
	if err != nil {
		return CreatedUpload{}, apierr.Transient("presign upload", err)
	}
	return CreatedUpload{JobID: job.ID, UploadURL: url}, nil
}

// CreateJobAndInitiateMultipartUpload is CreateJobAndPresignedURL's
// multipart counterpart: it returns an uploadId the caller drives with
// PresignPart/CompleteMultipartUpload instead of a single PUT URL.
func (s *Service) CreateJobAndInitiateMultipartUpload(ctx context.Context, fileName, gxBucketID string, skipGxProcess bool) (CreatedMultipartUpload, error) {
	job, err := s.createJob(ctx, fileName, gxBucketID, skipGxProcess)
	if err != nil {
		return CreatedMultipartUpload{}, err
	}

	uploadID, err := s.Storage.InitiateMultipart(ctx, job.FileLocation)
	if err != nil {
		return CreatedMultipartUpload{}, apierr.Transient("initiate multipart upload", err)
	}
	return CreatedMultipartUpload{JobID: job.ID, UploadID: uploadID}, nil
}

func (s *Service) createJob(ctx context.Context, fileName, gxBucketID string, skipGxProcess bool) (*domain.ProcessingJob, error) {
	job := &domain.ProcessingJob{
		ID:               uuid.NewString(),
		OriginalFilename: fileName,
		FileLocation:     "pending",
		Status:           domain.JobPendingUpload,
		SkipGxProcess:    skipGxProcess,
	}
	if gxBucketID != "" {
		job.GxBucketID = &gxBucketID
	}

	if err := s.Jobs.Create(ctx, job); err != nil {
		return nil, apierr.Transient("create job", err)
	}

	key := storage.SourceKey(gxBucketID, job.ID, fileName)
	if err := s.Jobs.UpdateFileLocation(ctx, job.ID, key); err != nil {
		return nil, apierr.Transient("set job source key", err)
	}
	job.FileLocation = key
	return job, nil
}

// PresignPart validates partNumber and returns a part-scoped presigned
// URL for jobId's in-flight multipart upload.
func (s *Service) PresignPart(ctx context.Context, jobID string, partNumber int32, uploadID string) (string, error) {
	if partNumber < 1 || partNumber > 10000 {
		return "", apierr.Validation(fmt.Sprintf("part number %d out of range [1,10000]", partNumber), nil)
	}

	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return "", apierr.Transient("load job", err)
	}

	url, err := s.Storage.PresignPart(ctx, job.FileLocation, uploadID, partNumber)
	if err != nil {
		return "", apierr.Transient("presign part", err)
	}
	return url, nil
}

// CompleteMultipartUpload passes the assembled part list through to
// storage.
func (s *Service) CompleteMultipartUpload(ctx context.Context, jobID, uploadID string, parts []storage.Part) error {
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return apierr.Transient("load job", err)
	}

	if err := s.Storage.CompleteMultipart(ctx, job.FileLocation, uploadID, parts); err != nil {
		return apierr.Transient("complete multipart upload", err)
	}
	return nil
}

// TriggerProcessing routes jobId to the zip or file pipeline and
// transitions it to QUEUED, per spec.md §4.9. Only callable from
// {PENDING_UPLOAD, UPLOAD_COMPLETE}.
func (s *Service) TriggerProcessing(ctx context.Context, jobID string) error {
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return apierr.Transient("load job", err)
	}
	if !job.CanTriggerProcessing() {
		return apierr.Conflict(fmt.Sprintf("job %s is not in a triggerable state", jobID), nil)
	}

	extension := extensionOf(job.OriginalFilename)

	// Open question resolved: any ".zip" extension routes to the zip
	// pipeline regardless of bucket/bulk status; see DESIGN.md.
	if extension == "zip" || job.IsBulk() {
		if extension != "zip" {
			if err := s.Jobs.SetTerminal(ctx, jobID, domain.JobFailed,
				fmt.Sprintf("bulk job upload %q is not a zip archive", job.OriginalFilename), ""); err != nil {
				return apierr.Transient("fail non-zip bulk job", err)
			}
			logger.Warn("bulk job upload was not a zip archive, failed synchronously", "job", jobID, "file", job.OriginalFilename)
			return nil
		}
		return s.triggerZipProcessing(ctx, job)
	}
	return s.triggerFileProcessing(ctx, job)
}

func (s *Service) triggerZipProcessing(ctx context.Context, job *domain.ProcessingJob) error {
	zip := &domain.ZipMaster{
		ProcessingJobID:     job.ID,
		GxBucketID:          job.GxBucketID,
		OriginalFilePath:    job.FileLocation,
		OriginalFileName:    job.OriginalFilename,
		ZipProcessingStatus: domain.ZipQueuedForExtraction,
	}
	zip, err := s.Zips.UpsertForJob(ctx, zip)
	if err != nil {
		return apierr.Transient("upsert zip master", err)
	}

	if err := s.enqueueAndMarkQueued(ctx, job, func(ctx context.Context, hooks *txn.Hooks) {
		hooks.After(func(ctx context.Context) {
			payload := fmt.Sprintf(`{"zipMasterId":%q}`, zip.ID)
			if err := s.Queue.Send(ctx, s.ZipQueueURL, payload, queue.ZipGroupID(job.ID), "zip-master-"+zip.ID); err != nil {
				logger.Error("failed to enqueue zip master", "job", job.ID, "zip", zip.ID, "error", err.Error())
			}
		})
	}); err != nil {
		return err
	}
	return nil
}

func (s *Service) triggerFileProcessing(ctx context.Context, job *domain.ProcessingJob) error {
	file := &domain.FileMaster{
		ProcessingJobID:      job.ID,
		GxBucketID:           *job.GxBucketID,
		FileLocation:         job.FileLocation,
		FileName:             job.OriginalFilename,
		Extension:            extensionOf(job.OriginalFilename),
		SourceType:           domain.SourceUploaded,
		FileProcessingStatus: domain.FileQueued,
	}
	if err := s.Files.Create(ctx, file); err != nil {
		return apierr.Transient("create file master", err)
	}

	if err := s.enqueueAndMarkQueued(ctx, job, func(ctx context.Context, hooks *txn.Hooks) {
		hooks.After(func(ctx context.Context) {
			payload := fmt.Sprintf(`{"fileMasterId":%q}`, file.ID)
			if err := s.Queue.Send(ctx, s.FileQueueURL, payload, queue.FileGroupID(file.GxBucketID), queue.FreshDedupID("file-master-"+file.ID)); err != nil {
				logger.Error("failed to enqueue file master", "job", job.ID, "file", file.ID, "error", err.Error())
			}
		})
	}); err != nil {
		return err
	}
	return nil
}

// enqueueAndMarkQueued CAS-transitions job to QUEUED from its
// already-validated current status and registers enqueue as a
// post-commit hook of that same transaction, so the enqueue only fires
// once the job's transition is durable.
func (s *Service) enqueueAndMarkQueued(ctx context.Context, job *domain.ProcessingJob, enqueue func(ctx context.Context, hooks *txn.Hooks)) error {
	err := s.Txn.Run(ctx, func(ctx context.Context, tx *sql.Tx, hooks *txn.Hooks) error {
		if err := s.Jobs.CompareAndSetStatus(ctx, job.ID, job.Status, domain.JobQueued); err != nil {
			return err
		}
		enqueue(ctx, hooks)
		return nil
	})
	if err != nil {
		return apierr.Transient("queue job", err)
	}
	return nil
}

func extensionOf(fileName string) string {
	idx := strings.LastIndex(fileName, ".")
	if idx < 0 || idx == len(fileName)-1 {
		return ""
	}
	return strings.ToLower(fileName[idx+1:])
}
