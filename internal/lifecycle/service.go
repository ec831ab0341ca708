// Package lifecycle implements the lifecycle manager (C10): admin
// termination (single job and fleet-wide), per-child failure marking
// that folds up onto the owning Job, and the guarded final transitions
// (complete, partial-success, fail) that never overwrite a prior
// terminal status.
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/pkg/apierr"
	"github.com/kraklabs/docingest/internal/pkg/logger"
	"github.com/kraklabs/docingest/internal/pkg/txn"
	"github.com/kraklabs/docingest/internal/queue"
	"github.com/kraklabs/docingest/internal/repository"
)

// terminableJobStatuses mirrors domain.JobStatus.Terminable's set, named
// here for the bulk queries terminateAllActiveJobs issues.
var terminableJobStatuses = []domain.JobStatus{
	domain.JobPendingUpload, domain.JobUploadComplete, domain.JobQueued, domain.JobProcessing,
}

// Service implements the Job/Zip/File/Gx terminal-transition rules of
// spec.md §4.10.
type Service struct {
	Txn      *txn.Runner
	Jobs     repository.JobRepository
	Zips     repository.ZipRepository
	Files    repository.FileRepository
	Gx       repository.GxRepository
	Queue    queue.Queue
	ZipQueueURL  string
	FileQueueURL string
}

// TerminateJob sets job to TERMINATED and bulk-CASes its non-terminal
// children to TERMINATED, a no-op if job is not currently terminable.
func (s *Service) TerminateJob(ctx context.Context, jobID string) error {
	err := s.Txn.Run(ctx, func(ctx context.Context, tx *sql.Tx, hooks *txn.Hooks) error {
		job, err := s.Jobs.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if !job.Status.Terminable() {
			return nil
		}
		if err := s.Jobs.CompareAndSetStatus(ctx, jobID, job.Status, domain.JobTerminated); err != nil {
			if err == repository.ErrCASFailed {
				return nil // raced with another terminal transition
			}
			return err
		}

		zipIDs, err := s.zipIDsForJob(ctx, jobID)
		if err != nil {
			return err
		}
		if _, err := s.Zips.UpdateStatusForIds(ctx, zipIDs, domain.ZipTerminated,
			[]domain.ZipStatus{domain.ZipQueuedForExtraction, domain.ZipExtractionInProgress}); err != nil {
			return err
		}

		fileIDs, err := s.fileIDsForJob(ctx, jobID)
		if err != nil {
			return err
		}
		if _, err := s.Files.UpdateStatusForIds(ctx, fileIDs, domain.FileTerminated,
			[]domain.FileProcessingStatus{domain.FileQueued, domain.FileInProgress}); err != nil {
			return err
		}

		gxIDs, err := s.gxIDsForJob(ctx, jobID)
		if err != nil {
			return err
		}
		if _, err := s.Gx.UpdateStatusForIds(ctx, gxIDs, domain.GxTerminated,
			[]domain.GxStatus{domain.GxQueuedForUpload}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return apierr.Transient("terminate job", err)
	}
	return nil
}

// zipIDsForJob resolves a job's zip row id(s) to terminate in bulk.
func (s *Service) zipIDsForJob(ctx context.Context, jobID string) ([]string, error) {
	zips, err := s.Zips.ListByJobIDs(ctx, []string{jobID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(zips))
	for i, z := range zips {
		ids[i] = z.ID
	}
	return ids, nil
}

// fileIDsForJob lists the ids of every File whose processing job is
// jobID; directly-uploaded and zip-extracted files both carry the job id,
// so one id list covers both.
func (s *Service) fileIDsForJob(ctx context.Context, jobID string) ([]string, error) {
	files, err := s.Files.ListByJobIDs(ctx, []string{jobID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	return ids, nil
}

func (s *Service) gxIDsForJob(ctx context.Context, jobID string) ([]string, error) {
	gxs, err := s.Gx.ListByJobIDs(ctx, []string{jobID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(gxs))
	for i, g := range gxs {
		ids[i] = g.ID
	}
	return ids, nil
}

// TerminateAllActiveJobs bulk-terminates every Job in the terminable set
// in four bulk updates, and purges both queues. Returns the number of
// jobs terminated.
func (s *Service) TerminateAllActiveJobs(ctx context.Context) (int, error) {
	ids, err := s.Jobs.ListTerminableIDs(ctx)
	if err != nil {
		return 0, apierr.Transient("list terminable jobs", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := s.Jobs.UpdateStatusForIds(ctx, ids, domain.JobTerminated, terminableJobStatuses)
	if err != nil {
		return 0, apierr.Transient("bulk terminate jobs", err)
	}

	zips, err := s.Zips.ListByJobIDs(ctx, ids)
	if err != nil {
		return 0, apierr.Transient("list zips for terminated jobs", err)
	}
	zipIDs := make([]string, len(zips))
	for i, z := range zips {
		zipIDs[i] = z.ID
	}
	if _, err := s.Zips.UpdateStatusForIds(ctx, zipIDs, domain.ZipTerminated,
		[]domain.ZipStatus{domain.ZipQueuedForExtraction, domain.ZipExtractionInProgress}); err != nil {
		return 0, apierr.Transient("bulk terminate zips", err)
	}

	files, err := s.Files.ListByJobIDs(ctx, ids)
	if err != nil {
		return 0, apierr.Transient("list files for terminated jobs", err)
	}
	fileIDs := make([]string, len(files))
	for i, f := range files {
		fileIDs[i] = f.ID
	}
	if _, err := s.Files.UpdateStatusForIds(ctx, fileIDs, domain.FileTerminated,
		[]domain.FileProcessingStatus{domain.FileQueued, domain.FileInProgress}); err != nil {
		return 0, apierr.Transient("bulk terminate files", err)
	}

	gxs, err := s.Gx.ListByJobIDs(ctx, ids)
	if err != nil {
		return 0, apierr.Transient("list gx for terminated jobs", err)
	}
	gxIDs := make([]string, len(gxs))
	for i, g := range gxs {
		gxIDs[i] = g.ID
	}
	if _, err := s.Gx.UpdateStatusForIds(ctx, gxIDs, domain.GxTerminated, []domain.GxStatus{domain.GxQueuedForUpload}); err != nil {
		return 0, apierr.Transient("bulk terminate gx", err)
	}

	if err := s.Queue.PurgeAll(ctx, []string{s.ZipQueueURL, s.FileQueueURL}); err != nil {
		logger.Warn("queue purge during fleet termination failed", "error", err.Error())
	}

	logger.Info("terminated all active jobs", "count", n)
	return n, nil
}

// FailJobForZipExtraction sets the owning job FAILED unless already
// terminal. The Zip itself is already marked EXTRACTION_FAILED by the
// caller (C6) before this runs.
func (s *Service) FailJobForZipExtraction(ctx context.Context, jobID, errorMessage string) error {
	return s.failJob(ctx, jobID, errorMessage)
}

// FailJobForFileProcessing sets the owning job FAILED unless already
// terminal. The File itself is already marked FAILED by the caller
// (C7) before this runs, per spec.md §4.7 step 10 / §4.10.
func (s *Service) FailJobForFileProcessing(ctx context.Context, jobID, errorMessage string) error {
	return s.failJob(ctx, jobID, errorMessage)
}

func (s *Service) failJob(ctx context.Context, jobID, errorMessage string) error {
	if err := s.Jobs.SetTerminal(ctx, jobID, domain.JobFailed, errorMessage, ""); err != nil {
		return apierr.Transient("fail job", err)
	}
	return nil
}

// FailGxMasterUpload sets gx to ERROR. The owning File and Job are left
// untouched: a Gx upload failure is its own artifact's problem, not
// necessarily the whole file's.
func (s *Service) FailGxMasterUpload(ctx context.Context, gxID, errorMessage string) error {
	if err := s.Gx.SetError(ctx, gxID, errorMessage); err != nil {
		return apierr.Transient("fail gx upload", err)
	}
	return nil
}

// CompleteJob transitions job to COMPLETED, guarded against overwriting
// a prior terminal status.
func (s *Service) CompleteJob(ctx context.Context, jobID string) error {
	return s.finalize(ctx, jobID, domain.JobCompleted, "", "")
}

// PartiallyCompleteJob transitions job to PARTIAL_SUCCESS with remark,
// guarded against overwriting a prior terminal status.
func (s *Service) PartiallyCompleteJob(ctx context.Context, jobID, remark string) error {
	return s.finalize(ctx, jobID, domain.JobPartialSuccess, "", remark)
}

// FailJob transitions job to FAILED with reason, guarded against
// overwriting a prior terminal status.
func (s *Service) FailJob(ctx context.Context, jobID, reason string) error {
	return s.finalize(ctx, jobID, domain.JobFailed, reason, "")
}

func (s *Service) finalize(ctx context.Context, jobID string, status domain.JobStatus, errorMessage, remark string) error {
	if err := s.Jobs.SetTerminal(ctx, jobID, status, errorMessage, remark); err != nil {
		return apierr.Transient(fmt.Sprintf("finalize job as %s", status), err)
	}
	return nil
}
