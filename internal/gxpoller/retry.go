package gxpoller

import (
	"errors"
	"fmt"

	"context"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/pkg/apierr"
	"github.com/kraklabs/docingest/internal/queue"
	"github.com/kraklabs/docingest/internal/repository"
)

// Retrier implements the admin-facing retry entrypoints of spec.md
// §4.12: re-queue a FAILED File or re-queue an ERROR Gx, both gated on
// the owning Job not already being terminal. Retry never mutates
// Job.status itself — the scheduler folds the retried child's eventual
// outcome back up on its own next pass.
type Retrier struct {
	Files        repository.FileRepository
	Gx           repository.GxRepository
	Jobs         repository.JobRepository
	Queue        queue.Queue
	FileQueueURL string
}

// RetryFile requeues a FAILED File. Fails with KindConflict if the File
// is not FAILED or its Job is already terminal.
func (r *Retrier) RetryFile(ctx context.Context, fileID string) error {
	f, err := r.Files.Get(ctx, fileID)
	if err != nil {
		return apierr.Transient("load file for retry", err)
	}
	if f.FileProcessingStatus != domain.FileFailed {
		return apierr.Conflict(fmt.Sprintf("file %s is not FAILED", fileID), nil)
	}

	job, err := r.Jobs.Get(ctx, f.ProcessingJobID)
	if err != nil {
		return apierr.Transient("load job for file retry", err)
	}
	if job.Status.IsTerminal() {
		return apierr.Conflict(fmt.Sprintf("job %s is already terminal", job.ID), nil)
	}

	if err := r.Files.ClearErrorAndRequeue(ctx, fileID); err != nil {
		if errors.Is(err, repository.ErrCASFailed) {
			return apierr.Conflict(fmt.Sprintf("file %s is no longer FAILED", fileID), nil)
		}
		return apierr.Transient("clear file error and requeue", err)
	}

	payload := fmt.Sprintf(`{"fileMasterId":%q}`, fileID)
	if err := r.Queue.Send(ctx, r.FileQueueURL, payload, queue.FileGroupID(f.GxBucketID), queue.FreshDedupID("file-master-"+fileID)); err != nil {
		return apierr.Transient("re-enqueue retried file", err)
	}
	return nil
}

// RetryGx requeues an ERROR Gx for upload. Fails with KindConflict if
// the Gx is not ERROR or its owning File's Job is already terminal. The
// requeued row is picked up by Poller on its next tick; nothing is
// re-enqueued here since Gx uploads aren't broker-driven.
func (r *Retrier) RetryGx(ctx context.Context, gxID string) error {
	g, err := r.Gx.Get(ctx, gxID)
	if err != nil {
		return apierr.Transient("load gx for retry", err)
	}
	if g.GxStatus != domain.GxError {
		return apierr.Conflict(fmt.Sprintf("gx %s is not in ERROR", gxID), nil)
	}

	f, err := r.Files.Get(ctx, g.SourceFileID)
	if err != nil {
		return apierr.Transient("load source file for gx retry", err)
	}
	job, err := r.Jobs.Get(ctx, f.ProcessingJobID)
	if err != nil {
		return apierr.Transient("load job for gx retry", err)
	}
	if job.Status.IsTerminal() {
		return apierr.Conflict(fmt.Sprintf("job %s is already terminal", job.ID), nil)
	}

	if err := r.Gx.ClearErrorAndRequeue(ctx, gxID); err != nil {
		if errors.Is(err, repository.ErrCASFailed) {
			return apierr.Conflict(fmt.Sprintf("gx %s is no longer ERROR", gxID), nil)
		}
		return apierr.Transient("clear gx error and requeue", err)
	}
	return nil
}
