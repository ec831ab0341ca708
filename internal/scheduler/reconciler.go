// Package scheduler implements the lifecycle scheduler (C11): a
// ticker-driven reconciliation loop that folds the collective state of
// a Job's child Zip/File/Gx rows up into the Job's own terminal status
// once all work under it has settled. It also runs a supplemental
// stale-claim sweep (modeled on the teacher's queue-recovery worker)
// that requeues File/Zip rows whose lock looks abandoned.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/pkg/distlock"
	"github.com/kraklabs/docingest/internal/pkg/logger"
	"github.com/kraklabs/docingest/internal/queue"
	"github.com/kraklabs/docingest/internal/repository"
)

// Lifecycle is the subset of C10 the scheduler needs to finalize a Job
// once its children have collectively settled.
type Lifecycle interface {
	CompleteJob(ctx context.Context, jobID string) error
	PartiallyCompleteJob(ctx context.Context, jobID, remark string) error
	FailJob(ctx context.Context, jobID, reason string) error
}

// reconcileStatuses is the set of Job statuses the scheduler considers
// for reconciliation per spec.md §4.11.
var reconcileStatuses = []domain.JobStatus{domain.JobQueued, domain.JobProcessing, domain.JobUploadComplete}

// workPendingZip and workPendingFile/Gx are the "still busy" status
// sets that make the scheduler skip a Job this tick.
var (
	workPendingZip  = map[domain.ZipStatus]bool{domain.ZipQueuedForExtraction: true, domain.ZipExtractionInProgress: true}
	workPendingFile = map[domain.FileProcessingStatus]bool{domain.FileQueued: true, domain.FileInProgress: true}
	workPendingGx   = map[domain.GxStatus]bool{domain.GxQueuedForUpload: true, domain.GxProcessing: true}
)

// Reconciler drives the lifecycle scheduler's ticker loop.
type Reconciler struct {
	Jobs      repository.JobRepository
	Zips      repository.ZipRepository
	Files     repository.FileRepository
	Gx        repository.GxRepository
	Lifecycle Lifecycle
	Lock      distlock.DistLock
	Interval  time.Duration
}

// Run blocks, reconciling every Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	logger.Info("lifecycle scheduler starting", "interval", r.Interval.String())

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("lifecycle scheduler stopping")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick singleton-guards one reconciliation pass across replicas via the
// shared distributed lock, then reconciles every in-flight Job.
func (r *Reconciler) tick(ctx context.Context) {
	acquired, err := r.Lock.Acquire(ctx)
	if err != nil {
		logger.Error("lifecycle scheduler lock acquire failed", "error", err.Error())
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := r.Lock.Release(ctx); err != nil {
			logger.Warn("lifecycle scheduler lock release failed", "error", err.Error())
		}
	}()

	jobs, err := r.Jobs.ListByStatuses(ctx, reconcileStatuses)
	if err != nil {
		logger.Error("lifecycle scheduler failed to list jobs", "error", err.Error())
		return
	}

	for i := range jobs {
		if err := r.reconcileJob(ctx, &jobs[i]); err != nil {
			logger.Error("lifecycle scheduler failed to reconcile job", "job", jobs[i].ID, "error", err.Error())
		}
	}
}

// reconcileJob implements spec.md §4.11 steps 1-5 for a single Job.
func (r *Reconciler) reconcileJob(ctx context.Context, job *domain.ProcessingJob) error {
	jobID := job.ID

	zips, err := r.Zips.ListByJobIDs(ctx, []string{jobID})
	if err != nil {
		return fmt.Errorf("load zips: %w", err)
	}
	files, err := r.Files.ListByJobIDs(ctx, []string{jobID})
	if err != nil {
		return fmt.Errorf("load files: %w", err)
	}
	gx, err := r.Gx.ListByJobIDs(ctx, []string{jobID})
	if err != nil {
		return fmt.Errorf("load gx: %w", err)
	}

	for _, z := range zips {
		if z.ZipProcessingStatus == domain.ZipExtractionFailed {
			return r.Lifecycle.FailJob(ctx, jobID, z.ErrorMessage)
		}
	}

	for _, z := range zips {
		if workPendingZip[z.ZipProcessingStatus] {
			return nil
		}
	}
	for _, f := range files {
		if workPendingFile[f.FileProcessingStatus] {
			return nil
		}
	}
	for _, g := range gx {
		if workPendingGx[g.GxStatus] {
			return nil
		}
	}

	if len(zips) == 0 && len(files) == 0 {
		return nil // pre-queue race: triggerProcessing hasn't created children yet
	}

	erroredFiles := make(map[string]bool, len(gx))
	for _, g := range gx {
		if g.GxStatus.IsError() {
			erroredFiles[g.SourceFileID] = true
		}
	}

	var success, failed, ignored, duplicates int
	var firstFailureMessage string
	for _, f := range files {
		switch {
		case f.FileProcessingStatus.CountsAsFailure() || erroredFiles[f.ID]:
			failed++
			if firstFailureMessage == "" {
				firstFailureMessage = firstFailureMessageFor(f)
			}
		case f.FileProcessingStatus == domain.FileIgnored:
			ignored++
		case f.FileProcessingStatus == domain.FileDuplicate:
			duplicates++
		default:
			success++
		}
	}

	switch {
	case success > 0 && failed > 0:
		return r.Lifecycle.PartiallyCompleteJob(ctx, jobID, partialRemark(success, failed, ignored, duplicates))
	case failed > 0:
		return r.Lifecycle.FailJob(ctx, jobID, firstFailureMessage)
	default:
		return r.Lifecycle.CompleteJob(ctx, jobID)
	}
}

func firstFailureMessageFor(f domain.FileMaster) string {
	if f.ErrorMessage != "" {
		return f.ErrorMessage
	}
	return "an artifact upload for this file failed"
}

// partialRemark builds the "N succeeded, M failed[, K ignored][, D
// duplicates]." remark string exactly per spec.md §4.11 step 5.
func partialRemark(success, failed, ignored, duplicates int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d succeeded, %d failed", success, failed)
	if ignored > 0 {
		fmt.Fprintf(&b, ", %d ignored", ignored)
	}
	if duplicates > 0 {
		fmt.Fprintf(&b, ", %d duplicates", duplicates)
	}
	b.WriteByte('.')
	return b.String()
}

// StaleClaimSweeper periodically resets File/Zip rows stuck IN_PROGRESS
// past a staleness window back to their claimable status, a safety net
// over broker visibility-timeout redelivery for a worker that crashed
// (or errored terminally without retrying, per this core's CAS-guarded
// lock semantics) after acquiring the row's lock. Modeled on the
// teacher's QueueRecoveryWorker.
type StaleClaimSweeper struct {
	Files        repository.FileRepository
	Zips         repository.ZipRepository
	Queue        queue.Queue
	FileQueueURL string
	ZipQueueURL  string
	StaleAfter   time.Duration
	Interval     time.Duration
}

// Run blocks, sweeping every Interval until ctx is cancelled.
func (s *StaleClaimSweeper) Run(ctx context.Context) {
	logger.Info("stale-claim sweeper starting", "interval", s.Interval.String(), "stale_after", s.StaleAfter.String())

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("stale-claim sweeper stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *StaleClaimSweeper) sweep(ctx context.Context) {
	stuckFiles, err := s.Files.RequeueStale(ctx, s.StaleAfter)
	if err != nil {
		logger.Error("stale-claim sweep failed to requeue files", "error", err.Error())
	} else if len(stuckFiles) > 0 {
		logger.Warn("requeued stale in-progress files", "count", len(stuckFiles))
		s.reenqueueFiles(ctx, stuckFiles)
	}

	stuckZips, err := s.Zips.RequeueStale(ctx, s.StaleAfter)
	if err != nil {
		logger.Error("stale-claim sweep failed to requeue zips", "error", err.Error())
	} else if len(stuckZips) > 0 {
		logger.Warn("requeued stale in-progress zips", "count", len(stuckZips))
		s.reenqueueZips(ctx, stuckZips)
	}
}

func (s *StaleClaimSweeper) reenqueueFiles(ctx context.Context, files []domain.FileMaster) {
	for _, f := range files {
		payload := fmt.Sprintf(`{"fileMasterId":%q}`, f.ID)
		if err := s.Queue.Send(ctx, s.FileQueueURL, payload, queue.FileGroupID(f.GxBucketID), queue.FreshDedupID("file-master-"+f.ID)); err != nil {
			logger.Error("failed to re-enqueue stale file", "file", f.ID, "error", err.Error())
		}
	}
}

func (s *StaleClaimSweeper) reenqueueZips(ctx context.Context, zips []domain.ZipMaster) {
	for _, z := range zips {
		payload := fmt.Sprintf(`{"zipMasterId":%q}`, z.ID)
		if err := s.Queue.Send(ctx, s.ZipQueueURL, payload, queue.ZipGroupID(z.ProcessingJobID), "zip-master-"+z.ID); err != nil {
			logger.Error("failed to re-enqueue stale zip", "zip", z.ID, "error", err.Error())
		}
	}
}
