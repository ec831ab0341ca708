package gxpoller

import (
	"context"
	"time"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/pkg/distlock"
	"github.com/kraklabs/docingest/internal/pkg/logger"
	"github.com/kraklabs/docingest/internal/repository"
)

// staleUploadReason is the fixed reason recorded on a Job failed by the
// stale-upload sweep, per spec.md §4.12.
const staleUploadReason = "upload never completed within the staleness window"

// StaleSweeper periodically fails Jobs that have sat in PENDING_UPLOAD
// past the configured staleness threshold: the caller reserved a
// presigned URL and never used it (or never called triggerProcessing).
type StaleSweeper struct {
	Jobs           repository.JobRepository
	Lock           distlock.DistLock
	Interval       time.Duration
	StaleThreshold time.Duration
}

// Run blocks, sweeping every Interval until ctx is cancelled.
func (s *StaleSweeper) Run(ctx context.Context) {
	logger.Info("stale-upload sweeper starting", "interval", s.Interval.String(), "threshold", s.StaleThreshold.String())

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("stale-upload sweeper stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *StaleSweeper) tick(ctx context.Context) {
	acquired, err := s.Lock.Acquire(ctx)
	if err != nil {
		logger.Error("stale sweeper lock acquire failed", "error", err.Error())
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := s.Lock.Release(ctx); err != nil {
			logger.Warn("stale sweeper lock release failed", "error", err.Error())
		}
	}()
	s.SweepOnce(ctx)
}

// SweepOnce marks every stale PENDING_UPLOAD job FAILED.
func (s *StaleSweeper) SweepOnce(ctx context.Context) {
	hours := int(s.StaleThreshold.Hours())
	jobs, err := s.Jobs.ListStalePendingUpload(ctx, hours)
	if err != nil {
		logger.Error("stale sweeper failed to list jobs", "error", err.Error())
		return
	}

	for _, job := range jobs {
		if err := s.Jobs.SetTerminal(ctx, job.ID, domain.JobFailed, staleUploadReason, ""); err != nil {
			logger.Error("stale sweeper failed to fail job", "job", job.ID, "error", err.Error())
			continue
		}
		logger.Warn("failed stale pending-upload job", "job", job.ID)
	}
}
