// Package gxpoller implements the GX status poller, stale-upload
// sweeper, and retry surface (C12): the ticker loop that reconciles
// in-flight Gx rows against the downstream GX ingestion service, the
// sweep that fails uploads abandoned before they ever reached GX, and
// the admin-facing retry entrypoints for a single File or Gx.
package gxpoller

import (
	"context"
	"strings"
	"time"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/gxclient"
	"github.com/kraklabs/docingest/internal/pkg/distlock"
	"github.com/kraklabs/docingest/internal/pkg/logger"
	"github.com/kraklabs/docingest/internal/repository"
)

// pollStatuses is the set of Gx statuses the poller reconciles against
// GX per spec.md §4.12.
var pollStatuses = []domain.GxStatus{domain.GxQueuedForUpload, domain.GxQueued, domain.GxProcessing}

// canonicalStatus maps GX's reported status string (case-insensitive)
// onto this core's GxStatus enum, in the finality order spec.md §4.12
// names: complete, errors, cancelled, processing.
var canonicalStatus = map[string]domain.GxStatus{
	"complete":   domain.GxComplete,
	"completed":  domain.GxComplete,
	"errors":     domain.GxError,
	"error":      domain.GxError,
	"cancelled":  domain.GxCancelled,
	"canceled":   domain.GxCancelled,
	"processing": domain.GxProcessing,
	"queued":     domain.GxQueued,
	"active":     domain.GxActive,
	"inactive":   domain.GxInactive,
}

func translateStatus(raw string) (domain.GxStatus, bool) {
	s, ok := canonicalStatus[strings.ToLower(strings.TrimSpace(raw))]
	return s, ok
}

// Poller drives the ticker loop that polls GX for every Gx row still
// awaiting a terminal outcome.
type Poller struct {
	Gx       repository.GxRepository
	Client   *gxclient.Client
	Lock     distlock.DistLock
	Interval time.Duration
}

// Run blocks, polling every Interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	logger.Info("gx status poller starting", "interval", p.Interval.String())

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("gx status poller stopping")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	acquired, err := p.Lock.Acquire(ctx)
	if err != nil {
		logger.Error("gx poller lock acquire failed", "error", err.Error())
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := p.Lock.Release(ctx); err != nil {
			logger.Warn("gx poller lock release failed", "error", err.Error())
		}
	}()
	p.PollOnce(ctx)
}

// PollOnce reads every Gx in {QUEUED_FOR_UPLOAD, QUEUED, PROCESSING},
// polls GX for each, and persists the translated status. A failure on
// one record sets that Gx to ERROR with the exception text and does not
// interrupt the batch, per spec.md §4.12.
func (p *Poller) PollOnce(ctx context.Context) {
	rows, err := p.Gx.ListByStatuses(ctx, pollStatuses)
	if err != nil {
		logger.Error("gx poller failed to list pending gx rows", "error", err.Error())
		return
	}

	for _, g := range rows {
		if err := p.pollOne(ctx, &g); err != nil {
			logger.Warn("gx poller marking record errored", "gx", g.ID, "error", err.Error())
			if sErr := p.Gx.SetError(ctx, g.ID, err.Error()); sErr != nil {
				logger.Error("gx poller failed to record error", "gx", g.ID, "error", sErr.Error())
			}
		}
	}
}

func (p *Poller) pollOne(ctx context.Context, g *domain.GxMaster) error {
	if g.GxStatus == domain.GxQueuedForUpload {
		return p.submit(ctx, g)
	}

	if g.GxProcessID == "" || g.GxProcessID == domain.NilProcessID {
		return nil // never submitted (e.g. SKIPPED); nothing to poll
	}

	status, err := p.Client.IngestStatus(ctx, g.GxProcessID)
	if err != nil {
		return err
	}

	next, ok := translateStatus(status.Status)
	if !ok {
		return nil // unrecognized status: leave as-is, retry next tick
	}

	if next == domain.GxError {
		message := status.StatusMessage
		if message == "" {
			message = "gx reported an error status"
		}
		return p.Gx.SetError(ctx, g.ID, message)
	}

	if next == domain.GxComplete {
		return p.confirmDownload(ctx, g)
	}

	if status.StatusMessage != "" {
		return p.Gx.UpdateStatusAndMessage(ctx, g.ID, next, status.StatusMessage)
	}
	return p.Gx.UpdateStatus(ctx, g.ID, next)
}

// submit hands a QUEUED_FOR_UPLOAD artifact to GX for ingestion and
// advances it to QUEUED so the next tick's IngestStatus poll picks it
// up. A row already carrying a gxProcessId (e.g. requeued by retry
// after an ERROR) is not resubmitted.
func (p *Poller) submit(ctx context.Context, g *domain.GxMaster) error {
	if g.GxProcessID == "" || g.GxProcessID == domain.NilProcessID {
		processID, err := p.Client.SubmitIngest(ctx, g.GxBucketID, g.FileLocation, g.ProcessedFileName)
		if err != nil {
			return err
		}
		if err := p.Gx.SetGxProcessID(ctx, g.ID, processID); err != nil {
			return err
		}
	}
	return p.Gx.UpdateStatus(ctx, g.ID, domain.GxQueued)
}

// confirmDownload checks that GX has actually pulled the artifact
// before the Gx is declared COMPLETE: an ingest can finish processing
// before GX's own download of the object finishes, in which case the
// record is left PROCESSING and re-checked next tick.
func (p *Poller) confirmDownload(ctx context.Context, g *domain.GxMaster) error {
	status, err := p.Client.DownloadStatus(ctx, g.GxProcessID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(status, "downloaded") && !strings.EqualFold(status, "complete") {
		if g.GxStatus == domain.GxProcessing {
			return nil
		}
		return p.Gx.UpdateStatus(ctx, g.ID, domain.GxProcessing)
	}
	return p.Gx.UpdateStatus(ctx, g.ID, domain.GxComplete)
}
