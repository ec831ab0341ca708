// Package pipeline implements the document processing pipeline (C7): the
// file-queue consumer that hashes direct uploads, deduplicates them the
// same way C6 does for zip children, selects a format handler, and turns
// the handler's output into final Gx artifacts or re-enqueued child
// files.
package pipeline

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/pkg/apierr"
	"github.com/kraklabs/docingest/internal/pkg/logger"
	"github.com/kraklabs/docingest/internal/pkg/txn"
	"github.com/kraklabs/docingest/internal/queue"
	"github.com/kraklabs/docingest/internal/repository"
	"github.com/kraklabs/docingest/internal/storage"
	"github.com/kraklabs/docingest/internal/upload"
	"github.com/kraklabs/docingest/internal/validation"
)

// Message is the file-queue payload: the FileMaster to process.
type Message struct {
	FileMasterID string `json:"fileMasterId"`
}

// Lifecycle is the subset of C10 the document pipeline needs to fold a
// terminal processing failure back onto the owning Job. Declared locally
// so this package doesn't import the lifecycle package directly.
type Lifecycle interface {
	FailJobForFileProcessing(ctx context.Context, jobID, errorMessage string) error
}

// Service drives one File through hashing, dedup, handler dispatch, and
// Gx creation.
type Service struct {
	Txn          *txn.Runner
	Files        repository.FileRepository
	Gx           repository.GxRepository
	Storage      storage.Storage
	Queue        queue.Queue
	FileQueueURL string
	Handlers     *Registry
	Uploader     *upload.Uploader
	Lifecycle    Lifecycle
	TempDir      string
	Supported    map[string]bool
}

// Handle is the queue.Consumer handler for the file queue: decode the
// message and process the named FileMaster.
func (s *Service) Handle(ctx context.Context, body string) error {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return apierr.Validation("decode file message", err)
	}
	return s.Process(ctx, msg.FileMasterID)
}

// Process implements spec.md §4.7: acquire the per-file lock, honor a
// terminated job, hash-and-dedup a direct upload (or trust a zip child's
// known hash), dispatch to the registered handler, and fold the result
// into Gx rows or freshly re-enqueued child files.
func (s *Service) Process(ctx context.Context, fileID string) error {
	locked, err := s.Files.AcquireLock(ctx, fileID)
	if err != nil {
		return apierr.Transient("acquire file lock", err)
	}
	if !locked {
		return nil // lost the race, or already progressed past QUEUED
	}

	file, job, err := s.Files.GetWithJob(ctx, fileID)
	if err != nil {
		return apierr.Transient("load file with job", err)
	}

	if job.Status == domain.JobTerminated {
		if err := s.Files.SetTerminal(ctx, file.ID, domain.FileTerminated, "job terminated"); err != nil {
			return apierr.Transient("mark file terminated", err)
		}
		return nil
	}

	fatal := s.runFile(ctx, file, job)
	return s.finish(ctx, file, job, fatal)
}

// runFile executes steps 3-9 of spec.md §4.7 and returns nil once the
// file has reached a terminal or handed-off outcome; a non-nil error is
// always a classified apierr.Error for finish to act on.
func (s *Service) runFile(ctx context.Context, file *domain.FileMaster, job *domain.ProcessingJob) error {
	hashKnown := file.HashKnown()

	local, hash, size, err := s.downloadToTemp(ctx, file.FileLocation, !hashKnown)
	if err != nil {
		return apierr.Transient("download file", err)
	}
	defer os.Remove(local)

	if !hashKnown {
		settled, err := s.resolveDirectUpload(ctx, file, hash, size)
		if err != nil {
			return err
		}
		if settled {
			// Validation failure or a dedup hit already committed a
			// terminal status in place; spec.md §4.7 step 4 says commit
			// and return right here, without reaching handler dispatch.
			return nil
		}
	}

	handler, ok := s.Handlers.Lookup(file.Extension)
	if !ok {
		if err := s.Files.SetTerminal(ctx, file.ID, domain.FileIgnored,
			fmt.Sprintf("no handler registered for extension %q", file.Extension)); err != nil {
			return apierr.Transient("mark file ignored", err)
		}
		return nil
	}

	stream, err := os.Open(local)
	if err != nil {
		return apierr.Transient("reopen downloaded file", err)
	}
	defer stream.Close()

	items, err := handler.Handle(ctx, stream, file)
	if err != nil {
		return apierr.TerminalFile("handler failed", err)
	}

	if err := s.writeArtifacts(ctx, file, job, items); err != nil {
		return err
	}

	if err := s.Files.CompleteIfInProgress(ctx, file.ID); err != nil {
		return apierr.Transient("complete file", err)
	}
	return nil
}

// downloadToTemp streams key to a new temp file, optionally feeding a
// SHA-256 digest inline for the direct-upload hash-unknown path.
func (s *Service) downloadToTemp(ctx context.Context, key string, digest bool) (string, string, int64, error) {
	rc, err := s.Storage.DownloadStream(ctx, key)
	if err != nil {
		return "", "", 0, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(s.TempDir, "pipeline-file-*")
	if err != nil {
		return "", "", 0, err
	}
	defer tmp.Close()

	var w io.Writer = tmp
	h := sha256.New()
	if digest {
		w = io.MultiWriter(tmp, h)
	}

	n, err := io.Copy(w, rc)
	if err != nil {
		os.Remove(tmp.Name())
		return "", "", 0, err
	}

	var sum string
	if digest {
		sum = hex.EncodeToString(h.Sum(nil))
	}
	return tmp.Name(), sum, n, nil
}

// resolveDirectUpload runs the same validation + dedup flow as spec.md
// §4.6 step 5 against a File whose hash was just computed. settled is
// true once a terminal status (IGNORED or DUPLICATE) has been committed
// in place and the caller must stop without reaching handler dispatch.
func (s *Service) resolveDirectUpload(ctx context.Context, file *domain.FileMaster, hash string, size int64) (bool, error) {
	if verr := validation.ValidateFully(file.FileName, size, file.Extension, s.Supported); verr != nil {
		logger.Info("ignoring inadmissible direct upload", "file", file.ID, "reason", verr.Error())
		if err := s.Files.SetTerminal(ctx, file.ID, domain.FileIgnored, verr.Error()); err != nil {
			return false, apierr.Transient("mark file ignored", err)
		}
		return true, nil
	}

	winner, err := s.Files.FindWinner(ctx, file.GxBucketID, hash)
	if err == nil {
		return true, s.markDuplicate(ctx, file, winner.ID)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return false, apierr.Transient("find winner for file", err)
	}

	if err := s.Files.UpdateHashAndSize(ctx, file.ID, hash, size); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			winner, werr := s.Files.FindWinner(ctx, file.GxBucketID, hash)
			if werr != nil {
				return false, apierr.Transient("resolve dedup race", werr)
			}
			return true, s.markDuplicate(ctx, file, winner.ID)
		}
		return false, apierr.Transient("update file hash", err)
	}

	file.FileHash = &hash
	file.FileSize = size
	return false, nil
}

func (s *Service) markDuplicate(ctx context.Context, file *domain.FileMaster, winnerID string) error {
	logger.Info("direct upload deduplicated against existing file", "file", file.ID, "winner", winnerID)
	if err := s.Files.MarkDuplicate(ctx, file.ID, winnerID); err != nil {
		return apierr.Transient("mark file duplicate", err)
	}
	return nil
}

// writeArtifacts dispatches on the three semantic outcomes of handler
// output per spec.md §4.7 step 7.
func (s *Service) writeArtifacts(ctx context.Context, file *domain.FileMaster, job *domain.ProcessingJob, items []Item) error {
	switch {
	case len(items) == 0:
		return s.writeInPlaceCopy(ctx, file)
	case len(items) == 1 && items[0].Filename == file.FileName:
		return s.writeTransformedInPlace(ctx, file, items[0])
	case file.Extension == "pdf":
		return s.writeSplitArtifacts(ctx, file, items)
	default:
		return s.writeExtractedChildren(ctx, file, job, items)
	}
}

// writeInPlaceCopy handles the empty-item-list outcome: the source is
// already the final artifact, so a server-side copy moves it to the
// final location with no new upload.
func (s *Service) writeInPlaceCopy(ctx context.Context, file *domain.FileMaster) error {
	finalKey := storage.GxKey(file.GxBucketID, file.ProcessingJobID, file.FileName)
	if err := s.Storage.Copy(ctx, file.FileLocation, finalKey); err != nil {
		return apierr.Transient("copy source to final location", err)
	}
	gx := &domain.GxMaster{
		SourceFileID:      file.ID,
		GxBucketID:        file.GxBucketID,
		FileLocation:      finalKey,
		ProcessedFileName: file.FileName,
		FileSize:          file.FileSize,
		Extension:         file.Extension,
		GxStatus:          domain.GxQueuedForUpload,
	}
	if _, err := s.Gx.UpsertForSourceFile(ctx, gx); err != nil {
		return apierr.Transient("persist gx for in-place copy", err)
	}
	return nil
}

// writeTransformedInPlace handles the single-item-same-name outcome: the
// handler produced new bytes for the same logical file, uploaded
// asynchronously per C8.
func (s *Service) writeTransformedInPlace(ctx context.Context, file *domain.FileMaster, item Item) error {
	finalKey := storage.GxKey(file.GxBucketID, file.ProcessingJobID, item.Filename)
	gx := &domain.GxMaster{
		SourceFileID:      file.ID,
		GxBucketID:        file.GxBucketID,
		FileLocation:      finalKey,
		ProcessedFileName: item.Filename,
		Extension:         file.Extension,
		GxStatus:          domain.GxReading,
	}
	existing, err := s.Gx.UpsertForSourceFile(ctx, gx)
	if err != nil {
		return apierr.Transient("create gx for transformed file", err)
	}
	return s.scheduleGxUpload(ctx, existing.ID, finalKey, item.Content)
}

// writeSplitArtifacts handles a PDF split: every item is its own final
// artifact, each backed by a new Gx row.
func (s *Service) writeSplitArtifacts(ctx context.Context, file *domain.FileMaster, items []Item) error {
	for _, item := range items {
		finalKey := storage.GxKey(file.GxBucketID, file.ProcessingJobID, item.Filename)
		gx := &domain.GxMaster{
			SourceFileID:      file.ID,
			GxBucketID:        file.GxBucketID,
			FileLocation:      finalKey,
			ProcessedFileName: item.Filename,
			Extension:         validation.Extension(item.Filename),
			GxStatus:          domain.GxReading,
		}
		if err := s.Gx.Create(ctx, gx); err != nil {
			return apierr.Transient("create gx for split artifact", err)
		}
		if err := s.scheduleGxUpload(ctx, gx.ID, finalKey, item.Content); err != nil {
			return err
		}
	}
	return nil
}

// writeExtractedChildren handles a container-format outcome (MSG,
// Office, …): every item becomes a brand-new FileMaster, uploaded now
// and re-enqueued to the file queue for its own pass through this same
// pipeline (hash unknown, so it dedups on its own turn).
func (s *Service) writeExtractedChildren(ctx context.Context, file *domain.FileMaster, job *domain.ProcessingJob, items []Item) error {
	for _, item := range items {
		name := path.Base(item.Filename)
		extension := validation.Extension(name)
		key := storage.FileKey(file.GxBucketID, job.ID, name)

		if err := s.Storage.Upload(ctx, key, item.Content, 0); err != nil {
			return apierr.Transient("upload extracted child", err)
		}

		child := &domain.FileMaster{
			ProcessingJobID:      job.ID,
			ZipMasterID:          file.ZipMasterID,
			GxBucketID:           file.GxBucketID,
			FileLocation:         key,
			FileName:             name,
			Extension:            extension,
			SourceType:           domain.SourceExtracted,
			FileProcessingStatus: domain.FileQueued,
		}
		if err := s.Files.Create(ctx, child); err != nil {
			return apierr.Transient("create extracted child file", err)
		}

		payload, _ := json.Marshal(struct {
			FileMasterID string `json:"fileMasterId"`
		}{FileMasterID: child.ID})

		if err := s.Txn.Run(ctx, func(ctx context.Context, tx *sql.Tx, hooks *txn.Hooks) error {
			hooks.After(func(ctx context.Context) {
				sendErr := s.Queue.Send(ctx, s.FileQueueURL, string(payload),
					queue.FileGroupID(child.GxBucketID), queue.FreshDedupID("file-master-"+child.ID))
				if sendErr != nil {
					logger.Error("failed to enqueue extracted child file", "file", child.ID, "error", sendErr.Error())
				}
			})
			return nil
		}); err != nil {
			return apierr.Transient("schedule enqueue of extracted child", err)
		}
	}
	return nil
}

func (s *Service) scheduleGxUpload(ctx context.Context, gxID, key string, body io.Reader) error {
	if err := s.Txn.Run(ctx, func(ctx context.Context, tx *sql.Tx, hooks *txn.Hooks) error {
		s.Uploader.ScheduleAfterCommit(hooks, gxID, key, body, gxUploadAction{s.Gx})
		return nil
	}); err != nil {
		return apierr.Transient("schedule gx upload", err)
	}
	return nil
}

// gxUploadAction folds an async artifact upload's outcome onto the Gx
// row alone, per spec.md §4.7 step 8 and §4.8.
type gxUploadAction struct {
	gx repository.GxRepository
}

func (a gxUploadAction) OnSuccess(ctx context.Context, gxID string) error {
	return a.gx.UpdateStatus(ctx, gxID, domain.GxQueuedForUpload)
}

func (a gxUploadAction) OnFailure(ctx context.Context, gxID string, errorMessage string) error {
	return a.gx.SetError(ctx, gxID, errorMessage)
}

// finish folds the outcome of runFile back onto the File (and, on a
// terminal failure, the owning Job) per spec.md §4.7 step 10.
func (s *Service) finish(ctx context.Context, file *domain.FileMaster, job *domain.ProcessingJob, fatal error) error {
	if fatal == nil {
		return nil
	}

	kind := apierr.KindOf(fatal)
	if kind.Retryable() {
		// Leave the File in IN_PROGRESS; the broker will redeliver and
		// acquireLock's CAS will no-op on delivery races, but this
		// delivery itself must be retried from the top since nothing
		// committed a terminal outcome.
		return fatal
	}

	remark := fatal.Error()
	txErr := s.Txn.Run(ctx, func(ctx context.Context, tx *sql.Tx, hooks *txn.Hooks) error {
		if err := s.Files.SetTerminal(ctx, file.ID, domain.FileFailed, remark); err != nil {
			return err
		}
		hooks.After(func(ctx context.Context) {
			if err := s.Lifecycle.FailJobForFileProcessing(ctx, job.ID, remark); err != nil {
				logger.Error("failed to fold file failure onto job", "job", job.ID, "file", file.ID, "error", err.Error())
			}
		})
		return nil
	})
	if txErr != nil {
		return apierr.Transient("record file failure", txErr)
	}

	logger.Warn("file processing failed terminally", "file", file.ID, "job", job.ID, "reason", remark)
	return nil
}
