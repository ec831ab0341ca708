// Package zipingest implements the ZIP ingestion pipeline (C6): the
// zip-queue consumer that streams a bulk or single-bucket archive through
// the C5 processor, resolving per-entry buckets, validating, deduplicating,
// uploading, and re-enqueueing each surviving entry onto the file queue.
package zipingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/pkg/apierr"
	"github.com/kraklabs/docingest/internal/pkg/logger"
	"github.com/kraklabs/docingest/internal/pkg/txn"
	"github.com/kraklabs/docingest/internal/queue"
	"github.com/kraklabs/docingest/internal/repository"
	"github.com/kraklabs/docingest/internal/storage"
	"github.com/kraklabs/docingest/internal/validation"
	"github.com/kraklabs/docingest/internal/zipstream"
)

// Message is the zip-queue payload: the ZipMaster to extract.
type Message struct {
	ZipMasterID string `json:"zipMasterId"`
}

// Lifecycle is the subset of C10 the ZIP pipeline needs to fold a
// terminal extraction failure back onto the owning Job. Declared locally
// so this package doesn't import the lifecycle package directly.
type Lifecycle interface {
	FailJobForZipExtraction(ctx context.Context, jobID, errorMessage string) error
}

// Service drives one ZIP extraction end to end.
type Service struct {
	Txn         *txn.Runner
	Jobs        repository.JobRepository
	Zips        repository.ZipRepository
	Files       repository.FileRepository
	Storage     storage.Storage
	Queue       queue.Queue
	FileQueueURL string
	Buckets     *BucketCache
	Lifecycle   Lifecycle
	TempDir     string
	Concurrency int
	Supported   map[string]bool
}

// Handle is the queue.Consumer handler for the zip queue: decode the
// message, look up the ZipMaster, and run extraction.
func (s *Service) Handle(ctx context.Context, body string) error {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return apierr.Validation("decode zip message", err)
	}
	return s.Extract(ctx, msg.ZipMasterID)
}

// Extract implements spec.md §4.6: idempotent CAS into extraction, stream
// the archive through zipstream, resolve/validate/dedup/upload/enqueue
// each surviving entry, and fold the outcome back onto the ZipMaster (and,
// on a terminal failure, the owning Job via Lifecycle).
func (s *Service) Extract(ctx context.Context, zipID string) error {
	zip, err := s.Zips.Get(ctx, zipID)
	if err != nil {
		return apierr.Transient("load zip master", err)
	}

	// Idempotent re-delivery: extraction already claimed or finished by an
	// earlier delivery of this same message.
	if zip.ZipProcessingStatus != domain.ZipQueuedForExtraction {
		return nil
	}

	if err := s.Txn.Run(ctx, func(ctx context.Context, tx *sql.Tx, hooks *txn.Hooks) error {
		return s.Zips.CompareAndSetStatus(ctx, zipID, domain.ZipQueuedForExtraction, domain.ZipExtractionInProgress)
	}); err != nil {
		if errors.Is(err, repository.ErrCASFailed) {
			return nil // another worker won the race
		}
		return apierr.Transient("claim zip extraction", err)
	}

	job, err := s.Jobs.Get(ctx, zip.ProcessingJobID)
	if err != nil {
		return apierr.Transient("load zip's job", err)
	}

	outcome := s.run(ctx, zip, job)
	return s.finish(ctx, zip, job, outcome)
}

// runOutcome accumulates the result of one extraction pass.
type runOutcome struct {
	entriesSeen       int
	entriesPathResolved int // bucket resolution succeeded, regardless of downstream outcome
	entriesAdmitted   int
	bulkLayoutFailure bool
	fatal             error
}

func (s *Service) run(ctx context.Context, zip *domain.ZipMaster, job *domain.ProcessingJob) runOutcome {
	local, err := s.downloadToTemp(ctx, zip.OriginalFilePath)
	if err != nil {
		return runOutcome{fatal: apierr.Transient("download archive", err)}
	}
	defer os.Remove(local)

	f, err := os.Open(local)
	if err != nil {
		return runOutcome{fatal: apierr.Transient("reopen downloaded archive", err)}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return runOutcome{fatal: apierr.Transient("stat downloaded archive", err)}
	}

	limit := s.Concurrency
	if limit <= 0 {
		limit = 8
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	outcome := runOutcome{}

	emit := func(entry zipstream.Entry) error {
		mu.Lock()
		outcome.entriesSeen++
		mu.Unlock()

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer os.Remove(entry.TempFile)

			result, err := s.admitEntry(ctx, zip, job, entry)
			mu.Lock()
			defer mu.Unlock()
			if result.pathResolved {
				outcome.entriesPathResolved++
			}
			if err != nil {
				if outcome.fatal == nil {
					outcome.fatal = err
				}
				return
			}
			if result.admitted {
				outcome.entriesAdmitted++
			}
		}()
		return nil
	}

	err = zipstream.Process(f, info.Size(), s.TempDir, emit)
	wg.Wait()

	if err != nil && outcome.fatal == nil {
		outcome.fatal = apierr.Transient("process archive", err)
	}

	// Bulk-layout rule (spec.md §4.6 step 6): the archive fails only if not
	// a single entry even produced a valid per-bucket path — entries that
	// resolved a bucket but ended up IGNORED/DUPLICATE still count.
	if outcome.fatal == nil && job.IsBulk() && outcome.entriesPathResolved == 0 {
		outcome.bulkLayoutFailure = true
		outcome.fatal = apierr.TerminalZip("Bulk ZIP has an invalid structure", nil)
	}

	return outcome
}

func (s *Service) downloadToTemp(ctx context.Context, key string) (string, error) {
	rc, err := s.Storage.DownloadStream(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(s.TempDir, "zipingest-archive-*")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, rc); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// admitResult reports what happened to one entry, for the caller's
// counters: pathResolved distinguishes "saw a valid per-bucket path" (the
// bulk-layout rule's trigger) from admitted ("uploaded and enqueued").
type admitResult struct {
	pathResolved bool
	admitted     bool
}

// admitEntry resolves the entry's target bucket, validates it, dedups it
// against existing FileMaster rows, and — if it survives — uploads it and
// enqueues a file-queue message, per spec.md §4.6 step 5. Each side effect
// after dedup runs in its own REQUIRES_NEW transaction so one entry's
// failure never rolls back a sibling's progress.
func (s *Service) admitEntry(ctx context.Context, zip *domain.ZipMaster, job *domain.ProcessingJob, entry zipstream.Entry) (admitResult, error) {
	gxBucketID, childPath, err := s.resolveBucket(ctx, job, entry.NormalizedPath)
	if err != nil {
		if job.IsBulk() {
			// A missing/blank/hidden bucket segment is a per-entry skip,
			// not pathResolved; the archive only fails if nothing survives
			// (checked by the caller).
			logger.Warn("skipping entry with unresolvable bucket", "zip", zip.ID, "path", entry.NormalizedPath, "error", err.Error())
			return admitResult{}, nil
		}
		return admitResult{}, err
	}

	name := path.Base(childPath)
	hash := entry.SHA256Hex
	extension := validation.Extension(name)

	if verr := validation.ValidateFully(name, entry.Size, extension, s.Supported); verr != nil {
		logger.Info("ignoring inadmissible zip entry", "zip", zip.ID, "path", entry.NormalizedPath, "reason", verr.Error())
		ignored := &domain.FileMaster{
			ProcessingJobID:      job.ID,
			ZipMasterID:          &zip.ID,
			GxBucketID:           gxBucketID,
			FileLocation:         domain.NoLocationSentinel,
			FileName:             name,
			FileSize:             entry.Size,
			Extension:            extension,
			FileHash:             &hash,
			SourceType:           domain.SourceExtracted,
			FileProcessingStatus: domain.FileIgnored,
			ErrorMessage:         verr.Error(),
		}
		if cerr := s.Files.Create(ctx, ignored); cerr != nil {
			return admitResult{pathResolved: true}, apierr.Transient("persist ignored zip entry", cerr)
		}
		return admitResult{pathResolved: true}, nil
	}

	winner, err := s.Files.FindWinner(ctx, gxBucketID, hash)
	if err == nil {
		if derr := s.persistDuplicate(ctx, zip, job, gxBucketID, name, extension, entry, winner.ID); derr != nil {
			return admitResult{pathResolved: true}, derr
		}
		return admitResult{pathResolved: true}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return admitResult{pathResolved: true}, apierr.Transient("find winner for zip entry", err)
	}

	size := entry.Size
	file := &domain.FileMaster{
		ProcessingJobID:      job.ID,
		ZipMasterID:          &zip.ID,
		GxBucketID:           gxBucketID,
		FileName:             name,
		FileSize:             size,
		Extension:            extension,
		FileHash:             &hash,
		SourceType:           domain.SourceExtracted,
		FileProcessingStatus: domain.FileQueued,
	}

	key := storage.FileKey(gxBucketID, job.ID, name)
	file.FileLocation = key

	if err := s.Files.AttemptToCreate(ctx, file); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			winner, werr := s.Files.FindWinner(ctx, gxBucketID, hash)
			if werr == nil {
				if derr := s.persistDuplicate(ctx, zip, job, gxBucketID, name, extension, entry, winner.ID); derr != nil {
					return admitResult{pathResolved: true}, derr
				}
				return admitResult{pathResolved: true}, nil
			}
			return admitResult{pathResolved: true}, apierr.Transient("resolve dedup race", werr)
		}
		return admitResult{pathResolved: true}, apierr.Transient("create file for zip entry", err)
	}

	uploaded, err := os.Open(entry.TempFile)
	if err != nil {
		return admitResult{pathResolved: true}, apierr.Transient("reopen extracted entry", err)
	}
	defer uploaded.Close()

	if err := s.Storage.Upload(ctx, key, uploaded, size); err != nil {
		_ = s.Files.SetTerminal(ctx, file.ID, domain.FileFailed, "upload failed: "+err.Error())
		return admitResult{pathResolved: true}, apierr.Transient("upload zip entry", err)
	}

	payload, _ := json.Marshal(struct {
		FileMasterID string `json:"fileMasterId"`
	}{FileMasterID: file.ID})

	if err := s.Txn.Run(ctx, func(ctx context.Context, tx *sql.Tx, hooks *txn.Hooks) error {
		hooks.After(func(ctx context.Context) {
			sendErr := s.Queue.Send(ctx, s.FileQueueURL, string(payload),
				queue.FileGroupID(gxBucketID), queue.FileDedupID(gxBucketID, hash))
			if sendErr != nil {
				logger.Error("failed to enqueue extracted file", "file", file.ID, "error", sendErr.Error())
			}
		})
		return nil
	}); err != nil {
		return admitResult{pathResolved: true}, apierr.Transient("schedule enqueue of extracted file", err)
	}

	return admitResult{pathResolved: true, admitted: true}, nil
}

// persistDuplicate records a DUPLICATE FileMaster referencing winnerID,
// per spec.md §4.6 step 5's tie-break rule (lowest existing id wins).
func (s *Service) persistDuplicate(ctx context.Context, zip *domain.ZipMaster, job *domain.ProcessingJob, gxBucketID, name, extension string, entry zipstream.Entry, winnerID string) error {
	logger.Info("zip entry deduplicated against existing file", "zip", zip.ID, "path", entry.NormalizedPath, "winner", winnerID)
	hash := entry.SHA256Hex
	dup := &domain.FileMaster{
		ProcessingJobID:      job.ID,
		ZipMasterID:          &zip.ID,
		GxBucketID:           gxBucketID,
		FileLocation:         domain.NoLocationSentinel,
		FileName:             name,
		FileSize:             entry.Size,
		Extension:            extension,
		FileHash:             &hash,
		SourceType:           domain.SourceExtracted,
		DuplicateOfFileID:    &winnerID,
		FileProcessingStatus: domain.FileDuplicate,
	}
	if err := s.Files.Create(ctx, dup); err != nil {
		return apierr.Transient("persist duplicate zip entry", err)
	}
	return nil
}

// resolveBucket returns the gxBucketId an entry belongs to and the path
// beneath it. A single-bucket job inherits its GxBucketID outright; a
// bulk job's entries must start with a bucket-name path segment, which is
// resolved (and, on first sight, created in GX) via the bucket cache.
func (s *Service) resolveBucket(ctx context.Context, job *domain.ProcessingJob, entryPath string) (string, string, error) {
	if !job.IsBulk() {
		return *job.GxBucketID, entryPath, nil
	}

	segments := strings.SplitN(strings.TrimPrefix(entryPath, "/"), "/", 2)
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return "", "", fmt.Errorf("zipingest: entry %q has no bucket-name path segment", entryPath)
	}

	id, err := s.Buckets.Resolve(ctx, segments[0])
	if err != nil {
		return "", "", fmt.Errorf("zipingest: resolve bucket %q: %w", segments[0], err)
	}
	return id, segments[1], nil
}

// finish folds a completed extraction pass back onto the ZipMaster (and,
// on a terminal failure, the owning Job) per spec.md §4.6 step 6/7.
func (s *Service) finish(ctx context.Context, zip *domain.ZipMaster, job *domain.ProcessingJob, outcome runOutcome) error {
	if outcome.fatal == nil {
		err := s.Txn.Run(ctx, func(ctx context.Context, tx *sql.Tx, hooks *txn.Hooks) error {
			return s.Zips.CompareAndSetStatus(ctx, zip.ID, domain.ZipExtractionInProgress, domain.ZipExtractionSuccess)
		})
		if err != nil && !errors.Is(err, repository.ErrCASFailed) {
			return apierr.Transient("record extraction success", err)
		}
		logger.Info("zip extraction succeeded", "zip", zip.ID, "job", job.ID,
			"entriesSeen", outcome.entriesSeen, "entriesAdmitted", outcome.entriesAdmitted)
		return nil
	}

	kind := apierr.KindOf(outcome.fatal)
	if kind.Retryable() {
		// Leave the ZipMaster in EXTRACTION_IN_PROGRESS; the broker will
		// redeliver and another attempt will retry from scratch.
		return outcome.fatal
	}

	remark := outcome.fatal.Error()
	if classified, ok := apierr.As(outcome.fatal); ok {
		remark = classified.Remark
		if classified.Err != nil {
			remark += ": " + classified.Err.Error()
		}
	}
	txErr := s.Txn.Run(ctx, func(ctx context.Context, tx *sql.Tx, hooks *txn.Hooks) error {
		if err := s.Zips.SetTerminal(ctx, zip.ID, domain.ZipExtractionFailed, remark); err != nil {
			return err
		}
		hooks.After(func(ctx context.Context) {
			if err := s.Lifecycle.FailJobForZipExtraction(ctx, job.ID, remark); err != nil {
				logger.Error("failed to fold zip failure onto job", "job", job.ID, "zip", zip.ID, "error", err.Error())
			}
		})
		return nil
	})
	if txErr != nil {
		return apierr.Transient("record extraction failure", txErr)
	}

	logger.Warn("zip extraction failed terminally", "zip", zip.ID, "job", job.ID, "reason", remark)
	return nil
}
