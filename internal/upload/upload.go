// Package upload implements the async artifact uploader (C8):
// scheduleUploadAfterCommit registers a callback that only fires once the
// surrounding transaction commits, so a rolled-back write never triggers
// an upload for bytes the database doesn't actually reference yet.
package upload

import (
	"context"
	"io"
	"os"

	"github.com/kraklabs/docingest/internal/pkg/logger"
	"github.com/kraklabs/docingest/internal/pkg/txn"
	"github.com/kraklabs/docingest/internal/storage"
)

// Action is invoked once the scheduled upload resolves, in its own
// REQUIRES_NEW transaction, to fold the outcome onto the owning entity
// (a FileMaster or GxMaster row) without touching the parent Job.
type Action interface {
	OnSuccess(ctx context.Context, entityID string) error
	OnFailure(ctx context.Context, entityID string, errorMessage string) error
}

// Uploader schedules post-commit artifact uploads.
type Uploader struct {
	Storage storage.Storage
	TempDir string
}

// ScheduleAfterCommit registers an after-commit hook that streams body to a
// temp file, uploads it to key via storage.UploadAsync, always removes the
// temp file, and then runs action in an independent transaction per
// spec.md §4.8. body must remain valid until the hook fires (the caller's
// transaction must not close or reuse it before committing).
func (u *Uploader) ScheduleAfterCommit(hooks *txn.Hooks, entityID, key string, body io.Reader, action Action) {
	hooks.After(func(ctx context.Context) {
		u.runUpload(ctx, entityID, key, body, action)
	})
}

func (u *Uploader) runUpload(ctx context.Context, entityID, key string, body io.Reader, action Action) {
	tmp, err := os.CreateTemp(u.TempDir, "upload-*")
	if err != nil {
		u.fail(ctx, entityID, action, "create temp file: "+err.Error())
		return
	}
	tempPath := tmp.Name()
	defer os.Remove(tempPath)

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		u.fail(ctx, entityID, action, "stage upload bytes: "+err.Error())
		return
	}
	tmp.Close()

	staged, err := os.Open(tempPath)
	if err != nil {
		u.fail(ctx, entityID, action, "reopen staged upload: "+err.Error())
		return
	}
	defer staged.Close()

	future := u.Storage.UploadAsync(ctx, key, staged)
	if err := future.Wait(ctx); err != nil {
		u.fail(ctx, entityID, action, "upload: "+err.Error())
		return
	}
	u.succeed(ctx, entityID, action)
}

// succeed invokes the action's success hook. Each repository call an
// Action makes (a single UPDATE) is already its own autocommitted
// statement against *sql.DB, which satisfies spec.md §4.8's "independent
// transaction" requirement without this package needing its own
// txn.Runner.Run wrapper around it.
func (u *Uploader) succeed(ctx context.Context, entityID string, action Action) {
	if err := action.OnSuccess(ctx, entityID); err != nil {
		logger.Error("upload success callback failed", "entity", entityID, "error", err.Error())
	}
}

func (u *Uploader) fail(ctx context.Context, entityID string, action Action, errorMessage string) {
	logger.Warn("async upload failed", "entity", entityID, "error", errorMessage)
	if err := action.OnFailure(ctx, entityID, errorMessage); err != nil {
		logger.Error("upload failure callback failed", "entity", entityID, "error", err.Error())
	}
}
