package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_ResolveThenWait(t *testing.T) {
	f := NewFuture()
	f.Resolve(nil)

	err := f.Wait(context.Background())
	assert.NoError(t, err)
}

func TestFuture_ResolveWithError(t *testing.T) {
	f := NewFuture()
	wantErr := errors.New("upload failed")
	f.Resolve(wantErr)

	err := f.Wait(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestFuture_WaitRespectsContextCancellation(t *testing.T) {
	f := NewFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := f.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "report.pdf", SafeName("report.pdf"))
	assert.Equal(t, "my_file_name.pdf", SafeName("my file/name.pdf"))
	assert.Equal(t, "___", SafeName("???"))
}

func TestSourceKey(t *testing.T) {
	assert.Equal(t, "bucket-1/source/job-1/report.pdf", SourceKey("bucket-1", "job-1", "report.pdf"))
	assert.Equal(t, "bulk/source/job-1/report.pdf", SourceKey("", "job-1", "report.pdf"))
}

func TestGxKey(t *testing.T) {
	assert.Equal(t, "bucket-1/files/job-1/report.pdf", GxKey("bucket-1", "job-1", "report.pdf"))
}

func TestFileKey(t *testing.T) {
	assert.Equal(t, "bucket-1/files/job-1/report.pdf", FileKey("bucket-1", "job-1", "report.pdf"))
	assert.Equal(t, "bulk/files/job-1/report.pdf", FileKey("", "job-1", "report.pdf"))
}
