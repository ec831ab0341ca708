package domain

import "time"

// FileProcessingStatus enumerates the lifecycle states of a FileMaster.
type FileProcessingStatus string

const (
	FileQueued          FileProcessingStatus = "QUEUED"
	FileInProgress      FileProcessingStatus = "IN_PROGRESS"
	FileCompleted       FileProcessingStatus = "COMPLETED"
	FileFailed          FileProcessingStatus = "FAILED"
	FileDuplicate       FileProcessingStatus = "DUPLICATE" // a.k.a. SKIPPED_DUPLICATE
	FileIgnored         FileProcessingStatus = "IGNORED"
	FileTerminated       FileProcessingStatus = "TERMINATED"
)

var terminalFileStatuses = map[FileProcessingStatus]bool{
	FileCompleted: true,
	FileFailed:    true,
	FileDuplicate: true,
	FileIgnored:   true,
	FileTerminated: true,
}

// IsTerminal reports whether status is one of the terminal File states.
func (s FileProcessingStatus) IsTerminal() bool { return terminalFileStatuses[s] }

// CountsAsFailure reports whether this status makes the owning File count
// as "failed" when the lifecycle scheduler summarizes a job (spec.md §4.11
// step 5: a File also counts as failed if any of its Gx rows errored, which
// callers must check separately).
func (s FileProcessingStatus) CountsAsFailure() bool { return s == FileFailed }

var terminableFileStatuses = map[FileProcessingStatus]bool{
	FileQueued:     true,
	FileInProgress: true,
}

// Terminable reports whether the File can still be admin-terminated.
func (s FileProcessingStatus) Terminable() bool { return terminableFileStatuses[s] }

// FileSourceType describes how a FileMaster came to exist.
type FileSourceType string

const (
	SourceUploaded   FileSourceType = "UPLOADED"
	SourceExtracted  FileSourceType = "EXTRACTED"
	SourceTransformed FileSourceType = "TRANSFORMED"
)

// NoLocationSentinel is the fileLocation value used for ignored files that
// were never uploaded anywhere (spec.md §4.6 step 5).
const NoLocationSentinel = "N/A"

// FileMaster is one unit of processing work: an uploaded file, a file
// extracted from a ZIP, or a file produced by transforming a container
// format into something processable.
type FileMaster struct {
	ID                   string
	ProcessingJobID      string
	ZipMasterID          *string
	GxBucketID           string
	FileLocation         string
	FileName             string
	FileSize             int64
	Extension            string
	FileHash             *string // SHA-256 hex; nil until computed
	OriginalContentHash  *string
	SourceType           FileSourceType
	DuplicateOfFileID    *string
	FileProcessingStatus FileProcessingStatus
	ErrorMessage         string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// HashKnown reports whether the content hash has already been computed
// (true for ZIP children, false for a freshly presigned direct upload).
func (f *FileMaster) HashKnown() bool { return f.FileHash != nil && *f.FileHash != "" }
