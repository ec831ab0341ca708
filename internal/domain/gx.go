package domain

import "time"

// GxStatus enumerates the lifecycle states of a GxMaster as reported by
// (or inferred ahead of) the downstream GX ingestion service.
type GxStatus string

const (
	GxQueuedForUpload GxStatus = "QUEUED_FOR_UPLOAD"
	GxReading         GxStatus = "READING"
	GxQueued          GxStatus = "QUEUED"
	GxProcessing      GxStatus = "PROCESSING"
	GxComplete        GxStatus = "COMPLETE"
	GxError           GxStatus = "ERROR"
	GxCancelled       GxStatus = "CANCELLED"
	GxSkipped         GxStatus = "SKIPPED"
	GxIgnored         GxStatus = "IGNORED"
	GxTerminated      GxStatus = "TERMINATED"
	GxDuplicate       GxStatus = "DUPLICATE"
	GxActive          GxStatus = "ACTIVE"
	GxInactive        GxStatus = "INACTIVE"
)

// terminalSuccessGxStatuses are the statuses the lifecycle scheduler and
// file-completion checks treat as a successful outcome for the owning File.
var terminalSuccessGxStatuses = map[GxStatus]bool{
	GxComplete: true,
	GxSkipped:  true,
}

// IsTerminalSuccess reports whether this Gx status represents a completed,
// successfully delivered artifact.
func (s GxStatus) IsTerminalSuccess() bool { return terminalSuccessGxStatuses[s] }

// IsError reports whether this Gx status represents a failed artifact,
// which makes the owning File count as failed per spec.md §4.11.
func (s GxStatus) IsError() bool { return s == GxError }

var terminableGxStatuses = map[GxStatus]bool{
	GxQueuedForUpload: true,
}

// Terminable reports whether the Gx can still be admin-terminated.
func (s GxStatus) Terminable() bool { return terminableGxStatuses[s] }

// NilProcessID is the sentinel gxProcessId assigned when a Gx is SKIPPED
// and therefore never submitted to GX.
const NilProcessID = "00000000-0000-0000-0000-000000000000"

// GxMaster is the final-artifact record forwarded to the downstream GX
// ingestion service. Multiple GxMaster rows may reference the same
// sourceFileId (e.g. one row per page range of a split PDF).
type GxMaster struct {
	ID               string
	SourceFileID     string
	GxBucketID       string
	FileLocation     string
	ProcessedFileName string
	FileSize         int64
	Extension        string
	GxStatus         GxStatus
	GxProcessID      string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
