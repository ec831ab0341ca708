package domain

import "time"

// ZipStatus enumerates the lifecycle states of a ZipMaster.
type ZipStatus string

const (
	ZipQueuedForExtraction   ZipStatus = "QUEUED_FOR_EXTRACTION"
	ZipExtractionInProgress  ZipStatus = "EXTRACTION_IN_PROGRESS"
	ZipExtractionSuccess     ZipStatus = "EXTRACTION_SUCCESS"
	ZipExtractionFailed      ZipStatus = "EXTRACTION_FAILED"
	ZipTerminated            ZipStatus = "TERMINATED"
)

var terminalZipStatuses = map[ZipStatus]bool{
	ZipExtractionFailed: true,
	ZipTerminated:       true,
}

// IsTerminal reports whether status is one of the terminal Zip states.
func (s ZipStatus) IsTerminal() bool { return terminalZipStatuses[s] }

// zipForwardOrder is the only order in which a ZipMaster may progress,
// excluding the terminal branches (EXTRACTION_FAILED, TERMINATED) which are
// reachable from any non-terminal state.
var zipForwardOrder = map[ZipStatus]int{
	ZipQueuedForExtraction:  0,
	ZipExtractionInProgress: 1,
	ZipExtractionSuccess:    2,
}

// CanAdvanceTo reports whether a transition from s to next respects the
// forward-only ordering of spec.md §3, or lands on a terminal state.
func (s ZipStatus) CanAdvanceTo(next ZipStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == ZipExtractionFailed || next == ZipTerminated {
		return true
	}
	curOrder, curOK := zipForwardOrder[s]
	nextOrder, nextOK := zipForwardOrder[next]
	return curOK && nextOK && nextOrder > curOrder
}

var terminableZipStatuses = map[ZipStatus]bool{
	ZipQueuedForExtraction:  true,
	ZipExtractionInProgress: true,
}

// Terminable reports whether the Zip can still be admin-terminated.
func (s ZipStatus) Terminable() bool { return terminableZipStatuses[s] }

// ZipMaster is the per-upload record for a ZIP-shaped job; 1:1 with its Job.
type ZipMaster struct {
	ID                  string
	ProcessingJobID     string
	GxBucketID          *string
	OriginalFilePath    string
	OriginalFileName    string
	FileSize            int64
	ZipProcessingStatus ZipStatus
	ErrorMessage        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
