package domain

import "time"

// JobStatus enumerates the lifecycle states of a ProcessingJob.
type JobStatus string

const (
	JobPendingUpload  JobStatus = "PENDING_UPLOAD"
	JobUploadComplete JobStatus = "UPLOAD_COMPLETE"
	JobQueued         JobStatus = "QUEUED"
	JobProcessing     JobStatus = "PROCESSING"
	JobCompleted      JobStatus = "COMPLETED"
	JobPartialSuccess JobStatus = "PARTIAL_SUCCESS"
	JobFailed         JobStatus = "FAILED"
	JobTerminated     JobStatus = "TERMINATED"
)

// terminalJobStatuses is the set of statuses a Job never transitions out of.
var terminalJobStatuses = map[JobStatus]bool{
	JobCompleted:      true,
	JobPartialSuccess: true,
	JobFailed:         true,
	JobTerminated:     true,
}

// IsTerminal reports whether status is one of the terminal Job states.
func (s JobStatus) IsTerminal() bool { return terminalJobStatuses[s] }

// terminableJobStatuses is the set of statuses from which admin termination
// is permitted (see lifecycle.TerminateJob).
var terminableJobStatuses = map[JobStatus]bool{
	JobPendingUpload:  true,
	JobUploadComplete: true,
	JobQueued:         true,
	JobProcessing:     true,
}

// Terminable reports whether the Job can still be admin-terminated.
func (s JobStatus) Terminable() bool { return terminableJobStatuses[s] }

// ProcessingJob is the root entity of one upload (single file or bulk ZIP).
type ProcessingJob struct {
	ID               string
	OriginalFilename string
	FileLocation     string // object key
	Status           JobStatus
	CurrentStage     string
	ErrorMessage     string
	Remark           string
	GxBucketID       *string // nil ⇒ bulk job
	SkipGxProcess    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsBulk reports whether the job's bucket is determined per-file rather
// than fixed at the job level.
func (j *ProcessingJob) IsBulk() bool { return j.GxBucketID == nil }

// CanTriggerProcessing reports whether TriggerProcessing may run against
// this job's current status (spec.md §4.9).
func (j *ProcessingJob) CanTriggerProcessing() bool {
	return j.Status == JobPendingUpload || j.Status == JobUploadComplete
}
