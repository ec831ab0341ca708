// Package api implements the HTTP boundary (§6): request parsing and the
// uniform response envelope around the jobs/lifecycle/gxpoller/views
// service layer. No business logic lives here — every handler validates
// its own request shape and otherwise just calls through.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kraklabs/docingest/internal/domain"
	"github.com/kraklabs/docingest/internal/gxpoller"
	"github.com/kraklabs/docingest/internal/jobs"
	"github.com/kraklabs/docingest/internal/lifecycle"
	"github.com/kraklabs/docingest/internal/pkg/apierr"
	"github.com/kraklabs/docingest/internal/storage"
	"github.com/kraklabs/docingest/internal/views"
)

// Handlers groups every service the HTTP boundary calls through to.
type Handlers struct {
	Jobs      *jobs.Service
	Lifecycle *lifecycle.Service
	Retrier   *gxpoller.Retrier
	Views     *views.Service
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return apierr.Validation("request body is required", nil)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.Validation("malformed request body", err)
	}
	return nil
}

// --- uploads ---

func (h *Handlers) CreateDirectUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fileName := q.Get("fileName")
	if fileName == "" {
		writeFailure(w, http.StatusBadRequest, "fileName is required")
		return
	}
	skipGx, _ := strconv.ParseBool(q.Get("skipGxProcess"))

	created, err := h.Jobs.CreateJobAndPresignedURL(r.Context(), fileName, q.Get("gxBucketId"), skipGx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"jobId": created.JobID, "uploadUrl": created.UploadURL})
}

func (h *Handlers) CreateMultipartUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fileName := q.Get("fileName")
	if fileName == "" {
		writeFailure(w, http.StatusBadRequest, "fileName is required")
		return
	}
	skipGx, _ := strconv.ParseBool(q.Get("skipGxProcess"))

	created, err := h.Jobs.CreateJobAndInitiateMultipartUpload(r.Context(), fileName, q.Get("gxBucketId"), skipGx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"jobId": created.JobID, "uploadId": created.UploadID})
}

func (h *Handlers) PresignPart(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	partNumber, err := strconv.ParseInt(chi.URLParam(r, "partNumber"), 10, 32)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "partNumber must be an integer")
		return
	}
	uploadID := r.URL.Query().Get("uploadId")

	url, err := h.Jobs.PresignPart(r.Context(), jobID, int32(partNumber), uploadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"presignedUrl": url})
}

type completeMultipartRequest struct {
	UploadID string `json:"uploadId"`
	Parts    []struct {
		PartNumber int32  `json:"partNumber"`
		ETag       string `json:"eTag"`
	} `json:"parts"`
}

func (h *Handlers) CompleteMultipartUpload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	var req completeMultipartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	parts := make([]storage.Part, len(req.Parts))
	for i, p := range req.Parts {
		parts[i] = storage.Part{PartNumber: p.PartNumber, ETag: p.ETag}
	}

	if err := h.Jobs.CompleteMultipartUpload(r.Context(), jobID, req.UploadID, parts); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

// --- jobs ---

func (h *Handlers) TriggerProcessing(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if err := h.Jobs.TriggerProcessing(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusAccepted, nil)
}

type retryRequest struct {
	FileMasterID string `json:"fileMasterId"`
	GxMasterID   string `json:"gxMasterId"`
}

func (h *Handlers) Retry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	switch {
	case req.FileMasterID != "" && req.GxMasterID != "":
		writeFailure(w, http.StatusBadRequest, "exactly one of fileMasterId or gxMasterId is required")
	case req.FileMasterID != "":
		if err := h.Retrier.RetryFile(r.Context(), req.FileMasterID); err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusAccepted, nil)
	case req.GxMasterID != "":
		if err := h.Retrier.RetryGx(r.Context(), req.GxMasterID); err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusAccepted, nil)
	default:
		writeFailure(w, http.StatusBadRequest, "one of fileMasterId or gxMasterId is required")
	}
}

func (h *Handlers) TerminateJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if err := h.Lifecycle.TerminateJob(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusAccepted, nil)
}

func (h *Handlers) TerminateAllActiveJobs(w http.ResponseWriter, r *http.Request) {
	n, err := h.Lifecycle.TerminateAllActiveJobs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message":        "all active jobs terminated",
		"jobsTerminated": n,
	})
}

// --- views ---

type listViewRequest struct {
	Statuses []domain.GxStatus `json:"statuses"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

func (h *Handlers) ListView(w http.ResponseWriter, r *http.Request) {
	bucketID := chi.URLParam(r, "gxBucketId")
	var req listViewRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	page, err := h.Views.List(r.Context(), bucketID, views.ListFilter{
		Statuses: req.Statuses,
		Limit:    req.Limit,
		Offset:   req.Offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"items": page.Items,
		"total": page.Total,
	})
}

type metricsRequest struct {
	GxBucketIDs []string `json:"gxBucketIds"`
}

func (h *Handlers) ViewMetrics(w http.ResponseWriter, r *http.Request) {
	var req metricsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.Views.Metrics(r.Context(), req.GxBucketIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// --- downloads ---

type presignedDownloadRequest struct {
	FileMasterID string `json:"fileMasterId"`
	GxMasterID   string `json:"gxMasterId"`
}

func (h *Handlers) PresignedDownloadURL(w http.ResponseWriter, r *http.Request) {
	var req presignedDownloadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	url, err := h.Views.PresignedDownload(r.Context(), req.FileMasterID, req.GxMasterID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"downloadUrl": url})
}

// HealthCheck reports liveness with no dependency checks, mirroring the
// teacher's /health route.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}
