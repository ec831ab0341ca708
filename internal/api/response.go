package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kraklabs/docingest/internal/pkg/apierr"
	"github.com/kraklabs/docingest/internal/pkg/logger"
	"github.com/kraklabs/docingest/internal/repository"
)

// envelope is the uniform response shape every endpoint returns, per
// spec.md §6: success carries response, failure carries displayMessage.
type envelope struct {
	Success        bool        `json:"success"`
	DisplayMessage string      `json:"displayMessage,omitempty"`
	Response       interface{} `json:"response,omitempty"`
	StatusCode     int         `json:"statusCode"`
	Timestamp      time.Time   `json:"timestamp"`
}

func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeEnvelope(w, envelope{Success: true, Response: data, StatusCode: status, Timestamp: time.Now()})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, envelope{Success: false, DisplayMessage: message, StatusCode: status, Timestamp: time.Now()})
}

func writeEnvelope(w http.ResponseWriter, e envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	if err := json.NewEncoder(w).Encode(e); err != nil {
		logger.Error("failed to encode response envelope", "error", err.Error())
	}
}

// writeError maps err to an HTTP status per spec.md §7's taxonomy and
// writes the failure envelope. Validation, terminal, conflict and
// duplicate errors surface their remark directly (400 or 409); a missing
// entity gets 404, downstream failures get 502 and everything else gets
// a generic 500 message to avoid leaking internals.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}

	classified, ok := apierr.As(err)
	if !ok {
		logger.Error("unclassified error reached api boundary", "error", err.Error())
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch classified.Kind {
	case apierr.KindValidation, apierr.KindTerminalZip, apierr.KindTerminalFile:
		writeFailure(w, http.StatusBadRequest, classified.Remark)
	case apierr.KindConflict, apierr.KindDuplicate:
		writeFailure(w, http.StatusConflict, classified.Remark)
	case apierr.KindDownstream:
		writeFailure(w, http.StatusBadGateway, "downstream service error")
	default: // KindTransient and anything else unclassified within apierr
		logger.Error("transient error reached api boundary", "error", err.Error())
		writeFailure(w, http.StatusInternalServerError, "internal error")
	}
}
