package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/zavora-ai/imagegen/core/infra/logging"
)

// Error codes carried in the response envelope.
const (
	codeRateLimited   = "RATE_LIMIT_EXCEEDED"
	codeNotFound      = "IMAGE_NOT_FOUND"
	codeMissingImage  = "MISSING_IMAGE"
	codeInvalidParam  = "INVALID_PARAMETER"
	codeUploadFailed  = "UPLOAD_ERROR"
	codeListFailed    = "LIST_FAILED"
	codeCleanupFailed = "CLEANUP_FAILED"
	codeGetFailed     = "GET_METADATA_FAILED"
	codeDeleteFailed  = "DELETE_FAILED"
	codeInitFailed    = "INIT_FAILED"
	codeUnavailable   = "UNAVAILABLE"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error(logComponent, "encode response failed", "error", err)
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	e := &apiError{Code: code, Message: message}
	if err != nil {
		e.Details = err.Error()
	}
	writeJSON(w, status, envelope{Success: false, Error: e})
}
