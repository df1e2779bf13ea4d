package uploader

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrSessionNotFound    = errors.New("upload session not found")
	ErrInvalidChunkIndex  = errors.New("invalid chunk index")
	ErrInvalidChunkSize   = errors.New("invalid chunk size")
	ErrIncompleteUpload   = errors.New("upload is incomplete")
	ErrSizeMismatch       = errors.New("assembled file size mismatch")
	ErrChunkTooLarge      = errors.New("chunk exceeds maximum allowed size")
	ErrInvalidDestination = errors.New("invalid destination directory")
	ErrStorage            = errors.New("storage error")
)

// IncompleteUploadError lists the chunk indices still missing.
type IncompleteUploadError struct {
	Missing []int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("%s: %d chunks missing", ErrIncompleteUpload, len(e.Missing))
}

func (e *IncompleteUploadError) Unwrap() error {
	return ErrIncompleteUpload
}

// SizeMismatchError reports the declared and the assembled byte length.
type SizeMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%s: expected %d bytes, got %d", ErrSizeMismatch, e.Expected, e.Actual)
}

func (e *SizeMismatchError) Unwrap() error {
	return ErrSizeMismatch
}

// APIError represents a standardized error response
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeInvalidChunkIndex  = "INVALID_CHUNK_INDEX"
	ErrCodeInvalidChunkSize   = "INVALID_CHUNK_SIZE"
	ErrCodeInvalidDestination = "INVALID_DESTINATION"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeIncompleteUpload   = "INCOMPLETE_UPLOAD"
	ErrCodeSizeMismatch       = "SIZE_MISMATCH"
	ErrCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// ToAPIError maps a service error onto its wire representation and status.
func ToAPIError(err error) (*APIError, int) {
	var incomplete *IncompleteUploadError
	var mismatch *SizeMismatchError

	switch {
	case errors.As(err, &incomplete):
		return &APIError{
			Code:    ErrCodeIncompleteUpload,
			Message: "Upload is missing chunks",
			Details: incomplete.Missing,
		}, http.StatusConflict
	case errors.As(err, &mismatch):
		return &APIError{
			Code:    ErrCodeSizeMismatch,
			Message: "Assembled file size does not match the declared size",
			Details: map[string]int64{"expected": mismatch.Expected, "actual": mismatch.Actual},
		}, http.StatusUnprocessableEntity
	case errors.Is(err, ErrSessionNotFound):
		return &APIError{
			Code:    ErrCodeNotFound,
			Message: "Upload session not found or expired",
		}, http.StatusNotFound
	case errors.Is(err, ErrChunkTooLarge):
		return &APIError{
			Code:    ErrCodePayloadTooLarge,
			Message: "Chunk exceeds maximum allowed size",
		}, http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidChunkIndex):
		return &APIError{
			Code:    ErrCodeInvalidChunkIndex,
			Message: firstLine(err.Error()),
		}, http.StatusBadRequest
	case errors.Is(err, ErrInvalidChunkSize):
		return &APIError{
			Code:    ErrCodeInvalidChunkSize,
			Message: firstLine(err.Error()),
		}, http.StatusBadRequest
	case errors.Is(err, ErrInvalidDestination):
		return &APIError{
			Code:    ErrCodeInvalidDestination,
			Message: firstLine(err.Error()),
		}, http.StatusBadRequest
	case errors.Is(err, ErrValidation):
		return &APIError{
			Code:    ErrCodeInvalidInput,
			Message: firstLine(err.Error()),
		}, http.StatusBadRequest
	default:
		log.Error().
			Err(err).
			Msg("internal error occurred")
		return &APIError{
			Code:    ErrCodeInternalError,
			Message: "An internal error occurred",
		}, http.StatusInternalServerError
	}
}

// HandleError sends a standardized error response
func HandleError(w http.ResponseWriter, err *APIError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(err); err != nil {
		log.Error().
			Err(err).
			Interface("api_error", err).
			Msg("failed to encode error response")
	}
}

// WriteError maps err and writes it to w
func WriteError(w http.ResponseWriter, err error) {
	apiErr, status := ToAPIError(err)
	HandleError(w, apiErr, status)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func invalidIndexError(index, total int) error {
	return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidChunkIndex, index, total)
}
