package dto

import (
	"net/http"

	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/shared"
)

// Error codes surfaced by the API. The domain codes pass through unchanged
// so clients see a stable taxonomy.
const (
	ErrCodeInternal = "INTERNAL_ERROR"

	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeInvalidInput = shared.CodeInvalidInput
	ErrCodeNotFound     = shared.CodeNotFound
	ErrCodeUnauthorized = shared.CodeUnauthorized
	ErrCodePeriodClosed = shared.CodePeriodClosed

	ErrCodeUpstreamAuth           = shared.CodeUpstreamAuth
	ErrCodeUpstreamQuery          = shared.CodeUpstreamQuery
	ErrCodeUpstreamDataIncomplete = shared.CodeUpstreamDataIncomplete
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodePeriodClosed: http.StatusBadRequest,
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeUnauthorized: http.StatusUnauthorized,

	ErrCodeUpstreamAuth:           http.StatusBadGateway,
	ErrCodeUpstreamQuery:          http.StatusBadGateway,
	ErrCodeUpstreamDataIncomplete: http.StatusBadGateway,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
