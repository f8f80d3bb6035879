package shared

import "errors"

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// IsCode reports whether err is, or wraps, a DomainError with the given
// code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Code == code
}

// Domain error codes
const (
	CodeNotFound               = "NOT_FOUND"
	CodeInvalidInput           = "INVALID_INPUT"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodePeriodClosed           = "PERIOD_CLOSED"
	CodeUpstreamAuth           = "UPSTREAM_AUTH"
	CodeUpstreamQuery          = "UPSTREAM_QUERY"
	CodeUpstreamDataIncomplete = "UPSTREAM_DATA_INCOMPLETE"
)

// Common domain errors
var (
	ErrNotFound               = NewDomainError(CodeNotFound, "Resource not found")
	ErrInvalidInput           = NewDomainError(CodeInvalidInput, "Invalid input provided")
	ErrUnauthorized           = NewDomainError(CodeUnauthorized, "Unauthorized")
	ErrPeriodClosed           = NewDomainError(CodePeriodClosed, "Form enrollment period is closed")
	ErrUpstreamAuth           = NewDomainError(CodeUpstreamAuth, "Upstream authentication failed")
	ErrUpstreamQuery          = NewDomainError(CodeUpstreamQuery, "Upstream query failed")
	ErrUpstreamDataIncomplete = NewDomainError(CodeUpstreamDataIncomplete, "Expected upstream record was not found")
)
