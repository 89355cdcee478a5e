package errors

import "fmt"

// ErrorCode represents an inksync error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"    // 401
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrRateLimited    ErrorCode = "RATE_LIMITED"    // 429
	ErrListingFailed  ErrorCode = "LISTING_FAILED"  // 502, pass-fatal
	ErrDownloadFailed ErrorCode = "DOWNLOAD_FAILED" // 502, per-file
	ErrAnalysisFailed ErrorCode = "ANALYSIS_FAILED" // 502, per-file
	ErrNoteWrite      ErrorCode = "NOTE_WRITE"      // 500, per-file
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// SyncError represents a structured error with code, status, and details.
type SyncError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Wrapped error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As chains.
func (e *SyncError) Unwrap() error {
	return e.Wrapped
}

// NewInvalidRequest creates a 400 error for invalid parameters.
func NewInvalidRequest(msg string) *SyncError {
	return &SyncError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewUnauthorized creates a 401 error for rejected credentials.
func NewUnauthorized(service string, err error) *SyncError {
	return &SyncError{
		Code:    ErrUnauthorized,
		Status:  401,
		Message: fmt.Sprintf("%s rejected credentials", service),
		Details: map[string]any{"service": service},
		Wrapped: err,
	}
}

// NewNotFound creates a 404 error for a missing resource.
func NewNotFound(identifier string) *SyncError {
	return &SyncError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewRateLimited creates a 429 error for an exhausted service rate limit.
func NewRateLimited(service string, err error) *SyncError {
	return &SyncError{
		Code:    ErrRateLimited,
		Status:  429,
		Message: fmt.Sprintf("%s rate limit exceeded", service),
		Details: map[string]any{"service": service},
		Wrapped: err,
	}
}

// NewListingFailed creates a pass-fatal error for a failed remote listing.
func NewListingFailed(folder string, err error) *SyncError {
	return &SyncError{
		Code:    ErrListingFailed,
		Status:  502,
		Message: fmt.Sprintf("listing remote folder %q failed: %v", folder, err),
		Details: map[string]any{"folder": folder},
		Wrapped: err,
	}
}

// NewDownloadFailed creates a per-file error for a failed download.
func NewDownloadFailed(fileID string, err error) *SyncError {
	return &SyncError{
		Code:    ErrDownloadFailed,
		Status:  502,
		Message: fmt.Sprintf("download of %s failed: %v", fileID, err),
		Details: map[string]any{"file_id": fileID},
		Wrapped: err,
	}
}

// NewAnalysisFailed creates a per-file error for a failed analysis call.
func NewAnalysisFailed(fileID string, err error) *SyncError {
	return &SyncError{
		Code:    ErrAnalysisFailed,
		Status:  502,
		Message: fmt.Sprintf("analysis of %s failed: %v", fileID, err),
		Details: map[string]any{"file_id": fileID},
		Wrapped: err,
	}
}

// NewNoteWrite creates a per-file error for a failed note write.
func NewNoteWrite(fileID string, err error) *SyncError {
	return &SyncError{
		Code:    ErrNoteWrite,
		Status:  500,
		Message: fmt.Sprintf("writing note for %s failed: %v", fileID, err),
		Details: map[string]any{"file_id": fileID},
		Wrapped: err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *SyncError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &SyncError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Wrapped: err,
	}
}

// Is checks if an error is a SyncError with the given code.
func Is(err error, code ErrorCode) bool {
	if sErr, ok := err.(*SyncError); ok {
		return sErr.Code == code
	}
	return false
}
