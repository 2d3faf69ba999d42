package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrNoSource          = errors.New("session has no source image")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidScale      = errors.New("scale must be greater than zero")
	ErrInvalidColor      = errors.New("invalid background color")
)

// FailureKind categorizes a session failure per the error taxonomy.
type FailureKind string

const (
	FailureUpload     FailureKind = "upload"
	FailureProcessing FailureKind = "processing"
	FailureDecode     FailureKind = "decode"
	FailureCapability FailureKind = "capability"
	FailureExport     FailureKind = "export"
)

// Failure is a typed, user-presentable error. Retryable failures carry enough
// context for the caller to re-invoke the exact operation that failed.
type Failure struct {
	Kind      FailureKind
	Message   string
	Retryable bool
	Cause     error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// UploadFailure reports an invalid upload (bad format or size). Resolved by
// the user selecting a different file; never touches the session generation.
func UploadFailure(message string) *Failure {
	return &Failure{Kind: FailureUpload, Message: message}
}

// ProcessingFailure reports an exhausted removal attempt budget.
func ProcessingFailure(message string, cause error) *Failure {
	return &Failure{Kind: FailureProcessing, Message: message, Retryable: true, Cause: cause}
}

// DecodeFailure reports a failed image decode of a current-generation result.
func DecodeFailure(cause error) *Failure {
	return &Failure{Kind: FailureDecode, Message: "could not decode image", Cause: cause}
}

// CapabilityFailure reports a missing platform feature. Blocks the processing
// path only; browsing and upload stay available.
func CapabilityFailure(message string) *Failure {
	return &Failure{Kind: FailureCapability, Message: message}
}

// ExportFailure reports a failed export. Not retryable; the caller must
// re-initiate the export.
func ExportFailure(cause error) *Failure {
	return &Failure{Kind: FailureExport, Message: "export failed", Cause: cause}
}

// AsFailure converts any error into a *Failure, wrapping unknown errors as
// non-retryable processing failures.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: FailureProcessing, Message: err.Error(), Cause: err}
}
