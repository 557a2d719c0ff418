// Package errors provides the error taxonomy of the host runtime and its capabilities.
// All error types support error unwrapping via errors.As() and errors.Is().
package errors

import (
	stdErrors "errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
)

// ErrorDetail is an alias to entities.ErrorDetail for convenience.
type ErrorDetail = entities.ErrorDetail

var (
	// ErrCoreNotLoaded is returned by Init and Perform before a core image was loaded.
	ErrCoreNotLoaded = stdErrors.New("core not loaded")

	// ErrRuntimeClosed is returned by every operation after the runtime was closed.
	ErrRuntimeClosed = stdErrors.New("runtime closed")
)

// DetailedError is an interface for custom error types that can convert themselves
// to a structured ErrorDetail. New error types only need to implement this interface
// without modifying ToErrorDetail.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// ToErrorDetail converts a Go error to our structured ErrorDetail.
// This function recognizes custom error types and categorizes them appropriately.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	// If the error is already a *ErrorDetail (entity), use it directly.
	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	// Bare filesystem errors from adapters that did not wrap them.
	var pathErr *fs.PathError
	if stdErrors.As(err, &pathErr) {
		return (&FileSystemError{Operation: pathErr.Op, Path: pathErr.Path, Err: pathErr.Err}).ToErrorDetail()
	}

	// Generic error - categorize as internal
	return &entities.ErrorDetail{
		Message: err.Error(),
		Type:    "internal",
	}
}

// LoadError reports a core image that could not be compiled.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load core: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// UnexpectedError reports a core trap, a protocol violation or an exception the
// core raised about itself. The message is meant for humans; the sandbox cause is
// kept in Err and only reachable through Unwrap.
type UnexpectedError struct {
	Err      error
	Message  string
	Poisoned bool // the instance was discarded and will be re-initialized
}

func (e *UnexpectedError) Error() string {
	return "unexpected error: " + e.Message
}

func (e *UnexpectedError) Unwrap() error {
	return e.Err
}

// ValidationError reports input rejected by the core's own validation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Message
}

// PerformError carries the error value a map produced for an error case defined
// by its profile.
type PerformError struct {
	ErrorResult any
}

func (e *PerformError) Error() string {
	return fmt.Sprintf("perform error: %v", e.ErrorResult)
}

// ProtocolError reports a message that violates the exchange protocol.
type ProtocolError struct {
	Err  error
	Kind string
}

func (e *ProtocolError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("protocol violation in %q message: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("protocol violation: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *ProtocolError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "protocol", Code: e.Kind}
}

// NetworkError represents a network operation failure.
type NetworkError struct {
	Err       error
	Operation string
	Target    string
}

func (e *NetworkError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("network %s failed for %s: %v", e.Operation, e.Target, e.Err)
	}
	return fmt.Sprintf("network %s failed: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *NetworkError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "network", Code: e.Operation}
}

// TimeoutError represents a timeout during an operation.
type TimeoutError struct {
	Operation string
	Target    string
	Duration  time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s timeout after %v (target: %s)", e.Operation, e.Duration, e.Target)
	}
	return fmt.Sprintf("%s timeout after %v", e.Operation, e.Duration)
}

func (e *TimeoutError) Timeout() bool {
	return true
}

// ToErrorDetail implements DetailedError.
func (e *TimeoutError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "timeout", Code: e.Operation}
}

// CapabilityError represents a capability that is missing or denied the request.
type CapabilityError struct {
	Required string // Required capability (e.g., "network", "filesystem")
	Pattern  string // Optional: specific target that was denied
}

func (e *CapabilityError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("missing capability: %s (pattern: %s)", e.Required, e.Pattern)
	}
	return fmt.Sprintf("missing capability: %s", e.Required)
}

// ToErrorDetail implements DetailedError.
func (e *CapabilityError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "capability", Code: e.Required}
}

// FileSystemError represents a failed filesystem operation.
type FileSystemError struct {
	Err       error
	Operation string
	Path      string
}

func (e *FileSystemError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("filesystem %s %s failed: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("filesystem %s failed: %v", e.Operation, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *FileSystemError) ToErrorDetail() *entities.ErrorDetail {
	detail := &entities.ErrorDetail{Message: e.Error(), Type: "filesystem", Code: "io"}
	switch {
	case stdErrors.Is(e.Err, fs.ErrNotExist):
		detail.Code = "not_found"
	case stdErrors.Is(e.Err, fs.ErrPermission):
		detail.Code = "permission_denied"
	case stdErrors.Is(e.Err, fs.ErrExist):
		detail.Code = "already_exists"
	case stdErrors.Is(e.Err, fs.ErrInvalid):
		detail.Code = "invalid_input"
	}
	return detail
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Err   error
	Field string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config validation failed for field '%s': %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *ConfigError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "config", Code: e.Field}
}
