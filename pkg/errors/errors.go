package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Common sentinel errors for quick checks
var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a resource already exists.
	ErrConflict = errors.New("resource already exists")

	// ErrInvalidInput is returned when request input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable is returned when a required service is unavailable.
	ErrUnavailable = errors.New("service unavailable")
)

// Error is the base interface for all custom errors in the system.
type Error interface {
	error
	// Code returns the error code
	Code() string
	// Message returns the human-readable error message
	Message() string
	// Unwrap returns the underlying cause
	Unwrap() error
}

// BaseError provides a foundation for all typed errors.
type BaseError struct {
	code    string
	message string
	cause   error
	stack   []uintptr
}

// Error implements the error interface.
func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *BaseError) Code() string {
	return e.code
}

// Message returns the error message.
func (e *BaseError) Message() string {
	return e.message
}

// Unwrap returns the underlying cause.
func (e *BaseError) Unwrap() error {
	return e.cause
}

// Stack returns the captured stack trace.
func (e *BaseError) Stack() []uintptr {
	return e.stack
}

func captureStack(skip int) []uintptr {
	const maxDepth = 32
	stack := make([]uintptr, maxDepth)
	n := runtime.Callers(skip+2, stack)
	return stack[:n]
}

// StackTrace returns a formatted stack trace string.
func (e *BaseError) StackTrace() string {
	if len(e.stack) == 0 {
		return ""
	}

	var buf strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			fmt.Fprintf(&buf, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return buf.String()
}

// ConfigError is returned when required process configuration is missing or invalid.
// It is the only stream failure that is rejected back to Subscribe/Emit callers.
type ConfigError struct {
	*BaseError
	Key string
}

// NewConfigError creates a new configuration error for the given key.
func NewConfigError(key, message string) *ConfigError {
	return &ConfigError{
		BaseError: &BaseError{
			code:    CodeConfigError,
			message: message,
			stack:   captureStack(1),
		},
		Key: key,
	}
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error: %s: %s", e.Key, e.message)
	}
	return fmt.Sprintf("config error: %s", e.message)
}

// ProvisioningError reports that a topic or subscription could not be ensured
// after all attempts were spent.
type ProvisioningError struct {
	*BaseError
	Kind     string // "topic" or "subscription"
	Name     string
	Attempts int
}

// NewProvisioningError creates a new provisioning error.
func NewProvisioningError(kind, name string, attempts int, cause error) *ProvisioningError {
	return &ProvisioningError{
		BaseError: &BaseError{
			code:    CodeProvisioningError,
			message: fmt.Sprintf("failed to provision %s %q after %d attempts", kind, name, attempts),
			cause:   cause,
			stack:   captureStack(1),
		},
		Kind:     kind,
		Name:     name,
		Attempts: attempts,
	}
}

// DecodeError is returned when a broker payload cannot be turned back into an envelope.
type DecodeError struct {
	*BaseError
	Payload []byte
}

// NewDecodeError creates a new decode error. Only a prefix of the payload is retained.
func NewDecodeError(payload []byte, cause error) *DecodeError {
	const keep = 256
	if len(payload) > keep {
		payload = payload[:keep]
	}
	return &DecodeError{
		BaseError: &BaseError{
			code:    CodeSerializationError,
			message: "failed to decode envelope",
			cause:   cause,
			stack:   captureStack(1),
		},
		Payload: append([]byte(nil), payload...),
	}
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	*BaseError
	Resource string
	ID       string
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{
		BaseError: &BaseError{
			code:    CodeNotFound,
			message: fmt.Sprintf("%s not found", resource),
			stack:   captureStack(1),
		},
		Resource: resource,
		ID:       id,
	}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// ConflictError represents a resource conflict error.
type ConflictError struct {
	*BaseError
	Resource string
	Name     string
}

// NewConflictError creates a new conflict error.
func NewConflictError(resource, name string) *ConflictError {
	message := fmt.Sprintf("%s already exists", resource)
	if name != "" {
		message = fmt.Sprintf("%s '%s' already exists", resource, name)
	}
	return &ConflictError{
		BaseError: &BaseError{
			code:    CodeAlreadyExists,
			message: message,
			stack:   captureStack(1),
		},
		Resource: resource,
		Name:     name,
	}
}

// DataLossError is returned when stored bytes no longer match their recorded checksum.
type DataLossError struct {
	*BaseError
	Key string
}

// NewDataLossError creates a new data loss error.
func NewDataLossError(key, message string) *DataLossError {
	if message == "" {
		message = "stored data is corrupt"
	}
	return &DataLossError{
		BaseError: &BaseError{
			code:    CodeDataLoss,
			message: message,
			stack:   captureStack(1),
		},
		Key: key,
	}
}

// Error implements the error interface.
func (e *DataLossError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.message)
}

// ServiceError represents a downstream service error (broker, object store, cache).
type ServiceError struct {
	*BaseError
	Service string
}

// NewServiceError creates a new service error with the given code.
func NewServiceError(service, code, message string, cause error) *ServiceError {
	if message == "" {
		message = fmt.Sprintf("%s service error", service)
	}
	return &ServiceError{
		BaseError: &BaseError{
			code:    code,
			message: message,
			cause:   cause,
			stack:   captureStack(1),
		},
		Service: service,
	}
}

// InternalError represents an internal error.
type InternalError struct {
	*BaseError
	Operation string
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, cause error) *InternalError {
	if message == "" {
		message = "internal error"
	}
	return &InternalError{
		BaseError: &BaseError{
			code:    CodeInternal,
			message: message,
			cause:   cause,
			stack:   captureStack(1),
		},
	}
}

// WithOperation sets the operation context.
func (e *InternalError) WithOperation(op string) *InternalError {
	e.Operation = op
	return e
}

// Wrap wraps an error with additional context.
// If the error is already one of our custom types, the code is preserved.
// Otherwise, it creates an InternalError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	var e Error
	if errors.As(err, &e) {
		return &BaseError{
			code:    e.Code(),
			message: message,
			cause:   err,
			stack:   captureStack(1),
		}
	}

	return &InternalError{
		BaseError: &BaseError{
			code:    CodeInternal,
			message: message,
			cause:   err,
			stack:   captureStack(1),
		},
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// New creates a new error with a message.
func New(message string) error {
	return &BaseError{
		code:    CodeInternal,
		message: message,
		stack:   captureStack(1),
	}
}

// NewWithCode creates a new error carrying the given code.
func NewWithCode(code, message string) error {
	return &BaseError{
		code:    code,
		message: message,
		stack:   captureStack(1),
	}
}
