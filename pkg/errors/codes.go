package errors

// Error codes for categorizing errors.
// These map to HTTP status codes at the gateway boundary.
const (
	// CodeOK indicates success (not an error).
	CodeOK = "OK"

	// CodeInternal indicates internal errors.
	CodeInternal = "INTERNAL"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound = "NOT_FOUND"

	// CodeAlreadyExists indicates attempting to create a resource that already exists.
	CodeAlreadyExists = "ALREADY_EXISTS"

	// CodeInvalidArgument indicates the caller specified an invalid argument.
	CodeInvalidArgument = "INVALID_ARGUMENT"

	// CodeFailedPrecondition indicates the operation was rejected because the system
	// is not in a required state (e.g. emitting on a closed stream).
	CodeFailedPrecondition = "FAILED_PRECONDITION"

	// CodeUnavailable indicates the service is currently unavailable.
	CodeUnavailable = "UNAVAILABLE"

	// CodeDeadlineExceeded indicates operation deadline was exceeded.
	CodeDeadlineExceeded = "DEADLINE_EXCEEDED"

	// CodeDataLoss indicates unrecoverable data loss or corruption.
	CodeDataLoss = "DATA_LOSS"

	// Domain-specific error codes

	// CodeConfigError indicates a configuration error.
	CodeConfigError = "CONFIG_ERROR"

	// CodeProvisioningError indicates a broker topic or subscription could not be provisioned.
	CodeProvisioningError = "PROVISIONING_ERROR"

	// CodeSerializationError indicates serialization/deserialization failed.
	CodeSerializationError = "SERIALIZATION_ERROR"

	// CodeBrokerError indicates a broker round trip failed.
	CodeBrokerError = "BROKER_ERROR"

	// CodeStorageError indicates a blob storage operation failed.
	CodeStorageError = "STORAGE_ERROR"

	// CodeCacheError indicates a cache operation failed.
	CodeCacheError = "CACHE_ERROR"
)

// ErrorCategory represents a high-level error category.
type ErrorCategory string

const (
	// CategoryClient indicates a client-side error (4xx).
	CategoryClient ErrorCategory = "CLIENT_ERROR"

	// CategoryServer indicates a server-side error (5xx).
	CategoryServer ErrorCategory = "SERVER_ERROR"

	// CategoryTransient indicates an error that is expected to clear on retry.
	CategoryTransient ErrorCategory = "TRANSIENT_ERROR"
)

// GetCategory returns the category for an error code.
func GetCategory(code string) ErrorCategory {
	switch code {
	case CodeInvalidArgument, CodeNotFound, CodeAlreadyExists,
		CodeFailedPrecondition, CodeSerializationError:
		return CategoryClient

	case CodeUnavailable, CodeDeadlineExceeded, CodeProvisioningError,
		CodeBrokerError:
		return CategoryTransient

	default:
		return CategoryServer
	}
}

// IsRetryable returns true if an error with the given code should be retried.
func IsRetryable(code string) bool {
	switch code {
	case CodeUnavailable, CodeDeadlineExceeded,
		CodeProvisioningError, CodeBrokerError,
		CodeStorageError, CodeCacheError:
		return true
	default:
		return false
	}
}

// IsClientError returns true if the error is a client error (4xx).
func IsClientError(code string) bool {
	return GetCategory(code) == CategoryClient
}
