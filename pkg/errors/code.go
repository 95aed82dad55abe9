package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Admission errors
// 12000-12999: Bundle ingestion errors
// 13000-13999: Archive extraction errors
// 14000-14999: Build execution errors
// 15000-15999: Postcondition errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Admission Errors (11000-11999) ==========

	QueueFull        ErrorCode = 11000
	RequestCancelled ErrorCode = 11001

	// ========== Bundle Ingestion Errors (12000-12999) ==========

	BundleMissing         ErrorCode = 12000
	BundleTooLarge        ErrorCode = 12001
	BundleDownloadFailed  ErrorCode = 12002
	UnsupportedBundleType ErrorCode = 12003
	BundleURLInvalid      ErrorCode = 12004

	// ========== Archive Extraction Errors (13000-13999) ==========

	ArchiveMalformed  ErrorCode = 13000
	ArchivePathEscape ErrorCode = 13001
	ExtractTooLarge   ErrorCode = 13002

	// ========== Build Execution Errors (14000-14999) ==========

	BuildFailed       ErrorCode = 14000
	BuildTimeout      ErrorCode = 14001
	BuildLaunchFailed ErrorCode = 14002

	// ========== Postcondition Errors (15000-15999) ==========

	ArtifactNotFound ErrorCode = 15000
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Admission
	QueueFull:        "Build queue is full, please try again later",
	RequestCancelled: "Request cancelled by client",

	// Bundle ingestion
	BundleMissing:         "Bundle file is missing from the request",
	BundleTooLarge:        "Bundle exceeds the allowed size",
	BundleDownloadFailed:  "Failed to download bundle",
	UnsupportedBundleType: "Unsupported content type for build request",
	BundleURLInvalid:      "Bundle URL is invalid",

	// Archive extraction
	ArchiveMalformed:  "Bundle archive is malformed",
	ArchivePathEscape: "Bundle archive entry escapes the extraction root",
	ExtractTooLarge:   "Extracted bundle exceeds the allowed size",

	// Build execution
	BuildFailed:       "Build failed",
	BuildTimeout:      "Build exceeded the time limit",
	BuildLaunchFailed: "Failed to launch build toolchain",

	// Postcondition
	ArtifactNotFound: "Build succeeded but produced no artifact",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound:
		return 404
	case c == TooManyRequests, c == QueueFull:
		return 429
	case c == RequestCancelled:
		// nginx convention for client-closed-request; never reaches a
		// live client but keeps logs and tests honest.
		return 499
	case c == BundleTooLarge, c == ExtractTooLarge:
		return 413
	case c == UnsupportedBundleType:
		return 415
	case c == Timeout, c == BuildTimeout:
		return 504
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	case c == BundleMissing, c == BundleDownloadFailed, c == BundleURLInvalid:
		return 400
	case c == ArchiveMalformed, c == ArchivePathEscape:
		return 400
	default:
		return 500
	}
}
