package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13999: Compile & Sandbox errors
const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	Timeout             ErrorCode = 10008

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300

	// ========== Compile & Sandbox Errors (13000-13999) ==========

	// Language registry (13000-13099)
	LanguageNotSupported ErrorCode = 13003

	// Compile (13100-13199)
	CompilationError ErrorCode = 13102

	// Sandbox infrastructure (13300-13399)
	ResourceError     ErrorCode = 13300
	SandboxOSError    ErrorCode = 13301
	SandboxStateError ErrorCode = 13302
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	Timeout:             "Operation timeout",

	// Validation
	ValidationFailed: "Validation failed",

	// Compile & Sandbox
	LanguageNotSupported: "Programming language not supported",
	CompilationError:     "Compilation error",
	ResourceError:        "Sandbox resource control failed",
	SandboxOSError:       "Sandbox operating system call failed",
	SandboxStateError:    "Sandbox session used out of order",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Infrastructure reports whether the code means the engine could not run the
// program at all, as opposed to a caller or program-level failure.
func (c ErrorCode) Infrastructure() bool {
	switch c {
	case ResourceError, SandboxOSError, SandboxStateError, InternalServerError:
		return true
	default:
		return false
	}
}
