package toolerrors

// Kind classifies a tool failure for policy and retry decisions.
type Kind string

const (
	KindToolNotFound         Kind = "TOOL_NOT_FOUND"
	KindInvalidExecutionType Kind = "INVALID_EXECUTION_TYPE"
	KindToolNoHandler        Kind = "TOOL_NO_HANDLER"
	KindInvalidReturnType    Kind = "INVALID_RETURN_TYPE"
	KindInvalidContentBlock  Kind = "INVALID_CONTENT_BLOCK"
	KindClientToolError      Kind = "CLIENT_TOOL_ERROR"
	KindSandboxAccess        Kind = "SANDBOX_ACCESS"
	KindNetworkError         Kind = "NETWORK_ERROR"
	KindRateLimitError       Kind = "RATE_LIMIT_ERROR"
	KindGuardDenied          Kind = "GUARD_DENIED"
	KindAuthError            Kind = "AUTH_ERROR"
	KindValidationError      Kind = "VALIDATION_ERROR"
	KindTimeoutError         Kind = "TIMEOUT_ERROR"
	KindAbortError           Kind = "ABORT_ERROR"
	KindApplicationError     Kind = "APPLICATION_ERROR"
	KindUnknownError         Kind = "UNKNOWN_ERROR"
	KindRecompileUnstable    Kind = "RECOMPILE_UNSTABLE"
	KindSpawnDepthExceeded   Kind = "SPAWN_DEPTH_EXCEEDED"
)

// Recoverable reports whether an error of this kind is worth a caller
// retrying. Network, timeout, and rate-limit failures are transient; guard,
// auth, abort, and validation failures are not.
func Recoverable(k Kind) bool {
	switch k {
	case KindNetworkError, KindTimeoutError, KindRateLimitError:
		return true
	default:
		return false
	}
}

// Error is a Kind-classified tool failure. It wraps a ToolError so
// errors.Is/As chains still work across agent-as-tool hops.
type Error struct {
	Kind        Kind
	Message     string
	Recoverable bool
	Cause       *ToolError
}

// New returns a Kind-classified Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Recoverable: Recoverable(kind)}
}

// NewWithCause returns a Kind-classified Error wrapping cause.
func NewWithCause(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Recoverable: Recoverable(kind), Cause: FromError(cause)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap supports errors.Is/As against the wrapped ToolError chain.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}
