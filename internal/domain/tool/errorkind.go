package tool

// ErrorKind classifies a failed tool result (or orchestrator failure) so
// callers can decide whether to retry, fall back, or give up. Every
// structured tool error carries one of these; orchestrator-level ask
// failures use the same vocabulary for `max_iterations`, `response_timeout`,
// `cancelled`, `model_error` and `tool_fatal`.
type ErrorKind string

const (
	KindInvalidArgs ErrorKind = "invalid_args"
	KindNotFound    ErrorKind = "not_found"
	KindConflict    ErrorKind = "conflict"
	KindBlocked     ErrorKind = "blocked"
	KindPermission  ErrorKind = "permission"
	KindTimeout     ErrorKind = "timeout"
	KindTransient   ErrorKind = "transient"
	KindInternal    ErrorKind = "internal"
	KindValidation  ErrorKind = "validation"
)

// retryableKinds lists the kinds a caller may retry automatically.
// timeout is retryable for model calls and exec, but tools themselves never
// retry it internally — the caller (orchestrator, streaming client) decides.
var retryableKinds = map[ErrorKind]bool{
	KindTimeout:   true,
	KindTransient: true,
}

// DefaultRetryable reports whether kind is retryable absent a more specific
// override from the call site.
func DefaultRetryable(kind ErrorKind) bool {
	return retryableKinds[kind]
}

// StructuredError is the shape every failed tool message carries: a
// classified kind, a retry hint, a human message, and an optional
// remediation hint surfaced back to the model (e.g. "try a larger offset").
type StructuredError struct {
	Code      ErrorKind `json:"code"`
	Retryable bool      `json:"retryable"`
	Message   string    `json:"message"`
	Hint      string    `json:"hint,omitempty"`
}

func (e *StructuredError) Error() string {
	if e.Hint != "" {
		return e.Message + " (" + e.Hint + ")"
	}
	return e.Message
}

// NewStructuredError builds a StructuredError, defaulting Retryable from
// the kind's class unless the caller has a better answer.
func NewStructuredError(kind ErrorKind, message string, hint string) *StructuredError {
	return &StructuredError{
		Code:      kind,
		Retryable: DefaultRetryable(kind),
		Message:   message,
		Hint:      hint,
	}
}

// ResultFromError builds a tool Result carrying a structured error in its
// Error field and JSON-ish Output so both the model and the UI degrade
// gracefully. Success is always false.
func ResultFromError(err *StructuredError) *Result {
	return &Result{
		Output:  err.Error(),
		Success: false,
		Error:   err.Error(),
		Metadata: map[string]interface{}{
			"code":      string(err.Code),
			"retryable": err.Retryable,
			"hint":      err.Hint,
		},
	}
}
