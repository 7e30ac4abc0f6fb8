package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the runtime's typed error taxonomy. Callers recover the
// kind with errors.As on *RuntimeError and compare Kind rather than
// string-matching messages.
type ErrorKind string

const (
	ErrWorldNotFound       ErrorKind = "WorldNotFound"
	ErrAgentNotFound       ErrorKind = "AgentNotFound"
	ErrChatNotFound        ErrorKind = "ChatNotFound"
	ErrWorldProcessing     ErrorKind = "WorldProcessing"
	ErrDuplicate           ErrorKind = "Duplicate"
	ErrQueueFull           ErrorKind = "QueueFull"
	ErrQueueCleared        ErrorKind = "QueueCleared"
	ErrLLMTimeout          ErrorKind = "LLMTimeout"
	ErrProviderError       ErrorKind = "ProviderError"
	ErrUnsupportedProvider ErrorKind = "UnsupportedProvider"
	ErrMCPToolError        ErrorKind = "MCPToolError"
	ErrMCPTransportError   ErrorKind = "MCPTransportError"
	ErrConfigParseError    ErrorKind = "ConfigParseError"
	ErrArchiveFailure      ErrorKind = "ArchiveFailure"
	ErrStorageUnavailable  ErrorKind = "StorageUnavailable"
)

// RuntimeError is the concrete error type every boundary in this runtime
// returns for the taxonomy above, so callers can switch on Kind instead of
// string-matching messages.
type RuntimeError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

// NewError constructs a RuntimeError of the given kind.
func NewError(kind ErrorKind, message string) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: message}
}

// WrapError constructs a RuntimeError of the given kind, preserving cause
// for errors.Unwrap/errors.Is chains.
func WrapError(kind ErrorKind, message string, cause error) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err, or any error it wraps, is a RuntimeError of
// the given kind — the check callers use instead of string matching.
func Is(err error, kind ErrorKind) bool {
	var re *RuntimeError
	if !errors.As(err, &re) {
		return false
	}
	return re.Kind == kind
}
