package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrBusy                 = fmt.Errorf("a generation request is already in flight")
	ErrConversationNotFound = fmt.Errorf("conversation %w", ErrNotFound)
	ErrBackendFailure       = fmt.Errorf("generation backend failed")
	ErrProviderNotFound     = fmt.Errorf("llm provider %w", ErrNotFound)
	ErrNoActiveBackend      = fmt.Errorf("no active generation backend")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
	ErrHistoryStore         = fmt.Errorf("history store operation failed")
	ErrEmptyResponse        = fmt.Errorf("backend returned an empty response")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrServerError     = fmt.Errorf("provider server error")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Store.Append")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrServerError) || errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for logs and metrics labels.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeBusy                 ErrorCode = "BUSY"
	CodeConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	CodeBackendFailure       ErrorCode = "BACKEND_FAILURE"
	CodeProviderNotFound     ErrorCode = "PROVIDER_NOT_FOUND"
	CodeNoActiveBackend      ErrorCode = "NO_ACTIVE_BACKEND"
	CodeConfigLoad           ErrorCode = "CONFIG_LOAD"
	CodeHistoryStore         ErrorCode = "HISTORY_STORE"
	CodeEmptyResponse        ErrorCode = "EMPTY_RESPONSE"
	CodeContextOverflow      ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit            ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid          ErrorCode = "AUTH_INVALID"
	CodeServerError          ErrorCode = "SERVER_ERROR"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeProviderError        ErrorCode = "PROVIDER_ERROR"
)

// errorCodeOrder lists sentinels from most to least specific; the first match wins
// because several domain sentinels wrap a category sentinel.
var errorCodeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrBusy, CodeBusy},
	{ErrConversationNotFound, CodeConversationNotFound},
	{ErrProviderNotFound, CodeProviderNotFound},
	{ErrNoActiveBackend, CodeNoActiveBackend},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrHistoryStore, CodeHistoryStore},
	{ErrEmptyResponse, CodeEmptyResponse},
	{ErrContextOverflow, CodeContextOverflow},
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrServerError, CodeServerError},
	{ErrTimeout, CodeTimeout},
	{ErrBackendFailure, CodeBackendFailure},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrProviderError, CodeProviderError},
	{ErrNotFound, CodeNotFound},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, entry := range errorCodeOrder {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
