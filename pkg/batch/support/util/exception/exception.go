// Package exception provides the error type shared by every retrainer stage and a small
// registry of named sentinel errors.
//
// A BatchError records the module that failed, a short message, the wrapped cause and
// whether the failure is worth retrying. Retry logic only consults IsTemporary.
package exception

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
)

var (
	errorRegistry = make(map[string]error)
	registryMutex sync.RWMutex
)

// RegisterErrorType registers a sentinel error under a name so configuration can refer to it.
// It panics on an empty name or a nil prototype.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name is present in the registry.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// LookupErrorType returns the sentinel registered under name.
func LookupErrorType(name string) (error, bool) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	err, ok := errorRegistry[name]
	return err, ok
}

// BatchError is an error raised by a stage of the retrain job.
type BatchError struct {
	// Module names the component that failed, e.g. "evaluator" or "span".
	Module string
	// Message is a short human readable description.
	Message string
	// OriginalErr is the wrapped cause. It usually chains to one of the sentinels in errors.go.
	OriginalErr error
	retryable   bool
	// StackTrace is captured at construction for debugging.
	StackTrace string
}

// NewBatchError creates a BatchError.
func NewBatchError(module, message string, originalErr error, retryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		retryable:   retryable,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf creates a non-retryable BatchError with a formatted message.
// When the last argument is an error it becomes OriginalErr instead of a format argument.
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	if n := len(a); n > 0 {
		if err, ok := a[n-1].(error); ok && strings.Count(format, "%")-2*strings.Count(format, "%%") < n {
			originalErr = err
			a = a[:n-1]
		}
	}
	return &BatchError{
		Module:      module,
		Message:     fmt.Sprintf(format, a...),
		OriginalErr: originalErr,
		StackTrace:  captureStack(),
	}
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports whether the error was marked retryable at construction.
func (e *BatchError) IsRetryable() bool {
	return e.retryable
}

// IsBatchError reports whether err is, or wraps, a *BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// IsTemporary reports whether err may succeed when repeated.
// A BatchError answers with its retryable flag, otherwise the chain is checked for ErrTransientIO.
// Cancellation and timeouts are never temporary.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrTimeout) {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) && be.retryable {
		return true
	}
	return errors.Is(err, ErrTransientIO)
}

// IsFatal reports whether err must abort the job.
func IsFatal(err error) bool {
	return err != nil && !IsTemporary(err)
}

// IsErrorOfType reports whether err matches the sentinel registered under errorTypeName,
// or whether any error in its chain mentions errorTypeName in its message.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}
	if target, ok := LookupErrorType(errorTypeName); ok && errors.Is(err, target) {
		return true
	}
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if strings.Contains(cur.Error(), errorTypeName) {
			return true
		}
	}
	return false
}

// ExtractErrorMessage returns the Message of a BatchError, or err.Error() for anything else.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
