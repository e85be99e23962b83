package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, a device refusing new sessions.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	// Should be retried with a longer backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a state conflict on the host.
	// Examples: a configuration lock held by another session.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: authentication failure, invalid parameters.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError is a classified error returned by task bodies.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Host is the host the error occurred on, if known.
	Host string `json:"host,omitempty"`

	// Task is the task being run when the error occurred.
	Task string `json:"task,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)
	switch {
	case e.Host != "" && e.Task != "":
		fmt.Fprintf(&b, " (host=%s, task=%s)", e.Host, e.Task)
	case e.Host != "":
		fmt.Fprintf(&b, " (host=%s)", e.Host)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another EngineError of the same class.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithHost adds host context to an error.
func (e *EngineError) WithHost(host string) *EngineError {
	e.Host = host
	return e
}

// WithTask adds task context to an error.
func (e *EngineError) WithTask(task string) *EngineError {
	e.Task = task
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	c, _ := classOf(err)
	return c == ErrorClassTransient
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	c, _ := classOf(err)
	return c == ErrorClassThrottled
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	c, _ := classOf(err)
	return c == ErrorClassConflict
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	c, _ := classOf(err)
	return c == ErrorClassPermanent
}

// IsRetryable returns true if Retry should try again after err. Errors that
// carry no classification are retried; only permanent errors are not.
func IsRetryable(err error) bool {
	return err != nil && !IsPermanent(err)
}

// SubTaskError is returned by Task.Run when the sub-task failed. Returning it
// from the enclosing task body fails the enclosing task too.
type SubTaskError struct {
	// Task is the sub-task name.
	Task string

	// Host is the host the sub-task ran on.
	Host string

	// Result holds the sub-task's results.
	Result MultiResult
}

func (e *SubTaskError) Error() string {
	if err := e.Unwrap(); err != nil {
		return fmt.Sprintf("subtask %s failed on host %s: %v", e.Task, e.Host, err)
	}
	return fmt.Sprintf("subtask %s failed on host %s", e.Task, e.Host)
}

// Unwrap returns the first captured error of the sub-task results.
func (e *SubTaskError) Unwrap() error {
	return e.Result.Err()
}

// AggregatedError is returned when a run fails on at least one host and the
// caller asked for failures to be raised. Result holds every host's
// outcome, successful ones included.
type AggregatedError struct {
	Result *AggregatedResult
}

func (e *AggregatedError) Error() string {
	failed := e.Result.FailedHosts()
	return fmt.Sprintf("task %s failed on %d of %d hosts: %s",
		e.Result.Name, len(failed), e.Result.Len(), strings.Join(failed, ", "))
}

// Unwrap returns the captured error of every failed host, in host name order.
func (e *AggregatedError) Unwrap() []error {
	var errs []error
	for _, name := range e.Result.FailedHosts() {
		if err := e.Result.Hosts[name].Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// PanicError is the error of a result whose task body panicked.
type PanicError struct {
	// Value is the value passed to panic.
	Value any

	// Stack is the goroutine stack at the time of the panic.
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
