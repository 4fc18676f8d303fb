// Package errors provides the coded error taxonomy shared by every runboard
// component. It defines stable error codes (the ERR_* strings written to CLI
// output and logs), sentinel errors for each code, a [CoordError] type that
// carries structured details, and classification helpers.
//
// # Error Codes
//
// Every error surfaced by the Task Board, Lease Manager, File Lock manager,
// Run Session or Durable Store carries exactly one [Code]:
//   - ERR_TASK_NOT_FOUND, ERR_LOCK_NOT_FOUND, ERR_SESSION_NOT_FOUND,
//     ERR_MESSAGE_NOT_FOUND: a record is missing from the store
//   - ERR_LEASE_CONFLICT: another live lease holds the task
//   - ERR_LEASE_EXPIRED: the caller's lease token is wrong or expired
//   - ERR_TASK_DEPENDENCY_NOT_MET: the task still has unfinished dependencies
//   - ERR_LOCK_CONFLICT: an active lock on the path excludes the request
//   - ERR_SESSION_INVALID_STATE: illegal run session transition
//   - ERR_INVALID_ARGUMENT: schema violations, cycles, corrupt records
//   - ERR_POLICY_DENIED: carries a [DenyReason]
//   - ERR_IO: unexpected filesystem failure
//
// # Usage
//
//	err := errors.NewCoordError(errors.CodeLeaseConflict, "task is leased").
//		WithDetail("owner_agent_id", "agent-2")
//
//	if errors.Is(err, errors.ErrLeaseConflict) { ... }
//	if errors.CodeOf(err) == errors.CodeLeaseConflict { ... }
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for expected outcomes such as contention.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeTaskNotFound         Code = "ERR_TASK_NOT_FOUND"
	CodeLockNotFound         Code = "ERR_LOCK_NOT_FOUND"
	CodeSessionNotFound      Code = "ERR_SESSION_NOT_FOUND"
	CodeMessageNotFound      Code = "ERR_MESSAGE_NOT_FOUND"
	CodeLeaseConflict        Code = "ERR_LEASE_CONFLICT"
	CodeLeaseExpired         Code = "ERR_LEASE_EXPIRED"
	CodeTaskDependencyNotMet Code = "ERR_TASK_DEPENDENCY_NOT_MET"
	CodeLockConflict         Code = "ERR_LOCK_CONFLICT"
	CodeSessionInvalidState  Code = "ERR_SESSION_INVALID_STATE"
	CodeInvalidArgument      Code = "ERR_INVALID_ARGUMENT"
	CodePolicyDenied         Code = "ERR_POLICY_DENIED"
	CodeIO                   Code = "ERR_IO"
)

// DenyReason qualifies an ERR_POLICY_DENIED error.
type DenyReason string

const (
	// DenyTaskWrongState is returned when a task cannot be claimed from its
	// current (usually terminal) status.
	DenyTaskWrongState DenyReason = "TASK_WRONG_STATE"
	// DenyLockHeldByOther is returned when a release names a lease token that
	// holds no lock on the path.
	DenyLockHeldByOther DenyReason = "LOCK_HELD_BY_OTHER"
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Not-found sentinels
var (
	ErrTaskNotFound    = New("task not found")
	ErrLockNotFound    = New("lock not found")
	ErrSessionNotFound = New("session not found")
	ErrMessageNotFound = New("message not found")
)

// Concurrency sentinels
var (
	// ErrLeaseConflict indicates another live lease holds the task.
	ErrLeaseConflict = New("task is leased by another agent")
	// ErrLeaseExpired indicates the caller's lease is no longer valid.
	ErrLeaseExpired = New("lease is no longer valid")
	// ErrLockConflict indicates an active lock excludes the request.
	ErrLockConflict = New("path is locked")
)

// State and validation sentinels
var (
	ErrDependencyNotMet    = New("task dependencies not met")
	ErrSessionInvalidState = New("invalid session state transition")
	ErrInvalidArgument     = New("invalid argument")
	ErrPolicyDenied        = New("policy denied")
	ErrIO                  = New("storage failure")
)

var sentinels = map[Code]error{
	CodeTaskNotFound:         ErrTaskNotFound,
	CodeLockNotFound:         ErrLockNotFound,
	CodeSessionNotFound:      ErrSessionNotFound,
	CodeMessageNotFound:      ErrMessageNotFound,
	CodeLeaseConflict:        ErrLeaseConflict,
	CodeLeaseExpired:         ErrLeaseExpired,
	CodeTaskDependencyNotMet: ErrDependencyNotMet,
	CodeLockConflict:         ErrLockConflict,
	CodeSessionInvalidState:  ErrSessionInvalidState,
	CodeInvalidArgument:      ErrInvalidArgument,
	CodePolicyDenied:         ErrPolicyDenied,
	CodeIO:                   ErrIO,
}

// Sentinel returns the sentinel error for a code, or nil for unknown codes.
func Sentinel(code Code) error {
	return sentinels[code]
}

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// RunboardError is the base interface for all runboard errors.
type RunboardError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) IsRetryable() bool {
	return e.retryable
}

func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// CoordError
// -----------------------------------------------------------------------------

// CoordError is the coded error returned by every coordination operation.
//
// Example:
//
//	err := errors.NewCoordError(errors.CodeLockConflict, "write lock denied").
//		WithDetail("agent_id", "agent-1")
//	fmt.Println(err) // "ERR_LOCK_CONFLICT: write lock denied [agent_id=agent-1]"
type CoordError struct {
	baseError
	code       Code
	DenyReason DenyReason
	Details    map[string]any
}

// NewCoordError creates a CoordError with severity and retryability derived
// from the code.
func NewCoordError(code Code, message string) *CoordError {
	e := &CoordError{
		baseError: baseError{
			message:    message,
			severity:   SeverityError,
			userFacing: true,
		},
		code: code,
	}
	switch code {
	case CodeLeaseConflict, CodeLockConflict, CodeTaskDependencyNotMet:
		e.severity = SeverityInfo
		e.retryable = true
	case CodeIO:
		e.severity = SeverityCritical
		e.retryable = true
		e.userFacing = false
	case CodeTaskNotFound, CodeLockNotFound, CodeSessionNotFound, CodeMessageNotFound:
		e.severity = SeverityWarning
	}
	return e
}

// Newf creates a CoordError with a formatted message.
func Newf(code Code, format string, args ...any) *CoordError {
	return NewCoordError(code, fmt.Sprintf(format, args...))
}

// Code returns the error code.
func (e *CoordError) Code() Code {
	return e.code
}

// WithCause records the underlying error.
func (e *CoordError) WithCause(cause error) *CoordError {
	e.cause = cause
	return e
}

// WithDetail adds a structured detail.
func (e *CoordError) WithDetail(key string, value any) *CoordError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithDenyReason sets the deny reason of a policy-denied error.
func (e *CoordError) WithDenyReason(reason DenyReason) *CoordError {
	e.DenyReason = reason
	return e.WithDetail("deny_reason", string(reason))
}

// WithSeverity sets the error severity.
func (e *CoordError) WithSeverity(s Severity) *CoordError {
	e.severity = s
	return e
}

// Error returns "<CODE>: <message> [k=v, ...]: <cause>".
func (e *CoordError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.code))
	sb.WriteString(": ")
	sb.WriteString(e.message)

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Details[k]))
		}
		sb.WriteString(" [")
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("]")
	}

	if e.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.cause.Error())
	}
	return sb.String()
}

// Is matches the sentinel for the error's code and any CoordError carrying
// the same code.
func (e *CoordError) Is(target error) bool {
	if s, ok := sentinels[e.code]; ok && target == s {
		return true
	}
	if other, ok := target.(*CoordError); ok {
		return other.code == e.code
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

// NotFound builds the entity-specific not-found error.
func NotFound(code Code, kind, id string) *CoordError {
	return Newf(code, "%s %q not found", kind, id).WithDetail(kind+"_id", id)
}

// InvalidArgument builds an ERR_INVALID_ARGUMENT error.
func InvalidArgument(format string, args ...any) *CoordError {
	return Newf(CodeInvalidArgument, format, args...)
}

// PolicyDenied builds an ERR_POLICY_DENIED error with the given reason.
func PolicyDenied(reason DenyReason, format string, args ...any) *CoordError {
	return Newf(CodePolicyDenied, format, args...).WithDenyReason(reason)
}

// IOFailure wraps an unexpected filesystem error.
func IOFailure(op, path string, cause error) *CoordError {
	return Newf(CodeIO, "%s %s", op, path).WithCause(cause)
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// CodeOf returns the code carried by err, or "" when err is not coded.
func CodeOf(err error) Code {
	var ce *CoordError
	if As(err, &ce) {
		return ce.code
	}
	return ""
}

// DenyReasonOf returns the deny reason carried by err, if any.
func DenyReasonOf(err error) DenyReason {
	var ce *CoordError
	if As(err, &ce) {
		return ce.DenyReason
	}
	return ""
}

// DetailsOf returns the structured details carried by err, if any.
func DetailsOf(err error) map[string]any {
	var ce *CoordError
	if As(err, &ce) {
		return ce.Details
	}
	return nil
}

// IsRetryable returns true if the error is transient and the operation
// may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re RunboardError
	if As(err, &re) {
		return re.IsRetryable()
	}
	return false
}

// IsUserFacing returns true if the error message is safe to show users.
// Uncoded errors are treated as internal.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var re RunboardError
	if As(err, &re) {
		return re.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity of err, defaulting to SeverityError.
func GetSeverity(err error) Severity {
	var re RunboardError
	if As(err, &re) {
		return re.Severity()
	}
	return SeverityError
}

// Wrap adds context to an error. Returns nil when err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. Returns nil when err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
