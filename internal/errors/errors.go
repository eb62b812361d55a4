// Package errors provides centralized error definitions for the conductor
// engine. It defines sentinel errors, domain error types with context
// builders, and classification helpers.
//
// Errors here describe why an operation could not be carried out (a
// missing worker binary, a corrupt state file, a denied circuit). They are
// distinct from [exitcode.Code], which describes the outcome of work that
// did run; layers branch on codes and log errors. Typed errors also carry
// whether repeating the operation could help, which the stage orchestrator
// checks before spending a retry.
//
// # Usage
//
//	err := errors.NewInvocationError("worker exited", errors.ErrWorkerFailed).
//		WithAgentType("research").WithDepth(2)
//
//	if errors.Is(err, errors.ErrWorkerFailed) { ... }
//
//	var circuitErr *errors.CircuitError
//	if errors.As(err, &circuitErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
//
// [exitcode.Code]: github.com/Iron-Ham/conductor/internal/exitcode
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers import a single package.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Invocation sentinels
var (
	// ErrDepthExceeded indicates the recursion ceiling was reached before spawning.
	ErrDepthExceeded = New("max invocation depth exceeded")
	// ErrWorkerFailed indicates the worker process exited unsuccessfully.
	ErrWorkerFailed = New("worker process failed")
	// ErrWorkerNotFound indicates the worker command could not be located.
	ErrWorkerNotFound = New("worker command not found")
	// ErrUnknownTier indicates a model tier without a configured model.
	ErrUnknownTier = New("unknown model tier")
	// ErrMalformedOutput indicates structured worker output could not be decoded.
	ErrMalformedOutput = New("malformed worker output")
)

// Signal sentinels
var (
	// ErrSignalMalformed indicates a signal file is missing required keys.
	ErrSignalMalformed = New("malformed signal")
	// ErrSignalExists indicates a signal with the same identity was already written.
	ErrSignalExists = New("signal already exists")
)

// Circuit sentinels
var (
	// ErrCircuitOpen indicates the breaker denied an invocation.
	ErrCircuitOpen = New("circuit open")
)

// Session and campaign sentinels
var (
	// ErrSessionLocked indicates another controller owns the session.
	ErrSessionLocked = New("session is locked by another process")
	// ErrSessionNotFound indicates the session directory does not exist.
	ErrSessionNotFound = New("session not found")
	// ErrInvalidState indicates an unknown or unreachable state name.
	ErrInvalidState = New("invalid state")
)

// General sentinels
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// retryer is implemented by every typed error in this package.
type retryer interface {
	IsRetryable() bool
}

type baseError struct {
	message   string
	cause     error
	retryable bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error     { return e.cause }
func (e *baseError) IsRetryable() bool { return e.retryable }

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// InvocationError describes a failure to run a worker process.
//
// Example:
//
//	err := errors.NewInvocationError("spawn failed", errors.ErrWorkerNotFound).
//		WithAgentType("planner").WithModel("opus")
type InvocationError struct {
	baseError
	AgentType string
	Model     string
	Depth     int
	ExitCode  int
}

// NewInvocationError creates a new InvocationError. Worker failures are
// retryable by default.
func NewInvocationError(message string, cause error) *InvocationError {
	return &InvocationError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			retryable: true,
		},
		Depth:    -1,
		ExitCode: -1,
	}
}

// WithAgentType records which agent type was being invoked.
func (e *InvocationError) WithAgentType(agentType string) *InvocationError {
	e.AgentType = agentType
	return e
}

// WithModel records the resolved model.
func (e *InvocationError) WithModel(model string) *InvocationError {
	e.Model = model
	return e
}

// WithDepth records the recursion depth of the failed invocation.
func (e *InvocationError) WithDepth(depth int) *InvocationError {
	e.Depth = depth
	return e
}

// WithExitCode records the worker's process exit status.
func (e *InvocationError) WithExitCode(code int) *InvocationError {
	e.ExitCode = code
	return e
}

// WithRetryable marks whether repeating the invocation could succeed.
func (e *InvocationError) WithRetryable(r bool) *InvocationError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *InvocationError) Error() string {
	var parts []string
	if e.AgentType != "" {
		parts = append(parts, "agent="+e.AgentType)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Depth >= 0 {
		parts = append(parts, fmt.Sprintf("depth=%d", e.Depth))
	}
	if e.ExitCode >= 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}
	return e.format("invocation error", parts)
}

// Is matches any *InvocationError target, then defers to the cause.
func (e *InvocationError) Is(target error) bool {
	if _, ok := target.(*InvocationError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// SignalError describes a signal file that could not be written or read.
type SignalError struct {
	baseError
	Path string
}

// NewSignalError creates a SignalError. Signal failures are not retryable.
func NewSignalError(message string, cause error) *SignalError {
	return &SignalError{
		baseError: baseError{message: message, cause: cause},
	}
}

// WithPath records the signal file involved.
func (e *SignalError) WithPath(path string) *SignalError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *SignalError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, "path="+e.Path)
	}
	return e.format("signal error", parts)
}

// Is matches any *SignalError target, then defers to the cause.
func (e *SignalError) Is(target error) bool {
	if _, ok := target.(*SignalError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// CircuitError is returned when the breaker denies an invocation.
//
// Example:
//
//	err := errors.NewCircuitError("research", openedAt.Add(resetTimeout))
//	fmt.Println(err) // "circuit error [agent=research, retry_after=...]: circuit open"
type CircuitError struct {
	baseError
	AgentType  string
	RetryAfter time.Time
}

// NewCircuitError creates a CircuitError wrapping ErrCircuitOpen.
func NewCircuitError(agentType string, retryAfter time.Time) *CircuitError {
	return &CircuitError{
		baseError: baseError{
			message:   "invocation denied",
			cause:     ErrCircuitOpen,
			retryable: true,
		},
		AgentType:  agentType,
		RetryAfter: retryAfter,
	}
}

// Error returns the formatted error message.
func (e *CircuitError) Error() string {
	parts := []string{"agent=" + e.AgentType}
	if !e.RetryAfter.IsZero() {
		parts = append(parts, "retry_after="+e.RetryAfter.UTC().Format(time.RFC3339))
	}
	return e.format("circuit error", parts)
}

// Is matches any *CircuitError target and ErrCircuitOpen.
func (e *CircuitError) Is(target error) bool {
	if _, ok := target.(*CircuitError); ok {
		return true
	}
	return errors.Is(e.cause, target)
}

// CampaignError describes a controller failure tied to a state.
type CampaignError struct {
	baseError
	State string
	Round int
	Cycle int
}

// NewCampaignError creates a CampaignError. Campaign failures are never
// retryable.
func NewCampaignError(message string, cause error) *CampaignError {
	return &CampaignError{
		baseError: baseError{message: message, cause: cause},
	}
}

// WithState records the state the controller was in.
func (e *CampaignError) WithState(state string) *CampaignError {
	e.State = state
	return e
}

// WithRound records the research round. Zero is omitted.
func (e *CampaignError) WithRound(round int) *CampaignError {
	e.Round = round
	return e
}

// WithCycle records the heal cycle. Zero is omitted.
func (e *CampaignError) WithCycle(cycle int) *CampaignError {
	e.Cycle = cycle
	return e
}

// Error returns the formatted error message.
func (e *CampaignError) Error() string {
	var parts []string
	if e.State != "" {
		parts = append(parts, "state="+e.State)
	}
	if e.Round > 0 {
		parts = append(parts, fmt.Sprintf("round=%d", e.Round))
	}
	if e.Cycle > 0 {
		parts = append(parts, fmt.Sprintf("cycle=%d", e.Cycle))
	}
	return e.format("campaign error", parts)
}

// Is matches any *CampaignError target, then defers to the cause.
func (e *CampaignError) Is(target error) bool {
	if _, ok := target.(*CampaignError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRetryable reports whether err describes a transient condition.
// Depth and cancellation errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrDepthExceeded) || Is(err, ErrCanceled) {
		return false
	}
	var r retryer
	if As(err, &r) {
		return r.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// Wrap prefixes err with message and keeps it matchable with Is. A nil err
// stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
