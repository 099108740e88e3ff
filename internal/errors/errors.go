// Package errors implements the conductor error taxonomy: a single typed
// error carrying the component and operation that failed, a classification
// kind used by callers to decide retry/escalation policy, and optional
// recovery suggestions surfaced to operators.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a TaxonomyError for retry/escalation policy decisions.
type Kind string

const (
	// KindStore covers persistence/transaction/pool failures.
	KindStore Kind = "store_error"
	// KindEvent covers publish/subscribe failures. Always logged, never
	// propagated to the publisher's caller.
	KindEvent Kind = "event_error"
	// KindWorkerSpawn covers failure to start a worker child process. The
	// Queen reverts the task to queued without incrementing retry_count.
	KindWorkerSpawn Kind = "worker_spawn_error"
	// KindWorkerCommunication covers failure to read/wait on a worker
	// child process. Treated as a terminal run failure; standard retry
	// policy applies.
	KindWorkerCommunication Kind = "worker_communication_error"
	// KindWorkerOverload means a per-role concurrency cap was exceeded.
	// Not an error condition - the task simply stays queued.
	KindWorkerOverload Kind = "worker_overload_error"
	// KindTaskExecution covers a run that exited non-zero or timed out.
	KindTaskExecution Kind = "task_execution_error"
	// KindAgentRateLimit covers a rate limit surfaced by the agent CLI.
	KindAgentRateLimit Kind = "agent_rate_limit_error"
	// KindAgentService covers a non-rate-limit service failure surfaced
	// by the agent CLI.
	KindAgentService Kind = "agent_service_error"
)

// TaxonomyError is the single error type used across conductor components.
// Component names the subsystem (e.g. "store", "worker"); Operation names
// the specific call that failed (e.g. "create_task").
type TaxonomyError struct {
	Kind                Kind
	Component           string
	Operation           string
	Message             string
	RecoverySuggestions []string
	Err                 error
}

// New constructs a TaxonomyError without an underlying cause.
func New(kind Kind, component, operation, message string) *TaxonomyError {
	return &TaxonomyError{Kind: kind, Component: component, Operation: operation, Message: message}
}

// Wrap constructs a TaxonomyError around an underlying cause.
func Wrap(kind Kind, component, operation string, err error) *TaxonomyError {
	return &TaxonomyError{Kind: kind, Component: component, Operation: operation, Err: err}
}

// WithRecovery attaches recovery suggestions and returns the same error for chaining.
func (e *TaxonomyError) WithRecovery(suggestions ...string) *TaxonomyError {
	e.RecoverySuggestions = append(e.RecoverySuggestions, suggestions...)
	return e
}

func (e *TaxonomyError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Component == "" && e.Operation == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s.%s: %s", e.Kind, e.Component, e.Operation, msg)
}

// Unwrap supports errors.Is/errors.As traversal.
func (e *TaxonomyError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a TaxonomyError of the same Kind, so callers
// can write errors.Is(err, errors.New(KindStore, "", "", "")) style checks
// against a sentinel built from the kind alone.
func (e *TaxonomyError) Is(target error) bool {
	var t *TaxonomyError
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err, if it is or wraps a TaxonomyError.
func KindOf(err error) (Kind, bool) {
	var te *TaxonomyError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// IsKind reports whether err is or wraps a TaxonomyError of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Sentinel errors for conditions callers commonly need to branch on directly.
var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness or optimistic-concurrency violation.
	ErrConflict = errors.New("conflict")
	// ErrPoolExhausted indicates the connection pool checkout timed out.
	ErrPoolExhausted = errors.New("connection pool exhausted")
)
