package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized is returned when a caller lacks the required level.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoMatch is returned by DelegateArgs when the text does not fit the
	// target's pattern. Top-level dispatch never surfaces it.
	ErrNoMatch = errors.New("no matching command")
	// ErrUnknownHandler is returned when a delegation target is not registered.
	ErrUnknownHandler = errors.New("unknown handler")
	// ErrAborted is what suspension points return once the invocation was
	// torn down by the scheduler.
	ErrAborted = errors.New("invocation aborted")
	// ErrSchedulerStopped is returned when submitting to a stopped scheduler.
	ErrSchedulerStopped = errors.New("scheduler stopped")
	// ErrRegistrySealed is returned when registering after startup.
	ErrRegistrySealed = errors.New("registry is sealed")
)

// DuplicateCommandError reports two descriptors colliding in one namespace.
type DuplicateCommandError struct {
	Namespace string
	Name      string
	Prefix    string
	Pattern   string
}

func (e *DuplicateCommandError) Error() string {
	if e == nil {
		return ""
	}
	if e.Pattern == "" {
		return fmt.Sprintf("duplicate command %q in namespace %q (prefix %q)", e.Name, e.Namespace, e.Prefix)
	}

	return fmt.Sprintf("duplicate command %q in namespace %q (prefix %q, pattern %q)", e.Name, e.Namespace, e.Prefix, e.Pattern)
}

// DelegationCycleError reports a delegation target already active on the
// invocation stack.
type DelegationCycleError struct {
	Target string
	Stack  []string
}

func (e *DelegationCycleError) Error() string {
	if e == nil {
		return ""
	}

	return fmt.Sprintf("delegation cycle: %s -> %s", strings.Join(e.Stack, " -> "), e.Target)
}

// CollaboratorError wraps a failure of an external collaborator call.
type CollaboratorError struct {
	Collaborator string
	Op           string
	Err          error
}

// NewCollaboratorError wraps err unless it is nil.
func NewCollaboratorError(collaborator string, op string, err error) error {
	if err == nil {
		return nil
	}

	return &CollaboratorError{Collaborator: collaborator, Op: op, Err: err}
}

func (e *CollaboratorError) Error() string {
	if e == nil {
		return ""
	}

	return fmt.Sprintf("%s %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Termination is the process-stop request raised by a Terminate action. It is
// returned from Scheduler.Run; it is not a failure.
type Termination struct {
	Reason       string
	InvocationID string
	Command      string
}

func (t *Termination) Error() string {
	if t == nil {
		return ""
	}

	return "terminate requested: " + t.Reason
}

// IsTermination reports whether err carries a Termination and returns it.
func IsTermination(err error) (*Termination, bool) {
	var term *Termination
	if errors.As(err, &term) {
		return term, true
	}

	return nil, false
}
