package workflows

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownStatus     = errors.New("unknown status")
	ErrUnknownRole       = errors.New("unknown role")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrMissingNote       = errors.New("note is required for this transition")
	// ErrTerminalStatus is also an ErrInvalidTransition.
	ErrTerminalStatus = fmt.Errorf("%w: status is terminal", ErrInvalidTransition)
)

// Subject is the part of a content item the validator looks at.
type Subject struct {
	Status           Status
	ApprovalRequired bool
}

// TransitionError describes a rejected transition request.
type TransitionError struct {
	From   Status
	To     Status
	Role   Role
	Reason error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s as %s: %v", e.From, e.To, e.Role, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return e.Reason
}

// Validate checks a requested transition against the lifecycle table without
// side effects. It returns the matched transition on success.
func (sm *StateMachine) Validate(subject Subject, target Status, role Role, note string) (Transition, error) {
	reject := func(reason error) (Transition, error) {
		return Transition{}, &TransitionError{From: subject.Status, To: target, Role: role, Reason: reason}
	}

	if !subject.Status.Valid() || !target.Valid() {
		return reject(ErrUnknownStatus)
	}
	if !role.Valid() {
		return reject(ErrUnknownRole)
	}
	if subject.Status.IsTerminal() {
		return reject(ErrTerminalStatus)
	}

	t, ok := sm.Lookup(subject.Status, role, subject.ApprovalRequired, target)
	if !ok {
		return reject(ErrInvalidTransition)
	}
	if t.RequiresNote && strings.TrimSpace(note) == "" {
		return reject(ErrMissingNote)
	}
	return t, nil
}

// Validate checks a transition against the default lifecycle table.
func Validate(subject Subject, target Status, role Role, note string) (Transition, error) {
	return defaultMachine.Validate(subject, target, role, note)
}
