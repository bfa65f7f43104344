package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by how callers are expected to handle them.
type ErrorKind string

const (
	// KindConflict is expected contention; the caller gets a structured outcome.
	KindConflict ErrorKind = "conflict"
	// KindInvariant is an integration error; it is logged and rejected.
	KindInvariant ErrorKind = "invariant_violation"
	// KindDependency is a collaborator failure isolated to one unit of work.
	KindDependency ErrorKind = "dependency_failure"
	KindNotFound   ErrorKind = "not_found"
	KindInvalid    ErrorKind = "invalid"
	KindForbidden  ErrorKind = "forbidden"
)

// Error carries a machine-readable code next to the human message.
// Two errors match under errors.Is when their codes are equal.
type Error struct {
	Kind       ErrorKind
	Code       string
	Message    string
	Alternates []Slot
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e carrying a more specific message.
func (e *Error) With(format string, args ...any) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// WithAlternates returns a copy of e carrying suggested slots.
func (e *Error) WithAlternates(alts []Slot) *Error {
	c := *e
	c.Alternates = append([]Slot(nil), alts...)
	return &c
}

var (
	ErrSlotConflict         = &Error{Kind: KindConflict, Code: "slot_conflict", Message: "slot already taken"}
	ErrSlotBlocked          = &Error{Kind: KindConflict, Code: "slot_blocked", Message: "slot is administratively blocked"}
	ErrCapacityExceeded     = &Error{Kind: KindConflict, Code: "capacity_exceeded", Message: "panel is already full"}
	ErrAlreadyDecided       = &Error{Kind: KindConflict, Code: "already_decided", Message: "already decided"}
	ErrDuplicateApplication = &Error{Kind: KindConflict, Code: "duplicate_application", Message: "panelist already applied to this case"}
	ErrDuplicateSubmission  = &Error{Kind: KindConflict, Code: "duplicate_submission", Message: "panelist already submitted a verdict"}

	ErrInvalidTransition = &Error{Kind: KindInvariant, Code: "invalid_transition", Message: "invalid lifecycle transition"}
	ErrQuorumNotMet      = &Error{Kind: KindInvariant, Code: "quorum_not_met", Message: "approved panel below required count"}
	ErrSlotNotHeld       = &Error{Kind: KindInvariant, Code: "slot_not_held", Message: "case does not hold its slot"}

	ErrFundingNotFound = &Error{Kind: KindDependency, Code: "funding_not_found", Message: "no completed funding payment"}
	ErrTransferFailed  = &Error{Kind: KindDependency, Code: "transfer_failed", Message: "transfer failed"}

	ErrNotFound = &Error{Kind: KindNotFound, Code: "not_found", Message: "not found"}

	ErrNotCaseOwner = &Error{Kind: KindForbidden, Code: "not_case_owner", Message: "only the submitter may act on this case"}
	ErrNotOnRoster  = &Error{Kind: KindForbidden, Code: "not_on_roster", Message: "panelist is not on the approved roster"}
)

// Invalid builds a bad-input error.
func Invalid(msg string) *Error {
	return &Error{Kind: KindInvalid, Code: "invalid", Message: msg}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// err carries none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// CodeOf returns the machine-readable code of err, or "" when err carries none.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
