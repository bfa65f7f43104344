package domain

import "fmt"

// RejectionReason is the closed set of reasons an approver may give.
type RejectionReason string

const (
	ReasonSchedulingConflict   RejectionReason = "scheduling_conflict"
	ReasonInvalidDetails       RejectionReason = "invalid_details"
	ReasonMissingDocumentation RejectionReason = "missing_documentation"
	ReasonJurisdiction         RejectionReason = "jurisdiction_mismatch"
	ReasonDuplicate            RejectionReason = "duplicate"
	ReasonInsufficientLeadTime RejectionReason = "insufficient_lead_time"
	ReasonOther                RejectionReason = "other"
)

var rejectionReasons = map[RejectionReason]bool{
	ReasonSchedulingConflict:   true,
	ReasonInvalidDetails:       true,
	ReasonMissingDocumentation: true,
	ReasonJurisdiction:         true,
	ReasonDuplicate:            true,
	ReasonInsufficientLeadTime: true,
	ReasonOther:                true,
}

func (r RejectionReason) Valid() bool { return rejectionReasons[r] }

// IsConflict reports whether the reason routes to the reschedule loop
// instead of a terminal rejection.
func (r RejectionReason) IsConflict() bool { return r == ReasonSchedulingConflict }

// Decision is an approver's verdict on a case: Approve, Reject or
// RescheduleRequested.
type Decision interface {
	decision()
	Kind() string
}

// Approve reserves the requested slot. Alternates, when given, are the
// suggestions attached if the reservation hits a conflict.
type Approve struct {
	Alternates []Slot
	Comment    string
}

// Reject ends the case, unless the reason is a scheduling conflict.
type Reject struct {
	Reason  RejectionReason
	Comment string
}

// RescheduleRequested sends the case back to the submitter with suggestions.
type RescheduleRequested struct {
	Alternates []Slot
	Comment    string
}

func (Approve) decision()             {}
func (Reject) decision()              {}
func (RescheduleRequested) decision() {}

func (Approve) Kind() string             { return "approve" }
func (Reject) Kind() string              { return "reject" }
func (RescheduleRequested) Kind() string { return "reschedule" }

// ParseDecision builds a Decision from its transport form.
func ParseDecision(kind, reason, comment string, alternates []Slot) (Decision, error) {
	alts := make([]Slot, 0, len(alternates))
	for _, a := range alternates {
		n, err := a.Normalize()
		if err != nil {
			return nil, err
		}
		alts = append(alts, n)
	}
	switch kind {
	case "approve":
		if reason != "" {
			return nil, Invalid("approve does not take a reason")
		}
		return Approve{Alternates: alts, Comment: comment}, nil
	case "reject":
		r := RejectionReason(reason)
		if !r.Valid() {
			return nil, Invalid(fmt.Sprintf("unknown rejection reason %q", reason))
		}
		if r.IsConflict() {
			return RescheduleRequested{Alternates: alts, Comment: comment}, nil
		}
		if len(alts) > 0 {
			return nil, Invalid("alternate slots only apply to scheduling conflicts")
		}
		return Reject{Reason: r, Comment: comment}, nil
	case "reschedule":
		return RescheduleRequested{Alternates: alts, Comment: comment}, nil
	default:
		return nil, Invalid(fmt.Sprintf("unknown decision %q", kind))
	}
}

// ApplicationDecision is the approver's call on a panel application.
type ApplicationDecision string

const (
	DecideApprove ApplicationDecision = "approve"
	DecideReject  ApplicationDecision = "reject"
)

func (d ApplicationDecision) Valid() bool { return d == DecideApprove || d == DecideReject }
