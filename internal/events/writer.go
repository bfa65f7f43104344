package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docket/internal/domain"
	"docket/internal/repo"
)

// Event kinds written by the engine.
const (
	CaseCreated          = "case.created"
	CaseApproved         = "case.approved"
	CaseRejected         = "case.rejected"
	CaseRescheduleNeeded = "case.reschedule_required"
	CaseSlotRequested    = "case.slot_requested"
	CaseReady            = "case.ready_for_execution"
	CaseStarted          = "case.in_execution"
	CaseConcluded        = "case.awaiting_results"
	CaseCompleted        = "case.completed"
	CaseCancelled        = "case.cancelled"
	SlotBlocked          = "slot.blocked"
	SlotUnblocked        = "slot.unblocked"
	SlotReleased         = "slot.released"
	ApplicationCreated   = "application.created"
	ApplicationApproved  = "application.approved"
	ApplicationRejected  = "application.rejected"
	VerdictSubmitted     = "verdict.submitted"
	FundingRecorded      = "funding.recorded"
	PaymentAttempted     = "payment.attempted"
	DisbursementRun      = "disbursement.completed"
	DisbursementSkipped  = "disbursement.skipped"
	InvariantViolation   = "invariant.violation"
)

type Writer struct {
	Now func() time.Time
}

type Metadata map[string]any

// Entry is one audit record.
type Entry struct {
	CaseID      string
	Kind        string
	ActorID     string
	ActorRole   domain.Role
	Description string
	Metadata    Metadata
}

// Append writes e through q, which is normally the transaction carrying the
// change being recorded.
func (w Writer) Append(ctx context.Context, q repo.Querier, e Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if e.Metadata == nil {
		e.Metadata = Metadata{}
	}
	data, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	if e.ActorRole == "" {
		e.ActorRole = domain.RoleSystem
	}
	if e.ActorID == "" {
		e.ActorID = string(domain.RoleSystem)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO events(ts,kind,case_id,actor_id,actor_role,description,metadata_json) VALUES (?,?,?,?,?,?,?)`,
		ts, e.Kind, nullable(e.CaseID), e.ActorID, string(e.ActorRole), nullable(e.Description), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
