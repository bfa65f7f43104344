package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"docket/internal/domain"
	"docket/internal/events"
	"docket/internal/repo"
)

// Decision outcomes.
const (
	OutcomeApproved           = "approved"
	OutcomeRejected           = "rejected"
	OutcomeRescheduleRequired = "reschedule_required"
)

// Bulk item results.
const (
	ItemProcessed = "processed"
	ItemSkipped   = "skipped"
	ItemErrored   = "errored"
)

type DecisionResult struct {
	Case    domain.Case `json:"case"`
	Outcome string      `json:"outcome"`
	// Reason is the rejection reason, or the code that sent the case back
	// for rescheduling.
	Reason     string        `json:"reason,omitempty"`
	Alternates []domain.Slot `json:"alternate_slots,omitempty"`
}

type BulkItem struct {
	ID         string            `json:"id"`
	Result     string            `json:"result"`
	Outcome    string            `json:"outcome,omitempty"`
	Status     domain.CaseStatus `json:"status,omitempty"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message,omitempty"`
	Alternates []domain.Slot     `json:"alternate_slots,omitempty"`
}

type BulkReport struct {
	Items     []BulkItem `json:"items"`
	Processed int        `json:"processed"`
	Skipped   int        `json:"skipped"`
	Errored   int        `json:"errored"`
}

func (r *BulkReport) add(item BulkItem) {
	switch item.Result {
	case ItemProcessed:
		r.Processed++
	case ItemSkipped:
		r.Skipped++
	default:
		r.Errored++
	}
	r.Items = append(r.Items, item)
}

func ensureCaseTransition(from, to domain.CaseStatus) error {
	switch from {
	case domain.StatusAwaitingApproval:
		if to == domain.StatusOpenForApplications || to == domain.StatusCancelled {
			return nil
		}
	case domain.StatusOpenForApplications:
		if to == domain.StatusReadyForExecution {
			return nil
		}
	case domain.StatusReadyForExecution:
		if to == domain.StatusInExecution {
			return nil
		}
	case domain.StatusInExecution:
		if to == domain.StatusAwaitingResults {
			return nil
		}
	case domain.StatusAwaitingResults:
		if to == domain.StatusCompleted {
			return nil
		}
	}
	return domain.ErrInvalidTransition.With("invalid case transition %s -> %s", from, to)
}

// advance moves c from its current status to `to` if nobody changed it in
// between. A false result means the stored case no longer matched.
func (e Engine) advance(ctx context.Context, tx *sql.Tx, c domain.Case, to domain.CaseStatus, guard repo.CaseGuard, change repo.CaseChange) (bool, error) {
	if err := ensureCaseTransition(c.Status, to); err != nil {
		return false, err
	}
	guard.Status = c.Status
	change.Status = statusPtr(to)
	return e.Repo.UpdateCaseIf(ctx, tx, c.ID, guard, change, e.stamp())
}

func (e Engine) Case(ctx context.Context, id string) (domain.Case, error) {
	return e.Repo.GetCase(ctx, nil, id)
}

func (e Engine) ListCases(ctx context.Context, f repo.CaseFilters) ([]domain.Case, error) {
	return e.Repo.ListCases(ctx, f)
}

type CreateCaseOptions struct {
	ID             string
	SubmitterID    string
	Title          string
	Details        string
	Tier           string
	Slot           domain.Slot
	PreferredSlots []domain.Slot
}

// CreateCase files a case awaiting approval. The requested slot must be free
// at filing time; it is only claimed when an approver approves the case.
func (e Engine) CreateCase(ctx context.Context, opts CreateCaseOptions) (domain.Case, error) {
	cfg, err := e.config()
	if err != nil {
		return domain.Case{}, err
	}
	if strings.TrimSpace(opts.SubmitterID) == "" {
		return domain.Case{}, domain.Invalid("submitter is required")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Case{}, domain.Invalid("title is required")
	}
	if opts.Tier == "" {
		opts.Tier = "standard"
	}
	tier, amount, err := cfg.Tier(opts.Tier)
	if err != nil {
		return domain.Case{}, err
	}
	slot, err := opts.Slot.Normalize()
	if err != nil {
		return domain.Case{}, err
	}
	span, err := e.span(slot, tier.DurationBuckets)
	if err != nil {
		return domain.Case{}, err
	}
	if err := e.checkLead(slot); err != nil {
		return domain.Case{}, err
	}
	var preferred []domain.Slot
	seen := map[domain.Slot]bool{slot: true}
	for _, p := range opts.PreferredSlots {
		n, err := p.Normalize()
		if err != nil {
			return domain.Case{}, err
		}
		if seen[n] {
			continue
		}
		if _, err := e.span(n, tier.DurationBuckets); err != nil {
			return domain.Case{}, fmt.Errorf("preferred slot %s: %w", n, err)
		}
		seen[n] = true
		preferred = append(preferred, n)
	}

	now := e.stamp()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	c := domain.Case{
		ID:                id,
		SubmitterID:       opts.SubmitterID,
		Title:             strings.TrimSpace(opts.Title),
		Details:           opts.Details,
		Tier:              opts.Tier,
		Slot:              slot,
		DurationBuckets:   tier.DurationBuckets,
		Status:            domain.StatusAwaitingApproval,
		PreferredSlots:    preferred,
		RequiredPanelists: cfg.Panel.Required,
		FundingAmount:     amount,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	if b, free, err := e.spanFree(ctx, tx, span); err != nil {
		return domain.Case{}, err
	} else if !free {
		alts, err := e.suggest(ctx, tx, c)
		if err != nil {
			return domain.Case{}, err
		}
		if b.Kind == repo.BindingBlock {
			return domain.Case{}, domain.ErrSlotBlocked.With("slot %s is blocked", b.Slot).WithAlternates(alts)
		}
		return domain.Case{}, domain.ErrSlotConflict.With("slot %s is already booked", b.Slot).WithAlternates(alts)
	}
	if err := e.Repo.EnsureActor(ctx, tx, c.SubmitterID, now); err != nil {
		return domain.Case{}, err
	}
	if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
		return domain.Case{}, fmt.Errorf("insert case: %w", err)
	}
	if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: events.CaseCreated, ActorID: c.SubmitterID, ActorRole: domain.RoleSubmitter,
		Description: c.Title, Metadata: events.Metadata{"slot": c.Slot, "tier": c.Tier, "funding_amount": c.FundingAmount.String()}}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	e.Metrics.Transition(string(c.Status))
	return c, nil
}

func undecided() repo.CaseGuard {
	return repo.CaseGuard{Status: domain.StatusAwaitingApproval, RescheduleRequested: boolPtr(false)}
}

// Decide applies an approver decision to a case awaiting approval.
//
// Approve claims the case's slot span. When another case got there first the
// case stays in awaiting_approval with its reschedule flag set and suggested
// alternates attached; the result describes that state and the returned
// error is ErrSlotConflict (or ErrSlotBlocked) carrying the same alternates.
func (e Engine) Decide(ctx context.Context, caseID string, actor domain.Actor, d domain.Decision) (DecisionResult, error) {
	if d == nil {
		return DecisionResult{}, domain.Invalid("decision is required")
	}
	if _, err := e.config(); err != nil {
		return DecisionResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DecisionResult{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCase(ctx, tx, caseID)
	if err != nil {
		return DecisionResult{}, err
	}
	if c.Status != domain.StatusAwaitingApproval {
		return DecisionResult{}, domain.ErrAlreadyDecided.With("case %s is already %s", c.ID, c.Status)
	}
	if c.RescheduleRequested {
		return DecisionResult{}, domain.ErrAlreadyDecided.With("case %s is waiting for its submitter to pick a new slot", c.ID)
	}

	var (
		notes    outbox
		res      DecisionResult
		conflict *domain.Error
	)
	switch d := d.(type) {
	case domain.Approve:
		span, err := e.span(c.Slot, c.DurationBuckets)
		if err != nil {
			return DecisionResult{}, err
		}
		if err := e.bindSpan(ctx, tx, c.ID, span); err != nil {
			if !errors.As(err, &conflict) || conflict.Kind != domain.KindConflict {
				return DecisionResult{}, err
			}
			res, err = e.markReschedule(ctx, tx, c, actor, d.Alternates, conflict.Code, d.Comment, &notes)
			if err != nil {
				return DecisionResult{}, err
			}
			break
		}
		ok, err := e.advance(ctx, tx, c, domain.StatusOpenForApplications, undecided(), repo.CaseChange{
			RescheduleRequested: boolPtr(false),
			SuggestedSlots:      slotsPtr(nil),
		})
		if err != nil {
			return DecisionResult{}, err
		}
		if !ok {
			return DecisionResult{}, domain.ErrAlreadyDecided.With("case %s was decided concurrently", c.ID)
		}
		if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: events.CaseApproved, ActorID: actor.ID, ActorRole: actor.Role,
			Description: d.Comment, Metadata: events.Metadata{"slots": span}}); err != nil {
			return DecisionResult{}, err
		}
		notes.add(c.SubmitterID, domain.RoleSubmitter, c.ID, "case_approved", map[string]any{"slot": c.Slot})
		res = DecisionResult{Outcome: OutcomeApproved}
	case domain.Reject:
		if !d.Reason.Valid() {
			return DecisionResult{}, domain.Invalid(fmt.Sprintf("unknown rejection reason %q", d.Reason))
		}
		if d.Reason.IsConflict() {
			res, err = e.markReschedule(ctx, tx, c, actor, nil, string(d.Reason), d.Comment, &notes)
			if err != nil {
				return DecisionResult{}, err
			}
			break
		}
		reason := string(d.Reason)
		ok, err := e.advance(ctx, tx, c, domain.StatusCancelled, undecided(), repo.CaseChange{RejectionReason: &reason})
		if err != nil {
			return DecisionResult{}, err
		}
		if !ok {
			return DecisionResult{}, domain.ErrAlreadyDecided.With("case %s was decided concurrently", c.ID)
		}
		if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: events.CaseRejected, ActorID: actor.ID, ActorRole: actor.Role,
			Description: d.Comment, Metadata: events.Metadata{"reason": reason}}); err != nil {
			return DecisionResult{}, err
		}
		notes.add(c.SubmitterID, domain.RoleSubmitter, c.ID, "case_rejected", map[string]any{"reason": reason, "comment": d.Comment})
		res = DecisionResult{Outcome: OutcomeRejected, Reason: reason}
	case domain.RescheduleRequested:
		res, err = e.markReschedule(ctx, tx, c, actor, d.Alternates, "reschedule_requested", d.Comment, &notes)
		if err != nil {
			return DecisionResult{}, err
		}
	default:
		return DecisionResult{}, domain.Invalid(fmt.Sprintf("unsupported decision %T", d))
	}

	if err := tx.Commit(); err != nil {
		return DecisionResult{}, err
	}
	if res.Case, err = e.Repo.GetCase(ctx, nil, c.ID); err != nil {
		return DecisionResult{}, err
	}
	if res.Outcome == OutcomeRescheduleRequired {
		e.Metrics.Transition(OutcomeRescheduleRequired)
	} else {
		e.Metrics.Transition(string(res.Case.Status))
	}
	e.deliver(ctx, notes)
	if conflict != nil {
		return res, conflict.WithAlternates(res.Alternates)
	}
	return res, nil
}

// markReschedule loops the case back to its submitter with alternates. The
// approver's alternates win; otherwise the ledger proposes some.
func (e Engine) markReschedule(ctx context.Context, tx *sql.Tx, c domain.Case, actor domain.Actor, given []domain.Slot, code, comment string, notes *outbox) (DecisionResult, error) {
	alts := given
	if len(alts) == 0 {
		var err error
		if alts, err = e.suggest(ctx, tx, c); err != nil {
			return DecisionResult{}, err
		}
	}
	ok, err := e.Repo.UpdateCaseIf(ctx, tx, c.ID, undecided(), repo.CaseChange{
		RescheduleRequested: boolPtr(true),
		SuggestedSlots:      slotsPtr(alts),
	}, e.stamp())
	if err != nil {
		return DecisionResult{}, err
	}
	if !ok {
		return DecisionResult{}, domain.ErrAlreadyDecided.With("case %s was decided concurrently", c.ID)
	}
	if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: events.CaseRescheduleNeeded, ActorID: actor.ID, ActorRole: actor.Role,
		Description: comment, Metadata: events.Metadata{"reason": code, "slot": c.Slot, "alternate_slots": alts}}); err != nil {
		return DecisionResult{}, err
	}
	notes.add(c.SubmitterID, domain.RoleSubmitter, c.ID, "reschedule_required", map[string]any{"reason": code, "alternate_slots": alts})
	return DecisionResult{Outcome: OutcomeRescheduleRequired, Reason: code, Alternates: alts}, nil
}

// BulkReview applies one decision to each case in order. A slot conflict
// sends that case into the reschedule loop exactly as a single review does.
func (e Engine) BulkReview(ctx context.Context, caseIDs []string, actor domain.Actor, d domain.Decision) BulkReport {
	var report BulkReport
	for _, id := range caseIDs {
		res, err := e.Decide(ctx, id, actor, d)
		item := BulkItem{ID: id, Outcome: res.Outcome, Status: res.Case.Status, Alternates: res.Alternates}
		switch {
		case err == nil:
			item.Result = ItemProcessed
		case res.Outcome == OutcomeRescheduleRequired:
			item.Result = ItemProcessed
			item.Code, item.Message = domain.CodeOf(err), err.Error()
		case errors.Is(err, domain.ErrAlreadyDecided):
			item.Result = ItemSkipped
			item.Code, item.Message = domain.CodeOf(err), err.Error()
		default:
			item.Result = ItemErrored
			item.Code, item.Message = domain.CodeOf(err), err.Error()
		}
		report.add(item)
	}
	return report
}

// RequestSlot lets the submitter pick a new slot while the case awaits
// approval, typically after a reschedule. It clears the reschedule flag and
// the approver's suggestions; the submitter's own alternates are kept.
func (e Engine) RequestSlot(ctx context.Context, caseID string, actor domain.Actor, slot domain.Slot) (domain.Case, error) {
	s, err := slot.Normalize()
	if err != nil {
		return domain.Case{}, err
	}
	if _, err := e.config(); err != nil {
		return domain.Case{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCase(ctx, tx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if actor.ID != c.SubmitterID {
		return domain.Case{}, domain.ErrNotCaseOwner.With("only %s may reschedule case %s", c.SubmitterID, c.ID)
	}
	if c.Status != domain.StatusAwaitingApproval {
		return domain.Case{}, domain.ErrInvalidTransition.With("case %s is %s; slots can only change while awaiting approval", c.ID, c.Status)
	}
	span, err := e.span(s, c.DurationBuckets)
	if err != nil {
		return domain.Case{}, err
	}
	if err := e.checkLead(s); err != nil {
		return domain.Case{}, err
	}
	if b, free, err := e.spanFree(ctx, tx, span); err != nil {
		return domain.Case{}, err
	} else if !free {
		probe := c
		probe.Slot = s
		alts, err := e.suggest(ctx, tx, probe)
		if err != nil {
			return domain.Case{}, err
		}
		if b.Kind == repo.BindingBlock {
			return domain.Case{}, domain.ErrSlotBlocked.With("slot %s is blocked", b.Slot).WithAlternates(alts)
		}
		return domain.Case{}, domain.ErrSlotConflict.With("slot %s is already booked", b.Slot).WithAlternates(alts)
	}
	ok, err := e.Repo.UpdateCaseIf(ctx, tx, c.ID,
		repo.CaseGuard{Status: domain.StatusAwaitingApproval, RescheduleRequested: boolPtr(c.RescheduleRequested)},
		repo.CaseChange{Slot: &s, RescheduleRequested: boolPtr(false), SuggestedSlots: slotsPtr(nil)}, e.stamp())
	if err != nil {
		return domain.Case{}, err
	}
	if !ok {
		return domain.Case{}, domain.ErrAlreadyDecided.With("case %s was decided concurrently", c.ID)
	}
	if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: events.CaseSlotRequested, ActorID: actor.ID, ActorRole: actor.Role,
		Metadata: events.Metadata{"from": c.Slot, "to": s}}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return e.Repo.GetCase(ctx, nil, c.ID)
}

// ensureReady checks what ready_for_execution promises: the case holds its
// whole slot span and the approved panel is exactly the required size.
func (e Engine) ensureReady(ctx context.Context, tx *sql.Tx, c domain.Case, approved int) error {
	held, err := e.Repo.CaseSlots(ctx, tx, c.ID)
	if err != nil {
		return err
	}
	span, err := e.span(c.Slot, c.DurationBuckets)
	if err != nil {
		return err
	}
	if len(held) != len(span) {
		return domain.ErrSlotNotHeld.With("case %s holds %d of %d slots", c.ID, len(held), len(span))
	}
	for i := range span {
		if held[i] != span[i] {
			return domain.ErrSlotNotHeld.With("case %s does not hold slot %s", c.ID, span[i])
		}
	}
	if approved != c.RequiredPanelists {
		return domain.ErrQuorumNotMet.With("case %s has %d of %d approved panelists", c.ID, approved, c.RequiredPanelists)
	}
	return nil
}

// Begin starts the proceeding and notifies every approved panelist.
func (e Engine) Begin(ctx context.Context, caseID string, actor domain.Actor) (domain.Case, error) {
	return e.submitterStep(ctx, caseID, actor, domain.StatusReadyForExecution, domain.StatusInExecution, events.CaseStarted, "execution_started")
}

// Conclude marks the proceeding over; every approved panelist is told a
// verdict is due.
func (e Engine) Conclude(ctx context.Context, caseID string, actor domain.Actor) (domain.Case, error) {
	return e.submitterStep(ctx, caseID, actor, domain.StatusInExecution, domain.StatusAwaitingResults, events.CaseConcluded, "verdict_due")
}

func (e Engine) submitterStep(ctx context.Context, caseID string, actor domain.Actor, from, to domain.CaseStatus, kind, note string) (domain.Case, error) {
	if _, err := e.config(); err != nil {
		return domain.Case{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCase(ctx, tx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if actor.ID != c.SubmitterID {
		return domain.Case{}, domain.ErrNotCaseOwner.With("only %s may advance case %s", c.SubmitterID, c.ID)
	}
	if c.Status != from {
		return domain.Case{}, domain.ErrInvalidTransition.With("case %s is %s, expected %s", c.ID, c.Status, from)
	}
	roster, err := e.Repo.ApprovedRoster(ctx, tx, c.ID)
	if err != nil {
		return domain.Case{}, err
	}
	if err := e.ensureReady(ctx, tx, c, len(roster)); err != nil {
		tx.Rollback()
		return domain.Case{}, e.violation(ctx, c.ID, actor, err, map[string]any{"from": from, "to": to})
	}
	ok, err := e.advance(ctx, tx, c, to, repo.CaseGuard{}, repo.CaseChange{})
	if err != nil {
		return domain.Case{}, err
	}
	if !ok {
		return domain.Case{}, domain.ErrInvalidTransition.With("case %s changed concurrently", c.ID)
	}
	if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: kind, ActorID: actor.ID, ActorRole: actor.Role,
		Metadata: events.Metadata{"from": from, "to": to, "roster": roster}}); err != nil {
		return domain.Case{}, err
	}
	var notes outbox
	notes.roster(roster, c.ID, note, map[string]any{"slot": c.Slot, "title": c.Title})
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	e.Metrics.Transition(string(to))
	e.deliver(ctx, notes)
	return e.Repo.GetCase(ctx, nil, c.ID)
}

// Cancel withdraws a case. Only cases still awaiting approval can be
// cancelled, by their submitter or by an approver.
func (e Engine) Cancel(ctx context.Context, caseID string, actor domain.Actor, reason string) (domain.Case, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "withdrawn"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCase(ctx, tx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if actor.ID != c.SubmitterID && actor.Role != domain.RoleApprover {
		return domain.Case{}, domain.ErrNotCaseOwner.With("only %s or an approver may cancel case %s", c.SubmitterID, c.ID)
	}
	if c.Status != domain.StatusAwaitingApproval {
		return domain.Case{}, domain.ErrInvalidTransition.With("case %s is %s; only cases awaiting approval can be cancelled", c.ID, c.Status)
	}
	released, err := e.Repo.ReleaseCaseSlots(ctx, tx, c.ID)
	if err != nil {
		return domain.Case{}, err
	}
	ok, err := e.advance(ctx, tx, c, domain.StatusCancelled, repo.CaseGuard{}, repo.CaseChange{RejectionReason: &reason})
	if err != nil {
		return domain.Case{}, err
	}
	if !ok {
		return domain.Case{}, domain.ErrAlreadyDecided.With("case %s was decided concurrently", c.ID)
	}
	if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: events.CaseCancelled, ActorID: actor.ID, ActorRole: actor.Role,
		Description: reason, Metadata: events.Metadata{"released_slots": released}}); err != nil {
		return domain.Case{}, err
	}
	var notes outbox
	if actor.ID != c.SubmitterID {
		notes.add(c.SubmitterID, domain.RoleSubmitter, c.ID, "case_cancelled", map[string]any{"reason": reason})
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	e.Metrics.Transition(string(domain.StatusCancelled))
	e.deliver(ctx, notes)
	return e.Repo.GetCase(ctx, nil, c.ID)
}
