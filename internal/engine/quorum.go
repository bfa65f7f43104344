package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"docket/internal/domain"
	"docket/internal/events"
	"docket/internal/repo"
)

type ApplicationResult struct {
	Application   domain.Application `json:"application"`
	ApprovedCount int                `json:"approved_count"`
	Required      int                `json:"required_count"`
	CaseStatus    domain.CaseStatus  `json:"case_status"`
}

// Apply records a panelist's pending application to a case that is
// recruiting its panel.
func (e Engine) Apply(ctx context.Context, caseID, panelistID, payload string) (domain.Application, error) {
	if strings.TrimSpace(panelistID) == "" {
		return domain.Application{}, domain.Invalid("panelist is required")
	}
	if payload != "" && !json.Valid([]byte(payload)) {
		return domain.Application{}, domain.Invalid("application payload must be valid JSON")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCase(ctx, tx, caseID)
	if err != nil {
		return domain.Application{}, err
	}
	if c.Status != domain.StatusOpenForApplications {
		return domain.Application{}, domain.ErrInvalidTransition.With("case %s is %s and not accepting applications", c.ID, c.Status)
	}
	if panelistID == c.SubmitterID {
		return domain.Application{}, domain.Invalid("a submitter cannot sit on their own panel")
	}
	now := e.stamp()
	a := domain.Application{
		ID:         uuid.NewString(),
		CaseID:     c.ID,
		PanelistID: panelistID,
		Status:     domain.ApplicationPending,
		Payload:    payload,
		CreatedAt:  now,
	}
	if err := e.Repo.EnsureActor(ctx, tx, panelistID, now); err != nil {
		return domain.Application{}, err
	}
	ok, err := e.Repo.InsertApplication(ctx, tx, a)
	if err != nil {
		return domain.Application{}, err
	}
	if !ok {
		return domain.Application{}, domain.ErrDuplicateApplication.With("panelist %s already applied to case %s", panelistID, c.ID)
	}
	if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: events.ApplicationCreated, ActorID: panelistID, ActorRole: domain.RolePanelist,
		Metadata: events.Metadata{"application_id": a.ID}}); err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	return a, nil
}

// Approve seats a pending applicant on the panel. The approved count is
// re-read inside the transaction, so two racing approvals for the last seat
// cannot both win: the loser gets ErrCapacityExceeded. The approval that
// fills the panel moves the case to ready_for_execution.
func (e Engine) Approve(ctx context.Context, caseID, applicationID string, actor domain.Actor) (ApplicationResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ApplicationResult{}, err
	}
	defer tx.Rollback()

	a, c, err := e.loadApplication(ctx, tx, caseID, applicationID)
	if err != nil {
		return ApplicationResult{}, err
	}
	if a.Status != domain.ApplicationPending {
		return ApplicationResult{}, domain.ErrAlreadyDecided.With("application %s is already %s", a.ID, a.Status)
	}
	count, err := e.Repo.CountApproved(ctx, tx, c.ID)
	if err != nil {
		return ApplicationResult{}, err
	}
	if count >= c.RequiredPanelists {
		e.Metrics.CapacityRejected()
		return ApplicationResult{}, domain.ErrCapacityExceeded.With("case %s already has %d of %d panelists", c.ID, count, c.RequiredPanelists)
	}
	if c.Status != domain.StatusOpenForApplications {
		return ApplicationResult{}, domain.ErrInvalidTransition.With("case %s is %s and not recruiting", c.ID, c.Status)
	}
	now := e.stamp()
	ok, err := e.Repo.DecideApplication(ctx, tx, a.ID, domain.ApplicationApproved, actor.ID, "", now)
	if err != nil {
		return ApplicationResult{}, err
	}
	if !ok {
		return ApplicationResult{}, domain.ErrAlreadyDecided.With("application %s was decided concurrently", a.ID)
	}
	count++
	if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: events.ApplicationApproved, ActorID: actor.ID, ActorRole: actor.Role,
		Metadata: events.Metadata{"application_id": a.ID, "panelist_id": a.PanelistID, "approved_count": count, "required_count": c.RequiredPanelists}}); err != nil {
		return ApplicationResult{}, err
	}
	var notes outbox
	notes.add(a.PanelistID, domain.RolePanelist, c.ID, "application_approved", map[string]any{"application_id": a.ID})

	status := c.Status
	if count == c.RequiredPanelists {
		if err := e.ensureReady(ctx, tx, c, count); err != nil {
			tx.Rollback()
			return ApplicationResult{}, e.violation(ctx, c.ID, actor, err, map[string]any{"application_id": a.ID})
		}
		ok, err := e.advance(ctx, tx, c, domain.StatusReadyForExecution, repo.CaseGuard{}, repo.CaseChange{})
		if err != nil {
			return ApplicationResult{}, err
		}
		if !ok {
			return ApplicationResult{}, domain.ErrInvalidTransition.With("case %s changed concurrently", c.ID)
		}
		if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: events.CaseReady, ActorID: domain.System.ID, ActorRole: domain.System.Role,
			Metadata: events.Metadata{"approved_count": count}}); err != nil {
			return ApplicationResult{}, err
		}
		notes.add(c.SubmitterID, domain.RoleSubmitter, c.ID, "panel_complete", map[string]any{"approved_count": count})
		status = domain.StatusReadyForExecution
	}
	if a, err = e.Repo.GetApplication(ctx, tx, a.ID); err != nil {
		return ApplicationResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ApplicationResult{}, err
	}
	if status != c.Status {
		e.Metrics.Transition(string(status))
	}
	e.deliver(ctx, notes)
	return ApplicationResult{Application: a, ApprovedCount: count, Required: c.RequiredPanelists, CaseStatus: status}, nil
}

// Reject turns down a pending application.
func (e Engine) Reject(ctx context.Context, caseID, applicationID string, actor domain.Actor, comment string) (ApplicationResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ApplicationResult{}, err
	}
	defer tx.Rollback()

	a, c, err := e.loadApplication(ctx, tx, caseID, applicationID)
	if err != nil {
		return ApplicationResult{}, err
	}
	if a.Status != domain.ApplicationPending {
		return ApplicationResult{}, domain.ErrAlreadyDecided.With("application %s is already %s", a.ID, a.Status)
	}
	ok, err := e.Repo.DecideApplication(ctx, tx, a.ID, domain.ApplicationRejected, actor.ID, comment, e.stamp())
	if err != nil {
		return ApplicationResult{}, err
	}
	if !ok {
		return ApplicationResult{}, domain.ErrAlreadyDecided.With("application %s was decided concurrently", a.ID)
	}
	if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: events.ApplicationRejected, ActorID: actor.ID, ActorRole: actor.Role,
		Description: comment, Metadata: events.Metadata{"application_id": a.ID, "panelist_id": a.PanelistID}}); err != nil {
		return ApplicationResult{}, err
	}
	count, err := e.Repo.CountApproved(ctx, tx, c.ID)
	if err != nil {
		return ApplicationResult{}, err
	}
	if a, err = e.Repo.GetApplication(ctx, tx, a.ID); err != nil {
		return ApplicationResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ApplicationResult{}, err
	}
	var notes outbox
	notes.add(a.PanelistID, domain.RolePanelist, c.ID, "application_rejected", map[string]any{"application_id": a.ID, "comment": comment})
	e.deliver(ctx, notes)
	return ApplicationResult{Application: a, ApprovedCount: count, Required: c.RequiredPanelists, CaseStatus: c.Status}, nil
}

func (e Engine) loadApplication(ctx context.Context, tx *sql.Tx, caseID, applicationID string) (domain.Application, domain.Case, error) {
	a, err := e.Repo.GetApplication(ctx, tx, applicationID)
	if err != nil {
		return domain.Application{}, domain.Case{}, err
	}
	if caseID != "" && a.CaseID != caseID {
		return domain.Application{}, domain.Case{}, domain.ErrNotFound.With("application %s not found on case %s", applicationID, caseID)
	}
	c, err := e.Repo.GetCase(ctx, tx, a.CaseID)
	if err != nil {
		return domain.Application{}, domain.Case{}, err
	}
	return a, c, nil
}

// ApprovedCount returns how many panelists are seated on the case.
func (e Engine) ApprovedCount(ctx context.Context, caseID string) (int, error) {
	if _, err := e.Repo.GetCase(ctx, nil, caseID); err != nil {
		return 0, err
	}
	return e.Repo.CountApproved(ctx, nil, caseID)
}

// ApprovedRoster returns the seated panelists in approval order.
func (e Engine) ApprovedRoster(ctx context.Context, caseID string) ([]string, error) {
	if _, err := e.Repo.GetCase(ctx, nil, caseID); err != nil {
		return nil, err
	}
	return e.Repo.ApprovedRoster(ctx, nil, caseID)
}

func (e Engine) ListApplications(ctx context.Context, caseID string, status domain.ApplicationStatus) ([]domain.Application, error) {
	return e.Repo.ListApplications(ctx, nil, caseID, status)
}

// BulkDecide applies one decision to each application in order. Approvals
// stop at the first capacity rejection: the approvals already made stand
// and the remaining approvals are reported as skipped.
func (e Engine) BulkDecide(ctx context.Context, caseID string, applicationIDs []string, decision domain.ApplicationDecision, actor domain.Actor, comment string) (BulkReport, error) {
	if !decision.Valid() {
		return BulkReport{}, domain.Invalid("decision must be approve or reject")
	}
	if _, err := e.Repo.GetCase(ctx, nil, caseID); err != nil {
		return BulkReport{}, err
	}
	var report BulkReport
	full := false
	for _, id := range applicationIDs {
		item := BulkItem{ID: id}
		if full {
			item.Result = ItemSkipped
			item.Code = domain.ErrCapacityExceeded.Code
			item.Message = "panel filled earlier in this batch"
			report.add(item)
			continue
		}
		var (
			res ApplicationResult
			err error
		)
		if decision == domain.DecideApprove {
			res, err = e.Approve(ctx, caseID, id, actor)
		} else {
			res, err = e.Reject(ctx, caseID, id, actor, comment)
		}
		item.Status = res.CaseStatus
		switch {
		case err == nil:
			item.Result = ItemProcessed
			item.Outcome = string(res.Application.Status)
		case errors.Is(err, domain.ErrCapacityExceeded):
			full = true
			item.Result = ItemSkipped
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
	return report, nil
}
