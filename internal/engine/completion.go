package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"docket/internal/domain"
	"docket/internal/events"
	"docket/internal/repo"
)

type SubmissionResult struct {
	Verdict domain.Verdict `json:"verdict"`
	// Complete is true when this submission completed the case.
	Complete  bool                `json:"complete"`
	Disbursed bool                `json:"disbursed"`
	Report    *DisbursementReport `json:"disbursement,omitempty"`
}

// SubmitVerdict accepts one panelist's verdict. Completion is checked in the
// same transaction against the roster as it stands, and disbursement runs
// after commit. A failed disbursement is logged and never fails the
// submission.
func (e Engine) SubmitVerdict(ctx context.Context, caseID, panelistID, payload string) (SubmissionResult, error) {
	if strings.TrimSpace(payload) == "" || !json.Valid([]byte(payload)) {
		return SubmissionResult{}, domain.Invalid("verdict payload must be valid JSON")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SubmissionResult{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCase(ctx, tx, caseID)
	if err != nil {
		return SubmissionResult{}, err
	}
	if c.Status != domain.StatusAwaitingResults {
		return SubmissionResult{}, domain.ErrInvalidTransition.With("case %s is %s and not collecting verdicts", c.ID, c.Status)
	}
	roster, err := e.Repo.ApprovedRoster(ctx, tx, c.ID)
	if err != nil {
		return SubmissionResult{}, err
	}
	if !slices.Contains(roster, panelistID) {
		return SubmissionResult{}, domain.ErrNotOnRoster.With("panelist %s is not on the panel of case %s", panelistID, c.ID)
	}
	v := domain.Verdict{
		ID:          uuid.NewString(),
		CaseID:      c.ID,
		PanelistID:  panelistID,
		Payload:     payload,
		SubmittedAt: e.stamp(),
	}
	ok, err := e.Repo.InsertVerdict(ctx, tx, v)
	if err != nil {
		return SubmissionResult{}, err
	}
	if !ok {
		return SubmissionResult{}, domain.ErrDuplicateSubmission.With("panelist %s already submitted for case %s", panelistID, c.ID)
	}
	if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: events.VerdictSubmitted, ActorID: panelistID, ActorRole: domain.RolePanelist,
		Metadata: events.Metadata{"verdict_id": v.ID}}); err != nil {
		return SubmissionResult{}, err
	}
	var notes outbox
	fired, err := e.complete(ctx, tx, c, roster, &notes)
	if err != nil {
		return SubmissionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SubmissionResult{}, err
	}
	e.Metrics.VerdictAccepted()
	res := SubmissionResult{Verdict: v, Complete: fired}
	if !fired {
		return res, nil
	}
	e.Metrics.Transition(string(domain.StatusCompleted))
	e.deliver(ctx, notes)
	res.Report, res.Disbursed = e.autoDisburse(ctx, c.ID)
	return res, nil
}

// DetectCompletion re-runs the completion check for a case. It reports true
// only for the call that actually completed the case; a case that is
// already completed, or still missing verdicts, is left alone.
func (e Engine) DetectCompletion(ctx context.Context, caseID string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCase(ctx, tx, caseID)
	if err != nil {
		return false, err
	}
	if c.Status != domain.StatusAwaitingResults {
		return false, nil
	}
	roster, err := e.Repo.ApprovedRoster(ctx, tx, c.ID)
	if err != nil {
		return false, err
	}
	var notes outbox
	fired, err := e.complete(ctx, tx, c, roster, &notes)
	if err != nil || !fired {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	e.Metrics.Transition(string(domain.StatusCompleted))
	e.deliver(ctx, notes)
	e.autoDisburse(ctx, c.ID)
	return true, nil
}

// complete flips c to completed when every rostered panelist has submitted.
// The conditional update makes concurrent callers agree on a single winner.
func (e Engine) complete(ctx context.Context, tx *sql.Tx, c domain.Case, roster []string, notes *outbox) (bool, error) {
	submitted, err := e.Repo.CountRosterVerdicts(ctx, tx, c.ID)
	if err != nil {
		return false, err
	}
	if len(roster) == 0 || submitted != len(roster) {
		return false, nil
	}
	now := e.stamp()
	ok, err := e.advance(ctx, tx, c, domain.StatusCompleted, repo.CaseGuard{}, repo.CaseChange{CompletedAt: &now})
	if err != nil || !ok {
		return false, err
	}
	if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: events.CaseCompleted, ActorID: domain.System.ID, ActorRole: domain.System.Role,
		Metadata: events.Metadata{"verdicts": submitted, "roster": roster}}); err != nil {
		return false, err
	}
	notes.add(c.SubmitterID, domain.RoleSubmitter, c.ID, "case_completed", map[string]any{"verdicts": submitted})
	notes.roster(roster, c.ID, "case_completed", map[string]any{"verdicts": submitted})
	return true, nil
}

func (e Engine) autoDisburse(ctx context.Context, caseID string) (*DisbursementReport, bool) {
	report, err := e.Disburse(ctx, caseID, domain.System)
	if err != nil {
		e.log().WarnContext(ctx, "disbursement failed",
			slog.String("case_id", caseID),
			slog.String("code", domain.CodeOf(err)),
			slog.Any("err", err))
		return nil, false
	}
	return &report, true
}

func (e Engine) ListVerdicts(ctx context.Context, caseID string) ([]domain.Verdict, error) {
	if _, err := e.Repo.GetCase(ctx, nil, caseID); err != nil {
		return nil, err
	}
	return e.Repo.ListVerdicts(ctx, nil, caseID)
}
