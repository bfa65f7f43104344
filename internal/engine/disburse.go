package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docket/internal/domain"
	"docket/internal/events"
	"docket/internal/repo"
)

// Per-recipient outcomes in a disbursement report.
const (
	PayoutSucceeded   = "succeeded"
	PayoutFailed      = "failed"
	PayoutAlreadyPaid = "already_paid"
	PayoutInFlight    = "in_flight"
)

type Payout struct {
	Payment domain.Payment `json:"payment"`
	Outcome string         `json:"outcome"`
	Error   string         `json:"error,omitempty"`
}

type DisbursementReport struct {
	CaseID       string        `json:"case_id"`
	Funding      domain.Amount `json:"funding_cents"`
	PerRecipient domain.Amount `json:"per_recipient_cents"`
	RoundingLoss domain.Amount `json:"rounding_loss_cents"`
	Moved        domain.Amount `json:"moved_cents"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	AlreadyPaid  int           `json:"already_paid"`
	Payouts      []Payout      `json:"payouts"`
}

// Disburse splits the case's funding across its approved roster and pays
// each panelist independently. It is safe to re-run: succeeded payments are
// skipped and pending or failed ones are retried. A single failure never
// stops the other payouts.
func (e Engine) Disburse(ctx context.Context, caseID string, actor domain.Actor) (DisbursementReport, error) {
	cfg, err := e.config()
	if err != nil {
		return DisbursementReport{}, err
	}
	c, err := e.Repo.GetCase(ctx, nil, caseID)
	if err != nil {
		return DisbursementReport{}, err
	}
	if c.Status != domain.StatusCompleted {
		return DisbursementReport{}, domain.ErrInvalidTransition.With("case %s is %s; only completed cases are disbursed", c.ID, c.Status)
	}
	if e.Funding == nil || e.Transferer == nil {
		return DisbursementReport{}, errors.New("funding source and transferer are required")
	}
	kind := cfg.Disbursement.FundingKind
	amount, err := e.Funding.LookupCompletedPayment(ctx, c.ID, kind)
	if err != nil {
		e.skipDisbursement(ctx, c.ID, actor, kind, err)
		return DisbursementReport{}, err
	}
	if amount <= 0 {
		err := domain.ErrFundingNotFound.With("case %s has no positive %s funding (got %s)", c.ID, kind, amount)
		e.skipDisbursement(ctx, c.ID, actor, kind, err)
		return DisbursementReport{}, err
	}

	payments, loss, fresh, err := e.preparePayments(ctx, c, amount, domain.RemainderPolicy(cfg.Disbursement.Remainder))
	if err != nil {
		return DisbursementReport{}, err
	}
	if fresh {
		e.Metrics.Rounding(int64(loss))
	}

	report := DisbursementReport{CaseID: c.ID, Funding: amount, RoundingLoss: loss, Payouts: make([]Payout, len(payments))}
	if len(payments) > 0 {
		report.PerRecipient = payments[len(payments)-1].Amount
	}
	var (
		g     errgroup.Group
		mu    sync.Mutex
		notes outbox
	)
	g.SetLimit(cfg.Disbursement.Parallelism)
	for i, p := range payments {
		g.Go(func() error {
			out, note := e.payout(ctx, p, actor)
			mu.Lock()
			defer mu.Unlock()
			report.Payouts[i] = out
			if note != nil {
				notes = append(notes, *note)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range report.Payouts {
		switch out.Outcome {
		case PayoutSucceeded:
			report.Succeeded++
			report.Moved += out.Payment.Amount
		case PayoutAlreadyPaid:
			report.AlreadyPaid++
		case PayoutFailed:
			report.Failed++
		}
	}
	if err := e.recordRun(ctx, report, actor); err != nil {
		return report, err
	}
	e.deliver(ctx, notes)
	return report, nil
}

// preparePayments creates the pending record of every roster member in one
// transaction. fresh reports whether any record was new in this run.
func (e Engine) preparePayments(ctx context.Context, c domain.Case, amount domain.Amount, policy domain.RemainderPolicy) ([]domain.Payment, domain.Amount, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, false, err
	}
	defer tx.Rollback()

	roster, err := e.Repo.ApprovedRoster(ctx, tx, c.ID)
	if err != nil {
		return nil, 0, false, err
	}
	if len(roster) == 0 {
		return nil, 0, false, domain.ErrQuorumNotMet.With("case %s has no approved panelists to pay", c.ID)
	}
	shares, loss := amount.Split(len(roster), policy)
	if len(shares) != len(roster) {
		return nil, 0, false, domain.Invalid(fmt.Sprintf("cannot split %s across %d panelists", amount, len(roster)))
	}
	now := e.stamp()
	fresh := false
	out := make([]domain.Payment, 0, len(roster))
	for i, panelist := range roster {
		want := domain.Payment{
			ID:          uuid.NewString(),
			CaseID:      c.ID,
			RecipientID: panelist,
			Role:        domain.RolePanelist,
			Amount:      shares[i],
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		p, err := e.Repo.EnsurePayment(ctx, tx, want)
		if err != nil {
			return nil, 0, false, err
		}
		if p.ID == want.ID {
			fresh = true
		}
		out = append(out, p)
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, false, err
	}
	return out, loss, fresh, nil
}

// payout attempts one payment. Every outcome is recorded on the payment and
// in the event log; errors are reported in the Payout, not returned.
func (e Engine) payout(ctx context.Context, p domain.Payment, actor domain.Actor) (Payout, *domain.Notification) {
	if p.Status == domain.PaymentSucceeded {
		return Payout{Payment: p, Outcome: PayoutAlreadyPaid}, nil
	}
	ok, err := e.Repo.ClaimPayment(ctx, nil, p.ID, p.Attempts, e.stamp())
	if err != nil {
		return e.payoutError(ctx, p, err), nil
	}
	if !ok {
		return Payout{Payment: p, Outcome: PayoutInFlight}, nil
	}
	p.Attempts++

	ref, transferErr := e.Transferer.Transfer(ctx, p)
	status, failure := domain.PaymentSucceeded, ""
	if transferErr != nil {
		status, failure = domain.PaymentFailed, transferErr.Error()
	}
	if err := e.finishPayment(ctx, p, status, ref, failure, actor); err != nil {
		return e.payoutError(ctx, p, err), nil
	}
	p.Status, p.Reference, p.FailureReason = status, ref, failure
	e.Metrics.Payment(string(status), int64(p.Amount))

	n := domain.Notification{RecipientID: p.RecipientID, Role: p.Role, CaseID: p.CaseID,
		Payload: map[string]any{"payment_id": p.ID, "amount": p.Amount.String()}}
	if transferErr != nil {
		e.log().WarnContext(ctx, "payment failed",
			slog.String("case_id", p.CaseID),
			slog.String("recipient_id", p.RecipientID),
			slog.Int("attempt", p.Attempts),
			slog.Any("err", transferErr))
		n.Kind = "payment_failed"
		return Payout{Payment: p, Outcome: PayoutFailed, Error: failure}, &n
	}
	n.Kind = "payment_succeeded"
	n.Payload["reference"] = ref
	return Payout{Payment: p, Outcome: PayoutSucceeded}, &n
}

func (e Engine) payoutError(ctx context.Context, p domain.Payment, err error) Payout {
	e.log().ErrorContext(ctx, "payment bookkeeping failed",
		slog.String("case_id", p.CaseID),
		slog.String("recipient_id", p.RecipientID),
		slog.Any("err", err))
	e.Metrics.Payment(string(domain.PaymentFailed), 0)
	return Payout{Payment: p, Outcome: PayoutFailed, Error: err.Error()}
}

func (e Engine) finishPayment(ctx context.Context, p domain.Payment, status domain.PaymentStatus, ref, failure string, actor domain.Actor) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.FinishPayment(ctx, tx, p.ID, status, ref, failure, e.stamp()); err != nil {
		return err
	}
	if err := e.record(ctx, tx, events.Entry{CaseID: p.CaseID, Kind: events.PaymentAttempted, ActorID: actor.ID, ActorRole: actor.Role,
		Description: failure, Metadata: events.Metadata{
			"payment_id":   p.ID,
			"recipient_id": p.RecipientID,
			"amount":       int64(p.Amount),
			"attempt":      p.Attempts,
			"status":       status,
			"reference":    ref,
		}}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) recordRun(ctx context.Context, r DisbursementReport, actor domain.Actor) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.record(ctx, tx, events.Entry{CaseID: r.CaseID, Kind: events.DisbursementRun, ActorID: actor.ID, ActorRole: actor.Role,
		Metadata: events.Metadata{
			"funding":       int64(r.Funding),
			"per_recipient": int64(r.PerRecipient),
			"succeeded":     r.Succeeded,
			"failed":        r.Failed,
			"already_paid":  r.AlreadyPaid,
			"moved":         int64(r.Moved),
			"rounding_loss": int64(r.RoundingLoss),
		}}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) skipDisbursement(ctx context.Context, caseID string, actor domain.Actor, kind string, cause error) {
	e.log().WarnContext(ctx, "disbursement skipped",
		slog.String("case_id", caseID),
		slog.String("kind", kind),
		slog.Any("err", cause))
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if e.record(ctx, tx, events.Entry{CaseID: caseID, Kind: events.DisbursementSkipped, ActorID: actor.ID, ActorRole: actor.Role,
		Description: cause.Error(), Metadata: events.Metadata{"funding_kind": kind, "code": domain.CodeOf(cause)}}) == nil {
		_ = tx.Commit()
	}
}

// RecordFunding stores the completed incoming payment a case is funded by
// and credits the case escrow. Recording the same amount again is a no-op.
func (e Engine) RecordFunding(ctx context.Context, caseID, kind string, amount domain.Amount, reference string, actor domain.Actor) (domain.FundingPayment, error) {
	cfg, err := e.config()
	if err != nil {
		return domain.FundingPayment{}, err
	}
	if strings.TrimSpace(kind) == "" {
		kind = cfg.Disbursement.FundingKind
	}
	if amount <= 0 {
		return domain.FundingPayment{}, domain.Invalid("funding amount must be positive")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.FundingPayment{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCase(ctx, tx, caseID)
	if err != nil {
		return domain.FundingPayment{}, err
	}
	if c.Status == domain.StatusCancelled {
		return domain.FundingPayment{}, domain.ErrInvalidTransition.With("case %s is cancelled", c.ID)
	}
	existing, err := e.Repo.GetFunding(ctx, tx, c.ID, kind)
	switch {
	case err == nil:
		if existing.Amount != amount {
			return domain.FundingPayment{}, domain.Invalid(fmt.Sprintf("case %s already has %s funding of %s", c.ID, kind, existing.Amount))
		}
		return existing, nil
	case !errors.Is(err, repo.ErrNotFound):
		return domain.FundingPayment{}, err
	}
	f := domain.FundingPayment{CaseID: c.ID, Kind: kind, Amount: amount, Reference: reference, RecordedAt: e.stamp()}
	if err := e.Repo.UpsertFunding(ctx, tx, f); err != nil {
		return domain.FundingPayment{}, err
	}
	ledger := e.Ledger
	if ledger.Now == nil {
		ledger.Now = e.now
	}
	transfer, err := ledger.Deposit(ctx, tx, c.ID, kind, amount)
	if err != nil {
		return domain.FundingPayment{}, err
	}
	if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: events.FundingRecorded, ActorID: actor.ID, ActorRole: actor.Role,
		Metadata: events.Metadata{"kind": kind, "amount": int64(amount), "reference": reference, "transfer_id": transfer}}); err != nil {
		return domain.FundingPayment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.FundingPayment{}, err
	}
	return f, nil
}

func (e Engine) ListPayments(ctx context.Context, caseID string) ([]domain.Payment, error) {
	if _, err := e.Repo.GetCase(ctx, nil, caseID); err != nil {
		return nil, err
	}
	return e.Repo.ListPayments(ctx, nil, caseID)
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.ListEvents(ctx, f)
}

func (e Engine) ListLedger(ctx context.Context, caseID string) ([]domain.LedgerEntry, error) {
	return e.Repo.ListLedgerEntries(ctx, nil, caseID)
}
