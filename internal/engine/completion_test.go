package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"docket/internal/config"
	"docket/internal/domain"
	"docket/internal/funding"
)

func (env testEnv) fund(t *testing.T, caseID string, amount domain.Amount) {
	t.Helper()
	if _, err := env.Engine.RecordFunding(env.Ctx, caseID, "", amount, "ext-1", submitter); err != nil {
		t.Fatalf("record funding: %v", err)
	}
}

func verdict(p string) string { return fmt.Sprintf(`{"panelist":%q,"finding":"liable"}`, p) }

func TestCompletionAfterFullRoster(t *testing.T) {
	env := newTestEnv(t)
	panel := env.awaitingResults(t, "c1", march10)
	env.fund(t, "c1", 35000)

	for _, p := range panel[:6] {
		res, err := env.Engine.SubmitVerdict(env.Ctx, "c1", p, verdict(p))
		if err != nil {
			t.Fatalf("submit %s: %v", p, err)
		}
		if res.Complete || res.Disbursed {
			t.Fatalf("case completed early after %s", p)
		}
	}
	c, _ := env.Engine.Case(env.Ctx, "c1")
	if c.Status != domain.StatusAwaitingResults {
		t.Fatalf("six of seven: %s", c.Status)
	}

	res, err := env.Engine.SubmitVerdict(env.Ctx, "c1", panel[6], verdict(panel[6]))
	if err != nil {
		t.Fatalf("final submit: %v", err)
	}
	if !res.Complete || !res.Disbursed || res.Report == nil {
		t.Fatalf("expected completion with disbursement: %+v", res)
	}
	c, _ = env.Engine.Case(env.Ctx, "c1")
	if c.Status != domain.StatusCompleted || c.CompletedAt == nil {
		t.Fatalf("case %+v", c)
	}

	r := res.Report
	if r.Succeeded != 7 || r.Failed != 0 || r.PerRecipient != 5000 || r.Moved != 35000 || r.RoundingLoss != 0 {
		t.Fatalf("report %+v", r)
	}
	payments, err := env.Engine.ListPayments(env.Ctx, "c1")
	if err != nil || len(payments) != 7 {
		t.Fatalf("payments %d %v", len(payments), err)
	}
	var total domain.Amount
	for _, p := range payments {
		if p.Amount != 5000 || p.Status != domain.PaymentSucceeded || p.Reference == "" {
			t.Fatalf("payment %+v", p)
		}
		total += p.Amount
	}
	if total != 35000 {
		t.Fatalf("total %s", total)
	}
	bal, _ := env.Engine.Repo.AccountBalance(env.Ctx, nil, funding.EscrowAccount("c1"))
	if bal != 0 {
		t.Fatalf("escrow left with %s", bal)
	}
	if env.Sink.kinds("p3")["payment_succeeded"] != 1 || env.Sink.kinds(submitter.ID)["case_completed"] != 1 {
		t.Fatalf("missing notifications")
	}
}

func TestSubmissionRules(t *testing.T) {
	env := newTestEnv(t, panelOf(2))
	env.openCase(t, "c1", march10)
	env.seat(t, "c1", 2)
	if _, err := env.Engine.SubmitVerdict(env.Ctx, "c1", "p1", verdict("p1")); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("submit before results: %v", err)
	}
	env.Engine.Begin(env.Ctx, "c1", submitter)
	env.Engine.Conclude(env.Ctx, "c1", submitter)
	if _, err := env.Engine.SubmitVerdict(env.Ctx, "c1", "stranger", verdict("x")); !errors.Is(err, domain.ErrNotOnRoster) {
		t.Fatalf("off roster: %v", err)
	}
	if _, err := env.Engine.SubmitVerdict(env.Ctx, "c1", "p1", ""); domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("empty payload: %v", err)
	}
	if _, err := env.Engine.SubmitVerdict(env.Ctx, "c1", "p1", verdict("p1")); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitVerdict(env.Ctx, "c1", "p1", verdict("p1")); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("duplicate: %v", err)
	}
}

func TestCompletionFiresOnce(t *testing.T) {
	env := newTestEnv(t, panelOf(4))
	panel := env.awaitingResults(t, "c1", march10)
	env.fund(t, "c1", 40000)

	results := make([]bool, len(panel))
	var wg sync.WaitGroup
	for i, p := range panel {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.Engine.SubmitVerdict(env.Ctx, "c1", p, verdict(p))
			if err != nil {
				t.Errorf("submit %s: %v", p, err)
				return
			}
			results[i] = res.Complete
		}()
	}
	wg.Wait()
	fired := 0
	for _, f := range results {
		if f {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("completion fired %d times", fired)
	}
	again, err := env.Engine.DetectCompletion(env.Ctx, "c1")
	if err != nil || again {
		t.Fatalf("second detection: %v %v", again, err)
	}
	for kind, want := range map[string]int{"case.completed": 1, "disbursement.completed": 1, "payment.attempted": 4} {
		n, err := env.Engine.Repo.CountEvents(env.Ctx, "c1", kind)
		if err != nil || n != want {
			t.Fatalf("%s events = %d (%v), want %d", kind, n, err, want)
		}
	}
}

func TestDisbursementIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	ledger := env.Engine.Ledger
	env.Engine.Transferer = flakyTransferer{next: ledger, fail: map[string]bool{"p3": true}}
	panel := env.awaitingResults(t, "c1", march10)
	env.fund(t, "c1", 35000)

	completed := false
	for _, p := range panel {
		r, err := env.Engine.SubmitVerdict(env.Ctx, "c1", p, verdict(p))
		if err != nil {
			t.Fatalf("submit %s: %v", p, err)
		}
		if r.Complete {
			completed = true
			if r.Report.Succeeded != 6 || r.Report.Failed != 1 || r.Report.Moved != 30000 {
				t.Fatalf("report %+v", r.Report)
			}
		}
	}
	if !completed {
		t.Fatalf("case never completed")
	}
	c, _ := env.Engine.Case(env.Ctx, "c1")
	if c.Status != domain.StatusCompleted {
		t.Fatalf("status %s", c.Status)
	}
	if env.Sink.kinds("p3")["payment_failed"] != 1 {
		t.Fatalf("p3 not told about the failure")
	}

	env.Engine.Transferer = ledger
	report, err := env.Engine.Disburse(env.Ctx, "c1", approver)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if report.Succeeded != 1 || report.AlreadyPaid != 6 || report.Moved != 5000 {
		t.Fatalf("retry report %+v", report)
	}
	payments, _ := env.Engine.ListPayments(env.Ctx, "c1")
	for _, p := range payments {
		if p.Status != domain.PaymentSucceeded {
			t.Fatalf("payment %+v", p)
		}
		if p.RecipientID == "p3" && p.Attempts != 2 {
			t.Fatalf("p3 attempts = %d", p.Attempts)
		}
	}
}

func TestMissingFundingDoesNotBlockVerdicts(t *testing.T) {
	env := newTestEnv(t, panelOf(2))
	panel := env.awaitingResults(t, "c1", march10)
	env.Engine.SubmitVerdict(env.Ctx, "c1", panel[0], verdict(panel[0]))
	res, err := env.Engine.SubmitVerdict(env.Ctx, "c1", panel[1], verdict(panel[1]))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Complete || res.Disbursed {
		t.Fatalf("expected completion without disbursement: %+v", res)
	}
	n, _ := env.Engine.Repo.CountEvents(env.Ctx, "c1", "disbursement.skipped")
	if n != 1 {
		t.Fatalf("skipped events = %d", n)
	}
	if _, err := env.Engine.Disburse(env.Ctx, "c1", approver); !errors.Is(err, domain.ErrFundingNotFound) {
		t.Fatalf("expected funding not found, got %v", err)
	}
	env.fund(t, "c1", 35000)
	report, err := env.Engine.Disburse(env.Ctx, "c1", approver)
	if err != nil || report.Succeeded != 2 || report.PerRecipient != 17500 {
		t.Fatalf("late disbursement: %+v %v", report, err)
	}
}

type fixedFunding domain.Amount

func (f fixedFunding) LookupCompletedPayment(context.Context, string, string) (domain.Amount, error) {
	return domain.Amount(f), nil
}

func TestZeroFundingSkipsDisbursement(t *testing.T) {
	env := newTestEnv(t, panelOf(2))
	env.Engine.Funding = fixedFunding(0)
	panel := env.awaitingResults(t, "c1", march10)
	if _, err := env.Engine.SubmitVerdict(env.Ctx, "c1", panel[0], verdict(panel[0])); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	res, err := env.Engine.SubmitVerdict(env.Ctx, "c1", panel[1], verdict(panel[1]))
	if err != nil {
		t.Fatalf("final submit: %v", err)
	}
	if !res.Complete || res.Disbursed || res.Report != nil {
		t.Fatalf("expected completion without disbursement: %+v", res)
	}
	if _, err := env.Engine.Disburse(env.Ctx, "c1", approver); !errors.Is(err, domain.ErrFundingNotFound) {
		t.Fatalf("expected funding not found, got %v", err)
	}
	n, _ := env.Engine.Repo.CountEvents(env.Ctx, "c1", "disbursement.skipped")
	if n != 2 {
		t.Fatalf("skipped events = %d", n)
	}
	payments, _ := env.Engine.ListPayments(env.Ctx, "c1")
	if len(payments) != 0 {
		t.Fatalf("zero funding created payments: %+v", payments)
	}
}

func TestRemainderPolicies(t *testing.T) {
	for _, tc := range []struct {
		policy string
		first  domain.Amount
		loss   domain.Amount
	}{
		{"truncate", 1428, 4},
		{"first_recipient", 1432, 0},
	} {
		t.Run(tc.policy, func(t *testing.T) {
			env := newTestEnv(t, func(c *config.Config) { c.Disbursement.Remainder = tc.policy })
			panel := env.awaitingResults(t, "c1", march10)
			env.fund(t, "c1", 10000)
			for _, p := range panel {
				if _, err := env.Engine.SubmitVerdict(env.Ctx, "c1", p, verdict(p)); err != nil {
					t.Fatal(err)
				}
			}
			payments, _ := env.Engine.ListPayments(env.Ctx, "c1")
			var total domain.Amount
			for _, p := range payments {
				total += p.Amount
				if p.RecipientID == "p1" && p.Amount != tc.first {
					t.Fatalf("first recipient got %s", p.Amount)
				}
			}
			if total+tc.loss != 10000 {
				t.Fatalf("total %s loss %s", total, tc.loss)
			}
		})
	}
}

func TestRecordFundingIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.fileCase(t, "c1", march10)
	env.fund(t, "c1", 35000)
	env.fund(t, "c1", 35000)
	if _, err := env.Engine.RecordFunding(env.Ctx, "c1", "", 100, "ext-2", submitter); domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("conflicting amount: %v", err)
	}
	if _, err := env.Engine.RecordFunding(env.Ctx, "c1", "", 0, "", submitter); domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("zero amount: %v", err)
	}
	entries, _ := env.Engine.ListLedger(env.Ctx, "c1")
	if len(entries) != 2 {
		t.Fatalf("ledger entries = %d", len(entries))
	}
	if _, err := env.Engine.Disburse(env.Ctx, "c1", approver); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("disbursing an open case: %v", err)
	}
}
