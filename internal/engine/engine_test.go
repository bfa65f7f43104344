package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"docket/internal/config"
	"docket/internal/db"
	"docket/internal/domain"
	"docket/internal/engine"
	"docket/internal/metrics"
	"docket/internal/migrate"
)

var (
	approver  = domain.Actor{ID: "rev-1", Role: domain.RoleApprover}
	submitter = domain.Actor{ID: "sub-1", Role: domain.RoleSubmitter}
	march10   = domain.Slot{Date: "2025-03-10", Time: "09:00"}
)

type recordingSink struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (s *recordingSink) Notify(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
	return nil
}

func (s *recordingSink) kinds(recipient string) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, n := range s.notes {
		if n.RecipientID == recipient {
			out[n.Kind]++
		}
	}
	return out
}

// flakyTransferer fails payments to the listed recipients and passes the
// rest to the ledger.
type flakyTransferer struct {
	next domain.Transferer
	fail map[string]bool
}

func (f flakyTransferer) Transfer(ctx context.Context, p domain.Payment) (string, error) {
	if f.fail[p.RecipientID] {
		return "", domain.ErrTransferFailed.With("bank rejected %s", p.RecipientID)
	}
	return f.next.Transfer(ctx, p)
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Sink   *recordingSink
}

func newTestEnv(t *testing.T, tweaks ...func(*config.Config)) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	for _, tweak := range tweaks {
		tweak(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	sink := &recordingSink{}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }
	eng.Sink = sink
	eng.Metrics = metrics.New()
	eng.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return testEnv{Engine: eng, Ctx: context.Background(), Sink: sink}
}

func panelOf(n int) func(*config.Config) {
	return func(c *config.Config) { c.Panel.Required = n }
}

func (env testEnv) fileCase(t *testing.T, id string, slot domain.Slot) domain.Case {
	t.Helper()
	c, err := env.Engine.CreateCase(env.Ctx, engine.CreateCaseOptions{ID: id, SubmitterID: submitter.ID, Title: "Case " + id, Slot: slot})
	if err != nil {
		t.Fatalf("create case %s: %v", id, err)
	}
	return c
}

func (env testEnv) openCase(t *testing.T, id string, slot domain.Slot) domain.Case {
	t.Helper()
	env.fileCase(t, id, slot)
	res, err := env.Engine.Decide(env.Ctx, id, approver, domain.Approve{})
	if err != nil {
		t.Fatalf("approve case %s: %v", id, err)
	}
	if res.Case.Status != domain.StatusOpenForApplications {
		t.Fatalf("expected open_for_applications, got %s", res.Case.Status)
	}
	return res.Case
}

// seat applies and approves n panelists named p1..pn.
func (env testEnv) seat(t *testing.T, caseID string, n int) []string {
	t.Helper()
	var ids []string
	for i := 1; i <= n; i++ {
		pid := fmt.Sprintf("p%d", i)
		app, err := env.Engine.Apply(env.Ctx, caseID, pid, `{"bio":"x"}`)
		if err != nil {
			t.Fatalf("apply %s: %v", pid, err)
		}
		if _, err := env.Engine.Approve(env.Ctx, caseID, app.ID, approver); err != nil {
			t.Fatalf("approve %s: %v", pid, err)
		}
		ids = append(ids, pid)
	}
	return ids
}

// awaitingResults drives a case with a full panel to awaiting_results.
func (env testEnv) awaitingResults(t *testing.T, id string, slot domain.Slot) []string {
	t.Helper()
	env.openCase(t, id, slot)
	panel := env.seat(t, id, env.Engine.Config.Panel.Required)
	if _, err := env.Engine.Begin(env.Ctx, id, submitter); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := env.Engine.Conclude(env.Ctx, id, submitter); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	return panel
}

func TestCaseCreateAndApprove(t *testing.T) {
	env := newTestEnv(t)
	c := env.fileCase(t, "c1", march10)
	if c.Status != domain.StatusAwaitingApproval || c.Slot.Time != "09:00:00" || c.FundingAmount != 35000 {
		t.Fatalf("unexpected case %+v", c)
	}
	free, err := env.Engine.IsFree(env.Ctx, march10)
	if err != nil || !free {
		t.Fatalf("filing must not claim the slot: free=%v err=%v", free, err)
	}
	res, err := env.Engine.Decide(env.Ctx, "c1", approver, domain.Approve{})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if res.Outcome != engine.OutcomeApproved || res.Case.Status != domain.StatusOpenForApplications {
		t.Fatalf("unexpected result %+v", res)
	}
	if free, _ := env.Engine.IsFree(env.Ctx, march10); free {
		t.Fatalf("approved case must hold its slot")
	}
	if env.Sink.kinds(submitter.ID)["case_approved"] != 1 {
		t.Fatalf("submitter not notified: %v", env.Sink.kinds(submitter.ID))
	}
	if _, err := env.Engine.Decide(env.Ctx, "c1", approver, domain.Approve{}); !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("expected already decided, got %v", err)
	}
}

func TestApprovalRaceHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	env.fileCase(t, "a", march10)
	env.fileCase(t, "b", march10)

	type outcome struct {
		res engine.DecisionResult
		err error
	}
	results := make([]outcome, 2)
	var wg sync.WaitGroup
	for i, id := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.Engine.Decide(env.Ctx, id, approver, domain.Approve{})
			results[i] = outcome{res, err}
		}()
	}
	wg.Wait()

	var winners, losers int
	for _, r := range results {
		switch {
		case r.err == nil:
			winners++
			if r.res.Case.Status != domain.StatusOpenForApplications {
				t.Fatalf("winner in %s", r.res.Case.Status)
			}
		case errors.Is(r.err, domain.ErrSlotConflict):
			losers++
			if r.res.Case.Status != domain.StatusAwaitingApproval || !r.res.Case.RescheduleRequested {
				t.Fatalf("loser should await a reschedule: %+v", r.res.Case)
			}
			var de *domain.Error
			if !errors.As(r.err, &de) || len(de.Alternates) == 0 || len(r.res.Case.SuggestedSlots) == 0 {
				t.Fatalf("loser got no alternates: %v", r.err)
			}
			if de.Alternates[0] == r.res.Case.Slot {
				t.Fatalf("suggested the contested slot")
			}
		default:
			t.Fatalf("unexpected error %v", r.err)
		}
	}
	if winners != 1 || losers != 1 {
		t.Fatalf("winners=%d losers=%d", winners, losers)
	}
}

func TestCreateCaseOnBookedSlot(t *testing.T) {
	env := newTestEnv(t)
	env.openCase(t, "c1", march10)
	_, err := env.Engine.CreateCase(env.Ctx, engine.CreateCaseOptions{SubmitterID: "sub-2", Title: "late", Slot: march10})
	var de *domain.Error
	if !errors.As(err, &de) || de.Code != domain.ErrSlotConflict.Code || len(de.Alternates) != 3 {
		t.Fatalf("expected conflict with 3 alternates, got %v", err)
	}
}

func TestCreateCaseValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.CreateCaseOptions{
		{SubmitterID: "", Title: "x", Slot: march10},
		{SubmitterID: "s", Title: "", Slot: march10},
		{SubmitterID: "s", Title: "x", Slot: domain.Slot{Date: "2025-03-02", Time: "09:00"}},
		{SubmitterID: "s", Title: "x", Slot: domain.Slot{Date: "2025-03-10", Time: "09:30"}},
		{SubmitterID: "s", Title: "x", Slot: domain.Slot{Date: "2025-03-10", Time: "16:00"}, Tier: "extended"},
		{SubmitterID: "s", Title: "x", Slot: march10, Tier: "gold"},
	}
	for i, opts := range cases {
		if _, err := env.Engine.CreateCase(env.Ctx, opts); domain.KindOf(err) != domain.KindInvalid {
			t.Fatalf("case %d: expected invalid, got %v", i, err)
		}
	}
}

func TestRejectIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.fileCase(t, "c1", march10)
	res, err := env.Engine.Decide(env.Ctx, "c1", approver, domain.Reject{Reason: domain.ReasonDuplicate})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Case.Status != domain.StatusCancelled || res.Case.RejectionReason == nil || *res.Case.RejectionReason != "duplicate" {
		t.Fatalf("unexpected case %+v", res.Case)
	}
	if res.Case.Status.Review() != domain.ReviewRejected {
		t.Fatalf("review = %s", res.Case.Status.Review())
	}
	if _, err := env.Engine.Begin(env.Ctx, "c1", submitter); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := env.Engine.Decide(env.Ctx, "c1", approver, domain.Approve{}); !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("expected already decided, got %v", err)
	}
}

func TestRejectForConflictNeverCancels(t *testing.T) {
	env := newTestEnv(t)
	env.fileCase(t, "c1", march10)
	res, err := env.Engine.Decide(env.Ctx, "c1", approver, domain.Reject{Reason: domain.ReasonSchedulingConflict, Comment: "room taken"})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if res.Outcome != engine.OutcomeRescheduleRequired || res.Case.Status != domain.StatusAwaitingApproval || !res.Case.RescheduleRequested {
		t.Fatalf("conflict rejection cancelled the case: %+v", res)
	}

	env.fileCase(t, "c2", domain.Slot{Date: "2025-03-11", Time: "09:00"})
	_, err = env.Engine.Decide(env.Ctx, "c2", approver, domain.Reject{Reason: "bogus"})
	if domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("expected invalid reason error, got %v", err)
	}
	c, _ := env.Engine.Case(env.Ctx, "c2")
	if c.Status != domain.StatusAwaitingApproval || c.RejectionReason != nil {
		t.Fatalf("unknown reason touched the case: %+v", c)
	}
}

func TestRescheduleLoop(t *testing.T) {
	env := newTestEnv(t)
	env.fileCase(t, "c1", march10)
	d, err := domain.ParseDecision("reject", string(domain.ReasonSchedulingConflict), "room taken", nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.Decide(env.Ctx, "c1", approver, d)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if res.Outcome != engine.OutcomeRescheduleRequired || res.Case.Status != domain.StatusAwaitingApproval || !res.Case.RescheduleRequested {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Alternates) != 3 {
		t.Fatalf("expected 3 alternates, got %v", res.Alternates)
	}
	if _, err := env.Engine.Decide(env.Ctx, "c1", approver, domain.Approve{}); !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("flagged case must wait for its submitter, got %v", err)
	}

	next := res.Alternates[0]
	other := domain.Actor{ID: "intruder", Role: domain.RoleSubmitter}
	if _, err := env.Engine.RequestSlot(env.Ctx, "c1", other, next); !errors.Is(err, domain.ErrNotCaseOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	c, err := env.Engine.RequestSlot(env.Ctx, "c1", submitter, next)
	if err != nil {
		t.Fatalf("request slot: %v", err)
	}
	if c.RescheduleRequested || len(c.SuggestedSlots) != 0 || c.Slot != next {
		t.Fatalf("unexpected case after re-request %+v", c)
	}
	res, err = env.Engine.Decide(env.Ctx, "c1", approver, domain.Approve{})
	if err != nil || res.Case.Status != domain.StatusOpenForApplications {
		t.Fatalf("approve after reschedule: %+v %v", res, err)
	}
	if env.Sink.kinds(submitter.ID)["reschedule_required"] != 1 {
		t.Fatalf("missing reschedule notification")
	}
}

func TestApproverAlternatesWin(t *testing.T) {
	env := newTestEnv(t)
	ten := domain.Slot{Date: "2025-03-10", Time: "10:00"}
	env.fileCase(t, "c1", ten)
	env.openCase(t, "c2", ten)
	given := []domain.Slot{{Date: "2025-03-12", Time: "13:00:00"}}
	res, err := env.Engine.Decide(env.Ctx, "c1", approver, domain.Approve{Alternates: given})
	if !errors.Is(err, domain.ErrSlotConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(res.Alternates) != 1 || res.Alternates[0] != given[0] {
		t.Fatalf("approver alternates not used: %v", res.Alternates)
	}
}

func TestPreferredSlotsSuggestedFirst(t *testing.T) {
	env := newTestEnv(t)
	pref := domain.Slot{Date: "2025-03-20", Time: "14:00:00"}
	if _, err := env.Engine.CreateCase(env.Ctx, engine.CreateCaseOptions{ID: "c2", SubmitterID: submitter.ID, Title: "t",
		Slot: domain.Slot{Date: "2025-03-11", Time: "09:00"}, PreferredSlots: []domain.Slot{pref}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.Block(env.Ctx, "2025-03-11", "09:00", "maintenance", approver); err != nil {
		t.Fatalf("block: %v", err)
	}
	res, err := env.Engine.Decide(env.Ctx, "c2", approver, domain.Approve{})
	if !errors.Is(err, domain.ErrSlotBlocked) {
		t.Fatalf("expected blocked, got %v", err)
	}
	if len(res.Alternates) == 0 || res.Alternates[0] != pref {
		t.Fatalf("preferred slot should come first: %v", res.Alternates)
	}
	if len(res.Case.PreferredSlots) != 1 {
		t.Fatalf("preferred slots lost: %+v", res.Case)
	}
}

func TestBulkReview(t *testing.T) {
	env := newTestEnv(t)
	env.fileCase(t, "c1", march10)
	env.fileCase(t, "c2", march10)
	env.fileCase(t, "c3", domain.Slot{Date: "2025-03-10", Time: "10:00"})
	env.fileCase(t, "c4", domain.Slot{Date: "2025-03-10", Time: "11:00"})
	if _, err := env.Engine.Decide(env.Ctx, "c4", approver, domain.Reject{Reason: domain.ReasonOther}); err != nil {
		t.Fatal(err)
	}

	report := env.Engine.BulkReview(env.Ctx, []string{"c1", "c2", "c3", "c4", "missing"}, approver, domain.Approve{})
	if report.Processed != 3 || report.Skipped != 1 || report.Errored != 1 {
		t.Fatalf("unexpected counts %+v", report)
	}
	c2 := report.Items[1]
	if c2.Outcome != engine.OutcomeRescheduleRequired || c2.Code != "slot_conflict" || c2.Status != domain.StatusAwaitingApproval || len(c2.Alternates) == 0 {
		t.Fatalf("conflict in bulk should reschedule: %+v", c2)
	}
	if report.Items[4].Code != "not_found" {
		t.Fatalf("missing case item %+v", report.Items[4])
	}
}

func TestCancelOnlyWhileAwaitingApproval(t *testing.T) {
	env := newTestEnv(t)
	env.fileCase(t, "c1", march10)
	if _, err := env.Engine.Cancel(env.Ctx, "c1", domain.Actor{ID: "someone", Role: domain.RolePanelist}, ""); !errors.Is(err, domain.ErrNotCaseOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	c, err := env.Engine.Cancel(env.Ctx, "c1", submitter, "changed my mind")
	if err != nil || c.Status != domain.StatusCancelled {
		t.Fatalf("cancel: %+v %v", c, err)
	}
	env.openCase(t, "c2", domain.Slot{Date: "2025-03-11", Time: "09:00"})
	if _, err := env.Engine.Cancel(env.Ctx, "c2", approver, "too late"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestLifecycleIsMonotonic(t *testing.T) {
	env := newTestEnv(t, panelOf(2))
	env.openCase(t, "c1", march10)
	if _, err := env.Engine.Begin(env.Ctx, "c1", submitter); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("begin before quorum: %v", err)
	}
	env.seat(t, "c1", 2)
	if _, err := env.Engine.Conclude(env.Ctx, "c1", submitter); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("conclude before begin: %v", err)
	}
	if _, err := env.Engine.Begin(env.Ctx, "c1", approver); !errors.Is(err, domain.ErrNotCaseOwner) {
		t.Fatalf("begin by approver: %v", err)
	}
	c, err := env.Engine.Begin(env.Ctx, "c1", submitter)
	if err != nil || c.Status != domain.StatusInExecution {
		t.Fatalf("begin: %+v %v", c, err)
	}
	if _, err := env.Engine.Begin(env.Ctx, "c1", submitter); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double begin: %v", err)
	}
	for _, p := range []string{"p1", "p2"} {
		if env.Sink.kinds(p)["execution_started"] != 1 {
			t.Fatalf("%s not told about execution", p)
		}
	}
	c, err = env.Engine.Conclude(env.Ctx, "c1", submitter)
	if err != nil || c.Status != domain.StatusAwaitingResults {
		t.Fatalf("conclude: %+v %v", c, err)
	}
}

func TestReadyRequiresHeldSlot(t *testing.T) {
	env := newTestEnv(t, panelOf(1))
	env.openCase(t, "c1", march10)
	env.seat(t, "c1", 1)
	// Pull the slot out from under the case behind the engine's back.
	if _, err := env.Engine.DB.Exec(`DELETE FROM slot_bindings WHERE case_id='c1'`); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Begin(env.Ctx, "c1", submitter); !errors.Is(err, domain.ErrSlotNotHeld) {
		t.Fatalf("expected slot not held, got %v", err)
	}
	n, err := env.Engine.Repo.CountEvents(env.Ctx, "c1", "invariant.violation")
	if err != nil || n != 1 {
		t.Fatalf("violation events = %d %v", n, err)
	}
}

func engineOpts(id, tier string, slot domain.Slot) engine.CreateCaseOptions {
	return engine.CreateCaseOptions{ID: id, SubmitterID: submitter.ID, Title: "Case " + id, Tier: tier, Slot: slot}
}
