package engine_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"docket/internal/domain"
)

func TestQuorumOpensExecution(t *testing.T) {
	env := newTestEnv(t)
	env.openCase(t, "c1", march10)
	var last string
	for i := 1; i <= 7; i++ {
		app, err := env.Engine.Apply(env.Ctx, "c1", fmt.Sprintf("p%d", i), "")
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		res, err := env.Engine.Approve(env.Ctx, "c1", app.ID, approver)
		if err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
		if res.ApprovedCount != i || res.Required != 7 {
			t.Fatalf("counts %+v", res)
		}
		if i < 7 && res.CaseStatus != domain.StatusOpenForApplications {
			t.Fatalf("case moved early at %d: %s", i, res.CaseStatus)
		}
		last = string(res.CaseStatus)
	}
	if last != string(domain.StatusReadyForExecution) {
		t.Fatalf("expected ready_for_execution, got %s", last)
	}
	if env.Sink.kinds(submitter.ID)["panel_complete"] != 1 {
		t.Fatalf("submitter not told the panel is full")
	}
	roster, err := env.Engine.ApprovedRoster(env.Ctx, "c1")
	if err != nil || len(roster) != 7 || roster[0] != "p1" {
		t.Fatalf("roster %v %v", roster, err)
	}
}

func TestApproveBeyondCapacity(t *testing.T) {
	env := newTestEnv(t)
	env.openCase(t, "c1", march10)
	var apps []domain.Application
	for i := 1; i <= 8; i++ {
		app, err := env.Engine.Apply(env.Ctx, "c1", fmt.Sprintf("p%d", i), "")
		if err != nil {
			t.Fatal(err)
		}
		apps = append(apps, app)
	}
	for _, app := range apps[:7] {
		if _, err := env.Engine.Approve(env.Ctx, "c1", app.ID, approver); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.Engine.Approve(env.Ctx, "c1", apps[7].ID, approver); !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}
	n, err := env.Engine.ApprovedCount(env.Ctx, "c1")
	if err != nil || n != 7 {
		t.Fatalf("approved count %d %v", n, err)
	}
}

func TestConcurrentApprovalsNeverOverfill(t *testing.T) {
	env := newTestEnv(t, panelOf(3))
	env.openCase(t, "c1", march10)
	var apps []domain.Application
	for i := 1; i <= 6; i++ {
		app, err := env.Engine.Apply(env.Ctx, "c1", fmt.Sprintf("p%d", i), "")
		if err != nil {
			t.Fatal(err)
		}
		apps = append(apps, app)
	}
	errs := make([]error, len(apps))
	var wg sync.WaitGroup
	for i, app := range apps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.Engine.Approve(env.Ctx, "c1", app.ID, approver)
		}()
	}
	wg.Wait()
	var ok, full int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrCapacityExceeded):
			full++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 3 || full != 3 {
		t.Fatalf("ok=%d full=%d", ok, full)
	}
	c, _ := env.Engine.Case(env.Ctx, "c1")
	if c.Status != domain.StatusReadyForExecution {
		t.Fatalf("status %s", c.Status)
	}
	n, _ := env.Engine.Repo.CountEvents(env.Ctx, "c1", "case.ready_for_execution")
	if n != 1 {
		t.Fatalf("ready events = %d", n)
	}
}

func TestApplyRules(t *testing.T) {
	env := newTestEnv(t)
	env.fileCase(t, "c1", march10)
	if _, err := env.Engine.Apply(env.Ctx, "c1", "p1", ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("apply before approval: %v", err)
	}
	if _, err := env.Engine.Decide(env.Ctx, "c1", approver, domain.Approve{}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Apply(env.Ctx, "c1", "p1", "{not json"); domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("bad payload: %v", err)
	}
	if _, err := env.Engine.Apply(env.Ctx, "c1", submitter.ID, ""); domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("submitter applying: %v", err)
	}
	app, err := env.Engine.Apply(env.Ctx, "c1", "p1", `{"years":4}`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Apply(env.Ctx, "c1", "p1", ""); !errors.Is(err, domain.ErrDuplicateApplication) {
		t.Fatalf("duplicate: %v", err)
	}
	res, err := env.Engine.Reject(env.Ctx, "c1", app.ID, approver, "not a fit")
	if err != nil || res.Application.Status != domain.ApplicationRejected || res.Application.Comment != "not a fit" {
		t.Fatalf("reject: %+v %v", res, err)
	}
	if _, err := env.Engine.Approve(env.Ctx, "c1", app.ID, approver); !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("approve after reject: %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, "other", app.ID, approver); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("wrong case: %v", err)
	}
	if env.Sink.kinds("p1")["application_rejected"] != 1 {
		t.Fatalf("panelist not told")
	}
}

func TestBulkDecideStopsAtCapacity(t *testing.T) {
	env := newTestEnv(t, panelOf(2))
	env.openCase(t, "c1", march10)
	var ids []string
	for i := 1; i <= 4; i++ {
		app, err := env.Engine.Apply(env.Ctx, "c1", fmt.Sprintf("p%d", i), "")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, app.ID)
	}
	report, err := env.Engine.BulkDecide(env.Ctx, "c1", append(ids, "ghost"), domain.DecideApprove, approver, "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 2 || report.Skipped != 3 || report.Errored != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Items[1].Status != domain.StatusReadyForExecution {
		t.Fatalf("second approval should fill the panel: %+v", report.Items[1])
	}
	for _, item := range report.Items[2:] {
		if item.Code != "capacity_exceeded" {
			t.Fatalf("item %+v", item)
		}
	}
	if _, err := env.Engine.BulkDecide(env.Ctx, "c1", ids, "maybe", approver, ""); domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("bad decision: %v", err)
	}
}

func TestApplicationDecisionsReturnStoredRecord(t *testing.T) {
	env := newTestEnv(t)
	env.openCase(t, "c1", march10)
	kept, err := env.Engine.Apply(env.Ctx, "c1", "p1", "")
	if err != nil {
		t.Fatal(err)
	}
	dropped, err := env.Engine.Apply(env.Ctx, "c1", "p2", "")
	if err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.Approve(env.Ctx, "c1", kept.ID, approver)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	a := res.Application
	if a.ID != kept.ID || a.Status != domain.ApplicationApproved || a.DecidedBy == nil || *a.DecidedBy != approver.ID || a.DecidedAt == nil {
		t.Fatalf("approved application %+v", a)
	}

	res, err = env.Engine.Reject(env.Ctx, "c1", dropped.ID, approver, "schedule clash")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	a = res.Application
	if a.ID != dropped.ID || a.Status != domain.ApplicationRejected || a.Comment != "schedule clash" || res.ApprovedCount != 1 {
		t.Fatalf("rejected application %+v", res)
	}
}
