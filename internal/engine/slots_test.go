package engine_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"docket/internal/domain"
)

func TestReserveIsExclusive(t *testing.T) {
	env := newTestEnv(t)
	const n = 8
	for i := 0; i < n; i++ {
		env.fileCase(t, fmt.Sprintf("c%d", i), march10)
	}
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = env.Engine.Reserve(env.Ctx, fmt.Sprintf("c%d", i), march10)
		}()
	}
	wg.Wait()
	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case !errors.Is(err, domain.ErrSlotConflict):
			t.Fatalf("unexpected error %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("%d cases hold the slot", won)
	}
}

func TestSpanBindsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateCase(env.Ctx, engineOpts("long", "extended", march10)); err != nil {
		t.Fatalf("create: %v", err)
	}
	env.openCase(t, "short", domain.Slot{Date: "2025-03-10", Time: "10:00"})
	res, err := env.Engine.Decide(env.Ctx, "long", approver, domain.Approve{})
	if !errors.Is(err, domain.ErrSlotConflict) {
		t.Fatalf("expected the 2-bucket span to collide, got %v", err)
	}
	if !res.Case.RescheduleRequested {
		t.Fatalf("expected reschedule flag: %+v", res.Case)
	}
	if free, _ := env.Engine.IsFree(env.Ctx, march10); !free {
		t.Fatalf("failed span must leave 09:00 free")
	}
	if _, err := env.Engine.CreateCase(env.Ctx, engineOpts("long2", "extended", march10)); !errors.Is(err, domain.ErrSlotConflict) {
		t.Fatalf("filing over a booked bucket: %v", err)
	}
}

func TestBlockAndListSlots(t *testing.T) {
	env := newTestEnv(t)
	env.openCase(t, "c1", march10)
	blocked, err := env.Engine.Block(env.Ctx, "2025-03-11", "", "holiday", approver)
	if err != nil || len(blocked) != 8 {
		t.Fatalf("block day: %v %v", blocked, err)
	}
	if _, err := env.Engine.Block(env.Ctx, "2025-03-10", "09:00", "oops", approver); !errors.Is(err, domain.ErrSlotConflict) {
		t.Fatalf("blocking a booked slot: %v", err)
	}
	if _, err := env.Engine.CreateCase(env.Ctx, engineOpts("c2", "", domain.Slot{Date: "2025-03-11", Time: "09:00"})); !errors.Is(err, domain.ErrSlotBlocked) {
		t.Fatalf("filing on a blocked slot: %v", err)
	}

	days, err := env.Engine.ListSlots(env.Ctx, "2025-03-10", "2025-03-12")
	if err != nil || len(days) != 3 {
		t.Fatalf("list: %v %v", days, err)
	}
	if days[0].State != domain.DayPartiallyBlocked || days[0].Buckets[0].CaseID != "c1" {
		t.Fatalf("day 1: %+v", days[0])
	}
	if days[1].State != domain.DayBlocked || days[1].Buckets[3].Reason != "holiday" {
		t.Fatalf("day 2: %+v", days[1])
	}
	if days[2].State != domain.DayFree {
		t.Fatalf("day 3: %+v", days[2])
	}

	freed, err := env.Engine.Unblock(env.Ctx, "2025-03-11", "10:00", approver)
	if err != nil || len(freed) != 1 {
		t.Fatalf("unblock: %v %v", freed, err)
	}
	free, err := env.Engine.ListFree(env.Ctx, "2025-03-11", "2025-03-11")
	if err != nil || len(free) != 1 || free[0].Time != "10:00:00" {
		t.Fatalf("free after unblock: %v %v", free, err)
	}
	left, _ := env.Engine.ListBlocked(env.Ctx, "2025-03-11", "2025-03-11")
	if len(left) != 7 {
		t.Fatalf("blocked after unblock: %v", left)
	}
	if _, err := env.Engine.ListSlots(env.Ctx, "2025-01-01", "2025-12-31"); domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("expected range cap, got %v", err)
	}
}

func TestReleaseRefusesActiveCase(t *testing.T) {
	env := newTestEnv(t)
	env.openCase(t, "c1", march10)
	if _, err := env.Engine.Release(env.Ctx, march10, approver); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected refusal, got %v", err)
	}
	env.fileCase(t, "c2", domain.Slot{Date: "2025-03-12", Time: "09:00"})
	if err := env.Engine.Reserve(env.Ctx, "c2", domain.Slot{Date: "2025-03-12", Time: "09:00"}); err != nil {
		t.Fatal(err)
	}
	id, err := env.Engine.Release(env.Ctx, domain.Slot{Date: "2025-03-12", Time: "09:00"}, approver)
	if err != nil || id != "c2" {
		t.Fatalf("release: %q %v", id, err)
	}
	if _, err := env.Engine.Release(env.Ctx, domain.Slot{Date: "2025-03-12", Time: "09:00"}, approver); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on a free slot, got %v", err)
	}
}

func TestSuggestSkipsOccupied(t *testing.T) {
	env := newTestEnv(t)
	env.openCase(t, "c1", domain.Slot{Date: "2025-03-10", Time: "10:00"})
	env.fileCase(t, "c2", march10)
	got, err := env.Engine.Suggest(env.Ctx, "c2")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"11:00:00", "12:00:00", "13:00:00"}
	if len(got) != len(want) {
		t.Fatalf("suggestions %v", got)
	}
	for i, s := range got {
		if s.Date != "2025-03-10" || s.Time != want[i] {
			t.Fatalf("suggestion %d = %s", i, s)
		}
	}
}
