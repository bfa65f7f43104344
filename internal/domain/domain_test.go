package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestNormalizeTime(t *testing.T) {
	cases := map[string]string{
		"9:00":     "09:00:00",
		"09:00":    "09:00:00",
		"9:05:07":  "09:05:07",
		"23:59:59": "23:59:59",
	}
	for in, want := range cases {
		got, err := NormalizeTime(in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Fatalf("%s: got %s want %s", in, got, want)
		}
	}
	for _, bad := range []string{"", "9", "24:00", "09:60", "09:00:00:00", "aa:bb", "009:00"} {
		if _, err := NormalizeTime(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestSlotAddRollsDay(t *testing.T) {
	s, err := NewSlot("2025-03-10", "23:00")
	if err != nil {
		t.Fatal(err)
	}
	next, err := s.Add(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if next.Date != "2025-03-11" || next.Time != "00:00:00" {
		t.Fatalf("unexpected slot %s", next)
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]Amount{
		"350":    35000,
		"350.00": 35000,
		"350.5":  35050,
		"0.07":   7,
	}
	for in, want := range cases {
		got, err := ParseAmount(in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Fatalf("%s: got %d want %d", in, got, want)
		}
	}
	for _, bad := range []string{"", "-1", "1.234", "1.", "abc", ".5", "1.-5", "92233720368547758.08", "9223372036854775807"} {
		if _, err := ParseAmount(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	if got, err := ParseAmount("92233720368547758.07"); err != nil || got != math.MaxInt64 {
		t.Fatalf("largest amount: %d %v", got, err)
	}
	if Amount(35000).String() != "350.00" || Amount(1428).String() != "14.28" {
		t.Fatalf("unexpected formatting")
	}
}

func TestSplitTruncate(t *testing.T) {
	shares, rem := Amount(35000).Split(7, RemainderTruncate)
	if len(shares) != 7 || rem != 0 {
		t.Fatalf("unexpected split %v rem %d", shares, rem)
	}
	var total Amount
	for _, s := range shares {
		if s != 5000 {
			t.Fatalf("share %d, want 5000", s)
		}
		total += s
	}
	if total != 35000 {
		t.Fatalf("total %d", total)
	}

	shares, rem = Amount(10000).Split(7, RemainderTruncate)
	if shares[0] != 1428 || rem != 4 {
		t.Fatalf("unexpected truncate split %v rem %d", shares, rem)
	}
}

func TestSplitFirstRecipient(t *testing.T) {
	shares, rem := Amount(10000).Split(7, RemainderFirstRecipient)
	if rem != 0 || shares[0] != 1432 || shares[1] != 1428 {
		t.Fatalf("unexpected split %v rem %d", shares, rem)
	}
}

func TestParseDecisionRoutesConflictToReschedule(t *testing.T) {
	d, err := ParseDecision("reject", string(ReasonSchedulingConflict), "", []Slot{{Date: "2025-03-11", Time: "9:00"}})
	if err != nil {
		t.Fatal(err)
	}
	rs, ok := d.(RescheduleRequested)
	if !ok {
		t.Fatalf("expected RescheduleRequested, got %T", d)
	}
	if rs.Alternates[0].Time != "09:00:00" {
		t.Fatalf("alternate not normalized: %v", rs.Alternates)
	}
	if _, err := ParseDecision("reject", "bogus", "", nil); err == nil {
		t.Fatalf("expected unknown reason error")
	}
	if _, err := ParseDecision("reject", string(ReasonDuplicate), "", []Slot{{Date: "2025-03-11", Time: "09:00"}}); err == nil {
		t.Fatalf("expected alternates rejected for terminal reason")
	}
	d, err = ParseDecision("reject", string(ReasonInsufficientLeadTime), "late", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.(Reject); !ok {
		t.Fatalf("expected Reject, got %T", d)
	}
}

func TestErrorIsByCode(t *testing.T) {
	err := fmt.Errorf("reserve: %w", ErrSlotConflict.With("slot %s taken", "2025-03-10 09:00:00"))
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected slot conflict match")
	}
	if errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("unexpected capacity match")
	}
	if KindOf(err) != KindConflict || CodeOf(err) != "slot_conflict" {
		t.Fatalf("unexpected kind/code %s/%s", KindOf(err), CodeOf(err))
	}
}

func TestSummarize(t *testing.T) {
	free := SlotInfo{State: SlotFree}
	blocked := SlotInfo{State: SlotBlocked}
	booked := SlotInfo{State: SlotBooked}
	if Summarize([]SlotInfo{free, free}) != DayFree {
		t.Fatal("want free")
	}
	if Summarize([]SlotInfo{blocked, blocked}) != DayBlocked {
		t.Fatal("want blocked")
	}
	if Summarize([]SlotInfo{blocked, free}) != DayPartiallyBlocked {
		t.Fatal("want partially blocked")
	}
	if Summarize([]SlotInfo{booked, blocked}) != DayBooked {
		t.Fatal("want booked")
	}
}

func TestStatusRank(t *testing.T) {
	order := []CaseStatus{StatusAwaitingApproval, StatusOpenForApplications, StatusReadyForExecution, StatusInExecution, StatusAwaitingResults, StatusCompleted}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("%s should rank after %s", order[i], order[i-1])
		}
	}
	if !StatusCancelled.Terminal() || StatusInExecution.Terminal() {
		t.Fatal("unexpected terminal flags")
	}
	if StatusReadyForExecution.Review() != ReviewApproved || StatusAwaitingApproval.Review() != ReviewPending {
		t.Fatal("unexpected review mapping")
	}
}
