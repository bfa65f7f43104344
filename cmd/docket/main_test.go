package main

import "testing"

func TestParseSlot(t *testing.T) {
	for _, in := range []string{"2025-03-10T09:00", "2025-03-10 09:00", " 2025-03-10T09:00 "} {
		s, err := parseSlot(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if s.Date != "2025-03-10" {
			t.Fatalf("parse %q: date %q", in, s.Date)
		}
	}
	for _, in := range []string{"", "2025-03-10", "tomorrow 9am"} {
		if _, err := parseSlot(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestPayloadFlag(t *testing.T) {
	if got, err := payloadFlag(""); err != nil || got != "" {
		t.Fatalf("empty payload: %q %v", got, err)
	}
	if _, err := payloadFlag(`{"finding":`); err == nil {
		t.Fatal("expected invalid JSON error")
	}
	if got, err := payloadFlag(`{"finding":"liable"}`); err != nil || got != `{"finding":"liable"}` {
		t.Fatalf("valid payload: %q %v", got, err)
	}
}
