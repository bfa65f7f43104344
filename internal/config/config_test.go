package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultTemplateMatchesDefault(t *testing.T) {
	parsed, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("default template: %v", err)
	}
	if !reflect.DeepEqual(parsed, Default()) {
		t.Fatalf("template and Default disagree:\n%+v\n%+v", parsed, Default())
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Panel.Required != 7 {
		t.Fatalf("expected 7 panelists, got %d", cfg.Panel.Required)
	}
	buckets := cfg.Buckets()
	if len(buckets) != 8 || buckets[0] != "09:00:00" || buckets[7] != "16:00:00" {
		t.Fatalf("unexpected buckets %v", buckets)
	}
	_, amt, err := cfg.Tier("standard")
	if err != nil || amt != 35000 {
		t.Fatalf("standard tier: %d %v", amt, err)
	}
	if _, _, err := cfg.Tier("gold"); err == nil {
		t.Fatalf("expected unknown tier error")
	}
}

func TestValidateRejectsBadCalendar(t *testing.T) {
	cfg := Default()
	cfg.Calendar.Close = "08:00"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected close-before-open error")
	}
	cfg = Default()
	cfg.Disbursement.Remainder = "round"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected remainder policy error")
	}
	cfg = Default()
	cfg.Tiers["huge"] = Tier{DurationBuckets: 99, Funding: "1.00"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected duration error")
	}
}

func TestFromFileTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docket.toml")
	data := `
[calendar]
open = "10:00"
close = "12:00"
bucket_minutes = 30
suggestion_count = 2
suggestion_window_days = 7
min_lead_hours = 0

[panel]
required = 3

[tiers.mini]
duration_buckets = 1
funding = "90.00"

[disbursement]
funding_kind = "panel_fee"
remainder = "first_recipient"
parallelism = 2
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := FromFile(path)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	if cfg.Panel.Required != 3 || len(cfg.Buckets()) != 4 {
		t.Fatalf("unexpected config %+v buckets %v", cfg.Panel, cfg.Buckets())
	}
}

func TestRolePermissions(t *testing.T) {
	cfg := Default()
	perms := cfg.RolePermissions([]string{"submitter", "panelist"})
	seen := map[string]int{}
	for _, p := range perms {
		seen[p]++
	}
	if seen["case.read"] != 1 || seen["verdict.submit"] != 1 || seen["case.decide"] != 0 {
		t.Fatalf("unexpected permissions %v", perms)
	}
}
