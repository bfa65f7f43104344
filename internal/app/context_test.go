package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docket/internal/config"
	"docket/internal/repo"
)

func TestOpenSeedsWorkspaceConfig(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	yml := strings.Replace(config.GenerateDefault(), "required: 7", "required: 5", 1)
	if err := os.WriteFile(config.Path(dir), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	conn, cfg, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if cfg.Panel.Required != 5 {
		t.Fatalf("workspace config ignored: %d", cfg.Panel.Required)
	}

	// Once stored, the file no longer matters.
	if err := os.Remove(config.Path(dir)); err != nil {
		t.Fatal(err)
	}
	again, err := ResolveConfig(ctx, dir, repo.Repo{DB: conn})
	if err != nil || again.Panel.Required != 5 {
		t.Fatalf("stored config: %+v %v", again, err)
	}
}

func TestImportConfigTOML(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	conn, cfg, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if cfg.Panel.Required != 7 {
		t.Fatalf("default panel = %d", cfg.Panel.Required)
	}
	path := filepath.Join(dir, "docket.toml")
	data := `
[calendar]
open = "09:00"
close = "12:00"
bucket_minutes = 60
suggestion_count = 1
suggestion_window_days = 3
min_lead_hours = 1

[panel]
required = 2

[tiers.standard]
duration_buckets = 1
funding = "20.00"

[disbursement]
funding_kind = "panel_fee"
remainder = "truncate"
parallelism = 1
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ImportConfig(ctx, repo.Repo{DB: conn}, path); err != nil {
		t.Fatalf("import: %v", err)
	}
	stored, err := ResolveConfig(ctx, dir, repo.Repo{DB: conn})
	if err != nil || stored.Panel.Required != 2 || len(stored.Buckets()) != 3 {
		t.Fatalf("imported config: %+v %v", stored, err)
	}
}
