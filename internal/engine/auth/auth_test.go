package auth

import (
	"context"
	"errors"
	"testing"

	"docket/internal/config"
	"docket/internal/db"
	"docket/internal/domain"
	"docket/internal/migrate"
	"docket/internal/repo"
)

func newService(t *testing.T) Service {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Service{Repo: repo.Repo{DB: conn}, Config: config.Default()}
}

func TestGrantAndResolve(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	if err := s.Grant(ctx, "alice", "submitter", "panelist"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	ok, err := s.ActorHasPermission(ctx, "alice", "verdict.submit")
	if err != nil || !ok {
		t.Fatalf("expected verdict.submit: %v %v", ok, err)
	}
	actor, err := s.Actor(ctx, "alice", "case.create")
	if err != nil || actor.Role != domain.RoleSubmitter {
		t.Fatalf("actor %+v %v", actor, err)
	}
	actor, err = s.Actor(ctx, "alice", "application.create")
	if err != nil || actor.Role != domain.RolePanelist {
		t.Fatalf("actor %+v %v", actor, err)
	}
	_, err = s.Actor(ctx, "alice", "case.decide")
	var fe ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != "case.decide" {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := s.Revoke(ctx, "alice", "panelist"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.ActorHasPermission(ctx, "alice", "verdict.submit"); ok {
		t.Fatalf("revoked permission still held")
	}
}

func TestGrantRejectsUnknownRole(t *testing.T) {
	s := newService(t)
	if err := s.Grant(context.Background(), "bob", "overlord"); err == nil {
		t.Fatalf("expected unknown role error")
	}
}

func TestIssueAPIKeyStoresHashOnly(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	key, plain, err := s.IssueAPIKey(ctx, "carol", "ci")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if plain == "" || key.KeyHash == plain {
		t.Fatalf("expected hashed key, got %+v", key)
	}
	stored, err := s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stored.ActorID != "carol" || stored.Name != "ci" {
		t.Fatalf("unexpected key %+v", stored)
	}
}

func TestRevokeAPIKeyIsScopedToOwner(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	key, plain, err := s.IssueAPIKey(ctx, "carol", "ci")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := s.RevokeAPIKey(ctx, "dave", key.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for another actor, got %v", err)
	}
	if err := s.RevokeAPIKey(ctx, "carol", key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("revoked key still stored: %v", err)
	}
	if err := s.RevokeAPIKey(ctx, "carol", key.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second revoke: %v", err)
	}
}
