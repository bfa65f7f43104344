package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"docket/internal/config"
	"docket/internal/domain"
	"docket/internal/repo"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service resolves actor permissions from stored role grants and the
// role definitions in config.
type Service struct {
	Repo   repo.Repo
	Config *config.Config
}

func (s Service) ActorRoles(ctx context.Context, actorID string) ([]string, error) {
	if actorID == "" {
		return nil, errors.New("actor_id required")
	}
	return s.Repo.ActorRoles(ctx, nil, actorID)
}

func (s Service) ActorPermissions(ctx context.Context, actorID string) ([]string, error) {
	roles, err := s.ActorRoles(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if s.Config == nil {
		return nil, nil
	}
	return s.Config.RolePermissions(roles), nil
}

func (s Service) ActorHasPermission(ctx context.Context, actorID, perm string) (bool, error) {
	perms, err := s.ActorPermissions(ctx, actorID)
	if err != nil {
		return false, err
	}
	return slices.Contains(perms, perm), nil
}

// Actor returns actorID acting in the first of its roles that grants perm.
func (s Service) Actor(ctx context.Context, actorID, perm string) (domain.Actor, error) {
	roles, err := s.ActorRoles(ctx, actorID)
	if err != nil {
		return domain.Actor{}, err
	}
	return s.ActorWithRoles(actorID, roles, perm)
}

// ActorWithRoles is Actor for callers that already know the roles, such as
// a verified bearer token.
func (s Service) ActorWithRoles(actorID string, roles []string, perm string) (domain.Actor, error) {
	if s.Config == nil {
		return domain.Actor{}, ForbiddenError{Permission: perm}
	}
	for _, r := range roles {
		if slices.Contains(s.Config.RBAC.Roles[r].Permissions, perm) {
			return domain.Actor{ID: actorID, Role: domain.Role(r)}, nil
		}
	}
	return domain.Actor{}, ForbiddenError{Permission: perm}
}

// Grant ensures the actor exists and holds each role.
func (s Service) Grant(ctx context.Context, actorID string, roles ...string) error {
	if actorID == "" {
		return domain.Invalid("actor_id required")
	}
	for _, r := range roles {
		if _, ok := s.Config.RBAC.Roles[r]; !ok {
			return domain.Invalid(fmt.Sprintf("unknown role %q", r))
		}
	}
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.Repo.EnsureActor(ctx, tx, actorID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	for _, r := range roles {
		if err := s.Repo.AssignRole(ctx, tx, actorID, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s Service) Revoke(ctx context.Context, actorID, role string) error {
	return s.Repo.RevokeRole(ctx, nil, actorID, role)
}

// IssueAPIKey creates a key for actorID. Only the hash is stored; the
// plaintext is returned once.
func (s Service) IssueAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", domain.Invalid("actor_id required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "dk_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := s.Repo.EnsureActor(ctx, tx, actorID, key.CreatedAt); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := s.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// RevokeAPIKey deletes one of actorID's keys; the key stops authenticating
// immediately.
func (s Service) RevokeAPIKey(ctx context.Context, actorID, keyID string) error {
	if actorID == "" {
		return domain.Invalid("actor_id required")
	}
	return s.Repo.RevokeAPIKey(ctx, nil, actorID, keyID)
}
