package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"docket/internal/domain"
	"docket/internal/repo"
)

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func (a *api) registerAudit(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CaseID string `query:"case_id"`
		Kind   string `query:"kind"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "event.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := a.engine.ListEvents(ctx, repo.EventFilters{CaseID: input.CaseID, Kind: input.Kind, Before: before, Limit: limit + 1})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		resp.Items = nonNilSlice(items)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "Notifications delivered to a recipient",
		Description: "Defaults to the caller. Reading another recipient's notifications requires event.read.",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		RecipientID string `query:"recipient_id"`
		CaseID      string `query:"case_id"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		self, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		recipient := input.RecipientID
		if recipient == "" {
			recipient = self
		}
		if recipient != self {
			if _, err := a.actor(ctx, "event.read"); err != nil {
				return nil, handleError(err)
			}
		}
		items, err := a.engine.Repo.ListNotifications(ctx, recipient, input.CaseID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func (a *api) registerRBAC(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/grant",
		Summary:     "Grant roles to an actor",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body GrantRequest `json:"body"`
	}) (*struct {
		Body RolesResponse `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "rbac.manage"); err != nil {
			return nil, handleError(err)
		}
		if err := a.auth.Grant(ctx, input.Body.ActorID, input.Body.Roles...); err != nil {
			return nil, handleError(err)
		}
		roles, err := a.auth.ActorRoles(ctx, input.Body.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RolesResponse `json:"body"`
		}{Body: RolesResponse{ActorID: input.Body.ActorID, Roles: nonNilSlice(roles)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/revoke",
		Summary:     "Revoke a role from an actor",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body RevokeRequest `json:"body"`
	}) (*struct {
		Body RolesResponse `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "rbac.manage"); err != nil {
			return nil, handleError(err)
		}
		if input.Body.ActorID == "" || input.Body.Role == "" {
			return nil, badRequest("actor_id and role are required")
		}
		if err := a.auth.Revoke(ctx, input.Body.ActorID, input.Body.Role); err != nil {
			return nil, handleError(err)
		}
		roles, err := a.auth.ActorRoles(ctx, input.Body.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RolesResponse `json:"body"`
		}{Body: RolesResponse{ActorID: input.Body.ActorID, Roles: nonNilSlice(roles)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key for the caller",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body" required:"false"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, plain, err := a.auth.IssueAPIKey(ctx, actorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		resp := apiKeyResponse(key)
		resp.Key = plain
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List the caller's API keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := a.engine.Repo.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke one of the caller's API keys",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := a.auth.RevokeAPIKey(ctx, actorID, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func (a *api) registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Who am I",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok || principal.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		roles := principal.Roles
		if len(roles) == 0 {
			stored, err := a.auth.ActorRoles(ctx, principal.ActorID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, handleError(err)
			}
			roles = stored
		}
		var perms []string
		if a.auth.Config != nil {
			perms = a.auth.Config.RolePermissions(roles)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Source:      principal.Source,
			Roles:       nonNilSlice(roles),
			Permissions: nonNilSlice(perms),
		}}, nil
	})
}
