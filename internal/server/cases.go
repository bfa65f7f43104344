package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"docket/internal/domain"
	"docket/internal/engine"
	"docket/internal/repo"
)

type casePath struct {
	CaseID string `path:"case_id"`
}

var caseErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func (a *api) registerCases(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "File a case",
		DefaultStatus: http.StatusCreated,
		Errors:        caseErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		actor, err := a.actor(ctx, "case.create")
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.CreateCaseOptions{
			SubmitterID:    actor.ID,
			Title:          input.Body.Title,
			Tier:           input.Body.Tier,
			Slot:           input.Body.Slot,
			PreferredSlots: input.Body.PreferredSlots,
		}
		if input.Body.ID != nil {
			opts.ID = strings.TrimSpace(*input.Body.ID)
		}
		if input.Body.Details != nil {
			opts.Details = *input.Body.Details
		}
		c, err := a.engine.CreateCase(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status      string `query:"status"`
		SubmitterID string `query:"submitter_id"`
		PanelistID  string `query:"panelist_id"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body CaseListResponse `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "case.read"); err != nil {
			return nil, handleError(err)
		}
		if input.Status != "" && !domain.CaseStatus(input.Status).Valid() {
			return nil, badRequest(fmt.Sprintf("unknown status %q", input.Status))
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := a.engine.ListCases(ctx, repo.CaseFilters{
			Status:          domain.CaseStatus(input.Status),
			SubmitterID:     input.SubmitterID,
			PanelistID:      input.PanelistID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := CaseListResponse{}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = composeCursor(items[limit-1].CreatedAt, items[limit-1].ID)
		}
		resp.Items = mapCases(items)
		return &struct {
			Body CaseListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "case.read"); err != nil {
			return nil, handleError(err)
		}
		c, err := a.engine.Case(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/decision",
		Summary:     "Approve, reject or send a case back for rescheduling",
		Description: "A slot conflict on approve leaves the case awaiting approval with its reschedule flag set; the 409 response carries the alternate slots.",
		Errors:      caseErrors,
	}, func(ctx context.Context, input *struct {
		CaseID string          `path:"case_id"`
		Body   DecisionRequest `json:"body"`
	}) (*struct {
		Body engine.DecisionResult `json:"body"`
	}, error) {
		actor, err := a.actor(ctx, "case.decide")
		if err != nil {
			return nil, handleError(err)
		}
		d, err := input.Body.parse()
		if err != nil {
			return nil, handleError(err)
		}
		res, err := a.engine.Decide(ctx, input.CaseID, actor, d)
		if err != nil {
			return nil, decisionError(res, err)
		}
		return &struct {
			Body engine.DecisionResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-review-cases",
		Method:      http.MethodPost,
		Path:        "/cases/review",
		Summary:     "Apply one decision to several cases",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body BulkReviewRequest `json:"body"`
	}) (*struct {
		Body engine.BulkReport `json:"body"`
	}, error) {
		actor, err := a.actor(ctx, "case.decide")
		if err != nil {
			return nil, handleError(err)
		}
		if len(input.Body.CaseIDs) == 0 {
			return nil, badRequest("case_ids is required")
		}
		d, err := input.Body.parse()
		if err != nil {
			return nil, handleError(err)
		}
		report := a.engine.BulkReview(ctx, input.Body.CaseIDs, actor, d)
		report.Items = nonNilSlice(report.Items)
		return &struct {
			Body engine.BulkReport `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-case-slot",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/slot",
		Summary:     "Request a new slot for a case awaiting approval",
		Errors:      caseErrors,
	}, func(ctx context.Context, input *struct {
		CaseID string             `path:"case_id"`
		Body   RequestSlotRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		actor, err := a.actor(ctx, "case.reschedule")
		if err != nil {
			return nil, handleError(err)
		}
		c, err := a.engine.RequestSlot(ctx, input.CaseID, actor, input.Body.Slot)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suggest-case-slots",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/suggestions",
		Summary:     "Suggest free slot spans for a case",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body SlotListResponse `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "slot.read"); err != nil {
			return nil, handleError(err)
		}
		slots, err := a.engine.Suggest(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotListResponse `json:"body"`
		}{Body: SlotListResponse{Slots: nonNilSlice(slots)}}, nil
	})

	type step struct {
		id, path, summary string
		run               func(context.Context, string, domain.Actor) (domain.Case, error)
	}
	for _, s := range []step{
		{"begin-case", "/cases/{case_id}/begin", "Start the proceeding", a.engine.Begin},
		{"conclude-case", "/cases/{case_id}/conclude", "End the proceeding and await verdicts", a.engine.Conclude},
	} {
		huma.Register(api, huma.Operation{
			OperationID: s.id,
			Method:      http.MethodPost,
			Path:        s.path,
			Summary:     s.summary,
			Errors:      caseErrors,
		}, func(ctx context.Context, input *casePath) (*struct {
			Body CaseResponse `json:"body"`
		}, error) {
			actor, err := a.actor(ctx, "case.execute")
			if err != nil {
				return nil, handleError(err)
			}
			c, err := s.run(ctx, input.CaseID, actor)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body CaseResponse `json:"body"`
			}{Body: caseResponse(c)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "cancel-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/cancel",
		Summary:     "Withdraw a case awaiting approval",
		Errors:      caseErrors,
	}, func(ctx context.Context, input *struct {
		CaseID string            `path:"case_id"`
		Body   CancelCaseRequest `json:"body" required:"false"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		actor, err := a.anyActor(ctx, "case.cancel", "case.decide")
		if err != nil {
			return nil, handleError(err)
		}
		c, err := a.engine.Cancel(ctx, input.CaseID, actor, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})
}

// decisionError keeps the case state next to the alternates when an
// approval lost its slot.
func decisionError(res engine.DecisionResult, err error) huma.StatusError {
	var de *domain.Error
	if res.Outcome != engine.OutcomeRescheduleRequired || !errors.As(err, &de) {
		return handleError(err)
	}
	return newAPIError(http.StatusConflict, de.Code, de.Error(), map[string]any{
		"alternate_slots":      nonNilSlice(res.Alternates),
		"outcome":              res.Outcome,
		"case_status":          res.Case.Status,
		"reschedule_requested": res.Case.RescheduleRequested,
	})
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
