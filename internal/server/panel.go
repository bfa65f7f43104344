package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"docket/internal/domain"
	"docket/internal/engine"
)

func (a *api) registerApplications(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "apply-to-panel",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/applications",
		Summary:       "Apply to sit on a case's panel",
		DefaultStatus: http.StatusCreated,
		Errors:        caseErrors,
	}, func(ctx context.Context, input *struct {
		CaseID string       `path:"case_id"`
		Body   ApplyRequest `json:"body" required:"false"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		actor, err := a.actor(ctx, "application.create")
		if err != nil {
			return nil, handleError(err)
		}
		payload, err := payloadJSON(input.Body.Payload)
		if err != nil {
			return nil, badRequest(err.Error())
		}
		app, err := a.engine.Apply(ctx, input.CaseID, actor.ID, payload)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: app}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/applications",
		Summary:     "List panel applications",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Status string `query:"status"`
	}) (*struct {
		Body []domain.Application `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "application.read"); err != nil {
			return nil, handleError(err)
		}
		status := domain.ApplicationStatus(input.Status)
		switch status {
		case "", domain.ApplicationPending, domain.ApplicationApproved, domain.ApplicationRejected:
		default:
			return nil, badRequest(fmt.Sprintf("unknown status %q", input.Status))
		}
		items, err := a.engine.ListApplications(ctx, input.CaseID, status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Application `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-application",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/applications/{application_id}/approve",
		Summary:     "Seat a panelist",
		Description: "The approval that fills the panel moves the case to ready_for_execution. Approvals beyond capacity fail with capacity_exceeded.",
		Errors:      caseErrors,
	}, func(ctx context.Context, input *struct {
		CaseID        string `path:"case_id"`
		ApplicationID string `path:"application_id"`
	}) (*struct {
		Body engine.ApplicationResult `json:"body"`
	}, error) {
		actor, err := a.actor(ctx, "application.decide")
		if err != nil {
			return nil, handleError(err)
		}
		res, err := a.engine.Approve(ctx, input.CaseID, input.ApplicationID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ApplicationResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-application",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/applications/{application_id}/reject",
		Summary:     "Turn down a panel application",
		Errors:      caseErrors,
	}, func(ctx context.Context, input *struct {
		CaseID        string                     `path:"case_id"`
		ApplicationID string                     `path:"application_id"`
		Body          ApplicationDecisionRequest `json:"body" required:"false"`
	}) (*struct {
		Body engine.ApplicationResult `json:"body"`
	}, error) {
		actor, err := a.actor(ctx, "application.decide")
		if err != nil {
			return nil, handleError(err)
		}
		res, err := a.engine.Reject(ctx, input.CaseID, input.ApplicationID, actor, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ApplicationResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-decide-applications",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/applications/decide",
		Summary:     "Approve or reject several applications in order",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string                  `path:"case_id"`
		Body   BulkApplicationsRequest `json:"body"`
	}) (*struct {
		Body engine.BulkReport `json:"body"`
	}, error) {
		actor, err := a.actor(ctx, "application.decide")
		if err != nil {
			return nil, handleError(err)
		}
		report, err := a.engine.BulkDecide(ctx, input.CaseID, input.Body.ApplicationIDs,
			domain.ApplicationDecision(input.Body.Decision), actor, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		report.Items = nonNilSlice(report.Items)
		return &struct {
			Body engine.BulkReport `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-roster",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/roster",
		Summary:     "Approved panelists in approval order",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body RosterResponse `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "case.read"); err != nil {
			return nil, handleError(err)
		}
		c, err := a.engine.Case(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		roster, err := a.engine.ApprovedRoster(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RosterResponse `json:"body"`
		}{Body: RosterResponse{
			CaseID:    c.ID,
			Required:  c.RequiredPanelists,
			Approved:  len(roster),
			Panelists: nonNilSlice(roster),
		}}, nil
	})
}
