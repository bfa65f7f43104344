package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"docket/internal/domain"
	"docket/internal/engine"
)

func (a *api) registerVerdicts(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-verdict",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/verdicts",
		Summary:       "Submit a panelist's verdict",
		Description:   "The last rostered verdict completes the case and runs the disbursement; the response says whether either happened.",
		DefaultStatus: http.StatusCreated,
		Errors:        caseErrors,
	}, func(ctx context.Context, input *struct {
		CaseID string         `path:"case_id"`
		Body   VerdictRequest `json:"body"`
	}) (*struct {
		Body engine.SubmissionResult `json:"body"`
	}, error) {
		actor, err := a.actor(ctx, "verdict.submit")
		if err != nil {
			return nil, handleError(err)
		}
		if len(input.Body.Payload) == 0 {
			return nil, badRequest("payload is required")
		}
		payload, err := payloadJSON(input.Body.Payload)
		if err != nil {
			return nil, badRequest(err.Error())
		}
		res, err := a.engine.SubmitVerdict(ctx, input.CaseID, actor.ID, payload)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SubmissionResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-verdicts",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/verdicts",
		Summary:     "List submitted verdicts",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body []domain.Verdict `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "verdict.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := a.engine.ListVerdicts(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Verdict `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "detect-completion",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/completion",
		Summary:     "Re-check whether every rostered verdict is in",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body CompletionResponse `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "payment.disburse"); err != nil {
			return nil, handleError(err)
		}
		done, err := a.engine.DetectCompletion(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompletionResponse `json:"body"`
		}{Body: CompletionResponse{CaseID: input.CaseID, Completed: done}}, nil
	})
}

func (a *api) registerDisbursement(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-funding",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/funding",
		Summary:       "Record the completed payment that funds a case",
		DefaultStatus: http.StatusCreated,
		Errors:        caseErrors,
	}, func(ctx context.Context, input *struct {
		CaseID string         `path:"case_id"`
		Body   FundingRequest `json:"body"`
	}) (*struct {
		Body domain.FundingPayment `json:"body"`
	}, error) {
		actor, err := a.actor(ctx, "funding.record")
		if err != nil {
			return nil, handleError(err)
		}
		amount, err := domain.ParseAmount(input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		fp, err := a.engine.RecordFunding(ctx, input.CaseID, input.Body.Kind, amount, input.Body.Reference, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FundingPayment `json:"body"`
		}{Body: fp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "disburse",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/disburse",
		Summary:     "Pay the panel of a completed case",
		Description: "Safe to repeat: succeeded payments are skipped and failed ones are retried.",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusFailedDependency},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body engine.DisbursementReport `json:"body"`
	}, error) {
		actor, err := a.actor(ctx, "payment.disburse")
		if err != nil {
			return nil, handleError(err)
		}
		report, err := a.engine.Disburse(ctx, input.CaseID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		report.Payouts = nonNilSlice(report.Payouts)
		return &struct {
			Body engine.DisbursementReport `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/payments",
		Summary:     "Payment records for a case",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body []domain.Payment `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "payment.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := a.engine.ListPayments(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Payment `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ledger",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/ledger",
		Summary:     "Ledger entries for a case",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body []domain.LedgerEntry `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "payment.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := a.engine.ListLedger(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.LedgerEntry `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}
