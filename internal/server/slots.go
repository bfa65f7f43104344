package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

type slotRange struct {
	From string `query:"from" required:"true" doc:"First date, YYYY-MM-DD"`
	To   string `query:"to" doc:"Last date, inclusive; defaults to from"`
}

func (r slotRange) bounds() (string, string) {
	if r.To == "" {
		return r.From, r.From
	}
	return r.From, r.To
}

func (a *api) registerSlots(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-slots",
		Method:      http.MethodGet,
		Path:        "/slots",
		Summary:     "Calendar occupancy per day and bucket",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *slotRange) (*struct {
		Body SlotsResponse `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "slot.read"); err != nil {
			return nil, handleError(err)
		}
		from, to := input.bounds()
		days, err := a.engine.ListSlots(ctx, from, to)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotsResponse `json:"body"`
		}{Body: SlotsResponse{From: from, To: to, Days: nonNilSlice(days)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-free-slots",
		Method:      http.MethodGet,
		Path:        "/slots/free",
		Summary:     "Free buckets in a date range",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *slotRange) (*struct {
		Body SlotListResponse `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "slot.read"); err != nil {
			return nil, handleError(err)
		}
		from, to := input.bounds()
		slots, err := a.engine.ListFree(ctx, from, to)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotListResponse `json:"body"`
		}{Body: SlotListResponse{Slots: nonNilSlice(slots)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-blocked-slots",
		Method:      http.MethodGet,
		Path:        "/slots/blocked",
		Summary:     "Blocked buckets in a date range",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *slotRange) (*struct {
		Body SlotListResponse `json:"body"`
	}, error) {
		if _, err := a.actor(ctx, "slot.read"); err != nil {
			return nil, handleError(err)
		}
		from, to := input.bounds()
		slots, err := a.engine.ListBlocked(ctx, from, to)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotListResponse `json:"body"`
		}{Body: SlotListResponse{Slots: nonNilSlice(slots)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "block-slots",
		Method:      http.MethodPost,
		Path:        "/slots/block",
		Summary:     "Block a bucket, or a whole day when time is empty",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body BlockSlotRequest `json:"body"`
	}) (*struct {
		Body SlotListResponse `json:"body"`
	}, error) {
		actor, err := a.actor(ctx, "slot.block")
		if err != nil {
			return nil, handleError(err)
		}
		slots, err := a.engine.Block(ctx, input.Body.Date, input.Body.Time, input.Body.Reason, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotListResponse `json:"body"`
		}{Body: SlotListResponse{Slots: nonNilSlice(slots)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unblock-slots",
		Method:      http.MethodPost,
		Path:        "/slots/unblock",
		Summary:     "Lift a block",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body BlockSlotRequest `json:"body"`
	}) (*struct {
		Body SlotListResponse `json:"body"`
	}, error) {
		actor, err := a.actor(ctx, "slot.block")
		if err != nil {
			return nil, handleError(err)
		}
		slots, err := a.engine.Unblock(ctx, input.Body.Date, input.Body.Time, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotListResponse `json:"body"`
		}{Body: SlotListResponse{Slots: nonNilSlice(slots)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-slot",
		Method:      http.MethodPost,
		Path:        "/slots/release",
		Summary:     "Release a booked bucket",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body ReleaseSlotRequest `json:"body"`
	}) (*struct {
		Body ReleaseSlotResponse `json:"body"`
	}, error) {
		actor, err := a.actor(ctx, "slot.block")
		if err != nil {
			return nil, handleError(err)
		}
		caseID, err := a.engine.Release(ctx, input.Body.Slot, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReleaseSlotResponse `json:"body"`
		}{Body: ReleaseSlotResponse{Slot: input.Body.Slot, CaseID: caseID}}, nil
	})
}
