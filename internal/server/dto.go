package server

import (
	"encoding/json"

	"docket/internal/domain"
)

// Request payloads

type CreateCaseRequest struct {
	ID             *string       `json:"id,omitempty"`
	Title          string        `json:"title" minLength:"1"`
	Details        *string       `json:"details,omitempty"`
	Tier           string        `json:"tier,omitempty"`
	Slot           domain.Slot   `json:"slot"`
	PreferredSlots []domain.Slot `json:"preferred_slots,omitempty"`
}

type DecisionRequest struct {
	Decision       string        `json:"decision" enum:"approve,reject,reschedule"`
	Reason         string        `json:"reason,omitempty"`
	Comment        string        `json:"comment,omitempty"`
	AlternateSlots []domain.Slot `json:"alternate_slots,omitempty"`
}

func (r DecisionRequest) parse() (domain.Decision, error) {
	return domain.ParseDecision(r.Decision, r.Reason, r.Comment, r.AlternateSlots)
}

type BulkReviewRequest struct {
	CaseIDs []string `json:"case_ids" minItems:"1"`
	DecisionRequest
}

type RequestSlotRequest struct {
	Slot domain.Slot `json:"slot"`
}

type CancelCaseRequest struct {
	Reason string `json:"reason,omitempty"`
}

type BlockSlotRequest struct {
	Date string `json:"date"`
	// Time is optional; an empty time covers the whole day.
	Time   string `json:"time,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type ReleaseSlotRequest struct {
	Slot domain.Slot `json:"slot"`
}

type ApplyRequest struct {
	Payload map[string]any `json:"payload,omitempty"`
}

type ApplicationDecisionRequest struct {
	Comment string `json:"comment,omitempty"`
}

type BulkApplicationsRequest struct {
	ApplicationIDs []string `json:"application_ids" minItems:"1"`
	Decision       string   `json:"decision" enum:"approve,reject"`
	Comment        string   `json:"comment,omitempty"`
}

type VerdictRequest struct {
	Payload map[string]any `json:"payload"`
}

type FundingRequest struct {
	Kind string `json:"kind,omitempty"`
	// Amount is a decimal string in major units, e.g. "350.00".
	Amount    string `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

type GrantRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles" minItems:"1"`
}

type RevokeRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevCodeRequest struct {
	ActorID string `json:"actor_id"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Code    string `json:"code"`
}

// Response payloads

type CaseResponse struct {
	domain.Case
	ReviewStatus domain.ReviewStatus `json:"review_status"`
}

func caseResponse(c domain.Case) CaseResponse {
	return CaseResponse{Case: c, ReviewStatus: c.Status.Review()}
}

func mapCases(items []domain.Case) []CaseResponse {
	out := make([]CaseResponse, 0, len(items))
	for _, c := range items {
		out = append(out, caseResponse(c))
	}
	return out
}

type CaseListResponse struct {
	Items      []CaseResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type SlotsResponse struct {
	From string            `json:"from"`
	To   string            `json:"to"`
	Days []domain.DaySlots `json:"days"`
}

type SlotListResponse struct {
	Slots []domain.Slot `json:"slots"`
}

type ReleaseSlotResponse struct {
	Slot   domain.Slot `json:"slot"`
	CaseID string      `json:"case_id,omitempty"`
}

type RosterResponse struct {
	CaseID    string   `json:"case_id"`
	Required  int      `json:"required_count"`
	Approved  int      `json:"approved_count"`
	Panelists []string `json:"panelists"`
}

type CompletionResponse struct {
	CaseID    string `json:"case_id"`
	Completed bool   `json:"completed"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is only returned once, at creation.
	Key string `json:"key,omitempty"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt}
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type RolesResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
}

type DevCodeResponse struct {
	ActorID   string `json:"actor_id"`
	Code      string `json:"code"`
	ExpiresIn int    `json:"expires_in_seconds"`
}

type DevLoginResponse struct {
	Token   string   `json:"token"`
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
}

// payloadJSON encodes an optional free-form payload for storage.
func payloadJSON(p map[string]any) (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
