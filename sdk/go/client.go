// Package docketsdk is a small typed client for the Docket HTTP API.
package docketsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Docket HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Slot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// Case represents the API case model.
type Case struct {
	ID                  string  `json:"id"`
	SubmitterID         string  `json:"submitter_id"`
	Title               string  `json:"title"`
	Details             string  `json:"details,omitempty"`
	Tier                string  `json:"tier"`
	Slot                Slot    `json:"slot"`
	DurationBuckets     int     `json:"duration_buckets"`
	Status              string  `json:"status"`
	ReviewStatus        string  `json:"review_status"`
	RescheduleRequested bool    `json:"reschedule_requested"`
	SuggestedSlots      []Slot  `json:"suggested_slots,omitempty"`
	PreferredSlots      []Slot  `json:"preferred_slots,omitempty"`
	RequiredPanelists   int     `json:"required_panelists"`
	FundingCents        int64   `json:"funding_amount_cents"`
	RejectionReason     *string `json:"rejection_reason,omitempty"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
	CompletedAt         *string `json:"completed_at,omitempty"`
}

// NewCase is the input to CreateCase.
type NewCase struct {
	ID             string `json:"id,omitempty"`
	Title          string `json:"title"`
	Details        string `json:"details,omitempty"`
	Tier           string `json:"tier,omitempty"`
	Slot           Slot   `json:"slot"`
	PreferredSlots []Slot `json:"preferred_slots,omitempty"`
}

// Decision is the approver's call on a case.
type Decision struct {
	Decision       string `json:"decision"`
	Reason         string `json:"reason,omitempty"`
	Comment        string `json:"comment,omitempty"`
	AlternateSlots []Slot `json:"alternate_slots,omitempty"`
}

type DecisionResult struct {
	Case       Case   `json:"case"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	Alternates []Slot `json:"alternate_slots,omitempty"`
}

type BulkItem struct {
	ID         string `json:"id"`
	Result     string `json:"result"`
	Outcome    string `json:"outcome,omitempty"`
	Status     string `json:"status,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	Alternates []Slot `json:"alternate_slots,omitempty"`
}

type BulkReport struct {
	Items     []BulkItem `json:"items"`
	Processed int        `json:"processed"`
	Skipped   int        `json:"skipped"`
	Errored   int        `json:"errored"`
}

type Application struct {
	ID         string  `json:"id"`
	CaseID     string  `json:"case_id"`
	PanelistID string  `json:"panelist_id"`
	Status     string  `json:"status"`
	Payload    string  `json:"payload_json,omitempty"`
	Comment    string  `json:"comment,omitempty"`
	DecidedBy  *string `json:"decided_by,omitempty"`
	CreatedAt  string  `json:"created_at"`
	DecidedAt  *string `json:"decided_at,omitempty"`
}

type ApplicationResult struct {
	Application   Application `json:"application"`
	ApprovedCount int         `json:"approved_count"`
	Required      int         `json:"required_count"`
	CaseStatus    string      `json:"case_status"`
}

type Roster struct {
	CaseID    string   `json:"case_id"`
	Required  int      `json:"required_count"`
	Approved  int      `json:"approved_count"`
	Panelists []string `json:"panelists"`
}

type Verdict struct {
	ID          string `json:"id"`
	CaseID      string `json:"case_id"`
	PanelistID  string `json:"panelist_id"`
	Payload     string `json:"payload_json"`
	SubmittedAt string `json:"submitted_at"`
}

type Payment struct {
	ID            string `json:"id"`
	CaseID        string `json:"case_id"`
	RecipientID   string `json:"recipient_id"`
	Role          string `json:"role"`
	AmountCents   int64  `json:"amount_cents"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	FailureReason string `json:"failure_reason,omitempty"`
	Reference     string `json:"reference,omitempty"`
}

type Payout struct {
	Payment Payment `json:"payment"`
	Outcome string  `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

type DisbursementReport struct {
	CaseID            string   `json:"case_id"`
	FundingCents      int64    `json:"funding_cents"`
	PerRecipientCents int64    `json:"per_recipient_cents"`
	RoundingLossCents int64    `json:"rounding_loss_cents"`
	MovedCents        int64    `json:"moved_cents"`
	Succeeded         int      `json:"succeeded"`
	Failed            int      `json:"failed"`
	AlreadyPaid       int      `json:"already_paid"`
	Payouts           []Payout `json:"payouts"`
}

type Submission struct {
	Verdict      Verdict             `json:"verdict"`
	Complete     bool                `json:"complete"`
	Disbursed    bool                `json:"disbursed"`
	Disbursement *DisbursementReport `json:"disbursement,omitempty"`
}

type Funding struct {
	CaseID      string `json:"case_id"`
	Kind        string `json:"kind"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
	RecordedAt  string `json:"recorded_at"`
}

type SlotInfo struct {
	Slot   Slot   `json:"slot"`
	State  string `json:"state"`
	CaseID string `json:"case_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type Day struct {
	Date    string     `json:"date"`
	State   string     `json:"state"`
	Buckets []SlotInfo `json:"buckets"`
}

// Event represents a log entry.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	Kind        string `json:"kind"`
	CaseID      string `json:"case_id,omitempty"`
	ActorID     string `json:"actor_id"`
	ActorRole   string `json:"actor_role"`
	Description string `json:"description,omitempty"`
	Metadata    string `json:"metadata_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type Notification struct {
	ID          int64          `json:"id"`
	RecipientID string         `json:"recipient_id"`
	Role        string         `json:"role"`
	CaseID      string         `json:"case_id"`
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

type WhoAmI struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// APIError wraps non-2xx responses. Code and Message are filled from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// AlternateSlots returns the suggestions attached to a slot conflict.
func (e *APIError) AlternateSlots() []Slot {
	raw, ok := e.Details["alternate_slots"]
	if !ok {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var slots []Slot
	_ = json.Unmarshal(b, &slots)
	return slots
}

// CreateCase files a case as the authenticated submitter.
func (c *Client) CreateCase(ctx context.Context, in NewCase) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, "cases", in, &resp)
	return resp, err
}

// GetCase fetches one case.
func (c *Client) GetCase(ctx context.Context, id string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, casePath(id, ""), nil, &resp)
	return resp, err
}

// ListCases lists cases, optionally filtered by status.
func (c *Client) ListCases(ctx context.Context, status string, limit int) ([]Case, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp struct {
		Items []Case `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("cases", q), nil, &resp)
	return resp.Items, err
}

// Decide applies an approver decision. On a slot conflict the returned
// *APIError carries the alternates.
func (c *Client) Decide(ctx context.Context, caseID string, d Decision) (DecisionResult, error) {
	var resp DecisionResult
	err := c.do(ctx, http.MethodPost, casePath(caseID, "decision"), d, &resp)
	return resp, err
}

// BulkReview applies one decision to several cases.
func (c *Client) BulkReview(ctx context.Context, caseIDs []string, d Decision) (BulkReport, error) {
	body := struct {
		CaseIDs []string `json:"case_ids"`
		Decision
	}{CaseIDs: caseIDs, Decision: d}
	var resp BulkReport
	err := c.do(ctx, http.MethodPost, "cases/review", body, &resp)
	return resp, err
}

// RequestSlot asks for a new slot on a case awaiting approval.
func (c *Client) RequestSlot(ctx context.Context, caseID string, slot Slot) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, casePath(caseID, "slot"), map[string]any{"slot": slot}, &resp)
	return resp, err
}

// Begin starts the proceeding.
func (c *Client) Begin(ctx context.Context, caseID string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, casePath(caseID, "begin"), nil, &resp)
	return resp, err
}

// Conclude ends the proceeding.
func (c *Client) Conclude(ctx context.Context, caseID string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, casePath(caseID, "conclude"), nil, &resp)
	return resp, err
}

// Cancel withdraws a case awaiting approval.
func (c *Client) Cancel(ctx context.Context, caseID, reason string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, casePath(caseID, "cancel"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Slots returns per-day occupancy between from and to inclusive.
func (c *Client) Slots(ctx context.Context, from, to string) ([]Day, error) {
	q := url.Values{"from": {from}}
	if to != "" {
		q.Set("to", to)
	}
	var resp struct {
		Days []Day `json:"days"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("slots", q), nil, &resp)
	return resp.Days, err
}

// Block blocks a bucket, or the whole day when clock is empty.
func (c *Client) Block(ctx context.Context, date, clock, reason string) ([]Slot, error) {
	var resp struct {
		Slots []Slot `json:"slots"`
	}
	err := c.do(ctx, http.MethodPost, "slots/block", map[string]any{"date": date, "time": clock, "reason": reason}, &resp)
	return resp.Slots, err
}

// Apply asks to sit on a case's panel.
func (c *Client) Apply(ctx context.Context, caseID string, payload map[string]any) (Application, error) {
	var body any
	if payload != nil {
		body = map[string]any{"payload": payload}
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, casePath(caseID, "applications"), body, &resp)
	return resp, err
}

// ApproveApplication seats a panelist.
func (c *Client) ApproveApplication(ctx context.Context, caseID, applicationID string) (ApplicationResult, error) {
	var resp ApplicationResult
	err := c.do(ctx, http.MethodPost, casePath(caseID, "applications/"+url.PathEscape(applicationID)+"/approve"), nil, &resp)
	return resp, err
}

// RejectApplication turns down a panel application.
func (c *Client) RejectApplication(ctx context.Context, caseID, applicationID, comment string) (ApplicationResult, error) {
	var resp ApplicationResult
	err := c.do(ctx, http.MethodPost, casePath(caseID, "applications/"+url.PathEscape(applicationID)+"/reject"), map[string]any{"comment": comment}, &resp)
	return resp, err
}

// DecideApplications approves or rejects several applications in order.
func (c *Client) DecideApplications(ctx context.Context, caseID string, ids []string, decision, comment string) (BulkReport, error) {
	var resp BulkReport
	body := map[string]any{"application_ids": ids, "decision": decision, "comment": comment}
	err := c.do(ctx, http.MethodPost, casePath(caseID, "applications/decide"), body, &resp)
	return resp, err
}

// Roster returns the approved panelists.
func (c *Client) Roster(ctx context.Context, caseID string) (Roster, error) {
	var resp Roster
	err := c.do(ctx, http.MethodGet, casePath(caseID, "roster"), nil, &resp)
	return resp, err
}

// SubmitVerdict submits the authenticated panelist's verdict.
func (c *Client) SubmitVerdict(ctx context.Context, caseID string, payload map[string]any) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodPost, casePath(caseID, "verdicts"), map[string]any{"payload": payload}, &resp)
	return resp, err
}

// RecordFunding records the payment that funds a case. amount is a decimal
// string such as "350.00".
func (c *Client) RecordFunding(ctx context.Context, caseID, amount, reference string) (Funding, error) {
	var resp Funding
	err := c.do(ctx, http.MethodPost, casePath(caseID, "funding"), map[string]any{"amount": amount, "reference": reference}, &resp)
	return resp, err
}

// Disburse pays the panel of a completed case; safe to repeat.
func (c *Client) Disburse(ctx context.Context, caseID string) (DisbursementReport, error) {
	var resp DisbursementReport
	err := c.do(ctx, http.MethodPost, casePath(caseID, "disburse"), nil, &resp)
	return resp, err
}

// Payments lists payment records for a case.
func (c *Client) Payments(ctx context.Context, caseID string) ([]Payment, error) {
	var resp []Payment
	err := c.do(ctx, http.MethodGet, casePath(caseID, "payments"), nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, caseID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if caseID != "" {
		q.Set("case_id", caseID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

// Notifications lists the caller's notifications.
func (c *Client) Notifications(ctx context.Context, caseID string) ([]Notification, error) {
	q := url.Values{}
	if caseID != "" {
		q.Set("case_id", caseID)
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, withQuery("notifications", q), nil, &resp)
	return resp, err
}

// Me reports who the credentials resolve to.
func (c *Client) Me(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func casePath(id, p string) string {
	out := "cases/" + url.PathEscape(id)
	if p != "" {
		out += "/" + p
	}
	return out
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
