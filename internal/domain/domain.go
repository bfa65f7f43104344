package domain

// CaseStatus is the single lifecycle enum of a case.
type CaseStatus string

const (
	StatusAwaitingApproval    CaseStatus = "awaiting_approval"
	StatusOpenForApplications CaseStatus = "open_for_applications"
	StatusReadyForExecution   CaseStatus = "ready_for_execution"
	StatusInExecution         CaseStatus = "in_execution"
	StatusAwaitingResults     CaseStatus = "awaiting_results"
	StatusCompleted           CaseStatus = "completed"
	StatusCancelled           CaseStatus = "cancelled"
)

var statusRank = map[CaseStatus]int{
	StatusAwaitingApproval:    0,
	StatusOpenForApplications: 1,
	StatusReadyForExecution:   2,
	StatusInExecution:         3,
	StatusAwaitingResults:     4,
	StatusCompleted:           5,
	StatusCancelled:           5,
}

// Valid reports whether s is a known lifecycle status.
func (s CaseStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further transition can leave s.
func (s CaseStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Rank orders statuses along the lifecycle; terminal states share the last rank.
func (s CaseStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// ReviewStatus is the presentation view of the approver's decision, derived
// from the lifecycle status rather than stored.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Review derives the review status from the lifecycle status.
func (s CaseStatus) Review() ReviewStatus {
	switch s {
	case StatusAwaitingApproval:
		return ReviewPending
	case StatusCancelled:
		return ReviewRejected
	default:
		return ReviewApproved
	}
}

// Role names the actor roles the engine knows about.
type Role string

const (
	RoleSubmitter Role = "submitter"
	RoleApprover  Role = "approver"
	RolePanelist  Role = "panelist"
	RoleSystem    Role = "system"
)

// Actor is whoever drives an operation, as recorded in the event log.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// System is the actor for transitions nobody triggers directly.
var System = Actor{ID: "system", Role: RoleSystem}

type Case struct {
	ID                  string     `json:"id"`
	SubmitterID         string     `json:"submitter_id"`
	Title               string     `json:"title"`
	Details             string     `json:"details,omitempty"`
	Tier                string     `json:"tier"`
	Slot                Slot       `json:"slot"`
	DurationBuckets     int        `json:"duration_buckets"`
	Status              CaseStatus `json:"status"`
	RescheduleRequested bool       `json:"reschedule_requested"`
	SuggestedSlots      []Slot     `json:"suggested_slots,omitempty"`
	PreferredSlots      []Slot     `json:"preferred_slots,omitempty"`
	RequiredPanelists   int        `json:"required_panelists"`
	FundingAmount       Amount     `json:"funding_amount_cents"`
	RejectionReason     *string    `json:"rejection_reason,omitempty"`
	CreatedAt           string     `json:"created_at" format:"date-time"`
	UpdatedAt           string     `json:"updated_at" format:"date-time"`
	CompletedAt         *string    `json:"completed_at,omitempty" format:"date-time"`
}

// ApplicationStatus is the decision state of a panel application.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

type Application struct {
	ID         string            `json:"id"`
	CaseID     string            `json:"case_id"`
	PanelistID string            `json:"panelist_id"`
	Status     ApplicationStatus `json:"status"`
	Payload    string            `json:"payload_json,omitempty"`
	Comment    string            `json:"comment,omitempty"`
	DecidedBy  *string           `json:"decided_by,omitempty"`
	CreatedAt  string            `json:"created_at" format:"date-time"`
	DecidedAt  *string           `json:"decided_at,omitempty" format:"date-time"`
}

// Verdict is one panelist's response submission for a case.
type Verdict struct {
	ID          string `json:"id"`
	CaseID      string `json:"case_id"`
	PanelistID  string `json:"panelist_id"`
	Payload     string `json:"payload_json"`
	SubmittedAt string `json:"submitted_at" format:"date-time"`
}

// PaymentStatus tracks a single funds movement attempt.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

type Payment struct {
	ID            string        `json:"id"`
	CaseID        string        `json:"case_id"`
	RecipientID   string        `json:"recipient_id"`
	Role          Role          `json:"role"`
	Amount        Amount        `json:"amount_cents"`
	Status        PaymentStatus `json:"status"`
	Attempts      int           `json:"attempts"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Reference     string        `json:"reference,omitempty"`
	CreatedAt     string        `json:"created_at" format:"date-time"`
	UpdatedAt     string        `json:"updated_at" format:"date-time"`
}

// FundingPayment is a completed incoming payment a case draws its
// disbursement from.
type FundingPayment struct {
	CaseID     string `json:"case_id"`
	Kind       string `json:"kind"`
	Amount     Amount `json:"amount_cents"`
	Reference  string `json:"reference,omitempty"`
	RecordedAt string `json:"recorded_at" format:"date-time"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Kind        string `json:"kind"`
	CaseID      string `json:"case_id,omitempty"`
	ActorID     string `json:"actor_id"`
	ActorRole   Role   `json:"actor_role"`
	Description string `json:"description,omitempty"`
	Metadata    string `json:"metadata_json"`
}

type Notification struct {
	ID          int64          `json:"id"`
	RecipientID string         `json:"recipient_id"`
	Role        Role           `json:"role"`
	CaseID      string         `json:"case_id"`
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// EntryType is the accounting side of a ledger entry.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// LedgerEntry is one side of a balanced transfer.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	TS        string    `json:"ts" format:"date-time"`
	Transfer  string    `json:"transfer_id"`
	EntryType EntryType `json:"entry_type"`
	Account   string    `json:"account"`
	Amount    Amount    `json:"amount_cents"`
	CaseID    string    `json:"case_id,omitempty"`
}
