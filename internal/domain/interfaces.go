package domain

import "context"

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// The engine consumes these; infrastructure packages implement them.

// NotificationSink delivers a notification to one recipient. Delivery is
// fire-and-forget: callers log a returned error and carry on.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// FundingSource finds the completed incoming payment a case is funded by.
type FundingSource interface {
	LookupCompletedPayment(ctx context.Context, caseID, kind string) (Amount, error)
}

// Transferer moves funds for one payment record and returns a reference.
type Transferer interface {
	Transfer(ctx context.Context, p Payment) (string, error)
}
