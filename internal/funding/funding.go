// Package funding backs the engine's FundingSource and Transferer with the
// funding_payments table and a double-entry ledger.
package funding

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"docket/internal/domain"
	"docket/internal/repo"
)

// EscrowAccount holds a case's funding until it is paid out.
func EscrowAccount(caseID string) string { return "case:" + caseID }

// RecipientAccount is the ledger account of a payee.
func RecipientAccount(role domain.Role, id string) string { return string(role) + ":" + id }

// ExternalAccount is the counter-account of incoming payments of a kind.
func ExternalAccount(kind string) string { return "external:" + kind }

// Source looks up completed funding payments.
type Source struct {
	Repo repo.Repo
}

func (s Source) LookupCompletedPayment(ctx context.Context, caseID, kind string) (domain.Amount, error) {
	f, err := s.Repo.GetFunding(ctx, nil, caseID, kind)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, domain.ErrFundingNotFound.With("no completed %s payment for case %s", kind, caseID)
	}
	if err != nil {
		return 0, err
	}
	return f.Amount, nil
}

// Ledger moves funds between accounts as balanced DEBIT/CREDIT pairs.
type Ledger struct {
	DB   *sql.DB
	Repo repo.Repo
	Now  func() time.Time
}

func (l Ledger) now() string {
	if l.Now != nil {
		return l.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// Deposit credits a case's escrow with an incoming payment.
func (l Ledger) Deposit(ctx context.Context, tx *sql.Tx, caseID, kind string, amount domain.Amount) (string, error) {
	id := uuid.NewString()
	ts := l.now()
	err := l.Repo.InsertLedgerEntries(ctx, tx, []domain.LedgerEntry{
		{TS: ts, Transfer: id, EntryType: domain.EntryDebit, Account: ExternalAccount(kind), Amount: amount, CaseID: caseID},
		{TS: ts, Transfer: id, EntryType: domain.EntryCredit, Account: EscrowAccount(caseID), Amount: amount, CaseID: caseID},
	})
	return id, err
}

// Transfer pays p out of the case escrow. It fails without writing anything
// when the escrow cannot cover the amount.
func (l Ledger) Transfer(ctx context.Context, p domain.Payment) (string, error) {
	if p.Amount <= 0 {
		return "", nil
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	escrow := EscrowAccount(p.CaseID)
	bal, err := l.Repo.AccountBalance(ctx, tx, escrow)
	if err != nil {
		return "", err
	}
	if bal < p.Amount {
		return "", domain.ErrTransferFailed.With("escrow %s holds %s, payment needs %s", escrow, bal, p.Amount)
	}
	id := uuid.NewString()
	ts := l.now()
	if err := l.Repo.InsertLedgerEntries(ctx, tx, []domain.LedgerEntry{
		{TS: ts, Transfer: id, EntryType: domain.EntryDebit, Account: escrow, Amount: p.Amount, CaseID: p.CaseID},
		{TS: ts, Transfer: id, EntryType: domain.EntryCredit, Account: RecipientAccount(p.Role, p.RecipientID), Amount: p.Amount, CaseID: p.CaseID},
	}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}
