package funding

import (
	"context"
	"errors"
	"testing"

	"docket/internal/db"
	"docket/internal/domain"
	"docket/internal/migrate"
	"docket/internal/repo"
)

func setup(t *testing.T) (Ledger, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	return Ledger{DB: conn, Repo: r}, r
}

func TestTransferMovesEscrow(t *testing.T) {
	ctx := context.Background()
	l, r := setup(t)
	if _, err := l.Deposit(ctx, nil, "c1", "panel_fee", 10000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	ref, err := l.Transfer(ctx, domain.Payment{CaseID: "c1", RecipientID: "p1", Role: domain.RolePanelist, Amount: 4000})
	if err != nil || ref == "" {
		t.Fatalf("transfer: %q %v", ref, err)
	}
	bal, _ := r.AccountBalance(ctx, nil, EscrowAccount("c1"))
	if bal != 6000 {
		t.Fatalf("escrow balance = %d, want 6000", bal)
	}
	got, _ := r.AccountBalance(ctx, nil, RecipientAccount(domain.RolePanelist, "p1"))
	if got != 4000 {
		t.Fatalf("recipient balance = %d, want 4000", got)
	}
}

func TestTransferInsufficientEscrow(t *testing.T) {
	ctx := context.Background()
	l, r := setup(t)
	_, err := l.Transfer(ctx, domain.Payment{CaseID: "c1", RecipientID: "p1", Role: domain.RolePanelist, Amount: 1})
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	entries, _ := r.ListLedgerEntries(ctx, nil, "c1")
	if len(entries) != 0 {
		t.Fatalf("expected no ledger entries, got %d", len(entries))
	}
}

func TestSourceMissingFunding(t *testing.T) {
	_, r := setup(t)
	_, err := Source{Repo: r}.LookupCompletedPayment(context.Background(), "nope", "panel_fee")
	if !errors.Is(err, domain.ErrFundingNotFound) {
		t.Fatalf("expected funding not found, got %v", err)
	}
}
