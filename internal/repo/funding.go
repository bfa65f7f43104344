package repo

import (
	"context"
	"database/sql"

	"docket/internal/domain"
)

func (r Repo) UpsertFunding(ctx context.Context, tx *sql.Tx, f domain.FundingPayment) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO funding_payments(case_id,kind,amount,reference,recorded_at) VALUES (?,?,?,?,?)
ON CONFLICT(case_id,kind) DO UPDATE SET amount=excluded.amount, reference=excluded.reference, recorded_at=excluded.recorded_at`,
		f.CaseID, f.Kind, int64(f.Amount), nullable(f.Reference), f.RecordedAt)
	return err
}

func (r Repo) GetFunding(ctx context.Context, tx *sql.Tx, caseID, kind string) (domain.FundingPayment, error) {
	var f domain.FundingPayment
	err := r.conn(tx).QueryRowContext(ctx, `SELECT case_id,kind,amount,COALESCE(reference,''),recorded_at FROM funding_payments WHERE case_id=? AND kind=?`, caseID, kind).
		Scan(&f.CaseID, &f.Kind, &f.Amount, &f.Reference, &f.RecordedAt)
	if err != nil {
		return f, notFound(err, "no %s funding for case %s", kind, caseID)
	}
	return f, nil
}

// InsertLedgerEntries writes the entries of one transfer.
func (r Repo) InsertLedgerEntries(ctx context.Context, tx *sql.Tx, entries []domain.LedgerEntry) error {
	q := r.conn(tx)
	for _, e := range entries {
		if _, err := q.ExecContext(ctx, `INSERT INTO ledger_entries(ts,transfer_id,entry_type,account,amount,case_id) VALUES (?,?,?,?,?,?)`,
			e.TS, e.Transfer, string(e.EntryType), e.Account, int64(e.Amount), nullable(e.CaseID)); err != nil {
			return err
		}
	}
	return nil
}

// AccountBalance returns credits minus debits for an account.
func (r Repo) AccountBalance(ctx context.Context, tx *sql.Tx, account string) (domain.Amount, error) {
	var bal int64
	err := r.conn(tx).QueryRowContext(ctx, `SELECT COALESCE(SUM(CASE entry_type WHEN 'CREDIT' THEN amount ELSE -amount END),0) FROM ledger_entries WHERE account=?`, account).Scan(&bal)
	return domain.Amount(bal), err
}

func (r Repo) ListLedgerEntries(ctx context.Context, tx *sql.Tx, caseID string) ([]domain.LedgerEntry, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT id,ts,transfer_id,entry_type,account,amount,COALESCE(case_id,'') FROM ledger_entries WHERE case_id=? ORDER BY id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.TS, &e.Transfer, &typ, &e.Account, &e.Amount, &e.CaseID); err != nil {
			return nil, err
		}
		e.EntryType = domain.EntryType(typ)
		res = append(res, e)
	}
	return res, rows.Err()
}
