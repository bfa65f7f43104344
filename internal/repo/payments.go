package repo

import (
	"context"
	"database/sql"

	"docket/internal/domain"
)

const paymentColumns = `id,case_id,recipient_id,role,amount,status,attempts,COALESCE(failure_reason,''),COALESCE(reference,''),created_at,updated_at`

func scanPayment(s scanner) (domain.Payment, error) {
	var p domain.Payment
	var role, status string
	if err := s.Scan(&p.ID, &p.CaseID, &p.RecipientID, &role, &p.Amount, &status, &p.Attempts, &p.FailureReason, &p.Reference, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	p.Role = domain.Role(role)
	p.Status = domain.PaymentStatus(status)
	return p, nil
}

// EnsurePayment creates the pending record for (case, recipient, role) if it
// does not exist yet and returns the stored record either way.
func (r Repo) EnsurePayment(ctx context.Context, tx *sql.Tx, p domain.Payment) (domain.Payment, error) {
	q := r.conn(tx)
	_, err := q.ExecContext(ctx, `INSERT INTO payments(id,case_id,recipient_id,role,amount,status,attempts,failure_reason,reference,created_at,updated_at) VALUES (?,?,?,?,?,?,0,NULL,NULL,?,?)
ON CONFLICT(case_id,recipient_id,role) DO NOTHING`,
		p.ID, p.CaseID, p.RecipientID, string(p.Role), int64(p.Amount), string(domain.PaymentPending), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.Payment{}, err
	}
	return scanPayment(q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE case_id=? AND recipient_id=? AND role=?`, p.CaseID, p.RecipientID, string(p.Role)))
}

func (r Repo) GetPayment(ctx context.Context, tx *sql.Tx, id string) (domain.Payment, error) {
	p, err := scanPayment(r.conn(tx).QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=?`, id))
	if err != nil {
		return domain.Payment{}, notFound(err, "payment %s not found", id)
	}
	return p, nil
}

func (r Repo) ListPayments(ctx context.Context, tx *sql.Tx, caseID string) ([]domain.Payment, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE case_id=? ORDER BY created_at, recipient_id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ClaimPayment bumps the attempt counter of a payment that has not
// succeeded. False means it already succeeded or another attempt holds it.
func (r Repo) ClaimPayment(ctx context.Context, tx *sql.Tx, id string, attempts int, now string) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE payments SET attempts=attempts+1, status='pending', updated_at=? WHERE id=? AND status<>'succeeded' AND attempts=?`, now, id, attempts)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// FinishPayment records the terminal outcome of an attempt.
func (r Repo) FinishPayment(ctx context.Context, tx *sql.Tx, id string, status domain.PaymentStatus, reference, failure, now string) error {
	_, err := r.conn(tx).ExecContext(ctx, `UPDATE payments SET status=?, reference=?, failure_reason=?, updated_at=? WHERE id=?`,
		string(status), nullable(reference), nullable(failure), now, id)
	return err
}
