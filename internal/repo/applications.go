package repo

import (
	"context"
	"database/sql"
	"strings"

	"docket/internal/domain"
)

const applicationColumns = `id,case_id,panelist_id,status,COALESCE(payload_json,''),COALESCE(comment,''),decided_by,created_at,decided_at`

func scanApplication(s scanner) (domain.Application, error) {
	var a domain.Application
	var status string
	var decidedBy, decidedAt sql.NullString
	if err := s.Scan(&a.ID, &a.CaseID, &a.PanelistID, &status, &a.Payload, &a.Comment, &decidedBy, &a.CreatedAt, &decidedAt); err != nil {
		return a, err
	}
	a.Status = domain.ApplicationStatus(status)
	a.DecidedBy = stringPtr(decidedBy)
	a.DecidedAt = stringPtr(decidedAt)
	return a, nil
}

// InsertApplication stores a pending application; false means the panelist
// already applied to the case.
func (r Repo) InsertApplication(ctx context.Context, tx *sql.Tx, a domain.Application) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO applications(id,case_id,panelist_id,status,payload_json,comment,decided_by,created_at,decided_at) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(case_id,panelist_id) DO NOTHING`,
		a.ID, a.CaseID, a.PanelistID, string(a.Status), nullable(a.Payload), nullable(a.Comment), nullableStringPtr(a.DecidedBy), a.CreatedAt, nullableStringPtr(a.DecidedAt))
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r Repo) GetApplication(ctx context.Context, tx *sql.Tx, id string) (domain.Application, error) {
	a, err := scanApplication(r.conn(tx).QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id=?`, id))
	if err != nil {
		return domain.Application{}, notFound(err, "application %s not found", id)
	}
	return a, nil
}

func (r Repo) ListApplications(ctx context.Context, tx *sql.Tx, caseID string, status domain.ApplicationStatus) ([]domain.Application, error) {
	clauses := []string{"case_id=?"}
	args := []any{caseID}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(status))
	}
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at, rowid`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CountApproved returns the number of approved applications for a case.
func (r Repo) CountApproved(ctx context.Context, tx *sql.Tx, caseID string) (int, error) {
	var n int
	err := r.conn(tx).QueryRowContext(ctx, `SELECT count(*) FROM applications WHERE case_id=? AND status='approved'`, caseID).Scan(&n)
	return n, err
}

// ApprovedRoster lists approved panelist ids in approval order.
func (r Repo) ApprovedRoster(ctx context.Context, tx *sql.Tx, caseID string) ([]string, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT panelist_id FROM applications WHERE case_id=? AND status='approved' ORDER BY decided_at, rowid`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// DecideApplication moves a pending application to status. It reports false
// when the application was no longer pending.
func (r Repo) DecideApplication(ctx context.Context, tx *sql.Tx, id string, status domain.ApplicationStatus, decidedBy, comment, now string) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE applications SET status=?, decided_by=?, decided_at=?, comment=COALESCE(?,comment) WHERE id=? AND status='pending'`,
		string(status), decidedBy, now, nullable(comment), id)
	if err != nil {
		return false, err
	}
	return affected(res)
}
