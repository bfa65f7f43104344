package repo

import (
	"context"
	"database/sql"

	"docket/internal/domain"
)

// InsertVerdict stores a panelist's verdict; false means one already exists.
func (r Repo) InsertVerdict(ctx context.Context, tx *sql.Tx, v domain.Verdict) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO verdicts(id,case_id,panelist_id,payload_json,submitted_at) VALUES (?,?,?,?,?)
ON CONFLICT(case_id,panelist_id) DO NOTHING`, v.ID, v.CaseID, v.PanelistID, v.Payload, v.SubmittedAt)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r Repo) ListVerdicts(ctx context.Context, tx *sql.Tx, caseID string) ([]domain.Verdict, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT id,case_id,panelist_id,payload_json,submitted_at FROM verdicts WHERE case_id=? ORDER BY submitted_at, id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Verdict
	for rows.Next() {
		var v domain.Verdict
		if err := rows.Scan(&v.ID, &v.CaseID, &v.PanelistID, &v.Payload, &v.SubmittedAt); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// CountRosterVerdicts counts verdicts submitted by currently approved
// panelists of the case.
func (r Repo) CountRosterVerdicts(ctx context.Context, tx *sql.Tx, caseID string) (int, error) {
	var n int
	err := r.conn(tx).QueryRowContext(ctx, `SELECT count(*) FROM verdicts v
JOIN applications a ON a.case_id=v.case_id AND a.panelist_id=v.panelist_id AND a.status='approved'
WHERE v.case_id=?`, caseID).Scan(&n)
	return n, err
}
