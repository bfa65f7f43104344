package repo

import (
	"context"
	"fmt"
	"strings"

	"docket/internal/domain"
)

type EventFilters struct {
	CaseID string
	Kind   string
	// Before pages backwards from an event id.
	Before int64
	Limit  int
}

func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if f.CaseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, f.CaseID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	query := fmt.Sprintf(`SELECT id,ts,kind,COALESCE(case_id,''),actor_id,actor_role,COALESCE(description,''),metadata_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var role string
		if err := rows.Scan(&e.ID, &e.TS, &e.Kind, &e.CaseID, &e.ActorID, &role, &e.Description, &e.Metadata); err != nil {
			return nil, err
		}
		e.ActorRole = domain.Role(role)
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountEvents counts events of a kind for a case.
func (r Repo) CountEvents(ctx context.Context, caseID, kind string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM events WHERE case_id=? AND kind=?`, caseID, kind).Scan(&n)
	return n, err
}
