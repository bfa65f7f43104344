package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"docket/internal/domain"
)

const caseColumns = `id,submitter_id,title,COALESCE(details,''),tier,slot_date,slot_time,duration_buckets,status,reschedule_requested,suggested_slots_json,preferred_slots_json,required_panelists,funding_amount,rejection_reason,created_at,updated_at,completed_at`

func scanCase(s scanner) (domain.Case, error) {
	var c domain.Case
	var status string
	var rescheduled int
	var suggested, preferred string
	var reason, completed sql.NullString
	err := s.Scan(&c.ID, &c.SubmitterID, &c.Title, &c.Details, &c.Tier, &c.Slot.Date, &c.Slot.Time, &c.DurationBuckets,
		&status, &rescheduled, &suggested, &preferred, &c.RequiredPanelists, &c.FundingAmount, &reason, &c.CreatedAt, &c.UpdatedAt, &completed)
	if err != nil {
		return c, err
	}
	c.Status = domain.CaseStatus(status)
	c.RescheduleRequested = rescheduled != 0
	c.RejectionReason = stringPtr(reason)
	c.CompletedAt = stringPtr(completed)
	if err := decodeSlots(suggested, &c.SuggestedSlots); err != nil {
		return c, fmt.Errorf("case %s suggested slots: %w", c.ID, err)
	}
	if err := decodeSlots(preferred, &c.PreferredSlots); err != nil {
		return c, fmt.Errorf("case %s preferred slots: %w", c.ID, err)
	}
	return c, nil
}

func decodeSlots(raw string, dst *[]domain.Slot) error {
	if raw == "" || raw == "[]" {
		*dst = nil
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func encodeSlots(slots []domain.Slot) (string, error) {
	if len(slots) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	suggested, err := encodeSlots(c.SuggestedSlots)
	if err != nil {
		return err
	}
	preferred, err := encodeSlots(c.PreferredSlots)
	if err != nil {
		return err
	}
	_, err = r.conn(tx).ExecContext(ctx, `INSERT INTO cases(id,submitter_id,title,details,tier,slot_date,slot_time,duration_buckets,status,reschedule_requested,suggested_slots_json,preferred_slots_json,required_panelists,funding_amount,rejection_reason,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.SubmitterID, c.Title, nullable(c.Details), c.Tier, c.Slot.Date, c.Slot.Time, c.DurationBuckets,
		string(c.Status), boolInt(c.RescheduleRequested), suggested, preferred, c.RequiredPanelists, int64(c.FundingAmount),
		nullableStringPtr(c.RejectionReason), c.CreatedAt, c.UpdatedAt, nullableStringPtr(c.CompletedAt))
	return err
}

func (r Repo) GetCase(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	c, err := scanCase(r.conn(tx).QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
	if err != nil {
		return domain.Case{}, notFound(err, "case %s not found", id)
	}
	return c, nil
}

type CaseFilters struct {
	Status      domain.CaseStatus
	SubmitterID string
	// PanelistID limits to cases the panelist applied to.
	PanelistID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.SubmitterID != "" {
		clauses = append(clauses, "submitter_id=?")
		args = append(args, f.SubmitterID)
	}
	if f.PanelistID != "" {
		clauses = append(clauses, "id IN (SELECT case_id FROM applications WHERE panelist_id=?)")
		args = append(args, f.PanelistID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + caseColumns + ` FROM cases WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CaseGuard is the state a conditional update expects to find.
type CaseGuard struct {
	Status domain.CaseStatus
	// RescheduleRequested, when set, must match the stored flag.
	RescheduleRequested *bool
}

// CaseChange lists the columns a conditional update writes; nil fields are
// left untouched.
type CaseChange struct {
	Status              *domain.CaseStatus
	Slot                *domain.Slot
	RescheduleRequested *bool
	SuggestedSlots      *[]domain.Slot
	RejectionReason     *string
	CompletedAt         *string
}

// UpdateCaseIf applies change only if the stored case still matches guard.
// It reports false when another writer got there first.
func (r Repo) UpdateCaseIf(ctx context.Context, tx *sql.Tx, id string, guard CaseGuard, change CaseChange, now string) (bool, error) {
	fields := []string{"updated_at=?"}
	args := []any{now}
	if change.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, string(*change.Status))
	}
	if change.Slot != nil {
		fields = append(fields, "slot_date=?", "slot_time=?")
		args = append(args, change.Slot.Date, change.Slot.Time)
	}
	if change.RescheduleRequested != nil {
		fields = append(fields, "reschedule_requested=?")
		args = append(args, boolInt(*change.RescheduleRequested))
	}
	if change.SuggestedSlots != nil {
		raw, err := encodeSlots(*change.SuggestedSlots)
		if err != nil {
			return false, err
		}
		fields = append(fields, "suggested_slots_json=?")
		args = append(args, raw)
	}
	if change.RejectionReason != nil {
		fields = append(fields, "rejection_reason=?")
		args = append(args, *change.RejectionReason)
	}
	if change.CompletedAt != nil {
		fields = append(fields, "completed_at=?")
		args = append(args, *change.CompletedAt)
	}
	where := []string{"id=?", "status=?"}
	args = append(args, id, string(guard.Status))
	if guard.RescheduleRequested != nil {
		where = append(where, "reschedule_requested=?")
		args = append(args, boolInt(*guard.RescheduleRequested))
	}
	res, err := r.conn(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE cases SET %s WHERE %s`, strings.Join(fields, ","), strings.Join(where, " AND ")), args...)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// CountCasesByStatus returns case counts keyed by lifecycle status.
func (r Repo) CountCasesByStatus(ctx context.Context) (map[domain.CaseStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM cases GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.CaseStatus]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[domain.CaseStatus(status)] = count
	}
	return res, rows.Err()
}
