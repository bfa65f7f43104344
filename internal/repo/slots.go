package repo

import (
	"context"
	"database/sql"

	"docket/internal/domain"
)

const (
	BindingCase  = "case"
	BindingBlock = "block"
)

// SlotBinding is an occupied calendar bucket.
type SlotBinding struct {
	Slot      domain.Slot
	Kind      string
	CaseID    string
	Reason    string
	CreatedAt string
}

// BindSlot claims a free bucket for a case. The primary key on
// (slot_date, slot_time) makes the claim atomic: false means the bucket was
// already bound or blocked.
func (r Repo) BindSlot(ctx context.Context, tx *sql.Tx, slot domain.Slot, caseID, now string) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO slot_bindings(slot_date,slot_time,kind,case_id,reason,created_at) VALUES (?,?,?,?,NULL,?)
ON CONFLICT(slot_date,slot_time) DO NOTHING`, slot.Date, slot.Time, BindingCase, caseID, now)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// BlockSlot marks a free bucket as administratively blocked. An existing
// block is refreshed with the new reason; a case binding is left alone and
// reported as false.
func (r Repo) BlockSlot(ctx context.Context, tx *sql.Tx, slot domain.Slot, reason, now string) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO slot_bindings(slot_date,slot_time,kind,case_id,reason,created_at) VALUES (?,?,?,NULL,?,?)
ON CONFLICT(slot_date,slot_time) DO UPDATE SET reason=excluded.reason WHERE slot_bindings.kind='block'`, slot.Date, slot.Time, BindingBlock, nullable(reason), now)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// UnblockSlot removes an administrative block. Case bindings are untouched.
func (r Repo) UnblockSlot(ctx context.Context, tx *sql.Tx, slot domain.Slot) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM slot_bindings WHERE slot_date=? AND slot_time=? AND kind='block'`, slot.Date, slot.Time)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ReleaseSlot frees a bucket bound to a case and returns the former owner.
func (r Repo) ReleaseSlot(ctx context.Context, tx *sql.Tx, slot domain.Slot) (string, error) {
	q := r.conn(tx)
	var caseID string
	err := q.QueryRowContext(ctx, `SELECT case_id FROM slot_bindings WHERE slot_date=? AND slot_time=? AND kind='case'`, slot.Date, slot.Time).Scan(&caseID)
	if err != nil {
		return "", notFound(err, "slot %s is not bound", slot)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM slot_bindings WHERE slot_date=? AND slot_time=? AND kind='case'`, slot.Date, slot.Time); err != nil {
		return "", err
	}
	return caseID, nil
}

// ReleaseCaseSlots frees every bucket a case holds.
func (r Repo) ReleaseCaseSlots(ctx context.Context, tx *sql.Tx, caseID string) (int, error) {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM slot_bindings WHERE case_id=? AND kind='case'`, caseID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetBinding returns the binding on a bucket, or ErrNotFound when it is free.
func (r Repo) GetBinding(ctx context.Context, tx *sql.Tx, slot domain.Slot) (SlotBinding, error) {
	row := r.conn(tx).QueryRowContext(ctx, `SELECT slot_date,slot_time,kind,COALESCE(case_id,''),COALESCE(reason,''),created_at FROM slot_bindings WHERE slot_date=? AND slot_time=?`, slot.Date, slot.Time)
	b, err := scanBinding(row)
	if err != nil {
		return SlotBinding{}, notFound(err, "slot %s is free", slot)
	}
	return b, nil
}

// CaseSlots lists the buckets bound to a case in calendar order.
func (r Repo) CaseSlots(ctx context.Context, tx *sql.Tx, caseID string) ([]domain.Slot, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT slot_date,slot_time FROM slot_bindings WHERE case_id=? AND kind='case' ORDER BY slot_date,slot_time`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Slot
	for rows.Next() {
		var s domain.Slot
		if err := rows.Scan(&s.Date, &s.Time); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// BindingsBetween lists bindings for dates in [fromDate, toDate].
func (r Repo) BindingsBetween(ctx context.Context, tx *sql.Tx, fromDate, toDate string) ([]SlotBinding, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT slot_date,slot_time,kind,COALESCE(case_id,''),COALESCE(reason,''),created_at FROM slot_bindings WHERE slot_date>=? AND slot_date<=? ORDER BY slot_date,slot_time`, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SlotBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func scanBinding(s scanner) (SlotBinding, error) {
	var b SlotBinding
	err := s.Scan(&b.Slot.Date, &b.Slot.Time, &b.Kind, &b.CaseID, &b.Reason, &b.CreatedAt)
	return b, err
}
