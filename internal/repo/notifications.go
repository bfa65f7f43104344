package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"docket/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) (int64, error) {
	payload := n.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO notifications(recipient_id,role,case_id,kind,payload_json,created_at) VALUES (?,?,?,?,?,?)`,
		n.RecipientID, string(n.Role), n.CaseID, n.Kind, string(data), n.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListNotifications returns a recipient's notifications newest first. An
// empty recipient lists everything.
func (r Repo) ListNotifications(ctx context.Context, recipientID, caseID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,recipient_id,role,case_id,kind,payload_json,created_at FROM notifications WHERE (?='' OR recipient_id=?) AND (?='' OR case_id=?) ORDER BY id DESC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, recipientID, recipientID, caseID, caseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var role, payload string
		if err := rows.Scan(&n.ID, &n.RecipientID, &role, &n.CaseID, &n.Kind, &payload, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Role = domain.Role(role)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &n.Payload); err != nil {
				return nil, err
			}
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
