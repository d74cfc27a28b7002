package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- Notifications ---

const notificationColumns = `id, user_id, title, body, type, action_payload, is_read, is_dismissed, created_at`

func scanNotification(row interface{ Scan(...any) error }) (Notification, error) {
	var n Notification
	var read, dismissed int
	var createdAt string
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.Type, &n.ActionPayload, &read, &dismissed, &createdAt); err != nil {
		return Notification{}, err
	}
	n.IsRead, n.IsDismissed = read != 0, dismissed != 0
	var err error
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return Notification{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return n, nil
}

func (s *Store) CreateNotification(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Type == "" {
		n.Type = "info"
	}
	n.CreatedAt = time.Now().UTC().Truncate(time.Second)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Body, n.Type, n.ActionPayload, boolInt(n.IsRead), boolInt(n.IsDismissed), formatTime(n.CreatedAt),
	)
	if err != nil {
		return Notification{}, fmt.Errorf("creating notification: %w", err)
	}
	return n, nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Notification{}, ErrNotFound
	}
	return n, err
}

// ListNotifications returns the non-dismissed notifications of userID, newest
// first.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE user_id = ? AND is_dismissed = 0
		ORDER BY created_at DESC, id LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affected(res)
}

func (s *Store) DismissNotification(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_dismissed = 1, is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affected(res)
}

// --- Watchdog rules ---

const ruleColumns = `id, name, active, check_type, target, filter_json, threshold, recipients, last_check`

func scanRule(row interface{ Scan(...any) error }) (WatchdogRule, error) {
	var r WatchdogRule
	var active int
	var recipients string
	var lastCheck sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &active, &r.CheckType, &r.Target, &r.FilterJSON, &r.Threshold, &recipients, &lastCheck); err != nil {
		return WatchdogRule{}, err
	}
	r.Active = active != 0
	if err := json.Unmarshal([]byte(recipients), &r.Recipients); err != nil {
		return WatchdogRule{}, fmt.Errorf("decoding recipients of rule %s: %w", r.Name, err)
	}
	var err error
	if r.LastCheck, err = parseNullTime(lastCheck); err != nil {
		return WatchdogRule{}, fmt.Errorf("parsing last_check: %w", err)
	}
	return r, nil
}

// UpsertWatchdogRule inserts a rule or replaces the definition of the rule
// with the same name, keeping its ID and last check.
func (s *Store) UpsertWatchdogRule(ctx context.Context, r WatchdogRule) (WatchdogRule, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.FilterJSON == "" {
		r.FilterJSON = "{}"
	}
	recipients, err := json.Marshal(r.Recipients)
	if err != nil {
		return WatchdogRule{}, fmt.Errorf("encoding recipients: %w", err)
	}
	if r.Recipients == nil {
		recipients = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO watchdog_rules (id, name, active, check_type, target, filter_json, threshold, recipients)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			active = excluded.active, check_type = excluded.check_type, target = excluded.target,
			filter_json = excluded.filter_json, threshold = excluded.threshold, recipients = excluded.recipients`,
		r.ID, r.Name, boolInt(r.Active), r.CheckType, r.Target, r.FilterJSON, r.Threshold, string(recipients),
	)
	if err != nil {
		return WatchdogRule{}, fmt.Errorf("upserting rule %s: %w", r.Name, err)
	}
	return scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM watchdog_rules WHERE name = ?`, r.Name))
}

// ListWatchdogRules returns the rules ordered by name.
func (s *Store) ListWatchdogRules(ctx context.Context, activeOnly bool) ([]WatchdogRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM watchdog_rules`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	defer rows.Close()

	var out []WatchdogRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) TouchWatchdogRule(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE watchdog_rules SET last_check = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return err
	}
	return affected(res)
}
