package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/movimientos/ledger"
	"github.com/warp/movimientos/notify"
)

// =============================================================================
// NOTIFICATIONS (notify.Store interface)
// =============================================================================

const notificationColumns = `id, type, title, body, deeplink, topic, priority, occurred_at, status,
	read_at, variables, idempotency_key, source_app, created_at`

func (s *Store) CreateNotification(ctx context.Context, n notify.Notification) error {
	var variables sql.NullString
	if n.Variables != nil {
		raw, err := json.Marshal(n.Variables)
		if err != nil {
			return fmt.Errorf("encode notification variables: %w", err)
		}
		variables = sql.NullString{String: string(raw), Valid: true}
	}
	var readAt sql.NullString
	if n.ReadAt != nil {
		readAt = nullString(formatTime(*n.ReadAt))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Type, n.Title, n.Body, nullString(n.Deeplink), nullString(n.Topic), n.Priority,
		formatTime(n.OccurredAt), string(n.Status), readAt, variables,
		n.IdempotencyKey, n.SourceApp, formatTime(n.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
			return notify.ErrDuplicateKey
		}
		return mapWriteError("insert notification", err)
	}
	return nil
}

func (s *Store) NotificationByKey(ctx context.Context, key string) (*notify.Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE idempotency_key = ?`, key)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status = 'read', read_at = ?
		WHERE id = ? AND status = 'unread'`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}

	// Nothing changed: either already read or unknown.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM notifications WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotificationNotFound
	}
	return err
}

func (s *Store) ListNotifications(ctx context.Context, f notify.ListFilter) ([]notify.Notification, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Since != nil {
		where = append(where, "occurred_at >= ?")
		args = append(args, formatTime(*f.Since))
	}
	if f.Topic != "" {
		where = append(where, "topic = ?")
		args = append(args, f.Topic)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.After != nil {
		at := formatTime(f.After.OccurredAt)
		where = append(where, "(occurred_at < ? OR (occurred_at = ? AND id < ?))")
		args = append(args, at, at, f.After.ID)
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY occurred_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *Store) CountUnread(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE status = 'unread'`).Scan(&n)
	return n, err
}

func (s *Store) PurgeReadNotifications(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE status = 'read' AND read_at IS NOT NULL AND read_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("failed to purge notifications: %w", err)
	}
	return res.RowsAffected()
}

func scanNotification(row rowScanner) (*notify.Notification, error) {
	var (
		n          notify.Notification
		deeplink   sql.NullString
		topic      sql.NullString
		occurredAt string
		status     string
		readAt     sql.NullString
		variables  sql.NullString
		createdAt  string
	)
	err := row.Scan(&n.ID, &n.Type, &n.Title, &n.Body, &deeplink, &topic, &n.Priority, &occurredAt,
		&status, &readAt, &variables, &n.IdempotencyKey, &n.SourceApp, &createdAt)
	if err != nil {
		return nil, err
	}
	n.Deeplink = deeplink.String
	n.Topic = topic.String
	n.Status = notify.Status(status)
	if n.OccurredAt, err = parseTime(occurredAt); err != nil {
		return nil, err
	}
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if readAt.Valid {
		t, err := parseTime(readAt.String)
		if err != nil {
			return nil, err
		}
		n.ReadAt = &t
	}
	if variables.Valid {
		if err := json.Unmarshal([]byte(variables.String), &n.Variables); err != nil {
			return nil, fmt.Errorf("decode notification variables: %w", err)
		}
	}
	return &n, nil
}
