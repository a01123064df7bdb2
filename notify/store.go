package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDuplicateKey is returned by Store.CreateNotification when the
// idempotency key was already stored.
var ErrDuplicateKey = errors.New("duplicate idempotency key")

// Store persists inbound notifications.
type Store interface {
	CreateNotification(ctx context.Context, n Notification) error
	NotificationByKey(ctx context.Context, key string) (*Notification, error)
	// MarkNotificationRead sets status=read and read_at=at unless already read.
	// Unknown ids return ledger.ErrNotificationNotFound.
	MarkNotificationRead(ctx context.Context, id string, at time.Time) error
	ListNotifications(ctx context.Context, f ListFilter) ([]Notification, error)
	CountUnread(ctx context.Context) (int, error)
	// PurgeReadNotifications deletes read notifications with read_at < before.
	PurgeReadNotifications(ctx context.Context, before time.Time) (int64, error)
}

// ListFilter selects notifications, ordered by occurred_at desc, id desc.
type ListFilter struct {
	Status Status // empty means any status
	Since  *time.Time
	Topic  string
	Type   string
	After  *Cursor
	Limit  int
}

// Cursor is a keyset position: rows strictly after it in listing order.
type Cursor struct {
	OccurredAt time.Time
	ID         string
}

// Encode renders the cursor as base64url("occurred_at|id").
func (c Cursor) Encode() string {
	raw := c.OccurredAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Cursor.Encode.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	occurred, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return Cursor{}, errors.New("decode cursor: malformed token")
	}
	t, err := time.Parse(time.RFC3339Nano, occurred)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	return Cursor{OccurredAt: t.UTC(), ID: id}, nil
}
