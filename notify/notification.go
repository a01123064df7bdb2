/*
Package notify implements the notification protocol shared with Inkwell.

PURPOSE:
  Two directions over the same wire format:
  - Outbound: billing movement notifications sent to the peer app after a
    transaction commit (HTTPNotifier, Async).
  - Inbound: signed notifications received from the peer, stored for the
    local UI and acknowledged by it (Inbox).

WIRE FORMAT:
  POST {peer}/notificaciones
  Content-Type:      application/json
  X-Timestamp:       unix seconds
  X-Idempotency-Key: uuid, dedup key on the receiving side
  X-Source-App:      sender identity, checked against an allow-list
  X-Signature:       "sha256=" + hex(HMAC-SHA256(secret, timestamp + "." + body))
  Authorization:     Bearer JWT (HS256), outbound only

INBOUND CHECK ORDER:
  headers -> source app -> timestamp window -> rate limit -> signature ->
  idempotency key -> dedup -> payload validation -> insert

RETENTION:
  Read notifications older than the retention period are purged by
  RetentionWorker, a background loop owned by main.

SEE ALSO:
  - api/notifications.go: HTTP endpoints
  - billing/writer.go: Emits outbound notifications
  - store/sqlite/notifications.go: Persistence
*/
package notify

import "time"

// Status of an inbound notification.
type Status string

const (
	StatusUnread Status = "unread"
	StatusRead   Status = "read"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Notification is an inbound notification as stored.
type Notification struct {
	ID             string
	Type           string
	Title          string
	Body           string
	Deeplink       string
	Topic          string
	Priority       string
	OccurredAt     time.Time
	Status         Status
	ReadAt         *time.Time
	Variables      map[string]any
	IdempotencyKey string
	SourceApp      string
	CreatedAt      time.Time
}

// Payload is the JSON body exchanged in both directions.
type Payload struct {
	Type       string         `json:"type" validate:"required,max=100"`
	Title      string         `json:"title" validate:"required,max=200"`
	Body       string         `json:"body" validate:"max=4000"`
	Deeplink   string         `json:"deeplink,omitempty" validate:"omitempty,max=500"`
	Topic      string         `json:"topic,omitempty" validate:"omitempty,max=100"`
	Priority   string         `json:"priority,omitempty" validate:"omitempty,oneof=low normal high"`
	OccurredAt *time.Time     `json:"occurred_at" validate:"required"`
	Variables  map[string]any `json:"variables,omitempty"`
}
