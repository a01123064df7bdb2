package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/movimientos/ledger"
)

// RejectError is an inbound request refused before anything was stored.
// Status is the HTTP status the caller should answer with.
type RejectError struct {
	Status  int
	Message string
}

func (e *RejectError) Error() string {
	return e.Message
}

func reject(status int, format string, args ...any) error {
	return &RejectError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// Headers are the protocol headers of an inbound notification.
type Headers struct {
	Timestamp      string
	IdempotencyKey string
	SourceApp      string
	Signature      string
}

// Receipt is the outcome of an accepted inbound notification.
type Receipt struct {
	ID    string
	Dedup bool
}

// InboxConfig configures inbound verification.
type InboxConfig struct {
	Secret          string
	AllowedSources  []string
	TimestampWindow time.Duration
}

// Inbox verifies, stores and serves inbound notifications.
type Inbox struct {
	store    Store
	limiter  RateLimiter
	clock    ledger.Clock
	cfg      InboxConfig
	validate *validator.Validate
	logger   *zap.Logger
}

func NewInbox(store Store, limiter RateLimiter, clock ledger.Clock, cfg InboxConfig, logger *zap.Logger) *Inbox {
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	if cfg.TimestampWindow <= 0 {
		cfg.TimestampWindow = 300 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{
		store:    store,
		limiter:  limiter,
		clock:    clock,
		cfg:      cfg,
		validate: newValidator(),
		logger:   logger,
	}
}

// =============================================================================
// RECEIVE
// =============================================================================

// Receive verifies a signed notification and stores it once per idempotency key.
func (in *Inbox) Receive(ctx context.Context, h Headers, body []byte) (Receipt, error) {
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		return Receipt{}, reject(http.StatusBadRequest, "invalid JSON body")
	}

	if h.Timestamp == "" || h.IdempotencyKey == "" || h.SourceApp == "" {
		return Receipt{}, reject(http.StatusBadRequest, "missing protocol headers")
	}
	if !in.sourceAllowed(h.SourceApp) {
		return Receipt{}, reject(http.StatusUnauthorized, "unknown source app")
	}
	if err := CheckTimestamp(h.Timestamp, in.clock.Now(), in.cfg.TimestampWindow); err != nil {
		return Receipt{}, reject(http.StatusUnauthorized, "invalid timestamp")
	}
	if in.limiter != nil && !in.limiter.Allow(h.SourceApp) {
		return Receipt{}, reject(http.StatusTooManyRequests, "rate limit exceeded")
	}
	if in.cfg.Secret == "" || !VerifySignature(in.cfg.Secret, h.Timestamp, body, h.Signature) {
		return Receipt{}, reject(http.StatusUnauthorized, "invalid signature")
	}
	if _, err := uuid.Parse(h.IdempotencyKey); err != nil {
		return Receipt{}, reject(http.StatusBadRequest, "invalid idempotency key")
	}

	if existing, err := in.store.NotificationByKey(ctx, h.IdempotencyKey); err != nil {
		return Receipt{}, err
	} else if existing != nil {
		return Receipt{ID: existing.ID, Dedup: true}, nil
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Receipt{}, reject(http.StatusUnprocessableEntity, "invalid payload: %v", err)
	}
	if err := in.validate.Struct(p); err != nil {
		return Receipt{}, reject(http.StatusUnprocessableEntity, "invalid payload: %s", describe(err))
	}

	now := in.clock.Now()
	n := Notification{
		ID:             uuid.NewString(),
		Type:           p.Type,
		Title:          p.Title,
		Body:           p.Body,
		Deeplink:       p.Deeplink,
		Topic:          p.Topic,
		Priority:       p.Priority,
		OccurredAt:     p.OccurredAt.UTC(),
		Status:         StatusUnread,
		Variables:      p.Variables,
		IdempotencyKey: h.IdempotencyKey,
		SourceApp:      h.SourceApp,
		CreatedAt:      now,
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}

	if err := in.store.CreateNotification(ctx, n); err != nil {
		if !errors.Is(err, ErrDuplicateKey) {
			return Receipt{}, err
		}
		// Lost a race with a concurrent delivery of the same key.
		existing, lookupErr := in.store.NotificationByKey(ctx, h.IdempotencyKey)
		if lookupErr != nil || existing == nil {
			return Receipt{}, err
		}
		return Receipt{ID: existing.ID, Dedup: true}, nil
	}

	in.logger.Info("notification received",
		zap.String("id", n.ID),
		zap.String("source_app", n.SourceApp),
		zap.String("type", n.Type),
	)
	return Receipt{ID: n.ID}, nil
}

func (in *Inbox) sourceAllowed(app string) bool {
	for _, a := range in.cfg.AllowedSources {
		if a == app {
			return true
		}
	}
	return false
}

// =============================================================================
// ACK AND LIST
// =============================================================================

// Ack marks a notification as read. Acknowledging twice is a no-op.
func (in *Inbox) Ack(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return reject(http.StatusBadRequest, "invalid notification id")
	}
	return in.store.MarkNotificationRead(ctx, id, in.clock.Now())
}

// ListQuery is the raw listing request.
type ListQuery struct {
	Status             string
	Since              *time.Time
	Topic              string
	Type               string
	Limit              int
	Cursor             string
	IncludeUnreadCount bool
}

// Page is one listing page. Cursor is empty on the last page.
type Page struct {
	Items       []Notification
	Cursor      string
	UnreadCount *int
}

func (in *Inbox) List(ctx context.Context, q ListQuery) (Page, error) {
	f := ListFilter{Since: q.Since, Topic: q.Topic, Type: q.Type, Limit: q.Limit}

	switch q.Status {
	case "", string(StatusUnread):
		f.Status = StatusUnread
	case string(StatusRead):
		f.Status = StatusRead
	case "all":
	default:
		return Page{}, reject(http.StatusBadRequest, "invalid status filter")
	}

	if f.Limit == 0 {
		f.Limit = 50
	}
	if f.Limit < 1 || f.Limit > 100 {
		return Page{}, reject(http.StatusBadRequest, "limit must be between 1 and 100")
	}

	if q.Cursor != "" {
		c, err := DecodeCursor(q.Cursor)
		if err != nil {
			return Page{}, reject(http.StatusBadRequest, "invalid cursor")
		}
		f.After = &c
	}

	want := f.Limit
	f.Limit = want + 1
	items, err := in.store.ListNotifications(ctx, f)
	if err != nil {
		return Page{}, err
	}

	page := Page{Items: items}
	if len(items) > want {
		page.Items = items[:want]
		last := page.Items[want-1]
		page.Cursor = Cursor{OccurredAt: last.OccurredAt, ID: last.ID}.Encode()
	}

	if q.IncludeUnreadCount {
		n, err := in.store.CountUnread(ctx)
		if err != nil {
			return Page{}, err
		}
		page.UnreadCount = &n
	}
	return page, nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
