package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/movimientos/events"
	"github.com/warp/movimientos/ledger"
	"github.com/warp/movimientos/metrics"
)

// Notifier delivers an outbound notification to the peer app.
type Notifier interface {
	Notify(ctx context.Context, p Payload) error
}

// =============================================================================
// BILLING MOVEMENT PAYLOAD
// =============================================================================

const (
	billingMovementType  = "billing_movement"
	billingMovementTopic = "billing"
)

// NotificationContext is the state of a billing transaction at the moment a
// movement-link transition was detected. For deleted events MovementID is the
// movement the transaction was linked to before the change.
type NotificationContext struct {
	Event               events.Type
	TransactionID       int64
	MovementID          *int64
	MovementDescription string
	AccountID           int64
	AccountName         string
	Currency            ledger.Currency
	Amount              decimal.Decimal
	Date                time.Time
	Description         string
	IsCustomInkwell     bool
	OccurredAt          time.Time
}

var movementTitles = map[events.Type]string{
	events.Created: "Movimiento de facturación creado",
	events.Updated: "Movimiento de facturación actualizado",
	events.Deleted: "Movimiento de facturación eliminado",
}

// Payload renders the wire body sent to the peer.
func (c NotificationContext) Payload() Payload {
	var movementID any
	if c.MovementID != nil {
		movementID = *c.MovementID
	}
	amount := ledger.FormatMoney(c.Amount)
	occurred := c.OccurredAt.UTC()

	return Payload{
		Type:       billingMovementType,
		Title:      movementTitles[c.Event],
		Body:       fmt.Sprintf("%s: %s %s", c.Description, amount, c.Currency),
		Topic:      billingMovementTopic,
		Priority:   PriorityNormal,
		OccurredAt: &occurred,
		Variables: map[string]any{
			"event":                string(c.Event),
			"transaction_id":       c.TransactionID,
			"movement_id":          movementID,
			"id_movimiento":        movementID,
			"movement_description": c.MovementDescription,
			"account_id":           c.AccountID,
			"account_name":         c.AccountName,
			"currency":             string(c.Currency),
			"amount":               amount,
			"date":                 c.Date.Format(ledger.DateLayout),
			"description":          c.Description,
			"is_custom_inkwell":    c.IsCustomInkwell,
		},
	}
}

// =============================================================================
// HTTP NOTIFIER
// =============================================================================

// OutboundConfig configures delivery to the peer app.
type OutboundConfig struct {
	BaseURL   string
	Secret    string
	SourceApp string
	Timeout   time.Duration
}

// HTTPNotifier posts signed notifications to {BaseURL}/notificaciones.
// It makes one attempt per call.
type HTTPNotifier struct {
	url       string
	secret    string
	sourceApp string
	client    *http.Client
	clock     ledger.Clock
}

func NewHTTPNotifier(cfg OutboundConfig, clock ledger.Clock) (*HTTPNotifier, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("notify: peer base url is not configured")
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("notify: shared secret is not configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	return &HTTPNotifier{
		url:       strings.TrimRight(cfg.BaseURL, "/") + "/notificaciones",
		secret:    cfg.Secret,
		sourceApp: cfg.SourceApp,
		client:    &http.Client{Timeout: cfg.Timeout},
		clock:     clock,
	}, nil
}

func (n *HTTPNotifier) Notify(ctx context.Context, p Payload) error {
	now := n.clock.Now()
	if p.OccurredAt == nil {
		t := now.UTC()
		p.OccurredAt = &t
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	key := uuid.NewString()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	token, err := n.bearer(now, key)
	if err != nil {
		return fmt.Errorf("sign bearer token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Idempotency-Key", key)
	req.Header.Set("X-Source-App", n.sourceApp)
	req.Header.Set("X-Signature", Sign(n.secret, timestamp, body))
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post notification: peer answered %d", resp.StatusCode)
	}
	return nil
}

func (n *HTTPNotifier) bearer(now time.Time, key string) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    n.sourceApp,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		ID:        key,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(n.secret))
}

// =============================================================================
// ASYNC DELIVERY
// =============================================================================

// Async hands notifications to a background goroutine so the caller never
// waits on the peer. Failures are logged and counted, never returned.
type Async struct {
	next    Notifier
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

func NewAsync(next Notifier, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Async {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Async{next: next, timeout: timeout, logger: logger, metrics: m}
}

// Notify schedules delivery and returns immediately. The request context is
// not used for delivery because it ends with the response.
func (a *Async) Notify(_ context.Context, p Payload) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		if err := a.next.Notify(ctx, p); err != nil {
			a.metrics.NotificationSent(metrics.ResultError)
			a.logger.Warn("notification delivery failed",
				zap.String("type", p.Type),
				zap.Any("event", p.Variables["event"]),
				zap.Error(err),
			)
			return
		}
		a.metrics.NotificationSent(metrics.ResultOK)
	}()
	return nil
}

// Wait blocks until every scheduled delivery has finished.
func (a *Async) Wait() {
	a.wg.Wait()
}
