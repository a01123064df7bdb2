package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/movimientos/events"
	"github.com/warp/movimientos/ledger"
	"github.com/warp/movimientos/metrics"
)

func TestNotificationContext_Payload(t *testing.T) {
	movementID := int64(7)
	nc := NotificationContext{
		Event:               events.Deleted,
		TransactionID:       42,
		MovementID:          &movementID,
		MovementDescription: "Honorarios",
		AccountID:           3,
		AccountName:         "Facturación",
		Currency:            ledger.CurrencyARS,
		Amount:              decimal.RequireFromString("1250.5"),
		Date:                time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC),
		Description:         "Honorarios",
		OccurredAt:          time.Date(2025, 2, 10, 15, 0, 0, 0, time.UTC),
	}

	p := nc.Payload()

	assert.Equal(t, "billing_movement", p.Type)
	assert.Equal(t, "billing", p.Topic)
	assert.Equal(t, PriorityNormal, p.Priority)
	assert.NotEmpty(t, p.Title)
	assert.Equal(t, "deleted", p.Variables["event"])
	assert.Equal(t, int64(7), p.Variables["movement_id"])
	assert.Equal(t, int64(7), p.Variables["id_movimiento"])
	assert.Equal(t, "1250.50", p.Variables["amount"])
	assert.Equal(t, "2025-02-10", p.Variables["date"])
	assert.Equal(t, "ARS", p.Variables["currency"])
}

func TestNotificationContext_PayloadWithoutMovement(t *testing.T) {
	p := NotificationContext{Event: events.Created, Amount: decimal.Zero}.Payload()

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"movement_id":null`)
}

func TestHTTPNotifier_SignsRequest(t *testing.T) {
	clock := ledger.NewFakeClock(time.Now())

	var (
		gotHeaders http.Header
		gotBody    []byte
		gotPath    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n, err := NewHTTPNotifier(OutboundConfig{BaseURL: srv.URL + "/", Secret: "s3cret", SourceApp: "app-a"}, clock)
	require.NoError(t, err)

	// WHEN
	err = n.Notify(context.Background(), NotificationContext{Event: events.Created, Amount: decimal.NewFromInt(10)}.Payload())
	require.NoError(t, err)

	// THEN: path, headers and signature match the protocol
	assert.Equal(t, "/notificaciones", gotPath)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "app-a", gotHeaders.Get("X-Source-App"))
	key := gotHeaders.Get("X-Idempotency-Key")
	_, err = uuid.Parse(key)
	require.NoError(t, err)
	assert.True(t, VerifySignature("s3cret", gotHeaders.Get("X-Timestamp"), gotBody, gotHeaders.Get("X-Signature")))

	// AND: the bearer token is an HS256 JWT bound to the idempotency key
	raw := strings.TrimPrefix(gotHeaders.Get("Authorization"), "Bearer ")
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (any, error) {
		return []byte("s3cret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "app-a", claims.Issuer)
	assert.Equal(t, key, claims.ID)
	assert.Equal(t, 5*time.Minute, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestHTTPNotifier_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n, err := NewHTTPNotifier(OutboundConfig{BaseURL: srv.URL, Secret: "s", SourceApp: "app-a"}, nil)
	require.NoError(t, err)

	err = n.Notify(context.Background(), Payload{Type: "x", Title: "t"})
	assert.ErrorContains(t, err, "500")
}

func TestNewHTTPNotifier_RequiresConfig(t *testing.T) {
	_, err := NewHTTPNotifier(OutboundConfig{Secret: "s"}, nil)
	assert.Error(t, err)
	_, err = NewHTTPNotifier(OutboundConfig{BaseURL: "http://peer"}, nil)
	assert.Error(t, err)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Payload
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, p Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, p)
	return r.err
}

func TestAsync_CountsResults(t *testing.T) {
	m := metrics.New()
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("peer down")}

	a := NewAsync(ok, time.Second, nil, m)
	b := NewAsync(failing, time.Second, nil, m)

	require.NoError(t, a.Notify(context.Background(), Payload{Type: "x"}))
	require.NoError(t, a.Notify(context.Background(), Payload{Type: "x"}))
	require.NoError(t, b.Notify(context.Background(), Payload{Type: "x"}))
	a.Wait()
	b.Wait()

	assert.Len(t, ok.sent, 2)
	assert.Len(t, failing.sent, 1)

	expected := `
# HELP movimientos_notifications_sent_total Outbound notifications by result.
# TYPE movimientos_notifications_sent_total counter
movimientos_notifications_sent_total{result="error"} 1
movimientos_notifications_sent_total{result="ok"} 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "movimientos_notifications_sent_total"))
}
