/*
handlers.go - HTTP API handlers for the ledger and the Inkwell sync

PURPOSE:
  Exposes the ledger, the billing sync feed and the notification inbox via
  REST. Handles HTTP request/response, JSON serialization, and delegates to
  the services in ledger/, billing/ and notify/.

ENDPOINTS:
  Ledger (ledger.go):
    /accounts, /accounts/{id}/..., /transactions, /movimientos_exportables,
    /invoices

  Billing sync (billing.go, X-API-Key):
    GET/POST /movimientos_cuenta_facturada
    GET/POST .../movimientos_exportables/cambios[/ack]

  Notifications (notifications.go):
    GET/POST /notificaciones

  Operations:
    GET /health, GET /metrics

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Read access for aggregations and listings
  - Accounts, Invoices, Cycles: ledger services
  - Writer, Feed: billing services (event emission and sync protocol)
  - Inbox: inbound notifications

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator tags, then service rules)
  3. Call the service (one DB transaction per mutation)
  4. Serialize response
  5. Map errors with writeServiceError

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/movimientos/billing"
	"github.com/warp/movimientos/ledger"
	"github.com/warp/movimientos/metrics"
	"github.com/warp/movimientos/notify"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the collaborators of a Handler. Nil fields get defaults:
// system clock, no notifier, no inbox, no metrics, a no-op logger.
type Options struct {
	Clock    ledger.Clock
	Notifier notify.Notifier
	Inbox    *notify.Inbox
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	// APIKey gates the billing sync routes. Empty denies every request.
	APIKey string
	// AllowedOrigins configures CORS.
	AllowedOrigins []string
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    ledger.Store
	Accounts *ledger.Accounts
	Invoices *ledger.Invoices
	Cycles   *ledger.CycleManager
	Writer   *billing.Writer
	Feed     *billing.Feed
	Inbox    *notify.Inbox
	Metrics  *metrics.Metrics

	apiKey         string
	allowedOrigins []string
	validate       *validator.Validate
	logger         *zap.Logger
}

// NewHandler creates a new handler over the given store.
func NewHandler(store ledger.Store, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	return &Handler{
		Store:          store,
		Accounts:       ledger.NewAccounts(store, clock),
		Invoices:       ledger.NewInvoices(store, clock),
		Cycles:         ledger.NewCycleManager(store, clock),
		Writer:         billing.NewWriter(store, clock, opts.Notifier, logger.Named("billing")),
		Feed:           billing.NewFeed(store, clock, logger.Named("billing"), opts.Metrics),
		Inbox:          opts.Inbox,
		Metrics:        opts.Metrics,
		apiKey:         opts.APIKey,
		allowedOrigins: opts.AllowedOrigins,
		validate:       newValidator(),
		logger:         logger.Named("api"),
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Health reports liveness, including the database when the store can ping.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into dst and runs its validator tags.
// It writes the 400 itself and reports false when the request is rejected.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return h.check(w, dst)
}

func (h *Handler) check(w http.ResponseWriter, v any) bool {
	err := h.validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	fields := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		fields[i] = FieldError{Field: fe.Field(), Rule: fe.Tag()}
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "Validation failed",
		Code:    "validation_error",
		Details: fields,
	})
	return false
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

// idParam parses the {id} route parameter.
func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ledger.Invalid("id", fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}

// queryInt parses an optional integer query parameter. ok is false when
// the parameter is absent.
func queryInt(r *http.Request, name string) (n int64, ok bool, err error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	n, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, ledger.Invalid(name, "must be an integer")
	}
	return n, true, nil
}

// queryLimit parses an optional page size that must lie in [1, upper] when set.
// Absent yields 0 so the service applies its default.
func queryLimit(r *http.Request, name string, upper int) (int, error) {
	n, ok, err := queryInt(r, name)
	if err != nil || !ok {
		return 0, err
	}
	if n < 1 || n > int64(upper) {
		return 0, ledger.Invalid(name, fmt.Sprintf("must be between 1 and %d", upper))
	}
	return int(n), nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, ledger.Invalid(name, "must be a boolean")
	}
	return b, nil
}

func queryDate(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := ledger.ParseDate(name, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
