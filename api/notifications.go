package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/warp/movimientos/ledger"
	"github.com/warp/movimientos/notify"
)

// Protocol headers of an inbound notification.
const (
	headerTimestamp      = "X-Timestamp"
	headerIdempotencyKey = "X-Idempotency-Key"
	headerSourceApp      = "X-Source-App"
	headerSignature      = "X-Signature"
)

// =============================================================================
// NOTIFICATION ENDPOINTS
// =============================================================================

// ListNotifications pages through inbound notifications, newest first.
// GET /notificaciones?status&since&topic&type&limit&cursor&include=unread_count
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := notify.ListQuery{
		Status: q.Get("status"),
		Topic:  q.Get("topic"),
		Type:   q.Get("type"),
		Cursor: q.Get("cursor"),
	}

	limit, err := queryLimit(r, "limit", 100)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	query.Limit = limit

	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeServiceError(w, r, ledger.Invalid("since", "must be an RFC 3339 timestamp"))
			return
		}
		since = since.UTC()
		query.Since = &since
	}
	for _, flag := range strings.Split(q.Get("include"), ",") {
		if strings.TrimSpace(flag) == "unread_count" {
			query.IncludeUnreadCount = true
		}
	}

	page, err := h.Inbox.List(r.Context(), query)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationListResponse(page))
}

// PostNotification either stores a signed inbound notification or, for an
// unsigned {"action":"ack","id":...} body, marks one as read.
// POST /notificaciones
func (h *Handler) PostNotification(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if r.Header.Get(headerSignature) != "" {
		h.receiveNotification(w, r, body)
		return
	}

	var req NotificationAckRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return
	}
	if req.Action != "ack" {
		writeError(w, http.StatusBadRequest, "Unsupported operation", nil)
		return
	}
	if !h.check(w, req) {
		return
	}
	if err := h.Inbox.Ack(r.Context(), req.ID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) receiveNotification(w http.ResponseWriter, r *http.Request, body []byte) {
	receipt, err := h.Inbox.Receive(r.Context(), notify.Headers{
		Timestamp:      r.Header.Get(headerTimestamp),
		IdempotencyKey: r.Header.Get(headerIdempotencyKey),
		SourceApp:      r.Header.Get(headerSourceApp),
		Signature:      r.Header.Get(headerSignature),
	}, body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, NotificationAcceptedResponse{
		Status: "accepted",
		ID:     receipt.ID,
		Dedup:  receipt.Dedup,
	})
}
