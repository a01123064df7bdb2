package api

import (
	"net/http"

	"github.com/warp/movimientos/billing"
	"github.com/warp/movimientos/ledger"
)

// =============================================================================
// BILLING SYNC ENDPOINTS
// =============================================================================

// GetBillingSync returns the next page of both sync logs.
// GET /movimientos_cuenta_facturada?limit&changes_limit&changes_since
func (h *Handler) GetBillingSync(w http.ResponseWriter, r *http.Request) {
	opts, err := billingListOptions(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	page, err := h.Feed.List(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillingSyncResponse(page))
}

// AcknowledgeBillingSync confirms both checkpoints.
// POST /movimientos_cuenta_facturada
func (h *Handler) AcknowledgeBillingSync(w http.ResponseWriter, r *http.Request) {
	var req BillingAckRequest
	if !h.decode(w, r, &req) {
		return
	}

	state, err := h.Feed.Acknowledge(r.Context(), *req.MovementsCheckpointID, *req.ChangesCheckpointID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BillingAckResponse{
		LastTransactionID:     state.LastTransactionID,
		LastChangeID:          state.LastChangeID,
		TransactionsUpdatedAt: state.TransactionsUpdatedAt.UTC(),
		ChangesUpdatedAt:      state.ChangesUpdatedAt.UTC(),
	})
}

// ListChanges returns the next page of the movement change log.
// GET /movimientos_exportables/cambios?since&limit
func (h *Handler) ListChanges(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, "limit", billing.MaxLimit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var since *int64
	if n, ok, err := queryInt(r, "since"); err != nil {
		h.writeServiceError(w, r, err)
		return
	} else if ok {
		since = &n
	}

	page, err := h.Feed.ListChanges(r.Context(), since, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChangesResponse{
		LastConfirmedChangeID: page.LastConfirmedID,
		ChangesCheckpointID:   page.CheckpointID,
		HasMoreChanges:        page.HasMore,
		Changes:               toChangeDTOs(page.Changes),
	})
}

// AcknowledgeChanges confirms the change log checkpoint.
// POST /movimientos_exportables/cambios/ack
func (h *Handler) AcknowledgeChanges(w http.ResponseWriter, r *http.Request) {
	var req ChangesAckRequest
	if !h.decode(w, r, &req) {
		return
	}

	state, err := h.Feed.AcknowledgeChanges(r.Context(), *req.CheckpointID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChangesStateResponse{
		LastChangeID: state.LastChangeID,
		UpdatedAt:    state.UpdatedAt.UTC(),
	})
}

func billingListOptions(r *http.Request) (billing.ListOptions, error) {
	var opts billing.ListOptions
	var err error
	if opts.Limit, err = queryLimit(r, "limit", billing.MaxLimit); err != nil {
		return opts, err
	}
	if opts.ChangesLimit, err = queryLimit(r, "changes_limit", billing.MaxLimit); err != nil {
		return opts, err
	}
	since, ok, err := queryInt(r, "changes_since")
	if err != nil {
		return opts, err
	}
	if ok {
		if since < 0 {
			return opts, ledger.Invalid("changes_since", "must be >= 0")
		}
		opts.ChangesSince = &since
	}
	return opts, nil
}
