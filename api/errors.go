package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/movimientos/ledger"
	"github.com/warp/movimientos/notify"
)

// CheckpointDetails explains a rejected acknowledgement.
type CheckpointDetails struct {
	Field     string `json:"field"`
	Requested int64  `json:"requested"`
	Current   int64  `json:"current"`
	Max       int64  `json:"max"`
	Reason    string `json:"reason"`
}

// writeServiceError maps a service error to its HTTP status.
// Unknown errors are logged and answered with a generic 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rejectErr     *notify.RejectError
		validationErr *ledger.ValidationError
		checkpointErr *ledger.CheckpointError
	)
	switch {
	case errors.As(err, &rejectErr):
		writeJSON(w, rejectErr.Status, ErrorResponse{Error: rejectErr.Message})

	case errors.As(err, &checkpointErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: checkpointErr.Error(),
			Code:  "invalid_checkpoint",
			Details: CheckpointDetails{
				Field:     checkpointErr.Field,
				Requested: checkpointErr.Requested,
				Current:   checkpointErr.Current,
				Max:       checkpointErr.Max,
				Reason:    checkpointErr.Reason,
			},
		})

	case errors.As(err, &validationErr):
		resp := ErrorResponse{Error: validationErr.Error(), Code: "validation_error"}
		if validationErr.Field != "" {
			resp.Details = []FieldError{{Field: validationErr.Field, Rule: validationErr.Message}}
		}
		writeJSON(w, http.StatusBadRequest, resp)

	case ledger.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})

	case ledger.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "bad_request"})

	case ledger.IsConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"})

	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}
