package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/movimientos/events"
	"github.com/warp/movimientos/ledger"
	"github.com/warp/movimientos/notify"
)

// TransactionInput is a validated-shape transaction write.
type TransactionInput struct {
	AccountID            int64
	Date                 time.Time
	Description          string
	Amount               decimal.Decimal
	Notes                string
	ExportableMovementID *int64
	IsCustomInkwell      bool
}

// Writer performs transaction and movement writes together with the events
// they emit. Outbound notifications go out only after the commit.
type Writer struct {
	store    ledger.Store
	clock    ledger.Clock
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewWriter(store ledger.Store, clock ledger.Clock, notifier notify.Notifier, logger *zap.Logger) *Writer {
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: store, clock: clock, notifier: notifier, logger: logger}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (w *Writer) CreateTransaction(ctx context.Context, in TransactionInput) (ledger.Transaction, error) {
	var (
		created ledger.Transaction
		note    *notify.NotificationContext
	)
	err := w.store.WithTx(ctx, func(tx ledger.Tx) error {
		billingAcc, err := billingAccount(ctx, tx)
		if err != nil {
			return err
		}
		t, movement, err := w.resolve(ctx, tx, in, billingAcc)
		if err != nil {
			return err
		}

		now := w.clock.Now()
		t.CreatedAt = now
		if err := tx.CreateTransaction(ctx, &t); err != nil {
			return err
		}

		if onBilling(t, billingAcc) {
			if err := appendSnapshot(ctx, tx, events.Created, t, now); err != nil {
				return err
			}
			if t.ExportableMovementID != nil {
				note = notification(events.Created, t, *billingAcc, movement, t.ExportableMovementID, now)
			}
		}
		created = t
		return nil
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	w.dispatch(ctx, note)
	return created, nil
}

func (w *Writer) UpdateTransaction(ctx context.Context, id int64, in TransactionInput) (ledger.Transaction, error) {
	var (
		updated ledger.Transaction
		note    *notify.NotificationContext
	)
	err := w.store.WithTx(ctx, func(tx ledger.Tx) error {
		prev, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		billingAcc, err := billingAccount(ctx, tx)
		if err != nil {
			return err
		}
		t, movement, err := w.resolve(ctx, tx, in, billingAcc)
		if err != nil {
			return err
		}
		t.ID = prev.ID
		t.CreatedAt = prev.CreatedAt

		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}

		now := w.clock.Now()
		wasBilling, isBilling := onBilling(*prev, billingAcc), onBilling(t, billingAcc)
		switch {
		case wasBilling && isBilling:
			err = appendSnapshot(ctx, tx, events.Updated, t, now)
		case wasBilling:
			err = appendTombstone(ctx, tx, *prev, now)
		case isBilling:
			err = appendSnapshot(ctx, tx, events.Created, t, now)
		}
		if err != nil {
			return err
		}

		wasLinked := wasBilling && prev.ExportableMovementID != nil
		isLinked := isBilling && t.ExportableMovementID != nil
		switch {
		case wasLinked && isLinked:
			note = notification(events.Updated, t, *billingAcc, movement, t.ExportableMovementID, now)
		case isLinked:
			note = notification(events.Created, t, *billingAcc, movement, t.ExportableMovementID, now)
		case wasLinked:
			prevMovement, err := lookupMovement(ctx, tx, prev.ExportableMovementID)
			if err != nil {
				return err
			}
			note = notification(events.Deleted, t, *billingAcc, prevMovement, prev.ExportableMovementID, now)
		}

		updated = t
		return nil
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	w.dispatch(ctx, note)
	return updated, nil
}

// DeleteTransaction removes a transaction. Unknown ids are a no-op.
func (w *Writer) DeleteTransaction(ctx context.Context, id int64) error {
	var note *notify.NotificationContext
	err := w.store.WithTx(ctx, func(tx ledger.Tx) error {
		prev, err := tx.GetTransaction(ctx, id)
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		billingAcc, err := billingAccount(ctx, tx)
		if err != nil {
			return err
		}

		var movement *ledger.ExportableMovement
		linked := onBilling(*prev, billingAcc) && prev.ExportableMovementID != nil
		if linked {
			// Read before the row goes so the description is still there.
			if movement, err = lookupMovement(ctx, tx, prev.ExportableMovementID); err != nil {
				return err
			}
		}

		if err := tx.DeleteTransaction(ctx, id); err != nil {
			return err
		}

		now := w.clock.Now()
		if onBilling(*prev, billingAcc) {
			if err := appendTombstone(ctx, tx, *prev, now); err != nil {
				return err
			}
		}
		if linked {
			note = notification(events.Deleted, *prev, *billingAcc, movement, prev.ExportableMovementID, now)
		}
		return nil
	})
	if err != nil {
		return err
	}
	w.dispatch(ctx, note)
	return nil
}

// resolve validates a write and returns the transaction to persist, together
// with the movement it links to, if any. It runs before any statement that
// modifies data.
func (w *Writer) resolve(ctx context.Context, tx ledger.Tx, in TransactionInput, billingAcc *ledger.Account) (ledger.Transaction, *ledger.ExportableMovement, error) {
	if in.Amount.IsZero() {
		return ledger.Transaction{}, nil, ledger.Invalid("amount", "must not be zero")
	}
	if err := ledger.CheckCents("amount", in.Amount); err != nil {
		return ledger.Transaction{}, nil, err
	}
	date := ledger.DateOf(in.Date)
	if date.After(ledger.DateOf(w.clock.Now())) {
		return ledger.Transaction{}, nil, ledger.Invalid("date", "future dates are not allowed")
	}
	if in.ExportableMovementID != nil && in.IsCustomInkwell {
		return ledger.Transaction{}, nil, ledger.Invalid("is_custom_inkwell",
			"cannot be combined with exportable_movement_id")
	}
	if _, err := tx.GetAccount(ctx, in.AccountID); err != nil {
		return ledger.Transaction{}, nil, err
	}

	t := ledger.Transaction{
		AccountID:            in.AccountID,
		Date:                 date,
		Description:          strings.TrimSpace(in.Description),
		Amount:               in.Amount,
		Notes:                in.Notes,
		ExportableMovementID: in.ExportableMovementID,
		IsCustomInkwell:      in.IsCustomInkwell,
	}
	onBillingAcc := billingAcc != nil && billingAcc.ID == in.AccountID

	var movement *ledger.ExportableMovement
	if in.ExportableMovementID != nil {
		m, err := tx.GetMovement(ctx, *in.ExportableMovementID)
		if err != nil {
			return ledger.Transaction{}, nil, err
		}
		if !onBillingAcc {
			return ledger.Transaction{}, nil, ledger.Invalid("exportable_movement_id",
				"Inkwell movements can only be recorded on the billing account")
		}
		t.Description = m.Description
		movement = m
	}
	if in.IsCustomInkwell && !onBillingAcc {
		return ledger.Transaction{}, nil, ledger.Invalid("is_custom_inkwell",
			"custom Inkwell movements can only be recorded on the billing account")
	}
	return t, movement, nil
}

func (w *Writer) dispatch(ctx context.Context, nc *notify.NotificationContext) {
	if nc == nil || w.notifier == nil {
		return
	}
	if err := w.notifier.Notify(ctx, nc.Payload()); err != nil {
		w.logger.Warn("billing movement notification failed",
			zap.Int64("transaction_id", nc.TransactionID),
			zap.String("event", string(nc.Event)),
			zap.Error(err),
		)
	}
}

// =============================================================================
// EXPORTABLE MOVEMENTS
// =============================================================================

func (w *Writer) CreateMovement(ctx context.Context, description string) (ledger.ExportableMovement, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return ledger.ExportableMovement{}, ledger.Invalid("description", "is required")
	}
	var m ledger.ExportableMovement
	err := w.store.WithTx(ctx, func(tx ledger.Tx) error {
		now := w.clock.Now()
		m = ledger.ExportableMovement{Description: description, CreatedAt: now}
		if err := tx.CreateMovement(ctx, &m); err != nil {
			return err
		}
		return tx.AppendChange(ctx, &events.Change{
			MovementID: &m.ID,
			Event:      events.Created,
			OccurredAt: now,
			Payload:    events.MovementCreated{ID: m.ID, Description: m.Description},
		})
	})
	if err != nil {
		return ledger.ExportableMovement{}, err
	}
	return m, nil
}

func (w *Writer) UpdateMovement(ctx context.Context, id int64, description string) (ledger.ExportableMovement, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return ledger.ExportableMovement{}, ledger.Invalid("description", "is required")
	}
	var m ledger.ExportableMovement
	err := w.store.WithTx(ctx, func(tx ledger.Tx) error {
		prev, err := tx.GetMovement(ctx, id)
		if err != nil {
			return err
		}
		m = *prev
		m.Description = description
		if err := tx.UpdateMovement(ctx, m); err != nil {
			return err
		}
		return tx.AppendChange(ctx, &events.Change{
			MovementID: &m.ID,
			Event:      events.Updated,
			OccurredAt: w.clock.Now(),
			Payload: events.MovementUpdated{
				ID:                  m.ID,
				Description:         m.Description,
				PreviousDescription: prev.Description,
			},
		})
	})
	if err != nil {
		return ledger.ExportableMovement{}, err
	}
	return m, nil
}

// DeleteMovement fails with ledger.ErrConstraintViolation while transactions
// still link to the movement.
func (w *Writer) DeleteMovement(ctx context.Context, id int64) error {
	return w.store.WithTx(ctx, func(tx ledger.Tx) error {
		m, err := tx.GetMovement(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteMovement(ctx, id); err != nil {
			return err
		}
		return tx.AppendChange(ctx, &events.Change{
			MovementID: &m.ID,
			Event:      events.Deleted,
			OccurredAt: w.clock.Now(),
			Payload:    events.MovementDeleted{ID: m.ID, Description: m.Description, Deleted: true},
		})
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// billingAccount returns nil when no account carries the billing flag.
func billingAccount(ctx context.Context, r ledger.Reader) (*ledger.Account, error) {
	acc, err := r.GetBillingAccount(ctx)
	if errors.Is(err, ledger.ErrBillingAccountNotConfigured) {
		return nil, nil
	}
	return acc, err
}

func onBilling(t ledger.Transaction, billingAcc *ledger.Account) bool {
	return billingAcc != nil && t.AccountID == billingAcc.ID
}

func lookupMovement(ctx context.Context, r ledger.Reader, id *int64) (*ledger.ExportableMovement, error) {
	if id == nil {
		return nil, nil
	}
	m, err := r.GetMovement(ctx, *id)
	if errors.Is(err, ledger.ErrMovementNotFound) {
		return nil, nil
	}
	return m, err
}

// Snapshot renders a transaction as carried in created/updated events.
func Snapshot(t ledger.Transaction) events.TransactionSnapshot {
	return events.TransactionSnapshot{
		ID:                   t.ID,
		AccountID:            t.AccountID,
		Date:                 t.Date.Format(ledger.DateLayout),
		Description:          t.Description,
		Amount:               ledger.FormatMoney(t.Amount),
		Notes:                t.Notes,
		ExportableMovementID: t.ExportableMovementID,
		IsCustomInkwell:      t.IsCustomInkwell,
	}
}

func appendSnapshot(ctx context.Context, tx ledger.Tx, event events.Type, t ledger.Transaction, at time.Time) error {
	id := t.ID
	return tx.AppendTransactionEvent(ctx, &events.TransactionEvent{
		TransactionID: &id,
		AccountID:     t.AccountID,
		Event:         event,
		OccurredAt:    at,
		Payload:       Snapshot(t),
	})
}

// appendTombstone records the removal of prev from the billing account.
func appendTombstone(ctx context.Context, tx ledger.Tx, prev ledger.Transaction, at time.Time) error {
	id := prev.ID
	return tx.AppendTransactionEvent(ctx, &events.TransactionEvent{
		TransactionID: &id,
		AccountID:     prev.AccountID,
		Event:         events.Deleted,
		OccurredAt:    at,
		Payload:       events.Tombstone{ID: prev.ID},
	})
}

func notification(event events.Type, t ledger.Transaction, acc ledger.Account, m *ledger.ExportableMovement, movementID *int64, at time.Time) *notify.NotificationContext {
	nc := &notify.NotificationContext{
		Event:           event,
		TransactionID:   t.ID,
		MovementID:      movementID,
		AccountID:       acc.ID,
		AccountName:     acc.Name,
		Currency:        acc.Currency,
		Amount:          t.Amount,
		Date:            t.Date,
		Description:     t.Description,
		IsCustomInkwell: t.IsCustomInkwell,
		OccurredAt:      at,
	}
	if m != nil {
		nc.MovementDescription = m.Description
	}
	return nc
}
