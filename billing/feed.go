/*
Package billing implements the Inkwell billing sync: the checkpointed feed over
both event logs and the writers that emit those events.

FEED:
  A read returns the events above each persisted checkpoint, ascending, at
  most limit per log. The page checkpoint is the id of the last event in the
  page, or the persisted checkpoint when the page is empty. Reads never move
  checkpoints, so a consumer that crashes before acknowledging sees the same
  events again (at-least-once).

ACKNOWLEDGE:
  The consumer posts the page checkpoints it durably processed. Each must be
  >= the persisted checkpoint and <= max(persisted, highest id in the log).
  Checkpoints that advance are written with compare-and-swap; when the change
  checkpoint advances, change rows at or below it are pruned. Transaction
  events are never pruned.

SEE ALSO:
  - billing/writer.go: Event emission
  - ledger/store.go: Checkpoint storage contract
  - api/billing.go: HTTP surface
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/movimientos/events"
	"github.com/warp/movimientos/ledger"
	"github.com/warp/movimientos/metrics"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// Feed serves reads and acknowledgements of the sync logs.
type Feed struct {
	store   ledger.Store
	clock   ledger.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewFeed(store ledger.Store, clock ledger.Clock, logger *zap.Logger, m *metrics.Metrics) *Feed {
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{store: store, clock: clock, logger: logger, metrics: m}
}

// =============================================================================
// READ
// =============================================================================

// ListOptions bounds a feed read. Zero limits mean DefaultLimit.
type ListOptions struct {
	Limit        int
	ChangesLimit int
	// ChangesSince overrides the persisted change checkpoint as lower bound.
	ChangesSince *int64
}

// Page is one read of both logs.
type Page struct {
	// Informational, from the last closed cycle of the billing account.
	CycleStartDate       *time.Time
	LastClosedAt         *time.Time
	PreviousCycleBalance *decimal.Decimal

	LastConfirmedTransactionID int64
	TransactionsCheckpointID   int64
	HasMoreTransactions        bool
	TransactionEvents          []events.TransactionEvent
	// Transactions holds the snapshots of non-deleted events in the page.
	// Duplicates are kept; consumers should replay TransactionEvents instead.
	Transactions []events.TransactionSnapshot

	LastConfirmedChangeID int64
	ChangesCheckpointID   int64
	HasMoreChanges        bool
	Changes               []events.Change
}

// List reads the next page of both logs.
func (f *Feed) List(ctx context.Context, opts ListOptions) (Page, error) {
	limit, err := checkLimit("limit", opts.Limit)
	if err != nil {
		return Page{}, err
	}
	changesLimit, err := checkLimit("changes_limit", opts.ChangesLimit)
	if err != nil {
		return Page{}, err
	}
	if opts.ChangesSince != nil && *opts.ChangesSince < 0 {
		return Page{}, ledger.Invalid("changes_since", "must be >= 0")
	}

	account, err := f.store.GetBillingAccount(ctx)
	if err != nil {
		return Page{}, err
	}
	txCheckpoint, err := f.store.GetCheckpoint(ctx, events.BillingTransactions)
	if err != nil {
		return Page{}, err
	}
	changesCheckpoint, err := f.store.GetCheckpoint(ctx, events.MovementChanges)
	if err != nil {
		return Page{}, err
	}

	var page Page
	cycle, err := f.store.LastCycle(ctx, account.ID)
	if err != nil {
		return Page{}, err
	}
	if cycle != nil {
		start := ledger.DateOf(cycle.ClosedAt)
		closed := cycle.ClosedAt
		balance := cycle.BalanceSnapshot
		page.CycleStartDate = &start
		page.LastClosedAt = &closed
		page.PreviousCycleBalance = &balance
	}

	evs, err := f.store.TransactionEventsAfter(ctx, account.ID, txCheckpoint.LastID, limit+1)
	if err != nil {
		return Page{}, err
	}
	page.LastConfirmedTransactionID = txCheckpoint.LastID
	page.HasMoreTransactions, evs = truncate(evs, limit)
	page.TransactionEvents = evs
	page.TransactionsCheckpointID = txCheckpoint.LastID
	if len(evs) > 0 {
		page.TransactionsCheckpointID = evs[len(evs)-1].ID
	}
	page.Transactions = make([]events.TransactionSnapshot, 0, len(evs))
	for _, e := range evs {
		if snap := e.Snapshot(); snap != nil {
			page.Transactions = append(page.Transactions, *snap)
		}
	}

	changesPage, err := f.changes(ctx, changesCheckpoint.LastID, opts.ChangesSince, changesLimit)
	if err != nil {
		return Page{}, err
	}
	page.LastConfirmedChangeID = changesCheckpoint.LastID
	page.ChangesCheckpointID = changesPage.CheckpointID
	page.HasMoreChanges = changesPage.HasMore
	page.Changes = changesPage.Changes

	f.metrics.SyncRead()
	return page, nil
}

// ChangesPage is one read of the change log alone.
type ChangesPage struct {
	LastConfirmedID int64
	CheckpointID    int64
	HasMore         bool
	Changes         []events.Change
}

// ListChanges reads the change log without touching the transaction log.
// It does not require a billing account.
func (f *Feed) ListChanges(ctx context.Context, since *int64, limit int) (ChangesPage, error) {
	limit, err := checkLimit("limit", limit)
	if err != nil {
		return ChangesPage{}, err
	}
	if since != nil && *since < 0 {
		return ChangesPage{}, ledger.Invalid("since", "must be >= 0")
	}
	cp, err := f.store.GetCheckpoint(ctx, events.MovementChanges)
	if err != nil {
		return ChangesPage{}, err
	}
	page, err := f.changes(ctx, cp.LastID, since, limit)
	if err != nil {
		return ChangesPage{}, err
	}
	f.metrics.SyncRead()
	return page, nil
}

func (f *Feed) changes(ctx context.Context, confirmed int64, since *int64, limit int) (ChangesPage, error) {
	lower := confirmed
	if since != nil {
		lower = *since
	}
	rows, err := f.store.ChangesAfter(ctx, lower, limit+1)
	if err != nil {
		return ChangesPage{}, err
	}
	page := ChangesPage{LastConfirmedID: confirmed, CheckpointID: lower}
	page.HasMore, rows = truncate(rows, limit)
	page.Changes = rows
	if len(rows) > 0 {
		page.CheckpointID = rows[len(rows)-1].ID
	}
	return page, nil
}

// =============================================================================
// ACKNOWLEDGE
// =============================================================================

// State is the persisted position of both logs after an acknowledgement.
type State struct {
	LastTransactionID     int64
	LastChangeID          int64
	TransactionsUpdatedAt time.Time
	ChangesUpdatedAt      time.Time
}

// Acknowledge confirms both checkpoints at once. Re-sending the persisted
// values is a no-op.
func (f *Feed) Acknowledge(ctx context.Context, movementsID, changesID int64) (State, error) {
	var state State
	err := f.store.WithTx(ctx, func(tx ledger.Tx) error {
		account, err := tx.GetBillingAccount(ctx)
		if err != nil {
			return err
		}

		txCP, err := tx.GetCheckpoint(ctx, events.BillingTransactions)
		if err != nil {
			return err
		}
		maxEvent, err := tx.MaxTransactionEventID(ctx, account.ID)
		if err != nil {
			return err
		}
		if err := validateCheckpoint("movements_checkpoint_id", movementsID, txCP.LastID, maxEvent); err != nil {
			return err
		}

		changesCP, err := tx.GetCheckpoint(ctx, events.MovementChanges)
		if err != nil {
			return err
		}
		maxChange, err := tx.MaxChangeID(ctx)
		if err != nil {
			return err
		}
		if err := validateCheckpoint("changes_checkpoint_id", changesID, changesCP.LastID, maxChange); err != nil {
			return err
		}

		now := f.clock.Now()
		if movementsID != txCP.LastID {
			if err := tx.AdvanceCheckpoint(ctx, events.BillingTransactions, txCP.LastID, movementsID, now); err != nil {
				return err
			}
			txCP.LastID, txCP.UpdatedAt = movementsID, now
		}
		if changesID != changesCP.LastID {
			if err := f.advanceChanges(ctx, tx, changesCP.LastID, changesID, now); err != nil {
				return err
			}
			changesCP.LastID, changesCP.UpdatedAt = changesID, now
		}

		state = State{
			LastTransactionID:     txCP.LastID,
			LastChangeID:          changesCP.LastID,
			TransactionsUpdatedAt: txCP.UpdatedAt,
			ChangesUpdatedAt:      changesCP.UpdatedAt,
		}
		return nil
	})
	f.recordAck(err)
	if err != nil {
		return State{}, err
	}
	f.logger.Info("billing sync acknowledged",
		zap.Int64("last_transaction_id", state.LastTransactionID),
		zap.Int64("last_change_id", state.LastChangeID),
	)
	return state, nil
}

// ChangesState is the persisted change checkpoint.
type ChangesState struct {
	LastChangeID int64
	UpdatedAt    time.Time
}

// AcknowledgeChanges confirms the change checkpoint alone.
func (f *Feed) AcknowledgeChanges(ctx context.Context, checkpointID int64) (ChangesState, error) {
	var state ChangesState
	err := f.store.WithTx(ctx, func(tx ledger.Tx) error {
		cp, err := tx.GetCheckpoint(ctx, events.MovementChanges)
		if err != nil {
			return err
		}
		maxChange, err := tx.MaxChangeID(ctx)
		if err != nil {
			return err
		}
		if err := validateCheckpoint("checkpoint_id", checkpointID, cp.LastID, maxChange); err != nil {
			return err
		}
		if checkpointID != cp.LastID {
			now := f.clock.Now()
			if err := f.advanceChanges(ctx, tx, cp.LastID, checkpointID, now); err != nil {
				return err
			}
			cp.LastID, cp.UpdatedAt = checkpointID, now
		}
		state = ChangesState{LastChangeID: cp.LastID, UpdatedAt: cp.UpdatedAt}
		return nil
	})
	f.recordAck(err)
	if err != nil {
		return ChangesState{}, err
	}
	return state, nil
}

// advanceChanges moves the change checkpoint and prunes what it now covers.
// Callers have validated to >= from.
func (f *Feed) advanceChanges(ctx context.Context, tx ledger.Tx, from, to int64, at time.Time) error {
	if err := tx.AdvanceCheckpoint(ctx, events.MovementChanges, from, to, at); err != nil {
		return err
	}
	if to <= from || to <= 0 {
		return nil
	}
	pruned, err := tx.PruneChanges(ctx, to)
	if err != nil {
		return fmt.Errorf("prune change log: %w", err)
	}
	f.metrics.ChangesPruned(pruned)
	if pruned > 0 {
		f.logger.Debug("pruned change log", zap.Int64("up_to", to), zap.Int64("rows", pruned))
	}
	return nil
}

func (f *Feed) recordAck(err error) {
	switch {
	case err == nil:
		f.metrics.SyncAck(metrics.ResultOK)
	case ledger.IsClientError(err) || ledger.IsNotFound(err):
		f.metrics.SyncAck(metrics.ResultRejected)
	case errors.Is(err, ledger.ErrConcurrentModification):
		f.metrics.SyncAck(metrics.ResultConflict)
	default:
		f.metrics.SyncAck(metrics.ResultError)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// validateCheckpoint accepts current <= requested <= max(current, maxID).
// The upper bound tolerates a log emptied by pruning.
func validateCheckpoint(field string, requested, current, maxID int64) error {
	upper := maxID
	if current > upper {
		upper = current
	}
	switch {
	case requested < 0:
		return ledger.Invalid(field, "must be >= 0")
	case requested < current:
		return &ledger.CheckpointError{Field: field, Requested: requested, Current: current, Max: upper,
			Reason: "below the last confirmed checkpoint"}
	case requested > upper:
		return &ledger.CheckpointError{Field: field, Requested: requested, Current: current, Max: upper,
			Reason: "beyond the last known event"}
	}
	return nil
}

func checkLimit(field string, n int) (int, error) {
	if n == 0 {
		return DefaultLimit, nil
	}
	if n < 1 || n > MaxLimit {
		return 0, ledger.Invalid(field, fmt.Sprintf("must be between 1 and %d", MaxLimit))
	}
	return n, nil
}

func truncate[T any](rows []T, limit int) (bool, []T) {
	if len(rows) > limit {
		return true, rows[:limit]
	}
	return false, rows
}
