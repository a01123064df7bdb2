package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/movimientos/events"
	"github.com/warp/movimientos/ledger"
)

// =============================================================================
// BILLING TRANSACTION EVENTS
// =============================================================================

func (r reader) TransactionEventsAfter(ctx context.Context, accountID, afterID int64, limit int) ([]events.TransactionEvent, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, transaction_id, account_id, event, occurred_at, payload
		FROM billing_transaction_events
		WHERE account_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?`, accountID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction events: %w", err)
	}
	defer rows.Close()

	var out []events.TransactionEvent
	for rows.Next() {
		var (
			e          events.TransactionEvent
			txID       sql.NullInt64
			event      string
			occurredAt string
			payload    string
		)
		if err := rows.Scan(&e.ID, &txID, &e.AccountID, &event, &occurredAt, &payload); err != nil {
			return nil, err
		}
		e.TransactionID = intPtr(txID)
		e.Event = events.Type(event)
		if e.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		if e.Payload, err = events.DecodeTransactionPayload(e.Event, []byte(payload)); err != nil {
			return nil, fmt.Errorf("event %d: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r reader) MaxTransactionEventID(ctx context.Context, accountID int64) (int64, error) {
	var maxID int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM billing_transaction_events WHERE account_id = ?`, accountID,
	).Scan(&maxID)
	return maxID, err
}

func (ts *txStore) AppendTransactionEvent(ctx context.Context, e *events.TransactionEvent) error {
	payload, err := events.EncodeTransactionPayload(e.Event, e.Payload)
	if err != nil {
		return err
	}
	res, err := ts.q.ExecContext(ctx, `
		INSERT INTO billing_transaction_events (transaction_id, account_id, event, occurred_at, payload)
		VALUES (?, ?, ?, ?, ?)`,
		nullInt(e.TransactionID), e.AccountID, string(e.Event), formatTime(e.OccurredAt), string(payload),
	)
	if err != nil {
		return mapWriteError("append transaction event", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// =============================================================================
// EXPORTABLE MOVEMENT CHANGES
// =============================================================================

func (r reader) ChangesAfter(ctx context.Context, afterID int64, limit int) ([]events.Change, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, movement_id, event, occurred_at, payload
		FROM exportable_movement_changes
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var out []events.Change
	for rows.Next() {
		var (
			c          events.Change
			movementID sql.NullInt64
			event      string
			occurredAt string
			payload    string
		)
		if err := rows.Scan(&c.ID, &movementID, &event, &occurredAt, &payload); err != nil {
			return nil, err
		}
		c.MovementID = intPtr(movementID)
		c.Event = events.Type(event)
		if c.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		if c.Payload, err = events.DecodeChangePayload(c.Event, []byte(payload)); err != nil {
			return nil, fmt.Errorf("change %d: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r reader) MaxChangeID(ctx context.Context) (int64, error) {
	var maxID int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM exportable_movement_changes`,
	).Scan(&maxID)
	return maxID, err
}

func (ts *txStore) AppendChange(ctx context.Context, c *events.Change) error {
	payload, err := events.EncodeChangePayload(c.Event, c.Payload)
	if err != nil {
		return err
	}
	res, err := ts.q.ExecContext(ctx, `
		INSERT INTO exportable_movement_changes (movement_id, event, occurred_at, payload)
		VALUES (?, ?, ?, ?)`,
		nullInt(c.MovementID), string(c.Event), formatTime(c.OccurredAt), string(payload),
	)
	if err != nil {
		return mapWriteError("append change", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (ts *txStore) PruneChanges(ctx context.Context, upTo int64) (int64, error) {
	res, err := ts.q.ExecContext(ctx, `DELETE FROM exportable_movement_changes WHERE id <= ?`, upTo)
	if err != nil {
		return 0, mapWriteError("prune changes", err)
	}
	return res.RowsAffected()
}

// =============================================================================
// SYNC CHECKPOINTS
// =============================================================================

// GetCheckpoint returns the cursor of a log, creating it at 0 on first use.
func (r reader) GetCheckpoint(ctx context.Context, log events.LogName) (events.Checkpoint, error) {
	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (log_name, last_id, updated_at) VALUES (?, 0, ?)
		ON CONFLICT(log_name) DO NOTHING`,
		string(log), formatTime(r.clock.Now()),
	); err != nil {
		return events.Checkpoint{}, fmt.Errorf("failed to init checkpoint %s: %w", log, err)
	}

	var (
		cp        = events.Checkpoint{Log: log}
		updatedAt string
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT last_id, updated_at FROM sync_checkpoints WHERE log_name = ?`, string(log),
	).Scan(&cp.LastID, &updatedAt)
	if err != nil {
		return events.Checkpoint{}, fmt.Errorf("failed to read checkpoint %s: %w", log, err)
	}
	if cp.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return events.Checkpoint{}, err
	}
	return cp, nil
}

// AdvanceCheckpoint moves a cursor from one value to another. Zero affected
// rows means another acknowledgement moved it first.
func (ts *txStore) AdvanceCheckpoint(ctx context.Context, log events.LogName, from, to int64, at time.Time) error {
	res, err := ts.q.ExecContext(ctx, `
		UPDATE sync_checkpoints SET last_id = ?, updated_at = ?
		WHERE log_name = ? AND last_id = ?`,
		to, formatTime(at), string(log), from,
	)
	if err != nil {
		return mapWriteError("advance checkpoint", err)
	}
	return requireRow(res, ledger.ErrConcurrentModification)
}
