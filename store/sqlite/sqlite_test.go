package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/movimientos/events"
	"github.com/warp/movimientos/ledger"
	"github.com/warp/movimientos/notify"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustTx(t *testing.T, s *Store, fn func(tx ledger.Tx) error) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), fn))
}

func seedAccount(t *testing.T, s *Store, name string, billing bool) ledger.Account {
	t.Helper()
	a := ledger.Account{
		Name:           name,
		OpeningBalance: decimal.RequireFromString("10.50"),
		Currency:       ledger.CurrencyARS,
		Color:          ledger.DefaultColor,
		IsActive:       true,
		IsBilling:      billing,
		CreatedAt:      t0,
	}
	mustTx(t, s, func(tx ledger.Tx) error { return tx.CreateAccount(context.Background(), &a) })
	return a
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestAccounts_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := seedAccount(t, s, "Caja", true)

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Caja", got.Name)
	assert.True(t, got.OpeningBalance.Equal(decimal.RequireFromString("10.50")))
	assert.True(t, got.IsBilling)
	assert.True(t, got.CreatedAt.Equal(t0))

	billing, err := s.GetBillingAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, billing.ID)

	_, err = s.GetAccount(ctx, 999)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestAccounts_DuplicateNameAndSingleBilling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "Caja", true)

	// GIVEN an existing name
	dup := ledger.Account{Name: "Caja", Currency: ledger.CurrencyARS, CreatedAt: t0}
	err := s.WithTx(ctx, func(tx ledger.Tx) error { return tx.CreateAccount(ctx, &dup) })
	assert.ErrorIs(t, err, ledger.ErrDuplicateName)

	// GIVEN a second billing account
	second := ledger.Account{Name: "Banco", Currency: ledger.CurrencyUSD, IsBilling: true, CreatedAt: t0}
	err = s.WithTx(ctx, func(tx ledger.Tx) error { return tx.CreateAccount(ctx, &second) })
	assert.ErrorIs(t, err, ledger.ErrConstraintViolation)
}

func TestAccounts_ListSkipsInactive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, s, "Caja", false)
	seedAccount(t, s, "Banco", false)

	a.IsActive = false
	mustTx(t, s, func(tx ledger.Tx) error { return tx.UpdateAccount(ctx, a) })

	active, err := s.ListAccounts(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Banco", active[0].Name)

	all, err := s.ListAccounts(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// =============================================================================
// TRANSACTIONS AND MOVEMENTS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, s, "Caja", true)

	// WHEN the callback fails after writing a transaction and its event
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		txn := ledger.Transaction{AccountID: a.ID, Date: t0, Amount: decimal.NewFromInt(5), CreatedAt: t0}
		require.NoError(t, tx.CreateTransaction(ctx, &txn))
		require.NoError(t, tx.AppendTransactionEvent(ctx, &events.TransactionEvent{
			TransactionID: &txn.ID, AccountID: a.ID, Event: events.Created, OccurredAt: t0,
			Payload: events.TransactionSnapshot{ID: txn.ID, AccountID: a.ID, Date: "2025-03-10", Amount: "5.00"},
		}))
		return ledger.ErrTransactionNotFound
	})
	require.ErrorIs(t, err, ledger.ErrTransactionNotFound)

	// THEN neither survives
	list, err := s.ListTransactions(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	maxID, err := s.MaxTransactionEventID(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, maxID)
}

func TestQueryTransactions_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, s, "Caja", false)

	day := func(d int) time.Time { return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC) }
	mustTx(t, s, func(tx ledger.Tx) error {
		for i, d := range []int{5, 1, 3} {
			txn := ledger.Transaction{
				AccountID: a.ID,
				Date:      day(d),
				Amount:    decimal.NewFromInt(int64(d)),
				CreatedAt: t0.Add(time.Duration(i) * time.Hour),
			}
			if err := tx.CreateTransaction(ctx, &txn); err != nil {
				return err
			}
		}
		return nil
	})

	all, err := s.QueryTransactions(ctx, ledger.TransactionFilter{AccountID: a.ID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Date.Equal(day(1)))
	assert.True(t, all[2].Date.Equal(day(5)))

	from, to := day(2), day(4)
	ranged, err := s.QueryTransactions(ctx, ledger.TransactionFilter{AccountID: a.ID, From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.True(t, ranged[0].Amount.Equal(decimal.NewFromInt(3)))

	recent, err := s.QueryTransactions(ctx, ledger.TransactionFilter{AccountID: a.ID, CreatedSince: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	// created_at upper bound is exclusive
	window, err := s.QueryTransactions(ctx, ledger.TransactionFilter{
		AccountID:     a.ID,
		CreatedSince:  t0,
		CreatedBefore: t0.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.True(t, window[0].Amount.Equal(decimal.NewFromInt(5)))
}

func TestInvoicesCreatedIn_HalfOpenRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, s, "Caja", true)

	mustTx(t, s, func(tx ledger.Tx) error {
		for i := 0; i < 3; i++ {
			inv := ledger.Invoice{
				AccountID: a.ID,
				Date:      t0,
				Amount:    decimal.NewFromInt(100),
				Type:      ledger.InvoiceSale,
				CreatedAt: t0.Add(time.Duration(i) * time.Hour),
			}
			if err := tx.CreateInvoice(ctx, &inv); err != nil {
				return err
			}
		}
		return nil
	})

	open, err := s.InvoicesCreatedIn(ctx, a.ID, t0.Add(time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	bounded, err := s.InvoicesCreatedIn(ctx, a.ID, t0, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, bounded, 2)
	assert.True(t, bounded[1].CreatedAt.Equal(t0.Add(time.Hour)))
}

func TestDeleteMovement_ReferencedIsConstraintViolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, s, "Caja", true)

	m := ledger.ExportableMovement{Description: "Honorarios", CreatedAt: t0}
	mustTx(t, s, func(tx ledger.Tx) error {
		if err := tx.CreateMovement(ctx, &m); err != nil {
			return err
		}
		txn := ledger.Transaction{
			AccountID: a.ID, Date: t0, Amount: decimal.NewFromInt(1),
			ExportableMovementID: &m.ID, CreatedAt: t0,
		}
		return tx.CreateTransaction(ctx, &txn)
	})

	err := s.WithTx(ctx, func(tx ledger.Tx) error { return tx.DeleteMovement(ctx, m.ID) })
	assert.ErrorIs(t, err, ledger.ErrConstraintViolation)

	err = s.WithTx(ctx, func(tx ledger.Tx) error { return tx.DeleteMovement(ctx, m.ID+1) })
	assert.ErrorIs(t, err, ledger.ErrMovementNotFound)
}

// =============================================================================
// CYCLES
// =============================================================================

func TestCycles_OrderingAndWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, s, "Caja", false)

	last, err := s.LastCycle(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	mustTx(t, s, func(tx ledger.Tx) error {
		for _, at := range []time.Time{t0, t0.Add(48 * time.Hour)} {
			c := ledger.AccountCycle{
				AccountID:       a.ID,
				ClosedAt:        at,
				BalanceSnapshot: decimal.RequireFromString("150.00"),
				CreatedAt:       at,
			}
			if err := tx.CreateCycle(ctx, &c); err != nil {
				return err
			}
		}
		return nil
	})

	cycles, err := s.ListCycles(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.True(t, cycles[0].ClosedAt.After(cycles[1].ClosedAt))
	assert.True(t, cycles[0].BalanceSnapshot.Equal(decimal.NewFromInt(150)))

	last, err = s.LastCycle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, cycles[0].ID, last.ID)

	// closed_at range is half open
	in, err := s.CycleClosedIn(ctx, a.ID, t0, t0.Add(24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.Equal(t, cycles[1].ID, in.ID)

	none, err := s.CycleClosedIn(ctx, a.ID, t0.Add(time.Second), t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, none)
}

// =============================================================================
// EVENT LOGS AND CHECKPOINTS
// =============================================================================

func TestCheckpoint_LazyCreateAndCompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// GIVEN a log never acknowledged
	cp, err := s.GetCheckpoint(ctx, events.BillingTransactions)
	require.NoError(t, err)
	assert.Zero(t, cp.LastID)

	// WHEN it is advanced from the value read
	mustTx(t, s, func(tx ledger.Tx) error {
		return tx.AdvanceCheckpoint(ctx, events.BillingTransactions, 0, 3, t0)
	})

	cp, err = s.GetCheckpoint(ctx, events.BillingTransactions)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp.LastID)
	assert.True(t, cp.UpdatedAt.Equal(t0))

	// THEN a stale advance loses
	err = s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.AdvanceCheckpoint(ctx, events.BillingTransactions, 0, 5, t0)
	})
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	// AND the other log is untouched
	other, err := s.GetCheckpoint(ctx, events.MovementChanges)
	require.NoError(t, err)
	assert.Zero(t, other.LastID)
}

func TestCheckpoint_LazyRowStampedByStoreClock(t *testing.T) {
	clock := ledger.NewFakeClock(t0)
	s, err := New(":memory:", WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	// GIVEN a store clock pinned away from the wall clock
	// WHEN a checkpoint is first read outside a transaction
	cp, err := s.GetCheckpoint(ctx, events.BillingTransactions)
	require.NoError(t, err)

	// THEN its row carries the store clock time
	assert.True(t, cp.UpdatedAt.Equal(t0), "got %s", cp.UpdatedAt)

	// AND the same holds inside a transaction
	clock.Advance(time.Hour)
	mustTx(t, s, func(tx ledger.Tx) error {
		cp, err = tx.GetCheckpoint(ctx, events.MovementChanges)
		return err
	})
	assert.True(t, cp.UpdatedAt.Equal(t0.Add(time.Hour)), "got %s", cp.UpdatedAt)
}

func TestChanges_PagingAndPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustTx(t, s, func(tx ledger.Tx) error {
		for i := int64(1); i <= 4; i++ {
			id := i
			c := events.Change{
				MovementID: &id,
				Event:      events.Created,
				OccurredAt: t0,
				Payload:    events.MovementCreated{ID: id, Description: "m"},
			}
			if err := tx.AppendChange(ctx, &c); err != nil {
				return err
			}
		}
		return nil
	})

	page, err := s.ChangesAfter(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].ID)
	assert.Equal(t, int64(3), page[1].ID)
	assert.Equal(t, events.MovementCreated{ID: 2, Description: "m"}, page[0].Payload)

	var pruned int64
	mustTx(t, s, func(tx ledger.Tx) error {
		var err error
		pruned, err = tx.PruneChanges(ctx, 2)
		return err
	})
	assert.Equal(t, int64(2), pruned)

	rest, err := s.ChangesAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, int64(3), rest[0].ID)

	// ids are not reused after pruning
	mustTx(t, s, func(tx ledger.Tx) error {
		if _, err := tx.PruneChanges(ctx, 4); err != nil {
			return err
		}
		c := events.Change{Event: events.Created, OccurredAt: t0, Payload: events.MovementCreated{ID: 9}}
		return tx.AppendChange(ctx, &c)
	})
	maxID, err := s.MaxChangeID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), maxID)
}

func TestTransactionEvents_ScopedToAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustTx(t, s, func(tx ledger.Tx) error {
		for _, accountID := range []int64{1, 2, 1} {
			txID := int64(7)
			e := events.TransactionEvent{
				TransactionID: &txID, AccountID: accountID, Event: events.Deleted, OccurredAt: t0,
				Payload: events.Tombstone{ID: txID},
			}
			if err := tx.AppendTransactionEvent(ctx, &e); err != nil {
				return err
			}
		}
		return nil
	})

	list, err := s.TransactionEventsAfter(ctx, 1, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []int64{1, 3}, []int64{list[0].ID, list[1].ID})
	assert.Nil(t, list[0].Snapshot())

	maxID, err := s.MaxTransactionEventID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), maxID)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func seedNotification(t *testing.T, s *Store, id, key string, at time.Time) {
	t.Helper()
	require.NoError(t, s.CreateNotification(context.Background(), notify.Notification{
		ID:             id,
		Type:           "billing.movement",
		Title:          "Nuevo movimiento",
		Priority:       notify.PriorityNormal,
		OccurredAt:     at,
		Status:         notify.StatusUnread,
		Variables:      map[string]any{"amount": "10.00"},
		IdempotencyKey: key,
		SourceApp:      "app-b",
		CreatedAt:      at,
	}))
}

func TestNotifications_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedNotification(t, s, "n1", "k1", t0)
	seedNotification(t, s, "n2", "k2", t0.Add(time.Minute))

	// duplicate key
	err := s.CreateNotification(ctx, notify.Notification{
		ID: "n3", Type: "x", Title: "x", OccurredAt: t0, Status: notify.StatusUnread,
		IdempotencyKey: "k1", SourceApp: "app-b", CreatedAt: t0,
	})
	assert.ErrorIs(t, err, notify.ErrDuplicateKey)

	byKey, err := s.NotificationByKey(ctx, "k2")
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, "n2", byKey.ID)
	assert.Equal(t, "10.00", byKey.Variables["amount"])

	list, err := s.ListNotifications(ctx, notify.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].ID)

	// WHEN n1 is read, twice
	require.NoError(t, s.MarkNotificationRead(ctx, "n1", t0.Add(time.Hour)))
	require.NoError(t, s.MarkNotificationRead(ctx, "n1", t0.Add(2*time.Hour)))
	assert.ErrorIs(t, s.MarkNotificationRead(ctx, "missing", t0), ledger.ErrNotificationNotFound)

	unread, err := s.CountUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	read, err := s.ListNotifications(ctx, notify.ListFilter{Status: notify.StatusRead})
	require.NoError(t, err)
	require.Len(t, read, 1)
	require.NotNil(t, read[0].ReadAt)
	assert.True(t, read[0].ReadAt.Equal(t0.Add(time.Hour)))

	// THEN retention only purges read rows older than the cutoff
	purged, err := s.PurgeReadNotifications(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, purged)

	purged, err = s.PurgeReadNotifications(ctx, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	left, err := s.ListNotifications(ctx, notify.ListFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "n2", left[0].ID)
}

func TestNotifications_CursorPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		seedNotification(t, s, id, "key-"+id, t0.Add(time.Duration(i)*time.Minute))
	}

	first, err := s.ListNotifications(ctx, notify.ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "c", first[0].ID)

	last := first[1]
	next, err := s.ListNotifications(ctx, notify.ListFilter{
		Limit: 2,
		After: &notify.Cursor{OccurredAt: last.OccurredAt, ID: last.ID},
	})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "a", next[0].ID)
}
