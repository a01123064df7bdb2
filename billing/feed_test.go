package billing

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/movimientos/events"
	"github.com/warp/movimientos/ledger"
	"github.com/warp/movimientos/store/sqlite"
)

func (h *harness) billingTransactions(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := h.writer.CreateTransaction(context.Background(), h.input(h.billing.ID, "10"))
		require.NoError(t, err)
	}
}

func (h *harness) movements(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		h.movement(t, "Movimiento")
	}
}

func TestFeed_PaginationHasNoGapsOrDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.billingTransactions(t, 7)

	// WHEN: the consumer pages three at a time, acknowledging each page
	var seen []int64
	for i := 0; i < 5; i++ {
		page, err := h.feed.List(ctx, ListOptions{Limit: 3})
		require.NoError(t, err)
		for _, e := range page.TransactionEvents {
			seen = append(seen, e.ID)
		}
		_, err = h.feed.Acknowledge(ctx, page.TransactionsCheckpointID, page.ChangesCheckpointID)
		require.NoError(t, err)
		if !page.HasMoreTransactions {
			break
		}
	}

	// THEN: every event exactly once, ascending
	require.Len(t, seen, 7)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}

func TestFeed_ReadsAreRepeatable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.billingTransactions(t, 2)
	h.movements(t, 2)

	first, err := h.feed.List(ctx, ListOptions{})
	require.NoError(t, err)
	second, err := h.feed.List(ctx, ListOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.TransactionsCheckpointID, second.TransactionsCheckpointID)
	assert.Equal(t, first.ChangesCheckpointID, second.ChangesCheckpointID)
	assert.Len(t, second.TransactionEvents, 2)
	assert.Len(t, second.Changes, 2)
	assert.Zero(t, second.LastConfirmedTransactionID)
}

func TestFeed_AcknowledgeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.billingTransactions(t, 2)
	h.movements(t, 3)

	page, err := h.feed.List(ctx, ListOptions{})
	require.NoError(t, err)

	first, err := h.feed.Acknowledge(ctx, page.TransactionsCheckpointID, page.ChangesCheckpointID)
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	second, err := h.feed.Acknowledge(ctx, page.TransactionsCheckpointID, page.ChangesCheckpointID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, page.TransactionsCheckpointID, second.LastTransactionID)
	assert.Equal(t, page.ChangesCheckpointID, second.LastChangeID)
}

func TestFeed_AcknowledgeRejectsRegressionAndOverreach(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.billingTransactions(t, 3)
	h.movements(t, 3)

	page, err := h.feed.List(ctx, ListOptions{})
	require.NoError(t, err)
	_, err = h.feed.Acknowledge(ctx, page.TransactionsCheckpointID, page.ChangesCheckpointID)
	require.NoError(t, err)

	var cpErr *ledger.CheckpointError

	// Regression on the changes log is rejected even though its rows are gone.
	_, err = h.feed.Acknowledge(ctx, page.TransactionsCheckpointID, page.ChangesCheckpointID-1)
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "changes_checkpoint_id", cpErr.Field)
	assert.True(t, ledger.IsClientError(err))

	_, err = h.feed.Acknowledge(ctx, page.TransactionsCheckpointID-1, page.ChangesCheckpointID)
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "movements_checkpoint_id", cpErr.Field)

	_, err = h.feed.Acknowledge(ctx, page.TransactionsCheckpointID+1, page.ChangesCheckpointID)
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "movements_checkpoint_id", cpErr.Field)

	_, err = h.feed.Acknowledge(ctx, page.TransactionsCheckpointID, page.ChangesCheckpointID+1)
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "changes_checkpoint_id", cpErr.Field)

	// A rejected pair moves neither checkpoint.
	cp, err := h.store.GetCheckpoint(ctx, events.BillingTransactions)
	require.NoError(t, err)
	assert.Equal(t, page.TransactionsCheckpointID, cp.LastID)
}

func TestFeed_PruningBoundary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.movements(t, 5)

	// GIVEN: a page of three changes
	page, err := h.feed.List(ctx, ListOptions{ChangesLimit: 3})
	require.NoError(t, err)
	require.Len(t, page.Changes, 3)
	require.True(t, page.HasMoreChanges)

	// WHEN: acknowledged
	_, err = h.feed.Acknowledge(ctx, page.TransactionsCheckpointID, page.ChangesCheckpointID)
	require.NoError(t, err)

	// THEN: rows at or below the checkpoint are gone, the rest remain
	rest, err := h.store.ChangesAfter(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	for _, c := range rest {
		assert.Greater(t, c.ID, page.ChangesCheckpointID)
	}

	// Transaction events are never pruned.
	h.billingTransactions(t, 1)
	txPage, err := h.feed.List(ctx, ListOptions{})
	require.NoError(t, err)
	_, err = h.feed.Acknowledge(ctx, txPage.TransactionsCheckpointID, txPage.ChangesCheckpointID)
	require.NoError(t, err)
	evs, err := h.store.TransactionEventsAfter(ctx, h.billing.ID, 0, 100)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestFeed_ChangesSinceOverridesCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.movements(t, 4)

	since := int64(2)
	page, err := h.feed.List(ctx, ListOptions{ChangesSince: &since})
	require.NoError(t, err)

	require.Len(t, page.Changes, 2)
	assert.Equal(t, int64(3), page.Changes[0].ID)
	assert.Zero(t, page.LastConfirmedChangeID)

	since = 10
	page, err = h.feed.List(ctx, ListOptions{ChangesSince: &since})
	require.NoError(t, err)
	assert.Empty(t, page.Changes)
	assert.Equal(t, int64(10), page.ChangesCheckpointID)
}

func TestFeed_RequiresBillingAccount(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	feed := NewFeed(store, nil, nil, nil)

	_, err = feed.List(context.Background(), ListOptions{})
	assert.ErrorIs(t, err, ledger.ErrBillingAccountNotConfigured)
	assert.True(t, ledger.IsNotFound(err))

	_, err = feed.Acknowledge(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ledger.ErrBillingAccountNotConfigured)

	// The standalone changes feed has no such requirement.
	_, err = feed.ListChanges(context.Background(), nil, 0)
	assert.NoError(t, err)
}

func TestFeed_LimitBounds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.feed.List(ctx, ListOptions{Limit: 501})
	assert.True(t, ledger.IsClientError(err))
	_, err = h.feed.List(ctx, ListOptions{ChangesLimit: -1})
	assert.True(t, ledger.IsClientError(err))
	neg := int64(-1)
	_, err = h.feed.List(ctx, ListOptions{ChangesSince: &neg})
	assert.True(t, ledger.IsClientError(err))
	_, err = h.feed.ListChanges(ctx, nil, 500)
	assert.NoError(t, err)
}

func TestFeed_AcknowledgeChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.movements(t, 3)

	page, err := h.feed.ListChanges(ctx, nil, 2)
	require.NoError(t, err)
	require.True(t, page.HasMore)

	state, err := h.feed.AcknowledgeChanges(ctx, page.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, page.CheckpointID, state.LastChangeID)
	assert.Equal(t, h.clock.Now(), state.UpdatedAt)

	next, err := h.feed.ListChanges(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, next.Changes, 1)
	assert.Equal(t, page.CheckpointID, next.LastConfirmedID)
	assert.False(t, next.HasMore)

	_, err = h.feed.AcknowledgeChanges(ctx, page.CheckpointID-1)
	assert.ErrorIs(t, err, ledger.ErrInvalidCheckpoint)
}

func TestFeed_CycleInformation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.billingTransactions(t, 2)

	page, err := h.feed.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Nil(t, page.LastClosedAt)

	h.clock.Advance(time.Minute)
	cycle, _, err := ledger.NewCycleManager(h.store, h.clock).Close(ctx, h.billing.ID)
	require.NoError(t, err)

	page, err = h.feed.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.NotNil(t, page.LastClosedAt)
	assert.True(t, cycle.ClosedAt.Equal(*page.LastClosedAt))
	assert.Equal(t, "2025-03-10", page.CycleStartDate.Format(ledger.DateLayout))
	assert.Equal(t, "20.00", ledger.FormatMoney(*page.PreviousCycleBalance))
}

func TestWriter_EventFailureRollsBackWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	clock := ledger.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	accountCols := []string{"id", "name", "opening_balance", "currency", "color", "is_active", "is_billing", "created_at"}
	billingRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(accountCols).
			AddRow(1, "Facturación", "0", "ARS", "#000000", 1, 1, "2025-01-01T00:00:00.000000Z")
	}

	// GIVEN: the event insert fails after the transaction insert succeeded
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE is_billing = 1")).WillReturnRows(billingRow())
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = ?")).WithArgs(int64(1)).WillReturnRows(billingRow())
	mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec("INSERT INTO billing_transaction_events").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	writer := NewWriter(sqlite.NewFromDB(db), clock, nil, nil)
	in := TransactionInput{
		AccountID:   1,
		Date:        time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Description: "Honorarios",
		Amount:      decimal.RequireFromString("100.00"),
	}

	// WHEN
	_, err = writer.CreateTransaction(context.Background(), in)

	// THEN: the error surfaces and the transaction is rolled back, not committed
	assert.ErrorContains(t, err, "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}
