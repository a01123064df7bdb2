package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/movimientos/ledger"
)

func TestClose_SnapshotsAndRebasesOpeningBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	caja := f.account(t, "Caja", "100.00", false)

	// GIVEN an income dated the same day
	f.txn(t, caja.ID, day(3, 10), "50.00")
	f.clock.Advance(time.Minute)

	// WHEN the cycle is closed
	cycle, created, err := f.cycles.Close(ctx, caja.ID)
	require.NoError(t, err)

	// THEN the snapshot holds the cycle figures
	assert.True(t, created)
	assert.True(t, cycle.ClosedAt.Equal(t0.Add(time.Minute)))
	requireMoney(t, "100", cycle.OpeningBalanceSnapshot, "opening snapshot")
	requireMoney(t, "50", cycle.IncomeSnapshot, "income snapshot")
	assert.True(t, cycle.ExpenseSnapshot.IsZero())
	requireMoney(t, "150", cycle.BalanceSnapshot, "balance snapshot")

	// AND the account now opens at the closing balance
	acc, err := f.store.GetAccount(ctx, caja.ID)
	require.NoError(t, err)
	requireMoney(t, "150", acc.OpeningBalance, "rebased opening")

	// AND the new cycle starts empty
	s, err := ledger.Summarize(ctx, f.store, caja.ID)
	require.NoError(t, err)
	assert.True(t, s.WindowStart.Equal(cycle.ClosedAt))
	assert.True(t, s.Income.IsZero())
	requireMoney(t, "150", s.Balance, "balance")
}

func TestClose_IdempotentWithinClockHour(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	caja := f.account(t, "Caja", "100", false)
	f.txn(t, caja.ID, day(3, 10), "50")
	f.clock.Advance(time.Minute)

	first, created, err := f.cycles.Close(ctx, caja.ID)
	require.NoError(t, err)
	require.True(t, created)

	// WHEN closed again in the same hour, even after new activity
	f.clock.Advance(30 * time.Minute)
	f.txn(t, caja.ID, day(3, 10), "5")
	again, created, err := f.cycles.Close(ctx, caja.ID)
	require.NoError(t, err)

	// THEN the recorded cycle is returned unchanged
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	requireMoney(t, "150", again.BalanceSnapshot, "balance snapshot")

	acc, err := f.store.GetAccount(ctx, caja.ID)
	require.NoError(t, err)
	requireMoney(t, "150", acc.OpeningBalance, "opening")

	// WHEN the next hour starts
	f.clock.Set(t0.Add(time.Hour))
	next, created, err := f.cycles.Close(ctx, caja.ID)
	require.NoError(t, err)

	// THEN a new cycle chains from the previous balance
	assert.True(t, created)
	assert.NotEqual(t, first.ID, next.ID)
	requireMoney(t, "150", next.OpeningBalanceSnapshot, "opening snapshot")
	requireMoney(t, "5", next.IncomeSnapshot, "income snapshot")
	requireMoney(t, "155", next.BalanceSnapshot, "balance snapshot")

	cycles, err := f.cycles.List(ctx, caja.ID)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, next.ID, cycles[0].ID)
}

func TestClose_RowsStampedAtCloseTimeBelongToNextCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	billing := f.account(t, "Facturación", "10", true)
	m := f.movement(t, "Honorarios")

	// GIVEN a transaction and an invoice recorded at the exact close instant
	f.txn(t, billing.ID, day(3, 10), "30", linkedTo(m))
	f.invoice(t, billing.ID, ledger.InvoiceSale, "100")

	// WHEN the cycle closes without the clock moving
	cycle, created, err := f.cycles.Close(ctx, billing.ID)
	require.NoError(t, err)
	require.True(t, created)

	// THEN the snapshot leaves them out
	assert.True(t, cycle.IncomeSnapshot.IsZero())
	assert.True(t, cycle.InkwellIncomeSnapshot.IsZero())
	assert.True(t, cycle.IVASalesSnapshot.IsZero())
	requireMoney(t, "10", cycle.BalanceSnapshot, "balance snapshot")

	// AND the next cycle counts them once
	s, err := ledger.Summarize(ctx, f.store, billing.ID)
	require.NoError(t, err)
	requireMoney(t, "10", s.OpeningBalance, "opening")
	requireMoney(t, "30", s.Income, "income")
	requireMoney(t, "30", s.InkwellIncome, "inkwell income")
	requireMoney(t, "21", s.IVASales, "iva sales")
	requireMoney(t, "40", s.Balance, "balance")
}

func TestClose_BillingSnapshotsInkwellFigures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	billing := f.account(t, "Facturación", "0", true)
	m := f.movement(t, "Honorarios")

	f.txn(t, billing.ID, day(3, 1), "300", linkedTo(m))
	f.txn(t, billing.ID, day(3, 2), "-75.50", linkedTo(m))
	f.txn(t, billing.ID, day(3, 3), "1000", customInkwell)
	f.clock.Advance(time.Second)

	cycle, _, err := f.cycles.Close(ctx, billing.ID)
	require.NoError(t, err)
	requireMoney(t, "300", cycle.InkwellIncomeSnapshot, "inkwell income")
	requireMoney(t, "75.50", cycle.InkwellExpenseSnapshot, "inkwell expense")
	requireMoney(t, "224.50", cycle.InkwellAvailableSnapshot, "inkwell available")
	requireMoney(t, "1224.50", cycle.BalanceSnapshot, "balance")
}

func TestClose_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.cycles.Close(ctx, 404)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = f.cycles.List(ctx, 404)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

// =============================================================================
// MONEY PRECISION
// =============================================================================

func TestMoney_SubCentInputsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	billing := f.account(t, "Facturación", "12.340", true)
	requireMoney(t, "12.34", billing.OpeningBalance, "trailing zero accepted")

	sub := decimal.RequireFromString("2.005")
	tests := []struct {
		name string
		run  func() error
	}{
		{"opening balance", func() error {
			_, err := f.accounts.Create(ctx, ledger.AccountInput{
				Name: "Caja", OpeningBalance: decimal.RequireFromString("1.005"), Currency: ledger.CurrencyARS,
			}, false)
			return err
		}},
		{"invoice amount", func() error {
			_, err := f.invoices.Create(ctx, ledger.InvoiceInput{
				AccountID: billing.ID, Date: t0, Amount: decimal.RequireFromString("10.001"), Type: ledger.InvoiceSale,
			})
			return err
		}},
		{"iva percent", func() error {
			_, err := f.invoices.Create(ctx, ledger.InvoiceInput{
				AccountID: billing.ID, Date: t0, Amount: decimal.NewFromInt(10), IVAPercent: &sub, Type: ledger.InvoiceSale,
			})
			return err
		}},
		{"iibb percent", func() error {
			_, err := f.invoices.Create(ctx, ledger.InvoiceInput{
				AccountID: billing.ID, Date: t0, Amount: decimal.NewFromInt(10), IIBBPercent: &sub, Type: ledger.InvoiceSale,
			})
			return err
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			assert.ErrorIs(t, err, ledger.ErrInvalidInput)
			assert.True(t, ledger.IsClientError(err))
		})
	}

	invoices, err := f.invoices.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}
