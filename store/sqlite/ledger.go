package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/movimientos/ledger"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, name, opening_balance, currency, color, is_active, is_billing, created_at`

func (r reader) GetAccount(ctx context.Context, id int64) (*ledger.Account, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	return acc, err
}

func (r reader) GetBillingAccount(ctx context.Context) (*ledger.Account, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE is_billing = 1 LIMIT 1`)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrBillingAccountNotConfigured
	}
	return acc, err
}

func (r reader) ListAccounts(ctx context.Context, includeInactive bool) ([]ledger.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if !includeInactive {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name ASC`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *acc)
	}
	return out, rows.Err()
}

func (r reader) AccountNameTaken(ctx context.Context, name string, exceptID int64) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE name = ? AND id != ?`, name, exceptID,
	).Scan(&count)
	return count > 0, err
}

func (ts *txStore) CreateAccount(ctx context.Context, a *ledger.Account) error {
	res, err := ts.q.ExecContext(ctx, `
		INSERT INTO accounts (name, opening_balance, currency, color, is_active, is_billing, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.OpeningBalance.String(), string(a.Currency), a.Color,
		boolInt(a.IsActive), boolInt(a.IsBilling), formatTime(a.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "accounts.name") {
			return ledger.ErrDuplicateName
		}
		return mapWriteError("create account", err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

func (ts *txStore) UpdateAccount(ctx context.Context, a ledger.Account) error {
	res, err := ts.q.ExecContext(ctx, `
		UPDATE accounts SET name = ?, currency = ?, color = ?, is_active = ?, is_billing = ?
		WHERE id = ?`,
		a.Name, string(a.Currency), a.Color, boolInt(a.IsActive), boolInt(a.IsBilling), a.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "accounts.name") {
			return ledger.ErrDuplicateName
		}
		return mapWriteError("update account", err)
	}
	return requireRow(res, ledger.ErrAccountNotFound)
}

func (ts *txStore) SetOpeningBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	res, err := ts.q.ExecContext(ctx,
		`UPDATE accounts SET opening_balance = ? WHERE id = ?`, balance.String(), accountID)
	if err != nil {
		return mapWriteError("set opening balance", err)
	}
	return requireRow(res, ledger.ErrAccountNotFound)
}

func (ts *txStore) ClearBillingFlag(ctx context.Context, exceptID int64) error {
	_, err := ts.q.ExecContext(ctx,
		`UPDATE accounts SET is_billing = 0 WHERE is_billing = 1 AND id != ?`, exceptID)
	return mapWriteError("clear billing flag", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var (
		a                  ledger.Account
		opening, createdAt string
		currency           string
		active, billing    int
	)
	if err := row.Scan(&a.ID, &a.Name, &opening, &currency, &a.Color, &active, &billing, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if a.OpeningBalance, err = parseDecimal(opening); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	a.Currency = ledger.Currency(currency)
	a.IsActive = active == 1
	a.IsBilling = billing == 1
	return &a, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `id, account_id, date, description, amount, notes,
	exportable_movement_id, is_custom_inkwell, created_at`

func (r reader) GetTransaction(ctx context.Context, id int64) (*ledger.Transaction, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrTransactionNotFound
	}
	return t, err
}

func (r reader) ListTransactions(ctx context.Context, limit, offset int) ([]ledger.Transaction, error) {
	return r.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions ORDER BY date DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
}

func (r reader) QueryTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var (
		where = []string{"account_id = ?"}
		args  = []any{f.AccountID}
	)
	if !f.CreatedSince.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.CreatedSince))
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(f.CreatedBefore))
	}
	if f.From != nil {
		where = append(where, "date >= ?")
		args = append(args, formatDate(*f.From))
	}
	if f.To != nil {
		where = append(where, "date <= ?")
		args = append(args, formatDate(*f.To))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY date ASC, id ASC`
	return r.queryTransactions(ctx, query, args...)
}

func (r reader) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (ts *txStore) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	res, err := ts.q.ExecContext(ctx, `
		INSERT INTO transactions
		(account_id, date, description, amount, notes, exportable_movement_id, is_custom_inkwell, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AccountID, formatDate(t.Date), t.Description, t.Amount.String(), t.Notes,
		nullInt(t.ExportableMovementID), boolInt(t.IsCustomInkwell), formatTime(t.CreatedAt),
	)
	if err != nil {
		return mapWriteError("create transaction", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

// UpdateTransaction rewrites every field but created_at, which pins the
// transaction to the cycle it was recorded in.
func (ts *txStore) UpdateTransaction(ctx context.Context, t ledger.Transaction) error {
	res, err := ts.q.ExecContext(ctx, `
		UPDATE transactions
		SET account_id = ?, date = ?, description = ?, amount = ?, notes = ?,
		    exportable_movement_id = ?, is_custom_inkwell = ?
		WHERE id = ?`,
		t.AccountID, formatDate(t.Date), t.Description, t.Amount.String(), t.Notes,
		nullInt(t.ExportableMovementID), boolInt(t.IsCustomInkwell), t.ID,
	)
	if err != nil {
		return mapWriteError("update transaction", err)
	}
	return requireRow(res, ledger.ErrTransactionNotFound)
}

func (ts *txStore) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := ts.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return mapWriteError("delete transaction", err)
	}
	return requireRow(res, ledger.ErrTransactionNotFound)
}

func scanTransaction(row rowScanner) (*ledger.Transaction, error) {
	var (
		t                       ledger.Transaction
		date, amount, createdAt string
		movementID              sql.NullInt64
		custom                  int
	)
	if err := row.Scan(&t.ID, &t.AccountID, &date, &t.Description, &amount, &t.Notes,
		&movementID, &custom, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if t.Date, err = parseDate(date); err != nil {
		return nil, err
	}
	if t.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	t.ExportableMovementID = intPtr(movementID)
	t.IsCustomInkwell = custom == 1
	return &t, nil
}

// =============================================================================
// EXPORTABLE MOVEMENTS
// =============================================================================

func (r reader) GetMovement(ctx context.Context, id int64) (*ledger.ExportableMovement, error) {
	var (
		m         ledger.ExportableMovement
		createdAt string
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT id, description, created_at FROM exportable_movements WHERE id = ?`, id,
	).Scan(&m.ID, &m.Description, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrMovementNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r reader) ListMovements(ctx context.Context) ([]ledger.ExportableMovement, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, description, created_at FROM exportable_movements ORDER BY description ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	defer rows.Close()

	var out []ledger.ExportableMovement
	for rows.Next() {
		var (
			m         ledger.ExportableMovement
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.Description, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (ts *txStore) CreateMovement(ctx context.Context, m *ledger.ExportableMovement) error {
	res, err := ts.q.ExecContext(ctx,
		`INSERT INTO exportable_movements (description, created_at) VALUES (?, ?)`,
		m.Description, formatTime(m.CreatedAt))
	if err != nil {
		return mapWriteError("create movement", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

func (ts *txStore) UpdateMovement(ctx context.Context, m ledger.ExportableMovement) error {
	res, err := ts.q.ExecContext(ctx,
		`UPDATE exportable_movements SET description = ? WHERE id = ?`, m.Description, m.ID)
	if err != nil {
		return mapWriteError("update movement", err)
	}
	return requireRow(res, ledger.ErrMovementNotFound)
}

// DeleteMovement fails with ErrConstraintViolation while transactions still
// reference the movement.
func (ts *txStore) DeleteMovement(ctx context.Context, id int64) error {
	res, err := ts.q.ExecContext(ctx, `DELETE FROM exportable_movements WHERE id = ?`, id)
	if err != nil {
		return mapWriteError("delete movement", err)
	}
	return requireRow(res, ledger.ErrMovementNotFound)
}

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `id, account_id, date, description, number, amount, iva_percent,
	iva_amount, iibb_percent, iibb_amount, type, created_at`

func (r reader) GetInvoice(ctx context.Context, id int64) (*ledger.Invoice, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrInvoiceNotFound
	}
	return inv, err
}

func (r reader) ListInvoices(ctx context.Context, accountID *int64) ([]ledger.Invoice, error) {
	if accountID == nil {
		return r.queryInvoices(ctx, `SELECT `+invoiceColumns+` FROM invoices ORDER BY date DESC, id DESC`)
	}
	return r.queryInvoices(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE account_id = ? ORDER BY date DESC, id DESC`,
		*accountID)
}

func (r reader) InvoicesCreatedIn(ctx context.Context, accountID int64, since, before time.Time) ([]ledger.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE account_id = ? AND created_at >= ?`
	args := []any{accountID, formatTime(since)}
	if !before.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, formatTime(before))
	}
	return r.queryInvoices(ctx, query+` ORDER BY id ASC`, args...)
}

func (r reader) queryInvoices(ctx context.Context, query string, args ...any) ([]ledger.Invoice, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []ledger.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (ts *txStore) CreateInvoice(ctx context.Context, inv *ledger.Invoice) error {
	res, err := ts.q.ExecContext(ctx, `
		INSERT INTO invoices
		(account_id, date, description, number, amount, iva_percent, iva_amount,
		 iibb_percent, iibb_amount, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.AccountID, formatDate(inv.Date), inv.Description, inv.Number,
		inv.Amount.String(), inv.IVAPercent.String(), inv.IVAAmount.String(),
		inv.IIBBPercent.String(), inv.IIBBAmount.String(), string(inv.Type),
		formatTime(inv.CreatedAt),
	)
	if err != nil {
		return mapWriteError("create invoice", err)
	}
	inv.ID, err = res.LastInsertId()
	return err
}

func (ts *txStore) UpdateInvoice(ctx context.Context, inv ledger.Invoice) error {
	res, err := ts.q.ExecContext(ctx, `
		UPDATE invoices
		SET account_id = ?, date = ?, description = ?, number = ?, amount = ?,
		    iva_percent = ?, iva_amount = ?, iibb_percent = ?, iibb_amount = ?, type = ?
		WHERE id = ?`,
		inv.AccountID, formatDate(inv.Date), inv.Description, inv.Number,
		inv.Amount.String(), inv.IVAPercent.String(), inv.IVAAmount.String(),
		inv.IIBBPercent.String(), inv.IIBBAmount.String(), string(inv.Type), inv.ID,
	)
	if err != nil {
		return mapWriteError("update invoice", err)
	}
	return requireRow(res, ledger.ErrInvoiceNotFound)
}

func (ts *txStore) DeleteInvoice(ctx context.Context, id int64) error {
	res, err := ts.q.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id)
	if err != nil {
		return mapWriteError("delete invoice", err)
	}
	return requireRow(res, ledger.ErrInvoiceNotFound)
}

func scanInvoice(row rowScanner) (*ledger.Invoice, error) {
	var (
		inv                                          ledger.Invoice
		date, amount, ivaPct, ivaAmt, iibbPct, iibbAmt string
		typ, createdAt                               string
	)
	if err := row.Scan(&inv.ID, &inv.AccountID, &date, &inv.Description, &inv.Number,
		&amount, &ivaPct, &ivaAmt, &iibbPct, &iibbAmt, &typ, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if inv.Date, err = parseDate(date); err != nil {
		return nil, err
	}
	if inv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&inv.Amount, amount},
		{&inv.IVAPercent, ivaPct},
		{&inv.IVAAmount, ivaAmt},
		{&inv.IIBBPercent, iibbPct},
		{&inv.IIBBAmount, iibbAmt},
	} {
		if *f.dst, err = parseDecimal(f.src); err != nil {
			return nil, err
		}
	}
	inv.Type = ledger.InvoiceType(typ)
	return &inv, nil
}

// =============================================================================
// ACCOUNT CYCLES
// =============================================================================

const cycleColumns = `id, account_id, closed_at, opening_balance_snapshot, income_snapshot,
	expense_snapshot, balance_snapshot, inkwell_income_snapshot, inkwell_expense_snapshot,
	inkwell_available_snapshot, iva_purchases_snapshot, iva_sales_snapshot, iibb_snapshot, created_at`

func (r reader) LastCycle(ctx context.Context, accountID int64) (*ledger.AccountCycle, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM account_cycles
		WHERE account_id = ? ORDER BY closed_at DESC, id DESC LIMIT 1`, accountID)
	c, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r reader) CycleClosedIn(ctx context.Context, accountID int64, from, to time.Time) (*ledger.AccountCycle, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM account_cycles
		WHERE account_id = ? AND closed_at >= ? AND closed_at < ?
		ORDER BY closed_at DESC, id DESC LIMIT 1`,
		accountID, formatTime(from), formatTime(to))
	c, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r reader) ListCycles(ctx context.Context, accountID int64) ([]ledger.AccountCycle, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+cycleColumns+` FROM account_cycles
		WHERE account_id = ? ORDER BY closed_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	var out []ledger.AccountCycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (ts *txStore) CreateCycle(ctx context.Context, c *ledger.AccountCycle) error {
	res, err := ts.q.ExecContext(ctx, `
		INSERT INTO account_cycles
		(account_id, closed_at, opening_balance_snapshot, income_snapshot, expense_snapshot,
		 balance_snapshot, inkwell_income_snapshot, inkwell_expense_snapshot,
		 inkwell_available_snapshot, iva_purchases_snapshot, iva_sales_snapshot, iibb_snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.AccountID, formatTime(c.ClosedAt),
		c.OpeningBalanceSnapshot.String(), c.IncomeSnapshot.String(), c.ExpenseSnapshot.String(),
		c.BalanceSnapshot.String(), c.InkwellIncomeSnapshot.String(), c.InkwellExpenseSnapshot.String(),
		c.InkwellAvailableSnapshot.String(), c.IVAPurchasesSnapshot.String(), c.IVASalesSnapshot.String(),
		c.IIBBSnapshot.String(), formatTime(c.CreatedAt),
	)
	if err != nil {
		return mapWriteError("create cycle", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func scanCycle(row rowScanner) (*ledger.AccountCycle, error) {
	var (
		c                   ledger.AccountCycle
		closedAt, createdAt string
		snaps               [10]string
	)
	if err := row.Scan(&c.ID, &c.AccountID, &closedAt,
		&snaps[0], &snaps[1], &snaps[2], &snaps[3], &snaps[4],
		&snaps[5], &snaps[6], &snaps[7], &snaps[8], &snaps[9], &createdAt); err != nil {
		return nil, err
	}

	var err error
	if c.ClosedAt, err = parseTime(closedAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	dsts := []*decimal.Decimal{
		&c.OpeningBalanceSnapshot, &c.IncomeSnapshot, &c.ExpenseSnapshot, &c.BalanceSnapshot,
		&c.InkwellIncomeSnapshot, &c.InkwellExpenseSnapshot, &c.InkwellAvailableSnapshot,
		&c.IVAPurchasesSnapshot, &c.IVASalesSnapshot, &c.IIBBSnapshot,
	}
	for i, dst := range dsts {
		if *dst, err = parseDecimal(snaps[i]); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
