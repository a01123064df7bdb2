package api

import (
	"net/http"

	"github.com/warp/movimientos/ledger"
)

const (
	defaultTransactionsLimit = 50
	maxTransactionsLimit     = 500
)

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

// ListAccounts returns accounts ordered by name.
// GET /accounts?include_inactive=true
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	includeInactive, err := queryBool(r, "include_inactive")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	accounts, err := h.Accounts.List(r.Context(), includeInactive)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount creates an account.
// POST /accounts?replace_billing=true
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	replace, err := queryBool(r, "replace_billing")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req AccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, err := h.Accounts.Create(r.Context(), req.input(), replace)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// UpdateAccount replaces the writable fields of an account.
// PUT /accounts/{id}?replace_billing=true
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	replace, err := queryBool(r, "replace_billing")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req AccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, err := h.Accounts.Update(r.Context(), id, req.input(), replace)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// DeleteAccount deactivates an account. Its history is kept.
// DELETE /accounts/{id}
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.Accounts.Deactivate(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// =============================================================================
// BALANCE AND CYCLE ENDPOINTS
// =============================================================================

// ListBalances reports every active account, the billing account net of taxes.
// GET /accounts/balances?to_date=YYYY-MM-DD
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	asOf, err := queryDate(r, "to_date")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	rows, err := ledger.Balances(r.Context(), h.Store, asOf)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]AccountBalanceDTO, len(rows))
	for i, row := range rows {
		dtos[i] = AccountBalanceDTO{
			AccountID: row.Account.ID,
			Name:      row.Account.Name,
			Currency:  string(row.Account.Currency),
			Balance:   ledger.FormatMoney(row.Balance),
			Color:     row.Account.Color,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBalance returns the balance of one account up to a date.
// GET /accounts/{id}/balance?to_date=YYYY-MM-DD
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	asOf, err := queryDate(r, "to_date")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	balance, err := ledger.Balance(r.Context(), h.Store, id, asOf)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Balance: ledger.FormatMoney(balance)})
}

// GetSummary returns the current-cycle figures of an account.
// GET /accounts/{id}/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	summary, err := ledger.Summarize(r.Context(), h.Store, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// GetCycleTransactions lists the current-cycle transactions with a running balance.
// GET /accounts/{id}/transactions?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) GetCycleTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	from, err := queryDate(r, "from")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	rows, err := ledger.CycleTransactions(r.Context(), h.Store, id, from, to)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]RunningTransactionDTO, len(rows))
	for i, row := range rows {
		dtos[i] = RunningTransactionDTO{
			TransactionDTO: toTransactionDTO(row.Transaction),
			RunningBalance: ledger.FormatMoney(row.RunningBalance),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CloseCycle snapshots the current cycle and rebases the opening balance.
// A second call within the same hour returns the existing cycle.
// POST /accounts/{id}/close-cycle
func (h *Handler) CloseCycle(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	cycle, _, err := h.Cycles.Close(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCycleDTO(cycle))
}

// ListCycles returns the closed cycles of an account, newest first.
// GET /accounts/{id}/cycles
func (h *Handler) ListCycles(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	cycles, err := h.Cycles.List(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := CyclesResponse{Items: make([]CycleDTO, len(cycles))}
	for i, c := range cycles {
		resp.Items[i] = toCycleDTO(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// TRANSACTION ENDPOINTS
// =============================================================================

// ListTransactions pages through all transactions, newest first.
// GET /transactions?limit&offset
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, "limit", maxTransactionsLimit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if limit == 0 {
		limit = defaultTransactionsLimit
	}
	offset, _, err := queryInt(r, "offset")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if offset < 0 {
		h.writeServiceError(w, r, ledger.Invalid("offset", "must be >= 0"))
		return
	}

	txs, err := h.Store.ListTransactions(r.Context(), limit, int(offset))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, t := range txs {
		dtos[i] = toTransactionDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTransaction records a transaction and its billing event, if any.
// POST /transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	t, err := h.Writer.CreateTransaction(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(t))
}

// UpdateTransaction replaces a transaction.
// PUT /transactions/{id}
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	t, err := h.Writer.UpdateTransaction(r.Context(), id, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(t))
}

// DeleteTransaction removes a transaction. Unknown ids are a no-op.
// DELETE /transactions/{id}
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.Writer.DeleteTransaction(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// EXPORTABLE MOVEMENT ENDPOINTS
// =============================================================================

// ListMovements returns movements ordered by description.
// GET /movimientos_exportables
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.Store.ListMovements(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]MovementDTO, len(movements))
	for i, m := range movements {
		dtos[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMovement adds a movement and records the change.
// POST /movimientos_exportables
func (h *Handler) CreateMovement(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.Writer.CreateMovement(r.Context(), req.Description)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(m))
}

// UpdateMovement renames a movement and records the change.
// PUT /movimientos_exportables/{id}
func (h *Handler) UpdateMovement(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req MovementRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.Writer.UpdateMovement(r.Context(), id, req.Description)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(m))
}

// DeleteMovement removes a movement that no transaction references.
// DELETE /movimientos_exportables/{id}
func (h *Handler) DeleteMovement(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.Writer.DeleteMovement(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// =============================================================================
// INVOICE ENDPOINTS
// =============================================================================

// ListInvoices returns invoices, optionally of one account.
// GET /invoices?account_id
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	var accountID *int64
	if n, ok, err := queryInt(r, "account_id"); err != nil {
		h.writeServiceError(w, r, err)
		return
	} else if ok {
		accountID = &n
	}
	invoices, err := h.Invoices.List(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateInvoice records an invoice with its derived taxes.
// POST /invoices
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req InvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	inv, err := h.Invoices.Create(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// UpdateInvoice replaces an invoice and recomputes its taxes.
// PUT /invoices/{id}
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req InvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	inv, err := h.Invoices.Update(r.Context(), id, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// DeleteInvoice removes an invoice.
// DELETE /invoices/{id}
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.Invoices.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
