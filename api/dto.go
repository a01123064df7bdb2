/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model (ledger, events, notify) from the wire contract consumed
  by the web UI and by Inkwell.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Ledger:
    AccountDTO, AccountRequest, AccountBalanceDTO, BalanceDTO, SummaryDTO,
    TransactionDTO, TransactionRequest, RunningTransactionDTO,
    MovementDTO, MovementRequest, InvoiceDTO, InvoiceRequest, CycleDTO

  Billing sync:
    BillingSyncResponse, TransactionEventDTO, ChangeDTO,
    BillingAckRequest, BillingAckResponse,
    ChangesResponse, ChangesAckRequest, ChangesStateResponse

  Notifications:
    NotificationDTO, NotificationListResponse, NotificationAckRequest

MONEY AND DATES:
  Amounts are rendered as strings with two fraction digits and accepted as
  either JSON numbers or strings (shopspring/decimal). Calendar dates are
  YYYY-MM-DD, timestamps RFC 3339 in UTC.

VALIDATION:
  Request types carry go-playground/validator tags. Business rules that need
  the database (billing account, movement existence) live in the services.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/movimientos/billing"
	"github.com/warp/movimientos/events"
	"github.com/warp/movimientos/ledger"
	"github.com/warp/movimientos/notify"
)

// =============================================================================
// ACCOUNT DTOs
// =============================================================================

// AccountDTO is the response format for an account.
type AccountDTO struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	OpeningBalance string `json:"opening_balance"`
	Currency       string `json:"currency"`
	Color          string `json:"color"`
	IsActive       bool   `json:"is_active"`
	IsBilling      bool   `json:"is_billing"`
}

// AccountRequest is the request body for creating or updating an account.
// IsActive defaults to true when omitted.
type AccountRequest struct {
	Name           string           `json:"name" validate:"required,max=100"`
	OpeningBalance *decimal.Decimal `json:"opening_balance"`
	Currency       string           `json:"currency" validate:"required,oneof=ARS USD"`
	Color          string           `json:"color" validate:"omitempty,hexcolor"`
	IsActive       *bool            `json:"is_active"`
	IsBilling      bool             `json:"is_billing"`
}

func (req AccountRequest) input() ledger.AccountInput {
	in := ledger.AccountInput{
		Name:      req.Name,
		Currency:  ledger.Currency(req.Currency),
		Color:     req.Color,
		IsActive:  true,
		IsBilling: req.IsBilling,
	}
	if req.OpeningBalance != nil {
		in.OpeningBalance = *req.OpeningBalance
	}
	if req.IsActive != nil {
		in.IsActive = *req.IsActive
	}
	return in
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:             a.ID,
		Name:           a.Name,
		OpeningBalance: ledger.FormatMoney(a.OpeningBalance),
		Currency:       string(a.Currency),
		Color:          a.Color,
		IsActive:       a.IsActive,
		IsBilling:      a.IsBilling,
	}
}

// AccountBalanceDTO is one row of GET /accounts/balances.
type AccountBalanceDTO struct {
	AccountID int64  `json:"account_id"`
	Name      string `json:"name"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Color     string `json:"color"`
}

// BalanceDTO is the response of GET /accounts/{id}/balance.
type BalanceDTO struct {
	Balance string `json:"balance"`
}

// SummaryDTO holds the current-cycle figures of one account.
// Tax fields are null unless the account is the billing account.
type SummaryDTO struct {
	AccountID      int64      `json:"account_id"`
	IsBilling      bool       `json:"is_billing"`
	CycleStart     time.Time  `json:"cycle_start"`
	LastClosedAt   *time.Time `json:"last_closed_at"`
	OpeningBalance string     `json:"opening_balance"`
	IncomeBalance  string     `json:"income_balance"`
	ExpenseBalance string     `json:"expense_balance"`
	Balance        string     `json:"balance"`

	IVAPurchases     *string `json:"iva_purchases"`
	IVASales         *string `json:"iva_sales"`
	IIBB             *string `json:"iibb"`
	InkwellIncome    *string `json:"inkwell_income"`
	InkwellExpense   *string `json:"inkwell_expense"`
	InkwellAvailable *string `json:"inkwell_available"`
}

func toSummaryDTO(s ledger.Summary) SummaryDTO {
	dto := SummaryDTO{
		AccountID:      s.AccountID,
		IsBilling:      s.IsBilling,
		CycleStart:     s.WindowStart.UTC(),
		OpeningBalance: ledger.FormatMoney(s.OpeningBalance),
		IncomeBalance:  ledger.FormatMoney(s.Income),
		ExpenseBalance: ledger.FormatMoney(s.Expense),
		Balance:        ledger.FormatMoney(s.Balance),
	}
	if s.LastCycle != nil {
		closed := s.LastCycle.ClosedAt.UTC()
		dto.LastClosedAt = &closed
	}
	if s.IsBilling {
		dto.IVAPurchases = money(s.IVAPurchases)
		dto.IVASales = money(s.IVASales)
		dto.IIBB = money(s.IIBB)
		dto.InkwellIncome = money(s.InkwellIncome)
		dto.InkwellExpense = money(s.InkwellExpense)
		dto.InkwellAvailable = money(s.InkwellAvailable)
	}
	return dto
}

// =============================================================================
// TRANSACTION DTOs
// =============================================================================

// TransactionDTO is the response format for a transaction.
type TransactionDTO struct {
	ID                   int64     `json:"id"`
	AccountID            int64     `json:"account_id"`
	Date                 string    `json:"date"`
	Description          string    `json:"description"`
	Amount               string    `json:"amount"`
	Notes                string    `json:"notes"`
	ExportableMovementID *int64    `json:"exportable_movement_id"`
	IsCustomInkwell      bool      `json:"is_custom_inkwell"`
	CreatedAt            time.Time `json:"created_at"`
}

// RunningTransactionDTO adds the balance right after the transaction.
type RunningTransactionDTO struct {
	TransactionDTO
	RunningBalance string `json:"running_balance"`
}

// TransactionRequest is the request body for creating or updating a transaction.
type TransactionRequest struct {
	AccountID            int64            `json:"account_id" validate:"required,gt=0"`
	Date                 string           `json:"date" validate:"required,datetime=2006-01-02"`
	Description          string           `json:"description" validate:"max=255"`
	Amount               *decimal.Decimal `json:"amount" validate:"required"`
	Notes                string           `json:"notes" validate:"max=1000"`
	ExportableMovementID *int64           `json:"exportable_movement_id" validate:"omitempty,gt=0"`
	IsCustomInkwell      bool             `json:"is_custom_inkwell"`
}

func (req TransactionRequest) input() (billing.TransactionInput, error) {
	date, err := ledger.ParseDate("date", req.Date)
	if err != nil {
		return billing.TransactionInput{}, err
	}
	return billing.TransactionInput{
		AccountID:            req.AccountID,
		Date:                 date,
		Description:          req.Description,
		Amount:               *req.Amount,
		Notes:                req.Notes,
		ExportableMovementID: req.ExportableMovementID,
		IsCustomInkwell:      req.IsCustomInkwell,
	}, nil
}

func toTransactionDTO(t ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:                   t.ID,
		AccountID:            t.AccountID,
		Date:                 t.Date.Format(ledger.DateLayout),
		Description:          t.Description,
		Amount:               ledger.FormatMoney(t.Amount),
		Notes:                t.Notes,
		ExportableMovementID: t.ExportableMovementID,
		IsCustomInkwell:      t.IsCustomInkwell,
		CreatedAt:            t.CreatedAt.UTC(),
	}
}

// =============================================================================
// MOVEMENT DTOs
// =============================================================================

// MovementDTO is the response format for an exportable movement.
type MovementDTO struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
}

// MovementRequest is the request body for creating or renaming a movement.
type MovementRequest struct {
	Description string `json:"description" validate:"required,max=255"`
}

func toMovementDTO(m ledger.ExportableMovement) MovementDTO {
	return MovementDTO{ID: m.ID, Description: m.Description}
}

// =============================================================================
// INVOICE DTOs
// =============================================================================

// InvoiceDTO is the response format for an invoice.
type InvoiceDTO struct {
	ID          int64  `json:"id"`
	AccountID   int64  `json:"account_id"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Number      string `json:"number"`
	Amount      string `json:"amount"`
	IVAPercent  string `json:"iva_percent"`
	IVAAmount   string `json:"iva_amount"`
	IIBBPercent string `json:"iibb_percent"`
	IIBBAmount  string `json:"iibb_amount"`
	Type        string `json:"type"`
}

// InvoiceRequest is the request body for creating or updating an invoice.
// Omitted percents take the defaults (21% IVA, 3% IIBB).
type InvoiceRequest struct {
	AccountID   int64            `json:"account_id" validate:"required,gt=0"`
	Date        string           `json:"date" validate:"required,datetime=2006-01-02"`
	Description string           `json:"description" validate:"max=255"`
	Number      string           `json:"number" validate:"required,max=50"`
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	IVAPercent  *decimal.Decimal `json:"iva_percent"`
	IIBBPercent *decimal.Decimal `json:"iibb_percent"`
	Type        string           `json:"type" validate:"required,oneof=purchase sale"`
}

func (req InvoiceRequest) input() (ledger.InvoiceInput, error) {
	date, err := ledger.ParseDate("date", req.Date)
	if err != nil {
		return ledger.InvoiceInput{}, err
	}
	return ledger.InvoiceInput{
		AccountID:   req.AccountID,
		Date:        date,
		Description: req.Description,
		Number:      req.Number,
		Amount:      *req.Amount,
		IVAPercent:  req.IVAPercent,
		IIBBPercent: req.IIBBPercent,
		Type:        ledger.InvoiceType(req.Type),
	}, nil
}

func toInvoiceDTO(inv ledger.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:          inv.ID,
		AccountID:   inv.AccountID,
		Date:        inv.Date.Format(ledger.DateLayout),
		Description: inv.Description,
		Number:      inv.Number,
		Amount:      ledger.FormatMoney(inv.Amount),
		IVAPercent:  ledger.FormatMoney(inv.IVAPercent),
		IVAAmount:   ledger.FormatMoney(inv.IVAAmount),
		IIBBPercent: ledger.FormatMoney(inv.IIBBPercent),
		IIBBAmount:  ledger.FormatMoney(inv.IIBBAmount),
		Type:        string(inv.Type),
	}
}

// =============================================================================
// CYCLE DTOs
// =============================================================================

// CycleDTO is an immutable cycle snapshot.
type CycleDTO struct {
	ID                       int64     `json:"id"`
	AccountID                int64     `json:"account_id"`
	ClosedAt                 time.Time `json:"closed_at"`
	OpeningBalanceSnapshot   string    `json:"opening_balance_snapshot"`
	IncomeSnapshot           string    `json:"income_snapshot"`
	ExpenseSnapshot          string    `json:"expense_snapshot"`
	BalanceSnapshot          string    `json:"balance_snapshot"`
	InkwellIncomeSnapshot    string    `json:"inkwell_income_snapshot"`
	InkwellExpenseSnapshot   string    `json:"inkwell_expense_snapshot"`
	InkwellAvailableSnapshot string    `json:"inkwell_available_snapshot"`
	IVAPurchasesSnapshot     string    `json:"iva_purchases_snapshot"`
	IVASalesSnapshot         string    `json:"iva_sales_snapshot"`
	IIBBSnapshot             string    `json:"iibb_snapshot"`
	CreatedAt                time.Time `json:"created_at"`
}

// CyclesResponse wraps the cycle list.
type CyclesResponse struct {
	Items []CycleDTO `json:"items"`
}

func toCycleDTO(c ledger.AccountCycle) CycleDTO {
	return CycleDTO{
		ID:                       c.ID,
		AccountID:                c.AccountID,
		ClosedAt:                 c.ClosedAt.UTC(),
		OpeningBalanceSnapshot:   ledger.FormatMoney(c.OpeningBalanceSnapshot),
		IncomeSnapshot:           ledger.FormatMoney(c.IncomeSnapshot),
		ExpenseSnapshot:          ledger.FormatMoney(c.ExpenseSnapshot),
		BalanceSnapshot:          ledger.FormatMoney(c.BalanceSnapshot),
		InkwellIncomeSnapshot:    ledger.FormatMoney(c.InkwellIncomeSnapshot),
		InkwellExpenseSnapshot:   ledger.FormatMoney(c.InkwellExpenseSnapshot),
		InkwellAvailableSnapshot: ledger.FormatMoney(c.InkwellAvailableSnapshot),
		IVAPurchasesSnapshot:     ledger.FormatMoney(c.IVAPurchasesSnapshot),
		IVASalesSnapshot:         ledger.FormatMoney(c.IVASalesSnapshot),
		IIBBSnapshot:             ledger.FormatMoney(c.IIBBSnapshot),
		CreatedAt:                c.CreatedAt.UTC(),
	}
}

// =============================================================================
// BILLING SYNC DTOs
// =============================================================================

// BillingSyncResponse is one read of both sync logs.
type BillingSyncResponse struct {
	CycleStartDate       *string    `json:"cycle_start_date"`
	LastClosedAt         *time.Time `json:"last_closed_at"`
	PreviousCycleBalance *string    `json:"previous_cycle_balance"`

	LastConfirmedTransactionID int64                        `json:"last_confirmed_transaction_id"`
	TransactionsCheckpointID   int64                        `json:"transactions_checkpoint_id"`
	HasMoreTransactions        bool                         `json:"has_more_transactions"`
	Transactions               []events.TransactionSnapshot `json:"transactions"`
	ActiveTransactionsInBatch  []events.TransactionSnapshot `json:"active_transactions_in_batch"`
	TransactionEvents          []TransactionEventDTO        `json:"transaction_events"`

	LastConfirmedChangeID int64       `json:"last_confirmed_change_id"`
	ChangesCheckpointID   int64       `json:"changes_checkpoint_id"`
	HasMoreChanges        bool        `json:"has_more_changes"`
	Changes               []ChangeDTO `json:"changes"`
}

// TransactionEventDTO is one transaction log entry. Transaction is null for
// deleted events; TransactionID stays populated.
type TransactionEventDTO struct {
	ID            int64                       `json:"id"`
	Event         string                      `json:"event"`
	OccurredAt    time.Time                   `json:"occurred_at"`
	TransactionID *int64                      `json:"transaction_id"`
	Transaction   *events.TransactionSnapshot `json:"transaction"`
}

// ChangeDTO is one exportable movement change.
type ChangeDTO struct {
	ID         int64                `json:"id"`
	MovementID *int64               `json:"movement_id"`
	Event      string               `json:"event"`
	OccurredAt time.Time            `json:"occurred_at"`
	Payload    events.ChangePayload `json:"payload"`
}

// BillingAckRequest confirms both checkpoints.
type BillingAckRequest struct {
	MovementsCheckpointID *int64 `json:"movements_checkpoint_id" validate:"required"`
	ChangesCheckpointID   *int64 `json:"changes_checkpoint_id" validate:"required"`
}

// BillingAckResponse is the persisted state after an acknowledgement.
type BillingAckResponse struct {
	LastTransactionID     int64     `json:"last_transaction_id"`
	LastChangeID          int64     `json:"last_change_id"`
	TransactionsUpdatedAt time.Time `json:"transactions_updated_at"`
	ChangesUpdatedAt      time.Time `json:"changes_updated_at"`
}

// ChangesResponse is one read of the change log alone.
type ChangesResponse struct {
	LastConfirmedChangeID int64       `json:"last_confirmed_change_id"`
	ChangesCheckpointID   int64       `json:"changes_checkpoint_id"`
	HasMoreChanges        bool        `json:"has_more_changes"`
	Changes               []ChangeDTO `json:"changes"`
}

// ChangesAckRequest confirms the change log checkpoint.
type ChangesAckRequest struct {
	CheckpointID *int64 `json:"checkpoint_id" validate:"required"`
}

// ChangesStateResponse is the persisted change checkpoint.
type ChangesStateResponse struct {
	LastChangeID int64     `json:"last_change_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toBillingSyncResponse(p billing.Page) BillingSyncResponse {
	resp := BillingSyncResponse{
		LastClosedAt:               p.LastClosedAt,
		LastConfirmedTransactionID: p.LastConfirmedTransactionID,
		TransactionsCheckpointID:   p.TransactionsCheckpointID,
		HasMoreTransactions:        p.HasMoreTransactions,
		Transactions:               p.Transactions,
		ActiveTransactionsInBatch:  p.Transactions,
		TransactionEvents:          make([]TransactionEventDTO, len(p.TransactionEvents)),
		LastConfirmedChangeID:      p.LastConfirmedChangeID,
		ChangesCheckpointID:        p.ChangesCheckpointID,
		HasMoreChanges:             p.HasMoreChanges,
		Changes:                    toChangeDTOs(p.Changes),
	}
	if p.CycleStartDate != nil {
		s := p.CycleStartDate.Format(ledger.DateLayout)
		resp.CycleStartDate = &s
	}
	if p.PreviousCycleBalance != nil {
		resp.PreviousCycleBalance = money(*p.PreviousCycleBalance)
	}
	if resp.Transactions == nil {
		resp.Transactions = []events.TransactionSnapshot{}
		resp.ActiveTransactionsInBatch = resp.Transactions
	}
	for i, e := range p.TransactionEvents {
		resp.TransactionEvents[i] = TransactionEventDTO{
			ID:            e.ID,
			Event:         string(e.Event),
			OccurredAt:    e.OccurredAt.UTC(),
			TransactionID: e.TransactionID,
			Transaction:   e.Snapshot(),
		}
	}
	return resp
}

func toChangeDTOs(changes []events.Change) []ChangeDTO {
	out := make([]ChangeDTO, len(changes))
	for i, c := range changes {
		out[i] = ChangeDTO{
			ID:         c.ID,
			MovementID: c.MovementID,
			Event:      string(c.Event),
			OccurredAt: c.OccurredAt.UTC(),
			Payload:    c.Payload,
		}
	}
	return out
}

// =============================================================================
// NOTIFICATION DTOs
// =============================================================================

// NotificationDTO is the response format for an inbound notification.
type NotificationDTO struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Deeplink   string         `json:"deeplink,omitempty"`
	Topic      string         `json:"topic,omitempty"`
	Priority   string         `json:"priority"`
	OccurredAt time.Time      `json:"occurred_at"`
	Status     string         `json:"status"`
	ReadAt     *time.Time     `json:"read_at"`
	Variables  map[string]any `json:"variables,omitempty"`
	SourceApp  string         `json:"source_app"`
}

// NotificationListResponse is one page of notifications.
type NotificationListResponse struct {
	Items       []NotificationDTO `json:"items"`
	Cursor      *string           `json:"cursor"`
	UnreadCount *int              `json:"unread_count"`
}

// NotificationAckRequest is the unsigned POST /notificaciones body.
type NotificationAckRequest struct {
	Action string `json:"action" validate:"required,eq=ack"`
	ID     string `json:"id" validate:"required"`
}

// NotificationAcceptedResponse answers an accepted inbound notification.
type NotificationAcceptedResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
	Dedup  bool   `json:"dedup"`
}

func toNotificationListResponse(p notify.Page) NotificationListResponse {
	resp := NotificationListResponse{
		Items:       make([]NotificationDTO, len(p.Items)),
		UnreadCount: p.UnreadCount,
	}
	if p.Cursor != "" {
		c := p.Cursor
		resp.Cursor = &c
	}
	for i, n := range p.Items {
		resp.Items[i] = NotificationDTO{
			ID:         n.ID,
			Type:       n.Type,
			Title:      n.Title,
			Body:       n.Body,
			Deeplink:   n.Deeplink,
			Topic:      n.Topic,
			Priority:   n.Priority,
			OccurredAt: n.OccurredAt.UTC(),
			Status:     string(n.Status),
			ReadAt:     n.ReadAt,
			Variables:  n.Variables,
			SourceApp:  n.SourceApp,
		}
	}
	return resp
}

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// FieldError is one rejected request field, listed in ErrorResponse.Details.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// OKResponse is returned by soft deletes.
type OKResponse struct {
	OK bool `json:"ok"`
}

func money(d decimal.Decimal) *string {
	s := ledger.FormatMoney(d)
	return &s
}
