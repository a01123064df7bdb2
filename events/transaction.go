package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// TransactionPayload is either a TransactionSnapshot or a Tombstone.
type TransactionPayload interface {
	transactionPayload()
}

// TransactionSnapshot is the full state of a transaction at emission time.
// Amount is an exact decimal rendered with two fraction digits.
type TransactionSnapshot struct {
	ID                   int64  `json:"id"`
	AccountID            int64  `json:"account_id"`
	Date                 string `json:"date"`
	Description          string `json:"description"`
	Amount               string `json:"amount"`
	Notes                string `json:"notes,omitempty"`
	ExportableMovementID *int64 `json:"exportable_movement_id"`
	IsCustomInkwell      bool   `json:"is_custom_inkwell"`
}

// Tombstone marks a deleted transaction.
type Tombstone struct {
	ID int64 `json:"id"`
}

func (TransactionSnapshot) transactionPayload() {}
func (Tombstone) transactionPayload()           {}

// TransactionEvent is one row of the billing transaction log.
// TransactionID keeps the original id after the transaction row is
// deleted, tombstones included.
type TransactionEvent struct {
	ID            int64
	TransactionID *int64
	AccountID     int64
	Event         Type
	OccurredAt    time.Time
	Payload       TransactionPayload
}

// Snapshot returns the payload as a snapshot, or nil for tombstones.
func (e TransactionEvent) Snapshot() *TransactionSnapshot {
	if s, ok := e.Payload.(TransactionSnapshot); ok {
		return &s
	}
	return nil
}

// EncodeTransactionPayload serializes a payload after checking it agrees
// with the event type.
func EncodeTransactionPayload(event Type, p TransactionPayload) ([]byte, error) {
	switch p.(type) {
	case TransactionSnapshot:
		if event == Deleted {
			return nil, fmt.Errorf("deleted transaction event requires a tombstone payload")
		}
	case Tombstone:
		if event != Deleted {
			return nil, fmt.Errorf("%s transaction event requires a snapshot payload", event)
		}
	default:
		return nil, fmt.Errorf("unsupported transaction payload %T", p)
	}
	return json.Marshal(p)
}

// DecodeTransactionPayload parses a stored payload according to its event type.
func DecodeTransactionPayload(event Type, raw []byte) (TransactionPayload, error) {
	switch event {
	case Created, Updated:
		var s TransactionSnapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode transaction snapshot: %w", err)
		}
		return s, nil
	case Deleted:
		var t Tombstone
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("decode tombstone: %w", err)
		}
		return t, nil
	}
	return nil, &UnknownTypeError{Log: BillingTransactions, Event: event}
}
