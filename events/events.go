/*
Package events defines the two append-only logs consumed by the Inkwell
billing sync.

PURPOSE:
  Mutations of billing-account transactions and of exportable movements are
  recorded as ordered events in the same database transaction as the write
  itself. A consumer replays them in id order and acknowledges a checkpoint.

LOGS:
  billing_transactions:         TransactionEvent rows, never pruned
  exportable_movement_changes:  Change rows, pruned up to the acknowledged id

PAYLOADS:
  Payloads are tagged unions keyed by the event type:

    TransactionEvent: created/updated -> TransactionSnapshot
                      deleted         -> Tombstone
    Change:           created -> MovementCreated
                      updated -> MovementUpdated
                      deleted -> MovementDeleted

  Decode* functions switch on the event type, so a consumer never has to
  sniff payload fields to learn what happened.

SEE ALSO:
  - billing/feed.go: Reads and acknowledges both logs
  - billing/writer.go: Emits events alongside mutations
  - store/sqlite/events.go: Persistence
*/
package events

import (
	"fmt"
	"time"
)

// Type is the kind of mutation an event records.
type Type string

const (
	Created Type = "created"
	Updated Type = "updated"
	Deleted Type = "deleted"
)

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	switch t {
	case Created, Updated, Deleted:
		return true
	}
	return false
}

// LogName identifies an event log and its checkpoint row.
type LogName string

const (
	BillingTransactions LogName = "billing_transactions"
	MovementChanges     LogName = "exportable_movement_changes"
)

// Checkpoint is the last event id a consumer acknowledged for one log.
// A zero LastID means nothing has been acknowledged yet.
type Checkpoint struct {
	Log       LogName
	LastID    int64
	UpdatedAt time.Time
}

// UnknownTypeError is returned when a stored event carries a type this
// build does not know how to decode.
type UnknownTypeError struct {
	Log   LogName
	Event Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown %s event type %q", e.Log, e.Event)
}
