package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangePayload is one of MovementCreated, MovementUpdated or MovementDeleted.
type ChangePayload interface {
	changePayload()
}

type MovementCreated struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
}

type MovementUpdated struct {
	ID                  int64  `json:"id"`
	Description         string `json:"description"`
	PreviousDescription string `json:"previous_description"`
}

// MovementDeleted keeps the last description so consumers can still label it.
type MovementDeleted struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Deleted     bool   `json:"deleted"`
}

func (MovementCreated) changePayload() {}
func (MovementUpdated) changePayload() {}
func (MovementDeleted) changePayload() {}

// Change is one row of the exportable movement change log.
type Change struct {
	ID         int64
	MovementID *int64
	Event      Type
	OccurredAt time.Time
	Payload    ChangePayload
}

// EncodeChangePayload serializes a payload after checking it agrees with
// the event type.
func EncodeChangePayload(event Type, p ChangePayload) ([]byte, error) {
	var want Type
	switch p.(type) {
	case MovementCreated:
		want = Created
	case MovementUpdated:
		want = Updated
	case MovementDeleted:
		want = Deleted
	default:
		return nil, fmt.Errorf("unsupported change payload %T", p)
	}
	if event != want {
		return nil, fmt.Errorf("%s change event cannot carry %T", event, p)
	}
	return json.Marshal(p)
}

// DecodeChangePayload parses a stored payload according to its event type.
func DecodeChangePayload(event Type, raw []byte) (ChangePayload, error) {
	var (
		p   ChangePayload
		err error
	)
	switch event {
	case Created:
		var v MovementCreated
		err = json.Unmarshal(raw, &v)
		p = v
	case Updated:
		var v MovementUpdated
		err = json.Unmarshal(raw, &v)
		p = v
	case Deleted:
		var v MovementDeleted
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, &UnknownTypeError{Log: MovementChanges, Event: event}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s change payload: %w", event, err)
	}
	return p, nil
}
