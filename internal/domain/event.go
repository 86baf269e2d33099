package domain

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is a row-level change of one seat, as carried by the realtime feed.
type ChangeEvent struct {
	Type EventType `json:"eventType"`
	New  *Seat     `json:"new"`
	Old  *Seat     `json:"old"`
}

func (e ChangeEvent) SeatID() SeatID {
	if e.New != nil {
		return e.New.ID
	}
	if e.Old != nil {
		return e.Old.ID
	}
	return ""
}

func (e ChangeEvent) Validate() error {
	switch e.Type {
	case EventInsert, EventUpdate:
		if e.New == nil || e.New.ID == "" {
			return errors.Wrapf(ErrInvalidInput, "%s event without new record", e.Type)
		}
		if _, err := ParseStatus(string(e.New.Status)); err != nil {
			return err
		}
	case EventDelete:
		if e.SeatID() == "" {
			return errors.Wrap(ErrInvalidInput, "DELETE event without seat id")
		}
	default:
		return errors.Wrapf(ErrInvalidInput, "unknown event type %q", string(e.Type))
	}
	return nil
}

// ParseChangeEvent decodes and validates one feed message.
func ParseChangeEvent(data []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ChangeEvent{}, errors.Wrap(ErrInvalidInput, err.Error())
	}
	if err := ev.Validate(); err != nil {
		return ChangeEvent{}, err
	}
	return ev, nil
}
