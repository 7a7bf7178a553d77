package ir

import (
	"encoding/json"
	"fmt"
)

// Event is an observation submitted by an observer or an operator.
// Events are immutable once constructed: NewEvent copies the payload.
type Event struct {
	Trigger string
	Payload Object
}

// NewEvent builds an event with a private copy of payload.
func NewEvent(trigger string, payload Object) Event {
	if payload == nil {
		payload = Object{}
	}
	return Event{Trigger: trigger, Payload: payload.Clone()}
}

// MarshalJSON renders the flat wire form {"trigger": ..., ...payload}.
func (e Event) MarshalJSON() ([]byte, error) {
	flat := make(Object, len(e.Payload)+1)
	for k, v := range e.Payload {
		flat[k] = v
	}
	flat["trigger"] = String(e.Trigger)
	return flat.MarshalJSON()
}

// UnmarshalJSON parses the flat wire form. The trigger must be a non-empty string.
func (e *Event) UnmarshalJSON(data []byte) error {
	obj, err := DecodeObject(data)
	if err != nil {
		return err
	}
	ev, err := EventFromObject(obj)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}

// EventFromObject splits a decoded wire object into trigger and payload.
func EventFromObject(obj Object) (Event, error) {
	raw, ok := obj["trigger"]
	if !ok {
		return Event{}, fmt.Errorf("missing \"trigger\" field")
	}
	trigger, ok := raw.(String)
	if !ok {
		return Event{}, fmt.Errorf("\"trigger\" must be a string")
	}
	if trigger == "" {
		return Event{}, fmt.Errorf("\"trigger\" must not be empty")
	}

	payload := make(Object, len(obj)-1)
	for k, v := range obj {
		if k != "trigger" {
			payload[k] = v
		}
	}
	return Event{Trigger: string(trigger), Payload: payload}, nil
}

var _ json.Marshaler = Event{}
