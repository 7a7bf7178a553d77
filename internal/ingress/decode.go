package ingress

import (
	"bytes"
	"errors"

	"github.com/roach88/posture/internal/engine"
	"github.com/roach88/posture/internal/ir"
)

// Decode parses one wire event. Failures are *engine.Error values with
// code MALFORMED_EVENT.
func Decode(data []byte) (ir.Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ir.Event{}, engine.NewMalformedEventError(errEmpty)
	}

	obj, err := ir.DecodeObject(data)
	if err != nil {
		return ir.Event{}, engine.NewMalformedEventError(err)
	}
	ev, err := ir.EventFromObject(obj)
	if err != nil {
		return ir.Event{}, engine.NewMalformedEventError(err)
	}
	return ev, nil
}

var errEmpty = errors.New("empty message")
