package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/posture/internal/ir"
)

// marshalConditions serializes edge conditions to canonical JSON.
// An empty or nil map is stored as "{}".
func marshalConditions(conditions map[string]any) (string, error) {
	obj, err := ir.ObjectFromMap(conditions)
	if err != nil {
		return "", fmt.Errorf("marshal conditions: %w", err)
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal conditions: %w", err)
	}
	return string(data), nil
}

// unmarshalConditions restores conditions as plain Go values. An empty
// object yields nil so documents round-trip without an empty key.
func unmarshalConditions(data string) (map[string]any, error) {
	obj, err := ir.DecodeObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal conditions: %w", err)
	}
	if len(obj) == 0 {
		return nil, nil
	}
	return ir.ToAny(obj).(map[string]any), nil
}

func marshalActions(actions []string) (string, error) {
	if actions == nil {
		actions = []string{}
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return "", fmt.Errorf("marshal actions: %w", err)
	}
	return string(data), nil
}

func unmarshalActions(data string) ([]string, error) {
	var actions []string
	if err := json.Unmarshal([]byte(data), &actions); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	if len(actions) == 0 {
		return nil, nil
	}
	return actions, nil
}
