package engine

import (
	"slices"

	"github.com/roach88/posture/internal/ir"
)

// WitnessChange asks the state machine to add or remove one lock witness
// as part of a transition.
type WitnessChange struct {
	Op ir.WitnessOp
	ID string
}

// TransitionRequest is the only way to change zone state.
type TransitionRequest struct {
	To      ir.Zone
	Reason  string
	Witness *WitnessChange
}

// TransitionResult reports what Apply did. When Accepted is false the zone
// did not change, but a witness removal may still have been committed.
type TransitionResult struct {
	Accepted       bool
	From           ir.Zone
	To             ir.Zone
	WitnessAdded   bool
	WitnessRemoved bool
	Unlocked       bool // the removal emptied the witness set
	Locked         bool // the lock is held after Apply
}

// ZoneState is the zone state machine: current zone, the lock bit and the
// witnesses holding the lock.
//
// Invariants, maintained by Apply:
//   - locked implies witnesses is non-empty
//   - locked implies current is ir.LockZone
//
// ZoneState is not safe for concurrent use; the engine owns exactly one and
// only touches it inside its serialized evaluation step.
type ZoneState struct {
	current   ir.Zone
	locked    bool
	witnesses map[string]struct{}
}

// NewZoneState returns the initial state: Normal, unlocked, no witnesses.
func NewZoneState() *ZoneState {
	return &ZoneState{
		current:   ir.ZoneNormal,
		witnesses: make(map[string]struct{}),
	}
}

// Current returns the current zone.
func (s *ZoneState) Current() ir.Zone { return s.current }

// Locked reports whether the lock is held.
func (s *ZoneState) Locked() bool { return s.locked }

// Witnesses returns the lock witnesses in sorted order.
func (s *ZoneState) Witnesses() []string {
	out := make([]string, 0, len(s.witnesses))
	for id := range s.witnesses {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Apply performs one transition request atomically.
//
// Witness removal happens first. If it empties the witness set the lock is
// cleared, and the exit carried by the same request is then allowed. A
// request to leave the lock zone while the lock is still held is rejected.
// A witness is added only once the transition into the lock zone has been
// accepted.
func (s *ZoneState) Apply(req TransitionRequest) TransitionResult {
	res := TransitionResult{From: s.current, To: req.To}

	if w := req.Witness; w != nil && w.Op == ir.WitnessRemove && w.ID != "" {
		if _, ok := s.witnesses[w.ID]; ok {
			delete(s.witnesses, w.ID)
			res.WitnessRemoved = true
		}
		if s.locked && len(s.witnesses) == 0 {
			s.locked = false
			res.Unlocked = true
		}
	}

	if s.locked && s.current == ir.LockZone && req.To != s.current {
		res.Locked = true
		return res
	}

	s.current = req.To
	res.Accepted = true

	if w := req.Witness; w != nil && w.Op == ir.WitnessAdd && w.ID != "" && req.To == ir.LockZone {
		if _, ok := s.witnesses[w.ID]; !ok {
			s.witnesses[w.ID] = struct{}{}
			res.WitnessAdded = true
		}
		s.locked = true
	}

	res.Locked = s.locked
	return res
}
