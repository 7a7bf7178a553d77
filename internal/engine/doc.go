// Package engine implements the posture policy engine.
//
// The engine receives events from observers, picks at most one rule per
// event, moves the host between zones and hands the rule's actions to an
// injected backend.
//
// ARCHITECTURE:
//
// Serialized Evaluation:
// Evaluate holds one mutex for the whole decision. Each event is processed
// to completion before the next is looked at:
//  1. selectRule: eligible rules by trigger, source zone and predicate;
//     highest priority wins, first declared wins a tie
//  2. cooldown: the winner's signature is checked and recorded in one step;
//     a cooled-down winner drops the event (no fall-through)
//  3. ZoneState.Apply: the only mutation point for zone, lock and witnesses
//  4. the rule's actions are queued for dispatch
//
// Asynchronous Dispatch:
// One worker goroutine runs queued action batches in commit order. Results
// are appended to the event log when they arrive; they never feed back into
// a transition decision. Each action is bounded by a timeout.
//
// The Lock:
// Entering the lock zone through a rule that adds a witness sets the lock.
// While locked, every request to leave is rejected until the last witness
// is removed. Removal and the exit it carries are applied in one step.
//
// Ingress:
// Evaluate may be called from any goroutine. Submit and Run offer the same
// path through a single-consumer queue for producers that must not block.
package engine
