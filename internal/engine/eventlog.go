package engine

import (
	"sync"
	"time"

	"github.com/roach88/posture/internal/ir"
)

// DefaultEventLogCapacity is the number of records kept in memory.
const DefaultEventLogCapacity = 1000

// RecordType names an event-log record kind.
type RecordType string

const (
	RecordEventReceived         RecordType = "event_received"
	RecordMalformedEvent        RecordType = "malformed_event"
	RecordNoRuleMatched         RecordType = "no_rule_matched"
	RecordCooldownSuppressed    RecordType = "cooldown_suppressed"
	RecordZoneTransition        RecordType = "zone_transition"
	RecordZoneTransitionBlocked RecordType = "zone_transition_blocked"
	RecordWitnessAdded          RecordType = "witness_added"
	RecordWitnessRemoved        RecordType = "witness_removed"
	RecordSecurityUnlock        RecordType = "security_unlock"
	RecordActionsDispatched     RecordType = "actions_dispatched"
	RecordRulesReloaded         RecordType = "rules_reloaded"
	RecordConfigLoadError       RecordType = "config_load_error"
)

// Record is one event-log entry.
type Record struct {
	ID            string         `json:"id"`
	Seq           int64          `json:"seq"`
	Timestamp     time.Time      `json:"timestamp"`
	Type          RecordType     `json:"type"`
	Zone          ir.Zone        `json:"zone"`
	Data          ir.Object      `json:"data,omitempty"`
	ActionResults []ActionResult `json:"actionResults,omitempty"`
}

// EventLog is a bounded ring buffer of records; the oldest is evicted first.
// It has its own lock because it carries no transition-correctness
// requirement and is written by both evaluation and dispatch.
type EventLog struct {
	mu    sync.Mutex
	buf   []Record
	start int
	n     int
	total int64
}

// NewEventLog creates a log holding at most capacity records.
// A non-positive capacity selects DefaultEventLogCapacity.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	return &EventLog{buf: make([]Record, capacity)}
}

// Append adds a record, evicting the oldest when full.
func (l *EventLog) Append(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	if l.n < len(l.buf) {
		l.buf[(l.start+l.n)%len(l.buf)] = r
		l.n++
		return
	}
	l.buf[l.start] = r
	l.start = (l.start + 1) % len(l.buf)
}

// Recent returns up to limit of the newest records, oldest first.
// A non-positive limit returns everything held.
func (l *EventLog) Recent(limit int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > l.n {
		limit = l.n
	}
	out := make([]Record, 0, limit)
	for i := l.n - limit; i < l.n; i++ {
		out = append(out, l.buf[(l.start+i)%len(l.buf)])
	}
	return out
}

// Len returns the number of records held.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Cap returns the capacity.
func (l *EventLog) Cap() int { return len(l.buf) }

// Total returns how many records were ever appended.
func (l *EventLog) Total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
