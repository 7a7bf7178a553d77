package engine

import (
	"sync/atomic"
	"time"

	"github.com/roach88/posture/internal/ir"
)

// counters are updated from evaluation and from the dispatch worker.
type counters struct {
	eventsProcessed    atomic.Int64
	malformedEvents    atomic.Int64
	noRuleMatched      atomic.Int64
	cooldownSuppressed atomic.Int64
	zoneTransitions    atomic.Int64
	transitionsBlocked atomic.Int64
	actionsExecuted    atomic.Int64
	actionFailures     atomic.Int64
	rulesReloaded      atomic.Int64
}

// Counters is a point-in-time copy of the engine counters.
type Counters struct {
	EventsProcessed    int64     `json:"eventsProcessed"`
	MalformedEvents    int64     `json:"malformedEvents"`
	NoRuleMatched      int64     `json:"noRuleMatched"`
	CooldownSuppressed int64     `json:"cooldownSuppressed"`
	ZoneTransitions    int64     `json:"zoneTransitions"`
	TransitionsBlocked int64     `json:"transitionsBlocked"`
	ActionsExecuted    int64     `json:"actionsExecuted"`
	ActionFailures     int64     `json:"actionFailures"`
	RulesReloaded      int64     `json:"rulesReloaded"`
	StartedAt          time.Time `json:"startedAt"`
}

func (c *counters) snapshot(startedAt time.Time) Counters {
	return Counters{
		EventsProcessed:    c.eventsProcessed.Load(),
		MalformedEvents:    c.malformedEvents.Load(),
		NoRuleMatched:      c.noRuleMatched.Load(),
		CooldownSuppressed: c.cooldownSuppressed.Load(),
		ZoneTransitions:    c.zoneTransitions.Load(),
		TransitionsBlocked: c.transitionsBlocked.Load(),
		ActionsExecuted:    c.actionsExecuted.Load(),
		ActionFailures:     c.actionFailures.Load(),
		RulesReloaded:      c.rulesReloaded.Load(),
		StartedAt:          startedAt,
	}
}

// RuleSetInfo identifies the live rule set.
type RuleSetInfo struct {
	Source string `json:"source"`
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// Snapshot is the read-only observability view of a running engine.
type Snapshot struct {
	Zone      ir.Zone     `json:"currentZone"`
	Locked    bool        `json:"locked"`
	Witnesses []string    `json:"lockWitnesses"`
	Rules     RuleSetInfo `json:"rules"`
	Counters  Counters    `json:"counters"`
	Events    []Record    `json:"events"`
}
