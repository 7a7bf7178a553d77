package engine

import (
	"time"

	"github.com/roach88/posture/internal/ir"
)

// selectRule returns the eligible rule with the highest priority, or nil.
//
// Rules are scanned in declaration order and a later rule only replaces the
// current best on strictly greater priority, so the first declared rule wins
// a tie. Rule authors rely on this order.
func selectRule(rules []ir.Rule, zone ir.Zone, ev ir.Event) *ir.Rule {
	var best *ir.Rule
	for i := range rules {
		r := &rules[i]
		if !r.Eligible(zone, ev) {
			continue
		}
		if best == nil || r.Priority > best.Priority {
			best = r
		}
	}
	return best
}

// matchResult is the outcome of resolving one event against a rule set.
type matchResult struct {
	rule       *ir.Rule
	suppressed bool
}

// match resolves the winning rule and applies its cooldown.
//
// A cooled-down winner suppresses the event outright; the next-best
// candidate is not considered. A successful match records the fire time in
// the same tracker call that checked it.
func match(rules []ir.Rule, zone ir.Zone, ev ir.Event, cooldowns *CooldownTracker, now time.Time) matchResult {
	best := selectRule(rules, zone, ev)
	if best == nil {
		return matchResult{}
	}
	if best.Cooldown > 0 && cooldowns.CheckAndRecord(best.Signature, now, best.Cooldown) {
		return matchResult{rule: best, suppressed: true}
	}
	return matchResult{rule: best}
}
