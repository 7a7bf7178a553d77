// Package harness runs scripted scenarios against a real engine.
//
// A scenario names a rule document (or carries its edges inline), a list of
// steps and a list of assertions. Steps feed events, raw ingress lines and
// administrative transitions to the engine and advance a fake wall clock so
// cooldowns can be exercised deterministically. Actions are recorded, never
// executed.
//
// # Scenario Format
//
//	name: usb_lock_cycle
//	description: "Removable storage locks the device until it is removed"
//	rules: ../rules/reference.yaml
//	failActions: [notifyUser]
//	steps:
//	  - event:
//	      trigger: usbPlugged
//	      payload: { device: { id: usb-1, class: mass_storage } }
//	    expect: { status: transitioned, rule: usb-attach, zone: ultra, locked: true }
//	  - advance: 31s
//	  - force: { zone: normal, reason: operator }
//	    expect: { status: blocked }
//	  - raw: 'not json'
//	    expect: { status: malformed }
//	assertions:
//	  - type: trace_order
//	    rules: [usb-attach, usb-detach]
//	  - type: action_count
//	    action: notifyUser
//	    count: 2
//	  - type: final_state
//	    zone: normal
//	    locked: false
//
// # Assertion Types
//
//   - trace_contains: some step matches rule, status and trigger (subset)
//   - trace_order: transitioned steps fired the listed rules in order
//   - trace_count: exactly count steps match rule, status and trigger
//   - action_order: the listed actions were executed in order
//   - action_count: action was executed exactly count times
//   - final_state: zone, lock and witnesses after the last step
//
// # Golden Traces
//
// RunWithGolden compares the canonical JSON of a run's trace against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
