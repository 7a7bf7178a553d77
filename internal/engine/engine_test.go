package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posture/internal/compiler"
	"github.com/roach88/posture/internal/ir"
	"github.com/roach88/posture/internal/testutil"
)

const referenceRules = `{
	"edges": [
		{"id": "bank-url", "from": "normal", "to": "sensitive", "trigger": "openSensitiveUrl",
		 "conditions": {"urlPattern": ["*.bank.com"]},
		 "actions": ["enableVpn", "lockClipboard"], "priority": 10, "cooldownSeconds": 30},
		{"id": "leave-sensitive", "from": "sensitive", "to": "normal", "trigger": "leaveSensitive",
		 "actions": ["disableVpn", "unlockClipboard"]},
		{"id": "usb-attach", "from": "*", "to": "ultra", "trigger": "usbPlugged",
		 "conditions": {"deviceClass": ["mass_storage"]},
		 "actions": ["remountHomeRo", "notifyUser"], "priority": 100, "witness": {"op": "add"}},
		{"id": "usb-detach", "from": "ultra", "to": "normal", "trigger": "usbPlugged",
		 "conditions": {"action": "removed"},
		 "actions": ["remountHomeRw", "notifyUser"], "priority": 100, "witness": {"op": "remove"}},
		{"id": "idle-reset", "from": "*", "to": "normal", "trigger": "idle"}
	]
}`

type testEngine struct {
	*Engine
	backend *testutil.RecordingBackend
	clock   *testutil.FakeClock
}

func newTestEngine(t *testing.T, rules string, opts ...EngineOption) *testEngine {
	t.Helper()

	rs, err := compiler.Load([]byte(rules), compiler.FormatJSON, "test")
	require.NoError(t, err)

	backend := testutil.NewRecordingBackend()
	clock := testutil.NewFakeClock(time.Time{})

	base := []EngineOption{
		WithWallClock(clock),
		WithIDGenerator(NewFixedGenerator("rec")),
		WithLogger(discardLogger()),
	}
	e := New(rs, tableFor(backend), append(base, opts...)...)
	t.Cleanup(e.Close)

	return &testEngine{Engine: e, backend: backend, clock: clock}
}

func (te *testEngine) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, te.Flush(ctx))
}

func usbPlugged(id string) ir.Event {
	return ir.NewEvent("usbPlugged", ir.Object{
		"device": ir.Object{"class": ir.String("mass_storage"), "id": ir.String(id)},
	})
}

func usbRemoved(id string) ir.Event {
	return ir.NewEvent("usbPlugged", ir.Object{
		"device": ir.Object{"id": ir.String(id)},
		"action": ir.String("removed"),
	})
}

func sensitiveURL(url string) ir.Event {
	return ir.NewEvent("openSensitiveUrl", ir.Object{"url": ir.String(url)})
}

func recordTypes(records []Record) []RecordType {
	out := make([]RecordType, len(records))
	for i, r := range records {
		out[i] = r.Type
	}
	return out
}

func TestEngine_InitialState(t *testing.T) {
	te := newTestEngine(t, referenceRules)

	snap := te.Snapshot(10)
	assert.Equal(t, ir.ZoneNormal, snap.Zone)
	assert.False(t, snap.Locked)
	assert.Empty(t, snap.Witnesses)
	assert.Equal(t, 5, snap.Rules.Count)
	assert.Equal(t, testutil.Epoch, snap.Counters.StartedAt)
}

func TestEngine_NoMatchLeavesStateUnchanged(t *testing.T) {
	te := newTestEngine(t, referenceRules)

	events := []ir.Event{
		ir.NewEvent("unknownTrigger", nil),
		sensitiveURL("https://example.com"),
		ir.NewEvent("usbPlugged", ir.Object{"device": ir.Object{"class": ir.String("hid"), "id": ir.String("kbd")}}),
		ir.NewEvent("leaveSensitive", nil), // rule exists, but only from sensitive
	}
	for _, ev := range events {
		out := te.Evaluate(context.Background(), ev)
		assert.Equal(t, StatusNoMatch, out.Status, ev.Trigger)
		assert.True(t, IsNoRuleMatched(out.Err))
	}

	snap := te.Snapshot(0)
	assert.Equal(t, ir.ZoneNormal, snap.Zone)
	assert.False(t, snap.Locked)
	assert.Equal(t, int64(4), snap.Counters.NoRuleMatched)
	assert.Equal(t, int64(0), snap.Counters.ZoneTransitions)
	te.flush(t)
	assert.Empty(t, te.backend.Calls())
}

// Scenario 1: a mass-storage device locks the host into Ultra.
func TestEngine_USBAttachLocksUltra(t *testing.T) {
	te := newTestEngine(t, referenceRules)

	out := te.Evaluate(context.Background(), usbPlugged("sdb1"))
	require.Equal(t, StatusTransitioned, out.Status)
	assert.Equal(t, "usb-attach", out.RuleID)
	assert.Equal(t, ir.ZoneNormal, out.From)
	assert.Equal(t, ir.ZoneUltra, out.To)
	assert.True(t, out.Locked)

	snap := te.Snapshot(0)
	assert.Equal(t, ir.ZoneUltra, snap.Zone)
	assert.True(t, snap.Locked)
	assert.Equal(t, []string{"sdb1"}, snap.Witnesses)

	te.flush(t)
	assert.Equal(t, []ir.ActionName{ir.ActionRemountHomeRO, ir.ActionNotifyUser}, te.backend.Calls())
}

// Scenario 2: removing the device releases the lock and returns to Normal.
func TestEngine_USBRemovalReleasesLock(t *testing.T) {
	te := newTestEngine(t, referenceRules)
	ctx := context.Background()

	te.Evaluate(ctx, usbPlugged("sdb1"))
	out := te.Evaluate(ctx, usbRemoved("sdb1"))

	require.Equal(t, StatusTransitioned, out.Status)
	assert.Equal(t, "usb-detach", out.RuleID)
	assert.Equal(t, ir.ZoneNormal, out.To)
	assert.False(t, out.Locked)

	snap := te.Snapshot(0)
	assert.Equal(t, ir.ZoneNormal, snap.Zone)
	assert.False(t, snap.Locked)
	assert.Empty(t, snap.Witnesses)
	assert.Contains(t, recordTypes(snap.Events), RecordSecurityUnlock)

	te.flush(t)
	assert.Equal(t, []ir.ActionName{
		ir.ActionRemountHomeRO, ir.ActionNotifyUser,
		ir.ActionRemountHomeRW, ir.ActionNotifyUser,
	}, te.backend.Calls(), "dispatch keeps commit order")
}

// Scenario 3: a sensitive URL enters Sensitive; an ordinary URL does nothing.
func TestEngine_SensitiveURL(t *testing.T) {
	te := newTestEngine(t, referenceRules)
	ctx := context.Background()

	out := te.Evaluate(ctx, sensitiveURL("https://example.com"))
	assert.Equal(t, StatusNoMatch, out.Status)
	assert.Equal(t, ir.ZoneNormal, te.Zone())

	out = te.Evaluate(ctx, sensitiveURL("https://test.bank.com/login"))
	require.Equal(t, StatusTransitioned, out.Status)
	assert.Equal(t, ir.ZoneSensitive, out.To)
	assert.Equal(t, []ir.ActionName{ir.ActionEnableVPN, ir.ActionLockClipboard}, out.Actions)

	te.flush(t)
	assert.Equal(t, []ir.ActionName{ir.ActionEnableVPN, ir.ActionLockClipboard}, te.backend.Calls())
}

func TestEngine_LockBlocksUnrelatedExit(t *testing.T) {
	te := newTestEngine(t, referenceRules)
	ctx := context.Background()

	te.Evaluate(ctx, usbPlugged("sdb1"))

	out := te.Evaluate(ctx, ir.NewEvent("idle", nil))
	assert.Equal(t, StatusBlocked, out.Status)
	assert.True(t, IsLockedTransitionBlocked(out.Err))
	assert.False(t, IsNoRuleMatched(out.Err), "blocked must be distinguishable from no-match")
	assert.Equal(t, ir.ZoneUltra, out.To)

	out = te.Evaluate(ctx, usbRemoved("sdz9"))
	assert.Equal(t, StatusBlocked, out.Status, "removing a different device keeps the lock")

	snap := te.Snapshot(0)
	assert.Equal(t, ir.ZoneUltra, snap.Zone)
	assert.True(t, snap.Locked)
	assert.Equal(t, int64(2), snap.Counters.TransitionsBlocked)
	assert.Contains(t, recordTypes(snap.Events), RecordZoneTransitionBlocked)

	out = te.Evaluate(ctx, usbRemoved("sdb1"))
	assert.Equal(t, StatusTransitioned, out.Status)

	out = te.Evaluate(ctx, ir.NewEvent("idle", nil))
	assert.Equal(t, StatusTransitioned, out.Status, "exits succeed once unlocked")
}

func TestEngine_MultipleWitnesses(t *testing.T) {
	te := newTestEngine(t, referenceRules)
	ctx := context.Background()

	te.Evaluate(ctx, usbPlugged("sdb1"))
	out := te.Evaluate(ctx, usbPlugged("sdc1"))
	assert.Equal(t, StatusTransitioned, out.Status, "self-transition into Ultra adds a witness")
	assert.Equal(t, []string{"sdb1", "sdc1"}, te.Snapshot(0).Witnesses)

	out = te.Evaluate(ctx, usbRemoved("sdb1"))
	assert.Equal(t, StatusBlocked, out.Status)
	snap := te.Snapshot(0)
	assert.Equal(t, []string{"sdc1"}, snap.Witnesses, "the removal itself is committed")
	assert.True(t, snap.Locked)

	out = te.Evaluate(ctx, usbRemoved("sdc1"))
	assert.Equal(t, StatusTransitioned, out.Status)
	assert.Equal(t, ir.ZoneNormal, te.Zone())
}

func TestEngine_Cooldown(t *testing.T) {
	te := newTestEngine(t, referenceRules)
	ctx := context.Background()
	leave := ir.NewEvent("leaveSensitive", nil)

	require.True(t, te.Evaluate(ctx, sensitiveURL("https://a.bank.com")).Transitioned())
	require.True(t, te.Evaluate(ctx, leave).Transitioned())

	te.clock.Advance(30*time.Second - time.Millisecond)
	out := te.Evaluate(ctx, sensitiveURL("https://a.bank.com"))
	assert.Equal(t, StatusSuppressed, out.Status)
	assert.True(t, IsCooldownSuppressed(out.Err))
	assert.Equal(t, "bank-url", out.RuleID)
	assert.Equal(t, ir.ZoneNormal, te.Zone())

	te.clock.Advance(2 * time.Millisecond)
	out = te.Evaluate(ctx, sensitiveURL("https://a.bank.com"))
	assert.Equal(t, StatusTransitioned, out.Status)
	assert.Equal(t, int64(1), te.Snapshot(0).Counters.CooldownSuppressed)
}

func TestEngine_CooldownIsAtomicUnderConcurrency(t *testing.T) {
	te := newTestEngine(t, `{"edges": [
		{"id": "ping", "from": "*", "to": "sensitive", "trigger": "ping", "cooldownSeconds": 60}
	]}`)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		transitions int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if te.Evaluate(context.Background(), ir.NewEvent("ping", nil)).Transitioned() {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transitions)
	assert.Equal(t, int64(49), te.Snapshot(0).Counters.CooldownSuppressed)
}

func TestEngine_PriorityTieFirstDeclaredWins(t *testing.T) {
	rules := `{"edges": [
		{"id": "first", "from": "*", "to": "sensitive", "trigger": "t", "priority": 5},
		{"id": "second", "from": "normal", "to": "ultra", "trigger": "t", "priority": 5}
	]}`
	for i := 0; i < 10; i++ {
		te := newTestEngine(t, rules)
		out := te.Evaluate(context.Background(), ir.NewEvent("t", nil))
		assert.Equal(t, "first", out.RuleID)
		assert.Equal(t, ir.ZoneSensitive, out.To)
	}
}

func TestEngine_ActionFailureDoesNotRevertTransition(t *testing.T) {
	te := newTestEngine(t, referenceRules)
	te.backend.Fail(ir.ActionRemountHomeRO, "mount: permission denied")

	out := te.Evaluate(context.Background(), usbPlugged("sdb1"))
	require.True(t, out.Transitioned())
	te.flush(t)

	snap := te.Snapshot(0)
	assert.Equal(t, ir.ZoneUltra, snap.Zone)
	assert.Equal(t, int64(2), snap.Counters.ActionsExecuted)
	assert.Equal(t, int64(1), snap.Counters.ActionFailures)

	last := snap.Events[len(snap.Events)-1]
	require.Equal(t, RecordActionsDispatched, last.Type)
	require.Len(t, last.ActionResults, 2)
	assert.Equal(t, ActionFailed, last.ActionResults[0].Outcome)
	assert.Equal(t, "mount: permission denied", last.ActionResults[0].Message)
	assert.Equal(t, ActionSucceeded, last.ActionResults[1].Outcome)
}

func TestEngine_SlowActionsDoNotBlockEvaluation(t *testing.T) {
	te := newTestEngine(t, referenceRules)
	te.backend.Delay(300 * time.Millisecond)

	start := time.Now()
	te.Evaluate(context.Background(), usbPlugged("sdb1"))
	te.Evaluate(context.Background(), ir.NewEvent("idle", nil))
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	te.flush(t)
	assert.Len(t, te.backend.Calls(), 2)
}

func TestEngine_CloseWaitsForInFlightDispatch(t *testing.T) {
	te := newTestEngine(t, referenceRules)
	te.backend.Delay(20 * time.Millisecond)

	te.Evaluate(context.Background(), usbPlugged("sdb1"))
	te.Close()

	assert.Equal(t, []ir.ActionName{ir.ActionRemountHomeRO, ir.ActionNotifyUser}, te.backend.Calls())
	assert.False(t, te.Submit(usbPlugged("sdc1")), "closed engine rejects submissions")
}

func TestEngine_DispatchHook(t *testing.T) {
	reports := make(chan DispatchReport, 1)
	te := newTestEngine(t, referenceRules, WithDispatchHook(func(r DispatchReport) { reports <- r }))

	te.Evaluate(context.Background(), sensitiveURL("https://x.bank.com"))

	select {
	case r := <-reports:
		assert.Equal(t, "bank-url", r.RuleID)
		assert.Equal(t, ir.ZoneSensitive, r.Zone)
		assert.Len(t, r.Results, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch hook not called")
	}
}

func TestEngine_ReportMalformed(t *testing.T) {
	te := newTestEngine(t, referenceRules)
	te.Evaluate(context.Background(), usbPlugged("sdb1"))

	out := te.ReportMalformed([]byte("not json"), errors.New("invalid character 'o' in literal null"))
	assert.Equal(t, StatusMalformed, out.Status)
	assert.True(t, IsMalformedEvent(out.Err))

	snap := te.Snapshot(0)
	assert.Equal(t, ir.ZoneUltra, snap.Zone)
	assert.True(t, snap.Locked)
	assert.Equal(t, int64(1), snap.Counters.MalformedEvents)

	last := snap.Events[len(snap.Events)-1]
	assert.Equal(t, RecordMalformedEvent, last.Type)
	assert.Equal(t, ir.String("not json"), last.Data["raw"])
}

func TestEngine_ForceTransition(t *testing.T) {
	te := newTestEngine(t, referenceRules)
	ctx := context.Background()

	out, err := te.ForceTransition(ctx, ir.ZoneSensitive, "drill")
	require.NoError(t, err)
	assert.Equal(t, StatusTransitioned, out.Status)
	assert.Equal(t, ir.ZoneSensitive, te.Zone())

	te.Evaluate(ctx, usbPlugged("sdb1"))
	out, err = te.ForceTransition(ctx, ir.ZoneNormal, "operator override")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, out.Status, "admin transitions are subject to the lock")
	assert.Equal(t, ir.ZoneUltra, te.Zone())

	_, err = te.ForceTransition(ctx, ir.ZoneAny, "")
	assert.Error(t, err)

	te.flush(t)
	assert.Equal(t, []ir.ActionName{ir.ActionRemountHomeRO, ir.ActionNotifyUser}, te.backend.Calls(),
		"forced transitions dispatch nothing")
}

func TestEngine_ReplaceRules(t *testing.T) {
	te := newTestEngine(t, referenceRules)
	ctx := context.Background()

	te.ReplaceRules(compiler.Empty())
	out := te.Evaluate(ctx, usbPlugged("sdb1"))
	assert.Equal(t, StatusNoMatch, out.Status)

	snap := te.Snapshot(0)
	assert.Equal(t, 0, snap.Rules.Count)
	assert.Equal(t, int64(1), snap.Counters.RulesReloaded)
	assert.Contains(t, recordTypes(snap.Events), RecordRulesReloaded)

	te.ReportConfigError("rules.json", errors.New("edges[0]: from: unknown zone"))
	snap = te.Snapshot(1)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, RecordConfigLoadError, snap.Events[0].Type)
}

func TestEngine_WitnessMissingFromPayload(t *testing.T) {
	te := newTestEngine(t, referenceRules)

	out := te.Evaluate(context.Background(), ir.NewEvent("usbPlugged", ir.Object{
		"device": ir.Object{"class": ir.String("mass_storage")},
	}))
	assert.Equal(t, StatusTransitioned, out.Status)
	assert.False(t, out.Locked, "no witness, no lock")
	assert.Equal(t, ir.ZoneUltra, te.Zone())
}

func TestEngine_RunProcessesSubmittedEvents(t *testing.T) {
	te := newTestEngine(t, referenceRules)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- te.Run(ctx) }()

	require.True(t, te.Submit(usbPlugged("sdb1")))
	require.Eventually(t, func() bool { return te.Zone() == ir.ZoneUltra }, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestEngine_StopEndsRun(t *testing.T) {
	te := newTestEngine(t, referenceRules)

	done := make(chan error, 1)
	go func() { done <- te.Run(context.Background()) }()

	te.Submit(sensitiveURL("https://x.bank.com"))
	te.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, ir.ZoneSensitive, te.Zone(), "queued events are drained before Run returns")
}

func TestEngine_EventLogRecords(t *testing.T) {
	te := newTestEngine(t, referenceRules, WithEventLogCapacity(4))

	te.Evaluate(context.Background(), usbPlugged("sdb1"))
	te.flush(t)

	snap := te.Snapshot(0)
	assert.Equal(t, []RecordType{
		RecordEventReceived,
		RecordZoneTransition,
		RecordWitnessAdded,
		RecordActionsDispatched,
	}, recordTypes(snap.Events))

	first := snap.Events[0]
	assert.Equal(t, "rec-1", first.ID)
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, testutil.Epoch, first.Timestamp)
	assert.Equal(t, ir.ZoneNormal, first.Zone, "zone at time of receipt")
	assert.Equal(t, ir.ZoneUltra, snap.Events[1].Zone)

	te.Evaluate(context.Background(), ir.NewEvent("nothing", nil))
	snap = te.Snapshot(0)
	assert.Len(t, snap.Events, 4, "ring buffer is bounded")
	assert.Equal(t, RecordNoRuleMatched, snap.Events[3].Type)
}
