package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posture/internal/ir"
	"github.com/roach88/posture/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tableFor(exec Executor) Backend {
	b := make(Backend, len(ir.KnownActions))
	for _, a := range ir.KnownActions {
		b[a] = exec
	}
	return b
}

func TestDispatcher_FailSoft(t *testing.T) {
	rec := testutil.NewRecordingBackend().Fail(ir.ActionRemountHomeRO, "mount: permission denied")
	d := NewDispatcher(tableFor(rec), time.Second, discardLogger())

	results := d.Dispatch(context.Background(), []ir.ActionName{ir.ActionRemountHomeRO, ir.ActionNotifyUser})

	require.Len(t, results, 2)
	assert.Equal(t, ActionFailed, results[0].Outcome)
	assert.Equal(t, "mount: permission denied", results[0].Message)
	assert.Equal(t, ActionSucceeded, results[1].Outcome)
	assert.Equal(t, []ir.ActionName{ir.ActionRemountHomeRO, ir.ActionNotifyUser}, rec.Calls())

	assert.True(t, IsActionFailure(results[0].Err()))
	assert.ErrorContains(t, results[0].Err(), "mount: permission denied")
	assert.NoError(t, results[1].Err())
}

func TestDispatcher_UnknownAction(t *testing.T) {
	rec := testutil.NewRecordingBackend()
	d := NewDispatcher(tableFor(rec), time.Second, discardLogger())

	results := d.Dispatch(context.Background(), []ir.ActionName{"selfDestruct", ir.ActionNotifyUser})

	require.Len(t, results, 2)
	assert.Equal(t, ActionFailed, results[0].Outcome)
	assert.Equal(t, FailureUnknownAction, results[0].Message)
	assert.True(t, results[1].OK(), "batch continues after unknown action")
}

func TestDispatcher_Timeout(t *testing.T) {
	rec := testutil.NewRecordingBackend().Hang(ir.ActionEnableVPN)
	d := NewDispatcher(tableFor(rec), 20*time.Millisecond, discardLogger())

	start := time.Now()
	results := d.Dispatch(context.Background(), []ir.ActionName{ir.ActionEnableVPN, ir.ActionLockClipboard})

	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, results, 2)
	assert.Equal(t, FailureTimeout, results[0].Message)
	assert.True(t, results[1].OK())
}

func TestDispatcher_PanicIsFailure(t *testing.T) {
	rec := testutil.NewRecordingBackend().Panic(ir.ActionHideWindows)
	d := NewDispatcher(tableFor(rec), time.Second, discardLogger())

	results := d.Dispatch(context.Background(), []ir.ActionName{ir.ActionHideWindows, ir.ActionNotifyUser})

	require.Len(t, results, 2)
	assert.Equal(t, ActionFailed, results[0].Outcome)
	assert.Contains(t, results[0].Message, "panic")
	assert.True(t, results[1].OK())
}

func TestDispatcher_DefaultTimeout(t *testing.T) {
	d := NewDispatcher(Backend{}, 0, nil)
	assert.Equal(t, DefaultActionTimeout, d.timeout)
	assert.NotNil(t, d.logger)
}

func TestExecutorFunc(t *testing.T) {
	var got ir.ActionName
	d := NewDispatcher(Backend{
		ir.ActionNotifyUser: ExecutorFunc(func(_ context.Context, a ir.ActionName) error {
			got = a
			return nil
		}),
	}, time.Second, discardLogger())

	results := d.Dispatch(context.Background(), []ir.ActionName{ir.ActionNotifyUser})
	assert.True(t, results[0].OK())
	assert.Equal(t, ir.ActionNotifyUser, got)
}
