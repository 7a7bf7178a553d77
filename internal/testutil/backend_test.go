package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posture/internal/ir"
)

func TestRecordingBackend_RecordsInOrder(t *testing.T) {
	b := NewRecordingBackend()
	ctx := context.Background()

	require.NoError(t, b.Execute(ctx, ir.ActionEnableVPN))
	require.NoError(t, b.Execute(ctx, ir.ActionLockClipboard))

	assert.Equal(t, []ir.ActionName{ir.ActionEnableVPN, ir.ActionLockClipboard}, b.Calls())

	b.Reset()
	assert.Empty(t, b.Calls())
}

func TestRecordingBackend_Fail(t *testing.T) {
	b := NewRecordingBackend().Fail(ir.ActionEnableVPN, "nmcli missing")

	err := b.Execute(context.Background(), ir.ActionEnableVPN)
	require.Error(t, err)
	assert.Equal(t, "nmcli missing", err.Error())
}

func TestRecordingBackend_HangHonorsContext(t *testing.T) {
	b := NewRecordingBackend().Hang(ir.ActionNotifyUser)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Execute(ctx, ir.ActionNotifyUser)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecordingBackend_Panic(t *testing.T) {
	b := NewRecordingBackend().Panic(ir.ActionHideWindows)
	assert.Panics(t, func() {
		_ = b.Execute(context.Background(), ir.ActionHideWindows)
	})
}
