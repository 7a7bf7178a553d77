package config

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posture/internal/compiler"
	"github.com/roach88/posture/internal/engine"
	"github.com/roach88/posture/internal/testutil"
)

const oneRule = `
edges:
  - id: bank-url
    from: normal
    to: sensitive
    trigger: openSensitiveUrl
    actions: [enableVpn]
`

const twoRules = `
edges:
  - id: bank-url
    from: normal
    to: sensitive
    trigger: openSensitiveUrl
    actions: [enableVpn]
  - id: leave-sensitive
    from: sensitive
    to: normal
    trigger: idle
    actions: [disableVpn]
`

type fakeReloader struct {
	mu       sync.Mutex
	replaced []*compiler.RuleSet
	errs     []error
}

func (f *fakeReloader) ReplaceRules(rs *compiler.RuleSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced = append(f.replaced, rs)
}

func (f *fakeReloader) ReportConfigError(_ string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

// touch rewrites the file and moves its mtime forward so the change is
// visible on filesystems with coarse timestamps.
func touch(t *testing.T, path, content string, at time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, os.Chtimes(path, at, at))
}

func TestWatcher_UnchangedFileIsNotReloaded(t *testing.T) {
	path := writeFile(t, "rules.yaml", oneRule)
	target := &fakeReloader{}
	w := NewWatcher(path, target, time.Second, nil)

	assert.False(t, w.Poll())
	assert.Empty(t, target.replaced)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeFile(t, "rules.yaml", oneRule)
	target := &fakeReloader{}
	w := NewWatcher(path, target, time.Second, nil)

	touch(t, path, twoRules, time.Now().Add(time.Minute))

	assert.True(t, w.Poll())
	require.Len(t, target.replaced, 1)
	assert.Equal(t, 2, target.replaced[0].Len())
	assert.Equal(t, path, target.replaced[0].Source())

	assert.False(t, w.Poll(), "second poll without change")
}

func TestWatcher_InvalidFileReportsError(t *testing.T) {
	path := writeFile(t, "rules.yaml", oneRule)
	target := &fakeReloader{}
	w := NewWatcher(path, target, time.Second, nil)

	touch(t, path, "edges:\n  - from: normal\n    to: nowhere\n", time.Now().Add(time.Minute))

	assert.True(t, w.Poll())
	assert.Empty(t, target.replaced)
	require.Len(t, target.errs, 1)
}

func TestWatcher_MissingFile(t *testing.T) {
	path := writeFile(t, "rules.yaml", oneRule)
	target := &fakeReloader{}
	w := NewWatcher(path, target, time.Second, nil)

	require.NoError(t, os.Remove(path))

	assert.False(t, w.Poll())
	assert.Empty(t, target.replaced)
	assert.Empty(t, target.errs)
}

func TestWatcher_KeepsEngineRulesOnError(t *testing.T) {
	path := writeFile(t, "rules.yaml", oneRule)
	rs, err := compiler.LoadFile(path)
	require.NoError(t, err)

	e := engine.New(rs, engine.Backend{}, engine.WithWallClock(testutil.NewFakeClock(testutil.Epoch)))
	t.Cleanup(e.Close)
	w := NewWatcher(path, e, time.Second, nil)

	touch(t, path, "edges: [", time.Now().Add(time.Minute))
	w.Poll()
	assert.Equal(t, 1, e.Rules().Len())

	touch(t, path, twoRules, time.Now().Add(2*time.Minute))
	w.Poll()
	assert.Equal(t, 2, e.Rules().Len())

	snap := e.Snapshot(0)
	assert.EqualValues(t, 1, snap.Counters.RulesReloaded)
}
