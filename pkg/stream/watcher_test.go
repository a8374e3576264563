package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vjranagit/tsdiff/pkg/engine"
	"github.com/vjranagit/tsdiff/pkg/types"
)

// fakeRunSource scripts the full RunSource contract
type fakeRunSource struct {
	fakeSource
	pending   types.RunDelta
	truncated bool
	rows      int
	reloadRun *types.Run
	reloads   int
}

func (f *fakeRunSource) ReadNewRows() (types.RunDelta, error) {
	if f.truncated {
		return types.RunDelta{}, ErrTruncated
	}
	delta := f.pending
	f.pending = types.RunDelta{}
	f.rows += delta.Rows()
	return delta, nil
}

func (f *fakeRunSource) Reload() (*types.Run, error) {
	f.reloads++
	f.truncated = false
	f.rows = len(f.reloadRun.Time)
	return f.reloadRun, nil
}

func (f *fakeRunSource) RowCount() int { return f.rows }

func newWatcherFixture(t *testing.T) (*engine.Engine, *Watcher, *fakeRunSource, *[]string) {
	t.Helper()

	eng := engine.NewEngine()
	eng.AddRun(&types.Run{
		DisplayName: "live",
		Time:        []float64{0, 1},
		Signals: map[string]*types.Signal{
			"x": {Name: "x", Data: []float64{1, 2}},
		},
	})

	src := &fakeRunSource{
		fakeSource: *newFakeSource(),
		rows:       2,
		reloadRun: &types.Run{
			DisplayName: "live",
			Time:        []float64{0, 1, 2},
			Signals: map[string]*types.Signal{
				"x": {Name: "x", Data: []float64{9, 9, 9}},
			},
		},
	}

	var events []string
	w := NewWatcher(eng, NewDetector(25*time.Millisecond, nil), time.Millisecond, nil, nil, Callbacks{
		OnGrew:      func(run, rows int) { events = append(events, "grew") },
		OnRewritten: func(run int) { events = append(events, "rewritten") },
		OnStop:      func(run int) { events = append(events, "stop") },
	})
	require.NoError(t, w.Track(0, src))
	return eng, w, src, &events
}

func TestWatcherAppliesGrowth(t *testing.T) {
	eng, w, src, events := newWatcherFixture(t)

	src.grow(100)
	src.pending = types.RunDelta{
		Time:    []float64{2, 3},
		Signals: map[string][]float64{"x": {3, 4}},
	}

	stop, err := w.pollOnce(0)
	require.NoError(t, err)
	assert.False(t, stop)

	run, err := eng.Run(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3}, run.Time)
	assert.Equal(t, []string{"grew"}, *events)

	// The commit consumed the change.
	stop, err = w.pollOnce(0)
	require.NoError(t, err)
	assert.False(t, stop)
	assert.Equal(t, []string{"grew"}, *events)
}

func TestWatcherReloadsOnRewrite(t *testing.T) {
	eng, w, src, events := newWatcherFixture(t)

	src.rewrite(200)

	stop, err := w.pollOnce(0)
	require.NoError(t, err)
	assert.False(t, stop)

	run, err := eng.Run(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 9, 9}, run.Signals["x"].Data)
	assert.Equal(t, 1, src.reloads)
	assert.Equal(t, []string{"rewritten"}, *events)
}

func TestWatcherTruncatedReadFallsBackToReload(t *testing.T) {
	_, w, src, events := newWatcherFixture(t)

	// Growth detected, but the read finds the file regressed underneath.
	src.grow(100)
	src.truncated = true

	stop, err := w.pollOnce(0)
	require.NoError(t, err)
	assert.False(t, stop)
	assert.Equal(t, 1, src.reloads)
	assert.Equal(t, []string{"rewritten"}, *events)
}

func TestWatcherAutoStops(t *testing.T) {
	_, w, _, events := newWatcherFixture(t)

	time.Sleep(40 * time.Millisecond)

	stop, err := w.pollOnce(0)
	require.NoError(t, err)
	assert.True(t, stop)
	assert.Equal(t, []string{"stop"}, *events)
}

func TestWatcherUntrack(t *testing.T) {
	_, w, _, _ := newWatcherFixture(t)

	w.Untrack(0)
	stop, err := w.pollOnce(0)
	require.NoError(t, err)
	assert.True(t, stop)
}
