package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vjranagit/tsdiff/pkg/types"
)

// fakeSource is a scriptable Source for detector tests
type fakeSource struct {
	id      string
	modTime time.Time
	size    int64
	statErr error
}

func (f *fakeSource) ID() string { return f.id }

func (f *fakeSource) Stat() (time.Time, int64, error) {
	if f.statErr != nil {
		return time.Time{}, 0, f.statErr
	}
	return f.modTime, f.size, nil
}

func (f *fakeSource) grow(bytes int64) {
	f.size += bytes
	f.modTime = f.modTime.Add(time.Second)
}

func (f *fakeSource) rewrite(size int64) {
	f.size = size
	f.modTime = f.modTime.Add(time.Second)
}

func newFakeSource() *fakeSource {
	return &fakeSource{id: "run.csv", modTime: time.Unix(1000, 0), size: 1000}
}

func TestDetectorNoChange(t *testing.T) {
	det := NewDetector(0, nil)
	src := newFakeSource()
	require.NoError(t, det.Register(0, src, 100))

	up, err := det.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, types.UpdateNoChange, up.Kind)
}

func TestDetectorGrowthEstimatesRows(t *testing.T) {
	det := NewDetector(0, nil)
	src := newFakeSource() // 1000 bytes, 100 rows -> 10 bytes/row
	require.NoError(t, det.Register(0, src, 100))

	src.grow(250)

	up, err := det.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, types.UpdateGrew, up.Kind)
	assert.Equal(t, 25, up.EstimatedNewRows)
}

func TestDetectorShrinkMeansRewritten(t *testing.T) {
	det := NewDetector(0, nil)
	src := newFakeSource()
	require.NoError(t, det.Register(0, src, 100))

	src.rewrite(400)

	up, err := det.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, types.UpdateRewritten, up.Kind)
}

func TestDetectorStatErrorIsNoChange(t *testing.T) {
	det := NewDetector(0, nil)
	src := newFakeSource()
	require.NoError(t, det.Register(0, src, 100))

	src.statErr = errors.New("file vanished")

	up, err := det.Poll(0)
	require.NoError(t, err) // never a detector failure
	assert.Equal(t, types.UpdateNoChange, up.Kind)

	// Source comes back grown: detection resumes where it left off.
	src.statErr = nil
	src.grow(100)
	up, err = det.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, types.UpdateGrew, up.Kind)
}

func TestDetectorUncommittedDetectionRefires(t *testing.T) {
	det := NewDetector(0, nil)
	src := newFakeSource()
	require.NoError(t, det.Register(0, src, 100))

	src.grow(100)

	// Two polls without a commit both see the growth.
	up, err := det.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, types.UpdateGrew, up.Kind)

	up, err = det.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, types.UpdateGrew, up.Kind)

	// After the commit the change is consumed.
	require.NoError(t, det.Commit(0, CommitInfo{ModTime: up.ModTime, Size: up.Size, RowCount: 110}))
	up, err = det.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, types.UpdateNoChange, up.Kind)

	st, ok := det.State(0)
	require.True(t, ok)
	assert.Equal(t, 110, st.LastRowCount)
	assert.Equal(t, uint64(1), st.UpdateCount)
}

func TestDetectorAutoStopLatchesOnce(t *testing.T) {
	det := NewDetector(30*time.Millisecond, nil)
	src := newFakeSource()
	require.NoError(t, det.Register(0, src, 100))

	time.Sleep(50 * time.Millisecond)

	up, err := det.Poll(0)
	require.NoError(t, err)
	assert.True(t, up.ShouldStop)

	// The latch fires exactly once.
	up, err = det.Poll(0)
	require.NoError(t, err)
	assert.False(t, up.ShouldStop)

	// Activity resets the latch.
	src.grow(100)
	_, err = det.Poll(0)
	require.NoError(t, err)
	require.NoError(t, det.Commit(0, CommitInfo{ModTime: src.modTime, Size: src.size, RowCount: 110}))

	time.Sleep(50 * time.Millisecond)
	up, err = det.Poll(0)
	require.NoError(t, err)
	assert.True(t, up.ShouldStop)
}

func TestDetectorRegistrationLifecycle(t *testing.T) {
	det := NewDetector(0, nil)
	src := newFakeSource()

	require.NoError(t, det.Register(3, src, 10))
	assert.Error(t, det.Register(3, src, 10))
	assert.Equal(t, []int{3}, det.RegisteredRuns())

	det.Unregister(3)
	_, err := det.Poll(3)
	assert.Error(t, err)
	_, ok := det.State(3)
	assert.False(t, ok)
}
