// Package stream implements live-source change detection and the poll
// scheduler that feeds appended rows back into the engine.
package stream

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vjranagit/tsdiff/pkg/types"
)

// Source is the minimal view of a live run source the detector needs
type Source interface {
	// ID identifies the source, typically its file path
	ID() string
	// Stat reports the source's modification time and size in bytes
	Stat() (modTime time.Time, size int64, err error)
}

// Update is the outcome of one poll step
type Update struct {
	Kind types.UpdateKind
	// EstimatedNewRows approximates how many rows were appended when Kind
	// is Grew, derived from the size delta and the previous bytes-per-row.
	// The exact count is known only after the caller reads the source.
	EstimatedNewRows int
	ModTime          time.Time
	Size             int64
	// ShouldStop latches true exactly once after the inactivity timeout
	// passes without a Grew or Rewritten transition.
	ShouldStop bool
}

// CommitInfo records what the caller actually read and applied upstream
type CommitInfo struct {
	ModTime  time.Time
	Size     int64
	RowCount int
}

// Detector classifies source changes per registered run. It owns no clock;
// the caller invokes Poll on its own schedule, and each run's state must be
// polled by at most one goroutine at a time.
//
// Poll never mutates the stored state: a detected change only becomes the
// new baseline once the caller applies the read upstream and calls Commit.
// An uncommitted detection therefore re-fires on the next poll instead of
// being dropped.
type Detector struct {
	mu         sync.Mutex
	states     map[int]*types.StreamState
	sources    map[int]Source
	inactivity time.Duration
	logger     *slog.Logger
}

// NewDetector creates a detector. inactivity <= 0 disables auto-stop.
func NewDetector(inactivity time.Duration, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		states:     make(map[int]*types.StreamState),
		sources:    make(map[int]Source),
		inactivity: inactivity,
		logger:     logger,
	}
}

// Register starts tracking a run's source. rowCount is the number of rows
// already loaded, so the first poll only reports growth past it.
func (d *Detector) Register(runIdx int, src Source, rowCount int) error {
	modTime, size, err := src.Stat()
	if err != nil {
		return fmt.Errorf("register run %d: %w", runIdx, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.states[runIdx]; ok {
		return fmt.Errorf("run %d already registered", runIdx)
	}
	d.states[runIdx] = &types.StreamState{
		RunIndex:      runIdx,
		SourceID:      src.ID(),
		LastModTime:   modTime,
		LastRowCount:  rowCount,
		LastSizeBytes: size,
		LastChange:    time.Now(),
	}
	d.sources[runIdx] = src
	return nil
}

// Unregister stops tracking a run
func (d *Detector) Unregister(runIdx int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, runIdx)
	delete(d.sources, runIdx)
}

// State returns a copy of a run's stream state
func (d *Detector) State(runIdx int) (types.StreamState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[runIdx]
	if !ok {
		return types.StreamState{}, false
	}
	return *st, true
}

// RegisteredRuns returns the tracked run indices
func (d *Detector) RegisteredRuns() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, 0, len(d.states))
	for idx := range d.states {
		out = append(out, idx)
	}
	return out
}

// Poll classifies what changed at the source since the last commit
func (d *Detector) Poll(runIdx int) (Update, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[runIdx]
	if !ok {
		return Update{}, fmt.Errorf("run %d not registered", runIdx)
	}
	src := d.sources[runIdx]

	modTime, size, err := src.Stat()
	if err != nil {
		// A transiently unreachable source is not a detector failure;
		// report no change and retry next cycle.
		d.logger.Debug("source stat failed", "run", runIdx, "source", st.SourceID, "error", err)
		return d.finishLocked(st, Update{Kind: types.UpdateNoChange, ModTime: st.LastModTime, Size: st.LastSizeBytes}), nil
	}

	if modTime.Equal(st.LastModTime) {
		return d.finishLocked(st, Update{Kind: types.UpdateNoChange, ModTime: modTime, Size: size}), nil
	}

	if size < st.LastSizeBytes {
		// Appending-only incremental reads assume monotonic growth; a
		// shrink means the caller must reload the whole run.
		return d.finishLocked(st, Update{Kind: types.UpdateRewritten, ModTime: modTime, Size: size}), nil
	}

	up := Update{Kind: types.UpdateGrew, ModTime: modTime, Size: size}
	if st.LastSizeBytes > 0 && st.LastRowCount > 0 {
		bytesPerRow := float64(st.LastSizeBytes) / float64(st.LastRowCount)
		up.EstimatedNewRows = int(float64(size-st.LastSizeBytes) / bytesPerRow)
	}
	return d.finishLocked(st, up), nil
}

// Commit records the state observed by a completed upstream read. A
// committed row count below the previous one marks the source as rewritten
// under the reader; the caller should reload.
func (d *Detector) Commit(runIdx int, info CommitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[runIdx]
	if !ok {
		return fmt.Errorf("run %d not registered", runIdx)
	}
	if info.RowCount < st.LastRowCount {
		d.logger.Warn("row count regressed on commit", "run", runIdx,
			"previous", st.LastRowCount, "committed", info.RowCount)
	}
	st.LastModTime = info.ModTime
	st.LastSizeBytes = info.Size
	st.LastRowCount = info.RowCount
	st.UpdateCount++
	st.LastChange = time.Now()
	st.Stopped = false
	return nil
}

// finishLocked stamps the auto-stop latch onto the outgoing update
func (d *Detector) finishLocked(st *types.StreamState, up Update) Update {
	if up.Kind != types.UpdateNoChange {
		return up
	}
	if d.inactivity > 0 && !st.Stopped && time.Since(st.LastChange) > d.inactivity {
		st.Stopped = true
		up.ShouldStop = true
	}
	return up
}
