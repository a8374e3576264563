// Package engine implements the computation core: time-base alignment,
// signal operations, run comparison, and time-shift estimation over the
// in-memory run registry.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vjranagit/tsdiff/pkg/types"
)

// Engine holds the loaded runs and the derived-signal registry. Reads far
// outnumber writes (appends from the streaming path, offset edits), so a
// readers-writer lock guards both namespaces. The engine never mutates data
// it reads during a computation; every operation works on a snapshot copy.
type Engine struct {
	mu          sync.RWMutex
	runs        []*types.Run
	runVersions []uint64

	derived        map[string]*types.Derived // keyed by handle
	derivedHandles map[string]string         // name -> handle
	derivedVersion uint64

	index *SignalIndex
	cache *ResultCache
}

// NewEngine creates an empty engine
func NewEngine() *Engine {
	return &Engine{
		derived:        make(map[string]*types.Derived),
		derivedHandles: make(map[string]string),
		index:          NewSignalIndex(),
	}
}

// EnableCache attaches a compare-result cache. Cached lookups key on run
// versions, so appends and reloads invalidate stale entries implicitly.
func (e *Engine) EnableCache(capacity int, ttl time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = NewResultCache(capacity, ttl)
}

// AddRun registers a run and returns its index
func (e *Engine) AddRun(run *types.Run) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	run.RefreshMeta()
	idx := len(e.runs)
	e.runs = append(e.runs, run)
	e.runVersions = append(e.runVersions, 1)
	e.index.Add(idx, run.SignalNames())
	return idx
}

// Run returns the run at idx
func (e *Engine) Run(idx int) (*types.Run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if idx < 0 || idx >= len(e.runs) {
		return nil, fmt.Errorf("%w: index %d", ErrUnknownRun, idx)
	}
	return e.runs[idx], nil
}

// Runs returns the registered runs in index order
func (e *Engine) Runs() []*types.Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*types.Run, len(e.runs))
	copy(out, e.runs)
	return out
}

// RunCount returns the number of registered runs
func (e *Engine) RunCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.runs)
}

// RemoveRun drops the run at idx. Indices of later runs shift down by one;
// callers holding indices must re-resolve them.
func (e *Engine) RemoveRun(idx int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx < 0 || idx >= len(e.runs) {
		return fmt.Errorf("%w: index %d", ErrUnknownRun, idx)
	}
	e.runs = append(e.runs[:idx], e.runs[idx+1:]...)
	e.runVersions = append(e.runVersions[:idx], e.runVersions[idx+1:]...)
	e.rebuildIndexLocked()
	return nil
}

// ReplaceRun swaps in a fully reloaded run, used after a source rewrite
func (e *Engine) ReplaceRun(idx int, run *types.Run) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx < 0 || idx >= len(e.runs) {
		return fmt.Errorf("%w: index %d", ErrUnknownRun, idx)
	}
	run.RefreshMeta()
	e.runs[idx] = run
	e.runVersions[idx]++
	e.rebuildIndexLocked()
	return nil
}

// AppendRows extends a run with newly streamed rows. The delta must carry
// every column the run already has; delta columns the run does not know
// are ignored.
func (e *Engine) AppendRows(idx int, delta types.RunDelta) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx < 0 || idx >= len(e.runs) {
		return fmt.Errorf("%w: index %d", ErrUnknownRun, idx)
	}
	if delta.Rows() == 0 {
		return nil
	}

	run := e.runs[idx]
	if len(run.Time) > 0 && delta.Time[0] < run.Time[len(run.Time)-1] {
		return fmt.Errorf("append to run %d: delta starts at %g before run end %g",
			idx, delta.Time[0], run.Time[len(run.Time)-1])
	}
	for name := range run.Signals {
		if data, ok := delta.Signals[name]; !ok || len(data) != delta.Rows() {
			return fmt.Errorf("append to run %d: delta missing column %q", idx, name)
		}
	}

	run.Time = append(run.Time, delta.Time...)
	for name, sig := range run.Signals {
		sig.Data = append(sig.Data, delta.Signals[name]...)
	}
	run.RefreshMeta()
	e.runVersions[idx]++
	return nil
}

// SetRunOffset updates a run's time offset, bumping its version so cached
// comparisons against it become stale.
func (e *Engine) SetRunOffset(idx int, offset float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx < 0 || idx >= len(e.runs) {
		return fmt.Errorf("%w: index %d", ErrUnknownRun, idx)
	}
	e.runs[idx].TimeOffset = offset
	e.runVersions[idx]++
	return nil
}

// RunVersion returns the run's mutation counter
func (e *Engine) RunVersion(idx int) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if idx < 0 || idx >= len(e.runVersions) {
		return 0
	}
	return e.runVersions[idx]
}

// AddDerived registers a derived signal and returns its handle. A derived
// signal with the same name replaces the previous one; the old handle
// becomes unreachable.
func (e *Engine) AddDerived(d *types.Derived) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if d.Handle == "" {
		d.Handle = uuid.NewString()
	}
	if old, ok := e.derivedHandles[d.Name]; ok {
		delete(e.derived, old)
	}
	e.derived[d.Handle] = d
	e.derivedHandles[d.Name] = d.Handle
	e.derivedVersion++
	return d.Handle
}

// Derived returns the derived signal with the given handle
func (e *Engine) Derived(handle string) (*types.Derived, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.derived[handle]
	return d, ok
}

// DerivedByName resolves a derived signal by its display name
func (e *Engine) DerivedByName(name string) (*types.Derived, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	handle, ok := e.derivedHandles[name]
	if !ok {
		return nil, false
	}
	d, ok := e.derived[handle]
	return d, ok
}

// RemoveDerived drops a derived signal by handle
func (e *Engine) RemoveDerived(handle string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.derived[handle]
	if !ok {
		return false
	}
	delete(e.derived, handle)
	if e.derivedHandles[d.Name] == handle {
		delete(e.derivedHandles, d.Name)
	}
	e.derivedVersion++
	return true
}

// DerivedSignals returns all derived signals sorted by name
func (e *Engine) DerivedSignals() []*types.Derived {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*types.Derived, 0, len(e.derived))
	for _, d := range e.derived {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve maps a signal reference to its (time, data) pair. Run-backed
// references get the run and signal time offsets applied. Both slices are
// copies; callers may mutate them freely without touching engine state.
func (e *Engine) Resolve(ref types.SignalRef) (timeVec, data []float64, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolveLocked(ref)
}

func (e *Engine) resolveLocked(ref types.SignalRef) (timeVec, data []float64, err error) {
	if ref.IsDerived() {
		handle, ok := e.derivedHandles[ref.Name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: derived %q", ErrUnknownSignal, ref.Name)
		}
		d := e.derived[handle]
		return append([]float64(nil), d.Time...), append([]float64(nil), d.Data...), nil
	}

	if ref.Run < 0 || ref.Run >= len(e.runs) {
		return nil, nil, fmt.Errorf("%w: index %d", ErrUnknownRun, ref.Run)
	}
	run := e.runs[ref.Run]
	sig, ok := run.Signals[ref.Name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q in run %d", ErrUnknownSignal, ref.Name, ref.Run)
	}
	return run.EffectiveTime(ref.Name), append([]float64(nil), sig.Data...), nil
}

// SignalData is the plotting accessor: the raw (time, data) pair for a
// reference with all offsets applied.
func (e *Engine) SignalData(ref types.SignalRef) (timeVec, data []float64, err error) {
	return e.Resolve(ref)
}

// RunsWith returns the indices of runs carrying the named signal
func (e *Engine) RunsWith(name string) []int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.RunsWith(name)
}

// CommonSignals returns the signal names present in both runs, sorted
func (e *Engine) CommonSignals(a, b int) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.CommonSignals(a, b)
}

func (e *Engine) rebuildIndexLocked() {
	e.index.Clear()
	for i, run := range e.runs {
		e.index.Add(i, run.SignalNames())
	}
}
