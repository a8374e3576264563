// Package types contains the shared data model for runs, signals, and
// comparison results.
package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SignalKind classifies a signal for display purposes
type SignalKind string

const (
	// KindNormal is a continuous-valued signal
	KindNormal SignalKind = "normal"
	// KindState is a discrete/enumerated signal (rendered as steps)
	KindState SignalKind = "state"
)

// Display holds presentation metadata for a signal
type Display struct {
	Name       string  `json:"name,omitempty"`
	Color      string  `json:"color,omitempty"`
	LineWidth  float64 `json:"line_width,omitempty"`
	TimeOffset float64 `json:"time_offset,omitempty"`
}

// Signal is one named value vector within a run
type Signal struct {
	Name    string     `json:"name"`
	Data    []float64  `json:"data"`
	Kind    SignalKind `json:"kind"`
	Display Display    `json:"display"`
}

// RunMeta holds derived statistics about a run's time vector
type RunMeta struct {
	SampleCount int     `json:"sample_count"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	MeanDT      float64 `json:"mean_dt"`
}

// Run is one loaded time-series source: a shared time vector plus named
// signal vectors. Invariant: len(Time) == len(sig.Data) for every signal;
// the loader enforces this by dropping malformed rows before a Run is built.
type Run struct {
	Path        string             `json:"path"`
	DisplayName string             `json:"display_name"`
	Time        []float64          `json:"time"`
	Signals     map[string]*Signal `json:"signals"`
	TimeOffset  float64            `json:"time_offset"`
	Meta        RunMeta            `json:"meta"`
}

// RefreshMeta recomputes the run's metadata from its time vector.
// Call after loading, appending, or reloading.
func (r *Run) RefreshMeta() {
	n := len(r.Time)
	r.Meta.SampleCount = n
	if n == 0 {
		r.Meta = RunMeta{}
		return
	}
	r.Meta.StartTime = r.Time[0]
	r.Meta.EndTime = r.Time[n-1]
	if n > 1 {
		r.Meta.MeanDT = (r.Time[n-1] - r.Time[0]) / float64(n-1)
	} else {
		r.Meta.MeanDT = 0
	}
}

// EffectiveTime returns a copy of the run's time vector with the run-level
// offset and the named signal's offset applied. Always recomputed so offset
// edits can never desync from a cached vector.
func (r *Run) EffectiveTime(signalName string) []float64 {
	offset := r.TimeOffset
	if sig, ok := r.Signals[signalName]; ok {
		offset += sig.Display.TimeOffset
	}
	out := make([]float64, len(r.Time))
	for i, t := range r.Time {
		out[i] = t + offset
	}
	return out
}

// SignalNames returns the run's signal names in sorted order
func (r *Run) SignalNames() []string {
	names := make([]string, 0, len(r.Signals))
	for name := range r.Signals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunDelta carries rows appended to a live-updating run source. The loader
// produces deltas consistent with the run's existing columns.
type RunDelta struct {
	Time    []float64            `json:"time"`
	Signals map[string][]float64 `json:"signals"`
}

// Rows returns the number of appended rows
func (d RunDelta) Rows() int { return len(d.Time) }

// DerivedRun is the run index reserved for the derived-signal namespace.
const DerivedRun = -1

// SignalRef identifies either a run-backed signal or a derived signal.
// Run == DerivedRun selects the derived namespace. This replaces the legacy
// "<run_idx>:<signal_name>" string keys; String/ParseSignalRef keep the
// legacy form at serialization boundaries only.
type SignalRef struct {
	Run  int    `json:"run"`
	Name string `json:"name"`
}

// RunSignal builds a reference to a signal owned by a run
func RunSignal(run int, name string) SignalRef {
	return SignalRef{Run: run, Name: name}
}

// DerivedSignal builds a reference into the derived namespace
func DerivedSignal(name string) SignalRef {
	return SignalRef{Run: DerivedRun, Name: name}
}

// IsDerived reports whether the reference targets the derived namespace
func (r SignalRef) IsDerived() bool { return r.Run == DerivedRun }

// String renders the legacy "run:name" key form
func (r SignalRef) String() string {
	return strconv.Itoa(r.Run) + ":" + r.Name
}

// ParseSignalRef parses the "run:name" key form
func ParseSignalRef(s string) (SignalRef, error) {
	idx := strings.Index(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return SignalRef{}, fmt.Errorf("invalid signal ref %q", s)
	}
	run, err := strconv.Atoi(s[:idx])
	if err != nil {
		return SignalRef{}, fmt.Errorf("invalid signal ref %q: %w", s, err)
	}
	return SignalRef{Run: run, Name: s[idx+1:]}, nil
}

// Derived is a computed signal with its provenance. Handle is the generated
// registry key; a derived signal is unreachable once its handle is removed.
type Derived struct {
	Handle    string      `json:"handle"`
	Name      string      `json:"name"`
	Time      []float64   `json:"time"`
	Data      []float64   `json:"data"`
	Operation string      `json:"operation"`
	Sources   []SignalRef `json:"sources"`
	Display   Display     `json:"display"`
}

// SyncMethod selects how two time bases are merged
type SyncMethod string

// Synchronization strategies
const (
	SyncBaseline     SyncMethod = "baseline"
	SyncUnion        SyncMethod = "union"
	SyncIntersection SyncMethod = "intersection"
)

// ParseSyncMethod parses a sync method name
func ParseSyncMethod(s string) (SyncMethod, error) {
	switch SyncMethod(strings.ToLower(s)) {
	case SyncBaseline:
		return SyncBaseline, nil
	case SyncUnion:
		return SyncUnion, nil
	case SyncIntersection:
		return SyncIntersection, nil
	}
	return "", fmt.Errorf("unknown sync method %q", s)
}

// InterpMethod selects how samples are resampled onto a new grid
type InterpMethod string

// Interpolation methods
const (
	InterpLinear  InterpMethod = "linear"
	InterpNearest InterpMethod = "nearest"
)

// ParseInterpMethod parses an interpolation method name
func ParseInterpMethod(s string) (InterpMethod, error) {
	switch InterpMethod(strings.ToLower(s)) {
	case InterpLinear:
		return InterpLinear, nil
	case InterpNearest:
		return InterpNearest, nil
	}
	return "", fmt.Errorf("unknown interpolation method %q", s)
}

// ToleranceSpec configures pass/fail judgment. Nil fields are not checked.
type ToleranceSpec struct {
	Absolute *float64 `json:"absolute,omitempty"`
	Relative *float64 `json:"relative,omitempty"`
	Time     *float64 `json:"time,omitempty"`
}

// Empty reports whether no criterion is configured
func (t *ToleranceSpec) Empty() bool {
	return t == nil || (t.Absolute == nil && t.Relative == nil && t.Time == nil)
}

// CompareConfig describes one baseline/candidate comparison request.
// TimeShift is added to the candidate's time vector before synchronization.
type CompareConfig struct {
	BaselineRun  int            `json:"baseline_run"`
	CandidateRun int            `json:"candidate_run"`
	Signals      []string       `json:"signals,omitempty"`
	Sync         SyncMethod     `json:"sync"`
	Interp       InterpMethod   `json:"interp"`
	TimeShift    float64        `json:"time_shift,omitempty"`
	Tolerance    *ToleranceSpec `json:"tolerance,omitempty"`
}

// CompareResult holds the aligned series and metrics for one signal.
// Time, BaselineData, CandidateData, and Delta always have equal length.
// A comparison with no overlap never produces a result; it is rejected with
// an error instead, so "no comparable overlap" and "computed, zero
// difference" cannot be confused.
type CompareResult struct {
	SignalName    string    `json:"signal_name"`
	BaselineName  string    `json:"baseline_name"`
	CandidateName string    `json:"candidate_name"`
	Time          []float64 `json:"time"`
	BaselineData  []float64 `json:"baseline_data"`
	CandidateData []float64 `json:"candidate_data"`
	Delta         []float64 `json:"delta"`

	MaxAbsDiff  float64 `json:"max_abs_diff"`
	RMSDiff     float64 `json:"rms_diff"`
	MeanDiff    float64 `json:"mean_diff"`
	Correlation float64 `json:"correlation"`

	WithinTolerance bool    `json:"within_tolerance"`
	Violations      uint    `json:"violations"`
	ViolationPct    float64 `json:"violation_pct"`
}

// UpdateKind classifies what a streaming poll observed
type UpdateKind string

// Poll outcomes
const (
	UpdateNoChange  UpdateKind = "no_change"
	UpdateGrew      UpdateKind = "grew"
	UpdateRewritten UpdateKind = "rewritten"
)

// StreamState tracks one registered run's source between polls. Mutated
// only by the streaming detector; owned by exactly one poller at a time.
type StreamState struct {
	RunIndex      int       `json:"run_index"`
	SourceID      string    `json:"source_id"`
	LastModTime   time.Time `json:"last_mod_time"`
	LastRowCount  int       `json:"last_row_count"`
	LastSizeBytes int64     `json:"last_size_bytes"`
	UpdateCount   uint64    `json:"update_count"`
	LastChange    time.Time `json:"last_change"`
	Stopped       bool      `json:"stopped"`
}
