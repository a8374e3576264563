package engine

import (
	"fmt"
	"math"

	"github.com/vjranagit/tsdiff/pkg/types"
)

// relativeFloor keeps the relative-tolerance check defined where the
// baseline passes through zero.
const relativeFloor = 1e-10

// CompareSeries runs one baseline/candidate comparison over raw series.
// The candidate's time vector is shifted by cfg.TimeShift before
// synchronization. A comparison with no overlapping samples is rejected
// with ErrNoOverlap; a returned result always has at least one sample.
func CompareSeries(baseTime, baseData, candTime, candData []float64, cfg types.CompareConfig) (*types.CompareResult, error) {
	if len(baseData) == 0 || len(candData) == 0 {
		return nil, ErrEmptySignal
	}

	shifted := candTime
	if cfg.TimeShift != 0 {
		shifted = make([]float64, len(candTime))
		for i, t := range candTime {
			shifted[i] = t + cfg.TimeShift
		}
	}

	grid, base, cand := SyncSignals(baseTime, baseData, shifted, candData, cfg.Sync, cfg.Interp)
	if len(grid) == 0 {
		return nil, ErrNoOverlap
	}
	if len(base) != len(cand) {
		panic(fmt.Sprintf("engine: aligned lengths diverged: %d vs %d", len(base), len(cand)))
	}

	delta := make([]float64, len(grid))
	for i := range grid {
		delta[i] = base[i] - cand[i]
	}

	res := &types.CompareResult{
		Time:          grid,
		BaselineData:  base,
		CandidateData: cand,
		Delta:         delta,
		Correlation:   pearson(base, cand),
	}

	var sumSq, sum float64
	for _, d := range delta {
		if a := math.Abs(d); a > res.MaxAbsDiff {
			res.MaxAbsDiff = a
		}
		sumSq += d * d
		sum += d
	}
	n := float64(len(delta))
	res.RMSDiff = math.Sqrt(sumSq / n)
	res.MeanDiff = sum / n

	res.WithinTolerance = true
	if tol := cfg.Tolerance; !tol.Empty() {
		for i, d := range delta {
			if violates(d, base[i], tol) {
				res.Violations++
			}
		}
		res.ViolationPct = 100 * float64(res.Violations) / n
		res.WithinTolerance = res.Violations == 0
	}
	return res, nil
}

// violates applies the per-sample tolerance check. Absolute and relative
// criteria are OR'd: exceeding either one marks the sample.
func violates(delta, baseline float64, tol *types.ToleranceSpec) bool {
	ad := math.Abs(delta)
	if tol.Absolute != nil && ad > *tol.Absolute {
		return true
	}
	if tol.Relative != nil {
		ref := math.Max(math.Abs(baseline), relativeFloor)
		if ad > ref**tol.Relative {
			return true
		}
	}
	return false
}

// pearson computes the correlation coefficient. Fewer than 2 samples or
// zero variance on either side make the coefficient undefined; both cases
// report 1.0 so degenerate-but-identical inputs read as perfectly
// correlated.
func pearson(a, b []float64) float64 {
	n := len(a)
	if n < 2 {
		return 1.0
	}
	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 1.0
	}
	return cov / math.Sqrt(varA*varB)
}

// CompareSignal compares one named signal between the configured baseline
// and candidate runs.
func (e *Engine) CompareSignal(cfg types.CompareConfig, signal string) (*types.CompareResult, error) {
	baseRun, err := e.Run(cfg.BaselineRun)
	if err != nil {
		return nil, err
	}
	candRun, err := e.Run(cfg.CandidateRun)
	if err != nil {
		return nil, err
	}

	baseTime, baseData, err := e.Resolve(types.RunSignal(cfg.BaselineRun, signal))
	if err != nil {
		return nil, err
	}
	candTime, candData, err := e.Resolve(types.RunSignal(cfg.CandidateRun, signal))
	if err != nil {
		return nil, err
	}

	res, err := CompareSeries(baseTime, baseData, candTime, candData, cfg)
	if err != nil {
		return nil, fmt.Errorf("compare %q: %w", signal, err)
	}
	res.SignalName = signal
	res.BaselineName = baseRun.DisplayName
	res.CandidateName = candRun.DisplayName
	return res, nil
}

// CompareSignalCached is CompareSignal behind the result cache, when one
// is enabled. Cache keys include both run versions, so any append, reload,
// or offset change invalidates prior entries.
func (e *Engine) CompareSignalCached(cfg types.CompareConfig, signal string) (*types.CompareResult, error) {
	e.mu.RLock()
	cache := e.cache
	e.mu.RUnlock()
	if cache == nil {
		return e.CompareSignal(cfg, signal)
	}

	key := cache.Key(cfg, signal, e.RunVersion(cfg.BaselineRun), e.RunVersion(cfg.CandidateRun))
	if res, ok := cache.Get(key); ok {
		return res, nil
	}
	res, err := e.CompareSignal(cfg, signal)
	if err != nil {
		return nil, err
	}
	cache.Put(key, res)
	return res, nil
}

// SignalComparison is one entry of a batch comparison. A failed signal
// carries its reason in Err and never aborts the batch. ResidualShift is
// advisory: it is filled only when the tolerance carries a time criterion,
// and exceeding it never flips the value verdict.
type SignalComparison struct {
	Signal        string               `json:"signal"`
	Result        *types.CompareResult `json:"result,omitempty"`
	ResidualShift float64              `json:"residual_shift,omitempty"`
	ShiftExceeded bool                 `json:"shift_exceeded,omitempty"`
	Err           error                `json:"-"`
}

// Reason renders the failure for transport; empty on success
func (c SignalComparison) Reason() string {
	if c.Err == nil {
		return ""
	}
	return c.Err.Error()
}

// CompareRuns compares every configured signal between the two runs. An
// empty cfg.Signals defaults to the signals present in both runs.
func (e *Engine) CompareRuns(cfg types.CompareConfig) ([]SignalComparison, error) {
	if _, err := e.Run(cfg.BaselineRun); err != nil {
		return nil, err
	}
	if _, err := e.Run(cfg.CandidateRun); err != nil {
		return nil, err
	}

	signals := cfg.Signals
	if len(signals) == 0 {
		signals = e.CommonSignals(cfg.BaselineRun, cfg.CandidateRun)
	}

	checkShift := cfg.Tolerance != nil && cfg.Tolerance.Time != nil

	out := make([]SignalComparison, 0, len(signals))
	for _, name := range signals {
		res, err := e.CompareSignalCached(cfg, name)
		sc := SignalComparison{Signal: name, Result: res, Err: err}
		if err == nil && checkShift {
			sc.ResidualShift = e.residualShift(cfg, name, *cfg.Tolerance.Time)
			sc.ShiftExceeded = math.Abs(sc.ResidualShift) > *cfg.Tolerance.Time
		}
		out = append(out, sc)
	}
	return out, nil
}

// residualShift estimates the time shift still present between the two
// runs' signal after any manual cfg.TimeShift was applied. The search
// window extends well past the tolerance so an exceeding shift is still
// measurable.
func (e *Engine) residualShift(cfg types.CompareConfig, signal string, timeTol float64) float64 {
	baseTime, baseData, err := e.Resolve(types.RunSignal(cfg.BaselineRun, signal))
	if err != nil {
		return 0
	}
	candTime, candData, err := e.Resolve(types.RunSignal(cfg.CandidateRun, signal))
	if err != nil {
		return 0
	}
	if cfg.TimeShift != 0 {
		shifted := make([]float64, len(candTime))
		for i, t := range candTime {
			shifted[i] = t + cfg.TimeShift
		}
		candTime = shifted
	}
	return EstimateTimeShift(baseTime, baseData, candTime, candData, 10*timeTol)
}
