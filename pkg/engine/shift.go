package engine

import (
	"math"

	"github.com/vjranagit/tsdiff/pkg/types"
)

// shiftMaxSamples caps the cross-correlation grid. Non-uniform spacing can
// push min(meanDT) grids to enormous sizes; the cap is a safety valve and
// its exact value is tunable.
const shiftMaxSamples = 10_000

// EstimateTimeShift estimates how far the candidate is displaced in time
// from the baseline, in seconds, positive when the candidate occurs later.
// Both series are resampled onto a uniform grid over their overlap at
// dt = min(mean dt of each side), mean-centered, and cross-correlated; the
// lag of maximum correlation is converted back to time and clamped to
// [-maxShift, maxShift].
//
// This is a best-effort heuristic: every failure path (no overlap, too few
// points, degenerate spacing) returns 0.0 rather than an error, and the
// caller must treat the value as advisory.
func EstimateTimeShift(baseTime, baseData, candTime, candData []float64, maxShift float64) float64 {
	if len(baseTime) < 2 || len(candTime) < 2 ||
		len(baseTime) != len(baseData) || len(candTime) != len(candData) {
		return 0.0
	}

	lo := math.Max(baseTime[0], candTime[0])
	hi := math.Min(baseTime[len(baseTime)-1], candTime[len(candTime)-1])
	if lo >= hi {
		return 0.0
	}

	dtBase := (baseTime[len(baseTime)-1] - baseTime[0]) / float64(len(baseTime)-1)
	dtCand := (candTime[len(candTime)-1] - candTime[0]) / float64(len(candTime)-1)
	dt := math.Min(dtBase, dtCand)
	if dt <= 0 {
		return 0.0
	}

	n := int((hi-lo)/dt) + 1
	if n < 2 {
		return 0.0
	}
	if n > shiftMaxSamples {
		n = shiftMaxSamples
		dt = (hi - lo) / float64(n-1)
	}

	grid := make([]float64, n)
	for i := range grid {
		grid[i] = lo + float64(i)*dt
	}
	base := Interpolate(baseTime, baseData, grid, types.InterpLinear)
	cand := Interpolate(candTime, candData, grid, types.InterpLinear)
	meanCenter(base)
	meanCenter(cand)

	// Lags beyond maxShift would be clamped away anyway, so skip them.
	maxLag := n - 1
	if limit := int(maxShift/dt) + 1; limit < maxLag {
		maxLag = limit
	}

	bestLag, bestCorr := 0, math.Inf(-1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		var corr float64
		count := 0
		for i := 0; i < n; i++ {
			j := i + lag
			if j < 0 || j >= n {
				continue
			}
			corr += base[i] * cand[j]
			count++
		}
		if count == 0 {
			continue
		}
		// Normalize by the overlap length: larger lags sum fewer terms,
		// and a raw sum would bias the peak toward zero lag.
		corr /= float64(count)
		if corr > bestCorr {
			bestCorr, bestLag = corr, lag
		}
	}

	shift := float64(bestLag) * dt
	return math.Max(-maxShift, math.Min(maxShift, shift))
}

func meanCenter(data []float64) {
	var mean float64
	for _, x := range data {
		mean += x
	}
	mean /= float64(len(data))
	for i := range data {
		data[i] -= mean
	}
}
