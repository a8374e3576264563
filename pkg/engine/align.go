package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/vjranagit/tsdiff/pkg/types"
)

// Interpolate resamples (srcTime, srcData) onto dstTime.
//
// Linear interpolation saturates at the boundaries: destination points
// before srcTime[0] take srcData[0], points after srcTime[last] take
// srcData[last]. There is no extrapolation; baseline sync and XY alignment
// depend on this clamping contract.
//
// Nearest takes the insertion index from a binary search on srcTime,
// clamped to [0, len-1].
//
// Preconditions: srcTime non-decreasing, len(srcTime) == len(srcData) >= 1.
// Violations are caller bugs and panic.
func Interpolate(srcTime, srcData, dstTime []float64, method types.InterpMethod) []float64 {
	checkSeries(srcTime, srcData)

	out := make([]float64, len(dstTime))
	switch method {
	case types.InterpNearest:
		for i, t := range dstTime {
			idx := sort.SearchFloat64s(srcTime, t)
			if idx >= len(srcTime) {
				idx = len(srcTime) - 1
			}
			out[i] = srcData[idx]
		}
	default: // linear
		last := len(srcTime) - 1
		for i, t := range dstTime {
			switch {
			case t <= srcTime[0]:
				out[i] = srcData[0]
			case t >= srcTime[last]:
				out[i] = srcData[last]
			default:
				// First index with srcTime[idx] >= t; idx >= 1 here.
				idx := sort.SearchFloat64s(srcTime, t)
				t0, t1 := srcTime[idx-1], srcTime[idx]
				if t1 == t0 {
					out[i] = srcData[idx]
					continue
				}
				frac := (t - t0) / (t1 - t0)
				out[i] = srcData[idx-1] + frac*(srcData[idx]-srcData[idx-1])
			}
		}
	}
	return out
}

// SyncSignals resamples two series onto a common grid.
//
// Baseline keeps A's grid untouched and interpolates B onto it. Union merges
// both grids (sorted, deduplicated) and interpolates both. Intersection
// restricts to the overlapping window and uses whichever series has more
// samples inside it as the grid.
//
// Fully disjoint time ranges yield three empty slices for every method,
// never an error.
func SyncSignals(timeA, dataA, timeB, dataB []float64, sync types.SyncMethod, interp types.InterpMethod) (timeOut, aAligned, bAligned []float64) {
	checkSeries(timeA, dataA)
	checkSeries(timeB, dataB)

	lo := math.Max(timeA[0], timeB[0])
	hi := math.Min(timeA[len(timeA)-1], timeB[len(timeB)-1])
	if lo > hi {
		return nil, nil, nil
	}

	switch sync {
	case types.SyncUnion:
		timeOut = unionGrid(timeA, timeB)
		aAligned = Interpolate(timeA, dataA, timeOut, interp)
		bAligned = Interpolate(timeB, dataB, timeOut, interp)

	case types.SyncIntersection:
		timeOut = denserWithin(timeA, timeB, lo, hi)
		if len(timeOut) == 0 {
			return nil, nil, nil
		}
		aAligned = Interpolate(timeA, dataA, timeOut, interp)
		bAligned = Interpolate(timeB, dataB, timeOut, interp)

	default: // baseline
		timeOut = append([]float64(nil), timeA...)
		aAligned = append([]float64(nil), dataA...)
		bAligned = Interpolate(timeB, dataB, timeOut, interp)
	}
	return timeOut, aAligned, bAligned
}

// AlignTwoSignals interpolates (otherTime, otherData) onto refTime, used by
// XY-style correlation where one signal's time base doubles as the X axis of
// another. Positions of refTime outside the overlap are NaN and excluded by
// the caller. hasOverlap is false when fewer than 2 reference points fall
// inside the overlap.
func AlignTwoSignals(refTime, refData, otherTime, otherData []float64, interp types.InterpMethod) (aligned []float64, hasOverlap bool) {
	checkSeries(refTime, refData)
	checkSeries(otherTime, otherData)

	lo := math.Max(refTime[0], otherTime[0])
	hi := math.Min(refTime[len(refTime)-1], otherTime[len(otherTime)-1])

	aligned = make([]float64, len(refTime))
	inside := 0
	for i, t := range refTime {
		if t < lo || t > hi {
			aligned[i] = math.NaN()
			continue
		}
		inside++
	}
	if lo > hi || inside < 2 {
		for i := range aligned {
			aligned[i] = math.NaN()
		}
		return aligned, false
	}

	interpolated := Interpolate(otherTime, otherData, refTime, interp)
	for i, t := range refTime {
		if t >= lo && t <= hi {
			aligned[i] = interpolated[i]
		}
	}
	return aligned, true
}

// unionGrid merges two non-decreasing grids, dropping duplicates.
func unionGrid(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = appendUnique(out, a[i])
			i++
		case a[i] > b[j]:
			out = appendUnique(out, b[j])
			j++
		default:
			out = appendUnique(out, a[i])
			i++
			j++
		}
	}
	for ; i < len(a); i++ {
		out = appendUnique(out, a[i])
	}
	for ; j < len(b); j++ {
		out = appendUnique(out, b[j])
	}
	return out
}

func appendUnique(grid []float64, t float64) []float64 {
	if n := len(grid); n > 0 && grid[n-1] == t {
		return grid
	}
	return append(grid, t)
}

// denserWithin returns the points of whichever grid has more samples inside
// [lo, hi], restricted to that window.
func denserWithin(a, b []float64, lo, hi float64) []float64 {
	aw := within(a, lo, hi)
	bw := within(b, lo, hi)
	if len(bw) > len(aw) {
		return bw
	}
	return aw
}

func within(grid []float64, lo, hi float64) []float64 {
	start := sort.SearchFloat64s(grid, lo)
	end := sort.SearchFloat64s(grid, hi)
	for end < len(grid) && grid[end] == hi {
		end++
	}
	out := make([]float64, end-start)
	copy(out, grid[start:end])
	return out
}

// checkSeries asserts the alignment preconditions. A violation here means a
// malformed Run escaped the loader, which is a programmer error.
func checkSeries(time, data []float64) {
	if len(time) == 0 || len(time) != len(data) {
		panic(fmt.Sprintf("engine: invalid series: %d time points, %d data points", len(time), len(data)))
	}
	for i := 1; i < len(time); i++ {
		if time[i] < time[i-1] {
			panic(fmt.Sprintf("engine: time vector decreases at index %d (%g -> %g)", i, time[i-1], time[i]))
		}
	}
}
