package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vjranagit/tsdiff/pkg/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine()
}

func addRun(t *testing.T, e *Engine, name string, timeVec []float64, signals map[string][]float64) int {
	t.Helper()
	run := &types.Run{
		Path:        name + ".csv",
		DisplayName: name,
		Time:        timeVec,
		Signals:     make(map[string]*types.Signal),
	}
	for sigName, data := range signals {
		require.Len(t, data, len(timeVec))
		run.Signals[sigName] = &types.Signal{Name: sigName, Data: data, Kind: types.KindNormal}
	}
	return e.AddRun(run)
}

func TestUnaryDerivativeApproximatesSlope(t *testing.T) {
	e := newTestEngine(t)
	idx := addRun(t, e, "a", []float64{0, 1, 2, 3}, map[string][]float64{"x": {0, 1, 4, 9}})

	d, err := e.ApplyUnary(OpDerivative, types.RunSignal(idx, "x"))
	require.NoError(t, err)

	// x = t^2, so dx/dt = 2t at the interior points.
	assert.InDelta(t, 2.0, d.Data[1], 1e-9)
	assert.InDelta(t, 4.0, d.Data[2], 1e-9)
	assert.Equal(t, "derivative(x)", d.Name)
	assert.Equal(t, []float64{0, 1, 2, 3}, d.Time)
}

func TestUnaryIntegral(t *testing.T) {
	e := newTestEngine(t)
	idx := addRun(t, e, "a", []float64{0, 1, 2}, map[string][]float64{"x": {0, 2, 4}})

	d, err := e.ApplyUnary(OpIntegral, types.RunSignal(idx, "x"))
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 4}, d.Data)
}

func TestUnaryPointwiseOps(t *testing.T) {
	e := newTestEngine(t)
	idx := addRun(t, e, "a", []float64{0, 1, 2}, map[string][]float64{"x": {-4, 0, 9}})
	ref := types.RunSignal(idx, "x")

	d, err := e.ApplyUnary(OpAbs, ref)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 0, 9}, d.Data)

	d, err = e.ApplyUnary(OpSqrt, ref)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0, 3}, d.Data) // sqrt of |x|, never NaN

	d, err = e.ApplyUnary(OpNegate, ref)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 0, -9}, d.Data)
}

func TestUnaryNormalize(t *testing.T) {
	e := newTestEngine(t)
	idx := addRun(t, e, "a", []float64{0, 1, 2}, map[string][]float64{
		"x":    {10, 15, 20},
		"flat": {7, 7, 7},
	})

	d, err := e.ApplyUnary(OpNormalize, types.RunSignal(idx, "x"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1}, d.Data)

	d, err = e.ApplyUnary(OpNormalize, types.RunSignal(idx, "flat"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, d.Data)
}

func TestUnaryMovingRMS(t *testing.T) {
	e := newTestEngine(t)
	idx := addRun(t, e, "a", []float64{0, 1, 2}, map[string][]float64{"x": {3, 4, 0}})

	d, err := e.ApplyUnary(OpRMS, types.RunSignal(idx, "x"))
	require.NoError(t, err)

	require.Len(t, d.Data, 3)
	assert.InDelta(t, 3.0, d.Data[0], 1e-12)
	assert.InDelta(t, math.Sqrt(12.5), d.Data[1], 1e-12)
	assert.InDelta(t, math.Sqrt(25.0/3), d.Data[2], 1e-12)
}

// A huge sample leaving the window can cancel the running sum of squares
// below zero; the RMS must come back as 0, not NaN, and stay finite for
// every later sample.
func TestMovingRMSMixedMagnitudes(t *testing.T) {
	data := make([]float64, 30)
	data[0] = 1e8
	data[1] = 1e-4
	out := movingRMS(data, 10)

	require.Len(t, out, len(data))
	for i, v := range out {
		require.Falsef(t, math.IsNaN(v), "NaN at index %d", i)
		assert.GreaterOrEqual(t, v, 0.0)
	}
	// Once both nonzero samples have left the window, the RMS is zero.
	assert.Equal(t, 0.0, out[len(out)-1])
}

func TestUnaryEmptySource(t *testing.T) {
	e := newTestEngine(t)
	e.AddDerived(&types.Derived{Name: "empty", Operation: "test"})

	_, err := e.ApplyUnary(OpAbs, types.DerivedSignal("empty"))
	assert.ErrorIs(t, err, ErrEmptySignal)
}

func TestBinaryOps(t *testing.T) {
	e := newTestEngine(t)
	idx := addRun(t, e, "a", []float64{0, 1, 2}, map[string][]float64{
		"x": {2, 4, 6},
		"y": {1, 0, 3},
	})
	x := types.RunSignal(idx, "x")
	y := types.RunSignal(idx, "y")

	d, err := e.ApplyBinary(OpAdd, x, y, types.InterpLinear)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 9}, d.Data)
	assert.Equal(t, "x + y", d.Name)

	d, err = e.ApplyBinary(OpDiv, x, y, types.InterpLinear)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0, 2}, d.Data) // zero divisor yields 0

	d, err = e.ApplyBinary(OpAbsDiff, y, x, types.InterpLinear)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 4, 3}, d.Data)
	assert.Equal(t, "absdiff(y, x)", d.Name)
}

func TestBinaryAlignsDifferentGrids(t *testing.T) {
	e := newTestEngine(t)
	a := addRun(t, e, "a", []float64{0, 1, 2}, map[string][]float64{"x": {0, 10, 20}})
	b := addRun(t, e, "b", []float64{0, 0.5, 1, 1.5, 2}, map[string][]float64{"y": {1, 1, 1, 1, 1}})

	d, err := e.ApplyBinary(OpSub, types.RunSignal(a, "x"), types.RunSignal(b, "y"), types.InterpLinear)
	require.NoError(t, err)

	// The denser grid (b's) carries the result.
	assert.Equal(t, []float64{0, 0.5, 1, 1.5, 2}, d.Time)
	assert.Equal(t, []float64{-1, 4, 9, 14, 19}, d.Data)
}

func TestBinaryNoOverlap(t *testing.T) {
	e := newTestEngine(t)
	a := addRun(t, e, "a", []float64{0, 1}, map[string][]float64{"x": {1, 2}})
	b := addRun(t, e, "b", []float64{10, 11}, map[string][]float64{"y": {3, 4}})

	_, err := e.ApplyBinary(OpAdd, types.RunSignal(a, "x"), types.RunSignal(b, "y"), types.InterpLinear)
	assert.ErrorIs(t, err, ErrNoOverlap)
}

func TestMultiMeanOfConstants(t *testing.T) {
	e := newTestEngine(t)
	timeVec := []float64{0, 1, 2, 3}
	idx := addRun(t, e, "a", timeVec, map[string][]float64{
		"p": {5, 5, 5, 5},
		"q": {10, 10, 10, 10},
		"r": {15, 15, 15, 15},
	})

	d, err := e.ApplyMulti(OpMean, []types.SignalRef{
		types.RunSignal(idx, "p"),
		types.RunSignal(idx, "q"),
		types.RunSignal(idx, "r"),
	}, types.InterpLinear)
	require.NoError(t, err)

	assert.Equal(t, timeVec, d.Time)
	assert.Equal(t, []float64{10, 10, 10, 10}, d.Data)
}

func TestMultiReductions(t *testing.T) {
	e := newTestEngine(t)
	idx := addRun(t, e, "a", []float64{0, 1}, map[string][]float64{
		"p": {3, 1},
		"q": {4, 2},
		"r": {0, 2},
	})
	refs := []types.SignalRef{
		types.RunSignal(idx, "p"),
		types.RunSignal(idx, "q"),
		types.RunSignal(idx, "r"),
	}

	d, err := e.ApplyMulti(OpNorm, refs, types.InterpLinear)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, d.Data[0], 1e-12)
	assert.InDelta(t, 3.0, d.Data[1], 1e-12)

	d, err = e.ApplyMulti(OpMin, refs, types.InterpLinear)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, d.Data)

	d, err = e.ApplyMulti(OpMax, refs, types.InterpLinear)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 2}, d.Data)

	d, err = e.ApplyMulti(OpSum, refs, types.InterpLinear)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 5}, d.Data)
}

func TestMultiSkipsEmptyAndFailsBelowTwo(t *testing.T) {
	e := newTestEngine(t)
	idx := addRun(t, e, "a", []float64{0, 1}, map[string][]float64{"p": {1, 2}})
	e.AddDerived(&types.Derived{Name: "e1", Operation: "test"})
	e.AddDerived(&types.Derived{Name: "e2", Operation: "test"})

	_, err := e.ApplyMulti(OpMean, []types.SignalRef{
		types.RunSignal(idx, "p"),
		types.DerivedSignal("e1"),
		types.DerivedSignal("e2"),
	}, types.InterpLinear)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = e.ApplyMulti(OpMean, []types.SignalRef{types.RunSignal(idx, "p")}, types.InterpLinear)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestDerivedChaining(t *testing.T) {
	e := newTestEngine(t)
	idx := addRun(t, e, "a", []float64{0, 1, 2}, map[string][]float64{"x": {-1, 2, -3}})

	d, err := e.ApplyUnary(OpAbs, types.RunSignal(idx, "x"))
	require.NoError(t, err)
	e.AddDerived(d)

	d2, err := e.ApplyUnary(OpNegate, types.DerivedSignal(d.Name))
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -2, -3}, d2.Data)
	assert.Equal(t, "negate(abs(x))", d2.Name)
}
