package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/vjranagit/tsdiff/pkg/types"
)

// UnaryOp names a single-source transform
type UnaryOp string

// Unary operations. All keep the source time base.
const (
	OpDerivative UnaryOp = "derivative"
	OpIntegral   UnaryOp = "integral"
	OpAbs        UnaryOp = "abs"
	OpSqrt       UnaryOp = "sqrt"
	OpNegate     UnaryOp = "negate"
	OpNormalize  UnaryOp = "normalize"
	OpRMS        UnaryOp = "rms"
)

// BinaryOp names a two-source pointwise transform
type BinaryOp string

// Binary operations, applied after alignment
const (
	OpAdd     BinaryOp = "add"
	OpSub     BinaryOp = "sub"
	OpMul     BinaryOp = "mul"
	OpDiv     BinaryOp = "div"
	OpAbsDiff BinaryOp = "absdiff"
)

// MultiOp names an elementwise reduction across three or more sources
type MultiOp string

// Multi-signal reductions
const (
	OpNorm MultiOp = "norm"
	OpMean MultiOp = "mean"
	OpMin  MultiOp = "min"
	OpMax  MultiOp = "max"
	OpSum  MultiOp = "sum"
)

// rmsWindowMax bounds the moving-RMS trailing window
const rmsWindowMax = 10

// ApplyUnary computes op over the referenced signal, keeping its time base.
// An empty source yields ErrEmptySignal, never a zero-valued result.
func (e *Engine) ApplyUnary(op UnaryOp, ref types.SignalRef) (*types.Derived, error) {
	timeVec, data, err := e.Resolve(ref)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s(%s): %w", op, ref.Name, ErrEmptySignal)
	}

	var out []float64
	switch op {
	case OpDerivative:
		out = gradient(timeVec, data)
	case OpIntegral:
		out = cumTrapezoid(timeVec, data)
	case OpAbs:
		out = mapData(data, math.Abs)
	case OpSqrt:
		out = mapData(data, func(x float64) float64 { return math.Sqrt(math.Abs(x)) })
	case OpNegate:
		out = mapData(data, func(x float64) float64 { return -x })
	case OpNormalize:
		out = normalize(data)
	case OpRMS:
		out = movingRMS(data, min(rmsWindowMax, len(data)))
	default:
		return nil, fmt.Errorf("%w: unary %q", ErrUnknownOperation, op)
	}

	return &types.Derived{
		Name:      fmt.Sprintf("%s(%s)", op, ref.Name),
		Time:      timeVec,
		Data:      out,
		Operation: string(op),
		Sources:   []types.SignalRef{ref},
	}, nil
}

// ApplyBinary aligns the two referenced signals onto their overlapping
// window (denser grid wins) and applies op pointwise. Disjoint time ranges
// yield ErrNoOverlap.
func (e *Engine) ApplyBinary(op BinaryOp, a, b types.SignalRef, interp types.InterpMethod) (*types.Derived, error) {
	timeA, dataA, err := e.Resolve(a)
	if err != nil {
		return nil, err
	}
	timeB, dataB, err := e.Resolve(b)
	if err != nil {
		return nil, err
	}
	if len(dataA) == 0 || len(dataB) == 0 {
		return nil, fmt.Errorf("%s(%s, %s): %w", op, a.Name, b.Name, ErrEmptySignal)
	}

	grid, av, bv := SyncSignals(timeA, dataA, timeB, dataB, types.SyncIntersection, interp)
	if len(grid) == 0 {
		return nil, fmt.Errorf("%s(%s, %s): %w", op, a.Name, b.Name, ErrNoOverlap)
	}
	if len(av) != len(bv) {
		panic(fmt.Sprintf("engine: aligned lengths diverged: %d vs %d", len(av), len(bv)))
	}

	out := make([]float64, len(grid))
	for i := range grid {
		switch op {
		case OpAdd:
			out[i] = av[i] + bv[i]
		case OpSub:
			out[i] = av[i] - bv[i]
		case OpMul:
			out[i] = av[i] * bv[i]
		case OpDiv:
			if bv[i] == 0 {
				out[i] = 0
			} else {
				out[i] = av[i] / bv[i]
			}
		case OpAbsDiff:
			out[i] = math.Abs(av[i] - bv[i])
		default:
			return nil, fmt.Errorf("%w: binary %q", ErrUnknownOperation, op)
		}
	}

	return &types.Derived{
		Name:      binaryName(op, a.Name, b.Name),
		Time:      grid,
		Data:      out,
		Operation: string(op),
		Sources:   []types.SignalRef{a, b},
	}, nil
}

// ApplyMulti reduces three or more signals elementwise. The first usable
// signal's grid becomes the reference; the rest are interpolated onto it.
// Zero-data sources are skipped; fewer than 2 usable sources is an error,
// not a silently degraded result.
func (e *Engine) ApplyMulti(op MultiOp, refs []types.SignalRef, interp types.InterpMethod) (*types.Derived, error) {
	if len(refs) < 3 {
		return nil, fmt.Errorf("%s: need at least 3 sources, got %d: %w", op, len(refs), ErrInsufficientData)
	}

	var grid []float64
	var rows [][]float64
	var used []types.SignalRef
	names := make([]string, 0, len(refs))

	for _, ref := range refs {
		timeVec, data, err := e.Resolve(ref)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		if grid == nil {
			grid = timeVec
			rows = append(rows, data)
		} else {
			rows = append(rows, Interpolate(timeVec, data, grid, interp))
		}
		used = append(used, ref)
		names = append(names, ref.Name)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s: %d usable sources: %w", op, len(rows), ErrInsufficientData)
	}

	out := make([]float64, len(grid))
	for i := range grid {
		switch op {
		case OpNorm:
			var ss float64
			for _, row := range rows {
				ss += row[i] * row[i]
			}
			out[i] = math.Sqrt(ss)
		case OpMean:
			var sum float64
			for _, row := range rows {
				sum += row[i]
			}
			out[i] = sum / float64(len(rows))
		case OpMin:
			m := rows[0][i]
			for _, row := range rows[1:] {
				m = math.Min(m, row[i])
			}
			out[i] = m
		case OpMax:
			m := rows[0][i]
			for _, row := range rows[1:] {
				m = math.Max(m, row[i])
			}
			out[i] = m
		case OpSum:
			var sum float64
			for _, row := range rows {
				sum += row[i]
			}
			out[i] = sum
		default:
			return nil, fmt.Errorf("%w: multi %q", ErrUnknownOperation, op)
		}
	}

	return &types.Derived{
		Name:      fmt.Sprintf("%s(%s)", op, strings.Join(names, ", ")),
		Time:      grid,
		Data:      out,
		Operation: string(op),
		Sources:   used,
	}, nil
}

// gradient computes the numerical derivative: central differences in the
// interior, one-sided at the ends.
func gradient(timeVec, data []float64) []float64 {
	n := len(data)
	out := make([]float64, n)
	if n == 1 {
		return out
	}
	out[0] = diffQuotient(data[1]-data[0], timeVec[1]-timeVec[0])
	out[n-1] = diffQuotient(data[n-1]-data[n-2], timeVec[n-1]-timeVec[n-2])
	for i := 1; i < n-1; i++ {
		out[i] = diffQuotient(data[i+1]-data[i-1], timeVec[i+1]-timeVec[i-1])
	}
	return out
}

func diffQuotient(dy, dt float64) float64 {
	if dt == 0 {
		return 0
	}
	return dy / dt
}

// cumTrapezoid computes the cumulative trapezoidal integral starting at 0
func cumTrapezoid(timeVec, data []float64) []float64 {
	out := make([]float64, len(data))
	for i := 1; i < len(data); i++ {
		out[i] = out[i-1] + 0.5*(data[i]+data[i-1])*(timeVec[i]-timeVec[i-1])
	}
	return out
}

// normalize scales data to [0, 1]; a constant signal maps to all zeros
func normalize(data []float64) []float64 {
	lo, hi := data[0], data[0]
	for _, x := range data[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	out := make([]float64, len(data))
	if hi == lo {
		return out
	}
	for i, x := range data {
		out[i] = (x - lo) / (hi - lo)
	}
	return out
}

// movingRMS computes the RMS over a trailing window, same-length output.
// Early samples use the partial window available so far.
func movingRMS(data []float64, window int) []float64 {
	out := make([]float64, len(data))
	var ss float64
	for i, x := range data {
		ss += x * x
		if i >= window {
			ss -= data[i-window] * data[i-window]
		}
		// Cancellation in the sliding subtraction can push the running
		// sum slightly negative once a large sample leaves the window.
		if ss < 0 {
			ss = 0
		}
		n := min(i+1, window)
		out[i] = math.Sqrt(ss / float64(n))
	}
	return out
}

func mapData(data []float64, f func(float64) float64) []float64 {
	out := make([]float64, len(data))
	for i, x := range data {
		out[i] = f(x)
	}
	return out
}

func binaryName(op BinaryOp, a, b string) string {
	symbols := map[BinaryOp]string{
		OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/",
	}
	if sym, ok := symbols[op]; ok {
		return fmt.Sprintf("%s %s %s", a, sym, b)
	}
	return fmt.Sprintf("%s(%s, %s)", op, a, b)
}
