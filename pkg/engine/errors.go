package engine

import "errors"

// Expected, recoverable conditions. Callers distinguish them with errors.Is;
// none of them aborts a batch of unrelated computations.
var (
	// ErrNoOverlap means the time ranges share no samples after alignment
	ErrNoOverlap = errors.New("no overlapping time range")
	// ErrInsufficientData means too few points or usable signals remain
	ErrInsufficientData = errors.New("insufficient data")
	// ErrEmptySignal means a source signal has zero samples
	ErrEmptySignal = errors.New("empty signal")
	// ErrUnknownSignal means a reference resolved to no signal
	ErrUnknownSignal = errors.New("unknown signal")
	// ErrUnknownRun means a run index is out of range
	ErrUnknownRun = errors.New("unknown run")
	// ErrUnknownOperation means an operation name is not recognized
	ErrUnknownOperation = errors.New("unknown operation")
)
