package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vjranagit/tsdiff/pkg/engine"
	"github.com/vjranagit/tsdiff/pkg/metrics"
	"github.com/vjranagit/tsdiff/pkg/types"
)

// RunSource extends Source with the reads the watcher performs when the
// detector reports a change.
type RunSource interface {
	Source
	// ReadNewRows returns the rows appended since the last read, advancing
	// the source's own position. It returns ErrTruncated when the file
	// shrank under the reader.
	ReadNewRows() (types.RunDelta, error)
	// Reload re-reads the whole source
	Reload() (*types.Run, error)
	// RowCount reports the rows consumed so far
	RowCount() int
}

// Callbacks notify the caller after the engine has been updated. All are
// optional and invoked from the polling goroutines.
type Callbacks struct {
	OnGrew      func(runIdx int, rows int)
	OnRewritten func(runIdx int)
	OnStop      func(runIdx int)
}

// Watcher owns the polling clock the detector deliberately does not have.
// One goroutine per registered run keeps the single-writer discipline on
// each run's stream state.
type Watcher struct {
	engine   *engine.Engine
	detector *Detector
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cb       Callbacks

	mu      sync.Mutex
	sources map[int]RunSource
}

// NewWatcher creates a watcher polling at the given interval
func NewWatcher(eng *engine.Engine, det *Detector, interval time.Duration, logger *slog.Logger, m *metrics.Metrics, cb Callbacks) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		engine:   eng,
		detector: det,
		interval: interval,
		logger:   logger,
		metrics:  m,
		cb:       cb,
		sources:  make(map[int]RunSource),
	}
}

// Track registers a run's source with the detector and the watcher
func (w *Watcher) Track(runIdx int, src RunSource) error {
	if err := w.detector.Register(runIdx, src, src.RowCount()); err != nil {
		return err
	}
	w.mu.Lock()
	w.sources[runIdx] = src
	w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.WatchedRuns.Inc()
	}
	return nil
}

// Untrack stops watching a run
func (w *Watcher) Untrack(runIdx int) {
	w.detector.Unregister(runIdx)
	w.mu.Lock()
	_, tracked := w.sources[runIdx]
	delete(w.sources, runIdx)
	w.mu.Unlock()
	if tracked && w.metrics != nil {
		w.metrics.WatchedRuns.Dec()
	}
}

// Watch polls every tracked run until ctx is cancelled or every run has
// auto-stopped. Runs tracked after Watch starts are not picked up.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	runs := make([]int, 0, len(w.sources))
	for idx := range w.sources {
		runs = append(runs, idx)
	}
	w.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, runIdx := range runs {
		runIdx := runIdx
		g.Go(func() error {
			return w.pollLoop(ctx, runIdx)
		})
	}
	return g.Wait()
}

func (w *Watcher) pollLoop(ctx context.Context, runIdx int) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stop, err := w.pollOnce(runIdx)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
	}
}

// pollOnce runs one detect-read-apply-commit cycle. The stream state is
// committed only after the engine accepted the rows, so a failed read or
// apply leaves the detection pending for the next tick.
func (w *Watcher) pollOnce(runIdx int) (stop bool, err error) {
	w.mu.Lock()
	src, ok := w.sources[runIdx]
	w.mu.Unlock()
	if !ok {
		return true, nil
	}

	up, err := w.detector.Poll(runIdx)
	if err != nil {
		return false, err
	}
	if w.metrics != nil {
		w.metrics.PollsTotal.WithLabelValues(string(up.Kind)).Inc()
	}

	switch up.Kind {
	case types.UpdateGrew:
		delta, err := src.ReadNewRows()
		if errors.Is(err, ErrTruncated) {
			// The file regressed between stat and read; treat it like a
			// detected rewrite.
			return false, w.reload(runIdx, src, up)
		}
		if err != nil {
			w.logger.Warn("incremental read failed", "run", runIdx, "error", err)
			return false, nil
		}
		if delta.Rows() > 0 {
			if err := w.engine.AppendRows(runIdx, delta); err != nil {
				w.logger.Warn("append rejected, reloading", "run", runIdx, "error", err)
				return false, w.reload(runIdx, src, up)
			}
		}
		if err := w.detector.Commit(runIdx, CommitInfo{ModTime: up.ModTime, Size: up.Size, RowCount: src.RowCount()}); err != nil {
			return false, err
		}
		w.logger.Info("run grew", "run", runIdx, "rows", delta.Rows(), "estimated", up.EstimatedNewRows)
		if w.cb.OnGrew != nil {
			w.cb.OnGrew(runIdx, delta.Rows())
		}

	case types.UpdateRewritten:
		if err := w.reload(runIdx, src, up); err != nil {
			return false, err
		}

	case types.UpdateNoChange:
		if up.ShouldStop {
			w.logger.Info("run inactive, stopping watch", "run", runIdx)
			if w.cb.OnStop != nil {
				w.cb.OnStop(runIdx)
			}
			return true, nil
		}
	}
	return false, nil
}

func (w *Watcher) reload(runIdx int, src RunSource, up Update) error {
	run, err := src.Reload()
	if err != nil {
		w.logger.Warn("reload failed", "run", runIdx, "error", err)
		return nil
	}
	if err := w.engine.ReplaceRun(runIdx, run); err != nil {
		return err
	}
	if err := w.detector.Commit(runIdx, CommitInfo{ModTime: up.ModTime, Size: up.Size, RowCount: src.RowCount()}); err != nil {
		return err
	}
	w.logger.Info("run rewritten, reloaded", "run", runIdx, "rows", len(run.Time))
	if w.cb.OnRewritten != nil {
		w.cb.OnRewritten(runIdx)
	}
	return nil
}
