package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vjranagit/tsdiff/pkg/engine"
	"github.com/vjranagit/tsdiff/pkg/loader"
	"github.com/vjranagit/tsdiff/pkg/metrics"
	"github.com/vjranagit/tsdiff/pkg/stream"
	"github.com/vjranagit/tsdiff/pkg/types"
)

var watchBaseline string

var watchCmd = &cobra.Command{
	Use:   "watch <run.csv> [more.csv...]",
	Short: "Follow growing run files and report detected changes",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchBaseline, "compare-against", "",
		"baseline CSV to re-compare each run against after every change")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	eng := engine.NewEngine()
	det := stream.NewDetector(cfg.Watch.InactivityTimeout, logger)

	baselineIdx := -1
	if watchBaseline != "" {
		run, err := loader.LoadRun(watchBaseline)
		if err != nil {
			return fmt.Errorf("load baseline %s: %w", watchBaseline, err)
		}
		baselineIdx = eng.AddRun(run)
	}

	grew := color.New(color.FgGreen).SprintfFunc()
	rewritten := color.New(color.FgYellow).SprintfFunc()
	stopped := color.New(color.FgRed).SprintfFunc()

	names := make(map[int]string)
	cb := stream.Callbacks{
		OnGrew: func(runIdx, rows int) {
			fmt.Println(grew("%s: +%d rows", names[runIdx], rows))
			recompare(eng, baselineIdx, runIdx, names[runIdx])
		},
		OnRewritten: func(runIdx int) {
			fmt.Println(rewritten("%s: rewritten, reloaded", names[runIdx]))
		},
		OnStop: func(runIdx int) {
			fmt.Println(stopped("%s: inactive, watch stopped", names[runIdx]))
		},
	}
	watcher := stream.NewWatcher(eng, det, cfg.Watch.PollInterval, logger, metrics.New(), cb)

	for _, path := range args {
		src, run, err := loader.OpenCSV(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		idx := eng.AddRun(run)
		names[idx] = run.DisplayName
		if err := watcher.Track(idx, src); err != nil {
			return err
		}
		logger.Info("watching run", "path", path, "rows", run.Meta.SampleCount)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := watcher.Watch(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// recompare prints a one-line difference summary per common signal after a
// watched run changed. No-op without a --compare-against baseline.
func recompare(eng *engine.Engine, baselineIdx, runIdx int, name string) {
	if baselineIdx < 0 || baselineIdx == runIdx {
		return
	}
	results, err := eng.CompareRuns(types.CompareConfig{
		BaselineRun:  baselineIdx,
		CandidateRun: runIdx,
		Sync:         types.SyncBaseline,
		Interp:       types.InterpLinear,
	})
	if err != nil {
		logger.Warn("re-comparison failed", "run", name, "error", err)
		return
	}
	for _, res := range results {
		if res.Err != nil {
			fmt.Printf("  %s/%s: %s\n", name, res.Signal, res.Reason())
			continue
		}
		fmt.Printf("  %s/%s: max abs %.6g, rms %.6g, corr %.4f\n",
			name, res.Signal, res.Result.MaxAbsDiff, res.Result.RMSDiff, res.Result.Correlation)
	}
}
