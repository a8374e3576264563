package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vjranagit/tsdiff/pkg/engine"
	"github.com/vjranagit/tsdiff/pkg/loader"
	"github.com/vjranagit/tsdiff/pkg/types"
)

var compareFlags struct {
	sync          string
	interp        string
	absTol        float64
	relTol        float64
	shift         float64
	estimateShift bool
	signals       []string
	jsonOut       bool
}

var compareCmd = &cobra.Command{
	Use:   "compare <baseline.csv> <candidate.csv>",
	Short: "Compare two run files signal by signal",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompare,
}

func init() {
	f := compareCmd.Flags()
	f.StringVar(&compareFlags.sync, "sync", "baseline", "time base (baseline, union, intersection)")
	f.StringVar(&compareFlags.interp, "interp", "linear", "interpolation (linear, nearest)")
	f.Float64Var(&compareFlags.absTol, "abs", 0, "absolute tolerance (0 disables)")
	f.Float64Var(&compareFlags.relTol, "rel", 0, "relative tolerance (0 disables)")
	f.Float64Var(&compareFlags.shift, "shift", 0, "time shift applied to the candidate, in seconds")
	f.BoolVar(&compareFlags.estimateShift, "estimate-shift", false, "estimate the candidate's time shift and apply it")
	f.StringSliceVar(&compareFlags.signals, "signals", nil, "signals to compare (default: all common signals)")
	f.BoolVar(&compareFlags.jsonOut, "json", false, "emit results as JSON")
	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	syncMethod, err := types.ParseSyncMethod(compareFlags.sync)
	if err != nil {
		return err
	}
	interp, err := types.ParseInterpMethod(compareFlags.interp)
	if err != nil {
		return err
	}

	eng := engine.NewEngine()
	for _, path := range args {
		run, err := loader.LoadRun(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		eng.AddRun(run)
	}

	compareCfg := types.CompareConfig{
		BaselineRun:  0,
		CandidateRun: 1,
		Signals:      compareFlags.signals,
		Sync:         syncMethod,
		Interp:       interp,
		TimeShift:    compareFlags.shift,
	}
	if compareFlags.absTol > 0 || compareFlags.relTol > 0 {
		tol := &types.ToleranceSpec{}
		if compareFlags.absTol > 0 {
			tol.Absolute = &compareFlags.absTol
		}
		if compareFlags.relTol > 0 {
			tol.Relative = &compareFlags.relTol
		}
		compareCfg.Tolerance = tol
	}

	if compareFlags.estimateShift {
		shift, err := estimateShift(eng, compareCfg, cfg.Engine.MaxShift)
		if err != nil {
			return err
		}
		logger.Info("estimated time shift", "seconds", shift)
		compareCfg.TimeShift += shift
	}

	results, err := eng.CompareRuns(compareCfg)
	if err != nil {
		return err
	}

	if compareFlags.jsonOut {
		return printJSON(results)
	}

	failed := printTable(results, compareCfg)
	if failed > 0 {
		return fmt.Errorf("%d signal(s) exceeded tolerance", failed)
	}
	return nil
}

// estimateShift estimates the candidate's time shift from the first
// comparable signal.
func estimateShift(eng *engine.Engine, cfg types.CompareConfig, maxShift float64) (float64, error) {
	signals := cfg.Signals
	if len(signals) == 0 {
		signals = eng.CommonSignals(cfg.BaselineRun, cfg.CandidateRun)
	}
	if len(signals) == 0 {
		return 0, fmt.Errorf("no common signals to estimate a shift from")
	}

	baseTime, baseData, err := eng.Resolve(types.RunSignal(cfg.BaselineRun, signals[0]))
	if err != nil {
		return 0, err
	}
	candTime, candData, err := eng.Resolve(types.RunSignal(cfg.CandidateRun, signals[0]))
	if err != nil {
		return 0, err
	}
	return engine.EstimateTimeShift(baseTime, baseData, candTime, candData, maxShift), nil
}

func printJSON(results []engine.SignalComparison) error {
	type row struct {
		Signal string               `json:"signal"`
		Result *types.CompareResult `json:"result,omitempty"`
		Reason string               `json:"reason,omitempty"`
	}
	out := make([]row, len(results))
	for i, res := range results {
		out[i] = row{Signal: res.Signal, Result: res.Result, Reason: res.Reason()}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// printTable renders the verdict table and returns the number of failed
// signals.
func printTable(results []engine.SignalComparison, cfg types.CompareConfig) int {
	pass := color.New(color.FgGreen).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()
	skip := color.New(color.FgYellow).SprintFunc()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNAL\tVERDICT\tMAX ABS\tRMS\tMEAN\tCORR")

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\n", res.Signal, skip("SKIP ("+res.Reason()+")"))
			continue
		}
		r := res.Result
		verdict := pass("PASS")
		if cfg.Tolerance.Empty() {
			verdict = "-"
		} else if !r.WithinTolerance {
			verdict = fail("FAIL")
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%.6g\t%.6g\t%.6g\t%.4f\n",
			res.Signal, verdict, r.MaxAbsDiff, r.RMSDiff, r.MeanDiff, r.Correlation)
	}
	w.Flush()
	return failed
}
