package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/plucky/sitesim/internal/alarm"
	"github.com/plucky/sitesim/internal/config"
	"github.com/plucky/sitesim/internal/monitor"
	"github.com/plucky/sitesim/internal/params"
	"github.com/plucky/sitesim/internal/sim"
	"github.com/plucky/sitesim/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string
}

// ReplayRunResult holds the verification result for a single run.
type ReplayRunResult struct {
	UUID          string   `json:"uuid"`
	Samples       int      `json:"samples"`
	Deterministic bool     `json:"deterministic"`
	Mismatches    []string `json:"mismatches,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Runs             []ReplayRunResult `json:"runs"`
	TotalRuns        int               `json:"total_runs"`
	AllDeterministic bool              `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <system-file>",
		Short: "Re-run archived runs and verify determinism",
		Long: `Re-run archived runs with their archived seeds and compare every
observation row against the archive.

The system file must declare the same signature and parameters the
archived runs were started with; the seed and limit are taken from the
archive.

Exit codes:
  0 - All runs replayed identically
  1 - A replay diverged from the archive
  2 - Command error (archive not found, system mismatch, etc.)

Examples:
  sitesim replay system.cue --db runs.db
  sitesim replay system.cue --db runs.db --run 4f1c...
  sitesim replay system.cue --db runs.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite archive (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "replay a specific run only")

	return cmd
}

func runReplay(opts *ReplayOptions, systemPath string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(systemPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load system file", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open archive", err)
	}
	defer st.Close()

	var runIDs []string
	if opts.RunID != "" {
		runIDs = []string{opts.RunID}
	} else {
		runIDs, err = st.Runs(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
	}

	if len(runIDs) == 0 {
		if opts.Format == "json" {
			result := ReplayResult{Runs: []ReplayRunResult{}, AllDeterministic: true}
			return outputReplayJSON(cmd, result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No runs found in archive.")
		return nil
	}

	result := ReplayResult{
		Runs:             make([]ReplayRunResult, 0, len(runIDs)),
		TotalRuns:        len(runIDs),
		AllDeterministic: true,
	}

	for _, id := range runIDs {
		runResult, err := replayRun(ctx, st, cfg, id, filepath.Dir(systemPath))
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay run %s", id), err)
		}
		result.Runs = append(result.Runs, runResult)
		if !runResult.Deterministic {
			result.AllDeterministic = false
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// replayRun re-runs one archived run and compares its observation rows
// against the archive.
func replayRun(ctx context.Context, st *store.Store, cfg *config.Config, runID, systemDir string) (ReplayRunResult, error) {
	run, err := st.ReadRun(ctx, runID)
	if err != nil {
		return ReplayRunResult{}, err
	}
	if run.Signature != cfg.Signature {
		return ReplayRunResult{}, fmt.Errorf("system file signature differs from the archived run")
	}

	set := cfg.Set
	set.Seed = run.Seed
	set.SimLimit = run.SimLimit
	set.SimLimitUnit = params.LimitUnit(run.LimitUnit)
	if digest := set.Digest(); digest != run.Parameters {
		return ReplayRunResult{}, fmt.Errorf("system file parameters differ from the archived run")
	}

	replayCfg := *cfg
	replayCfg.Set = set
	reg, x, err := buildWorld(&replayCfg, systemDir)
	if err != nil {
		return ReplayRunResult{}, err
	}

	mon, err := monitor.New(reg, x, set.Memory, cfg.Observables)
	if err != nil {
		return ReplayRunResult{}, err
	}
	if err := alarm.Resolve(cfg.StopRules, mon.Header()[1:]); err != nil {
		return ReplayRunResult{}, err
	}
	buf := &sampleBuffer{labels: mon.Header()[1:]}
	mon.SetWriter(buf)

	sch := sim.New(reg, x, &set,
		sim.WithProbe(mon),
		sim.WithStop(alarm.New(mon, cfg.StopRules)))
	if _, err := sch.Run(ctx); err != nil {
		return ReplayRunResult{}, err
	}

	rep, err := st.VerifyReplay(ctx, runID, buf.samples)
	if err != nil {
		return ReplayRunResult{}, err
	}

	result := ReplayRunResult{
		UUID:          runID,
		Samples:       rep.Samples,
		Deterministic: rep.OK(),
	}
	for _, m := range rep.Mismatches {
		result.Mismatches = append(result.Mismatches, m.String())
	}
	return result, nil
}

// sampleBuffer collects observation rows as archive samples without
// writing them anywhere.
type sampleBuffer struct {
	labels  []string
	seq     int64
	samples []store.Sample
}

func (b *sampleBuffer) WriteRow(cells []string) error {
	if len(cells) != len(b.labels)+1 {
		return fmt.Errorf("replay: row has %d cells, want %d", len(cells), len(b.labels)+1)
	}
	t, err := strconv.ParseFloat(cells[0], 64)
	if err != nil {
		return fmt.Errorf("replay: bad time cell %q: %w", cells[0], err)
	}
	for i, label := range b.labels {
		b.samples = append(b.samples, store.Sample{
			Seq:        b.seq,
			SimTime:    t,
			Observable: label,
			Value:      cells[i+1],
		})
	}
	b.seq++
	return nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := Response{Status: "ok", Data: result}
	if !result.AllDeterministic {
		response.Status = "error"
		response.Error = &ResponseError{
			Code:    "E_DETERMINISM",
			Message: "determinism verification failed",
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(response); err != nil {
		return err
	}
	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d run(s)\n\n", result.TotalRuns)

	for _, run := range result.Runs {
		status := "ok"
		if !run.Deterministic {
			status = "DIVERGED"
		}
		fmt.Fprintf(w, "%s  run %s: %d sample(s)\n", status, run.UUID, run.Samples)
		if verbose || !run.Deterministic {
			for _, m := range run.Mismatches {
				fmt.Fprintf(w, "    %s\n", m)
			}
		}
	}
	fmt.Fprintln(w)

	if result.AllDeterministic {
		fmt.Fprintln(w, "All runs replayed identically.")
		return nil
	}
	fmt.Fprintln(w, "Determinism verification failed.")
	return NewExitError(ExitFailure, "determinism verification failed")
}
