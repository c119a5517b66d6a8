package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/plucky/sitesim/internal/alarm"
	"github.com/plucky/sitesim/internal/config"
	"github.com/plucky/sitesim/internal/monitor"
	"github.com/plucky/sitesim/internal/report"
	"github.com/plucky/sitesim/internal/sim"
	"github.com/plucky/sitesim/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Seed     uint64
	Database string
	Report   string
	Output   string
	SnapRoot string
}

// RunSummary is the result payload of a completed run.
type RunSummary struct {
	UUID       string  `json:"uuid"`
	Reason     string  `json:"reason"`
	Detail     string  `json:"detail,omitempty"`
	SimTime    float64 `json:"sim_time"`
	Events     int64   `json:"events"`
	NullEvents int64   `json:"null_events"`
	Species    int     `json:"species"`
	Snapshots  int     `json:"snapshots"`
	Report     string  `json:"report"`
	Output     string  `json:"output"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <system-file>",
		Short: "Run a simulation from a system file",
		Long: `Run a stochastic simulation of the system declared in a CUE file.

The run writes a textual report, a csv time series, and snapshot files
at the configured frequencies. With --db, every observation row is also
archived to a SQLite file for later replay verification.

Examples:
  sitesim run system.cue
  sitesim run system.cue --seed 991 --db runs.db
  sitesim run system.cue --output /tmp/series.csv --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(opts, args[0], cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "override the seed of the system file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to a SQLite archive (optional)")
	cmd.Flags().StringVar(&opts.Report, "report", "", "override the report file path")
	cmd.Flags().StringVar(&opts.Output, "output", "", "override the csv output path")
	cmd.Flags().StringVar(&opts.SnapRoot, "snap-root", "", "override the snapshot path prefix")

	return cmd
}

func runSimulation(opts *RunOptions, systemPath string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	cfg, err := config.Load(systemPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load system file", err)
	}
	if cmd.Flags().Changed("seed") {
		cfg.Set.Seed = opts.Seed
	}
	if opts.Report != "" {
		cfg.Reporting.ReportFile = opts.Report
	}
	if opts.Output != "" {
		cfg.Reporting.OutputFile = opts.Output
	}
	if opts.SnapRoot != "" {
		cfg.Reporting.SnapRoot = opts.SnapRoot
	}

	reg, x, err := buildWorld(cfg, filepath.Dir(systemPath))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build system", err)
	}

	runID := uuid.NewString()
	started := time.Now().UTC()
	slog.Info("run starting", "uuid", runID, "system", systemPath, "seed", cfg.Set.Seed)

	mon, err := monitor.New(reg, x, cfg.Set.Memory, cfg.Observables)
	if err != nil {
		return WrapExitError(ExitCommandError, "bad observable declaration", err)
	}
	if err := alarm.Resolve(cfg.StopRules, mon.Header()[1:]); err != nil {
		return WrapExitError(ExitCommandError, "bad stopping rule", err)
	}

	// Signal handling for graceful shutdown.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case s := <-sigChan:
			slog.Info("received signal, stopping run", "signal", s)
			cancel()
		case <-ctx.Done():
		}
	}()

	outFile, err := os.Create(cfg.Reporting.OutputFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create output file", err)
	}
	defer outFile.Close()
	series, err := report.NewSeries(outFile, mon.Header())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to write csv header", err)
	}
	sinks := rowFan{series}

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open archive", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing archive", "error", closeErr)
			}
		}()
		err = st.BeginRun(ctx, store.Run{
			UUID:       runID,
			Started:    started,
			Seed:       cfg.Set.Seed,
			SimLimit:   cfg.Set.SimLimit,
			LimitUnit:  string(cfg.Set.SimLimitUnit),
			Parameters: cfg.Set.Digest(),
			Signature:  cfg.Signature,
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to register run", err)
		}
		rec, err := store.NewRecorder(ctx, st, runID, mon.Header())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to attach recorder", err)
		}
		sinks = append(sinks, rec)
	}
	mon.SetWriter(sinks)

	if dir := filepath.Dir(cfg.Reporting.SnapRoot); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return WrapExitError(ExitCommandError, "failed to create snapshot directory", err)
		}
	}
	snap := report.NewSnapshotter(x, &cfg.Set, cfg.Reporting.SnapRoot, runID, cfg.Reporting.Numbering)

	probes := []sim.Option{sim.WithProbe(mon), sim.WithProbe(snap)}
	if st != nil {
		probes = append(probes, sim.WithProbe(&snapIndexer{ctx: ctx, st: st, run: runID, snap: snap}))
	}
	probes = append(probes, sim.WithStop(alarm.New(mon, cfg.StopRules)))

	reportFile, err := os.Create(cfg.Reporting.ReportFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create report file", err)
	}
	defer reportFile.Close()
	err = report.WriteReport(reportFile, report.Info{
		UUID:     runID,
		Started:  started,
		Command:  strings.Join(os.Args, " "),
		Set:      &cfg.Set,
		Registry: reg,
		Mixture:  x,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}

	sch := sim.New(reg, x, &cfg.Set, probes...)
	res, runErr := sch.Run(ctx)
	ended := time.Now().UTC()

	if err := report.WriteResources(reportFile, runID, started, ended, res); err != nil {
		return WrapExitError(ExitCommandError, "failed to append resources section", err)
	}
	if err := series.Flush(); err != nil {
		return WrapExitError(ExitCommandError, "failed to flush csv output", err)
	}
	if st != nil {
		err := st.FinishRun(ctx, runID, ended, string(res.Reason), res.Detail, res.Time, res.Events)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to finish archived run", err)
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return WrapExitError(ExitFailure, "simulation error", runErr)
	}

	slog.Info("run finished", "uuid", runID,
		"reason", res.Reason, "time", res.Time, "events", res.Events)

	summary := RunSummary{
		UUID:       runID,
		Reason:     string(res.Reason),
		Detail:     res.Detail,
		SimTime:    res.Time,
		Events:     res.Events,
		NullEvents: res.Counts.Null,
		Species:    x.Species(),
		Snapshots:  snap.Count(),
		Report:     cfg.Reporting.ReportFile,
		Output:     cfg.Reporting.OutputFile,
	}
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(summary)
	}
	return outputRunText(cmd, summary)
}

func outputRunText(cmd *cobra.Command, s RunSummary) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run %s finished: %s", s.UUID, s.Reason)
	if s.Detail != "" {
		fmt.Fprintf(w, " (%s)", s.Detail)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Simulated time: %g\n", s.SimTime)
	fmt.Fprintf(w, "  Events: %d (%d null)\n", s.Events, s.NullEvents)
	fmt.Fprintf(w, "  Species: %d\n", s.Species)
	fmt.Fprintf(w, "  Snapshots: %d\n", s.Snapshots)
	fmt.Fprintf(w, "  Report: %s\n", s.Report)
	fmt.Fprintf(w, "  Output: %s\n", s.Output)
	return nil
}

// configureLogging sets the default slog handler per the verbose flag.
func configureLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

// snapIndexer archives each snapshot file right after the snapshotter
// writes it. It must be registered after the snapshotter probe.
type snapIndexer struct {
	ctx  context.Context
	st   *store.Store
	run  string
	snap *report.Snapshotter
	seq  int64
}

func (i *snapIndexer) Observe(float64, int64) error { return nil }

func (i *snapIndexer) Snapshot(t float64, events int64) error {
	path := i.snap.LastPath()
	if path == "" {
		return nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := i.st.WriteSnapshotIndex(i.ctx, i.run, i.seq, t, events, path, string(body)); err != nil {
		return err
	}
	i.seq++
	return nil
}
