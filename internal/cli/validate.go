package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/plucky/sitesim/internal/alarm"
	"github.com/plucky/sitesim/internal/config"
	"github.com/plucky/sitesim/internal/monitor"
)

// ValidationSummary holds the counts of a successfully checked system.
type ValidationSummary struct {
	Valid       bool   `json:"valid"`
	Name        string `json:"name,omitempty"`
	AgentTypes  int    `json:"agent_types"`
	BondTypes   int    `json:"bond_types"`
	Observables int    `json:"observables"`
	StopRules   int    `json:"stop_rules"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <system-file>",
		Short: "Check a system file without running it",
		Long: `Check a system file without running a simulation.

Decodes the CUE file, parses the signature, derives the stochastic
constants, seeds the initial mixture, and compiles every observable and
stopping rule. Reports the first problem found.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, systemPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(systemPath)
	if err != nil {
		return validationFailed(formatter, "config", err)
	}
	formatter.VerboseLog("Decoded %s", systemPath)

	reg, x, err := buildWorld(cfg, filepath.Dir(systemPath))
	if err != nil {
		return validationFailed(formatter, "system", err)
	}
	formatter.VerboseLog("Signature: %d agent types, %d bond types",
		len(reg.AgentTypes()), len(reg.BondTypes()))

	mon, err := monitor.New(reg, x, cfg.Set.Memory, cfg.Observables)
	if err != nil {
		return validationFailed(formatter, "observables", err)
	}
	if err := alarm.Resolve(cfg.StopRules, mon.Header()[1:]); err != nil {
		return validationFailed(formatter, "stop", err)
	}

	summary := ValidationSummary{
		Valid:       true,
		Name:        cfg.Name,
		AgentTypes:  len(reg.AgentTypes()),
		BondTypes:   len(reg.BondTypes()),
		Observables: len(cfg.Observables),
		StopRules:   len(cfg.StopRules),
	}
	if opts.Format == "json" {
		return formatter.Success(summary)
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"System OK: %d agent type(s), %d bond type(s), %d observable(s), %d stopping rule(s)\n",
		summary.AgentTypes, summary.BondTypes, summary.Observables, summary.StopRules)
	return nil
}

func validationFailed(f *OutputFormatter, code string, err error) error {
	if outErr := f.Error(code, err.Error()); outErr != nil {
		return outErr
	}
	return NewExitError(ExitFailure, "validation failed")
}
