// Package harness runs YAML-declared simulation scenarios end to end
// and checks the finished run against the scenario's assertions or a
// golden rendition of its observation rows.
package harness

import (
	"context"
	"fmt"
	"reflect"

	"github.com/plucky/sitesim/internal/alarm"
	"github.com/plucky/sitesim/internal/config"
	"github.com/plucky/sitesim/internal/mix"
	"github.com/plucky/sitesim/internal/monitor"
	"github.com/plucky/sitesim/internal/sig"
	"github.com/plucky/sitesim/internal/sim"
)

// Result captures a finished scenario run.
type Result struct {
	Scenario *Scenario
	Header   []string
	Rows     [][]string
	Outcome  sim.Result

	mon *monitor.Monitor
}

// rowCollector keeps observation rows in memory.
type rowCollector struct {
	rows [][]string
}

func (c *rowCollector) WriteRow(cells []string) error {
	row := make([]string, len(cells))
	copy(row, cells)
	c.rows = append(c.rows, row)
	return nil
}

// Run executes the scenario's system file once and returns the
// observation rows and the outcome. Nothing is written to disk.
func Run(s *Scenario) (*Result, error) {
	cfg, err := config.Load(s.System)
	if err != nil {
		return nil, fmt.Errorf("loading system: %w", err)
	}
	if s.Seed != nil {
		cfg.Set.Seed = *s.Seed
	}

	reg, err := sig.Parse(cfg.Signature)
	if err != nil {
		return nil, fmt.Errorf("parsing signature: %w", err)
	}
	rates, err := cfg.Set.Derive(reg)
	if err != nil {
		return nil, fmt.Errorf("deriving rates: %w", err)
	}
	x := mix.New(reg, rates, mix.Options{
		Consolidate:  cfg.Set.Consolidate,
		Canonicalize: cfg.Set.Canonicalize,
	})
	x.SeedInitial(rates.InitCounts)

	mon, err := monitor.New(reg, x, cfg.Set.Memory, cfg.Observables)
	if err != nil {
		return nil, fmt.Errorf("compiling observables: %w", err)
	}
	if err := alarm.Resolve(cfg.StopRules, mon.Header()[1:]); err != nil {
		return nil, fmt.Errorf("resolving stopping rules: %w", err)
	}
	collector := &rowCollector{}
	mon.SetWriter(collector)

	sch := sim.New(reg, x, &cfg.Set,
		sim.WithProbe(mon),
		sim.WithStop(alarm.New(mon, cfg.StopRules)))
	outcome, err := sch.Run(context.Background())
	if err != nil {
		return nil, fmt.Errorf("running scenario %s: %w", s.Name, err)
	}

	return &Result{
		Scenario: s,
		Header:   mon.Header(),
		Rows:     collector.rows,
		Outcome:  outcome,
		mon:      mon,
	}, nil
}

// Verify checks the scenario's assertions against the result and
// returns one failure description per violated assertion.
func (r *Result) Verify() []string {
	var failures []string
	for i, a := range r.Scenario.Assertions {
		if msg := r.verifyOne(&a); msg != "" {
			failures = append(failures, fmt.Sprintf("assertions[%d] (%s): %s", i, a.Type, msg))
		}
	}
	return failures
}

func (r *Result) verifyOne(a *Assertion) string {
	switch a.Type {
	case AssertStopReason:
		if string(r.Outcome.Reason) != a.Reason {
			return fmt.Sprintf("stop reason is %q, want %q", r.Outcome.Reason, a.Reason)
		}
	case AssertEvents:
		if a.Min != nil && r.Outcome.Events < *a.Min {
			return fmt.Sprintf("%d events, want at least %d", r.Outcome.Events, *a.Min)
		}
		if a.Max != nil && r.Outcome.Events > *a.Max {
			return fmt.Sprintf("%d events, want at most %d", r.Outcome.Events, *a.Max)
		}
	case AssertRule:
		rule, err := alarm.Parse(a.Rule)
		if err != nil {
			return fmt.Sprintf("bad rule: %v", err)
		}
		if _, ok := alarm.New(r.mon, []alarm.Rule{rule}).ShouldStop(); !ok {
			return fmt.Sprintf("rule %q does not hold on the final sample", rule)
		}
	case AssertDeterministic:
		second, err := Run(r.Scenario)
		if err != nil {
			return fmt.Sprintf("second run failed: %v", err)
		}
		if !reflect.DeepEqual(second.Rows, r.Rows) {
			return "second run produced different observation rows"
		}
		if second.Outcome != r.Outcome {
			return "second run produced a different outcome"
		}
	}
	return ""
}
