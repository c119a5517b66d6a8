package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines an end-to-end simulation scenario: a system file to
// run and assertions on the finished run.
type Scenario struct {
	// Name uniquely identifies this scenario; it also names the golden
	// file when the scenario is run against one.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// System is the path to the CUE system file, relative to the
	// scenario file location.
	System string `yaml:"system"`

	// Seed optionally overrides the seed of the system file.
	Seed *uint64 `yaml:"seed,omitempty"`

	// Assertions validate the finished run.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates one aspect of a finished run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "stop_reason": the run ended for the given reason
	// - "events": the event count lies in [min, max]
	// - "rule": a stopping-rule expression holds on the final sample
	// - "deterministic": a second run with the same seed produces the
	//   same rows and outcome
	Type string `yaml:"type"`

	// Reason is the expected stop reason (used by stop_reason).
	Reason string `yaml:"reason,omitempty"`

	// Min and Max bound the event count (used by events). A nil bound
	// is unchecked.
	Min *int64 `yaml:"min,omitempty"`
	Max *int64 `yaml:"max,omitempty"`

	// Rule is a stopping-rule expression, e.g. "free >= 10" (used by
	// rule).
	Rule string `yaml:"rule,omitempty"`
}

// Assertion type constants.
const (
	AssertStopReason    = "stop_reason"
	AssertEvents        = "events"
	AssertRule          = "rule"
	AssertDeterministic = "deterministic"
)

// LoadScenario reads and parses a scenario YAML file. The system path
// is resolved relative to the scenario file. Unknown fields (typos)
// and missing required fields are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.System != "" && !filepath.IsAbs(scenario.System) {
		scenario.System = filepath.Join(filepath.Dir(path), scenario.System)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.System == "" {
		return fmt.Errorf("system is required")
	}
	if _, err := os.Stat(s.System); os.IsNotExist(err) {
		return fmt.Errorf("system file not found: %s", s.System)
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertStopReason:
		if a.Reason == "" {
			return fmt.Errorf("assertions[%d]: reason is required for stop_reason", index)
		}
	case AssertEvents:
		if a.Min == nil && a.Max == nil {
			return fmt.Errorf("assertions[%d]: min or max is required for events", index)
		}
	case AssertRule:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for rule", index)
		}
	case AssertDeterministic:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
