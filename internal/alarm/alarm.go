// Package alarm holds the stopping rules of a run. Each rule compares
// the latest sample of a named observable against a threshold; the
// rules are combined with OR and checked only at observation instants.
package alarm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Op is a comparison operator of a stopping rule.
type Op string

const (
	OpGT Op = ">"
	OpLT Op = "<"
	OpGE Op = ">="
	OpLE Op = "<="
	OpEQ Op = "=="
)

// Rule is one stopping condition: observable [class] op threshold.
// Class selects within vector-valued observables (a component size for
// a size distribution, a rank for a top-sizes report); -1 selects the
// observable's default value.
type Rule struct {
	Observable string
	Class      int
	Op         Op
	Threshold  float64
}

func (r Rule) String() string {
	if r.Class >= 0 {
		return fmt.Sprintf("%s[%d] %s %g", r.Observable, r.Class, r.Op, r.Threshold)
	}
	return fmt.Sprintf("%s %s %g", r.Observable, r.Op, r.Threshold)
}

func (r Rule) holds(v float64) bool {
	switch r.Op {
	case OpGT:
		return v > r.Threshold
	case OpLT:
		return v < r.Threshold
	case OpGE:
		return v >= r.Threshold
	case OpLE:
		return v <= r.Threshold
	case OpEQ:
		return v == r.Threshold
	}
	return false
}

// ruleRE captures: name, optional [class], operator, threshold.
var ruleRE = regexp.MustCompile(`^\s*(.+?)\s*(?:\[(\d+)\])?\s*(>=|<=|==|>|<)\s*([0-9.eE+-]+)\s*$`)

// Parse reads a stopping rule from its textual form, e.g.
// "size_watermark > 100" or "sd[4] >= 2".
func Parse(line string) (Rule, error) {
	m := ruleRE.FindStringSubmatch(line)
	if m == nil {
		return Rule{}, &RuleError{Rule: line, Message: "want: observable [class] op threshold"}
	}
	r := Rule{Observable: strings.TrimSpace(m[1]), Class: -1, Op: Op(m[3])}
	if m[2] != "" {
		class, err := strconv.Atoi(m[2])
		if err != nil {
			return Rule{}, &RuleError{Rule: line, Message: "class index must be an integer"}
		}
		r.Class = class
	}
	th, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Rule{}, &RuleError{Rule: line, Message: fmt.Sprintf("bad threshold %q", m[4])}
	}
	r.Threshold = th
	return r, nil
}

// Sampler supplies the latest observable samples; implemented by the
// monitor.
type Sampler interface {
	ValueAt(name string, class int) (float64, bool)
}

// Set evaluates a list of stopping rules against a Sampler. It is the
// scheduler's stop condition.
type Set struct {
	sampler Sampler
	rules   []Rule
}

// New builds a rule set. Callers resolve observable names up front with
// Resolve; ShouldStop still tolerates a class that has no sample yet.
func New(sampler Sampler, rules []Rule) *Set {
	return &Set{sampler: sampler, rules: rules}
}

// Resolve checks every rule's observable name against the labels the
// monitor reports. A rule naming an unknown observable could never fire,
// which almost always means a typo in the system file.
func Resolve(rules []Rule, labels []string) error {
	known := make(map[string]bool, len(labels))
	for _, l := range labels {
		known[l] = true
	}
	for _, r := range rules {
		if !known[r.Observable] {
			return &RuleError{Rule: r.String(), Message: fmt.Sprintf("unknown observable %q", r.Observable)}
		}
	}
	return nil
}

// ParseAll parses a list of rule lines.
func ParseAll(lines []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(lines))
	for _, line := range lines {
		r, err := Parse(line)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// ShouldStop reports the first satisfied rule. Rules whose observable
// has no sample yet never fire.
func (s *Set) ShouldStop() (string, bool) {
	for _, r := range s.rules {
		v, ok := s.sampler.ValueAt(r.Observable, r.Class)
		if !ok {
			continue
		}
		if r.holds(v) {
			return r.String(), true
		}
	}
	return "", false
}

// Rules returns the rules of the set.
func (s *Set) Rules() []Rule { return s.rules }

// RuleError reports a malformed stopping rule.
type RuleError struct {
	Rule    string
	Message string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("stopping rule %q: %s", e.Rule, e.Message)
}

// IsRuleError reports whether err is a *RuleError.
func IsRuleError(err error) bool {
	var re *RuleError
	return errors.As(err, &re)
}
