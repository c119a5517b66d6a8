package harness

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// render flattens a result into the golden file format: the csv rows
// followed by the outcome.
func (r *Result) render() []byte {
	var b bytes.Buffer
	b.WriteString(strings.Join(r.Header, ","))
	b.WriteByte('\n')
	for _, row := range r.Rows {
		b.WriteString(strings.Join(row, ","))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "reason: %s\n", r.Outcome.Reason)
	fmt.Fprintf(&b, "events: %d\n", r.Outcome.Events)
	return b.Bytes()
}

// RunWithGolden executes a scenario and compares the rendered result
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, result.render())
	return result, nil
}
