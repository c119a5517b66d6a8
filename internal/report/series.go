// Package report writes a run's outputs: the observable time series,
// mixture snapshots, and the textual run report.
package report

import (
	"encoding/csv"
	"io"
)

// Series writes the observable time series as csv, one row per
// observation. It is the monitor's row sink.
type Series struct {
	cw *csv.Writer
}

// NewSeries writes the header and returns the series writer.
func NewSeries(w io.Writer, header []string) (*Series, error) {
	s := &Series{cw: csv.NewWriter(w)}
	if err := s.cw.Write(header); err != nil {
		return nil, err
	}
	return s, nil
}

// WriteRow appends one observation row.
func (s *Series) WriteRow(cells []string) error {
	if err := s.cw.Write(cells); err != nil {
		return err
	}
	// flush per row so a crashed run keeps its series up to the last
	// observation
	s.cw.Flush()
	return s.cw.Error()
}

// Flush forces buffered rows out.
func (s *Series) Flush() error {
	s.cw.Flush()
	return s.cw.Error()
}
