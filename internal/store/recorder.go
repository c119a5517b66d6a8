package store

import (
	"context"
	"fmt"
	"strconv"
)

// Recorder archives observation rows as they are emitted. It is a row
// sink for the monitor, usable alongside the csv series writer.
//
// The header must be the monitor's header: "time" first, then one label
// per observable. Each row becomes one sample per observable, all in
// one transaction. Rows carry no event count, so Sample.Events stays
// zero for recorded samples.
type Recorder struct {
	s      *Store
	ctx    context.Context
	run    string
	labels []string // observable labels, time column stripped
	seq    int64
}

// NewRecorder returns a recorder for one run.
func NewRecorder(ctx context.Context, s *Store, runUUID string, header []string) (*Recorder, error) {
	if len(header) < 2 || header[0] != "time" {
		return nil, fmt.Errorf("recorder: header must start with time, got %v", header)
	}
	return &Recorder{s: s, ctx: ctx, run: runUUID, labels: header[1:]}, nil
}

// WriteRow archives one observation row.
func (r *Recorder) WriteRow(cells []string) error {
	if len(cells) != len(r.labels)+1 {
		return fmt.Errorf("recorder: row has %d cells, want %d", len(cells), len(r.labels)+1)
	}
	t, err := strconv.ParseFloat(cells[0], 64)
	if err != nil {
		return fmt.Errorf("recorder: bad time cell %q: %w", cells[0], err)
	}
	samples := make([]Sample, len(r.labels))
	for i, label := range r.labels {
		samples[i] = Sample{
			Seq:        r.seq,
			SimTime:    t,
			Observable: label,
			Value:      cells[i+1],
		}
	}
	if err := r.s.WriteSamples(r.ctx, r.run, samples); err != nil {
		return err
	}
	r.seq++
	return nil
}

// Rows returns the number of observation rows archived.
func (r *Recorder) Rows() int64 { return r.seq }
