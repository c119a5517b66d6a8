package store

import (
	"context"
	"fmt"
)

// Mismatch is one divergence between an archived series and a replay.
type Mismatch struct {
	Seq        int64
	Observable string
	Archived   string
	Replayed   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("seq %d %s: archived %q, replayed %q", m.Seq, m.Observable, m.Archived, m.Replayed)
}

// ReplayReport summarizes a replay verification.
type ReplayReport struct {
	Samples    int
	Mismatches []Mismatch
}

// OK reports whether the replay reproduced the archive exactly.
func (r *ReplayReport) OK() bool { return len(r.Mismatches) == 0 }

// VerifyReplay compares a re-simulated series against the archive of a
// run. The fresh samples must carry the same seq/observable keys the
// original recording produced; a deterministic engine re-run with the
// archived seed satisfies that by construction.
func (s *Store) VerifyReplay(ctx context.Context, runUUID string, fresh []Sample) (*ReplayReport, error) {
	archived := make(map[string]string)
	names, err := s.Observables(ctx, runUUID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, name := range names {
		series, err := s.ReadSeries(ctx, runUUID, name)
		if err != nil {
			return nil, err
		}
		for _, sm := range series {
			archived[seriesKey(sm.Seq, sm.Observable)] = sm.Value
			total++
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("verify replay %s: no archived samples", runUUID)
	}

	report := &ReplayReport{Samples: total}
	seen := 0
	for _, sm := range fresh {
		want, ok := archived[seriesKey(sm.Seq, sm.Observable)]
		if !ok {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Seq: sm.Seq, Observable: sm.Observable, Archived: "", Replayed: sm.Value,
			})
			continue
		}
		seen++
		if want != sm.Value {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Seq: sm.Seq, Observable: sm.Observable, Archived: want, Replayed: sm.Value,
			})
		}
	}
	if seen < total {
		report.Mismatches = append(report.Mismatches, Mismatch{
			Seq: -1, Observable: "", Archived: fmt.Sprintf("%d samples", total),
			Replayed: fmt.Sprintf("%d samples", seen),
		})
	}
	return report, nil
}

func seriesKey(seq int64, observable string) string {
	return fmt.Sprintf("%d\x00%s", seq, observable)
}
