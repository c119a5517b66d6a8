package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when a run uuid is not in the archive.
var ErrRunNotFound = errors.New("run not found")

// Run is a run's archive record.
type Run struct {
	UUID       string
	Started    time.Time
	Ended      time.Time // zero until the run finished
	Seed       uint64
	SimLimit   float64
	LimitUnit  string
	Parameters string // parameter digest
	Signature  string
	StopReason string
	StopDetail string
	SimTime    float64
	Events     int64
}

const timeLayout = "2006-01-02 15:04:05.999999999"

// BeginRun records a starting run. The uuid must be new.
func (s *Store) BeginRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (uuid, started_utc, seed, sim_limit, limit_unit, parameters, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.UUID, r.Started.UTC().Format(timeLayout), int64(r.Seed),
		r.SimLimit, r.LimitUnit, r.Parameters, r.Signature)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", r.UUID, err)
	}
	return nil
}

// FinishRun records a run's outcome.
func (s *Store) FinishRun(ctx context.Context, uuid string, ended time.Time, reason, detail string, simTime float64, events int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET ended_utc = ?, stop_reason = ?, stop_detail = ?, sim_time = ?, events = ?
		WHERE uuid = ?`,
		ended.UTC().Format(timeLayout), reason, detail, simTime, events, uuid)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", uuid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", uuid, ErrRunNotFound)
	}
	return nil
}

// ReadRun fetches a run record.
func (s *Store) ReadRun(ctx context.Context, uuid string) (Run, error) {
	var r Run
	var started string
	var ended, reason, detail sql.NullString
	var simTime sql.NullFloat64
	var events sql.NullInt64
	var seed int64
	err := s.db.QueryRowContext(ctx, `
		SELECT uuid, started_utc, ended_utc, seed, sim_limit, limit_unit,
		       parameters, signature, stop_reason, stop_detail, sim_time, events
		FROM runs WHERE uuid = ?`, uuid).Scan(
		&r.UUID, &started, &ended, &seed, &r.SimLimit, &r.LimitUnit,
		&r.Parameters, &r.Signature, &reason, &detail, &simTime, &events)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", uuid, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", uuid, err)
	}
	r.Seed = uint64(seed)
	if r.Started, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, fmt.Errorf("read run %s: bad start time: %w", uuid, err)
	}
	if ended.Valid {
		if r.Ended, err = time.Parse(timeLayout, ended.String); err != nil {
			return Run{}, fmt.Errorf("read run %s: bad end time: %w", uuid, err)
		}
	}
	r.StopReason = reason.String
	r.StopDetail = detail.String
	r.SimTime = simTime.Float64
	r.Events = events.Int64
	return r, nil
}

// Runs lists the archived runs, most recent first.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uuid FROM runs ORDER BY started_utc DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var uuids []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, err
		}
		uuids = append(uuids, uuid)
	}
	return uuids, rows.Err()
}

// Sample is one observable's value at one observation instant.
type Sample struct {
	Seq        int64
	SimTime    float64
	Events     int64
	Observable string
	Value      string
}

// WriteSamples appends one observation's samples in a single
// transaction, so an interrupted run never archives half a row.
func (s *Store) WriteSamples(ctx context.Context, runUUID string, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO samples (run_uuid, seq, sim_time, events, observable, value)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	defer stmt.Close()

	for _, sm := range samples {
		if _, err := stmt.ExecContext(ctx, runUUID, sm.Seq, sm.SimTime, sm.Events, sm.Observable, sm.Value); err != nil {
			return fmt.Errorf("write sample %d/%s: %w", sm.Seq, sm.Observable, err)
		}
	}
	return tx.Commit()
}

// ReadSeries fetches one observable's archived series in observation
// order.
func (s *Store) ReadSeries(ctx context.Context, runUUID, observable string) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, sim_time, events, observable, value
		FROM samples WHERE run_uuid = ? AND observable = ?
		ORDER BY seq`, runUUID, observable)
	if err != nil {
		return nil, fmt.Errorf("read series %s/%s: %w", runUUID, observable, err)
	}
	defer rows.Close()
	var out []Sample
	for rows.Next() {
		var sm Sample
		if err := rows.Scan(&sm.Seq, &sm.SimTime, &sm.Events, &sm.Observable, &sm.Value); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Observables lists the distinct observables archived for a run.
func (s *Store) Observables(ctx context.Context, runUUID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT observable FROM samples WHERE run_uuid = ? ORDER BY observable`, runUUID)
	if err != nil {
		return nil, fmt.Errorf("list observables %s: %w", runUUID, err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// WriteSnapshotIndex records a snapshot a run produced. Body may be
// empty when only the file path is archived.
func (s *Store) WriteSnapshotIndex(ctx context.Context, runUUID string, seq int64, simTime float64, events int64, path, body string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (run_uuid, seq, sim_time, events, path, body)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runUUID, seq, simTime, events, path, body)
	if err != nil {
		return fmt.Errorf("index snapshot %s/%d: %w", runUUID, seq, err)
	}
	return nil
}

// Snapshots lists a run's snapshot index in order.
func (s *Store) Snapshots(ctx context.Context, runUUID string) ([]SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, sim_time, events, path, body FROM snapshots
		WHERE run_uuid = ? ORDER BY seq`, runUUID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", runUUID, err)
	}
	defer rows.Close()
	var out []SnapshotRecord
	for rows.Next() {
		var sr SnapshotRecord
		if err := rows.Scan(&sr.Seq, &sr.SimTime, &sr.Events, &sr.Path, &sr.Body); err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// SnapshotRecord is one entry of a run's snapshot index.
type SnapshotRecord struct {
	Seq     int64
	SimTime float64
	Events  int64
	Path    string
	Body    string
}
