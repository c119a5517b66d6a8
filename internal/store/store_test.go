package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(uuid string) Run {
	return Run{
		UUID:       uuid,
		Started:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Seed:       4711,
		SimLimit:   1,
		LimitUnit:  "time",
		Parameters: "V=2.25e-12 seed=4711",
		Signature:  "A(x[x.A])",
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())
	s2, err := Open(path)
	require.NoError(t, err)
	assert.NoError(t, s2.Close())
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.BeginRun(ctx, testRun("run-1")))

	r, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4711), r.Seed)
	assert.Equal(t, "A(x[x.A])", r.Signature)
	assert.True(t, r.Ended.IsZero())
	assert.Empty(t, r.StopReason)

	ended := r.Started.Add(2 * time.Second)
	require.NoError(t, s.FinishRun(ctx, "run-1", ended, "limit", "", 1.0, 531))

	r, err = s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "limit", r.StopReason)
	assert.Equal(t, int64(531), r.Events)
	assert.Equal(t, 1.0, r.SimTime)
	assert.True(t, ended.Equal(r.Ended))
}

func TestRun_NotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.ReadRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	err = s.FinishRun(ctx, "nope", time.Now(), "limit", "", 0, 0)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestBeginRun_DuplicateUUID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.BeginRun(ctx, testRun("run-1")))
	assert.Error(t, s.BeginRun(ctx, testRun("run-1")))
}

func TestSamples_WriteAndReadSeries(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.BeginRun(ctx, testRun("run-1")))

	require.NoError(t, s.WriteSamples(ctx, "run-1", []Sample{
		{Seq: 0, SimTime: 0, Events: 0, Observable: "free", Value: "4"},
		{Seq: 0, SimTime: 0, Events: 0, Observable: "dimers", Value: "0"},
	}))
	require.NoError(t, s.WriteSamples(ctx, "run-1", []Sample{
		{Seq: 1, SimTime: 0.1, Events: 12, Observable: "free", Value: "2"},
		{Seq: 1, SimTime: 0.1, Events: 12, Observable: "dimers", Value: "1"},
	}))

	series, err := s.ReadSeries(ctx, "run-1", "free")
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "4", series[0].Value)
	assert.Equal(t, "2", series[1].Value)
	assert.Equal(t, 0.1, series[1].SimTime)

	names, err := s.Observables(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"dimers", "free"}, names)
}

func TestSamples_ForeignKeyEnforced(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.WriteSamples(ctx, "missing-run", []Sample{
		{Seq: 0, Observable: "free", Value: "4"},
	})
	assert.Error(t, err)
}

func TestRecorder_ArchivesRows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.BeginRun(ctx, testRun("run-1")))

	rec, err := NewRecorder(ctx, s, "run-1", []string{"time", "free", "dimers"})
	require.NoError(t, err)
	require.NoError(t, rec.WriteRow([]string{"0", "4", "0"}))
	require.NoError(t, rec.WriteRow([]string{"0.1", "2", "1"}))
	assert.Equal(t, int64(2), rec.Rows())

	series, err := s.ReadSeries(ctx, "run-1", "dimers")
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "1", series[1].Value)

	assert.Error(t, rec.WriteRow([]string{"0.2", "1"}), "short row")
	assert.Error(t, rec.WriteRow([]string{"x", "1", "2"}), "bad time cell")
}

func TestNewRecorder_RejectsBadHeader(t *testing.T) {
	s := openTestStore(t)
	_, err := NewRecorder(context.Background(), s, "run-1", []string{"free"})
	assert.Error(t, err)
}

func TestSnapshots_Index(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.BeginRun(ctx, testRun("run-1")))

	require.NoError(t, s.WriteSnapshotIndex(ctx, "run-1", 1, 0.5, 200, "snap01.ka", "%init: 1 A(x[.])"))
	require.NoError(t, s.WriteSnapshotIndex(ctx, "run-1", 2, 1.0, 400, "snap02.ka", ""))

	snaps, err := s.Snapshots(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "snap01.ka", snaps[0].Path)
	assert.Equal(t, int64(400), snaps[1].Events)
}

func TestVerifyReplay(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.BeginRun(ctx, testRun("run-1")))
	require.NoError(t, s.WriteSamples(ctx, "run-1", []Sample{
		{Seq: 0, Observable: "free", Value: "4"},
		{Seq: 1, Observable: "free", Value: "2"},
	}))

	report, err := s.VerifyReplay(ctx, "run-1", []Sample{
		{Seq: 0, Observable: "free", Value: "4"},
		{Seq: 1, Observable: "free", Value: "2"},
	})
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Samples)

	report, err = s.VerifyReplay(ctx, "run-1", []Sample{
		{Seq: 0, Observable: "free", Value: "4"},
		{Seq: 1, Observable: "free", Value: "3"},
	})
	require.NoError(t, err)
	require.False(t, report.OK())
	assert.Equal(t, "2", report.Mismatches[0].Archived)
	assert.Equal(t, "3", report.Mismatches[0].Replayed)

	report, err = s.VerifyReplay(ctx, "run-1", []Sample{
		{Seq: 0, Observable: "free", Value: "4"},
	})
	require.NoError(t, err)
	assert.False(t, report.OK(), "missing samples are a divergence")

	_, err = s.VerifyReplay(ctx, "empty-run", nil)
	assert.Error(t, err)
}
