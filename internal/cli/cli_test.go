package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plucky/sitesim/internal/store"
)

const testSystem = `system: {
	signature: "A(x[x.A])"
	parameters: {
		seed: 4711
		limit: {value: 50, unit: "event"}
		obsFrequency:  10
		snapFrequency: 25
	}
	observables: [
		{kind: "!", expr: "A(x[.])", name: "free"},
		{kind: "b", expr: "A.x--A.x", name: "bonds"},
	]
}
`

// writeSystem drops a system file into a fresh temp dir and returns
// its path plus the dir for artifact paths.
func writeSystem(t *testing.T, src string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "system.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path, dir
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	return buf, cmd.ExecuteContext(context.Background())
}

func runArgs(dir, systemPath string, extra ...string) []string {
	args := []string{
		systemPath,
		"--report", filepath.Join(dir, "report.txt"),
		"--output", filepath.Join(dir, "output.csv"),
		"--snap-root", filepath.Join(dir, "snap"),
	}
	return append(args, extra...)
}

func TestRun_WritesArtifacts(t *testing.T) {
	systemPath, dir := writeSystem(t, testSystem)
	dbPath := filepath.Join(dir, "runs.db")

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	buf, err := execute(t, cmd, runArgs(dir, systemPath, "--db", dbPath)...)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "finished: limit")

	rep, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(rep), "SYSTEM SETTINGS")
	assert.Contains(t, string(rep), "RESOURCES")

	out, err := os.ReadFile(filepath.Join(dir, "output.csv"))
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	assert.Equal(t, "time,free,bonds", string(lines[0]))
	// Initial observation plus one every 10 events up to the limit.
	assert.Len(t, lines, 7)

	assert.FileExists(t, filepath.Join(dir, "snap1.ka"))
	assert.FileExists(t, filepath.Join(dir, "snap2.ka"))

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()
	runs, err := st.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run, err := st.ReadRun(ctx, runs[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(4711), run.Seed)
	assert.Equal(t, int64(50), run.Events)
	assert.False(t, run.Ended.IsZero())
	series, err := st.ReadSeries(ctx, runs[0], "free")
	require.NoError(t, err)
	assert.Len(t, series, 6)
	snaps, err := st.Snapshots(ctx, runs[0])
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestRun_JSONSummary(t *testing.T) {
	systemPath, dir := writeSystem(t, testSystem)

	cmd := NewRunCommand(&RootOptions{Format: "json"})
	buf, err := execute(t, cmd, runArgs(dir, systemPath)...)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Data.UUID)
	assert.Equal(t, "limit", resp.Data.Reason)
	assert.Equal(t, int64(50), resp.Data.Events)
	assert.Equal(t, 2, resp.Data.Snapshots)
}

func TestRun_SeedFlagOverridesSystemFile(t *testing.T) {
	systemPath, dir := writeSystem(t, testSystem)
	dbPath := filepath.Join(dir, "runs.db")

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, runArgs(dir, systemPath, "--db", dbPath, "--seed", "991")...)
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run, err := st.ReadRun(context.Background(), runs[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(991), run.Seed)
}

func TestRun_MissingSystemFile(t *testing.T) {
	dir := t.TempDir()
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, filepath.Join(dir, "absent.cue"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load system file")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate_OK(t *testing.T) {
	systemPath, _ := writeSystem(t, testSystem)
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	buf, err := execute(t, cmd, systemPath)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "System OK: 1 agent type(s), 1 bond type(s), 2 observable(s), 0 stopping rule(s)")
}

func TestValidate_BadObservable(t *testing.T) {
	systemPath, _ := writeSystem(t, `system: {
		signature: "A(x[x.A])"
		observables: [{kind: "b", expr: "A.x--B.y"}]
	}`)
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	buf, err := execute(t, cmd, systemPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [observables]")
}

func TestValidate_UnknownStopObservable(t *testing.T) {
	systemPath, _ := writeSystem(t, `system: {
		signature: "A(x[x.A])"
		observables: [{kind: "!", expr: "A(x[.])", name: "free"}]
		stop: ["Free == 0"]
	}`)
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	buf, err := execute(t, cmd, systemPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [stop]")
	assert.Contains(t, buf.String(), `unknown observable "Free"`)
}

func TestRun_UnknownStopObservable(t *testing.T) {
	systemPath, dir := writeSystem(t, `system: {
		signature: "A(x[x.A])"
		parameters: {limit: {value: 10, unit: "event"}}
		observables: [{kind: "!", expr: "A(x[.])", name: "free"}]
		stop: ["frree == 0"]
	}`)
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, runArgs(dir, systemPath)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown observable "frree"`)
}

func TestValidate_BadConfig(t *testing.T) {
	systemPath, _ := writeSystem(t, `system: {name: "no signature"}`)
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	buf, err := execute(t, cmd, systemPath)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "signature is required")
}

func TestReplay_RoundTrip(t *testing.T) {
	systemPath, dir := writeSystem(t, testSystem)
	dbPath := filepath.Join(dir, "runs.db")

	runCmd := NewRunCommand(&RootOptions{Format: "text"})
	_, err := execute(t, runCmd, runArgs(dir, systemPath, "--db", dbPath)...)
	require.NoError(t, err)

	replayCmd := NewReplayCommand(&RootOptions{Format: "text"})
	buf, err := execute(t, replayCmd, systemPath, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "All runs replayed identically.")
}

func TestReplay_EmptyArchive(t *testing.T) {
	systemPath, dir := writeSystem(t, testSystem)
	dbPath := filepath.Join(dir, "empty.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	buf, err := execute(t, cmd, systemPath, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No runs found in archive.")
}

func TestReplay_SignatureMismatch(t *testing.T) {
	systemPath, dir := writeSystem(t, testSystem)
	dbPath := filepath.Join(dir, "runs.db")

	runCmd := NewRunCommand(&RootOptions{Format: "text"})
	_, err := execute(t, runCmd, runArgs(dir, systemPath, "--db", dbPath)...)
	require.NoError(t, err)

	otherPath := filepath.Join(dir, "other.cue")
	require.NoError(t, os.WriteFile(otherPath, []byte(`system: {
		signature: "B(y[y.B])"
		parameters: {limit: {value: 50, unit: "event"}, obsFrequency: 10}
	}`), 0o644))

	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	_, err = execute(t, cmd, otherPath, "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "signature differs")
}

func TestRoot_InvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	_, err := execute(t, cmd, "--format", "xml", "validate", "whatever.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
