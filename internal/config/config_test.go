package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plucky/sitesim/internal/mix"
	"github.com/plucky/sitesim/internal/monitor"
	"github.com/plucky/sitesim/internal/params"
	"github.com/plucky/sitesim/internal/report"
	"github.com/plucky/sitesim/internal/sig"
)

func TestLoad_FullSystem(t *testing.T) {
	cfg, err := Load("testdata/tetramer.cue")
	require.NoError(t, err)

	assert.Equal(t, "tetramer assembly", cfg.Name)
	assert.Equal(t, "A@150(l[r.A], r[l.A], t[b.B$s]), B@100(b[t.A])", cfg.Signature)

	set := cfg.Set
	assert.Equal(t, params.VolumeChoices["fibro"], set.VolumeL)
	assert.Equal(t, 0.5, set.ResizeVolume)
	assert.Equal(t, 298.15, set.TemperatureK)
	assert.Equal(t, uint64(990), set.Seed)
	assert.Equal(t, 250.0, set.SimLimit)
	assert.Equal(t, params.LimitEvent, set.SimLimitUnit)
	assert.Equal(t, 10.0, set.ObsFrequency)
	assert.Equal(t, 50.0, set.SnapFrequency)
	assert.Equal(t, 25, set.Memory)
	assert.Equal(t, map[string]float64{"A": 1e-9}, set.Inflow)
	assert.Equal(t, map[string]float64{"A": 1e-3, "B": 1e-3}, set.Outflow)
	assert.True(t, set.Reproducible)
	assert.True(t, set.Canonicalize, "defaults survive an overlay that does not mention them")

	require.Len(t, cfg.Observables, 6)
	assert.Equal(t, monitor.Decl{Kind: monitor.KindSpecies, Expr: "A(l[.], r[.], t[.])", Name: "freeA"}, cfg.Observables[0])
	assert.Equal(t, monitor.Decl{Kind: monitor.KindPattern, Expr: "A(t[_])", MinSize: 2, MaxSize: 6}, cfg.Observables[1])
	assert.Equal(t, monitor.Decl{Kind: monitor.KindMaxSize, TopN: 3}, cfg.Observables[5])

	require.Len(t, cfg.StopRules, 2)
	assert.Equal(t, "freeA == 0", cfg.StopRules[0].String())
	assert.Equal(t, "sd[4] >= 10", cfg.StopRules[1].String())

	assert.Equal(t, Reporting{
		ReportFile: "tetramer.txt",
		OutputFile: "tetramer.csv",
		SnapRoot:   "tetra",
		Numbering:  report.NumberEvent,
	}, cfg.Reporting)
}

func TestLoad_DecodedSystemBuilds(t *testing.T) {
	cfg, err := Load("testdata/tetramer.cue")
	require.NoError(t, err)

	reg, err := sig.Parse(cfg.Signature)
	require.NoError(t, err)
	rates, err := cfg.Set.Derive(reg)
	require.NoError(t, err)
	x := mix.New(reg, rates, mix.Options{
		Consolidate:  cfg.Set.Consolidate,
		Canonicalize: cfg.Set.Canonicalize,
	})

	_, err = monitor.New(reg, x, cfg.Set.Memory, cfg.Observables)
	require.NoError(t, err)
}

func TestParse_MinimalDefaults(t *testing.T) {
	cfg, err := Parse(`system: {signature: "A(x[x.A])"}`)
	require.NoError(t, err)

	assert.Equal(t, "A(x[x.A])", cfg.Signature)
	assert.Equal(t, params.Defaults(), cfg.Set)
	assert.Empty(t, cfg.Observables)
	assert.Empty(t, cfg.StopRules)
	assert.Empty(t, cfg.MixtureFile)
	assert.Equal(t, Reporting{
		ReportFile: "report.txt",
		OutputFile: "output.csv",
		SnapRoot:   "snap",
		Numbering:  report.NumberSerial,
	}, cfg.Reporting)
}

func TestParse_VolumeInLitres(t *testing.T) {
	cfg, err := Parse(`system: {
		signature: "A(x[x.A])"
		parameters: {volume: 1.0e-15}
	}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0e-15, cfg.Set.VolumeL)
}

func TestParse_MixtureFile(t *testing.T) {
	cfg, err := Parse(`system: {
		signature: "A(x[x.A])"
		mixture:   "warm_start.ka"
	}`)
	require.NoError(t, err)
	assert.Equal(t, "warm_start.ka", cfg.MixtureFile)
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "no system block",
			src:  `other: 1`,
			want: "system block is required",
		},
		{
			name: "no signature",
			src:  `system: {name: "x"}`,
			want: "signature is required",
		},
		{
			name: "empty signature list",
			src:  `system: {signature: []}`,
			want: "signature list is empty",
		},
		{
			name: "unknown volume choice",
			src:  `system: {signature: "A(x[x.A])", parameters: {volume: "thimble"}}`,
			want: `unknown volume choice "thimble"`,
		},
		{
			name: "bad limit unit",
			src:  `system: {signature: "A(x[x.A])", parameters: {limit: {value: 1, unit: "fortnight"}}}`,
			want: `unknown limit unit "fortnight"`,
		},
		{
			name: "unknown observable kind",
			src:  `system: {signature: "A(x[x.A])", observables: [{kind: "histogram"}]}`,
			want: `unknown observable kind "histogram"`,
		},
		{
			name: "observable without expression",
			src:  `system: {signature: "A(x[x.A])", observables: [{kind: "!"}]}`,
			want: "needs an expression",
		},
		{
			name: "bad stop rule",
			src:  `system: {signature: "A(x[x.A])", stop: ["free ~ 3"]}`,
			want: "stop",
		},
		{
			name: "bad numbering",
			src:  `system: {signature: "A(x[x.A])", report: {numbering: "roman"}}`,
			want: "numbering must be",
		},
		{
			name: "invalid parameters",
			src:  `system: {signature: "A(x[x.A])", parameters: {obsFrequency: 0}}`,
			want: "parameters",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src)
			require.Error(t, err)
			assert.True(t, IsConfigError(err), "got %T: %v", err, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParse_SyntaxError(t *testing.T) {
	_, err := Parse("system: {signature: \"A(x[x.A])\"\n\tbroken ===\n}")
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/no_such_system.cue")
	require.Error(t, err)
	assert.False(t, IsConfigError(err))
}

func TestConfigError_Format(t *testing.T) {
	err := &ConfigError{Field: "parameters.volume", Message: "out of range"}
	assert.Equal(t, "parameters.volume: out of range", err.Error())
}
