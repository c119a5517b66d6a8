package params

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plucky/sitesim/internal/sig"
)

func mustSig(t *testing.T, decl string) *sig.Registry {
	t.Helper()
	r, err := sig.Parse(decl)
	require.NoError(t, err)
	return r
}

func TestDefaults_Validate(t *testing.T) {
	s := Defaults()
	assert.NoError(t, s.Validate())
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Set)
		key    string
	}{
		{"zero volume", func(s *Set) { s.VolumeL = 0 }, "Volume"},
		{"negative resize", func(s *Set) { s.ResizeVolume = -1 }, "ResizeVolume"},
		{"zero on rate", func(s *Set) { s.KOn = 0 }, "k_on"},
		{"zero kd", func(s *Set) { s.KdMediumM = 0 }, "Kd"},
		{"bad limit unit", func(s *Set) { s.SimLimitUnit = "steps" }, "sim_limit"},
		{"zero limit", func(s *Set) { s.SimLimit = 0 }, "sim_limit"},
		{"zero obs frequency", func(s *Set) { s.ObsFrequency = 0 }, "obs_frequency"},
		{"zero memory", func(s *Set) { s.Memory = 0 }, "memory"},
		{"negative inflow", func(s *Set) { s.Inflow = map[string]float64{"A": -1} }, "inflow"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Defaults()
			tc.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, IsParameterError(err))
			assert.Contains(t, err.Error(), tc.key)
		})
	}
}

func TestDerive_RateConstants(t *testing.T) {
	r := mustSig(t, "A(x[x.A])")
	s := Defaults()
	rates, err := s.Derive(r)
	require.NoError(t, err)

	wantOn := s.KOn / (Avogadro * s.VolumeL)
	assert.InEpsilon(t, wantOn, rates.OnRate, 1e-12)
	assert.InEpsilon(t, s.ReferenceRingClosureFactor*wantOn, rates.RingOnRate, 1e-12)

	bt := sig.MakeBondType("A.x", "A.x")
	// Undecorated bond: medium Kd.
	assert.InEpsilon(t, s.KOn*s.KdMediumM, rates.OffRate[bt], 1e-12)
}

func TestDerive_AffinityClasses(t *testing.T) {
	r := mustSig(t, "A(w[w.A$w], s[s.A$s], n[n.A$50])")
	s := Defaults()
	rates, err := s.Derive(r)
	require.NoError(t, err)

	assert.InEpsilon(t, s.KOn*s.KdWeakM, rates.OffRate[sig.MakeBondType("A.w", "A.w")], 1e-12)
	assert.InEpsilon(t, s.KOn*s.KdStrongM, rates.OffRate[sig.MakeBondType("A.s", "A.s")], 1e-12)
	assert.InEpsilon(t, s.KOn*50e-9, rates.OffRate[sig.MakeBondType("A.n", "A.n")], 1e-12)
}

func TestDerive_VolumeResize(t *testing.T) {
	r := mustSig(t, "A(x[x.A])")

	base := Defaults()
	baseRates, err := base.Derive(r)
	require.NoError(t, err)

	doubled := Defaults()
	doubled.ResizeVolume = 2
	doubledRates, err := doubled.Derive(r)
	require.NoError(t, err)

	// Doubling the volume halves the intermolecular on-rate but leaves the
	// ring-closure rate and the off-rates untouched.
	assert.InEpsilon(t, baseRates.OnRate/2, doubledRates.OnRate, 1e-12)
	assert.InEpsilon(t, baseRates.RingOnRate, doubledRates.RingOnRate, 1e-12)
	bt := sig.MakeBondType("A.x", "A.x")
	assert.InEpsilon(t, baseRates.OffRate[bt], doubledRates.OffRate[bt], 1e-12)
}

func TestDerive_TemperatureRescale(t *testing.T) {
	r := mustSig(t, "A(x[x.A])")

	base := Defaults()
	baseRates, err := base.Derive(r)
	require.NoError(t, err)

	hot := Defaults()
	hot.RescaleTemperature = 2
	hotRates, err := hot.Derive(r)
	require.NoError(t, err)

	bt := sig.MakeBondType("A.x", "A.x")
	assert.InEpsilon(t, 2*baseRates.OffRate[bt], hotRates.OffRate[bt], 1e-12)
	assert.InEpsilon(t, baseRates.OnRate, hotRates.OnRate, 1e-12, "on-rate is temperature-independent")
}

func TestDerive_FlowsAndInitCounts(t *testing.T) {
	r := mustSig(t, "A@123(x[x.A]), B(y[y.B])")
	s := Defaults()
	s.Inflow = map[string]float64{"A": 2e-9}
	s.Outflow = map[string]float64{"A": 0.5}
	rates, err := s.Derive(r)
	require.NoError(t, err)

	vol := s.VolumeL
	assert.InEpsilon(t, 2e-9*Avogadro*vol, rates.InflowRate["A"], 1e-12)
	assert.Equal(t, 0.5, rates.OutflowRate["A"])

	assert.Equal(t, int(123e-9*Avogadro*vol), rates.InitCounts["A"])
	assert.Equal(t, int(DefaultInitNM*1e-9*Avogadro*vol), rates.InitCounts["B"], "undecorated agents default to 100 nM")
}

func TestDerive_UnknownFlowAgent(t *testing.T) {
	r := mustSig(t, "A(x[x.A])")
	s := Defaults()
	s.Inflow = map[string]float64{"Z": 1e-9}
	_, err := s.Derive(r)
	require.Error(t, err)
	assert.True(t, IsParameterError(err))
}

func TestObservationPeriods(t *testing.T) {
	s := Defaults()
	s.ObsFrequency = 0.25
	s.SnapFrequency = 0

	obs, snap := s.ObservationPeriods()
	assert.Equal(t, 0.25, obs)
	assert.True(t, math.IsInf(snap, 1), "zero snapshot frequency disables snapshots")

	s.SnapFrequency = 2
	_, snap = s.ObservationPeriods()
	assert.Equal(t, 2.0, snap)
}

func TestDigest_StableAndSensitive(t *testing.T) {
	a := Defaults()
	b := Defaults()
	assert.Equal(t, a.Digest(), b.Digest())

	b.Seed = 1
	assert.NotEqual(t, a.Digest(), b.Digest())
}
