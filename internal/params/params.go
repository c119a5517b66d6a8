// Package params holds the scalar parameters of a run and derives the
// stochastic rate constants from them. A Set is assembled once, validated,
// derived, and treated as read-only for the rest of the run.
package params

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/plucky/sitesim/internal/sig"
)

// Avogadro is the number of molecules per mole.
const Avogadro = 6.02214e23

// DefaultInitNM is the initial abundance (nM) of an agent type that
// carries no abundance decoration.
const DefaultInitNM = 100.0

// VolumeChoices maps symbolic volume names to litres.
var VolumeChoices = map[string]float64{
	"fibro": 2.25e-12,
}

// LimitUnit tags the simulation limit as simulated time or event count.
type LimitUnit string

const (
	// LimitTime stops the run when simulated time reaches the limit.
	LimitTime LimitUnit = "time"
	// LimitEvent stops the run when the event count reaches the limit.
	LimitEvent LimitUnit = "event"
)

// Set holds the parameters of a run. Fields are in physical units unless
// noted; Derive computes the stochastic constants and initial counts.
type Set struct {
	// Physical chemistry.
	KdWeakM   float64 // dissociation constant of a weak bond, mol/l
	KdMediumM float64
	KdStrongM float64
	KOn       float64 // diffusion-limited on rate, (M s)^-1
	VolumeL   float64 // reaction volume, litres

	// Rescaling relative to the reference system.
	ResizeVolume       float64 // multiplies the volume
	TemperatureK       float64 // current temperature, K
	ReferenceTempK     float64 // reference temperature, K
	RescaleTemperature float64 // extra multiplicative factor on T

	// ReferenceRingClosureFactor is the ratio of the intramolecular to the
	// intermolecular on-rate at the reference volume.
	ReferenceRingClosureFactor float64

	// Flows, per agent type. Inflow is in M/s, outflow in 1/s.
	Inflow  map[string]float64
	Outflow map[string]float64

	// Run control.
	Seed          uint64
	SimLimit      float64
	SimLimitUnit  LimitUnit
	ObsFrequency  float64
	SnapFrequency float64
	Memory        int // sample ring depth per observable

	// Behavior flags.
	Canonicalize bool
	Consolidate  bool
	Barcode      bool
	Reproducible bool
}

// Defaults returns a Set with the reference defaults: fibroblast volume,
// diffusion-limited on rate, weak/medium/strong Kd ladder, ring closure
// factor 1e5, and the traditional seed.
func Defaults() Set {
	return Set{
		KdWeakM:                    1000e-9,
		KdMediumM:                  100e-9,
		KdStrongM:                  10e-9,
		KOn:                        1e9,
		VolumeL:                    VolumeChoices["fibro"],
		ResizeVolume:               1,
		TemperatureK:               298.15,
		ReferenceTempK:             298.15,
		RescaleTemperature:         1,
		ReferenceRingClosureFactor: 1e5,
		Seed:                       4711,
		SimLimit:                   1,
		SimLimitUnit:               LimitTime,
		ObsFrequency:               0.1,
		SnapFrequency:              0,
		Memory:                     10,
		Canonicalize:               true,
		Consolidate:                true,
	}
}

// Validate checks the Set for missing or nonsensical values.
func (s *Set) Validate() error {
	if s.VolumeL <= 0 {
		return &ParameterError{Key: "Volume", Message: "must be positive"}
	}
	if s.ResizeVolume <= 0 {
		return &ParameterError{Key: "ResizeVolume", Message: "must be positive"}
	}
	if s.KOn <= 0 {
		return &ParameterError{Key: "k_on", Message: "must be positive"}
	}
	if s.KdWeakM <= 0 || s.KdMediumM <= 0 || s.KdStrongM <= 0 {
		return &ParameterError{Key: "Kd", Message: "dissociation constants must be positive"}
	}
	if s.TemperatureK <= 0 || s.ReferenceTempK <= 0 || s.RescaleTemperature <= 0 {
		return &ParameterError{Key: "Temperature", Message: "temperatures and rescale factor must be positive"}
	}
	if s.ReferenceRingClosureFactor < 0 {
		return &ParameterError{Key: "referenceRingClosureFactor", Message: "must be non-negative"}
	}
	switch s.SimLimitUnit {
	case LimitTime, LimitEvent:
	default:
		return &ParameterError{Key: "sim_limit", Message: fmt.Sprintf("unknown unit %q", s.SimLimitUnit)}
	}
	if s.SimLimit <= 0 {
		return &ParameterError{Key: "sim_limit", Message: "must be positive"}
	}
	if s.ObsFrequency <= 0 {
		return &ParameterError{Key: "obs_frequency", Message: "must be positive"}
	}
	if s.SnapFrequency < 0 {
		return &ParameterError{Key: "snap_frequency", Message: "must be non-negative"}
	}
	if s.Memory <= 0 {
		return &ParameterError{Key: "memory", Message: "must be positive"}
	}
	for at, v := range s.Inflow {
		if v < 0 {
			return &ParameterError{Key: "inflow", Message: fmt.Sprintf("negative rate for %s", at)}
		}
	}
	for at, v := range s.Outflow {
		if v < 0 {
			return &ParameterError{Key: "outflow", Message: fmt.Sprintf("negative rate for %s", at)}
		}
	}
	return nil
}

// Rates holds the derived stochastic constants of a run.
type Rates struct {
	// VolumeL is the effective (resized) volume.
	VolumeL float64

	// OnRate is the intermolecular binding rate per free-site pair.
	OnRate float64

	// RingOnRate is the intramolecular binding rate per free-site pair.
	// It is volume-independent: the ring closure factor rescales with the
	// volume, cancelling the volume dependence of the on-rate.
	RingOnRate float64

	// OffRate is the dissociation rate per bond, by bond type.
	OffRate map[sig.BondType]float64

	// InflowRate is the constant inflow propensity per agent type.
	InflowRate map[string]float64

	// OutflowRate is the per-instance outflow rate per agent type.
	OutflowRate map[string]float64

	// InitCounts is the initial number of agent instances per type.
	InitCounts map[string]int
}

// Derive computes the stochastic rate constants for a signature.
// It validates the Set first.
func (s *Set) Derive(r *sig.Registry) (*Rates, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	for at := range s.Inflow {
		if !r.HasAgent(at) {
			return nil, &ParameterError{Key: "inflow", Message: fmt.Sprintf("agent type %s is not declared", at)}
		}
	}
	for at := range s.Outflow {
		if !r.HasAgent(at) {
			return nil, &ParameterError{Key: "outflow", Message: fmt.Sprintf("agent type %s is not declared", at)}
		}
	}

	vol := s.VolumeL * s.ResizeVolume
	// Temperature enters the dissociation rates only.
	tempFactor := s.TemperatureK * s.RescaleTemperature / s.ReferenceTempK

	rates := &Rates{
		VolumeL:     vol,
		OnRate:      s.KOn / (Avogadro * vol),
		OffRate:     make(map[sig.BondType]float64, len(r.BondTypes())),
		InflowRate:  make(map[string]float64, len(s.Inflow)),
		OutflowRate: make(map[string]float64, len(s.Outflow)),
		InitCounts:  make(map[string]int, len(r.AgentTypes())),
	}
	rates.RingOnRate = s.ReferenceRingClosureFactor * s.ResizeVolume * rates.OnRate

	for _, bt := range r.BondTypes() {
		aff, _ := r.Affinity(bt)
		var kd float64
		switch aff.Class {
		case sig.AffinityWeak:
			kd = s.KdWeakM
		case sig.AffinityStrong:
			kd = s.KdStrongM
		case sig.AffinityNumeric:
			kd = aff.KdNM * 1e-9
		default: // medium and default share the middle rung
			kd = s.KdMediumM
		}
		rates.OffRate[bt] = s.KOn * kd * tempFactor
	}

	for at, rate := range s.Inflow {
		rates.InflowRate[at] = rate * Avogadro * vol
	}
	for at, rate := range s.Outflow {
		rates.OutflowRate[at] = rate
	}

	for _, at := range r.AgentTypes() {
		nm, ok := r.Abundance(at)
		if !ok {
			nm = DefaultInitNM
		}
		rates.InitCounts[at] = int(nm * 1e-9 * Avogadro * vol)
	}
	return rates, nil
}

// Digest renders a short stable fingerprint of the Set for snapshot and
// archive headers. It is not cryptographic; equal Sets produce equal
// digests and that is all reproduction needs.
func (s *Set) Digest() string {
	var b strings.Builder
	fmt.Fprintf(&b, "V=%g R=%g T=%g/%g*%g rcf=%g kon=%g kd=%g/%g/%g seed=%d lim=%g%s obs=%g snap=%g mem=%d",
		s.VolumeL, s.ResizeVolume, s.TemperatureK, s.ReferenceTempK, s.RescaleTemperature,
		s.ReferenceRingClosureFactor, s.KOn, s.KdWeakM, s.KdMediumM, s.KdStrongM,
		s.Seed, s.SimLimit, s.SimLimitUnit, s.ObsFrequency, s.SnapFrequency, s.Memory)
	fmt.Fprintf(&b, " flags=%t%t%t%t", s.Canonicalize, s.Consolidate, s.Barcode, s.Reproducible)
	writeFlowDigest(&b, " in", s.Inflow)
	writeFlowDigest(&b, " out", s.Outflow)
	return b.String()
}

func writeFlowDigest(b *strings.Builder, label string, flows map[string]float64) {
	if len(flows) == 0 {
		return
	}
	types := make([]string, 0, len(flows))
	for at := range flows {
		types = append(types, at)
	}
	sort.Strings(types)
	b.WriteString(label + "=")
	for i, at := range types {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(b, "%s:%g", at, flows[at])
	}
}

// ObservationPeriods translates the observation and snapshot frequencies
// into the limit's unit. A zero snapshot frequency disables snapshots
// (math.Inf keeps the scheduler's comparisons trivial).
func (s *Set) ObservationPeriods() (obs, snap float64) {
	obs = s.ObsFrequency
	if s.SnapFrequency > 0 {
		snap = s.SnapFrequency
	} else {
		snap = math.Inf(1)
	}
	return obs, snap
}
