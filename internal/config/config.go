// Package config decodes CUE system files into the typed inputs of a
// run: a signature declaration, a parameter set, observable
// declarations, stopping rules, and reporting targets.
//
// A system file has a single top-level `system` block:
//
//	system: {
//		name:      "dimerization"
//		signature: "A(x[x.A])"
//		parameters: {
//			volume: "fibro"
//			limit: {value: 100, unit: "event"}
//		}
//		observables: [
//			{kind: "!", expr: "A(x[.])"},
//		]
//		stop: ["A(x[.]) == 0"]
//	}
package config

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/plucky/sitesim/internal/alarm"
	"github.com/plucky/sitesim/internal/monitor"
	"github.com/plucky/sitesim/internal/params"
	"github.com/plucky/sitesim/internal/report"
)

// Reporting names the artifacts a run writes.
type Reporting struct {
	ReportFile string
	OutputFile string
	SnapRoot   string
	Numbering  report.Numbering
}

// Config is a decoded system file.
type Config struct {
	Name      string
	Signature string // compact declaration, ready for sig.Parse
	Set       params.Set

	Observables []monitor.Decl
	StopRules   []alarm.Rule
	Reporting   Reporting

	// MixtureFile optionally names a snapshot to seed the initial
	// mixture from instead of the signature's abundances.
	MixtureFile string
}

// Load reads and decodes the system file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading system file: %w", err)
	}
	return parse(string(data), path)
}

// Parse decodes a system file from source text.
func Parse(src string) (*Config, error) {
	return parse(src, "system.cue")
}

func parse(src, filename string) (*Config, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError("cue", err)
	}
	sys := v.LookupPath(cue.ParsePath("system"))
	if !sys.Exists() {
		return nil, &ConfigError{Field: "system", Message: "system block is required", Pos: v.Pos()}
	}
	return decode(sys)
}

func decode(v cue.Value) (*Config, error) {
	cfg := &Config{
		Set: params.Defaults(),
		Reporting: Reporting{
			ReportFile: "report.txt",
			OutputFile: "output.csv",
			SnapRoot:   "snap",
			Numbering:  report.NumberSerial,
		},
	}

	var err error
	if cfg.Name, err = optString(v, "name"); err != nil {
		return nil, err
	}
	if cfg.Signature, err = decodeSignature(v); err != nil {
		return nil, err
	}

	pv := v.LookupPath(cue.ParsePath("parameters"))
	if pv.Exists() {
		if err := decodeParameters(pv, &cfg.Set); err != nil {
			return nil, err
		}
	}
	if err := cfg.Set.Validate(); err != nil {
		return nil, &ConfigError{Field: "parameters", Message: err.Error(), Pos: v.Pos()}
	}

	if cfg.Observables, err = decodeObservables(v); err != nil {
		return nil, err
	}
	if cfg.StopRules, err = decodeStop(v); err != nil {
		return nil, err
	}
	if err := decodeReporting(v, &cfg.Reporting); err != nil {
		return nil, err
	}
	if cfg.MixtureFile, err = optString(v, "mixture"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// decodeSignature accepts a single declaration string or a list of
// per-agent declarations, which are joined into one.
func decodeSignature(v cue.Value) (string, error) {
	sv := v.LookupPath(cue.ParsePath("signature"))
	if !sv.Exists() {
		return "", &ConfigError{Field: "signature", Message: "signature is required", Pos: v.Pos()}
	}
	if s, err := sv.String(); err == nil {
		return s, nil
	}
	iter, err := sv.List()
	if err != nil {
		return "", &ConfigError{
			Field:   "signature",
			Message: "signature must be a string or a list of strings",
			Pos:     sv.Pos(),
		}
	}
	var decls []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return "", formatCUEError("signature", err)
		}
		decls = append(decls, s)
	}
	if len(decls) == 0 {
		return "", &ConfigError{Field: "signature", Message: "signature list is empty", Pos: sv.Pos()}
	}
	return strings.Join(decls, ", "), nil
}

// decodeParameters overlays the parameters block onto the defaults.
// Temperatures are given in degrees Celsius and stored in Kelvin.
func decodeParameters(pv cue.Value, set *params.Set) error {
	floats := []struct {
		path string
		dst  *float64
	}{
		{"kdWeak", &set.KdWeakM},
		{"kdMedium", &set.KdMediumM},
		{"kdStrong", &set.KdStrongM},
		{"kOn", &set.KOn},
		{"resizeVolume", &set.ResizeVolume},
		{"rescaleTemperature", &set.RescaleTemperature},
		{"ringClosureFactor", &set.ReferenceRingClosureFactor},
		{"obsFrequency", &set.ObsFrequency},
		{"snapFrequency", &set.SnapFrequency},
	}
	for _, f := range floats {
		if err := optFloat(pv, f.path, f.dst); err != nil {
			return err
		}
	}

	if err := decodeVolume(pv, set); err != nil {
		return err
	}
	if err := optCelsius(pv, "temperature", &set.TemperatureK); err != nil {
		return err
	}
	if err := optCelsius(pv, "referenceTemperature", &set.ReferenceTempK); err != nil {
		return err
	}

	var err error
	if set.Inflow, err = decodeFlows(pv, "inflow"); err != nil {
		return err
	}
	if set.Outflow, err = decodeFlows(pv, "outflow"); err != nil {
		return err
	}

	if sv := pv.LookupPath(cue.ParsePath("seed")); sv.Exists() {
		seed, err := sv.Uint64()
		if err != nil {
			return formatCUEError("parameters.seed", err)
		}
		set.Seed = seed
	}
	if err := decodeLimit(pv, set); err != nil {
		return err
	}
	if mv := pv.LookupPath(cue.ParsePath("memory")); mv.Exists() {
		n, err := mv.Int64()
		if err != nil {
			return formatCUEError("parameters.memory", err)
		}
		set.Memory = int(n)
	}

	bools := []struct {
		path string
		dst  *bool
	}{
		{"canonicalize", &set.Canonicalize},
		{"consolidate", &set.Consolidate},
		{"barcode", &set.Barcode},
		{"reproducible", &set.Reproducible},
	}
	for _, b := range bools {
		if bv := pv.LookupPath(cue.ParsePath(b.path)); bv.Exists() {
			val, err := bv.Bool()
			if err != nil {
				return formatCUEError("parameters."+b.path, err)
			}
			*b.dst = val
		}
	}
	return nil
}

// decodeVolume accepts a named choice ("fibro") or a value in litres.
func decodeVolume(pv cue.Value, set *params.Set) error {
	vv := pv.LookupPath(cue.ParsePath("volume"))
	if !vv.Exists() {
		return nil
	}
	if name, err := vv.String(); err == nil {
		litres, ok := params.VolumeChoices[name]
		if !ok {
			return &ConfigError{
				Field:   "parameters.volume",
				Message: fmt.Sprintf("unknown volume choice %q", name),
				Pos:     vv.Pos(),
			}
		}
		set.VolumeL = litres
		return nil
	}
	litres, err := vv.Float64()
	if err != nil {
		return &ConfigError{
			Field:   "parameters.volume",
			Message: "volume must be a named choice or a value in litres",
			Pos:     vv.Pos(),
		}
	}
	set.VolumeL = litres
	return nil
}

func decodeLimit(pv cue.Value, set *params.Set) error {
	lv := pv.LookupPath(cue.ParsePath("limit"))
	if !lv.Exists() {
		return nil
	}
	if err := optFloat(lv, "value", &set.SimLimit); err != nil {
		return err
	}
	uv := lv.LookupPath(cue.ParsePath("unit"))
	if !uv.Exists() {
		return nil
	}
	s, err := uv.String()
	if err != nil {
		return formatCUEError("parameters.limit.unit", err)
	}
	switch unit := params.LimitUnit(s); unit {
	case params.LimitTime, params.LimitEvent:
		set.SimLimitUnit = unit
	default:
		return &ConfigError{
			Field:   "parameters.limit.unit",
			Message: fmt.Sprintf("unknown limit unit %q", s),
			Pos:     uv.Pos(),
		}
	}
	return nil
}

func decodeFlows(pv cue.Value, path string) (map[string]float64, error) {
	fv := pv.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.Fields()
	if err != nil {
		return nil, formatCUEError("parameters."+path, err)
	}
	flows := make(map[string]float64)
	for iter.Next() {
		rate, err := iter.Value().Float64()
		if err != nil {
			return nil, formatCUEError("parameters."+path+"."+iter.Label(), err)
		}
		flows[iter.Label()] = rate
	}
	return flows, nil
}

func decodeObservables(v cue.Value) ([]monitor.Decl, error) {
	ov := v.LookupPath(cue.ParsePath("observables"))
	if !ov.Exists() {
		return nil, nil
	}
	iter, err := ov.List()
	if err != nil {
		return nil, formatCUEError("observables", err)
	}
	var decls []monitor.Decl
	for iter.Next() {
		d, err := decodeObservable(iter.Value())
		if err != nil {
			return nil, err
		}
		decls = append(decls, d)
	}
	return decls, nil
}

func decodeObservable(v cue.Value) (monitor.Decl, error) {
	var d monitor.Decl

	kv := v.LookupPath(cue.ParsePath("kind"))
	if !kv.Exists() {
		return d, &ConfigError{Field: "observables.kind", Message: "kind is required", Pos: v.Pos()}
	}
	s, err := kv.String()
	if err != nil {
		return d, formatCUEError("observables.kind", err)
	}
	switch k := monitor.Kind(s); k {
	case monitor.KindSpecies, monitor.KindPattern, monitor.KindBonds,
		monitor.KindFree, monitor.KindSizeDist, monitor.KindMaxSize:
		d.Kind = k
	default:
		return d, &ConfigError{
			Field:   "observables.kind",
			Message: fmt.Sprintf("unknown observable kind %q", s),
			Pos:     kv.Pos(),
		}
	}

	if d.Name, err = optString(v, "name"); err != nil {
		return d, err
	}
	if d.Expr, err = optString(v, "expr"); err != nil {
		return d, err
	}
	ints := []struct {
		path string
		dst  *int
	}{
		{"minSize", &d.MinSize},
		{"maxSize", &d.MaxSize},
		{"topN", &d.TopN},
	}
	for _, f := range ints {
		if iv := v.LookupPath(cue.ParsePath(f.path)); iv.Exists() {
			n, err := iv.Int64()
			if err != nil {
				return d, formatCUEError("observables."+f.path, err)
			}
			*f.dst = int(n)
		}
	}

	switch d.Kind {
	case monitor.KindSpecies, monitor.KindPattern, monitor.KindBonds, monitor.KindFree:
		if d.Expr == "" {
			return d, &ConfigError{
				Field:   "observables.expr",
				Message: fmt.Sprintf("observable kind %q needs an expression", d.Kind),
				Pos:     v.Pos(),
			}
		}
	}
	return d, nil
}

func decodeStop(v cue.Value) ([]alarm.Rule, error) {
	sv := v.LookupPath(cue.ParsePath("stop"))
	if !sv.Exists() {
		return nil, nil
	}
	iter, err := sv.List()
	if err != nil {
		return nil, formatCUEError("stop", err)
	}
	var lines []string
	for iter.Next() {
		line, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError("stop", err)
		}
		lines = append(lines, line)
	}
	rules, err := alarm.ParseAll(lines)
	if err != nil {
		return nil, &ConfigError{Field: "stop", Message: err.Error(), Pos: sv.Pos()}
	}
	return rules, nil
}

func decodeReporting(v cue.Value, r *Reporting) error {
	rv := v.LookupPath(cue.ParsePath("report"))
	if !rv.Exists() {
		return nil
	}
	strs := []struct {
		path string
		dst  *string
	}{
		{"file", &r.ReportFile},
		{"output", &r.OutputFile},
		{"snapRoot", &r.SnapRoot},
	}
	for _, f := range strs {
		s, err := optString(rv, f.path)
		if err != nil {
			return err
		}
		if s != "" {
			*f.dst = s
		}
	}
	nv := rv.LookupPath(cue.ParsePath("numbering"))
	if !nv.Exists() {
		return nil
	}
	s, err := nv.String()
	if err != nil {
		return formatCUEError("report.numbering", err)
	}
	switch n := report.Numbering(s); n {
	case report.NumberSerial, report.NumberEvent:
		r.Numbering = n
	default:
		return &ConfigError{
			Field:   "report.numbering",
			Message: fmt.Sprintf("numbering must be %q or %q", report.NumberSerial, report.NumberEvent),
			Pos:     nv.Pos(),
		}
	}
	return nil
}

func optString(v cue.Value, path string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(path, err)
	}
	return s, nil
}

func optFloat(v cue.Value, path string, dst *float64) error {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return nil
	}
	f, err := fv.Float64()
	if err != nil {
		return formatCUEError(path, err)
	}
	*dst = f
	return nil
}

func optCelsius(v cue.Value, path string, dst *float64) error {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return nil
	}
	c, err := fv.Float64()
	if err != nil {
		return formatCUEError(path, err)
	}
	*dst = c + 273.15
	return nil
}
