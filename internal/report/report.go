package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/plucky/sitesim/internal/mix"
	"github.com/plucky/sitesim/internal/params"
	"github.com/plucky/sitesim/internal/sig"
	"github.com/plucky/sitesim/internal/sim"
)

// Info collects what the run report's opening sections show.
type Info struct {
	UUID    string
	Started time.Time
	Command string

	Set      *params.Set
	Registry *sig.Registry
	Mixture  *mix.Mixture
}

const ruleWidth = 70

func section(w io.Writer, name string) {
	line := name + " "
	if len(line) < ruleWidth {
		line += strings.Repeat("-", ruleWidth-len(line))
	}
	fmt.Fprintf(w, "\n%s\n\n", line)
}

func kv(w io.Writer, key string, format string, args ...any) {
	fmt.Fprintf(w, "%30s: ", key)
	fmt.Fprintf(w, format, args...)
	fmt.Fprintln(w)
}

// WriteReport writes the opening run report: provenance, settings,
// signature, parameters, and the initial mixture summary.
func WriteReport(w io.Writer, info Info) error {
	kv(w, "initialized (UTC)", "%s", info.Started.UTC().Format("2006-01-02 15:04:05"))
	kv(w, "uuid", "%s", info.UUID)
	if info.Command != "" {
		section(w, "COMMAND LINE")
		fmt.Fprintf(w, "%s\n", info.Command)
	}

	section(w, "SYSTEM SETTINGS")
	kv(w, "consolidate", "%t", info.Set.Consolidate)
	kv(w, "canonicalize", "%t", info.Set.Canonicalize)
	kv(w, "barcode", "%t", info.Set.Barcode)
	kv(w, "reproducible", "%t", info.Set.Reproducible)

	section(w, "SIGNATURE")
	fmt.Fprintf(w, "%s\n", info.Registry.String())

	section(w, "PARAMETERS")
	kv(w, "volume", "%g l", info.Set.VolumeL)
	kv(w, "resize", "%g", info.Set.ResizeVolume)
	kv(w, "temperature", "%g K (reference %g K)", info.Set.TemperatureK, info.Set.ReferenceTempK)
	kv(w, "k_on", "%g", info.Set.KOn)
	kv(w, "Kd weak/medium/strong", "%g / %g / %g M", info.Set.KdWeakM, info.Set.KdMediumM, info.Set.KdStrongM)
	kv(w, "ring closure factor", "%g", info.Set.ReferenceRingClosureFactor)
	kv(w, "seed", "%d", info.Set.Seed)
	kv(w, "limit", "%g %s", info.Set.SimLimit, info.Set.SimLimitUnit)
	kv(w, "observation frequency", "%g", info.Set.ObsFrequency)
	kv(w, "snapshot frequency", "%g", info.Set.SnapFrequency)
	kv(w, "memory", "%d", info.Set.Memory)

	writeMixtureSection(w, info.Registry, info.Mixture)
	return nil
}

func writeMixtureSection(w io.Writer, reg *sig.Registry, x *mix.Mixture) {
	section(w, "MIXTURE")
	kv(w, "molecular species", "%d", x.Species())
	kv(w, "molecules", "%d", x.MoleculeCount())
	counts := x.AgentCounts()
	types := make([]string, 0, len(counts))
	for at := range counts {
		types = append(types, at)
	}
	sort.Strings(types)
	for _, at := range types {
		kv(w, at, "%d", counts[at])
	}
	fmt.Fprintf(w, "%30s:\n", "free sites")
	for _, st := range reg.SiteTypes() {
		kv(w, string(st), "%d", x.FreeSites(st))
	}

	section(w, "ACTIVITIES")
	kv(w, "total system activity", "%.4g", x.TotalActivity())
	inflow, outflow, intra, diss, inter := x.ChannelTotals()
	kv(w, "inflow activity", "%.4g", inflow)
	kv(w, "outflow activity", "%.4g", outflow)
	kv(w, "unimolecular binding activity", "%.4g", intra)
	kv(w, "bond dissociation activity", "%.4g", diss)
	kv(w, "bimolecular binding activity", "%.4g", inter)
	for _, bt := range reg.BondTypes() {
		kv(w, bt.String(), "%.4g / %.4g / %.4g",
			x.IntraActivity(bt), x.DissActivity(bt), x.InterActivity(bt))
	}
}

// WriteResources appends the closing section of the run report.
func WriteResources(w io.Writer, uuid string, started, ended time.Time, res sim.Result) error {
	section(w, "RESOURCES")
	kv(w, "uuid", "%s", uuid)
	kv(w, "terminated (UTC)", "%s", ended.UTC().Format("2006-01-02 15:04:05"))
	kv(w, "real time since initializing", "%s", ended.Sub(started).Round(time.Millisecond))
	kv(w, "stop reason", "%s", reasonText(res))
	kv(w, "simulated time", "%g", res.Time)
	kv(w, "events", "%d", res.Events)
	kv(w, "bindings (inter/intra)", "%d / %d", res.Counts.Inter, res.Counts.Intra)
	kv(w, "dissociations", "%d", res.Counts.Unbind)
	kv(w, "inflow / outflow", "%d / %d", res.Counts.Inflow, res.Counts.Outflow)
	kv(w, "null events", "%d", res.Counts.Null)
	return nil
}

func reasonText(res sim.Result) string {
	switch res.Reason {
	case sim.StopPredicate, sim.StopError:
		if res.Detail != "" {
			return fmt.Sprintf("%s (%s)", res.Reason, res.Detail)
		}
	}
	return string(res.Reason)
}
