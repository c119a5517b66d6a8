package mix

import (
	"math"
	"sort"

	"github.com/plucky/sitesim/internal/params"
	"github.com/plucky/sitesim/internal/sig"
)

// Options selects the optional behaviors of a Mixture.
type Options struct {
	// Consolidate merges isomorphic molecules into one species with a
	// multiplicity count.
	Consolidate bool
	// Canonicalize maintains the canonical-form index used for species
	// lookup and fast consolidation.
	Canonicalize bool
	// Barcode stamps every agent instance with a process-unique label.
	// Barcoded instances are never consolidated.
	Barcode bool
}

// Mixture is the population of molecular species, together with the
// per-type aggregate propensity weights the scheduler selects events
// from. All weights are maintained incrementally around each mutation.
type Mixture struct {
	reg   *sig.Registry
	rates *params.Rates
	opt   Options

	nextBarcode int

	// molecules and index realize O(1) swap-removal of species; the sum
	// trees are kept aligned with the slice positions.
	molecules []*Molecule
	index     map[*Molecule]int

	byCanonical map[string]*Molecule
	atomByType  map[string]*Molecule

	totalFree  map[sig.SiteType]int
	totalBonds map[sig.BondType]int
	singletons map[string]int

	actIntra   map[sig.BondType]float64
	actDiss    map[sig.BondType]float64
	actInter   map[sig.BondType]float64
	actOutflow map[string]float64

	intraTotal   float64
	dissTotal    float64
	interTotal   float64
	inflowTotal  float64
	outflowTotal float64
	grandTotal   float64

	intraTree map[sig.BondType]*SumTree
	dissTree  map[sig.BondType]*SumTree
	freeTree  map[sig.SiteType]*SumTree
}

// New creates an empty mixture for the given signature and derived
// rates.
func New(reg *sig.Registry, rates *params.Rates, opt Options) *Mixture {
	x := &Mixture{
		reg:         reg,
		rates:       rates,
		opt:         opt,
		index:       make(map[*Molecule]int),
		byCanonical: make(map[string]*Molecule),
		atomByType:  make(map[string]*Molecule),
		totalFree:   make(map[sig.SiteType]int),
		totalBonds:  make(map[sig.BondType]int),
		singletons:  make(map[string]int),
		actIntra:    make(map[sig.BondType]float64),
		actDiss:     make(map[sig.BondType]float64),
		actInter:    make(map[sig.BondType]float64),
		actOutflow:  make(map[string]float64),
		intraTree:   make(map[sig.BondType]*SumTree),
		dissTree:    make(map[sig.BondType]*SumTree),
		freeTree:    make(map[sig.SiteType]*SumTree),
	}
	for _, bt := range reg.BondTypes() {
		x.intraTree[bt] = NewSumTree(nil)
		x.dissTree[bt] = NewSumTree(nil)
	}
	for _, st := range reg.SiteTypes() {
		x.freeTree[st] = NewSumTree(nil)
	}
	return x
}

// SeedInitial populates the mixture with unbound agents according to
// the per-type counts, barcoding instances when configured, and brings
// all aggregates up to date.
func (x *Mixture) SeedInitial(counts map[string]int) {
	for _, at := range x.reg.AgentTypes() {
		count := counts[at]
		if count == 0 {
			continue
		}
		if x.opt.Barcode {
			for i := 0; i < count; i++ {
				m := x.newAtom(at)
				m.Count = 1
				x.addSpecies(m)
			}
			continue
		}
		m := x.newAtom(at)
		m.Count = count
		x.addSpecies(m)
	}
	x.Recompute()
}

// SeedMolecule adds count instances of a pre-built molecule. Callers
// must finish seeding with Recompute. Snapshot read-back enters here.
func (x *Mixture) SeedMolecule(m *Molecule, count int) {
	m.Count = count
	x.addSpecies(m)
}

// Parse builds a molecule from a connectivity expression against the
// mixture's signature. The molecule is not seeded.
func (x *Mixture) Parse(expr string) (*Molecule, error) {
	return ParseMolecule(x.reg, expr)
}

func (x *Mixture) newAtom(agentType string) *Molecule {
	bc := 0
	if x.opt.Barcode {
		x.nextBarcode++
		bc = x.nextBarcode
	}
	ag := Agent{Type: agentType, Barcode: bc, sites: make([]siteSlot, len(x.reg.Sites(agentType)))}
	return newMolecule(x.reg, []Agent{ag})
}

// Recompute rebuilds every aggregate and sum tree from a full scan.
// Mutations afterwards go through the incremental updates.
func (x *Mixture) Recompute() {
	for _, st := range x.reg.SiteTypes() {
		x.totalFree[st] = 0
	}
	for _, bt := range x.reg.BondTypes() {
		x.totalBonds[bt] = 0
		x.actIntra[bt] = 0
		x.actDiss[bt] = 0
		x.actInter[bt] = 0
	}
	for at := range x.singletons {
		delete(x.singletons, at)
	}
	for _, m := range x.molecules {
		for _, st := range x.reg.SiteTypes() {
			x.totalFree[st] += m.FreeCount(st) * m.Count
		}
		if m.Size() == 1 {
			x.singletons[m.AgentAt(0).Type] += m.Count
		}
	}
	for _, m := range x.molecules {
		for _, bt := range x.reg.BondTypes() {
			x.actIntra[bt] += float64(m.IntraPairs(bt)*m.Count) * x.rates.RingOnRate
			x.actDiss[bt] += float64(m.BondCount(bt)*m.Count) * x.rates.OffRate[bt]
			x.totalBonds[bt] += m.BondCount(bt) * m.Count

			f1 := m.FreeCount(bt.First)
			f2 := m.FreeCount(bt.Second)
			factor := 1.0
			if bt.Homotypic() {
				factor = 0.5
			}
			a := float64(f1*f2*(m.Count-1)*m.Count) +
				float64(f1*m.Count*(x.totalFree[bt.Second]-f2*m.Count))
			x.actInter[bt] += a * factor * x.rates.OnRate
		}
	}
	for at := range x.actOutflow {
		delete(x.actOutflow, at)
	}
	for at, rate := range x.rates.OutflowRate {
		x.actOutflow[at] = float64(x.singletons[at]) * rate
	}

	for _, bt := range x.reg.BondTypes() {
		intra := make([]float64, len(x.molecules))
		diss := make([]float64, len(x.molecules))
		for i, m := range x.molecules {
			intra[i] = float64(m.IntraPairs(bt) * m.Count)
			diss[i] = float64(m.BondCount(bt) * m.Count)
		}
		x.intraTree[bt] = NewSumTree(intra)
		x.dissTree[bt] = NewSumTree(diss)
	}
	for _, st := range x.reg.SiteTypes() {
		free := make([]float64, len(x.molecules))
		for i, m := range x.molecules {
			free[i] = float64(m.FreeCount(st) * m.Count)
		}
		x.freeTree[st] = NewSumTree(free)
	}
	x.updateTotals()
}

// interDelta returns the intermolecular pair-count change contributed
// by one instance of m for bond type bt, given the current free-site
// totals. The expression is independent of the species count; the
// symmetry factor of homotypic types is already folded in.
func (x *Mixture) interDelta(m *Molecule, bt sig.BondType) float64 {
	f1 := m.FreeCount(bt.First)
	if bt.Homotypic() {
		t := x.totalFree[bt.First]
		return float64(f1*t - f1*f1)
	}
	f2 := m.FreeCount(bt.Second)
	t1 := x.totalFree[bt.First]
	t2 := x.totalFree[bt.Second]
	return float64(f1*t2 + f2*t1 - 2*f1*f2)
}

// negativeUpdate removes one instance of m from the aggregate
// activities and totals. The species count is adjusted separately.
func (x *Mixture) negativeUpdate(m *Molecule) {
	for _, bt := range x.reg.BondTypes() {
		x.actIntra[bt] -= float64(m.IntraPairs(bt)) * x.rates.RingOnRate
		x.actDiss[bt] -= float64(m.BondCount(bt)) * x.rates.OffRate[bt]
		x.actInter[bt] -= x.interDelta(m, bt) * x.rates.OnRate
		x.totalBonds[bt] -= m.BondCount(bt)
	}
	for _, st := range x.reg.SiteTypes() {
		x.totalFree[st] -= m.FreeCount(st)
	}
	if m.Size() == 1 {
		at := m.AgentAt(0).Type
		x.singletons[at]--
		if rate, ok := x.rates.OutflowRate[at]; ok {
			x.actOutflow[at] -= rate
		}
	}
}

// positiveUpdate adds one instance of m to the aggregate activities and
// totals.
func (x *Mixture) positiveUpdate(m *Molecule) {
	for _, st := range x.reg.SiteTypes() {
		x.totalFree[st] += m.FreeCount(st)
	}
	for _, bt := range x.reg.BondTypes() {
		x.actIntra[bt] += float64(m.IntraPairs(bt)) * x.rates.RingOnRate
		x.actDiss[bt] += float64(m.BondCount(bt)) * x.rates.OffRate[bt]
		x.actInter[bt] += x.interDelta(m, bt) * x.rates.OnRate
		x.totalBonds[bt] += m.BondCount(bt)
	}
	if m.Size() == 1 {
		at := m.AgentAt(0).Type
		x.singletons[at]++
		if rate, ok := x.rates.OutflowRate[at]; ok {
			x.actOutflow[at] += rate
		}
	}
}

// updateTotals refreshes the per-channel and grand totals from the
// per-type activities, in declaration order.
func (x *Mixture) updateTotals() {
	x.intraTotal = 0
	x.dissTotal = 0
	x.interTotal = 0
	for _, bt := range x.reg.BondTypes() {
		x.intraTotal += x.actIntra[bt]
		x.dissTotal += x.actDiss[bt]
		x.interTotal += x.actInter[bt]
	}
	x.inflowTotal = 0
	for _, at := range x.reg.AgentTypes() {
		x.inflowTotal += x.rates.InflowRate[at]
	}
	x.outflowTotal = 0
	for _, at := range x.reg.AgentTypes() {
		x.outflowTotal += x.actOutflow[at]
	}
	x.grandTotal = x.intraTotal + x.dissTotal + x.interTotal + x.inflowTotal + x.outflowTotal
}

func (x *Mixture) addSpecies(m *Molecule) {
	x.index[m] = len(x.molecules)
	x.molecules = append(x.molecules, m)
	if x.opt.Canonicalize && !x.opt.Barcode {
		x.byCanonical[m.Canonical()] = m
	}
	if m.Size() == 1 {
		x.atomByType[m.AgentAt(0).Type] = m
	}
	for _, bt := range x.reg.BondTypes() {
		x.intraTree[bt].Insert(float64(m.IntraPairs(bt) * m.Count))
		x.dissTree[bt].Insert(float64(m.BondCount(bt) * m.Count))
	}
	for _, st := range x.reg.SiteTypes() {
		x.freeTree[st].Insert(float64(m.FreeCount(st) * m.Count))
	}
}

func (x *Mixture) removeSpecies(m *Molecule) {
	pos := x.index[m]
	last := x.molecules[len(x.molecules)-1]
	x.molecules[pos] = last
	x.index[last] = pos
	x.molecules = x.molecules[:len(x.molecules)-1]
	delete(x.index, m)

	if x.opt.Canonicalize && !x.opt.Barcode {
		delete(x.byCanonical, m.Canonical())
	}
	if m.Size() == 1 && x.atomByType[m.AgentAt(0).Type] == m {
		delete(x.atomByType, m.AgentAt(0).Type)
	}
	for _, bt := range x.reg.BondTypes() {
		x.intraTree[bt].Delete(pos)
		x.dissTree[bt].Delete(pos)
	}
	for _, st := range x.reg.SiteTypes() {
		x.freeTree[st].Delete(pos)
	}
}

// changeCount adjusts the multiplicity of a species and syncs the sum
// trees; a species reaching count zero is removed.
func (x *Mixture) changeCount(m *Molecule, delta int) {
	m.Count += delta
	if m.Count == 0 {
		x.removeSpecies(m)
		return
	}
	x.syncTrees(m)
}

func (x *Mixture) syncTrees(m *Molecule) {
	pos := x.index[m]
	for _, bt := range x.reg.BondTypes() {
		x.intraTree[bt].Modify(pos, float64(m.IntraPairs(bt)*m.Count))
		x.dissTree[bt].Modify(pos, float64(m.BondCount(bt)*m.Count))
	}
	for _, st := range x.reg.SiteTypes() {
		x.freeTree[st].Modify(pos, float64(m.FreeCount(st)*m.Count))
	}
}

// updateMixture folds a freshly produced molecule instance into the
// population, consolidating it into an existing species when possible,
// and returns the species now holding the instance.
func (x *Mixture) updateMixture(inst *Molecule) *Molecule {
	if x.opt.Consolidate && !x.opt.Barcode {
		if x.opt.Canonicalize {
			if ex, ok := x.byCanonical[inst.Canonical()]; ok {
				x.changeCount(ex, 1)
				return ex
			}
		} else {
			for _, m := range x.molecules {
				if m.Size() == inst.Size() && m.Canonical() == inst.Canonical() {
					x.changeCount(m, 1)
					return m
				}
			}
		}
	}
	inst.Count = 1
	x.addSpecies(inst)
	return inst
}

// detach separates one instance from a species for mutation, taking it
// out of the aggregate activities. A sole instance is mutated in place;
// otherwise the count drops by one and a copy is returned.
func (x *Mixture) detach(m *Molecule) *Molecule {
	x.negativeUpdate(m)
	if m.Count == 1 {
		x.changeCount(m, -1)
		return m
	}
	x.changeCount(m, -1)
	return m.clone()
}

// --- queries -------------------------------------------------------

// Species returns the number of distinct molecular species.
func (x *Mixture) Species() int { return len(x.molecules) }

// Molecules returns the live species slice. Callers must not mutate it.
func (x *Mixture) Molecules() []*Molecule { return x.molecules }

// FreeSites returns the number of free sites of the given type across
// the population.
func (x *Mixture) FreeSites(st sig.SiteType) int { return x.totalFree[st] }

// BondCount returns the number of bonds of the given type across the
// population.
func (x *Mixture) BondCount(bt sig.BondType) int { return x.totalBonds[bt] }

// CountSpecies returns the instance count of the species with the given
// canonical form, zero if absent.
func (x *Mixture) CountSpecies(canonical string) int {
	if m, ok := x.byCanonical[canonical]; ok {
		return m.Count
	}
	for _, m := range x.molecules {
		if m.Canonical() == canonical {
			return m.Count
		}
	}
	return 0
}

// Match returns the total number of embeddings of the pattern across
// all instances in the population.
func (x *Mixture) Match(p *Pattern) int {
	n := 0
	for _, m := range x.molecules {
		if c := p.Matches(m); c > 0 {
			n += c * m.Count
		}
	}
	return n
}

// ComponentsBySize returns instance counts keyed by component size.
func (x *Mixture) ComponentsBySize() map[int]int {
	dist := make(map[int]int)
	for _, m := range x.molecules {
		dist[m.Size()] += m.Count
	}
	return dist
}

// LargestSizes returns the n largest component sizes present, repeated
// by instance count, in descending order.
func (x *Mixture) LargestSizes(n int) []int {
	var sizes []int
	for _, m := range x.molecules {
		c := m.Count
		if c > n {
			c = n
		}
		for i := 0; i < c; i++ {
			sizes = append(sizes, m.Size())
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	if len(sizes) > n {
		sizes = sizes[:n]
	}
	return sizes
}

// AgentCounts returns the number of agent instances per type.
func (x *Mixture) AgentCounts() map[string]int {
	counts := make(map[string]int)
	for _, m := range x.molecules {
		for at, n := range m.Composition() {
			counts[at] += n * m.Count
		}
	}
	return counts
}

// MoleculeCount returns the total number of molecule instances.
func (x *Mixture) MoleculeCount() int {
	n := 0
	for _, m := range x.molecules {
		n += m.Count
	}
	return n
}

// --- activities ----------------------------------------------------

// TotalActivity returns the grand total propensity.
func (x *Mixture) TotalActivity() float64 { return x.grandTotal }

// IntraActivity returns the intramolecular binding activity of bt.
func (x *Mixture) IntraActivity(bt sig.BondType) float64 { return x.actIntra[bt] }

// DissActivity returns the dissociation activity of bt.
func (x *Mixture) DissActivity(bt sig.BondType) float64 { return x.actDiss[bt] }

// InterActivity returns the intermolecular binding activity of bt.
func (x *Mixture) InterActivity(bt sig.BondType) float64 { return x.actInter[bt] }

// InflowActivity returns the constant inflow propensity of an agent
// type.
func (x *Mixture) InflowActivity(at string) float64 { return x.rates.InflowRate[at] }

// OutflowActivity returns the current outflow propensity of an agent
// type.
func (x *Mixture) OutflowActivity(at string) float64 { return x.actOutflow[at] }

// ChannelTotals returns the five channel subtotals in selection order:
// inflow, outflow, intramolecular binding, dissociation, intermolecular
// binding.
func (x *Mixture) ChannelTotals() (inflow, outflow, intra, diss, inter float64) {
	return x.inflowTotal, x.outflowTotal, x.intraTotal, x.dissTotal, x.interTotal
}

// --- weighted draws ------------------------------------------------

func clampDraw(t *SumTree, v float64) float64 {
	if total := t.Total(); v >= total {
		v = math.Nextafter(total, 0)
	}
	if v < 0 {
		v = 0
	}
	return v
}

// DrawIntra selects the species holding the intramolecular binding
// event of type bt at activity residual rv in [0, IntraActivity(bt)).
func (x *Mixture) DrawIntra(bt sig.BondType, rv float64) *Molecule {
	t := x.intraTree[bt]
	return x.molecules[t.Draw(clampDraw(t, rv/x.rates.RingOnRate))]
}

// DrawDiss selects the species holding the dissociation event of type
// bt at activity residual rv in [0, DissActivity(bt)).
func (x *Mixture) DrawDiss(bt sig.BondType, rv float64) *Molecule {
	t := x.dissTree[bt]
	return x.molecules[t.Draw(clampDraw(t, rv/x.rates.OffRate[bt]))]
}

// drawFree selects a species by its free-site weight for st, given a
// uniform integer in [0, FreeSites(st)) adjusted by the caller.
func (x *Mixture) drawFree(st sig.SiteType, r int) *Molecule {
	t := x.freeTree[st]
	return x.molecules[t.Draw(clampDraw(t, float64(r)))]
}
