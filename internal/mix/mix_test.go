package mix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plucky/sitesim/internal/params"
	"github.com/plucky/sitesim/internal/sig"
)

// zeroUniform always picks the first element, making site selection
// deterministic in tests.
type zeroUniform struct{}

func (zeroUniform) Intn(int) int { return 0 }

func testMixture(t *testing.T, decl string, mutate func(*params.Set)) (*Mixture, *sig.Registry, *params.Rates) {
	t.Helper()
	reg, err := sig.Parse(decl)
	require.NoError(t, err)
	set := params.Defaults()
	if mutate != nil {
		mutate(&set)
	}
	rates, err := set.Derive(reg)
	require.NoError(t, err)
	x := New(reg, rates, Options{Consolidate: true, Canonicalize: true})
	return x, reg, rates
}

func TestSeedInitial_ConsolidatesAtoms(t *testing.T) {
	x, _, rates := testMixture(t, "A(x[x.A])", nil)
	x.SeedInitial(map[string]int{"A": 10})

	assert.Equal(t, 1, x.Species())
	assert.Equal(t, 10, x.MoleculeCount())
	assert.Equal(t, 10, x.FreeSites("A.x"))
	assert.Equal(t, map[string]int{"A": 10}, x.AgentCounts())

	// 10 monomers with one site each give C(10,2) intermolecular pairs
	bt := sig.MakeBondType("A.x", "A.x")
	assert.InEpsilon(t, 45*rates.OnRate, x.InterActivity(bt), 1e-9)
	assert.Equal(t, 0.0, x.IntraActivity(bt))
	assert.Equal(t, 0.0, x.DissActivity(bt))
}

func TestBindInter_FormsDimer(t *testing.T) {
	x, _, rates := testMixture(t, "A(x[x.A])", nil)
	x.SeedInitial(map[string]int{"A": 2})
	atoms := x.Molecules()[0]

	p := Port{Agent: 0, Site: 0}
	dimer, err := x.BindInter(atoms, atoms, p, p)
	require.NoError(t, err)

	bt := sig.MakeBondType("A.x", "A.x")
	assert.Equal(t, 1, x.Species())
	assert.Equal(t, 2, dimer.Size())
	assert.Equal(t, 1, dimer.Count)
	assert.Equal(t, 0, x.FreeSites("A.x"))
	assert.Equal(t, 1, x.BondCount(bt))
	assert.InEpsilon(t, rates.OffRate[bt], x.DissActivity(bt), 1e-9)
	assert.Equal(t, 0.0, x.InterActivity(bt))
	assert.InEpsilon(t, rates.OffRate[bt], x.TotalActivity(), 1e-9)
}

func TestBindInter_SameSpeciesPool(t *testing.T) {
	x, _, _ := testMixture(t, "A(x[x.A])", nil)
	x.SeedInitial(map[string]int{"A": 3})
	pool := x.Molecules()[0]

	// A consolidated pool binds two of its own instances; the draw hands
	// BindInter the same species pointer and the same port twice.
	p := Port{Agent: 0, Site: 0}
	dimer, err := x.BindInter(pool, pool, p, p)
	require.NoError(t, err)

	assert.Equal(t, 2, x.Species())
	assert.Equal(t, 1, pool.Count, "one free monomer remains")
	assert.Equal(t, 1, dimer.Count)
	assert.Equal(t, map[string]int{"A": 3}, x.AgentCounts())
	assert.Equal(t, 1, x.FreeSites("A.x"))

	// A single instance cannot supply both halves of a bond.
	_, err = x.BindInter(pool, pool, p, p)
	require.Error(t, err)
}

func TestUnbind_SplitsAndConservesAgents(t *testing.T) {
	x, _, _ := testMixture(t, "A(x[x.A])", nil)
	x.SeedInitial(map[string]int{"A": 2})
	atoms := x.Molecules()[0]
	p := Port{Agent: 0, Site: 0}
	dimer, err := x.BindInter(atoms, atoms, p, p)
	require.NoError(t, err)

	bt := sig.MakeBondType("A.x", "A.x")
	bond := dimer.BondAt(bt, 0)
	products, err := x.Unbind(dimer, bond)
	require.NoError(t, err)

	require.Len(t, products, 2)
	assert.Same(t, products[0], products[1], "fragments consolidate into one species")
	assert.Equal(t, 1, x.Species())
	assert.Equal(t, 2, x.MoleculeCount())
	assert.Equal(t, 2, x.FreeSites("A.x"))
	assert.Equal(t, 0, x.BondCount(bt))
	assert.Equal(t, map[string]int{"A": 2}, x.AgentCounts())
}

func TestBindIntra_ClosesRing(t *testing.T) {
	x, reg, rates := testMixture(t, "A(l[r.A], r[l.A])", nil)
	chain, err := ParseMolecule(reg, "A(r[1]), A(l[1])")
	require.NoError(t, err)
	x.SeedMolecule(chain, 1)
	x.Recompute()

	bt := sig.MakeBondType("A.l", "A.r")
	assert.Equal(t, 1, chain.IntraPairs(bt))
	assert.InEpsilon(t, rates.RingOnRate, x.IntraActivity(bt), 1e-9)

	ring, err := x.BindIntra(chain, Port{Agent: 0, Site: 0}, Port{Agent: 1, Site: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, ring.Size())
	assert.Equal(t, 2, x.BondCount(bt))
	assert.Equal(t, 0.0, x.IntraActivity(bt))
	assert.InEpsilon(t, 2*rates.OffRate[bt], x.DissActivity(bt), 1e-9)
}

func TestBindIntra_CopiesWhenCountAboveOne(t *testing.T) {
	x, reg, _ := testMixture(t, "A(l[r.A], r[l.A])", nil)
	chain, err := ParseMolecule(reg, "A(r[1]), A(l[1])")
	require.NoError(t, err)
	x.SeedMolecule(chain, 2)
	x.Recompute()

	ring, err := x.BindIntra(chain, Port{Agent: 0, Site: 0}, Port{Agent: 1, Site: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, x.Species())
	assert.Equal(t, 1, chain.Count, "one chain instance remains")
	assert.Equal(t, 1, ring.Count)
	assert.NotSame(t, chain, ring)
	assert.Equal(t, map[string]int{"A": 4}, x.AgentCounts())
}

func TestBind_InvariantViolations(t *testing.T) {
	x, reg, _ := testMixture(t, "A(l[r.A], r[l.A])", nil)
	chain, err := ParseMolecule(reg, "A(r[1]), A(l[1])")
	require.NoError(t, err)
	x.SeedMolecule(chain, 1)
	x.Recompute()

	// bound site
	_, err = x.BindIntra(chain, Port{Agent: 0, Site: 1}, Port{Agent: 1, Site: 1})
	assert.True(t, IsOccupiedSiteError(err))

	// l may only bind r
	other, err := ParseMolecule(reg, "A(r[1]), A(l[1])")
	require.NoError(t, err)
	x.SeedMolecule(other, 1)
	x.Recompute()
	_, err = x.BindInter(chain, other, Port{Agent: 0, Site: 0}, Port{Agent: 0, Site: 0})
	assert.True(t, IsIncompatibleBindingError(err))

	// an agent cannot bind itself
	mono, err := ParseMolecule(reg, "A(l[.], r[.])")
	require.NoError(t, err)
	x.SeedMolecule(mono, 1)
	x.Recompute()
	_, err = x.BindIntra(mono, Port{Agent: 0, Site: 0}, Port{Agent: 0, Site: 1})
	assert.True(t, IsIncompatibleBindingError(err))
}

func TestInstantiateAndRemove_OutflowBookkeeping(t *testing.T) {
	x, _, _ := testMixture(t, "A(x[x.A])", func(s *params.Set) {
		s.Outflow = map[string]float64{"A": 0.5}
	})
	x.SeedInitial(map[string]int{"A": 3})

	assert.InEpsilon(t, 1.5, x.OutflowActivity("A"), 1e-12)

	target, ok := x.OutflowTarget("A")
	require.True(t, ok)
	require.NoError(t, x.Remove(target))
	assert.Equal(t, 2, x.MoleculeCount())
	assert.InEpsilon(t, 1.0, x.OutflowActivity("A"), 1e-12)

	_, err := x.Instantiate("A")
	require.NoError(t, err)
	assert.Equal(t, 3, x.MoleculeCount())
	assert.InEpsilon(t, 1.5, x.OutflowActivity("A"), 1e-12)
}

func TestMixture_MatchAndComponents(t *testing.T) {
	x, reg, _ := testMixture(t, "A(x[x.A])", nil)
	x.SeedInitial(map[string]int{"A": 4})
	atoms := x.Molecules()[0]
	p := Port{Agent: 0, Site: 0}
	_, err := x.BindInter(atoms, atoms, p, p)
	require.NoError(t, err)

	// 2 monomers and 1 dimer now
	dist := x.ComponentsBySize()
	assert.Equal(t, map[int]int{1: 2, 2: 1}, dist)
	assert.Equal(t, []int{2, 1, 1}, x.LargestSizes(3))

	free, err := NewPattern(reg, "A(x[.])")
	require.NoError(t, err)
	assert.Equal(t, 2, x.Match(free))

	anyA, err := NewPattern(reg, "A()")
	require.NoError(t, err)
	assert.Equal(t, 4, x.Match(anyA))

	monomer, err := ParseMolecule(reg, "A(x[.])")
	require.NoError(t, err)
	assert.Equal(t, 2, x.CountSpecies(monomer.Canonical()))
}

func TestDrawIntraPair_ExcludesSameAgent(t *testing.T) {
	x, reg, _ := testMixture(t, "A(l[r.A], r[l.A])", nil)
	chain, err := ParseMolecule(reg, "A(r[1]), A(l[1])")
	require.NoError(t, err)
	x.SeedMolecule(chain, 1)
	x.Recompute()

	bt := sig.MakeBondType("A.l", "A.r")
	p1, p2 := x.DrawIntraPair(chain, bt, zeroUniform{})
	assert.Equal(t, Port{Agent: 0, Site: 0}, p1)
	assert.Equal(t, Port{Agent: 1, Site: 1}, p2)
	assert.NotEqual(t, p1.Agent, p2.Agent)
}

func TestDrawInterPair_DistinctInstances(t *testing.T) {
	x, _, _ := testMixture(t, "A(x[x.A])", nil)
	x.SeedInitial(map[string]int{"A": 2})

	bt := sig.MakeBondType("A.x", "A.x")
	m1, m2, p1, p2 := x.DrawInterPair(bt, zeroUniform{})
	assert.Same(t, m1, m2, "both instances belong to the one monomer species")
	assert.Equal(t, Port{Agent: 0, Site: 0}, p1)
	assert.Equal(t, Port{Agent: 0, Site: 0}, p2)

	_, err := x.BindInter(m1, m2, p1, p2)
	require.NoError(t, err)
	assert.Equal(t, 0, x.FreeSites("A.x"))
}

func TestActivities_VolumeDoublingHalvesInterOnly(t *testing.T) {
	setup := func(resize float64) (*Mixture, *params.Rates) {
		x, reg, rates := testMixture(t, "A(l[r.A], r[l.A])", func(s *params.Set) {
			s.ResizeVolume = resize
		})
		chain, err := ParseMolecule(reg, "A(r[1]), A(l[1])")
		require.NoError(t, err)
		x.SeedMolecule(chain, 2)
		x.Recompute()
		return x, rates
	}

	base, _ := setup(1)
	doubled, _ := setup(2)

	bt := sig.MakeBondType("A.l", "A.r")
	assert.InEpsilon(t, base.InterActivity(bt)/2, doubled.InterActivity(bt), 1e-9)
	assert.InEpsilon(t, base.IntraActivity(bt), doubled.IntraActivity(bt), 1e-9)
	assert.Equal(t, base.DissActivity(bt), doubled.DissActivity(bt))
}
