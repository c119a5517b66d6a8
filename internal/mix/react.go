package mix

import (
	"fmt"

	"github.com/plucky/sitesim/internal/sig"
)

// Uniform supplies uniform integer draws in [0, n). The scheduler's
// random stream satisfies it; concrete-site selection threads every
// draw through here so the stream stays the single source of
// nondeterminism.
type Uniform interface {
	Intn(n int) int
}

// SiteRef addresses one site instance in the population.
type SiteRef struct {
	Mol  *Molecule
	Port Port
}

func (x *Mixture) checkBindable(a, b SiteRef) error {
	for _, ref := range []SiteRef{a, b} {
		if _, bound := ref.Mol.Bound(ref.Port); bound {
			ag := ref.Mol.AgentAt(ref.Port.Agent)
			return &OccupiedSiteError{Agent: ag.Type, Site: x.reg.Sites(ag.Type)[ref.Port.Site]}
		}
	}
	agA := a.Mol.AgentAt(a.Port.Agent)
	agB := b.Mol.AgentAt(b.Port.Agent)
	sA := x.reg.Sites(agA.Type)[a.Port.Site]
	sB := x.reg.Sites(agB.Type)[b.Port.Site]
	if !x.reg.Compatible(agA.Type, sA, agB.Type, sB) {
		return &IncompatibleBindingError{
			First:  string(sig.MakeSiteType(agA.Type, sA)),
			Second: string(sig.MakeSiteType(agB.Type, sB)),
		}
	}
	return nil
}

// Bind forms a bond between two free, compatible sites and returns the
// species holding the product. Sites in the same species close a ring;
// sites in different species merge their molecules. A binding that
// violates the signature or hits an occupied site is a candidate
// generation bug and returns an error without touching the population.
func (x *Mixture) Bind(a, b SiteRef) (*Molecule, error) {
	if a.Mol == b.Mol {
		return x.BindIntra(a.Mol, a.Port, b.Port)
	}
	return x.BindInter(a.Mol, b.Mol, a.Port, b.Port)
}

// BindIntra closes a ring between two free sites of one instance of m.
func (x *Mixture) BindIntra(m *Molecule, p1, p2 Port) (*Molecule, error) {
	if err := x.checkBindable(SiteRef{m, p1}, SiteRef{m, p2}); err != nil {
		return nil, err
	}
	if p1.Agent == p2.Agent {
		ag := m.AgentAt(p1.Agent)
		return nil, &IncompatibleBindingError{
			First:  string(m.SiteTypeOf(p1)),
			Second: string(sig.MakeSiteType(ag.Type, x.reg.Sites(ag.Type)[p2.Site])),
		}
	}
	inst := x.detach(m)
	inst.bindLocal(p1, p2)
	prod := x.updateMixture(inst)
	x.positiveUpdate(inst)
	x.updateTotals()
	return prod, nil
}

// BindInter bonds two distinct molecule instances into one. m1 and m2
// may name the same species when it holds at least two instances.
func (x *Mixture) BindInter(m1, m2 *Molecule, p1, p2 Port) (*Molecule, error) {
	if err := x.checkBindable(SiteRef{m1, p1}, SiteRef{m2, p2}); err != nil {
		return nil, err
	}
	if m1 == m2 && m1.Count < 2 {
		return nil, fmt.Errorf("species %s holds a single instance, cannot bind it to itself", m1.Canonical())
	}

	// Graft the smaller instance onto the larger one, then close the
	// bond inside the merged arena.
	recv, att := SiteRef{m1, p1}, SiteRef{m2, p2}
	if att.Mol.Size() > recv.Mol.Size() {
		recv, att = att, recv
	}
	// When both refs name the same species, the first detach clones,
	// leaving the representative in place for the second.
	recvInst := x.detach(recv.Mol)
	attInst := x.detach(att.Mol)
	shift := recvInst.graft(attInst)
	attPort := Port{Agent: att.Port.Agent + shift, Site: att.Port.Site}
	recvInst.bindLocal(recv.Port, attPort)
	prod := x.updateMixture(recvInst)
	x.positiveUpdate(recvInst)
	x.updateTotals()
	return prod, nil
}

// Unbind removes the bond b from one instance of m. The instance either
// stays connected (one product) or splits in two; the species holding
// each product are returned.
func (x *Mixture) Unbind(m *Molecule, b Bond) ([]*Molecule, error) {
	pa, okA := m.Bound(b.A)
	pb, okB := m.Bound(b.B)
	if !okA || !okB || pa != b.B || pb != b.A {
		return nil, fmt.Errorf("no bond between %v and %v", b.A, b.B)
	}
	inst := x.detach(m)
	parts := inst.dissociate(b)
	if parts == nil {
		parts = []*Molecule{inst}
	}
	products := make([]*Molecule, len(parts))
	for i, part := range parts {
		products[i] = x.updateMixture(part)
		x.positiveUpdate(part)
	}
	x.updateTotals()
	return products, nil
}

// Instantiate adds one unbound agent instance of the given type, as an
// inflow event does, and returns its species.
func (x *Mixture) Instantiate(agentType string) (*Molecule, error) {
	if !x.reg.HasAgent(agentType) {
		return nil, fmt.Errorf("undeclared agent type %q", agentType)
	}
	inst := x.newAtom(agentType)
	prod := x.updateMixture(inst)
	x.positiveUpdate(inst)
	x.updateTotals()
	return prod, nil
}

// Remove takes one instance of m out of the population, as an outflow
// event does.
func (x *Mixture) Remove(m *Molecule) error {
	if _, ok := x.index[m]; !ok {
		return fmt.Errorf("molecule is not in the mixture")
	}
	x.negativeUpdate(m)
	x.changeCount(m, -1)
	x.updateTotals()
	return nil
}

// OutflowTarget returns a singleton species of the given agent type.
// Outflow only ever ejects unbound agents.
func (x *Mixture) OutflowTarget(agentType string) (*Molecule, bool) {
	if m, ok := x.atomByType[agentType]; ok {
		if _, live := x.index[m]; live && m.Size() == 1 && m.AgentAt(0).Type == agentType {
			return m, true
		}
	}
	for _, m := range x.molecules {
		if m.Size() == 1 && m.AgentAt(0).Type == agentType {
			x.atomByType[agentType] = m
			return m, true
		}
	}
	return nil, false
}

// DrawIntraPair selects the concrete free-site pair of type bt for an
// intramolecular binding inside one instance of m. Homotypic types
// exclude picking the same site twice; heterotypic types exclude the
// partner site on the same agent, which could never close a bond. A
// first site left without any partner is redrawn; the caller guarantees
// m.IntraPairs(bt) > 0, so this terminates.
func (x *Mixture) DrawIntraPair(m *Molecule, bt sig.BondType, u Uniform) (p1, p2 Port) {
	for {
		p1 = m.FreePort(bt.First, u.Intn(m.FreeCount(bt.First)))
		exclude := -1
		if bt.Homotypic() {
			exclude = m.freeIdx[bt.Second][p1]
		} else {
			agent2, site2 := bt.Second.Split()
			if m.AgentAt(p1.Agent).Type == agent2 {
				self := Port{Agent: p1.Agent, Site: x.reg.SiteIndex(agent2, site2)}
				if pos, free := m.freeIdx[bt.Second][self]; free {
					exclude = pos
				}
			}
		}
		n := m.FreeCount(bt.Second)
		if exclude >= 0 {
			n--
		}
		if n == 0 {
			continue
		}
		r := u.Intn(n)
		if exclude >= 0 && r >= exclude {
			r++
		}
		return p1, m.FreePort(bt.Second, r)
	}
}

// DrawInterPair selects the two species and concrete free sites of an
// intermolecular binding of type bt. The second draw excludes one
// instance's worth of the first species, so a single instance can never
// be chosen to bind itself; a first species whose instance holds every
// remaining partner site is redrawn.
func (x *Mixture) DrawInterPair(bt sig.BondType, u Uniform) (m1, m2 *Molecule, p1, p2 Port) {
	var r2 int
	for {
		m1 = x.drawFree(bt.First, u.Intn(x.totalFree[bt.First]))
		if n := x.totalFree[bt.Second] - m1.FreeCount(bt.Second); n > 0 {
			r2 = u.Intn(n)
			break
		}
	}
	pos := x.index[m1]
	x.freeTree[bt.Second].Modify(pos, float64(m1.FreeCount(bt.Second)*(m1.Count-1)))
	m2 = x.drawFree(bt.Second, r2)
	x.freeTree[bt.Second].Modify(pos, float64(m1.FreeCount(bt.Second)*m1.Count))
	p1 = m1.FreePort(bt.First, u.Intn(m1.FreeCount(bt.First)))
	p2 = m2.FreePort(bt.Second, u.Intn(m2.FreeCount(bt.Second)))
	return m1, m2, p1, p2
}

// DrawBondOf selects a concrete bond of type bt uniformly inside m.
func (x *Mixture) DrawBondOf(m *Molecule, bt sig.BondType, u Uniform) Bond {
	return m.BondAt(bt, u.Intn(m.BondCount(bt)))
}
