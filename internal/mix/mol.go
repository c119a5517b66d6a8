// Package mix maintains the population of molecules (connected site
// graphs) a simulation acts on, together with the incremental activity
// bookkeeping the event scheduler draws from.
//
// A Molecule is one molecular species: a representative instance plus a
// multiplicity count. The Mixture holds all species and keeps, per bond
// and site type, the aggregate propensity weights for intramolecular
// binding, dissociation and intermolecular binding up to date across
// mutations without rescanning.
package mix

import (
	"sort"

	"github.com/plucky/sitesim/internal/sig"
)

// Port addresses one site instance inside a molecule: the agent's index
// in the molecule's arena and the site's index in the agent type's
// declared site order.
type Port struct {
	Agent int
	Site  int
}

func portLess(p, q Port) bool {
	if p.Agent != q.Agent {
		return p.Agent < q.Agent
	}
	return p.Site < q.Site
}

// Bond is a standardized pair of mutually bound ports, A < B.
type Bond struct {
	A, B Port
}

// MakeBond standardizes the port pair.
func MakeBond(p, q Port) Bond {
	if portLess(q, p) {
		p, q = q, p
	}
	return Bond{A: p, B: q}
}

type siteSlot struct {
	peer  Port
	bound bool
}

// Agent is one agent instance in a molecule's arena.
type Agent struct {
	Type string
	// Barcode is a process-unique instance label, 0 when barcoding is off.
	Barcode int
	sites   []siteSlot
}

// Molecule is a connected site graph acting as the representative of a
// molecular species with multiplicity Count. All per-type site and bond
// lists support O(1) swap-removal through their position maps, so a
// uniform draw over a list stays cheap under mutation.
type Molecule struct {
	reg *sig.Registry

	// Count is the species multiplicity, maintained by the Mixture.
	Count int

	agents []Agent

	freeList map[sig.SiteType][]Port
	freeIdx  map[sig.SiteType]map[Port]int

	bondList map[sig.BondType][]Bond
	bondIdx  map[sig.BondType]map[Bond]int

	// selfPairs counts, per heterotypic bond type whose two site types
	// live on one agent type, the agents currently holding both sites
	// free. Those pairs are excluded from intramolecular binding since
	// an agent cannot bind itself.
	selfPairs map[sig.BondType]int

	composition map[string]int

	canonical string
}

// newMolecule builds a molecule over an agent arena whose site slots
// already describe a consistent connected bond graph.
func newMolecule(reg *sig.Registry, agents []Agent) *Molecule {
	m := &Molecule{
		reg:         reg,
		agents:      agents,
		freeList:    make(map[sig.SiteType][]Port),
		freeIdx:     make(map[sig.SiteType]map[Port]int),
		bondList:    make(map[sig.BondType][]Bond),
		bondIdx:     make(map[sig.BondType]map[Bond]int),
		selfPairs:   make(map[sig.BondType]int),
		composition: make(map[string]int),
	}
	for ai := range agents {
		ag := &agents[ai]
		m.composition[ag.Type]++
		for si := range ag.sites {
			p := Port{Agent: ai, Site: si}
			slot := ag.sites[si]
			if !slot.bound {
				m.addFree(p)
				continue
			}
			if portLess(p, slot.peer) {
				m.addBond(m.bondTypeOf(p, slot.peer), MakeBond(p, slot.peer))
			}
		}
	}
	for _, bt := range reg.BondTypes() {
		if bt.Homotypic() {
			continue
		}
		a1, s1 := bt.First.Split()
		a2, s2 := bt.Second.Split()
		if a1 != a2 {
			continue
		}
		i1 := reg.SiteIndex(a1, s1)
		i2 := reg.SiteIndex(a2, s2)
		for ai := range agents {
			ag := &agents[ai]
			if ag.Type != a1 {
				continue
			}
			if !ag.sites[i1].bound && !ag.sites[i2].bound {
				m.selfPairs[bt]++
			}
		}
	}
	return m
}

// Size returns the number of agents.
func (m *Molecule) Size() int { return len(m.agents) }

// AgentAt returns the agent at index i.
func (m *Molecule) AgentAt(i int) *Agent { return &m.agents[i] }

// Composition returns the agent-type multiset of the molecule.
func (m *Molecule) Composition() map[string]int { return m.composition }

// SiteTypeOf returns the site type of a port.
func (m *Molecule) SiteTypeOf(p Port) sig.SiteType {
	ag := &m.agents[p.Agent]
	return sig.MakeSiteType(ag.Type, m.reg.Sites(ag.Type)[p.Site])
}

func (m *Molecule) bondTypeOf(p, q Port) sig.BondType {
	return sig.MakeBondType(m.SiteTypeOf(p), m.SiteTypeOf(q))
}

// Bound reports whether the port carries a bond, and its peer if so.
func (m *Molecule) Bound(p Port) (Port, bool) {
	slot := m.agents[p.Agent].sites[p.Site]
	return slot.peer, slot.bound
}

// FreeCount returns the number of free sites of the given type.
func (m *Molecule) FreeCount(st sig.SiteType) int { return len(m.freeList[st]) }

// FreePort returns the i-th free site of the given type.
func (m *Molecule) FreePort(st sig.SiteType, i int) Port { return m.freeList[st][i] }

// BondCount returns the number of bonds of the given type.
func (m *Molecule) BondCount(bt sig.BondType) int { return len(m.bondList[bt]) }

// BondAt returns the i-th bond of the given type.
func (m *Molecule) BondAt(bt sig.BondType, i int) Bond { return m.bondList[bt][i] }

// IntraPairs returns the number of free site pairs of the given bond
// type that an intramolecular binding could close. Homotypic types pair
// distinct free sites without order; heterotypic types exclude the
// same-agent combinations.
func (m *Molecule) IntraPairs(bt sig.BondType) int {
	f1 := len(m.freeList[bt.First])
	if bt.Homotypic() {
		return f1 * (f1 - 1) / 2
	}
	f2 := len(m.freeList[bt.Second])
	return f1*f2 - m.selfPairs[bt]
}

// RarestType returns the agent type with the smallest multiplicity,
// ties broken lexicographically. Canonicalization and pattern matching
// anchor their traversals here.
func (m *Molecule) RarestType() string {
	best := ""
	for at, n := range m.composition {
		if best == "" || n < m.composition[best] || (n == m.composition[best] && at < best) {
			best = at
		}
	}
	return best
}

func (m *Molecule) addFree(p Port) {
	st := m.SiteTypeOf(p)
	idx, ok := m.freeIdx[st]
	if !ok {
		idx = make(map[Port]int)
		m.freeIdx[st] = idx
	}
	idx[p] = len(m.freeList[st])
	m.freeList[st] = append(m.freeList[st], p)
}

func (m *Molecule) removeFree(p Port) {
	st := m.SiteTypeOf(p)
	list := m.freeList[st]
	idx := m.freeIdx[st]
	i := idx[p]
	last := list[len(list)-1]
	list[i] = last
	idx[last] = i
	m.freeList[st] = list[:len(list)-1]
	delete(idx, p)
}

func (m *Molecule) addBond(bt sig.BondType, b Bond) {
	idx, ok := m.bondIdx[bt]
	if !ok {
		idx = make(map[Bond]int)
		m.bondIdx[bt] = idx
	}
	idx[b] = len(m.bondList[bt])
	m.bondList[bt] = append(m.bondList[bt], b)
}

func (m *Molecule) removeBond(bt sig.BondType, b Bond) {
	list := m.bondList[bt]
	idx := m.bondIdx[bt]
	i := idx[b]
	last := list[len(list)-1]
	list[i] = last
	idx[last] = i
	m.bondList[bt] = list[:len(list)-1]
	delete(idx, b)
}

// adjustSelfPairs updates the same-agent exclusion counts around a free
// to bound transition (delta -1) or back (delta +1) of port p. The
// port's own slot must already reflect the new state.
func (m *Molecule) adjustSelfPairs(p Port, delta int) {
	ag := &m.agents[p.Agent]
	st := m.SiteTypeOf(p)
	for _, bt := range m.reg.BondTypes() {
		if bt.Homotypic() {
			continue
		}
		var other sig.SiteType
		switch st {
		case bt.First:
			other = bt.Second
		case bt.Second:
			other = bt.First
		default:
			continue
		}
		oa, os := other.Split()
		if oa != ag.Type {
			continue
		}
		if !ag.sites[m.reg.SiteIndex(oa, os)].bound {
			m.selfPairs[bt] += delta
		}
	}
}

// bindLocal forms a bond between two free ports of this molecule.
func (m *Molecule) bindLocal(p, q Port) {
	m.removeFree(p)
	m.removeFree(q)
	m.agents[p.Agent].sites[p.Site] = siteSlot{peer: q, bound: true}
	m.agents[q.Agent].sites[q.Site] = siteSlot{peer: p, bound: true}
	m.addBond(m.bondTypeOf(p, q), MakeBond(p, q))
	m.adjustSelfPairs(p, -1)
	m.adjustSelfPairs(q, -1)
	m.canonical = ""
}

// unbindLocal removes a bond without checking connectivity.
func (m *Molecule) unbindLocal(b Bond) {
	m.removeBond(m.bondTypeOf(b.A, b.B), b)
	m.agents[b.A.Agent].sites[b.A.Site] = siteSlot{}
	m.agents[b.B.Agent].sites[b.B.Site] = siteSlot{}
	m.addFree(b.A)
	m.addFree(b.B)
	m.adjustSelfPairs(b.A, 1)
	m.adjustSelfPairs(b.B, 1)
	m.canonical = ""
}

// graft appends the agents of o to m's arena, shifting o's internal
// references, and folds o's lists and counts into m's. It returns the
// index shift applied to o's agents. o is left untouched.
func (m *Molecule) graft(o *Molecule) int {
	shift := len(m.agents)
	for _, ag := range o.agents {
		cp := ag
		cp.sites = make([]siteSlot, len(ag.sites))
		for i, s := range ag.sites {
			if s.bound {
				s.peer.Agent += shift
			}
			cp.sites[i] = s
		}
		m.agents = append(m.agents, cp)
	}
	for _, list := range o.freeList {
		for _, p := range list {
			p.Agent += shift
			m.addFree(p)
		}
	}
	for bt, list := range o.bondList {
		for _, b := range list {
			b.A.Agent += shift
			b.B.Agent += shift
			m.addBond(bt, b)
		}
	}
	for bt, n := range o.selfPairs {
		if n != 0 {
			m.selfPairs[bt] += n
		}
	}
	for at, n := range o.composition {
		m.composition[at] += n
	}
	m.canonical = ""
	return shift
}

// dissociate removes bond b. When the molecule stays connected it is
// updated in place and nil is returned; when it splits, the two
// fragments are returned as fresh molecules and m must be discarded.
func (m *Molecule) dissociate(b Bond) []*Molecule {
	m.unbindLocal(b)

	reached := m.reachable(b.A.Agent)
	if len(reached) == len(m.agents) {
		return nil
	}
	inFirst := make([]bool, len(m.agents))
	for _, ai := range reached {
		inFirst[ai] = true
	}
	var first, second []int
	for ai := range m.agents {
		if inFirst[ai] {
			first = append(first, ai)
		} else {
			second = append(second, ai)
		}
	}
	return []*Molecule{m.extract(first), m.extract(second)}
}

// reachable returns the agent indices connected to start, in BFS order
// with neighbors visited in site order.
func (m *Molecule) reachable(start int) []int {
	visited := make([]bool, len(m.agents))
	visited[start] = true
	order := []int{start}
	queue := []int{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, slot := range m.agents[cur].sites {
			if slot.bound && !visited[slot.peer.Agent] {
				visited[slot.peer.Agent] = true
				order = append(order, slot.peer.Agent)
				queue = append(queue, slot.peer.Agent)
			}
		}
	}
	return order
}

// extract builds a new molecule from a subset of m's agents. The subset
// must be closed under bonds.
func (m *Molecule) extract(indices []int) *Molecule {
	remap := make(map[int]int, len(indices))
	for ni, oi := range indices {
		remap[oi] = ni
	}
	agents := make([]Agent, len(indices))
	for ni, oi := range indices {
		ag := m.agents[oi]
		cp := ag
		cp.sites = make([]siteSlot, len(ag.sites))
		for i, s := range ag.sites {
			if s.bound {
				s.peer.Agent = remap[s.peer.Agent]
			}
			cp.sites[i] = s
		}
		agents[ni] = cp
	}
	return newMolecule(m.reg, agents)
}

// clone returns an independent copy with Count zero.
func (m *Molecule) clone() *Molecule {
	agents := make([]Agent, len(m.agents))
	for i, ag := range m.agents {
		cp := ag
		cp.sites = make([]siteSlot, len(ag.sites))
		copy(cp.sites, ag.sites)
		agents[i] = cp
	}
	c := newMolecule(m.reg, agents)
	c.canonical = m.canonical
	return c
}

// SortLists orders all free-site and bond lists. Snapshot writing calls
// this so a read-back continuation sees the same list states a fresh
// construction would.
func (m *Molecule) SortLists() {
	for st, list := range m.freeList {
		sort.Slice(list, func(i, j int) bool { return portLess(list[i], list[j]) })
		for i, p := range list {
			m.freeIdx[st][p] = i
		}
	}
	for bt, list := range m.bondList {
		sort.Slice(list, func(i, j int) bool { return portLess(list[i].A, list[j].A) })
		for i, b := range list {
			m.bondIdx[bt][b] = i
		}
	}
}
