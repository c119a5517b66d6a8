package mix

import (
	"github.com/plucky/sitesim/internal/sig"
)

// Pattern is a compiled partial site-graph expression. Matching counts
// embeddings into a molecule: injective, type-preserving mappings under
// which every mentioned site constraint holds. Multi-agent patterns
// must be connected through their labeled bonds, so each embedding is
// determined by where the first pattern agent lands.
type Pattern struct {
	reg    *sig.Registry
	agents []patternAgent

	// MinSize and MaxSize restrict matching to a component-size band;
	// zero means unbounded.
	MinSize int
	MaxSize int

	source string
}

type patternAgent struct {
	Type  string
	slots []patternSlot
}

type patternSlot struct {
	state SiteState
	peer  Port // pattern-space peer for SiteBonded
}

// NewPattern compiles a pattern expression.
func NewPattern(reg *sig.Registry, expr string) (*Pattern, error) {
	parsed, err := ParseExpr(reg, expr)
	if err != nil {
		return nil, err
	}
	p := &Pattern{reg: reg, source: expr}

	ends := make(map[int]Port)
	for ai, ea := range parsed {
		pa := patternAgent{Type: ea.Type, slots: make([]patternSlot, len(reg.Sites(ea.Type)))}
		for name, st := range ea.Sites {
			si := reg.SiteIndex(ea.Type, name)
			pa.slots[si] = patternSlot{state: st.State}
			if st.State == SiteBonded {
				port := Port{Agent: ai, Site: si}
				if q, ok := ends[st.Label]; ok {
					pa.slots[si].peer = q
					p.agents[q.Agent].slots[q.Site].peer = port
					delete(ends, st.Label)
				} else {
					ends[st.Label] = port
				}
			}
		}
		p.agents = append(p.agents, pa)
	}

	if len(p.agents) > 1 && !p.connected() {
		return nil, &ExprError{Message: "pattern agents are not connected by bond labels"}
	}
	return p, nil
}

func (p *Pattern) connected() bool {
	visited := make([]bool, len(p.agents))
	visited[0] = true
	queue := []int{0}
	seen := 1
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, slot := range p.agents[cur].slots {
			if slot.state == SiteBonded && !visited[slot.peer.Agent] {
				visited[slot.peer.Agent] = true
				seen++
				queue = append(queue, slot.peer.Agent)
			}
		}
	}
	return seen == len(p.agents)
}

// String returns the source expression the pattern was compiled from.
func (p *Pattern) String() string { return p.source }

// Matches returns the number of embeddings of the pattern into one
// instance of m, zero when m falls outside the size band.
func (p *Pattern) Matches(m *Molecule) int {
	if p.MinSize > 0 && m.Size() < p.MinSize {
		return 0
	}
	if p.MaxSize > 0 && m.Size() > p.MaxSize {
		return 0
	}
	n := 0
	for hi := range m.agents {
		if m.agents[hi].Type == p.agents[0].Type && p.embedsAt(m, hi) {
			n++
		}
	}
	return n
}

// embedsAt checks whether mapping pattern agent 0 onto host agent root
// extends to a full embedding. Every further image is forced through
// the pattern's bonds.
func (p *Pattern) embedsAt(m *Molecule, root int) bool {
	assign := make([]int, len(p.agents))
	for i := range assign {
		assign[i] = -1
	}
	used := make(map[int]bool, len(p.agents))
	assign[0] = root
	used[root] = true
	queue := []int{0}
	for len(queue) > 0 {
		pi := queue[0]
		queue = queue[1:]
		host := &m.agents[assign[pi]]
		for si, slot := range p.agents[pi].slots {
			hs := host.sites[si]
			switch slot.state {
			case SiteOmitted, SiteAny:
			case SiteFree:
				if hs.bound {
					return false
				}
			case SiteBonded:
				if !hs.bound {
					return false
				}
				pj := slot.peer.Agent
				if assign[pj] >= 0 {
					if assign[pj] != hs.peer.Agent || hs.peer.Site != slot.peer.Site {
						return false
					}
					continue
				}
				if used[hs.peer.Agent] {
					return false
				}
				if m.agents[hs.peer.Agent].Type != p.agents[pj].Type || hs.peer.Site != slot.peer.Site {
					return false
				}
				assign[pj] = hs.peer.Agent
				used[hs.peer.Agent] = true
				queue = append(queue, pj)
			}
		}
	}
	return true
}
