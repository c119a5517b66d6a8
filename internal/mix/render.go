package mix

import (
	"fmt"
	"strings"
)

// Expression renders the molecule as a site-graph expression with
// agents in arena order. Bond labels are assigned in order of first
// encounter. When barcodes is set, agents carry their x<n>: instance
// labels.
func (m *Molecule) Expression(barcodes bool) string {
	order := make([]int, len(m.agents))
	for i := range order {
		order[i] = i
	}
	return m.render(order, barcodes)
}

func (m *Molecule) render(order []int, barcodes bool) string {
	var b strings.Builder
	labels := make(map[Bond]int, len(order))
	next := 1
	for k, ai := range order {
		if k > 0 {
			b.WriteString(", ")
		}
		ag := &m.agents[ai]
		if barcodes && ag.Barcode != 0 {
			fmt.Fprintf(&b, "x%d:", ag.Barcode)
		}
		b.WriteString(ag.Type)
		b.WriteByte('(')
		for si, name := range m.reg.Sites(ag.Type) {
			if si > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(name)
			slot := ag.sites[si]
			if !slot.bound {
				b.WriteString("[.]")
				continue
			}
			key := MakeBond(Port{Agent: ai, Site: si}, slot.peer)
			l, ok := labels[key]
			if !ok {
				l = next
				next++
				labels[key] = l
			}
			fmt.Fprintf(&b, "[%d]", l)
		}
		b.WriteByte(')')
	}
	return b.String()
}

// Canonical returns a rendering that is identical for isomorphic
// molecules: the lexicographic minimum over the BFS orders anchored at
// each agent of the rarest type. The result is cached until the next
// structural mutation.
func (m *Molecule) Canonical() string {
	if m.canonical != "" {
		return m.canonical
	}
	rt := m.RarestType()
	best := ""
	for ai := range m.agents {
		if m.agents[ai].Type != rt {
			continue
		}
		s := m.render(m.reachable(ai), false)
		if best == "" || s < best {
			best = s
		}
	}
	m.canonical = best
	return best
}
