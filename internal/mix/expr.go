package mix

import (
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/plucky/sitesim/internal/sig"
)

// SiteState classifies the binding constraint a site carries in an
// expression.
type SiteState int

const (
	// SiteOmitted means the site was not mentioned; a pattern leaves it
	// unconstrained, a concrete expression takes it as free.
	SiteOmitted SiteState = iota
	// SiteFree is the explicit [.] mark.
	SiteFree
	// SiteAny is the [_] or [#] wildcard; only valid in patterns.
	SiteAny
	// SiteBonded carries a numeric bond label shared by its peer.
	SiteBonded
)

// ExprSite is one site mention in a parsed expression.
type ExprSite struct {
	State SiteState
	Label int
}

// ExprAgent is one agent mention in a parsed expression.
type ExprAgent struct {
	Type    string
	Barcode int
	Sites   map[string]ExprSite
}

// ParseExpr parses a site-graph expression like
//
//	A(x[1] y[.]), B(z[1] u[_])
//
// against the signature. Sites may carry a numeric bond label (used by
// exactly one other site of a compatible type), the free mark [.], a
// wildcard [_] or [#], or be omitted. Agents may carry an x<n>: barcode
// prefix. Agent and site names must be declared.
func ParseExpr(reg *sig.Registry, s string) ([]ExprAgent, error) {
	p := &exprParser{reg: reg, in: s}
	agents, err := p.parse()
	if err != nil {
		return nil, err
	}
	return agents, nil
}

type exprParser struct {
	reg *sig.Registry
	in  string
	pos int
}

func (p *exprParser) errf(format string, args ...any) error {
	return &ExprError{Pos: p.pos, Message: fmt.Sprintf(format, args...)}
}

func (p *exprParser) parse() ([]ExprAgent, error) {
	var agents []ExprAgent
	labels := make(map[int][2]int) // label -> {uses, index of first user}
	p.skipSpace()
	for {
		ag, err := p.parseAgent(len(agents), labels)
		if err != nil {
			return nil, err
		}
		agents = append(agents, ag)
		p.skipSpace()
		if p.pos >= len(p.in) {
			break
		}
		if p.in[p.pos] != ',' {
			return nil, p.errf("expected ',' between agents")
		}
		p.pos++
		p.skipSpace()
	}
	for label, use := range labels {
		if use[0] != 2 {
			return nil, &ExprError{Pos: len(p.in), Message: fmt.Sprintf("bond label %d used %d times, need exactly 2", label, use[0])}
		}
	}
	return agents, nil
}

func (p *exprParser) parseAgent(index int, labels map[int][2]int) (ExprAgent, error) {
	ag := ExprAgent{Sites: make(map[string]ExprSite)}

	name, err := p.scanName()
	if err != nil {
		return ag, err
	}
	if p.pos < len(p.in) && p.in[p.pos] == ':' {
		bc, ok := parseBarcode(name)
		if !ok {
			return ag, p.errf("malformed barcode label %q", name)
		}
		ag.Barcode = bc
		p.pos++
		p.skipSpace()
		if name, err = p.scanName(); err != nil {
			return ag, err
		}
	}
	ag.Type = name
	if !p.reg.HasAgent(ag.Type) {
		return ag, p.errf("undeclared agent type %q", ag.Type)
	}
	if p.pos >= len(p.in) || p.in[p.pos] != '(' {
		return ag, p.errf("expected '(' after agent type %q", ag.Type)
	}
	p.pos++
	p.skipSpace()
	for p.pos < len(p.in) && p.in[p.pos] != ')' {
		site, st, err := p.parseSite(ag.Type)
		if err != nil {
			return ag, err
		}
		if _, dup := ag.Sites[site]; dup {
			return ag, p.errf("site %q mentioned twice on agent %q", site, ag.Type)
		}
		if st.State == SiteBonded {
			use := labels[st.Label]
			if use[0] == 1 && use[1] == index {
				return ag, p.errf("bond label %d pairs an agent with itself", st.Label)
			}
			use[0]++
			use[1] = index
			labels[st.Label] = use
		}
		ag.Sites[site] = st
		p.skipSpace()
	}
	if p.pos >= len(p.in) {
		return ag, p.errf("unterminated agent %q", ag.Type)
	}
	p.pos++ // ')'
	return ag, nil
}

func (p *exprParser) parseSite(agentType string) (string, ExprSite, error) {
	name, err := p.scanName()
	if err != nil {
		return "", ExprSite{}, err
	}
	if !p.reg.HasSite(agentType, name) {
		return "", ExprSite{}, p.errf("agent %q has no site %q", agentType, name)
	}
	if p.pos >= len(p.in) || p.in[p.pos] != '[' {
		return "", ExprSite{}, p.errf("expected '[' after site %q", name)
	}
	p.pos++
	start := p.pos
	for p.pos < len(p.in) && p.in[p.pos] != ']' {
		p.pos++
	}
	if p.pos >= len(p.in) {
		return "", ExprSite{}, p.errf("unterminated site state for %q", name)
	}
	body := p.in[start:p.pos]
	p.pos++ // ']'

	switch body {
	case ".":
		return name, ExprSite{State: SiteFree}, nil
	case "_", "#":
		return name, ExprSite{State: SiteAny}, nil
	}
	label := 0
	if len(body) == 0 {
		return "", ExprSite{}, p.errf("empty site state for %q", name)
	}
	for _, c := range body {
		if c < '0' || c > '9' {
			return "", ExprSite{}, p.errf("bad site state %q for %q", body, name)
		}
		label = label*10 + int(c-'0')
	}
	return name, ExprSite{State: SiteBonded, Label: label}, nil
}

func (p *exprParser) scanName() (string, error) {
	start := p.pos
	for p.pos < len(p.in) && isNameChar(p.in[p.pos], p.pos == start) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errf("expected a name")
	}
	return norm.NFC.String(p.in[start:p.pos]), nil
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.in) && (p.in[p.pos] == ' ' || p.in[p.pos] == '\t' || p.in[p.pos] == '\n') {
		p.pos++
	}
}

func isNameChar(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == '~':
		return true
	case first:
		return false
	case c >= '0' && c <= '9', c == '+', c == '-':
		return true
	}
	return false
}

func parseBarcode(name string) (int, bool) {
	if len(name) < 2 || name[0] != 'x' {
		return 0, false
	}
	n := 0
	for i := 1; i < len(name); i++ {
		c := name[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// BuildMolecule assembles a concrete molecule from a parsed expression.
// Wildcard sites are rejected, omitted sites come out free, and the
// agents must form a single connected component.
func BuildMolecule(reg *sig.Registry, exprAgents []ExprAgent) (*Molecule, error) {
	agents := make([]Agent, len(exprAgents))
	// label -> first endpoint seen
	ends := make(map[int]Port)
	var bonds [][2]Port

	for ai, ea := range exprAgents {
		sites := reg.Sites(ea.Type)
		agents[ai] = Agent{Type: ea.Type, Barcode: ea.Barcode, sites: make([]siteSlot, len(sites))}
		for name, st := range ea.Sites {
			switch st.State {
			case SiteAny:
				return nil, &ExprError{Message: fmt.Sprintf("wildcard site %s.%s in a concrete expression", ea.Type, name)}
			case SiteBonded:
				p := Port{Agent: ai, Site: reg.SiteIndex(ea.Type, name)}
				if q, ok := ends[st.Label]; ok {
					bonds = append(bonds, [2]Port{q, p})
					delete(ends, st.Label)
				} else {
					ends[st.Label] = p
				}
			}
		}
	}
	for _, b := range bonds {
		ta := agents[b[0].Agent].Type
		tb := agents[b[1].Agent].Type
		sa := reg.Sites(ta)[b[0].Site]
		sb := reg.Sites(tb)[b[1].Site]
		if !reg.Compatible(ta, sa, tb, sb) {
			return nil, &IncompatibleBindingError{
				First:  string(sig.MakeSiteType(ta, sa)),
				Second: string(sig.MakeSiteType(tb, sb)),
			}
		}
		agents[b[0].Agent].sites[b[0].Site] = siteSlot{peer: b[1], bound: true}
		agents[b[1].Agent].sites[b[1].Site] = siteSlot{peer: b[0], bound: true}
	}

	m := newMolecule(reg, agents)
	if len(m.reachable(0)) != len(agents) {
		return nil, &ExprError{Message: "expression is not a connected molecule"}
	}
	return m, nil
}

// ParseMolecule parses a concrete expression and builds the molecule.
func ParseMolecule(reg *sig.Registry, s string) (*Molecule, error) {
	agents, err := ParseExpr(reg, s)
	if err != nil {
		return nil, err
	}
	return BuildMolecule(reg, agents)
}
