package sig

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Parse reads a compact signature declaration such as
//
//	A@123(p[a1.P$w a2.P a3.P], l[r.A], r[l.A]), P(a1[p.A], d[d.P$w])
//
// and builds the Registry. Each agent lists its sites; a site's bracket
// lists the partners it may bind, written site.Agent, optionally decorated
// with $w, $m, $s or $<Kd in nM>. An @<nM> decoration after the agent name
// declares its initial abundance.
func Parse(decl string) (*Registry, error) {
	p := &declParser{in: decl}
	decls, err := p.parse()
	if err != nil {
		return nil, err
	}
	return Build(decls)
}

type declParser struct {
	in  string
	pos int
}

func (p *declParser) parse() ([]AgentDecl, error) {
	var decls []AgentDecl
	for {
		p.skipSpace()
		if p.eof() {
			break
		}
		d, err := p.parseAgent()
		if err != nil {
			return nil, err
		}
		decls = append(decls, d)
		p.skipSpace()
		if !p.eof() && p.peek() == ',' {
			p.pos++
		}
	}
	if len(decls) == 0 {
		return nil, &SchemaError{Message: "empty signature declaration"}
	}
	return decls, nil
}

func (p *declParser) parseAgent() (AgentDecl, error) {
	name, ok := p.scanName()
	if !ok {
		return AgentDecl{}, p.errf("agent name expected")
	}
	d := AgentDecl{Name: name, AbundanceNM: -1}

	if !p.eof() && p.peek() == '@' {
		p.pos++
		num, ok := p.scanNumber()
		if !ok {
			return AgentDecl{}, p.errf("abundance expected after @ for agent %s", name)
		}
		d.AbundanceNM = num
	}

	p.skipSpace()
	if p.eof() || p.peek() != '(' {
		return AgentDecl{}, p.errf("interface expected for agent %s", name)
	}
	p.pos++

	for {
		p.skipSpace()
		if p.eof() {
			return AgentDecl{}, p.errf("unterminated interface for agent %s", name)
		}
		if p.peek() == ')' {
			p.pos++
			break
		}
		if p.peek() == ',' {
			p.pos++
			continue
		}
		s, err := p.parseSite(name)
		if err != nil {
			return AgentDecl{}, err
		}
		d.Sites = append(d.Sites, s)
	}
	return d, nil
}

func (p *declParser) parseSite(agent string) (Site, error) {
	name, ok := p.scanName()
	if !ok {
		return Site{}, p.errf("site name expected in agent %s", agent)
	}
	s := Site{Name: name}
	if p.eof() || p.peek() != '[' {
		return s, nil
	}
	p.pos++
	for {
		p.skipSpace()
		if p.eof() {
			return Site{}, p.errf("unterminated partner list for %s.%s", agent, name)
		}
		if p.peek() == ']' {
			p.pos++
			break
		}
		partner, err := p.parsePartner(agent, name)
		if err != nil {
			return Site{}, err
		}
		s.Partners = append(s.Partners, partner)
	}
	return s, nil
}

// parsePartner reads "site.Agent" with an optional "$affinity" decoration.
func (p *declParser) parsePartner(agent, site string) (Partner, error) {
	pSite, ok := p.scanName()
	if !ok {
		return Partner{}, p.errf("partner site expected for %s.%s", agent, site)
	}
	if p.eof() || p.peek() != '.' {
		return Partner{}, p.errf("partner for %s.%s must be written site.Agent", agent, site)
	}
	p.pos++
	pAgent, ok := p.scanName()
	if !ok {
		return Partner{}, p.errf("partner agent expected for %s.%s", agent, site)
	}
	partner := Partner{Agent: pAgent, Site: pSite}
	if !p.eof() && p.peek() == '$' {
		p.pos++
		aff, err := p.scanAffinity(agent, site)
		if err != nil {
			return Partner{}, err
		}
		partner.Affinity = aff
	}
	return partner, nil
}

func (p *declParser) scanAffinity(agent, site string) (Affinity, error) {
	start := p.pos
	for !p.eof() && !isAffinityEnd(p.peek()) {
		p.pos++
	}
	tok := p.in[start:p.pos]
	switch tok {
	case "w":
		return Affinity{Class: AffinityWeak}, nil
	case "m":
		return Affinity{Class: AffinityMedium}, nil
	case "s":
		return Affinity{Class: AffinityStrong}, nil
	case "def", "":
		return Affinity{Class: AffinityDefault}, nil
	}
	kd, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return Affinity{}, p.errf("invalid affinity %q for %s.%s", tok, agent, site)
	}
	return Affinity{Class: AffinityNumeric, KdNM: kd}, nil
}

func isAffinityEnd(c byte) bool {
	return c == ' ' || c == ']' || c == ',' || c == '\t' || c == '\n'
}

func (p *declParser) scanName() (string, bool) {
	p.skipSpace()
	start := p.pos
	for !p.eof() && isNameByte(p.in[p.pos], p.pos == start) {
		p.pos++
	}
	if p.pos == start {
		return "", false
	}
	return p.in[start:p.pos], true
}

// isNameByte follows the original symbol grammar: a name starts with a
// letter, '_' or '~' and continues with letters, digits, '_', '~', '+', '-'.
func isNameByte(c byte, first bool) bool {
	r := rune(c)
	if first {
		return unicode.IsLetter(r) || c == '_' || c == '~'
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r) || c == '_' || c == '~' || c == '+' || c == '-'
}

func (p *declParser) scanNumber() (float64, bool) {
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-' {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return 0, false
	}
	v, err := strconv.ParseFloat(p.in[start:p.pos], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (p *declParser) skipSpace() {
	for !p.eof() && (p.peek() == ' ' || p.peek() == '\t' || p.peek() == '\n' || p.peek() == '\r') {
		p.pos++
	}
}

func (p *declParser) eof() bool  { return p.pos >= len(p.in) }
func (p *declParser) peek() byte { return p.in[p.pos] }

func (p *declParser) errf(format string, args ...any) error {
	rest := p.in[p.pos:]
	if len(rest) > 20 {
		rest = rest[:20] + "..."
	}
	msg := fmt.Sprintf(format, args...)
	if rest != "" {
		msg = msg + " near " + strings.TrimSpace(rest)
	}
	return &SchemaError{Message: msg}
}
