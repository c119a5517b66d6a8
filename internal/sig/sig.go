// Package sig defines the signature (contact map) of a binding system:
// the agent types, their sites, and the site-to-site binding partners each
// site may take, together with per-bond affinity classes and initial
// abundance decorations.
//
// A Registry is immutable once built. Every accessor that returns a
// collection returns it in a fixed, deterministic order so that consumers
// iterating over agent, site or bond types do so reproducibly.
package sig

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// AffinityClass categorizes the dissociation strength of a bond type.
type AffinityClass int

const (
	// AffinityDefault is used when a bond carries no decoration.
	AffinityDefault AffinityClass = iota
	// AffinityWeak corresponds to a high dissociation constant.
	AffinityWeak
	// AffinityMedium is the middle dissociation class.
	AffinityMedium
	// AffinityStrong corresponds to a low dissociation constant.
	AffinityStrong
	// AffinityNumeric carries an explicit Kd in nM.
	AffinityNumeric
)

// Affinity is the dissociation decoration of a bond type: a class, or an
// explicit Kd (in nM) when Class is AffinityNumeric.
type Affinity struct {
	Class AffinityClass
	KdNM  float64
}

func (a Affinity) String() string {
	switch a.Class {
	case AffinityWeak:
		return "w"
	case AffinityMedium:
		return "m"
	case AffinityStrong:
		return "s"
	case AffinityNumeric:
		return fmt.Sprintf("%g", a.KdNM)
	default:
		return "def"
	}
}

// SiteType identifies a site kind as "Agent.site".
type SiteType string

// MakeSiteType builds the "Agent.site" form.
func MakeSiteType(agent, site string) SiteType {
	return SiteType(agent + "." + site)
}

// Split returns the agent type and site name of a site type.
func (st SiteType) Split() (agent, site string) {
	i := strings.IndexByte(string(st), '.')
	return string(st)[:i], string(st)[i+1:]
}

// BondType is a standardized (sorted) pair of site types. First <= Second
// lexicographically, so A.x bound to B.y and B.y bound to A.x denote the
// same bond type.
type BondType struct {
	First  SiteType
	Second SiteType
}

// MakeBondType standardizes a pair of site types into a BondType.
func MakeBondType(a, b SiteType) BondType {
	if b < a {
		a, b = b, a
	}
	return BondType{First: a, Second: b}
}

// Homotypic reports whether both ends of the bond are the same site type.
func (bt BondType) Homotypic() bool { return bt.First == bt.Second }

func (bt BondType) String() string {
	return string(bt.First) + "--" + string(bt.Second)
}

// Partner names the opposite end a site may bind: a site on an agent type.
type Partner struct {
	Agent string
	Site  string
	// Affinity is the optional decoration attached to this partner
	// declaration. Zero value means "default".
	Affinity Affinity
}

// Site declares one binding site of an agent type.
type Site struct {
	Name     string
	Partners []Partner
}

// AgentDecl declares one agent type: its ordered sites and an optional
// initial abundance in nM (AbundanceNM < 0 means "use the run default").
type AgentDecl struct {
	Name        string
	AbundanceNM float64
	Sites       []Site
}

type agentInfo struct {
	decl      AgentDecl
	siteIndex map[string]int
}

// Registry is the immutable signature of a system.
type Registry struct {
	agents     map[string]*agentInfo
	agentOrder []string

	siteTypes []SiteType
	bondTypes []BondType
	affinity  map[BondType]Affinity

	// partner sets for O(1) compatibility checks
	compatible map[BondType]bool
}

// Build validates the declarations and constructs a Registry.
// It fails with a *SchemaError on duplicate agent types, duplicate sites,
// partners referencing undeclared agents or sites, asymmetric partner
// declarations, or conflicting affinity decorations on the same bond type.
func Build(decls []AgentDecl) (*Registry, error) {
	r := &Registry{
		agents:     make(map[string]*agentInfo, len(decls)),
		affinity:   make(map[BondType]Affinity),
		compatible: make(map[BondType]bool),
	}

	for _, d := range decls {
		d = normalizeDecl(d)
		if _, dup := r.agents[d.Name]; dup {
			return nil, &SchemaError{Agent: d.Name, Message: "agent type multiply defined"}
		}
		info := &agentInfo{decl: d, siteIndex: make(map[string]int, len(d.Sites))}
		for i, s := range d.Sites {
			if _, dup := info.siteIndex[s.Name]; dup {
				return nil, &SchemaError{Agent: d.Name, Site: s.Name, Message: "site multiply defined"}
			}
			info.siteIndex[s.Name] = i
		}
		r.agents[d.Name] = info
		r.agentOrder = append(r.agentOrder, d.Name)
	}

	// Collect site types in declaration order.
	for _, a := range r.agentOrder {
		for _, s := range r.agents[a].decl.Sites {
			r.siteTypes = append(r.siteTypes, MakeSiteType(a, s.Name))
		}
	}

	// Collect bond types; a non-default affinity overrides a default one,
	// two different non-default decorations on the same bond type conflict.
	for _, a := range r.agentOrder {
		for _, s := range r.agents[a].decl.Sites {
			for _, p := range s.Partners {
				pa, ok := r.agents[p.Agent]
				if !ok {
					return nil, &SchemaError{Agent: a, Site: s.Name,
						Message: fmt.Sprintf("partner agent %s is not declared", p.Agent)}
				}
				if _, ok := pa.siteIndex[p.Site]; !ok {
					return nil, &SchemaError{Agent: a, Site: s.Name,
						Message: fmt.Sprintf("partner site %s.%s is not declared", p.Agent, p.Site)}
				}
				bt := MakeBondType(MakeSiteType(a, s.Name), MakeSiteType(p.Agent, p.Site))
				prev, seen := r.affinity[bt]
				switch {
				case !seen:
					r.affinity[bt] = p.Affinity
					r.compatible[bt] = true
				case prev.Class == AffinityDefault && p.Affinity.Class != AffinityDefault:
					r.affinity[bt] = p.Affinity
				case p.Affinity.Class != AffinityDefault && p.Affinity != prev:
					return nil, &SchemaError{Agent: a, Site: s.Name,
						Message: fmt.Sprintf("inconsistent affinity assignment to bond %s", bt)}
				}
			}
		}
	}

	// Symmetry: if A.x declares partner y.B, then B.y must declare x.A.
	for bt := range r.compatible {
		a1, s1 := bt.First.Split()
		a2, s2 := bt.Second.Split()
		if !r.declaresPartner(a1, s1, a2, s2) {
			return nil, &SchemaError{Agent: a1, Site: s1,
				Message: fmt.Sprintf("partner %s.%s is not declared for %s.%s", s2, a2, a1, s1)}
		}
		if !r.declaresPartner(a2, s2, a1, s1) {
			return nil, &SchemaError{Agent: a2, Site: s2,
				Message: fmt.Sprintf("partner %s.%s is not declared for %s.%s", s1, a1, a2, s2)}
		}
	}

	// Deterministic bond type order.
	for bt := range r.compatible {
		r.bondTypes = append(r.bondTypes, bt)
	}
	sort.Slice(r.bondTypes, func(i, j int) bool {
		if r.bondTypes[i].First != r.bondTypes[j].First {
			return r.bondTypes[i].First < r.bondTypes[j].First
		}
		return r.bondTypes[i].Second < r.bondTypes[j].Second
	})

	return r, nil
}

func (r *Registry) declaresPartner(agent, site, pAgent, pSite string) bool {
	info := r.agents[agent]
	s := info.decl.Sites[info.siteIndex[site]]
	for _, p := range s.Partners {
		if p.Agent == pAgent && p.Site == pSite {
			return true
		}
	}
	return false
}

func normalizeDecl(d AgentDecl) AgentDecl {
	d.Name = norm.NFC.String(d.Name)
	sites := make([]Site, len(d.Sites))
	for i, s := range d.Sites {
		ns := Site{Name: norm.NFC.String(s.Name)}
		for _, p := range s.Partners {
			ns.Partners = append(ns.Partners, Partner{
				Agent:    norm.NFC.String(p.Agent),
				Site:     norm.NFC.String(p.Site),
				Affinity: p.Affinity,
			})
		}
		sites[i] = ns
	}
	d.Sites = sites
	return d
}

// Compatible reports whether site s1 of agent type a1 may bind site s2 of
// agent type a2. The candidate generator relies on this to never offer an
// illegal binding.
func (r *Registry) Compatible(a1, s1, a2, s2 string) bool {
	return r.compatible[MakeBondType(MakeSiteType(a1, s1), MakeSiteType(a2, s2))]
}

// HasAgent reports whether the agent type is declared.
func (r *Registry) HasAgent(agent string) bool {
	_, ok := r.agents[agent]
	return ok
}

// HasSite reports whether the agent type declares the site.
func (r *Registry) HasSite(agent, site string) bool {
	info, ok := r.agents[agent]
	if !ok {
		return false
	}
	_, ok = info.siteIndex[site]
	return ok
}

// AgentTypes returns agent type names in declaration order.
func (r *Registry) AgentTypes() []string { return r.agentOrder }

// Sites returns the ordered site names of an agent type.
func (r *Registry) Sites(agent string) []string {
	info, ok := r.agents[agent]
	if !ok {
		return nil
	}
	names := make([]string, len(info.decl.Sites))
	for i, s := range info.decl.Sites {
		names[i] = s.Name
	}
	return names
}

// SiteIndex returns the position of a site in the agent's ordered site list,
// or -1 when undeclared.
func (r *Registry) SiteIndex(agent, site string) int {
	info, ok := r.agents[agent]
	if !ok {
		return -1
	}
	i, ok := info.siteIndex[site]
	if !ok {
		return -1
	}
	return i
}

// SiteTypes returns all site types in declaration order.
func (r *Registry) SiteTypes() []SiteType { return r.siteTypes }

// BondTypes returns all bond types in sorted order.
func (r *Registry) BondTypes() []BondType { return r.bondTypes }

// Affinity returns the dissociation decoration of a bond type.
func (r *Registry) Affinity(bt BondType) (Affinity, bool) {
	a, ok := r.affinity[bt]
	return a, ok
}

// Abundance returns the declared initial abundance (nM) of an agent type
// and whether one was declared (false means "use the run default").
func (r *Registry) Abundance(agent string) (float64, bool) {
	info, ok := r.agents[agent]
	if !ok || info.decl.AbundanceNM < 0 {
		return 0, false
	}
	return info.decl.AbundanceNM, true
}

// String renders a summary of the signature, one agent per line.
func (r *Registry) String() string {
	var b strings.Builder
	for _, a := range r.agentOrder {
		fmt.Fprintf(&b, "%s(", a)
		for i, s := range r.agents[a].decl.Sites {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(s.Name)
			if len(s.Partners) > 0 {
				b.WriteByte('[')
				for j, p := range s.Partners {
					if j > 0 {
						b.WriteByte(' ')
					}
					fmt.Fprintf(&b, "%s.%s", p.Site, p.Agent)
					if p.Affinity.Class != AffinityDefault {
						fmt.Fprintf(&b, "$%s", p.Affinity)
					}
				}
				b.WriteByte(']')
			}
		}
		b.WriteString(")\n")
	}
	return b.String()
}
