// Package monitor evaluates the declared observables against the
// mixture at every observation instant and keeps a short sample history
// per observable for the stopping rules and windowed reports.
package monitor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/plucky/sitesim/internal/mix"
	"github.com/plucky/sitesim/internal/sig"
)

// Kind tags an observable declaration.
type Kind string

const (
	// KindSpecies counts the instances of one exact species.
	KindSpecies Kind = "!"
	// KindPattern counts the embeddings of a pattern.
	KindPattern Kind = "?"
	// KindBonds counts the bonds of one bond type.
	KindBonds Kind = "b"
	// KindFree counts the free sites of one site type.
	KindFree Kind = "s"
	// KindSizeDist reports the component count per component size.
	KindSizeDist Kind = "sd"
	// KindMaxSize reports the top-N component sizes.
	KindMaxSize Kind = "maxsize"
)

// Decl is one observable declaration. Name is optional; an unnamed
// observable is labeled with its expression.
type Decl struct {
	Kind Kind
	Name string
	Expr string // species or pattern expression, bond type, or site type

	// Size band for pattern observables; zero means unbounded.
	MinSize int
	MaxSize int

	// TopN is the report depth of a maxsize observable; default 1.
	TopN int
}

type observable struct {
	decl  Decl
	label string

	canonical string       // KindSpecies
	pattern   *mix.Pattern // KindPattern
	bt        sig.BondType // KindBonds
	st        sig.SiteType // KindFree
	topN      int          // KindMaxSize

	ring *ring
}

// RowWriter receives one csv row per observation. Implemented by the
// reporter's time-series writer.
type RowWriter interface {
	WriteRow(cells []string) error
}

// Monitor compiles the observable declarations and samples them.
// It implements the scheduler's probe interface; snapshots are handled
// by a separate probe.
type Monitor struct {
	x      *mix.Mixture
	obs    []*observable
	byName map[string]*observable
	writer RowWriter

	samples int64
	lastT   float64
}

// New compiles decls against the signature and mixture. Species and
// pattern expressions are parsed once here; a malformed declaration
// fails with a *DeclError.
func New(reg *sig.Registry, x *mix.Mixture, memory int, decls []Decl) (*Monitor, error) {
	if memory < 1 {
		memory = 1
	}
	m := &Monitor{x: x, byName: make(map[string]*observable, len(decls))}
	for _, d := range decls {
		o, err := compile(reg, d, memory)
		if err != nil {
			return nil, err
		}
		if _, dup := m.byName[o.label]; dup {
			return nil, &DeclError{Expr: d.Expr, Message: fmt.Sprintf("duplicate observable name %q", o.label)}
		}
		m.byName[o.label] = o
		m.obs = append(m.obs, o)
	}
	return m, nil
}

// SetWriter attaches the csv row sink. Without a writer the monitor
// only records history.
func (m *Monitor) SetWriter(w RowWriter) { m.writer = w }

func compile(reg *sig.Registry, d Decl, memory int) (*observable, error) {
	o := &observable{decl: d, ring: newRing(memory)}
	switch d.Kind {
	case KindSpecies:
		mol, err := mix.ParseMolecule(reg, d.Expr)
		if err != nil {
			return nil, &DeclError{Expr: d.Expr, Message: err.Error()}
		}
		o.canonical = mol.Canonical()
		o.label = compactExpr(mol.Expression(false))
	case KindPattern:
		p, err := mix.NewPattern(reg, d.Expr)
		if err != nil {
			return nil, &DeclError{Expr: d.Expr, Message: err.Error()}
		}
		p.MinSize, p.MaxSize = d.MinSize, d.MaxSize
		o.pattern = p
		o.label = "?" + compactExpr(d.Expr)
	case KindBonds:
		bt, err := parseBondType(reg, d.Expr)
		if err != nil {
			return nil, err
		}
		o.bt = bt
		o.label = bt.String()
	case KindFree:
		st := sig.SiteType(d.Expr)
		at, site := st.Split()
		if !reg.HasSite(at, site) {
			return nil, &DeclError{Expr: d.Expr, Message: "unknown site type"}
		}
		o.st = st
		o.label = string(st)
	case KindSizeDist:
		o.label = "sd"
	case KindMaxSize:
		o.topN = d.TopN
		if o.topN < 1 {
			o.topN = 1
		}
		o.label = "maxsize"
	default:
		return nil, &DeclError{Expr: d.Expr, Message: fmt.Sprintf("unknown observable kind %q", d.Kind)}
	}
	if d.Name != "" {
		o.label = d.Name
	}
	return o, nil
}

// parseBondType accepts the rendered form "A.x--B.y" and the short
// form "A.x-B.y".
func parseBondType(reg *sig.Registry, s string) (sig.BondType, error) {
	var halves []string
	if strings.Contains(s, "--") {
		halves = strings.SplitN(s, "--", 2)
	} else {
		halves = strings.SplitN(s, "-", 2)
	}
	if len(halves) != 2 {
		return sig.BondType{}, &DeclError{Expr: s, Message: "bond type must name two site types"}
	}
	a := sig.SiteType(strings.TrimSpace(halves[0]))
	b := sig.SiteType(strings.TrimSpace(halves[1]))
	for _, st := range []sig.SiteType{a, b} {
		at, site := st.Split()
		if !reg.HasSite(at, site) {
			return sig.BondType{}, &DeclError{Expr: s, Message: fmt.Sprintf("unknown site type %s", st)}
		}
	}
	return sig.MakeBondType(a, b), nil
}

// compactExpr drops the separating space of the rendered expression, as
// csv headers should not contain the column separator followed by space.
func compactExpr(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "), ", ")")
}

// Header returns the csv header cells: time first, then one label per
// observable in declaration order.
func (m *Monitor) Header() []string {
	cells := make([]string, 0, len(m.obs)+1)
	cells = append(cells, "time")
	for _, o := range m.obs {
		cells = append(cells, o.label)
	}
	return cells
}

// Observe samples every observable, pushes the sample rings, and emits
// one csv row. It is the scheduler's observation probe.
func (m *Monitor) Observe(t float64, events int64) error {
	m.samples++
	m.lastT = t
	cells := make([]string, 0, len(m.obs)+1)
	cells = append(cells, strconv.FormatFloat(t, 'g', -1, 64))
	for _, o := range m.obs {
		v := m.evaluate(o)
		o.ring.push(v)
		cells = append(cells, renderSample(o.decl.Kind, v))
	}
	if m.writer == nil {
		return nil
	}
	return m.writer.WriteRow(cells)
}

// Snapshot is a no-op; snapshots are written by the reporter probe.
func (m *Monitor) Snapshot(float64, int64) error { return nil }

// evaluate returns the current sample vector. Scalar kinds yield one
// element; sd yields component counts indexed by size-1; maxsize yields
// the topN largest sizes in descending order, zero-padded.
func (m *Monitor) evaluate(o *observable) []float64 {
	switch o.decl.Kind {
	case KindSpecies:
		return []float64{float64(m.x.CountSpecies(o.canonical))}
	case KindPattern:
		return []float64{float64(m.x.Match(o.pattern))}
	case KindBonds:
		return []float64{float64(m.x.BondCount(o.bt))}
	case KindFree:
		return []float64{float64(m.x.FreeSites(o.st))}
	case KindSizeDist:
		dist := m.x.ComponentsBySize()
		max := 0
		for size := range dist {
			if size > max {
				max = size
			}
		}
		v := make([]float64, max)
		for size, n := range dist {
			v[size-1] = float64(n)
		}
		return v
	case KindMaxSize:
		sizes := m.x.LargestSizes(o.topN)
		v := make([]float64, o.topN)
		for i, s := range sizes {
			v[i] = float64(s)
		}
		return v
	}
	return nil
}

func renderSample(k Kind, v []float64) string {
	switch k {
	case KindSizeDist:
		var b strings.Builder
		for i, n := range v {
			if n == 0 {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte('|')
			}
			fmt.Fprintf(&b, "%d:%d", i+1, int(n))
		}
		if b.Len() == 0 {
			return "0"
		}
		return b.String()
	case KindMaxSize:
		parts := make([]string, len(v))
		for i, s := range v {
			parts[i] = strconv.Itoa(int(s))
		}
		return strings.Join(parts, "|")
	default:
		if len(v) == 0 {
			return "0"
		}
		return strconv.FormatFloat(v[0], 'g', -1, 64)
	}
}

// Names returns the observable labels in declaration order.
func (m *Monitor) Names() []string {
	names := make([]string, len(m.obs))
	for i, o := range m.obs {
		names[i] = o.label
	}
	return names
}

// Samples returns the number of observations taken.
func (m *Monitor) Samples() int64 { return m.samples }

// ValueAt returns the latest sample of the named observable. A class
// index selects within vector-valued kinds: for sd it is a component
// size, for maxsize a rank (0 = largest). A negative class selects the
// default: the scalar value, the total component count for sd, or the
// largest size for maxsize. The second return is false when the name is
// unknown or no sample exists yet.
func (m *Monitor) ValueAt(name string, class int) (float64, bool) {
	o, ok := m.byName[name]
	if !ok {
		return 0, false
	}
	v, ok := o.ring.latest()
	if !ok {
		return 0, false
	}
	return reduce(o.decl.Kind, v, class), true
}

// History returns the retained samples of the named observable, oldest
// first, reduced with the same class selection as ValueAt.
func (m *Monitor) History(name string, class int) ([]float64, bool) {
	o, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	window := o.ring.window()
	out := make([]float64, len(window))
	for i, v := range window {
		out[i] = reduce(o.decl.Kind, v, class)
	}
	return out, true
}

func reduce(k Kind, v []float64, class int) float64 {
	switch k {
	case KindSizeDist:
		if class < 0 {
			total := 0.0
			for _, n := range v {
				total += n
			}
			return total
		}
		if class < 1 || class > len(v) {
			return 0
		}
		return v[class-1]
	case KindMaxSize:
		if class < 0 {
			class = 0
		}
		if class >= len(v) {
			return 0
		}
		return v[class]
	default:
		if len(v) == 0 {
			return 0
		}
		return v[0]
	}
}

// SortedSizes renders the current size distribution as "size:count"
// pairs in ascending size order, for the run report.
func (m *Monitor) SortedSizes() []string {
	dist := m.x.ComponentsBySize()
	sizes := make([]int, 0, len(dist))
	for s := range dist {
		sizes = append(sizes, s)
	}
	sort.Ints(sizes)
	out := make([]string, len(sizes))
	for i, s := range sizes {
		out[i] = fmt.Sprintf("%d:%d", s, dist[s])
	}
	return out
}
