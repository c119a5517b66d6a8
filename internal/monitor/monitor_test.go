package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plucky/sitesim/internal/mix"
	"github.com/plucky/sitesim/internal/params"
	"github.com/plucky/sitesim/internal/sig"
)

type captureWriter struct {
	rows [][]string
}

func (w *captureWriter) WriteRow(cells []string) error {
	w.rows = append(w.rows, cells)
	return nil
}

// dimerWorld returns a mixture of 2 monomers and 1 dimer of A(x[x.A]).
func dimerWorld(t *testing.T) (*sig.Registry, *mix.Mixture) {
	t.Helper()
	reg, err := sig.Parse("A(x[x.A])")
	require.NoError(t, err)
	set := params.Defaults()
	rates, err := set.Derive(reg)
	require.NoError(t, err)
	x := mix.New(reg, rates, mix.Options{Consolidate: true, Canonicalize: true})
	x.SeedInitial(map[string]int{"A": 4})
	atoms := x.Molecules()[0]
	p := mix.Port{Agent: 0, Site: 0}
	_, err = x.BindInter(atoms, atoms, p, p)
	require.NoError(t, err)
	return reg, x
}

func TestMonitor_Observe_AllKinds(t *testing.T) {
	reg, x := dimerWorld(t)
	mon, err := New(reg, x, 10, []Decl{
		{Kind: KindSpecies, Expr: "A(x[.])"},
		{Kind: KindSpecies, Expr: "A(x[1]), A(x[1])", Name: "dimers"},
		{Kind: KindPattern, Expr: "A()"},
		{Kind: KindBonds, Expr: "A.x--A.x"},
		{Kind: KindFree, Expr: "A.x"},
		{Kind: KindSizeDist},
		{Kind: KindMaxSize, TopN: 3},
	})
	require.NoError(t, err)

	w := &captureWriter{}
	mon.SetWriter(w)
	require.NoError(t, mon.Observe(0.5, 10))

	assert.Equal(t, []string{"time", "A(x[.])", "dimers", "?A()", "A.x--A.x", "A.x", "sd", "maxsize"}, mon.Header())
	require.Len(t, w.rows, 1)
	assert.Equal(t, []string{"0.5", "2", "1", "4", "1", "2", "1:2|2:1", "2|1|1"}, w.rows[0])
	assert.Equal(t, int64(1), mon.Samples())
}

func TestMonitor_ValueAt_ClassSelection(t *testing.T) {
	reg, x := dimerWorld(t)
	mon, err := New(reg, x, 10, []Decl{
		{Kind: KindSizeDist, Name: "sizes"},
		{Kind: KindMaxSize, Name: "top", TopN: 2},
		{Kind: KindFree, Expr: "A.x", Name: "free"},
	})
	require.NoError(t, err)
	require.NoError(t, mon.Observe(0, 0))

	v, ok := mon.ValueAt("sizes", -1)
	require.True(t, ok)
	assert.Equal(t, 3.0, v, "total component count")
	v, _ = mon.ValueAt("sizes", 2)
	assert.Equal(t, 1.0, v, "one component of size 2")
	v, _ = mon.ValueAt("sizes", 5)
	assert.Equal(t, 0.0, v)

	v, _ = mon.ValueAt("top", -1)
	assert.Equal(t, 2.0, v)
	v, _ = mon.ValueAt("top", 1)
	assert.Equal(t, 1.0, v)

	v, _ = mon.ValueAt("free", -1)
	assert.Equal(t, 2.0, v)

	_, ok = mon.ValueAt("nope", -1)
	assert.False(t, ok)
}

func TestMonitor_History_RingDepth(t *testing.T) {
	reg, x := dimerWorld(t)
	mon, err := New(reg, x, 2, []Decl{
		{Kind: KindFree, Expr: "A.x", Name: "free"},
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, mon.Observe(float64(i), int64(i)))
	}
	h, ok := mon.History("free", -1)
	require.True(t, ok)
	assert.Equal(t, []float64{2, 2}, h, "only the last two samples are retained")
}

func TestMonitor_NoSampleYet(t *testing.T) {
	reg, x := dimerWorld(t)
	mon, err := New(reg, x, 10, []Decl{{Kind: KindFree, Expr: "A.x", Name: "free"}})
	require.NoError(t, err)

	_, ok := mon.ValueAt("free", -1)
	assert.False(t, ok)
}

func TestNew_DeclErrors(t *testing.T) {
	reg, x := dimerWorld(t)
	cases := []Decl{
		{Kind: KindSpecies, Expr: "B(x[.])"},
		{Kind: KindPattern, Expr: "A(x[1])"},
		{Kind: KindBonds, Expr: "A.x"},
		{Kind: KindBonds, Expr: "A.x--A.y"},
		{Kind: KindFree, Expr: "A.z"},
		{Kind: Kind("m"), Expr: "A()"},
	}
	for _, d := range cases {
		_, err := New(reg, x, 10, []Decl{d})
		assert.True(t, IsDeclError(err), "decl %+v", d)
	}

	_, err := New(reg, x, 10, []Decl{
		{Kind: KindFree, Expr: "A.x", Name: "n"},
		{Kind: KindSizeDist, Name: "n"},
	})
	assert.True(t, IsDeclError(err))
}

func TestMonitor_PatternSizeBand(t *testing.T) {
	reg, x := dimerWorld(t)
	mon, err := New(reg, x, 10, []Decl{
		{Kind: KindPattern, Expr: "A()", Name: "inDimers", MinSize: 2, MaxSize: 2},
	})
	require.NoError(t, err)
	require.NoError(t, mon.Observe(0, 0))

	v, ok := mon.ValueAt("inDimers", -1)
	require.True(t, ok)
	assert.Equal(t, 2.0, v, "two embeddings inside the one dimer")
}
