package alarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSampler map[string][]float64

func (s mapSampler) ValueAt(name string, class int) (float64, bool) {
	v, ok := s[name]
	if !ok {
		return 0, false
	}
	if class < 0 {
		class = 0
	}
	if class >= len(v) {
		return 0, true
	}
	return v[class], true
}

func TestParse_Forms(t *testing.T) {
	cases := []struct {
		in   string
		want Rule
	}{
		{"size_watermark > 100", Rule{Observable: "size_watermark", Class: -1, Op: OpGT, Threshold: 100}},
		{"free < 2", Rule{Observable: "free", Class: -1, Op: OpLT, Threshold: 2}},
		{"sd[4] >= 2", Rule{Observable: "sd", Class: 4, Op: OpGE, Threshold: 2}},
		{"top[0] == 10", Rule{Observable: "top", Class: 0, Op: OpEQ, Threshold: 10}},
		{"  count<=1e3 ", Rule{Observable: "count", Class: -1, Op: OpLE, Threshold: 1000}},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, in := range []string{"", "count", "count >", "> 5", "count ! 5", "count > x"} {
		_, err := Parse(in)
		assert.True(t, IsRuleError(err), "input %q", in)
	}
}

func TestSet_ShouldStop(t *testing.T) {
	s := mapSampler{
		"count": {6},
		"sizes": {0, 3, 1}, // class-indexed
	}

	rules, err := ParseAll([]string{"count > 5", "sizes[2] > 10"})
	require.NoError(t, err)
	set := New(s, rules)

	reason, stop := set.ShouldStop()
	require.True(t, stop)
	assert.Equal(t, "count > 5", reason)
}

func TestSet_FirstSatisfiedWins(t *testing.T) {
	s := mapSampler{"a": {1}, "b": {10}}
	rules, err := ParseAll([]string{"a > 5", "b > 5"})
	require.NoError(t, err)

	reason, stop := New(s, rules).ShouldStop()
	require.True(t, stop)
	assert.Equal(t, "b > 5", reason)
}

func TestSet_UnknownObservableNeverFires(t *testing.T) {
	rules, err := ParseAll([]string{"missing > 0"})
	require.NoError(t, err)

	_, stop := New(mapSampler{}, rules).ShouldStop()
	assert.False(t, stop)
}

func TestResolve(t *testing.T) {
	rules, err := ParseAll([]string{"free == 0", "sd[4] >= 10"})
	require.NoError(t, err)

	assert.NoError(t, Resolve(rules, []string{"free", "sd", "maxsize"}))
	assert.NoError(t, Resolve(nil, nil))

	err = Resolve(rules, []string{"sd"})
	assert.True(t, IsRuleError(err))
	assert.Contains(t, err.Error(), `unknown observable "free"`)
}

func TestSet_NoRules(t *testing.T) {
	_, stop := New(mapSampler{"a": {1}}, nil).ShouldStop()
	assert.False(t, stop)
}

func TestRule_String(t *testing.T) {
	r := Rule{Observable: "sd", Class: 4, Op: OpGE, Threshold: 2}
	assert.Equal(t, "sd[4] >= 2", r.String())
	r = Rule{Observable: "count", Class: -1, Op: OpGT, Threshold: 5}
	assert.Equal(t, "count > 5", r.String())
}
