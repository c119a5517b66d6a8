package mix

// SumTree is a complete binary tree whose leaves carry per-species
// selection weights and whose internal nodes carry the sum of their
// children. It supports O(log n) weighted draws and O(log n) updates,
// keyed by the species' position in the mixture slice.
//
// The layout is a single flat slice: internal nodes first, then the
// leaves. Growing past the leaf capacity adds a level and rebuilds.
type SumTree struct {
	tree     []float64
	entries  int // occupied leaves
	leaves   int // leaf capacity, a power of two (0 when empty)
	internal int // number of internal nodes, leaves-1
}

// NewSumTree builds a tree over the given leaf weights. The slice is
// not retained.
func NewSumTree(weights []float64) *SumTree {
	t := &SumTree{}
	t.rebuild(weights)
	return t
}

func (t *SumTree) rebuild(weights []float64) {
	n := len(weights)
	leaves := 0
	if n > 0 {
		leaves = 2
		for leaves < n {
			leaves *= 2
		}
		if leaves == n {
			// keep one spare level so Insert never rebuilds twice in a row
			leaves *= 2
		}
	}
	t.entries = n
	t.leaves = leaves
	t.internal = 0
	if leaves > 0 {
		t.internal = leaves - 1
	}
	t.tree = make([]float64, t.internal+t.leaves)
	copy(t.tree[t.internal:], weights)
	for i := t.internal - 1; i >= 0; i-- {
		t.tree[i] = t.tree[2*i+1] + t.tree[2*i+2]
	}
}

func (t *SumTree) updateFromLeaf(i int) {
	for i > 0 {
		i = (i - 1) / 2
		t.tree[i] = t.tree[2*i+1] + t.tree[2*i+2]
	}
}

// Len returns the number of occupied leaves.
func (t *SumTree) Len() int { return t.entries }

// Total returns the sum of all weights.
func (t *SumTree) Total() float64 {
	if len(t.tree) == 0 {
		return 0
	}
	return t.tree[0]
}

// Insert appends a weight at position Len().
func (t *SumTree) Insert(w float64) {
	if t.entries == t.leaves {
		old := make([]float64, t.entries)
		copy(old, t.tree[t.internal:t.internal+t.entries])
		t.rebuild(old)
	}
	i := t.internal + t.entries
	t.entries++
	t.tree[i] = w
	t.updateFromLeaf(i)
}

// Delete removes the weight at index by moving the last leaf into its
// place, mirroring the swap-remove the mixture performs on its species
// slice. index is the position before removal.
func (t *SumTree) Delete(index int) {
	i := t.internal + index
	j := t.internal + t.entries - 1
	t.tree[i] = t.tree[j]
	t.tree[j] = 0
	t.entries--
	t.updateFromLeaf(i)
	t.updateFromLeaf(j)
}

// Modify replaces the weight at index.
func (t *SumTree) Modify(index int, w float64) {
	i := t.internal + index
	t.tree[i] = w
	t.updateFromLeaf(i)
}

// Draw descends from the root and returns the index of the leaf whose
// cumulative weight interval contains rv. rv should lie in [0, Total());
// a descent never enters a zero-weight subtree, so rounding overruns
// clamp into the last positive leaf instead of landing on a weightless
// entry.
func (t *SumTree) Draw(rv float64) int {
	i := 0
	stop := (t.internal + t.entries - 2) / 2
	for i <= stop {
		left := 2*i + 1
		if rv < t.tree[left] || t.tree[left+1] <= 0 {
			i = left
		} else {
			rv -= t.tree[left]
			i = left + 1
		}
	}
	return i - t.internal
}
