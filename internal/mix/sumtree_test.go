package mix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSumTree_DrawIntervals(t *testing.T) {
	tree := NewSumTree([]float64{1, 2, 3})
	assert.Equal(t, 3, tree.Len())
	assert.Equal(t, 6.0, tree.Total())

	assert.Equal(t, 0, tree.Draw(0))
	assert.Equal(t, 0, tree.Draw(0.99))
	assert.Equal(t, 1, tree.Draw(1))
	assert.Equal(t, 1, tree.Draw(2.5))
	assert.Equal(t, 2, tree.Draw(3))
	assert.Equal(t, 2, tree.Draw(5.99))
}

func TestSumTree_DeleteMovesLastLeaf(t *testing.T) {
	tree := NewSumTree([]float64{1, 2, 3})
	tree.Delete(0)

	assert.Equal(t, 2, tree.Len())
	assert.Equal(t, 5.0, tree.Total())
	// the last leaf (weight 3) took position 0
	assert.Equal(t, 0, tree.Draw(2.5))
	assert.Equal(t, 1, tree.Draw(3.5))
}

func TestSumTree_Modify(t *testing.T) {
	tree := NewSumTree([]float64{1, 1, 1})
	tree.Modify(1, 10)

	assert.Equal(t, 12.0, tree.Total())
	assert.Equal(t, 1, tree.Draw(5))
}

func TestSumTree_GrowsPastCapacity(t *testing.T) {
	tree := NewSumTree(nil)
	assert.Equal(t, 0.0, tree.Total())

	for i := 1; i <= 20; i++ {
		tree.Insert(float64(i))
	}
	assert.Equal(t, 20, tree.Len())
	assert.Equal(t, 210.0, tree.Total())
	assert.Equal(t, 0, tree.Draw(0.5))
	assert.Equal(t, 19, tree.Draw(209.5))
}

func TestSumTree_ZeroWeightLeafNeverDrawn(t *testing.T) {
	tree := NewSumTree([]float64{0, 4, 0, 1})
	assert.Equal(t, 1, tree.Draw(0))
	assert.Equal(t, 1, tree.Draw(3.99))
	assert.Equal(t, 3, tree.Draw(4))
}

func TestSumTree_OverrunClampsToLastPositiveLeaf(t *testing.T) {
	// A variate at or past the total must still land on a positive leaf,
	// not on the trailing zero or an unoccupied slot.
	tree := NewSumTree([]float64{2, 3, 0})
	assert.Equal(t, 1, tree.Draw(5))
	assert.Equal(t, 1, tree.Draw(4.9999999))

	single := NewSumTree([]float64{2})
	assert.Equal(t, 0, single.Draw(2))
}
