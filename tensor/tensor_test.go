package tensor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndGetSet(t *testing.T) {
	x := New(2, 3)
	assert.Equal(t, []int{2, 3}, x.Shape())

	x.Set(1, 2, 5.0)
	assert.Equal(t, 5.0, x.Get(1, 2))
}

func TestAddSameShape(t *testing.T) {
	a := FromData([]float64{1, 2, 3, 4}, 2, 2)
	b := FromData([]float64{5, 6, 7, 8}, 2, 2)

	out := a.Add(b)
	assert.Equal(t, []float64{6, 8, 10, 12}, out.Data())
}

func TestAddBroadcastRow(t *testing.T) {
	a := FromData([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	bias := FromData([]float64{10, 20, 30}, 1, 3)

	out := a.Add(bias)
	assert.Equal(t, []float64{11, 22, 33, 14, 25, 36}, out.Data())
}

func TestMatMul(t *testing.T) {
	a := FromData([]float64{1, 2, 3, 4}, 2, 2)
	b := FromData([]float64{5, 6, 7, 8}, 2, 2)

	out := a.MatMul(b)
	assert.Equal(t, []float64{19, 22, 43, 50}, out.Data())
}

func TestTranspose(t *testing.T) {
	a := FromData([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	out := a.Transpose()
	require.Equal(t, []int{3, 2}, out.Shape())
	assert.Equal(t, 4.0, out.Get(0, 1))
}

func TestReshape(t *testing.T) {
	a := FromData([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	out := a.Reshape(3, 2)
	assert.Equal(t, a.Data(), out.Data())
}

func TestViewAndSetView(t *testing.T) {
	a := FromData([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, 3, 3)
	sub := a.View(1, 3, 1, 3)
	assert.Equal(t, []float64{5, 6, 8, 9}, sub.Data())

	patch := FromData([]float64{0, 0}, 1, 2)
	a.SetView(0, 0, patch)
	assert.Equal(t, 0.0, a.Get(0, 0))
	assert.Equal(t, 0.0, a.Get(0, 1))
	assert.Equal(t, 3.0, a.Get(0, 2))
}

func TestBroadcast(t *testing.T) {
	row := FromData([]float64{1, 2, 3}, 1, 3)
	out := row.Broadcast(2, 3)
	assert.Equal(t, []float64{1, 2, 3, 1, 2, 3}, out.Data())
}

func TestSumAndMean(t *testing.T) {
	a := FromData([]float64{1, 2, 3, 4}, 2, 2)
	assert.Equal(t, 10.0, a.Sum().Get(0, 0))
	assert.Equal(t, 2.5, a.Mean().Get(0, 0))
}

func TestSumRowsSumCols(t *testing.T) {
	a := FromData([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, []float64{5, 7, 9}, a.SumRows().Data())
	assert.Equal(t, []float64{6, 15}, a.SumCols().Data())
}

func TestJoinHorizontalAndVertical(t *testing.T) {
	a := FromData([]float64{1, 2}, 2, 1)
	b := FromData([]float64{3, 4}, 2, 1)
	h := JoinHorizontal(a, b)
	assert.Equal(t, []float64{1, 3, 2, 4}, h.Data())

	c := FromData([]float64{1, 2, 3}, 1, 3)
	d := FromData([]float64{4, 5, 6}, 1, 3)
	v := JoinVertical(c, d)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, v.Data())
}

func TestRowApply(t *testing.T) {
	a := FromData([]float64{1, 2, 3, 4}, 2, 2)
	out := a.RowApply(func(row *Tensor) *Tensor { return row.Scale(2) })
	assert.Equal(t, []float64{2, 4, 6, 8}, out.Data())
}

func TestIsApprox(t *testing.T) {
	a := FromData([]float64{1, 2, 3}, 1, 3)
	b := FromData([]float64{1.0000001, 2, 3}, 1, 3)
	assert.True(t, a.IsApprox(b, 1e-3))
	assert.False(t, a.IsApprox(b, 1e-10))
}

func TestRandomIsSeedDeterministic(t *testing.T) {
	a := Random(3, 3, 1.0, rand.New(rand.NewSource(42)))
	b := Random(3, 3, 1.0, rand.New(rand.NewSource(42)))
	assert.Equal(t, a.Data(), b.Data())
}

func TestIdentity(t *testing.T) {
	id := Identity(3)
	assert.Equal(t, 1.0, id.Get(0, 0))
	assert.Equal(t, 0.0, id.Get(0, 1))
}
