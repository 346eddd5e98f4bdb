package graph_test

import (
	"errors"
	"testing"

	"github.com/muchq/tensorgraph/graph"
	"github.com/muchq/tensorgraph/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantUnsetErrors(t *testing.T) {
	g := graph.New(1)
	c, err := g.NewConstant(1, 1, "x")
	require.NoError(t, err)
	_, err = g.Forward(c)
	assert.ErrorIs(t, err, graph.ErrUnsetConstant)
}

func TestDuplicateNameErrors(t *testing.T) {
	g := graph.New(1)
	_, err := g.NewConstant(1, 1, "dup")
	require.NoError(t, err)
	_, err = g.NewConstant(1, 1, "dup")
	assert.ErrorIs(t, err, graph.ErrDuplicateName)
}

func TestForwardCachesWithinEpoch(t *testing.T) {
	g := graph.New(1)
	a, err := g.NewVariableZeros(1, 1, "a")
	require.NoError(t, err)
	g.SetValue(a, tensor.FromData([]float64{2}, 1, 1))

	id, err := g.NewAdd(a, a)
	require.NoError(t, err)

	v1, err := g.Forward(id)
	require.NoError(t, err)
	v2, err := g.Forward(id)
	require.NoError(t, err)
	assert.Same(t, v1, v2)

	g.Recache()
	v3, err := g.Forward(id)
	require.NoError(t, err)
	assert.Equal(t, 4.0, v3.Get(0, 0))
}

func TestBackwardZeroesOnlyReachableSubgraph(t *testing.T) {
	g := graph.New(1)
	x, err := g.NewVariableZeros(1, 1, "x")
	require.NoError(t, err)
	g.SetValue(x, tensor.FromData([]float64{3}, 1, 1))
	y, err := g.NewVariableZeros(1, 1, "y")
	require.NoError(t, err)
	g.SetValue(y, tensor.FromData([]float64{5}, 1, 1))

	f, err := g.NewMul(x, x)
	require.NoError(t, err)

	require.NoError(t, g.Backward(f, tensor.FromData([]float64{1}, 1, 1)))
	assert.Equal(t, 6.0, g.Gradient(x).Get(0, 0))
	assert.Equal(t, 0.0, g.Gradient(y).Get(0, 0))
}

func TestBackpropDisablePinsGradientOff(t *testing.T) {
	g := graph.New(1)
	x, err := g.NewVariableZeros(1, 1, "x")
	require.NoError(t, err)
	g.SetValue(x, tensor.FromData([]float64{3}, 1, 1))

	sq, err := g.NewMul(x, x)
	require.NoError(t, err)
	g.SetBackprop(sq, false)

	require.NoError(t, g.Backward(sq, tensor.FromData([]float64{1}, 1, 1)))
	assert.Equal(t, 0.0, g.Gradient(x).Get(0, 0))
}

func TestDFDXMatchesAnalyticGradient(t *testing.T) {
	g := graph.New(1)
	x, err := g.NewVariableZeros(2, 2, "x")
	require.NoError(t, err)
	g.SetValue(x, tensor.FromData([]float64{1, 2, 3, 4}, 2, 2))

	sq, err := g.NewMul(x, x)
	require.NoError(t, err)
	f, err := g.NewSum(sq)
	require.NoError(t, err)

	numeric, err := g.DFDXDefault(f, x)
	require.NoError(t, err)

	_, err = g.Forward(f)
	require.NoError(t, err)
	require.NoError(t, g.Backward(f, tensor.FromData([]float64{1}, 1, 1)))
	analytic := g.Gradient(x)

	assert.True(t, numeric.IsApprox(analytic, 1e-2), "numeric=%v analytic=%v", numeric, analytic)
}

func TestVariablesInsertionOrder(t *testing.T) {
	g := graph.New(1)
	a, _ := g.NewVariableZeros(1, 1, "a")
	b, _ := g.NewVariableZeros(1, 1, "b")
	assert.Equal(t, []graph.NodeID{a, b}, g.Variables())
}

func TestNodeByName(t *testing.T) {
	g := graph.New(1)
	w, err := g.NewVariableZeros(2, 2, "W1")
	require.NoError(t, err)
	found, ok := g.NodeByName("W1")
	require.True(t, ok)
	assert.Equal(t, w, found)
	_, ok = g.NodeByName("missing")
	assert.False(t, ok)
}

func TestErrorsAreWrapped(t *testing.T) {
	g := graph.New(1)
	x, err := g.NewVariableZeros(2, 3, "x")
	require.NoError(t, err)
	_, err = g.NewReshape(x, 4, 4)
	assert.True(t, errors.Is(err, graph.ErrShapeMismatch))
	assert.NotEqual(t, graph.ErrShapeMismatch, err)
}
