package graph_test

import (
	"testing"

	"github.com/muchq/tensorgraph/graph"
	"github.com/muchq/tensorgraph/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkGradient builds f from x via build, compares the numeric and
// analytic gradients, and fails if they diverge by more than tol.
func checkGradient(t *testing.T, x *tensor.Tensor, build func(g *graph.Graph, xn graph.NodeID) (graph.NodeID, error), tol float64) {
	t.Helper()
	g := graph.New(1)
	xn, err := g.NewVariableZeros(x.Rows, x.Cols, "x")
	require.NoError(t, err)
	g.SetValue(xn, x)

	f, err := build(g, xn)
	require.NoError(t, err)
	sum, err := g.NewSum(f)
	require.NoError(t, err)

	numeric, err := g.DFDXDefault(sum, xn)
	require.NoError(t, err)

	_, err = g.Forward(sum)
	require.NoError(t, err)
	require.NoError(t, g.Backward(sum, tensor.FromData([]float64{1}, 1, 1)))
	analytic := g.Gradient(xn)

	assert.True(t, numeric.IsApprox(analytic, tol), "numeric=%v analytic=%v", numeric, analytic)
}

func TestUnaryGradients(t *testing.T) {
	x := tensor.FromData([]float64{0.3, -0.7, 1.2, -1.8}, 2, 2)
	cases := map[string]func(g *graph.Graph, x graph.NodeID) (graph.NodeID, error){
		"neg":      (*graph.Graph).NewNeg,
		"abs":      (*graph.Graph).NewAbs,
		"exp":      (*graph.Graph).NewExp,
		"tanh":     (*graph.Graph).NewTanh,
		"sigmoid":  (*graph.Graph).NewSigmoid,
		"relu":     (*graph.Graph).NewRelu,
		"erf":      (*graph.Graph).NewErf,
		"gelu":     (*graph.Graph).NewGelu,
		"softplus": (*graph.Graph).NewSoftplus,
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			checkGradient(t, x.Copy(), fn, 1e-2)
		})
	}
}

func TestSqrtGradient(t *testing.T) {
	x := tensor.FromData([]float64{0.3, 0.7, 1.2, 1.8}, 2, 2)
	checkGradient(t, x, (*graph.Graph).NewSqrt, 1e-2)
}

func TestBinaryGradients(t *testing.T) {
	g := graph.New(1)
	a, err := g.NewVariableZeros(1, 3, "a")
	require.NoError(t, err)
	g.SetValue(a, tensor.FromData([]float64{1, 2, 3}, 1, 3))
	b, err := g.NewVariableZeros(1, 1, "b")
	require.NoError(t, err)
	g.SetValue(b, tensor.FromData([]float64{2}, 1, 1))

	mul, err := g.NewMul(a, b)
	require.NoError(t, err)
	f, err := g.NewSum(mul)
	require.NoError(t, err)

	numericA, err := g.DFDXDefault(f, a)
	require.NoError(t, err)
	numericB, err := g.DFDXDefault(f, b)
	require.NoError(t, err)

	_, err = g.Forward(f)
	require.NoError(t, err)
	require.NoError(t, g.Backward(f, tensor.FromData([]float64{1}, 1, 1)))

	assert.True(t, numericA.IsApprox(g.Gradient(a), 1e-2))
	assert.True(t, numericB.IsApprox(g.Gradient(b), 1e-2))
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	g := graph.New(1)
	x, err := g.NewVariableZeros(2, 3, "x")
	require.NoError(t, err)
	g.SetValue(x, tensor.FromData([]float64{1, 2, 3, -1, 0, 1}, 2, 3))

	sm, err := g.NewSoftmax(x)
	require.NoError(t, err)
	v, err := g.Forward(sm)
	require.NoError(t, err)

	for r := 0; r < v.Rows; r++ {
		sum := v.View(r, r+1, 0, v.Cols).Sum().Get(0, 0)
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestLogSoftmaxMatchesLogOfSoftmax(t *testing.T) {
	g := graph.New(1)
	x, err := g.NewVariableZeros(1, 3, "x")
	require.NoError(t, err)
	g.SetValue(x, tensor.FromData([]float64{1, 2, 3}, 1, 3))

	sm, err := g.NewSoftmax(x)
	require.NoError(t, err)
	logSm, err := g.NewLog(sm)
	require.NoError(t, err)
	lsm, err := g.NewLogSoftmax(x)
	require.NoError(t, err)

	v1, err := g.Forward(logSm)
	require.NoError(t, err)
	v2, err := g.Forward(lsm)
	require.NoError(t, err)
	assert.True(t, v1.IsApprox(v2, 1e-9))
}

func TestDropoutIdentityWhenRateZero(t *testing.T) {
	g := graph.New(1)
	x, err := g.NewVariableZeros(2, 2, "x")
	require.NoError(t, err)
	g.SetValue(x, tensor.FromData([]float64{1, 2, 3, 4}, 2, 2))

	d, err := g.NewDropout(x, 0)
	require.NoError(t, err)
	v, err := g.Forward(d)
	require.NoError(t, err)
	assert.True(t, v.IsApprox(tensor.FromData([]float64{1, 2, 3, 4}, 2, 2), 1e-9))
}

func TestDropoutMeanPreservedOverManyDraws(t *testing.T) {
	g := graph.New(7)
	ones, err := g.NewConstant(1, 100, "ones")
	require.NoError(t, err)
	g.SetConstant(ones, tensor.Ones(1, 100))

	d, err := g.NewDropout(ones, 0.5)
	require.NoError(t, err)

	var total float64
	draws := 200
	for i := 0; i < draws; i++ {
		g.Recache()
		v, err := g.Forward(d)
		require.NoError(t, err)
		total += v.Mean().Get(0, 0)
	}
	assert.InDelta(t, 1.0, total/float64(draws), 0.1)
}

func TestLinearForwardAndGradient(t *testing.T) {
	g := graph.New(1)
	x, err := g.NewVariableZeros(1, 2, "x")
	require.NoError(t, err)
	g.SetValue(x, tensor.FromData([]float64{1, 2}, 1, 2))
	w, err := g.NewVariableZeros(3, 2, "w")
	require.NoError(t, err)
	g.SetValue(w, tensor.FromData([]float64{1, 0, 0, 1, 1, 1}, 3, 2))
	b, err := g.NewVariableZeros(1, 3, "b")
	require.NoError(t, err)
	g.SetValue(b, tensor.FromData([]float64{0, 0, 1}, 1, 3))

	lin, err := g.NewLinear(x, w, b)
	require.NoError(t, err)
	v, err := g.Forward(lin)
	require.NoError(t, err)
	assert.True(t, v.IsApprox(tensor.FromData([]float64{1, 2, 4}, 1, 3), 1e-9))

	f, err := g.NewSum(lin)
	require.NoError(t, err)
	numericX, err := g.DFDXDefault(f, x)
	require.NoError(t, err)
	numericW, err := g.DFDXDefault(f, w)
	require.NoError(t, err)

	_, err = g.Forward(f)
	require.NoError(t, err)
	require.NoError(t, g.Backward(f, tensor.FromData([]float64{1}, 1, 1)))
	assert.True(t, numericX.IsApprox(g.Gradient(x), 1e-2))
	assert.True(t, numericW.IsApprox(g.Gradient(w), 1e-2))
}

func TestConv2DMatchesHandComputedVector(t *testing.T) {
	g := graph.New(1)
	x, err := g.NewConstant(2, 3, "input")
	require.NoError(t, err)
	g.SetConstant(x, tensor.FromData([]float64{1, 2, 3, 4, 5, 6}, 2, 3))
	k, err := g.NewConstant(2, 2, "kernel")
	require.NoError(t, err)
	g.SetConstant(k, tensor.FromData([]float64{1, 2, 3, 4}, 2, 2))

	conv, err := g.NewConv2D(x, k, 2, 3, 1, 1, 2, 2, 1, 1, 2)
	require.NoError(t, err)
	out, err := g.Forward(conv)
	require.NoError(t, err)

	want := tensor.FromData([]float64{20, 36, 15, 4, 7, 2}, 2, 3)
	assert.True(t, out.IsApprox(want, 1e-9), "got %v", out)
}

func TestConv2DGradientMatchesNumeric(t *testing.T) {
	g := graph.New(1)
	x, err := g.NewVariableZeros(2, 3, "input")
	require.NoError(t, err)
	g.SetValue(x, tensor.FromData([]float64{1, 2, 3, 4, 5, 6}, 2, 3))
	k, err := g.NewVariableZeros(2, 2, "kernel")
	require.NoError(t, err)
	g.SetValue(k, tensor.FromData([]float64{1, 2, 3, 4}, 2, 2))

	conv, err := g.NewConv2D(x, k, 2, 3, 1, 1, 2, 2, 1, 1, 2)
	require.NoError(t, err)
	f, err := g.NewSum(conv)
	require.NoError(t, err)

	numericX, err := g.DFDXDefault(f, x)
	require.NoError(t, err)
	numericK, err := g.DFDXDefault(f, k)
	require.NoError(t, err)

	_, err = g.Forward(f)
	require.NoError(t, err)
	require.NoError(t, g.Backward(f, tensor.FromData([]float64{1}, 1, 1)))

	assert.True(t, numericX.IsApprox(g.Gradient(x), 1e-1))
	assert.True(t, numericK.IsApprox(g.Gradient(k), 1e-1))
}

func TestLayerNormOutputIsStandardizedPerRow(t *testing.T) {
	g := graph.New(1)
	x, err := g.NewVariableZeros(2, 4, "x")
	require.NoError(t, err)
	g.SetValue(x, tensor.FromData([]float64{1, 2, 3, 4, 10, 0, -5, 2}, 2, 4))
	gain, err := g.NewConstant(1, 4, "gain")
	require.NoError(t, err)
	g.SetConstant(gain, tensor.Ones(1, 4))
	bias, err := g.NewConstant(1, 4, "bias")
	require.NoError(t, err)
	g.SetConstant(bias, tensor.New(1, 4))

	ln, err := g.NewLayerNorm(x, gain, bias)
	require.NoError(t, err)
	v, err := g.Forward(ln)
	require.NoError(t, err)

	for r := 0; r < v.Rows; r++ {
		row := v.View(r, r+1, 0, v.Cols)
		mean := row.Mean().Get(0, 0)
		assert.InDelta(t, 0.0, mean, 1e-6)
	}
}

func TestLayerNormGradientMatchesNumeric(t *testing.T) {
	x := tensor.FromData([]float64{1, 2, 3, 4}, 1, 4)
	g := graph.New(1)
	xn, err := g.NewVariableZeros(1, 4, "x")
	require.NoError(t, err)
	g.SetValue(xn, x)
	gain, err := g.NewVariableZeros(1, 4, "gain")
	require.NoError(t, err)
	g.SetValue(gain, tensor.FromData([]float64{1, 1, 1, 1}, 1, 4))
	bias, err := g.NewVariableZeros(1, 4, "bias")
	require.NoError(t, err)
	g.SetValue(bias, tensor.New(1, 4))

	ln, err := g.NewLayerNorm(xn, gain, bias)
	require.NoError(t, err)
	f, err := g.NewSum(ln)
	require.NoError(t, err)

	numeric, err := g.DFDXDefault(f, xn)
	require.NoError(t, err)

	_, err = g.Forward(f)
	require.NoError(t, err)
	require.NoError(t, g.Backward(f, tensor.FromData([]float64{1}, 1, 1)))
	assert.True(t, numeric.IsApprox(g.Gradient(xn), 1e-1), "numeric=%v analytic=%v", numeric, g.Gradient(xn))
}

func TestEmbeddingLookupAndGradientAccumulation(t *testing.T) {
	g := graph.New(1)
	e, err := g.NewVariableZeros(3, 2, "embedding")
	require.NoError(t, err)
	g.SetValue(e, tensor.FromData([]float64{1, 1, 2, 2, 3, 3}, 3, 2))
	idx, err := g.NewConstant(3, 1, "idx")
	require.NoError(t, err)
	g.SetConstant(idx, tensor.FromData([]float64{0, 0, 2}, 3, 1))

	emb, err := g.NewEmbedding(e, idx)
	require.NoError(t, err)
	v, err := g.Forward(emb)
	require.NoError(t, err)
	assert.True(t, v.IsApprox(tensor.FromData([]float64{1, 1, 1, 1, 3, 3}, 3, 2), 1e-9))

	require.NoError(t, g.Backward(emb, tensor.Ones(3, 2)))
	grad := g.Gradient(e)
	assert.Equal(t, 2.0, grad.Get(0, 0))
	assert.Equal(t, 0.0, grad.Get(1, 0))
	assert.Equal(t, 1.0, grad.Get(2, 0))
}

func TestReshapeRejectsElementCountMismatch(t *testing.T) {
	g := graph.New(1)
	x, err := g.NewVariableZeros(2, 3, "x")
	require.NoError(t, err)
	_, err = g.NewReshape(x, 4, 4)
	assert.ErrorIs(t, err, graph.ErrShapeMismatch)
}

func TestMultiHeadAttentionShapeAndGradient(t *testing.T) {
	g := graph.New(3)
	const seqLen, e, heads = 3, 4, 2
	x, err := g.NewVariableRandom(seqLen, e, "x", 0.1)
	require.NoError(t, err)
	wq, err := g.NewVariableRandom(e, e, "wq", 0.1)
	require.NoError(t, err)
	wk, err := g.NewVariableRandom(e, e, "wk", 0.1)
	require.NoError(t, err)
	wv, err := g.NewVariableRandom(e, e, "wv", 0.1)
	require.NoError(t, err)
	wo, err := g.NewVariableRandom(e, e, "wo", 0.1)
	require.NoError(t, err)

	out, err := g.NewMultiHeadAttention(x, wq, wk, wv, wo, heads, nil, 0)
	require.NoError(t, err)
	v, err := g.Forward(out)
	require.NoError(t, err)
	assert.Equal(t, []int{seqLen, e}, v.Shape())

	f, err := g.NewSum(out)
	require.NoError(t, err)
	numeric, err := g.DFDXDefault(f, x)
	require.NoError(t, err)

	_, err = g.Forward(f)
	require.NoError(t, err)
	require.NoError(t, g.Backward(f, tensor.FromData([]float64{1}, 1, 1)))
	assert.True(t, numeric.IsApprox(g.Gradient(x), 1e-1), "numeric=%v analytic=%v", numeric, g.Gradient(x))
}

func TestGRUCellShape(t *testing.T) {
	g := graph.New(1)
	const batch, inSize, hidden = 1, 2, 3
	x, err := g.NewVariableRandom(batch, inSize, "x", 0.1)
	require.NoError(t, err)
	h, err := g.NewVariableZeros(batch, hidden, "h")
	require.NoError(t, err)

	newGate := func(inRows int) graph.NodeID {
		id, err := g.NewVariableRandom(hidden, inRows, "", 0.1)
		require.NoError(t, err)
		return id
	}
	newBias := func() graph.NodeID {
		id, err := g.NewVariableZeros(1, hidden, "")
		require.NoError(t, err)
		return id
	}
	w := graph.GRUWeights{
		Wz: newGate(inSize), Uz: newGate(hidden), Bz: newBias(),
		Wr: newGate(inSize), Ur: newGate(hidden), Br: newBias(),
		Wh: newGate(inSize), Uh: newGate(hidden), Bh: newBias(),
	}

	out, err := g.NewGRUCell(x, h, w)
	require.NoError(t, err)
	v, err := g.Forward(out)
	require.NoError(t, err)
	assert.Equal(t, []int{batch, hidden}, v.Shape())
}

// TestGRUCellMatchesFixtureVector pins the Cho-form sign conventions
// NewGRUCell relies on: z = sigmoid(...), r = sigmoid(...),
// h~ = tanh(...), h = (1-z)*hPrev + z*h~. Wz/Uz/Wr/Ur/Wh/Uh are zeroed
// so every gate's pre-activation reduces to its bias alone and hPrev
// starts at zero, letting the expected output be derived by hand from
// the bias constants below rather than requiring a live solve: with
// hPrev=0, h = z*h~ = sigmoid(bz)*tanh(bh), and bz=10 drives z to
// 0.99995..., so h~ = tanh(bh) and the bh below (atanh of the target
// vector) reproduce the fixture within the 1e-3 tolerance.
func TestGRUCellMatchesFixtureVector(t *testing.T) {
	g := graph.New(1)
	const batch, inSize, hidden = 1, 2, 4

	x, err := g.NewConstant(batch, inSize, "x")
	require.NoError(t, err)
	g.SetConstant(x, tensor.FromData([]float64{1, 0.5}, batch, inSize))
	h, err := g.NewConstant(batch, hidden, "h")
	require.NoError(t, err)
	g.SetConstant(h, tensor.New(batch, hidden))

	zeroGate := func(inRows int) graph.NodeID {
		id, err := g.NewConstant(hidden, inRows, "")
		require.NoError(t, err)
		g.SetConstant(id, tensor.New(hidden, inRows))
		return id
	}
	bias := func(vals []float64) graph.NodeID {
		id, err := g.NewConstant(1, hidden, "")
		require.NoError(t, err)
		g.SetConstant(id, tensor.FromData(vals, 1, hidden))
		return id
	}

	w := graph.GRUWeights{
		Wz: zeroGate(inSize), Uz: zeroGate(hidden), Bz: bias([]float64{10, 10, 10, 10}),
		Wr: zeroGate(inSize), Ur: zeroGate(hidden), Br: bias([]float64{0, 0, 0, 0}),
		Wh: zeroGate(inSize), Uh: zeroGate(hidden), Bh: bias([]float64{-0.177026, 0.117131, -1.659135, -2.499460}),
	}

	out, err := g.NewGRUCell(x, h, w)
	require.NoError(t, err)
	v, err := g.Forward(out)
	require.NoError(t, err)

	want := tensor.FromData([]float64{-0.1752, 0.1165, -0.9301, -0.9866}, batch, hidden)
	assert.True(t, v.IsApprox(want, 1e-3), "got %v", v)
}
