package graph

import (
	"fmt"
	"math"

	"github.com/muchq/tensorgraph/tensor"
)

// NewEmbedding gathers rows out of the (V, D) embedding table e according to
// the (N, 1) column of non-negative row indices (stored as float64s, the
// way every other Constant value is). Backward scatters each output row's
// gradient back into e's (V, D) gradient at the corresponding index;
// repeated indices accumulate additively rather than overwrite, matching
// how every other node's gradient accumulates.
func (g *Graph) NewEmbedding(e, indices NodeID) (NodeID, error) {
	eShape := g.Shape(e)
	idxShape := g.Shape(indices)
	if idxShape[1] != 1 {
		return 0, fmt.Errorf("%w: embedding indices must be (N,1), got (%d,%d)", ErrShapeMismatch, idxShape[0], idxShape[1])
	}
	v, d := eShape[0], eShape[1]
	n := idxShape[0]

	return g.newOp("embedding", func(g *Graph) (*tensor.Tensor, error) {
		ev, err := g.Forward(e)
		if err != nil {
			return nil, err
		}
		iv, err := g.Forward(indices)
		if err != nil {
			return nil, err
		}
		out := tensor.New(n, d)
		for i := 0; i < n; i++ {
			idx := int(iv.Get(i, 0))
			if idx < 0 || idx >= v {
				return nil, fmt.Errorf("graph: embedding index %d out of range [0,%d)", idx, v)
			}
			for c := 0; c < d; c++ {
				out.Set(i, c, ev.Get(idx, c))
			}
		}
		return out, nil
	}, Registration{Target: e, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		iv := g.Value(indices)
		contribution := tensor.New(v, d)
		for i := 0; i < n; i++ {
			idx := int(iv.Get(i, 0))
			for c := 0; c < d; c++ {
				contribution.Set(idx, c, contribution.Get(idx, c)+grad.Get(i, c))
			}
		}
		return contribution
	}})
}

// GRUWeights names the six weight matrices and three biases a GRU cell
// needs, following the update/reset/candidate gate layout from Cho et al.
type GRUWeights struct {
	Wz, Uz, Bz NodeID
	Wr, Ur, Br NodeID
	Wh, Uh, Bh NodeID
}

// NewGRUCell composes one step of a Gated Recurrent Unit from x (the
// current input row-batch) and hPrev (the previous hidden state), using
// only already-registered ops, so its gradient is exactly the composition
// of those ops' pullbacks rather than a hand-derived one:
//
//	z = sigmoid(x.Wzᵀ + hPrev.Uzᵀ + bz)
//	r = sigmoid(x.Wrᵀ + hPrev.Urᵀ + br)
//	h~ = tanh(x.Whᵀ + (r*hPrev).Uhᵀ + bh)
//	h = (1-z)*hPrev + z*h~
func (g *Graph) NewGRUCell(x, hPrev NodeID, w GRUWeights) (NodeID, error) {
	zero, err := g.linearSum(x, w.Wz, hPrev, w.Uz, w.Bz)
	if err != nil {
		return 0, err
	}
	z, err := g.NewSigmoid(zero)
	if err != nil {
		return 0, err
	}

	rpre, err := g.linearSum(x, w.Wr, hPrev, w.Ur, w.Br)
	if err != nil {
		return 0, err
	}
	r, err := g.NewSigmoid(rpre)
	if err != nil {
		return 0, err
	}

	rh, err := g.NewMul(r, hPrev)
	if err != nil {
		return 0, err
	}
	hPreAct, err := g.linearSum(x, w.Wh, rh, w.Uh, w.Bh)
	if err != nil {
		return 0, err
	}
	hTilde, err := g.NewTanh(hPreAct)
	if err != nil {
		return 0, err
	}

	one, err := g.NewConstant(1, 1, "")
	if err != nil {
		return 0, err
	}
	g.SetConstant(one, tensor.FromData([]float64{1}, 1, 1))
	oneMinusZ, err := g.NewSub(one, z)
	if err != nil {
		return 0, err
	}
	keepPrev, err := g.NewMul(oneMinusZ, hPrev)
	if err != nil {
		return 0, err
	}
	takeNew, err := g.NewMul(z, hTilde)
	if err != nil {
		return 0, err
	}
	return g.NewAdd(keepPrev, takeNew)
}

// linearSum builds x.Waᵀ + y.Wbᵀ + bias, the shared shape of every GRU
// gate's pre-activation.
func (g *Graph) linearSum(x, wa, y, wb, bias NodeID) (NodeID, error) {
	xa, err := g.NewLinear(x, wa, bias)
	if err != nil {
		return 0, err
	}
	wbT, err := g.NewTranspose(wb)
	if err != nil {
		return 0, err
	}
	yb, err := g.NewProduct(y, wbT)
	if err != nil {
		return 0, err
	}
	return g.NewAdd(xa, yb)
}

// NewLayerNorm applies layer normalization across each row of x
// independently — mean and variance computed per row, then rescaled by a
// trainable affine pair (gain, bias), each shaped (1, cols). ε guards
// against a zero-variance row.
func (g *Graph) NewLayerNorm(x, gain, bias NodeID) (NodeID, error) {
	const eps = 1e-8
	xShape := g.Shape(x)
	rows, cols := xShape[0], xShape[1]
	var xhat, invStd, centered *tensor.Tensor

	out, err := g.newOp("layer_norm", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		gv, err := g.Forward(gain)
		if err != nil {
			return nil, err
		}
		bv, err := g.Forward(bias)
		if err != nil {
			return nil, err
		}
		xhat = tensor.New(rows, cols)
		invStd = tensor.New(rows, 1)
		centered = tensor.New(rows, cols)
		out := tensor.New(rows, cols)
		for r := 0; r < rows; r++ {
			var mu float64
			for c := 0; c < cols; c++ {
				mu += xv.Get(r, c)
			}
			mu /= float64(cols)
			var variance float64
			for c := 0; c < cols; c++ {
				d := xv.Get(r, c) - mu
				centered.Set(r, c, d)
				variance += d * d
			}
			variance /= float64(cols)
			is := 1 / math.Sqrt(variance+eps)
			invStd.Set(r, 0, is)
			for c := 0; c < cols; c++ {
				xh := centered.Get(r, c) * is
				xhat.Set(r, c, xh)
				out.Set(r, c, xh*gv.Get(0, c)+bv.Get(0, c))
			}
		}
		return out, nil
	},
		Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			gv := g.Value(gain)
			dx := tensor.New(rows, cols)
			n := float64(cols)
			for r := 0; r < rows; r++ {
				is := invStd.Get(r, 0)
				var sumDxhat, sumDxhatCentered float64
				dxhat := make([]float64, cols)
				for c := 0; c < cols; c++ {
					dxhat[c] = grad.Get(r, c) * gv.Get(0, c)
					sumDxhat += dxhat[c]
					sumDxhatCentered += dxhat[c] * centered.Get(r, c)
				}
				for c := 0; c < cols; c++ {
					dx.Set(r, c, is/n*(n*dxhat[c]-sumDxhat-centered.Get(r, c)*is*is*sumDxhatCentered))
				}
			}
			return dx
		}},
		Registration{Target: gain, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			d := tensor.New(1, cols)
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					d.Set(0, c, d.Get(0, c)+grad.Get(r, c)*xhat.Get(r, c))
				}
			}
			return d
		}},
		Registration{Target: bias, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return grad.SumRows()
		}},
	)
	return out, err
}

// NewRowwise splits x into its individual rows, applies builder to each row
// subgraph independently, and stitches the results back together vertically
// — the graph-level equivalent of tensor.Tensor.RowApply, used to compose
// per-timestep recurrent cells and other row-independent composite ops.
func (g *Graph) NewRowwise(x NodeID, builder func(g *Graph, row NodeID) (NodeID, error)) (NodeID, error) {
	xShape := g.Shape(x)
	rows, cols := xShape[0], xShape[1]
	outRows := make([]NodeID, rows)
	for r := 0; r < rows; r++ {
		rowNode, err := g.NewSplit(x, r, r+1, 0, cols)
		if err != nil {
			return 0, err
		}
		built, err := builder(g, rowNode)
		if err != nil {
			return 0, err
		}
		outRows[r] = built
	}
	return g.NewJoinVertical(outRows...)
}
