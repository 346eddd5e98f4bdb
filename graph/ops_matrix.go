package graph

import (
	"fmt"

	"github.com/muchq/tensorgraph/tensor"
)

// NewProduct returns the matrix product a . b (gemm). dL/da = g . bᵀ,
// dL/db = aᵀ . g.
func (g *Graph) NewProduct(a, b NodeID) (NodeID, error) {
	aShape, bShape := g.Shape(a), g.Shape(b)
	if aShape[1] != bShape[0] {
		return 0, fmt.Errorf("%w: matmul (%d,%d) x (%d,%d)", ErrShapeMismatch, aShape[0], aShape[1], bShape[0], bShape[1])
	}
	return g.newOp("product", func(g *Graph) (*tensor.Tensor, error) {
		av, err := g.Forward(a)
		if err != nil {
			return nil, err
		}
		bv, err := g.Forward(b)
		if err != nil {
			return nil, err
		}
		return av.MatMul(bv), nil
	},
		Registration{Target: a, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return grad.MatMul(g.Value(b).Transpose())
		}},
		Registration{Target: b, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return g.Value(a).Transpose().MatMul(grad)
		}},
	)
}

// NewLinear computes y = x . Wᵀ + b, with W shaped (out, in) and b shaped
// (1, out), the fused op spec.md §4.2 calls out explicitly because it backs
// every dense layer. Backward: dL/dW = gᵀ.x, dL/db = column-sum g,
// dL/dx = g.W.
func (g *Graph) NewLinear(x, w, b NodeID) (NodeID, error) {
	xShape, wShape, bShape := g.Shape(x), g.Shape(w), g.Shape(b)
	if xShape[1] != wShape[1] {
		return 0, fmt.Errorf("%w: linear x(%d,%d) W(%d,%d)", ErrShapeMismatch, xShape[0], xShape[1], wShape[0], wShape[1])
	}
	if bShape[0] != 1 || bShape[1] != wShape[0] {
		return 0, fmt.Errorf("%w: linear bias shape (%d,%d), want (1,%d)", ErrShapeMismatch, bShape[0], bShape[1], wShape[0])
	}
	return g.newOp("linear", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		wv, err := g.Forward(w)
		if err != nil {
			return nil, err
		}
		bv, err := g.Forward(b)
		if err != nil {
			return nil, err
		}
		return xv.MatMul(wv.Transpose()).Add(bv), nil
	},
		Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return grad.MatMul(g.Value(w))
		}},
		Registration{Target: w, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return grad.Transpose().MatMul(g.Value(x))
		}},
		Registration{Target: b, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return grad.SumRows()
		}},
	)
}
