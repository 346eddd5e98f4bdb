package graph

import (
	"fmt"
	"math"

	"github.com/muchq/tensorgraph/tensor"
)

// NewScaledDotProductAttention computes softmax_row(Q.Kᵀ/sqrt(D) + bias).V,
// where bias is 0 at unmasked positions and a large negative number
// (rather than literal -Inf, which would poison the softmax gradient with
// NaNs at fully-masked rows) wherever mask is 0. Q is (L,D), K and V are
// (S,D), mask — if non-nil — is (L,S) of 0/1 Constants. dropout applies to
// the attention weights before the final product with V, matching
// spec.md's Design Notes on attention dropout placement.
func (g *Graph) NewScaledDotProductAttention(q, k, v NodeID, mask *NodeID, d int, dropout float64) (NodeID, error) {
	kT, err := g.NewTranspose(k)
	if err != nil {
		return 0, err
	}
	scores, err := g.NewProduct(q, kT)
	if err != nil {
		return 0, err
	}
	scale, err := g.NewConstant(1, 1, "")
	if err != nil {
		return 0, err
	}
	g.SetConstant(scale, tensor.FromData([]float64{1 / math.Sqrt(float64(d))}, 1, 1))
	scaled, err := g.NewMul(scores, scale)
	if err != nil {
		return 0, err
	}

	if mask != nil {
		one, err := g.NewConstant(1, 1, "")
		if err != nil {
			return 0, err
		}
		g.SetConstant(one, tensor.FromData([]float64{1}, 1, 1))
		penalty, err := g.NewConstant(1, 1, "")
		if err != nil {
			return 0, err
		}
		g.SetConstant(penalty, tensor.FromData([]float64{1e9}, 1, 1))
		shifted, err := g.NewSub(*mask, one)
		if err != nil {
			return 0, err
		}
		bias, err := g.NewMul(shifted, penalty)
		if err != nil {
			return 0, err
		}
		scaled, err = g.NewAdd(scaled, bias)
		if err != nil {
			return 0, err
		}
	}

	weights, err := g.NewSoftmax(scaled)
	if err != nil {
		return 0, err
	}
	if dropout > 0 {
		weights, err = g.NewDropout(weights, dropout)
		if err != nil {
			return 0, err
		}
	}
	return g.NewProduct(weights, v)
}

// NewMultiHeadAttention runs self-attention over x (an (L, E) sequence)
// through H heads, each of size D = E/H (the corrected head dimension;
// the original implementation this module was distilled from used H where
// D belongs, an off-by-substitution bug this module does not reproduce).
// Wq, Wk, Wv, Wo are (E, E) projection matrices with no bias term, applied
// as x.Wᵀ.
func (g *Graph) NewMultiHeadAttention(x, wq, wk, wv, wo NodeID, h int, mask *NodeID, dropout float64) (NodeID, error) {
	xShape := g.Shape(x)
	l, e := xShape[0], xShape[1]
	if e%h != 0 {
		return 0, fmt.Errorf("%w: embedding size %d not divisible by head count %d", ErrShapeMismatch, e, h)
	}
	d := e / h

	project := func(w NodeID) (NodeID, error) {
		wT, err := g.NewTranspose(w)
		if err != nil {
			return 0, err
		}
		return g.NewProduct(x, wT)
	}
	q, err := project(wq)
	if err != nil {
		return 0, err
	}
	k, err := project(wk)
	if err != nil {
		return 0, err
	}
	v, err := project(wv)
	if err != nil {
		return 0, err
	}

	heads := make([]NodeID, h)
	for i := 0; i < h; i++ {
		qi, err := g.NewSplit(q, 0, l, i*d, (i+1)*d)
		if err != nil {
			return 0, err
		}
		ki, err := g.NewSplit(k, 0, l, i*d, (i+1)*d)
		if err != nil {
			return 0, err
		}
		vi, err := g.NewSplit(v, 0, l, i*d, (i+1)*d)
		if err != nil {
			return 0, err
		}
		headOut, err := g.NewScaledDotProductAttention(qi, ki, vi, mask, d, dropout)
		if err != nil {
			return 0, err
		}
		heads[i] = headOut
	}

	concat, err := g.NewJoin(heads...)
	if err != nil {
		return 0, err
	}
	woT, err := g.NewTranspose(wo)
	if err != nil {
		return 0, err
	}
	return g.NewProduct(concat, woT)
}
