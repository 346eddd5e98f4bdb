package graph

import "github.com/muchq/tensorgraph/tensor"

// NewDropout zeroes each element of x independently with probability r and
// rescales survivors by 1/(1-r) (inverted dropout), so the expected value is
// unchanged whether dropout is active or not. The mask is drawn once per
// epoch from the Graph's RNG and held fixed for the rest of that epoch, like
// every other op node's forward cache. r == 0 is the identity and consumes
// no randomness, so a graph built with dropout disabled is bit-for-bit
// reproducible without touching the RNG stream.
func (g *Graph) NewDropout(x NodeID, r float64) (NodeID, error) {
	if r == 0 {
		return g.newOp("dropout_identity", func(g *Graph) (*tensor.Tensor, error) {
			return g.Forward(x)
		}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor { return grad }})
	}

	keep := 1 - r
	var mask *tensor.Tensor
	return g.newOp("dropout", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		mask = tensor.New(xv.Rows, xv.Cols)
		for rr := 0; rr < xv.Rows; rr++ {
			for c := 0; c < xv.Cols; c++ {
				if g.rng.Float64() < keep {
					mask.Set(rr, c, 1/keep)
				}
			}
		}
		return xv.Mul(mask), nil
	}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		return grad.Mul(mask)
	}})
}
