package graph

import "github.com/muchq/tensorgraph/tensor"

// NewSum reduces x to a 1x1 tensor holding the sum of all elements.
func (g *Graph) NewSum(x NodeID) (NodeID, error) {
	xShape := g.Shape(x)
	return g.newOp("sum", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		return xv.Sum(), nil
	}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		return grad.Broadcast(xShape[0], xShape[1])
	}})
}

// NewMean reduces x to a 1x1 tensor holding the mean of all elements.
func (g *Graph) NewMean(x NodeID) (NodeID, error) {
	xShape := g.Shape(x)
	n := float64(xShape[0] * xShape[1])
	return g.newOp("mean", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		return xv.Mean(), nil
	}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		return grad.Broadcast(xShape[0], xShape[1]).Scale(1 / n)
	}})
}
