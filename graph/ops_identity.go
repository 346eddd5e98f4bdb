package graph

import "github.com/muchq/tensorgraph/tensor"

// NewIdentity wraps inner in a new node whose value and gradient are
// inner's, unchanged. Composite builders (NewMultiHeadAttention-style
// helpers) use it to expose a single NodeID as "the result" of a subgraph
// without forcing callers to reach into whichever internal node happens to
// produce the final value — the wrapper's gradient is routed straight
// through to inner, not duplicated or rescaled.
func (g *Graph) NewIdentity(inner NodeID) (NodeID, error) {
	return g.newOp("identity", func(g *Graph) (*tensor.Tensor, error) {
		return g.Forward(inner)
	}, Registration{Target: inner, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		return grad
	}})
}
