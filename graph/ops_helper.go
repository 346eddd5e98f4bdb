package graph

import "github.com/muchq/tensorgraph/tensor"

// newOp allocates an operator node computed lazily by compute and wires its
// pullback registrations. Every New<Op> factory in this package is a thin
// wrapper around newOp: the shared machinery (epoch caching, shape
// stability, naming) lives once in Graph.Forward and here, not duplicated
// per operator, matching the "trait/interface with a small contract, not an
// inheritance hierarchy" design note in spec.md §9.
func (g *Graph) newOp(name string, compute func(g *Graph) (*tensor.Tensor, error), regs ...Registration) (NodeID, error) {
	// name here is the op's kind label (e.g. "add", "softmax"), not a
	// user-facing identifier, so it is stored directly on the node rather
	// than routed through SetName's unique-name map: two "add" nodes in the
	// same graph are expected and must not collide.
	id := g.alloc(&node{
		kind:          kindOp,
		name:          name,
		backprop:      true,
		compute:       compute,
		registrations: regs,
	})
	return id, nil
}

// reduceGradTo sums grad down to the given shape along whichever axes were
// broadcast during the forward pass, the inverse of tensor.Tensor.Broadcast.
func reduceGradTo(grad *tensor.Tensor, rows, cols int) *tensor.Tensor {
	if grad.Rows == rows && grad.Cols == cols {
		return grad
	}
	switch {
	case rows == 1 && cols == grad.Cols:
		return grad.SumRows()
	case cols == 1 && rows == grad.Rows:
		return grad.SumCols()
	case rows == 1 && cols == 1:
		return grad.Sum()
	default:
		panic("graph: cannot reduce gradient to an incompatible shape")
	}
}

// broadcastOutputShape determines the output shape of a binary elementwise
// op given two broadcastable input shapes, mirroring tensor.binary's rules.
func broadcastOutputShape(aRows, aCols, bRows, bCols int) (int, int, bool) {
	if aRows == bRows && aCols == bCols {
		return aRows, aCols, true
	}
	if bRows == 1 && bCols == 1 {
		return aRows, aCols, true
	}
	if aRows == 1 && aCols == 1 {
		return bRows, bCols, true
	}
	if bRows == 1 && bCols == aCols {
		return aRows, aCols, true
	}
	if aRows == 1 && aCols == bCols {
		return bRows, bCols, true
	}
	if bCols == 1 && bRows == aRows {
		return aRows, aCols, true
	}
	if aCols == 1 && aRows == bRows {
		return bRows, bCols, true
	}
	return 0, 0, false
}
