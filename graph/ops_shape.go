package graph

import (
	"fmt"

	"github.com/muchq/tensorgraph/tensor"
)

// NewTranspose returns the matrix transpose of x.
func (g *Graph) NewTranspose(x NodeID) (NodeID, error) {
	return g.newOp("transpose", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		return xv.Transpose(), nil
	}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		return grad.Transpose()
	}})
}

// NewReshape reinterprets x's elements under a new (rows, cols) shape,
// preserving row-major order.
func (g *Graph) NewReshape(x NodeID, rows, cols int) (NodeID, error) {
	xShape := g.Shape(x)
	if xShape[0]*xShape[1] != rows*cols {
		return 0, fmt.Errorf("%w: reshape (%d,%d) -> (%d,%d)", ErrShapeMismatch, xShape[0], xShape[1], rows, cols)
	}
	return g.newOp("reshape", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		return xv.Reshape(rows, cols), nil
	}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		return grad.Reshape(xShape[0], xShape[1])
	}})
}

// NewSplit crops the rectangular sub-block [rowStart:rowEnd, colStart:colEnd)
// out of x, zero-padding the gradient of cells outside the crop on the way
// back.
func (g *Graph) NewSplit(x NodeID, rowStart, rowEnd, colStart, colEnd int) (NodeID, error) {
	xShape := g.Shape(x)
	return g.newOp("split", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		return xv.View(rowStart, rowEnd, colStart, colEnd), nil
	}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		full := tensor.New(xShape[0], xShape[1])
		full.SetView(rowStart, colStart, grad)
		return full
	}})
}

// NewJoin concatenates parts horizontally (equal row counts), the inverse
// of NewSplit along the column axis.
func (g *Graph) NewJoin(parts ...NodeID) (NodeID, error) {
	if len(parts) == 0 {
		return 0, fmt.Errorf("%w: join requires at least one input", ErrShapeMismatch)
	}
	shapes := make([][2]int, len(parts))
	for i, p := range parts {
		s := g.Shape(p)
		shapes[i] = [2]int{s[0], s[1]}
		if shapes[i][0] != shapes[0][0] {
			return 0, fmt.Errorf("%w: join requires equal row counts", ErrShapeMismatch)
		}
	}
	regs := make([]Registration, len(parts))
	colOffsets := make([]int, len(parts))
	offset := 0
	for i := range parts {
		colOffsets[i] = offset
		offset += shapes[i][1]
	}
	for i, p := range parts {
		i, p := i, p
		regs[i] = Registration{Target: p, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return grad.View(0, shapes[i][0], colOffsets[i], colOffsets[i]+shapes[i][1])
		}}
	}
	return g.newOp("join", func(g *Graph) (*tensor.Tensor, error) {
		vals := make([]*tensor.Tensor, len(parts))
		for i, p := range parts {
			v, err := g.Forward(p)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return tensor.JoinHorizontal(vals...), nil
	}, regs...)
}

// NewJoinVertical concatenates parts vertically (equal column counts), the
// row-axis counterpart of NewJoin.
func (g *Graph) NewJoinVertical(parts ...NodeID) (NodeID, error) {
	if len(parts) == 0 {
		return 0, fmt.Errorf("%w: join_vertical requires at least one input", ErrShapeMismatch)
	}
	shapes := make([][2]int, len(parts))
	for i, p := range parts {
		s := g.Shape(p)
		shapes[i] = [2]int{s[0], s[1]}
		if shapes[i][1] != shapes[0][1] {
			return 0, fmt.Errorf("%w: join_vertical requires equal column counts", ErrShapeMismatch)
		}
	}
	regs := make([]Registration, len(parts))
	rowOffsets := make([]int, len(parts))
	offset := 0
	for i := range parts {
		rowOffsets[i] = offset
		offset += shapes[i][0]
	}
	for i, p := range parts {
		i, p := i, p
		regs[i] = Registration{Target: p, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return grad.View(rowOffsets[i], rowOffsets[i]+shapes[i][0], 0, shapes[i][1])
		}}
	}
	return g.newOp("join_vertical", func(g *Graph) (*tensor.Tensor, error) {
		vals := make([]*tensor.Tensor, len(parts))
		for i, p := range parts {
			v, err := g.Forward(p)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return tensor.JoinVertical(vals...), nil
	}, regs...)
}

// NewBroadcast expands x (a 1xN or Nx1 tensor) to a (rows, cols) target
// shape.
func (g *Graph) NewBroadcast(x NodeID, rows, cols int) (NodeID, error) {
	xShape := g.Shape(x)
	return g.newOp("broadcast", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		return xv.Broadcast(rows, cols), nil
	}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		return reduceGradTo(grad, xShape[0], xShape[1])
	}})
}
