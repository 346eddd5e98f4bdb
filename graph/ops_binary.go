package graph

import (
	"fmt"
	"math"

	"github.com/muchq/tensorgraph/tensor"
)

func (g *Graph) binaryShape(name string, a, b NodeID) (int, int, error) {
	aShape, bShape := g.Shape(a), g.Shape(b)
	rows, cols, ok := broadcastOutputShape(aShape[0], aShape[1], bShape[0], bShape[1])
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s of shapes (%d,%d) and (%d,%d)", ErrShapeMismatch, name, aShape[0], aShape[1], bShape[0], bShape[1])
	}
	return rows, cols, nil
}

// NewAdd returns a + b (elementwise, broadcastable).
func (g *Graph) NewAdd(a, b NodeID) (NodeID, error) {
	if _, _, err := g.binaryShape("add", a, b); err != nil {
		return 0, err
	}
	aShape, bShape := g.Shape(a), g.Shape(b)
	return g.newOp("add", func(g *Graph) (*tensor.Tensor, error) {
		av, err := g.Forward(a)
		if err != nil {
			return nil, err
		}
		bv, err := g.Forward(b)
		if err != nil {
			return nil, err
		}
		return av.Add(bv), nil
	},
		Registration{Target: a, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return reduceGradTo(grad, aShape[0], aShape[1])
		}},
		Registration{Target: b, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return reduceGradTo(grad, bShape[0], bShape[1])
		}},
	)
}

// NewSub returns a - b (elementwise, broadcastable).
func (g *Graph) NewSub(a, b NodeID) (NodeID, error) {
	if _, _, err := g.binaryShape("sub", a, b); err != nil {
		return 0, err
	}
	aShape, bShape := g.Shape(a), g.Shape(b)
	return g.newOp("sub", func(g *Graph) (*tensor.Tensor, error) {
		av, err := g.Forward(a)
		if err != nil {
			return nil, err
		}
		bv, err := g.Forward(b)
		if err != nil {
			return nil, err
		}
		return av.Sub(bv), nil
	},
		Registration{Target: a, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return reduceGradTo(grad, aShape[0], aShape[1])
		}},
		Registration{Target: b, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return reduceGradTo(grad.Neg(), bShape[0], bShape[1])
		}},
	)
}

// NewMul returns the Hadamard product a * b (elementwise, broadcastable).
func (g *Graph) NewMul(a, b NodeID) (NodeID, error) {
	rows, cols, err := g.binaryShape("mul", a, b)
	if err != nil {
		return 0, err
	}
	aShape, bShape := g.Shape(a), g.Shape(b)
	return g.newOp("mul", func(g *Graph) (*tensor.Tensor, error) {
		av, err := g.Forward(a)
		if err != nil {
			return nil, err
		}
		bv, err := g.Forward(b)
		if err != nil {
			return nil, err
		}
		return av.Mul(bv), nil
	},
		Registration{Target: a, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return reduceGradTo(grad.Mul(g.Value(b).Broadcast(rows, cols)), aShape[0], aShape[1])
		}},
		Registration{Target: b, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return reduceGradTo(grad.Mul(g.Value(a).Broadcast(rows, cols)), bShape[0], bShape[1])
		}},
	)
}

// NewDiv returns the elementwise quotient a / b (broadcastable).
func (g *Graph) NewDiv(a, b NodeID) (NodeID, error) {
	rows, cols, err := g.binaryShape("div", a, b)
	if err != nil {
		return 0, err
	}
	aShape, bShape := g.Shape(a), g.Shape(b)
	return g.newOp("div", func(g *Graph) (*tensor.Tensor, error) {
		av, err := g.Forward(a)
		if err != nil {
			return nil, err
		}
		bv, err := g.Forward(b)
		if err != nil {
			return nil, err
		}
		return av.Div(bv), nil
	},
		Registration{Target: a, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			bv := g.Value(b).Broadcast(rows, cols)
			return reduceGradTo(grad.Div(bv), aShape[0], aShape[1])
		}},
		Registration{Target: b, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			av := g.Value(a).Broadcast(rows, cols)
			bv := g.Value(b).Broadcast(rows, cols)
			// d/db (a/b) = -a/b^2
			contrib := grad.Mul(av).Neg().Div(bv.Mul(bv))
			return reduceGradTo(contrib, bShape[0], bShape[1])
		}},
	)
}

// NewPow returns the elementwise power a^b (broadcastable).
func (g *Graph) NewPow(a, b NodeID) (NodeID, error) {
	rows, cols, err := g.binaryShape("pow", a, b)
	if err != nil {
		return 0, err
	}
	aShape, bShape := g.Shape(a), g.Shape(b)
	return g.newOp("pow", func(g *Graph) (*tensor.Tensor, error) {
		av, err := g.Forward(a)
		if err != nil {
			return nil, err
		}
		bv, err := g.Forward(b)
		if err != nil {
			return nil, err
		}
		return av.Pow(bv), nil
	},
		Registration{Target: a, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			av := g.Value(a).Broadcast(rows, cols)
			bv := g.Value(b).Broadcast(rows, cols)
			// d/da (a^b) = b * a^(b-1)
			deriv := tensor.New(rows, cols)
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					deriv.Set(r, c, bv.Get(r, c)*math.Pow(av.Get(r, c), bv.Get(r, c)-1))
				}
			}
			return reduceGradTo(grad.Mul(deriv), aShape[0], aShape[1])
		}},
		Registration{Target: b, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			av := g.Value(a).Broadcast(rows, cols)
			bv := g.Value(b).Broadcast(rows, cols)
			// d/db (a^b) = a^b * ln(a)
			deriv := tensor.New(rows, cols)
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					deriv.Set(r, c, math.Pow(av.Get(r, c), bv.Get(r, c))*math.Log(av.Get(r, c)))
				}
			}
			return reduceGradTo(grad.Mul(deriv), bShape[0], bShape[1])
		}},
	)
}

// NewMin returns the elementwise minimum of a and b (broadcastable). The
// gradient routes entirely to whichever side was selected; ties split the
// gradient evenly between both sides.
func (g *Graph) NewMin(a, b NodeID) (NodeID, error) {
	return g.minMax("min", a, b, func(x, y float64) float64 { return math.Min(x, y) })
}

// NewMax returns the elementwise maximum of a and b (broadcastable).
func (g *Graph) NewMax(a, b NodeID) (NodeID, error) {
	return g.minMax("max", a, b, func(x, y float64) float64 { return math.Max(x, y) })
}

func (g *Graph) minMax(name string, a, b NodeID, sel func(x, y float64) float64) (NodeID, error) {
	if _, _, err := g.binaryShape(name, a, b); err != nil {
		return 0, err
	}
	aShape, bShape := g.Shape(a), g.Shape(b)
	rows, cols, _ := broadcastOutputShape(aShape[0], aShape[1], bShape[0], bShape[1])
	return g.newOp(name, func(g *Graph) (*tensor.Tensor, error) {
		av, err := g.Forward(a)
		if err != nil {
			return nil, err
		}
		bv, err := g.Forward(b)
		if err != nil {
			return nil, err
		}
		if name == "min" {
			return av.ElemMin(bv), nil
		}
		return av.ElemMax(bv), nil
	},
		Registration{Target: a, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			av := g.Value(a).Broadcast(rows, cols)
			bv := g.Value(b).Broadcast(rows, cols)
			mask := tensor.New(rows, cols)
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					switch {
					case av.Get(r, c) == bv.Get(r, c):
						mask.Set(r, c, 0.5)
					case sel(av.Get(r, c), bv.Get(r, c)) == av.Get(r, c):
						mask.Set(r, c, 1)
					}
				}
			}
			return reduceGradTo(grad.Mul(mask), aShape[0], aShape[1])
		}},
		Registration{Target: b, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			av := g.Value(a).Broadcast(rows, cols)
			bv := g.Value(b).Broadcast(rows, cols)
			mask := tensor.New(rows, cols)
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					switch {
					case av.Get(r, c) == bv.Get(r, c):
						mask.Set(r, c, 0.5)
					case sel(av.Get(r, c), bv.Get(r, c)) == bv.Get(r, c):
						mask.Set(r, c, 1)
					}
				}
			}
			return reduceGradTo(grad.Mul(mask), bShape[0], bShape[1])
		}},
	)
}
