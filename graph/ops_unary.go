package graph

import (
	"math"

	"github.com/muchq/tensorgraph/tensor"
)

// unary builds an elementwise unary op node: forward applies fwd to x's
// value, backward applies bwd(upstreamGrad, x's forward value) to produce
// the contribution routed into x. bwd receives the *input* value (not the
// output) so ops like ReLU can branch on the pre-activation sign, matching
// go/neuro/activations/activations.go's Backward(grad, cache) contract
// where cache is the value the activation was computed from.
func (g *Graph) unary(name string, x NodeID, fwd func(v float64) float64, bwd func(grad, xVal *tensor.Tensor) *tensor.Tensor) (NodeID, error) {
	return g.newOp(name, func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		return xv.Apply(fwd), nil
	}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		xv := g.Value(x)
		return bwd(grad, xv)
	}})
}

// NewNeg negates every element.
func (g *Graph) NewNeg(x NodeID) (NodeID, error) {
	return g.unary("neg", x, func(v float64) float64 { return -v },
		func(grad, _ *tensor.Tensor) *tensor.Tensor { return grad.Neg() })
}

// NewAbs applies the absolute value elementwise.
func (g *Graph) NewAbs(x NodeID) (NodeID, error) {
	return g.unary("abs", x, math.Abs,
		func(grad, xVal *tensor.Tensor) *tensor.Tensor {
			sign := xVal.Apply(func(v float64) float64 {
				if v < 0 {
					return -1
				}
				return 1
			})
			return grad.Mul(sign)
		})
}

// NewLog applies the natural logarithm elementwise.
func (g *Graph) NewLog(x NodeID) (NodeID, error) {
	return g.unary("log", x, math.Log,
		func(grad, xVal *tensor.Tensor) *tensor.Tensor {
			return grad.Div(xVal)
		})
}

// NewExp applies exp elementwise.
func (g *Graph) NewExp(x NodeID) (NodeID, error) {
	return g.newOp("exp", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		return xv.Exp(), nil
	}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		return grad.Mul(g.Value(x).Exp())
	}})
}

// NewSqrt applies the square root elementwise.
func (g *Graph) NewSqrt(x NodeID) (NodeID, error) {
	var out NodeID
	var err error
	out, err = g.newOp("sqrt", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		return xv.Sqrt(), nil
	}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		sq := g.Value(out).Scale(2)
		return grad.Div(sq)
	}})
	return out, err
}

// NewTanh applies the hyperbolic tangent elementwise.
func (g *Graph) NewTanh(x NodeID) (NodeID, error) {
	var out NodeID
	var err error
	out, err = g.newOp("tanh", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		return xv.Tanh(), nil
	}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		th := g.Value(out)
		one := tensor.Ones(th.Rows, th.Cols)
		return grad.Mul(one.Sub(th.Mul(th)))
	}})
	return out, err
}

// NewSigmoid applies the logistic sigmoid elementwise.
func (g *Graph) NewSigmoid(x NodeID) (NodeID, error) {
	sigmoid := func(v float64) float64 { return 1.0 / (1.0 + math.Exp(-v)) }
	var out NodeID
	var err error
	out, err = g.newOp("sigmoid", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		return xv.Apply(sigmoid), nil
	}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		s := g.Value(out)
		one := tensor.Ones(s.Rows, s.Cols)
		return grad.Mul(s.Mul(one.Sub(s)))
	}})
	return out, err
}

// NewRelu applies the rectified linear unit elementwise.
func (g *Graph) NewRelu(x NodeID) (NodeID, error) {
	return g.unary("relu", x,
		func(v float64) float64 {
			if v > 0 {
				return v
			}
			return 0
		},
		func(grad, xVal *tensor.Tensor) *tensor.Tensor {
			mask := xVal.Apply(func(v float64) float64 {
				if v > 0 {
					return 1
				}
				return 0
			})
			return grad.Mul(mask)
		})
}

// NewErf applies the Gauss error function elementwise.
func (g *Graph) NewErf(x NodeID) (NodeID, error) {
	const twoOverSqrtPi = 1.1283791670955126 // 2/sqrt(pi)
	return g.unary("erf", x, math.Erf,
		func(grad, xVal *tensor.Tensor) *tensor.Tensor {
			deriv := xVal.Apply(func(v float64) float64 {
				return twoOverSqrtPi * math.Exp(-v*v)
			})
			return grad.Mul(deriv)
		})
}

// NewGelu applies the Gaussian Error Linear Unit, gelu(x) = x * Phi(x),
// using the exact erf-based form (not the tanh approximation).
func (g *Graph) NewGelu(x NodeID) (NodeID, error) {
	const invSqrt2 = 0.7071067811865476
	const invSqrt2Pi = 0.3989422804014327
	phi := func(v float64) float64 { return 0.5 * (1 + math.Erf(v*invSqrt2)) }
	return g.unary("gelu", x,
		func(v float64) float64 { return v * phi(v) },
		func(grad, xVal *tensor.Tensor) *tensor.Tensor {
			deriv := xVal.Apply(func(v float64) float64 {
				pdf := invSqrt2Pi * math.Exp(-0.5*v*v)
				return phi(v) + v*pdf
			})
			return grad.Mul(deriv)
		})
}

// NewSoftplus applies softplus(x) = log(1 + exp(x)) elementwise, computed
// in a numerically stable form.
func (g *Graph) NewSoftplus(x NodeID) (NodeID, error) {
	softplus := func(v float64) float64 {
		if v > 20 {
			return v
		}
		return math.Log1p(math.Exp(v))
	}
	return g.unary("softplus", x, softplus,
		func(grad, xVal *tensor.Tensor) *tensor.Tensor {
			sig := xVal.Apply(func(v float64) float64 { return 1.0 / (1.0 + math.Exp(-v)) })
			return grad.Mul(sig)
		})
}
