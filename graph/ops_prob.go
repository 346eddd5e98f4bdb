package graph

import (
	"math"

	"github.com/muchq/tensorgraph/tensor"
)

const logTwoPi = 1.8378770664093453 // ln(2*pi)

// NewSoftmax applies the row-wise softmax, numerically stabilized by
// subtracting each row's max before exponentiating. Backward:
// dL/dz = (g - (g.y) * 1) * y, computed per row.
func (g *Graph) NewSoftmax(x NodeID) (NodeID, error) {
	var out NodeID
	var err error
	out, err = g.newOp("softmax", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		return xv.RowApply(softmaxRow), nil
	}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		y := g.Value(out)
		result := tensor.New(y.Rows, y.Cols)
		for r := 0; r < y.Rows; r++ {
			var dot float64
			for c := 0; c < y.Cols; c++ {
				dot += grad.Get(r, c) * y.Get(r, c)
			}
			for c := 0; c < y.Cols; c++ {
				result.Set(r, c, (grad.Get(r, c)-dot)*y.Get(r, c))
			}
		}
		return result
	}})
	return out, err
}

func softmaxRow(row *tensor.Tensor) *tensor.Tensor {
	max := math.Inf(-1)
	for c := 0; c < row.Cols; c++ {
		if v := row.Get(0, c); v > max {
			max = v
		}
	}
	shifted := row.Apply(func(v float64) float64 { return math.Exp(v - max) })
	sum := shifted.Sum().Get(0, 0)
	return shifted.Scale(1 / sum)
}

// NewLogSoftmax applies the row-wise log-softmax, z - logsumexp(z), which is
// more numerically stable than Log(Softmax(x)) for extreme inputs. Backward
// routes through the underlying softmax: dL/dz = g - softmax(z)*sum(g).
func (g *Graph) NewLogSoftmax(x NodeID) (NodeID, error) {
	var out NodeID
	var softmaxCache *tensor.Tensor
	var err error
	out, err = g.newOp("log_softmax", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		softmaxCache = xv.RowApply(softmaxRow)
		return xv.RowApply(logSoftmaxRow), nil
	}, Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
		y := softmaxCache
		result := tensor.New(y.Rows, y.Cols)
		for r := 0; r < y.Rows; r++ {
			var sum float64
			for c := 0; c < y.Cols; c++ {
				sum += grad.Get(r, c)
			}
			for c := 0; c < y.Cols; c++ {
				result.Set(r, c, grad.Get(r, c)-y.Get(r, c)*sum)
			}
		}
		return result
	}})
	return out, err
}

func logSoftmaxRow(row *tensor.Tensor) *tensor.Tensor {
	max := math.Inf(-1)
	for c := 0; c < row.Cols; c++ {
		if v := row.Get(0, c); v > max {
			max = v
		}
	}
	var sumExp float64
	for c := 0; c < row.Cols; c++ {
		sumExp += math.Exp(row.Get(0, c) - max)
	}
	logSumExp := max + math.Log(sumExp)
	return row.Apply(func(v float64) float64 { return v - logSumExp })
}

// NewGaussianPDF computes the elementwise Gaussian probability density of x
// under (mean, std), both broadcastable against x.
func (g *Graph) NewGaussianPDF(x, mean, std NodeID) (NodeID, error) {
	lg, err := g.NewLogGaussian(x, mean, std)
	if err != nil {
		return 0, err
	}
	return g.NewExp(lg)
}

// NewLogGaussian computes the elementwise Gaussian log-density of x under
// (mean, std): -0.5*((x-mean)/std)^2 - log(std) - 0.5*log(2*pi).
func (g *Graph) NewLogGaussian(x, mean, std NodeID) (NodeID, error) {
	diff, err := g.NewSub(x, mean)
	if err != nil {
		return 0, err
	}
	z, err := g.NewDiv(diff, std)
	if err != nil {
		return 0, err
	}
	zSq, err := g.NewMul(z, z)
	if err != nil {
		return 0, err
	}
	half, err := g.NewConstant(1, 1, "")
	if err != nil {
		return 0, err
	}
	g.SetConstant(half, tensor.FromData([]float64{0.5}, 1, 1))
	halfZSq, err := g.NewMul(zSq, half)
	if err != nil {
		return 0, err
	}
	logStd, err := g.NewLog(std)
	if err != nil {
		return 0, err
	}
	sum1, err := g.NewAdd(halfZSq, logStd)
	if err != nil {
		return 0, err
	}
	constTerm, err := g.NewConstant(1, 1, "")
	if err != nil {
		return 0, err
	}
	g.SetConstant(constTerm, tensor.FromData([]float64{0.5 * logTwoPi}, 1, 1))
	sum2, err := g.NewAdd(sum1, constTerm)
	if err != nil {
		return 0, err
	}
	return g.NewNeg(sum2)
}

// NewNormalSample draws a reparameterized Normal(mean, std) sample node:
// eps is drawn from the graph's RNG on the first Forward of each epoch
// (and held fixed for the rest of that epoch, like every other op node's
// cache), and the result is mean + std*eps, giving a gradient path to mean
// and std via the pathwise derivative estimator.
func (g *Graph) NewNormalSample(mean, std NodeID) (NodeID, error) {
	var out NodeID
	var eps *tensor.Tensor
	var err error
	out, err = g.newOp("normal_sample", func(g *Graph) (*tensor.Tensor, error) {
		mv, err := g.Forward(mean)
		if err != nil {
			return nil, err
		}
		sv, err := g.Forward(std)
		if err != nil {
			return nil, err
		}
		eps = tensor.New(mv.Rows, mv.Cols)
		for r := 0; r < mv.Rows; r++ {
			for c := 0; c < mv.Cols; c++ {
				eps.Set(r, c, g.rng.NormFloat64())
			}
		}
		return mv.Add(sv.Mul(eps)), nil
	},
		Registration{Target: mean, Pullback: func(grad *tensor.Tensor) *tensor.Tensor { return grad }},
		Registration{Target: std, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			return grad.Mul(eps)
		}},
	)
	return out, err
}
