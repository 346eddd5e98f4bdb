// Package optim implements the gradient-based weight update rules that
// drive training: each Optimizer owns one accumulator tensor (or pair of
// accumulators) per variable, allocated once on that variable's first
// Update and reused for the rest of training, never reallocated per step.
package optim

import (
	"math"

	"github.com/muchq/tensorgraph/graph"
	"github.com/muchq/tensorgraph/tensor"
)

// Optimizer applies one gradient-descent step to every Variable in g,
// reading each Variable's accumulated gradient and writing its updated
// value back through SetValue.
type Optimizer interface {
	Update(g *graph.Graph)
	Name() string
}

// SGD is plain (optionally momentum-accumulating) stochastic gradient
// descent: v <- momentum*v - lr*grad, w <- w + v.
type SGD struct {
	lr       float64
	momentum float64
	velocity map[graph.NodeID]*tensor.Tensor
}

// NewSGD returns an SGD optimizer with the given learning rate and
// momentum coefficient (0 disables momentum).
func NewSGD(lr, momentum float64) *SGD {
	return &SGD{lr: lr, momentum: momentum, velocity: make(map[graph.NodeID]*tensor.Tensor)}
}

func (s *SGD) Name() string { return "sgd" }

func (s *SGD) Update(g *graph.Graph) {
	for _, id := range g.Variables() {
		grad := g.Gradient(id)
		v, ok := s.velocity[id]
		if !ok {
			v = tensor.New(grad.Rows, grad.Cols)
			s.velocity[id] = v
		}
		v.ScaleInPlace(s.momentum)
		v.AddScaledInPlace(-s.lr, grad)
		g.SetValue(id, g.Value(id).Add(v))
	}
}

// Adam is bias-corrected adaptive moment estimation (Kingma & Ba), with
// the default beta1/beta2/epsilon the teacher's own Adam uses.
type Adam struct {
	lr           float64
	beta1, beta2 float64
	epsilon      float64
	biasCorrect  bool
	t            int
	m, v         map[graph.NodeID]*tensor.Tensor
}

// NewAdam returns a bias-corrected Adam optimizer.
func NewAdam(lr float64) *Adam {
	return newAdam(lr, true)
}

// NewAdamNC returns an Adam optimizer without bias correction — useful
// for long-running training where the correction term has decayed to
// negligible anyway and the extra pow() calls aren't worth paying.
func NewAdamNC(lr float64) *Adam {
	return newAdam(lr, false)
}

func newAdam(lr float64, biasCorrect bool) *Adam {
	return &Adam{
		lr:          lr,
		beta1:       0.9,
		beta2:       0.999,
		epsilon:     1e-8,
		biasCorrect: biasCorrect,
		m:           make(map[graph.NodeID]*tensor.Tensor),
		v:           make(map[graph.NodeID]*tensor.Tensor),
	}
}

func (a *Adam) Name() string {
	if a.biasCorrect {
		return "adam"
	}
	return "adam_nc"
}

// Accumulator returns the first-moment accumulator tensor currently
// held for id, or nil before its first Update. Exposed so callers (and
// tests) can confirm the accumulator's identity is stable across steps.
func (a *Adam) Accumulator(id graph.NodeID) *tensor.Tensor { return a.m[id] }

func (a *Adam) Update(g *graph.Graph) {
	a.t++
	for _, id := range g.Variables() {
		grad := g.Gradient(id)
		m, ok := a.m[id]
		if !ok {
			m = tensor.New(grad.Rows, grad.Cols)
			a.m[id] = m
		}
		v, ok := a.v[id]
		if !ok {
			v = tensor.New(grad.Rows, grad.Cols)
			a.v[id] = v
		}

		m.ScaleInPlace(a.beta1)
		m.AddScaledInPlace(1-a.beta1, grad)
		v.ScaleInPlace(a.beta2)
		v.AddScaledSquareInPlace(1-a.beta2, grad)

		mHat, vHat := m, v
		if a.biasCorrect {
			mHat = m.Scale(1 / (1 - math.Pow(a.beta1, float64(a.t))))
			vHat = v.Scale(1 / (1 - math.Pow(a.beta2, float64(a.t))))
		}

		denom := vHat.Apply(math.Sqrt).AddScalar(a.epsilon)
		g.SetValue(id, g.Value(id).Sub(mHat.Div(denom).Scale(a.lr)))
	}
}

// Yogi is the Zaheer et al. variant of Adam that replaces the second
// moment's multiplicative update with an additive, sign-controlled one,
// v <- v - (1-beta2)*sign(v-g^2)*g^2, which keeps the effective learning
// rate from collapsing as quickly on sparse gradients.
type Yogi struct {
	lr           float64
	beta1, beta2 float64
	epsilon      float64
	t            int
	m, v         map[graph.NodeID]*tensor.Tensor
}

// NewYogi returns a Yogi optimizer with Adam's default beta1/beta2 and an
// epsilon of 1e-3.
func NewYogi(lr float64) *Yogi {
	return &Yogi{
		lr:      lr,
		beta1:   0.9,
		beta2:   0.999,
		epsilon: 1e-3,
		m:       make(map[graph.NodeID]*tensor.Tensor),
		v:       make(map[graph.NodeID]*tensor.Tensor),
	}
}

func (y *Yogi) Name() string { return "yogi" }

func (y *Yogi) Update(g *graph.Graph) {
	y.t++
	for _, id := range g.Variables() {
		grad := g.Gradient(id)
		m, ok := y.m[id]
		if !ok {
			m = tensor.New(grad.Rows, grad.Cols)
			y.m[id] = m
		}
		v, ok := y.v[id]
		if !ok {
			v = tensor.New(grad.Rows, grad.Cols)
			y.v[id] = v
		}

		gSq := grad.Mul(grad)
		m.ScaleInPlace(y.beta1)
		m.AddScaledInPlace(1-y.beta1, grad)

		sign := v.Sub(gSq).Apply(func(d float64) float64 {
			if d < 0 {
				return -1
			}
			return 1
		})
		v.SubInPlace(sign.Mul(gSq).Scale(1 - y.beta2))

		denom := v.Apply(math.Sqrt).AddScalar(y.epsilon)
		g.SetValue(id, g.Value(id).Sub(m.Div(denom).Scale(y.lr)))
	}
}

// RMSProp divides the gradient by a decaying average of its recent
// magnitude: v <- alpha*v + (1-alpha)*g^2, w <- w - lr*g/sqrt(v+eps).
type RMSProp struct {
	lr      float64
	alpha   float64
	epsilon float64
	v       map[graph.NodeID]*tensor.Tensor
}

// NewRMSProp returns an RMSProp optimizer with decay rate alpha.
func NewRMSProp(lr, alpha float64) *RMSProp {
	return &RMSProp{lr: lr, alpha: alpha, epsilon: 1e-8, v: make(map[graph.NodeID]*tensor.Tensor)}
}

func (r *RMSProp) Name() string { return "rmsprop" }

func (r *RMSProp) Update(g *graph.Graph) {
	for _, id := range g.Variables() {
		grad := g.Gradient(id)
		v, ok := r.v[id]
		if !ok {
			v = tensor.New(grad.Rows, grad.Cols)
			r.v[id] = v
		}
		v.ScaleInPlace(r.alpha)
		v.AddScaledSquareInPlace(1-r.alpha, grad)

		denom := v.AddScalar(r.epsilon).Apply(math.Sqrt)
		g.SetValue(id, g.Value(id).Sub(grad.Div(denom).Scale(r.lr)))
	}
}
