package optim_test

import (
	"testing"

	"github.com/muchq/tensorgraph/graph"
	"github.com/muchq/tensorgraph/optim"
	"github.com/muchq/tensorgraph/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trainToConvergence runs up to maxSteps of forward/backward/update on a
// fresh loss built by buildLoss (which must read the current value of w)
// and returns as soon as the loss drops below target, failing the test if
// it never does within maxSteps.
func trainToConvergence(t *testing.T, opt optim.Optimizer, g *graph.Graph, w graph.NodeID, buildLoss func() (graph.NodeID, error), target float64, maxSteps int) {
	t.Helper()
	var last float64
	for step := 0; step < maxSteps; step++ {
		g.Recache()
		loss, err := buildLoss()
		require.NoError(t, err)
		v, err := g.Forward(loss)
		require.NoError(t, err)
		last = v.Get(0, 0)
		if last < target {
			return
		}
		require.NoError(t, g.Backward(loss, tensor.FromData([]float64{1}, 1, 1)))
		opt.Update(g)
		g.ZeroGrad()
	}
	t.Fatalf("%s did not converge: loss=%v after %d steps", opt.Name(), last, maxSteps)
}

// buildQuadraticLoss returns (w - target)^2, the simplest convex problem an
// optimizer must solve: the minimum is exactly at w = target.
func buildQuadraticLoss(g *graph.Graph, w graph.NodeID, target float64) func() (graph.NodeID, error) {
	return func() (graph.NodeID, error) {
		tgt, err := g.NewConstant(1, 1, "")
		if err != nil {
			return 0, err
		}
		g.SetConstant(tgt, tensor.FromData([]float64{target}, 1, 1))
		diff, err := g.NewSub(w, tgt)
		if err != nil {
			return 0, err
		}
		sq, err := g.NewMul(diff, diff)
		if err != nil {
			return 0, err
		}
		return g.NewSum(sq)
	}
}

func TestQuadraticConvergence(t *testing.T) {
	for _, name := range []string{"sgd", "adam", "adam_nc", "yogi", "rmsprop"} {
		t.Run(name, func(t *testing.T) {
			g := graph.New(1)
			w, err := g.NewVariableZeros(1, 1, "w")
			require.NoError(t, err)
			g.SetValue(w, tensor.FromData([]float64{10}, 1, 1))

			var opt optim.Optimizer
			switch name {
			case "sgd":
				opt = optim.NewSGD(0.1, 0.9)
			case "adam":
				opt = optim.NewAdam(0.1)
			case "adam_nc":
				opt = optim.NewAdamNC(0.1)
			case "yogi":
				opt = optim.NewYogi(0.1)
			case "rmsprop":
				opt = optim.NewRMSProp(0.1, 0.9)
			}

			trainToConvergence(t, opt, g, w, buildQuadraticLoss(g, w, 2.0), 1e-3, 20000)
		})
	}
}

// buildLinearRegressionLoss fits y = w*x + b against a fixed 4-point
// dataset generated from the true line y = 3x + 1, the canonical
// linear-regression convergence check.
func buildLinearRegressionLoss(g *graph.Graph, w, b graph.NodeID) func() (graph.NodeID, error) {
	xs := []float64{0, 1, 2, 3}
	ys := []float64{1, 4, 7, 10}
	return func() (graph.NodeID, error) {
		x, err := g.NewConstant(4, 1, "")
		if err != nil {
			return 0, err
		}
		g.SetConstant(x, tensor.FromData(xs, 4, 1))
		y, err := g.NewConstant(4, 1, "")
		if err != nil {
			return 0, err
		}
		g.SetConstant(y, tensor.FromData(ys, 4, 1))

		wx, err := g.NewMul(x, w)
		if err != nil {
			return 0, err
		}
		pred, err := g.NewAdd(wx, b)
		if err != nil {
			return 0, err
		}
		diff, err := g.NewSub(pred, y)
		if err != nil {
			return 0, err
		}
		sq, err := g.NewMul(diff, diff)
		if err != nil {
			return 0, err
		}
		return g.NewMean(sq)
	}
}

func TestLinearRegressionConvergence(t *testing.T) {
	g := graph.New(1)
	w, err := g.NewVariableZeros(1, 1, "w")
	require.NoError(t, err)
	b, err := g.NewVariableZeros(1, 1, "b")
	require.NoError(t, err)

	opt := optim.NewAdam(0.1)
	var loss graph.NodeID
	buildLoss := buildLinearRegressionLoss(g, w, b)
	var lastLoss float64
	for step := 0; step < 20000; step++ {
		g.Recache()
		l, err := buildLoss()
		require.NoError(t, err)
		loss = l
		v, err := g.Forward(loss)
		require.NoError(t, err)
		lastLoss = v.Get(0, 0)
		if lastLoss < 1e-3 {
			break
		}
		require.NoError(t, g.Backward(loss, tensor.FromData([]float64{1}, 1, 1)))
		opt.Update(g)
		g.ZeroGrad()
	}
	require.Less(t, lastLoss, 1e-3)
	assert.InDelta(t, 3.0, g.Value(w).Get(0, 0), 0.05)
	assert.InDelta(t, 1.0, g.Value(b).Get(0, 0), 0.05)
}

// TestAccumulatorsAllocatedOnceThenReused exercises optim's documented
// allocate-once contract directly: an optimizer's m/v (or velocity)
// accumulator for a variable is the same *tensor.Tensor after three
// Update steps as it was after the first, not a fresh tensor swapped
// into the map on every call.
func TestAccumulatorsAllocatedOnceThenReused(t *testing.T) {
	g := graph.New(1)
	w, err := g.NewVariableZeros(2, 2, "w")
	require.NoError(t, err)
	g.SetValue(w, tensor.New(2, 2))

	opt := optim.NewAdam(0.01)
	var firstM *tensor.Tensor
	for step := 0; step < 3; step++ {
		g.Recache()
		loss, err := buildQuadraticLoss(g, w, 1.0)()
		require.NoError(t, err)
		_, err = g.Forward(loss)
		require.NoError(t, err)
		require.NoError(t, g.Backward(loss, tensor.FromData([]float64{1}, 1, 1)))
		opt.Update(g)
		g.ZeroGrad()

		m := opt.Accumulator(w)
		require.NotNil(t, m)
		if step == 0 {
			firstM = m
		} else {
			assert.Same(t, firstM, m, "accumulator tensor must be reused in place, not reallocated, on step %d", step)
		}
	}
	assert.Equal(t, "adam", opt.Name())
}
