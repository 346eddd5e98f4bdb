package graph

import (
	"fmt"

	"github.com/muchq/tensorgraph/tensor"
)

// NewConv2D performs a 2-D convolution over a channel-major, row-major
// input: a logical (inCh, inR, inC) volume is laid out as a (inCh*inR, inC)
// matrix, channel blocks stacked along rows. A flat (1, inCh*inR*inC) row
// vector is not accepted and returns ErrShapeMismatch (unless inCh*inR is 1).
// The output uses the same layout, (outCh*outR, outC). The
// kernel is laid out the same way: (outCh*kR, inCh*kC), one (kR, kC) block
// per (output channel, input channel) pair. There is no bias term.
//
// outR = floor((inR + 2*pad - dilation*(kR-1) - 1)/stride) + 1, and
// likewise for outC, matching the standard convolution output-size formula.
func (g *Graph) NewConv2D(x, k NodeID, inR, inC, inCh, outCh, kR, kC, stride, pad, dilation int) (NodeID, error) {
	xShape, kShape := g.Shape(x), g.Shape(k)
	if xShape[0] != inCh*inR || xShape[1] != inC {
		return 0, fmt.Errorf("%w: conv2d input expected (%d,%d), got (%d,%d)", ErrShapeMismatch, inCh*inR, inC, xShape[0], xShape[1])
	}
	if kShape[0] != outCh*kR || kShape[1] != inCh*kC {
		return 0, fmt.Errorf("%w: conv2d kernel expected (%d,%d), got (%d,%d)", ErrShapeMismatch, outCh*kR, inCh*kC, kShape[0], kShape[1])
	}
	outR := (inR+2*pad-dilation*(kR-1)-1)/stride + 1
	outC := (inC+2*pad-dilation*(kC-1)-1)/stride + 1

	return g.newOp("conv2d", func(g *Graph) (*tensor.Tensor, error) {
		xv, err := g.Forward(x)
		if err != nil {
			return nil, err
		}
		kv, err := g.Forward(k)
		if err != nil {
			return nil, err
		}
		out := tensor.New(outCh*outR, outC)
		for ocCh := 0; ocCh < outCh; ocCh++ {
			for icCh := 0; icCh < inCh; icCh++ {
				for oi := 0; oi < outR; oi++ {
					for oc := 0; oc < outC; oc++ {
						var acc float64
						for kr := 0; kr < kR; kr++ {
							ir := oi*stride - pad + kr*dilation
							if ir < 0 || ir >= inR {
								continue
							}
							for kc := 0; kc < kC; kc++ {
								ic := oc*stride - pad + kc*dilation
								if ic < 0 || ic >= inC {
									continue
								}
								acc += kv.Get(ocCh*kR+kr, icCh*kC+kc) * xv.Get(icCh*inR+ir, ic)
							}
						}
						out.Set(ocCh*outR+oi, oc, out.Get(ocCh*outR+oi, oc)+acc)
					}
				}
			}
		}
		return out, nil
	},
		Registration{Target: x, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			kv := g.Value(k)
			dx := tensor.New(inCh*inR, inC)
			for ocCh := 0; ocCh < outCh; ocCh++ {
				for icCh := 0; icCh < inCh; icCh++ {
					for oi := 0; oi < outR; oi++ {
						for oc := 0; oc < outC; oc++ {
							gv := grad.Get(ocCh*outR+oi, oc)
							for kr := 0; kr < kR; kr++ {
								ir := oi*stride - pad + kr*dilation
								if ir < 0 || ir >= inR {
									continue
								}
								for kc := 0; kc < kC; kc++ {
									ic := oc*stride - pad + kc*dilation
									if ic < 0 || ic >= inC {
										continue
									}
									dx.Set(icCh*inR+ir, ic, dx.Get(icCh*inR+ir, ic)+gv*kv.Get(ocCh*kR+kr, icCh*kC+kc))
								}
							}
						}
					}
				}
			}
			return dx
		}},
		Registration{Target: k, Pullback: func(grad *tensor.Tensor) *tensor.Tensor {
			xv := g.Value(x)
			dk := tensor.New(outCh*kR, inCh*kC)
			for ocCh := 0; ocCh < outCh; ocCh++ {
				for icCh := 0; icCh < inCh; icCh++ {
					for oi := 0; oi < outR; oi++ {
						for oc := 0; oc < outC; oc++ {
							gv := grad.Get(ocCh*outR+oi, oc)
							for kr := 0; kr < kR; kr++ {
								ir := oi*stride - pad + kr*dilation
								if ir < 0 || ir >= inR {
									continue
								}
								for kc := 0; kc < kC; kc++ {
									ic := oc*stride - pad + kc*dilation
									if ic < 0 || ic >= inC {
										continue
									}
									dk.Set(ocCh*kR+kr, icCh*kC+kc, dk.Get(ocCh*kR+kr, icCh*kC+kc)+gv*xv.Get(icCh*inR+ir, ic))
								}
							}
						}
					}
				}
			}
			return dk
		}},
	)
}
