package graph

import "github.com/muchq/tensorgraph/tensor"

// NewConstant allocates an unset Constant of the given shape. Its value
// must be assigned with SetConstant before the first Forward that reaches
// it; forwarding it unset fails with ErrUnsetConstant.
func (g *Graph) NewConstant(rows, cols int, name string) (NodeID, error) {
	id := g.alloc(&node{kind: kindConstant, rows: rows, cols: cols, backprop: true})
	if err := g.SetName(id, name); err != nil {
		return 0, err
	}
	return id, nil
}

// SetConstant assigns id's externally supplied value. Shape must match the
// shape NewConstant was created with.
func (g *Graph) SetConstant(id NodeID, t *tensor.Tensor) {
	g.setNodeValue(id, t)
}

// NewVariable allocates a trainable parameter initialized to init (copied),
// appends it to the Graph's insertion-ordered variable list, and gives it a
// zero gradient accumulator.
func (g *Graph) NewVariable(rows, cols int, name string, init *tensor.Tensor) (NodeID, error) {
	id := g.alloc(&node{
		kind:     kindVariable,
		rows:     rows,
		cols:     cols,
		backprop: true,
		gradient: tensor.New(rows, cols),
	})
	if err := g.SetName(id, name); err != nil {
		return 0, err
	}
	g.setNodeValue(id, init.Copy())
	g.variables = append(g.variables, id)
	return id, nil
}

// NewVariableZeros allocates a trainable parameter initialized to zero.
func (g *Graph) NewVariableZeros(rows, cols int, name string) (NodeID, error) {
	return g.NewVariable(rows, cols, name, tensor.New(rows, cols))
}

// NewVariableRandom allocates a trainable parameter initialized with iid
// N(0, std) draws from the Graph's RNG.
func (g *Graph) NewVariableRandom(rows, cols int, name string, std float64) (NodeID, error) {
	return g.NewVariable(rows, cols, name, tensor.Random(rows, cols, std, g.rng))
}

// SetValue overwrites a Variable's current value in place (used by
// optimizers and by weight-loading in the training package). It does not
// touch the Variable's gradient.
func (g *Graph) SetValue(id NodeID, t *tensor.Tensor) {
	g.setNodeValue(id, t)
}

// Keep adopts an externally allocated NodeID — typically the final output
// node of a composite subgraph built by a helper like NewMultiHeadAttention
// — tying nothing further since the node already lives in this arena; Keep
// exists so call sites can express "this is the node I care about" the way
// spec.md §4.1 describes, without a second allocation.
func (g *Graph) Keep(id NodeID) NodeID { return id }
