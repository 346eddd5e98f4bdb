// Package graph implements the dynamically constructed computation graph
// and reverse-mode autodiff engine at the core of this module. A Graph owns
// every Node in an arena indexed by NodeID; nodes never outlive their
// Graph and are never referenced by any other handle. Each node caches its
// forward value until the Graph's epoch advances (Recache), and records a
// small dispatch table of (parent, pullback) Registrations it uses during
// Backward to accumulate gradients into the nodes it reads from — the
// "derivative registrations" design from spec.md §3/§9, adapted from the
// dependency-map + topological-sort pattern in zerfoo/zerfoo's graph
// package to a dynamic arena with per-node epoch stamps instead of a single
// upfront dependency map.
package graph

import (
	"fmt"
	"math/rand"

	"github.com/muchq/tensorgraph/tensor"
)

// NodeID is an arena handle: an index into Graph.nodes. It is only valid
// for the Graph that produced it.
type NodeID int

// Registration pairs a parent node with the pullback that routes this
// node's gradient into the parent's accumulator during Backward.
type Registration struct {
	Target   NodeID
	Pullback func(grad *tensor.Tensor) *tensor.Tensor
}

type kind int

const (
	kindConstant kind = iota
	kindVariable
	kindOp
)

type node struct {
	kind kind
	name string

	// rows/cols is the fixed shape for Constant and Variable nodes.
	rows, cols int

	value       *tensor.Tensor
	constantSet bool

	// shape is recorded after an op node's first computeForward and
	// checked against every subsequent recomputation (spec.md §9).
	shape []int
	epoch uint64

	gradient *tensor.Tensor
	backprop bool

	registrations []Registration
	compute       func(g *Graph) (*tensor.Tensor, error)
}

// Graph is the arena owning all nodes created through its New* factory
// methods.
type Graph struct {
	nodes     []*node
	names     map[string]NodeID
	nameOf    map[NodeID]string
	variables []NodeID
	epoch     uint64
	rng       *rand.Rand
}

// New constructs an empty Graph seeded for reproducible dropout/sampler/init
// draws.
func New(seed int64) *Graph {
	return &Graph{
		names:  make(map[string]NodeID),
		nameOf: make(map[NodeID]string),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// RNG returns the graph-owned random source used by dropout masks, the
// reparameterized-normal sampler node, and variable random initializers.
func (g *Graph) RNG() *rand.Rand { return g.rng }

func (g *Graph) alloc(n *node) NodeID {
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	return id
}

// SetName assigns a unique, human-readable name to id, used for model
// checkpointing and debugging. An empty name is a no-op.
func (g *Graph) SetName(id NodeID, name string) error {
	if name == "" {
		return nil
	}
	if existing, ok := g.names[name]; ok && existing != id {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	if old, ok := g.nameOf[id]; ok {
		delete(g.names, old)
	}
	g.names[name] = id
	g.nameOf[id] = name
	return nil
}

// Name returns id's name, or "" if unnamed.
func (g *Graph) Name(id NodeID) string { return g.nameOf[id] }

// NodeByName looks up a node previously named with SetName.
func (g *Graph) NodeByName(name string) (NodeID, bool) {
	id, ok := g.names[name]
	return id, ok
}

// Variables returns every trainable Variable node in insertion order. This
// order is part of the serialization contract (spec.md §3).
func (g *Graph) Variables() []NodeID {
	out := make([]NodeID, len(g.variables))
	copy(out, g.variables)
	return out
}

// Shape returns id's current output shape as [rows, cols].
func (g *Graph) Shape(id NodeID) []int {
	n := g.nodes[id]
	if n.shape != nil {
		return n.shape
	}
	return []int{n.rows, n.cols}
}

// SetBackprop pins gradient flow through id on or off without changing its
// type, per spec.md §3.
func (g *Graph) SetBackprop(id NodeID, enabled bool) { g.nodes[id].backprop = enabled }

// Backprop reports whether gradient flow through id is currently enabled.
func (g *Graph) Backprop(id NodeID) bool { return g.nodes[id].backprop }

// Recache advances the epoch in O(1); every op node's cached forward value
// is considered stale and will be recomputed on its next Forward call.
func (g *Graph) Recache() { g.epoch++ }

// Epoch returns the current epoch counter, exposed mainly for tests.
func (g *Graph) Epoch() uint64 { return g.epoch }

// Forward computes id's value if stale (or returns the epoch-cached value
// otherwise), recursively forcing its inputs first. Each node forwards at
// most once per epoch.
func (g *Graph) Forward(id NodeID) (*tensor.Tensor, error) {
	n := g.nodes[id]
	switch n.kind {
	case kindConstant:
		if !n.constantSet {
			name := n.name
			if name == "" {
				name = fmt.Sprintf("#%d", id)
			}
			return nil, fmt.Errorf("%w: %s", ErrUnsetConstant, name)
		}
		return n.value, nil
	case kindVariable:
		return n.value, nil
	default:
		if n.value != nil && n.epoch == g.epoch {
			return n.value, nil
		}
		v, err := n.compute(g)
		if err != nil {
			return nil, err
		}
		if n.shape != nil && (n.shape[0] != v.Rows || n.shape[1] != v.Cols) {
			return nil, fmt.Errorf("%w: node %q (%s) shape changed from %v to (%d,%d) across recache",
				ErrShapeMismatch, g.Name(id), n.name, n.shape, v.Rows, v.Cols)
		}
		n.value = v
		n.shape = []int{v.Rows, v.Cols}
		n.epoch = g.epoch
		return v, nil
	}
}

// Value returns id's last-computed value without forcing a forward pass.
// It panics if id has never been forwarded (or, for a Constant, never set)
// — callers that cannot guarantee this should use Forward instead.
func (g *Graph) Value(id NodeID) *tensor.Tensor {
	v := g.nodes[id].value
	if v == nil {
		panic(fmt.Sprintf("graph: node %q has no cached value; call Forward first", g.Name(id)))
	}
	return v
}

// setNodeValue is the shared implementation behind SetConstant and
// SetVariable: it assigns id's value directly (no compute closure involved)
// and, for a Constant, marks it as set.
func (g *Graph) setNodeValue(id NodeID, t *tensor.Tensor) {
	n := g.nodes[id]
	if t.Rows != n.rows || t.Cols != n.cols {
		panic(fmt.Sprintf("graph: node %q expects shape (%d,%d), got (%d,%d)", g.Name(id), n.rows, n.cols, t.Rows, t.Cols))
	}
	n.value = t
	if n.kind == kindConstant {
		n.constantSet = true
	}
}

// Gradient returns id's accumulated gradient, or a same-shaped zero tensor
// if nothing has accumulated into it yet this epoch.
func (g *Graph) Gradient(id NodeID) *tensor.Tensor {
	n := g.nodes[id]
	if n.gradient == nil {
		rows, cols := n.rows, n.cols
		if n.shape != nil {
			rows, cols = n.shape[0], n.shape[1]
		}
		return tensor.New(rows, cols)
	}
	return n.gradient
}

func (g *Graph) accumulate(id NodeID, contribution *tensor.Tensor) {
	n := g.nodes[id]
	if n.gradient == nil {
		n.gradient = contribution.Copy()
		return
	}
	n.gradient = n.gradient.Add(contribution)
}

// topoFrom returns the nodes reachable forward-wise from f, inputs before
// the nodes that consume them (a node's "inputs" are the unique targets of
// its own registrations). The arena's monotonically increasing NodeIDs
// guarantee this recursion terminates without a cycle check: a node can
// only register a pullback against a NodeID allocated before it.
func (g *Graph) topoFrom(f NodeID) []NodeID {
	visited := make(map[NodeID]bool)
	order := make([]NodeID, 0, len(g.nodes))
	var visit func(id NodeID)
	visit = func(id NodeID) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, reg := range g.nodes[id].registrations {
			visit(reg.Target)
		}
		order = append(order, id)
	}
	visit(f)
	return order
}

// Backward zeroes the gradient of every node reachable forward-wise from F,
// seeds F's gradient with seed, then walks that set in reverse topological
// order invoking each node's registered pullbacks, accumulating additively
// into the parents they target. A node with Backprop() == false is skipped
// entirely: neither its own gradient nor its pullbacks run, so gradient
// flow through it is pinned off without altering its type (spec.md §3/§4.1).
func (g *Graph) Backward(f NodeID, seed *tensor.Tensor) error {
	order := g.topoFrom(f)
	for _, id := range order {
		g.nodes[id].gradient = nil
	}
	g.nodes[f].gradient = seed.Copy()

	for i := len(order) - 1; i >= 0; i-- {
		n := g.nodes[order[i]]
		if !n.backprop {
			continue
		}
		grad := n.gradient
		if grad == nil {
			continue
		}
		for _, reg := range n.registrations {
			g.accumulate(reg.Target, reg.Pullback(grad))
		}
	}
	return nil
}

// ZeroGrad zeroes every variable's gradient accumulator. Call it after an
// optimizer step and before the next Backward of a fresh batch.
func (g *Graph) ZeroGrad() {
	for _, id := range g.variables {
		n := g.nodes[id]
		n.gradient = tensor.New(n.rows, n.cols)
	}
}

// DFDX is the central-difference numerical Jacobian used by gradient tests:
// it perturbs each element of x by ±eps, re-forwards f, sums f's output
// elements, and returns the resulting finite-difference gradient in x's
// shape. x must be a Constant or Variable node (the only node kinds whose
// value can be overwritten directly). eps defaults to 1e-3 via DFDXDefault.
func (g *Graph) DFDX(f, x NodeID, eps float64) (*tensor.Tensor, error) {
	xn := g.nodes[x]
	if xn.kind == kindOp {
		return nil, fmt.Errorf("graph: DFDX requires a Constant or Variable, got an op node")
	}
	original := xn.value.Copy()
	out := tensor.New(xn.rows, xn.cols)

	for r := 0; r < xn.rows; r++ {
		for c := 0; c < xn.cols; c++ {
			base := original.Get(r, c)

			plus := original.Copy()
			plus.Set(r, c, base+eps)
			g.setNodeValue(x, plus)
			g.Recache()
			fPlus, err := g.Forward(f)
			if err != nil {
				g.setNodeValue(x, original)
				return nil, err
			}

			minus := original.Copy()
			minus.Set(r, c, base-eps)
			g.setNodeValue(x, minus)
			g.Recache()
			fMinus, err := g.Forward(f)
			if err != nil {
				g.setNodeValue(x, original)
				return nil, err
			}

			out.Set(r, c, (fPlus.Sum().Get(0, 0)-fMinus.Sum().Get(0, 0))/(2*eps))
		}
	}

	g.setNodeValue(x, original)
	g.Recache()
	return out, nil
}

// DFDXDefault calls DFDX with spec.md's default epsilon of 1e-3.
func (g *Graph) DFDXDefault(f, x NodeID) (*tensor.Tensor, error) {
	return g.DFDX(f, x, 1e-3)
}
