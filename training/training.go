// Package training implements the trait every distributed model
// implementation satisfies: a pair of owned Graphs (curr, the live
// training state, and prev, the last snapshot pulled from the master)
// plus the four weight-exchange operations the master/worker
// RPCs drive. Grounded on the teacher's network.Model GetParams/SetParams
// (an ordered-list round trip over a model's layers), generalized from a
// single []float64 list to the codec's binary wire format and from one
// Model to the curr/prev pair the delta protocol requires.
package training

import (
	"errors"
	"fmt"

	"github.com/muchq/tensorgraph/codec"
	"github.com/muchq/tensorgraph/graph"
	"github.com/muchq/tensorgraph/tensor"
)

// ErrVariableCountMismatch is returned by GetUpdate when curr and prev
// disagree on their variable count, and by UpdWeights when an incoming
// delta declares a different variable count than the graph expects.
var ErrVariableCountMismatch = errors.New("training: variable count mismatch")

// Trainable is the interface a model implementation exposes to the
// worker loop. GetWeights/SetWeights/GetUpdate/UpdWeights are the
// weight-exchange half, implemented generically by TwoGraph; BatchTrain
// is the model-specific half — one optimizer step over a batch the
// implementation reads on its own (a file, a generator, an in-memory
// dataset) — supplied by whatever embeds TwoGraph.
type Trainable interface {
	GetWeights() ([]byte, error)
	SetWeights(data []byte) error
	GetUpdate() ([]byte, error)
	UpdWeights(data []byte) error
	BatchTrain() (loss float64, err error)
}

// TwoGraph is the concrete base every model implementation embeds. curr
// is the live graph a worker trains against; prev is a snapshot of the
// variable values last loaded by SetWeights (UpdWeights does not touch it).
// GetUpdate reports curr's drift from that snapshot — the accumulated
// effect of every BatchTrain step (or applied delta) since.
type TwoGraph struct {
	Curr, Prev *graph.Graph
}

// NewTwoGraph wraps an already-constructed pair of graphs. The two must
// declare the same variables, in the same order, with the same shapes —
// callers typically build prev as a second, independently-allocated
// instance of the same model-construction function used for curr.
func NewTwoGraph(curr, prev *graph.Graph) *TwoGraph {
	return &TwoGraph{Curr: curr, Prev: prev}
}

// GetWeights serializes curr's variables, in insertion order, as an
// int32 count followed by each variable's tensor.
func (tg *TwoGraph) GetWeights() ([]byte, error) {
	vars := tg.Curr.Variables()
	w := codec.NewWriter()
	w.WriteInt(len(vars))
	for _, id := range vars {
		w.WriteTensor(tg.Curr.Value(id))
	}
	return w.Bytes(), nil
}

// SetWeights parses a GetWeights-formatted buffer and loads each tensor
// into the corresponding variable of both curr and prev, resetting
// GetUpdate to zero. A short buffer (fewer variables than the graphs
// hold) is not an error: the variables past n are reset to empty
// (zero) tensors of their existing shape rather than left untouched.
func (tg *TwoGraph) SetWeights(data []byte) error {
	r := codec.NewReader(data)
	n, err := r.ReadInt()
	if err != nil {
		return fmt.Errorf("training: reading variable count: %w", err)
	}
	currVars := tg.Curr.Variables()
	prevVars := tg.Prev.Variables()
	for i := 0; i < n; i++ {
		t, err := r.ReadTensor()
		if err != nil {
			return fmt.Errorf("training: reading variable %d: %w", i, err)
		}
		if i < len(currVars) {
			tg.Curr.SetValue(currVars[i], t.Copy())
		}
		if i < len(prevVars) {
			tg.Prev.SetValue(prevVars[i], t.Copy())
		}
	}
	for i := n; i < len(currVars); i++ {
		old := tg.Curr.Value(currVars[i])
		tg.Curr.SetValue(currVars[i], tensor.New(old.Rows, old.Cols))
	}
	for i := n; i < len(prevVars); i++ {
		old := tg.Prev.Value(prevVars[i])
		tg.Prev.SetValue(prevVars[i], tensor.New(old.Rows, old.Cols))
	}
	return nil
}

// GetUpdate serializes curr[i]-prev[i] for each variable, in insertion
// order. Right after SetWeights this is all zeros; BatchTrain steps (or
// a prior UpdWeights) move curr away from prev and widen the delta.
func (tg *TwoGraph) GetUpdate() ([]byte, error) {
	currVars := tg.Curr.Variables()
	prevVars := tg.Prev.Variables()
	if len(currVars) != len(prevVars) {
		return nil, fmt.Errorf("%w: curr has %d variables, prev has %d", ErrVariableCountMismatch, len(currVars), len(prevVars))
	}
	w := codec.NewWriter()
	w.WriteInt(len(currVars))
	for i, id := range currVars {
		delta := tg.Curr.Value(id).Sub(tg.Prev.Value(prevVars[i]))
		w.WriteTensor(delta)
	}
	return w.Bytes(), nil
}

// UpdWeights parses a GetUpdate-formatted buffer and adds each delta
// into the matching variable of curr, leaving prev untouched — so a
// subsequent GetUpdate reflects exactly the applied delta.
func (tg *TwoGraph) UpdWeights(data []byte) error {
	r := codec.NewReader(data)
	n, err := r.ReadInt()
	if err != nil {
		return fmt.Errorf("training: reading delta count: %w", err)
	}
	currVars := tg.Curr.Variables()
	if n != len(currVars) {
		return fmt.Errorf("%w: delta declares %d variables, graph has %d", ErrVariableCountMismatch, n, len(currVars))
	}
	for i := 0; i < n; i++ {
		delta, err := r.ReadTensor()
		if err != nil {
			return fmt.Errorf("training: reading delta %d: %w", i, err)
		}
		tg.Curr.SetValue(currVars[i], tg.Curr.Value(currVars[i]).Add(delta))
	}
	return nil
}
