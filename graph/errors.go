package graph

import "errors"

// Sentinel error kinds from spec.md §7. Call sites wrap these with
// fmt.Errorf("...: %w", ErrX) so callers can still errors.Is against the
// sentinel.
var (
	// ErrShapeMismatch is returned when a binary op's input shapes are
	// incompatible, or when a recached node's output shape changes from
	// its first computation (spec.md §9's shape-stability requirement).
	ErrShapeMismatch = errors.New("graph: shape mismatch")

	// ErrUnsetConstant is returned when forward reaches a Constant node
	// that has never been assigned a value.
	ErrUnsetConstant = errors.New("graph: constant has no value")

	// ErrDuplicateName is returned by SetName when the name is already
	// registered on another node in the same Graph.
	ErrDuplicateName = errors.New("graph: duplicate node name")
)
