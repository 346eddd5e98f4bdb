// Package modelplugin loads a model implementation from a Go plugin
// (.so) at worker startup, resolving the Create/Destroy ABI spec.md §6
// names. No third-party library in the example pack wraps Go's stdlib
// plugin package, and none of the ecosystem libraries the pack surfaces
// (gonum, prometheus, grpc, websocket, uuid, lru, lib/pq, yaml) address
// dynamic code loading at all — plugin is the only mechanism Go offers
// for this, so it is used directly.
package modelplugin

import (
	"fmt"
	"plugin"

	"github.com/muchq/tensorgraph/training"
)

// ErrLoad wraps any failure opening the .so or resolving its symbols.
var ErrLoad = fmt.Errorf("modelplugin: failed to load model plugin")

// CreateFunc is the exported symbol a model plugin must name "Create":
// it builds one training.Trainable instance for the given worker index,
// used to vary per-thread random seeds/dataset shards.
type CreateFunc func(workerIdx int) training.Trainable

// DestroyFunc is the exported symbol a model plugin must name "Destroy":
// it releases any resources the instance holds (file handles, etc).
type DestroyFunc func(training.Trainable)

// Plugin is a successfully loaded model implementation.
type Plugin struct {
	Create  CreateFunc
	Destroy DestroyFunc
}

// Load opens the .so at path and resolves its Create/Destroy symbols.
func Load(path string) (*Plugin, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrLoad, path, err)
	}

	createSym, err := p.Lookup("Create")
	if err != nil {
		return nil, fmt.Errorf("%w: resolving Create in %s: %v", ErrLoad, path, err)
	}
	create, ok := createSym.(func(int) training.Trainable)
	if !ok {
		return nil, fmt.Errorf("%w: %s's Create has the wrong signature", ErrLoad, path)
	}

	destroySym, err := p.Lookup("Destroy")
	if err != nil {
		return nil, fmt.Errorf("%w: resolving Destroy in %s: %v", ErrLoad, path, err)
	}
	destroy, ok := destroySym.(func(training.Trainable))
	if !ok {
		return nil, fmt.Errorf("%w: %s's Destroy has the wrong signature", ErrLoad, path)
	}

	return &Plugin{Create: create, Destroy: destroy}, nil
}
