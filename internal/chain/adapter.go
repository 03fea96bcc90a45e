package chain

import "github.com/tangle-network/blueprint-manager/internal/reconcile"

// ChainBlueprints converts a TangleEvent's full-snapshot view into the
// reconcile package's input shape, keeping the reconcile package free of
// any dependency on the chain client.
func (e TangleEvent) ChainBlueprints() []reconcile.ChainBlueprint {
	out := make([]reconcile.ChainBlueprint, len(e.CurrentBlueprints))
	for i, snap := range e.CurrentBlueprints {
		out[i] = reconcile.ChainBlueprint{Descriptor: snap.Descriptor, Services: snap.Services}
	}
	return out
}
