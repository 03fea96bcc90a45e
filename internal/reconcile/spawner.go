package reconcile

import (
	"context"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
)

// SpawnRequest carries everything a Spawner needs to start one service
// instance: the resolved descriptor, the materialized artifact, and the
// per-child environment the reconciler assembles (operator account,
// endpoint assignments, keystore handle path).
type SpawnRequest struct {
	BlueprintID  blueprint.ID
	ServiceID    blueprint.ServiceID
	Descriptor   blueprint.Descriptor
	ArtifactPath string
	ImageRef     string // set instead of ArtifactPath for Container sources
	Env          map[string]string
}

// SpawnResult is what a Spawner hands back on success. Watch and TearDown
// let the generic Supervisor (C6) monitor and cooperatively stop a child
// without knowing which substrate produced it.
type SpawnResult struct {
	Endpoint string

	// Watch blocks until the child substrate itself reports death (process
	// exit, VM crash, remote instance becoming unreachable), then returns.
	// The Supervisor calls it in its own goroutine per child.
	Watch func(ctx context.Context) error

	// TearDown performs substrate-specific cooperative shutdown: SIGTERM
	// then SIGKILL for Native, graceful hypervisor shutdown for MicroVM,
	// provider deprovisioning for Remote. Called once, when the child's
	// abort channel fires.
	TearDown func(ctx context.Context) error
}

// Spawner is the uniform capability set every executor substrate
// implements. The Reconciler dispatches to the right Spawner by a tagged
// switch over blueprint.Substrate, never through a polymorphic Active Set.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (*SpawnResult, error)
	Substrate() blueprint.Substrate
}

// Registry maps a Substrate tag to its Spawner implementation.
type Registry struct {
	spawners map[blueprint.Substrate]Spawner
	Default  blueprint.Substrate
}

// NewRegistry builds a Registry from the given Spawners, keyed by their
// own Substrate() tag.
func NewRegistry(defaultSubstrate blueprint.Substrate, spawners ...Spawner) *Registry {
	r := &Registry{spawners: make(map[blueprint.Substrate]Spawner), Default: defaultSubstrate}
	for _, s := range spawners {
		r.spawners[s.Substrate()] = s
	}
	return r
}

// Resolve picks the Spawner for substrate, or the default if substrate is
// empty. An unregistered substrate does not fall back to the default; it
// reports false.
func (r *Registry) Resolve(substrate blueprint.Substrate) (Spawner, bool) {
	if substrate == "" {
		substrate = r.Default
	}
	s, ok := r.spawners[substrate]
	return s, ok
}
