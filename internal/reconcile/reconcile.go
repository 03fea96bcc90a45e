// Package reconcile implements the manager's core decision function: given
// the chain's latest view of this operator's blueprints and the current
// Active Set, compute what must die and what must be born.
package reconcile

import (
	"sort"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
)

// ChainBlueprint pairs a Descriptor with the service ids this operator
// currently runs for it, as reported by the latest TangleEvent snapshot.
type ChainBlueprint struct {
	Descriptor blueprint.Descriptor
	Services   []blueprint.ServiceID
}

// Plan is the result of a single reconcile tick: disjoint Kill and Spawn
// lists, each sorted in (blueprint_id, service_id) numeric order.
type Plan struct {
	Kill  []blueprint.Key
	Spawn []blueprint.Key
}

// activeEntry is an (bid, sid, alive) triple extracted from the Active Set
// for the purposes of computing a Plan.
type activeEntry struct {
	key   blueprint.Key
	alive bool
}

// Compute is the pure reconcile function described by the manager's design:
// (chain_blueprints, active) -> (kill list, spawn list). It performs no I/O
// and mutates neither input; callers apply the Plan against the real
// Active Set and Spawner.
func Compute(chainBlueprints []ChainBlueprint, active *blueprint.ActiveSet) Plan {
	onChain := make(map[blueprint.ID]map[blueprint.ServiceID]bool)
	for _, cb := range chainBlueprints {
		svcs := make(map[blueprint.ServiceID]bool, len(cb.Services))
		for _, sid := range cb.Services {
			svcs[sid] = true
		}
		onChain[cb.Descriptor.BlueprintID] = svcs
	}

	var activeEntries []activeEntry
	for _, child := range active.Snapshot() {
		activeEntries = append(activeEntries, activeEntry{
			key:   blueprint.Key{BlueprintID: child.BlueprintID, ServiceID: child.ServiceID},
			alive: child.Alive(),
		})
	}

	activeKeys := make(map[blueprint.Key]bool, len(activeEntries))
	for _, e := range activeEntries {
		activeKeys[e.key] = true
	}

	// (a) Kill list: present in active such that the blueprint is absent,
	// the service id is absent from that blueprint's services, or alive=false.
	var kill []blueprint.Key
	for _, e := range activeEntries {
		svcs, blueprintPresent := onChain[e.key.BlueprintID]
		servicePresent := blueprintPresent && svcs[e.key.ServiceID]
		if !servicePresent || !e.alive {
			kill = append(kill, e.key)
		}
	}

	// (b) Spawn list: present in chain_blueprints, absent from active.
	// A same-tick appear/disappear is a no-op: a key must be in onChain
	// AND absent from activeKeys to be spawned, so a key that is in both
	// onChain and activeKeys (even with alive=false, which routes it to
	// Kill above) is never simultaneously queued for Spawn this tick.
	var spawn []blueprint.Key
	for _, cb := range chainBlueprints {
		for _, sid := range cb.Services {
			key := blueprint.Key{BlueprintID: cb.Descriptor.BlueprintID, ServiceID: sid}
			if !activeKeys[key] {
				spawn = append(spawn, key)
			}
		}
	}

	sortKeys(kill)
	sortKeys(spawn)

	return Plan{Kill: kill, Spawn: spawn}
}

func sortKeys(keys []blueprint.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].BlueprintID != keys[j].BlueprintID {
			return keys[i].BlueprintID < keys[j].BlueprintID
		}
		return keys[i].ServiceID < keys[j].ServiceID
	})
}
