package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
)

// Fetcher materializes a Descriptor's artifact locally (C2). ArtifactPath is
// set for Native/Wasm sources; ImageRef is set for Container sources.
type Fetcher interface {
	Fetch(ctx context.Context, d blueprint.Descriptor) (artifactPath, imageRef string, err error)
}

// CredentialRevoker is the Credential Store's (C8) kill-path hook: garbage
// collect any tokens scoped to a service that just left the Active Set.
type CredentialRevoker interface {
	RevokeService(ctx context.Context, sid blueprint.ServiceID) error
}

// EndpointRegistrar lets the Reconciler tell the Auth Proxy (C7) about a
// newly spawned endpoint. The Active Set itself already satisfies this via
// Insert/Remove, so in practice the Loop is its own registrar.
type EndpointRegistrar interface {
	Insert(child *blueprint.ActiveChild)
	Remove(bid blueprint.ID, sid blueprint.ServiceID)
}

// SupervisorFunc starts the per-child watch/teardown goroutine (C6). It is
// injected rather than imported directly to avoid a reconcile<->supervisor
// import cycle; internal/supervisor provides the real implementation.
type SupervisorFunc func(ctx context.Context, child *blueprint.ActiveChild, result *SpawnResult)

// PreferredSourceOverride resolves the operator's configured substrate
// preference, if any was set via RuntimePreferences.
type PreferredSourceOverride func() (blueprint.Substrate, bool)

// Loop owns one reconcile tick. It holds no chain-specific state: callers
// feed it TangleEvent-derived ChainBlueprint snapshots.
type Loop struct {
	Active     *blueprint.ActiveSet
	Registry   *Registry
	Fetcher    Fetcher
	Credential CredentialRevoker
	Supervise  SupervisorFunc
	Preferred  PreferredSourceOverride
	Logger     *slog.Logger

	// Audit, if set, records every Kill/Spawn decision. Optional.
	Audit func(ctx context.Context, action string, bid blueprint.ID, sid blueprint.ServiceID, detail string)
}

func (l *Loop) audit(ctx context.Context, action string, bid blueprint.ID, sid blueprint.ServiceID, detail string) {
	if l.Audit != nil {
		l.Audit(ctx, action, bid, sid, detail)
	}
}

// Tick runs one full reconcile cycle: compute the Plan, then apply Kill
// strictly before Spawn, per the manager's ordering invariant.
func (l *Loop) Tick(ctx context.Context, chainBlueprints []ChainBlueprint) Plan {
	plan := Compute(chainBlueprints, l.Active)

	descriptors := make(map[blueprint.ID]blueprint.Descriptor, len(chainBlueprints))
	for _, cb := range chainBlueprints {
		descriptors[cb.Descriptor.BlueprintID] = cb.Descriptor
	}

	for _, key := range plan.Kill {
		l.applyKill(ctx, key)
	}
	for _, key := range plan.Spawn {
		d, ok := descriptors[key.BlueprintID]
		if !ok {
			l.Logger.Warn("spawn target has no resolvable descriptor", "blueprint_id", key.BlueprintID)
			continue
		}
		l.applySpawn(ctx, key, d)
	}

	return plan
}

func (l *Loop) applyKill(ctx context.Context, key blueprint.Key) {
	child, ok := l.Active.Get(key.BlueprintID, key.ServiceID)
	if ok {
		alreadyClosed := child.Abort()
		if alreadyClosed {
			l.Logger.Info("abort signal already sent", "blueprint_id", key.BlueprintID, "service_id", key.ServiceID)
		}
	}
	l.Active.Remove(key.BlueprintID, key.ServiceID)

	if l.Credential != nil {
		if err := l.Credential.RevokeService(ctx, key.ServiceID); err != nil {
			l.Logger.Warn("credential revoke failed", "service_id", key.ServiceID, "error", err)
		}
	}

	l.audit(ctx, "kill", key.BlueprintID, key.ServiceID, "")
	l.Logger.Info("killed service", "blueprint_id", key.BlueprintID, "service_id", key.ServiceID)
}

func (l *Loop) applySpawn(ctx context.Context, key blueprint.Key, d blueprint.Descriptor) {
	artifactPath, imageRef, err := l.Fetcher.Fetch(ctx, d)
	if err != nil {
		l.Logger.Warn("fetch failed, will retry next tick", "blueprint_id", key.BlueprintID, "error", err)
		return
	}

	substrate := l.chooseSubstrate(d)
	spawner, ok := l.Registry.Resolve(substrate)
	if !ok {
		l.Logger.Warn("no spawner registered for substrate", "substrate", substrate, "blueprint_id", key.BlueprintID)
		return
	}

	req := SpawnRequest{
		BlueprintID:  key.BlueprintID,
		ServiceID:    key.ServiceID,
		Descriptor:   d,
		ArtifactPath: artifactPath,
		ImageRef:     imageRef,
		Env: map[string]string{
			"BLUEPRINT_ID": fmt.Sprintf("%d", key.BlueprintID),
			"SERVICE_ID":   fmt.Sprintf("%d", key.ServiceID),
		},
	}

	result, err := spawner.Spawn(ctx, req)
	if err != nil {
		l.Logger.Warn("spawn failed, will retry next tick", "blueprint_id", key.BlueprintID, "service_id", key.ServiceID, "error", err)
		return
	}

	child := blueprint.NewActiveChild(key.BlueprintID, key.ServiceID, substrate, result.Endpoint)
	l.Active.Insert(child)
	if l.Supervise != nil {
		l.Supervise(ctx, child, result)
	}

	l.audit(ctx, "spawn", key.BlueprintID, key.ServiceID, string(substrate))
	l.Logger.Info("spawned service", "blueprint_id", key.BlueprintID, "service_id", key.ServiceID, "substrate", substrate)
}

// chooseSubstrate implements the precedence the manager's design specifies:
// explicit operator preference > substrate hint in descriptor > Native default.
func (l *Loop) chooseSubstrate(d blueprint.Descriptor) blueprint.Substrate {
	if l.Preferred != nil {
		if s, ok := l.Preferred(); ok {
			return s
		}
	}
	switch d.Source.Kind {
	case blueprint.SourceContainer:
		return blueprint.SubstrateMicroVM
	case blueprint.SourceWasm:
		return blueprint.SubstrateNative
	default:
		return blueprint.SubstrateNative
	}
}
