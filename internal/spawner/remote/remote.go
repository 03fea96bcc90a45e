package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	"github.com/tangle-network/blueprint-manager/internal/chain"
	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
	"github.com/tangle-network/blueprint-manager/internal/reconcile"
)

// DefaultTTL is how long a deployment record is trusted before
// ReapExpired treats it as orphaned and eligible for cleanup.
const DefaultTTL = 24 * time.Hour

// Spawner provisions service instances on third-party cloud providers,
// selecting the cheapest registered provider per request unless the
// descriptor pins one.
type Spawner struct {
	registry      *Registry
	records       *RecordStore
	region        string
	maxHourlyCost float64
	logger        *slog.Logger

	retryBase  time.Duration
	retryMax   time.Duration
	maxRetries int
}

// New constructs a remote Spawner backed by registry for provider lookup
// and records for durable deployment tracking. maxHourlyCost caps the
// quoted price CheapestProvider will accept; zero or negative disables
// the cap.
func New(registry *Registry, records *RecordStore, region string, maxHourlyCost float64, logger *slog.Logger) *Spawner {
	return &Spawner{
		registry:      registry,
		records:       records,
		region:        region,
		maxHourlyCost: maxHourlyCost,
		logger:        logger,
		retryBase:     2 * time.Second,
		retryMax:      30 * time.Second,
		maxRetries:    4,
	}
}

func (s *Spawner) Substrate() blueprint.Substrate { return blueprint.SubstrateRemote }

func (s *Spawner) Spawn(ctx context.Context, req reconcile.SpawnRequest) (*reconcile.SpawnResult, error) {
	if req.ImageRef == "" {
		return nil, apierrors.New(apierrors.ProvisionFailed, "remote substrate requires an image reference")
	}

	spec := DeploymentSpec{
		Name:      fmt.Sprintf("bp%d-svc%d", req.BlueprintID, req.ServiceID),
		Region:    s.region,
		Resources: Basic(),
		ImageRef:  req.ImageRef,
		Env:       req.Env,
	}

	provider, price, err := CheapestProvider(ctx, s.registry, spec, s.maxHourlyCost)
	if err != nil {
		return nil, apierrors.New(apierrors.ProvisionFailed, "select provider").WithCause(err)
	}

	instance, err := s.deployWithRetry(ctx, provider, spec)
	if err != nil {
		return nil, apierrors.New(apierrors.ProvisionFailed, "deploy instance").WithCause(err)
	}

	now := time.Now()
	record := DeploymentRecord{
		BlueprintID: req.BlueprintID,
		ServiceID:   req.ServiceID,
		Provider:    provider.Name(),
		InstanceID:  instance.InstanceID,
		Endpoint:    instance.Endpoint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(DefaultTTL),
	}
	if err := s.records.Put(record); err != nil {
		_ = provider.Terminate(ctx, instance.InstanceID)
		return nil, err
	}

	s.logger.Info("remote child provisioned", "provider", provider.Name(), "blueprint_id", req.BlueprintID,
		"service_id", req.ServiceID, "instance_id", instance.InstanceID, "hourly_cost", price)

	return &reconcile.SpawnResult{
		Endpoint: instance.Endpoint,
		Watch: func(ctx context.Context) error {
			return watchUntilUnreachable(ctx, provider, instance.InstanceID)
		},
		TearDown: func(ctx context.Context) error {
			if err := provider.Terminate(ctx, instance.InstanceID); err != nil {
				return err
			}
			return s.records.Delete(req.BlueprintID, req.ServiceID)
		},
	}, nil
}

// deployWithRetry calls provider.Deploy, retrying transient failures up
// to s.maxRetries times with exponential backoff before giving up. The
// last error is returned if every attempt fails.
func (s *Spawner) deployWithRetry(ctx context.Context, provider ProviderAdapter, spec DeploymentSpec) (*ProvisionedInstance, error) {
	bo := chain.NewBackoff(s.retryBase, s.retryMax)

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		instance, err := provider.Deploy(ctx, spec)
		if err == nil {
			return instance, nil
		}
		lastErr = err

		if attempt == s.maxRetries {
			break
		}
		wait := bo.Next()
		s.logger.Warn("remote provision attempt failed, retrying", "provider", provider.Name(),
			"attempt", attempt+1, "backoff", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func watchUntilUnreachable(ctx context.Context, provider ProviderAdapter, instanceID string) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status, err := provider.Status(ctx, instanceID)
			if err != nil || status == InstanceUnreachable || status == InstanceTerminated {
				return fmt.Errorf("remote instance %s no longer reachable", instanceID)
			}
		}
	}
}

// ReapExpired terminates and untracks every record past its TTL, as a
// backstop against deployments that outlive their Active Set entry, e.g.
// after a crash between provisioning and credential registration. Neither
// the Supervisor nor the run command calls it; it runs only when a caller
// invokes it.
func ReapExpired(ctx context.Context, registry *Registry, records *RecordStore, logger *slog.Logger) {
	for _, rec := range records.Expired(time.Now()) {
		provider, ok := registry.Get(rec.Provider)
		if !ok {
			logger.Warn("cannot reap expired record: provider not registered", "provider", rec.Provider, "instance_id", rec.InstanceID)
			continue
		}
		if err := provider.Terminate(ctx, rec.InstanceID); err != nil {
			logger.Warn("failed to terminate expired remote instance", "instance_id", rec.InstanceID, "error", err)
			continue
		}
		if err := records.Delete(rec.BlueprintID, rec.ServiceID); err != nil {
			logger.Warn("failed to delete expired deployment record", "instance_id", rec.InstanceID, "error", err)
		}
	}
}
