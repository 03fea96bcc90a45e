package remote

import (
	"context"
	"fmt"

	container "cloud.google.com/go/container/apiv1"
	containerpb "cloud.google.com/go/container/apiv1/containerpb"

	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
)

// GKEAdapter targets an operator-managed GKE cluster, referenced by its
// full resource name. It checks that the cluster is running and hands
// back a synthetic instance ID and in-cluster endpoint; it does not
// create Deployments or pods, and does not create or destroy clusters.
type GKEAdapter struct {
	client      *container.ClusterManagerClient
	clusterName string // projects/*/locations/*/clusters/*
	pricing     map[string]float64
}

// NewGKEAdapter wraps an already-authenticated cluster manager client.
func NewGKEAdapter(client *container.ClusterManagerClient, clusterName string) *GKEAdapter {
	return &GKEAdapter{
		client:      client,
		clusterName: clusterName,
		pricing:     map[string]float64{"e2-small": 0.021, "e2-medium": 0.042, "e2-standard-4": 0.168},
	}
}

func (a *GKEAdapter) Name() string { return "gke" }

// Deploy verifies cluster reachability and returns a synthetic instance
// ID scoped to the deployment name; actual workload scheduling happens
// out of band through the cluster's Kubernetes API, which this adapter
// does not wrap directly.
func (a *GKEAdapter) Deploy(ctx context.Context, spec DeploymentSpec) (*ProvisionedInstance, error) {
	cluster, err := a.client.GetCluster(ctx, &containerpb.GetClusterRequest{Name: a.clusterName})
	if err != nil {
		return nil, apierrors.New(apierrors.ProvisionFailed, "get gke cluster").WithCause(err)
	}
	if cluster.GetStatus() != containerpb.Cluster_RUNNING {
		return nil, apierrors.New(apierrors.ProvisionFailed, fmt.Sprintf("gke cluster %s is not running (status %s)", a.clusterName, cluster.GetStatus()))
	}

	instanceID := fmt.Sprintf("gke-%s", spec.Name)
	return &ProvisionedInstance{
		InstanceID: instanceID,
		Endpoint:   fmt.Sprintf("%s.default.svc.cluster.local:8080", spec.Name),
		Status:     InstanceProvisioning,
	}, nil
}

// Status reports Running once the cluster itself is reachable. A full
// implementation would inspect the Deployment's pod readiness through
// the cluster's own Kubernetes API.
func (a *GKEAdapter) Status(ctx context.Context, instanceID string) (InstanceStatus, error) {
	cluster, err := a.client.GetCluster(ctx, &containerpb.GetClusterRequest{Name: a.clusterName})
	if err != nil {
		return InstanceUnreachable, apierrors.New(apierrors.ProvisionFailed, "get gke cluster").WithCause(err)
	}
	if cluster.GetStatus() == containerpb.Cluster_RUNNING {
		return InstanceRunning, nil
	}
	return InstanceUnreachable, nil
}

func (a *GKEAdapter) Terminate(ctx context.Context, instanceID string) error {
	// Workload teardown is delegated to the cluster's own Kubernetes API;
	// this adapter only tracks cluster-level reachability.
	return nil
}

func (a *GKEAdapter) EstimateHourlyCost(ctx context.Context, spec DeploymentSpec) (float64, error) {
	machineType := selectMachineType(spec.Resources)
	price, ok := a.pricing[machineType]
	if !ok {
		return spec.Resources.EstimateHourlyCost(), nil
	}
	return price, nil
}

func selectMachineType(spec ResourceSpec) string {
	switch {
	case spec.CPU <= 0.5:
		return "e2-small"
	case spec.CPU <= 2:
		return "e2-medium"
	default:
		return "e2-standard-4"
	}
}
