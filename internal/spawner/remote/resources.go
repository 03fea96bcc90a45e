// Package remote implements the Remote executor substrate: provisioning a
// service instance onto a third-party cloud provider and tracking it with
// a durable deployment record so the manager can recover state after a
// restart.
package remote

import apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"

// QoS is the quality-of-service tier requested for a deployment, used by
// provider adapters to pick instance families.
type QoS string

const (
	QoSBestEffort QoS = "best_effort"
	QoSBurstable  QoS = "burstable"
	QoSGuaranteed QoS = "guaranteed"
)

// ResourceSpec describes the compute shape a service instance needs.
type ResourceSpec struct {
	CPU        float64
	MemoryGB   float64
	StorageGB  float64
	GPUCount   int
	AllowSpot  bool
	QoS        QoS
}

// Minimal returns the smallest viable footprint: a fraction of a vCPU and
// 256MiB of RAM, suitable for lightweight relayers.
func Minimal() ResourceSpec {
	return ResourceSpec{CPU: 0.25, MemoryGB: 0.25, StorageGB: 1, QoS: QoSBestEffort}
}

// Basic is the default shape used when a blueprint declares no preference.
func Basic() ResourceSpec {
	return ResourceSpec{CPU: 1, MemoryGB: 2, StorageGB: 10, QoS: QoSBurstable}
}

// Recommended sizes for most production blueprint services.
func Recommended() ResourceSpec {
	return ResourceSpec{CPU: 2, MemoryGB: 4, StorageGB: 20, QoS: QoSGuaranteed}
}

// Performance sizes for compute-heavy blueprint services.
func Performance() ResourceSpec {
	return ResourceSpec{CPU: 4, MemoryGB: 16, StorageGB: 50, QoS: QoSGuaranteed}
}

// WithGPU attaches count GPUs to spec.
func (s ResourceSpec) WithGPU(count int) ResourceSpec {
	s.GPUCount = count
	return s
}

// Validate rejects non-positive or absurd resource requests before they
// reach a provider adapter.
func (s ResourceSpec) Validate() error {
	if s.CPU <= 0 {
		return apierrors.New(apierrors.ProvisionFailed, "cpu must be positive")
	}
	if s.MemoryGB <= 0 {
		return apierrors.New(apierrors.ProvisionFailed, "memory_gb must be positive")
	}
	if s.StorageGB < 0 {
		return apierrors.New(apierrors.ProvisionFailed, "storage_gb must not be negative")
	}
	if s.GPUCount < 0 {
		return apierrors.New(apierrors.ProvisionFailed, "gpu_count must not be negative")
	}
	return nil
}

// EstimateHourlyCost is a coarse, provider-agnostic estimate used only to
// rank candidates before a real provider quote is available.
func (s ResourceSpec) EstimateHourlyCost() float64 {
	const (
		cpuRate      = 0.04
		memRate      = 0.01
		storageRate  = 0.0002
		gpuRate      = 0.9
		spotDiscount = 0.35
	)
	cost := s.CPU*cpuRate + s.MemoryGB*memRate + s.StorageGB*storageRate + float64(s.GPUCount)*gpuRate
	if s.AllowSpot {
		cost *= (1 - spotDiscount)
	}
	return cost
}
