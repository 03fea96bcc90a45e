// Package microvm implements the MicroVM executor substrate: each service
// instance runs inside a Cloud Hypervisor guest, booted off a FAT image
// containing the blueprint binary and a generated launcher script, and
// reachable through a tap interface routed with nftables.
package microvm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
	"github.com/tangle-network/blueprint-manager/internal/reconcile"
)

// ShutdownGrace bounds how long the manager waits for a cooperative
// VM power-off before killing the cloud-hypervisor process outright.
const ShutdownGrace = 10 * time.Second

// Spawner runs blueprint artifacts inside Cloud Hypervisor microVMs.
type Spawner struct {
	cacheDir    string
	runtimeDir  string
	hostIface   string
	vmSubnet    *net.IPNet
	logger      *slog.Logger
	nextOctet   atomic.Int32
	servicePort int
}

// New constructs a microVM Spawner. vmSubnet is the /24 the manager
// allocates per-VM addresses from; hostIface is the host's routed NIC
// that traffic is NAT'd through.
func New(cacheDir, runtimeDir, hostIface string, vmSubnet *net.IPNet, servicePort int, logger *slog.Logger) *Spawner {
	s := &Spawner{cacheDir: cacheDir, runtimeDir: runtimeDir, hostIface: hostIface, vmSubnet: vmSubnet, servicePort: servicePort, logger: logger}
	s.nextOctet.Store(2)
	return s
}

func (s *Spawner) Substrate() blueprint.Substrate { return blueprint.SubstrateMicroVM }

func (s *Spawner) Spawn(ctx context.Context, req reconcile.SpawnRequest) (*reconcile.SpawnResult, error) {
	if req.ArtifactPath == "" {
		return nil, apierrors.New(apierrors.SpawnFailed, "microvm substrate requires a local artifact path")
	}

	serviceName := fmt.Sprintf("bp%d-svc%d", req.BlueprintID, req.ServiceID)
	imagePath := filepath.Join(s.cacheDir, serviceName+"-bin.img")
	if err := buildBinaryImage(imagePath, req.ArtifactPath, req.Env); err != nil {
		return nil, err
	}

	sockPath := filepath.Join(s.runtimeDir, serviceName+"-ch-api.sock")
	os.Remove(sockPath)

	cmd := exec.CommandContext(ctx, "cloud-hypervisor", "--api-socket", sockPath)
	if err := cmd.Start(); err != nil {
		return nil, apierrors.New(apierrors.SpawnFailed, "start cloud-hypervisor").WithCause(err)
	}

	client := newCHClient(sockPath)
	if err := waitForSocket(ctx, client); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	if err := client.createVM(ctx, vmConfig{
		Disks: []diskConfig{{Path: imagePath, Readonly: true, Direct: true}},
	}); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	tapIface := fmt.Sprintf("tap-%s", truncate(serviceName, 8))
	vmIP := s.allocateVMIP()
	if err := setupRules(s.hostIface, tapIface, s.vmSubnet); err != nil {
		s.logger.Warn("nftables setup failed, continuing without guest egress routing", "error", err, "service", serviceName)
	}

	if err := client.bootVM(ctx); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	endpoint := fmt.Sprintf("%s:%d", vmIP.String(), s.servicePort)
	s.logger.Info("microvm child started", "blueprint_id", req.BlueprintID, "service_id", req.ServiceID, "endpoint", endpoint, "sock", sockPath)

	return &reconcile.SpawnResult{
		Endpoint: endpoint,
		Watch: func(ctx context.Context) error {
			return cmd.Wait()
		},
		TearDown: func(ctx context.Context) error {
			return s.shutdown(ctx, client, cmd, sockPath)
		},
	}, nil
}

func (s *Spawner) allocateVMIP() net.IP {
	octet := s.nextOctet.Add(1)
	ip := make(net.IP, 4)
	copy(ip, s.vmSubnet.IP.To4())
	ip[3] = byte(octet)
	return ip
}

func waitForSocket(ctx context.Context, c *chClient) error {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := c.ping(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return apierrors.New(apierrors.SpawnFailed, "cloud-hypervisor api socket never became ready")
}

// shutdown requests a cooperative VM power-off (delivered to the guest as
// SIGINT), waits up to ShutdownGrace for vm.info to start 404ing, then
// asks the VMM itself to exit. If the VMM does not exit on its own the
// host process is killed directly.
func (s *Spawner) shutdown(ctx context.Context, c *chClient, cmd *exec.Cmd, sockPath string) error {
	defer os.Remove(sockPath)

	if err := c.powerButton(ctx); err != nil {
		_ = cmd.Process.Kill()
		return nil
	}

	deadline := time.Now().Add(ShutdownGrace)
	poweredOff := false
	for time.Now().Before(deadline) {
		err := c.vmInfo(ctx)
		if err == errVMNotFound {
			poweredOff = true
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	if !poweredOff {
		s.logger.Warn("microvm did not power off in time, killing hypervisor process")
		return cmd.Process.Kill()
	}

	if err := c.shutdownVMM(ctx); err != nil {
		return cmd.Process.Kill()
	}
	return cmd.Wait()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
