package microvm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
)

// chClient is a minimal REST client for the Cloud Hypervisor API, spoken
// over a per-VM unix domain socket rather than TCP.
type chClient struct {
	http     *http.Client
	sockPath string
}

func newCHClient(sockPath string) *chClient {
	dialer := net.Dialer{}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", sockPath)
		},
	}
	return &chClient{http: &http.Client{Transport: transport, Timeout: 15 * time.Second}, sockPath: sockPath}
}

// diskConfig mirrors the subset of Cloud Hypervisor's DiskConfig the
// manager needs: a single read-only, direct-IO FAT image attached as the
// VM's boot disk.
type diskConfig struct {
	Path     string `json:"path"`
	Readonly bool   `json:"readonly"`
	Direct   bool   `json:"direct"`
}

type vmConfig struct {
	Disks []diskConfig `json:"disks,omitempty"`
	CPUs  *cpusConfig  `json:"cpus,omitempty"`
	RAM   *ramConfig   `json:"memory,omitempty"`
}

type cpusConfig struct {
	BootVCPUs int `json:"boot_vcpus"`
	MaxVCPUs  int `json:"max_vcpus"`
}

type ramConfig struct {
	SizeBytes int64 `json:"size"`
}

func (c *chClient) ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "vmm.ping", nil, nil)
}

func (c *chClient) createVM(ctx context.Context, cfg vmConfig) error {
	return c.do(ctx, http.MethodPut, "vm.create", cfg, nil)
}

func (c *chClient) bootVM(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "vm.boot", nil, nil)
}

func (c *chClient) powerButton(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "vm.power-button", nil, nil)
}

// vmInfo returns errVMNotFound once the VM has powered off and Cloud
// Hypervisor answers vm.info with 404.
func (c *chClient) vmInfo(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "vm.info", nil, nil)
}

func (c *chClient) shutdownVMM(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "vmm.shutdown", nil, nil)
}

func (c *chClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	url := fmt.Sprintf("http://unix/api/v1/%s", path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apierrors.New(apierrors.SpawnFailed, "cloud-hypervisor api unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errVMNotFound
	}
	if resp.StatusCode >= 300 {
		return apierrors.New(apierrors.SpawnFailed, fmt.Sprintf("cloud-hypervisor %s returned %d", path, resp.StatusCode))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

var errVMNotFound = apierrors.New(apierrors.SpawnFailed, "vm not found")
