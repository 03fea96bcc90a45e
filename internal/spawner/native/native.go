// Package native implements the Native executor substrate: each service
// instance is a direct child process of the manager.
package native

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
	"github.com/tangle-network/blueprint-manager/internal/reconcile"
)

// GraceKillTimeout is how long a child gets to exit after SIGTERM before
// the manager escalates to SIGKILL.
const GraceKillTimeout = 10 * time.Second

// Spawner runs blueprint artifacts as native OS processes.
type Spawner struct {
	runtimeDir string
	logger     *slog.Logger
	portRange  [2]int
	nextPort   int
}

// New constructs a native Spawner that allocates loopback ports for child
// listen addresses out of [portLow, portHigh].
func New(runtimeDir string, portLow, portHigh int, logger *slog.Logger) *Spawner {
	return &Spawner{runtimeDir: runtimeDir, logger: logger, portRange: [2]int{portLow, portHigh}, nextPort: portLow}
}

// Substrate identifies this Spawner's tag.
func (s *Spawner) Substrate() blueprint.Substrate { return blueprint.SubstrateNative }

// Spawn starts req.ArtifactPath as a child process bound to a freshly
// allocated loopback endpoint.
func (s *Spawner) Spawn(ctx context.Context, req reconcile.SpawnRequest) (*reconcile.SpawnResult, error) {
	if req.ArtifactPath == "" {
		return nil, apierrors.New(apierrors.SpawnFailed, "native substrate requires a local artifact path")
	}
	if err := os.Chmod(req.ArtifactPath, 0o755); err != nil {
		return nil, apierrors.New(apierrors.SpawnFailed, "chmod artifact").WithCause(err)
	}

	port, err := s.allocatePort()
	if err != nil {
		return nil, apierrors.New(apierrors.SpawnFailed, "allocate port").WithCause(err)
	}
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)

	cmd := exec.CommandContext(ctx, req.ArtifactPath)
	cmd.Env = append(os.Environ(), envSlice(req.Env, endpoint)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, apierrors.New(apierrors.SpawnFailed, "start process").WithCause(err)
	}

	s.logger.Info("native child started", "pid", cmd.Process.Pid, "blueprint_id", req.BlueprintID, "service_id", req.ServiceID, "endpoint", endpoint)

	return &reconcile.SpawnResult{
		Endpoint: endpoint,
		Watch: func(ctx context.Context) error {
			return cmd.Wait()
		},
		TearDown: func(ctx context.Context) error {
			return gracefulKill(ctx, cmd)
		},
	}, nil
}

func envSlice(env map[string]string, endpoint string) []string {
	keys := make([]string, 0, len(env)+1)
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	out = append(out, fmt.Sprintf("LISTEN_ADDR=%s", endpoint))
	return out
}

func (s *Spawner) allocatePort() (int, error) {
	for attempt := s.portRange[0]; attempt <= s.portRange[1]; attempt++ {
		p := s.nextPort
		s.nextPort++
		if s.nextPort > s.portRange[1] {
			s.nextPort = s.portRange[0]
		}
		if portFree(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("no free port in [%d, %d]", s.portRange[0], s.portRange[1])
}

func portFree(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// gracefulKill signals SIGTERM, then escalates to SIGKILL if the process
// group has not exited within GraceKillTimeout.
func gracefulKill(ctx context.Context, cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(GraceKillTimeout):
		return syscall.Kill(pgid, syscall.SIGKILL)
	case <-ctx.Done():
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		return ctx.Err()
	}
}
