// Package supervisor implements C6: one goroutine per Active Set child
// that watches for substrate-reported death and tears the child down
// cooperatively when the reconciler aborts it.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	"github.com/tangle-network/blueprint-manager/internal/reconcile"
)

// teardownTimeout bounds how long a substrate's TearDown gets before the
// supervisor gives up waiting and moves on, leaving cleanup to the
// substrate's own out-of-band reaping (process group death, VM/TTL reaper).
const teardownTimeout = 20 * time.Second

// Supervisor tracks one watch goroutine per live ActiveChild. It never
// mutates the Active Set directly beyond calling MarkDead: removal from
// the Active Set is the Reconciler's job on the next tick, once it
// observes the dead flag.
type Supervisor struct {
	active *blueprint.ActiveSet
	logger *slog.Logger

	mu   sync.Mutex
	wg   sync.WaitGroup
	done map[watchKey]struct{}
}

type watchKey struct {
	bid blueprint.ID
	sid blueprint.ServiceID
}

// New constructs a Supervisor bound to active. Its Watch method is meant
// to be passed directly as a reconcile.SupervisorFunc.
func New(active *blueprint.ActiveSet, logger *slog.Logger) *Supervisor {
	return &Supervisor{active: active, logger: logger, done: make(map[watchKey]struct{})}
}

// Watch starts the per-child goroutine. Matches reconcile.SupervisorFunc.
func (s *Supervisor) Watch(ctx context.Context, child *blueprint.ActiveChild, result *reconcile.SpawnResult) {
	key := watchKey{child.BlueprintID, child.ServiceID}

	s.mu.Lock()
	if _, already := s.done[key]; already {
		s.mu.Unlock()
		return
	}
	s.done[key] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.done, key)
			s.mu.Unlock()
		}()
		s.run(ctx, child, result)
	}()
}

// run blocks until either the substrate reports death (result.Watch
// returns) or the reconciler aborts the child (child.Done() fires),
// whichever comes first. On abort it calls TearDown once, then marks the
// child dead; on substrate death it only marks the child dead and does
// not call TearDown.
func (s *Supervisor) run(ctx context.Context, child *blueprint.ActiveChild, result *reconcile.SpawnResult) {
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- result.Watch(watchCtx)
	}()

	select {
	case err := <-watchErr:
		if err != nil {
			s.logger.Warn("child substrate reported death", "blueprint_id", child.BlueprintID, "service_id", child.ServiceID, "error", err)
		} else {
			s.logger.Info("child exited", "blueprint_id", child.BlueprintID, "service_id", child.ServiceID)
		}
		child.MarkDead()

	case <-child.Done():
		s.logger.Info("tearing down child on abort", "blueprint_id", child.BlueprintID, "service_id", child.ServiceID)
		teardownCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := result.TearDown(teardownCtx); err != nil {
			s.logger.Warn("teardown failed", "blueprint_id", child.BlueprintID, "service_id", child.ServiceID, "error", err)
		}
		child.MarkDead()

		select {
		case <-watchErr:
		default:
		}
	}
}

// Wait blocks until every in-flight watch goroutine has returned. Used by
// the manager's shutdown path to avoid leaking goroutines past process exit.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
